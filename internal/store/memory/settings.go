package memory

import "context"

func (s *Store) LoadSettings(_ context.Context, keys []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := s.kv[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (s *Store) SaveSettings(_ context.Context, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		s.kv[k] = v
	}
	return nil
}
