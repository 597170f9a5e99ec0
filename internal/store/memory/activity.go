package memory

import (
	"context"
	"sort"
	"strings"

	"gatehouse.dev/internal/audit"
	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/ids"
)

func (s *Store) Append(_ context.Context, e audit.Entry) (audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[e.UserID]; !ok {
		return audit.Entry{}, auth.ErrInvalidInput
	}
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.stamp()
	}
	if e.LogType == "" {
		e.LogType = audit.LogTypeActivity
	}
	s.logs = append(s.logs, e)
	return e, nil
}

func (s *Store) List(_ context.Context, f audit.Filter) (audit.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	search := strings.ToLower(f.Search)
	matched := make([]audit.Entry, 0, len(s.logs))
	for _, e := range s.logs {
		u := s.users[e.UserID]
		e.UserName, e.UserEmail = u.FullName, u.Email
		if f.UserID != "" && e.UserID != f.UserID {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if f.LogType != "" && e.LogType != f.LogType {
			continue
		}
		if f.Start != nil && e.CreatedAt.Before(*f.Start) {
			continue
		}
		if f.End != nil && e.CreatedAt.After(*f.End) {
			continue
		}
		if search != "" && !matchesSearch(e, search) {
			continue
		}
		matched = append(matched, e)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if f.Desc {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	page := audit.Page{Total: len(matched), Limit: f.Limit, Offset: f.Offset, Items: []audit.Entry{}}
	page.Items = append(page.Items, window(matched, f.Limit, f.Offset)...)
	return page, nil
}

func (s *Store) Purge(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.logs))
	s.logs = nil
	return n, nil
}

func matchesSearch(e audit.Entry, needle string) bool {
	for _, hay := range []string{e.Description, e.ResourceType, e.ResourceID, e.UserName, e.UserEmail} {
		if strings.Contains(strings.ToLower(hay), needle) {
			return true
		}
	}
	return false
}
