package pg

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

func (s *Store) LoadSettings(ctx context.Context, keys []string) (map[string]string, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	marks := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		marks[i] = fmt.Sprintf("$%d", i+1)
		args[i] = k
	}
	query := `select key, value from settings where key in (` + strings.Join(marks, ", ") + `)`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// SaveSettings upserts every pair in one transaction, in key order.
func (s *Store) SaveSettings(ctx context.Context, values map[string]string) error {
	if s.db == nil {
		return errNoDB
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, k := range keys {
			if _, err := tx.ExecContext(ctx, `
				insert into settings (key, value) values ($1, $2)
				on conflict (key) do update set value = excluded.value, updated_at = now()
			`, k, values[k]); err != nil {
				return err
			}
		}
		return nil
	})
}
