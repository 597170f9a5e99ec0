package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/ids"
)

func (s *Store) CountGrants(ctx context.Context, roleID, module, action string) (int, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	var n int
	err := s.db.QueryRowContext(ctx, `
		select count(*)
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1 and p.module = $2 and p.action = $3
	`, roleID, module, action).Scan(&n)
	return n, err
}

// CreateRole inserts the role and its grants in one transaction.
func (s *Store) CreateRole(ctx context.Context, nr auth.NewRole) (auth.Role, error) {
	id := ids.New()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			insert into roles (id, title, description)
			values ($1, $2, $3)
		`, id, nr.Title, nr.Description); err != nil {
			if isPgCode(err, pgErrUniqueViolation) {
				return fmt.Errorf("%w: role title already exists", auth.ErrInvalidInput)
			}
			return err
		}
		return insertGrants(ctx, tx, id, nr.PermissionIDs)
	})
	if err != nil {
		return auth.Role{}, err
	}
	return s.GetRole(ctx, id)
}

func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, title, description, created_at, updated_at
		from roles
		order by title
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		roles []auth.Role
		index = map[string]int{}
	)
	for rows.Next() {
		var r auth.Role
		if err := rows.Scan(&r.ID, &r.Title, &r.Description, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		index[r.ID] = len(roles)
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	grants, err := s.db.QueryContext(ctx, `
		select rp.role_id, p.id, p.module, p.action, p.created_at
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		order by p.module, p.action
	`)
	if err != nil {
		return nil, err
	}
	defer grants.Close()
	for grants.Next() {
		var (
			roleID string
			p      auth.Permission
		)
		if err := grants.Scan(&roleID, &p.ID, &p.Module, &p.Action, &p.CreatedAt); err != nil {
			return nil, err
		}
		if i, ok := index[roleID]; ok {
			roles[i].Permissions = append(roles[i].Permissions, p)
		}
	}
	return roles, grants.Err()
}

func (s *Store) GetRole(ctx context.Context, id string) (auth.Role, error) {
	return s.findRole(ctx, `where id = $1`, id)
}

func (s *Store) FindRoleByTitle(ctx context.Context, title string) (auth.Role, error) {
	return s.findRole(ctx, `where title = $1`, title)
}

func (s *Store) findRole(ctx context.Context, where string, arg any) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	var r auth.Role
	err := s.db.QueryRowContext(ctx, `
		select id, title, description, created_at, updated_at
		from roles `+where, arg).Scan(&r.ID, &r.Title, &r.Description, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Role{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Role{}, err
	}
	perms, err := rolePermissions(ctx, s.db, r.ID)
	if err != nil {
		return auth.Role{}, err
	}
	r.Permissions = perms
	return r, nil
}

// UpdateRole locks the role row, applies field changes and, when requested,
// replaces the grant set before committing.
func (s *Store) UpdateRole(ctx context.Context, id string, upd auth.RoleUpdate) (auth.Role, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `select 1 from roles where id = $1 for update`, id).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return auth.ErrNotFound
			}
			return err
		}

		var (
			sets []string
			args []any
		)
		if upd.Title != nil {
			args = append(args, *upd.Title)
			sets = append(sets, fmt.Sprintf("title = $%d", len(args)))
		}
		if upd.Description != nil {
			args = append(args, *upd.Description)
			sets = append(sets, fmt.Sprintf("description = $%d", len(args)))
		}
		if len(sets) > 0 || upd.PermissionIDs != nil {
			sets = append(sets, "updated_at = now()")
			args = append(args, id)
			query := fmt.Sprintf(`update roles set %s where id = $%d`, strings.Join(sets, ", "), len(args))
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				if isPgCode(err, pgErrUniqueViolation) {
					return fmt.Errorf("%w: role title already exists", auth.ErrInvalidInput)
				}
				return err
			}
		}

		if upd.PermissionIDs == nil {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, id); err != nil {
			return err
		}
		return insertGrants(ctx, tx, id, upd.PermissionIDs)
	})
	if err != nil {
		return auth.Role{}, err
	}
	return s.GetRole(ctx, id)
}

func (s *Store) DeleteRole(ctx context.Context, id string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from roles where id = $1`, id)
	if err != nil {
		if isPgCode(err, pgErrForeignKeyViolation) {
			return fmt.Errorf("%w: role is referenced by users", auth.ErrConflict)
		}
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *Store) CountUsersWithRole(ctx context.Context, roleID string) (int, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	var n int
	err := s.db.QueryRowContext(ctx, `select count(*) from users where role_id = $1`, roleID).Scan(&n)
	return n, err
}

func (s *Store) ListPermissions(ctx context.Context) ([]auth.Permission, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	return queryPermissions(ctx, s.db, `
		select id, module, action, created_at
		from permissions
		order by module, action
	`)
}

// EnsurePermissions inserts missing (module, action) pairs and returns the
// stored row for each requested pair.
func (s *Store) EnsurePermissions(ctx context.Context, perms []auth.Permission) ([]auth.Permission, error) {
	want := make(map[string]struct{}, len(perms))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, p := range perms {
			if strings.TrimSpace(p.Module) == "" || !auth.ValidAction(p.Action) {
				return fmt.Errorf("%w: invalid permission %s", auth.ErrInvalidInput, p.Key())
			}
			want[p.Key()] = struct{}{}
			if _, err := tx.ExecContext(ctx, `
				insert into permissions (id, module, action)
				values ($1, $2, $3)
				on conflict (module, action) do nothing
			`, ids.New(), p.Module, p.Action); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	all, err := s.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]auth.Permission, 0, len(want))
	for _, p := range all {
		if _, ok := want[p.Key()]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) MissingPermissionIDs(ctx context.Context, idList []string) ([]string, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	if len(idList) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(idList))
	args := make([]any, len(idList))
	for i, id := range idList {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`select id from permissions where id in (`+strings.Join(placeholders, ", ")+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	found := make(map[string]struct{}, len(idList))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		found[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	var missing []string
	for _, id := range idList {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func insertGrants(ctx context.Context, tx *sql.Tx, roleID string, permissionIDs []string) error {
	for _, pid := range permissionIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id)
			values ($1, $2)
			on conflict do nothing
		`, roleID, pid); err != nil {
			if isPgCode(err, pgErrForeignKeyViolation) {
				return fmt.Errorf("%w: permission %s does not exist", auth.ErrInvalidInput, pid)
			}
			return err
		}
	}
	return nil
}

func rolePermissions(ctx context.Context, q queryer, roleID string) ([]auth.Permission, error) {
	return queryPermissions(ctx, q, `
		select p.id, p.module, p.action, p.created_at
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1
		order by p.module, p.action
	`, roleID)
}

func queryPermissions(ctx context.Context, q queryer, query string, args ...any) ([]auth.Permission, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []auth.Permission
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.Module, &p.Action, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
