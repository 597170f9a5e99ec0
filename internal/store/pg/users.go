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

const userSelect = `
	select u.id, u.full_name, u.email, u.password_hash, u.is_active,
	       u.role_id, r.title, r.description, r.created_at, r.updated_at,
	       u.refresh_token_hash, u.reset_code_hash, u.reset_expires_at,
	       u.created_at, u.updated_at
	from users u
	left join roles r on r.id = u.role_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (auth.User, error) {
	var (
		u         auth.User
		roleID    sql.NullString
		roleTitle sql.NullString
		roleDesc  sql.NullString
		roleCAt   sql.NullTime
		roleUAt   sql.NullTime
		refresh   sql.NullString
		resetHash sql.NullString
		resetExp  sql.NullTime
	)
	if err := row.Scan(
		&u.ID, &u.FullName, &u.Email, &u.PasswordHash, &u.IsActive,
		&roleID, &roleTitle, &roleDesc, &roleCAt, &roleUAt,
		&refresh, &resetHash, &resetExp,
		&u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return auth.User{}, err
	}
	if roleID.Valid {
		u.RoleID = roleID.String
		u.Role = &auth.Role{
			ID:          roleID.String,
			Title:       roleTitle.String,
			Description: roleDesc.String,
			CreatedAt:   roleCAt.Time,
			UpdatedAt:   roleUAt.Time,
		}
	}
	u.RefreshTokenHash = refresh.String
	u.ResetCodeHash = resetHash.String
	if resetExp.Valid {
		t := resetExp.Time
		u.ResetExpiresAt = &t
	}
	return u, nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (auth.User, error) {
	return s.findUser(ctx, `where u.email = $1`, strings.ToLower(strings.TrimSpace(email)))
}

func (s *Store) FindUserByID(ctx context.Context, id string) (auth.User, error) {
	return s.findUser(ctx, `where u.id = $1`, id)
}

func (s *Store) GetUser(ctx context.Context, id string) (auth.User, error) {
	return s.FindUserByID(ctx, id)
}

func (s *Store) findUser(ctx context.Context, where string, arg any) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, userSelect+"\n\t"+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	return u, err
}

// UpdateCredentials applies all set fields in one statement.
func (s *Store) UpdateCredentials(ctx context.Context, id string, upd auth.CredentialUpdate) error {
	if s.db == nil {
		return errNoDB
	}
	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if upd.PasswordHash != nil {
		add("password_hash", *upd.PasswordHash)
	}
	if upd.RefreshTokenHash != nil {
		add("refresh_token_hash", nullIfEmpty(*upd.RefreshTokenHash))
	}
	if upd.ResetCodeHash != nil {
		add("reset_code_hash", nullIfEmpty(*upd.ResetCodeHash))
	}
	if upd.ResetExpiresAt != nil {
		add("reset_expires_at", nullIfZero(*upd.ResetExpiresAt))
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = now()")
	args = append(args, id)
	query := fmt.Sprintf(`update users set %s where id = $%d`, strings.Join(sets, ", "), len(args))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
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

func (s *Store) CreateUser(ctx context.Context, nu auth.NewUser) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	id := ids.New()
	_, err := s.db.ExecContext(ctx, `
		insert into users (id, full_name, email, password_hash, is_active, role_id)
		values ($1, $2, $3, $4, $5, $6)
	`, id, nu.FullName, strings.ToLower(nu.Email), nu.PasswordHash, nu.IsActive, nullIfEmpty(nu.RoleID))
	if err != nil {
		return auth.User{}, mapUserWriteErr(err)
	}
	return s.FindUserByID(ctx, id)
}

var userOrderColumns = map[string]string{
	auth.UserOrderCreatedAt: "u.created_at",
	auth.UserOrderFullName:  "u.full_name",
	auth.UserOrderEmail:     "u.email",
}

func (s *Store) ListUsers(ctx context.Context, f auth.UserFilter) (auth.UserPage, error) {
	if s.db == nil {
		return auth.UserPage{}, errNoDB
	}
	var (
		conds []string
		args  []any
	)
	if f.Search != "" {
		args = append(args, "%"+escapeLike(f.Search)+"%")
		conds = append(conds, fmt.Sprintf("(u.full_name ilike $%d or u.email ilike $%d)", len(args), len(args)))
	}
	if f.IsActive != nil {
		args = append(args, *f.IsActive)
		conds = append(conds, fmt.Sprintf("u.is_active = $%d", len(args)))
	}
	if f.RoleID != "" {
		args = append(args, f.RoleID)
		conds = append(conds, fmt.Sprintf("u.role_id = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = "where " + strings.Join(conds, " and ")
	}

	page := auth.UserPage{Limit: clampLimit(f.Limit), Offset: f.Offset, Items: []auth.User{}}
	if err := s.db.QueryRowContext(ctx, `select count(*) from users u `+where, args...).Scan(&page.Total); err != nil {
		return auth.UserPage{}, err
	}

	col, ok := userOrderColumns[f.OrderBy]
	if !ok {
		col = userOrderColumns[auth.UserOrderCreatedAt]
	}
	dir := "asc"
	if f.Desc {
		dir = "desc"
	}
	args = append(args, page.Limit, page.Offset)
	query := fmt.Sprintf("%s\n\t%s order by %s %s, u.id limit $%d offset $%d",
		userSelect, where, col, dir, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return auth.UserPage{}, err
	}
	defer rows.Close()
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return auth.UserPage{}, err
		}
		page.Items = append(page.Items, u)
	}
	if err := rows.Err(); err != nil {
		return auth.UserPage{}, err
	}
	return page, nil
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd auth.UserUpdate) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if upd.FullName != nil {
		add("full_name", *upd.FullName)
	}
	if upd.Email != nil {
		add("email", strings.ToLower(*upd.Email))
	}
	if upd.PasswordHash != nil {
		add("password_hash", *upd.PasswordHash)
	}
	if upd.IsActive != nil {
		add("is_active", *upd.IsActive)
	}
	if upd.RoleID != nil {
		add("role_id", nullIfEmpty(*upd.RoleID))
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		args = append(args, id)
		query := fmt.Sprintf(`update users set %s where id = $%d`, strings.Join(sets, ", "), len(args))
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return auth.User{}, mapUserWriteErr(err)
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return auth.User{}, err
		}
		if aff == 0 {
			return auth.User{}, auth.ErrNotFound
		}
	}
	return s.FindUserByID(ctx, id)
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
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

func mapUserWriteErr(err error) error {
	pgErr, ok := maybePgError(err)
	if !ok {
		return err
	}
	switch pgErr.Code {
	case pgErrUniqueViolation:
		return fmt.Errorf("%w: email already registered", auth.ErrConflict)
	case pgErrForeignKeyViolation:
		return fmt.Errorf("%w: role does not exist", auth.ErrInvalidInput)
	}
	return err
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
