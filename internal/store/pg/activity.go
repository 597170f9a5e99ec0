package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"gatehouse.dev/internal/audit"
	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/ids"
)

const entrySelect = `
	select l.id, l.user_id, coalesce(u.full_name, ''), coalesce(u.email, ''),
	       l.action, l.description, l.log_type,
	       l.resource_type, l.resource_id, l.ip_address, l.user_agent,
	       l.device, l.browser, l.os, l.location, l.metadata, l.created_at
	from system_logs l
	left join users u on u.id = l.user_id`

func (s *Store) Append(ctx context.Context, e audit.Entry) (audit.Entry, error) {
	if s.db == nil {
		return audit.Entry{}, errNoDB
	}
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.LogType == "" {
		e.LogType = audit.LogTypeActivity
	}
	meta := []byte("{}")
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return audit.Entry{}, fmt.Errorf("marshal metadata: %w", err)
		}
		meta = b
	}
	err := s.db.QueryRowContext(ctx, `
		insert into system_logs (id, user_id, action, description, log_type,
			resource_type, resource_id, ip_address, user_agent, device, browser, os, location,
			metadata, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, coalesce($15, now()))
		returning created_at
	`, e.ID, e.UserID, string(e.Action), e.Description, string(e.LogType),
		nullIfEmpty(e.ResourceType), nullIfEmpty(e.ResourceID), nullIfEmpty(e.IPAddress),
		nullIfEmpty(e.UserAgent), nullIfEmpty(e.Device), nullIfEmpty(e.Browser), nullIfEmpty(e.OS),
		nullIfEmpty(e.Location), meta, nullIfZero(e.CreatedAt),
	).Scan(&e.CreatedAt)
	if err != nil {
		if isPgCode(err, pgErrForeignKeyViolation) {
			return audit.Entry{}, fmt.Errorf("%w: unknown user %s", auth.ErrInvalidInput, e.UserID)
		}
		return audit.Entry{}, err
	}
	return e, nil
}

func (s *Store) List(ctx context.Context, f audit.Filter) (audit.Page, error) {
	if s.db == nil {
		return audit.Page{}, errNoDB
	}
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Search != "" {
		p := arg("%" + escapeLike(f.Search) + "%")
		conds = append(conds, fmt.Sprintf(
			"(l.description ilike %[1]s or l.resource_type ilike %[1]s or l.resource_id ilike %[1]s or u.full_name ilike %[1]s or u.email ilike %[1]s)", p))
	}
	if f.UserID != "" {
		conds = append(conds, "l.user_id = "+arg(f.UserID))
	}
	if f.Action != "" {
		conds = append(conds, "l.action = "+arg(string(f.Action)))
	}
	if f.LogType != "" {
		conds = append(conds, "l.log_type = "+arg(string(f.LogType)))
	}
	if f.Start != nil {
		conds = append(conds, "l.created_at >= "+arg(*f.Start))
	}
	if f.End != nil {
		conds = append(conds, "l.created_at <= "+arg(*f.End))
	}
	where := ""
	if len(conds) > 0 {
		where = "where " + strings.Join(conds, " and ")
	}

	page := audit.Page{Limit: clampLimit(f.Limit), Offset: f.Offset, Items: []audit.Entry{}}
	countQuery := `select count(*) from system_logs l left join users u on u.id = l.user_id ` + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&page.Total); err != nil {
		return audit.Page{}, err
	}

	dir := "asc"
	if f.Desc {
		dir = "desc"
	}
	limit, offset := arg(page.Limit), arg(page.Offset)
	query := fmt.Sprintf("%s\n\t%s order by l.created_at %s, l.id %s limit %s offset %s",
		entrySelect, where, dir, dir, limit, offset)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return audit.Page{}, err
	}
	defer rows.Close()
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return audit.Page{}, err
		}
		page.Items = append(page.Items, e)
	}
	if err := rows.Err(); err != nil {
		return audit.Page{}, err
	}
	return page, nil
}

func (s *Store) Purge(ctx context.Context) (int64, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from system_logs`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanEntry(row rowScanner) (audit.Entry, error) {
	var (
		e                                 audit.Entry
		action, logType                   string
		resType, resID, ip, ua            sql.NullString
		device, browser, osName, location sql.NullString
		rawMeta                           []byte
	)
	if err := row.Scan(&e.ID, &e.UserID, &e.UserName, &e.UserEmail,
		&action, &e.Description, &logType,
		&resType, &resID, &ip, &ua,
		&device, &browser, &osName, &location, &rawMeta, &e.CreatedAt,
	); err != nil {
		return audit.Entry{}, err
	}
	e.Action = audit.Action(action)
	e.LogType = audit.LogType(logType)
	e.ResourceType, e.ResourceID = resType.String, resID.String
	e.IPAddress, e.UserAgent = ip.String, ua.String
	e.Device, e.Browser, e.OS, e.Location = device.String, browser.String, osName.String, location.String
	if len(rawMeta) > 0 {
		if err := json.Unmarshal(rawMeta, &e.Metadata); err != nil {
			return audit.Entry{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return e, nil
}
