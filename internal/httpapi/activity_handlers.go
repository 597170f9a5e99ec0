package httpapi

import (
	"context"
	"fmt"
	"time"

	"gatehouse.dev/internal/audit"
)

type purgeResponse struct {
	Deleted int64 `json:"deleted"`
}

func (a *API) listActivityLogs(ctx context.Context, req *request) (any, error) {
	filter := audit.Filter{
		Search:  req.query("search"),
		UserID:  req.query("user_id"),
		Action:  audit.Action(req.query("action")),
		LogType: audit.LogType(req.query("log_type")),
	}
	var err error
	if filter.Desc, err = parseOrder(req.query("order")); err != nil {
		return nil, err
	}
	if filter.Start, err = parseDate(req.query("start_date"), "start_date"); err != nil {
		return nil, err
	}
	if filter.End, err = parseDate(req.query("end_date"), "end_date"); err != nil {
		return nil, err
	}
	if filter.Limit, err = parseNonNegative(req.query("limit"), "limit"); err != nil {
		return nil, err
	}
	if filter.Offset, err = parseNonNegative(req.query("offset"), "offset"); err != nil {
		return nil, err
	}
	return a.logs.List(ctx, filter)
}

func (a *API) purgeActivityLogs(ctx context.Context, _ *request) (any, error) {
	n, err := a.logs.Purge(ctx)
	if err != nil {
		return nil, err
	}
	return purgeResponse{Deleted: n}, nil
}

func parseDate(raw, name string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be an RFC3339 timestamp", audit.ErrInvalidFilter, name)
	}
	return &t, nil
}
