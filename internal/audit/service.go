package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidFilter = errors.New("invalid filter")

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Service answers administrative queries over the activity log.
type Service struct {
	store Store
}

func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("audit store is required")
	}
	return &Service{store: store}, nil
}

func (s *Service) List(ctx context.Context, f Filter) (Page, error) {
	f.Search = strings.TrimSpace(f.Search)
	f.UserID = strings.TrimSpace(f.UserID)
	if f.Action != "" && !f.Action.Valid() {
		return Page{}, fmt.Errorf("%w: unknown action %q", ErrInvalidFilter, f.Action)
	}
	if f.LogType != "" && !f.LogType.Valid() {
		return Page{}, fmt.Errorf("%w: unknown log type %q", ErrInvalidFilter, f.LogType)
	}
	if f.Start != nil && f.End != nil && f.End.Before(*f.Start) {
		return Page{}, fmt.Errorf("%w: end date precedes start date", ErrInvalidFilter)
	}
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.store.List(ctx, f)
}

// Purge removes every entry and reports how many were deleted.
func (s *Service) Purge(ctx context.Context) (int64, error) {
	return s.store.Purge(ctx)
}
