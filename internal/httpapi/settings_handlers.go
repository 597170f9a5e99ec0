package httpapi

import (
	"context"

	"gatehouse.dev/internal/settings"
)

func (a *API) getSMTPSettings(ctx context.Context, _ *request) (any, error) {
	return a.settings.SMTP(ctx)
}

func (a *API) saveSMTPSettings(ctx context.Context, req *request) (any, error) {
	var in settings.SMTPInput
	if err := req.bind(&in); err != nil {
		return nil, err
	}
	return a.settings.SaveSMTP(ctx, in)
}
