package httpapi

import "context"

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	UserID       string `json:"user_id"`
	RefreshToken string `json:"refresh_token"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type verifyCodeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type verifyCodeResponse struct {
	Valid bool `json:"valid"`
}

func (a *API) login(ctx context.Context, req *request) (any, error) {
	var in loginRequest
	if err := req.bind(&in); err != nil {
		return nil, err
	}
	return a.auth.Login(ctx, in.Email, in.Password)
}

func (a *API) refresh(ctx context.Context, req *request) (any, error) {
	var in refreshRequest
	if err := req.bind(&in); err != nil {
		return nil, err
	}
	return a.auth.RefreshTokens(ctx, in.UserID, in.RefreshToken)
}

func (a *API) logout(ctx context.Context, req *request) (any, error) {
	if err := a.auth.Logout(ctx, req.userID()); err != nil {
		return nil, err
	}
	return successResponse{Success: true}, nil
}

func (a *API) me(ctx context.Context, req *request) (any, error) {
	return a.rbac.Me(ctx, req.userID())
}

// requestPasswordReset answers success whether or not the account exists.
func (a *API) requestPasswordReset(ctx context.Context, req *request) (any, error) {
	var in emailRequest
	if err := req.bind(&in); err != nil {
		return nil, err
	}
	if err := a.auth.RequestPasswordReset(ctx, in.Email); err != nil {
		return nil, err
	}
	return successResponse{Success: true}, nil
}

func (a *API) verifyPasswordResetCode(ctx context.Context, req *request) (any, error) {
	var in verifyCodeRequest
	if err := req.bind(&in); err != nil {
		return nil, err
	}
	ok, err := a.auth.VerifyPasswordResetCode(ctx, in.Email, in.Code)
	if err != nil {
		return nil, err
	}
	return verifyCodeResponse{Valid: ok}, nil
}

func (a *API) resetPassword(ctx context.Context, req *request) (any, error) {
	var in resetPasswordRequest
	if err := req.bind(&in); err != nil {
		return nil, err
	}
	if err := a.auth.ResetPassword(ctx, in.Email, in.Code, in.NewPassword); err != nil {
		return nil, err
	}
	return successResponse{Success: true}, nil
}

