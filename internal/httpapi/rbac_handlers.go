package httpapi

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"gatehouse.dev/internal/auth"
)

type roleRequest struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	PermissionIDs []string `json:"permission_ids"`
}

type roleUpdateRequest struct {
	Title         *string   `json:"title"`
	Description   *string   `json:"description"`
	PermissionIDs *[]string `json:"permission_ids"`
}

func (a *API) listUsers(ctx context.Context, req *request) (any, error) {
	filter := auth.UserFilter{
		Search:  req.query("search"),
		RoleID:  req.query("role_id"),
		OrderBy: req.query("order_by"),
	}
	var err error
	if filter.Desc, err = parseOrder(req.query("order")); err != nil {
		return nil, err
	}
	if raw := req.query("is_active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: is_active must be true or false", auth.ErrInvalidInput)
		}
		filter.IsActive = &active
	}
	if filter.Limit, err = parseNonNegative(req.query("limit"), "limit"); err != nil {
		return nil, err
	}
	if filter.Offset, err = parseNonNegative(req.query("offset"), "offset"); err != nil {
		return nil, err
	}
	return a.rbac.ListUsers(ctx, filter)
}

func (a *API) createUser(ctx context.Context, req *request) (any, error) {
	var in auth.CreateUserInput
	if err := req.bind(&in); err != nil {
		return nil, err
	}
	return a.rbac.CreateUser(ctx, in)
}

func (a *API) getUser(ctx context.Context, req *request) (any, error) {
	return a.rbac.GetUser(ctx, req.param("id"))
}

func (a *API) updateUser(ctx context.Context, req *request) (any, error) {
	var patch auth.UserPatch
	if err := req.bind(&patch); err != nil {
		return nil, err
	}
	return a.rbac.UpdateUser(ctx, req.param("id"), patch)
}

func (a *API) deleteUser(ctx context.Context, req *request) (any, error) {
	if err := a.rbac.DeleteUser(ctx, req.param("id")); err != nil {
		return nil, err
	}
	return successResponse{Success: true}, nil
}

func (a *API) listRoles(ctx context.Context, _ *request) (any, error) {
	return a.rbac.ListRoles(ctx)
}

func (a *API) createRole(ctx context.Context, req *request) (any, error) {
	var in roleRequest
	if err := req.bind(&in); err != nil {
		return nil, err
	}
	return a.rbac.CreateRole(ctx, auth.NewRole{
		Title:         in.Title,
		Description:   in.Description,
		PermissionIDs: in.PermissionIDs,
	})
}

func (a *API) getRole(ctx context.Context, req *request) (any, error) {
	return a.rbac.GetRole(ctx, req.param("id"))
}

func (a *API) updateRole(ctx context.Context, req *request) (any, error) {
	var in roleUpdateRequest
	if err := req.bind(&in); err != nil {
		return nil, err
	}
	upd := auth.RoleUpdate{Title: in.Title, Description: in.Description}
	if in.PermissionIDs != nil {
		upd.PermissionIDs = *in.PermissionIDs
		if upd.PermissionIDs == nil {
			upd.PermissionIDs = []string{}
		}
	}
	return a.rbac.UpdateRole(ctx, req.param("id"), upd)
}

func (a *API) deleteRole(ctx context.Context, req *request) (any, error) {
	if err := a.rbac.DeleteRole(ctx, req.param("id")); err != nil {
		return nil, err
	}
	return successResponse{Success: true}, nil
}

func (a *API) listPermissions(ctx context.Context, _ *request) (any, error) {
	return a.rbac.ListPermissions(ctx)
}

// parseOrder maps ASC/DESC to a descending flag. Listings default to newest first.
func parseOrder(raw string) (bool, error) {
	switch strings.ToUpper(raw) {
	case "", "DESC":
		return true, nil
	case "ASC":
		return false, nil
	}
	return false, fmt.Errorf("%w: order must be ASC or DESC", auth.ErrInvalidInput)
}

func parseNonNegative(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", auth.ErrInvalidInput, name)
	}
	return val, nil
}
