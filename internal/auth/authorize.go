package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gatehouse.dev/internal/obs"
)

// Requirement names one permission an operation needs.
type Requirement struct {
	Module string `json:"module"`
	Action string `json:"permission"`
}

// ParseRequirement reads the "module:action" form. A missing separator yields
// a requirement without an action, which Authorize rejects.
func ParseRequirement(s string) Requirement {
	module, action, _ := strings.Cut(s, ":")
	return Requirement{Module: strings.TrimSpace(module), Action: strings.TrimSpace(action)}
}

// Requirements parses several "module:action" strings.
func Requirements(keys ...string) []Requirement {
	out := make([]Requirement, 0, len(keys))
	for _, s := range keys {
		out = append(out, ParseRequirement(s))
	}
	return out
}

func (r Requirement) String() string {
	return r.Module + ":" + r.Action
}

func (r Requirement) normalize() (Requirement, bool) {
	n := Requirement{Module: strings.TrimSpace(r.Module), Action: strings.TrimSpace(r.Action)}
	return n, n.Module != "" && n.Action != ""
}

// UnmarshalJSON accepts either "module:action" or {"module": ..., "permission": ...}.
func (r *Requirement) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = ParseRequirement(s)
		return nil
	}
	type plain Requirement
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = Requirement(p)
	return nil
}

// Authorizer gates operations on role grants.
type Authorizer struct {
	grants   GrantStore
	resolver *IdentityResolver
}

// Authorize allows the caller only when its resolved role holds a grant for
// every requirement. An empty requirement list always allows.
func (a *Authorizer) Authorize(ctx context.Context, caller Caller, reqs ...Requirement) error {
	if len(reqs) == 0 {
		return nil
	}
	id, _ := a.resolver.Resolve(ctx, caller)
	if id.RoleID == "" {
		obs.CountAuthz("no_role")
		return ErrNoRole
	}
	for _, req := range reqs {
		n, ok := req.normalize()
		if !ok {
			obs.CountAuthz("invalid")
			return ErrInvalidRequirement
		}
		count, err := a.grants.CountGrants(ctx, id.RoleID, n.Module, n.Action)
		if err != nil {
			obs.CountAuthz("error")
			return fmt.Errorf("check grant %s: %w", n, err)
		}
		if count == 0 {
			obs.CountAuthz("deny")
			return ErrInsufficientPermissions
		}
	}
	obs.CountAuthz("allow")
	return nil
}
