package keycloak

import (
	"context"
	"sync"

	"github.com/turtacn/LexNER/pkg/errors"
)

// Permission is an API capability granted through realm roles.
type Permission string

const (
	PermAnalyze Permission = "ner:analyze"
	PermRead    Permission = "ner:read"
	PermSearch  Permission = "ner:search"
	PermDelete  Permission = "ner:delete"
)

// Role is a realm or client role name.
type Role string

const (
	RoleAdmin   Role = "lexner-admin"
	RoleAnalyst Role = "lexner-analyst"
	RoleViewer  Role = "lexner-viewer"
	// RoleService is granted to service accounts that only submit text.
	RoleService Role = "lexner-service"
)

// RolePermissionMapping maps roles to the permissions they grant.
type RolePermissionMapping map[Role][]Permission

// DefaultRolePermissionMapping returns the built-in mapping. Admins are
// granted everything regardless of the mapping.
func DefaultRolePermissionMapping() RolePermissionMapping {
	return RolePermissionMapping{
		RoleAnalyst: {PermAnalyze, PermRead, PermSearch},
		RoleViewer:  {PermRead, PermSearch},
		RoleService: {PermAnalyze},
	}
}

// Enforcer decides whether claims grant a permission.
type Enforcer struct {
	mu      sync.RWMutex
	mapping RolePermissionMapping
}

// NewEnforcer returns an enforcer over mapping, or the default mapping
// when nil.
func NewEnforcer(mapping RolePermissionMapping) *Enforcer {
	if mapping == nil {
		mapping = DefaultRolePermissionMapping()
	}
	return &Enforcer{mapping: mapping}
}

// UpdateMapping replaces the role mapping.
func (e *Enforcer) UpdateMapping(mapping RolePermissionMapping) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mapping = mapping
}

// HasPermission reports whether any role in claims grants p.
func (e *Enforcer) HasPermission(claims *TokenClaims, p Permission) bool {
	if claims == nil {
		return false
	}
	if claims.HasRole(string(RoleAdmin)) {
		return true
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, r := range claims.Roles {
		for _, granted := range e.mapping[Role(r)] {
			if granted == p {
				return true
			}
		}
	}
	return false
}

// Enforce returns a forbidden error unless the claims in ctx grant p.
func (e *Enforcer) Enforce(ctx context.Context, p Permission) error {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return errors.New(errors.ErrCodeUnauthorized, "no authentication context")
	}
	if !e.HasPermission(claims, p) {
		return errors.New(errors.ErrCodeForbidden, "access denied").WithDetail(string(p))
	}
	return nil
}

type claimsKey struct{}

// WithClaims stores verified claims in ctx.
func WithClaims(ctx context.Context, c *TokenClaims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFromContext returns the claims stored by WithClaims.
func ClaimsFromContext(ctx context.Context) (*TokenClaims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*TokenClaims)
	return c, ok && c != nil
}
