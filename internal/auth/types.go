package auth

import (
	"errors"
	"slices"
)

// Scopes carried in access tokens.
const (
	ScopeResearchRead  = "research:read"
	ScopeResearchWrite = "research:write"
)

// DefaultIssuer is stamped into tokens issued by this service.
const DefaultIssuer = "research-orchestrator"

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// UserContext is the caller identity attached to authenticated requests.
type UserContext struct {
	Subject string   `json:"sub"`
	Scopes  []string `json:"scopes"`
}

// HasScope reports whether the caller was granted scope.
func (u *UserContext) HasScope(scope string) bool {
	return u != nil && slices.Contains(u.Scopes, scope)
}
