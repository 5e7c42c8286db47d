package access

import (
	"context"
	"strings"

	"github.com/jordanlanch/bioforge/pkg/logger"
)

// Identity is the signed-in user as reported by the session provider
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// AdminPredicate decides whether an identity has administrative access
type AdminPredicate interface {
	IsAdmin(ctx context.Context, id Identity) bool
}

// AdminPredicateFunc adapts a function to AdminPredicate
type AdminPredicateFunc func(ctx context.Context, id Identity) bool

// IsAdmin calls f
func (f AdminPredicateFunc) IsAdmin(ctx context.Context, id Identity) bool {
	return f(ctx, id)
}

// AuthorizerFunc is an external privilege check consulted when the email does not match
type AuthorizerFunc func(ctx context.Context, id Identity) (bool, error)

// EmailAdmin grants admin to one configured address (case-insensitive) and
// otherwise defers to an optional Authorizer. Authorizer errors deny.
type EmailAdmin struct {
	email      string
	authorizer AuthorizerFunc
	log        logger.Logger
}

// NewEmailAdmin creates an EmailAdmin. An empty email matches nobody.
func NewEmailAdmin(email string, authorizer AuthorizerFunc, log logger.Logger) *EmailAdmin {
	if log == nil {
		log = logger.Nop()
	}
	return &EmailAdmin{email: strings.TrimSpace(email), authorizer: authorizer, log: log}
}

// IsAdmin implements AdminPredicate
func (a *EmailAdmin) IsAdmin(ctx context.Context, id Identity) bool {
	if a.email != "" && strings.EqualFold(strings.TrimSpace(id.Email), a.email) {
		return true
	}
	if a.authorizer == nil {
		return false
	}

	ok, err := a.authorizer(ctx, id)
	if err != nil {
		a.log.Warn("admin authorizer failed, denying", "user_id", id.UserID, "error", err)
		return false
	}
	return ok
}
