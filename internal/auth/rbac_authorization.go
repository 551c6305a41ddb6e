package auth

import (
	"context"
	"log/slog"
)

// Authorization holds the principal of one request and answers capability
// checks for it. Every Can call goes to the checker; nothing is cached.
type Authorization struct {
	checker PermissionChecker
	logger  *slog.Logger
	current *User
}

func NewAuthorization(checker PermissionChecker, logger *slog.Logger) *Authorization {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authorization{checker: checker, logger: logger}
}

// SetCurrentUser replaces the principal; nil means unauthenticated.
func (a *Authorization) SetCurrentUser(u *User) {
	a.current = u
}

func (a *Authorization) User() *User {
	return a.current
}

// Can is false without a principal. A lookup error is returned alongside
// false so callers fail closed.
func (a *Authorization) Can(ctx context.Context, capability Capability) (bool, error) {
	if a.current == nil {
		return false, nil
	}
	if !IsRegistered(capability) {
		a.logger.WarnContext(ctx, "checking unregistered capability", "capability", string(capability))
	}

	ok, err := a.checker.HasCapability(ctx, a.current.RoleID, string(capability))
	if err != nil {
		a.logger.ErrorContext(ctx, "authorization check failed",
			"error", err,
			"user_id", a.current.ID,
			"capability", string(capability))
		return false, err
	}
	return ok, nil
}

// Capabilities lists what the principal's role holds.
func (a *Authorization) Capabilities(ctx context.Context) ([]string, error) {
	if a.current == nil {
		return nil, nil
	}
	return a.checker.Capabilities(ctx, a.current.RoleID)
}
