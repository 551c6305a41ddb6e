package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/frahmantamala/repairshop/internal/core/events"
)

const (
	// SessionCookieName carries the signed token for browser clients.
	SessionCookieName = "arm_session"

	sessionUserIDKey   = "arm_user_id"
	sessionUserRoleKey = "arm_user_role"

	// DefaultResetTTL is how long a password reset token stays valid.
	DefaultResetTTL = time.Hour
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already registered")
	ErrRoleNotFound = errors.New("role not found")
)

// RepositoryAPI is the storage the auth core needs. Lookups return
// ErrUserNotFound when nothing matches.
type RepositoryAPI interface {
	PermissionChecker

	FindUserByID(ctx context.Context, id int64) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindUserByResetToken(ctx context.Context, token string) (*User, error)
	RoleExists(ctx context.Context, roleID int64) (bool, error)

	// CreateUser inserts u and sets its ID. ErrEmailTaken on a duplicate.
	CreateUser(ctx context.Context, u *User) error
	// ActivateInvitation swaps the placeholder hash for passwordHash on the
	// invited user holding token. False when no such user is waiting.
	ActivateInvitation(ctx context.Context, token, passwordHash string, at time.Time) (bool, error)
	SetResetToken(ctx context.Context, userID int64, token string, expires, at time.Time) error
	// CompletePasswordReset applies the new hash only while the row still
	// holds token, so a token is spent once.
	CompletePasswordReset(ctx context.Context, userID int64, token, passwordHash string, at time.Time) (bool, error)
}

// RoleRepositoryAPI manages roles and their capabilities.
type RoleRepositoryAPI interface {
	EnsureRole(ctx context.Context, name, slug string) (int64, error)
	FindRoleIDBySlug(ctx context.Context, slug string) (int64, error)
	GrantCapability(ctx context.Context, roleID int64, capability string) error
	RevokeCapability(ctx context.Context, roleID int64, capability string) error
}

// EventPublisher receives auth events. *events.EventBus satisfies it.
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// Dependencies are built once per process and shared by every per-request
// Service.
type Dependencies struct {
	Repo       RepositoryAPI
	Tokens     *TokenCodec
	Events     EventPublisher
	Logger     *slog.Logger
	Clock      func() time.Time
	BCryptCost int
	CSRFTTL    time.Duration
	ResetTTL   time.Duration
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.CSRFTTL <= 0 {
		d.CSRFTTL = DefaultCSRFTTL
	}
	if d.ResetTTL <= 0 {
		d.ResetTTL = DefaultResetTTL
	}
	return d
}
