package events

import (
	"time"

	"github.com/frahmantamala/repairshop/internal/ids"
)

const (
	EventTypeLogin                  = "auth.login"
	EventTypeLogout                 = "auth.logout"
	EventTypeInvite                 = "auth.invite"
	EventTypeInvitationAccepted     = "auth.accept_invitation"
	EventTypePasswordResetRequested = "auth.password_reset_request"
	EventTypePasswordReset          = "auth.password_reset"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeError   = "error"
)

// AuthEvent records one authentication or account operation. It never
// carries a password, hash or token.
type AuthEvent struct {
	BaseEvent
	Outcome string `json:"outcome"`
	UserID  int64  `json:"user_id,omitempty"`
	Email   string `json:"email,omitempty"`
}

func NewAuthEvent(eventType, outcome string, userID int64, email string, at time.Time) *AuthEvent {
	return &AuthEvent{
		BaseEvent: BaseEvent{
			ID:        ids.NewAt(at),
			Type:      eventType,
			Timestamp: at,
			Data: map[string]interface{}{
				"outcome": outcome,
				"user_id": userID,
				"email":   email,
			},
		},
		Outcome: outcome,
		UserID:  userID,
		Email:   email,
	}
}
