package auth

import (
	"time"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInvited  Status = "invited"
	StatusDisabled Status = "disabled"
)

// User is an account row joined with the slug of its role.
type User struct {
	ID                int64
	Email             string
	Name              string
	PasswordHash      string
	RoleID            int64
	RoleSlug          string
	Status            Status
	InvitationToken   *string
	ResetToken        *string
	ResetTokenExpires *time.Time
	InvitedBy         *int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PublicUser is the only shape of a user that leaves the service. It never
// carries the hash or any token.
type PublicUser struct {
	ID     int64  `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Status Status `json:"status"`
}

func (u *User) Public() *PublicUser {
	if u == nil {
		return nil
	}
	return &PublicUser{
		ID:     u.ID,
		Email:  u.Email,
		Name:   u.Name,
		Role:   u.RoleSlug,
		Status: u.Status,
	}
}

func (u *User) IsActive() bool {
	return u != nil && u.Status == StatusActive
}
