package auth

import (
	errors "github.com/frahmantamala/repairshop/internal"
	"github.com/frahmantamala/repairshop/internal/core/common/validation"
)

// LoginDTO is the transport shape used by the HTTP handler to accept login requests.
type LoginDTO struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type InviteDTO struct {
	Email  string `json:"email"`
	Name   string `json:"name"`
	RoleID int64  `json:"role_id"`
}

func (d InviteDTO) Validate() *errors.AppError {
	v := validation.NewValidator()
	v.Field("email", d.Email).Required().Email().MaxLength(190)
	v.Field("name", d.Name).MaxLength(190)
	v.Field("role_id", d.RoleID).MinInt(1, errors.ErrCodeInvalidRequest)
	return v.Validate()
}

type AcceptInvitationDTO struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type PasswordResetRequestDTO struct {
	Email string `json:"email"`
}

type PasswordResetDTO struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type UserResponse struct {
	User *PublicUser `json:"user"`
}

type ResetTokenResponse struct {
	ResetToken string `json:"reset_token"`
}

type CSRFResponse struct {
	CSRFToken string `json:"csrf_token"`
}

type CapabilitiesResponse struct {
	Capabilities []string `json:"capabilities"`
}
