package auth

import (
	"net/http"

	"github.com/go-chi/chi"
)

// Mount registers the auth endpoints on r. throttle wraps the endpoints an
// anonymous caller can use to probe secrets; nil leaves them unthrottled.
func (h *Handler) Mount(r chi.Router, throttle func(http.Handler) http.Handler) {
	if throttle == nil {
		throttle = func(next http.Handler) http.Handler { return next }
	}

	r.Use(h.Middleware)

	r.With(throttle).Post("/login", h.Login)
	r.Post("/logout", h.Logout)
	r.Get("/me", h.Me)
	r.Get("/capabilities", h.Capabilities)
	r.Get("/csrf", h.CSRF)

	r.With(throttle).Post("/password/reset", h.RequestPasswordReset)
	r.With(throttle).Post("/password/complete", h.ResetPassword)

	r.With(h.RequireCapability(CapManageOptions), h.RequireCSRF).Post("/invitations", h.Invite)
	r.With(throttle).Post("/invitations/accept", h.AcceptInvitation)
}
