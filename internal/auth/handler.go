package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/frahmantamala/repairshop/internal"
	"github.com/frahmantamala/repairshop/internal/session"
	"github.com/frahmantamala/repairshop/internal/transport"
	"github.com/frahmantamala/repairshop/pkg/logger"
)

// CSRFHeader carries the token issued by login or GET /auth/csrf.
const CSRFHeader = "X-CSRF-Token"

type requestState struct {
	svc  *Service
	sess *session.Session
}

type stateKey struct{}

// ServiceFromContext returns the per-request Service installed by
// Handler.Middleware.
func ServiceFromContext(ctx context.Context) (*Service, bool) {
	st, ok := ctx.Value(stateKey{}).(*requestState)
	if !ok || st == nil {
		return nil, false
	}
	return st.svc, true
}

type Handler struct {
	*transport.BaseHandler
	Deps     Dependencies
	Sessions *session.Manager
}

func NewHandler(base *transport.BaseHandler, deps Dependencies, sessions *session.Manager) *Handler {
	if base == nil {
		base = transport.NewBaseHandler(deps.Logger)
	}
	return &Handler{
		BaseHandler: base,
		Deps:        deps,
		Sessions:    sessions,
	}
}

// Middleware builds the auth Service for the request and puts it in the
// context. It never rejects a request for lack of credentials.
func (h *Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := h.Sessions.Load(r)
		if err != nil {
			h.WriteError(w, r, internal.NewInternalError("Could not load session.", err))
			return
		}

		var cookieToken string
		if c, err := r.Cookie(SessionCookieName); err == nil {
			cookieToken = c.Value
		}

		svc, err := NewService(r.Context(), h.Deps, Request{
			Session:     sess,
			BearerToken: h.ExtractTokenFromHeader(r),
			CookieToken: cookieToken,
			Secure:      session.IsSecure(r),
		})
		if err != nil {
			h.WriteError(w, r, internal.NewInternalError("Could not resolve principal.", err))
			return
		}

		ctx := r.Context()
		if u := svc.Principal(); u != nil {
			ctx = logger.With(ctx, "user_id", u.ID)
		}
		ctx = context.WithValue(ctx, stateKey{}, &requestState{svc: svc, sess: sess})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireCapability rejects callers whose role lacks capability.
func (h *Handler) RequireCapability(capability Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			st, ok := h.state(w, r)
			if !ok {
				return
			}
			if !st.svc.GuardCapability(r.Context(), w, capability) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireCSRF checks the X-CSRF-Token header against the default action.
// Bearer callers carry no ambient credentials and skip the check.
func (h *Handler) RequireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st, ok := h.state(w, r)
		if !ok {
			return
		}
		if st.svc.Channel() != ChannelBearer &&
			!st.svc.CSRF().Verify(r.Header.Get(CSRFHeader), DefaultCSRFAction) {
			h.fail(w, r, st, internal.ErrInvalidCSRFToken)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Login answers 401 invalid_credentials for an unreadable body too.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	st, ok := h.state(w, r)
	if !ok {
		return
	}
	var dto LoginDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.fail(w, r, st, internal.ErrInvalidCredentials)
		return
	}

	res, err := st.svc.Login(r.Context(), dto.Email, dto.Password)
	if err != nil {
		h.fail(w, r, st, err)
		return
	}
	if res == nil {
		h.fail(w, r, st, internal.ErrInvalidCredentials)
		return
	}
	h.respond(w, r, st, http.StatusOK, res)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	st, ok := h.state(w, r)
	if !ok {
		return
	}
	if err := st.svc.Logout(r.Context()); err != nil {
		h.fail(w, r, st, err)
		return
	}
	h.respond(w, r, st, http.StatusOK, StatusResponse{Status: "logged_out"})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	st, ok := h.state(w, r)
	if !ok {
		return
	}
	u := st.svc.CurrentUser()
	if u == nil {
		h.fail(w, r, st, internal.ErrUnauthenticated)
		return
	}
	h.respond(w, r, st, http.StatusOK, UserResponse{User: u})
}

func (h *Handler) Capabilities(w http.ResponseWriter, r *http.Request) {
	st, ok := h.state(w, r)
	if !ok {
		return
	}
	if st.svc.Principal() == nil {
		h.fail(w, r, st, internal.ErrUnauthenticated)
		return
	}
	caps, err := st.svc.Capabilities(r.Context())
	if err != nil {
		h.fail(w, r, st, err)
		return
	}
	if caps == nil {
		caps = []string{}
	}
	h.respond(w, r, st, http.StatusOK, CapabilitiesResponse{Capabilities: caps})
}

// CSRF issues a token for ?action=, or the default action.
func (h *Handler) CSRF(w http.ResponseWriter, r *http.Request) {
	st, ok := h.state(w, r)
	if !ok {
		return
	}
	token, err := st.svc.CSRF().Issue(r.URL.Query().Get("action"))
	if err != nil {
		h.fail(w, r, st, err)
		return
	}
	h.respond(w, r, st, http.StatusOK, CSRFResponse{CSRFToken: token})
}

func (h *Handler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	st, ok := h.state(w, r)
	if !ok {
		return
	}
	var dto PasswordResetRequestDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.fail(w, r, st, err)
		return
	}

	token, err := st.svc.RequestPasswordReset(r.Context(), dto.Email)
	if err != nil {
		h.fail(w, r, st, err)
		return
	}
	if token == "" {
		h.fail(w, r, st, internal.ErrUserNotFound)
		return
	}
	h.respond(w, r, st, http.StatusOK, ResetTokenResponse{ResetToken: token})
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	st, ok := h.state(w, r)
	if !ok {
		return
	}
	var dto PasswordResetDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.fail(w, r, st, err)
		return
	}

	done, err := st.svc.ResetPassword(r.Context(), dto.Token, dto.Password)
	if err != nil {
		h.fail(w, r, st, err)
		return
	}
	if !done {
		h.fail(w, r, st, internal.ErrInvalidResetToken)
		return
	}
	h.respond(w, r, st, http.StatusOK, StatusResponse{Status: "password_reset"})
}

// Invite expects RequireCapability(CapManageOptions) and RequireCSRF in
// front of it.
func (h *Handler) Invite(w http.ResponseWriter, r *http.Request) {
	st, ok := h.state(w, r)
	if !ok {
		return
	}
	var dto InviteDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.fail(w, r, st, err)
		return
	}
	if appErr := dto.Validate(); appErr != nil {
		h.fail(w, r, st, appErr)
		return
	}

	var invitedBy *int64
	if u := st.svc.Principal(); u != nil {
		id := u.ID
		invitedBy = &id
	}

	inv, err := st.svc.InviteUser(r.Context(), dto.Email, dto.Name, dto.RoleID, invitedBy)
	switch {
	case errors.Is(err, ErrEmailTaken):
		h.fail(w, r, st, internal.ErrEmailTaken)
		return
	case errors.Is(err, ErrRoleNotFound):
		h.fail(w, r, st, internal.NewValidationFieldError("role_id", "Unknown role.", internal.ErrCodeInvalidRequest))
		return
	case err != nil:
		h.fail(w, r, st, err)
		return
	}
	h.respond(w, r, st, http.StatusOK, inv)
}

func (h *Handler) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	st, ok := h.state(w, r)
	if !ok {
		return
	}
	var dto AcceptInvitationDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.fail(w, r, st, err)
		return
	}

	accepted, err := st.svc.AcceptInvitation(r.Context(), dto.Token, dto.Password)
	if err != nil {
		h.fail(w, r, st, err)
		return
	}
	if !accepted {
		h.fail(w, r, st, internal.ErrInvalidInvitation)
		return
	}
	h.respond(w, r, st, http.StatusOK, StatusResponse{Status: "accepted"})
}

func (h *Handler) state(w http.ResponseWriter, r *http.Request) (*requestState, bool) {
	st, ok := r.Context().Value(stateKey{}).(*requestState)
	if !ok || st == nil {
		h.WriteError(w, r, internal.NewInternalError("Auth middleware not installed.", nil))
		return nil, false
	}
	return st, true
}

// commit persists the session and writes the cookies the Service produced.
// It must run before the status line is written.
func (h *Handler) commit(w http.ResponseWriter, r *http.Request, st *requestState) error {
	if err := h.Sessions.Save(r.Context(), w, r, st.sess); err != nil {
		return err
	}
	for _, c := range st.svc.Cookies() {
		http.SetCookie(w, c)
	}
	return nil
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, st *requestState, status int, body interface{}) {
	if err := h.commit(w, r, st); err != nil {
		h.WriteError(w, r, internal.NewInternalError("Could not save session.", err))
		return
	}
	h.WriteJSON(w, status, body)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, st *requestState, err error) {
	if cerr := h.commit(w, r, st); cerr != nil {
		h.Logger.ErrorContext(r.Context(), "saving session failed", "error", cerr)
	}
	h.WriteError(w, r, err)
}
