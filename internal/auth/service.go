package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/frahmantamala/repairshop/internal"
	"github.com/frahmantamala/repairshop/internal/core/events"
	"github.com/golang-jwt/jwt/v5"
)

// Channel says how the current principal was resolved.
type Channel string

const (
	ChannelNone    Channel = ""
	ChannelSession Channel = "session"
	ChannelBearer  Channel = "bearer"
	ChannelCookie  Channel = "cookie"
)

// Request is what the auth core needs from one inbound request.
type Request struct {
	Session     SessionStore
	BearerToken string
	CookieToken string
	Secure      bool
}

type LoginResult struct {
	Token     string      `json:"token"`
	CSRFToken string      `json:"csrf_token"`
	User      *PublicUser `json:"user"`
}

type Invitation struct {
	UserID          int64  `json:"-"`
	InvitationToken string `json:"invitation_token"`
}

// Service is the auth core for one request. Build it with NewService at the
// start of the request and drop it at the end.
type Service struct {
	deps    Dependencies
	session SessionStore
	csrf    *CSRFManager
	authz   *Authorization
	secure  bool
	channel Channel
	cookies []*http.Cookie
}

// NewService resolves the principal: the session's user id first, then the
// signed token from the bearer header or the arm_session cookie. A request
// that resolves to nothing is unauthenticated, not an error. Errors are
// storage failures only.
func NewService(ctx context.Context, deps Dependencies, req Request) (*Service, error) {
	deps = deps.withDefaults()
	sess := req.Session
	if sess == nil {
		sess = newEphemeralSession()
	}

	s := &Service{
		deps:    deps,
		session: sess,
		csrf:    NewCSRFManager(sess, deps.CSRFTTL, deps.Clock),
		authz:   NewAuthorization(deps.Repo, deps.Logger),
		secure:  req.Secure,
	}
	if err := s.primeCurrentUser(ctx, req); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) primeCurrentUser(ctx context.Context, req Request) error {
	userID, channel := s.principalID(req)
	if userID == 0 {
		s.authz.SetCurrentUser(nil)
		return nil
	}

	u, err := s.deps.Repo.FindUserByID(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		s.authz.SetCurrentUser(nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolving current user: %w", err)
	}
	if u.Status == StatusDisabled {
		s.deps.Logger.WarnContext(ctx, "ignoring credentials of disabled user", "user_id", u.ID)
		s.authz.SetCurrentUser(nil)
		return nil
	}

	s.authz.SetCurrentUser(u)
	s.channel = channel
	return nil
}

func (s *Service) principalID(req Request) (int64, Channel) {
	if raw, ok := s.session.Get(sessionUserIDKey); ok {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
			return id, ChannelSession
		}
	}

	token, channel := req.BearerToken, ChannelBearer
	if token == "" {
		token, channel = req.CookieToken, ChannelCookie
	}
	if token == "" {
		return 0, ChannelNone
	}

	claims, err := s.deps.Tokens.Decode(token)
	if err != nil {
		return 0, ChannelNone
	}
	id, ok := claims.UserID()
	if !ok {
		return 0, ChannelNone
	}
	return id, channel
}

// Login returns nil without an error for an unknown email, a wrong password
// or a disabled account.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		s.publish(ctx, events.EventTypeLogin, events.OutcomeFailure, 0, email)
		return nil, nil
	}

	u, err := s.deps.Repo.FindUserByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		s.publish(ctx, events.EventTypeLogin, events.OutcomeFailure, 0, email)
		return nil, nil
	}
	if err != nil {
		s.publish(ctx, events.EventTypeLogin, events.OutcomeError, 0, email)
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	if !VerifyPassword(u.PasswordHash, password) || u.Status == StatusDisabled {
		s.publish(ctx, events.EventTypeLogin, events.OutcomeFailure, u.ID, email)
		return nil, nil
	}

	if err := s.session.RegenerateID(); err != nil {
		return nil, fmt.Errorf("rotating session: %w", err)
	}
	s.session.Set(sessionUserIDKey, strconv.FormatInt(u.ID, 10))
	s.session.Set(sessionUserRoleKey, u.RoleSlug)

	token, err := s.deps.Tokens.Encode(Claims{Role: u.RoleSlug, RegisteredClaims: subject(u.ID)})
	if err != nil {
		return nil, err
	}
	csrfToken, err := s.csrf.Issue(DefaultCSRFAction)
	if err != nil {
		return nil, err
	}

	s.authz.SetCurrentUser(u)
	s.channel = ChannelSession
	s.setSessionCookie(token, s.deps.Clock().Add(s.deps.Tokens.TTL()))
	s.publish(ctx, events.EventTypeLogin, events.OutcomeSuccess, u.ID, email)

	return &LoginResult{Token: token, CSRFToken: csrfToken, User: u.Public()}, nil
}

// Logout clears the session principal, expires the token cookie and rotates
// the session id. Signed tokens already handed out stay valid until exp.
func (s *Service) Logout(ctx context.Context) error {
	var userID int64
	if u := s.authz.User(); u != nil {
		userID = u.ID
	}

	s.session.Delete(sessionUserIDKey)
	s.session.Delete(sessionUserRoleKey)
	s.clearSessionCookie()
	if err := s.session.RegenerateID(); err != nil {
		return fmt.Errorf("rotating session: %w", err)
	}

	s.authz.SetCurrentUser(nil)
	s.channel = ChannelNone
	s.publish(ctx, events.EventTypeLogout, events.OutcomeSuccess, userID, "")
	return nil
}

// CurrentUser is the public projection of the principal, nil when
// unauthenticated.
func (s *Service) CurrentUser() *PublicUser {
	return s.authz.User().Public()
}

// Principal is the full principal row for in-process callers.
func (s *Service) Principal() *User {
	return s.authz.User()
}

func (s *Service) Channel() Channel {
	return s.channel
}

func (s *Service) Can(ctx context.Context, capability Capability) (bool, error) {
	return s.authz.Can(ctx, capability)
}

func (s *Service) Capabilities(ctx context.Context) ([]string, error) {
	return s.authz.Capabilities(ctx)
}

func (s *Service) CSRF() *CSRFManager {
	return s.csrf
}

// InviteUser creates an invited account with an unusable password and
// returns the single-use invitation token. An empty name defaults to the
// email.
func (s *Service) InviteUser(ctx context.Context, email, name string, roleID int64, invitedBy *int64) (*Invitation, error) {
	email = NormalizeEmail(email)
	name = strings.TrimSpace(name)
	if name == "" {
		name = email
	}

	exists, err := s.deps.Repo.RoleExists(ctx, roleID)
	if err != nil {
		return nil, fmt.Errorf("checking role: %w", err)
	}
	if !exists {
		return nil, ErrRoleNotFound
	}

	token, err := GenerateRandomToken(secretTokenBytes)
	if err != nil {
		return nil, err
	}
	hash, err := placeholderHash(s.deps.BCryptCost)
	if err != nil {
		return nil, err
	}

	now := s.deps.Clock()
	u := &User{
		Email:           email,
		Name:            name,
		PasswordHash:    hash,
		RoleID:          roleID,
		Status:          StatusInvited,
		InvitationToken: &token,
		InvitedBy:       invitedBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.deps.Repo.CreateUser(ctx, u); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			s.publish(ctx, events.EventTypeInvite, events.OutcomeFailure, 0, email)
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("creating invited user: %w", err)
	}

	s.publish(ctx, events.EventTypeInvite, events.OutcomeSuccess, u.ID, email)
	return &Invitation{UserID: u.ID, InvitationToken: token}, nil
}

// AcceptInvitation sets the password of the invited user holding token and
// activates the account. The token is cleared, so it works once.
func (s *Service) AcceptInvitation(ctx context.Context, token, password string) (bool, error) {
	if token == "" || password == "" {
		s.publish(ctx, events.EventTypeInvitationAccepted, events.OutcomeFailure, 0, "")
		return false, nil
	}

	hash, err := HashPassword(password, s.deps.BCryptCost)
	if err != nil {
		return false, err
	}
	ok, err := s.deps.Repo.ActivateInvitation(ctx, token, hash, s.deps.Clock())
	if err != nil {
		return false, fmt.Errorf("activating invitation: %w", err)
	}

	outcome := events.OutcomeSuccess
	if !ok {
		outcome = events.OutcomeFailure
	}
	s.publish(ctx, events.EventTypeInvitationAccepted, outcome, 0, "")
	return ok, nil
}

// RequestPasswordReset issues a reset token valid for ResetTTL, replacing
// any outstanding one. It returns "" for an unknown email.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return "", nil
	}

	u, err := s.deps.Repo.FindUserByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		s.publish(ctx, events.EventTypePasswordResetRequested, events.OutcomeFailure, 0, email)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("looking up user: %w", err)
	}

	token, err := GenerateRandomToken(secretTokenBytes)
	if err != nil {
		return "", err
	}
	now := s.deps.Clock()
	if err := s.deps.Repo.SetResetToken(ctx, u.ID, token, now.Add(s.deps.ResetTTL), now); err != nil {
		return "", fmt.Errorf("storing reset token: %w", err)
	}

	s.publish(ctx, events.EventTypePasswordResetRequested, events.OutcomeSuccess, u.ID, email)
	return token, nil
}

// ResetPassword spends a live reset token: new hash, token cleared, account
// active.
func (s *Service) ResetPassword(ctx context.Context, token, password string) (bool, error) {
	if token == "" || password == "" {
		s.publish(ctx, events.EventTypePasswordReset, events.OutcomeFailure, 0, "")
		return false, nil
	}

	u, err := s.deps.Repo.FindUserByResetToken(ctx, token)
	if errors.Is(err, ErrUserNotFound) {
		s.publish(ctx, events.EventTypePasswordReset, events.OutcomeFailure, 0, "")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("looking up reset token: %w", err)
	}

	now := s.deps.Clock()
	if u.ResetTokenExpires == nil || u.ResetTokenExpires.Before(now) {
		s.publish(ctx, events.EventTypePasswordReset, events.OutcomeFailure, u.ID, "")
		return false, nil
	}

	hash, err := HashPassword(password, s.deps.BCryptCost)
	if err != nil {
		return false, err
	}
	ok, err := s.deps.Repo.CompletePasswordReset(ctx, u.ID, token, hash, now)
	if err != nil {
		return false, fmt.Errorf("completing password reset: %w", err)
	}

	outcome := events.OutcomeSuccess
	if !ok {
		outcome = events.OutcomeFailure
	}
	s.publish(ctx, events.EventTypePasswordReset, outcome, u.ID, "")
	return ok, nil
}

// GuardCapability is the enforcement point for privileged endpoints. When
// the principal lacks capability it writes 403 (500 if the check itself
// failed) and returns false; the caller must return without doing work.
func (s *Service) GuardCapability(ctx context.Context, w http.ResponseWriter, capability Capability) bool {
	ok, err := s.Can(ctx, capability)
	if err != nil {
		writeAppError(w, internal.NewInternalError("Authorization check failed.", err))
		return false
	}
	if !ok {
		var userID int64
		if u := s.authz.User(); u != nil {
			userID = u.ID
		}
		s.deps.Logger.WarnContext(ctx, "access denied: insufficient permissions",
			"user_id", userID,
			"required_capability", string(capability))
		writeAppError(w, internal.ErrForbidden)
		return false
	}
	return true
}

// Cookies returns the cookies this request produced, for the transport to
// write before the body.
func (s *Service) Cookies() []*http.Cookie {
	return s.cookies
}

func (s *Service) setSessionCookie(token string, expires time.Time) {
	s.cookies = append(s.cookies, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		MaxAge:   int(s.deps.Tokens.TTL().Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Service) clearSessionCookie() {
	s.cookies = append(s.cookies, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  s.deps.Clock().Add(-time.Hour),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Service) publish(ctx context.Context, eventType, outcome string, userID int64, email string) {
	if s.deps.Events == nil {
		return
	}
	ev := events.NewAuthEvent(eventType, outcome, userID, email, s.deps.Clock())
	if err := s.deps.Events.Publish(ctx, ev); err != nil {
		s.deps.Logger.WarnContext(ctx, "publishing auth event failed", "event_type", eventType, "error", err)
	}
}

func writeAppError(w http.ResponseWriter, appErr *internal.AppError) {
	status, body := appErr.ToHTTPResponse()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Default().Error("failed to encode error response", "error", err)
	}
}

// NormalizeEmail is the form emails are stored and looked up in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func subject(userID int64) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{Subject: strconv.FormatInt(userID, 10)}
}
