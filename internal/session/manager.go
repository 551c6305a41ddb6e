package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/frahmantamala/repairshop/pkg/logger"
)

const (
	DefaultCookieName = "arm_sid"
	DefaultTTL        = 24 * time.Hour
)

// Manager moves sessions between the cookie and the Store.
type Manager struct {
	store      Store
	cookieName string
	ttl        time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

type Option func(*Manager)

func WithCookieName(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.cookieName = name
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		cookieName: DefaultCookieName,
		ttl:        DefaultTTL,
		now:        time.Now,
		logger:     logger.LoggerWrapper(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) CookieName() string { return m.cookieName }

// Load returns the session named by the request cookie, or a fresh one when
// the cookie is missing, malformed, unknown or expired.
func (m *Manager) Load(r *http.Request) (*Session, error) {
	c, err := r.Cookie(m.cookieName)
	if err != nil || !validID(c.Value) {
		return New()
	}

	values, err := m.store.Load(r.Context(), c.Value)
	switch {
	case errors.Is(err, ErrNotFound):
		return New()
	case err != nil:
		return nil, fmt.Errorf("loading session: %w", err)
	}
	return newLoaded(c.Value, values), nil
}

// Save persists a modified session and writes the cookie. It must run before
// the response header is written.
func (m *Manager) Save(ctx context.Context, w http.ResponseWriter, r *http.Request, s *Session) error {
	for _, id := range s.stale {
		if err := m.store.Delete(ctx, id); err != nil {
			logger.From(ctx).Warn("failed to delete rotated session", "error", err)
		}
	}
	s.stale = nil

	if s.destroyed {
		if !s.isNew {
			if err := m.store.Delete(ctx, s.id); err != nil {
				return fmt.Errorf("deleting session: %w", err)
			}
		}
		if _, err := r.Cookie(m.cookieName); err == nil {
			http.SetCookie(w, m.cookie(r, "", -1))
		}
		s.dirty = false
		return nil
	}

	if !s.dirty {
		return nil
	}
	if s.isNew && len(s.values) == 0 {
		s.dirty = false
		return nil
	}

	expiresAt := m.now().Add(m.ttl)
	if err := m.store.Save(ctx, s.id, s.values, expiresAt); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	s.isNew = false
	s.dirty = false

	http.SetCookie(w, m.cookie(r, s.id, int(m.ttl.Seconds())))
	return nil
}

func (m *Manager) cookie(r *http.Request, value string, maxAge int) *http.Cookie {
	c := &http.Cookie{
		Name:     m.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   IsSecure(r),
		SameSite: http.SameSiteLaxMode,
	}
	if maxAge > 0 {
		c.Expires = m.now().Add(time.Duration(maxAge) * time.Second)
	} else {
		c.Expires = time.Unix(1, 0)
	}
	return c
}

// IsSecure reports whether the request reached us over HTTPS, directly or
// through a proxy that says so.
func IsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return r.Header.Get("X-Forwarded-Proto") == "https"
}
