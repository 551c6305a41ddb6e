package auth

import (
	"crypto/subtle"
	"encoding/json"
	"time"
)

const (
	DefaultCSRFAction = "default"
	DefaultCSRFTTL    = time.Hour

	csrfKeyPrefix = "arm_csrf:"
	csrfBytes     = 32
)

// SessionStore is the per-request session state the auth core reads and
// writes. *session.Session satisfies it.
type SessionStore interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Delete(key string)
	Destroy()
	RegenerateID() error
}

type csrfRecord struct {
	Token   string `json:"token"`
	Expires int64  `json:"expires"`
}

// CSRFManager issues one token per action, stored in the session. Issuing
// again for the same action replaces the previous token.
type CSRFManager struct {
	store SessionStore
	ttl   time.Duration
	now   func() time.Time
}

func NewCSRFManager(store SessionStore, ttl time.Duration, now func() time.Time) *CSRFManager {
	if ttl <= 0 {
		ttl = DefaultCSRFTTL
	}
	if now == nil {
		now = time.Now
	}
	return &CSRFManager{store: store, ttl: ttl, now: now}
}

func (m *CSRFManager) Issue(action string) (string, error) {
	token, err := GenerateRandomToken(csrfBytes)
	if err != nil {
		return "", err
	}
	rec, err := json.Marshal(csrfRecord{
		Token:   token,
		Expires: m.now().Add(m.ttl).Unix(),
	})
	if err != nil {
		return "", err
	}
	m.store.Set(csrfKey(action), string(rec))
	return token, nil
}

// Verify checks token against the stored record for action. Expired or
// unreadable records are removed. A valid token stays usable until it
// expires or is reissued.
func (m *CSRFManager) Verify(token, action string) bool {
	if token == "" {
		return false
	}
	key := csrfKey(action)
	raw, ok := m.store.Get(key)
	if !ok {
		return false
	}

	var rec csrfRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.Token == "" {
		m.store.Delete(key)
		return false
	}
	if m.now().Unix() > rec.Expires {
		m.store.Delete(key)
		return false
	}
	return subtle.ConstantTimeCompare([]byte(rec.Token), []byte(token)) == 1
}

func csrfKey(action string) string {
	if action == "" {
		action = DefaultCSRFAction
	}
	return csrfKeyPrefix + action
}

// ephemeralSession backs a Service built without a session, e.g. for a
// bearer-only caller. Nothing in it outlives the request.
type ephemeralSession struct {
	values map[string]string
}

func newEphemeralSession() *ephemeralSession {
	return &ephemeralSession{values: map[string]string{}}
}

func (e *ephemeralSession) Get(key string) (string, bool) {
	v, ok := e.values[key]
	return v, ok
}

func (e *ephemeralSession) Set(key, value string) { e.values[key] = value }

func (e *ephemeralSession) Delete(key string) { delete(e.values, key) }

func (e *ephemeralSession) Destroy() { e.values = map[string]string{} }

func (e *ephemeralSession) RegenerateID() error { return nil }
