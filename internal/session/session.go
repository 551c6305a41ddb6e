// Package session keeps server-side per-browser state behind an opaque
// cookie. Values are strings; callers JSON encode anything richer.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("session not found")

// Store persists session values. Implementations must treat expired rows as
// missing and return ErrNotFound for them.
type Store interface {
	Load(ctx context.Context, id string) (map[string]string, error)
	Save(ctx context.Context, id string, values map[string]string, expiresAt time.Time) error
	Delete(ctx context.Context, id string) error
}

// Session is the state of one browser for the length of one request. It is
// not safe for concurrent use.
type Session struct {
	id        string
	values    map[string]string
	isNew     bool
	dirty     bool
	destroyed bool
	stale     []string
}

// New returns an empty session with a fresh id.
func New() (*Session, error) {
	id, err := NewID()
	if err != nil {
		return nil, err
	}
	return &Session{id: id, values: map[string]string{}, isNew: true}, nil
}

func newLoaded(id string, values map[string]string) *Session {
	if values == nil {
		values = map[string]string{}
	}
	return &Session{id: id, values: values}
}

func (s *Session) ID() string { return s.id }

func (s *Session) IsNew() bool { return s.isNew }

func (s *Session) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

func (s *Session) Set(key, value string) {
	if s.destroyed {
		s.destroyed = false
		s.values = map[string]string{}
	}
	s.values[key] = value
	s.dirty = true
}

func (s *Session) Delete(key string) {
	if _, ok := s.values[key]; ok {
		delete(s.values, key)
		s.dirty = true
	}
}

// Destroy drops every value. Unless something is set afterwards the session
// is removed from the store when it is saved.
func (s *Session) Destroy() {
	s.values = map[string]string{}
	s.destroyed = true
	s.dirty = true
}

// RegenerateID moves the values to a new id. The old id is deleted from the
// store on save, so a fixated id stops working.
func (s *Session) RegenerateID() error {
	id, err := NewID()
	if err != nil {
		return err
	}
	if !s.isNew {
		s.stale = append(s.stale, s.id)
	}
	s.id = id
	s.isNew = true
	s.dirty = true
	return nil
}

// Values returns a copy of the session contents.
func (s *Session) Values() map[string]string {
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// NewID returns 32 random bytes, hex encoded.
func NewID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func validID(id string) bool {
	if len(id) != 64 {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}
