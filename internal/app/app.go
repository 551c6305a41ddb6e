// Package app boots the server's modules in a fixed order.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/frahmantamala/repairshop/pkg/logger"
)

type Module interface {
	Name() string
	Boot(ctx context.Context) error
}

// ModuleFunc adapts a function to Module.
type ModuleFunc struct {
	ModuleName string
	Fn         func(ctx context.Context) error
}

func (m ModuleFunc) Name() string { return m.ModuleName }

func (m ModuleFunc) Boot(ctx context.Context) error { return m.Fn(ctx) }

var ErrAlreadyBooted = errors.New("modules already booted")

// Registry boots every registered module once, in registration order.
type Registry struct {
	mu      sync.Mutex
	modules []Module
	names   map[string]bool
	booted  bool
	logger  *slog.Logger
}

func NewRegistry(lg *slog.Logger) *Registry {
	if lg == nil {
		lg = logger.LoggerWrapper()
	}
	return &Registry{names: map[string]bool{}, logger: lg}
}

func (r *Registry) Register(modules ...Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.booted {
		return ErrAlreadyBooted
	}
	for _, m := range modules {
		if r.names[m.Name()] {
			return fmt.Errorf("module %s registered twice", m.Name())
		}
		r.names[m.Name()] = true
		r.modules = append(r.modules, m)
	}
	return nil
}

// BootAll stops at the first failing module. A second call returns
// ErrAlreadyBooted whether or not the first one succeeded.
func (r *Registry) BootAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.booted {
		return ErrAlreadyBooted
	}
	r.booted = true

	for _, m := range r.modules {
		r.logger.DebugContext(ctx, "booting module", "module", m.Name())
		if err := m.Boot(ctx); err != nil {
			return fmt.Errorf("booting %s: %w", m.Name(), err)
		}
	}
	return nil
}

func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.modules))
	for _, m := range r.modules {
		out = append(out, m.Name())
	}
	return out
}
