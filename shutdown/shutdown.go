// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package shutdown keeps the actions that must run before the process
// exits, however it exits.
//
// A component registers a hook when it acquires something that outlives
// it, such as scratch directories, and removes the hook when it releases
// that thing itself. Run executes whatever is still registered; main
// defers it, and Watch calls it when the process is being killed.
package shutdown

import (
	"os"
	"os/signal"
	"sync"

	"github.com/featurebasedb/spillway/logger"
)

// Registry holds shutdown hooks. The zero value is not usable; see
// NewRegistry.
type Registry struct {
	mu    sync.Mutex
	hooks []*Hook

	logger logger.Logger
	exit   func(code int)
}

// Hook is a registered action.
type Hook struct {
	name string
	fn   func() error
	r    *Registry
}

type RegistryOption func(r *Registry)

func OptRegistryLogger(l logger.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = l
	}
}

// OptRegistryExit replaces os.Exit.
func OptRegistryExit(fn func(code int)) RegistryOption {
	return func(r *Registry) {
		r.exit = fn
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		logger: logger.NopLogger,
		exit:   os.Exit,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add registers fn to be run by Run.
func (r *Registry) Add(name string, fn func() error) *Hook {
	h := &Hook{name: name, fn: fn, r: r}
	r.mu.Lock()
	r.hooks = append(r.hooks, h)
	r.mu.Unlock()
	return h
}

// Remove deregisters the hook. It reports whether the hook was still
// registered; false means it has already been run or removed.
func (h *Hook) Remove() bool {
	r := h.r
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, other := range r.hooks {
		if other == h {
			r.hooks = append(r.hooks[:i], r.hooks[i+1:]...)
			return true
		}
	}
	return false
}

// Name returns the name the hook was registered with.
func (h *Hook) Name() string { return h.name }

// Len returns the number of registered hooks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hooks)
}

// Run runs and deregisters every registered hook, most recently added
// first. Errors are logged. Each hook runs at most once, even if Run is
// called concurrently.
func (r *Registry) Run() {
	r.mu.Lock()
	hooks := r.hooks
	r.hooks = nil
	r.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		r.logger.Debugf("running shutdown hook %s", h.name)
		if err := h.fn(); err != nil {
			r.logger.Errorf("shutdown hook %s: %v", h.name, err)
		}
	}
}

// Guard runs the hooks when the deferring function returns or panics,
// re-raising the panic afterwards. It must be deferred directly:
//
//	defer r.Guard()
func (r *Registry) Guard() {
	if p := recover(); p != nil {
		r.logger.Errorf("panic: %v; running shutdown hooks", p)
		r.Run()
		panic(p)
	}
	r.Run()
}

// Exit runs the hooks and exits the process with code.
func (r *Registry) Exit(code int) {
	r.Run()
	r.exit(code)
}

// Watch starts relaying sigs. The first one received is delivered on the
// returned channel, so the caller can shut down gracefully; a second one
// means the caller is stuck, so the hooks are run and the process exits
// with status 1. The returned func stops watching.
func (r *Registry) Watch(sigs ...os.Signal) (<-chan os.Signal, func()) {
	c := make(chan os.Signal, 2)
	signal.Notify(c, sigs...)
	first := make(chan os.Signal, 1)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-c:
			first <- sig
		case <-done:
			return
		}
		select {
		case sig := <-c:
			r.logger.Errorf("received %s again, running shutdown hooks and exiting", sig)
			r.Exit(1)
		case <-done:
		}
	}()

	var once sync.Once
	return first, func() {
		once.Do(func() {
			signal.Stop(c)
			close(done)
		})
	}
}

// Default is the process-wide registry.
var Default = NewRegistry(OptRegistryLogger(logger.StderrLogger))

// Add registers fn on Default.
func Add(name string, fn func() error) *Hook { return Default.Add(name, fn) }

// Run runs Default's hooks.
func Run() { Default.Run() }

// Guard is Registry.Guard for Default. It must be deferred directly.
func Guard() {
	if p := recover(); p != nil {
		Default.logger.Errorf("panic: %v; running shutdown hooks", p)
		Default.Run()
		panic(p)
	}
	Default.Run()
}

// Exit runs Default's hooks and exits.
func Exit(code int) { Default.Exit(code) }

// Watch watches for sigs on behalf of Default.
func Watch(sigs ...os.Signal) (<-chan os.Signal, func()) { return Default.Watch(sigs...) }
