// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"context"
	"fmt"
	"sync"

	"github.com/featurebasedb/spillway/errors"
)

// AttemptID identifies one task attempt for its lifetime. IDs are unique
// among attempts running concurrently in a process.
type AttemptID uint64

func (id AttemptID) String() string { return fmt.Sprintf("attempt-%d", uint64(id)) }

// CompletionFunc is called once when an attempt finishes. err is the
// attempt's result; it is nil on success.
type CompletionFunc func(tc *Context, err error)

// Context is the handle for a running task attempt. It is passed explicitly
// to everything that accounts resources on the attempt's behalf.
type Context struct {
	ctx context.Context
	id  AttemptID

	mu        sync.Mutex
	listeners []CompletionFunc
	completed bool
}

// NewContext returns a Context for attempt id. ctx governs cancellation of
// the attempt's blocking calls.
func NewContext(ctx context.Context, id AttemptID) *Context {
	return &Context{ctx: ctx, id: id}
}

// ID returns the attempt's identifier.
func (c *Context) ID() AttemptID { return c.id }

// Context returns the attempt's cancellation context.
func (c *Context) Context() context.Context { return c.ctx }

// OnCompletion registers fn to run when the attempt completes. If the
// attempt already completed, fn runs immediately with a nil error.
func (c *Context) OnCompletion(fn CompletionFunc) {
	c.mu.Lock()
	if !c.completed {
		c.listeners = append(c.listeners, fn)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	fn(c, nil)
}

// Completed reports whether Complete has been called.
func (c *Context) Completed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed
}

// Complete marks the attempt finished with result err and runs completion
// listeners, most recently registered first. Only the first call runs
// them. A panicking listener does not prevent the others from running; the
// panics are returned as an error.
func (c *Context) Complete(err error) error {
	c.mu.Lock()
	if c.completed {
		c.mu.Unlock()
		return nil
	}
	c.completed = true
	listeners := c.listeners
	c.listeners = nil
	c.mu.Unlock()

	var failures []string
	for i := len(listeners) - 1; i >= 0; i-- {
		if msg := runListener(listeners[i], c, err); msg != "" {
			failures = append(failures, msg)
		}
	}
	if len(failures) > 0 {
		return errors.Errorf("completion listeners for %s failed: %v", c.id, failures)
	}
	return nil
}

func runListener(fn CompletionFunc, c *Context, err error) (msg string) {
	defer func() {
		if r := recover(); r != nil {
			msg = fmt.Sprint(r)
		}
	}()
	fn(c, err)
	return ""
}
