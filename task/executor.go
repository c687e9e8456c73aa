// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/featurebasedb/spillway/errors"
	"github.com/featurebasedb/spillway/logger"
)

// Func is the body of a task attempt.
type Func func(tc *Context) error

// Attempt is a submitted task attempt.
type Attempt struct {
	tc     *Context
	fn     Func
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// ID returns the attempt's identifier.
func (a *Attempt) ID() AttemptID { return a.tc.ID() }

// Cancel cancels the attempt's context. Blocking calls made with the
// attempt's Context return early; the attempt still completes normally.
func (a *Attempt) Cancel() { a.cancel() }

// Done is closed once the attempt and its completion listeners have run.
func (a *Attempt) Done() <-chan struct{} { return a.done }

// Wait blocks until the attempt finishes and returns its result.
func (a *Attempt) Wait() error {
	<-a.done
	return a.err
}

// Executor runs task attempts on a Pool. Every attempt gets a fresh
// AttemptID and Context, and the executor's completion listeners are
// registered on it before the body runs, so they run exactly once however
// the attempt ends.
type Executor struct {
	pool   *Pool
	queue  chan *Attempt
	nextID uint64

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	closed    bool
	listeners []CompletionFunc

	logger logger.Logger
}

type ExecutorOption func(e *Executor)

func OptExecutorLogger(l logger.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = l
	}
}

// OptExecutorCompletion registers fn on every attempt the executor runs.
func OptExecutorCompletion(fn CompletionFunc) ExecutorOption {
	return func(e *Executor) {
		e.listeners = append(e.listeners, fn)
	}
}

// NewExecutor starts an executor aiming for concurrency unblocked workers.
func NewExecutor(concurrency int, opts ...ExecutorOption) *Executor {
	if concurrency < 1 {
		concurrency = 1
	}
	e := &Executor{
		queue:  make(chan *Attempt),
		logger: logger.NopLogger,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.pool = NewPool(concurrency, e.step, gaugeStats{})
	return e
}

// Submit hands fn to the next free worker, waiting for one if necessary.
func (e *Executor) Submit(fn Func) (*Attempt, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, errors.New(errors.ErrClosed, "executor is closed")
	}
	ctx, cancel := context.WithCancel(e.ctx)
	a := &Attempt{
		tc:     NewContext(ctx, AttemptID(atomic.AddUint64(&e.nextID, 1))),
		fn:     fn,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	for _, l := range e.listeners {
		a.tc.OnCompletion(l)
	}
	e.queue <- a
	return a, nil
}

// OnCompletion registers fn on every attempt submitted after the call.
func (e *Executor) OnCompletion(fn CompletionFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// Block marks the calling worker as parked so the pool can start another.
// Every Block must be paired with an Unblock.
func (e *Executor) Block() { e.pool.Block() }

// Unblock marks the calling worker as runnable again.
func (e *Executor) Unblock() { e.pool.Unblock() }

// Stats reports the underlying pool's live, runnable and target counts.
func (e *Executor) Stats() (live, runnable, target int) {
	return e.pool.Stats()
}

// Close cancels running attempts, stops accepting new ones and waits for
// the workers to exit.
func (e *Executor) Close() {
	e.cancel()
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.pool.Shutdown()
	close(e.queue)
	e.mu.Unlock()
	e.pool.Close()
}

func (e *Executor) step() {
	a, ok := <-e.queue
	if !ok {
		return
	}
	e.run(a)
}

func (e *Executor) run(a *Attempt) {
	defer close(a.done)
	defer a.cancel()
	GaugeAttemptsRunning.Inc()
	defer GaugeAttemptsRunning.Dec()

	err := e.invoke(a)
	if lerr := a.tc.Complete(err); lerr != nil {
		e.logger.Errorf("%v", lerr)
	}
	if err != nil {
		CounterAttemptsFinished.WithLabelValues("failure").Inc()
		e.logger.Debugf("%s failed: %v", a.ID(), err)
	} else {
		CounterAttemptsFinished.WithLabelValues("success").Inc()
	}
	a.err = err
}

func (e *Executor) invoke(a *Attempt) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("%s panicked: %v", a.ID(), r)
		}
	}()
	return a.fn(a.tc)
}
