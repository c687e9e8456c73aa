// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package memory fair-shares a bounded memory pool among concurrently
// running task attempts.
//
// Each attempt that asks for memory joins the active set. With n active
// attempts, an attempt may always grow to maxMemory/(2n) bytes, waiting for
// other attempts to release memory if it must, and it is never granted
// enough to push it past maxMemory/n. Once an attempt holds its guaranteed
// share it is never made to wait: it gets whatever is free up to its cap,
// possibly nothing, and is expected to spill.
//
// When the active set grows, an attempt's cap can fall below what it
// already holds. Nothing is reclaimed; the attempt simply receives no more
// until it releases memory. The pool total is never exceeded because the
// excess was within bounds when it was granted.
//
// Waiters are all woken on every release and every new registration and
// re-evaluate independently; there is no FIFO order among them.
package memory

import (
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/featurebasedb/spillway/errors"
	"github.com/featurebasedb/spillway/logger"
	"github.com/featurebasedb/spillway/task"
)

// Blocker is told when an acquire is about to park its caller and when it
// resumes, so a worker pool can keep enough runnable workers.
// task.Executor implements it.
type Blocker interface {
	Block()
	Unblock()
}

// Arbiter tracks how many bytes each active task attempt holds out of a
// fixed pool. It is safe for concurrent use.
type Arbiter struct {
	maxMemory uint64
	pageSize  uint64

	mu      sync.Mutex
	ledger  map[task.AttemptID]uint64
	used    uint64        // sum of ledger values
	wake    chan struct{} // closed and replaced to wake every waiter
	waiting int

	blocker Blocker
	logger  logger.Logger
}

type ArbiterOption func(a *Arbiter)

func OptArbiterLogger(l logger.Logger) ArbiterOption {
	return func(a *Arbiter) {
		a.logger = l
	}
}

func OptArbiterBlocker(b Blocker) ArbiterOption {
	return func(a *Arbiter) {
		a.blocker = b
	}
}

// OptArbiterPageSize sets the allocation unit reported to callers. The
// arbiter itself does not enforce it.
func OptArbiterPageSize(n uint64) ArbiterOption {
	return func(a *Arbiter) {
		a.pageSize = n
	}
}

// NewArbiter returns an Arbiter over a pool of maxMemory bytes.
func NewArbiter(maxMemory uint64, opts ...ArbiterOption) *Arbiter {
	a := &Arbiter{
		maxMemory: maxMemory,
		ledger:    make(map[task.AttemptID]uint64),
		wake:      make(chan struct{}),
		logger:    logger.NopLogger,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.pageSize == 0 {
		a.pageSize = DefaultPageSize(maxMemory, 1)
	}
	GaugePoolBytes.Set(float64(maxMemory))
	return a
}

// MaxMemory returns the pool size in bytes.
func (a *Arbiter) MaxMemory() uint64 { return a.maxMemory }

// PageSize returns the size callers should use for individual allocations.
func (a *Arbiter) PageSize() uint64 { return a.pageSize }

// Acquire tries to grant numBytes more to the attempt and returns how many
// were granted, which may be fewer, including zero. A caller granted less
// than it asked for should spill and release.
//
// Acquire blocks while the attempt holds less than its guaranteed share and
// not enough memory is free. It never times out: it returns early only if
// the attempt's context is cancelled (granting nothing), or if ReleaseAll
// removed the attempt while it waited (ErrAttemptReleased).
func (a *Arbiter) Acquire(tc *task.Context, numBytes uint64) (uint64, error) {
	if numBytes == 0 {
		return 0, errors.Newf(errors.ErrInternalConsistency, "%s requested zero bytes", tc.ID())
	}
	var blocked bool
	a.mu.Lock()
	granted, err := a.acquireLocked(tc, numBytes, &blocked)
	a.mu.Unlock()
	if blocked {
		a.blocker.Unblock()
	}
	return granted, err
}

// acquireLocked requires a.mu, which it drops while waiting. It sets
// *blocked once it has told the blocker the caller is parked.
func (a *Arbiter) acquireLocked(tc *task.Context, numBytes uint64, blocked *bool) (uint64, error) {
	id := tc.ID()
	done := tc.Context().Done()

	if _, ok := a.ledger[id]; !ok {
		a.ledger[id] = 0
		a.notify()
		a.reportLocked()
	}

	for {
		cur, ok := a.ledger[id]
		if !ok {
			return 0, errors.Newf(errors.ErrAttemptReleased, "%s was released while waiting for memory", id)
		}
		n := uint64(len(a.ledger))
		free := a.maxMemory - a.used
		want := min(numBytes, a.capLeft(cur, n))
		guarantee := a.maxMemory / (2 * n)

		if cur >= guarantee || free >= min(want, guarantee-cur) {
			granted := min(want, free)
			a.grantLocked(id, granted)
			return granted, nil
		}

		a.logger.Infof("%s waiting for at least 1/2N of memory pool to be free (holds %d, %d active)", id, cur, n)
		CounterAcquireWaits.Inc()
		wake := a.wake
		a.waiting++
		GaugeWaitingAttempts.Set(float64(a.waiting))
		a.mu.Unlock()
		if !*blocked && a.blocker != nil {
			*blocked = true
			a.blocker.Block()
		}
		select {
		case <-wake:
		case <-done:
		}
		a.mu.Lock()
		a.waiting--
		GaugeWaitingAttempts.Set(float64(a.waiting))
		if err := tc.Context().Err(); err != nil {
			return 0, errors.Wrapf(err, "%s waiting for memory", id)
		}
	}
}

// capLeft is how much more an attempt holding cur may be granted with n
// attempts active.
func (a *Arbiter) capLeft(cur, n uint64) uint64 {
	fairCap := a.maxMemory / n
	if cur >= fairCap {
		return 0
	}
	return fairCap - cur
}

func (a *Arbiter) grantLocked(id task.AttemptID, n uint64) {
	a.ledger[id] += n
	a.used += n
	CounterGrantedBytes.Add(float64(n))
	a.reportLocked()
}

// Release returns numBytes held by the attempt to the pool and wakes all
// waiters. Releasing more than the attempt holds is an accounting defect in
// the caller: the ledger is left unchanged and ErrInternalConsistency is
// returned.
func (a *Arbiter) Release(tc *task.Context, numBytes uint64) error {
	id := tc.ID()
	a.mu.Lock()
	defer a.mu.Unlock()

	cur, ok := a.ledger[id]
	if numBytes > cur {
		return errors.Newf(errors.ErrInternalConsistency,
			"%s released %d bytes but holds only %d", id, numBytes, cur)
	}
	if !ok {
		return nil
	}
	a.ledger[id] = cur - numBytes
	a.used -= numBytes
	CounterReleasedBytes.Add(float64(numBytes))
	a.notify()
	a.reportLocked()
	return nil
}

// ReleaseAll removes the attempt from the active set, returning everything
// it held, and wakes all waiters. It returns the number of bytes released,
// and is a no-op for an attempt that holds no entry. It is meant to be run
// once when an attempt finishes, however it finishes; see CompletionFunc.
func (a *Arbiter) ReleaseAll(tc *task.Context) uint64 {
	id := tc.ID()
	a.mu.Lock()
	defer a.mu.Unlock()

	held, ok := a.ledger[id]
	if !ok {
		return 0
	}
	delete(a.ledger, id)
	a.used -= held
	CounterReleasedBytes.Add(float64(held))
	a.notify()
	a.reportLocked()
	return held
}

// CompletionFunc returns a task.CompletionFunc that calls ReleaseAll, and
// warns if the attempt finished successfully while still holding memory.
func (a *Arbiter) CompletionFunc() task.CompletionFunc {
	return func(tc *task.Context, err error) {
		if leaked := a.ReleaseAll(tc); leaked > 0 && err == nil {
			a.logger.Warnf("memory leak detected: %s finished holding %d bytes", tc.ID(), leaked)
		}
	}
}

// Usage returns the bytes held by the attempt, zero if it is not active.
func (a *Arbiter) Usage(tc *task.Context) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ledger[tc.ID()]
}

// notify wakes every waiter. Requires a.mu.
func (a *Arbiter) notify() {
	close(a.wake)
	a.wake = make(chan struct{})
}

// reportLocked publishes gauges. Requires a.mu.
func (a *Arbiter) reportLocked() {
	GaugeUsedBytes.Set(float64(a.used))
	GaugeActiveAttempts.Set(float64(len(a.ledger)))
}

// AttemptUsage is one ledger entry.
type AttemptUsage struct {
	Attempt task.AttemptID `json:"attempt"`
	Bytes   uint64         `json:"bytes"`
}

// Snapshot is a consistent view of the arbiter's state.
type Snapshot struct {
	MaxMemory uint64         `json:"maxMemory"`
	PageSize  uint64         `json:"pageSize"`
	Used      uint64         `json:"used"`
	Waiting   int            `json:"waiting"`
	Attempts  []AttemptUsage `json:"attempts"`
}

// Snapshot returns the current ledger, ordered by attempt.
func (a *Arbiter) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := maps.Keys(a.ledger)
	slices.Sort(ids)
	s := Snapshot{
		MaxMemory: a.maxMemory,
		PageSize:  a.pageSize,
		Used:      a.used,
		Waiting:   a.waiting,
		Attempts:  make([]AttemptUsage, 0, len(ids)),
	}
	for _, id := range ids {
		s.Attempts = append(s.Attempts, AttemptUsage{Attempt: id, Bytes: a.ledger[id]})
	}
	return s
}

func min(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
