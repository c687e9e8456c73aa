// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package task

import "sync"

// Pool runs worker goroutines that call step in a loop, aiming to keep
// target of them runnable. A worker about to park calls Block, which starts
// a replacement when too few runnable workers remain; Unblock marks it
// runnable again, and whichever worker next finishes a step while the pool
// is over target retires.
type Pool struct {
	step  func()
	stats PoolStats

	mu       sync.Mutex
	exited   *sync.Cond // broadcast when live reaches zero
	target   int
	live     int
	runnable int // live workers not inside Block
}

// PoolStats is told the worker counts whenever they change. It is called
// with the pool's lock held.
type PoolStats interface {
	Workers(live, blocked int)
}

// NewPool starts target workers calling step. stats may be nil.
func NewPool(target int, step func(), stats PoolStats) *Pool {
	p := &Pool{target: target, step: step, stats: stats}
	p.exited = sync.NewCond(&p.mu)
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < target; i++ {
		p.spawnLocked()
	}
	return p
}

// Block marks the calling worker as parked for an indeterminate time.
func (p *Pool) Block() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runnable--
	if p.runnable < p.target {
		p.spawnLocked()
	}
	p.reportLocked()
}

// Unblock marks a parked worker as runnable again.
func (p *Pool) Unblock() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runnable++
	p.reportLocked()
}

// Shutdown lowers the target to zero so workers exit after their current
// step. It does not wait.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.target = 0
}

// Stats returns the live, runnable and target worker counts.
func (p *Pool) Stats() (live, runnable, target int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live, p.runnable, p.target
}

// Close is Shutdown followed by waiting for every worker to exit.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.target = 0
	for p.live > 0 {
		p.exited.Wait()
	}
}

// spawnLocked requires p.mu.
func (p *Pool) spawnLocked() {
	p.live++
	p.runnable++
	p.reportLocked()
	go p.work()
}

// retire removes the caller from the pool if it is over target.
func (p *Pool) retire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.runnable <= p.target {
		return false
	}
	p.runnable--
	p.live--
	p.reportLocked()
	if p.live == 0 {
		p.exited.Broadcast()
	}
	return true
}

func (p *Pool) reportLocked() {
	if p.stats != nil {
		p.stats.Workers(p.live, p.live-p.runnable)
	}
}

func (p *Pool) work() {
	for !p.retire() {
		p.step()
	}
}
