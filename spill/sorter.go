// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package spill provides a key-sorting collection that lives within the
// memory a task attempt is granted and spills sorted runs to local disk
// when it is denied more.
package spill

import (
	"bytes"
	"container/heap"
	"io"
	"os"

	"golang.org/x/exp/slices"

	"github.com/featurebasedb/spillway/block"
	"github.com/featurebasedb/spillway/disk"
	"github.com/featurebasedb/spillway/errors"
	"github.com/featurebasedb/spillway/logger"
	"github.com/featurebasedb/spillway/memory"
	"github.com/featurebasedb/spillway/task"
)

// recordOverhead approximates the in-memory cost of a buffered record
// beyond its key and value bytes.
const recordOverhead = 48

// Record is a key/value pair.
type Record struct {
	Key   []byte
	Value []byte
}

func (r Record) size() uint64 {
	return uint64(len(r.Key) + len(r.Value) + recordOverhead)
}

type run struct {
	id    block.ID
	path  string
	count uint64
}

// Sorter accumulates records and yields them ordered by key. Records with
// equal keys come back in insertion order. A Sorter belongs to one task
// attempt and is not safe for concurrent use.
type Sorter struct {
	tc      *task.Context
	arbiter *memory.Arbiter
	locator *disk.Locator

	kind     block.Kind
	compress bool

	buf      []Record
	bufBytes uint64 // estimated size of buf
	held     uint64 // granted by the arbiter
	runs     []run
	closed   bool

	logger logger.Logger
}

type SorterOption func(s *Sorter)

func OptSorterLogger(l logger.Logger) SorterOption {
	return func(s *Sorter) {
		s.logger = l
	}
}

// OptSorterCompression sets whether runs are snappy compressed. The
// default is true.
func OptSorterCompression(compress bool) SorterOption {
	return func(s *Sorter) {
		s.compress = compress
	}
}

// OptSorterKind sets the kind of temporary block runs are written to. The
// default is block.KindTempLocal.
func OptSorterKind(kind block.Kind) SorterOption {
	return func(s *Sorter) {
		s.kind = kind
	}
}

// NewSorter returns a Sorter that draws memory for tc from a and spills to
// files placed by l.
func NewSorter(tc *task.Context, a *memory.Arbiter, l *disk.Locator, opts ...SorterOption) *Sorter {
	s := &Sorter{
		tc:       tc,
		arbiter:  a,
		locator:  l,
		kind:     block.KindTempLocal,
		compress: true,
		logger:   logger.NopLogger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Insert adds a record. The sorter keeps its own copies of key and value.
// If the arbiter will not grant the memory the record needs, the buffered
// records are spilled first.
func (s *Sorter) Insert(key, value []byte) error {
	if s.closed {
		return errors.New(errors.ErrClosed, "sorter is closed")
	}
	r := Record{Key: append([]byte(nil), key...), Value: append([]byte(nil), value...)}
	need := s.bufBytes + r.size()
	if need > s.held {
		if err := s.grow(need - s.held); err != nil {
			return err
		}
	}
	if need > s.held && len(s.buf) > 0 {
		if err := s.Spill(); err != nil {
			return err
		}
		// Try again for the record alone. If even that is refused the
		// record is buffered anyway and goes out with the next spill.
		if err := s.grow(r.size()); err != nil {
			return err
		}
	}
	s.buf = append(s.buf, r)
	s.bufBytes += r.size()
	return nil
}

// grow asks the arbiter for at least n more bytes, rounded up to a page.
func (s *Sorter) grow(n uint64) error {
	page := s.arbiter.PageSize()
	if rem := n % page; rem != 0 {
		n += page - rem
	}
	granted, err := s.arbiter.Acquire(s.tc, n)
	if err != nil {
		return errors.Wrap(err, "acquiring sorter memory")
	}
	s.held += granted
	return nil
}

// Spill writes the buffered records to a new run file and returns their
// memory to the arbiter.
func (s *Sorter) Spill() error {
	if len(s.buf) == 0 {
		return nil
	}
	s.sortBuffer()

	id, path, err := s.locator.CreateTemp(s.kind)
	if err != nil {
		return errors.Wrap(err, "creating run file")
	}
	w, err := createRun(path, s.compress)
	if err != nil {
		return err
	}
	for _, r := range s.buf {
		if err := w.write(r.Key, r.Value); err != nil {
			w.abort()
			return err
		}
	}
	if err := w.close(); err != nil {
		return err
	}
	s.runs = append(s.runs, run{id: id, path: path, count: uint64(len(s.buf))})
	CounterSpills.Inc()
	CounterSpilledBytes.Add(float64(w.n))
	s.logger.Debugf("%s spilled %d records (%d bytes) to %s", s.tc.ID(), len(s.buf), w.n, id.Name())

	s.buf, s.bufBytes = nil, 0
	return s.releaseHeld()
}

func (s *Sorter) releaseHeld() error {
	if s.held == 0 {
		return nil
	}
	if err := s.arbiter.Release(s.tc, s.held); err != nil {
		return err
	}
	s.held = 0
	return nil
}

func (s *Sorter) sortBuffer() {
	slices.SortStableFunc(s.buf, func(a, b Record) bool {
		return bytes.Compare(a.Key, b.Key) < 0
	})
}

// Runs returns the number of runs spilled so far.
func (s *Sorter) Runs() int { return len(s.runs) }

// Len returns the number of records inserted.
func (s *Sorter) Len() uint64 {
	n := uint64(len(s.buf))
	for _, r := range s.runs {
		n += r.count
	}
	return n
}

// MemoryUsed returns the bytes the sorter holds from the arbiter.
func (s *Sorter) MemoryUsed() uint64 { return s.held }

// Iterate calls fn for every record in key order, merging the spilled runs
// with the buffered records. Iteration stops at the first error fn
// returns. The sorter may be iterated more than once.
func (s *Sorter) Iterate(fn func(key, value []byte) error) error {
	if s.closed {
		return errors.New(errors.ErrClosed, "sorter is closed")
	}
	s.sortBuffer()

	h := &mergeHeap{}
	defer h.close()
	for i, r := range s.runs {
		rr, err := openRun(r.path)
		if err != nil {
			return errors.Wrapf(err, "opening run %s", r.id.Name())
		}
		c := &cursor{src: i, run: rr}
		h.all = append(h.all, c)
		if err := h.advance(c); err != nil {
			return err
		}
	}
	mem := &cursor{src: len(s.runs), mem: s.buf}
	if err := h.advance(mem); err != nil {
		return err
	}

	for h.Len() > 0 {
		c := h.items[0]
		if err := fn(c.key, c.value); err != nil {
			return err
		}
		if err := c.next(); err == io.EOF {
			heap.Pop(h)
		} else if err != nil {
			return err
		} else {
			heap.Fix(h, 0)
		}
	}
	return nil
}

// Close deletes the run files and releases the sorter's memory.
func (s *Sorter) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var firstErr error
	for _, r := range s.runs {
		if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = errors.Wrapf(err, "removing run %s", r.id.Name())
		}
	}
	s.runs, s.buf, s.bufBytes = nil, nil, 0
	if err := s.releaseHeld(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// cursor walks one sorted source: a run file or the in-memory buffer.
type cursor struct {
	src int // ties on key go to the earlier source
	run *runReader
	mem []Record

	key, value []byte
}

func (c *cursor) next() (err error) {
	if c.run != nil {
		c.key, c.value, err = c.run.next()
		return err
	}
	if len(c.mem) == 0 {
		return io.EOF
	}
	c.key, c.value = c.mem[0].Key, c.mem[0].Value
	c.mem = c.mem[1:]
	return nil
}

// mergeHeap orders cursors by their current key.
type mergeHeap struct {
	items []*cursor
	all   []*cursor
}

// advance loads c's first record and adds it to the heap unless it is
// empty.
func (h *mergeHeap) advance(c *cursor) error {
	if err := c.next(); err == io.EOF {
		return nil
	} else if err != nil {
		return err
	}
	heap.Push(h, c)
	return nil
}

func (h *mergeHeap) close() {
	for _, c := range h.all {
		c.run.close()
	}
}

func (h mergeHeap) Len() int { return len(h.items) }

func (h mergeHeap) Less(i, j int) bool {
	if cmp := bytes.Compare(h.items[i].key, h.items[j].key); cmp != 0 {
		return cmp < 0
	}
	return h.items[i].src < h.items[j].src
}

func (h mergeHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *mergeHeap) Push(x interface{}) { h.items = append(h.items, x.(*cursor)) }

func (h *mergeHeap) Pop() interface{} {
	old := h.items
	c := old[len(old)-1]
	h.items = old[:len(old)-1]
	return c
}
