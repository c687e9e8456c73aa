// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package block names the units of data a worker stores on local disk.
//
// Every ID has a Name that is unique within the process and doubles as the
// block's file name. Parse maps a file name back to its ID.
package block

import (
	"fmt"
	"regexp"
	"strconv"

	uuid "github.com/satori/go.uuid"

	"github.com/featurebasedb/spillway/errors"
)

// ID identifies a block.
type ID interface {
	Name() string
}

// RDD is one partition of a cached dataset.
type RDD struct {
	RDD   int
	Split int
}

func (b RDD) Name() string { return fmt.Sprintf("rdd_%d_%d", b.RDD, b.Split) }

// Shuffle is the output of one map task for one reduce partition.
type Shuffle struct {
	Shuffle int
	Map     int64
	Reduce  int
}

func (b Shuffle) Name() string { return fmt.Sprintf("shuffle_%d_%d_%d", b.Shuffle, b.Map, b.Reduce) }

// ShuffleData holds all of a map task's shuffle output in one file.
type ShuffleData struct {
	Shuffle int
	Map     int64
	Reduce  int
}

func (b ShuffleData) Name() string {
	return fmt.Sprintf("shuffle_%d_%d_%d.data", b.Shuffle, b.Map, b.Reduce)
}

// ShuffleIndex holds the offsets into a ShuffleData file.
type ShuffleIndex struct {
	Shuffle int
	Map     int64
	Reduce  int
}

func (b ShuffleIndex) Name() string {
	return fmt.Sprintf("shuffle_%d_%d_%d.index", b.Shuffle, b.Map, b.Reduce)
}

// Broadcast is a broadcast variable, or one field of it.
type Broadcast struct {
	Broadcast int64
	Field     string
}

func (b Broadcast) Name() string {
	if b.Field == "" {
		return fmt.Sprintf("broadcast_%d", b.Broadcast)
	}
	return fmt.Sprintf("broadcast_%d_%s", b.Broadcast, b.Field)
}

// TaskResult is a task result too large to return inline.
type TaskResult struct {
	Task int64
}

func (b TaskResult) Name() string { return fmt.Sprintf("taskresult_%d", b.Task) }

// Stream is one batch received by a streaming input.
type Stream struct {
	Stream int
	Unique int64
}

func (b Stream) Name() string { return fmt.Sprintf("input-%d-%d", b.Stream, b.Unique) }

// TempLocal holds intermediate data that is not shuffled, such as a
// sorter's spilled runs. It does not outlive the attempt that made it.
type TempLocal struct {
	UUID uuid.UUID
}

func (b TempLocal) Name() string { return "temp_local_" + b.UUID.String() }

// TempShuffle holds spilled shuffle data before it is merged into the
// attempt's shuffle output.
type TempShuffle struct {
	UUID uuid.UUID
}

func (b TempShuffle) Name() string { return "temp_shuffle_" + b.UUID.String() }

// Test is for use in tests.
type Test string

func (b Test) Name() string { return "test_" + string(b) }

// Kind selects the flavour of temporary block to mint.
type Kind int

const (
	KindTempLocal Kind = iota
	KindTempShuffle
)

func (k Kind) String() string {
	switch k {
	case KindTempLocal:
		return "temp_local"
	case KindTempShuffle:
		return "temp_shuffle"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// NewTemp returns a temporary block of the given kind with a random UUID.
func NewTemp(kind Kind) (ID, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, errors.Wrap(err, "generating block uuid")
	}
	switch kind {
	case KindTempLocal:
		return TempLocal{UUID: id}, nil
	case KindTempShuffle:
		return TempShuffle{UUID: id}, nil
	}
	return nil, errors.Newf(errors.ErrInvalidBlockName, "%s is not a temporary block kind", kind)
}

var (
	rddRe          = regexp.MustCompile(`^rdd_([0-9]+)_([0-9]+)$`)
	shuffleRe      = regexp.MustCompile(`^shuffle_([0-9]+)_([0-9]+)_([0-9]+)$`)
	shuffleDataRe  = regexp.MustCompile(`^shuffle_([0-9]+)_([0-9]+)_([0-9]+)\.data$`)
	shuffleIndexRe = regexp.MustCompile(`^shuffle_([0-9]+)_([0-9]+)_([0-9]+)\.index$`)
	broadcastRe    = regexp.MustCompile(`^broadcast_([0-9]+)(?:_(.+))?$`)
	taskResultRe   = regexp.MustCompile(`^taskresult_([0-9]+)$`)
	streamRe       = regexp.MustCompile(`^input-([0-9]+)-([0-9]+)$`)
	tempLocalRe    = regexp.MustCompile(`^temp_local_([-0-9a-f]{36})$`)
	tempShuffleRe  = regexp.MustCompile(`^temp_shuffle_([-0-9a-f]{36})$`)
	testRe         = regexp.MustCompile(`^test_(.+)$`)
)

// Parse returns the ID whose Name is name. It fails with
// ErrInvalidBlockName if name matches no known kind.
func Parse(name string) (ID, error) {
	id, err := parse(name)
	if err != nil {
		return nil, errors.Newf(errors.ErrInvalidBlockName, "parsing block name %q: %v", name, err)
	}
	if id == nil {
		return nil, errors.Newf(errors.ErrInvalidBlockName, "unrecognized block name %q", name)
	}
	return id, nil
}

func parse(name string) (ID, error) {
	var p numParser
	if m := rddRe.FindStringSubmatch(name); m != nil {
		id := RDD{RDD: p.int(m[1]), Split: p.int(m[2])}
		return id, p.err
	}
	if m := shuffleRe.FindStringSubmatch(name); m != nil {
		id := Shuffle{Shuffle: p.int(m[1]), Map: p.int64(m[2]), Reduce: p.int(m[3])}
		return id, p.err
	}
	if m := shuffleDataRe.FindStringSubmatch(name); m != nil {
		id := ShuffleData{Shuffle: p.int(m[1]), Map: p.int64(m[2]), Reduce: p.int(m[3])}
		return id, p.err
	}
	if m := shuffleIndexRe.FindStringSubmatch(name); m != nil {
		id := ShuffleIndex{Shuffle: p.int(m[1]), Map: p.int64(m[2]), Reduce: p.int(m[3])}
		return id, p.err
	}
	if m := broadcastRe.FindStringSubmatch(name); m != nil {
		id := Broadcast{Broadcast: p.int64(m[1]), Field: m[2]}
		return id, p.err
	}
	if m := taskResultRe.FindStringSubmatch(name); m != nil {
		id := TaskResult{Task: p.int64(m[1])}
		return id, p.err
	}
	if m := streamRe.FindStringSubmatch(name); m != nil {
		id := Stream{Stream: p.int(m[1]), Unique: p.int64(m[2])}
		return id, p.err
	}
	if m := tempLocalRe.FindStringSubmatch(name); m != nil {
		u, err := uuid.FromString(m[1])
		return TempLocal{UUID: u}, err
	}
	if m := tempShuffleRe.FindStringSubmatch(name); m != nil {
		u, err := uuid.FromString(m[1])
		return TempShuffle{UUID: u}, err
	}
	if m := testRe.FindStringSubmatch(name); m != nil {
		return Test(m[1]), nil
	}
	return nil, nil
}

// numParser keeps the first conversion error so a match can be decoded
// field by field.
type numParser struct {
	err error
}

func (p *numParser) int64(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil && p.err == nil {
		p.err = err
	}
	return v
}

func (p *numParser) int(s string) int {
	v, err := strconv.ParseInt(s, 10, 0)
	if err != nil && p.err == nil {
		p.err = err
	}
	return int(v)
}
