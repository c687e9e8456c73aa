// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"math/bits"

	"github.com/featurebasedb/spillway"
	"github.com/featurebasedb/spillway/errors"
	"github.com/featurebasedb/spillway/toml"
)

const (
	DefaultFraction       = 0.2
	DefaultSafetyFraction = 0.8

	MinPageSize = 1 << 20
	MaxPageSize = 64 << 20

	// pageSafetyFactor leaves room for several pages per core so that one
	// attempt's page does not eat its whole share.
	pageSafetyFactor = 16
)

// Config sizes the memory pool.
type Config struct {
	// Fraction of the maximum process memory given to the pool.
	Fraction float64 `toml:"fraction"`
	// SafetyFraction further shrinks the pool to absorb size estimation
	// error in the collections that use it.
	SafetyFraction float64 `toml:"safety-fraction"`
	// MaxMemory overrides the detected maximum process memory.
	MaxMemory toml.ByteSize `toml:"max-memory"`
	// PageSize overrides the derived allocation unit.
	PageSize toml.ByteSize `toml:"page-size"`
}

// NewConfig returns the default Config.
func NewConfig() Config {
	return Config{
		Fraction:       DefaultFraction,
		SafetyFraction: DefaultSafetyFraction,
	}
}

// Validate checks that the fractions are in (0, 1].
func (c Config) Validate() error {
	if c.Fraction <= 0 || c.Fraction > 1 {
		return errors.Newf(errors.ErrInvalidConfig, "memory fraction must be in (0, 1], got %v", c.Fraction)
	}
	if c.SafetyFraction <= 0 || c.SafetyFraction > 1 {
		return errors.Newf(errors.ErrInvalidConfig, "memory safety fraction must be in (0, 1], got %v", c.SafetyFraction)
	}
	return nil
}

// Resolve works out the pool size and page size for this host.
func (c Config) Resolve(sys spillway.SystemInfo) (maxMemory, pageSize uint64, err error) {
	if err := c.Validate(); err != nil {
		return 0, 0, err
	}
	processMax := uint64(c.MaxMemory)
	if processMax == 0 {
		if processMax, err = sys.MaxProcessMemory(); err != nil {
			return 0, 0, errors.Wrap(err, "getting maximum process memory")
		}
	}
	maxMemory = PoolSize(processMax, c.Fraction, c.SafetyFraction)

	pageSize = uint64(c.PageSize)
	if pageSize == 0 {
		cores, err := sys.CPUCount()
		if err != nil {
			return 0, 0, errors.Wrap(err, "counting cores")
		}
		pageSize = DefaultPageSize(maxMemory, cores)
	}
	return maxMemory, pageSize, nil
}

// PoolSize is the share of processMax the arbiter may hand out.
func PoolSize(processMax uint64, fraction, safetyFraction float64) uint64 {
	return uint64(float64(processMax) * fraction * safetyFraction)
}

// DefaultPageSize derives an allocation unit from the pool size: the pool
// divided among cores and a safety factor, rounded up to a power of two and
// clamped to [MinPageSize, MaxPageSize].
func DefaultPageSize(maxMemory uint64, cores int) uint64 {
	if cores < 1 {
		cores = 1
	}
	size := nextPowerOf2(maxMemory / uint64(cores) / pageSafetyFactor)
	if size < MinPageSize {
		return MinPageSize
	}
	if size > MaxPageSize {
		return MaxPageSize
	}
	return size
}

func nextPowerOf2(n uint64) uint64 {
	if n <= 1 {
		return 1
	}
	if n > 1<<63 {
		return 1 << 63
	}
	return 1 << bits.Len64(n-1)
}
