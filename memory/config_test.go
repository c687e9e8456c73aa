// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package memory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/featurebasedb/spillway"
	"github.com/featurebasedb/spillway/errors"
	"github.com/featurebasedb/spillway/memory"
)

func TestPoolSize(t *testing.T) {
	assert.Equal(t, uint64(160), memory.PoolSize(1000, 0.2, 0.8))
	assert.Equal(t, uint64(1000), memory.PoolSize(1000, 1, 1))
}

func TestDefaultPageSize(t *testing.T) {
	tests := []struct {
		maxMemory uint64
		cores     int
		exp       uint64
	}{
		{maxMemory: 0, cores: 1, exp: memory.MinPageSize},
		{maxMemory: 1 << 30, cores: 8, exp: 8 << 20},
		{maxMemory: 1 << 30, cores: 0, exp: 64 << 20},
		{maxMemory: 3 << 30, cores: 4, exp: 64 << 20},
		{maxMemory: 100 << 20, cores: 2, exp: 4 << 20},
		{maxMemory: 1 << 40, cores: 1, exp: memory.MaxPageSize},
	}
	for _, test := range tests {
		assert.Equal(t, test.exp, memory.DefaultPageSize(test.maxMemory, test.cores), "%d/%d", test.maxMemory, test.cores)
	}
}

func TestConfig_Resolve(t *testing.T) {
	sys := spillway.StaticSystemInfo{MaxMemory: 10 << 30, Cores: 4}

	t.Run("Defaults", func(t *testing.T) {
		maxMemory, pageSize, err := memory.NewConfig().Resolve(sys)
		require.NoError(t, err)
		assert.Equal(t, memory.PoolSize(10<<30, 0.2, 0.8), maxMemory)
		assert.Equal(t, memory.DefaultPageSize(maxMemory, 4), pageSize)
	})

	t.Run("Overrides", func(t *testing.T) {
		cfg := memory.NewConfig()
		cfg.Fraction, cfg.SafetyFraction = 1, 1
		cfg.MaxMemory = 1 << 30
		cfg.PageSize = 1 << 20
		maxMemory, pageSize, err := cfg.Resolve(sys)
		require.NoError(t, err)
		assert.Equal(t, uint64(1<<30), maxMemory)
		assert.Equal(t, uint64(1<<20), pageSize)
	})

	t.Run("Invalid", func(t *testing.T) {
		for _, fractions := range [][2]float64{{0, 0.8}, {1.5, 0.8}, {0.2, -1}, {0.2, 2}} {
			cfg := memory.NewConfig()
			cfg.Fraction, cfg.SafetyFraction = fractions[0], fractions[1]
			_, _, err := cfg.Resolve(sys)
			assert.True(t, errors.Is(err, errors.ErrInvalidConfig), "%v", fractions)
		}
	})
}
