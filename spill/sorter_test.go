// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package spill_test

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/featurebasedb/spillway/block"
	"github.com/featurebasedb/spillway/disk"
	"github.com/featurebasedb/spillway/errors"
	"github.com/featurebasedb/spillway/memory"
	"github.com/featurebasedb/spillway/shutdown"
	"github.com/featurebasedb/spillway/spill"
	"github.com/featurebasedb/spillway/task"
	"github.com/featurebasedb/spillway/testhook"
)

func mustOpenLocator(tb testing.TB) *disk.Locator {
	tb.Helper()
	cfg := disk.NewConfig()
	cfg.LocalDirs = []string{testhook.MustTempDir(tb, "spill")}
	cfg.SubDirsPerLocalDir = 4
	l, err := disk.New(cfg, disk.OptLocatorShutdown(shutdown.NewRegistry()))
	require.NoError(tb, err)
	tb.Cleanup(func() { _ = l.Stop() })
	return l
}

type kv struct{ key, value string }

// randomRecords returns n records over a small key space, so that keys
// repeat, with values numbering them in insertion order.
func randomRecords(seed int64, n int) []kv {
	rnd := rand.New(rand.NewSource(seed))
	recs := make([]kv, n)
	for i := range recs {
		recs[i] = kv{key: fmt.Sprintf("key-%04d", rnd.Intn(n/3+1)), value: fmt.Sprintf("v%06d", i)}
	}
	return recs
}

func expected(recs []kv) []kv {
	exp := append([]kv(nil), recs...)
	sort.SliceStable(exp, func(i, j int) bool { return exp[i].key < exp[j].key })
	return exp
}

func collect(t *testing.T, s *spill.Sorter) []kv {
	t.Helper()
	var got []kv
	require.NoError(t, s.Iterate(func(key, value []byte) error {
		got = append(got, kv{string(key), string(value)})
		return nil
	}))
	return got
}

func TestSorter_InMemory(t *testing.T) {
	a := memory.NewArbiter(1<<20, memory.OptArbiterPageSize(4096))
	tc := task.NewContext(context.Background(), 1)
	s := spill.NewSorter(tc, a, mustOpenLocator(t))

	recs := randomRecords(1, 300)
	for _, r := range recs {
		require.NoError(t, s.Insert([]byte(r.key), []byte(r.value)))
	}
	assert.Zero(t, s.Runs())
	assert.Equal(t, uint64(300), s.Len())
	assert.Equal(t, expected(recs), collect(t, s))
	assert.Equal(t, s.MemoryUsed(), a.Usage(tc))
	assert.Zero(t, s.MemoryUsed()%4096)

	require.NoError(t, s.Close())
	assert.Zero(t, a.Usage(tc))
	assert.True(t, errors.Is(s.Insert(nil, nil), errors.ErrClosed))
}

func TestSorter_Spills(t *testing.T) {
	for _, compress := range []bool{true, false} {
		t.Run(fmt.Sprintf("compress=%v", compress), func(t *testing.T) {
			const maxMemory = 4096
			a := memory.NewArbiter(maxMemory, memory.OptArbiterPageSize(512))
			l := mustOpenLocator(t)
			tc := task.NewContext(context.Background(), 1)
			s := spill.NewSorter(tc, a, l, spill.OptSorterCompression(compress), spill.OptSorterKind(block.KindTempShuffle))

			recs := randomRecords(2, 2000)
			for _, r := range recs {
				require.NoError(t, s.Insert([]byte(r.key), []byte(r.value)))
				require.LessOrEqual(t, a.Usage(tc), uint64(maxMemory))
			}
			assert.Greater(t, s.Runs(), 10)
			assert.Equal(t, uint64(2000), s.Len())

			blocks, err := l.Blocks()
			require.NoError(t, err)
			require.Len(t, blocks, s.Runs())
			for _, id := range blocks {
				assert.IsType(t, block.TempShuffle{}, id)
			}

			exp := expected(recs)
			assert.Equal(t, exp, collect(t, s))
			// A second pass sees the same thing.
			assert.Equal(t, exp, collect(t, s))

			require.NoError(t, s.Close())
			assert.Zero(t, a.Usage(tc))
			files, err := l.Files()
			require.NoError(t, err)
			assert.Empty(t, files)
		})
	}
}

func TestSorter_IterateError(t *testing.T) {
	a := memory.NewArbiter(1024, memory.OptArbiterPageSize(256))
	s := spill.NewSorter(task.NewContext(context.Background(), 1), a, mustOpenLocator(t))
	defer s.Close()
	for _, r := range randomRecords(3, 100) {
		require.NoError(t, s.Insert([]byte(r.key), []byte(r.value)))
	}
	stop := errors.New(errors.ErrUncoded, "stop")
	n := 0
	err := s.Iterate(func(key, value []byte) error {
		n++
		if n == 10 {
			return stop
		}
		return nil
	})
	assert.Equal(t, stop, err)
	assert.Equal(t, 10, n)
}

func TestSorter_CorruptRun(t *testing.T) {
	a := memory.NewArbiter(1024, memory.OptArbiterPageSize(256))
	l := mustOpenLocator(t)
	s := spill.NewSorter(task.NewContext(context.Background(), 1), a, l)
	defer s.Close()
	for _, r := range randomRecords(4, 50) {
		require.NoError(t, s.Insert([]byte(r.key), []byte(r.value)))
	}
	require.NoError(t, s.Spill())

	files, err := l.Files()
	require.NoError(t, err)
	require.NotEmpty(t, files)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	data[len(data)/2] ^= 0xff
	require.NoError(t, os.WriteFile(files[0], data, 0o600))

	err = s.Iterate(func(key, value []byte) error { return nil })
	assert.True(t, errors.Is(err, errors.ErrSpillCorrupt), "%v", err)
}

// Attempts sharing a small pool all finish, each sorted correctly, and
// leave nothing behind.
func TestSorter_SharedPool(t *testing.T) {
	const maxMemory = 16 << 10
	e := task.NewExecutor(4)
	defer e.Close()
	a := memory.NewArbiter(maxMemory, memory.OptArbiterPageSize(1024), memory.OptArbiterBlocker(e))
	e.OnCompletion(a.CompletionFunc())
	l := mustOpenLocator(t)

	var attempts []*task.Attempt
	for i := 0; i < 6; i++ {
		recs := randomRecords(int64(10+i), 1500)
		att, err := e.Submit(func(tc *task.Context) error {
			s := spill.NewSorter(tc, a, l)
			defer s.Close()
			for _, r := range recs {
				if err := s.Insert([]byte(r.key), []byte(r.value)); err != nil {
					return err
				}
			}
			var prev []byte
			count := 0
			err := s.Iterate(func(key, value []byte) error {
				if bytes.Compare(prev, key) > 0 {
					return fmt.Errorf("%q after %q", key, prev)
				}
				prev = key
				count++
				return nil
			})
			if err != nil {
				return err
			}
			if count != len(recs) {
				return fmt.Errorf("got %d records, want %d", count, len(recs))
			}
			return nil
		})
		require.NoError(t, err)
		attempts = append(attempts, att)
	}
	for _, att := range attempts {
		require.NoError(t, att.Wait())
	}
	snap := a.Snapshot()
	assert.Zero(t, snap.Used)
	assert.Empty(t, snap.Attempts)
	files, err := l.Files()
	require.NoError(t, err)
	assert.Empty(t, files)
}
