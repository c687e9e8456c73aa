// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package disk

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/featurebasedb/spillway/block"
	"github.com/featurebasedb/spillway/errors"
	"github.com/featurebasedb/spillway/shutdown"
	"github.com/featurebasedb/spillway/testhook"
)

func TestLocator_CreateTempCollision(t *testing.T) {
	cfg := NewConfig()
	cfg.LocalDirs = []string{testhook.MustTempDir(t, "locator")}
	l, err := New(cfg, OptLocatorShutdown(shutdown.NewRegistry()))
	require.NoError(t, err)
	defer l.Stop()

	taken := block.Test("taken")
	p, err := l.Resolve(taken)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(p, nil, 0o600))

	calls := 0
	l.newTemp = func(kind block.Kind) (block.ID, error) {
		calls++
		if calls <= 2 {
			return taken, nil
		}
		return block.Test("fresh"), nil
	}
	id, path, err := l.CreateTemp(block.KindTempLocal)
	require.NoError(t, err)
	assert.Equal(t, block.Test("fresh"), id)
	assert.Equal(t, 3, calls)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestLocator_Slot(t *testing.T) {
	l := &Locator{dirs: []string{"a", "b"}, subDirsPerDir: 4}
	for _, name := range []string{"shuffle_0_0_0", "rdd_1_2", "x"} {
		d, s := l.slot(name)
		assert.True(t, d >= 0 && d < 2)
		assert.True(t, s >= 0 && s < 4)
		d2, s2 := l.slot(name)
		assert.Equal(t, d, d2)
		assert.Equal(t, s, s2)
	}
}

func TestLocator_WideSubDirs(t *testing.T) {
	cfg := NewConfig()
	cfg.LocalDirs = []string{testhook.MustTempDir(t, "locator")}
	cfg.SubDirsPerLocalDir = 300
	l, err := New(cfg, OptLocatorShutdown(shutdown.NewRegistry()))
	require.NoError(t, err)
	defer l.Stop()

	assert.Equal(t, "00", subDirName(0))
	assert.Equal(t, "0f", subDirName(15))
	assert.Equal(t, "12b", subDirName(299))

	seen := map[string]bool{}
	for i := 0; i < 5000 && len(seen) < 300; i++ {
		id := block.Test(fmt.Sprint(i))
		_, sub := l.slot(id.Name())
		path, err := l.Resolve(id)
		require.NoError(t, err)
		name := filepath.Base(filepath.Dir(path))
		assert.Equal(t, subDirName(sub), name)
		seen[name] = true
	}
	// More than 256 distinct names needs three digits.
	assert.Greater(t, len(seen), 256)
}

func TestLocator_ResolveDuringStop(t *testing.T) {
	cfg := NewConfig()
	cfg.LocalDirs = []string{testhook.MustTempDir(t, "locator")}
	l, err := New(cfg, OptLocatorShutdown(shutdown.NewRegistry()))
	require.NoError(t, err)
	dir := l.Dirs()[0]

	var eg errgroup.Group
	start := make(chan struct{})
	for g := 0; g < 8; g++ {
		g := g
		eg.Go(func() error {
			<-start
			for i := 0; ; i++ {
				_, err := l.Resolve(block.Test(fmt.Sprintf("%d_%d", g, i)))
				if errors.Is(err, errors.ErrClosed) {
					return nil
				} else if err != nil {
					return err
				}
			}
		})
	}
	close(start)
	require.NoError(t, l.Stop())
	require.NoError(t, eg.Wait())

	// No Resolve may recreate a subdirectory once the local dir is gone.
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "%s still exists", dir)
}
