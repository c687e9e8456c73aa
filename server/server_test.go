// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package server_test

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/featurebasedb/spillway"
	"github.com/featurebasedb/spillway/errors"
	fbhttp "github.com/featurebasedb/spillway/http"
	"github.com/featurebasedb/spillway/server"
	"github.com/featurebasedb/spillway/shutdown"
	"github.com/featurebasedb/spillway/task"
	"github.com/featurebasedb/spillway/testhook"
)

func newCommand(t *testing.T, mod func(c *server.Config)) (*server.Command, *shutdown.Registry, *bytes.Buffer) {
	t.Helper()
	cfg := server.NewConfig()
	cfg.LocalDirs = []string{testhook.MustTempDir(t, "server")}
	cfg.SubDirsPerLocalDir = 8
	cfg.Memory.Fraction, cfg.Memory.SafetyFraction = 1, 1
	if mod != nil {
		mod(cfg)
	}
	reg := shutdown.NewRegistry()
	stderr := &bytes.Buffer{}
	m := server.NewCommand(nil, &bytes.Buffer{}, stderr,
		server.OptCommandConfig(cfg),
		server.OptCommandSystemInfo(spillway.StaticSystemInfo{MaxMemory: 64 << 10, Cores: 2}),
		server.OptCommandShutdown(reg),
	)
	t.Cleanup(func() { _ = m.Close() })
	return m, reg, stderr
}

func TestCommand_StartClose(t *testing.T) {
	m, reg, stderr := newCommand(t, func(c *server.Config) {
		c.Metric.Bind = "127.0.0.1:0"
		c.Memory.PageSize = 1 << 10
	})
	require.NoError(t, m.Start())
	assert.Contains(t, stderr.String(), "memory pool 65536 bytes, page size 1024 bytes, 2 concurrent tasks")
	assert.Equal(t, 1, reg.Len())

	c, err := fbhttp.NewClient(m.Addr().String(), nil)
	require.NoError(t, err)
	s, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(64<<10), s.Memory.MaxMemory)
	assert.Equal(t, 2, s.Workers.Target)
	require.Len(t, s.LocalDirs, 1)
	localDir := s.LocalDirs[0].Path

	// An attempt that sorts more than the pool holds spills and cleans up.
	att, err := m.Executor.Submit(func(tc *task.Context) error {
		sorter := m.NewSorter(tc)
		defer sorter.Close()
		for i := 0; i < 5000; i++ {
			if err := sorter.Insert([]byte(fmt.Sprintf("k%05d", 4999-i)), []byte("v")); err != nil {
				return err
			}
		}
		if sorter.Runs() == 0 {
			return errors.Errorf("expected runs to be spilled")
		}
		i := 0
		return sorter.Iterate(func(key, _ []byte) error {
			if want := fmt.Sprintf("k%05d", i); string(key) != want {
				return errors.Errorf("got %s, want %s", key, want)
			}
			i++
			return nil
		})
	})
	require.NoError(t, err)
	require.NoError(t, att.Wait())
	assert.Zero(t, m.Arbiter.Snapshot().Used)

	require.NoError(t, m.Close())
	_, err = os.Stat(localDir)
	assert.True(t, os.IsNotExist(err))
	assert.Zero(t, reg.Len())
	require.NoError(t, m.Close())
}

func TestCommand_WaitClosedExternally(t *testing.T) {
	m, _, _ := newCommand(t, nil)
	require.NoError(t, m.Start())
	assert.Nil(t, m.Addr())

	waited := make(chan error, 1)
	go func() { waited <- m.Wait() }()
	require.NoError(t, m.Close())
	select {
	case err := <-waited:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return")
	}
	<-m.Done()
}

func TestCommand_LogPath(t *testing.T) {
	logPath := filepath.Join(testhook.MustTempDir(t, "server-log"), "spillway.log")
	m, _, stderr := newCommand(t, func(c *server.Config) {
		c.LogPath = logPath
		c.Verbose = true
	})
	require.NoError(t, m.Start())
	require.NoError(t, m.Close())

	b, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(b), "memory pool")
	assert.Contains(t, string(b), "DEBUG")
	assert.Empty(t, stderr.String())
}

func TestCommand_StartErrors(t *testing.T) {
	t.Run("NoLocalDirs", func(t *testing.T) {
		file := filepath.Join(testhook.MustTempDir(t, "server"), "file")
		require.NoError(t, os.WriteFile(file, nil, 0o600))
		m, _, _ := newCommand(t, func(c *server.Config) { c.LocalDirs = []string{file} })
		err := m.Start()
		assert.True(t, errors.Is(err, errors.ErrNoLocalDirs), "%v", err)
	})
	t.Run("BindInUse", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer ln.Close()
		root := testhook.MustTempDir(t, "server")
		m, reg, _ := newCommand(t, func(c *server.Config) {
			c.LocalDirs = []string{root}
			c.Metric.Bind = ln.Addr().String()
		})
		require.Error(t, m.Start())

		// The executor and locator built before the listener are released.
		assert.Zero(t, reg.Len())
		entries, err := os.ReadDir(root)
		require.NoError(t, err)
		assert.Empty(t, entries)
		_, err = m.Executor.Submit(func(*task.Context) error { return nil })
		assert.True(t, errors.Is(err, errors.ErrClosed), "%v", err)
	})
	t.Run("InvalidConfig", func(t *testing.T) {
		m, _, _ := newCommand(t, func(c *server.Config) { c.Role = "coordinator" })
		err := m.Start()
		assert.True(t, errors.Is(err, errors.ErrInvalidConfig), "%v", err)
	})
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, server.NewConfig().Validate())
	for name, mod := range map[string]func(c *server.Config){
		"NoDirs":      func(c *server.Config) { c.LocalDirs = nil },
		"Fraction":    func(c *server.Config) { c.Memory.Fraction = 0 },
		"Concurrency": func(c *server.Config) { c.TaskConcurrency = -1 },
		"SubDirs":     func(c *server.Config) { c.SubDirsPerLocalDir = 0 },
	} {
		cfg := server.NewConfig()
		mod(cfg)
		assert.True(t, errors.Is(cfg.Validate(), errors.ErrInvalidConfig), name)
	}
}
