// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package http_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/featurebasedb/spillway/block"
	"github.com/featurebasedb/spillway/disk"
	"github.com/featurebasedb/spillway/errors"
	fbhttp "github.com/featurebasedb/spillway/http"
	"github.com/featurebasedb/spillway/memory"
	"github.com/featurebasedb/spillway/shutdown"
	"github.com/featurebasedb/spillway/task"
	"github.com/featurebasedb/spillway/testhook"
)

type fixture struct {
	arbiter *memory.Arbiter
	locator *disk.Locator
	handler *fbhttp.Handler
}

func newFixture(t *testing.T, opts ...fbhttp.HandlerOption) *fixture {
	t.Helper()
	cfg := disk.NewConfig()
	cfg.LocalDirs = []string{testhook.MustTempDir(t, "http")}
	cfg.SubDirsPerLocalDir = 4
	l, err := disk.New(cfg, disk.OptLocatorShutdown(shutdown.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Stop() })

	a := memory.NewArbiter(1000, memory.OptArbiterPageSize(100))
	opts = append([]fbhttp.HandlerOption{fbhttp.OptHandlerArbiter(a), fbhttp.OptHandlerLocator(l)}, opts...)
	h, err := fbhttp.NewHandler(opts...)
	require.NoError(t, err)
	return &fixture{arbiter: a, locator: l, handler: h}
}

func TestHandler_Status(t *testing.T) {
	e := task.NewExecutor(2)
	defer e.Close()
	f := newFixture(t, fbhttp.OptHandlerExecutor(e))
	_, err := f.arbiter.Acquire(task.NewContext(context.Background(), 7), 300)
	require.NoError(t, err)

	srv := httptest.NewServer(f.handler)
	defer srv.Close()
	c, err := fbhttp.NewClient(srv.URL, srv.Client())
	require.NoError(t, err)

	s, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), s.Memory.MaxMemory)
	assert.Equal(t, uint64(100), s.Memory.PageSize)
	assert.Equal(t, []memory.AttemptUsage{{Attempt: 7, Bytes: 300}}, s.Memory.Attempts)
	assert.Equal(t, 2, s.Workers.Target)
	require.Len(t, s.LocalDirs, 1)
	assert.Equal(t, f.locator.Dirs()[0], s.LocalDirs[0].Path)
}

func TestHandler_Blocks(t *testing.T) {
	f := newFixture(t)
	for _, id := range []block.ID{block.Test("b"), block.RDD{RDD: 1, Split: 0}} {
		p, err := f.locator.Resolve(id)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(p, nil, 0o600))
	}

	srv := httptest.NewServer(f.handler)
	defer srv.Close()
	c, err := fbhttp.NewClient(strings.TrimPrefix(srv.URL, "http://"), nil)
	require.NoError(t, err)

	names, err := c.Blocks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"rdd_1_0", "test_b"}, names)
}

func TestHandler_BlocksError(t *testing.T) {
	f := newFixture(t)
	_, err := f.locator.Resolve(block.Test("x"))
	require.NoError(t, err)
	// Make the created subdirectory unreadable by replacing it with a file
	// of the same name after removing it.
	sub := f.locator.Status()[0].Path
	entries, err := os.ReadDir(sub)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	subPath := sub + "/" + entries[0].Name()
	require.NoError(t, os.RemoveAll(subPath))
	require.NoError(t, os.WriteFile(subPath, nil, 0o600))

	srv := httptest.NewServer(f.handler)
	defer srv.Close()
	c, err := fbhttp.NewClient(srv.URL, nil)
	require.NoError(t, err)
	_, err = c.Blocks(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestHandler_Metrics(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "spillway_memory_pool_bytes")
}

func TestHandler_ServeClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f := newFixture(t, fbhttp.OptHandlerListener(ln))

	served := make(chan error, 1)
	go func() { served <- f.handler.Serve() }()

	c, err := fbhttp.NewClient(ln.Addr().String(), nil)
	require.NoError(t, err)
	_, err = c.Status(context.Background())
	require.NoError(t, err)

	require.NoError(t, f.handler.Close())
	require.NoError(t, <-served)
}

func TestNewHandler_Requirements(t *testing.T) {
	_, err := fbhttp.NewHandler()
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig))

	_, err = fbhttp.NewClient("", nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
}
