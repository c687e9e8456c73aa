// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

//go:build !windows
// +build !windows

package shutdown_test

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/featurebasedb/spillway/shutdown"
)

func TestRegistry_Watch(t *testing.T) {
	exited := make(chan int, 1)
	r := shutdown.NewRegistry(shutdown.OptRegistryExit(func(code int) { exited <- code }))
	ran := make(chan struct{})
	r.Add("cleanup", func() error {
		close(ran)
		return nil
	})

	first, stop := r.Watch(syscall.SIGUSR1)
	defer stop()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))
	select {
	case sig := <-first:
		assert.Equal(t, syscall.SIGUSR1, sig)
	case <-time.After(5 * time.Second):
		t.Fatal("first signal not delivered")
	}
	assert.Equal(t, 1, r.Len())

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))
	select {
	case code := <-exited:
		assert.Equal(t, 1, code)
	case <-time.After(5 * time.Second):
		t.Fatal("second signal did not exit")
	}
	<-ran
	assert.Zero(t, r.Len())
}

func TestRegistry_WatchStop(t *testing.T) {
	r := shutdown.NewRegistry()
	_, stop := r.Watch(syscall.SIGUSR2)
	stop()
	stop()
}
