// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package testhook holds test helpers for self-cleaning scratch directories.
package testhook

import (
	"os"
	"testing"
)

// TempDir creates a temp directory that is removed when the test completes.
func TempDir(tb testing.TB, pattern string) (string, error) {
	return TempDirInDir(tb, "", pattern)
}

// TempDirInDir is TempDir rooted at dir instead of the default TMPDIR.
func TempDirInDir(tb testing.TB, dir string, pattern string) (string, error) {
	path, err := os.MkdirTemp(dir, pattern)
	if err == nil {
		tb.Cleanup(func() { os.RemoveAll(path) })
	}
	return path, err
}

// MustTempDir is TempDir that fails the test on error.
func MustTempDir(tb testing.TB, pattern string) string {
	tb.Helper()
	path, err := TempDir(tb, pattern)
	if err != nil {
		tb.Fatalf("creating temp dir: %v", err)
	}
	return path
}
