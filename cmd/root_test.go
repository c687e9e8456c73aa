// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package cmd_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/featurebasedb/spillway/cmd"
	"github.com/featurebasedb/spillway/testhook"
	"github.com/featurebasedb/spillway/toml"
)

// execRoot runs the root command with args and returns what it wrote.
func execRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rc := cmd.NewRootCommand(os.Stdin, &out, &out)
	rc.SetArgs(args)
	err := rc.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	outStr, err := execRoot(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, outStr, "Usage:")
	assert.Contains(t, outStr, "Available Commands:")
	for _, sub := range []string{"server", "generate-config", "inspect", "status"} {
		assert.Contains(t, outStr, sub)
	}
}

func TestGenerateConfig(t *testing.T) {
	outStr, err := execRoot(t, "generate-config")
	require.NoError(t, err)
	assert.Contains(t, outStr, "[memory]")
	assert.Contains(t, outStr, "local-dirs")
}

func TestServerConfig(t *testing.T) {
	dir := testhook.MustTempDir(t, "cmd")
	confPath := filepath.Join(dir, "spillway.toml")
	require.NoError(t, os.WriteFile(confPath, []byte(`
local-dirs = ["/from/file"]
role = "driver"
task-concurrency = 3

[memory]
max-memory = "2GiB"
`), 0o600))

	t.Setenv("SPILLWAY_MEMORY_PAGE_SIZE", "1MiB")
	t.Setenv("SPILLWAY_TASK_CONCURRENCY", "5")

	_, err := execRoot(t, "server", "--dry-run", "--config", confPath, "--role", "worker")
	require.EqualError(t, err, "dry run")

	c := cmd.Server.Config
	assert.Equal(t, []string{"/from/file"}, c.LocalDirs)
	// flags beat the environment, which beats the file
	assert.Equal(t, "worker", c.Role)
	assert.Equal(t, 5, c.TaskConcurrency)
	assert.Equal(t, toml.ByteSize(2<<30), c.Memory.MaxMemory)
	assert.Equal(t, toml.ByteSize(1<<20), c.Memory.PageSize)
	assert.True(t, c.Spill.Compress)
}

func TestServerConfig_InvalidOption(t *testing.T) {
	dir := testhook.MustTempDir(t, "cmd")
	confPath := filepath.Join(dir, "spillway.toml")
	require.NoError(t, os.WriteFile(confPath, []byte("no-such-option = 1\n"), 0o600))

	_, err := execRoot(t, "server", "--dry-run", "--config", confPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid option in configuration file: no-such-option")
}

func TestServer_InvalidConfig(t *testing.T) {
	outStr, err := execRoot(t, "server", "--role", "boss", "--local-dirs", testhook.MustTempDir(t, "cmd"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "role must be")
	assert.Contains(t, outStr, "Usage:")
}

func TestInspect_RequiresPath(t *testing.T) {
	_, err := execRoot(t, "inspect")
	require.Error(t, err)
}
