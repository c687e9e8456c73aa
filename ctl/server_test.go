// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package ctl_test

import (
	"os"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/featurebasedb/spillway/ctl"
	"github.com/featurebasedb/spillway/server"
	"github.com/featurebasedb/spillway/toml"
)

func TestBuildServerFlags(t *testing.T) {
	srv := server.NewCommand(os.Stdin, os.Stdout, os.Stderr)
	cc := &cobra.Command{Use: "server"}
	ctl.BuildServerFlags(cc, srv)

	require.NoError(t, cc.Flags().Parse([]string{
		"--local-dirs", "/a,/b",
		"--role", "driver",
		"--memory.max-memory", "1GiB",
		"--memory.page-size", "64KiB",
		"--spill.compress=false",
		"--metric.bind", "localhost:0",
	}))
	assert.Equal(t, []string{"/a", "/b"}, srv.Config.LocalDirs)
	assert.Equal(t, "driver", srv.Config.Role)
	assert.Equal(t, toml.ByteSize(1<<30), srv.Config.Memory.MaxMemory)
	assert.Equal(t, toml.ByteSize(64<<10), srv.Config.Memory.PageSize)
	assert.False(t, srv.Config.Spill.Compress)
	assert.Equal(t, "localhost:0", srv.Config.Metric.Bind)
	assert.Equal(t, server.NewConfig().SubDirsPerLocalDir, srv.Config.SubDirsPerLocalDir)
}
