// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/featurebasedb/spillway/ctl"
	"github.com/featurebasedb/spillway/errors"
	"github.com/featurebasedb/spillway/server"
)

// Server is global so that tests can control and verify it.
var Server *server.Command

// newServeCmd creates a spillway worker and runs it until it is shut down.
func newServeCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	Server = server.NewCommand(stdin, stdout, stderr)
	serveCmd := &cobra.Command{
		Use:   "server",
		Short: "Run a spillway worker.",
		Long: `server sizes the memory pool from the process limits, creates a
spillway-<uuid> directory under each configured local directory, and
runs task attempts until it receives an interrupt.

A second interrupt skips the graceful shutdown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := Server.Start(); err != nil {
				return considerUsageError(cmd, errors.Wrap(err, "running server"))
			}
			return errors.Wrap(Server.Wait(), "waiting on server")
		},
	}

	// Attach flags to the command.
	ctl.BuildServerFlags(serveCmd, Server)
	return serveCmd
}
