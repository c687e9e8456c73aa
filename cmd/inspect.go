// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/featurebasedb/spillway/ctl"
)

func newInspectCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	inspecter := ctl.NewInspectCommand(stdin, stdout, stderr)
	inspectCmd := &cobra.Command{
		Use:   "inspect <path>...",
		Short: "List the blocks stored in local directories.",
		Long: `inspect lists the block files under each path, which is either a
spillway-<uuid> local directory or a root containing them. It works on
the directories of a stopped worker as well as a running one.
`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inspecter.Paths = args
			return inspecter.Run(context.Background())
		},
	}
	inspectCmd.Flags().BoolVar(&inspecter.Verify, "verify", false, "Verify the checksum of every spilled run.")

	return inspectCmd
}
