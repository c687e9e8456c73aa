// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/featurebasedb/spillway/ctl"
)

func newStatusCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	statuser := ctl.NewStatusCommand(stdin, stdout, stderr)
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show a running worker's memory pool and local directories.",
		Long: `status fetches /status from a worker's metric.bind address and prints
the memory held by each task attempt and the space left in each local
directory.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return statuser.Run(context.Background())
		},
	}
	flags := statusCmd.Flags()
	flags.StringVar(&statuser.Host, "host", statuser.Host, "Worker metric.bind address.")
	flags.DurationVar(&statuser.Timeout, "timeout", statuser.Timeout, "Request timeout.")

	return statusCmd
}
