// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package ctl

import (
	"github.com/spf13/cobra"

	"github.com/featurebasedb/spillway/server"
)

// BuildServerFlags attaches a set of flags to the command for a server instance.
func BuildServerFlags(cmd *cobra.Command, srv *server.Command) {
	flags := cmd.Flags()
	flags.StringSliceVar(&srv.Config.LocalDirs, "local-dirs", srv.Config.LocalDirs, "Comma separated list of directories blocks are spread across.")
	flags.IntVar(&srv.Config.SubDirsPerLocalDir, "sub-dirs-per-local-dir", srv.Config.SubDirsPerLocalDir, "Number of subdirectories in each local directory.")
	flags.StringVar(&srv.Config.Role, "role", srv.Config.Role, "Process role, worker or driver. A driver always deletes its local directories on shutdown.")
	flags.BoolVar(&srv.Config.ExternalShuffleService, "external-shuffle-service", srv.Config.ExternalShuffleService, "Leave local directories behind on shutdown for an external shuffle service.")
	flags.IntVar(&srv.Config.TaskConcurrency, "task-concurrency", srv.Config.TaskConcurrency, "Number of task attempts run at once. Zero means one per core.")
	flags.StringVar(&srv.Config.LogPath, "log-path", srv.Config.LogPath, "Log path")
	flags.BoolVar(&srv.Config.Verbose, "verbose", srv.Config.Verbose, "Enable verbose logging")

	// Memory
	flags.Float64Var(&srv.Config.Memory.Fraction, "memory.fraction", srv.Config.Memory.Fraction, "Fraction of the maximum process memory given to the pool.")
	flags.Float64Var(&srv.Config.Memory.SafetyFraction, "memory.safety-fraction", srv.Config.Memory.SafetyFraction, "Further fraction of the pool kept back for size estimation error.")
	flags.Var(&srv.Config.Memory.MaxMemory, "memory.max-memory", "Maximum process memory, overriding the detected value.")
	flags.Var(&srv.Config.Memory.PageSize, "memory.page-size", "Allocation unit of the pool. Zero derives it from the pool size and core count.")

	// Spill
	flags.BoolVar(&srv.Config.Spill.Compress, "spill.compress", srv.Config.Spill.Compress, "Snappy-compress spilled runs.")

	// Metric
	flags.StringVar(&srv.Config.Metric.Bind, "metric.bind", srv.Config.Metric.Bind, "Address serving /metrics and /status. Empty disables it.")
	flags.StringSliceVar(&srv.Config.Metric.AllowedOrigins, "metric.allowed-origins", []string{}, "Comma separated list of allowed origin URIs (for CORS).")
}
