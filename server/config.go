// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"github.com/featurebasedb/spillway/disk"
	"github.com/featurebasedb/spillway/errors"
	"github.com/featurebasedb/spillway/memory"
)

// Config represents the configuration for the command.
type Config struct {
	// LocalDirs are the roots blocks are spread across.
	LocalDirs []string `toml:"local-dirs"`
	// SubDirsPerLocalDir is how many subdirectories each local directory
	// is divided into.
	SubDirsPerLocalDir int `toml:"sub-dirs-per-local-dir"`
	// Role is "worker" or "driver".
	Role string `toml:"role"`
	// ExternalShuffleService means a separate process serves this worker's
	// shuffle files, so they are left behind on shutdown.
	ExternalShuffleService bool `toml:"external-shuffle-service"`

	// TaskConcurrency is how many task attempts run at once. Zero means one
	// per core.
	TaskConcurrency int `toml:"task-concurrency"`

	// LogPath configures where logs are written.
	LogPath string `toml:"log-path"`

	// Verbose toggles verbose logging which can be useful for debugging.
	Verbose bool `toml:"verbose"`

	Memory memory.Config `toml:"memory"`

	Spill struct {
		// Compress snappy-compresses spilled runs.
		Compress bool `toml:"compress"`
	} `toml:"spill"`

	Metric struct {
		// Bind is the host:port serving /metrics and /status. Empty
		// disables it.
		Bind string `toml:"bind"`
		// AllowedOrigins are the CORS origins allowed to read it.
		AllowedOrigins []string `toml:"allowed-origins"`
	} `toml:"metric"`
}

// NewConfig returns an instance of Config with default options.
func NewConfig() *Config {
	d := disk.NewConfig()
	c := &Config{
		LocalDirs:          d.LocalDirs,
		SubDirsPerLocalDir: d.SubDirsPerLocalDir,
		Role:               d.Role,
		Memory:             memory.NewConfig(),
	}
	c.Spill.Compress = true
	c.Metric.AllowedOrigins = []string{}
	return c
}

// Validate checks the configuration for values no component could run
// with.
func (c *Config) Validate() error {
	if err := c.Disk().Validate(); err != nil {
		return err
	}
	if err := c.Memory.Validate(); err != nil {
		return err
	}
	if c.TaskConcurrency < 0 {
		return errors.Newf(errors.ErrInvalidConfig, "task-concurrency must not be negative, got %d", c.TaskConcurrency)
	}
	return nil
}

// Disk returns the locator's part of the configuration.
func (c *Config) Disk() disk.Config {
	return disk.Config{
		LocalDirs:              c.LocalDirs,
		SubDirsPerLocalDir:     c.SubDirsPerLocalDir,
		Role:                   c.Role,
		ExternalShuffleService: c.ExternalShuffleService,
	}
}
