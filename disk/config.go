// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package disk

import (
	"os"

	"github.com/featurebasedb/spillway/errors"
)

// Roles a process can play. A driver always cleans up its local
// directories on stop; a worker does so unless an external shuffle
// service keeps serving its files after it exits.
const (
	RoleWorker = "worker"
	RoleDriver = "driver"
)

// DefaultSubDirsPerLocalDir is the default second-level fan-out.
const DefaultSubDirsPerLocalDir = 64

// Config describes where blocks are stored.
type Config struct {
	LocalDirs              []string `toml:"local-dirs"`
	SubDirsPerLocalDir     int      `toml:"sub-dirs-per-local-dir"`
	Role                   string   `toml:"role"`
	ExternalShuffleService bool     `toml:"external-shuffle-service"`
}

// NewConfig returns the default Config.
func NewConfig() Config {
	return Config{
		LocalDirs:          []string{os.TempDir()},
		SubDirsPerLocalDir: DefaultSubDirsPerLocalDir,
		Role:               RoleWorker,
	}
}

func (c Config) Validate() error {
	if len(c.LocalDirs) == 0 {
		return errors.New(errors.ErrInvalidConfig, "at least one local directory is required")
	}
	if c.SubDirsPerLocalDir < 1 {
		return errors.Newf(errors.ErrInvalidConfig, "sub-dirs-per-local-dir must be positive, got %d", c.SubDirsPerLocalDir)
	}
	switch c.Role {
	case RoleWorker, RoleDriver:
	default:
		return errors.Newf(errors.ErrInvalidConfig, "role must be %q or %q, got %q", RoleWorker, RoleDriver, c.Role)
	}
	return nil
}

// deleteOnStop reports whether Stop should remove the local directories.
func (c Config) deleteOnStop() bool {
	return c.Role == RoleDriver || !c.ExternalShuffleService
}
