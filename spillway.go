// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package spillway is the resource-arbitration layer of a data-processing
// worker: a memory arbiter that fair-shares a bounded pool among running task
// attempts (package memory), and the local-disk block placement those
// attempts spill into when they are denied memory (package disk).
package spillway

// SystemInfo reports the host facts used to size the memory pool.
type SystemInfo interface {
	// MaxProcessMemory is the most memory the process expects to use.
	MaxProcessMemory() (uint64, error)
	// CPUCount is the number of logical cores available.
	CPUCount() (int, error)
}

// StaticSystemInfo is a SystemInfo with fixed answers.
type StaticSystemInfo struct {
	MaxMemory uint64
	Cores     int
}

func (s StaticSystemInfo) MaxProcessMemory() (uint64, error) { return s.MaxMemory, nil }
func (s StaticSystemInfo) CPUCount() (int, error)            { return s.Cores, nil }
