// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package gopsutil implements spillway.SystemInfo on top of
// github.com/shirou/gopsutil.
package gopsutil

import (
	"math"
	"runtime/debug"
	"sync"

	"github.com/featurebasedb/spillway"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

var _ spillway.SystemInfo = NewSystemInfo()

// SystemInfo is an implementation of spillway.SystemInfo that uses gopsutil
// to collect information about the host.
type SystemInfo struct {
	mu      sync.Mutex
	memInfo *mem.VirtualMemoryStat
	cores   int

	// memoryLimit reports the Go soft memory limit; replaced in tests.
	memoryLimit func() int64
}

// NewSystemInfo is a constructor for the gopsutil implementation of SystemInfo.
func NewSystemInfo() *SystemInfo {
	return &SystemInfo{
		memoryLimit: func() int64 { return debug.SetMemoryLimit(-1) },
	}
}

// collectMemoryInfo fetches and caches memory stats.
func (s *SystemInfo) collectMemoryInfo() (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.memInfo == nil {
		s.memInfo, err = mem.VirtualMemory()
	}
	return err
}

// MemTotal returns the amount of physical memory in bytes.
func (s *SystemInfo) MemTotal() (uint64, error) {
	if err := s.collectMemoryInfo(); err != nil {
		return 0, err
	}
	return s.memInfo.Total, nil
}

// MemFree returns the amount of free memory in bytes, as of the first call.
func (s *SystemInfo) MemFree() (uint64, error) {
	if err := s.collectMemoryInfo(); err != nil {
		return 0, err
	}
	return s.memInfo.Free, nil
}

// MaxProcessMemory is the most memory this process expects to use: the Go
// soft memory limit when one is configured (GOMEMLIMIT or
// debug.SetMemoryLimit), otherwise total physical memory.
func (s *SystemInfo) MaxProcessMemory() (uint64, error) {
	if limit := s.memoryLimit(); limit > 0 && limit < math.MaxInt64 {
		return uint64(limit), nil
	}
	return s.MemTotal()
}

// CPUCount returns the number of logical cores.
func (s *SystemInfo) CPUCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cores == 0 {
		n, err := cpu.Counts(true)
		if err != nil {
			return 0, err
		}
		s.cores = n
	}
	return s.cores, nil
}
