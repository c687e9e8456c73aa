// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package disk

import "github.com/prometheus/client_golang/prometheus"

const (
	metricNamespace = "spillway"
	metricSubsystem = "disk"
)

var (
	GaugeLocalDirs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricNamespace,
		Subsystem: metricSubsystem,
		Name:      "local_dirs",
		Help:      "Number of usable local directories.",
	})
	CounterSubDirsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricNamespace,
		Subsystem: metricSubsystem,
		Name:      "sub_dirs_created_total",
		Help:      "Subdirectories created on first use.",
	})
	CounterTempBlocks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricNamespace,
		Subsystem: metricSubsystem,
		Name:      "temp_blocks_total",
		Help:      "Temporary blocks minted, by kind.",
	}, []string{"kind"})
	CounterTempCollisions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricNamespace,
		Subsystem: metricSubsystem,
		Name:      "temp_block_collisions_total",
		Help:      "Temporary block names that were already taken and regenerated.",
	})
)

func init() {
	prometheus.MustRegister(
		GaugeLocalDirs,
		CounterSubDirsCreated,
		CounterTempBlocks,
		CounterTempCollisions,
	)
}
