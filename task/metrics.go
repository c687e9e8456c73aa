// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package task

import "github.com/prometheus/client_golang/prometheus"

const (
	MetricPoolWorkers      = "pool_workers"
	MetricAttemptsRunning  = "attempts_running"
	MetricAttemptsFinished = "attempts_finished_total"
	MetricWorkersBlocked   = "workers_blocked"
)

var GaugePoolWorkers = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "spillway",
		Subsystem: "task",
		Name:      MetricPoolWorkers,
		Help:      "Live worker goroutines in the task pool, blocked or not.",
	},
)

var GaugeAttemptsRunning = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "spillway",
		Subsystem: "task",
		Name:      MetricAttemptsRunning,
		Help:      "Task attempts currently executing.",
	},
)

var GaugeWorkersBlocked = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "spillway",
		Subsystem: "task",
		Name:      MetricWorkersBlocked,
		Help:      "Workers parked waiting on a resource such as memory.",
	},
)

var CounterAttemptsFinished = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "spillway",
		Subsystem: "task",
		Name:      MetricAttemptsFinished,
		Help:      "Task attempts finished, by result.",
	},
	[]string{
		"result",
	},
)

func init() {
	prometheus.MustRegister(GaugePoolWorkers)
	prometheus.MustRegister(GaugeAttemptsRunning)
	prometheus.MustRegister(GaugeWorkersBlocked)
	prometheus.MustRegister(CounterAttemptsFinished)
}

// gaugeStats publishes the pool's worker counts.
type gaugeStats struct{}

func (gaugeStats) Workers(live, blocked int) {
	GaugePoolWorkers.Set(float64(live))
	GaugeWorkersBlocked.Set(float64(blocked))
}
