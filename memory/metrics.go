// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package memory

import "github.com/prometheus/client_golang/prometheus"

const (
	MetricPoolBytes      = "pool_bytes"
	MetricUsedBytes      = "used_bytes"
	MetricActiveAttempts = "active_attempts"
	MetricWaiting        = "waiting_attempts"
	MetricAcquireWaits   = "acquire_waits_total"
	MetricGrantedBytes   = "granted_bytes_total"
	MetricReleasedBytes  = "released_bytes_total"
)

var GaugePoolBytes = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "spillway",
		Subsystem: "memory",
		Name:      MetricPoolBytes,
		Help:      "Size of the arbitrated memory pool.",
	},
)

var GaugeUsedBytes = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "spillway",
		Subsystem: "memory",
		Name:      MetricUsedBytes,
		Help:      "Bytes currently granted to task attempts.",
	},
)

var GaugeActiveAttempts = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "spillway",
		Subsystem: "memory",
		Name:      MetricActiveAttempts,
		Help:      "Task attempts holding a ledger entry.",
	},
)

var GaugeWaitingAttempts = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "spillway",
		Subsystem: "memory",
		Name:      MetricWaiting,
		Help:      "Acquire calls parked below their guaranteed share.",
	},
)

var CounterAcquireWaits = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "spillway",
		Subsystem: "memory",
		Name:      MetricAcquireWaits,
		Help:      "Times an acquire call had to wait for memory.",
	},
)

var CounterGrantedBytes = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "spillway",
		Subsystem: "memory",
		Name:      MetricGrantedBytes,
		Help:      "Bytes granted by acquire calls.",
	},
)

var CounterReleasedBytes = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "spillway",
		Subsystem: "memory",
		Name:      MetricReleasedBytes,
		Help:      "Bytes returned to the pool.",
	},
)

func init() {
	prometheus.MustRegister(GaugePoolBytes)
	prometheus.MustRegister(GaugeUsedBytes)
	prometheus.MustRegister(GaugeActiveAttempts)
	prometheus.MustRegister(GaugeWaitingAttempts)
	prometheus.MustRegister(CounterAcquireWaits)
	prometheus.MustRegister(CounterGrantedBytes)
	prometheus.MustRegister(CounterReleasedBytes)
}
