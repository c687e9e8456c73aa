// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package spill

import "github.com/prometheus/client_golang/prometheus"

var (
	CounterSpills = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "spillway",
		Subsystem: "spill",
		Name:      "runs_total",
		Help:      "Sorted runs written to disk.",
	})
	CounterSpilledBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "spillway",
		Subsystem: "spill",
		Name:      "bytes_total",
		Help:      "Uncompressed record bytes written to runs.",
	})
)

func init() {
	prometheus.MustRegister(CounterSpills, CounterSpilledBytes)
}
