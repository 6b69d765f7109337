/* SPDX-License-Identifier: BSD-2-Clause */

package seekablehttp

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	transfersStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "seekablehttp",
			Subsystem: "stream",
			Name:      "transfers_started_total",
			Help:      "Total number of downloads started by streams.",
		})
	transfersEndedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seekablehttp",
			Subsystem: "stream",
			Name:      "transfers_ended_total",
			Help:      "Total number of downloads that reached a terminal state, by outcome.",
		},
		[]string{"outcome"})
	bytesIngestedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "seekablehttp",
			Subsystem: "stream",
			Name:      "bytes_ingested_total",
			Help:      "Total number of bytes appended to backing stores.",
		})
	pumpWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "seekablehttp",
			Subsystem: "stream",
			Name:      "pump_wait_seconds",
			Help:      "Time callers spent blocked waiting for bytes to arrive, in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 9),
		})
)

func init() {
	prometheus.MustRegister(transfersStartedTotal)
	prometheus.MustRegister(transfersEndedTotal)
	prometheus.MustRegister(bytesIngestedTotal)
	prometheus.MustRegister(pumpWaitSeconds)
}
