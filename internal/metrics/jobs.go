// Copyright 2026 The riskenclave Authors
// This file is part of the riskenclave library.
//
// The riskenclave library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The riskenclave library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the riskenclave library. If not, see <http://www.gnu.org/licenses/>.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(jobsSubmittedTotal, jobsFinishedTotal, jobsInFlight, jobDurationSeconds, computeAttemptsTotal, computeRetriesTotal)
}

var (
	jobsSubmittedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_submitted_total",
		Help:      "Total number of analytics jobs accepted.",
	})

	jobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Jobs that reached a terminal state, by status and error kind.",
		},
		[]string{"status", "kind"}, // status: completed|failed
	)

	jobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "jobs_in_flight",
		Help:      "Jobs currently pending or processing.",
	})

	jobDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time from submission to terminal state.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"status"},
	)

	computeAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compute_attempts_total",
			Help:      "Analytics calls made to the enclave, by outcome kind.",
		},
		[]string{"kind"}, // ok|network_failure|...
	)

	computeRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "compute_retries_total",
		Help:      "Analytics calls retried after a transient failure.",
	})
)

func IncJobSubmitted() {
	jobsSubmittedTotal.Inc()
	jobsInFlight.Inc()
}

// ObserveJobFinished records a terminal transition. kind is empty for
// completed jobs.
func ObserveJobFinished(status, kind string, elapsed time.Duration) {
	if kind == "" {
		kind = "none"
	}
	jobsFinishedTotal.WithLabelValues(norm(status), norm(kind)).Inc()
	jobDurationSeconds.WithLabelValues(norm(status)).Observe(elapsed.Seconds())
	jobsInFlight.Dec()
}

func IncComputeAttempt(kind string) {
	if kind == "" {
		kind = "ok"
	}
	computeAttemptsTotal.WithLabelValues(norm(kind)).Inc()
}

func IncComputeRetry() { computeRetriesTotal.Inc() }
