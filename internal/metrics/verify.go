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

import "github.com/prometheus/client_golang/prometheus"

func init() { register(verificationsTotal, analyzeRequestsTotal) }

var (
	verificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Attestation verifications, by verdict and quote status.",
		},
		[]string{"verified", "quote"},
	)

	analyzeRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enclave_analyze_total",
			Help:      "Analyze requests served by the enclave, by outcome kind.",
		},
		[]string{"kind"},
	)
)

func IncVerification(verified bool, quoteStatus string) {
	v := "false"
	if verified {
		v = "true"
	}
	verificationsTotal.WithLabelValues(v, norm(quoteStatus)).Inc()
}

func IncAnalyze(kind string) {
	if kind == "" {
		kind = "ok"
	}
	analyzeRequestsTotal.WithLabelValues(norm(kind)).Inc()
}
