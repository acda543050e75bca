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

func init() { register(epsilonConsumed, epsilonCeilingExceeded) }

var (
	epsilonConsumed = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "privacy_epsilon_consumed",
		Help:      "Cumulative epsilon spent by completed releases.",
	})

	epsilonCeilingExceeded = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "privacy_ceiling_exceeded",
		Help:      "1 when the cumulative epsilon is above the advisory ceiling.",
	})
)

func SetEpsilonConsumed(total float64, exceeded bool) {
	epsilonConsumed.Set(total)
	if exceeded {
		epsilonCeilingExceeded.Set(1)
	} else {
		epsilonCeilingExceeded.Set(0)
	}
}
