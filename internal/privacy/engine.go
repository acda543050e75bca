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

// Package privacy adds calibrated noise to aggregate metrics and accounts for
// the privacy budget spent by each release.
package privacy

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/riskenclave/riskenclave/internal/analytics"
)

// DefaultDelta is the delta used by the Gaussian mechanism and by the
// advanced composition bound.
const DefaultDelta = 1e-5

var (
	ErrInvalidEpsilon = errors.New("epsilon must be positive and finite")
	ErrInvalidDelta   = errors.New("delta must be in (0, 1)")
	ErrNoCustomers    = errors.New("metric set has no customers")
)

// Engine noises metric sets. It is safe for concurrent use.
type Engine struct {
	delta  float64
	ledger *Ledger

	mu  sync.Mutex // guards src
	src NoiseSource
}

// NewEngine creates an engine. A nil src uses NewSource, a nil ledger
// disables cumulative accounting.
func NewEngine(delta float64, src NoiseSource, ledger *Ledger) (*Engine, error) {
	if !(delta > 0 && delta < 1) {
		return nil, ErrInvalidDelta
	}
	if src == nil {
		src = NewSource()
	}
	return &Engine{delta: delta, ledger: ledger, src: src}, nil
}

// Ledger returns the engine's ledger, which may be nil.
func (e *Engine) Ledger() *Ledger { return e.ledger }

// release accumulates the noised values of one Apply call.
type release struct {
	e       *Engine
	epsilon float64
	counts  map[Mechanism]int
}

func (r *release) laplace(v, sensitivity float64) float64 {
	r.counts[Laplace]++
	return v + LaplaceNoise(r.e.src, LaplaceScale(sensitivity, r.epsilon))
}

func (r *release) gaussian(v, sensitivity float64) float64 {
	r.counts[Gaussian]++
	return v + GaussianNoise(r.e.src, GaussianSigma(sensitivity, r.epsilon, r.e.delta))
}

// gaussianMap noises every value of m in key order, so that a fixed source
// reproduces the same output.
func (r *release) gaussianMap(m map[string]float64, sensitivity float64) map[string]float64 {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]float64, len(m))
	for _, k := range keys {
		out[k] = clamp(r.gaussian(m[k], sensitivity), 0, 1)
	}
	return out
}

// Apply returns a noised copy of raw and the budget spent on it. Every
// released value costs epsilon; total_customers is released exactly.
func (e *Engine) Apply(raw analytics.MetricSet, epsilon float64) (analytics.MetricSet, analytics.PrivacyBudget, error) {
	if err := Validate(epsilon); err != nil {
		return analytics.MetricSet{}, analytics.PrivacyBudget{}, err
	}
	if raw.TotalCustomers <= 0 {
		return analytics.MetricSet{}, analytics.PrivacyBudget{}, ErrNoCustomers
	}
	n := float64(raw.TotalCustomers)
	var (
		unit    = 1 / n
		percent = 100 / n
		credit  = 550 / n
	)

	e.mu.Lock()
	r := &release{e: e, epsilon: epsilon, counts: make(map[Mechanism]int)}
	out := analytics.MetricSet{TotalCustomers: raw.TotalCustomers}
	out.MeanRisk = clamp(r.laplace(raw.MeanRisk, unit), 0, 1)
	out.MedianRisk = clamp(r.laplace(raw.MedianRisk, unit), 0, 1)
	out.StdRisk = math.Max(0, r.laplace(raw.StdRisk, unit))

	low := r.laplace(raw.LowRiskPercentage, percent)
	medium := r.laplace(raw.MediumRiskPercentage, percent)
	high := r.laplace(raw.HighRiskPercentage, percent)
	out.LowRiskPercentage, out.MediumRiskPercentage, out.HighRiskPercentage = RenormalizeBuckets(low, medium, high)

	out.EstimatedDefaultRate = clamp(r.laplace(raw.EstimatedDefaultRate, percent), 0, 100)

	if raw.AvgCreditScore != nil {
		avg := clamp(r.laplace(*raw.AvgCreditScore, credit), 300, 850)
		out.AvgCreditScore = &avg
	}
	if d := raw.CreditScoreDistribution; d != nil {
		out.CreditScoreDistribution = &analytics.CreditScoreDistribution{
			Excellent: clamp(r.laplace(d.Excellent, percent), 0, 100),
			Good:      clamp(r.laplace(d.Good, percent), 0, 100),
			Fair:      clamp(r.laplace(d.Fair, percent), 0, 100),
			Poor:      clamp(r.laplace(d.Poor, percent), 0, 100),
		}
	}
	out.RiskByAgeGroup = r.gaussianMap(raw.RiskByAgeGroup, unit)
	out.RiskByIncomeBracket = r.gaussianMap(raw.RiskByIncomeBracket, unit)
	out.RiskByEmploymentStatus = r.gaussianMap(raw.RiskByEmploymentStatus, unit)
	e.mu.Unlock()

	return out, e.account(epsilon, r.counts), nil
}

func (e *Engine) account(epsilon float64, counts map[Mechanism]int) analytics.PrivacyBudget {
	mechanisms := make(map[string]int, len(counts))
	queries := 0
	for m, c := range counts {
		mechanisms[string(m)] = c
		queries += c
	}
	total := epsilon * float64(queries)
	budget := analytics.PrivacyBudget{
		EpsilonPerQuery:      epsilon,
		TotalEpsilonConsumed: total,
		NumQueries:           queries,
		Mechanisms:           mechanisms,
		Delta:                e.delta,
		TotalEpsilonAdvanced: AdvancedComposition(queries, epsilon, e.delta),
	}
	if e.ledger != nil {
		snap := e.ledger.Charge(total, queries)
		budget.CumulativeEpsilon = snap.CumulativeEpsilon
		budget.Ceiling = snap.Ceiling
		budget.CeilingExceeded = snap.CeilingExceeded
	} else {
		budget.CumulativeEpsilon = total
	}
	return budget
}

// RenormalizeBuckets maps noised low/medium/high percentages back onto the
// simplex. Low is clamped to [0,100], medium to [0,100-low] and high takes the
// remainder, so (low+medium)+high == 100 exactly. The noised high value
// only pays for its share of the budget.
func RenormalizeBuckets(low, medium, high float64) (float64, float64, float64) {
	low = clamp(low, 0, 100)
	medium = clamp(medium, 0, 100-low)
	high = math.Max(0, 100-(low+medium))
	return low, medium, high
}

// Validate checks an epsilon value supplied by a caller.
func Validate(epsilon float64) error {
	if !(epsilon > 0) || math.IsInf(epsilon, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidEpsilon, epsilon)
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
