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

// Package risk scores customer records and aggregates the scores into the
// unnoised metric set that the privacy engine later protects.
package risk

import (
	"errors"
	"math"
	"sort"

	"github.com/riskenclave/riskenclave/internal/analytics"
)

// ErrEmptyBatch is returned when there are no records to aggregate.
var ErrEmptyBatch = errors.New("empty record batch")

// Risk bucket thresholds. Scores above HighRiskThreshold are high risk,
// scores below LowRiskThreshold are low risk, the rest are medium.
const (
	HighRiskThreshold = 0.7
	LowRiskThreshold  = 0.3
)

// Age group, income bracket and credit band labels.
const (
	AgeGroup18to30 = "18-30"
	AgeGroup31to45 = "31-45"
	AgeGroup46to60 = "46-60"
	AgeGroup61Plus = "61+"

	IncomeLow    = "Low (<$50k)"
	IncomeMedium = "Medium ($50k-$100k)"
	IncomeHigh   = "High (>$100k)"
)

// AgeGroups lists the age group labels in ascending order.
var AgeGroups = []string{AgeGroup18to30, AgeGroup31to45, AgeGroup46to60, AgeGroup61Plus}

// IncomeBrackets lists the income bracket labels in ascending order.
var IncomeBrackets = []string{IncomeLow, IncomeMedium, IncomeHigh}

// Aggregate scores every record with s and computes the metric set.
// A nil scorer means FICO.
func Aggregate(records []analytics.Record, s Scorer) (analytics.MetricSet, error) {
	if len(records) == 0 {
		return analytics.MetricSet{}, ErrEmptyBatch
	}
	if s == nil {
		s = FICO
	}
	n := len(records)
	scores := make([]float64, n)
	for i, r := range records {
		scores[i] = s.Score(r)
	}

	var (
		m                 analytics.MetricSet
		high, medium, low int

		creditSum                    float64
		creditScores                 int
		excellent, good, fair, poor int
	)
	byAge := newGroups(AgeGroups)
	byIncome := newGroups(IncomeBrackets)
	byEmployment := newGroups(EmploymentCategories)
	for i, r := range records {
		score := scores[i]
		switch {
		case score > HighRiskThreshold:
			high++
		case score < LowRiskThreshold:
			low++
		default:
			medium++
		}
		byAge[ageGroup(valueOr(r.Age, DefaultAge))].add(score)
		byIncome[incomeBracket(valueOr(r.Income, DefaultIncome))].add(score)

		byEmployment[EmploymentCategory(r)].add(score)

		// A zero credit score counts as unreported.
		if r.CreditScore != nil && *r.CreditScore != 0 {
			cs := *r.CreditScore
			creditSum += cs
			creditScores++
			switch {
			case cs >= 750:
				excellent++
			case cs >= 700:
				good++
			case cs >= 650:
				fair++
			default:
				poor++
			}
		}
	}

	m.TotalCustomers = n
	m.MeanRisk = mean(scores)
	m.MedianRisk = median(scores)
	m.StdRisk = stddev(scores, m.MeanRisk)
	m.HighRiskPercentage = percent(high, n)
	m.MediumRiskPercentage = percent(medium, n)
	m.LowRiskPercentage = percent(low, n)
	m.EstimatedDefaultRate = m.MeanRisk * 100

	if creditScores > 0 {
		avg := creditSum / float64(creditScores)
		m.AvgCreditScore = &avg
		m.CreditScoreDistribution = &analytics.CreditScoreDistribution{
			Excellent: percent(excellent, creditScores),
			Good:      percent(good, creditScores),
			Fair:      percent(fair, creditScores),
			Poor:      percent(poor, creditScores),
		}
	}
	m.RiskByAgeGroup = means(byAge)
	m.RiskByIncomeBracket = means(byIncome)
	m.RiskByEmploymentStatus = means(byEmployment)
	return m, nil
}

func ageGroup(age float64) string {
	switch {
	case age <= 30:
		return AgeGroup18to30
	case age <= 45:
		return AgeGroup31to45
	case age <= 60:
		return AgeGroup46to60
	default:
		return AgeGroup61Plus
	}
}

func incomeBracket(income float64) string {
	switch {
	case income < 50000:
		return IncomeLow
	case income <= 100000:
		return IncomeMedium
	default:
		return IncomeHigh
	}
}

type group struct {
	sum   float64
	count int
}

func (g *group) add(v float64) {
	g.sum += v
	g.count++
}

func newGroups(labels []string) map[string]*group {
	groups := make(map[string]*group, len(labels))
	for _, l := range labels {
		groups[l] = new(group)
	}
	return groups
}

// means reports the mean per group; empty groups report 0.
func means(groups map[string]*group) map[string]float64 {
	out := make(map[string]float64, len(groups))
	for label, g := range groups {
		if g.count > 0 {
			out[label] = g.sum / float64(g.count)
		} else {
			out[label] = 0
		}
	}
	return out
}

func percent(count, total int) float64 {
	return float64(count) / float64(total) * 100
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func median(xs []float64) float64 {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// stddev is the population standard deviation.
func stddev(xs []float64, mu float64) float64 {
	var acc float64
	for _, x := range xs {
		d := x - mu
		acc += d * d
	}
	return math.Sqrt(acc / float64(len(xs)))
}
