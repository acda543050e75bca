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

package risk

import (
	"errors"
	"math"
	"testing"

	"github.com/riskenclave/riskenclave/internal/analytics"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }
func str(s string) *string    { return &s }

func flag(b bool) *analytics.Flag {
	f := analytics.Flag(b)
	return &f
}

func TestScoreBounds(t *testing.T) {
	records := []analytics.Record{
		{},
		{CreditScore: f64(850), Income: f64(250000), AccountBalance: f64(1e6), EmploymentStatus: str("Employed")},
		{CreditScore: f64(300), Income: f64(0), LoanAmount: f64(1e6), DelinquencyFlag: flag(true), EmploymentStatus: str("unemployed")},
		{CreditScore: f64(-100), Income: f64(-5)},
	}
	for i, r := range records {
		s := FICO.Score(r)
		if s < 0 || s > 1 || math.IsNaN(s) {
			t.Errorf("record %d: score %v out of [0,1]", i, s)
		}
	}
}

func TestScoreOrdering(t *testing.T) {
	good := analytics.Record{
		CreditScore: f64(800), Income: f64(120000), MonthlyExpenses: f64(1500),
		AccountBalance: f64(50000), EmploymentStatus: str("employed"),
	}
	bad := analytics.Record{
		CreditScore: f64(520), Income: f64(30000), MonthlyExpenses: f64(2500), LoanAmount: f64(40000),
		DelinquencyFlag: flag(true), EmploymentStatus: str("unemployed"),
	}
	gs, bs := FICO.Score(good), FICO.Score(bad)
	if gs >= LowRiskThreshold {
		t.Errorf("good record scored %v, expected low risk", gs)
	}
	if bs <= HighRiskThreshold {
		t.Errorf("bad record scored %v, expected high risk", bs)
	}
}

func TestDefaultsApplied(t *testing.T) {
	explicit := analytics.Record{
		CreditScore:      f64(DefaultCreditScore),
		Income:           f64(DefaultIncome),
		MonthlyExpenses:  f64(DefaultMonthlyExpenses),
		LoanAmount:       f64(0),
		AccountBalance:   f64(0),
		EmploymentStatus: str(EmploymentUnknown),
		DelinquencyFlag:  flag(false),
	}
	require.InDelta(t, FICO.Score(explicit), FICO.Score(analytics.Record{}), 1e-12)
}

func TestMonthlyPayment(t *testing.T) {
	// 10,000 over 36 months at 5% is 299.71 per month.
	require.InDelta(t, 299.71, monthlyPayment(10000), 0.01)
	require.Zero(t, monthlyPayment(0))
}

func TestAggregateSingleRecord(t *testing.T) {
	r := analytics.Record{Age: f64(29), Income: f64(40000), CreditScore: f64(710), EmploymentStatus: str("Employed")}
	m, err := Aggregate([]analytics.Record{r}, nil)
	require.NoError(t, err)

	score := FICO.Score(r)
	require.Equal(t, 1, m.TotalCustomers)
	require.Equal(t, score, m.MeanRisk)
	require.Equal(t, score, m.MedianRisk)
	require.Zero(t, m.StdRisk)
	require.InDelta(t, score*100, m.EstimatedDefaultRate, 1e-9)
	require.InDelta(t, 100, m.HighRiskPercentage+m.MediumRiskPercentage+m.LowRiskPercentage, 1e-9)

	require.NotNil(t, m.AvgCreditScore)
	require.Equal(t, 710.0, *m.AvgCreditScore)
	require.Equal(t, 100.0, m.CreditScoreDistribution.Good)

	require.Equal(t, score, m.RiskByAgeGroup[AgeGroup18to30])
	require.Zero(t, m.RiskByAgeGroup[AgeGroup61Plus])
	require.Len(t, m.RiskByAgeGroup, 4)
	require.Equal(t, score, m.RiskByIncomeBracket[IncomeLow])
	require.Equal(t, score, m.RiskByEmploymentStatus[EmploymentEmployed])
	require.Len(t, m.RiskByEmploymentStatus, len(EmploymentCategories))
}

func TestEmploymentLabelsAreCategorized(t *testing.T) {
	labels := []string{"Employed", " FULL-TIME ", "retired", "Self-Employed", "alice@example.com", "Unknown", "", "x\u0000y"}
	records := make([]analytics.Record, len(labels))
	for i, l := range labels {
		records[i] = analytics.Record{EmploymentStatus: str(l)}
	}
	records = append(records, analytics.Record{})

	m, err := Aggregate(records, nil)
	require.NoError(t, err)
	keys := make([]string, 0, len(m.RiskByEmploymentStatus))
	for k := range m.RiskByEmploymentStatus {
		keys = append(keys, k)
	}
	require.ElementsMatch(t, EmploymentCategories, keys)

	require.Equal(t, EmploymentEmployed, EmploymentCategory(records[1]))
	require.Equal(t, EmploymentSelfEmployed, EmploymentCategory(records[3]))
	require.Equal(t, EmploymentUnknown, EmploymentCategory(records[4]))

	// Unrecognized labels score like a missing status.
	require.Equal(t, FICO.Score(analytics.Record{}), FICO.Score(records[4]))
}

func TestAggregateBuckets(t *testing.T) {
	// A stub scorer pins each record to a chosen score.
	scores := []float64{0.1, 0.2, 0.3, 0.7, 0.71, 0.9, 0.5, 0.29}
	records := make([]analytics.Record, len(scores))
	for i := range records {
		records[i].Age = f64(float64(i))
	}
	stub := ScorerFunc(func(r analytics.Record) float64 { return scores[int(*r.Age)] })

	m, err := Aggregate(records, stub)
	require.NoError(t, err)
	require.Equal(t, 3.0/8*100, m.LowRiskPercentage)
	require.Equal(t, 3.0/8*100, m.MediumRiskPercentage)
	require.Equal(t, 2.0/8*100, m.HighRiskPercentage)
	require.InDelta(t, (0.3+0.5)/2, m.MedianRisk, 1e-12)
	require.Nil(t, m.AvgCreditScore)
	require.Nil(t, m.CreditScoreDistribution)
}

func TestAggregateCreditDistribution(t *testing.T) {
	records := []analytics.Record{
		{CreditScore: f64(780)}, {CreditScore: f64(720)}, {CreditScore: f64(660)}, {CreditScore: f64(600)},
		{CreditScore: f64(0)}, {},
	}
	m, err := Aggregate(records, nil)
	require.NoError(t, err)
	require.Equal(t, 690.0, *m.AvgCreditScore)
	require.Equal(t, analytics.CreditScoreDistribution{Excellent: 25, Good: 25, Fair: 25, Poor: 25}, *m.CreditScoreDistribution)
}

func TestAggregateEmpty(t *testing.T) {
	_, err := Aggregate(nil, nil)
	if !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
}
