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

// Package analytics holds the data model exchanged between the relay and the
// enclave: input records and the privacy-protected result.
package analytics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Record is one customer row. Every field is optional; the scorer applies
// defaults for missing values. Records only exist in plaintext inside the
// enclave and in the submitter's request.
type Record struct {
	Age              *float64 `json:"age,omitempty"`
	Income           *float64 `json:"income,omitempty"`
	CreditScore      *float64 `json:"credit_score,omitempty"`
	MonthlyExpenses  *float64 `json:"monthly_expenses,omitempty"`
	LoanAmount       *float64 `json:"loan_amount,omitempty"`
	DelinquencyFlag  *Flag    `json:"delinquency_flag,omitempty"`
	EmploymentStatus *string  `json:"employment_status,omitempty"`
	AccountBalance   *float64 `json:"account_balance,omitempty"`
}

// Flag is a boolean that also accepts the strings "true", "1" and "yes"
// (case-insensitive) and the numbers 0 and 1.
type Flag bool

func (f *Flag) UnmarshalJSON(input []byte) error {
	input = bytes.TrimSpace(input)
	switch {
	case bytes.Equal(input, []byte("true")):
		*f = true
	case bytes.Equal(input, []byte("false")), bytes.Equal(input, []byte("null")):
		*f = false
	case len(input) > 0 && input[0] == '"':
		var s string
		if err := json.Unmarshal(input, &s); err != nil {
			return err
		}
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "1", "yes":
			*f = true
		default:
			*f = false
		}
	default:
		var n float64
		if err := json.Unmarshal(input, &n); err != nil {
			return fmt.Errorf("invalid flag value %s", input)
		}
		*f = n != 0
	}
	return nil
}

// DecodeRecords strictly decodes a JSON array of records. Unknown fields are
// rejected so that schema mistakes surface before anything is encrypted.
func DecodeRecords(data []byte) ([]Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var records []Record
	if err := dec.Decode(&records); err != nil {
		return nil, err
	}
	return records, nil
}

// MetricSet is the set of aggregate statistics released for a batch. Pointer
// and map fields are optional: nil means the metric was not computed.
type MetricSet struct {
	MeanRisk             float64 `json:"mean_risk"`
	MedianRisk           float64 `json:"median_risk"`
	StdRisk              float64 `json:"std_risk"`
	HighRiskPercentage   float64 `json:"high_risk_percentage"`
	MediumRiskPercentage float64 `json:"medium_risk_percentage"`
	LowRiskPercentage    float64 `json:"low_risk_percentage"`
	TotalCustomers       int     `json:"total_customers"`
	EstimatedDefaultRate float64 `json:"estimated_default_rate"`

	AvgCreditScore          *float64                 `json:"avg_credit_score,omitempty"`
	CreditScoreDistribution *CreditScoreDistribution `json:"credit_score_distribution,omitempty"`
	RiskByAgeGroup          map[string]float64       `json:"risk_by_age_group,omitempty"`
	RiskByIncomeBracket     map[string]float64       `json:"risk_by_income_bracket,omitempty"`
	RiskByEmploymentStatus  map[string]float64       `json:"risk_by_employment_status,omitempty"`
}

// CreditScoreDistribution holds the share of customers per credit band, in
// percent of customers that reported a credit score.
type CreditScoreDistribution struct {
	Excellent float64 `json:"excellent_750_plus"`
	Good      float64 `json:"good_700_749"`
	Fair      float64 `json:"fair_650_699"`
	Poor      float64 `json:"poor_below_650"`
}

// PrivacyBudget reports the privacy cost of one release and the running
// total of the process that produced it.
type PrivacyBudget struct {
	EpsilonPerQuery      float64        `json:"epsilon_per_query"`
	TotalEpsilonConsumed float64        `json:"total_epsilon_consumed"`
	NumQueries           int            `json:"num_queries"`
	Mechanisms           map[string]int `json:"mechanisms"`
	Delta                float64        `json:"delta"`
	TotalEpsilonAdvanced float64        `json:"total_epsilon_advanced"`
	CumulativeEpsilon    float64        `json:"cumulative_epsilon"`
	Ceiling              float64        `json:"ceiling"`
	CeilingExceeded      bool           `json:"ceiling_exceeded"`
}

// Result is what the enclave signs and the relay stores.
type Result struct {
	RiskMetrics   MetricSet     `json:"risk_metrics"`
	RawMetrics    *MetricSet    `json:"raw_metrics,omitempty"`
	PrivacyBudget PrivacyBudget `json:"privacy_budget"`
}
