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
	"math"
	"strings"

	"github.com/riskenclave/riskenclave/internal/analytics"
)

// Scorer maps a record to a default-risk score in [0,1].
type Scorer interface {
	Score(r analytics.Record) float64
}

// ScorerFunc adapts a plain function to the Scorer interface.
type ScorerFunc func(r analytics.Record) float64

func (f ScorerFunc) Score(r analytics.Record) float64 { return f(r) }

// Defaults applied to missing record fields.
const (
	DefaultCreditScore     = 650.0
	DefaultIncome          = 50000.0
	DefaultMonthlyExpenses = 2000.0
	DefaultAge             = 35.0
)

// Employment categories. Input labels are folded into these, unrecognized
// and missing ones into EmploymentUnknown, so no caller-chosen string is
// ever reported.
const (
	EmploymentEmployed     = "Employed"
	EmploymentSelfEmployed = "Self-employed"
	EmploymentPartTime     = "Part-time"
	EmploymentContractor   = "Contractor"
	EmploymentUnemployed   = "Unemployed"
	EmploymentRetired      = "Retired"
	EmploymentUnknown      = "Unknown"
)

// EmploymentCategories lists every employment category.
var EmploymentCategories = []string{
	EmploymentEmployed, EmploymentSelfEmployed, EmploymentPartTime, EmploymentContractor,
	EmploymentUnemployed, EmploymentRetired, EmploymentUnknown,
}

// Factor weights of the FICO-style scorer.
const (
	weightCredit      = 0.35
	weightDTI         = 0.25
	weightDelinquency = 0.20
	weightLoan        = 0.10
	weightEmployment  = 0.05
	weightBalance     = 0.05
)

// Loan repayment assumptions used to derive a monthly payment.
const (
	loanAnnualRate = 0.05
	loanPayments   = 36
)

// FICO is the default scorer. It combines credit score, debt-to-income,
// delinquency, loan-to-income, employment and account balance factors.
var FICO Scorer = ScorerFunc(ficoScore)

func ficoScore(r analytics.Record) float64 {
	var (
		credit   = valueOr(r.CreditScore, DefaultCreditScore)
		income   = valueOr(r.Income, DefaultIncome)
		expenses = valueOr(r.MonthlyExpenses, DefaultMonthlyExpenses)
		loan     = valueOr(r.LoanAmount, 0)
		balance  = valueOr(r.AccountBalance, 0)
	)
	score := weightCredit*creditFactor(credit) +
		weightDTI*dtiFactor(income, expenses, loan) +
		weightDelinquency*delinquencyFactor(r.DelinquencyFlag) +
		weightLoan*loanFactor(income, loan) +
		weightEmployment*employmentFactor(EmploymentCategory(r)) +
		weightBalance*balanceFactor(income, balance)
	return clamp(score, 0, 1)
}

func creditFactor(score float64) float64 {
	var f float64
	switch {
	case score >= 750:
		f = math.Max(0, (750-score)/450) * 0.15
	case score >= 700:
		f = 0.15 + ((700-score)/50)*0.15
	case score >= 650:
		f = 0.30 + ((650-score)/50)*0.20
	case score >= 600:
		f = 0.50 + ((600-score)/50)*0.25
	default:
		f = 0.75 + math.Min(0.25, (600-score)/300)
	}
	return clamp(f, 0, 1)
}

// monthlyPayment amortises loan over loanPayments months.
func monthlyPayment(loan float64) float64 {
	if loan <= 0 {
		return 0
	}
	rate := loanAnnualRate / 12
	growth := math.Pow(1+rate, loanPayments)
	return loan * (rate * growth) / (growth - 1)
}

func dtiFactor(income, expenses, loan float64) float64 {
	if income <= 0 {
		return 1
	}
	ratio := (expenses + monthlyPayment(loan)) / (income / 12)
	switch {
	case ratio < 0.36:
		return ratio / 0.36 * 0.3
	case ratio < 0.43:
		return 0.3 + ((ratio-0.36)/0.07)*0.4
	default:
		return 0.7 + math.Min(0.3, (ratio-0.43)/0.2)
	}
}

func delinquencyFactor(flag *analytics.Flag) float64 {
	if flag != nil && bool(*flag) {
		return 0.8
	}
	return 0
}

func loanFactor(income, loan float64) float64 {
	if income <= 0 {
		return 1
	}
	ratio := loan / income
	switch {
	case ratio < 0.20:
		return ratio / 0.20 * 0.3
	case ratio < 0.40:
		return 0.3 + ((ratio-0.20)/0.20)*0.4
	default:
		return 0.7 + math.Min(0.3, (ratio-0.40)/0.30)
	}
}

func employmentFactor(category string) float64 {
	switch category {
	case EmploymentEmployed:
		return 0
	case EmploymentSelfEmployed, EmploymentPartTime, EmploymentContractor:
		return 0.3
	case EmploymentUnemployed, EmploymentRetired:
		return 0.6
	default:
		return 0.4
	}
}

func balanceFactor(income, balance float64) float64 {
	monthly := 1.0
	if income > 0 {
		monthly = income / 12
	}
	switch ratio := balance / monthly; {
	case ratio < 0.5:
		return 0.8
	case ratio < 2:
		return 0.4
	default:
		return 0
	}
}

// EmploymentCategory maps the record's employment status to one of
// EmploymentCategories, ignoring case and surrounding space.
func EmploymentCategory(r analytics.Record) string {
	if r.EmploymentStatus == nil {
		return EmploymentUnknown
	}
	switch strings.ToLower(strings.TrimSpace(*r.EmploymentStatus)) {
	case "employed", "full-time":
		return EmploymentEmployed
	case "self-employed":
		return EmploymentSelfEmployed
	case "part-time":
		return EmploymentPartTime
	case "contractor":
		return EmploymentContractor
	case "unemployed":
		return EmploymentUnemployed
	case "retired":
		return EmploymentRetired
	}
	return EmploymentUnknown
}

func valueOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
