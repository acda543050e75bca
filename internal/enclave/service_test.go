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

package enclave

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/riskenclave/riskenclave/internal/analytics"
	"github.com/riskenclave/riskenclave/internal/attestation"
	"github.com/riskenclave/riskenclave/internal/fault"
	"github.com/riskenclave/riskenclave/internal/httpx"
	"github.com/riskenclave/riskenclave/internal/privacy"
	"github.com/riskenclave/riskenclave/internal/relay"
	"github.com/stretchr/testify/require"
)

// zeroNoise makes every mechanism return its input.
type zeroNoise struct{}

func (zeroNoise) Float64() float64     { return 0.5 }
func (zeroNoise) NormFloat64() float64 { return 0 }

func f64(v float64) *float64 { return &v }

// layoutOracle passes every well-formed quote.
type layoutOracle struct{}

func (layoutOracle) Check(_ context.Context, quote []byte) (*attestation.OracleResult, error) {
	q, err := attestation.ParseQuote(quote)
	if err != nil {
		return &attestation.OracleResult{Source: "test"}, nil
	}
	return &attestation.OracleResult{Verified: true, ReportData: q.ReportData[:], Source: "test"}, nil
}

var requestNonce = common.HexToHash("0x0102030405060708091011121314151617181920212223242526272829303132")

func newService(t *testing.T, q attestation.Quoter, raw bool) *Service {
	t.Helper()
	gen, err := attestation.NewGenerator(nil, q)
	require.NoError(t, err)
	engine, err := privacy.NewEngine(privacy.DefaultDelta, zeroNoise{}, privacy.NewLedger(0))
	require.NoError(t, err)
	return NewService(gen, engine, Options{ReleaseRawMetrics: raw})
}

func newClient(t *testing.T, s *Service) *relay.Client {
	t.Helper()
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	c, err := relay.NewClient(relay.Config{URL: srv.URL})
	require.NoError(t, err)
	return c
}

func sealRecords(t *testing.T, records []analytics.Record) *relay.EncryptedPayload {
	t.Helper()
	p, err := relay.EncryptForCompute(records)
	require.NoError(t, err)
	return p
}

func TestAnalyzeSingleRecord(t *testing.T) {
	s := newService(t, nil, true)
	c := newClient(t, s)

	p := sealRecords(t, []analytics.Record{{
		Age: f64(40), Income: f64(60000), CreditScore: f64(720), MonthlyExpenses: f64(1500), LoanAmount: f64(10000),
	}})
	resp, err := c.Analyze(context.Background(), relay.NewAnalyzeRequest(p, 1.0, requestNonce.Hex()))
	require.NoError(t, err)
	require.Equal(t, requestNonce, resp.Attestation.Nonce)
	require.False(t, resp.Attestation.HasQuote())
	require.Equal(t, "none", resp.Attestation.TEEType)
	require.Equal(t, s.gen.Address(), resp.Attestation.SigningAddress)

	var result analytics.Result
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Equal(t, 1, result.RiskMetrics.TotalCustomers)
	require.Equal(t, 1.0, result.PrivacyBudget.EpsilonPerQuery)
	require.NotNil(t, result.RawMetrics)
	require.Equal(t, result.RawMetrics.MeanRisk, result.RiskMetrics.MeanRisk)
	require.InDelta(t, 100, result.RiskMetrics.LowRiskPercentage+result.RiskMetrics.MediumRiskPercentage+result.RiskMetrics.HighRiskPercentage, 1e-9)

	v := attestation.NewVerifier(nil).Verify(context.Background(), resp.Attestation, resp.Result, &requestNonce)
	require.True(t, v.Verified, "%+v", v.Details)
	require.Equal(t, attestation.StatusNotApplicable, v.Details.TDXQuote.Status)
}

func TestAnalyzeWithMockQuoteBindsNonce(t *testing.T) {
	s := newService(t, attestation.NewMockQuoter(), false)
	c := newClient(t, s)

	p := sealRecords(t, []analytics.Record{{CreditScore: f64(640)}, {CreditScore: f64(780)}})
	resp, err := c.Analyze(context.Background(), relay.NewAnalyzeRequest(p, 0.5, requestNonce.Hex()))
	require.NoError(t, err)
	require.True(t, resp.Attestation.HasQuote())
	require.NotContains(t, string(resp.Result), "raw_metrics")

	verifier := attestation.NewVerifier(layoutOracle{})
	v := verifier.Verify(context.Background(), resp.Attestation, resp.Result, &requestNonce)
	require.True(t, v.Verified, "%+v", v.Details)

	other := common.HexToHash("0xff")
	v = verifier.Verify(context.Background(), resp.Attestation, resp.Result, &other)
	require.False(t, v.Verified)
	require.Equal(t, fault.BindingMismatch, v.Details.ReportDataBinding.Error.Kind)
}

func TestAnalyzeErrors(t *testing.T) {
	s := newService(t, nil, false)
	c := newClient(t, s)

	good := sealRecords(t, []analytics.Record{{}})
	wrongKey := *good
	wrongKey.Key = make([]byte, relay.KeySize)
	empty := sealRecords(t, []analytics.Record{})

	tests := []struct {
		name string
		req  *relay.AnalyzeRequest
		kind fault.Kind
	}{
		{"zero epsilon", relay.NewAnalyzeRequest(good, 0, ""), fault.MalformedRequest},
		{"negative epsilon", relay.NewAnalyzeRequest(good, -1, ""), fault.MalformedRequest},
		{"bad nonce", relay.NewAnalyzeRequest(good, 1, "0x1234"), fault.MalformedRequest},
		{"wrong key", relay.NewAnalyzeRequest(&wrongKey, 1, ""), fault.DecryptionFailure},
		{"empty batch", relay.NewAnalyzeRequest(empty, 1, ""), fault.MalformedRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Analyze(context.Background(), tt.req)
			require.Error(t, err)
			require.Equal(t, tt.kind, fault.KindOf(err), "error: %v", err)
			require.False(t, fault.Retryable(err))
		})
	}
}

func TestAnalyzeRejectsGarbageBody(t *testing.T) {
	s := newService(t, nil, false)
	for _, body := range []string{"", "{", `{"data":1}`, `{} {}`} {
		req := httptest.NewRequest(http.MethodPost, "/analyze", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: want 400, got %d", body, rec.Code)
		}
		var eb httpx.ErrorBody
		if err := json.Unmarshal(rec.Body.Bytes(), &eb); err != nil {
			t.Fatalf("body %q: decode error: %v", body, err)
		}
		if eb.Kind != fault.MalformedRequest {
			t.Fatalf("body %q: want malformed_request, got %s", body, eb.Kind)
		}
		if rec.Header().Get(httpx.RequestIDHeader) == "" {
			t.Fatal("missing request id")
		}
	}
}

func TestHealth(t *testing.T) {
	c := newClient(t, newService(t, nil, false))
	h, err := c.Health(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ok", h.Status)
	require.False(t, h.TEEAvailable)

	c = newClient(t, newService(t, attestation.NewMockQuoter(), false))
	h, err = c.Health(context.Background())
	require.NoError(t, err)
	require.True(t, h.TEEAvailable)
}

func TestInstanceAttestation(t *testing.T) {
	s := newService(t, attestation.NewMockQuoter(), false)
	c := newClient(t, s)

	resp, err := c.Attestation(context.Background(), requestNonce.Hex())
	require.NoError(t, err)
	require.Equal(t, requestNonce, resp.Attestation.Nonce)

	var st Statement
	require.NoError(t, json.Unmarshal(resp.Statement, &st))
	require.Equal(t, "instance", st.Purpose)
	require.Equal(t, "tdx", st.TEEType)
	require.Equal(t, s.gen.Address(), st.SigningAddress)

	v := attestation.NewVerifier(layoutOracle{}).Verify(context.Background(), resp.Attestation, resp.Statement, &requestNonce)
	require.True(t, v.Verified, "%+v", v.Details)

	_, err = c.Attestation(context.Background(), "nothex")
	require.True(t, fault.Is(err, fault.MalformedRequest), "got %v", err)
}

func TestInProcessAnalyze(t *testing.T) {
	s := newService(t, nil, false)
	p := sealRecords(t, []analytics.Record{{Age: f64(25)}, {Age: f64(70)}})
	resp, err := s.Analyze(context.Background(), relay.NewAnalyzeRequest(p, 2, ""))
	require.NoError(t, err)
	require.NotEqual(t, common.Hash{}, resp.Attestation.Nonce)

	var result analytics.Result
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Equal(t, 2, result.RiskMetrics.TotalCustomers)
	require.Len(t, result.RiskMetrics.RiskByAgeGroup, 2)
	require.Equal(t, 2.0, result.PrivacyBudget.CumulativeEpsilon/float64(result.PrivacyBudget.NumQueries))
}
