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
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterTo(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := RegisterTo(reg); err != nil {
		t.Fatalf("RegisterTo: %v", err)
	}
	if err := RegisterTo(reg); err == nil {
		t.Fatal("double registration should fail")
	}
}

func TestJobCounters(t *testing.T) {
	before := testutil.ToFloat64(jobsFinishedTotal.WithLabelValues("failed", "decryption_failure"))
	IncJobSubmitted()
	ObserveJobFinished("Failed", "decryption_failure", time.Second)
	after := testutil.ToFloat64(jobsFinishedTotal.WithLabelValues("failed", "decryption_failure"))
	if after-before != 1 {
		t.Fatalf("counter moved by %v", after-before)
	}

	IncComputeAttempt("")
	if testutil.ToFloat64(computeAttemptsTotal.WithLabelValues("ok")) < 1 {
		t.Fatal("ok attempts not counted")
	}
}

func TestStatusRecorder(t *testing.T) {
	rec := &StatusRecorder{ResponseWriter: httptest.NewRecorder()}
	rec.Write([]byte("x"))
	if rec.Status != 200 {
		t.Fatalf("status = %d", rec.Status)
	}
	SetEpsilonConsumed(3, true)
	if testutil.ToFloat64(epsilonCeilingExceeded) != 1 {
		t.Fatal("ceiling gauge not set")
	}
}
