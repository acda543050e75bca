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

// Package enclave is the confidential compute service. It decrypts record
// batches, computes the noised risk metrics and signs every result with the
// enclave key.
package enclave

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/go-chi/chi/v5"
	"github.com/riskenclave/riskenclave/internal/analytics"
	"github.com/riskenclave/riskenclave/internal/attestation"
	"github.com/riskenclave/riskenclave/internal/fault"
	"github.com/riskenclave/riskenclave/internal/httpx"
	"github.com/riskenclave/riskenclave/internal/metrics"
	"github.com/riskenclave/riskenclave/internal/privacy"
	"github.com/riskenclave/riskenclave/internal/relay"
	"github.com/riskenclave/riskenclave/internal/risk"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxRequestSize = 64 << 20

func tracer() trace.Tracer {
	return otel.Tracer("github.com/riskenclave/riskenclave/internal/enclave")
}

// Options tunes the service.
type Options struct {
	// ReleaseRawMetrics adds the un-noised metrics to every result.
	ReleaseRawMetrics bool
	// Scorer overrides the default risk model.
	Scorer risk.Scorer
}

// Statement is the document signed by GET /attestation.
type Statement struct {
	Purpose        string         `json:"purpose"`
	SigningAddress common.Address `json:"signing_address"`
	TEEType        string         `json:"tee_type"`
	IssuedAt       int64          `json:"issued_at"`
}

// Service implements the enclave endpoints.
type Service struct {
	gen    *attestation.Generator
	engine *privacy.Engine
	scorer risk.Scorer
	opts   Options

	teeOnce sync.Once
	tee     bool
}

func NewService(gen *attestation.Generator, engine *privacy.Engine, opts Options) *Service {
	scorer := opts.Scorer
	if scorer == nil {
		scorer = risk.FICO
	}
	return &Service{gen: gen, engine: engine, scorer: scorer, opts: opts}
}

// TEEAvailable reports whether the quoter works. It is checked once.
func (s *Service) TEEAvailable(ctx context.Context) bool {
	s.teeOnce.Do(func() {
		s.tee = s.gen.TEEAvailable(ctx)
		log.Info("Checked TEE", "available", s.tee, "address", s.gen.Address())
	})
	return s.tee
}

// Analyze decrypts the batch, computes and noises the metrics and attests
// the result. The returned Result is the canonical JSON that was signed.
func (s *Service) Analyze(ctx context.Context, req *relay.AnalyzeRequest) (*relay.AnalyzeResponse, error) {
	ctx, span := tracer().Start(ctx, "enclave.Analyze", trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.Float64("epsilon", req.Epsilon)))
	defer span.End()

	resp, err := s.analyze(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(fault.KindOf(err)))
		metrics.IncAnalyze(string(fault.KindOf(err)))
	} else {
		metrics.IncAnalyze("")
	}
	return resp, err
}

func (s *Service) analyze(ctx context.Context, req *relay.AnalyzeRequest) (*relay.AnalyzeResponse, error) {
	if err := privacy.Validate(req.Epsilon); err != nil {
		return nil, fault.Wrap(fault.MalformedRequest, err, "invalid epsilon")
	}
	nonce, err := attestation.ParseNonce(req.Nonce)
	if err != nil {
		return nil, fault.Wrap(fault.MalformedRequest, err, "invalid nonce")
	}
	payload, err := req.Payload()
	if err != nil {
		return nil, err
	}
	records, err := relay.Decrypt(payload)
	if err != nil {
		return nil, err
	}
	raw, err := risk.Aggregate(records, s.scorer)
	if errors.Is(err, risk.ErrEmptyBatch) {
		return nil, fault.Wrap(fault.MalformedRequest, err, "aggregate")
	}
	if err != nil {
		return nil, fault.Wrap(fault.ComputeFailure, err, "aggregate")
	}
	noised, budget, err := s.engine.Apply(raw, req.Epsilon)
	if err != nil {
		return nil, fault.Wrap(fault.ComputeFailure, err, "apply privacy")
	}
	result := analytics.Result{RiskMetrics: noised, PrivacyBudget: budget}
	if s.opts.ReleaseRawMetrics {
		result.RawMetrics = &raw
	}
	var n common.Hash
	if nonce != nil {
		n = *nonce
	}
	bundle, msg, err := s.gen.Attest(ctx, result, n)
	if err != nil {
		return nil, fault.Wrap(fault.Internal, err, "attest result")
	}
	log.Info("Analyzed batch", "records", len(records), "epsilon", req.Epsilon, "queries", budget.NumQueries, "quote", bundle.HasQuote())
	return &relay.AnalyzeResponse{
		Result:      msg,
		Attestation: bundle,
		ProcessedAt: time.Now().UTC(),
	}, nil
}

// Attestation signs an instance statement bound to nonce. A nil nonce picks
// a random one.
func (s *Service) Attestation(ctx context.Context, nonce *common.Hash) (*relay.AttestationResponse, error) {
	var n common.Hash
	if nonce != nil {
		n = *nonce
	}
	st := Statement{
		Purpose:        "instance",
		SigningAddress: s.gen.Address(),
		TEEType:        s.gen.TEEType(),
		IssuedAt:       time.Now().Unix(),
	}
	bundle, msg, err := s.gen.Attest(ctx, st, n)
	if err != nil {
		return nil, fault.Wrap(fault.Internal, err, "attest statement")
	}
	return &relay.AttestationResponse{Statement: msg, Attestation: bundle}, nil
}

// Handler returns the enclave router.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(httpx.WithRequestID, httpx.Trace, httpx.Observe, httpx.Recover)
	r.Get("/health", s.handleHealth)
	r.Get("/attestation", s.handleAttestation)
	r.Post("/analyze", s.handleAnalyze)
	return r
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, relay.Health{
		Status:         "ok",
		TEEAvailable:   s.TEEAvailable(r.Context()),
		SigningAddress: s.gen.Address(),
	})
}

func (s *Service) handleAttestation(w http.ResponseWriter, r *http.Request) {
	nonce, err := attestation.ParseNonce(r.URL.Query().Get("nonce"))
	if err != nil {
		httpx.WriteError(w, fault.Wrap(fault.MalformedRequest, err, "invalid nonce"))
		return
	}
	resp, err := s.Attestation(r.Context(), nonce)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (s *Service) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req relay.AnalyzeRequest
	if err := httpx.DecodeJSON(w, r, maxRequestSize, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	resp, err := s.Analyze(r.Context(), &req)
	if err != nil {
		log.Warn("Analyze failed", "kind", fault.KindOf(err), "reqid", httpx.RequestID(r.Context()), "err", err)
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
