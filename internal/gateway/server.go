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

// Package gateway is the public HTTP API. It accepts analytics jobs,
// reports their state, proxies instance attestations and verifies bundles.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/riskenclave/riskenclave/internal/analytics"
	"github.com/riskenclave/riskenclave/internal/attestation"
	"github.com/riskenclave/riskenclave/internal/fault"
	"github.com/riskenclave/riskenclave/internal/httpx"
	"github.com/riskenclave/riskenclave/internal/jobs"
	"github.com/riskenclave/riskenclave/internal/metrics"
	"github.com/riskenclave/riskenclave/internal/relay"
	"github.com/rs/cors"
	"golang.org/x/time/rate"
)

// Error kinds only the gateway produces.
const (
	KindNotFound    fault.Kind = "not_found"
	KindRateLimited fault.Kind = "rate_limited"
)

// Enclave is the part of the enclave client the gateway needs.
type Enclave interface {
	Health(ctx context.Context) (*relay.Health, error)
	Attestation(ctx context.Context, nonce string) (*relay.AttestationResponse, error)
}

// Options tunes the API surface.
type Options struct {
	CORSOrigins  []string
	SubmitRate   float64 // job submissions per second, 0 disables limiting
	SubmitBurst  int
	MaxBodyBytes int64
}

// DefaultOptions allows 10 submissions per second with bursts of 20 and
// bodies up to 32 MiB.
var DefaultOptions = Options{
	SubmitRate:   10,
	SubmitBurst:  20,
	MaxBodyBytes: 32 << 20,
}

// Server serves the gateway API.
type Server struct {
	orch     *jobs.Orchestrator
	enclave  Enclave
	verifier *attestation.Verifier
	opts     Options
	limiter  *rate.Limiter
}

func NewServer(orch *jobs.Orchestrator, enclave Enclave, verifier *attestation.Verifier, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultOptions.MaxBodyBytes
	}
	s := &Server{orch: orch, enclave: enclave, verifier: verifier, opts: opts}
	if opts.SubmitRate > 0 {
		burst := opts.SubmitBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.SubmitRate), burst)
	}
	return s
}

// Handler returns the router with CORS applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(httpx.WithRequestID, httpx.Trace, httpx.Observe, httpx.Recover)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.With(s.limit).Post("/jobs", s.handleSubmit)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Get("/attestation", s.handleAttestation)
		r.Post("/verify", s.handleVerify)
		r.Get("/privacy-budget", s.handleBudget)
	})
	return newCorsHandler(r, s.opts.CORSOrigins)
}

func newCorsHandler(srv http.Handler, allowedOrigins []string) http.Handler {
	// disable CORS support if user has not specified a custom CORS configuration
	if len(allowedOrigins) == 0 {
		return srv
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodPost, http.MethodGet},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{httpx.RequestIDHeader},
		MaxAge:         600,
	})
	return c.Handler(srv)
}

func (s *Server) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			httpx.WriteJSON(w, http.StatusTooManyRequests, httpx.ErrorBody{Error: "too many job submissions", Kind: KindRateLimited})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	h, err := s.enclave.Health(r.Context())
	if err != nil {
		httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"error":  fault.Describe(err),
		})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ready", "enclave": h})
}

// SubmitRequest is the body of POST /v1/jobs.
type SubmitRequest struct {
	Records json.RawMessage `json:"records"`
	Epsilon *float64        `json:"epsilon"`
}

// SubmitResponse is the 202 answer to POST /v1/jobs.
type SubmitResponse struct {
	JobID  string      `json:"jobId"`
	Status jobs.Status `json:"status"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := httpx.DecodeJSON(w, r, s.opts.MaxBodyBytes, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	if len(req.Records) == 0 || req.Epsilon == nil {
		httpx.WriteError(w, fault.New(fault.MalformedRequest, "records and epsilon are required"))
		return
	}
	records, err := analytics.DecodeRecords(req.Records)
	if err != nil {
		httpx.WriteError(w, fault.Wrap(fault.MalformedRequest, err, "decode records"))
		return
	}
	job, err := s.orch.Submit(r.Context(), records, *req.Epsilon)
	if err != nil {
		if errors.Is(err, jobs.ErrClosed) {
			httpx.WriteJSON(w, http.StatusServiceUnavailable, httpx.ErrorBody{Error: err.Error(), Kind: fault.Internal})
			return
		}
		httpx.WriteError(w, err)
		return
	}
	w.Header().Set("Location", "/v1/jobs/"+job.ID)
	httpx.WriteJSON(w, http.StatusAccepted, SubmitResponse{JobID: job.ID, Status: job.Status})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.orch.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, jobs.ErrJobNotFound) {
		httpx.WriteJSON(w, http.StatusNotFound, httpx.ErrorBody{Error: "job not found", Kind: KindNotFound})
		return
	}
	if err != nil {
		log.Error("Failed to load job", "id", chi.URLParam(r, "id"), "err", err)
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, job)
}

func (s *Server) handleAttestation(w http.ResponseWriter, r *http.Request) {
	nonce := r.URL.Query().Get("nonce")
	if _, err := attestation.ParseNonce(nonce); err != nil {
		httpx.WriteError(w, fault.Wrap(fault.MalformedRequest, err, "invalid nonce"))
		return
	}
	resp, err := s.enclave.Attestation(r.Context(), nonce)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// VerifyRequest is the body of POST /v1/verify.
type VerifyRequest struct {
	Attestation  *attestation.Evidence `json:"attestation"`
	Result       json.RawMessage       `json:"result"`
	RequestNonce string                `json:"requestNonce"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := httpx.DecodeJSON(w, r, s.opts.MaxBodyBytes, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	if req.Attestation == nil || len(req.Result) == 0 {
		httpx.WriteError(w, fault.New(fault.MalformedRequest, "attestation and result are required"))
		return
	}
	nonce, err := attestation.ParseNonce(req.RequestNonce)
	if err != nil {
		httpx.WriteError(w, fault.Wrap(fault.MalformedRequest, err, "invalid requestNonce"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*attestation.DefaultOracleTimeout)
	defer cancel()

	v := s.verifier.VerifyEvidence(ctx, req.Attestation, req.Result, nonce)
	metrics.IncVerification(v.Verified, string(v.Details.TDXQuote.Status))
	log.Debug("Verified bundle", "verified", v.Verified, "signer", req.Attestation.SigningAddress, "quote", v.Details.TDXQuote.Status)
	httpx.WriteJSON(w, http.StatusOK, v)
}

func (s *Server) handleBudget(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, s.orch.Ledger().Snapshot())
}

// Ping checks the enclave once, for startup logging.
func (s *Server) Ping(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	h, err := s.enclave.Health(ctx)
	if err != nil {
		log.Warn("Enclave not reachable yet", "err", err)
		return
	}
	log.Info("Enclave reachable", "tee", h.TEEAvailable, "signer", h.SigningAddress)
}
