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

package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/riskenclave/riskenclave/internal/attestation"
	"github.com/riskenclave/riskenclave/internal/fault"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// RequestIDHeader carries a per-attempt correlation id.
const RequestIDHeader = "X-Request-Id"

const maxResponseSize = 16 << 20

func tracer() trace.Tracer {
	return otel.Tracer("github.com/riskenclave/riskenclave/internal/relay")
}

// Config holds the enclave endpoint and timeouts.
type Config struct {
	URL                string
	DialTimeout        time.Duration
	AttemptTimeout     time.Duration
	HealthTimeout      time.Duration
	AttestationTimeout time.Duration
}

// DefaultConfig has the standard timeouts and no URL.
var DefaultConfig = Config{
	DialTimeout:        30 * time.Second,
	AttemptTimeout:     120 * time.Second,
	HealthTimeout:      10 * time.Second,
	AttestationTimeout: 10 * time.Second,
}

// AnalyzeResponse is the enclave's answer to /analyze. Result is kept as
// received so that verification canonicalizes exactly what was signed.
type AnalyzeResponse struct {
	Result      json.RawMessage     `json:"result"`
	Attestation *attestation.Bundle `json:"attestation"`
	ProcessedAt time.Time           `json:"processed_at"`
}

// ErrorResponse is the body of every enclave error.
type ErrorResponse struct {
	Error string     `json:"error"`
	Kind  fault.Kind `json:"kind"`
}

// Health is the enclave's liveness answer.
type Health struct {
	Status         string         `json:"status"`
	TEEAvailable   bool           `json:"tee_available"`
	SigningAddress common.Address `json:"signing_address"`
}

// AttestationResponse is the enclave's instance attestation: a bundle whose
// signature covers Statement.
type AttestationResponse struct {
	Statement   json.RawMessage     `json:"statement"`
	Attestation *attestation.Bundle `json:"attestation"`
}

// Client talks to one enclave instance.
type Client struct {
	cfg  Config
	base *url.URL
}

// NewClient validates cfg and fills in missing timeouts.
func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid enclave URL %q", cfg.URL)
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultConfig.DialTimeout
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultConfig.AttemptTimeout
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = DefaultConfig.HealthTimeout
	}
	if cfg.AttestationTimeout <= 0 {
		cfg.AttestationTimeout = DefaultConfig.AttestationTimeout
	}
	return &Client{cfg: cfg, base: base}, nil
}

// URL returns the enclave base URL.
func (c *Client) URL() string { return c.base.String() }

// AttemptTimeout is the deadline of one analyze call.
func (c *Client) AttemptTimeout() time.Duration { return c.cfg.AttemptTimeout }

// freshClient builds an HTTP client with its own transport. Connections are
// never reused, so a failed TLS session cannot poison the next attempt.
func (c *Client) freshClient(timeout time.Duration) (*http.Client, *http.Transport) {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: c.cfg.DialTimeout}).DialContext,
		TLSHandshakeTimeout: c.cfg.DialTimeout,
		DisableKeepAlives:   true,
		MaxIdleConns:        -1,
	}
	return &http.Client{Transport: transport, Timeout: timeout}, transport
}

// Analyze performs a single /analyze attempt. Transport failures and
// 5xx/408/429 answers are NetworkFailure; everything else is final.
func (c *Client) Analyze(ctx context.Context, req *AnalyzeRequest) (*AnalyzeResponse, error) {
	ctx, span := tracer().Start(ctx, "relay.Analyze", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fault.Wrap(fault.MalformedRequest, err, "encode analyze request")
	}
	data, err := c.do(ctx, http.MethodPost, "/analyze", body, c.cfg.AttemptTimeout)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(fault.KindOf(err)))
		return nil, err
	}
	var resp AnalyzeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fault.Wrap(fault.MalformedResponse, err, "decode analyze response")
	}
	if len(resp.Result) == 0 || bytes.Equal(resp.Result, []byte("null")) {
		return nil, fault.New(fault.MalformedResponse, "response has no result")
	}
	if resp.Attestation == nil {
		return nil, fault.New(fault.MalformedResponse, "response has no attestation")
	}
	span.SetAttributes(attribute.Bool("quote", resp.Attestation.HasQuote()))
	return &resp, nil
}

// Health calls the enclave's /health endpoint.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	data, err := c.do(ctx, http.MethodGet, "/health", nil, c.cfg.HealthTimeout)
	if err != nil {
		return nil, err
	}
	var h Health
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fault.Wrap(fault.MalformedResponse, err, "decode health")
	}
	return &h, nil
}

// Attestation fetches an instance attestation. An empty nonce lets the
// enclave pick one.
func (c *Client) Attestation(ctx context.Context, nonce string) (*AttestationResponse, error) {
	path := "/attestation"
	if nonce != "" {
		path += "?nonce=" + url.QueryEscape(nonce)
	}
	data, err := c.do(ctx, http.MethodGet, path, nil, c.cfg.AttestationTimeout)
	if err != nil {
		return nil, err
	}
	var resp AttestationResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fault.Wrap(fault.MalformedResponse, err, "decode attestation")
	}
	if resp.Attestation == nil {
		return nil, fault.New(fault.MalformedResponse, "response has no attestation")
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, timeout time.Duration) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return nil, fault.Wrap(fault.Internal, err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	reqID := uuid.NewString()
	req.Header.Set(RequestIDHeader, reqID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	client, transport := c.freshClient(timeout)
	defer transport.CloseIdleConnections()

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fault.Wrap(fault.NetworkFailure, err, method+" "+path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fault.Wrap(fault.NetworkFailure, err, "read response")
	}
	log.Trace("Enclave call", "method", method, "path", path, "status", resp.StatusCode, "reqid", reqID, "elapsed", time.Since(start))
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, data)
	}
	return data, nil
}

// statusError classifies a non-200 answer.
func statusError(code int, body []byte) error {
	var er ErrorResponse
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &er) == nil && er.Error != "" {
		msg = er.Error
	}
	if len(msg) > 256 {
		msg = msg[:256]
	}
	switch {
	case code >= 500, code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return fault.New(fault.NetworkFailure, "enclave returned HTTP %d: %s", code, msg)
	case er.Kind == fault.DecryptionFailure, er.Kind == fault.ComputeFailure, er.Kind == fault.MalformedRequest:
		return fault.New(er.Kind, "enclave returned HTTP %d: %s", code, msg)
	}
	return fault.New(fault.MalformedRequest, "enclave returned HTTP %d: %s", code, msg)
}
