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

// Package httpx holds the middleware and JSON helpers shared by the gateway
// and the enclave servers.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/riskenclave/riskenclave/internal/fault"
	"github.com/riskenclave/riskenclave/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// RequestIDHeader is echoed on every response.
const RequestIDHeader = "X-Request-Id"

type ctxKey struct{}

// RequestID returns the id assigned to the request, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// WithRequestID keeps a well-formed incoming X-Request-Id or assigns a new
// one.
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

// Trace continues the caller's trace from the W3C trace context headers.
func Trace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Observe logs every request and records it in the HTTP metrics, labelled
// by the chi route pattern.
func Observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &metrics.StatusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.Status == 0 {
			rec.Status = http.StatusOK
		}
		var route string
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)
		metrics.ObserveHTTP(route, r.Method, rec.Status, elapsed)

		ctx := []any{"method", r.Method, "path", r.URL.Path, "status", rec.Status, "elapsed", elapsed, "reqid", RequestID(r.Context())}
		switch {
		case rec.Status >= 500:
			log.Warn("Served request", ctx...)
		default:
			log.Debug("Served request", ctx...)
		}
	})
}

// Recover turns a handler panic into a 500.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.Error("Handler panic", "path", r.URL.Path, "reqid", RequestID(r.Context()), "panic", rec)
				WriteError(w, fault.New(fault.Internal, "internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ErrorBody is the JSON form of every error response.
type ErrorBody struct {
	Error string     `json:"error"`
	Kind  fault.Kind `json:"kind"`
}

// StatusOf maps an error kind to an HTTP status.
func StatusOf(kind fault.Kind) int {
	switch kind {
	case fault.MalformedRequest:
		return http.StatusBadRequest
	case fault.DecryptionFailure, fault.ComputeFailure:
		return http.StatusUnprocessableEntity
	case fault.NetworkFailure, fault.QuoteUnavailable:
		return http.StatusBadGateway
	case fault.MalformedResponse:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// WriteError writes err as an ErrorBody with the status of its kind.
func WriteError(w http.ResponseWriter, err error) {
	kind := fault.KindOf(err)
	msg := err.Error()
	if kind == fault.Internal {
		msg = "internal error"
	}
	WriteJSON(w, StatusOf(kind), ErrorBody{Error: msg, Kind: kind})
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		log.Debug("Failed to write response", "err", err)
	}
}

// DecodeJSON reads a size-limited JSON body into v. Any failure is a
// MalformedRequest.
func DecodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	if err := dec.Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return fault.New(fault.MalformedRequest, "request body exceeds %d bytes", limit)
		}
		return fault.Wrap(fault.MalformedRequest, err, "decode request body")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fault.New(fault.MalformedRequest, "trailing data after request body")
	}
	return nil
}

// ShutdownTimeout bounds graceful server shutdown.
const ShutdownTimeout = 30 * time.Second

// Serve runs srv until ctx is cancelled, then shuts it down gracefully.
func Serve(ctx context.Context, srv *http.Server) error {
	errc := make(chan error, 1)
	go func() {
		log.Info("HTTP server started", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return fmt.Errorf("http server %s: %w", srv.Addr, err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	log.Info("HTTP server stopped", "addr", srv.Addr)
	<-errc
	return err
}
