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

// Package jobs runs analytics jobs: it stores them, drives each one through
// pending, processing and a terminal state, and retries transient enclave
// failures.
package jobs

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/riskenclave/riskenclave/internal/attestation"
	"github.com/riskenclave/riskenclave/internal/fault"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one submitted analytics request.
type Job struct {
	ID           string              `json:"id"`
	Status       Status              `json:"status"`
	CreatedAt    time.Time           `json:"createdAt"`
	UpdatedAt    time.Time           `json:"updatedAt"`
	CompletedAt  *time.Time          `json:"completedAt,omitempty"`
	Epsilon      float64             `json:"epsilon"`
	RequestNonce common.Hash         `json:"requestNonce"`
	Attempts     int                 `json:"attempts"`
	Result       json.RawMessage     `json:"result,omitempty"`
	Attestation  *attestation.Bundle `json:"attestation,omitempty"`
	Error        *fault.Descriptor   `json:"error,omitempty"`
}

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobExists         = errors.New("job already exists")
	ErrJobImmutable      = errors.New("job is in a terminal state")
	ErrInvalidTransition = errors.New("invalid job transition")
)

// NewID returns 16 random bytes, hex encoded.
func NewID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

// Validate checks the per-state invariants: exactly one of result and error
// is set in terminal states, neither before.
func (j *Job) Validate() error {
	hasResult := len(j.Result) > 0
	hasError := j.Error != nil
	switch j.Status {
	case StatusPending, StatusProcessing:
		if hasResult || hasError || j.CompletedAt != nil {
			return fmt.Errorf("%w: %s job carries an outcome", ErrInvalidTransition, j.Status)
		}
	case StatusCompleted:
		if !hasResult || hasError || j.Attestation == nil {
			return fmt.Errorf("%w: completed job needs result and attestation only", ErrInvalidTransition)
		}
	case StatusFailed:
		if hasResult || !hasError {
			return fmt.Errorf("%w: failed job needs an error only", ErrInvalidTransition)
		}
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, j.Status)
	}
	return nil
}

// checkTransition validates replacing old with next.
func checkTransition(old, next *Job) error {
	if old.Status.Terminal() {
		return ErrJobImmutable
	}
	switch {
	case old.Status == next.Status:
	case old.Status == StatusPending && next.Status == StatusProcessing:
	case old.Status == StatusProcessing && next.Status.Terminal():
	case old.Status == StatusPending && next.Status == StatusFailed:
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, old.Status, next.Status)
	}
	return next.Validate()
}

func (j *Job) clone() *Job {
	cp := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	if j.Result != nil {
		cp.Result = append(json.RawMessage(nil), j.Result...)
	}
	if j.Attestation != nil {
		b := *j.Attestation
		cp.Attestation = &b
	}
	if j.Error != nil {
		e := *j.Error
		cp.Error = &e
	}
	return &cp
}
