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

// Package fault defines the error taxonomy shared by the relay, the enclave
// and the verifier. A Kind decides whether an error is retried and how it is
// reported to callers.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind string

const (
	// NetworkFailure covers connection resets, timeouts, TLS failures and
	// 5xx answers from the enclave. It is the only retryable kind.
	NetworkFailure Kind = "network_failure"
	// MalformedRequest is a schema violation detected on either side.
	MalformedRequest Kind = "malformed_request"
	// DecryptionFailure means key and ciphertext do not match inside the enclave.
	DecryptionFailure Kind = "decryption_failure"
	// QuoteUnavailable is informational: no attestation hardware present.
	QuoteUnavailable Kind = "quote_unavailable"
	// QuoteInvalid means the oracle rejected the quote or its measurement is
	// not allowed.
	QuoteInvalid Kind = "quote_invalid"
	// BindingMismatch means the quote's report data does not bind the
	// signing address and nonce.
	BindingMismatch Kind = "binding_mismatch"
	// SignatureInvalid covers undecodable and non-matching signatures.
	SignatureInvalid Kind = "signature_invalid"
	// MalformedResponse is an enclave answer that does not decode into a
	// result and attestation.
	MalformedResponse Kind = "malformed_response"
	// ComputeFailure is a non-retryable error raised by the analytics itself.
	ComputeFailure Kind = "compute_failure"
	// Internal is anything unclassified.
	Internal Kind = "internal"
)

// Error is an error tagged with a Kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags err with kind. It returns nil if err is nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of the outermost tagged error in err's chain, or
// Internal if there is none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether err should be retried by the relay.
func Retryable(err error) bool {
	return Is(err, NetworkFailure)
}

// Descriptor is the wire form of an error attached to a failed job or a
// verification sub-check.
type Descriptor struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// Describe converts err into a Descriptor. It returns nil for a nil error.
func Describe(err error) *Descriptor {
	if err == nil {
		return nil
	}
	return &Descriptor{Kind: KindOf(err), Message: err.Error()}
}
