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

package fault

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestKindOf(t *testing.T) {
	base := Wrap(NetworkFailure, io.ErrUnexpectedEOF, "read response")
	wrapped := fmt.Errorf("attempt 3: %w", base)

	if got := KindOf(wrapped); got != NetworkFailure {
		t.Errorf("KindOf = %s, want %s", got, NetworkFailure)
	}
	if !Retryable(wrapped) {
		t.Error("network failure should be retryable")
	}
	if !errors.Is(wrapped, io.ErrUnexpectedEOF) {
		t.Error("cause lost through wrapping")
	}
	if KindOf(errors.New("plain")) != Internal {
		t.Error("untagged errors should be internal")
	}
	if Retryable(nil) || Is(nil, Internal) {
		t.Error("nil error must not match any kind")
	}
}

func TestNonRetryableKinds(t *testing.T) {
	for _, kind := range []Kind{MalformedRequest, DecryptionFailure, BindingMismatch, SignatureInvalid, MalformedResponse, ComputeFailure} {
		if Retryable(New(kind, "boom")) {
			t.Errorf("%s must not be retryable", kind)
		}
	}
}

func TestDescribe(t *testing.T) {
	if Describe(nil) != nil {
		t.Fatal("Describe(nil) should be nil")
	}
	d := Describe(New(DecryptionFailure, "message authentication failed"))
	if d.Kind != DecryptionFailure {
		t.Errorf("kind = %s", d.Kind)
	}
	if d.Message != "decryption_failure: message authentication failed" {
		t.Errorf("message = %q", d.Message)
	}
	if Wrap(Internal, nil, "x") != nil {
		t.Error("Wrap(nil) should be nil")
	}
}
