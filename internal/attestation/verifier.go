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

package attestation

import (
	"context"
	"encoding/hex"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/riskenclave/riskenclave/internal/canonical"
	"github.com/riskenclave/riskenclave/internal/fault"
	"go.opentelemetry.io/otel/attribute"
)

// Status is the outcome of one verification sub-check.
type Status string

const (
	StatusPassed        Status = "passed"
	StatusFailed        Status = "failed"
	StatusNotApplicable Status = "not_applicable"
	// StatusUnverified is a quote whose layout was read but whose signature
	// chain nobody checked. It never counts as valid.
	StatusUnverified Status = "unverified"
)

// Check is one sub-check of a verification.
type Check struct {
	Status Status            `json:"status"`
	Valid  bool              `json:"valid"`
	Source string            `json:"source,omitempty"`
	Error  *fault.Descriptor `json:"error,omitempty"`
}

func passed(source string) Check { return Check{Status: StatusPassed, Valid: true, Source: source} }

func failed(source string, err error) Check {
	return Check{Status: StatusFailed, Source: source, Error: fault.Describe(err)}
}

func notApplicable(reason string) Check {
	return Check{Status: StatusNotApplicable, Source: reason}
}

// Details breaks a verdict down per sub-check.
type Details struct {
	TDXQuote          Check `json:"tdxQuote"`
	ReportDataBinding Check `json:"reportDataBinding"`
	ResultSignature   Check `json:"resultSignature"`
}

// Verification is the verifier's answer.
type Verification struct {
	Verified bool    `json:"verified"`
	Details  Details `json:"details"`
}

// Verifier checks bundles against their results. It is safe for concurrent
// use.
type Verifier struct {
	oracle    Oracle
	allowlist mapset.Set[string]
}

// NewVerifier creates a verifier. A nil oracle uses LocalOracle.
func NewVerifier(oracle Oracle) *Verifier {
	if oracle == nil {
		oracle = LocalOracle{}
	}
	return &Verifier{oracle: oracle, allowlist: mapset.NewSet[string]()}
}

// AllowMeasurement adds an MRTD or MRENCLAVE to the allowlist. While the
// allowlist is empty every measurement is accepted.
func (v *Verifier) AllowMeasurement(m []byte) {
	v.allowlist.Add(hex.EncodeToString(m))
}

// AllowedMeasurement reports whether m passes the allowlist.
func (v *Verifier) AllowedMeasurement(m []byte) bool {
	if v.allowlist.Cardinality() == 0 {
		return true
	}
	return v.allowlist.Contains(hex.EncodeToString(m))
}

// Verify runs the quote, binding and signature checks. result is the raw
// JSON result as received; it is canonicalized before the signature check.
// requestNonce is the nonce the caller sent with its request; binding
// cannot pass without it.
//
// The verdict is signature AND (no quote OR (quote AND binding)). Failures
// of individual checks are reported in the details and never returned as
// errors.
func (v *Verifier) Verify(ctx context.Context, b *Bundle, result []byte, requestNonce *common.Hash) *Verification {
	return v.VerifyEvidence(ctx, b.Evidence(), result, requestNonce)
}

// VerifyEvidence is Verify over a bundle in its wire form. Undecodable
// fields fail the check that uses them.
func (v *Verifier) VerifyEvidence(ctx context.Context, e *Evidence, result []byte, requestNonce *common.Hash) *Verification {
	ctx, span := tracer().Start(ctx, "attestation.Verify")
	defer span.End()

	addr, addrErr := parseAddress(e.SigningAddress)
	out := new(Verification)
	out.Details.ResultSignature = checkSignature(e.Signature, addr, addrErr, result)

	quote, quoteErr := decodeHex(e.IntelQuote)
	hasQuote := quoteErr != nil || len(quote) > 0
	switch {
	case !hasQuote:
		out.Details.TDXQuote = notApplicable("no quote")
		out.Details.ReportDataBinding = notApplicable("no quote")
	case quoteErr != nil:
		out.Details.TDXQuote = failed("", fault.Wrap(fault.QuoteInvalid, quoteErr, "decode quote"))
		out.Details.ReportDataBinding = failed("", fault.New(fault.BindingMismatch, "quote report data unavailable"))
	default:
		var reportData []byte
		out.Details.TDXQuote, reportData = v.checkQuote(ctx, quote)
		out.Details.ReportDataBinding = checkBinding(addr, addrErr, reportData, requestNonce)
	}

	sigOK := out.Details.ResultSignature.Valid
	quoteOK := !hasQuote || (out.Details.TDXQuote.Valid && out.Details.ReportDataBinding.Valid)
	out.Verified = sigOK && quoteOK

	span.SetAttributes(
		attribute.Bool("verified", out.Verified),
		attribute.String("quote", string(out.Details.TDXQuote.Status)),
		attribute.String("binding", string(out.Details.ReportDataBinding.Status)),
		attribute.Bool("signature", sigOK),
	)
	return out
}

// checkQuote asks the oracle about the quote and returns the report data to
// check the binding against, falling back to a local parse.
func (v *Verifier) checkQuote(ctx context.Context, quote []byte) (Check, []byte) {
	var (
		reportData  []byte
		measurement []byte
	)
	if q, err := ParseQuote(quote); err == nil {
		reportData, measurement = q.ReportData[:], q.Measurement()
	}
	res, err := v.oracle.Check(ctx, quote)
	if err != nil {
		return failed("", err), reportData
	}
	if len(res.ReportData) == ReportDataLen {
		reportData = res.ReportData
	}
	if len(res.Measurement) > 0 {
		measurement = res.Measurement
	}
	if res.Unchecked {
		return Check{
			Status: StatusUnverified,
			Source: res.Source,
			Error:  fault.Describe(fault.New(fault.QuoteInvalid, "quote signature not checked by %s oracle", res.Source)),
		}, reportData
	}
	if !res.Verified {
		return failed(res.Source, fault.New(fault.QuoteInvalid, "quote rejected by %s oracle", res.Source)), reportData
	}
	if measurement != nil && !v.AllowedMeasurement(measurement) {
		return failed(res.Source, fault.New(fault.QuoteInvalid, "measurement %x not allowed", measurement)), reportData
	}
	return passed(res.Source), reportData
}

func checkBinding(addr common.Address, addrErr error, reportData []byte, requestNonce *common.Hash) Check {
	if len(reportData) != ReportDataLen {
		return failed("", fault.New(fault.BindingMismatch, "quote report data unavailable"))
	}
	if addrErr != nil {
		return failed("", fault.Wrap(fault.BindingMismatch, addrErr, "signing address"))
	}
	if requestNonce == nil {
		return failed("", fault.New(fault.MalformedRequest, "request nonce required to check binding"))
	}
	addrOK := constantTimeEqual(reportData[:32], pad32(addr))
	nonceOK := constantTimeEqual(reportData[32:], requestNonce[:])
	switch {
	case !addrOK && !nonceOK:
		return failed("", fault.New(fault.BindingMismatch, "report data binds neither signing address nor nonce"))
	case !addrOK:
		return failed("", fault.New(fault.BindingMismatch, "report data does not bind signing address"))
	case !nonceOK:
		return failed("", fault.New(fault.BindingMismatch, "report data does not bind request nonce"))
	}
	return passed("")
}

func checkSignature(sigHex string, addr common.Address, addrErr error, result []byte) Check {
	msg, err := canonical.Canonicalize(result)
	if err != nil {
		return failed("", fault.Wrap(fault.MalformedRequest, err, "canonicalize result"))
	}
	if addrErr != nil {
		return failed("", fault.Wrap(fault.SignatureInvalid, addrErr, "signing address"))
	}
	sig, err := decodeHex(sigHex)
	if err != nil {
		return failed("", fault.Wrap(fault.SignatureInvalid, err, "decode signature"))
	}
	signer, err := RecoverSigner(msg, sig)
	if err != nil {
		return failed("", fault.Wrap(fault.SignatureInvalid, err, "recover signer"))
	}
	if signer != addr {
		return failed("", fault.New(fault.SignatureInvalid, "signed by %s, claimed %s", signer.Hex(), addr.Hex()))
	}
	return passed("")
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// ParseNonce decodes a 0x-prefixed 32-byte hex nonce. Empty input yields nil.
func ParseNonce(s string) (*common.Hash, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := decodeHex(s)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce: %w", err)
	}
	if len(raw) != common.HashLength {
		return nil, fmt.Errorf("invalid nonce: want %d bytes, got %d", common.HashLength, len(raw))
	}
	h := common.BytesToHash(raw)
	return &h, nil
}
