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

// Package attestation produces and checks the evidence attached to enclave
// results: a hardware quote binding the enclave's signing address to a
// request nonce, and a personal-message signature over the canonical result.
package attestation

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/riskenclave/riskenclave/internal/canonical"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	signingAlgo       = "ecdsa"
	messagePreviewLen = 200
)

// tracer resolves the global provider on every call so that a provider
// installed after package init is honoured.
func tracer() trace.Tracer {
	return otel.Tracer("github.com/riskenclave/riskenclave/internal/attestation")
}

// Generator signs results with the enclave key and binds that key to a
// hardware quote.
type Generator struct {
	key    *ecdsa.PrivateKey
	addr   common.Address
	quoter Quoter
}

// NewGenerator creates a generator. A nil key generates a fresh secp256k1
// key, which lives only as long as the process. A nil quoter means no TEE.
func NewGenerator(key *ecdsa.PrivateKey, quoter Quoter) (*Generator, error) {
	if key == nil {
		var err error
		if key, err = crypto.GenerateKey(); err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
	}
	if quoter == nil {
		quoter = NoneQuoter{}
	}
	return &Generator{key: key, addr: crypto.PubkeyToAddress(key.PublicKey), quoter: quoter}, nil
}

// Address returns the enclave signing address.
func (g *Generator) Address() common.Address { return g.addr }

// TEEType names the configured quoter's TEE ("tdx", "sgx" or "none").
func (g *Generator) TEEType() string { return g.quoter.TEEType() }

// TEEAvailable reports whether the quoter can produce a quote.
func (g *Generator) TEEAvailable(ctx context.Context) bool {
	if _, ok := g.quoter.(NoneQuoter); ok {
		return false
	}
	_, err := g.quoter.Quote(ctx, [ReportDataLen]byte{})
	return err == nil
}

// Attest canonicalizes v, signs it and requests a quote over the signing
// address and nonce. It returns the bundle and the exact bytes that were
// signed. A zero nonce is replaced with a random one.
//
// A failing quoter does not fail the call: the bundle is returned without a
// quote, as in simulation mode.
func (g *Generator) Attest(ctx context.Context, v any, nonce common.Hash) (*Bundle, []byte, error) {
	msg, err := canonical.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("canonicalize: %w", err)
	}
	b, err := g.AttestMessage(ctx, msg, nonce)
	if err != nil {
		return nil, nil, err
	}
	return b, msg, nil
}

// AttestMessage is Attest over an already canonical message.
func (g *Generator) AttestMessage(ctx context.Context, msg []byte, nonce common.Hash) (*Bundle, error) {
	ctx, span := tracer().Start(ctx, "attestation.Attest")
	defer span.End()

	if nonce == (common.Hash{}) {
		if _, err := rand.Read(nonce[:]); err != nil {
			return nil, err
		}
	}
	sig, err := SignMessage(g.key, msg)
	if err != nil {
		return nil, err
	}
	rd := ReportData(g.addr, nonce)
	bundle := &Bundle{
		ReportData:     rd[:],
		SigningAddress: g.addr,
		Signature:      sig,
		Nonce:          nonce,
		MessagePreview: preview(msg),
		SigningAlgo:    signingAlgo,
		ResultHash:     crypto.Keccak256Hash(msg),
		TEEType:        "none",
	}
	quote, err := g.quoter.Quote(ctx, rd)
	switch {
	case err == nil && len(quote) > 0:
		bundle.IntelQuote = quote
		bundle.TEEType = g.quoter.TEEType()
	case errors.Is(err, ErrNoTEE):
		log.Debug("No TEE available, attesting without quote")
	case err != nil:
		log.Warn("Quote generation failed, attesting without quote", "tee", g.quoter.TEEType(), "err", err)
	}
	span.SetAttributes(attribute.Bool("quote", bundle.HasQuote()), attribute.String("tee", bundle.TEEType))
	return bundle, nil
}

// SignMessage signs the EIP-191 personal-message hash of msg and returns
// r || s || v with v in {27, 28}.
func SignMessage(key *ecdsa.PrivateKey, msg []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(msg), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RecoverSigner returns the address that produced sig over msg. Both the
// {0,1} and {27,28} recovery id conventions are accepted.
func RecoverSigner(msg, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	s := append([]byte(nil), sig...)
	switch s[crypto.RecoveryIDOffset] {
	case 27, 28:
		s[crypto.RecoveryIDOffset] -= 27
	case 0, 1:
	default:
		return common.Address{}, fmt.Errorf("invalid recovery id %d", sig[crypto.RecoveryIDOffset])
	}
	pub, err := crypto.SigToPub(accounts.TextHash(msg), s)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// preview returns at most the first 200 characters of msg.
func preview(msg []byte) string {
	if utf8.RuneCount(msg) <= messagePreviewLen {
		return string(msg)
	}
	n, i := 0, 0
	for i < len(msg) && n < messagePreviewLen {
		_, size := utf8.DecodeRune(msg[i:])
		i += size
		n++
	}
	return string(msg[:i])
}
