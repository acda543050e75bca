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

// Package relay moves record batches from the gateway to the enclave: it
// encrypts them with disposable key material and calls the enclave's
// analytics endpoint.
package relay

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/riskenclave/riskenclave/internal/analytics"
	"github.com/riskenclave/riskenclave/internal/fault"
)

const (
	KeySize   = 32 // AES-256
	NonceSize = 16 // GCM nonce ("iv" on the wire)
)

// EncryptedPayload is one encrypted record batch with the key material that
// opens it. Key material is generated per call and never reused.
type EncryptedPayload struct {
	Ciphertext []byte
	Key        []byte
	IV         []byte
}

// EncryptForCompute serializes records and seals them with a fresh key and
// iv under AES-256-GCM.
func EncryptForCompute(records []analytics.Record) (*EncryptedPayload, error) {
	plaintext, err := json.Marshal(records)
	if err != nil {
		return nil, fault.Wrap(fault.MalformedRequest, err, "encode records")
	}
	return Seal(plaintext)
}

// Seal encrypts plaintext with fresh key material.
func Seal(plaintext []byte) (*EncryptedPayload, error) {
	p := &EncryptedPayload{Key: make([]byte, KeySize), IV: make([]byte, NonceSize)}
	if _, err := rand.Read(p.Key); err != nil {
		return nil, fault.Wrap(fault.Internal, err, "generate key")
	}
	if _, err := rand.Read(p.IV); err != nil {
		return nil, fault.Wrap(fault.Internal, err, "generate iv")
	}
	aead, err := newAEAD(p.Key)
	if err != nil {
		return nil, err
	}
	p.Ciphertext = aead.Seal(nil, p.IV, plaintext, nil)
	return p, nil
}

// Open authenticates and decrypts the payload.
func (p *EncryptedPayload) Open() ([]byte, error) {
	if len(p.Key) != KeySize {
		return nil, fault.New(fault.MalformedRequest, "key must be %d bytes, got %d", KeySize, len(p.Key))
	}
	if len(p.IV) != NonceSize {
		return nil, fault.New(fault.MalformedRequest, "iv must be %d bytes, got %d", NonceSize, len(p.IV))
	}
	aead, err := newAEAD(p.Key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, p.IV, p.Ciphertext, nil)
	if err != nil {
		return nil, fault.Wrap(fault.DecryptionFailure, err, "open payload")
	}
	return plaintext, nil
}

// Decrypt opens the payload and decodes the record batch.
func Decrypt(p *EncryptedPayload) ([]analytics.Record, error) {
	plaintext, err := p.Open()
	if err != nil {
		return nil, err
	}
	records, err := analytics.DecodeRecords(plaintext)
	if err != nil {
		return nil, fault.Wrap(fault.MalformedRequest, err, "decode records")
	}
	return records, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fault.Wrap(fault.MalformedRequest, err, "init cipher")
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fault.Wrap(fault.Internal, err, "init gcm")
	}
	return aead, nil
}

// EncodeBytes is the wire encoding of symmetric material: unpadded base64url.
func EncodeBytes(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeBytes accepts padded or unpadded base64url.
func DecodeBytes(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// AnalyzeRequest is the body of the enclave's /analyze endpoint.
type AnalyzeRequest struct {
	Data    string  `json:"data"`
	Key     string  `json:"key"`
	IV      string  `json:"iv"`
	Epsilon float64 `json:"epsilon"`
	Nonce   string  `json:"nonce,omitempty"`
}

// NewAnalyzeRequest encodes p for the wire.
func NewAnalyzeRequest(p *EncryptedPayload, epsilon float64, nonce string) *AnalyzeRequest {
	return &AnalyzeRequest{
		Data:    EncodeBytes(p.Ciphertext),
		Key:     EncodeBytes(p.Key),
		IV:      EncodeBytes(p.IV),
		Epsilon: epsilon,
		Nonce:   nonce,
	}
}

// Payload decodes the encrypted payload carried by the request.
func (r *AnalyzeRequest) Payload() (*EncryptedPayload, error) {
	var (
		p   EncryptedPayload
		err error
	)
	if p.Ciphertext, err = DecodeBytes(r.Data); err != nil {
		return nil, fault.Wrap(fault.MalformedRequest, err, "decode data")
	}
	if p.Key, err = DecodeBytes(r.Key); err != nil {
		return nil, fault.Wrap(fault.MalformedRequest, err, "decode key")
	}
	if p.IV, err = DecodeBytes(r.IV); err != nil {
		return nil, fault.Wrap(fault.MalformedRequest, err, "decode iv")
	}
	if len(p.Ciphertext) == 0 {
		return nil, fault.New(fault.MalformedRequest, "empty data")
	}
	return &p, nil
}

func (p *EncryptedPayload) String() string {
	return fmt.Sprintf("EncryptedPayload{%d bytes}", len(p.Ciphertext))
}
