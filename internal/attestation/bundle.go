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
	"bytes"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Bundle is the evidence returned with every result: an optional hardware
// quote binding the signing address and nonce, plus a signature over the
// canonical result.
type Bundle struct {
	IntelQuote     OptionalBytes  `json:"intel_quote"`
	ReportData     hexutil.Bytes  `json:"report_data"`
	SigningAddress common.Address `json:"signing_address"`
	Signature      hexutil.Bytes  `json:"signature"`
	Nonce          common.Hash    `json:"nonce"`
	MessagePreview string         `json:"message_preview"`
	SigningAlgo    string         `json:"signing_algo"`
	ResultHash     common.Hash    `json:"result_hash"`
	TEEType        string         `json:"tee_type"`
}

// HasQuote reports whether the bundle carries a hardware quote.
func (b *Bundle) HasQuote() bool { return len(b.IntelQuote) > 0 }

// OptionalBytes is a byte string that encodes as null when empty. On input it
// accepts hex with or without the 0x prefix.
type OptionalBytes []byte

func (b OptionalBytes) MarshalJSON() ([]byte, error) {
	if len(b) == 0 {
		return []byte("null"), nil
	}
	return json.Marshal(hexutil.Encode(b))
}

func (b *OptionalBytes) UnmarshalJSON(input []byte) error {
	if bytes.Equal(bytes.TrimSpace(input), []byte("null")) {
		*b = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(input, &s); err != nil {
		return err
	}
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	dec, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	*b = dec
	return nil
}

// Evidence is a bundle as submitted for verification. Binary fields are kept
// as received, so a malformed value fails its own check rather than the
// whole request.
type Evidence struct {
	IntelQuote     string `json:"intel_quote"`
	ReportData     string `json:"report_data"`
	SigningAddress string `json:"signing_address"`
	Signature      string `json:"signature"`
	Nonce          string `json:"nonce"`
	MessagePreview string `json:"message_preview,omitempty"`
	SigningAlgo    string `json:"signing_algo,omitempty"`
	ResultHash     string `json:"result_hash,omitempty"`
	TEEType        string `json:"tee_type"`
}

// Evidence returns the wire form of b.
func (b *Bundle) Evidence() *Evidence {
	e := &Evidence{
		ReportData:     hexutil.Encode(b.ReportData),
		SigningAddress: hexutil.Encode(b.SigningAddress[:]),
		Signature:      hexutil.Encode(b.Signature),
		Nonce:          b.Nonce.Hex(),
		MessagePreview: b.MessagePreview,
		SigningAlgo:    b.SigningAlgo,
		ResultHash:     b.ResultHash.Hex(),
		TEEType:        b.TEEType,
	}
	if b.HasQuote() {
		e.IntelQuote = hexutil.Encode(b.IntelQuote)
	}
	return e
}

// ReportData lays out the 64 quote user-data bytes: the signing address
// left-aligned and zero padded to 32 bytes, followed by the nonce.
func ReportData(addr common.Address, nonce common.Hash) [ReportDataLen]byte {
	var rd [ReportDataLen]byte
	copy(rd[:32], pad32(addr))
	copy(rd[32:], nonce[:])
	return rd
}

func pad32(addr common.Address) []byte {
	out := make([]byte, 32)
	copy(out, addr[:])
	return out
}
