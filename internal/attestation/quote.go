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
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
)

// TEE types carried in the v4 quote header.
const (
	TEETypeSGX uint32 = 0x00000000
	TEETypeTDX uint32 = 0x00000081
)

// Quote layout. All integers are little-endian.
const (
	quoteHeaderLen = 48

	sgxMREnclaveOffset  = 112
	sgxMRSignerOffset   = 176
	sgxISVProdIDOffset  = 304
	sgxISVSVNOffset     = 306
	sgxReportDataOffset = 368
	sgxQuoteMinLen      = 432

	tdxMRTDOffset       = 184
	tdxReportDataOffset = 568
	tdxQuoteMinLen      = 632
)

// ReportDataLen is the size of the user data field in a quote.
const ReportDataLen = 64

var errQuoteTooShort = errors.New("quote too short")

// Quote is the parsed fixed-size part of an SGX or TDX quote.
type Quote struct {
	Version            uint16
	AttestationKeyType uint16
	TEEType            uint32

	// SGX report body
	MREnclave [32]byte
	MRSigner  [32]byte
	ISVProdID uint16
	ISVSVN    uint16

	// TDX report body
	MRTD [48]byte

	ReportData [ReportDataLen]byte
	Signature  []byte // everything after the report body
}

// IsTDX reports whether the quote carries a TD report.
func (q *Quote) IsTDX() bool { return q.TEEType == TEETypeTDX }

// Kind names the TEE that produced the quote.
func (q *Quote) Kind() string {
	if q.IsTDX() {
		return "tdx"
	}
	return "sgx"
}

// Measurement returns MRTD for TDX quotes and MRENCLAVE for SGX quotes.
func (q *Quote) Measurement() []byte {
	if q.IsTDX() {
		return q.MRTD[:]
	}
	return q.MREnclave[:]
}

// ParseQuote parses the header and report body of a raw quote. Only v4
// quotes can carry a TD report; v3 quotes are always SGX.
func ParseQuote(raw []byte) (*Quote, error) {
	if len(raw) < quoteHeaderLen {
		return nil, fmt.Errorf("%w: %d bytes", errQuoteTooShort, len(raw))
	}
	q := &Quote{
		Version:            binary.LittleEndian.Uint16(raw[0:2]),
		AttestationKeyType: binary.LittleEndian.Uint16(raw[2:4]),
	}
	if q.Version >= 4 {
		q.TEEType = binary.LittleEndian.Uint32(raw[4:8])
	}
	switch q.TEEType {
	case TEETypeTDX:
		if len(raw) < tdxQuoteMinLen {
			return nil, fmt.Errorf("%w for TDX: %d bytes, need %d", errQuoteTooShort, len(raw), tdxQuoteMinLen)
		}
		copy(q.MRTD[:], raw[tdxMRTDOffset:tdxMRTDOffset+48])
		copy(q.ReportData[:], raw[tdxReportDataOffset:tdxReportDataOffset+ReportDataLen])
		q.Signature = append([]byte(nil), raw[tdxQuoteMinLen:]...)
	case TEETypeSGX:
		if len(raw) < sgxQuoteMinLen {
			return nil, fmt.Errorf("%w for SGX: %d bytes, need %d", errQuoteTooShort, len(raw), sgxQuoteMinLen)
		}
		copy(q.MREnclave[:], raw[sgxMREnclaveOffset:sgxMREnclaveOffset+32])
		copy(q.MRSigner[:], raw[sgxMRSignerOffset:sgxMRSignerOffset+32])
		q.ISVProdID = binary.LittleEndian.Uint16(raw[sgxISVProdIDOffset:])
		q.ISVSVN = binary.LittleEndian.Uint16(raw[sgxISVSVNOffset:])
		copy(q.ReportData[:], raw[sgxReportDataOffset:sgxReportDataOffset+ReportDataLen])
		q.Signature = append([]byte(nil), raw[sgxQuoteMinLen:]...)
	default:
		return nil, fmt.Errorf("unsupported TEE type %#x", q.TEEType)
	}
	return q, nil
}

// constantTimeEqual compares two byte slices in time independent of their
// contents.
func constantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
