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
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/log"
)

// SIGSTRUCT layout (Intel SDM, sgx_arch.h). Integers and RSA values are
// little-endian.
const (
	SigstructSize = 1808

	sigHeaderLen      = 16
	sigVendorOffset   = 16
	sigDateOffset     = 20
	sigModulusOffset  = 128
	sigExponentOffset = 512
	sigSigOffset      = 516
	sigMiscOffset     = 900
	sigAttrOffset     = 928
	sigMREnclaveOff   = 960
	sigISVProdIDOff   = 1024
	sigISVSVNOff      = 1026

	rsaKeyLen      = 384
	sgxRSAExponent = 3
)

var sigstructHeader = []byte{0x06, 0x00, 0x00, 0x00, 0xe1, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00}

var (
	errSigstructShort  = errors.New("sigstruct too short")
	errSigstructHeader = errors.New("sigstruct header mismatch")
)

// Sigstruct is the enclave signature structure produced by gramine-sgx-sign.
// Its MREnclave is the measurement a genuine SGX quote of the enclave
// reports, so it is what the verifier allowlist should hold.
type Sigstruct struct {
	Vendor     uint32
	Date       uint32
	Modulus    [rsaKeyLen]byte
	Exponent   uint32
	Signature  [rsaKeyLen]byte
	Attributes [16]byte
	MREnclave  [32]byte
	ISVProdID  uint16
	ISVSVN     uint16

	raw []byte
}

// ParseSigstruct decodes the first SigstructSize bytes of data.
func ParseSigstruct(data []byte) (*Sigstruct, error) {
	if len(data) < SigstructSize {
		return nil, fmt.Errorf("%w: %d bytes", errSigstructShort, len(data))
	}
	if !bytes.Equal(data[:sigHeaderLen], sigstructHeader) {
		return nil, errSigstructHeader
	}
	s := &Sigstruct{
		Vendor:    binary.LittleEndian.Uint32(data[sigVendorOffset:]),
		Date:      binary.LittleEndian.Uint32(data[sigDateOffset:]),
		Exponent:  binary.LittleEndian.Uint32(data[sigExponentOffset:]),
		ISVProdID: binary.LittleEndian.Uint16(data[sigISVProdIDOff:]),
		ISVSVN:    binary.LittleEndian.Uint16(data[sigISVSVNOff:]),
		raw:       append([]byte(nil), data[:SigstructSize]...),
	}
	copy(s.Modulus[:], data[sigModulusOffset:])
	copy(s.Signature[:], data[sigSigOffset:])
	copy(s.Attributes[:], data[sigAttrOffset:])
	copy(s.MREnclave[:], data[sigMREnclaveOff:])
	return s, nil
}

// ReadSigstruct loads a .sig file.
func ReadSigstruct(path string) (*Sigstruct, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := ParseSigstruct(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// MRSigner is the SHA-256 of the little-endian signer modulus.
func (s *Sigstruct) MRSigner() [32]byte {
	return sha256.Sum256(s.Modulus[:])
}

// signingData is the part of the structure covered by the RSA signature.
func (s *Sigstruct) signingData() []byte {
	out := make([]byte, 0, 256)
	out = append(out, s.raw[:128]...)
	return append(out, s.raw[sigMiscOffset:sigMiscOffset+128]...)
}

// VerifySignature checks the RSA-3072 (e=3) PKCS#1 v1.5 signature over the
// signed fields.
func (s *Sigstruct) VerifySignature() error {
	if s.Exponent != sgxRSAExponent {
		return fmt.Errorf("invalid RSA exponent %d", s.Exponent)
	}
	n := new(big.Int).SetBytes(reversed(s.Modulus[:]))
	if n.BitLen() != rsaKeyLen*8 {
		return fmt.Errorf("invalid modulus size %d bits", n.BitLen())
	}
	pub := &rsa.PublicKey{N: n, E: sgxRSAExponent}
	digest := sha256.Sum256(s.signingData())
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], reversed(s.Signature[:])); err != nil {
		return fmt.Errorf("sigstruct signature: %w", err)
	}
	mrsigner := s.MRSigner()
	log.Debug("Verified sigstruct", "mrenclave", fmt.Sprintf("%x", s.MREnclave), "mrsigner", fmt.Sprintf("%x", mrsigner[:]))
	return nil
}

func reversed(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[i] = b[len(b)-1-i]
	}
	return out
}
