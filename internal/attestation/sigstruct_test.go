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
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/binary"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// sgxSigningKey builds an RSA-3072 key with the exponent SGX mandates.
func sgxSigningKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	three := big.NewInt(3)
	prime := func() *big.Int {
		for {
			p, err := rand.Prime(rand.Reader, 1536)
			require.NoError(t, err)
			if new(big.Int).Mod(p, three).Int64() == 2 {
				return p
			}
		}
	}
	p, q := prime(), prime()
	one := big.NewInt(1)
	phi := new(big.Int).Mul(new(big.Int).Sub(p, one), new(big.Int).Sub(q, one))
	key := &rsa.PrivateKey{
		PublicKey: rsa.PublicKey{N: new(big.Int).Mul(p, q), E: 3},
		D:         new(big.Int).ModInverse(three, phi),
		Primes:    []*big.Int{p, q},
	}
	key.Precompute()
	require.NoError(t, key.Validate())
	return key
}

func buildSigstruct(t *testing.T, key *rsa.PrivateKey, mrenclave [32]byte) []byte {
	t.Helper()
	raw := make([]byte, SigstructSize)
	copy(raw, sigstructHeader)
	binary.LittleEndian.PutUint32(raw[sigDateOffset:], 0x20260101)
	copy(raw[sigModulusOffset:], reversed(key.N.FillBytes(make([]byte, rsaKeyLen))))
	binary.LittleEndian.PutUint32(raw[sigExponentOffset:], 3)
	copy(raw[sigMREnclaveOff:], mrenclave[:])
	binary.LittleEndian.PutUint16(raw[sigISVProdIDOff:], 7)
	binary.LittleEndian.PutUint16(raw[sigISVSVNOff:], 2)

	signed := append(append([]byte(nil), raw[:128]...), raw[sigMiscOffset:sigMiscOffset+128]...)
	digest := sha256.Sum256(signed)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	require.NoError(t, err)
	copy(raw[sigSigOffset:], reversed(sig))
	return raw
}

func TestSigstruct(t *testing.T) {
	key := sgxSigningKey(t)
	mr := sha256.Sum256([]byte("riskenclave enclave image"))
	raw := buildSigstruct(t, key, mr)

	s, err := ParseSigstruct(raw)
	require.NoError(t, err)
	require.Equal(t, mr, s.MREnclave)
	require.Equal(t, uint16(7), s.ISVProdID)
	require.Equal(t, uint16(2), s.ISVSVN)
	require.Equal(t, sha256.Sum256(raw[sigModulusOffset:sigModulusOffset+rsaKeyLen]), s.MRSigner())
	require.NoError(t, s.VerifySignature())

	// The SVN is covered by the signature.
	tampered := append([]byte(nil), raw...)
	tampered[sigISVSVNOff]++
	s, err = ParseSigstruct(tampered)
	require.NoError(t, err)
	require.Error(t, s.VerifySignature())

	// A .sig file feeds the measurement allowlist.
	path := filepath.Join(t.TempDir(), "enclave.sig")
	require.NoError(t, os.WriteFile(path, raw, 0600))
	s, err = ReadSigstruct(path)
	require.NoError(t, err)
	v := NewVerifier(nil)
	v.AllowMeasurement(s.MREnclave[:])
	require.True(t, v.AllowedMeasurement(mr[:]))
	require.False(t, v.AllowedMeasurement(make([]byte, 32)))
}

func TestSigstructErrors(t *testing.T) {
	_, err := ParseSigstruct(make([]byte, 100))
	require.ErrorIs(t, err, errSigstructShort)

	_, err = ParseSigstruct(make([]byte, SigstructSize))
	require.ErrorIs(t, err, errSigstructHeader)

	raw := make([]byte, SigstructSize)
	copy(raw, sigstructHeader)
	binary.LittleEndian.PutUint32(raw[sigExponentOffset:], 65537)
	s, err := ParseSigstruct(raw)
	require.NoError(t, err)
	require.ErrorContains(t, s.VerifySignature(), "exponent")

	_, err = ReadSigstruct(filepath.Join(t.TempDir(), "missing.sig"))
	require.Error(t, err)
}
