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

package privacy

import (
	crand "crypto/rand"
	"encoding/binary"
	"math"
	"math/rand/v2"
)

// Mechanism names a noise distribution.
type Mechanism string

const (
	Laplace  Mechanism = "laplace"
	Gaussian Mechanism = "gaussian"
)

// NoiseSource supplies the uniform and standard normal draws the mechanisms
// need. *rand.Rand satisfies it.
type NoiseSource interface {
	Float64() float64
	NormFloat64() float64
}

// NewSource returns a ChaCha8 generator seeded from the operating system.
func NewSource() NoiseSource {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		panic("privacy: cannot seed noise source: " + err.Error())
	}
	return rand.New(rand.NewChaCha8(seed))
}

// NewSeededSource returns a deterministic generator for reproducible output.
func NewSeededSource(seed uint64) NoiseSource {
	var s [32]byte
	binary.LittleEndian.PutUint64(s[:], seed)
	return rand.New(rand.NewChaCha8(s))
}

// LaplaceScale is the Laplace scale b = sensitivity/epsilon.
func LaplaceScale(sensitivity, epsilon float64) float64 {
	return sensitivity / epsilon
}

// GaussianSigma is the Gaussian standard deviation
// sqrt(2 ln(1.25/delta)) * sensitivity / epsilon.
func GaussianSigma(sensitivity, epsilon, delta float64) float64 {
	return math.Sqrt(2*math.Log(1.25/delta)) * sensitivity / epsilon
}

// LaplaceNoise draws one Laplace(0, b) sample by inverse transform.
func LaplaceNoise(src NoiseSource, b float64) float64 {
	for {
		u := src.Float64() - 0.5
		tail := 1 - 2*math.Abs(u)
		if tail <= 0 {
			continue
		}
		if u < 0 {
			return b * math.Log(tail)
		}
		return -b * math.Log(tail)
	}
}

// GaussianNoise draws one N(0, sigma^2) sample.
func GaussianNoise(src NoiseSource, sigma float64) float64 {
	return sigma * src.NormFloat64()
}

// AdvancedComposition is the total epsilon of k queries at epsilon each under
// the advanced composition bound sqrt(2k ln(1/delta)) * epsilon.
func AdvancedComposition(k int, epsilon, delta float64) float64 {
	if k <= 0 {
		return 0
	}
	return math.Sqrt(2*float64(k)*math.Log(1/delta)) * epsilon
}
