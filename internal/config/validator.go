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

package config

import (
	"bufio"
	"fmt"
	"os"
	"reflect"
	"strconv"

	"github.com/naoina/toml"
)

// Environment variables set by the enclave manifest. They are part of the
// measured image, so configuration files and flags cannot override them.
const (
	PinnedQuoterEnv     = "RISKENCLAVE_PINNED_QUOTER"
	PinnedReleaseRawEnv = "RISKENCLAVE_PINNED_RELEASE_RAW"
	PinnedDeltaEnv      = "RISKENCLAVE_PINNED_DELTA"
)

// PinnedConfig holds the manifest-fixed enclave parameters. Nil fields are
// not pinned.
type PinnedConfig struct {
	Quoter     *string
	ReleaseRaw *bool
	Delta      *float64
}

// LoadPinned reads the pinned parameters from the environment.
func LoadPinned() (*PinnedConfig, error) {
	return pinnedFrom(os.Getenv)
}

// manifest is the part of a Gramine manifest that carries the pinned
// parameters.
type manifest struct {
	Loader struct {
		Env map[string]string
	}
}

var manifestSettings = toml.Config{
	NormFieldName: toml.DefaultConfig.NormFieldName,
	FieldToKey:    toml.DefaultConfig.FieldToKey,
	MissingField: func(rt reflect.Type, field string) error {
		return nil
	},
}

// ReadManifestPinned reads the pinned parameters from the loader.env table
// of a Gramine manifest, as they will be seen inside the enclave.
func ReadManifestPinned(file string) (*PinnedConfig, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var m manifest
	if err := manifestSettings.NewDecoder(bufio.NewReader(f)).Decode(&m); err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return pinnedFrom(func(key string) string { return m.Loader.Env[key] })
}

func pinnedFrom(getenv func(string) string) (*PinnedConfig, error) {
	p := new(PinnedConfig)
	if v := getenv(PinnedQuoterEnv); v != "" {
		p.Quoter = &v
	}
	if v := getenv(PinnedReleaseRawEnv); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", PinnedReleaseRawEnv, err)
		}
		p.ReleaseRaw = &b
	}
	if v := getenv(PinnedDeltaEnv); v != "" {
		d, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", PinnedDeltaEnv, err)
		}
		p.Delta = &d
	}
	return p, nil
}

// ApplyPinned validates the enclave section against the pinned parameters.
// A setting that differs from the default and contradicts a pinned value is
// an error; otherwise the pinned value replaces it.
func ApplyPinned(cfg *EnclaveConfig, p *PinnedConfig) error {
	if p.Quoter != nil {
		if cfg.Quoter != Defaults.Enclave.Quoter && cfg.Quoter != *p.Quoter {
			return fmt.Errorf("quoter mismatch: config=%s, manifest=%s. Manifest parameters cannot be overridden", cfg.Quoter, *p.Quoter)
		}
		cfg.Quoter = *p.Quoter
	}
	if p.ReleaseRaw != nil {
		if cfg.ReleaseRawMetrics != Defaults.Enclave.ReleaseRawMetrics && cfg.ReleaseRawMetrics != *p.ReleaseRaw {
			return fmt.Errorf("raw metrics release mismatch: config=%t, manifest=%t. Manifest parameters cannot be overridden", cfg.ReleaseRawMetrics, *p.ReleaseRaw)
		}
		cfg.ReleaseRawMetrics = *p.ReleaseRaw
	}
	if p.Delta != nil {
		if cfg.Delta != Defaults.Enclave.Delta && cfg.Delta != *p.Delta {
			return fmt.Errorf("delta mismatch: config=%v, manifest=%v. Manifest parameters cannot be overridden", cfg.Delta, *p.Delta)
		}
		cfg.Delta = *p.Delta
	}
	return nil
}
