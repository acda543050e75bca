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

// Package config defines the TOML configuration of the gateway and the
// enclave.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"time"
	"unicode"

	"github.com/naoina/toml"
)

// Duration is a time.Duration that reads and writes as "30s" in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config is the whole configuration file. Each command only reads the
// sections it needs.
type Config struct {
	Gateway  GatewayConfig
	Enclave  EnclaveConfig
	Store    StoreConfig
	Events   EventsConfig
	Verifier VerifierConfig
	Tracing  TracingConfig
}

// GatewayConfig configures the public API and its enclave client.
type GatewayConfig struct {
	ListenAddr   string
	EnclaveURL   string
	CORSOrigins  []string
	SubmitRate   float64
	SubmitBurst  int
	MaxBodyBytes int64

	// BudgetCeiling is the advisory cumulative epsilon, 0 disables it.
	BudgetCeiling float64
	MaxAttempts   int

	DialTimeout        Duration
	AttemptTimeout     Duration
	HealthTimeout      Duration
	AttestationTimeout Duration
}

// EnclaveConfig configures the compute service.
type EnclaveConfig struct {
	ListenAddr string
	// MetricsAddr serves Prometheus metrics on a separate listener when set.
	MetricsAddr    string
	Quoter         string // dstack, gramine, mock or none
	QuoterEndpoint string

	// KeyFile holds a hex secp256k1 key. Empty generates an ephemeral key.
	KeyFile           string
	Delta             float64
	BudgetCeiling     float64
	ReleaseRawMetrics bool
}

// StoreConfig selects the job store.
type StoreConfig struct {
	Backend       string // memory, leveldb or redis
	Path          string // leveldb directory
	RedisURL      string
	RedisPassword string
	RedisDB       int
	TTL           Duration
}

// EventsConfig enables job event publication.
type EventsConfig struct {
	NATSURL string
}

// VerifierConfig configures quote verification.
type VerifierConfig struct {
	Oracle              string // remote or local
	OracleURL           string
	OracleTimeout       Duration
	CacheBytes          int
	AllowedMeasurements []string
}

// TracingConfig selects the span exporter.
type TracingConfig struct {
	Exporter    string // none, stdout or otlphttp
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

// Defaults contains the default settings.
var Defaults = Config{
	Gateway: GatewayConfig{
		ListenAddr:         ":8080",
		EnclaveURL:         "http://127.0.0.1:8081",
		SubmitRate:         10,
		SubmitBurst:        20,
		MaxBodyBytes:       32 << 20,
		BudgetCeiling:      0,
		MaxAttempts:        5,
		DialTimeout:        Duration{30 * time.Second},
		AttemptTimeout:     Duration{120 * time.Second},
		HealthTimeout:      Duration{10 * time.Second},
		AttestationTimeout: Duration{10 * time.Second},
	},
	Enclave: EnclaveConfig{
		ListenAddr:        ":8081",
		Quoter:            "none",
		Delta:             1e-5,
		ReleaseRawMetrics: true,
	},
	Store: StoreConfig{
		Backend: "memory",
	},
	Verifier: VerifierConfig{
		Oracle:        "local",
		OracleTimeout: Duration{30 * time.Second},
		CacheBytes:    4 << 20,
	},
	Tracing: TracingConfig{
		Exporter:    "none",
		SampleRatio: 1,
	},
}

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://pkg.go.dev/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

// Load decodes file over cfg. Keys missing from the file keep their value.
func Load(file string, cfg *Config) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// Dump writes cfg as TOML.
func Dump(w io.Writer, cfg *Config) error {
	out, err := tomlSettings.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

// Validate checks the settings that have a closed set of values.
func (c *Config) Validate() error {
	switch c.Enclave.Quoter {
	case "dstack", "gramine", "mock", "none":
	default:
		return fmt.Errorf("unknown quoter %q", c.Enclave.Quoter)
	}
	switch c.Store.Backend {
	case "memory", "leveldb", "redis":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.Verifier.Oracle {
	case "local":
	case "remote":
		if c.Verifier.OracleURL == "" {
			return errors.New("remote oracle needs OracleURL")
		}
	default:
		return fmt.Errorf("unknown oracle %q", c.Verifier.Oracle)
	}
	switch c.Tracing.Exporter {
	case "none", "stdout", "otlphttp":
	default:
		return fmt.Errorf("unknown trace exporter %q", c.Tracing.Exporter)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("trace sample ratio %v outside [0, 1]", c.Tracing.SampleRatio)
	}
	if !(c.Enclave.Delta > 0 && c.Enclave.Delta < 1) {
		return fmt.Errorf("delta %v outside (0, 1)", c.Enclave.Delta)
	}
	if c.Gateway.BudgetCeiling < 0 || c.Enclave.BudgetCeiling < 0 {
		return errors.New("budget ceiling must not be negative")
	}
	return nil
}
