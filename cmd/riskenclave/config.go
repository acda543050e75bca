// Copyright 2026 The riskenclave Authors
// This file is part of riskenclave.
//
// riskenclave is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// riskenclave is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with riskenclave. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/riskenclave/riskenclave/internal/attestation"
	"github.com/riskenclave/riskenclave/internal/config"
	"github.com/riskenclave/riskenclave/internal/jobs"
	"github.com/riskenclave/riskenclave/internal/tracing"
	"github.com/urfave/cli/v2"
)

const (
	gatewayCategory  = "GATEWAY"
	enclaveCategory  = "ENCLAVE"
	storeCategory    = "STORE"
	verifierCategory = "VERIFIER"
	tracingCategory  = "TRACING"
)

var (
	configFileFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "TOML configuration file",
		EnvVars: []string{"RISKENCLAVE_CONFIG"},
	}

	listenAddrFlag = &cli.StringFlag{
		Name:  "addr",
		Usage: "HTTP listen address (overrides ListenAddr of the command's section)",
	}
	enclaveURLFlag = &cli.StringFlag{
		Name:     "enclave.url",
		Usage:    "Base URL of the enclave service",
		EnvVars:  []string{"RISKENCLAVE_ENCLAVE_URL"},
		Category: gatewayCategory,
	}
	corsFlag = &cli.StringSliceFlag{
		Name:     "http.corsdomain",
		Usage:    "Origins allowed to call the gateway from a browser",
		Category: gatewayCategory,
	}
	budgetCeilingFlag = &cli.Float64Flag{
		Name:     "budget.ceiling",
		Usage:    "Advisory cumulative epsilon ceiling (0 disables it)",
		Category: gatewayCategory,
	}

	storeBackendFlag = &cli.StringFlag{
		Name:     "store",
		Usage:    "Job store backend (memory|leveldb|redis)",
		EnvVars:  []string{"RISKENCLAVE_STORE"},
		Category: storeCategory,
	}
	storePathFlag = &cli.StringFlag{
		Name:     "store.path",
		Usage:    "Directory of the leveldb job store",
		Category: storeCategory,
	}
	redisURLFlag = &cli.StringFlag{
		Name:     "store.redis",
		Usage:    "Redis URL or address of the redis job store",
		EnvVars:  []string{"RISKENCLAVE_REDIS_URL"},
		Category: storeCategory,
	}
	natsURLFlag = &cli.StringFlag{
		Name:     "events.nats",
		Usage:    "NATS URL to publish job events to",
		EnvVars:  []string{"RISKENCLAVE_NATS_URL"},
		Category: storeCategory,
	}

	quoterFlag = &cli.StringFlag{
		Name:     "quoter",
		Usage:    "Quote provider (dstack|gramine|mock|none)",
		EnvVars:  []string{"RISKENCLAVE_QUOTER"},
		Category: enclaveCategory,
	}
	keyFileFlag = &cli.StringFlag{
		Name:     "key",
		Usage:    "Hex secp256k1 signing key file (default: ephemeral key)",
		Category: enclaveCategory,
	}
	metricsAddrFlag = &cli.StringFlag{
		Name:     "metrics.addr",
		Usage:    "Serve Prometheus metrics on this address",
		Category: enclaveCategory,
	}

	oracleURLFlag = &cli.StringFlag{
		Name:     "oracle.url",
		Usage:    "Quote verification service (selects the remote oracle)",
		EnvVars:  []string{"RISKENCLAVE_ORACLE_URL"},
		Category: verifierCategory,
	}
	allowMeasurementFlag = &cli.StringSliceFlag{
		Name:     "allow-measurement",
		Usage:    "Hex MRTD or MRENCLAVE accepted by the verifier (repeatable)",
		Category: verifierCategory,
	}

	traceExporterFlag = &cli.StringFlag{
		Name:     "tracing.exporter",
		Usage:    "Span exporter (none|stdout|otlphttp)",
		EnvVars:  []string{"RISKENCLAVE_TRACE_EXPORTER"},
		Category: tracingCategory,
	}
	traceEndpointFlag = &cli.StringFlag{
		Name:     "tracing.endpoint",
		Usage:    "OTLP/HTTP collector URL",
		EnvVars:  []string{"RISKENCLAVE_TRACE_ENDPOINT"},
		Category: tracingCategory,
	}
)

var (
	verifierFlags = []cli.Flag{oracleURLFlag, allowMeasurementFlag}
	tracingFlags  = []cli.Flag{traceExporterFlag, traceEndpointFlag}
)

var dumpConfigCommand = &cli.Command{
	Name:      "dumpconfig",
	Usage:     "Show configuration values",
	ArgsUsage: "[dumpfile]",
	Flags: append([]cli.Flag{
		enclaveURLFlag, corsFlag, budgetCeilingFlag,
		storeBackendFlag, storePathFlag, redisURLFlag, natsURLFlag,
		quoterFlag, keyFileFlag, metricsAddrFlag,
		oracleURLFlag, allowMeasurementFlag,
	}, tracingFlags...),
	Action: dumpConfig,
}

// loadConfig applies the config file and then the command line on top of
// the defaults.
func loadConfig(ctx *cli.Context) (*config.Config, error) {
	cfg := config.Defaults
	if file := ctx.String(configFileFlag.Name); file != "" {
		if err := config.Load(file, &cfg); err != nil {
			return nil, err
		}
	}
	applyFlags(ctx, &cfg)
	return &cfg, nil
}

func applyFlags(ctx *cli.Context, cfg *config.Config) {
	if ctx.IsSet(enclaveURLFlag.Name) {
		cfg.Gateway.EnclaveURL = ctx.String(enclaveURLFlag.Name)
	}
	if ctx.IsSet(corsFlag.Name) {
		cfg.Gateway.CORSOrigins = ctx.StringSlice(corsFlag.Name)
	}
	if ctx.IsSet(budgetCeilingFlag.Name) {
		cfg.Gateway.BudgetCeiling = ctx.Float64(budgetCeilingFlag.Name)
		cfg.Enclave.BudgetCeiling = cfg.Gateway.BudgetCeiling
	}
	if ctx.IsSet(storeBackendFlag.Name) {
		cfg.Store.Backend = ctx.String(storeBackendFlag.Name)
	}
	if ctx.IsSet(storePathFlag.Name) {
		cfg.Store.Path = ctx.String(storePathFlag.Name)
	}
	if ctx.IsSet(redisURLFlag.Name) {
		cfg.Store.RedisURL = ctx.String(redisURLFlag.Name)
	}
	if ctx.IsSet(natsURLFlag.Name) {
		cfg.Events.NATSURL = ctx.String(natsURLFlag.Name)
	}
	if ctx.IsSet(quoterFlag.Name) {
		cfg.Enclave.Quoter = ctx.String(quoterFlag.Name)
	}
	if ctx.IsSet(keyFileFlag.Name) {
		cfg.Enclave.KeyFile = ctx.String(keyFileFlag.Name)
	}
	if ctx.IsSet(metricsAddrFlag.Name) {
		cfg.Enclave.MetricsAddr = ctx.String(metricsAddrFlag.Name)
	}
	if ctx.IsSet(oracleURLFlag.Name) {
		cfg.Verifier.Oracle = "remote"
		cfg.Verifier.OracleURL = ctx.String(oracleURLFlag.Name)
	}
	if ctx.IsSet(allowMeasurementFlag.Name) {
		cfg.Verifier.AllowedMeasurements = append(cfg.Verifier.AllowedMeasurements, ctx.StringSlice(allowMeasurementFlag.Name)...)
	}
	if ctx.IsSet(traceExporterFlag.Name) {
		cfg.Tracing.Exporter = ctx.String(traceExporterFlag.Name)
	}
	if ctx.IsSet(traceEndpointFlag.Name) {
		cfg.Tracing.Endpoint = ctx.String(traceEndpointFlag.Name)
	}
}

// setupTracing installs the tracer provider and returns the function that
// flushes it on exit.
func setupTracing(service string, cfg *config.TracingConfig) (func(), error) {
	shutdown, err := tracing.Setup(context.Background(), service, tracing.Config{
		Exporter:    cfg.Exporter,
		Endpoint:    cfg.Endpoint,
		Insecure:    cfg.Insecure,
		SampleRatio: cfg.SampleRatio,
	})
	if err != nil {
		return nil, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			log.Warn("Failed to flush traces", "err", err)
		}
	}, nil
}

func dumpConfig(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	out := os.Stdout
	if ctx.NArg() > 0 {
		out, err = os.OpenFile(ctx.Args().Get(0), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return err
		}
		defer out.Close()
	}
	return config.Dump(out, cfg)
}

// openStore opens the configured job store.
func openStore(cfg *config.StoreConfig) (jobs.Store, error) {
	switch cfg.Backend {
	case "memory":
		return jobs.NewMemoryStore(), nil
	case "leveldb":
		if cfg.Path == "" {
			return nil, fmt.Errorf("leveldb store needs a path")
		}
		return jobs.NewLevelDBStore(cfg.Path)
	case "redis":
		return jobs.NewRedisStore(jobs.RedisConfig{
			URL:      cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.TTL.Duration,
		})
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// newVerifier builds the verifier with its oracle and allowlist.
func newVerifier(cfg *config.VerifierConfig) (*attestation.Verifier, error) {
	oracle, err := attestation.NewOracle(cfg.Oracle, cfg.OracleURL, cfg.OracleTimeout.Duration, cfg.CacheBytes)
	if err != nil {
		return nil, err
	}
	if cfg.Oracle != "remote" {
		log.Warn("No remote quote oracle configured, hardware quotes will be reported unverified")
	}
	v := attestation.NewVerifier(oracle)
	for _, m := range cfg.AllowedMeasurements {
		raw, err := hex.DecodeString(strings.TrimPrefix(m, "0x"))
		if err != nil || (len(raw) != 32 && len(raw) != 48) {
			return nil, fmt.Errorf("invalid measurement %q", m)
		}
		v.AllowMeasurement(raw)
	}
	return v, nil
}
