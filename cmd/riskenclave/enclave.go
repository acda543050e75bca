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
	"crypto/ecdsa"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/riskenclave/riskenclave/internal/attestation"
	"github.com/riskenclave/riskenclave/internal/config"
	"github.com/riskenclave/riskenclave/internal/enclave"
	"github.com/riskenclave/riskenclave/internal/httpx"
	"github.com/riskenclave/riskenclave/internal/metrics"
	"github.com/riskenclave/riskenclave/internal/privacy"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var enclaveCommand = &cli.Command{
	Name:  "enclave",
	Usage: "Run the compute service inside the trusted execution environment",
	Description: `
The enclave decrypts submitted records, computes the privatized risk metrics
and signs every result. Parameters pinned by the enclave manifest
(RISKENCLAVE_PINNED_*) take precedence over the configuration file.`,
	Flags: []cli.Flag{
		listenAddrFlag, quoterFlag, keyFileFlag, metricsAddrFlag, budgetCeilingFlag,
		traceExporterFlag, traceEndpointFlag,
	},
	Action: runEnclave,
}

func runEnclave(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if ctx.IsSet(listenAddrFlag.Name) {
		cfg.Enclave.ListenAddr = ctx.String(listenAddrFlag.Name)
	}
	pinned, err := config.LoadPinned()
	if err != nil {
		return err
	}
	if err := config.ApplyPinned(&cfg.Enclave, pinned); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	metrics.MustRegister()
	flushTraces, err := setupTracing("riskenclave-enclave", &cfg.Tracing)
	if err != nil {
		return err
	}
	defer flushTraces()

	var key *ecdsa.PrivateKey
	if cfg.Enclave.KeyFile != "" {
		if key, err = crypto.LoadECDSA(cfg.Enclave.KeyFile); err != nil {
			return err
		}
	}
	quoter, err := attestation.NewQuoter(cfg.Enclave.Quoter, cfg.Enclave.QuoterEndpoint)
	if err != nil {
		return err
	}
	gen, err := attestation.NewGenerator(key, quoter)
	if err != nil {
		return err
	}
	engine, err := privacy.NewEngine(cfg.Enclave.Delta, privacy.NewSource(), privacy.NewLedger(cfg.Enclave.BudgetCeiling))
	if err != nil {
		return err
	}
	svc := enclave.NewService(gen, engine, enclave.Options{ReleaseRawMetrics: cfg.Enclave.ReleaseRawMetrics})

	sigctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Starting enclave", "addr", cfg.Enclave.ListenAddr, "signer", gen.Address(),
		"quoter", cfg.Enclave.Quoter, "tee", svc.TEEAvailable(sigctx), "delta", cfg.Enclave.Delta)

	g, gctx := errgroup.WithContext(sigctx)
	g.Go(func() error {
		return httpx.Serve(gctx, &http.Server{
			Addr:              cfg.Enclave.ListenAddr,
			Handler:           svc.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		})
	})
	if cfg.Enclave.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		g.Go(func() error {
			return httpx.Serve(gctx, &http.Server{
				Addr:              cfg.Enclave.MetricsAddr,
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			})
		})
	}
	return g.Wait()
}
