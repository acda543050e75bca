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
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/riskenclave/riskenclave/internal/gateway"
	"github.com/riskenclave/riskenclave/internal/httpx"
	"github.com/riskenclave/riskenclave/internal/jobs"
	"github.com/riskenclave/riskenclave/internal/metrics"
	"github.com/riskenclave/riskenclave/internal/privacy"
	"github.com/riskenclave/riskenclave/internal/relay"
	"github.com/urfave/cli/v2"
)

var gatewayCommand = &cli.Command{
	Name:  "gateway",
	Usage: "Run the public job API in front of an enclave",
	Flags: append([]cli.Flag{
		listenAddrFlag, enclaveURLFlag, corsFlag, budgetCeilingFlag,
		storeBackendFlag, storePathFlag, redisURLFlag, natsURLFlag,
		oracleURLFlag, allowMeasurementFlag,
	}, tracingFlags...),
	Action: runGateway,
}

func runGateway(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if ctx.IsSet(listenAddrFlag.Name) {
		cfg.Gateway.ListenAddr = ctx.String(listenAddrFlag.Name)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	metrics.MustRegister()
	flushTraces, err := setupTracing("riskenclave-gateway", &cfg.Tracing)
	if err != nil {
		return err
	}
	defer flushTraces()

	store, err := openStore(&cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	var notifier jobs.Notifier = jobs.NoopNotifier
	if cfg.Events.NATSURL != "" {
		n, err := jobs.NewNATSNotifier(cfg.Events.NATSURL)
		if err != nil {
			return err
		}
		notifier = n
	}
	defer notifier.Close()

	client, err := relay.NewClient(relay.Config{
		URL:                cfg.Gateway.EnclaveURL,
		DialTimeout:        cfg.Gateway.DialTimeout.Duration,
		AttemptTimeout:     cfg.Gateway.AttemptTimeout.Duration,
		HealthTimeout:      cfg.Gateway.HealthTimeout.Duration,
		AttestationTimeout: cfg.Gateway.AttestationTimeout.Duration,
	})
	if err != nil {
		return err
	}
	verifier, err := newVerifier(&cfg.Verifier)
	if err != nil {
		return err
	}

	jobCfg := jobs.Config{MaxAttempts: cfg.Gateway.MaxAttempts}
	orch := jobs.NewOrchestrator(jobCfg, store, client, privacy.NewLedger(cfg.Gateway.BudgetCeiling), notifier)
	// Runs before the store and notifier are closed.
	defer orch.Close()

	// A redis store may hold the running jobs of other gateways.
	var grace time.Duration
	if cfg.Store.Backend == "redis" {
		grace = jobCfg.MaxRuntime(client.AttemptTimeout())
	}
	n, err := orch.Recover(context.Background(), grace)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Warn("Failed jobs left unfinished by a previous run", "count", n)
	}

	srv := gateway.NewServer(orch, client, verifier, gateway.Options{
		CORSOrigins:  cfg.Gateway.CORSOrigins,
		SubmitRate:   cfg.Gateway.SubmitRate,
		SubmitBurst:  cfg.Gateway.SubmitBurst,
		MaxBodyBytes: cfg.Gateway.MaxBodyBytes,
	})

	sigctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Starting gateway", "addr", cfg.Gateway.ListenAddr, "enclave", client.URL(), "store", cfg.Store.Backend)
	srv.Ping(sigctx)
	err = httpx.Serve(sigctx, &http.Server{
		Addr:              cfg.Gateway.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	})
	log.Info("Waiting for running jobs")
	return err
}
