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

package jobs

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/riskenclave/riskenclave/internal/analytics"
	"github.com/riskenclave/riskenclave/internal/fault"
	"github.com/riskenclave/riskenclave/internal/metrics"
	"github.com/riskenclave/riskenclave/internal/privacy"
	"github.com/riskenclave/riskenclave/internal/relay"
	"github.com/riskenclave/riskenclave/internal/retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func tracer() trace.Tracer {
	return otel.Tracer("github.com/riskenclave/riskenclave/internal/jobs")
}

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("orchestrator closed")

// errRestarted fails jobs found unfinished at startup. Their payload keys
// lived only in the memory of the process that accepted them.
var errRestarted = fault.New(fault.Internal, "gateway restarted before the job finished")

// finalWriteAttempts bounds the store writes of a job's terminal state.
const finalWriteAttempts = 3

// Computer performs one analytics attempt against an enclave.
// *relay.Client implements it.
type Computer interface {
	Analyze(ctx context.Context, req *relay.AnalyzeRequest) (*relay.AnalyzeResponse, error)
}

// Config tunes the retry loop.
type Config struct {
	MaxAttempts int
	Backoff     retry.BackoffFunc
	// Sleep replaces the real wait between attempts, nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultConfig waits min(attempt*2s, 10s) and gives up after 5 attempts.
var DefaultConfig = Config{
	MaxAttempts: 5,
	Backoff:     retry.Linear(2*time.Second, 10*time.Second),
}

// Orchestrator accepts jobs and drives each one on its own goroutine.
type Orchestrator struct {
	cfg      Config
	store    Store
	compute  Computer
	ledger   *privacy.Ledger
	notifier Notifier

	live mapset.Set[string] // ids processed by this orchestrator

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewOrchestrator wires the job pipeline. A nil ledger starts an empty one
// without a ceiling and a nil notifier drops events.
func NewOrchestrator(cfg Config, store Store, compute Computer, ledger *privacy.Ledger, notifier Notifier) *Orchestrator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig.MaxAttempts
	}
	if cfg.Backoff == nil {
		cfg.Backoff = DefaultConfig.Backoff
	}
	if ledger == nil {
		ledger = privacy.NewLedger(0)
	}
	if notifier == nil {
		notifier = NoopNotifier
	}
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		compute:  compute,
		ledger:   ledger,
		notifier: notifier,
		live:     mapset.NewSet[string](),
	}
}

// MaxRuntime bounds how long a job can stay unfinished when every attempt
// runs into attemptTimeout.
func (c Config) MaxRuntime(attemptTimeout time.Duration) time.Duration {
	backoff := c.Backoff
	if backoff == nil {
		backoff = DefaultConfig.Backoff
	}
	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultConfig.MaxAttempts
	}
	total := time.Duration(attempts) * attemptTimeout
	for i := 1; i < attempts; i++ {
		total += backoff(i)
	}
	return total
}

// Recover fails the stored jobs that are still pending or processing and
// were last updated more than olderThan ago, skipping the ones this
// orchestrator is running. A store shared with other gateways needs an age
// beyond their MaxRuntime.
func (o *Orchestrator) Recover(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := o.store.Unfinished(ctx)
	if err != nil {
		return 0, fault.Wrap(fault.Internal, err, "list unfinished jobs")
	}
	cutoff := time.Now().Add(-olderThan)
	var n int
	for _, job := range stale {
		if o.live.Contains(job.ID) || job.UpdatedAt.After(cutoff) {
			continue
		}
		log.Warn("Failing abandoned job", "id", job.ID, "status", job.Status, "updated", job.UpdatedAt)
		if o.fail(ctx, job, errRestarted) {
			n++
		}
	}
	return n, nil
}

// Ledger returns the process-wide privacy ledger.
func (o *Orchestrator) Ledger() *privacy.Ledger { return o.ledger }

// Get returns the stored job.
func (o *Orchestrator) Get(ctx context.Context, id string) (*Job, error) {
	return o.store.Get(ctx, id)
}

// Submit validates and encrypts the batch, stores a pending job and starts
// processing it in the background. It returns as soon as the job is stored.
func (o *Orchestrator) Submit(ctx context.Context, records []analytics.Record, epsilon float64) (*Job, error) {
	if len(records) == 0 {
		return nil, fault.New(fault.MalformedRequest, "records must not be empty")
	}
	if err := privacy.Validate(epsilon); err != nil {
		return nil, fault.Wrap(fault.MalformedRequest, err, "invalid epsilon")
	}
	payload, err := relay.EncryptForCompute(records)
	if err != nil {
		return nil, err
	}
	id, err := NewID()
	if err != nil {
		return nil, fault.Wrap(fault.Internal, err, "generate job id")
	}
	var nonce common.Hash
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fault.Wrap(fault.Internal, err, "generate nonce")
	}
	now := time.Now().UTC()
	job := &Job{
		ID:           id,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
		Epsilon:      epsilon,
		RequestNonce: nonce,
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrClosed
	}
	if err := o.store.Create(ctx, job); err != nil {
		return nil, fault.Wrap(fault.Internal, err, "store job")
	}
	metrics.IncJobSubmitted()
	o.notify(job)
	log.Info("Job submitted", "id", id, "records", len(records), "epsilon", epsilon)

	link := trace.LinkFromContext(ctx)
	o.live.Add(job.ID)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.live.Remove(job.ID)
		o.process(job.clone(), payload, link)
	}()
	return job, nil
}

// Close stops accepting jobs and waits for running ones to finish.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.wg.Wait()
}

// Wait blocks until all submitted jobs are terminal.
func (o *Orchestrator) Wait() { o.wg.Wait() }

func (o *Orchestrator) process(job *Job, payload *relay.EncryptedPayload, submit trace.Link) {
	// Jobs are never cancelled mid-flight.
	ctx, span := tracer().Start(context.Background(), "jobs.process",
		trace.WithNewRoot(), trace.WithLinks(submit), trace.WithAttributes(attribute.String("job.id", job.ID)))
	defer span.End()

	defer func() {
		clear(payload.Key)
		clear(payload.IV)
	}()

	job.Status = StatusProcessing
	job.UpdatedAt = time.Now().UTC()
	if err := o.store.Update(ctx, job); err != nil {
		log.Error("Failed to store job transition", "id", job.ID, "status", job.Status, "err", err)
		o.fail(ctx, job, fault.Wrap(fault.Internal, err, "store processing state"))
		return
	}
	o.notify(job)

	req := relay.NewAnalyzeRequest(payload, job.Epsilon, job.RequestNonce.Hex())
	var resp *relay.AnalyzeResponse
	policy := retry.Policy{
		MaxAttempts: o.cfg.MaxAttempts,
		Backoff:     o.cfg.Backoff,
		Retryable:   fault.Retryable,
		Sleep:       o.cfg.Sleep,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			metrics.IncComputeRetry()
			log.Warn("Enclave call failed, retrying", "id", job.ID, "attempt", attempt, "delay", delay, "err", err)
		},
	}
	attempts, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		r, err := o.compute.Analyze(ctx, req)
		if err != nil {
			metrics.IncComputeAttempt(string(fault.KindOf(err)))
			return err
		}
		metrics.IncComputeAttempt("")
		resp = r
		return nil
	})
	job.Attempts = attempts
	span.SetAttributes(attribute.Int("job.attempts", attempts))

	if err == nil {
		err = o.complete(job, resp)
	}
	if err == nil {
		if err = o.saveFinal(ctx, job); err != nil {
			err = fault.Wrap(fault.Internal, err, "store result")
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(fault.KindOf(err)))
		o.fail(ctx, job, err)
		return
	}
	o.notify(job)
	metrics.ObserveJobFinished(string(job.Status), "", job.UpdatedAt.Sub(job.CreatedAt))
	log.Info("Job completed", "id", job.ID, "attempts", attempts)
}

// complete fills in the terminal success state and charges the ledger.
func (o *Orchestrator) complete(job *Job, resp *relay.AnalyzeResponse) error {
	if resp.Attestation.Nonce != job.RequestNonce {
		return fault.New(fault.BindingMismatch, "attestation nonce %s does not match request nonce", resp.Attestation.Nonce.Hex())
	}
	var result struct {
		Budget *analytics.PrivacyBudget `json:"privacy_budget"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return fault.Wrap(fault.MalformedResponse, err, "decode result")
	}
	if result.Budget == nil {
		return fault.New(fault.MalformedResponse, "result has no privacy budget")
	}
	snap := o.ledger.Charge(result.Budget.TotalEpsilonConsumed, result.Budget.NumQueries)
	metrics.SetEpsilonConsumed(snap.CumulativeEpsilon, snap.CeilingExceeded)

	now := time.Now().UTC()
	job.Status = StatusCompleted
	job.Result = resp.Result
	job.Attestation = resp.Attestation
	job.UpdatedAt = now
	job.CompletedAt = &now
	return nil
}

// fail moves job to the failed state and reports whether that was stored.
func (o *Orchestrator) fail(ctx context.Context, job *Job, err error) bool {
	now := time.Now().UTC()
	job.Status = StatusFailed
	job.Result = nil
	job.Attestation = nil
	job.Error = fault.Describe(err)
	job.UpdatedAt = now
	job.CompletedAt = &now
	if serr := o.saveFinal(ctx, job); serr != nil {
		log.Error("Job left unfinished", "id", job.ID, "kind", job.Error.Kind, "err", err, "storeerr", serr)
		return false
	}
	o.notify(job)
	metrics.ObserveJobFinished(string(job.Status), string(job.Error.Kind), now.Sub(job.CreatedAt))
	log.Warn("Job failed", "id", job.ID, "attempts", job.Attempts, "kind", job.Error.Kind, "err", err)
	return true
}

// saveFinal stores a terminal state, retrying store errors that may pass.
func (o *Orchestrator) saveFinal(ctx context.Context, job *Job) error {
	_, err := retry.Do(ctx, retry.Policy{
		MaxAttempts: finalWriteAttempts,
		Backoff:     retry.Linear(250*time.Millisecond, time.Second),
		Retryable:   storeRetryable,
		Sleep:       o.cfg.Sleep,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			log.Warn("Failed to store final job state, retrying", "id", job.ID, "status", job.Status, "attempt", attempt, "err", err)
		},
	}, func(ctx context.Context, _ int) error {
		return o.store.Update(ctx, job)
	})
	return err
}

// storeRetryable rejects the lifecycle errors no retry can fix.
func storeRetryable(err error) bool {
	return !errors.Is(err, ErrJobNotFound) && !errors.Is(err, ErrJobImmutable) && !errors.Is(err, ErrInvalidTransition)
}

func (o *Orchestrator) notify(job *Job) {
	if err := o.notifier.Notify(eventOf(job)); err != nil {
		log.Debug("Job event not delivered", "id", job.ID, "status", job.Status, "err", err)
	}
}
