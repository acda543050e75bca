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
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/riskenclave/riskenclave/internal/attestation"
	"github.com/riskenclave/riskenclave/internal/fault"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

func pendingJob(id string) *Job {
	now := time.Now().UTC()
	return &Job{ID: id, Status: StatusPending, CreatedAt: now, UpdatedAt: now, Epsilon: 1}
}

// testStore runs the lifecycle checks every Store must enforce.
func testStore(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrJobNotFound)
	require.ErrorIs(t, s.Update(ctx, pendingJob("missing")), ErrJobNotFound)

	job := pendingJob("a1")
	require.NoError(t, s.Create(ctx, job))
	require.ErrorIs(t, s.Create(ctx, job), ErrJobExists)

	bad := pendingJob("b1")
	bad.Result = json.RawMessage(`{}`)
	require.ErrorIs(t, s.Create(ctx, bad), ErrInvalidTransition)

	got, err := s.Get(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
	got.Epsilon = 99
	again, _ := s.Get(ctx, "a1")
	require.Equal(t, 1.0, again.Epsilon, "store must hand out copies")

	job.Status = StatusProcessing
	require.NoError(t, s.Update(ctx, job))

	// Completing without an attestation breaks the terminal invariant.
	job.Status = StatusCompleted
	job.Result = json.RawMessage(`{"ok":true}`)
	require.ErrorIs(t, s.Update(ctx, job), ErrInvalidTransition)

	now := time.Now().UTC()
	job.Attestation = &attestation.Bundle{SigningAlgo: "ecdsa"}
	job.CompletedAt = &now
	require.NoError(t, s.Update(ctx, job))

	got, err = s.Get(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
	require.JSONEq(t, `{"ok":true}`, string(got.Result))
	require.Equal(t, "ecdsa", got.Attestation.SigningAlgo)

	job.Status = StatusFailed
	job.Result = nil
	job.Attestation = nil
	job.Error = &fault.Descriptor{Kind: fault.Internal, Message: "late"}
	require.ErrorIs(t, s.Update(ctx, job), ErrJobImmutable)

	// pending -> completed skips processing.
	skip := pendingJob("c1")
	require.NoError(t, s.Create(ctx, skip))
	skip.Status = StatusCompleted
	skip.Result = json.RawMessage(`{}`)
	skip.Attestation = &attestation.Bundle{}
	skip.CompletedAt = &now
	require.ErrorIs(t, s.Update(ctx, skip), ErrInvalidTransition)

	left, err := s.Unfinished(ctx)
	require.NoError(t, err)
	require.Len(t, left, 1)
	require.Equal(t, "c1", left[0].ID)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	testStore(t, s)
	require.Equal(t, 2, s.Len())
}

func TestLevelDBStore(t *testing.T) {
	s, err := NewLevelDBStoreWithStorage(storage.NewMemStorage())
	require.NoError(t, err)
	defer s.Close()
	testStore(t, s)
}

func TestLevelDBStoreLock(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLevelDBStore(dir)
	require.NoError(t, err)

	_, err = NewLevelDBStore(dir)
	require.Error(t, err, "second open of a locked store must fail")

	require.NoError(t, s.Create(context.Background(), pendingJob("p1")))
	require.NoError(t, s.Close())

	s, err = NewLevelDBStore(dir)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
}

func TestLevelDBRecoverAfterReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewLevelDBStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.Create(ctx, pendingJob("p1")))
	running := pendingJob("p2")
	require.NoError(t, s.Create(ctx, running))
	running.Status = StatusProcessing
	require.NoError(t, s.Update(ctx, running))
	done := pendingJob("p3")
	require.NoError(t, s.Create(ctx, done))
	now := time.Now().UTC()
	done.Status = StatusFailed
	done.Error = &fault.Descriptor{Kind: fault.NetworkFailure, Message: "gone"}
	done.CompletedAt = &now
	require.NoError(t, s.Update(ctx, done))
	require.NoError(t, s.Close())

	// The gateway that owned p1 and p2 is gone.
	s, err = NewLevelDBStore(dir)
	require.NoError(t, err)
	o := NewOrchestrator(DefaultConfig, s, &scriptedComputer{}, nil, nil)
	n, err := o.Recover(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	o.Close()
	require.NoError(t, s.Close())

	s, err = NewLevelDBStore(dir)
	require.NoError(t, err)
	defer s.Close()
	for _, id := range []string{"p1", "p2"} {
		job, err := s.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, StatusFailed, job.Status, id)
		require.Equal(t, fault.Internal, job.Error.Kind)
		require.NotNil(t, job.CompletedAt)
	}
	job, err := s.Get(ctx, "p3")
	require.NoError(t, err)
	require.Equal(t, fault.NetworkFailure, job.Error.Kind, "terminal jobs are left alone")
	left, err := s.Unfinished(ctx)
	require.NoError(t, err)
	require.Empty(t, left)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("RISKENCLAVE_TEST_REDIS")
	if addr == "" {
		t.Skip("RISKENCLAVE_TEST_REDIS not set")
	}
	id, err := NewID()
	require.NoError(t, err)
	s, err := NewRedisStore(RedisConfig{URL: addr, Prefix: "riskenclave:test:" + id + ":", TTL: time.Minute})
	require.NoError(t, err)
	defer s.Close()
	testStore(t, s)
}

func TestNewID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := NewID()
		require.NoError(t, err)
		require.Len(t, id, 32)
		require.False(t, seen[id])
		seen[id] = true
	}
}

func TestEventOf(t *testing.T) {
	j := pendingJob("e1")
	j.Status = StatusFailed
	j.Error = &fault.Descriptor{Kind: fault.DecryptionFailure}
	j.Result = json.RawMessage(`{"secret":1}`)
	ev := eventOf(j)
	require.Equal(t, fault.DecryptionFailure, ev.ErrorKind)

	blob, err := json.Marshal(ev)
	require.NoError(t, err)
	require.NotContains(t, string(blob), "secret")
}

// recorder collects notifier events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) Close() {}

func (r *recorder) statuses(id string) []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Status
	for _, ev := range r.events {
		if ev.ID == id {
			out = append(out, ev.Status)
		}
	}
	return out
}

var errNotify = errors.New("bus down")

func TestNotifierFunc(t *testing.T) {
	var n Notifier = NotifierFunc(func(Event) error { return errNotify })
	require.ErrorIs(t, n.Notify(Event{}), errNotify)
	n.Close()
	require.NoError(t, NoopNotifier.Notify(Event{ID: "x"}))
}

func TestNATSNotifier(t *testing.T) {
	url := os.Getenv("RISKENCLAVE_TEST_NATS")
	if url == "" {
		t.Skip("RISKENCLAVE_TEST_NATS not set")
	}
	n, err := NewNATSNotifier(url)
	require.NoError(t, err)
	defer n.Close()

	sub, err := n.nc.SubscribeSync(SubjectPrefix + ">")
	require.NoError(t, err)
	require.NoError(t, n.Notify(Event{ID: "n1", Status: StatusCompleted}))

	msg, err := sub.NextMsg(5 * time.Second)
	require.NoError(t, err)
	require.Equal(t, SubjectPrefix+"completed", msg.Subject)
	var ev Event
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	require.Equal(t, "n1", ev.ID)
}

func TestJobJSONFieldNames(t *testing.T) {
	j := pendingJob("f1")
	j.RequestNonce = common.HexToHash("0x01")
	blob, err := json.Marshal(j)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(blob, &m))
	for _, k := range []string{"id", "status", "createdAt", "updatedAt", "epsilon", "requestNonce", "attempts"} {
		require.Contains(t, m, k)
	}
	require.NotContains(t, m, "result")
	require.NotContains(t, m, "error")
}
