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
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/go-redis/redis/v8"
)

// RedisConfig locates a Redis server shared by several gateways.
type RedisConfig struct {
	URL      string // host:port or redis:// URL
	Password string
	DB       int
	Prefix   string        // key prefix, default "riskenclave:job:"
	TTL      time.Duration // expiry of stored jobs, 0 keeps them forever
}

const (
	defaultRedisPrefix = "riskenclave:job:"
	maxWatchRetries    = 8
)

// RedisStore keeps jobs as JSON strings in Redis. Updates run in a
// WATCH/MULTI transaction so concurrent writers cannot skip the lifecycle
// checks.
type RedisStore struct {
	cli    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	var opts *redis.Options
	if strings.HasPrefix(cfg.URL, "redis://") || strings.HasPrefix(cfg.URL, "rediss://") {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, err
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     cfg.URL,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}
	cli := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cli.Ping(ctx).Err(); err != nil {
		cli.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	log.Info("Opened job store", "backend", "redis", "addr", opts.Addr, "db", opts.DB)
	return &RedisStore{cli: cli, prefix: prefix, ttl: cfg.TTL}, nil
}

func (s *RedisStore) key(id string) string { return s.prefix + id }

func (s *RedisStore) Create(ctx context.Context, job *Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	blob, err := json.Marshal(job)
	if err != nil {
		return err
	}
	ok, err := s.cli.SetNX(ctx, s.key(job.ID), blob, s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrJobExists
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Job, error) {
	return decodeRedisJob(s.cli.Get(ctx, s.key(id)))
}

func decodeRedisJob(cmd *redis.StringCmd) (*Job, error) {
	blob, err := cmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(blob, &job); err != nil {
		return nil, fmt.Errorf("corrupt job: %w", err)
	}
	return &job, nil
}

func (s *RedisStore) Update(ctx context.Context, job *Job) error {
	blob, err := json.Marshal(job)
	if err != nil {
		return err
	}
	key := s.key(job.ID)
	txf := func(tx *redis.Tx) error {
		old, err := decodeRedisJob(tx.Get(ctx, key))
		if err != nil {
			return err
		}
		if err := checkTransition(old, job); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, blob, s.ttl)
			return nil
		})
		return err
	}
	for i := 0; i < maxWatchRetries; i++ {
		err := s.cli.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		log.Debug("Job update raced, retrying", "id", job.ID, "try", i+1)
	}
	return fmt.Errorf("update job %s: too much contention", job.ID)
}

func (s *RedisStore) Unfinished(ctx context.Context) ([]*Job, error) {
	var out []*Job
	it := s.cli.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for it.Next(ctx) {
		job, err := decodeRedisJob(s.cli.Get(ctx, it.Val()))
		if errors.Is(err, ErrJobNotFound) {
			continue // expired since the scan
		}
		if err != nil {
			return nil, err
		}
		if !job.Status.Terminal() {
			out = append(out, job)
		}
	}
	return out, it.Err()
}

func (s *RedisStore) Close() error { return s.cli.Close() }
