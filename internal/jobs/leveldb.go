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
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gofrs/flock"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var jobPrefix = []byte("job-")

func jobKey(id string) []byte {
	return append(append([]byte(nil), jobPrefix...), id...)
}

// LevelDBStore persists jobs in a local LevelDB database. A directory lock
// keeps a second process from opening the same store.
type LevelDBStore struct {
	db   *leveldb.DB
	lock *flock.Flock

	mu sync.Mutex // serializes read-check-write in Create and Update
}

// NewLevelDBStore opens (or creates) the database in dir.
func NewLevelDBStore(dir string) (*LevelDBStore, error) {
	if dir == "" {
		return nil, errors.New("leveldb store needs a directory")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	lock := flock.New(filepath.Join(dir, "riskenclave.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, fmt.Errorf("job store %s is in use by another process", dir)
	}
	db, err := leveldb.OpenFile(filepath.Join(dir, "jobs"), &opt.Options{
		OpenFilesCacheCapacity: 64,
		BlockCacheCapacity:     8 * opt.MiB,
	})
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	log.Info("Opened job store", "backend", "leveldb", "dir", dir)
	return &LevelDBStore{db: db, lock: lock}, nil
}

// NewLevelDBStoreWithStorage opens a store over an arbitrary goleveldb
// storage backend, e.g. storage.NewMemStorage().
func NewLevelDBStoreWithStorage(stor storage.Storage) (*LevelDBStore, error) {
	db, err := leveldb.Open(stor, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDBStore{db: db}, nil
}

func (s *LevelDBStore) Create(_ context.Context, job *Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	blob, err := json.Marshal(job)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := jobKey(job.ID)
	exists, err := s.db.Has(key, nil)
	if err != nil {
		return err
	}
	if exists {
		return ErrJobExists
	}
	return s.db.Put(key, blob, &opt.WriteOptions{Sync: true})
}

func (s *LevelDBStore) Get(_ context.Context, id string) (*Job, error) {
	return s.get(id)
}

func (s *LevelDBStore) get(id string) (*Job, error) {
	blob, err := s.db.Get(jobKey(id), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(blob, &job); err != nil {
		return nil, fmt.Errorf("corrupt job %s: %w", id, err)
	}
	return &job, nil
}

func (s *LevelDBStore) Update(_ context.Context, job *Job) error {
	blob, err := json.Marshal(job)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	old, err := s.get(job.ID)
	if err != nil {
		return err
	}
	if err := checkTransition(old, job); err != nil {
		return err
	}
	return s.db.Put(jobKey(job.ID), blob, &opt.WriteOptions{Sync: true})
}

func (s *LevelDBStore) Unfinished(_ context.Context) ([]*Job, error) {
	it := s.db.NewIterator(util.BytesPrefix(jobPrefix), nil)
	defer it.Release()

	var out []*Job
	for it.Next() {
		var job Job
		if err := json.Unmarshal(it.Value(), &job); err != nil {
			return nil, fmt.Errorf("corrupt job %s: %w", it.Key()[len(jobPrefix):], err)
		}
		if !job.Status.Terminal() {
			out = append(out, &job)
		}
	}
	return out, it.Error()
}

func (s *LevelDBStore) Close() error {
	err := s.db.Close()
	if s.lock != nil {
		if uerr := s.lock.Unlock(); err == nil {
			err = uerr
		}
	}
	return err
}
