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
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

// Snapshot is a point-in-time view of a Ledger.
type Snapshot struct {
	CumulativeEpsilon float64 `json:"cumulative_epsilon"`
	Queries           int     `json:"num_queries"`
	Releases          int     `json:"releases"`
	Ceiling           float64 `json:"ceiling"`
	CeilingExceeded   bool    `json:"ceiling_exceeded"`
}

// Ledger tracks the epsilon spent by a process. The total only grows. The
// ceiling is advisory: crossing it is logged and reported but never blocks
// a release. A zero ceiling disables the check.
type Ledger struct {
	mu       sync.Mutex
	spent    float64
	queries  int
	releases int
	ceiling  float64
	warned   bool
}

// NewLedger creates an empty ledger with the given advisory ceiling.
func NewLedger(ceiling float64) *Ledger {
	return &Ledger{ceiling: ceiling}
}

// Charge records one release of the given number of queries at a total cost
// of epsilon. Negative charges are ignored.
func (l *Ledger) Charge(epsilon float64, queries int) Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	if epsilon > 0 {
		l.spent += epsilon
	}
	if queries > 0 {
		l.queries += queries
	}
	l.releases++

	snap := l.snapshotLocked()
	if snap.CeilingExceeded {
		if !l.warned {
			log.Warn("Privacy budget ceiling exceeded", "cumulative", snap.CumulativeEpsilon, "ceiling", l.ceiling)
			l.warned = true
		} else {
			log.Debug("Privacy budget above ceiling", "cumulative", snap.CumulativeEpsilon, "ceiling", l.ceiling)
		}
	}
	return snap
}

// Snapshot returns the current state.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *Ledger) snapshotLocked() Snapshot {
	return Snapshot{
		CumulativeEpsilon: l.spent,
		Queries:           l.queries,
		Releases:          l.releases,
		Ceiling:           l.ceiling,
		CeilingExceeded:   l.ceiling > 0 && l.spent > l.ceiling,
	}
}
