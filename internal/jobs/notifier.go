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
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/nats-io/nats.go"
	"github.com/riskenclave/riskenclave/internal/fault"
)

// SubjectPrefix is prepended to the job status to form the NATS subject.
const SubjectPrefix = "riskenclave.jobs."

// Event announces a job state change. It never carries the result.
type Event struct {
	ID        string     `json:"id"`
	Status    Status     `json:"status"`
	Attempts  int        `json:"attempts"`
	UpdatedAt time.Time  `json:"updatedAt"`
	ErrorKind fault.Kind `json:"errorKind,omitempty"`
}

func eventOf(j *Job) Event {
	ev := Event{ID: j.ID, Status: j.Status, Attempts: j.Attempts, UpdatedAt: j.UpdatedAt}
	if j.Error != nil {
		ev.ErrorKind = j.Error.Kind
	}
	return ev
}

// Notifier is told about every stored transition. Notify must not block
// for long; failures are logged by the caller and otherwise ignored.
type Notifier interface {
	Notify(ev Event) error
	Close()
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ev Event) error

func (f NotifierFunc) Notify(ev Event) error { return f(ev) }
func (f NotifierFunc) Close()                {}

type noopNotifier struct{}

func (noopNotifier) Notify(Event) error { return nil }
func (noopNotifier) Close()             {}

// NoopNotifier drops all events.
var NoopNotifier Notifier = noopNotifier{}

// NATSNotifier publishes events as JSON on riskenclave.jobs.<status>.
type NATSNotifier struct {
	nc *nats.Conn
}

// NewNATSNotifier connects to url and keeps reconnecting forever.
func NewNATSNotifier(url string) (*NATSNotifier, error) {
	nc, err := nats.Connect(url,
		nats.Name("riskenclave-gateway"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, err
	}
	return &NATSNotifier{nc: nc}, nil
}

func (n *NATSNotifier) Notify(ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return n.nc.Publish(SubjectPrefix+string(ev.Status), b)
}

// Close flushes pending events and closes the connection.
func (n *NATSNotifier) Close() {
	if n.nc != nil {
		_ = n.nc.Drain()
	}
}
