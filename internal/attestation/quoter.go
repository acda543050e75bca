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

package attestation

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNoTEE is returned by quoters when no attestation hardware is present.
var ErrNoTEE = errors.New("no TEE available")

// Quoter produces a hardware quote over 64 bytes of report data.
type Quoter interface {
	Quote(ctx context.Context, reportData [ReportDataLen]byte) ([]byte, error)
	// TEEType names the hardware, "none" in simulation.
	TEEType() string
}

// Quoter kinds accepted by NewQuoter.
const (
	QuoterDstack  = "dstack"
	QuoterGramine = "gramine"
	QuoterMock    = "mock"
	QuoterNone    = "none"
)

// NewQuoter returns the quoter of the given kind. The endpoint is the dstack
// socket path or the gramine attestation directory; empty selects the
// default location.
func NewQuoter(kind, endpoint string) (Quoter, error) {
	switch kind {
	case QuoterDstack:
		return NewDstackQuoter(endpoint), nil
	case QuoterGramine:
		return NewGramineQuoter(endpoint), nil
	case QuoterMock:
		return NewMockQuoter(), nil
	case QuoterNone, "":
		return NoneQuoter{}, nil
	}
	return nil, fmt.Errorf("unknown quoter %q", kind)
}

// DefaultDstackSocket is where a dstack guest agent listens.
const DefaultDstackSocket = "/var/run/dstack.sock"

// DstackQuoter requests TDX quotes from the dstack guest agent.
type DstackQuoter struct {
	endpoint string
	client   *http.Client
}

// NewDstackQuoter creates a quoter talking to the given unix socket, or to
// an http(s) URL when the endpoint has a scheme (used by the dstack
// simulator).
func NewDstackQuoter(endpoint string) *DstackQuoter {
	if endpoint == "" {
		endpoint = DefaultDstackSocket
	}
	q := &DstackQuoter{endpoint: endpoint}
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		q.client = &http.Client{Timeout: 30 * time.Second}
		return q
	}
	socket := endpoint
	q.endpoint = "http://dstack"
	q.client = &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socket)
			},
		},
	}
	return q
}

type dstackQuoteResponse struct {
	Quote    string `json:"quote"`
	EventLog string `json:"event_log"`
}

func (q *DstackQuoter) Quote(ctx context.Context, reportData [ReportDataLen]byte) ([]byte, error) {
	body, _ := json.Marshal(map[string]string{"report_data": hex.EncodeToString(reportData[:])})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(q.endpoint, "/")+"/GetQuote", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := q.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dstack GetQuote: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dstack GetQuote: HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	var out dstackQuoteResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("dstack GetQuote: %w", err)
	}
	return hex.DecodeString(strings.TrimPrefix(out.Quote, "0x"))
}

func (q *DstackQuoter) TEEType() string { return "tdx" }

// DefaultGramineDir is Gramine's attestation pseudo-filesystem.
const DefaultGramineDir = "/dev/attestation"

// GramineQuoter produces SGX quotes through Gramine's /dev/attestation
// files: writing user_report_data makes the next read of quote return a
// quote over it.
type GramineQuoter struct {
	dir string
}

func NewGramineQuoter(dir string) *GramineQuoter {
	if dir == "" {
		dir = DefaultGramineDir
	}
	return &GramineQuoter{dir: dir}
}

func (q *GramineQuoter) Quote(ctx context.Context, reportData [ReportDataLen]byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(filepath.Join(q.dir, "quote")); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoTEE, err)
	}
	if err := os.WriteFile(filepath.Join(q.dir, "user_report_data"), reportData[:], 0600); err != nil {
		return nil, fmt.Errorf("failed to write user_report_data: %w", err)
	}
	quote, err := os.ReadFile(filepath.Join(q.dir, "quote"))
	if err != nil {
		return nil, fmt.Errorf("failed to read quote: %w", err)
	}
	return quote, nil
}

func (q *GramineQuoter) TEEType() string { return "sgx" }

// MockQuoter builds unsigned TDX-layout quotes for tests and demos. Only a
// structural oracle will accept them.
type MockQuoter struct {
	mrtd [48]byte
}

func NewMockQuoter() *MockQuoter {
	m := new(MockQuoter)
	for i := range m.mrtd {
		m.mrtd[i] = byte(i)
	}
	return m
}

// MRTD returns the measurement the mock quotes carry.
func (m *MockQuoter) MRTD() []byte { return append([]byte(nil), m.mrtd[:]...) }

func (m *MockQuoter) Quote(_ context.Context, reportData [ReportDataLen]byte) ([]byte, error) {
	quote := make([]byte, tdxQuoteMinLen)
	binary.LittleEndian.PutUint16(quote[0:2], 4) // version
	binary.LittleEndian.PutUint16(quote[2:4], 2) // ECDSA-256
	binary.LittleEndian.PutUint32(quote[4:8], TEETypeTDX)
	copy(quote[tdxMRTDOffset:], m.mrtd[:])
	copy(quote[tdxReportDataOffset:], reportData[:])
	return quote, nil
}

func (m *MockQuoter) TEEType() string { return "tdx" }

// NoneQuoter is used in simulation mode.
type NoneQuoter struct{}

func (NoneQuoter) Quote(context.Context, [ReportDataLen]byte) ([]byte, error) { return nil, ErrNoTEE }
func (NoneQuoter) TEEType() string                                            { return "none" }
