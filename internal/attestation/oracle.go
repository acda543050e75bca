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
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/riskenclave/riskenclave/internal/fault"
)

// OracleResult is an oracle's opinion on a quote.
type OracleResult struct {
	Verified    bool   `json:"verified"`
	ReportData  []byte `json:"report_data,omitempty"`
	Measurement []byte `json:"measurement,omitempty"`
	Source      string `json:"source"`

	// Unchecked marks an answer read from the quote layout alone, without
	// checking its signature chain.
	Unchecked bool `json:"unchecked,omitempty"`
}

// Oracle checks a raw quote.
type Oracle interface {
	Check(ctx context.Context, quote []byte) (*OracleResult, error)
}

// DefaultOracleTimeout bounds a remote oracle call.
const DefaultOracleTimeout = 30 * time.Second

// RemoteOracle submits quotes to an HTTP verification service such as the
// Phala/t16z quote verifier.
type RemoteOracle struct {
	url    string
	client *http.Client
}

func NewRemoteOracle(url string, timeout time.Duration) *RemoteOracle {
	if timeout <= 0 {
		timeout = DefaultOracleTimeout
	}
	return &RemoteOracle{url: url, client: &http.Client{Timeout: timeout}}
}

type remoteOracleResponse struct {
	Success bool `json:"success"`
	Quote   struct {
		Verified bool `json:"verified"`
		Body     struct {
			ReportData string `json:"reportdata"`
			MRTD       string `json:"mrtd"`
			MREnclave  string `json:"mrenclave"`
		} `json:"body"`
	} `json:"quote"`
}

func (o *RemoteOracle) Check(ctx context.Context, quote []byte) (*OracleResult, error) {
	body, _ := json.Marshal(map[string]string{"hex": hex.EncodeToString(quote)})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		return nil, fault.Wrap(fault.Internal, err, "build oracle request")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.NetworkFailure, err, "quote oracle")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fault.Wrap(fault.NetworkFailure, err, "read oracle response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fault.New(fault.NetworkFailure, "quote oracle returned HTTP %d", resp.StatusCode)
	}
	var out remoteOracleResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fault.Wrap(fault.MalformedResponse, err, "decode oracle response")
	}
	res := &OracleResult{Verified: out.Quote.Verified, Source: "remote"}
	if rd := out.Quote.Body.ReportData; rd != "" {
		if res.ReportData, err = decodeHex(rd); err != nil {
			return nil, fault.Wrap(fault.MalformedResponse, err, "oracle report data")
		}
	}
	measurement := out.Quote.Body.MRTD
	if measurement == "" {
		measurement = out.Quote.Body.MREnclave
	}
	if measurement != "" {
		if res.Measurement, err = decodeHex(measurement); err != nil {
			return nil, fault.Wrap(fault.MalformedResponse, err, "oracle measurement")
		}
	}
	return res, nil
}

// LocalOracle only parses the quote structure. It cannot check the quote's
// signature chain, so its answers are always Unchecked and never Verified:
// the report data it extracts still lets the binding be inspected offline.
type LocalOracle struct{}

func (LocalOracle) Check(_ context.Context, quote []byte) (*OracleResult, error) {
	q, err := ParseQuote(quote)
	if err != nil {
		return &OracleResult{Source: "local"}, nil
	}
	return &OracleResult{
		ReportData:  append([]byte(nil), q.ReportData[:]...),
		Measurement: append([]byte(nil), q.Measurement()...),
		Source:      "local",
		Unchecked:   true,
	}, nil
}

// CachedOracle memoizes successful oracle answers keyed by the quote hash.
// Errors are never cached.
type CachedOracle struct {
	inner Oracle
	cache *fastcache.Cache
}

// NewCachedOracle wraps inner with a cache of at most maxBytes.
func NewCachedOracle(inner Oracle, maxBytes int) *CachedOracle {
	return &CachedOracle{inner: inner, cache: fastcache.New(maxBytes)}
}

func (o *CachedOracle) Check(ctx context.Context, quote []byte) (*OracleResult, error) {
	key := crypto.Keccak256(quote)
	if blob, ok := o.cache.HasGet(nil, key); ok {
		var res OracleResult
		if err := json.Unmarshal(blob, &res); err == nil {
			return &res, nil
		}
		o.cache.Del(key)
	}
	res, err := o.inner.Check(ctx, quote)
	if err != nil {
		return nil, err
	}
	if blob, err := json.Marshal(res); err == nil {
		o.cache.Set(key, blob)
	} else {
		log.Debug("Failed to cache oracle result", "err", err)
	}
	return res, nil
}

// Reset drops every cached entry.
func (o *CachedOracle) Reset() { o.cache.Reset() }

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return hex.DecodeString(s)
}

// NewOracle builds the oracle of the given kind ("remote" or "local"),
// optionally wrapped in a cache of cacheBytes. Only the remote oracle can
// pass a quote.
func NewOracle(kind, url string, timeout time.Duration, cacheBytes int) (Oracle, error) {
	var o Oracle
	switch kind {
	case "remote":
		if url == "" {
			return nil, fmt.Errorf("remote oracle needs a URL")
		}
		o = NewRemoteOracle(url, timeout)
	case "local", "":
		o = LocalOracle{}
	default:
		return nil, fmt.Errorf("unknown oracle %q", kind)
	}
	if cacheBytes > 0 {
		o = NewCachedOracle(o, cacheBytes)
	}
	return o, nil
}
