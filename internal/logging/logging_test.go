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

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/log"
)

func TestHandlerFormats(t *testing.T) {
	for _, format := range []string{"terminal", "logfmt", "json"} {
		var buf bytes.Buffer
		h, err := newHandler(format, &buf, false)
		if err != nil {
			t.Fatalf("%s: %v", format, err)
		}
		log.NewLogger(h).Info("Job completed", "id", "abc", "attempts", 2)
		out := buf.String()
		if !strings.Contains(out, "abc") {
			t.Fatalf("%s: output %q misses the id", format, out)
		}
		if format == "json" {
			var m map[string]any
			if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
				t.Fatalf("json output not decodable: %v", err)
			}
		}
	}
	if _, err := newHandler("xml", os.Stderr, false); err == nil {
		t.Fatal("unknown format accepted")
	}
}

func TestSetupWritesFile(t *testing.T) {
	defer log.SetDefault(log.NewLogger(log.DiscardHandler()))
	defer Exit()

	path := filepath.Join(t.TempDir(), "riskenclave.log")
	if err := Setup(Config{Verbosity: 3, Format: "logfmt", File: path}); err != nil {
		t.Fatal(err)
	}
	log.Info("Opened job store", "backend", "memory")
	log.Debug("Hidden at verbosity 3")
	Exit()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "backend=memory") {
		t.Fatalf("log file missing entry: %q", data)
	}
	if strings.Contains(string(data), "Hidden") {
		t.Fatal("debug entry written at verbosity 3")
	}
}

func TestSetupRejectsBadVmodule(t *testing.T) {
	defer log.SetDefault(log.NewLogger(log.DiscardHandler()))
	if err := Setup(Config{Verbosity: 3, Vmodule: "jobs=notanumber"}); err == nil {
		t.Fatal("bad vmodule accepted")
	}
}
