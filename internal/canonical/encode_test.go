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

package canonical

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"testing"
)

type goldenVector struct {
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	Canonical string          `json:"canonical"`
}

func loadGolden(t *testing.T) []goldenVector {
	t.Helper()
	data, err := os.ReadFile("testdata/golden.json")
	if err != nil {
		t.Fatalf("Failed to read golden vectors: %v", err)
	}
	var vectors []goldenVector
	if err := json.Unmarshal(data, &vectors); err != nil {
		t.Fatalf("Failed to decode golden vectors: %v", err)
	}
	if len(vectors) == 0 {
		t.Fatal("No golden vectors")
	}
	return vectors
}

func TestCanonicalizeGolden(t *testing.T) {
	for _, vec := range loadGolden(t) {
		t.Run(vec.Name, func(t *testing.T) {
			out, err := Canonicalize(vec.Input)
			if err != nil {
				t.Fatalf("Canonicalize failed: %v", err)
			}
			if string(out) != vec.Canonical {
				t.Errorf("canonical mismatch\n got: %s\nwant: %s", out, vec.Canonical)
			}
		})
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	for _, vec := range loadGolden(t) {
		once, err := Canonicalize(vec.Input)
		if err != nil {
			t.Fatalf("%s: first pass failed: %v", vec.Name, err)
		}
		twice, err := Canonicalize(once)
		if err != nil {
			t.Fatalf("%s: second pass failed: %v", vec.Name, err)
		}
		if string(once) != string(twice) {
			t.Errorf("%s: not idempotent\nonce:  %s\ntwice: %s", vec.Name, once, twice)
		}
	}
}

func TestInsertionOrderIndependence(t *testing.T) {
	a := ObjectValue(nil)
	a.Set("alpha", NumberValue(1))
	a.Set("beta", ArrayValue(StringValue("x"), NullValue()))
	a.Set("gamma", BoolValue(true))

	b := ObjectValue(nil)
	b.Set("gamma", BoolValue(true))
	b.Set("beta", ArrayValue(StringValue("x"), NullValue()))
	b.Set("alpha", NumberValue(1))

	encA, err := Encode(a)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	encB, err := Encode(b)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if string(encA) != string(encB) {
		t.Fatalf("encoding depends on insertion order: %s vs %s", encA, encB)
	}

	fromText, err := Canonicalize([]byte(`{"gamma":true, "alpha":1, "beta":["x",null]}`))
	if err != nil {
		t.Fatalf("Canonicalize failed: %v", err)
	}
	if string(fromText) != string(encA) {
		t.Errorf("text and tree encodings differ: %s vs %s", fromText, encA)
	}
}

func TestKeyOrderUTF16(t *testing.T) {
	// U+1F600 is the pair D83D DE00 and sorts before U+FF01, although its
	// UTF-8 encoding is the larger one.
	out, err := Canonicalize([]byte(`{"\uff01":2,"\ud83d\ude00":1,"ab":4,"a":3,"\u00e9":5}`))
	if err != nil {
		t.Fatalf("Canonicalize failed: %v", err)
	}
	want := "{\"a\":3,\"ab\":4,\"\u00e9\":5,\"\U0001F600\":1,\"\uFF01\":2}"
	if string(out) != want {
		t.Errorf("got %s, want %s", out, want)
	}

	for _, tc := range []struct {
		a, b string
		less bool
	}{
		{"a", "b", true},
		{"a", "ab", true},
		{"\U0001F600", "\uFF01", true},
		{"\uD7FF", "\U0001F600", true},
		{"\U0001F600", "\U0001F601", true},
		{"\U00010000", "\U0001F600", true},
		{"same", "same", false},
	} {
		if got := compareUTF16(tc.a, tc.b) < 0; got != tc.less {
			t.Errorf("compareUTF16(%q, %q) < 0 = %v, want %v", tc.a, tc.b, got, tc.less)
		}
	}
}

func TestMarshalStruct(t *testing.T) {
	type inner struct {
		Z float64 `json:"z"`
		A string  `json:"a"`
	}
	type outer struct {
		Nested inner              `json:"nested"`
		Map    map[string]float64 `json:"map"`
		Skip   *inner             `json:"skip,omitempty"`
	}
	out, err := Marshal(outer{
		Nested: inner{Z: 2.0, A: "<b>"},
		Map:    map[string]float64{"y": 0.5, "x": 1e-6},
	})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	want := `{"map":{"x":0.000001,"y":0.5},"nested":{"a":"<b>","z":2}}`
	if string(out) != want {
		t.Errorf("got %s, want %s", out, want)
	}
}

func TestRejectsNonFinite(t *testing.T) {
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		v := ArrayValue(NumberValue(1), ObjectValue(map[string]Value{"bad": NumberValue(f)}))
		if _, err := Encode(v); !errors.Is(err, ErrNonFinite) {
			t.Errorf("Encode(%v): expected ErrNonFinite, got %v", f, err)
		}
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"truncated", `{"a":`},
		{"trailing", `{"a":1} {"b":2}`},
		{"overflow", `1e400`},
	}
	for _, tt := range tests {
		if _, err := Canonicalize([]byte(tt.input)); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestInvalidUTF8Replaced(t *testing.T) {
	out, err := Encode(StringValue("a\xffb"))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if want := "\"a�b\""; string(out) != want {
		t.Errorf("got %q, want %q", out, want)
	}
}

func TestAccessors(t *testing.T) {
	v, err := Parse([]byte(`{"n":2.5,"s":"x","b":true,"a":[1,2]}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if v.Kind() != Object || v.Len() != 4 {
		t.Fatalf("unexpected root %v/%d", v.Kind(), v.Len())
	}
	if n, _ := v.Get("n"); n.Float() != 2.5 {
		t.Errorf("n = %v", n.Float())
	}
	if s, _ := v.Get("s"); s.Str() != "x" {
		t.Errorf("s = %q", s.Str())
	}
	if b, _ := v.Get("b"); !b.Bool() {
		t.Error("b should be true")
	}
	if a, _ := v.Get("a"); a.Index(1).Float() != 2 || a.Index(5).Kind() != Null {
		t.Error("array indexing broken")
	}
	if _, ok := v.Get("missing"); ok {
		t.Error("missing key reported present")
	}
}
