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

// Package canonical implements the deterministic JSON encoding used when an
// analytics result is signed inside the enclave and re-verified outside it.
//
// The encoding sorts object keys recursively by UTF-16 code units, the order
// JavaScript's Array.prototype.sort gives, writes no insignificant
// whitespace and prints every number in plain decimal notation (integral
// values without a fraction, never an exponent). Both sides of the signature
// must produce byte-identical output, so all formatting decisions live here.
package canonical

import (
	"fmt"
	"math"
)

// Kind tags the dynamic type held by a Value.
type Kind uint8

const (
	Null Kind = iota
	Bool
	Number
	String
	Array
	Object
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is a generic JSON value. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	arr  []Value
	obj  map[string]Value
}

func NullValue() Value            { return Value{} }
func BoolValue(b bool) Value      { return Value{kind: Bool, b: b} }
func NumberValue(f float64) Value { return Value{kind: Number, n: f} }
func StringValue(s string) Value  { return Value{kind: String, s: s} }

// ArrayValue builds an array from the given elements.
func ArrayValue(elems ...Value) Value {
	if elems == nil {
		elems = []Value{}
	}
	return Value{kind: Array, arr: elems}
}

// ObjectValue builds an object. The map is not copied.
func ObjectValue(members map[string]Value) Value {
	if members == nil {
		members = map[string]Value{}
	}
	return Value{kind: Object, obj: members}
}

func (v Value) Kind() Kind { return v.kind }

// Bool returns the boolean payload; false for non-bool values.
func (v Value) Bool() bool { return v.kind == Bool && v.b }

// Float returns the numeric payload; 0 for non-number values.
func (v Value) Float() float64 {
	if v.kind != Number {
		return 0
	}
	return v.n
}

// Str returns the string payload; "" for non-string values.
func (v Value) Str() string {
	if v.kind != String {
		return ""
	}
	return v.s
}

// Len reports the number of elements of an array or members of an object.
func (v Value) Len() int {
	switch v.kind {
	case Array:
		return len(v.arr)
	case Object:
		return len(v.obj)
	}
	return 0
}

// Index returns the i'th array element.
func (v Value) Index(i int) Value {
	if v.kind != Array || i < 0 || i >= len(v.arr) {
		return Value{}
	}
	return v.arr[i]
}

// Get returns the named object member and whether it exists.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != Object {
		return Value{}, false
	}
	m, ok := v.obj[key]
	return m, ok
}

// Set adds or replaces an object member. It panics on non-object values.
func (v Value) Set(key string, m Value) {
	if v.kind != Object {
		panic("canonical: Set on " + v.kind.String())
	}
	v.obj[key] = m
}

// validate reports the first non-finite number found in v.
func (v Value) validate() error {
	switch v.kind {
	case Number:
		if math.IsNaN(v.n) || math.IsInf(v.n, 0) {
			return fmt.Errorf("%w: %v", ErrNonFinite, v.n)
		}
	case Array:
		for _, e := range v.arr {
			if err := e.validate(); err != nil {
				return err
			}
		}
	case Object:
		for _, e := range v.obj {
			if err := e.validate(); err != nil {
				return err
			}
		}
	}
	return nil
}
