// Copyright 2024 Statlake Authors.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
// notice, this list of conditions and the following disclaimer in the
// documentation and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
// contributors may be used to endorse or promote products derived
// from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND
// CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES,
// INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
// MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR
// CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING,
// BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY,
// WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
// NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH
// DAMAGE.

package statlake

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// Record is one entity from an upstream API - a pet, a card, a team.
// Fresh off the wire it can be nested arbitrarily deep; after Flatten
// every value is a scalar.
type Record = map[string]interface{}

// Sep joins parent and child keys when nested objects are flattened.
const Sep = "_"

// ListSep joins list elements into a single string value.
const ListSep = ","

// Flatten collapses a nested Record into a flat one. Nested object keys
// are renamed parent_child (recursively, to any depth), list values
// become ListSep-joined strings of their non-nil elements (nil if the
// list is empty or all-nil), and scalars are copied through Normalize.
// Flattening an already-flat record returns an equal record.
func Flatten(rec Record) Record {
	flat := make(Record, len(rec))
	for k, v := range rec {
		flattenValue(flat, k, v)
	}
	return flat
}

func flattenValue(flat Record, key string, v interface{}) {
	switch val := v.(type) {
	case map[string]interface{}:
		for k, child := range val {
			flattenValue(flat, key+Sep+k, child)
		}
	case []interface{}:
		flat[key] = joinList(val)
	default:
		flat[key] = Normalize(v)
	}
}

func joinList(items []interface{}) interface{} {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		n := Normalize(item)
		if n == nil {
			continue
		}
		parts = append(parts, fmt.Sprint(n))
	}
	if len(parts) == 0 {
		return nil
	}
	return strings.Join(parts, ListSep)
}

// Normalize maps the numeric edge values that fall out of decoders and
// columnar readers onto plain JSON-safe types: NaN and ±Inf become nil,
// every fixed-width integer becomes int64, float32 widens to float64,
// json.Number resolves to int64 or float64, and timestamps become
// RFC3339 strings (nil for zero times). Everything else passes through.
// Normalize is idempotent.
func Normalize(v interface{}) interface{} {
	switch n := v.(type) {
	case nil:
		return nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return nil
		}
		return n
	case float32:
		f := float64(n)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case uint:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		if n > math.MaxInt64 {
			return float64(n)
		}
		return int64(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return Normalize(f)
		}
		return n.String()
	case time.Time:
		if n.IsZero() {
			return nil
		}
		return n.UTC().Format(time.RFC3339)
	default:
		return v
	}
}

// timeLayouts are tried in order when deriving a partition key from a
// string timestamp field. Upstreams are inconsistent about this.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime parses a timestamp in any of the layouts the upstreams are
// known to emit.
func ParseTime(s string) (time.Time, error) {
	var err error
	var t time.Time
	for _, layout := range timeLayouts {
		t, err = time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

// Clone returns a shallow copy of rec. Values are scalars in flat
// records, so a shallow copy is a safe copy there.
func Clone(rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
