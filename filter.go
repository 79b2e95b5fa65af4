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
	"fmt"
	"strconv"
	"strings"
)

// Predicate is a row-level keep function over flat records.
type Predicate func(Record) bool

// PartitionFunc derives the partition key for a flat record. ok is
// false when the record lacks the fields needed to compute a key; such
// records are dropped (with a warning) rather than failing the run.
type PartitionFunc func(Record) (key string, ok bool)

// MonthKey returns a PartitionFunc which buckets records into YYYY-MM
// partitions by the timestamp held in field.
func MonthKey(field string) PartitionFunc {
	return func(rec Record) (string, bool) {
		v, present := rec[field]
		if !present || v == nil {
			return "", false
		}
		s, isStr := v.(string)
		if !isStr {
			return "", false
		}
		t, err := ParseTime(s)
		if err != nil {
			return "", false
		}
		return t.UTC().Format("2006-01"), true
	}
}

// ConstKey returns a PartitionFunc which puts every record in the same
// partition. Useful for small catalogs which don't warrant splitting.
func ConstKey(key string) PartitionFunc {
	return func(Record) (string, bool) {
		return key, true
	}
}

// And combines predicates; a nil predicate in preds matches everything.
func And(preds ...Predicate) Predicate {
	return func(rec Record) bool {
		for _, p := range preds {
			if p != nil && !p(rec) {
				return false
			}
		}
		return true
	}
}

// Equality matches records whose stringified field values equal every
// supplied filter value exactly. A filter naming a column the record
// does not have matches nothing, so a typo'd filter is visible as an
// empty result rather than silently ignored.
func Equality(filters map[string]string) Predicate {
	return func(rec Record) bool {
		for col, want := range filters {
			v, present := rec[col]
			if !present || v == nil {
				return false
			}
			if fmt.Sprint(v) != want {
				return false
			}
		}
		return true
	}
}

// FieldEqualsFold matches records whose field equals value ignoring
// case.
func FieldEqualsFold(field, value string) Predicate {
	return func(rec Record) bool {
		v, present := rec[field]
		if !present || v == nil {
			return false
		}
		return strings.EqualFold(fmt.Sprint(v), value)
	}
}

// FieldContainsFold matches records whose field contains substr
// ignoring case.
func FieldContainsFold(field, substr string) Predicate {
	sub := strings.ToLower(substr)
	return func(rec Record) bool {
		v, present := rec[field]
		if !present || v == nil {
			return false
		}
		return strings.Contains(strings.ToLower(fmt.Sprint(v)), sub)
	}
}

// HasField matches records where field is present, non-nil, and (for
// strings) not blank. It is the "has at least one photo URL" style of
// keep predicate.
func HasField(field string) Predicate {
	return func(rec Record) bool {
		v, present := rec[field]
		if !present || v == nil {
			return false
		}
		if s, isStr := v.(string); isStr {
			return strings.TrimSpace(s) != ""
		}
		return true
	}
}

// MinValue matches records whose field parses as a number strictly
// greater than min. Upstreams ship prices as strings, so string values
// are parsed; unparseable or missing values never match.
func MinValue(field string, min float64) Predicate {
	return func(rec Record) bool {
		v, present := rec[field]
		if !present || v == nil {
			return false
		}
		var f float64
		switch n := v.(type) {
		case float64:
			f = n
		case int64:
			f = float64(n)
		case string:
			parsed, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return false
			}
			f = parsed
		default:
			return false
		}
		return f > min
	}
}

// Filter returns the records matching pred. A nil pred keeps
// everything.
func Filter(recs []Record, pred Predicate) []Record {
	if pred == nil {
		return recs
	}
	out := make([]Record, 0, len(recs))
	for _, rec := range recs {
		if pred(rec) {
			out = append(out, rec)
		}
	}
	return out
}
