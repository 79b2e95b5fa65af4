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

package storage

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"

	"github.com/statlake/statlake"
)

// Format identifies the serialization of a stored blob.
type Format int

const (
	// FormatCSV stores a table with a union-of-fields header row.
	FormatCSV Format = iota
	// FormatJSON stores the records as one JSON array.
	FormatJSON
	// FormatParquet stores a columnar table with a schema derived from
	// the records.
	FormatParquet
)

// ParseFormat parses a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	case "parquet":
		return FormatParquet, nil
	}
	return 0, errors.Errorf("unsupported format %q (want csv, json, or parquet)", s)
}

func (f Format) String() string {
	switch f {
	case FormatCSV:
		return "csv"
	case FormatJSON:
		return "json"
	case FormatParquet:
		return "parquet"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// Ext returns the file extension for the format, dot included.
func (f Format) Ext() string { return "." + f.String() }

// ContentType returns the MIME type blobs of this format are uploaded
// with.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatJSON:
		return "application/json"
	case FormatParquet:
		return "application/x-parquet"
	}
	return "application/octet-stream"
}

// Encode serializes recs in the given format.
func Encode(recs []statlake.Record, f Format) ([]byte, error) {
	switch f {
	case FormatCSV:
		return encodeCSV(recs)
	case FormatJSON:
		return json.Marshal(recs)
	case FormatParquet:
		return encodeParquet(recs)
	}
	return nil, errors.Errorf("unsupported format %v", f)
}

// Decode deserializes a blob body. Scalar values are normalized on the
// way in so a write/read round trip preserves row count and field
// values modulo statlake.Normalize.
func Decode(data []byte, f Format) ([]statlake.Record, error) {
	switch f {
	case FormatCSV:
		return decodeCSV(data)
	case FormatJSON:
		return decodeJSON(data)
	case FormatParquet:
		return decodeParquet(data)
	}
	return nil, errors.Errorf("unsupported format %v", f)
}

// fieldSet returns the sorted union of keys across recs. CSV and
// Parquet need a stable column order; JSON does not care.
func fieldSet(recs []statlake.Record) []string {
	seen := map[string]bool{}
	var fields []string
	for _, rec := range recs {
		for k := range rec {
			if !seen[k] {
				seen[k] = true
				fields = append(fields, k)
			}
		}
	}
	sort.Strings(fields)
	return fields
}

func encodeCSV(recs []statlake.Record) ([]byte, error) {
	fields := fieldSet(recs)
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	if err := w.Write(fields); err != nil {
		return nil, errors.Wrap(err, "writing header")
	}
	row := make([]string, len(fields))
	for _, rec := range recs {
		for i, field := range fields {
			row[i] = csvCell(rec[field])
		}
		if err := w.Write(row); err != nil {
			return nil, errors.Wrap(err, "writing row")
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func csvCell(v interface{}) string {
	switch n := statlake.Normalize(v).(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(n, 10)
	case bool:
		return strconv.FormatBool(n)
	case string:
		return n
	default:
		return fmt.Sprint(n)
	}
}

func decodeCSV(data []byte) ([]statlake.Record, error) {
	r := csv.NewReader(bytes.NewReader(data))
	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "reading header")
	}
	var recs []statlake.Record
	for {
		row, err := r.Read()
		if err == io.EOF {
			return recs, nil
		} else if err != nil {
			return recs, errors.Wrap(err, "reading row")
		}
		rec := make(statlake.Record, len(header))
		for i, field := range header {
			if i < len(row) {
				rec[field] = csvValue(row[i])
			}
		}
		recs = append(recs, rec)
	}
}

// csvValue re-types a CSV cell. CSV carries no types, so this is a
// best-effort inverse of csvCell: empty means nil, then int, float,
// bool, and finally plain string.
func csvValue(s string) interface{} {
	if s == "" {
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if s == "true" || s == "false" {
		return s == "true"
	}
	return s
}

func decodeJSON(data []byte) ([]statlake.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var recs []statlake.Record
	if err := dec.Decode(&recs); err != nil {
		return nil, errors.Wrap(err, "decoding json array")
	}
	// Resolve json.Number at the top level; nested values stay as
	// decoded and get normalized if the record is ever flattened.
	for _, rec := range recs {
		for k, v := range rec {
			switch v.(type) {
			case map[string]interface{}, []interface{}:
			default:
				rec[k] = statlake.Normalize(v)
			}
		}
	}
	return recs, nil
}

// encodeParquet derives a schema from the union of fields across recs
// (every column optional, typed by the first non-nil value seen) and
// writes the records through it. Records must already be flat.
func encodeParquet(recs []statlake.Record) ([]byte, error) {
	schema, err := deriveSchema(recs)
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]interface{}, len(recs))
	for i, rec := range recs {
		row := make(map[string]interface{}, len(rec))
		for k, v := range rec {
			n := statlake.Normalize(v)
			if n == nil {
				continue
			}
			row[k] = n
		}
		rows[i] = row
	}
	buf := &bytes.Buffer{}
	w := parquet.NewGenericWriter[map[string]interface{}](buf, schema)
	if _, err := w.Write(rows); err != nil {
		return nil, errors.Wrap(err, "writing parquet rows")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "closing parquet writer")
	}
	return buf.Bytes(), nil
}

func deriveSchema(recs []statlake.Record) (*parquet.Schema, error) {
	group := parquet.Group{}
	for _, field := range fieldSet(recs) {
		node, err := leafFor(firstValue(recs, field))
		if err != nil {
			return nil, errors.Wrapf(err, "field %q", field)
		}
		group[field] = parquet.Optional(node)
	}
	return parquet.NewSchema("record", group), nil
}

func firstValue(recs []statlake.Record, field string) interface{} {
	for _, rec := range recs {
		if v := statlake.Normalize(rec[field]); v != nil {
			return v
		}
	}
	return nil
}

func leafFor(v interface{}) (parquet.Node, error) {
	switch v.(type) {
	case nil, string:
		// All-nil columns are typed as strings; nothing is lost since
		// every value is null anyway.
		return parquet.String(), nil
	case int64:
		return parquet.Int(64), nil
	case float64:
		return parquet.Leaf(parquet.DoubleType), nil
	case bool:
		return parquet.Leaf(parquet.BooleanType), nil
	}
	return nil, errors.Errorf("cannot store %T in a parquet column; record is not flat", v)
}

func decodeParquet(data []byte) ([]statlake.Record, error) {
	f, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errors.Wrap(err, "opening parquet file")
	}
	// Map rows carry no schema of their own; the reader has to take the
	// file's.
	r := parquet.NewGenericReader[map[string]interface{}](f, f.Schema())
	defer r.Close()
	recs := make([]statlake.Record, 0, r.NumRows())
	batch := make([]map[string]interface{}, 64)
	for {
		for i := range batch {
			batch[i] = map[string]interface{}{}
		}
		n, err := r.Read(batch)
		for i := 0; i < n; i++ {
			rec := make(statlake.Record, len(batch[i]))
			for k, v := range batch[i] {
				rec[k] = statlake.Normalize(v)
			}
			recs = append(recs, rec)
		}
		if err == io.EOF {
			return recs, nil
		} else if err != nil {
			return recs, errors.Wrap(err, "reading parquet rows")
		}
	}
}
