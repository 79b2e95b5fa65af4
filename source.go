package statlake

import (
	"io"

	"github.com/pkg/errors"
)

// Source is the interface for getting raw data one record at a time. A
// Source returns io.EOF when it has no more records.
type Source interface {
	Record() (interface{}, error)
}

// SliceSource is a Source backed by an in-memory batch of records. It
// is how already-fetched API pages enter the pipeline.
type SliceSource struct {
	records []Record
	index   int
}

// NewSliceSource returns a SliceSource which will emit each record in
// recs in order.
func NewSliceSource(recs []Record) *SliceSource {
	return &SliceSource{records: recs}
}

// Record implements Source.
func (s *SliceSource) Record() (interface{}, error) {
	if s.index >= len(s.records) {
		return nil, io.EOF
	}
	rec := s.records[s.index]
	s.index++
	return rec, nil
}

// Drain reads src to EOF and returns everything it produced. Records
// which are not map-shaped come back as an error since nothing
// downstream can use them.
func Drain(src Source) ([]Record, error) {
	var recs []Record
	for {
		ri, err := src.Record()
		if err == io.EOF {
			return recs, nil
		} else if err != nil {
			return recs, errors.Wrap(err, "reading record from source")
		}
		rec, ok := ri.(map[string]interface{})
		if !ok {
			return recs, errors.Errorf("expected map record, got %T", ri)
		}
		recs = append(recs, rec)
	}
}
