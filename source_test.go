package statlake_test

import (
	"errors"
	"io"
	"testing"

	"github.com/statlake/statlake"
)

func TestSliceSource(t *testing.T) {
	recs := []statlake.Record{{"id": 1}, {"id": 2}}
	src := statlake.NewSliceSource(recs)
	for i := 0; i < 2; i++ {
		rec, err := src.Record()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec == nil {
			t.Fatalf("expected record %d, got nil", i)
		}
	}
	if _, err := src.Record(); err != io.EOF {
		t.Errorf("expected EOF, got %v", err)
	}
}

type erroringSource struct {
	recs []interface{}
	idx  int
	err  error
}

func (s *erroringSource) Record() (interface{}, error) {
	if s.idx >= len(s.recs) {
		return nil, s.err
	}
	rec := s.recs[s.idx]
	s.idx++
	return rec, nil
}

func TestDrain(t *testing.T) {
	got, err := statlake.Drain(statlake.NewSliceSource([]statlake.Record{{"a": 1}, {"b": 2}}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}

	boom := errors.New("boom")
	_, err = statlake.Drain(&erroringSource{recs: []interface{}{map[string]interface{}{"a": 1}}, err: boom})
	if err == nil {
		t.Fatalf("expected source error to propagate")
	}

	_, err = statlake.Drain(&erroringSource{recs: []interface{}{"not a map"}, err: io.EOF})
	if err == nil {
		t.Fatalf("expected shape error for non-map record")
	}
}
