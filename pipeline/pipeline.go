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

// Package pipeline holds the blob-backed aggregation stages: partition
// raw records into keyed blobs, merge partitions, sample and query the
// results. Stages are stateless between calls; blob storage is the only
// state, so every stage starts from a List or Read and ends with rows
// or a Write.
package pipeline

import (
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/statlake/statlake"
	"github.com/statlake/statlake/storage"
)

// ErrNothingToDo reports a stage whose prerequisite blobs or input rows
// do not exist. It is the "nothing there yet" outcome, distinct from a
// storage or decode failure.
var ErrNothingToDo = errors.New("nothing to do")

// Store is the slice of the storage client the pipeline needs.
type Store interface {
	List(prefix string) ([]storage.ObjectInfo, error)
	Read(name string, f storage.Format) ([]statlake.Record, error)
	Write(name string, recs []statlake.Record, f storage.Format) error
}

// Layout names the blobs an entity's data lives in. All stages of one
// entity share a Layout so the raw/merged/sample naming convention is
// stated once.
type Layout struct {
	Entity string
}

// RawPrefix is the prefix holding one blob per partition key.
func (l Layout) RawPrefix() string { return l.Entity + "/raw_data/" }

// RawBlob is the partition blob for key.
func (l Layout) RawBlob(key string, f storage.Format) string {
	return l.RawPrefix() + key + f.Ext()
}

// MergedBlob is the single blob holding every partition's rows.
func (l Layout) MergedBlob(f storage.Format) string {
	return l.Entity + "/merged_data/merged" + f.Ext()
}

// SampleBlob is a named sample drawn from the merged blob. Samples are
// always JSON so they can be served directly.
func (l Layout) SampleBlob(name string) string {
	return l.Entity + "/samples/" + name + ".json"
}

// GameBoardBlob holds the entity's generated game boards.
func (l Layout) GameBoardBlob() string {
	return l.Entity + "/game_boards" + storage.FormatParquet.Ext()
}

// Summary reports what a stage run did. RunID ties the summary to the
// run's log lines.
type Summary struct {
	RunID      string   `json:"run_id"`
	Processed  int      `json:"processed"`
	Skipped    int      `json:"skipped,omitempty"`
	Errored    int      `json:"errored,omitempty"`
	Rows       int      `json:"rows"`
	Partitions int      `json:"partitions,omitempty"`
	Boards     int      `json:"boards,omitempty"`
	Blobs      []string `json:"blobs,omitempty"`
}

// Pipeline runs aggregation stages against a Store.
type Pipeline struct {
	store Store
	log   *zap.Logger
	rnd   *rand.Rand
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// OptLogger sets the logger stages log through.
func OptLogger(log *zap.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

// OptRand sets the randomness source used for sampling and shuffling.
func OptRand(rnd *rand.Rand) Option {
	return func(p *Pipeline) { p.rnd = rnd }
}

// New returns a Pipeline over store.
func New(store Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		store: store,
		log:   zap.NewNop(),
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func newSummary() Summary {
	return Summary{RunID: uuid.New().String()}
}

func (p *Pipeline) runLog(sum Summary, layout Layout, stage string) *zap.Logger {
	return p.log.With(
		zap.String("run_id", sum.RunID),
		zap.String("entity", layout.Entity),
		zap.String("stage", stage),
	)
}

// FetchAndPartition drains src, flattens every record, groups them by
// keyFn, and writes one blob per partition key under the layout's raw
// prefix. Records keyFn cannot key are dropped and counted, not fatal.
// A partition whose write fails is counted and the rest still get
// written; only a source with no partitionable records at all is
// ErrNothingToDo.
func (p *Pipeline) FetchAndPartition(src statlake.Source, keyFn statlake.PartitionFunc, layout Layout, format storage.Format) (Summary, error) {
	sum := newSummary()
	log := p.runLog(sum, layout, "fetch_and_partition")

	recs, err := statlake.Drain(src)
	if err != nil {
		return sum, errors.Wrap(err, "draining source")
	}

	groups := map[string][]statlake.Record{}
	var keys []string
	for _, rec := range recs {
		flat := statlake.Flatten(rec)
		key, ok := keyFn(flat)
		if !ok {
			sum.Skipped++
			continue
		}
		if _, seen := groups[key]; !seen {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], flat)
		sum.Processed++
	}
	if sum.Skipped > 0 {
		log.Warn("dropped records with no partition key", zap.Int("dropped", sum.Skipped))
	}
	if len(groups) == 0 {
		return sum, ErrNothingToDo
	}

	sort.Strings(keys)
	for _, key := range keys {
		name := layout.RawBlob(key, format)
		if err := p.store.Write(name, groups[key], format); err != nil {
			sum.Errored++
			log.Error("writing partition", zap.String("blob", name), zap.Error(err))
			continue
		}
		sum.Partitions++
		sum.Rows += len(groups[key])
		sum.Blobs = append(sum.Blobs, name)
	}
	if sum.Partitions == 0 {
		return sum, errors.Errorf("all %d partition writes failed", sum.Errored)
	}

	log.Info("partitioned records",
		zap.Int("rows", sum.Rows),
		zap.Int("partitions", sum.Partitions),
		zap.Int("skipped", sum.Skipped),
		zap.Int("errored", sum.Errored))
	return sum, nil
}

// matchFlat evaluates pred over the flattened view of rec, so filters
// reach into nested raw records without the caller flattening what it
// stores or returns.
func matchFlat(rec statlake.Record, pred statlake.Predicate) bool {
	if pred == nil {
		return true
	}
	return pred(statlake.Flatten(rec))
}

// filterFlat keeps the records whose flattened view matches pred. The
// originals come back untouched.
func filterFlat(recs []statlake.Record, pred statlake.Predicate) []statlake.Record {
	if pred == nil {
		return recs
	}
	out := make([]statlake.Record, 0, len(recs))
	for _, rec := range recs {
		if matchFlat(rec, pred) {
			out = append(out, rec)
		}
	}
	return out
}
