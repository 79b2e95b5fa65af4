package pipeline

import (
	"github.com/pkg/errors"

	"github.com/statlake/statlake"
	"github.com/statlake/statlake/storage"
)

// Query reads one blob and returns the rows matching pred, evaluated
// over each row's flattened view. Rows come back as stored. A missing
// blob is ErrNothingToDo.
func (p *Pipeline) Query(name string, format storage.Format, pred statlake.Predicate) ([]statlake.Record, error) {
	recs, err := p.store.Read(name, format)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", name)
	}
	if recs == nil {
		return nil, ErrNothingToDo
	}
	return filterFlat(recs, pred), nil
}

// QueryPartitions reads every raw partition of layout and returns the
// concatenated rows matching pred. It is the read-side merge: nothing
// is written. No readable partitions is ErrNothingToDo.
func (p *Pipeline) QueryPartitions(layout Layout, format storage.Format, pred statlake.Predicate) ([]statlake.Record, error) {
	sum := newSummary()
	log := p.runLog(sum, layout, "query_partitions")

	all, err := p.collectPartitions(&sum, log, layout, format)
	if err != nil {
		return nil, err
	}
	return filterFlat(all, pred), nil
}

// Random returns one uniformly chosen row of blob. A missing or empty
// blob is ErrNothingToDo.
func (p *Pipeline) Random(name string, format storage.Format) (statlake.Record, error) {
	recs, err := p.store.Read(name, format)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", name)
	}
	if len(recs) == 0 {
		return nil, ErrNothingToDo
	}
	return recs[p.rnd.Intn(len(recs))], nil
}
