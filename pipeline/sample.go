package pipeline

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/statlake/statlake"
	"github.com/statlake/statlake/storage"
)

// Sample draws up to size rows, uniformly without replacement, from the
// rows of src which match pred, and writes them to dst as JSON. Fewer
// matching rows than size means the sample is every matching row. dst
// is always overwritten, even when the sample is empty, so a stale
// sample never outlives its source. A missing src blob is
// ErrNothingToDo.
func (p *Pipeline) Sample(src string, format storage.Format, dst string, pred statlake.Predicate, size int) (Summary, error) {
	sum := newSummary()
	log := p.log.With(
		zap.String("run_id", sum.RunID),
		zap.String("stage", "sample"),
		zap.String("source", src),
	)

	recs, err := p.store.Read(src, format)
	if err != nil {
		return sum, errors.Wrapf(err, "reading %s", src)
	}
	if recs == nil {
		return sum, ErrNothingToDo
	}
	sum.Processed = len(recs)

	kept := filterFlat(recs, pred)
	sample := statlake.SampleWithoutReplacement(kept, size, p.rnd)
	sum.Rows = len(sample)

	if err := p.store.Write(dst, sample, storage.FormatJSON); err != nil {
		return sum, errors.Wrapf(err, "writing sample blob %s", dst)
	}
	sum.Blobs = append(sum.Blobs, dst)

	log.Info("sampled rows",
		zap.String("sample", dst),
		zap.Int("source_rows", sum.Processed),
		zap.Int("matched", len(kept)),
		zap.Int("sampled", sum.Rows))
	return sum, nil
}
