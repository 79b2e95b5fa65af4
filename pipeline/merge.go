package pipeline

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/statlake/statlake"
	"github.com/statlake/statlake/storage"
)

// collectPartitions reads every blob under the layout's raw prefix into
// one slice. Unreadable partitions are skipped and counted in sum; a
// prefix with no readable partitions at all is ErrNothingToDo.
func (p *Pipeline) collectPartitions(sum *Summary, log *zap.Logger, layout Layout, format storage.Format) ([]statlake.Record, error) {
	infos, err := p.store.List(layout.RawPrefix())
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", layout.RawPrefix())
	}
	if len(infos) == 0 {
		return nil, ErrNothingToDo
	}

	var all []statlake.Record
	for _, info := range infos {
		recs, err := p.store.Read(info.Name, format)
		if err != nil {
			sum.Errored++
			log.Warn("skipping unreadable partition", zap.String("blob", info.Name), zap.Error(err))
			continue
		}
		if recs == nil {
			// Listed but gone by the time we read it.
			sum.Skipped++
			continue
		}
		sum.Partitions++
		all = append(all, recs...)
	}
	if sum.Partitions == 0 {
		return nil, ErrNothingToDo
	}
	return all, nil
}

// Merge concatenates every raw partition into the layout's single
// merged blob, keeping only the rows matching keep (nil keeps all).
// The merged blob is overwritten whether or not it existed.
func (p *Pipeline) Merge(layout Layout, format storage.Format, keep statlake.Predicate) (Summary, error) {
	sum := newSummary()
	log := p.runLog(sum, layout, "merge")

	all, err := p.collectPartitions(&sum, log, layout, format)
	if err != nil {
		return sum, err
	}
	sum.Processed = len(all)

	merged := filterFlat(all, keep)
	sum.Rows = len(merged)

	name := layout.MergedBlob(format)
	if err := p.store.Write(name, merged, format); err != nil {
		return sum, errors.Wrapf(err, "writing merged blob %s", name)
	}
	sum.Blobs = append(sum.Blobs, name)

	log.Info("merged partitions",
		zap.Int("partitions", sum.Partitions),
		zap.Int("rows", sum.Rows),
		zap.Int("dropped", sum.Processed-sum.Rows),
		zap.Int("errored", sum.Errored))
	return sum, nil
}
