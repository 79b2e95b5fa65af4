package pipeline

import (
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/statlake/statlake"
	"github.com/statlake/statlake/storage"
)

// DefaultBoardSize is how many rows make up one game board.
const DefaultBoardSize = 5

// boardIDField is the column GenerateGameBoards adds to each row.
const boardIDField = "gameboard_id"

// Board is one game board read back from the game-board blob.
type Board struct {
	ID   int64             `json:"gameboard_id"`
	Rows []statlake.Record `json:"rows"`
}

// GenerateGameBoards reads every raw partition of layout, keeps the
// rows matching pred, shuffles them, and chunks them into boards of
// boardSize rows each, tagging every row with a gameboard_id. Leftover
// rows short of a full board are dropped. The boards are persisted as
// one parquet blob, overwriting any previous generation. Fewer matching
// rows than one board's worth is ErrNothingToDo.
func (p *Pipeline) GenerateGameBoards(layout Layout, format storage.Format, pred statlake.Predicate, boardSize int) (Summary, error) {
	sum := newSummary()
	log := p.runLog(sum, layout, "generate_game_boards")
	if boardSize <= 0 {
		boardSize = DefaultBoardSize
	}

	all, err := p.collectPartitions(&sum, log, layout, format)
	if err != nil {
		return sum, err
	}
	sum.Processed = len(all)

	kept := statlake.Shuffle(filterFlat(all, pred), p.rnd)
	sum.Boards = len(kept) / boardSize
	if sum.Boards == 0 {
		return sum, ErrNothingToDo
	}

	rows := make([]statlake.Record, 0, sum.Boards*boardSize)
	for i := 0; i < sum.Boards*boardSize; i++ {
		row := statlake.Clone(kept[i])
		row[boardIDField] = int64(i / boardSize)
		rows = append(rows, row)
	}
	sum.Rows = len(rows)

	name := layout.GameBoardBlob()
	if err := p.store.Write(name, rows, storage.FormatParquet); err != nil {
		return sum, errors.Wrapf(err, "writing game boards %s", name)
	}
	sum.Blobs = append(sum.Blobs, name)

	log.Info("generated game boards",
		zap.Int("source_rows", sum.Processed),
		zap.Int("boards", sum.Boards),
		zap.Int("rows", sum.Rows),
		zap.Int("dropped", len(kept)-sum.Rows))
	return sum, nil
}

// GameBoards reads the layout's game-board blob and groups its rows
// back into boards, ordered by board ID. A missing blob is
// ErrNothingToDo.
func (p *Pipeline) GameBoards(layout Layout) ([]Board, error) {
	recs, err := p.store.Read(layout.GameBoardBlob(), storage.FormatParquet)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", layout.GameBoardBlob())
	}
	if recs == nil {
		return nil, ErrNothingToDo
	}

	groups := map[int64][]statlake.Record{}
	for _, rec := range recs {
		id, err := boardID(rec[boardIDField])
		if err != nil {
			return nil, errors.Wrapf(err, "grouping %s", layout.GameBoardBlob())
		}
		groups[id] = append(groups[id], rec)
	}

	boards := make([]Board, 0, len(groups))
	for id, rows := range groups {
		boards = append(boards, Board{ID: id, Rows: rows})
	}
	sort.Slice(boards, func(i, j int) bool { return boards[i].ID < boards[j].ID })
	return boards, nil
}

func boardID(v interface{}) (int64, error) {
	switch id := v.(type) {
	case int64:
		return id, nil
	case float64:
		return int64(id), nil
	case string:
		return strconv.ParseInt(id, 10, 64)
	default:
		return 0, errors.Errorf("row has no usable %s (got %T)", boardIDField, v)
	}
}
