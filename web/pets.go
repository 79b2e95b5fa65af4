package web

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/statlake/statlake"
	"github.com/statlake/statlake/pipeline"
	"github.com/statlake/statlake/storage"
)

var petLayout = pipeline.Layout{Entity: "petfinder"}

// petFormat is what pet partitions are stored as.
const petFormat = storage.FormatParquet

// defaultMonths is how many recent month windows a save fetches when
// the caller doesn't say.
const defaultMonths = 2

// hasPhoto keeps only pets with at least one photo URL; photo-less
// listings are useless downstream.
var hasPhoto = statlake.HasField("photos")

func (s *Server) handleSavePets(w http.ResponseWriter, r *http.Request) {
	months := defaultMonths
	if raw := r.URL.Query().Get("months"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 24 {
			s.respondError(w, http.StatusBadRequest, errors.Errorf("months must be an integer between 1 and 24, got %q", raw))
			return
		}
		months = n
	}

	fetched, fetchErrs := s.pets.FetchRecent(months)
	if len(fetched) == 0 && len(fetchErrs) > 0 {
		s.respondError(w, http.StatusBadGateway, errors.Errorf("fetching pets failed: %v", fetchErrs[0]))
		return
	}

	kept := make([]statlake.Record, 0, len(fetched))
	for _, rec := range fetched {
		if hasPhoto(statlake.Flatten(rec)) {
			kept = append(kept, rec)
		}
	}

	sum, err := s.pipe.FetchAndPartition(
		statlake.NewSliceSource(kept),
		statlake.MonthKey("published_at"),
		petLayout, petFormat)
	if err == pipeline.ErrNothingToDo {
		s.respondError(w, http.StatusNotFound, errors.New("no publishable pets were fetched"))
		return
	} else if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	msg := fmt.Sprintf("saved %d pets across %d partitions", sum.Rows, sum.Partitions)
	if len(fetchErrs) > 0 {
		msg += fmt.Sprintf(" (%d month fetches failed)", len(fetchErrs))
		s.log.Warn("partial pet fetch", zap.Int("failed_months", len(fetchErrs)))
	}
	s.respondCount(w, http.StatusOK, msg, sum, sum.Rows)
}

func (s *Server) handleGetPets(w http.ResponseWriter, r *http.Request) {
	rows, err := s.pipe.QueryPartitions(petLayout, petFormat, statlake.Equality(queryFilters(r)))
	if err != nil {
		s.respondError(w, storageStatus(err), err)
		return
	}
	s.respondCount(w, http.StatusOK, "pets", rows, len(rows))
}

func (s *Server) handlePetFiles(w http.ResponseWriter, r *http.Request) {
	infos, err := s.store.List(petLayout.RawPrefix())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondCount(w, http.StatusOK, "pet partitions", infos, len(infos))
}

func (s *Server) handleGenerateGameBoards(w http.ResponseWriter, r *http.Request) {
	sum, err := s.pipe.GenerateGameBoards(petLayout, petFormat,
		statlake.Equality(queryFilters(r)), pipeline.DefaultBoardSize)
	if err != nil {
		s.respondError(w, storageStatus(err), err)
		return
	}
	s.respondCount(w, http.StatusOK,
		fmt.Sprintf("generated %d game boards", sum.Boards), sum, sum.Boards)
}

func (s *Server) handleGetGameBoards(w http.ResponseWriter, r *http.Request) {
	boards, err := s.pipe.GameBoards(petLayout)
	if err != nil {
		s.respondError(w, storageStatus(err), err)
		return
	}
	s.respondCount(w, http.StatusOK, "game boards", boards, len(boards))
}
