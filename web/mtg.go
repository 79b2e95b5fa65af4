package web

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/statlake/statlake"
	"github.com/statlake/statlake/pipeline"
	"github.com/statlake/statlake/storage"
)

// Card catalog blob names. Sets and cards come from the same upstream
// so they share the scryfall/ prefix.
const (
	setsBlob  = "scryfall/all_sets.json"
	cardsBlob = "scryfall/cards/combined_all_core_expansion.json"
	dailyBlob = "scryfall/cards/daily1000.json"
)

// The daily sample: up to 1000 cards priced over a dime, so the free
// junk doesn't dominate it.
const (
	dailySampleSize = 1000
	dailyMinPrice   = 0.1
)

func (s *Server) handleSaveSets(w http.ResponseWriter, r *http.Request) {
	sets, err := s.cards.FetchSets()
	if err != nil {
		s.respondError(w, http.StatusBadGateway, errors.Wrap(err, "fetching sets"))
		return
	}
	if err := s.store.Write(setsBlob, sets, storage.FormatJSON); err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondCount(w, http.StatusOK, fmt.Sprintf("saved %d sets", len(sets)), nil, len(sets))
}

func (s *Server) handleGetSets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var preds []statlake.Predicate
	if code := q.Get("code"); code != "" {
		preds = append(preds, statlake.FieldContainsFold("code", code))
	}
	if name := q.Get("name"); name != "" {
		preds = append(preds, statlake.FieldContainsFold("name", name))
	}
	if setType := q.Get("set_type"); setType != "" {
		preds = append(preds, statlake.Equality(map[string]string{"set_type": setType}))
	}

	rows, err := s.pipe.Query(setsBlob, storage.FormatJSON, statlake.And(preds...))
	if err != nil {
		s.respondError(w, storageStatus(err), err)
		return
	}
	s.respondCount(w, http.StatusOK, "sets", rows, len(rows))
}

// wantedSetTypes are the set types whose cards make it into the
// combined blob.
var wantedSetTypes = map[string]bool{"core": true, "expansion": true}

func (s *Server) handleUpdateCards(w http.ResponseWriter, r *http.Request) {
	sets, err := s.pipe.Query(setsBlob, storage.FormatJSON, nil)
	if err != nil {
		s.respondError(w, storageStatus(err), errors.Wrap(err, "sets must be saved before updating cards"))
		return
	}

	var cards []statlake.Record
	fetched, errored := 0, 0
	for _, set := range sets {
		setType, _ := set["set_type"].(string)
		code, _ := set["code"].(string)
		if !wantedSetTypes[setType] || code == "" {
			continue
		}
		setCards, err := s.cards.FetchCardsBySet(code)
		if err != nil {
			errored++
			s.log.Warn("skipping set after fetch failure", zap.String("set", code), zap.Error(err))
			continue
		}
		fetched++
		cards = append(cards, setCards...)
	}
	if fetched == 0 && errored > 0 {
		s.respondError(w, http.StatusBadGateway, errors.Errorf("every set fetch failed (%d sets)", errored))
		return
	}
	if err := s.store.Write(cardsBlob, cards, storage.FormatJSON); err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	// Refresh the daily sample from the new combined blob. Best effort:
	// the cards are already saved, so a sampling failure only logs.
	if _, err := s.sampleDaily(); err != nil {
		s.log.Warn("refreshing daily sample after card update", zap.Error(err))
	}

	msg := fmt.Sprintf("saved %d cards from %d sets", len(cards), fetched)
	if errored > 0 {
		msg += fmt.Sprintf(" (%d sets failed)", errored)
	}
	s.respondCount(w, http.StatusOK, msg, nil, len(cards))
}

func (s *Server) sampleDaily() (pipeline.Summary, error) {
	return s.pipe.Sample(cardsBlob, storage.FormatJSON, dailyBlob,
		statlake.MinValue("prices_usd", dailyMinPrice), dailySampleSize)
}

func (s *Server) handleSampleDaily(w http.ResponseWriter, r *http.Request) {
	sum, err := s.sampleDaily()
	if err != nil {
		s.respondError(w, storageStatus(err), err)
		return
	}
	s.respondCount(w, http.StatusOK,
		fmt.Sprintf("sampled %d of %d cards", sum.Rows, sum.Processed), sum, sum.Rows)
}

func (s *Server) handleGetDaily(w http.ResponseWriter, r *http.Request) {
	rows, err := s.pipe.Query(dailyBlob, storage.FormatJSON, nil)
	if err != nil {
		s.respondError(w, storageStatus(err), err)
		return
	}
	s.respondCount(w, http.StatusOK, "daily cards", rows, len(rows))
}

func (s *Server) handleGetCards(w http.ResponseWriter, r *http.Request) {
	rows, err := s.pipe.Query(cardsBlob, storage.FormatJSON, statlake.Equality(queryFilters(r)))
	if err != nil {
		s.respondError(w, storageStatus(err), err)
		return
	}
	s.respondCount(w, http.StatusOK, "cards", rows, len(rows))
}

func (s *Server) handleRandomCard(w http.ResponseWriter, r *http.Request) {
	card, err := s.pipe.Random(cardsBlob, storage.FormatJSON)
	if err != nil {
		s.respondError(w, storageStatus(err), err)
		return
	}
	s.respond(w, http.StatusOK, "random card", card)
}
