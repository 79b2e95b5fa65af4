package web

import (
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/statlake/statlake"
	"github.com/statlake/statlake/sportsdb"
	"github.com/statlake/statlake/storage"
)

func leagueOK(s *Server, w http.ResponseWriter, league string) bool {
	if _, ok := sportsdb.LeagueName(league); !ok {
		s.respondError(w, http.StatusBadRequest,
			errors.Errorf("unsupported league %q (supported: %s)",
				league, strings.Join(sportsdb.Leagues(), ", ")))
		return false
	}
	return true
}

func (s *Server) handleSaveTeams(w http.ResponseWriter, r *http.Request) {
	league := mux.Vars(r)["league"]
	if !leagueOK(s, w, league) {
		return
	}

	format := storage.FormatCSV
	if raw := r.URL.Query().Get("format"); raw != "" {
		f, err := storage.ParseFormat(raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err)
			return
		}
		format = f
	}

	teams, err := s.teams.FetchTeams(league)
	if err != nil {
		s.respondError(w, http.StatusBadGateway, errors.Wrapf(err, "fetching %s teams", league))
		return
	}
	if len(teams) == 0 {
		s.respondError(w, http.StatusNotFound, errors.Errorf("no teams returned for %s", league))
		return
	}

	name := fmt.Sprintf("sports/%s/teams_%s%s",
		league, time.Now().UTC().Format("20060102T150405Z"), format.Ext())
	if err := s.store.Write(name, teams, format); err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondCount(w, http.StatusOK,
		fmt.Sprintf("saved %d %s teams to %s", len(teams), league, name),
		map[string]string{"blob": name}, len(teams))
}

// handleGetTeams serves the most recent saved teams blob for the
// league. Saves are timestamped, so "most recent" is the lexically
// greatest name under the league's prefix, and the blob's extension
// says which codec to read it with.
func (s *Server) handleGetTeams(w http.ResponseWriter, r *http.Request) {
	league := mux.Vars(r)["league"]
	if !leagueOK(s, w, league) {
		return
	}

	infos, err := s.store.List("sports/" + league + "/")
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if len(infos) == 0 {
		s.respondError(w, http.StatusNotFound, errors.Errorf("no saved teams for %s", league))
		return
	}
	latest := infos[0].Name
	for _, info := range infos[1:] {
		if info.Name > latest {
			latest = info.Name
		}
	}

	format, err := storage.ParseFormat(strings.TrimPrefix(path.Ext(latest), "."))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, errors.Wrapf(err, "blob %s", latest))
		return
	}
	rows, err := s.pipe.Query(latest, format, statlake.Equality(queryFilters(r)))
	if err != nil {
		s.respondError(w, storageStatus(err), err)
		return
	}
	s.respondCount(w, http.StatusOK, fmt.Sprintf("%s teams from %s", league, latest), rows, len(rows))
}
