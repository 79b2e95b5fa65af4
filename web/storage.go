package web

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/statlake/statlake/storage"
)

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	infos, err := s.store.List(r.URL.Query().Get("prefix"))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondCount(w, http.StatusOK, "files", infos, len(infos))
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.store.Delete(name); err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, err)
			return
		}
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, http.StatusOK, "deleted "+name, nil)
}

func (s *Server) handleStoragePing(w http.ResponseWriter, r *http.Request) {
	report, err := s.store.Ping()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, http.StatusOK, "storage reachable", report)
}
