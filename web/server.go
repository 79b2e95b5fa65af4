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

// Package web serves the data lake over HTTP: endpoints which trigger
// upstream fetches into blob storage, and endpoints which read slices
// of what is stored back out as JSON.
package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/statlake/statlake"
	"github.com/statlake/statlake/pipeline"
	"github.com/statlake/statlake/storage"
)

// Store is what the handlers need from blob storage.
type Store interface {
	pipeline.Store
	Delete(name string) error
	Ping() (storage.ConnectionReport, error)
}

// PetSource fetches recently published adoptable animals.
type PetSource interface {
	FetchRecent(months int) ([]statlake.Record, []error)
}

// CardSource fetches the card catalog.
type CardSource interface {
	FetchSets() ([]statlake.Record, error)
	FetchCardsBySet(code string) ([]statlake.Record, error)
}

// TeamSource fetches league team rosters.
type TeamSource interface {
	FetchTeams(league string) ([]statlake.Record, error)
}

// Server routes HTTP requests to the pipeline and the upstream clients.
type Server struct {
	store  Store
	pipe   *pipeline.Pipeline
	pets   PetSource
	cards  CardSource
	teams  TeamSource
	log    *zap.Logger
	router *mux.Router
}

// NewServer returns a Server wired to its dependencies. A nil logger
// means no logging.
func NewServer(store Store, pets PetSource, cards CardSource, teams TeamSource, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		store: store,
		pipe:  pipeline.New(store, pipeline.OptLogger(log)),
		pets:  pets,
		cards: cards,
		teams: teams,
		log:   log,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/storage/files", s.handleListFiles).Methods(http.MethodGet)
	r.HandleFunc("/storage/files/{name:.+}", s.handleDeleteFile).Methods(http.MethodDelete)
	r.HandleFunc("/storage/ping", s.handleStoragePing).Methods(http.MethodGet)

	r.HandleFunc("/petfinder/pets", s.handleSavePets).Methods(http.MethodPost)
	r.HandleFunc("/petfinder/pets", s.handleGetPets).Methods(http.MethodGet)
	r.HandleFunc("/petfinder/files", s.handlePetFiles).Methods(http.MethodGet)
	r.HandleFunc("/petfinder/gameboards", s.handleGenerateGameBoards).Methods(http.MethodPost)
	r.HandleFunc("/petfinder/gameboards", s.handleGetGameBoards).Methods(http.MethodGet)

	r.HandleFunc("/mtg/sets", s.handleSaveSets).Methods(http.MethodPost)
	r.HandleFunc("/mtg/sets", s.handleGetSets).Methods(http.MethodGet)
	r.HandleFunc("/mtg/cards/update", s.handleUpdateCards).Methods(http.MethodPost)
	r.HandleFunc("/mtg/cards/daily", s.handleSampleDaily).Methods(http.MethodPost)
	r.HandleFunc("/mtg/cards/daily", s.handleGetDaily).Methods(http.MethodGet)
	r.HandleFunc("/mtg/cards/random", s.handleRandomCard).Methods(http.MethodGet)
	r.HandleFunc("/mtg/cards", s.handleGetCards).Methods(http.MethodGet)

	r.HandleFunc("/sports/save/{league}", s.handleSaveTeams).Methods(http.MethodPost)
	r.HandleFunc("/sports/{league}/teams", s.handleGetTeams).Methods(http.MethodGet)
	return r
}

// Handler is the server's full middleware stack. CORS is wide open -
// the data served is public catalog data.
func (s *Server) Handler() http.Handler {
	return handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)(s.router)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.New().String()
		w.Header().Set("X-Request-ID", reqID)
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info("request",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(start)))
	})
}

type envelope struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Count   *int        `json:"count,omitempty"`
}

func (s *Server) respond(w http.ResponseWriter, status int, message string, data interface{}) {
	s.writeJSON(w, status, envelope{Message: message, Data: data})
}

// respondCount is respond with an explicit row count, kept even when
// zero.
func (s *Server) respondCount(w http.ResponseWriter, status int, message string, data interface{}, count int) {
	s.writeJSON(w, status, envelope{Message: message, Data: data, Count: &count})
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// storageStatus maps a read-side pipeline error onto a status: the
// prerequisite blob not being there yet is the caller's 404, anything
// else is ours.
func storageStatus(err error) int {
	if err == pipeline.ErrNothingToDo || err == storage.ErrNotFound {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encoding response", zap.Error(err))
	}
}

// queryFilters turns a request's query parameters into equality
// filters, first value wins. reserved names are skipped.
func queryFilters(r *http.Request, reserved ...string) map[string]string {
	skip := map[string]bool{}
	for _, name := range reserved {
		skip[name] = true
	}
	filters := map[string]string{}
	for name, vals := range r.URL.Query() {
		if skip[name] || len(vals) == 0 || vals[0] == "" {
			continue
		}
		filters[name] = vals[0]
	}
	return filters
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, "statlake is up", nil)
}
