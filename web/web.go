package web

import (
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/statlake/statlake/petfinder"
	"github.com/statlake/statlake/scryfall"
	"github.com/statlake/statlake/sportsdb"
	"github.com/statlake/statlake/storage"
)

// Main holds the config for the serve command.
type Main struct {
	Bind string `help:"Address to listen on for HTTP."`

	Region    string `help:"AWS region for blob storage."`
	Bucket    string `help:"Bucket holding the data lake."`
	Endpoint  string `help:"Custom S3 endpoint, for S3-compatible stores."`
	PathStyle bool   `help:"Use path-style S3 addressing (most S3 compatibles need this)."`

	PetfinderID       string `help:"Petfinder API client id."`
	PetfinderSecret   string `help:"Petfinder API client secret."`
	PetfinderLocation string `help:"Location bias for pet searches, e.g. 'Edmonton, AB'."`

	ScryfallURL string `help:"Scryfall API base URL."`
	SportsURL   string `help:"TheSportsDB API base URL including the key path segment."`

	ReadTimeout  time.Duration `help:"HTTP server read timeout."`
	WriteTimeout time.Duration `help:"HTTP server write timeout."`
}

// NewMain gets a new Main with default values.
func NewMain() *Main {
	return &Main{
		Bind:         ":8000",
		Region:       "us-east-1",
		Bucket:       "statlake",
		ScryfallURL:  scryfall.DefaultBaseURL,
		SportsURL:    "https://www.thesportsdb.com/api/v1/json/3",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // upstream fetch endpoints are slow by design
	}
}

// Run builds the clients from the config and serves until the listener
// fails.
func (m *Main) Run() error {
	log, err := zap.NewProduction()
	if err != nil {
		return errors.Wrap(err, "building logger")
	}
	defer log.Sync()

	store, err := storage.NewClient(storage.Config{
		Region:    m.Region,
		Bucket:    m.Bucket,
		Endpoint:  m.Endpoint,
		PathStyle: m.PathStyle,
	}, log)
	if err != nil {
		return errors.Wrap(err, "building storage client")
	}
	if err := store.EnsureBucket(); err != nil {
		return errors.Wrap(err, "ensuring bucket")
	}

	pets := petfinder.NewClient(petfinder.Config{
		ClientID:     m.PetfinderID,
		ClientSecret: m.PetfinderSecret,
		Location:     m.PetfinderLocation,
	}, log)
	cards := scryfall.NewClient(scryfall.Config{BaseURL: m.ScryfallURL}, log)
	teams := sportsdb.NewClient(sportsdb.Config{BaseURL: m.SportsURL}, log)

	server := NewServer(store, pets, cards, teams, log)
	httpServer := &http.Server{
		Addr:         m.Bind,
		Handler:      server.Handler(),
		ReadTimeout:  m.ReadTimeout,
		WriteTimeout: m.WriteTimeout,
	}
	log.Info("serving", zap.String("bind", m.Bind), zap.String("bucket", m.Bucket))
	return errors.Wrap(httpServer.ListenAndServe(), "serving http")
}
