// Package sportsdb fetches league team rosters from TheSportsDB free
// API. Responses are small single-page lists; only a fixed set of team
// fields is kept.
package sportsdb

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/statlake/statlake"
)

// leagues maps the league selectors we accept to TheSportsDB league
// names.
var leagues = map[string]string{
	"nba": "NBA",
	"nhl": "NHL",
}

// LeagueName resolves a league selector to its upstream name. ok is
// false for unsupported leagues; callers reject those before any I/O.
func LeagueName(league string) (string, bool) {
	name, ok := leagues[league]
	return name, ok
}

// Leagues lists the supported league selectors.
func Leagues() []string {
	out := make([]string, 0, len(leagues))
	for l := range leagues {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// teamFields is the subset of upstream team fields worth keeping.
var teamFields = []string{
	"idTeam",
	"strTeam",
	"strTeamShort",
	"intFormedYear",
	"strSport",
	"strLeague",
	"idLeague",
	"strStadium",
	"strLocation",
	"intStadiumCapacity",
	"strLogo",
}

// Config holds the client settings; zero values get defaults from
// NewClient. BaseURL must include the API key path segment the free
// tier uses.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client is a TheSportsDB API client.
type Client struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger
}

// NewClient returns a Client for cfg with defaults filled in.
func NewClient(cfg Config, log *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, log: log}
}

type teamsResponse struct {
	Teams []map[string]interface{} `json:"teams"`
}

// FetchTeams fetches every team in the league, keeping the selected
// fields plus a fetch timestamp. An unsupported league is rejected
// before any network call.
func (c *Client) FetchTeams(league string) ([]statlake.Record, error) {
	name, ok := LeagueName(league)
	if !ok {
		return nil, errors.Errorf("unsupported league %q", league)
	}

	resp, err := c.http.Get(c.cfg.BaseURL + "/search_all_teams.php?l=" + url.QueryEscape(name))
	if err != nil {
		return nil, errors.Wrapf(err, "fetching %s teams", name)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("teams endpoint returned status %d for %s", resp.StatusCode, name)
	}

	var tr teamsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, errors.Wrapf(err, "decoding %s teams", name)
	}
	if len(tr.Teams) == 0 {
		c.log.Warn("no teams returned", zap.String("league", name))
		return nil, nil
	}

	fetchedAt := time.Now().UTC().Format(time.RFC3339)
	recs := make([]statlake.Record, 0, len(tr.Teams))
	for _, team := range tr.Teams {
		rec := make(statlake.Record, len(teamFields)+1)
		for _, f := range teamFields {
			rec[f] = statlake.Normalize(team[f])
		}
		rec["timestamp"] = fetchedAt
		recs = append(recs, rec)
	}
	c.log.Info("fetched teams", zap.String("league", name), zap.Int("count", len(recs)))
	return recs, nil
}
