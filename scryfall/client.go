// Package scryfall fetches Magic: The Gathering catalog data from the
// Scryfall API. Sets arrive in one list response; cards for a set are
// paginated cursor-style through the response's next_page URL.
package scryfall

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/statlake/statlake"
)

// DefaultBaseURL is the production Scryfall API.
const DefaultBaseURL = "https://api.scryfall.com"

// DefaultPageDelay is Scryfall's politely requested inter-request gap.
const DefaultPageDelay = 100 * time.Millisecond

// Config holds the client settings; zero values get defaults from
// NewClient.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	PageDelay time.Duration
}

// Client is a Scryfall API client. Requests run strictly sequentially.
type Client struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger
}

// NewClient returns a Client for cfg with defaults filled in.
func NewClient(cfg Config, log *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.PageDelay == 0 {
		cfg.PageDelay = DefaultPageDelay
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, log: log}
}

type listResponse struct {
	Object   string                   `json:"object"`
	Data     []map[string]interface{} `json:"data"`
	HasMore  bool                     `json:"has_more"`
	NextPage string                   `json:"next_page"`
}

// FetchSets fetches every set object from the /sets endpoint.
func (c *Client) FetchSets() ([]statlake.Record, error) {
	resp, err := c.http.Get(c.cfg.BaseURL + "/sets")
	if err != nil {
		return nil, errors.Wrap(err, "fetching sets")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("sets endpoint returned status %d", resp.StatusCode)
	}
	var list listResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, errors.Wrap(err, "decoding sets response")
	}
	if list.Object != "list" || list.Data == nil {
		return nil, errors.Errorf("unexpected sets response shape (object=%q)", list.Object)
	}
	c.log.Info("fetched scryfall sets", zap.Int("count", len(list.Data)))

	sets := make([]statlake.Record, len(list.Data))
	for i, s := range list.Data {
		sets[i] = s
	}
	return sets, nil
}

// FetchCardsBySet fetches every card in a set, following next_page
// cursors with PageDelay between requests. Any page failure fails the
// whole set - the caller treats a set as one unit of work.
func (c *Client) FetchCardsBySet(code string) ([]statlake.Record, error) {
	searchURL := c.cfg.BaseURL + "/cards/search?q=" + url.QueryEscape("set:"+code) + "&unique=cards&order=set"

	var cards []statlake.Record
	for page := 1; searchURL != ""; page++ {
		resp, err := c.http.Get(searchURL)
		if err != nil {
			return nil, errors.Wrapf(err, "fetching page %d for set %s", page, code)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, errors.Errorf("page %d for set %s returned status %d", page, code, resp.StatusCode)
		}
		var list listResponse
		err = json.NewDecoder(resp.Body).Decode(&list)
		resp.Body.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "decoding page %d for set %s", page, code)
		}
		for _, card := range list.Data {
			cards = append(cards, card)
		}

		if !list.HasMore {
			break
		}
		if list.NextPage == "" {
			c.log.Warn("has_more set but no next_page URL",
				zap.String("set", code), zap.Int("page", page))
			break
		}
		searchURL = list.NextPage
		time.Sleep(c.cfg.PageDelay)
	}
	c.log.Info("fetched cards for set", zap.String("set", code), zap.Int("count", len(cards)))
	return cards, nil
}
