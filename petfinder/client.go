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

// Package petfinder fetches adoptable-animal records from the Petfinder
// API: OAuth2 client-credentials auth, page-number pagination, one
// calendar month of publications per fetch unit.
package petfinder

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/statlake/statlake"
)

// DefaultBaseURL is the production Petfinder API.
const DefaultBaseURL = "https://api.petfinder.com/v2"

// Config holds the client settings. Zero values get sensible defaults
// from NewClient; ClientID and ClientSecret have none.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	// Location biases searches (e.g. "Edmonton, AB"); Distance is the
	// search radius in miles.
	Location string
	Distance int
	PageSize int
	// Timeout bounds each HTTP call. A timed-out page is retried up to
	// MaxRetries times before the month is given up on.
	Timeout    time.Duration
	MaxRetries int
	// PageDelay is slept between page requests to respect upstream
	// rate limits.
	PageDelay time.Duration
}

// Client is a Petfinder API client. Pages are requested strictly
// sequentially.
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
	if cfg.Distance == 0 {
		cfg.Distance = 500
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = 100
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// accessToken exchanges the client credentials for a bearer token. A
// fresh token is fetched per month fetch; nothing is cached across
// requests.
func (c *Client) accessToken() (string, error) {
	resp, err := c.http.PostForm(c.cfg.BaseURL+"/oauth2/token", url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
	})
	if err != nil {
		return "", errors.Wrap(err, "requesting access token")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("token endpoint returned status %d", resp.StatusCode)
	}
	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", errors.Wrap(err, "decoding token response")
	}
	if tok.AccessToken == "" {
		return "", errors.New("token response held no access_token")
	}
	return tok.AccessToken, nil
}

type animalsPage struct {
	Animals []map[string]interface{} `json:"animals"`
}

// FetchMonth fetches every animal published in the calendar month
// containing start. Pages are walked sequentially with PageDelay
// between them; a timed-out page is retried up to MaxRetries times. An
// error alongside records means the month ended early - the records
// fetched before the failure are still good.
func (c *Client) FetchMonth(start time.Time) ([]statlake.Record, error) {
	token, err := c.accessToken()
	if err != nil {
		return nil, err
	}

	monthStart := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	after := monthStart.Format(time.RFC3339)
	before := monthStart.AddDate(0, 1, 0).Format(time.RFC3339)

	var animals []statlake.Record
	page := 1
	retries := 0
	for {
		req, err := http.NewRequest(http.MethodGet, c.cfg.BaseURL+"/animals", nil)
		if err != nil {
			return animals, errors.Wrap(err, "building animals request")
		}
		q := req.URL.Query()
		q.Set("after", after)
		q.Set("before", before)
		q.Set("sort", "recent")
		q.Set("page", strconv.Itoa(page))
		q.Set("limit", strconv.Itoa(c.cfg.PageSize))
		if c.cfg.Location != "" {
			q.Set("location", c.cfg.Location)
			q.Set("distance", strconv.Itoa(c.cfg.Distance))
		}
		req.URL.RawQuery = q.Encode()
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if isTimeout(err) && retries < c.cfg.MaxRetries {
				retries++
				c.log.Warn("timeout fetching animals page, retrying",
					zap.String("month", monthStart.Format("2006-01")),
					zap.Int("page", page),
					zap.Int("retry", retries))
				continue
			}
			return animals, errors.Wrapf(err, "fetching animals page %d for %s", page, monthStart.Format("2006-01"))
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return animals, errors.Errorf("animals page %d for %s returned status %d",
				page, monthStart.Format("2006-01"), resp.StatusCode)
		}

		var pg animalsPage
		err = json.NewDecoder(resp.Body).Decode(&pg)
		resp.Body.Close()
		if err != nil {
			return animals, errors.Wrapf(err, "decoding animals page %d", page)
		}
		if len(pg.Animals) == 0 {
			return animals, nil
		}
		for _, a := range pg.Animals {
			animals = append(animals, a)
		}
		page++
		retries = 0
		time.Sleep(c.cfg.PageDelay)
	}
}

// MonthError records a month window whose fetch ended early.
type MonthError struct {
	Month string
	Err   error
}

func (e MonthError) Error() string {
	return fmt.Sprintf("month %s: %v", e.Month, e.Err)
}

// FetchRecent fetches animals for the most recent `months` calendar
// months, newest first. Failed months are reported alongside whatever
// was fetched; a failed month never aborts the remaining ones.
func (c *Client) FetchRecent(months int) ([]statlake.Record, []error) {
	now := time.Now().UTC()
	thisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	var all []statlake.Record
	var errs []error
	for i := 0; i < months; i++ {
		monthStart := thisMonth.AddDate(0, -i, 0)
		animals, err := c.FetchMonth(monthStart)
		if err != nil {
			c.log.Warn("month fetch ended early",
				zap.String("month", monthStart.Format("2006-01")),
				zap.Error(err))
			errs = append(errs, MonthError{Month: monthStart.Format("2006-01"), Err: err})
		}
		c.log.Info("fetched animals for month",
			zap.String("month", monthStart.Format("2006-01")),
			zap.Int("count", len(animals)))
		all = append(all, animals...)
	}
	return all, errs
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
