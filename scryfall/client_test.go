package scryfall_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/statlake/statlake/scryfall"
)

func TestFetchSets(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sets" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data": []map[string]interface{}{
				{"code": "lea", "name": "Limited Edition Alpha", "set_type": "core"},
				{"code": "mh3", "name": "Modern Horizons 3", "set_type": "draft_innovation"},
			},
		})
	}))
	defer ts.Close()

	c := scryfall.NewClient(scryfall.Config{BaseURL: ts.URL}, nil)
	sets, err := c.FetchSets()
	if err != nil {
		t.Fatalf("fetching sets: %v", err)
	}
	if len(sets) != 2 {
		t.Fatalf("expected 2 sets, got %d", len(sets))
	}
	if sets[0]["code"] != "lea" {
		t.Errorf("unexpected first set: %v", sets[0])
	}
}

func TestFetchSetsRejectsBadShape(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"object": "error", "code": "bad_request"})
	}))
	defer ts.Close()

	c := scryfall.NewClient(scryfall.Config{BaseURL: ts.URL}, nil)
	if _, err := c.FetchSets(); err == nil {
		t.Fatalf("expected an error for a non-list response")
	}
}

func TestFetchCardsBySetFollowsNextPage(t *testing.T) {
	var ts *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/cards/search", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "set:lea" {
			t.Errorf("unexpected search query %q", got)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"object":    "list",
			"has_more":  true,
			"next_page": ts.URL + "/cards/page2",
			"data": []map[string]interface{}{
				{"name": "Black Lotus", "set": "lea"},
			},
		})
	})
	mux.HandleFunc("/cards/page2", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"object":   "list",
			"has_more": false,
			"data": []map[string]interface{}{
				{"name": "Ancestral Recall", "set": "lea"},
				{"name": "Time Walk", "set": "lea"},
			},
		})
	})
	ts = httptest.NewServer(mux)
	defer ts.Close()

	c := scryfall.NewClient(scryfall.Config{BaseURL: ts.URL, PageDelay: 1}, nil)
	cards, err := c.FetchCardsBySet("lea")
	if err != nil {
		t.Fatalf("fetching cards: %v", err)
	}
	if len(cards) != 3 {
		t.Fatalf("expected 3 cards across 2 pages, got %d", len(cards))
	}
	if cards[2]["name"] != "Time Walk" {
		t.Errorf("pages out of order: %v", cards)
	}
}

func TestFetchCardsBySetPageFailureFailsSet(t *testing.T) {
	var ts *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/cards/search", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"object":    "list",
			"has_more":  true,
			"next_page": ts.URL + "/cards/page2",
			"data":      []map[string]interface{}{{"name": "Forest"}},
		})
	})
	mux.HandleFunc("/cards/page2", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	ts = httptest.NewServer(mux)
	defer ts.Close()

	c := scryfall.NewClient(scryfall.Config{BaseURL: ts.URL, PageDelay: 1}, nil)
	if _, err := c.FetchCardsBySet("lea"); err == nil {
		t.Fatalf("expected a mid-set page failure to fail the whole set")
	}
}
