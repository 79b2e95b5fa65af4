package web_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/statlake/statlake"
	"github.com/statlake/statlake/storage"
	"github.com/statlake/statlake/web"
)

// memStore is an in-memory web.Store over encoded blobs.
type memStore struct {
	objects map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (m *memStore) List(prefix string) ([]storage.ObjectInfo, error) {
	var names []string
	for name := range m.objects {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	infos := make([]storage.ObjectInfo, 0, len(names))
	for _, name := range names {
		infos = append(infos, storage.ObjectInfo{
			Name: name, Size: int64(len(m.objects[name])), LastModified: time.Now(),
		})
	}
	return infos, nil
}

func (m *memStore) Read(name string, f storage.Format) ([]statlake.Record, error) {
	data, ok := m.objects[name]
	if !ok {
		return nil, nil
	}
	return storage.Decode(data, f)
}

func (m *memStore) Write(name string, recs []statlake.Record, f storage.Format) error {
	data, err := storage.Encode(recs, f)
	if err != nil {
		return err
	}
	m.objects[name] = data
	return nil
}

func (m *memStore) Delete(name string) error {
	if _, ok := m.objects[name]; !ok {
		return storage.ErrNotFound
	}
	delete(m.objects, name)
	return nil
}

func (m *memStore) Ping() (storage.ConnectionReport, error) {
	return storage.ConnectionReport{BucketExists: true, CheckedAt: time.Now()}, nil
}

type stubPets struct {
	recs []statlake.Record
	errs []error
}

func (s stubPets) FetchRecent(months int) ([]statlake.Record, []error) { return s.recs, s.errs }

type stubCards struct {
	sets     []statlake.Record
	setsErr  error
	cards    map[string][]statlake.Record
	cardErrs map[string]error
}

func (s stubCards) FetchSets() ([]statlake.Record, error) { return s.sets, s.setsErr }

func (s stubCards) FetchCardsBySet(code string) ([]statlake.Record, error) {
	if err, failed := s.cardErrs[code]; failed {
		return nil, err
	}
	return s.cards[code], nil
}

type stubTeams struct {
	teams []statlake.Record
	err   error
}

func (s stubTeams) FetchTeams(league string) ([]statlake.Record, error) {
	return s.teams, s.err
}

type response struct {
	status  int
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
	Count   *int            `json:"count"`
}

func do(t *testing.T, h http.Handler, method, target string) response {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var resp response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("%s %s: non-JSON response %q", method, target, rec.Body.String())
	}
	resp.status = rec.Code
	return resp
}

func (r response) rows(t *testing.T) []statlake.Record {
	t.Helper()
	var rows []statlake.Record
	if err := json.Unmarshal(r.Data, &rows); err != nil {
		t.Fatalf("data is not a record list: %s", r.Data)
	}
	return rows
}

func petRec(id int, kind string, published time.Time) statlake.Record {
	return statlake.Record{
		"id":           id,
		"type":         kind,
		"published_at": published.Format(time.RFC3339),
		"photos": []interface{}{
			map[string]interface{}{"medium": fmt.Sprintf("http://img/%d.jpg", id)},
		},
	}
}

var (
	jan = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	feb = time.Date(2024, 2, 3, 9, 0, 0, 0, time.UTC)
)

func newHandler(store *memStore, pets stubPets, cards stubCards, teams stubTeams) http.Handler {
	return web.NewServer(store, pets, cards, teams, nil).Handler()
}

func TestHealth(t *testing.T) {
	h := newHandler(newMemStore(), stubPets{}, stubCards{}, stubTeams{})
	for _, target := range []string{"/", "/health"} {
		if resp := do(t, h, http.MethodGet, target); resp.status != http.StatusOK {
			t.Errorf("GET %s: status %d", target, resp.status)
		}
	}
}

func TestSaveAndGetPets(t *testing.T) {
	store := newMemStore()
	pets := stubPets{recs: []statlake.Record{
		petRec(1, "Dog", jan),
		petRec(2, "Cat", jan),
		petRec(3, "Cat", feb),
		{"id": 4, "type": "Dog", "published_at": feb.Format(time.RFC3339)}, // no photo
	}}
	h := newHandler(store, pets, stubCards{}, stubTeams{})

	resp := do(t, h, http.MethodPost, "/petfinder/pets?months=2")
	if resp.status != http.StatusOK {
		t.Fatalf("saving pets: %d %s", resp.status, resp.Error)
	}
	if resp.Count == nil || *resp.Count != 3 {
		t.Errorf("expected 3 pets saved (photo-less dropped), got %v", resp.Count)
	}
	if _, ok := store.objects["petfinder/raw_data/2024-01.parquet"]; !ok {
		t.Errorf("expected a January partition, have %v", keys(store))
	}
	if _, ok := store.objects["petfinder/raw_data/2024-02.parquet"]; !ok {
		t.Errorf("expected a February partition, have %v", keys(store))
	}

	resp = do(t, h, http.MethodGet, "/petfinder/pets?type=Cat")
	if resp.status != http.StatusOK {
		t.Fatalf("getting pets: %d %s", resp.status, resp.Error)
	}
	rows := resp.rows(t)
	if len(rows) != 2 {
		t.Fatalf("expected 2 cats, got %d", len(rows))
	}
	for _, row := range rows {
		if row["type"] != "Cat" {
			t.Errorf("non-cat in filtered result: %v", row)
		}
	}

	resp = do(t, h, http.MethodGet, "/petfinder/files")
	if resp.status != http.StatusOK || resp.Count == nil || *resp.Count != 2 {
		t.Errorf("expected 2 pet partition files, got %+v", resp)
	}
}

func TestSavePetsValidation(t *testing.T) {
	h := newHandler(newMemStore(), stubPets{}, stubCards{}, stubTeams{})
	if resp := do(t, h, http.MethodPost, "/petfinder/pets?months=abc"); resp.status != http.StatusBadRequest {
		t.Errorf("expected 400 for bad months, got %d", resp.status)
	}
	if resp := do(t, h, http.MethodPost, "/petfinder/pets?months=0"); resp.status != http.StatusBadRequest {
		t.Errorf("expected 400 for months=0, got %d", resp.status)
	}
}

func TestSavePetsUpstreamDown(t *testing.T) {
	pets := stubPets{errs: []error{fmt.Errorf("connection refused")}}
	h := newHandler(newMemStore(), pets, stubCards{}, stubTeams{})
	if resp := do(t, h, http.MethodPost, "/petfinder/pets"); resp.status != http.StatusBadGateway {
		t.Errorf("expected 502 when every fetch failed, got %d", resp.status)
	}
}

func TestGetPetsBeforeSave(t *testing.T) {
	h := newHandler(newMemStore(), stubPets{}, stubCards{}, stubTeams{})
	if resp := do(t, h, http.MethodGet, "/petfinder/pets"); resp.status != http.StatusNotFound {
		t.Errorf("expected 404 with no partitions saved, got %d", resp.status)
	}
}

func TestGameBoards(t *testing.T) {
	store := newMemStore()
	var recs []statlake.Record
	for i := 0; i < 12; i++ {
		recs = append(recs, petRec(i, "Dog", jan))
	}
	h := newHandler(store, stubPets{recs: recs}, stubCards{}, stubTeams{})

	if resp := do(t, h, http.MethodPost, "/petfinder/pets"); resp.status != http.StatusOK {
		t.Fatalf("saving pets: %d", resp.status)
	}
	resp := do(t, h, http.MethodPost, "/petfinder/gameboards")
	if resp.status != http.StatusOK {
		t.Fatalf("generating boards: %d %s", resp.status, resp.Error)
	}
	if resp.Count == nil || *resp.Count != 2 {
		t.Errorf("expected 2 boards from 12 pets, got %v", resp.Count)
	}

	resp = do(t, h, http.MethodGet, "/petfinder/gameboards")
	if resp.status != http.StatusOK {
		t.Fatalf("reading boards: %d %s", resp.status, resp.Error)
	}
	var boards []struct {
		ID   int64             `json:"gameboard_id"`
		Rows []statlake.Record `json:"rows"`
	}
	if err := json.Unmarshal(resp.Data, &boards); err != nil {
		t.Fatalf("decoding boards: %v", err)
	}
	if len(boards) != 2 || len(boards[0].Rows) != 5 {
		t.Errorf("unexpected boards shape: %d boards", len(boards))
	}
}

func mtgStubs() stubCards {
	return stubCards{
		sets: []statlake.Record{
			{"code": "lea", "name": "Limited Edition Alpha", "set_type": "core"},
			{"code": "mh3", "name": "Modern Horizons 3", "set_type": "draft_innovation"},
			{"code": "woe", "name": "Wilds of Eldraine", "set_type": "expansion"},
		},
		cards: map[string][]statlake.Record{
			"lea": {
				{"name": "Black Lotus", "set": "lea", "prices": map[string]interface{}{"usd": "27000.00"}},
				{"name": "Forest", "set": "lea", "prices": map[string]interface{}{"usd": "0.05"}},
			},
			"woe": {
				{"name": "Beseech the Mirror", "set": "woe", "prices": map[string]interface{}{"usd": "14.50"}},
			},
		},
	}
}

func TestMtgFlow(t *testing.T) {
	store := newMemStore()
	h := newHandler(store, stubPets{}, mtgStubs(), stubTeams{})

	// Cards before sets is a missing prerequisite.
	if resp := do(t, h, http.MethodPost, "/mtg/cards/update"); resp.status != http.StatusNotFound {
		t.Fatalf("expected 404 updating cards before sets, got %d", resp.status)
	}

	if resp := do(t, h, http.MethodPost, "/mtg/sets"); resp.status != http.StatusOK {
		t.Fatalf("saving sets: %d", resp.status)
	}

	resp := do(t, h, http.MethodGet, "/mtg/sets?set_type=core")
	if resp.status != http.StatusOK || len(resp.rows(t)) != 1 {
		t.Errorf("expected 1 core set, got %+v", resp)
	}
	resp = do(t, h, http.MethodGet, "/mtg/sets?name=horizons")
	if resp.status != http.StatusOK || len(resp.rows(t)) != 1 {
		t.Errorf("expected case-insensitive contains match on name, got %+v", resp)
	}

	resp = do(t, h, http.MethodPost, "/mtg/cards/update")
	if resp.status != http.StatusOK {
		t.Fatalf("updating cards: %d %s", resp.status, resp.Error)
	}
	// Only core+expansion sets are fetched: lea and woe, not mh3.
	if resp.Count == nil || *resp.Count != 3 {
		t.Errorf("expected 3 combined cards, got %v", resp.Count)
	}

	// The daily sample was refreshed as part of the update: only cards
	// over the price floor qualify.
	resp = do(t, h, http.MethodGet, "/mtg/cards/daily")
	if resp.status != http.StatusOK {
		t.Fatalf("reading daily: %d %s", resp.status, resp.Error)
	}
	rows := resp.rows(t)
	if len(rows) != 2 {
		t.Fatalf("expected 2 daily cards over the price floor, got %d", len(rows))
	}
	for _, row := range rows {
		if row["name"] == "Forest" {
			t.Errorf("cheap card in the daily sample: %v", row)
		}
	}

	resp = do(t, h, http.MethodGet, "/mtg/cards")
	if resp.status != http.StatusOK || len(resp.rows(t)) != 3 {
		t.Errorf("expected 3 cards, got %+v", resp)
	}
	resp = do(t, h, http.MethodGet, "/mtg/cards/random")
	if resp.status != http.StatusOK {
		t.Errorf("random card: %d", resp.status)
	}
}

func TestMtgUpdateCountsSetFailures(t *testing.T) {
	store := newMemStore()
	cards := mtgStubs()
	cards.cardErrs = map[string]error{"woe": fmt.Errorf("503 from upstream")}
	h := newHandler(store, stubPets{}, cards, stubTeams{})

	if resp := do(t, h, http.MethodPost, "/mtg/sets"); resp.status != http.StatusOK {
		t.Fatalf("saving sets: %d", resp.status)
	}
	resp := do(t, h, http.MethodPost, "/mtg/cards/update")
	if resp.status != http.StatusOK {
		t.Fatalf("one failed set must not fail the update: %d %s", resp.status, resp.Error)
	}
	if resp.Count == nil || *resp.Count != 2 {
		t.Errorf("expected the 2 lea cards only, got %v", resp.Count)
	}
	if !strings.Contains(resp.Message, "1 sets failed") {
		t.Errorf("expected the failure count in the message, got %q", resp.Message)
	}
}

func TestMtgRandomMissing(t *testing.T) {
	h := newHandler(newMemStore(), stubPets{}, stubCards{}, stubTeams{})
	if resp := do(t, h, http.MethodGet, "/mtg/cards/random"); resp.status != http.StatusNotFound {
		t.Errorf("expected 404 with no cards saved, got %d", resp.status)
	}
}

func TestSaveTeams(t *testing.T) {
	store := newMemStore()
	teams := stubTeams{teams: []statlake.Record{
		{"idTeam": "134880", "strTeam": "Toronto Raptors", "strLeague": "NBA"},
	}}
	h := newHandler(store, stubPets{}, stubCards{}, teams)

	if resp := do(t, h, http.MethodPost, "/sports/save/mlb"); resp.status != http.StatusBadRequest {
		t.Errorf("expected 400 for unsupported league, got %d", resp.status)
	}
	if resp := do(t, h, http.MethodPost, "/sports/save/nba?format=xml"); resp.status != http.StatusBadRequest {
		t.Errorf("expected 400 for bad format, got %d", resp.status)
	}

	resp := do(t, h, http.MethodPost, "/sports/save/nba?format=json")
	if resp.status != http.StatusOK {
		t.Fatalf("saving teams: %d %s", resp.status, resp.Error)
	}
	var saved bool
	for name := range store.objects {
		if strings.HasPrefix(name, "sports/nba/teams_") && strings.HasSuffix(name, ".json") {
			saved = true
		}
	}
	if !saved {
		t.Errorf("expected a timestamped nba blob, have %v", keys(store))
	}
}

func TestGetTeamsServesNewestSave(t *testing.T) {
	store := newMemStore()
	h := newHandler(store, stubPets{}, stubCards{}, stubTeams{})

	if resp := do(t, h, http.MethodGet, "/sports/mlb/teams"); resp.status != http.StatusBadRequest {
		t.Errorf("expected 400 for unsupported league, got %d", resp.status)
	}
	if resp := do(t, h, http.MethodGet, "/sports/nba/teams"); resp.status != http.StatusNotFound {
		t.Errorf("expected 404 before any save, got %d", resp.status)
	}

	// Two saves; the read must serve the newer blob only.
	old := []statlake.Record{
		{"idTeam": "1", "strTeam": "Seattle SuperSonics", "strLeague": "NBA"},
		{"idTeam": "2", "strTeam": "Toronto Raptors", "strLeague": "NBA"},
	}
	if err := store.Write("sports/nba/teams_20240101T000000Z.json", old, storage.FormatJSON); err != nil {
		t.Fatal(err)
	}
	current := []statlake.Record{
		{"idTeam": "2", "strTeam": "Toronto Raptors", "strLeague": "NBA"},
	}
	if err := store.Write("sports/nba/teams_20250101T000000Z.json", current, storage.FormatJSON); err != nil {
		t.Fatal(err)
	}

	resp := do(t, h, http.MethodGet, "/sports/nba/teams")
	if resp.status != http.StatusOK {
		t.Fatalf("reading teams: %d %s", resp.status, resp.Error)
	}
	rows := resp.rows(t)
	if len(rows) != 1 || rows[0]["strTeam"] != "Toronto Raptors" {
		t.Fatalf("expected only the newest save's team, got %v", rows)
	}

	// Equality filters apply to the read.
	resp = do(t, h, http.MethodGet, "/sports/nba/teams?strTeam=Nobody")
	if resp.status != http.StatusOK || len(resp.rows(t)) != 0 {
		t.Errorf("expected an empty filtered result, got %+v", resp)
	}
}

func TestSaveTeamsUpstreamDown(t *testing.T) {
	h := newHandler(newMemStore(), stubPets{}, stubCards{}, stubTeams{err: fmt.Errorf("timeout")})
	if resp := do(t, h, http.MethodPost, "/sports/save/nhl"); resp.status != http.StatusBadGateway {
		t.Errorf("expected 502 when the fetch fails, got %d", resp.status)
	}
}

func TestStorageEndpoints(t *testing.T) {
	store := newMemStore()
	h := newHandler(store, stubPets{}, stubCards{}, stubTeams{})
	if err := store.Write("a/b.json", []statlake.Record{{"x": int64(1)}}, storage.FormatJSON); err != nil {
		t.Fatal(err)
	}

	resp := do(t, h, http.MethodGet, "/storage/files?prefix=a/")
	if resp.status != http.StatusOK || resp.Count == nil || *resp.Count != 1 {
		t.Errorf("expected 1 listed file, got %+v", resp)
	}

	if resp := do(t, h, http.MethodGet, "/storage/ping"); resp.status != http.StatusOK {
		t.Errorf("ping: %d", resp.status)
	}

	if resp := do(t, h, http.MethodDelete, "/storage/files/a/b.json"); resp.status != http.StatusOK {
		t.Errorf("delete: %d %s", resp.status, resp.Error)
	}
	if resp := do(t, h, http.MethodDelete, "/storage/files/a/b.json"); resp.status != http.StatusNotFound {
		t.Errorf("expected 404 deleting twice, got %d", resp.status)
	}
}

func keys(store *memStore) []string {
	var names []string
	for name := range store.objects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
