package controllers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/irodimus/plexporter/internal/schema"
	"github.com/irodimus/plexporter/internal/services/plex"
)

// capture records the write-side requests an import issues.
type capture struct {
	mu       sync.Mutex
	puts     []url.Values
	scrobble []url.Values
	progress []url.Values
	assets   []string
}

func importHandler(c *capture) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()
		switch {
		case r.URL.Path == "/library/sections":
			fmt.Fprint(w, `{"MediaContainer":{"Directory":[{"key":"1","type":"movie","title":"Films"}]}}`)
		case r.URL.Path == "/library/sections/1/all" && r.Method == http.MethodPut:
			c.puts = append(c.puts, r.URL.Query())
		case r.URL.Path == "/library/sections/1/all":
			fmt.Fprint(w, `{"MediaContainer":{"Metadata":[
				{"ratingKey":"900","title":"Heat","updatedAt":300,"Guid":[{"id":"imdb://a"}]}]}}`)
		case r.URL.Path == "/library/metadata/900":
			fmt.Fprint(w, `{"MediaContainer":{"Metadata":[
				{"ratingKey":"900","title":"Heat","updatedAt":300,
				 "Guid":[{"id":"imdb://a"}],
				 "Genre":[{"tag":"Horror"}]}]}}`)
		case r.URL.Path == "/:/scrobble":
			c.scrobble = append(c.scrobble, r.URL.Query())
		case r.URL.Path == "/:/progress":
			c.progress = append(c.progress, r.URL.Query())
		case strings.HasPrefix(r.URL.Path, "/library/metadata/900/"):
			c.assets = append(c.assets, r.URL.Path)
		default:
			http.NotFound(w, r)
		}
	})
}

func TestImportReplaysMetadata(t *testing.T) {
	c := &capture{}
	client := testPlexClient(t, importHandler(c))
	store := testStore(t)

	// A snapshot taken on another server: different rating key, same GUID.
	if err := store.Insert(schema.Movie,
		[]string{"rating_key", "guid", "updated_at", "title", "studio", "Genre"},
		[]interface{}{"101", "imdb://a", int64(200), "Heat", "Warner Bros.", "Crime,Thriller"}); err != nil {
		t.Fatalf("seed insert failed: %v", err)
	}

	targets := Targets{Metadata: true}
	op := NewImportOperation(store, client, targets, "admin-token", nil, testLogger())
	engine := NewEngine(client, store, op, ModeImport,
		&Filter{AllMovie: true}, targets, nil, testLogger())

	processed, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(processed) != 1 || processed[0] != "900" {
		t.Errorf("unexpected processed set: %v", processed)
	}

	if len(c.puts) != 1 {
		t.Fatalf("expected one field update, got %d", len(c.puts))
	}
	put := c.puts[0]
	if put.Get("id") != "900" {
		t.Errorf("payload must address the local rating key, got %q", put.Get("id"))
	}
	if put.Get("title.value") != "Heat" || put.Get("studio.value") != "Warner Bros." {
		t.Errorf("scalar values not replayed: %v", put)
	}
	if put.Get("genre[0].tag.tag") != "Crime" || put.Get("genre[1].tag.tag") != "Thriller" {
		t.Errorf("tags not replayed: %v", put)
	}
	// The remote item currently carries a tag the snapshot does not.
	if put.Get("genre[].tag.tag-") != "Horror" {
		t.Errorf("foreign tag not removed: %v", put)
	}
	if put.Get("thumb.locked") != "1" || put.Get("title.locked") != "1" {
		t.Errorf("fields must be locked: %v", put)
	}
}

func TestImportSkipsUnknownGUID(t *testing.T) {
	c := &capture{}
	client := testPlexClient(t, importHandler(c))
	store := testStore(t)
	// The snapshot has nothing for imdb://a.

	targets := Targets{Metadata: true}
	op := NewImportOperation(store, client, targets, "admin-token", nil, testLogger())
	engine := NewEngine(client, store, op, ModeImport,
		&Filter{AllMovie: true}, targets, nil, testLogger())

	processed, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(processed) != 0 {
		t.Errorf("an item with no snapshot row must be skipped, got %v", processed)
	}
	if len(c.puts) != 0 {
		t.Errorf("no field update expected, got %v", c.puts)
	}
}

func TestImportReplaysWatchedState(t *testing.T) {
	c := &capture{}
	client := testPlexClient(t, importHandler(c))
	store := testStore(t)

	// Admin watched it, user 17 is halfway through, user 99 no longer
	// shares the server.
	if err := store.Insert(schema.Movie,
		[]string{"rating_key", "guid", "updated_at", "watched_status"},
		[]interface{}{"101", "imdb://a", int64(200), "_admin,True,17,120000,99,False"}); err != nil {
		t.Fatalf("seed insert failed: %v", err)
	}

	targets := Targets{WatchedStatus: true}
	op := NewImportOperation(store, client, targets, "admin-token", nil, testLogger())
	engine := NewEngine(client, store, op, ModeImport,
		&Filter{AllMovie: true}, targets,
		[]plex.User{{ID: "17", Token: "token17"}}, testLogger())

	if _, err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(c.scrobble) != 1 {
		t.Fatalf("expected one scrobble, got %d", len(c.scrobble))
	}
	if c.scrobble[0].Get("X-Plex-Token") != "admin-token" || c.scrobble[0].Get("key") != "900" {
		t.Errorf("admin scrobble wrong: %v", c.scrobble[0])
	}
	if len(c.progress) != 1 {
		t.Fatalf("expected one progress call, got %d", len(c.progress))
	}
	if c.progress[0].Get("X-Plex-Token") != "token17" || c.progress[0].Get("time") != "120000" {
		t.Errorf("user progress wrong: %v", c.progress[0])
	}
}

func TestImportUploadsAssets(t *testing.T) {
	c := &capture{}
	client := testPlexClient(t, importHandler(c))
	store := testStore(t)

	if err := store.Insert(schema.Movie,
		[]string{"rating_key", "guid", "updated_at", "poster", "art"},
		[]interface{}{"101", "imdb://a", int64(200), []byte{1, 2}, []byte{3, 4}}); err != nil {
		t.Fatalf("seed insert failed: %v", err)
	}

	targets := Targets{Poster: true, Art: true}
	op := NewImportOperation(store, client, targets, "admin-token", nil, testLogger())
	engine := NewEngine(client, store, op, ModeImport,
		&Filter{AllMovie: true}, targets, nil, testLogger())

	if _, err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(c.assets) != 2 {
		t.Fatalf("expected poster and art uploads, got %v", c.assets)
	}
	if c.assets[0] != "/library/metadata/900/posters" || c.assets[1] != "/library/metadata/900/arts" {
		t.Errorf("unexpected upload paths: %v", c.assets)
	}
}

// fakeMarkerWriter records intro marker writes without a server database.
type fakeMarkerWriter struct {
	existing map[string]bool
	inserted map[string][2]int64
	updated  map[string][2]int64
}

func newFakeMarkerWriter() *fakeMarkerWriter {
	return &fakeMarkerWriter{
		existing: map[string]bool{},
		inserted: map[string][2]int64{},
		updated:  map[string][2]int64{},
	}
}

func (f *fakeMarkerWriter) FindIntro(ratingKey string) (bool, error) {
	return f.existing[ratingKey], nil
}

func (f *fakeMarkerWriter) InsertIntro(ratingKey string, start, end int64) error {
	f.inserted[ratingKey] = [2]int64{start, end}
	return nil
}

func (f *fakeMarkerWriter) UpdateIntroOffsets(ratingKey string, start, end int64) error {
	f.updated[ratingKey] = [2]int64{start, end}
	return nil
}

func (f *fakeMarkerWriter) Commit() error { return nil }
func (f *fakeMarkerWriter) Close() error  { return nil }

func TestImportReplaysIntroMarkers(t *testing.T) {
	client := testPlexClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/library/sections":
			fmt.Fprint(w, `{"MediaContainer":{"Directory":[{"key":"3","type":"show","title":"TV"}]}}`)
		case "/library/sections/3/all":
			fmt.Fprint(w, `{"MediaContainer":{"Metadata":[
				{"ratingKey":"300","key":"/library/metadata/300/children","title":"Lost","updatedAt":100,"Guid":[{"id":"tvdb://x"}]}]}}`)
		case "/library/metadata/300/children":
			fmt.Fprint(w, `{"MediaContainer":{"Metadata":[]}}`)
		case "/library/metadata/300":
			fmt.Fprint(w, `{"MediaContainer":{"Metadata":[
				{"ratingKey":"300","title":"Lost","updatedAt":100,"Guid":[{"id":"tvdb://x"}]}]}}`)
		case "/library/metadata/300/allLeaves":
			fmt.Fprint(w, `{"MediaContainer":{"Metadata":[
				{"ratingKey":"911","title":"Pilot","parentIndex":1,"index":1,"updatedAt":100,"Guid":[{"id":"tvdb://x/1/1"}]},
				{"ratingKey":"912","title":"Tabula Rasa","parentIndex":1,"index":2,"updatedAt":100,"Guid":[{"id":"tvdb://x/1/2"}]}]}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	store := testStore(t)

	episodes := [][]interface{}{
		{"311", "tvdb://x/1/1", int64(100), int64(5000), int64(95000)},
		{"312", "tvdb://x/1/2", int64(100), int64(4000), int64(94000)},
	}
	for _, values := range episodes {
		if err := store.Insert(schema.Episode,
			[]string{"rating_key", "guid", "updated_at", "intro_start", "intro_end"}, values); err != nil {
			t.Fatalf("seed insert failed: %v", err)
		}
	}

	writer := newFakeMarkerWriter()
	writer.existing["912"] = true

	targets := Targets{IntroMarkers: true}
	op := NewImportOperation(store, client, targets, "admin-token", writer, testLogger())
	engine := NewEngine(client, store, op, ModeImport,
		&Filter{AllShow: true}, targets, nil, testLogger())

	if _, err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := writer.inserted["911"]; got != [2]int64{5000, 95000} {
		t.Errorf("episode without a marker must get an insert, got %v", got)
	}
	if got := writer.updated["912"]; got != [2]int64{4000, 94000} {
		t.Errorf("episode with a marker must get an offset update, got %v", got)
	}
	if _, ok := writer.inserted["912"]; ok {
		t.Error("existing marker must not be inserted again")
	}
}
