package snapshot

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/irodimus/plexporter/internal/schema"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	store, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.EnsureSchema(); err != nil {
		t.Fatalf("failed to ensure schema: %v", err)
	}
	return store
}

func movieColumns() []string {
	return []string{"rating_key", "guid", "updated_at", "title"}
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "snapshot.db"))
	if err := store.EnsureSchema(); err != nil {
		t.Fatalf("second EnsureSchema must be a no-op: %v", err)
	}
}

func TestInsertAndTimestampIndex(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "snapshot.db"))

	rows := [][]interface{}{
		{"101", "imdb://tt0113277", int64(1700000000), "Heat"},
		{"102", "imdb://tt0133093", int64(1700000500), "The Matrix"},
	}
	for _, values := range rows {
		if err := store.Insert(schema.Movie, movieColumns(), values); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	index, err := store.TimestampIndex(schema.Movie)
	if err != nil {
		t.Fatalf("TimestampIndex failed: %v", err)
	}
	if len(index) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(index))
	}
	if index["101"] != 1700000000 || index["102"] != 1700000500 {
		t.Errorf("unexpected index contents: %v", index)
	}
}

func TestInsertColumnValueMismatch(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "snapshot.db"))
	err := store.Insert(schema.Movie, movieColumns(), []interface{}{"101"})
	if err == nil {
		t.Fatal("expected mismatch error")
	}
}

func TestFindByGUID(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "snapshot.db"))

	if err := store.Insert(schema.Movie, movieColumns(),
		[]interface{}{"101", "imdb://tt0113277", int64(5), "Heat"}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	row, err := store.FindByGUID(schema.Movie, "imdb://tt0113277")
	if err != nil {
		t.Fatalf("FindByGUID failed: %v", err)
	}
	if row == nil {
		t.Fatal("expected a row")
	}
	if row.String("title") != "Heat" {
		t.Errorf("title mismatch: %q", row.String("title"))
	}
	if n, ok := row.Int64("updated_at"); !ok || n != 5 {
		t.Errorf("updated_at mismatch: %v %v", n, ok)
	}
	if _, found := row.Value("nope"); found {
		t.Error("unknown column must report not found")
	}

	missing, err := store.FindByGUID(schema.Movie, "imdb://tt9999999")
	if err != nil {
		t.Fatalf("FindByGUID failed: %v", err)
	}
	if missing != nil {
		t.Error("absent identity must return a nil row with a nil error")
	}
}

func TestDeleteThenInsertReplaces(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "snapshot.db"))

	if err := store.Insert(schema.Movie, movieColumns(),
		[]interface{}{"101", "imdb://tt0113277", int64(5), "Heat"}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := store.DeleteByRatingKey(schema.Movie, "101"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := store.Insert(schema.Movie, movieColumns(),
		[]interface{}{"101", "imdb://tt0113277", int64(9), "Heat"}); err != nil {
		t.Fatalf("reinsert failed: %v", err)
	}

	index, err := store.TimestampIndex(schema.Movie)
	if err != nil {
		t.Fatalf("TimestampIndex failed: %v", err)
	}
	if index["101"] != 9 {
		t.Errorf("replacement row not visible, index: %v", index)
	}
}

func TestCommitPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.db")

	store := openStore(t, path)
	if err := store.Insert(schema.Movie, movieColumns(),
		[]interface{}{"101", "imdb://tt0113277", int64(5), "Heat"}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := store.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if err := store.Commit(); err != nil {
		t.Fatalf("second commit must be a no-op: %v", err)
	}
	store.Close()

	reopened := openStore(t, path)
	index, err := reopened.TimestampIndex(schema.Movie)
	if err != nil {
		t.Fatalf("TimestampIndex failed: %v", err)
	}
	if index["101"] != 5 {
		t.Errorf("committed row lost across reopen: %v", index)
	}
}

func TestCloseWithoutCommitDiscards(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.db")

	store := openStore(t, path)
	if err := store.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	store.Close()

	store = openStore(t, path)
	if err := store.Insert(schema.Movie, movieColumns(),
		[]interface{}{"101", "imdb://tt0113277", int64(5), "Heat"}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	store.Close()

	reopened := openStore(t, path)
	index, err := reopened.TimestampIndex(schema.Movie)
	if err != nil {
		t.Fatalf("TimestampIndex failed: %v", err)
	}
	if len(index) != 0 {
		t.Errorf("uncommitted row survived close: %v", index)
	}
}

func TestBlobRoundTrip(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "snapshot.db"))

	poster := []byte{0x89, 0x50, 0x4e, 0x47}
	columns := append(movieColumns(), "poster")
	values := []interface{}{"101", "imdb://tt0113277", int64(5), "Heat", poster}
	if err := store.Insert(schema.Movie, columns, values); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	row, err := store.FindByGUID(schema.Movie, "imdb://tt0113277")
	if err != nil || row == nil {
		t.Fatalf("FindByGUID failed: %v", err)
	}
	if got := row.Bytes("poster"); string(got) != string(poster) {
		t.Errorf("poster blob mismatch: %v", got)
	}
	if row.Bytes("art") != nil {
		t.Error("null blob must come back nil")
	}
}
