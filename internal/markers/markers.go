// Package markers is the privileged write path for intro markers, a feature
// the Plex HTTP API does not expose. It talks straight to the server's own
// library database, so it only works with elevated privilege on the machine
// the server runs on.
package markers

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const (
	libraryDatabaseName = "com.plexapp.plugins.library.db"
	databasePathPref    = "ButlerDatabaseBackupPath"
)

// Writer is the narrow capability the import operation needs. Everything
// else in the engine stays away from the server's raw tables.
type Writer interface {
	// FindIntro reports whether the item already has an intro marker row.
	FindIntro(ratingKey string) (bool, error)
	// InsertIntro creates an intro marker with the given offsets.
	InsertIntro(ratingKey string, start, end int64) error
	// UpdateIntroOffsets rewrites only the time offsets of an existing
	// marker.
	UpdateIntroOffsets(ratingKey string, start, end int64) error
	// Commit flushes marker writes. Must be reached even on interrupt.
	Commit() error
	Close() error
}

// PreferenceLookup resolves a server preference value; satisfied by the plex
// client.
type PreferenceLookup interface {
	Preference(ctx context.Context, id string) (string, error)
}

// RequireElevated verifies the process runs as root, which direct access to
// the server's database file needs.
func RequireElevated() error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("intro marker importing is requested but the process is not run as root")
	}
	return nil
}

// DatabasePath locates the server's library database file. The folder comes
// from the configured override when set, otherwise from the server's backup
// path preference, which points at the live database directory.
func DatabasePath(ctx context.Context, prefs PreferenceLookup, override string) (string, error) {
	folder := override
	if folder == "" {
		var err error
		folder, err = prefs.Preference(ctx, databasePathPref)
		if err != nil {
			return "", fmt.Errorf("failed to locate plex database folder: %w", err)
		}
	}

	path := filepath.Join(folder, libraryDatabaseName)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("plex database not found at %s; the process must run on the plex server itself, or the database folder override is wrong", path)
	}
	return path, nil
}

// SQLiteWriter implements Writer against the server's taggings table.
type SQLiteWriter struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *logrus.Logger
}

// Open connects to the server's library database and starts a transaction.
func Open(path string, logger *logrus.Logger) (*SQLiteWriter, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plex database: %w", err)
	}
	tx, err := db.Begin()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to begin plex database transaction: %w", err)
	}
	return &SQLiteWriter{db: db, tx: tx, logger: logger}, nil
}

// FindIntro reports whether the item already carries an intro tagging row.
func (w *SQLiteWriter) FindIntro(ratingKey string) (bool, error) {
	var id int64
	err := w.tx.QueryRow(
		"SELECT tag_id FROM taggings WHERE text = 'intro' AND metadata_item_id = ? LIMIT 1",
		ratingKey).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query intro marker: %w", err)
	}
	return true, nil
}

// introTagID returns the tag id shared by intro taggings, allocating a fresh
// one (current maximum + 1) when no intro row exists anywhere yet.
func (w *SQLiteWriter) introTagID() (int64, error) {
	var id int64
	err := w.tx.QueryRow("SELECT tag_id FROM taggings WHERE text = 'intro' LIMIT 1").Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to look up intro tag id: %w", err)
	}

	err = w.tx.QueryRow("SELECT tag_id FROM taggings ORDER BY tag_id DESC LIMIT 1").Scan(&id)
	if err == sql.ErrNoRows {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to find highest tag id: %w", err)
	}
	return id + 1, nil
}

// InsertIntro creates the intro tagging row the server's player reads.
func (w *SQLiteWriter) InsertIntro(ratingKey string, start, end int64) error {
	tagID, err := w.introTagID()
	if err != nil {
		return err
	}

	createdAt := time.Now().Format("2006-01-02 15:04:05")
	_, err = w.tx.Exec(`
		INSERT INTO taggings
			(metadata_item_id, tag_id, [index], text, time_offset, end_time_offset, thumb_url, created_at, extra_data)
		VALUES (?, ?, 0, 'intro', ?, ?, '', ?, 'pv%3Aversion=5')`,
		ratingKey, tagID, start, end, createdAt)
	if err != nil {
		return fmt.Errorf("failed to insert intro marker: %w", err)
	}
	w.logger.WithField("rating_key", ratingKey).Debug("Inserted intro marker")
	return nil
}

// UpdateIntroOffsets rewrites the offsets of the item's existing intro row,
// leaving the rest of the row untouched.
func (w *SQLiteWriter) UpdateIntroOffsets(ratingKey string, start, end int64) error {
	_, err := w.tx.Exec(
		"UPDATE taggings SET time_offset = ?, end_time_offset = ? WHERE text = 'intro' AND metadata_item_id = ?",
		start, end, ratingKey)
	if err != nil {
		return fmt.Errorf("failed to update intro marker: %w", err)
	}
	return nil
}

// Commit flushes marker writes to the server's database.
func (w *SQLiteWriter) Commit() error {
	if w.tx == nil {
		return nil
	}
	err := w.tx.Commit()
	w.tx = nil
	if err != nil {
		return fmt.Errorf("failed to commit plex database: %w", err)
	}
	return nil
}

// Close releases the connection, discarding uncommitted writes.
func (w *SQLiteWriter) Close() error {
	if w.tx != nil {
		w.tx.Rollback()
		w.tx = nil
	}
	return w.db.Close()
}
