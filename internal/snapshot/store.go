// Package snapshot owns the local SQLite file that holds exported metadata,
// one table per media kind. All writes go through a single transaction per
// run; Commit is the only durability boundary.
package snapshot

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/irodimus/plexporter/internal/schema"
)

// Store wraps the snapshot database connection and its run transaction.
type Store struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *logrus.Logger
}

// Open opens (or creates) the snapshot file and starts the run transaction.
func Open(path string, logger *logrus.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open snapshot database: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}

	return &Store{db: db, tx: tx, logger: logger}, nil
}

// EnsureSchema creates every kind table that does not exist yet. Idempotent.
func (s *Store) EnsureSchema() error {
	for _, kind := range schema.Kinds() {
		def, _ := schema.Get(kind)
		if _, err := s.tx.Exec(def.DDL); err != nil {
			return fmt.Errorf("failed to create %s table: %w", kind, err)
		}
	}
	return nil
}

// TimestampIndex loads the rating-key to updated-at mapping previously
// persisted for a kind. Used by export to skip unchanged items.
func (s *Store) TimestampIndex(kind schema.Kind) (map[string]int64, error) {
	rows, err := s.tx.Query(fmt.Sprintf("SELECT rating_key, updated_at FROM %s", kind))
	if err != nil {
		return nil, fmt.Errorf("failed to load timestamp index for %s: %w", kind, err)
	}
	defer rows.Close()

	index := map[string]int64{}
	for rows.Next() {
		var key string
		var updatedAt int64
		if err := rows.Scan(&key, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan timestamp row: %w", err)
		}
		index[key] = updatedAt
	}
	return index, rows.Err()
}

// Row is one persisted snapshot record. Columns carries the table's column
// names in declaration order; Values the matching scanned values (string,
// int64, []byte or nil).
type Row struct {
	Columns []string
	Values  []interface{}
}

// Value returns the value stored under a column name.
func (r *Row) Value(col string) (interface{}, bool) {
	for i, c := range r.Columns {
		if c == col {
			return r.Values[i], true
		}
	}
	return nil, false
}

// Bytes returns a blob column, or nil when the column is absent or null.
func (r *Row) Bytes(col string) []byte {
	v, ok := r.Value(col)
	if !ok {
		return nil
	}
	b, _ := v.([]byte)
	return b
}

// String returns a text column coerced to string, with "" for null.
func (r *Row) String(col string) string {
	v, ok := r.Value(col)
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Int64 returns an integer column, with ok=false for absent or null.
func (r *Row) Int64(col string) (int64, bool) {
	v, found := r.Value(col)
	if !found || v == nil {
		return 0, false
	}
	n, ok := v.(int64)
	return n, ok
}

// FindByGUID looks a row up by its cross-server identity. A nil row with a
// nil error means no snapshot exists for that identity.
func (s *Store) FindByGUID(kind schema.Kind, guid string) (*Row, error) {
	rows, err := s.tx.Query(fmt.Sprintf("SELECT * FROM %s WHERE guid = ?", kind), guid)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s by guid: %w", kind, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s columns: %w", kind, err)
	}
	values := make([]interface{}, len(cols))
	dest := make([]interface{}, len(cols))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("failed to scan %s row: %w", kind, err)
	}
	return &Row{Columns: cols, Values: values}, nil
}

// DeleteByRatingKey removes a stale row before its replacement is inserted.
// Delete-then-insert is the only replace pattern the store supports; there is
// no partial update.
func (s *Store) DeleteByRatingKey(kind schema.Kind, ratingKey string) error {
	if _, err := s.tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE rating_key = ?", kind), ratingKey); err != nil {
		return fmt.Errorf("failed to delete stale %s row: %w", kind, err)
	}
	return nil
}

// Insert writes one freshly built row. Columns must match the kind's table.
func (s *Store) Insert(kind schema.Kind, columns []string, values []interface{}) error {
	if len(columns) != len(values) {
		return fmt.Errorf("column/value count mismatch for %s: %d vs %d", kind, len(columns), len(values))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(columns)), ",")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		kind, strings.Join(columns, ","), placeholders)
	if _, err := s.tx.Exec(query, values...); err != nil {
		return fmt.Errorf("failed to insert %s row: %w", kind, err)
	}
	return nil
}

// Commit flushes everything written this run. It must be reached even when
// the run is interrupted, so completed items survive.
func (s *Store) Commit() error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Commit()
	s.tx = nil
	if err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	s.logger.Debug("Snapshot committed")
	return nil
}

// Close releases the database. Uncommitted work is discarded.
func (s *Store) Close() error {
	if s.tx != nil {
		s.tx.Rollback()
		s.tx = nil
	}
	return s.db.Close()
}
