package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/TheCacophonyProject/battery-advisor/internal/advisor"
	_ "modernc.org/sqlite"
)

const DefaultListLimit = 100

// Record is an advisory as it was first shown, along with the sample that caused it.
type Record struct {
	ID         int64        `json:"id"`
	Kind       advisor.Kind `json:"kind"`
	Message    string       `json:"message"`
	ETAMinutes *int         `json:"eta_minutes"`
	Value      float64      `json:"value"`
	Charging   bool         `json:"charging"`
	Timestamp  time.Time    `json:"timestamp"`
}

// NewRecord builds a record for an advisory raised by a sample.
func NewRecord(a advisor.Advisory, s advisor.Sample) Record {
	return Record{
		Kind:       a.Kind,
		Message:    a.Message,
		ETAMinutes: a.ETAMinutes,
		Value:      s.Value,
		Charging:   s.Flag,
		Timestamp:  s.Timestamp,
	}
}

// Store persists advisory changes.
type Store interface {
	SaveAdvisory(r Record) error
	ListAdvisories(limit int) ([]Record, error)
	Close() error
}

// SQLiteStore implements Store with the pure Go sqlite driver.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `CREATE TABLE IF NOT EXISTS advisories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	message TEXT NOT NULL,
	eta_minutes INTEGER,
	value REAL NOT NULL,
	charging INTEGER NOT NULL,
	timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS advisories_timestamp ON advisories(timestamp);`

// NewSQLite opens or creates the database at path.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// WAL lets the HTTP API read while the monitor writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveAdvisory(r Record) error {
	var eta sql.NullInt64
	if r.ETAMinutes != nil {
		eta = sql.NullInt64{Int64: int64(*r.ETAMinutes), Valid: true}
	}
	_, err := s.db.Exec(`INSERT INTO advisories(kind, message, eta_minutes, value, charging, timestamp) VALUES(?,?,?,?,?,?)`,
		string(r.Kind), r.Message, eta, r.Value, r.Charging, r.Timestamp.UnixMilli())
	return err
}

// ListAdvisories returns the most recent records, newest first.
func (s *SQLiteStore) ListAdvisories(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.Query(`SELECT id, kind, message, eta_minutes, value, charging, timestamp FROM advisories ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		var r Record
		var kind string
		var eta sql.NullInt64
		var ts int64
		if err := rows.Scan(&r.ID, &kind, &r.Message, &eta, &r.Value, &r.Charging, &ts); err != nil {
			return nil, err
		}
		r.Kind = advisor.Kind(kind)
		if eta.Valid {
			minutes := int(eta.Int64)
			r.ETAMinutes = &minutes
		}
		r.Timestamp = time.UnixMilli(ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
