package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/maskguard/maskguard/pkg/models"
)

// SQLiteStore is a SQLite-backed implementation of the event store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the event database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	// WAL plus a busy timeout keeps concurrent appenders from tripping over
	// SQLITE_BUSY; a single open connection serializes writes.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts DATETIME NOT NULL,
		source TEXT NOT NULL,
		label TEXT NOT NULL,
		confidence REAL NOT NULL,
		track_id TEXT,
		snapshot_ref TEXT,
		meta TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
	CREATE INDEX IF NOT EXISTS idx_events_source ON events(source);
	CREATE INDEX IF NOT EXISTS idx_events_label ON events(label);
	`
	_, err := s.db.Exec(schema)
	return err
}

// AppendEvent persists an event and returns its assigned ID.
func (s *SQLiteStore) AppendEvent(event *models.Event) (int64, error) {
	var meta any
	if event.Meta != nil {
		data, err := json.Marshal(event.Meta)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal meta: %w", err)
		}
		meta = string(data)
	}

	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	res, err := s.db.Exec(`
		INSERT INTO events (ts, source, label, confidence, track_id, snapshot_ref, meta)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ts, string(event.Source), string(event.Label), event.Confidence,
		nullable(event.TrackID), nullable(event.SnapshotRef), meta)
	if err != nil {
		return 0, fmt.Errorf("failed to append event: %w", err)
	}
	return res.LastInsertId()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func buildWhere(filter EventFilter) (string, []any) {
	clauses := []string{"1=1"}
	var args []any

	if filter.Source != "" {
		clauses = append(clauses, "source = ?")
		args = append(args, string(filter.Source))
	}
	if filter.Label != "" {
		clauses = append(clauses, "label = ?")
		args = append(args, string(filter.Label))
	}
	if !filter.Start.IsZero() {
		clauses = append(clauses, "ts >= ?")
		args = append(args, filter.Start)
	}
	if !filter.End.IsZero() {
		clauses = append(clauses, "ts <= ?")
		args = append(args, filter.End)
	}
	return strings.Join(clauses, " AND "), args
}

// QueryEvents returns matching events, newest first.
func (s *SQLiteStore) QueryEvents(filter EventFilter) ([]models.Event, error) {
	where, args := buildWhere(filter)

	query := fmt.Sprintf(`
		SELECT id, ts, source, label, confidence, track_id, snapshot_ref, meta
		FROM events WHERE %s
		ORDER BY ts DESC, id DESC
	`, where)
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var (
			e        models.Event
			source   string
			label    string
			trackID  sql.NullString
			snapshot sql.NullString
			metaJSON sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &source, &label, &e.Confidence,
			&trackID, &snapshot, &metaJSON); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Source = models.EventSource(source)
		e.Label = models.Label(label)
		e.TrackID = trackID.String
		e.SnapshotRef = snapshot.String
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &e.Meta); err != nil {
				return nil, fmt.Errorf("failed to unmarshal meta for event %d: %w", e.ID, err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// EventStats aggregates totals by label and source for the filter window.
func (s *SQLiteStore) EventStats(filter EventFilter) (*EventStats, error) {
	where, args := buildWhere(filter)

	stats := &EventStats{
		ByLabel:  make(map[models.Label]int),
		BySource: make(map[models.EventSource]int),
	}

	row := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM events WHERE %s", where), args...)
	if err := row.Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}

	rows, err := s.db.Query(fmt.Sprintf(
		"SELECT label, COUNT(*) FROM events WHERE %s GROUP BY label", where), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate by label: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var label string
		var count int
		if err := rows.Scan(&label, &count); err != nil {
			return nil, err
		}
		stats.ByLabel[models.Label(label)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	srcRows, err := s.db.Query(fmt.Sprintf(
		"SELECT source, COUNT(*) FROM events WHERE %s GROUP BY source", where), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate by source: %w", err)
	}
	defer srcRows.Close()
	for srcRows.Next() {
		var source string
		var count int
		if err := srcRows.Scan(&source, &count); err != nil {
			return nil, err
		}
		stats.BySource[models.EventSource(source)] = count
	}
	return stats, srcRows.Err()
}

// ExportCSV streams matching events as CSV in the fixed column order.
func (s *SQLiteStore) ExportCSV(w io.Writer, filter EventFilter) error {
	events, err := s.QueryEvents(filter)
	if err != nil {
		return err
	}
	return writeCSV(w, events)
}

// HealthCheck verifies the database connection is usable.
func (s *SQLiteStore) HealthCheck() error {
	return s.db.Ping()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
