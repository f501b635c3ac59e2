package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/danthegoodman1/trackguard/internal/trackers"
)

type Store struct {
	db *sql.DB
}

// Event is a single blocked connection attempt.
type Event struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Domain     string    `json:"domain,omitempty"`
	IPAddress  string    `json:"ip_address"`
	PacketType string    `json:"packet_type"`
	Blocked    bool      `json:"blocked"`
	AppName    string    `json:"app_name,omitempty"`
	AppPackage string    `json:"app_package,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
}

// Target is the domain if known, otherwise the destination IP.
func (e Event) Target() string {
	if e.Domain != "" {
		return e.Domain
	}
	return e.IPAddress
}

type Stats struct {
	Total    int `json:"total"`
	Today    int `json:"today"`
	ThisWeek int `json:"this_week"`
}

func New(dbPath string) (*Store, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		dsn = dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting WAL mode: %w", err)
		}
		if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting busy timeout: %w", err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS tracker_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			domain TEXT,
			ip_address TEXT NOT NULL,
			packet_type TEXT NOT NULL,
			blocked INTEGER NOT NULL,
			app_name TEXT,
			app_package TEXT,
			session_id TEXT
		) STRICT;

		CREATE INDEX IF NOT EXISTS tracker_events_timestamp ON tracker_events (timestamp);

		CREATE TABLE IF NOT EXISTS tracker_lists (
			source TEXT PRIMARY KEY,
			payload BLOB NOT NULL,
			fetched_at INTEGER NOT NULL
		) STRICT, WITHOUT ROWID
	`)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// InsertEvent appends e and returns its assigned id.
func (s *Store) InsertEvent(e *Event) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO tracker_events (timestamp, domain, ip_address, packet_type, blocked, app_name, app_package, session_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.Timestamp.UnixMilli(), nullString(e.Domain), e.IPAddress, e.PacketType, e.Blocked,
		nullString(e.AppName), nullString(e.AppPackage), nullString(e.SessionID))
	if err != nil {
		return 0, fmt.Errorf("inserting event: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading event id: %w", err)
	}
	e.ID = id
	return id, nil
}

// ListEvents returns every event, newest first.
func (s *Store) ListEvents() ([]Event, error) {
	return s.queryEvents(`
		SELECT id, timestamp, domain, ip_address, packet_type, blocked, app_name, app_package, session_id
		FROM tracker_events ORDER BY timestamp DESC, id DESC
	`)
}

// ListEventsBetween returns events with from <= timestamp < to, newest first.
func (s *Store) ListEventsBetween(from, to time.Time) ([]Event, error) {
	return s.queryEvents(`
		SELECT id, timestamp, domain, ip_address, packet_type, blocked, app_name, app_package, session_id
		FROM tracker_events WHERE timestamp >= ? AND timestamp < ?
		ORDER BY timestamp DESC, id DESC
	`, from.UnixMilli(), to.UnixMilli())
}

func (s *Store) CountBlocked() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM tracker_events WHERE blocked = 1").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting blocked events: %w", err)
	}
	return n, nil
}

func (s *Store) DeleteAllEvents() error {
	if _, err := s.db.Exec("DELETE FROM tracker_events"); err != nil {
		return fmt.Errorf("deleting events: %w", err)
	}
	return nil
}

// DeleteEventsBefore removes events older than t and returns how many.
func (s *Store) DeleteEventsBefore(t time.Time) (int64, error) {
	res, err := s.db.Exec("DELETE FROM tracker_events WHERE timestamp < ?", t.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("pruning events: %w", err)
	}
	return res.RowsAffected()
}

// EventStats counts all events, events since local midnight of now, and
// events since seven days before that midnight.
func (s *Store) EventStats(now time.Time) (Stats, error) {
	startOfDay := StartOfDay(now)
	weekAgo := startOfDay.AddDate(0, 0, -7)

	var st Stats
	err := s.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN timestamp >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN timestamp >= ? THEN 1 ELSE 0 END), 0)
		FROM tracker_events
	`, startOfDay.UnixMilli(), weekAgo.UnixMilli()).Scan(&st.Total, &st.Today, &st.ThisWeek)
	if err != nil {
		return Stats{}, fmt.Errorf("computing event stats: %w", err)
	}
	return st, nil
}

// StartOfDay returns midnight of t in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func (s *Store) SaveTrackerList(source string, payload []byte, fetchedAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO tracker_lists (source, payload, fetched_at)
		VALUES (?, ?, ?)
	`, source, payload, fetchedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("saving tracker list: %w", err)
	}
	return nil
}

// LatestTrackerList returns trackers.ErrNoCachedList when nothing has been
// saved for source.
func (s *Store) LatestTrackerList(source string) ([]byte, time.Time, error) {
	var payload []byte
	var fetchedAt int64
	err := s.db.QueryRow("SELECT payload, fetched_at FROM tracker_lists WHERE source = ?", source).Scan(&payload, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, trackers.ErrNoCachedList
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("loading tracker list: %w", err)
	}
	return payload, time.UnixMilli(fetchedAt), nil
}

func (s *Store) queryEvents(query string, args ...any) ([]Event, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return events, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (Event, error) {
	var e Event
	var ts int64
	var domain, appName, appPackage, sessionID sql.NullString
	err := row.Scan(&e.ID, &ts, &domain, &e.IPAddress, &e.PacketType, &e.Blocked, &appName, &appPackage, &sessionID)
	if err != nil {
		return Event{}, fmt.Errorf("scanning event: %w", err)
	}
	e.Timestamp = time.UnixMilli(ts)
	e.Domain = domain.String
	e.AppName = appName.String
	e.AppPackage = appPackage.String
	e.SessionID = sessionID.String
	return e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
