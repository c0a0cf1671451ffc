package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	// SQLite driver
	_ "github.com/mattn/go-sqlite3"

	"github.com/abdul-hamid-achik/hitwire/packages/transport"
)

const schema = `
CREATE TABLE IF NOT EXISTS exchanges (
	id            TEXT PRIMARY KEY,
	request_id    TEXT NOT NULL,
	method        TEXT NOT NULL,
	url           TEXT NOT NULL,
	status        INTEGER NOT NULL DEFAULT 0,
	status_text   TEXT NOT NULL DEFAULT '',
	loading_time  REAL NOT NULL DEFAULT 0,
	request_size  INTEGER NOT NULL DEFAULT 0,
	response_size INTEGER NOT NULL DEFAULT 0,
	redirects     INTEGER NOT NULL DEFAULT 0,
	error         TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS exchanges_created_at ON exchanges (created_at);
`

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("exchange not found")

// Entry is one finished exchange.
type Entry struct {
	ID           string    `json:"id"`
	RequestID    string    `json:"requestId"`
	Method       string    `json:"method"`
	URL          string    `json:"url"`
	Status       int       `json:"status"`
	StatusText   string    `json:"statusText"`
	LoadingTime  float64   `json:"loadingTime"`
	RequestSize  int       `json:"requestSize"`
	ResponseSize int       `json:"responseSize"`
	Redirects    int       `json:"redirects"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Failed reports whether the exchange ended with an error.
func (e *Entry) Failed() bool {
	return e.Error != ""
}

// Store persists exchanges in a sqlite database.
type Store struct {
	db           *sql.DB
	log          zerolog.Logger
	queryTimeout time.Duration
}

// Open opens or creates the database at dsn. Both a plain path and the
// sqlite:// and sqlite: forms are accepted.
func Open(dsn string, log zerolog.Logger) (*Store, error) {
	path := parseDSN(dsn)
	if path == "" {
		return nil, fmt.Errorf("empty history database path")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serializes writers
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db, log: log, queryTimeout: 30 * time.Second}, nil
}

func parseDSN(dsn string) string {
	for _, prefix := range []string{"sqlite://", "sqlite:"} {
		if rest, ok := strings.CutPrefix(dsn, prefix); ok {
			return rest
		}
	}
	return dsn
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save stores e. A missing ID or CreatedAt is filled in.
func (s *Store) Save(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exchanges (id, request_id, method, url, status, status_text,
			loading_time, request_size, response_size, redirects, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RequestID, e.Method, e.URL, e.Status, e.StatusText,
		e.LoadingTime, e.RequestSize, e.ResponseSize, e.Redirects, e.Error, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save exchange: %w", err)
	}
	return nil
}

const selectColumns = `id, request_id, method, url, status, status_text,
	loading_time, request_size, response_size, redirects, error, created_at`

// List returns the most recent exchanges first. A limit of zero or less
// returns all of them.
func (s *Store) List(ctx context.Context, limit int) ([]*Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	query := `SELECT ` + selectColumns + ` FROM exchanges ORDER BY created_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scan(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return entries, nil
}

// Get returns the exchange with the given id.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM exchanges WHERE id = ?`, id)
	e, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.RequestID, &e.Method, &e.URL, &e.Status, &e.StatusText,
		&e.LoadingTime, &e.RequestSize, &e.ResponseSize, &e.Redirects, &e.Error, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}
	return &e, nil
}

// Listener saves the exchange once it loads or fails. method and url
// describe the request when no snapshot is reported.
func (s *Store) Listener(method, url string) transport.Listener {
	entry := func(id string, snap *transport.Snapshot) *Entry {
		e := &Entry{RequestID: id, Method: method, URL: url}
		if snap != nil {
			if snap.Method != "" {
				e.Method = snap.Method
			}
			if snap.URL != "" {
				e.URL = snap.URL
			}
		}
		return e
	}
	save := func(e *Entry) {
		if err := s.Save(context.Background(), e); err != nil {
			s.log.Warn().Err(err).Str("request_id", e.RequestID).Msg("failed to record exchange")
		}
	}
	return &transport.ListenerFuncs{
		OnLoad: func(id string, resp *transport.Response, snap *transport.Snapshot) {
			e := entry(id, snap)
			e.Status = resp.Status
			e.StatusText = resp.StatusText
			e.LoadingTime = resp.LoadingTime
			e.RequestSize = resp.Size.Request
			e.ResponseSize = resp.Size.Response
			e.Redirects = len(resp.Redirects)
			save(e)
		},
		OnError: func(id string, err error, snap *transport.Snapshot, partial *transport.PartialResponse) {
			e := entry(id, snap)
			e.Error = err.Error()
			if partial != nil {
				e.Status = partial.Status
				e.StatusText = partial.StatusText
				e.ResponseSize = len(partial.Payload)
			}
			save(e)
		},
	}
}
