package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rexliu/w3abridge/pkg/ids"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Options tunes the connection pragmas.
type Options struct {
	JournalMode string
	Synchronous string
}

// Store owns the SQLite database for a profile.
type Store struct {
	db   *sql.DB
	path string
	opts Options
}

// Path returns the underlying SQLite file path.
func (s *Store) Path() string {
	return s.path
}

// Open initializes a SQLite database at path.
func Open(path string, opts Options) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if opts.JournalMode == "" {
		opts.JournalMode = "WAL"
	}
	if opts.Synchronous == "" {
		opts.Synchronous = "NORMAL"
	}
	return &Store{db: db, path: path, opts: opts}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Init applies pragmas and the schema.
func (s *Store) Init(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("nil store")
	}
	journal, err := pragmaValue(s.opts.JournalMode, "DELETE", "TRUNCATE", "PERSIST", "MEMORY", "WAL", "OFF")
	if err != nil {
		return fmt.Errorf("journal mode: %w", err)
	}
	syncMode, err := pragmaValue(s.opts.Synchronous, "OFF", "NORMAL", "FULL", "EXTRA")
	if err != nil {
		return fmt.Errorf("synchronous: %w", err)
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = " + journal + ";",
		"PRAGMA synchronous = " + syncMode + ";",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, stmt := range pragmas {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply pragma %q: %w", stmt, err)
		}
	}
	return s.applySchema(ctx)
}

func (s *Store) applySchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`INSERT OR IGNORE INTO meta(key,value) VALUES ('schemaVersion','1');`,
		`CREATE TABLE IF NOT EXISTS sessions (
			client_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			login_provider TEXT NOT NULL,
			response TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS dispatches (
			trace_id TEXT PRIMARY KEY,
			command TEXT NOT NULL,
			outcome TEXT NOT NULL CHECK (outcome IN ('success','error','not_implemented')),
			code TEXT,
			started_at INTEGER NOT NULL,
			duration_us INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_dispatches_started ON dispatches(started_at);`,
		`CREATE INDEX IF NOT EXISTS idx_dispatches_command ON dispatches(command, started_at);`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// SessionRecord is a persisted SDK session for one client ID. Response is
// the JSON-encoded login result.
type SessionRecord struct {
	ClientID      string
	SessionID     string
	LoginProvider string
	Response      []byte
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// SaveSession inserts or replaces the session for rec.ClientID.
func (s *Store) SaveSession(ctx context.Context, rec SessionRecord) error {
	if rec.ClientID == "" || rec.SessionID == "" {
		return errors.New("session record requires client and session id")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions(client_id, session_id, login_provider, response, created_at, expires_at)
		VALUES(?,?,?,?,?,?)
		ON CONFLICT(client_id) DO UPDATE SET
			session_id = excluded.session_id,
			login_provider = excluded.login_provider,
			response = excluded.response,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at;
	`, rec.ClientID, rec.SessionID, rec.LoginProvider, string(rec.Response), rec.CreatedAt.UnixMilli(), rec.ExpiresAt.UnixMilli())
	return err
}

// LoadSession returns the session stored for clientID.
func (s *Store) LoadSession(ctx context.Context, clientID string) (SessionRecord, error) {
	var (
		rec      SessionRecord
		response string
		created  int64
		expires  int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT client_id, session_id, login_provider, response, created_at, expires_at
		FROM sessions WHERE client_id = ?;
	`, clientID).Scan(&rec.ClientID, &rec.SessionID, &rec.LoginProvider, &response, &created, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, ErrNotFound
	}
	if err != nil {
		return SessionRecord{}, err
	}
	rec.Response = []byte(response)
	rec.CreatedAt = time.UnixMilli(created)
	rec.ExpiresAt = time.UnixMilli(expires)
	return rec, nil
}

// DeleteSession removes the session for clientID.
func (s *Store) DeleteSession(ctx context.Context, clientID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE client_id = ?`, clientID)
	return wrapRowsAffected(res, err)
}

// DispatchRecord is one journal row.
type DispatchRecord struct {
	TraceID   string        `json:"traceId"`
	Command   string        `json:"command"`
	Outcome   string        `json:"outcome"`
	Code      string        `json:"code,omitempty"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
}

// RecordDispatch appends rec to the journal. A zero StartedAt is taken
// from the timestamp in the trace ID.
func (s *Store) RecordDispatch(ctx context.Context, rec DispatchRecord) error {
	if rec.StartedAt.IsZero() {
		started, ok := ids.Time(rec.TraceID)
		if !ok {
			return fmt.Errorf("dispatch %q has no start time", rec.TraceID)
		}
		rec.StartedAt = started
	}
	var code *string
	if rec.Code != "" {
		code = &rec.Code
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dispatches(trace_id, command, outcome, code, started_at, duration_us)
		VALUES(?,?,?,?,?,?);
	`, rec.TraceID, rec.Command, rec.Outcome, code, rec.StartedAt.UnixMicro(), rec.Duration.Microseconds())
	return err
}

// JournalFilter narrows ListDispatches. Zero values match everything.
type JournalFilter struct {
	Command string
	Outcome string
	Limit   int
}

// ListDispatches returns journal rows, newest first.
func (s *Store) ListDispatches(ctx context.Context, f JournalFilter) ([]DispatchRecord, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}
	where := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if f.Command != "" {
		where = append(where, "command = ?")
		args = append(args, f.Command)
	}
	if f.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, f.Outcome)
	}
	stmt := `SELECT trace_id, command, outcome, code, started_at, duration_us FROM dispatches`
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY started_at DESC, trace_id DESC LIMIT ?"
	args = append(args, f.Limit)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]DispatchRecord, 0)
	for rows.Next() {
		var (
			rec      DispatchRecord
			code     *string
			started  int64
			duration int64
		)
		if err := rows.Scan(&rec.TraceID, &rec.Command, &rec.Outcome, &code, &started, &duration); err != nil {
			return nil, err
		}
		if code != nil {
			rec.Code = *code
		}
		rec.StartedAt = time.UnixMicro(started)
		rec.Duration = time.Duration(duration) * time.Microsecond
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PruneDispatches deletes journal rows started before cutoff and reports
// how many were removed.
func (s *Store) PruneDispatches(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dispatches WHERE started_at < ?`, cutoff.UnixMicro())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func pragmaValue(raw string, allowed ...string) (string, error) {
	val := strings.ToUpper(strings.TrimSpace(raw))
	for _, a := range allowed {
		if val == a {
			return val, nil
		}
	}
	return "", fmt.Errorf("unsupported value %q", raw)
}

func wrapRowsAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}
