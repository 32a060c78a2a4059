package recorder

import (
	"database/sql"
	"sync"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/wellaios/crypto-chart-mcp/internal/errs"
)

const schema = `
CREATE TABLE IF NOT EXISTS invocations (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	ts          TEXT NOT NULL,
	caller_id   TEXT NOT NULL,
	tool        TEXT NOT NULL,
	asset       TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	artifact_id TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_invocations_ts ON invocations(ts);
CREATE INDEX IF NOT EXISTS idx_invocations_caller ON invocations(caller_id);
`

// SQLite records invocations into a local sqlite database.
type SQLite struct {
	db  *sql.DB
	log zerolog.Logger
	mu  sync.Mutex
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(path string, logger zerolog.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "failed to open invocation database", err)
	}
	// sqlite tolerates one writer; serialize through a single connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.Internal, "failed to enable WAL mode", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.Internal, "failed to apply invocation schema", err)
	}
	return &SQLite{
		db:  db,
		log: logger.With().Str("component", "recorder").Logger(),
	}, nil
}

// Record inserts one invocation. Failures are logged and swallowed so a bad
// disk never breaks a tool call.
func (s *SQLite) Record(inv Invocation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO invocations (ts, caller_id, tool, asset, status, artifact_id, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inv.Time.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		inv.CallerID,
		inv.Tool,
		inv.Asset,
		inv.Status,
		inv.ArtifactID,
		inv.Duration.Milliseconds(),
	)
	if err != nil {
		s.log.Warn().Err(err).Str("tool", inv.Tool).Msg("failed to record invocation")
	}
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Count reports the number of stored invocations, optionally filtered by
// tool name. Empty tool counts everything.
func (s *SQLite) Count(tool string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	var err error
	if tool == "" {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM invocations`).Scan(&n)
	} else {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM invocations WHERE tool = ?`, tool).Scan(&n)
	}
	if err != nil {
		return 0, errs.Wrap(errs.Internal, "failed to count invocations", err)
	}
	return n, nil
}
