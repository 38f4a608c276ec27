package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"filmdex/internal/feed"
)

// SQLite is the embedded file-based backend.
type SQLite struct {
	conn   *sql.DB
	path   string
	logger *log.Logger
}

// OpenSQLite opens (or creates) the embedded catalog database at path.
// The caller must Close it.
func OpenSQLite(path string, logger *log.Logger) (*SQLite, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}
	s := &SQLite{path: path, logger: logger}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLite) open() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+s.path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	// WAL keeps readers unblocked during a reconciliation pass
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s.conn = conn
	return nil
}

// Name implements Backend.
func (s *SQLite) Name() string { return "sqlite" }

// DB implements Backend.
func (s *SQLite) DB() *sql.DB { return s.conn }

// Close implements Backend. A WAL checkpoint runs first so the file is
// complete on disk.
func (s *SQLite) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Printf("WARNING: wal checkpoint failed: %v", err)
	}
	err := s.conn.Close()
	s.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// Reconnect implements Backend.
func (s *SQLite) Reconnect(ctx context.Context) error {
	_ = s.Close()
	return s.open()
}

// InitSchema implements Backend. This is destructive: the schema is
// dropped and recreated and the status row left in StateUninit.
func (s *SQLite) InitSchema(ctx context.Context) error {
	for _, stmt := range schemaDDL {
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	now := time.Now().Unix()
	_, err := s.conn.ExecContext(ctx, stmtInsertStatus,
		now, string(StateUninit), 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0,
		SchemaVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to write initial status: %w", err)
	}
	return nil
}

// SanityCheck implements Backend.
func (s *SQLite) SanityCheck(ctx context.Context) error {
	var state string
	err := s.conn.QueryRowContext(ctx, stmtSanity).Scan(&state)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: sanity query failed: %v", ErrCorrupted, err)
	}
	return nil
}

// Rebuild discards the database file and recreates the schema. This is
// the single most destructive recovery path and is logged distinctly.
func (s *SQLite) Rebuild(ctx context.Context) error {
	s.logger.Printf("===== REBUILD: database will be deleted and regenerated =====")
	_ = s.Close()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove database file: %w", err)
	}
	if err := s.open(); err != nil {
		return err
	}
	return s.InitSchema(ctx)
}

// GetStatus implements Backend.
func (s *SQLite) GetStatus(ctx context.Context) (Status, error) {
	return scanStatus(ctx, s.conn)
}

// SetStatus implements Backend.
func (s *SQLite) SetStatus(ctx context.Context, up StatusUpdate) error {
	return execSetStatus(ctx, s.conn, up)
}

// TryBeginUpdate implements Backend.
func (s *SQLite) TryBeginUpdate(ctx context.Context, staleAfter time.Duration) error {
	return execBeginUpdate(ctx, s.conn, staleAfter)
}

// ResetTouched implements Backend.
func (s *SQLite) ResetTouched(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, stmtResetTouched); err != nil {
		return fmt.Errorf("failed to reset touch markers: %w", err)
	}
	return nil
}

// UpsertFilm implements Backend.
func (s *SQLite) UpsertFilm(ctx context.Context, rec feed.Record) (UpsertResult, error) {
	return execUpsertFilm(ctx, s.conn, rec)
}

// CountUntouched implements Backend.
func (s *SQLite) CountUntouched(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, stmtCountUntouched).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count untouched films: %w", err)
	}
	return n, nil
}

// DeleteUntouched implements Backend.
func (s *SQLite) DeleteUntouched(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, stmtDeleteUntouched); err != nil {
		return fmt.Errorf("failed to delete untouched films: %w", err)
	}
	return nil
}

// Totals implements Backend.
func (s *SQLite) Totals(ctx context.Context) (Totals, error) {
	return scanTotals(ctx, s.conn)
}
