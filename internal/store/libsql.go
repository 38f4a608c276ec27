package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"filmdex/internal/feed"
)

// LibSQL is the client/server backend. It speaks to a remote sqld
// instance over the libsql protocol, so several hosts can share one
// catalog. Recovery differs from the embedded backend: there is no
// file to delete, so a rebuild is DROP-based via InitSchema.
type LibSQL struct {
	conn   *sql.DB
	url    string
	logger *log.Logger
}

// OpenLibSQL connects to the database at url, e.g.
// "libsql://catalog-example.turso.io?authToken=..." or
// "http://localhost:8080". The caller must Close it.
func OpenLibSQL(url string, logger *log.Logger) (*LibSQL, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}
	l := &LibSQL{url: url, logger: logger}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *LibSQL) open() error {
	conn, err := sql.Open("libsql", l.url)
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

	l.conn = conn
	return nil
}

// Name implements Backend.
func (l *LibSQL) Name() string { return "libsql" }

// DB implements Backend.
func (l *LibSQL) DB() *sql.DB { return l.conn }

// Close implements Backend.
func (l *LibSQL) Close() error {
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// Reconnect implements Backend.
func (l *LibSQL) Reconnect(ctx context.Context) error {
	_ = l.Close()
	return l.open()
}

// InitSchema implements Backend.
func (l *LibSQL) InitSchema(ctx context.Context) error {
	for _, stmt := range schemaDDL {
		if _, err := l.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	now := time.Now().Unix()
	_, err := l.conn.ExecContext(ctx, stmtInsertStatus,
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
func (l *LibSQL) SanityCheck(ctx context.Context) error {
	var state string
	err := l.conn.QueryRowContext(ctx, stmtSanity).Scan(&state)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: sanity query failed: %v", ErrCorrupted, err)
	}
	return nil
}

// Rebuild recreates the schema in place. The remote database file
// belongs to the server, so unlike the embedded backend nothing is
// deleted on disk.
func (l *LibSQL) Rebuild(ctx context.Context) error {
	l.logger.Printf("===== REBUILD: remote schema will be dropped and regenerated =====")
	return l.InitSchema(ctx)
}

// GetStatus implements Backend.
func (l *LibSQL) GetStatus(ctx context.Context) (Status, error) {
	return scanStatus(ctx, l.conn)
}

// SetStatus implements Backend.
func (l *LibSQL) SetStatus(ctx context.Context, up StatusUpdate) error {
	return execSetStatus(ctx, l.conn, up)
}

// TryBeginUpdate implements Backend.
func (l *LibSQL) TryBeginUpdate(ctx context.Context, staleAfter time.Duration) error {
	return execBeginUpdate(ctx, l.conn, staleAfter)
}

// ResetTouched implements Backend.
func (l *LibSQL) ResetTouched(ctx context.Context) error {
	if _, err := l.conn.ExecContext(ctx, stmtResetTouched); err != nil {
		return fmt.Errorf("failed to reset touch markers: %w", err)
	}
	return nil
}

// UpsertFilm implements Backend.
func (l *LibSQL) UpsertFilm(ctx context.Context, rec feed.Record) (UpsertResult, error) {
	return execUpsertFilm(ctx, l.conn, rec)
}

// CountUntouched implements Backend.
func (l *LibSQL) CountUntouched(ctx context.Context) (int, error) {
	var n int
	if err := l.conn.QueryRowContext(ctx, stmtCountUntouched).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count untouched films: %w", err)
	}
	return n, nil
}

// DeleteUntouched implements Backend.
func (l *LibSQL) DeleteUntouched(ctx context.Context) error {
	if _, err := l.conn.ExecContext(ctx, stmtDeleteUntouched); err != nil {
		return fmt.Errorf("failed to delete untouched films: %w", err)
	}
	return nil
}

// Totals implements Backend.
func (l *LibSQL) Totals(ctx context.Context) (Totals, error) {
	return scanTotals(ctx, l.conn)
}
