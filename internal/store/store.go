// Package store provides the persistent film catalog.
//
// Two backends implement the same contract: an embedded SQLite database
// (ncruces/go-sqlite3) and a client/server libSQL database speaking to
// a remote sqld instance. Both ride database/sql, so the reconciler,
// the status state machine and the query layer stay backend-agnostic.
//
// The catalog is a single denormalized film table keyed by a content
// hash (idhash) plus a singleton status row. Reconciliation passes mark
// rows as touched and a full pass sweeps away whatever was not re-seen.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"filmdex/internal/feed"
)

// SchemaVersion is bumped whenever the persisted schema changes shape.
// A status row carrying an older version triggers a rebuild.
const SchemaVersion = 3

// State is the persisted synchronization state of the catalog.
type State string

const (
	// StateNone means no status row has ever been written.
	StateNone State = "NONE"
	// StateUninit means the row exists but the catalog is unusable,
	// e.g. right after a destructive rebuild.
	StateUninit State = "UNINIT"
	// StateIdle means the catalog is consistent and ready.
	StateIdle State = "IDLE"
	// StateUpdating means a reconciliation pass is in progress.
	StateUpdating State = "UPDATING"
	// StateAborted means the last pass was interrupted.
	StateAborted State = "ABORTED"
)

// ErrAlreadyUpdating is returned by TryBeginUpdate when another live
// writer holds the status flag. Callers treat it as "nothing to do".
var ErrAlreadyUpdating = errors.New("store: update already in progress")

// ErrCorrupted marks a failed sanity check. The only recovery is a
// destructive rebuild.
var ErrCorrupted = errors.New("store: database corrupted")

// Status is the singleton status row.
type Status struct {
	Modified   int64
	State      State
	LastUpdate int64
	FilmUpdate int64
	FullUpdate int64

	AddChannels int
	AddShows    int
	AddFilms    int
	DelChannels int
	DelShows    int
	DelFilms    int
	TotChannels int
	TotShows    int
	TotFilms    int

	Version int
}

// StatusUpdate is a partial status write. Nil fields keep their stored
// value; Modified is always bumped to the current time.
type StatusUpdate struct {
	State      *State
	LastUpdate *int64
	FilmUpdate *int64
	FullUpdate *int64

	AddChannels *int
	AddShows    *int
	AddFilms    *int
	DelChannels *int
	DelShows    *int
	DelFilms    *int
	TotChannels *int
	TotShows    *int
	TotFilms    *int

	Version *int
}

// Totals are aggregate catalog counts.
type Totals struct {
	Channels int
	Shows    int
	Films    int
}

// UpsertResult reports what a single upsert did.
type UpsertResult struct {
	// Inserted is true when a new row was created; false means an
	// existing row was touched and refreshed.
	Inserted bool
}

// Backend is the storage contract shared by the embedded and the
// client/server implementation. All methods are safe for a single
// writer; concurrent writers are serialized cooperatively through
// TryBeginUpdate, not through database locks.
type Backend interface {
	// Name identifies the backend ("sqlite" or "libsql").
	Name() string

	// DB exposes the underlying connection for the query layer.
	DB() *sql.DB

	// InitSchema drops and recreates the schema, leaving the status
	// row in StateUninit. It is the destructive half of corruption
	// recovery and of first-time setup.
	InitSchema(ctx context.Context) error

	// SanityCheck verifies the schema is readable. A failure wraps
	// ErrCorrupted.
	SanityCheck(ctx context.Context) error

	// Rebuild is the destructive corruption recovery: the store is
	// discarded and recreated via InitSchema. The embedded backend
	// deletes its file first; the client/server backend drops in
	// place.
	Rebuild(ctx context.Context) error

	// Reconnect closes and reopens the connection. Used by the read
	// path to retry once after a transient connection loss.
	Reconnect(ctx context.Context) error

	// Close shuts the backend down.
	Close() error

	// GetStatus reads the status row. A missing row yields StateNone
	// and is not an error.
	GetStatus(ctx context.Context) (Status, error)

	// SetStatus writes the supplied fields and bumps Modified.
	SetStatus(ctx context.Context, up StatusUpdate) error

	// TryBeginUpdate flips the status to StateUpdating. It fails with
	// ErrAlreadyUpdating while another writer's flag is younger than
	// staleAfter; an older flag is taken over (crash recovery).
	TryBeginUpdate(ctx context.Context, staleAfter time.Duration) error

	// ResetTouched zeroes the touched marker on every film row.
	// Called only at the start of a full pass.
	ResetTouched(ctx context.Context) error

	// UpsertFilm attempts a touch-increment update by idhash first and
	// inserts on zero affected rows. Re-sighted rows get their mutable
	// fields refreshed, so the latest ingested values win.
	UpsertFilm(ctx context.Context, rec feed.Record) (UpsertResult, error)

	// CountUntouched counts film rows not re-seen in the current pass.
	CountUntouched(ctx context.Context) (int, error)

	// DeleteUntouched removes all rows with touched = 0. Only a full
	// pass may call it.
	DeleteUntouched(ctx context.Context) error

	// Totals counts distinct channels, distinct shows and films.
	Totals(ctx context.Context) (Totals, error)
}

// Ptr returns a pointer to v, for building StatusUpdate values.
func Ptr[T any](v T) *T { return &v }
