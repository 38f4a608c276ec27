package update

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"filmdex/internal/config"
	"filmdex/internal/feed"
	"filmdex/internal/store"
)

const testFeed = `{
 "Filmliste": ["30.08.2026, 09:25", "30.08.2026, 07:25", "3", "MSearch [Vers. 3.1.139]", "deadbeef"],
 "X": ["ARD", "Show A", "Episode 1", "", "", "00:30:00", "500", "", "https://cdn.example.org/a1.mp4", "", "", "", "", "", "", "", "1788034500", "", "", ""],
 "X": ["", "", "Episode 2", "", "", "00:30:00", "500", "", "https://cdn.example.org/a2.mp4", "", "", "", "", "", "", "", "1788034500", "", "", ""],
 "X": ["ZDF", "Show B", "Pilot", "", "", "00:45:00", "800", "", "https://cdn.example.org/b1.mp4", "", "", "", "", "", "", "", "1788034500", "", "", ""]
}`

func newTestUpdater(t *testing.T) (*Updater, *store.SQLite) {
	t.Helper()
	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "catalog.db"), log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	cfg := config.Config{}
	cfg.Database.Type = "sqlite"
	cfg.Update.Mode = "manual"
	cfg.Update.IntervalSeconds = 3600
	cfg.Update.FullAfterHour = 0

	u := New(s, cfg, log.New(io.Discard, "", 0))
	if err := u.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return u, s
}

func TestInitCreatesSchema(t *testing.T) {
	_, s := newTestUpdater(t)
	st, err := s.GetStatus(context.Background())
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if st.State != store.StateUninit {
		t.Errorf("State = %s, want %s", st.State, store.StateUninit)
	}
	if st.Version != store.SchemaVersion {
		t.Errorf("Version = %d, want %d", st.Version, store.SchemaVersion)
	}
}

func TestInitRecoversFromSchemaVersionBump(t *testing.T) {
	u, s := newTestUpdater(t)
	ctx := context.Background()

	if _, err := s.DB().Exec("UPDATE status SET version = ?", store.SchemaVersion-1); err != nil {
		t.Fatalf("failed to age schema version: %v", err)
	}
	if err := u.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	st, err := s.GetStatus(ctx)
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if st.Version != store.SchemaVersion {
		t.Errorf("Version = %d, want %d after re-init", st.Version, store.SchemaVersion)
	}
}

func TestInitRebuildsCorruptStore(t *testing.T) {
	u, s := newTestUpdater(t)
	ctx := context.Background()

	if _, err := s.DB().Exec("DROP TABLE status"); err != nil {
		t.Fatalf("failed to break store: %v", err)
	}
	if err := u.Init(ctx); err != nil {
		t.Fatalf("Init did not recover: %v", err)
	}
	if err := s.SanityCheck(ctx); err != nil {
		t.Errorf("store still broken after rebuild: %v", err)
	}
}

func TestImportFullPass(t *testing.T) {
	u, s := newTestUpdater(t)
	ctx := context.Background()

	res, err := u.Import(ctx, strings.NewReader(testFeed), true)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if res.Inserted != 3 {
		t.Errorf("inserted = %d, want 3", res.Inserted)
	}

	st, err := s.GetStatus(ctx)
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if st.State != store.StateIdle {
		t.Errorf("State = %s, want %s", st.State, store.StateIdle)
	}
	// 30.08.2026 09:25 UTC, from the metadata header
	if st.FilmUpdate != 1788081900 {
		t.Errorf("FilmUpdate = %d, want 1788081900", st.FilmUpdate)
	}
}

func TestImportAbortsOnCorruptFeed(t *testing.T) {
	u, s := newTestUpdater(t)
	ctx := context.Background()

	corrupt := strings.Replace(testFeed, `"X": ["ZDF"`, `"X": [["ZDF"]`, 1)
	_, err := u.Import(ctx, strings.NewReader(corrupt), true)
	if !errors.Is(err, feed.ErrFraming) {
		t.Fatalf("expected ErrFraming, got %v", err)
	}

	st, err := s.GetStatus(ctx)
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if st.State != store.StateAborted {
		t.Errorf("State = %s, want %s", st.State, store.StateAborted)
	}
}

func TestImportFileRunsEndToEnd(t *testing.T) {
	u, _ := newTestUpdater(t)
	path := filepath.Join(t.TempDir(), "feed.json")
	if err := os.WriteFile(path, []byte(testFeed), 0644); err != nil {
		t.Fatalf("failed to write feed file: %v", err)
	}
	res, err := u.ImportFile(context.Background(), path, true)
	if err != nil {
		t.Fatalf("ImportFile failed: %v", err)
	}
	if res.Totals.Films != 3 {
		t.Errorf("films = %d, want 3", res.Totals.Films)
	}
}

func TestShouldUpdateHonorsInterval(t *testing.T) {
	u, s := newTestUpdater(t)
	ctx := context.Background()

	due, err := u.ShouldUpdate(ctx, false)
	if err != nil {
		t.Fatalf("ShouldUpdate failed: %v", err)
	}
	if !due {
		t.Error("fresh store should be due")
	}

	if err := s.SetStatus(ctx, store.StatusUpdate{LastUpdate: store.Ptr(time.Now().Unix())}); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	due, err = u.ShouldUpdate(ctx, false)
	if err != nil {
		t.Fatalf("ShouldUpdate failed: %v", err)
	}
	if due {
		t.Error("just-updated store should not be due")
	}
	due, err = u.ShouldUpdate(ctx, true)
	if err != nil {
		t.Fatalf("ShouldUpdate failed: %v", err)
	}
	if !due {
		t.Error("force must skip the interval")
	}
}

func TestShouldUpdateDisabledMode(t *testing.T) {
	u, _ := newTestUpdater(t)
	u.cfg.Update.Mode = "disabled"

	due, err := u.ShouldUpdate(context.Background(), true)
	if err != nil {
		t.Fatalf("ShouldUpdate failed: %v", err)
	}
	if due {
		t.Error("disabled mode must never update, even forced")
	}
}

func TestShouldFullDecision(t *testing.T) {
	u, s := newTestUpdater(t)
	ctx := context.Background()

	// never ran: full
	full, err := u.ShouldFull(ctx)
	if err != nil {
		t.Fatalf("ShouldFull failed: %v", err)
	}
	if !full {
		t.Error("first pass must be full")
	}

	// full pass ran today: incremental
	if _, err := u.Import(ctx, strings.NewReader(testFeed), true); err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	full, err = u.ShouldFull(ctx)
	if err != nil {
		t.Fatalf("ShouldFull failed: %v", err)
	}
	if full {
		t.Error("same-day repeat should be incremental")
	}

	// last full pass on a previous day: full again
	yesterday := time.Now().Add(-26 * time.Hour).Unix()
	if err := s.SetStatus(ctx, store.StatusUpdate{FullUpdate: store.Ptr(yesterday)}); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	full, err = u.ShouldFull(ctx)
	if err != nil {
		t.Fatalf("ShouldFull failed: %v", err)
	}
	if !full {
		t.Error("previous-day full pass should trigger a new full pass")
	}

	// an aborted pass always forces a full one
	if err := s.SetStatus(ctx, store.StatusUpdate{
		State:      store.Ptr(store.StateAborted),
		FullUpdate: store.Ptr(time.Now().Unix()),
	}); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	full, err = u.ShouldFull(ctx)
	if err != nil {
		t.Fatalf("ShouldFull failed: %v", err)
	}
	if !full {
		t.Error("aborted state should force a full pass")
	}
}

func TestRunRespectsSchedule(t *testing.T) {
	u, _ := newTestUpdater(t)
	path := filepath.Join(t.TempDir(), "feed.json")
	if err := os.WriteFile(path, []byte(testFeed), 0644); err != nil {
		t.Fatalf("failed to write feed file: %v", err)
	}
	ctx := context.Background()

	res, ran, err := u.Run(ctx, path, false)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !ran || res.Inserted != 3 {
		t.Fatalf("first run: ran=%v res=%+v", ran, res)
	}

	// inside the minimum interval: nothing to do
	_, ran, err = u.Run(ctx, path, false)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if ran {
		t.Error("second run inside the interval should be skipped")
	}

	// forced: runs again, idempotent
	res, ran, err = u.Run(ctx, path, true)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !ran || res.Inserted != 0 || res.Touched != 3 {
		t.Errorf("forced rerun: ran=%v res=%+v", ran, res)
	}
}
