package store

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"filmdex/internal/feed"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "catalog.db"), log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	return s
}

func testRecord(title string) feed.Record {
	return feed.Record{
		Channel:     "ARD",
		Show:        "Show One",
		Title:       title,
		AiredEpoch:  1788034500,
		Duration:    2580,
		SizeMiB:     650,
		Description: "about " + title,
		URLVideo:    "https://cdn.example.org/" + title + ".mp4",
	}
}

func TestSanityCheckUninitialized(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "catalog.db"), log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer s.Close()

	if err := s.SanityCheck(context.Background()); !errors.Is(err, ErrCorrupted) {
		t.Fatalf("expected ErrCorrupted on missing schema, got %v", err)
	}
}

func TestInitSchemaStatus(t *testing.T) {
	s := openTestStore(t)
	st, err := s.GetStatus(context.Background())
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if st.State != StateUninit {
		t.Errorf("State = %s, want %s", st.State, StateUninit)
	}
	if st.Version != SchemaVersion {
		t.Errorf("Version = %d, want %d", st.Version, SchemaVersion)
	}
	if err := s.SanityCheck(context.Background()); err != nil {
		t.Errorf("SanityCheck failed after init: %v", err)
	}
}

func TestSetStatusPartialWrite(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SetStatus(ctx, StatusUpdate{
		State:      Ptr(StateIdle),
		LastUpdate: Ptr(int64(1000)),
		TotFilms:   Ptr(42),
	}); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	// a nil field keeps the stored value
	if err := s.SetStatus(ctx, StatusUpdate{TotShows: Ptr(7)}); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	st, err := s.GetStatus(ctx)
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if st.State != StateIdle {
		t.Errorf("State = %s, want %s", st.State, StateIdle)
	}
	if st.LastUpdate != 1000 || st.TotFilms != 42 || st.TotShows != 7 {
		t.Errorf("unexpected status: %+v", st)
	}
	if st.Modified == 0 {
		t.Error("Modified not bumped")
	}
}

func TestTryBeginUpdateBlocksLiveWriter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.TryBeginUpdate(ctx, 24*time.Hour); err != nil {
		t.Fatalf("first TryBeginUpdate failed: %v", err)
	}
	st, _ := s.GetStatus(ctx)
	if st.State != StateUpdating {
		t.Fatalf("State = %s, want %s", st.State, StateUpdating)
	}
	if err := s.TryBeginUpdate(ctx, 24*time.Hour); !errors.Is(err, ErrAlreadyUpdating) {
		t.Fatalf("expected ErrAlreadyUpdating, got %v", err)
	}
}

func TestTryBeginUpdateTakesOverStaleFlag(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.TryBeginUpdate(ctx, 24*time.Hour); err != nil {
		t.Fatalf("TryBeginUpdate failed: %v", err)
	}
	// age the flag past the staleness window
	stale := time.Now().Add(-25 * time.Hour).Unix()
	if _, err := s.DB().Exec("UPDATE status SET modified = ?", stale); err != nil {
		t.Fatalf("failed to age flag: %v", err)
	}
	if err := s.TryBeginUpdate(ctx, 24*time.Hour); err != nil {
		t.Fatalf("stale flag not taken over: %v", err)
	}
}

func TestUpsertFilmInsertThenTouch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec := testRecord("ep1")

	res, err := s.UpsertFilm(ctx, rec)
	if err != nil {
		t.Fatalf("UpsertFilm failed: %v", err)
	}
	if !res.Inserted {
		t.Fatal("first upsert should insert")
	}

	rec.Description = "updated description"
	res, err = s.UpsertFilm(ctx, rec)
	if err != nil {
		t.Fatalf("UpsertFilm failed: %v", err)
	}
	if res.Inserted {
		t.Fatal("second upsert should touch, not insert")
	}

	var count, touched int
	var desc string
	row := s.DB().QueryRow("SELECT COUNT(*), touched, description FROM film")
	if err := row.Scan(&count, &touched, &desc); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if count != 1 {
		t.Errorf("row count = %d, want 1", count)
	}
	if touched != 2 {
		t.Errorf("touched = %d, want 2", touched)
	}
	if desc != "updated description" {
		t.Errorf("description not refreshed: %q", desc)
	}
}

func TestUpsertKeyedByContentNotTitle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := testRecord("ep1")
	if _, err := s.UpsertFilm(ctx, rec); err != nil {
		t.Fatalf("UpsertFilm failed: %v", err)
	}
	// a changed title with the same channel/show/url is the same film
	rec.Title = "Renamed Episode"
	res, err := s.UpsertFilm(ctx, rec)
	if err != nil {
		t.Fatalf("UpsertFilm failed: %v", err)
	}
	if res.Inserted {
		t.Error("title change must not create a new identity")
	}
}

func TestTouchLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, title := range []string{"ep1", "ep2", "ep3"} {
		if _, err := s.UpsertFilm(ctx, testRecord(title)); err != nil {
			t.Fatalf("UpsertFilm failed: %v", err)
		}
	}
	if err := s.ResetTouched(ctx); err != nil {
		t.Fatalf("ResetTouched failed: %v", err)
	}
	// re-see only ep1
	if _, err := s.UpsertFilm(ctx, testRecord("ep1")); err != nil {
		t.Fatalf("UpsertFilm failed: %v", err)
	}

	n, err := s.CountUntouched(ctx)
	if err != nil {
		t.Fatalf("CountUntouched failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("untouched = %d, want 2", n)
	}
	if err := s.DeleteUntouched(ctx); err != nil {
		t.Fatalf("DeleteUntouched failed: %v", err)
	}
	tot, err := s.Totals(ctx)
	if err != nil {
		t.Fatalf("Totals failed: %v", err)
	}
	if tot.Films != 1 {
		t.Errorf("films = %d, want 1", tot.Films)
	}
}

func TestTotals(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	recs := []feed.Record{
		{Channel: "ARD", Show: "A", URLVideo: "u1"},
		{Channel: "ARD", Show: "A", URLVideo: "u2"},
		{Channel: "ARD", Show: "B", URLVideo: "u3"},
		{Channel: "ZDF", Show: "C", URLVideo: "u4"},
	}
	for _, r := range recs {
		if _, err := s.UpsertFilm(ctx, r); err != nil {
			t.Fatalf("UpsertFilm failed: %v", err)
		}
	}
	tot, err := s.Totals(ctx)
	if err != nil {
		t.Fatalf("Totals failed: %v", err)
	}
	if tot.Channels != 2 || tot.Shows != 3 || tot.Films != 4 {
		t.Errorf("totals = %+v, want 2/3/4", tot)
	}
}

func TestRebuild(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertFilm(ctx, testRecord("ep1")); err != nil {
		t.Fatalf("UpsertFilm failed: %v", err)
	}
	if err := s.Rebuild(ctx); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	tot, err := s.Totals(ctx)
	if err != nil {
		t.Fatalf("Totals failed after rebuild: %v", err)
	}
	if tot.Films != 0 {
		t.Errorf("films = %d, want 0 after rebuild", tot.Films)
	}
	st, err := s.GetStatus(ctx)
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if st.State != StateUninit {
		t.Errorf("State = %s, want %s", st.State, StateUninit)
	}
}

func TestReconnectKeepsData(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertFilm(ctx, testRecord("ep1")); err != nil {
		t.Fatalf("UpsertFilm failed: %v", err)
	}
	if err := s.Reconnect(ctx); err != nil {
		t.Fatalf("Reconnect failed: %v", err)
	}
	tot, err := s.Totals(ctx)
	if err != nil {
		t.Fatalf("Totals failed after reconnect: %v", err)
	}
	if tot.Films != 1 {
		t.Errorf("films = %d, want 1", tot.Films)
	}
}
