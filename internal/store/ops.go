package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"filmdex/internal/feed"
)

// Statement execution shared by both backends. Everything here runs
// against a plain *sql.DB so the backends only differ in connection
// handling and recovery.

func scanStatus(ctx context.Context, conn *sql.DB) (Status, error) {
	var st Status
	var state string
	err := conn.QueryRowContext(ctx, stmtSelectStatus).Scan(
		&st.Modified, &state, &st.LastUpdate, &st.FilmUpdate, &st.FullUpdate,
		&st.AddChannels, &st.AddShows, &st.AddFilms,
		&st.DelChannels, &st.DelShows, &st.DelFilms,
		&st.TotChannels, &st.TotShows, &st.TotFilms,
		&st.Version,
	)
	if err == sql.ErrNoRows {
		return Status{State: StateNone}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("failed to read status: %w", err)
	}
	st.State = State(state)
	return st, nil
}

func execSetStatus(ctx context.Context, conn *sql.DB, up StatusUpdate) error {
	var state *string
	if up.State != nil {
		s := string(*up.State)
		state = &s
	}
	res, err := conn.ExecContext(ctx, stmtUpdateStatus,
		time.Now().Unix(), state,
		up.LastUpdate, up.FilmUpdate, up.FullUpdate,
		up.AddChannels, up.AddShows, up.AddFilms,
		up.DelChannels, up.DelShows, up.DelFilms,
		up.TotChannels, up.TotShows, up.TotFilms,
		up.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to write status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to write status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: status row missing", ErrCorrupted)
	}
	return nil
}

func execBeginUpdate(ctx context.Context, conn *sql.DB, staleAfter time.Duration) error {
	now := time.Now().Unix()
	res, err := conn.ExecContext(ctx, stmtBeginUpdate,
		now, now-int64(staleAfter.Seconds()))
	if err != nil {
		return fmt.Errorf("failed to acquire update flag: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to acquire update flag: %w", err)
	}
	if n == 0 {
		return ErrAlreadyUpdating
	}
	return nil
}

func execUpsertFilm(ctx context.Context, conn *sql.DB, rec feed.Record) (UpsertResult, error) {
	channel := Truncate(rec.Channel, MaxChannelLen)
	show := Truncate(rec.Show, MaxShowLen)
	title := Truncate(rec.Title, MaxTitleLen)
	idhash := Identify(rec.Channel, rec.Show, rec.URLVideo)
	showid := ShowID(rec.Channel, rec.Show)
	search := SearchKey(title)

	res, err := conn.ExecContext(ctx, stmtTouchFilm,
		show, search, title,
		rec.AiredEpoch, rec.Duration, rec.SizeMiB,
		rec.Description, rec.Website, rec.URLSub,
		rec.URLVideoSD, rec.URLVideoHD,
		idhash,
	)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("failed to touch film: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return UpsertResult{}, fmt.Errorf("failed to touch film: %w", err)
	}
	if n > 0 {
		return UpsertResult{Inserted: false}, nil
	}

	_, err = conn.ExecContext(ctx, stmtInsertFilm,
		idhash, time.Now().Unix(),
		channel, showid, show, search, title,
		rec.AiredEpoch, rec.Duration, rec.SizeMiB,
		rec.Description, rec.Website,
		rec.URLSub, rec.URLVideo, rec.URLVideoSD, rec.URLVideoHD,
	)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("failed to insert film: %w", err)
	}
	return UpsertResult{Inserted: true}, nil
}

func scanTotals(ctx context.Context, conn *sql.DB) (Totals, error) {
	var t Totals
	err := conn.QueryRowContext(ctx, stmtTotals).Scan(&t.Channels, &t.Shows, &t.Films)
	if err != nil {
		return Totals{}, fmt.Errorf("failed to count totals: %w", err)
	}
	return t, nil
}
