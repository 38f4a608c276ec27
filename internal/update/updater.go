// Package update orchestrates reconciliation passes: when to run,
// full versus incremental, schema setup and corruption recovery, and
// the long-running serve loop.
package update

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"filmdex/internal/config"
	"filmdex/internal/feed"
	"filmdex/internal/reconcile"
	"filmdex/internal/store"
)

// Updater imports feed files into one backend.
type Updater struct {
	backend store.Backend
	cfg     config.Config
	logger  *log.Logger
	rec     *reconcile.Reconciler
}

// New creates an updater. A nil logger logs to stderr.
func New(b store.Backend, cfg config.Config, logger *log.Logger) *Updater {
	if logger == nil {
		logger = log.New(os.Stderr, "[update] ", log.LstdFlags)
	}
	return &Updater{
		backend: b,
		cfg:     cfg,
		logger:  logger,
		rec:     reconcile.New(b, time.Duration(cfg.Update.StaleHours)*time.Hour, logger),
	}
}

// Init makes the store usable: it recovers from corruption with a
// destructive rebuild and recreates the schema when the status row is
// missing or carries an older schema version.
func (u *Updater) Init(ctx context.Context) error {
	if err := u.backend.SanityCheck(ctx); err != nil {
		if !errors.Is(err, store.ErrCorrupted) {
			return err
		}
		u.logger.Printf("sanity check failed: %v", err)
		return u.backend.Rebuild(ctx)
	}
	st, err := u.backend.GetStatus(ctx)
	if err != nil {
		return err
	}
	if st.State == store.StateNone || st.Version != store.SchemaVersion {
		u.logger.Printf("initializing schema (version %d -> %d)", st.Version, store.SchemaVersion)
		return u.backend.InitSchema(ctx)
	}
	return nil
}

// ShouldUpdate reports whether a pass is due. force skips the minimum
// interval but still honors a disabled update mode.
func (u *Updater) ShouldUpdate(ctx context.Context, force bool) (bool, error) {
	if u.cfg.Update.Mode == "disabled" {
		return false, nil
	}
	if force {
		return true, nil
	}
	st, err := u.backend.GetStatus(ctx)
	if err != nil {
		return false, err
	}
	interval := int64(u.cfg.Update.IntervalSeconds)
	return time.Now().Unix()-st.LastUpdate >= interval, nil
}

// ShouldFull decides between a full and an incremental pass: a full
// pass runs when none ever has, when the last pass was interrupted or
// left the store uninitialized, or once per day after the configured
// local hour.
func (u *Updater) ShouldFull(ctx context.Context) (bool, error) {
	st, err := u.backend.GetStatus(ctx)
	if err != nil {
		return false, err
	}
	switch st.State {
	case store.StateUninit, store.StateAborted:
		return true, nil
	}
	if st.FullUpdate == 0 {
		return true, nil
	}
	now := time.Now()
	last := time.Unix(st.FullUpdate, 0)
	sameDay := last.Year() == now.Year() && last.YearDay() == now.YearDay()
	return !sameDay && now.Hour() >= u.cfg.Update.FullAfterHour, nil
}

// ImportFile runs one pass over a decompressed feed file. A framing
// error or storage failure aborts the pass; the ABORTED state makes
// the next pass a full one.
func (u *Updater) ImportFile(ctx context.Context, path string, full bool) (reconcile.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return reconcile.Result{}, fmt.Errorf("failed to open feed file: %w", err)
	}
	defer f.Close()
	return u.Import(ctx, f, full)
}

// Import runs one pass over an already-open feed stream.
func (u *Updater) Import(ctx context.Context, r io.Reader, full bool) (reconcile.Result, error) {
	pass, err := u.rec.Begin(ctx, full)
	if err != nil {
		return reconcile.Result{}, err
	}

	parser := feed.NewParser(r)
	for {
		rec, err := parser.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			u.abort(pass)
			return reconcile.Result{}, err
		}
		if err := pass.Ingest(ctx, rec); err != nil {
			u.abort(pass)
			return reconcile.Result{}, err
		}
	}

	return pass.End(ctx, parser.FilmUpdate())
}

// abort marks the pass interrupted on a background context: the
// original context may be the very thing that was canceled.
func (u *Updater) abort(pass *reconcile.Pass) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pass.Abort(ctx); err != nil {
		u.logger.Printf("failed to record abort: %v", err)
	}
}

// Run is the decision matrix in one call: initialize if needed, check
// the schedule, pick full versus incremental, import. It returns
// store.ErrAlreadyUpdating untouched so callers can treat it as
// "nothing to do"; the bool reports whether a pass actually ran.
func (u *Updater) Run(ctx context.Context, feedPath string, force bool) (reconcile.Result, bool, error) {
	if err := u.Init(ctx); err != nil {
		return reconcile.Result{}, false, err
	}
	due, err := u.ShouldUpdate(ctx, force)
	if err != nil {
		return reconcile.Result{}, false, err
	}
	if !due {
		return reconcile.Result{}, false, nil
	}
	full, err := u.ShouldFull(ctx)
	if err != nil {
		return reconcile.Result{}, false, err
	}
	res, err := u.ImportFile(ctx, feedPath, full)
	if err != nil {
		return reconcile.Result{}, false, err
	}
	return res, true, nil
}
