// Package reconcile converges the persisted catalog onto a feed
// snapshot without diffing. Each ingested record is upserted by its
// content identity and marked touched; a full pass starts by clearing
// every touch marker and ends by deleting whatever was never re-seen.
// Incremental passes only add and refresh.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"filmdex/internal/feed"
	"filmdex/internal/store"
)

// DefaultBatchSize is how many records go between cancellation polls
// and progress writes.
const DefaultBatchSize = 500

// DefaultStaleAfter is how old another writer's update flag must be
// before it is considered abandoned and taken over.
const DefaultStaleAfter = 24 * time.Hour

// Result summarizes a completed pass.
type Result struct {
	Full     bool
	Inserted int
	Touched  int
	Skipped  int
	Deleted  int

	AddChannels int
	AddShows    int
	DelChannels int
	DelShows    int

	Totals store.Totals
}

// Reconciler drives touch-tracking passes against one backend. It is
// not safe for concurrent use; cross-process exclusion happens through
// the persisted update flag, not through this type.
type Reconciler struct {
	backend    store.Backend
	logger     *log.Logger
	batchSize  int
	staleAfter time.Duration
}

// New creates a reconciler. staleAfter is how old another writer's
// update flag may grow before Begin takes it over; zero or negative
// means DefaultStaleAfter. A nil logger logs to stderr.
func New(b store.Backend, staleAfter time.Duration, logger *log.Logger) *Reconciler {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[reconcile] ", log.LstdFlags)
	}
	return &Reconciler{
		backend:    b,
		logger:     logger,
		batchSize:  DefaultBatchSize,
		staleAfter: staleAfter,
	}
}

// markAborted releases a held update flag after a failure, so the
// next pass is not locked out for the whole staleness window. It runs
// on its own context: the caller's may already be dead.
func (r *Reconciler) markAborted() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	up := store.StatusUpdate{State: store.Ptr(store.StateAborted)}
	if err := r.backend.SetStatus(ctx, up); err != nil {
		r.logger.Printf("failed to release update flag: %v", err)
	}
}

// Pass is one in-flight reconciliation. Exactly one of End or Abort
// must be called on it.
type Pass struct {
	r    *Reconciler
	full bool

	before   store.Totals
	inserted int
	touched  int
	skipped  int
}

// Begin acquires the update flag and opens a pass. It returns
// store.ErrAlreadyUpdating while another live writer holds the flag;
// a flag older than the staleness window is taken over.
func (r *Reconciler) Begin(ctx context.Context, full bool) (*Pass, error) {
	if err := r.backend.TryBeginUpdate(ctx, r.staleAfter); err != nil {
		return nil, err
	}
	before, err := r.backend.Totals(ctx)
	if err != nil {
		r.markAborted()
		return nil, fmt.Errorf("failed to read totals: %w", err)
	}
	if full {
		if err := r.backend.ResetTouched(ctx); err != nil {
			r.markAborted()
			return nil, err
		}
	}
	kind := "incremental"
	if full {
		kind = "full"
	}
	r.logger.Printf("starting %s pass (%d films in catalog)", kind, before.Films)
	return &Pass{r: r, full: full, before: before}, nil
}

// Ingest upserts one record. Records without a usable identity are
// counted and skipped; they never fail the pass. Cancellation is
// polled at batch boundaries, so a canceled context surfaces within
// one batch.
func (p *Pass) Ingest(ctx context.Context, rec feed.Record) error {
	if err := rec.Validate(); err != nil {
		p.skipped++
		return nil
	}
	res, err := p.r.backend.UpsertFilm(ctx, rec)
	if err != nil {
		return err
	}
	if res.Inserted {
		p.inserted++
	} else {
		p.touched++
	}
	if (p.inserted+p.touched)%p.r.batchSize == 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.checkpoint(ctx); err != nil {
			return err
		}
		p.r.logger.Printf("processed %d records (%d new)", p.inserted+p.touched, p.inserted)
	}
	return nil
}

// checkpoint persists the running counters so a crash mid-pass leaves
// an inspectable partial state. Writing status also refreshes the
// update flag's timestamp, keeping a long pass from looking stale.
func (p *Pass) checkpoint(ctx context.Context) error {
	return p.r.backend.SetStatus(ctx, store.StatusUpdate{
		AddFilms: store.Ptr(p.inserted),
		TotFilms: store.Ptr(p.before.Films + p.inserted),
	})
}

// End completes the pass: a full pass deletes every untouched row
// first, then totals are recounted, counters and totals persisted and
// the state committed to IDLE. filmUpdate is the feed's own creation
// timestamp; zero leaves the stored value alone.
func (p *Pass) End(ctx context.Context, filmUpdate int64) (Result, error) {
	res := Result{
		Full:     p.full,
		Inserted: p.inserted,
		Touched:  p.touched,
		Skipped:  p.skipped,
	}

	if p.full {
		n, err := p.r.backend.CountUntouched(ctx)
		if err != nil {
			p.r.markAborted()
			return res, err
		}
		if n > 0 {
			if err := p.r.backend.DeleteUntouched(ctx); err != nil {
				p.r.markAborted()
				return res, err
			}
		}
		res.Deleted = n
	}

	after, err := p.r.backend.Totals(ctx)
	if err != nil {
		p.r.markAborted()
		return res, fmt.Errorf("failed to read totals: %w", err)
	}
	res.Totals = after
	if d := after.Channels - p.before.Channels; d > 0 {
		res.AddChannels = d
	} else {
		res.DelChannels = -d
	}
	if d := after.Shows - p.before.Shows; d > 0 {
		res.AddShows = d
	} else {
		res.DelShows = -d
	}

	now := time.Now().Unix()
	up := store.StatusUpdate{
		State:       store.Ptr(store.StateIdle),
		LastUpdate:  store.Ptr(now),
		AddChannels: store.Ptr(res.AddChannels),
		AddShows:    store.Ptr(res.AddShows),
		AddFilms:    store.Ptr(res.Inserted),
		DelChannels: store.Ptr(res.DelChannels),
		DelShows:    store.Ptr(res.DelShows),
		DelFilms:    store.Ptr(res.Deleted),
		TotChannels: store.Ptr(after.Channels),
		TotShows:    store.Ptr(after.Shows),
		TotFilms:    store.Ptr(after.Films),
	}
	if filmUpdate > 0 {
		up.FilmUpdate = store.Ptr(filmUpdate)
	}
	if p.full {
		up.FullUpdate = store.Ptr(now)
	}
	if err := p.r.backend.SetStatus(ctx, up); err != nil {
		p.r.markAborted()
		return res, err
	}

	p.r.logger.Printf("pass done: %d new, %d seen, %d skipped, %d removed (%d films total)",
		res.Inserted, res.Touched, res.Skipped, res.Deleted, after.Films)
	return res, nil
}

// Abort marks the pass interrupted without sweeping anything. Rows
// already upserted stay; the ABORTED state tells the next full pass
// that touch markers are not trustworthy.
func (p *Pass) Abort(ctx context.Context) error {
	p.r.logger.Printf("pass aborted after %d records", p.inserted+p.touched)
	return p.r.backend.SetStatus(ctx, store.StatusUpdate{
		State: store.Ptr(store.StateAborted),
	})
}
