package update

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"filmdex/internal/store"
)

// feedDebounce is how long a dropped feed file must sit quiet before
// it is imported. Feed files are large; waiting out the writer avoids
// importing a half-copied file.
const feedDebounce = 2 * time.Second

// Service is the long-running update loop: it imports feed files
// dropped into a watched directory and, in continuous mode, re-imports
// the newest one on a schedule. Failures back off linearly, failure
// count times the backoff unit.
type Service struct {
	updater *Updater
	logger  *log.Logger

	dropDir    string
	interval   time.Duration
	backoff    time.Duration
	continuous bool

	watcher *fsnotify.Watcher

	pendingMu sync.Mutex
	pending   map[string]time.Time // feed file -> last event

	errorCount int
}

// NewService wraps an updater in a serve loop using its configuration.
func NewService(u *Updater) (*Service, error) {
	if u.cfg.Update.DropDir == "" {
		return nil, fmt.Errorf("update.drop_dir is required for serve mode")
	}
	return &Service{
		updater:    u,
		logger:     u.logger,
		dropDir:    u.cfg.Update.DropDir,
		interval:   time.Duration(u.cfg.Update.IntervalSeconds) * time.Second,
		backoff:    time.Duration(u.cfg.Update.BackoffSeconds) * time.Second,
		continuous: u.cfg.Update.Mode == "continuous" || u.cfg.Update.Mode == "automatic",
		pending:    make(map[string]time.Time),
	}, nil
}

// Run blocks until ctx is canceled. On startup the store is
// initialized and, depending on the update mode, the newest already
// dropped feed file is imported.
func (s *Service) Run(ctx context.Context) error {
	if err := s.updater.Init(ctx); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	s.watcher = watcher
	defer watcher.Close()

	if err := os.MkdirAll(s.dropDir, 0755); err != nil {
		return fmt.Errorf("failed to create drop directory: %w", err)
	}
	if err := watcher.Add(s.dropDir); err != nil {
		return fmt.Errorf("failed to watch drop directory: %w", err)
	}
	s.logger.Printf("watching %s", s.dropDir)

	if s.updater.cfg.Update.Mode != "manual" && s.updater.cfg.Update.Mode != "disabled" {
		if path := s.newestFeed(); path != "" {
			s.runImport(ctx, path, false)
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.watchEvents(ctx)
	}()

	s.loop(ctx)
	wg.Wait()
	return ctx.Err()
}

// watchEvents queues feed file events for the debounced main loop.
func (s *Service) watchEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			s.pendingMu.Lock()
			s.pending[event.Name] = time.Now()
			s.pendingMu.Unlock()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Printf("watcher error: %v", err)
		}
	}
}

// loop drains the debounce queue and, in continuous mode, ticks the
// schedule. A failed import stretches the next tick by errorCount
// backoff units.
func (s *Service) loop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	next := time.Now().Add(s.interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if path := s.takeSettled(); path != "" {
			// dropped file: import now, force past the interval
			s.runImport(ctx, path, true)
			next = time.Now().Add(s.interval)
			continue
		}

		if s.continuous && time.Now().After(next) {
			if path := s.newestFeed(); path != "" {
				s.runImport(ctx, path, false)
			}
			wait := s.interval + time.Duration(s.errorCount)*s.backoff
			next = time.Now().Add(wait)
		}
	}
}

// takeSettled pops one pending feed file that has been quiet for the
// debounce window.
func (s *Service) takeSettled() string {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for path, last := range s.pending {
		if time.Since(last) >= feedDebounce {
			delete(s.pending, path)
			return path
		}
	}
	return ""
}

// newestFeed returns the most recently modified feed file in the drop
// directory, or "".
func (s *Service) newestFeed() string {
	entries, err := os.ReadDir(s.dropDir)
	if err != nil {
		s.logger.Printf("failed to scan drop directory: %v", err)
		return ""
	}
	var newest string
	var newestMod time.Time
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(newestMod) {
			newest = filepath.Join(s.dropDir, e.Name())
			newestMod = info.ModTime()
		}
	}
	return newest
}

func (s *Service) runImport(ctx context.Context, path string, force bool) {
	s.logger.Printf("importing %s", path)
	_, ran, err := s.updater.Run(ctx, path, force)
	switch {
	case errors.Is(err, store.ErrAlreadyUpdating):
		s.logger.Printf("another writer is updating, skipping")
	case errors.Is(err, context.Canceled):
	case errors.Is(err, store.ErrCorrupted):
		s.errorCount++
		s.logger.Printf("store corrupted: %v", err)
		if err := s.updater.Init(ctx); err != nil {
			s.logger.Printf("recovery failed: %v", err)
		}
	case err != nil:
		s.errorCount++
		s.logger.Printf("import failed (%d in a row): %v", s.errorCount, err)
	case !ran:
		s.logger.Printf("not due yet, skipping %s", path)
	default:
		s.errorCount = 0
	}
}
