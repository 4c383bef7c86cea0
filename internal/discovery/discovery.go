// Package discovery finds new audio files in the incoming tree and turns each
// into a pending item: parse the file name, read embedded tags, ask the
// inference backend, merge and store the result. It also drops items whose
// source file disappeared.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/llehouerou/shelf/internal/artwork"
	"github.com/llehouerou/shelf/internal/events"
	"github.com/llehouerou/shelf/internal/filename"
	"github.com/llehouerou/shelf/internal/inference"
	"github.com/llehouerou/shelf/internal/keylock"
	"github.com/llehouerou/shelf/internal/merge"
	"github.com/llehouerou/shelf/internal/pending"
	"github.com/llehouerou/shelf/internal/tags"
)

// ErrBusy is returned by RunOnce while another cycle is running.
var ErrBusy = errors.New("discovery cycle already running")

var errNoBackend = errors.New("no inference backend configured")

const (
	DefaultInterval = 30 * time.Second
	DefaultWorkers  = 4
)

// Config controls the scanner.
type Config struct {
	// Root is the incoming tree to watch.
	Root string
	// LibraryRoot is skipped when it lies inside Root.
	LibraryRoot      string
	Interval         time.Duration
	Workers          int
	InferenceTimeout time.Duration
	// Watch enables filesystem notifications that trigger a cycle early.
	Watch    bool
	Debounce time.Duration
}

// Index reports files already published in the library.
type Index interface {
	Has(ctx context.Context, path string) (bool, error)
}

// Summary describes one discovery cycle.
type Summary struct {
	Seen    int `json:"seen"`
	Created int `json:"created"`
	Failed  int `json:"failed"`
	Removed int `json:"removed"`
}

// Scanner runs discovery cycles. Cycles never overlap.
type Scanner struct {
	cfg      Config
	store    *pending.Store
	inferrer inference.Inferrer
	art      *artwork.Cache
	notifier *events.Notifier
	index    Index
	items    *keylock.Locker
	logger   *zap.Logger

	cycle sync.Mutex
}

// New creates a scanner. items must be the per-item locker shared with every
// other writer of pending items. inferrer, index and art may be nil.
func New(
	cfg Config,
	store *pending.Store,
	inferrer inference.Inferrer,
	art *artwork.Cache,
	notifier *events.Notifier,
	index Index,
	items *keylock.Locker,
	logger *zap.Logger,
) *Scanner {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = events.New(logger)
	}
	if items == nil {
		items = &keylock.Locker{}
	}
	if inferrer != nil {
		inferrer = inference.WithTimeout(inferrer, cfg.InferenceTimeout)
	}
	return &Scanner{
		cfg:      cfg,
		store:    store,
		inferrer: inferrer,
		art:      art,
		notifier: notifier,
		index:    index,
		items:    items,
		logger:   logger,
	}
}

// Run performs a cycle immediately, then one per interval and whenever the
// watcher reports a change, until ctx is done.
func (s *Scanner) Run(ctx context.Context) error {
	nudge := make(chan struct{}, 1)
	if s.cfg.Watch {
		w, err := newWatcher(s.cfg.Root, s.cfg.Debounce, s.logger, func() {
			select {
			case nudge <- struct{}{}:
			default:
			}
		})
		if err != nil {
			s.logger.Warn("filesystem watch disabled", zap.Error(err))
		} else {
			defer w.Close()
		}
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runLogged(ctx)
		case <-nudge:
			s.runLogged(ctx)
		}
	}
}

func (s *Scanner) runLogged(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrBusy) && ctx.Err() == nil {
		s.logger.Error("discovery cycle failed", zap.Error(err))
	}
}

// RunOnce performs one full cycle: walk, process new files, reconcile.
func (s *Scanner) RunOnce(ctx context.Context) (Summary, error) {
	if !s.cycle.TryLock() {
		return Summary{}, ErrBusy
	}
	defer s.cycle.Unlock()

	var sum Summary
	files, err := s.walk()
	if err != nil {
		return sum, err
	}
	sum.Seen = len(files)

	known, err := s.store.Paths(ctx)
	if err != nil {
		return sum, fmt.Errorf("load pending paths: %w", err)
	}

	var fresh []string
	for _, path := range files {
		if _, ok := known[path]; ok {
			continue
		}
		if s.index != nil {
			published, err := s.index.Has(ctx, path)
			if err != nil {
				return sum, fmt.Errorf("check library: %w", err)
			}
			if published {
				continue
			}
		}
		fresh = append(fresh, path)
	}

	created, failed := s.processFiles(ctx, fresh)
	sum.Created = created
	sum.Failed = failed

	removed, err := s.reconcile(ctx, known)
	if err != nil {
		return sum, err
	}
	sum.Removed = removed

	if sum.Created > 0 || sum.Removed > 0 {
		s.logger.Info("discovery cycle finished",
			zap.Int("seen", sum.Seen),
			zap.Int("created", sum.Created),
			zap.Int("failed", sum.Failed),
			zap.Int("removed", sum.Removed),
		)
	}
	return sum, nil
}

// walk lists the supported audio files under the incoming root.
func (s *Scanner) walk() ([]string, error) {
	if _, err := os.Stat(s.cfg.Root); err != nil {
		return nil, fmt.Errorf("incoming root: %w", err)
	}

	var libRoot string
	if s.cfg.LibraryRoot != "" {
		libRoot = filepath.Clean(s.cfg.LibraryRoot)
	}

	var files []string
	_ = filepath.WalkDir(s.cfg.Root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr // intentionally skipping errors
		}
		if d.IsDir() {
			if libRoot != "" && path == libRoot {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), ".") || !tags.IsMusicFile(path) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	return files, nil
}

// processFiles ingests paths in parallel and returns how many items were
// created and how many of them ended in the error state.
func (s *Scanner) processFiles(ctx context.Context, paths []string) (created, failed int) {
	if len(paths) == 0 {
		return 0, 0
	}

	workCh := make(chan string)
	type outcome struct {
		created bool
		failed  bool
	}
	resultCh := make(chan outcome, len(paths))

	var wg sync.WaitGroup
	for range min(s.cfg.Workers, len(paths)) {
		wg.Go(func() {
			for path := range workCh {
				it, ok := s.ingest(ctx, path)
				resultCh <- outcome{created: ok, failed: ok && it.Status == pending.StatusError}
			}
		})
	}

	for _, p := range paths {
		workCh <- p
	}
	close(workCh)
	wg.Wait()
	close(resultCh)

	for o := range resultCh {
		if o.created {
			created++
		}
		if o.failed {
			failed++
		}
	}
	return created, failed
}

// ingest creates the item for path and drives it out of the discovered state.
// ok is false when the path was already tracked or the item vanished meanwhile.
func (s *Scanner) ingest(ctx context.Context, path string) (pending.Item, bool) {
	parsed, parseErr := filename.Parse(path)
	draft := pending.Item{
		SourcePath: path,
		VideoTitle: parsed.VideoTitle,
		Channel:    parsed.Channel,
		Extension:  parsed.Extension,
	}
	if parseErr != nil {
		draft.VideoTitle = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		draft.Extension = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}

	it, err := s.store.Create(ctx, draft)
	if errors.Is(err, pending.ErrExists) {
		return pending.Item{}, false
	}
	if err != nil {
		s.logger.Error("create pending item", zap.String("source_path", path), zap.Error(err))
		return pending.Item{}, false
	}

	unlock := s.items.Lock(it.ID)
	defer unlock()

	s.notifier.Publish(events.Event{Type: events.NewItem, ItemID: it.ID, Status: string(it.Status)})
	s.logger.Info("item discovered", zap.String("item_id", it.ID), zap.String("source_path", path))

	next := s.resolve(ctx, it, parseErr)
	out, err := s.store.SetInferred(ctx, it.ID, next)
	if err != nil {
		if !errors.Is(err, pending.ErrNotFound) {
			s.logger.Error("store discovery result", zap.String("item_id", it.ID), zap.Error(err))
		}
		return pending.Item{}, false
	}

	if out.Status == pending.StatusError {
		s.notifier.Publish(events.Event{
			Type:    events.ItemError,
			ItemID:  out.ID,
			Status:  string(out.Status),
			Message: out.ErrorMessage,
		})
		s.logger.Warn("item failed",
			zap.String("item_id", out.ID),
			zap.String("source_path", path),
			zap.String("status", string(out.Status)),
			zap.String("error", out.ErrorMessage),
		)
		return out, true
	}

	s.notifier.Publish(events.Event{Type: events.ItemUpdated, ItemID: out.ID, Status: string(out.Status)})
	s.logger.Info("item resolved",
		zap.String("item_id", out.ID),
		zap.String("source_path", path),
		zap.String("status", string(out.Status)),
	)
	return out, true
}

// resolve computes the post-discovery state of it. Failures are captured in
// the returned item rather than returned.
func (s *Scanner) resolve(ctx context.Context, it pending.Item, parseErr error) pending.Item {
	fail := func(err error) pending.Item {
		it.Status = pending.StatusError
		it.ErrorMessage = err.Error()
		return it
	}
	if parseErr != nil {
		return fail(parseErr)
	}

	embedded, err := tags.ReadFull(it.SourcePath)
	if err != nil {
		return fail(fmt.Errorf("read tags: %w", err))
	}

	var inferred *inference.Result
	inferErr := errNoBackend
	if s.inferrer != nil {
		var res inference.Result
		res, inferErr = s.inferrer.Infer(ctx, it.VideoTitle, it.Channel)
		it.RawResponse = res.Raw
		if inferErr == nil {
			inferred = &res
			it.InferredTitle = res.Title
			it.InferredArtist = res.Artist
		}
	}

	r := merge.Resolve(inferred, embedded)
	it.CurrentTitle = r.Title
	it.CurrentArtist = r.Artist

	if r.HasArtwork() && s.art != nil {
		if err := s.art.Store(it.ID, r.Artwork); err != nil {
			s.logger.Warn("cache artwork", zap.String("item_id", it.ID), zap.Error(err))
		} else {
			it.ArtworkPresent = true
		}
	}

	switch {
	case r.Complete():
		it.Status = pending.StatusInferred
	case inferErr != nil:
		return fail(inferErr)
	default:
		it.Status = pending.StatusNeedsManual
	}
	return it
}

// reconcile deletes items whose source file no longer exists.
func (s *Scanner) reconcile(ctx context.Context, known map[string]string) (int, error) {
	var removed int
	for path, id := range known {
		if _, err := os.Lstat(path); !errors.Is(err, os.ErrNotExist) {
			continue
		}
		ok, err := s.dropVanished(ctx, id)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

func (s *Scanner) dropVanished(ctx context.Context, id string) (bool, error) {
	unlock := s.items.Lock(id)
	defer unlock()

	// Re-check under the lock: a confirm may have removed the item already.
	it, err := s.store.Get(ctx, id)
	if errors.Is(err, pending.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := os.Lstat(it.SourcePath); !errors.Is(err, os.ErrNotExist) {
		return false, nil
	}

	if err := s.store.Delete(ctx, id); err != nil {
		if errors.Is(err, pending.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if s.art != nil {
		if err := s.art.Delete(id); err != nil {
			s.logger.Warn("delete cached artwork", zap.String("item_id", id), zap.Error(err))
		}
	}

	s.notifier.Publish(events.Event{Type: events.ItemDeleted, ItemID: id, Message: "source file removed"})
	s.logger.Info("item removed, source file vanished",
		zap.String("item_id", id),
		zap.String("source_path", it.SourcePath),
	)
	return true, nil
}
