// Package pipeline is the entry point for every user-driven change to pending
// items. It serializes work per item, keeps the store, the artwork cache and
// the library index in step, and publishes an event for each change.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/llehouerou/shelf/internal/artwork"
	"github.com/llehouerou/shelf/internal/discovery"
	"github.com/llehouerou/shelf/internal/events"
	"github.com/llehouerou/shelf/internal/keylock"
	"github.com/llehouerou/shelf/internal/library"
	"github.com/llehouerou/shelf/internal/mover"
	"github.com/llehouerou/shelf/internal/pending"
)

// ErrScanUnavailable is returned by ScanNow when no scanner is configured.
var ErrScanUnavailable = errors.New("discovery scanner not configured")

// Indexer receives tracks published by confirm.
type Indexer interface {
	AddTrack(ctx context.Context, path string) (library.Track, error)
}

// Deps wires a Service. Store, Engine and Notifier are required.
type Deps struct {
	Store    *pending.Store
	Engine   *mover.Engine
	Library  Indexer
	Artwork  *artwork.Cache
	Notifier *events.Notifier
	Scanner  *discovery.Scanner
	// Items must be the locker given to the scanner.
	Items  *keylock.Locker
	Rules  pending.GenreRules
	Logger *zap.Logger
}

// Service coordinates pending item operations.
type Service struct {
	store    *pending.Store
	engine   *mover.Engine
	lib      Indexer
	art      *artwork.Cache
	notifier *events.Notifier
	scanner  *discovery.Scanner
	items    *keylock.Locker
	rules    pending.GenreRules
	logger   *zap.Logger
}

// New creates a service from d.
func New(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Items == nil {
		d.Items = &keylock.Locker{}
	}
	if d.Rules.MaxLength == 0 && d.Rules.Placeholders == nil {
		d.Rules = pending.DefaultGenreRules()
	}
	if d.Notifier == nil {
		d.Notifier = events.New(d.Logger)
	}
	return &Service{
		store:    d.Store,
		engine:   d.Engine,
		lib:      d.Library,
		art:      d.Artwork,
		notifier: d.Notifier,
		scanner:  d.Scanner,
		items:    d.Items,
		rules:    d.Rules,
		logger:   d.Logger,
	}
}

// Notifier returns the event notifier.
func (s *Service) Notifier() *events.Notifier {
	return s.notifier
}

// Artwork returns the artwork cache, nil when none is configured.
func (s *Service) Artwork() *artwork.Cache {
	return s.art
}

// List returns items newest first, optionally restricted to statuses.
func (s *Service) List(ctx context.Context, statuses ...pending.Status) ([]pending.Item, error) {
	return s.store.List(ctx, statuses...)
}

// Get returns one item.
func (s *Service) Get(ctx context.Context, id string) (pending.Item, error) {
	return s.store.Get(ctx, id)
}

// Counts returns the number of items per status.
func (s *Service) Counts(ctx context.Context) (map[pending.Status]int, error) {
	return s.store.Counts(ctx)
}

// Update applies a partial edit, re-evaluates the status and publishes
// item_updated. Rejected edits leave the item untouched.
func (s *Service) Update(ctx context.Context, id string, u pending.Update) (pending.Item, error) {
	unlock := s.items.Lock(id)
	defer unlock()

	if u.Empty() {
		return s.store.Get(ctx, id)
	}

	it, err := s.store.Modify(ctx, id, func(it *pending.Item) error {
		return pending.Apply(it, u, s.rules)
	})
	if err != nil {
		return pending.Item{}, err
	}

	s.notifier.Publish(events.Event{Type: events.ItemUpdated, ItemID: it.ID, Status: string(it.Status)})
	s.logger.Info("item updated",
		zap.String("item_id", it.ID),
		zap.String("source_path", it.SourcePath),
		zap.String("status", string(it.Status)),
	)
	return it, nil
}

// Preview returns the dry-run report for an item.
func (s *Service) Preview(ctx context.Context, id string) (mover.Report, error) {
	it, err := s.store.Get(ctx, id)
	if err != nil {
		return mover.Report{}, err
	}
	return s.engine.DryRun(it), nil
}

// ConfirmResult describes a published item.
type ConfirmResult struct {
	ItemID      string         `json:"item_id"`
	Destination string         `json:"destination"`
	Track       *library.Track `json:"track,omitempty"`
}

// Confirm publishes an item into the library. On success the item, its
// cached artwork and its event stream end with item_confirmed. A
// *mover.MoveError keeps the item and publishes item_error so the confirm can
// be retried.
func (s *Service) Confirm(ctx context.Context, id string) (ConfirmResult, error) {
	unlock := s.items.Lock(id)
	defer unlock()

	it, err := s.store.Get(ctx, id)
	if err != nil {
		return ConfirmResult{}, err
	}

	dest, err := s.engine.Confirm(ctx, it)
	if err != nil {
		var moveErr *mover.MoveError
		if errors.As(err, &moveErr) {
			s.notifier.Publish(events.Event{
				Type:    events.ItemError,
				ItemID:  id,
				Status:  string(it.Status),
				Message: err.Error(),
			})
			s.logger.Error("confirm failed",
				zap.String("item_id", id),
				zap.String("source_path", it.SourcePath),
				zap.String("stage", moveErr.Stage),
				zap.Error(moveErr.Err),
			)
		}
		return ConfirmResult{}, err
	}

	res := ConfirmResult{ItemID: id, Destination: dest}
	if err := s.store.Delete(ctx, id); err != nil && !errors.Is(err, pending.ErrNotFound) {
		s.logger.Error("remove confirmed item", zap.String("item_id", id), zap.Error(err))
	}
	s.dropArtwork(id)

	if s.lib != nil {
		track, err := s.lib.AddTrack(ctx, dest)
		if err != nil {
			s.logger.Warn("index published track", zap.String("path", dest), zap.Error(err))
		} else {
			res.Track = &track
		}
	}

	s.notifier.Publish(events.Event{
		Type:        events.ItemConfirmed,
		ItemID:      id,
		Status:      string(pending.StatusConfirmed),
		Destination: dest,
	})
	s.logger.Info("item confirmed",
		zap.String("item_id", id),
		zap.String("source_path", it.SourcePath),
		zap.String("status", string(pending.StatusConfirmed)),
		zap.String("destination", dest),
	)
	return res, nil
}

// Delete discards an item: its record, its cached artwork and its source
// file, so the next discovery cycle does not pick it up again.
func (s *Service) Delete(ctx context.Context, id string) error {
	unlock := s.items.Lock(id)
	defer unlock()

	it, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := os.Remove(it.SourcePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove source file: %w", err)
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.dropArtwork(id)

	s.notifier.Publish(events.Event{Type: events.ItemDeleted, ItemID: id})
	s.logger.Info("item deleted",
		zap.String("item_id", id),
		zap.String("source_path", it.SourcePath),
	)
	return nil
}

func (s *Service) dropArtwork(id string) {
	if s.art == nil {
		return
	}
	if err := s.art.Delete(id); err != nil {
		s.logger.Warn("delete cached artwork", zap.String("item_id", id), zap.Error(err))
	}
}

// ScanNow runs one discovery cycle immediately.
func (s *Service) ScanNow(ctx context.Context) (discovery.Summary, error) {
	if s.scanner == nil {
		return discovery.Summary{}, ErrScanUnavailable
	}
	return s.scanner.RunOnce(ctx)
}
