package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/llehouerou/shelf/internal/artwork"
	"github.com/llehouerou/shelf/internal/config"
	"github.com/llehouerou/shelf/internal/db"
	"github.com/llehouerou/shelf/internal/discovery"
	"github.com/llehouerou/shelf/internal/errmsg"
	"github.com/llehouerou/shelf/internal/events"
	"github.com/llehouerou/shelf/internal/inference"
	"github.com/llehouerou/shelf/internal/keylock"
	"github.com/llehouerou/shelf/internal/layout"
	"github.com/llehouerou/shelf/internal/library"
	"github.com/llehouerou/shelf/internal/logging"
	"github.com/llehouerou/shelf/internal/mover"
	"github.com/llehouerou/shelf/internal/pending"
	"github.com/llehouerou/shelf/internal/pipeline"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var extra []string
		if c.configFlag != nil {
			if path := strings.TrimSpace(*c.configFlag); path != "" {
				extra = append(extra, path)
			}
		}
		cfg, err := config.Load(extra...)
		if err != nil {
			c.configErr = fmt.Errorf("load config: %w", err)
			return
		}
		if err := cfg.Validate(); err != nil {
			c.configErr = fmt.Errorf("invalid config: %w", err)
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// app is the wired set of components every command works with.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	conn     *sql.DB
	lib      *library.Library
	notifier *events.Notifier
	scanner  *discovery.Scanner
	svc      *pipeline.Service
	closers  []func() error
}

// openApp wires the components from the loaded config. Logs go to console.
func (c *commandContext) openApp(ctx context.Context, console io.Writer) (*app, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
		Console:    console,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	conn, err := db.Open(cfg.DBPath())
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("open database: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, conn: conn}
	a.closers = append(a.closers, conn.Close)

	var inferrer inference.Inferrer
	if cfg.HasInference() {
		g, err := inference.NewGemini(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
		if err != nil {
			_ = a.Close()
			return nil, errmsg.Wrap(errmsg.OpInitialize, err)
		}
		inferrer = g
		a.closers = append(a.closers, g.Close)
	} else {
		logger.Warn("no gemini api key configured, new items will need manual metadata")
	}

	claimer := layout.NewClaimer(cfg.LibraryRoot)
	items := &keylock.Locker{}
	store := pending.NewStore(conn)
	art := artwork.New(cfg.ArtworkDir())
	a.notifier = events.New(logger.Named("events"))
	a.lib = library.New(conn, cfg.LibraryRoot, claimer, logger.Named("library"))

	a.scanner = discovery.New(discovery.Config{
		Root:             cfg.IncomingRoot,
		LibraryRoot:      cfg.LibraryRoot,
		Interval:         cfg.ScanInterval(),
		Workers:          cfg.Scan.Workers,
		InferenceTimeout: cfg.InferenceTimeout(),
		Watch:            cfg.WatchEnabled(),
	}, store, inferrer, art, a.notifier, a.lib, items, logger.Named("discovery"))

	a.svc = pipeline.New(pipeline.Deps{
		Store:    store,
		Engine:   mover.New(cfg.LibraryRoot, claimer, logger.Named("mover")),
		Library:  a.lib,
		Artwork:  art,
		Notifier: a.notifier,
		Scanner:  a.scanner,
		Items:    items,
		Rules: pending.GenreRules{
			Placeholders: cfg.Genre.Placeholders,
			MaxLength:    cfg.Genre.MaxLength,
		},
		Logger: logger.Named("pipeline"),
	})
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
