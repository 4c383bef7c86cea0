package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/llehouerou/shelf/internal/api"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var rescanOnStart bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Watch the incoming directory and serve the review API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), ctx, rescanOnStart)
		},
	}
	cmd.Flags().BoolVar(&rescanOnStart, "rescan", true, "Rescan the library at startup")
	return cmd
}

func runServe(cmdCtx context.Context, ctx *commandContext, rescanOnStart bool) error {
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := ctx.openApp(signalCtx, os.Stdout)
	if err != nil {
		return err
	}
	defer a.Close()

	lock := flock.New(filepath.Join(a.cfg.DataDir, "shelf.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another shelf server is already running with this data directory")
	}
	defer func() { _ = lock.Unlock() }()

	a.logger.Info("shelf starting",
		zap.String("incoming_root", a.cfg.IncomingRoot),
		zap.String("library_root", a.cfg.LibraryRoot),
		zap.String("addr", a.cfg.Addr()),
		zap.Bool("inference", a.cfg.HasInference()),
	)

	var wg sync.WaitGroup
	if rescanOnStart {
		wg.Go(func() {
			if _, err := a.lib.Rescan(signalCtx); err != nil && signalCtx.Err() == nil {
				a.logger.Warn("startup rescan failed", zap.Error(err))
			}
		})
	}
	wg.Go(func() {
		_ = a.scanner.Run(signalCtx)
	})

	srv := api.New(a.svc, a.lib, a.logger.Named("api"))
	err = srv.ListenAndServe(signalCtx, a.cfg.Addr())
	cancel()
	wg.Wait()

	a.logger.Info("shelf stopped")
	return err
}
