// Package api exposes the pending review queue, the library and the event
// stream over HTTP.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/llehouerou/shelf/internal/library"
	"github.com/llehouerou/shelf/internal/pipeline"
)

// Server holds the handlers' collaborators.
type Server struct {
	svc    *pipeline.Service
	lib    *library.Library
	logger *zap.Logger

	// keepAlive is the SSE comment interval.
	keepAlive time.Duration
	// rescanDone is signalled after each background rescan; tests only.
	rescanDone func(library.ScanSummary, error)
}

// New creates a server. A nil logger discards output.
func New(svc *pipeline.Service, lib *library.Library, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		svc:       svc,
		lib:       lib,
		logger:    logger,
		keepAlive: 15 * time.Second,
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/pending", s.listPending).Methods(http.MethodGet)
	api.HandleFunc("/pending/{id}", s.getPending).Methods(http.MethodGet)
	api.HandleFunc("/pending/{id}", s.updatePending).Methods(http.MethodPatch)
	api.HandleFunc("/pending/{id}/update", s.updatePending).Methods(http.MethodPost)
	api.HandleFunc("/pending/{id}/preview", s.previewPending).Methods(http.MethodGet)
	api.HandleFunc("/pending/{id}/confirm", s.confirmPending).Methods(http.MethodPost)
	api.HandleFunc("/pending/{id}", s.deletePending).Methods(http.MethodDelete)
	api.HandleFunc("/artwork/{id}", s.getArtwork).Methods(http.MethodGet)
	api.HandleFunc("/scan", s.scanNow).Methods(http.MethodPost)

	api.HandleFunc("/events", s.streamEvents).Methods(http.MethodGet)
	api.HandleFunc("/events/ws", s.streamEventsWS).Methods(http.MethodGet)

	api.HandleFunc("/library/artists/suggest", s.suggestArtists).Methods(http.MethodGet)
	api.HandleFunc("/library/artists", s.listArtists).Methods(http.MethodGet)
	api.HandleFunc("/library/albums", s.listAlbums).Methods(http.MethodGet)
	api.HandleFunc("/library/genres", s.listGenres).Methods(http.MethodGet)
	api.HandleFunc("/library/tracks", s.listTracks).Methods(http.MethodGet)
	api.HandleFunc("/library/tracks/batch-update", s.batchUpdate).Methods(http.MethodPost)
	api.HandleFunc("/library/tracks/{id:[0-9]+}", s.getTrack).Methods(http.MethodGet)
	api.HandleFunc("/library/tracks/{id:[0-9]+}", s.updateTrack).Methods(http.MethodPut)
	api.HandleFunc("/library/tracks/{id:[0-9]+}/artwork", s.getTrackArtwork).Methods(http.MethodGet)
	api.HandleFunc("/library/tracks/{id:[0-9]+}/artwork", s.uploadTrackArtwork).Methods(http.MethodPost)
	api.HandleFunc("/library/rescan", s.rescan).Methods(http.MethodPost)
	api.HandleFunc("/library/rescan/status", s.rescanStatus).Methods(http.MethodGet)
	api.HandleFunc("/library/stats", s.stats).Methods(http.MethodGet)

	return r
}

// ListenAndServe serves the API on addr until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
		// Event streams stay open, so no WriteTimeout. They end when ctx
		// does.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
