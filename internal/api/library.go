package api

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/llehouerou/shelf/internal/artistmatch"
	"github.com/llehouerou/shelf/internal/errmsg"
	"github.com/llehouerou/shelf/internal/library"
)

const defaultPageSize = 100

// page is the envelope for every paginated library view.
type page[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func newPage[T any](items []T, total int, q library.Query) page[T] {
	if items == nil {
		items = []T{}
	}
	return page[T]{Items: items, Total: total, Limit: q.Limit, Offset: q.Offset}
}

func parseQuery(r *http.Request) (library.Query, error) {
	v := r.URL.Query()
	q := library.Query{
		Search:    strings.TrimSpace(v.Get("search")),
		SortBy:    v.Get("sort_by"),
		SortOrder: strings.ToLower(v.Get("sort_order")),
		Artist:    v.Get("artist"),
		Album:     v.Get("album"),
		Genre:     v.Get("genre"),
	}
	if q.SortOrder != "" && q.SortOrder != library.SortAsc && q.SortOrder != library.SortDesc {
		return q, fmt.Errorf("%w: sort_order must be %q or %q", errBadRequest, library.SortAsc, library.SortDesc)
	}
	var err error
	if q.Limit, err = intParam(r, "limit", defaultPageSize); err != nil {
		return q, err
	}
	if q.Offset, err = intParam(r, "offset", 0); err != nil {
		return q, err
	}
	return q, nil
}

func trackID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid track id", errBadRequest)
	}
	return id, nil
}

// listView serves one of the paginated catalog views.
func listView[T any](s *Server, w http.ResponseWriter, r *http.Request,
	fetch func(context.Context, library.Query) ([]T, int, error),
) {
	q, err := parseQuery(r)
	if err != nil {
		s.writeError(w, errmsg.OpLibraryLoad, err)
		return
	}
	items, total, err := fetch(r.Context(), q)
	if err != nil {
		s.writeError(w, errmsg.OpLibraryLoad, err)
		return
	}
	writeJSON(w, http.StatusOK, newPage(items, total, q))
}

func (s *Server) listArtists(w http.ResponseWriter, r *http.Request) {
	listView(s, w, r, s.lib.Artists)
}

func (s *Server) listAlbums(w http.ResponseWriter, r *http.Request) {
	listView(s, w, r, s.lib.Albums)
}

func (s *Server) listGenres(w http.ResponseWriter, r *http.Request) {
	listView(s, w, r, s.lib.Genres)
}

func (s *Server) listTracks(w http.ResponseWriter, r *http.Request) {
	listView(s, w, r, s.lib.Tracks)
}

func (s *Server) getTrack(w http.ResponseWriter, r *http.Request) {
	id, err := trackID(r)
	if err != nil {
		s.writeError(w, errmsg.OpTrackLoad, err)
		return
	}
	t, err := s.lib.Track(r.Context(), id)
	if err != nil {
		s.writeError(w, errmsg.OpTrackLoad, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) updateTrack(w http.ResponseWriter, r *http.Request) {
	id, err := trackID(r)
	if err != nil {
		s.writeError(w, errmsg.OpTrackUpdate, err)
		return
	}
	var u library.TrackUpdate
	if err := decodeJSON(w, r, &u); err != nil {
		s.writeError(w, errmsg.OpRequestDecode, err)
		return
	}
	t, err := s.lib.UpdateTrack(r.Context(), id, u)
	if err != nil {
		s.writeError(w, errmsg.OpTrackUpdate, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type batchRequest struct {
	TrackIDs []int64             `json:"track_ids"`
	Updates  library.TrackUpdate `json:"updates"`
}

func (s *Server) batchUpdate(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, errmsg.OpRequestDecode, err)
		return
	}
	if len(req.TrackIDs) == 0 {
		s.writeError(w, errmsg.OpTrackBatch, fmt.Errorf("%w: track_ids must not be empty", errBadRequest))
		return
	}
	res, err := s.lib.BatchUpdate(r.Context(), req.TrackIDs, req.Updates)
	if err != nil {
		s.writeError(w, errmsg.OpTrackBatch, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// readUpload returns the image from a multipart "file" field or, for any
// other content type, the raw body.
func readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body := http.MaxBytesReader(w, r.Body, maxArtworkBytes)
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt != "multipart/form-data" {
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errBadRequest, err)
		}
		return data, nil
	}

	r.Body = body
	if err := r.ParseMultipartForm(maxArtworkBytes); err != nil {
		return nil, fmt.Errorf("%w: %w", errBadRequest, err)
	}
	f, _, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errBadRequest, err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *Server) uploadTrackArtwork(w http.ResponseWriter, r *http.Request) {
	id, err := trackID(r)
	if err != nil {
		s.writeError(w, errmsg.OpTrackArtwork, err)
		return
	}
	data, err := readUpload(w, r)
	if err != nil {
		s.writeError(w, errmsg.OpTrackArtwork, err)
		return
	}
	t, err := s.lib.UpdateArtwork(r.Context(), id, data)
	if err != nil {
		s.writeError(w, errmsg.OpTrackArtwork, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) getTrackArtwork(w http.ResponseWriter, r *http.Request) {
	id, err := trackID(r)
	if err != nil {
		s.writeError(w, errmsg.OpArtworkLoad, err)
		return
	}
	data, mt, err := s.lib.Artwork(r.Context(), id)
	if err != nil {
		s.writeError(w, errmsg.OpArtworkLoad, err)
		return
	}
	writeImage(w, mt, data)
}

// rescan starts a library rescan in the background. The scan outlives the
// request. force=true re-reads every file instead of only changed ones.
func (s *Server) rescan(w http.ResponseWriter, r *http.Request) {
	force, err := boolParam(r, "force")
	if err != nil {
		s.writeError(w, errmsg.OpLibraryRescan, err)
		return
	}
	if s.lib.Scanning() {
		s.writeError(w, errmsg.OpLibraryRescan, library.ErrScanInProgress)
		return
	}
	scan := s.lib.Rescan
	if force {
		scan = s.lib.FullRescan
	}
	ctx := context.WithoutCancel(r.Context())
	go func() {
		sum, err := scan(ctx)
		if err != nil {
			s.logger.Warn("library rescan failed", zap.Error(err))
		}
		if s.rescanDone != nil {
			s.rescanDone(sum, err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "started", "full": force})
}

type rescanStatus struct {
	Scanning  bool                 `json:"scanning"`
	Phase     string               `json:"phase,omitempty"`
	Processed int                  `json:"processed"`
	Total     int                  `json:"total"`
	LastScan  *library.ScanSummary `json:"last_scan"`
}

func (s *Server) rescanStatus(w http.ResponseWriter, r *http.Request) {
	p := s.lib.Progress()
	st := rescanStatus{
		Scanning:  s.lib.Scanning(),
		Phase:     p.Phase,
		Processed: p.Processed,
		Total:     p.Total,
	}
	sum, ok, err := s.lib.LastScan(r.Context())
	if err != nil {
		s.writeError(w, errmsg.OpLibraryRescan, err)
		return
	}
	if ok {
		st.LastScan = &sum
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.lib.Stats(r.Context())
	if err != nil {
		s.writeError(w, errmsg.OpLibraryStats, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type suggestResponse struct {
	Query       string              `json:"query"`
	Suggestions []artistmatch.Match `json:"suggestions"`
}

func (s *Server) suggestArtists(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	limit, err := intParam(r, "limit", artistmatch.DefaultLimit)
	if err != nil {
		s.writeError(w, errmsg.OpArtistSuggest, err)
		return
	}

	artists, _, err := s.lib.Artists(r.Context(), library.Query{})
	if err != nil {
		s.writeError(w, errmsg.OpArtistSuggest, err)
		return
	}
	candidates := make([]artistmatch.Candidate, len(artists))
	for i, a := range artists {
		candidates[i] = artistmatch.Candidate{Name: a.Name, TrackCount: a.TrackCount}
	}
	writeJSON(w, http.StatusOK, suggestResponse{
		Query:       query,
		Suggestions: artistmatch.Rank(query, candidates, limit),
	})
}
