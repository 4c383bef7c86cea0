package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/llehouerou/shelf/internal/artwork"
	"github.com/llehouerou/shelf/internal/discovery"
	"github.com/llehouerou/shelf/internal/errmsg"
	"github.com/llehouerou/shelf/internal/filename"
	"github.com/llehouerou/shelf/internal/layout"
	"github.com/llehouerou/shelf/internal/library"
	"github.com/llehouerou/shelf/internal/mover"
	"github.com/llehouerou/shelf/internal/pending"
	"github.com/llehouerou/shelf/internal/pipeline"
)

// maxBodyBytes bounds JSON request bodies. Artwork uploads use maxArtworkBytes.
const (
	maxBodyBytes    = 1 << 20
	maxArtworkBytes = 20 << 20
)

type errorBody struct {
	Error       string   `json:"error"`
	Fields      []string `json:"fields,omitempty"`
	Recoverable bool     `json:"recoverable,omitempty"`
}

// errBadRequest marks malformed input caught by the handlers themselves.
var errBadRequest = errors.New("bad request")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps a domain error onto an HTTP status.
func statusFor(err error) int {
	var verr *pending.ValidationError
	var merr *mover.MoveError
	switch {
	case errors.As(err, &merr):
		return http.StatusInternalServerError
	case errors.Is(err, library.ErrScanInProgress),
		errors.Is(err, discovery.ErrBusy),
		errors.Is(err, pending.ErrInvalidTransition),
		errors.Is(err, layout.ErrCollisionUnresolvable):
		return http.StatusConflict
	case errors.As(err, &verr),
		errors.Is(err, errBadRequest),
		errors.Is(err, mover.ErrValidationFailed),
		errors.Is(err, filename.ErrUnsupportedFormat),
		errors.Is(err, library.ErrInvalidField),
		errors.Is(err, library.ErrUnsupportedImage):
		return http.StatusBadRequest
	case errors.Is(err, pending.ErrNotFound),
		errors.Is(err, library.ErrNotFound),
		errors.Is(err, library.ErrNoArtwork),
		errors.Is(err, artwork.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrScanUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports err as "Failed to <op>: <reason>" with the matching
// status. Server-side failures are logged.
func (s *Server) writeError(w http.ResponseWriter, op errmsg.Op, err error) {
	status := statusFor(err)
	body := errorBody{Error: errmsg.Format(op, err)}

	var verr *pending.ValidationError
	if errors.As(err, &verr) {
		body.Fields = verr.Fields
	}
	var merr *mover.MoveError
	if errors.As(err, &merr) {
		body.Recoverable = merr.Recoverable()
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("op", string(op)), zap.Error(err))
	}
	writeJSON(w, status, body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}

// intParam parses an optional non-negative integer query parameter.
func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, name)
	}
	return n, nil
}

// boolParam parses an optional boolean query parameter; absent means false.
func boolParam(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean", errBadRequest, name)
	}
	return b, nil
}
