package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/llehouerou/shelf/internal/artwork"
	"github.com/llehouerou/shelf/internal/errmsg"
	"github.com/llehouerou/shelf/internal/pending"
)

// itemView is the wire form of a pending item.
type itemView struct {
	ID             string    `json:"id"`
	SourcePath     string    `json:"source_path"`
	VideoTitle     string    `json:"video_title"`
	Channel        string    `json:"channel"`
	Extension      string    `json:"extension"`
	InferredTitle  string    `json:"inferred_title"`
	InferredArtist string    `json:"inferred_artist"`
	CurrentTitle   string    `json:"current_title"`
	CurrentArtist  string    `json:"current_artist"`
	Genre          string    `json:"genre"`
	ArtworkPresent bool      `json:"artwork_present"`
	ArtworkURL     string    `json:"artwork_url,omitempty"`
	Status         string    `json:"status"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	RawResponse    string    `json:"raw_response,omitempty"`
	MissingFields  []string  `json:"missing_fields"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func newItemView(it pending.Item) itemView {
	v := itemView{
		ID:             it.ID,
		SourcePath:     it.SourcePath,
		VideoTitle:     it.VideoTitle,
		Channel:        it.Channel,
		Extension:      it.Extension,
		InferredTitle:  it.InferredTitle,
		InferredArtist: it.InferredArtist,
		CurrentTitle:   it.CurrentTitle,
		CurrentArtist:  it.CurrentArtist,
		Genre:          it.Genre,
		ArtworkPresent: it.ArtworkPresent,
		Status:         string(it.Status),
		ErrorMessage:   it.ErrorMessage,
		RawResponse:    it.RawResponse,
		MissingFields:  it.MissingFields(),
		CreatedAt:      it.CreatedAt,
		UpdatedAt:      it.UpdatedAt,
	}
	if v.MissingFields == nil {
		v.MissingFields = []string{}
	}
	if it.ArtworkPresent {
		v.ArtworkURL = "/api/artwork/" + it.ID
	}
	return v
}

type pendingList struct {
	Items  []itemView     `json:"items"`
	Total  int            `json:"total"`
	Counts map[string]int `json:"counts"`
}

// updateRequest is a partial edit; absent fields are left untouched.
type updateRequest struct {
	Title  *string `json:"title"`
	Artist *string `json:"artist"`
	Genre  *string `json:"genre"`
}

func (s *Server) listPending(w http.ResponseWriter, r *http.Request) {
	var statuses []pending.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		for part := range strings.SplitSeq(raw, ",") {
			st := pending.Status(strings.TrimSpace(part))
			if !st.Valid() {
				s.writeError(w, errmsg.OpPendingList,
					fmt.Errorf("%w: unknown status %q", errBadRequest, part))
				return
			}
			statuses = append(statuses, st)
		}
	}

	items, err := s.svc.List(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, errmsg.OpPendingList, err)
		return
	}
	counts, err := s.svc.Counts(r.Context())
	if err != nil {
		s.writeError(w, errmsg.OpPendingList, err)
		return
	}

	resp := pendingList{
		Items:  make([]itemView, 0, len(items)),
		Total:  len(items),
		Counts: make(map[string]int, len(counts)),
	}
	for _, it := range items {
		resp.Items = append(resp.Items, newItemView(it))
	}
	for st, n := range counts {
		resp.Counts[string(st)] = n
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getPending(w http.ResponseWriter, r *http.Request) {
	it, err := s.svc.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, errmsg.OpPendingLoad, err)
		return
	}
	writeJSON(w, http.StatusOK, newItemView(it))
}

func (s *Server) updatePending(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, errmsg.OpRequestDecode, err)
		return
	}
	it, err := s.svc.Update(r.Context(), mux.Vars(r)["id"], pending.Update{
		Title:  req.Title,
		Artist: req.Artist,
		Genre:  req.Genre,
	})
	if err != nil {
		s.writeError(w, errmsg.OpPendingUpdate, err)
		return
	}
	writeJSON(w, http.StatusOK, newItemView(it))
}

func (s *Server) previewPending(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.Preview(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, errmsg.OpPendingPreview, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) confirmPending(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Confirm(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, errmsg.OpPendingConfirm, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) deletePending(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, errmsg.OpPendingDelete, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getArtwork(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	size, err := intParam(r, "size", 0)
	if err == nil && size > artwork.MaxThumbnailSize {
		err = fmt.Errorf("%w: size must be at most %d", errBadRequest, artwork.MaxThumbnailSize)
	}
	if err != nil {
		s.writeError(w, errmsg.OpArtworkLoad, err)
		return
	}

	art := s.svc.Artwork()
	if art == nil {
		s.writeError(w, errmsg.OpArtworkLoad, artwork.ErrNotFound)
		return
	}
	var (
		data []byte
		mime = "image/jpeg"
	)
	if size > 0 {
		data, err = art.Thumbnail(id, uint(size))
	} else {
		data, mime, err = art.Load(id)
	}
	if err != nil {
		s.writeError(w, errmsg.OpArtworkLoad, err)
		return
	}
	writeImage(w, mime, data)
}

func (s *Server) scanNow(w http.ResponseWriter, r *http.Request) {
	sum, err := s.svc.ScanNow(r.Context())
	if err != nil {
		s.writeError(w, errmsg.OpScan, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func writeImage(w http.ResponseWriter, mime string, data []byte) {
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
