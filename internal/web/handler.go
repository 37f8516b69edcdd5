package web

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/cexll/jira-relay/internal/activity"
	"github.com/cexll/jira-relay/internal/relay"
	"github.com/cexll/jira-relay/internal/taskstore"
)

const maxBodyBytes = 10 << 20

// ActivityStore is the part of the activity store the API exposes.
type ActivityStore interface {
	activity.Writer
	Get(ctx context.Context, id string) (activity.Record, error)
}

// Submitter hands activity ids to the relay.
type Submitter interface {
	PostComment(ids []string) ([]*relay.WorkUnit, error)
}

// Handler serves the relay's JSON API.
type Handler struct {
	activities ActivityStore
	relay      Submitter
	runs       *taskstore.Store
}

// NewHandler creates a new API handler
func NewHandler(activities ActivityStore, submitter Submitter, runs *taskstore.Store) *Handler {
	return &Handler{
		activities: activities,
		relay:      submitter,
		runs:       runs,
	}
}

// RegisterRoutes registers API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/comments", h.handlePostComments).Methods(http.MethodPost)
	r.HandleFunc("/activities", h.handleUpsertActivities).Methods(http.MethodPost)
	r.HandleFunc("/activities/{id}", h.handleGetActivity).Methods(http.MethodGet)
	r.HandleFunc("/units", h.handleUnitList).Methods(http.MethodGet)
	r.HandleFunc("/units/{id}", h.handleUnitDetail).Methods(http.MethodGet)
}

// CommentRequest is the body of POST /comments.
type CommentRequest struct {
	ActivityIDs []string `json:"activity_ids"`
}

// CommentResponse lists the units created for a request.
type CommentResponse struct {
	Units []UnitRef `json:"units"`
}

// UnitRef identifies a submitted unit.
type UnitRef struct {
	ID         string `json:"id"`
	Activities int    `json:"activities"`
	Pass       int    `json:"pass"`
}

func (h *Handler) handlePostComments(w http.ResponseWriter, r *http.Request) {
	var req CommentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	units, err := h.relay.PostComment(req.ActivityIDs)
	if err != nil {
		log.Printf("[API] Failed to submit %d activities: %v", len(req.ActivityIDs), err)
		if errors.Is(err, relay.ErrQueueClosed) {
			writeError(w, http.StatusServiceUnavailable, "relay queue unavailable")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to submit activities")
		return
	}

	resp := CommentResponse{Units: make([]UnitRef, 0, len(units))}
	for _, u := range units {
		resp.Units = append(resp.Units, UnitRef{ID: u.ID, Activities: len(u.ActivityIDs), Pass: u.Pass})
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// activityPayload is the body of POST /activities.
type activityPayload struct {
	Records []activity.Record `json:"activities"`
}

func (h *Handler) handleUpsertActivities(w http.ResponseWriter, r *http.Request) {
	var payload activityPayload
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(payload.Records) == 0 {
		writeError(w, http.StatusBadRequest, "no activities given")
		return
	}
	for i := range payload.Records {
		rec := &payload.Records[i]
		rec.ID = strings.TrimSpace(rec.ID)
		if rec.ID == "" {
			writeError(w, http.StatusBadRequest, "activity id is required")
			return
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now().UTC()
		}
	}

	if err := h.activities.Upsert(r.Context(), payload.Records...); err != nil {
		log.Printf("[API] Failed to store %d activities: %v", len(payload.Records), err)
		writeError(w, http.StatusInternalServerError, "failed to store activities")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"stored": len(payload.Records)})
}

func (h *Handler) handleGetActivity(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	rec, err := h.activities.Get(r.Context(), id)
	if errors.Is(err, activity.ErrNotFound) {
		writeError(w, http.StatusNotFound, "activity not found")
		return
	}
	if err != nil {
		log.Printf("[API] Failed to read activity %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to read activity")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleUnitList(w http.ResponseWriter, r *http.Request) {
	runs := h.runs.List()
	for _, run := range runs {
		run.Logs = nil
	}
	writeJSON(w, http.StatusOK, map[string]any{"units": runs})
}

func (h *Handler) handleUnitDetail(w http.ResponseWriter, r *http.Request) {
	run, ok := h.runs.Get(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "unit not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
