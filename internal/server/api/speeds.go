// Package api provides HTTP API handlers for the speed camera.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ayusman/speedcam/internal/store"
	"github.com/ayusman/speedcam/internal/tracking"
)

// DefaultListLimit caps speed listings without an explicit limit.
const DefaultListLimit = 100

// SpeedHandler handles HTTP requests for speed records.
type SpeedHandler struct {
	store *store.Store
}

// NewSpeedHandler creates a new SpeedHandler with the given store.
func NewSpeedHandler(s *store.Store) *SpeedHandler {
	return &SpeedHandler{store: s}
}

// ServeHTTP implements the http.Handler interface and routes requests to appropriate methods.
func (h *SpeedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Expected paths: /api/speeds, /api/speeds/summary or /api/speeds/{id}
	path := strings.TrimPrefix(r.URL.Path, "/api/speeds")
	path = strings.TrimPrefix(path, "/")

	switch path {
	case "":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.list(w, r)
		return
	case "summary":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.summary(w, r)
		return
	}

	id := path
	switch r.Method {
	case http.MethodGet:
		h.get(w, id)
	case http.MethodPatch:
		h.updateStatus(w, r, id)
	case http.MethodDelete:
		h.delete(w, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type listSpeedsResponse struct {
	Speeds []*store.SpeedRecord `json:"speeds"`
}

type summaryResponse struct {
	Group    string                `json:"group"`
	Days     int                   `json:"days"`
	MinSpeed float64               `json:"min_speed"`
	Buckets  []store.SummaryBucket `json:"buckets"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// timeLayouts are the accepted forms of the since and until parameters.
var timeLayouts = []string{time.RFC3339, store.TimestampLayout, "2006-01-02"}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", s)
}

// ParseListOptions reads speed list filters from query parameters.
func ParseListOptions(r *http.Request) (store.ListOptions, error) {
	q := r.URL.Query()
	opts := store.ListOptions{Limit: DefaultListLimit}

	var err error
	if v := q.Get("since"); v != "" {
		if opts.Since, err = parseTime(v); err != nil {
			return opts, err
		}
	}
	if v := q.Get("until"); v != "" {
		if opts.Until, err = parseTime(v); err != nil {
			return opts, err
		}
	}
	if v := q.Get("direction"); v != "" {
		dir, err := tracking.ParseDirection(strings.ToUpper(v))
		if err != nil {
			return opts, err
		}
		opts.Direction = dir.String()
	}
	if v := q.Get("min_speed"); v != "" {
		if opts.MinSpeed, err = strconv.ParseFloat(v, 64); err != nil {
			return opts, fmt.Errorf("invalid min_speed %q", v)
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, fmt.Errorf("invalid limit %q", v)
		}
		opts.Limit = n
	}
	return opts, nil
}

// ParseSummaryOptions reads group, days and over query parameters.
func ParseSummaryOptions(r *http.Request) (store.SummaryOptions, error) {
	q := r.URL.Query()
	opts := store.SummaryOptions{Group: store.GroupHour, Days: 7}

	if v := q.Get("group"); v != "" {
		g, err := store.ParseGroup(v)
		if err != nil {
			return opts, err
		}
		opts.Group = g
	}
	if v := q.Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, fmt.Errorf("invalid days %q", v)
		}
		opts.Days = n
	}
	if v := q.Get("over"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return opts, fmt.Errorf("invalid over %q", v)
		}
		opts.MinSpeed = f
	}
	return opts, nil
}

// list handles GET /api/speeds.
func (h *SpeedHandler) list(w http.ResponseWriter, r *http.Request) {
	opts, err := ParseListOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.store.Speeds().List(opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list speeds")
		return
	}
	if records == nil {
		records = []*store.SpeedRecord{}
	}
	writeJSON(w, http.StatusOK, listSpeedsResponse{Speeds: records})
}

// summary handles GET /api/speeds/summary.
func (h *SpeedHandler) summary(w http.ResponseWriter, r *http.Request) {
	opts, err := ParseSummaryOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	buckets, err := h.store.Speeds().Summary(opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to summarize speeds")
		return
	}
	if buckets == nil {
		buckets = []store.SummaryBucket{}
	}
	writeJSON(w, http.StatusOK, summaryResponse{
		Group:    string(opts.Group),
		Days:     opts.Days,
		MinSpeed: opts.MinSpeed,
		Buckets:  buckets,
	})
}

// get handles GET /api/speeds/{id}.
func (h *SpeedHandler) get(w http.ResponseWriter, id string) {
	rec, err := h.store.Speeds().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Speed record not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get speed record")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// updateStatus handles PATCH /api/speeds/{id}.
func (h *SpeedHandler) updateStatus(w http.ResponseWriter, r *http.Request, id string) {
	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.store.Speeds().UpdateStatus(id, req.Status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Speed record not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to update speed record")
		return
	}
	h.get(w, id)
}

// delete handles DELETE /api/speeds/{id}.
func (h *SpeedHandler) delete(w http.ResponseWriter, id string) {
	if err := h.store.Speeds().Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Speed record not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete speed record")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
