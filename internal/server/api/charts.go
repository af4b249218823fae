package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/ayusman/speedcam/internal/report"
	"github.com/ayusman/speedcam/internal/store"
)

// ChartHandler renders the speed summary as an interactive HTML chart.
type ChartHandler struct {
	store *store.Store
	units string
}

// NewChartHandler creates a ChartHandler. units labels the speed axis.
func NewChartHandler(s *store.Store, units string) *ChartHandler {
	return &ChartHandler{store: s, units: units}
}

// ServeHTTP handles GET /api/charts/speeds with the summary query parameters.
func (h *ChartHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

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

	var buf bytes.Buffer
	err = report.RenderSummaryChart(&buf, buckets, report.ChartOptions{
		Title:    fmt.Sprintf("Speeds by %s", opts.Group),
		Subtitle: fmt.Sprintf("last %d days, over %g %s", opts.Days, opts.MinSpeed, h.units),
		Units:    h.units,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
