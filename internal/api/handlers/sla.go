package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/medrova/go-fulfillment/internal/engine"
)

// SLAHandler exposes the SLA read model.
type SLAHandler struct {
	monitor *engine.SLAMonitor
	logger  *zap.Logger
}

// NewSLAHandler creates the SLA handler.
func NewSLAHandler(monitor *engine.SLAMonitor, logger *zap.Logger) *SLAHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SLAHandler{monitor: monitor, logger: logger}
}

// OrderStatus handles GET /orders/{id}/sla.
func (h *SLAHandler) OrderStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.monitor.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// PharmacyPerformance handles GET /pharmacies/{id}/performance. The window
// defaults to the trailing 30 days.
func (h *SLAHandler) PharmacyPerformance(w http.ResponseWriter, r *http.Request) {
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)

	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			badRequest(w, "from must be RFC 3339")
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			badRequest(w, "to must be RFC 3339")
			return
		}
		to = t
	}
	if !from.Before(to) {
		badRequest(w, "from must be before to")
		return
	}

	report, err := h.monitor.GetPerformanceReport(r.Context(), chi.URLParam(r, "id"), from, to)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}
