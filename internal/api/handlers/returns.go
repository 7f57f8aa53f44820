package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/medrova/go-fulfillment/internal/engine"
)

// ReturnsHandler exposes the post-delivery exception endpoints, mounted
// under /orders/{id}.
type ReturnsHandler struct {
	returns *engine.Returns
	logger  *zap.Logger
}

// NewReturnsHandler creates the returns handler.
func NewReturnsHandler(returns *engine.Returns, logger *zap.Logger) *ReturnsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReturnsHandler{returns: returns, logger: logger}
}

// DamageRequest is the body for POST /orders/{id}/damage.
type DamageRequest struct {
	PatientID   string   `json:"patient_id"`
	Description string   `json:"description"`
	PhotoURLs   []string `json:"photo_urls,omitempty"`
}

// ReportDamage handles POST /orders/{id}/damage.
func (h *ReturnsHandler) ReportDamage(w http.ResponseWriter, r *http.Request) {
	var req DamageRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Description == "" {
		badRequest(w, "description is required")
		return
	}
	o, err := h.returns.ReportDamage(r.Context(), chi.URLParam(r, "id"),
		req.PatientID, req.Description, req.PhotoURLs)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, viewOrder(o))
}

// DamageReviewRequest is the body for POST /orders/{id}/damage-review.
type DamageReviewRequest struct {
	ReviewerID string `json:"reviewer_id"`
	Approve    bool   `json:"approve"`
	Note       string `json:"note,omitempty"`
}

// ReviewDamage handles POST /orders/{id}/damage-review. An approval
// includes the replacement assignment outcome in the response.
func (h *ReturnsHandler) ReviewDamage(w http.ResponseWriter, r *http.Request) {
	var req DamageReviewRequest
	if !decode(w, r, &req) {
		return
	}
	o, res, err := h.returns.ReviewDamage(r.Context(), chi.URLParam(r, "id"),
		req.ReviewerID, req.Approve, req.Note)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	resp := struct {
		Order       orderView         `json:"order"`
		Replacement *assignResultView `json:"replacement,omitempty"`
	}{Order: viewOrder(o)}
	if res != nil {
		rv := viewAssignResult(res)
		resp.Replacement = &rv
	}
	respondJSON(w, http.StatusOK, resp)
}

// ReturnRequest is the body for POST /orders/{id}/return.
type ReturnRequest struct {
	PatientID string `json:"patient_id"`
	Unopened  bool   `json:"unopened"`
}

// ProcessReturn handles POST /orders/{id}/return.
func (h *ReturnsHandler) ProcessReturn(w http.ResponseWriter, r *http.Request) {
	var req ReturnRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := h.returns.ProcessReturn(r.Context(), chi.URLParam(r, "id"), req.PatientID, req.Unopened)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, viewOrder(o))
}

// ColdChainBreachRequest is the body for POST /orders/{id}/cold-chain-breach.
type ColdChainBreachRequest struct {
	ReportedBy string `json:"reported_by"`
}

// ColdChainBreach handles POST /orders/{id}/cold-chain-breach.
func (h *ReturnsHandler) ColdChainBreach(w http.ResponseWriter, r *http.Request) {
	var req ColdChainBreachRequest
	if !decode(w, r, &req) {
		return
	}
	o, res, err := h.returns.HandleColdChainBreach(r.Context(), chi.URLParam(r, "id"), req.ReportedBy)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	resp := struct {
		Order       orderView         `json:"order"`
		Replacement *assignResultView `json:"replacement,omitempty"`
	}{Order: viewOrder(o)}
	if res != nil {
		rv := viewAssignResult(res)
		resp.Replacement = &rv
	}
	respondJSON(w, http.StatusOK, resp)
}
