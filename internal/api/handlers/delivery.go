package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/medrova/go-fulfillment/internal/domain/order"
	"github.com/medrova/go-fulfillment/internal/engine"
)

// DeliveryHandler exposes the courier-facing delivery actions, mounted
// under /orders/{id}/delivery.
type DeliveryHandler struct {
	delivery *engine.Delivery
	logger   *zap.Logger
}

// NewDeliveryHandler creates the delivery handler.
func NewDeliveryHandler(delivery *engine.Delivery, logger *zap.Logger) *DeliveryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeliveryHandler{delivery: delivery, logger: logger}
}

// Routes returns the handler routes.
func (h *DeliveryHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/dispatch", h.Dispatch)
	r.Post("/status", h.UpdateStatus)
	r.Post("/confirm", h.Confirm)
	r.Post("/failure", h.ReportFailure)
	r.Put("/address", h.UpdateAddress)
	return r
}

// Dispatch handles POST /orders/{id}/delivery/dispatch.
func (h *DeliveryHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	o, err := h.delivery.Dispatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, viewOrder(o))
}

// DeliveryStatusRequest is the body for POST .../delivery/status.
type DeliveryStatusRequest struct {
	Status order.DeliveryStatus `json:"status"`
}

type trackingView struct {
	ID            string               `json:"id"`
	OrderID       string               `json:"order_id"`
	Attempt       int                  `json:"attempt"`
	Status        order.DeliveryStatus `json:"status"`
	ColdChain     bool                 `json:"cold_chain"`
	FailureReason string               `json:"failure_reason,omitempty"`
	OTPVerified   bool                 `json:"otp_verified"`
}

// UpdateStatus handles POST /orders/{id}/delivery/status.
func (h *DeliveryHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req DeliveryStatusRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Status == "" {
		badRequest(w, "status is required")
		return
	}
	e, err := h.delivery.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, trackingView{
		ID:            e.ID,
		OrderID:       e.OrderID,
		Attempt:       e.Attempt,
		Status:        e.Status,
		ColdChain:     e.ColdChain,
		FailureReason: e.FailureReason,
		OTPVerified:   e.OTPVerified,
	})
}

// ConfirmRequest is the body for POST .../delivery/confirm.
type ConfirmRequest struct {
	Code string `json:"code"`
}

// Confirm handles POST /orders/{id}/delivery/confirm. A wrong code is a
// 422; the order is untouched and the courier may retry.
func (h *DeliveryHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := h.delivery.ConfirmDelivery(r.Context(), chi.URLParam(r, "id"), req.Code)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, viewOrder(o))
}

// FailureRequest is the body for POST .../delivery/failure.
type FailureRequest struct {
	Reason string `json:"reason"`
}

// ReportFailure handles POST /orders/{id}/delivery/failure.
func (h *DeliveryHandler) ReportFailure(w http.ResponseWriter, r *http.Request) {
	var req FailureRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := h.delivery.ReportFailure(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, viewOrder(o))
}

// AddressRequest is the body for PUT .../delivery/address.
type AddressRequest struct {
	PatientID string        `json:"patient_id"`
	Address   order.Address `json:"address"`
}

// UpdateAddress handles PUT /orders/{id}/delivery/address. Rejected once
// the order has been dispatched.
func (h *DeliveryHandler) UpdateAddress(w http.ResponseWriter, r *http.Request) {
	var req AddressRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Address.Line1 == "" || req.Address.Pincode == "" {
		badRequest(w, "address line1 and pincode are required")
		return
	}
	o, err := h.delivery.UpdateAddress(r.Context(), chi.URLParam(r, "id"), req.PatientID, req.Address)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, viewOrder(o))
}
