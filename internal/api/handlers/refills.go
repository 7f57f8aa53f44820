package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/medrova/go-fulfillment/internal/domain/order"
	"github.com/medrova/go-fulfillment/internal/domain/refill"
	"github.com/medrova/go-fulfillment/internal/engine"
	"github.com/medrova/go-fulfillment/internal/store"
)

// RefillHandler exposes refill subscription management.
type RefillHandler struct {
	scheduler *engine.RefillScheduler
	subs      store.SubscriptionStore
	logger    *zap.Logger
}

// NewRefillHandler creates the /refills handler.
func NewRefillHandler(scheduler *engine.RefillScheduler, subs store.SubscriptionStore, logger *zap.Logger) *RefillHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RefillHandler{scheduler: scheduler, subs: subs, logger: logger}
}

// Routes returns the handler routes.
func (h *RefillHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/cancel", h.Cancel)
	return r
}

type subscriptionView struct {
	ID              string        `json:"id"`
	PatientID       string        `json:"patient_id"`
	PrescriptionID  string        `json:"prescription_id"`
	IntervalDays    int           `json:"interval_days"`
	NextDueDate     time.Time     `json:"next_due_date"`
	RefillsCreated  int           `json:"refills_created"`
	Active          bool          `json:"active"`
	LastOrderID     string        `json:"last_order_id,omitempty"`
	DeliveryAddress order.Address `json:"delivery_address"`
	CreatedAt       time.Time     `json:"created_at"`
}

func viewSubscription(s *refill.Subscription) subscriptionView {
	return subscriptionView{
		ID:              s.ID,
		PatientID:       s.PatientID,
		PrescriptionID:  s.PrescriptionID,
		IntervalDays:    s.IntervalDays,
		NextDueDate:     s.NextDueDate,
		RefillsCreated:  s.RefillsCreated,
		Active:          s.Active,
		LastOrderID:     s.LastOrderID,
		DeliveryAddress: s.DeliveryAddress,
		CreatedAt:       s.CreatedAt,
	}
}

// CreateSubscriptionRequest is the body for POST /refills.
type CreateSubscriptionRequest struct {
	PatientID       string        `json:"patient_id"`
	PrescriptionID  string        `json:"prescription_id"`
	IntervalDays    int           `json:"interval_days"`
	DeliveryAddress order.Address `json:"delivery_address"`
}

// Create handles POST /refills.
func (h *RefillHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSubscriptionRequest
	if !decode(w, r, &req) {
		return
	}
	if req.PatientID == "" || req.PrescriptionID == "" {
		badRequest(w, "patient_id and prescription_id are required")
		return
	}
	if req.DeliveryAddress.Line1 == "" || req.DeliveryAddress.Pincode == "" {
		badRequest(w, "delivery_address requires line1 and pincode")
		return
	}

	sub, err := h.scheduler.CreateSubscription(r.Context(), req.PatientID, req.PrescriptionID, req.IntervalDays, req.DeliveryAddress)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, viewSubscription(sub))
}

// Get handles GET /refills/{id}.
func (h *RefillHandler) Get(w http.ResponseWriter, r *http.Request) {
	sub, err := h.subs.GetSubscription(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, viewSubscription(sub))
}

// CancelSubscriptionRequest is the body for POST /refills/{id}/cancel.
type CancelSubscriptionRequest struct {
	PatientID string `json:"patient_id"`
}

// Cancel handles POST /refills/{id}/cancel. Cancelling an already
// inactive subscription succeeds.
func (h *RefillHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req CancelSubscriptionRequest
	if !decode(w, r, &req) {
		return
	}
	sub, err := h.scheduler.CancelSubscription(r.Context(), chi.URLParam(r, "id"), req.PatientID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, viewSubscription(sub))
}
