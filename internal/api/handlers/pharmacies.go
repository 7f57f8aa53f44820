package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/medrova/go-fulfillment/internal/domain/pharmacy"
	"github.com/medrova/go-fulfillment/internal/engine"
	"github.com/medrova/go-fulfillment/internal/store"
)

// PharmacyHandler exposes pharmacy reads, inventory updates, and the
// performance report.
type PharmacyHandler struct {
	pharmacies store.PharmacyStore
	workflow   *engine.Workflow
	sla        *SLAHandler
	logger     *zap.Logger
}

// NewPharmacyHandler creates the /pharmacies handler.
func NewPharmacyHandler(pharmacies store.PharmacyStore, workflow *engine.Workflow, sla *SLAHandler, logger *zap.Logger) *PharmacyHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PharmacyHandler{pharmacies: pharmacies, workflow: workflow, sla: sla, logger: logger}
}

// Routes returns the handler routes.
func (h *PharmacyHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{id}", h.Get)
	r.Get("/{id}/inventory", h.ListInventory)
	r.Put("/{id}/inventory", h.UpdateInventory)
	r.Get("/{id}/performance", h.sla.PharmacyPerformance)
	return r
}

type pharmacyView struct {
	ID                string                     `json:"id"`
	Name              string                     `json:"name"`
	City              string                     `json:"city"`
	Pincode           string                     `json:"pincode"`
	Status            pharmacy.OperationalStatus `json:"status"`
	DailyOrderLimit   int                        `json:"daily_order_limit"`
	CurrentQueueSize  int                        `json:"current_queue_size"`
	DrugLicenseExpiry *time.Time                 `json:"drug_license_expiry,omitempty"`
	ColdChainCapable  bool                       `json:"cold_chain_capable"`
	ColdChainVerified bool                       `json:"cold_chain_verified"`
}

// Get handles GET /pharmacies/{id}.
func (h *PharmacyHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.pharmacies.GetPharmacy(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, pharmacyView{
		ID:                p.ID,
		Name:              p.Name,
		City:              p.City,
		Pincode:           p.Pincode,
		Status:            p.Status,
		DailyOrderLimit:   p.DailyOrderLimit,
		CurrentQueueSize:  p.CurrentQueueSize,
		DrugLicenseExpiry: p.DrugLicenseExpiry,
		ColdChainCapable:  p.ColdChainCapable,
		ColdChainVerified: p.ColdChainVerified,
	})
}

type inventoryItemView struct {
	MedicationName string    `json:"medication_name"`
	InStock        bool      `json:"in_stock"`
	Quantity       int       `json:"quantity"`
	UpdatedBy      string    `json:"updated_by,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ListInventory handles GET /pharmacies/{id}/inventory.
func (h *PharmacyHandler) ListInventory(w http.ResponseWriter, r *http.Request) {
	items, err := h.pharmacies.ListInventory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	out := make([]inventoryItemView, 0, len(items))
	for _, item := range items {
		out = append(out, inventoryItemView{
			MedicationName: item.MedicationName,
			InStock:        item.InStock,
			Quantity:       item.Quantity,
			UpdatedBy:      item.UpdatedBy,
			UpdatedAt:      item.UpdatedAt,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

// InventoryUpdateRequest is the body for PUT /pharmacies/{id}/inventory.
// The staff member must belong to the pharmacy; the workflow enforces the
// permission.
type InventoryUpdateRequest struct {
	StaffID string                   `json:"staff_id"`
	Updates []engine.InventoryUpdate `json:"updates"`
}

// UpdateInventory handles PUT /pharmacies/{id}/inventory.
func (h *PharmacyHandler) UpdateInventory(w http.ResponseWriter, r *http.Request) {
	var req InventoryUpdateRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Updates) == 0 {
		badRequest(w, "updates is required")
		return
	}
	if err := h.workflow.UpdateInventory(r.Context(), req.StaffID, req.Updates); err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"updated": len(req.Updates)})
}
