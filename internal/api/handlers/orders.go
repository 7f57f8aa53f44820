package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/medrova/go-fulfillment/internal/domain/order"
	"github.com/medrova/go-fulfillment/internal/engine"
	"github.com/medrova/go-fulfillment/internal/store"
)

// OrderHandler exposes order creation and the staff workflow actions. The
// delivery, returns, and SLA endpoints hang off the same /orders subtree
// through the embedded handlers.
type OrderHandler struct {
	assigner *engine.Assignment
	workflow *engine.Workflow
	orders   store.OrderStore
	delivery *DeliveryHandler
	returns  *ReturnsHandler
	sla      *SLAHandler
	logger   *zap.Logger
}

// NewOrderHandler creates the /orders handler tree.
func NewOrderHandler(
	assigner *engine.Assignment,
	workflow *engine.Workflow,
	orders store.OrderStore,
	delivery *DeliveryHandler,
	returns *ReturnsHandler,
	sla *SLAHandler,
	logger *zap.Logger,
) *OrderHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderHandler{
		assigner: assigner,
		workflow: workflow,
		orders:   orders,
		delivery: delivery,
		returns:  returns,
		sla:      sla,
		logger:   logger,
	}
}

// Routes returns the handler routes.
func (h *OrderHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/assign", h.Assign)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Post("/reassign", h.Reassign)
		r.Post("/accept", h.Accept)
		r.Post("/reject", h.Reject)
		r.Post("/prepare", h.StartPreparing)
		r.Post("/stock-issue", h.ReportStockIssue)
		r.Post("/substitution", h.ProposeSubstitution)
		r.Post("/substitution/approve", h.ApproveSubstitution)
		r.Post("/substitution/reject", h.RejectSubstitution)
		r.Post("/discreet-packaging", h.ConfirmDiscreetPackaging)
		r.Post("/ready", h.MarkReady)
		r.Post("/cancel", h.Cancel)

		r.Get("/sla", h.sla.OrderStatus)

		r.Post("/damage", h.returns.ReportDamage)
		r.Post("/damage-review", h.returns.ReviewDamage)
		r.Post("/return", h.returns.ProcessReturn)
		r.Post("/cold-chain-breach", h.returns.ColdChainBreach)

		r.Mount("/delivery", h.delivery.Routes())
	})
	return r
}

// orderView is the wire shape of an order.
type orderView struct {
	ID             string             `json:"id"`
	PrescriptionID string             `json:"prescription_id"`
	ConsultationID string             `json:"consultation_id,omitempty"`
	PatientID      string             `json:"patient_id"`
	PharmacyID     string             `json:"pharmacy_id,omitempty"`
	Status         order.Status       `json:"status"`
	ColdChain      bool               `json:"cold_chain"`
	Medications    []order.Medication `json:"medications"`
	Address        order.Address      `json:"address"`
	CreatedAt      time.Time          `json:"created_at"`
	AssignedAt     *time.Time         `json:"assigned_at,omitempty"`
	AcceptedAt     *time.Time         `json:"accepted_at,omitempty"`
	ReadyAt        *time.Time         `json:"ready_for_pickup_at,omitempty"`
	DispatchedAt   *time.Time         `json:"dispatched_at,omitempty"`
	DeliveredAt    *time.Time         `json:"delivered_at,omitempty"`
	CancelledAt    *time.Time         `json:"cancelled_at,omitempty"`

	DeliveryAttempts int  `json:"delivery_attempts"`
	DiscreetPack     bool `json:"discreet_pack"`

	StockIssue    *order.StockIssueDetail     `json:"stock_issue,omitempty"`
	Substitution  *order.SubstitutionProposal `json:"substitution,omitempty"`
	Damage        *order.DamageReport         `json:"damage,omitempty"`
	Breaches      []order.BreachRecord        `json:"sla_breaches,omitempty"`
	ReplacementOf string                      `json:"replacement_of,omitempty"`
}

func viewOrder(o *order.Order) orderView {
	return orderView{
		ID:               o.ID,
		PrescriptionID:   o.PrescriptionID,
		ConsultationID:   o.ConsultationID,
		PatientID:        o.PatientID,
		PharmacyID:       o.PharmacyID,
		Status:           o.Status,
		ColdChain:        o.ColdChain,
		Medications:      o.Medications,
		Address:          o.Address,
		CreatedAt:        o.CreatedAt,
		AssignedAt:       o.AssignedAt,
		AcceptedAt:       o.AcceptedAt,
		ReadyAt:          o.ReadyForPickupAt,
		DispatchedAt:     o.DispatchedAt,
		DeliveredAt:      o.DeliveredAt,
		CancelledAt:      o.CancelledAt,
		DeliveryAttempts: o.DeliveryAttempts,
		DiscreetPack:     o.DiscreetPack,
		StockIssue:       o.StockIssue,
		Substitution:     o.Substitution,
		Damage:           o.Damage,
		Breaches:         o.Breaches,
		ReplacementOf:    o.ReplacementOf,
	}
}

type assignResultView struct {
	Assigned   bool       `json:"assigned"`
	Reason     string     `json:"reason"`
	PharmacyID string     `json:"pharmacy_id,omitempty"`
	Order      *orderView `json:"order,omitempty"`
}

func viewAssignResult(res *engine.AssignResult) assignResultView {
	v := assignResultView{
		Assigned:   res.Assigned,
		Reason:     string(res.Reason),
		PharmacyID: res.PharmacyID,
	}
	if res.Order != nil {
		ov := viewOrder(res.Order)
		v.Order = &ov
	}
	return v
}

// AssignOrderRequest is the body for POST /orders/assign.
type AssignOrderRequest struct {
	PrescriptionID  string         `json:"prescription_id"`
	AddressOverride *order.Address `json:"address_override,omitempty"`
}

// Assign handles POST /orders/assign.
func (h *OrderHandler) Assign(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("order-handler").Start(r.Context(), "assign_order")
	defer span.End()

	var req AssignOrderRequest
	if !decode(w, r, &req) {
		return
	}
	if req.PrescriptionID == "" {
		badRequest(w, "prescription_id is required")
		return
	}
	span.SetAttributes(attribute.String("prescription_id", req.PrescriptionID))

	res, err := h.assigner.Assign(ctx, engine.AssignRequest{
		PrescriptionID:  req.PrescriptionID,
		AddressOverride: req.AddressOverride,
	})
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	status := http.StatusCreated
	if !res.Assigned {
		// Nothing was created; operators were alerted.
		status = http.StatusAccepted
	}
	respondJSON(w, status, viewAssignResult(res))
}

// Get handles GET /orders/{id}.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, viewOrder(o))
}

// ReassignRequest is the body for POST /orders/{id}/reassign.
type ReassignRequest struct {
	Reason string `json:"reason"`
}

// Reassign handles POST /orders/{id}/reassign.
func (h *OrderHandler) Reassign(w http.ResponseWriter, r *http.Request) {
	var req ReassignRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.assigner.Reassign(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, viewAssignResult(res))
}

// StaffActionRequest carries the acting staff member.
type StaffActionRequest struct {
	StaffID string `json:"staff_id"`
}

// Accept handles POST /orders/{id}/accept.
func (h *OrderHandler) Accept(w http.ResponseWriter, r *http.Request) {
	var req StaffActionRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := h.workflow.Accept(r.Context(), chi.URLParam(r, "id"), req.StaffID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, viewOrder(o))
}

// RejectRequest is the body for POST /orders/{id}/reject.
type RejectRequest struct {
	StaffID string `json:"staff_id"`
	Reason  string `json:"reason"`
}

// Reject handles POST /orders/{id}/reject. The response carries the
// reassignment outcome alongside the rejected order.
func (h *OrderHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if !decode(w, r, &req) {
		return
	}
	o, res, err := h.workflow.Reject(r.Context(), chi.URLParam(r, "id"), req.StaffID, req.Reason)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	resp := struct {
		Order        orderView         `json:"order"`
		Reassignment *assignResultView `json:"reassignment,omitempty"`
	}{Order: viewOrder(o)}
	if res != nil {
		rv := viewAssignResult(res)
		resp.Reassignment = &rv
	}
	respondJSON(w, http.StatusOK, resp)
}

// StartPreparing handles POST /orders/{id}/prepare.
func (h *OrderHandler) StartPreparing(w http.ResponseWriter, r *http.Request) {
	var req StaffActionRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := h.workflow.StartPreparing(r.Context(), chi.URLParam(r, "id"), req.StaffID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, viewOrder(o))
}

// StockIssueRequest is the body for POST /orders/{id}/stock-issue.
type StockIssueRequest struct {
	StaffID string              `json:"staff_id"`
	Items   []order.MissingItem `json:"items"`
	Note    string              `json:"note,omitempty"`
}

// ReportStockIssue handles POST /orders/{id}/stock-issue.
func (h *OrderHandler) ReportStockIssue(w http.ResponseWriter, r *http.Request) {
	var req StockIssueRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Items) == 0 {
		badRequest(w, "items is required")
		return
	}
	o, err := h.workflow.ReportStockIssue(r.Context(), chi.URLParam(r, "id"), req.StaffID, req.Items, req.Note)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, viewOrder(o))
}

// SubstitutionRequest is the body for POST /orders/{id}/substitution.
type SubstitutionRequest struct {
	StaffID    string `json:"staff_id"`
	Original   string `json:"original_medication"`
	Substitute string `json:"substitute_medication"`
	Reason     string `json:"reason"`
}

// ProposeSubstitution handles POST /orders/{id}/substitution.
func (h *OrderHandler) ProposeSubstitution(w http.ResponseWriter, r *http.Request) {
	var req SubstitutionRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Original == "" || req.Substitute == "" {
		badRequest(w, "original_medication and substitute_medication are required")
		return
	}
	o, err := h.workflow.ProposeSubstitution(r.Context(), chi.URLParam(r, "id"),
		req.StaffID, req.Original, req.Substitute, req.Reason)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, viewOrder(o))
}

// SubstitutionDecisionRequest is the body for the approve/reject endpoints.
type SubstitutionDecisionRequest struct {
	DoctorID string `json:"doctor_id"`
	Note     string `json:"note,omitempty"`
}

// ApproveSubstitution handles POST /orders/{id}/substitution/approve.
func (h *OrderHandler) ApproveSubstitution(w http.ResponseWriter, r *http.Request) {
	var req SubstitutionDecisionRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := h.workflow.ApproveSubstitution(r.Context(), chi.URLParam(r, "id"), req.DoctorID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, viewOrder(o))
}

// RejectSubstitution handles POST /orders/{id}/substitution/reject.
func (h *OrderHandler) RejectSubstitution(w http.ResponseWriter, r *http.Request) {
	var req SubstitutionDecisionRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := h.workflow.RejectSubstitution(r.Context(), chi.URLParam(r, "id"), req.DoctorID, req.Note)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, viewOrder(o))
}

// ConfirmDiscreetPackaging handles POST /orders/{id}/discreet-packaging.
func (h *OrderHandler) ConfirmDiscreetPackaging(w http.ResponseWriter, r *http.Request) {
	var req StaffActionRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := h.workflow.ConfirmDiscreetPackaging(r.Context(), chi.URLParam(r, "id"), req.StaffID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, viewOrder(o))
}

// MarkReady handles POST /orders/{id}/ready.
func (h *OrderHandler) MarkReady(w http.ResponseWriter, r *http.Request) {
	var req StaffActionRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := h.workflow.MarkReadyForPickup(r.Context(), chi.URLParam(r, "id"), req.StaffID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, viewOrder(o))
}

// CancelRequest is the body for POST /orders/{id}/cancel.
type CancelRequest struct {
	PatientID string `json:"patient_id"`
	Reason    string `json:"reason,omitempty"`
}

// Cancel handles POST /orders/{id}/cancel.
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := h.workflow.Cancel(r.Context(), chi.URLParam(r, "id"), req.PatientID, req.Reason)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, viewOrder(o))
}
