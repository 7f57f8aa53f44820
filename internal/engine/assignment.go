package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/medrova/go-fulfillment/internal/domain/order"
	"github.com/medrova/go-fulfillment/internal/domain/pharmacy"
	"github.com/medrova/go-fulfillment/internal/errs"
	"github.com/medrova/go-fulfillment/internal/notify"
	"github.com/medrova/go-fulfillment/internal/observability/metrics"
	"github.com/medrova/go-fulfillment/internal/store"
)

// Reason is the discriminant of an assignment result.
type Reason string

const (
	ReasonAssigned           Reason = "assigned"
	ReasonNoEligiblePharmacy Reason = "no_eligible_pharmacy"
	ReasonReassigned         Reason = "reassigned"
)

// AssignResult is the typed outcome of an assignment-family operation.
// No eligible pharmacy is a normal outcome, not an error.
type AssignResult struct {
	Assigned   bool         `json:"assigned"`
	Reason     Reason       `json:"reason"`
	PharmacyID string       `json:"pharmacy_id,omitempty"`
	Order      *order.Order `json:"order,omitempty"`
}

// AssignRequest asks for a fresh assignment of a prescription.
type AssignRequest struct {
	PrescriptionID string
	// AddressOverride replaces the patient's default address when set.
	AddressOverride *order.Address
	// ReplacementOf links the new order to the one it replaces (damage or
	// cold-chain replacement runs).
	ReplacementOf string
}

// Assignment selects a fulfilling pharmacy under the hard eligibility
// constraints and soft ranking, creates the order, and notifies accepting
// staff. It is used for fresh assignment, reassignment, replacements, and
// refills.
type Assignment struct {
	orders     store.OrderStore
	pharmacies store.PharmacyStore
	rx         store.PrescriptionLookup
	notifier   notify.Notifier
	alerter    notify.OperatorAlerter
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewAssignment wires an assignment engine. Notifier, alerter, and metrics
// may be nil.
func NewAssignment(orders store.OrderStore, pharmacies store.PharmacyStore, rx store.PrescriptionLookup, notifier notify.Notifier, alerter notify.OperatorAlerter, m *metrics.Metrics, logger *zap.Logger) *Assignment {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assignment{
		orders:     orders,
		pharmacies: pharmacies,
		rx:         rx,
		notifier:   notifier,
		alerter:    alerter,
		metrics:    m,
		logger:     logger,
		now:        utcNow,
	}
}

// Assign creates and assigns an order for a prescription. When no pharmacy
// is eligible it returns a no_eligible_pharmacy result, raises an operator
// alert, and creates nothing.
func (a *Assignment) Assign(ctx context.Context, req AssignRequest) (*AssignResult, error) {
	rx, err := a.rx.GetPrescription(ctx, req.PrescriptionID)
	if err != nil {
		return nil, err
	}

	now := a.now()
	coldChain := pharmacy.NeedsColdChain(rx.Medications)

	addr := order.Address{}
	if req.AddressOverride != nil {
		addr = *req.AddressOverride
	}

	chosen, err := a.pickPharmacy(ctx, coldChain, addr.Pincode, "", now)
	if err != nil {
		return nil, err
	}
	if chosen == nil {
		a.metrics.IncAssignmentFailed()
		alertQuiet(ctx, a.logger, a.alerter, notify.NewAlert(
			notify.AlertNoEligiblePharmacy, notify.SeverityCritical,
			fmt.Sprintf("no eligible pharmacy for prescription %s (cold chain: %t)", rx.ID, coldChain),
			"", ""))
		return &AssignResult{Assigned: false, Reason: ReasonNoEligiblePharmacy}, nil
	}

	o := order.New(rx.ID, rx.ConsultationID, rx.PatientID, rx.Medications, addr, coldChain, now)
	o.PharmacyID = chosen.ID
	o.ReplacementOf = req.ReplacementOf
	if err := o.Transition(order.StatusAssigned, now); err != nil {
		// Unreachable from a fresh order; keep the queue consistent anyway.
		a.releaseQueue(ctx, chosen.ID)
		return nil, err
	}

	if err := a.orders.CreateOrder(ctx, o); err != nil {
		a.releaseQueue(ctx, chosen.ID)
		return nil, fmt.Errorf("create order: %w", err)
	}

	a.metrics.IncAssigned()
	a.logger.Info("order assigned",
		zap.String("order_id", o.ID),
		zap.String("pharmacy_id", chosen.ID),
		zap.Bool("cold_chain", coldChain))

	a.notifyAcceptingStaff(ctx, chosen.ID, o)

	return &AssignResult{Assigned: true, Reason: ReasonAssigned, PharmacyID: chosen.ID, Order: o}, nil
}

// Reassign moves an existing order away from its current pharmacy after a
// rejection, stock dead-end, suspension, or failed delivery. The previous
// pharmacy's queue is released and excluded from the new search.
func (a *Assignment) Reassign(ctx context.Context, orderID, reason string) (*AssignResult, error) {
	o, err := a.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.CanTransition(o.Status, order.StatusAssigned) {
		return nil, errs.InvalidState("order %s cannot be reassigned from %s", o.ID, o.Status)
	}

	prev := o.PharmacyID
	if prev != "" {
		a.releaseQueue(ctx, prev)
	}

	now := a.now()
	chosen, err := a.pickPharmacy(ctx, o.ColdChain, o.Address.Pincode, prev, now)
	if err != nil {
		return nil, err
	}
	if chosen == nil {
		a.metrics.IncAssignmentFailed()
		alertQuiet(ctx, a.logger, a.alerter, notify.NewAlert(
			notify.AlertReassignmentFailed, notify.SeverityCritical,
			fmt.Sprintf("reassignment failed for order %s (%s): no alternative pharmacy", o.ID, reason),
			o.ID, prev))
		return &AssignResult{Assigned: false, Reason: ReasonNoEligiblePharmacy}, nil
	}

	expected := o.Status
	o.PharmacyID = chosen.ID
	if err := o.Transition(order.StatusAssigned, now); err != nil {
		a.releaseQueue(ctx, chosen.ID)
		return nil, err
	}
	if err := a.orders.UpdateOrder(ctx, o, expected); err != nil {
		a.releaseQueue(ctx, chosen.ID)
		return nil, err
	}

	a.logger.Info("order reassigned",
		zap.String("order_id", o.ID),
		zap.String("from_pharmacy", prev),
		zap.String("to_pharmacy", chosen.ID),
		zap.String("reason", reason))

	a.notifyAcceptingStaff(ctx, chosen.ID, o)

	return &AssignResult{Assigned: true, Reason: ReasonReassigned, PharmacyID: chosen.ID, Order: o}, nil
}

// pickPharmacy filters, ranks, and claims queue capacity. The conditional
// increment is the concurrency guard: a candidate that filled up between
// the scan and the claim is skipped, never over-committed.
func (a *Assignment) pickPharmacy(ctx context.Context, coldChain bool, pincode, exclude string, now time.Time) (*pharmacy.Pharmacy, error) {
	candidates, err := a.pharmacies.ListActivePharmacies(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pharmacies: %w", err)
	}

	eligible := candidates[:0]
	for _, p := range candidates {
		if p.ID == exclude {
			continue
		}
		if pharmacy.IsEligible(p, coldChain, now) {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	for _, p := range pharmacy.Rank(eligible, pincode) {
		ok, err := a.pharmacies.IncrementQueue(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("claim queue slot at %s: %w", p.ID, err)
		}
		if ok {
			return p, nil
		}
	}
	return nil, nil
}

func (a *Assignment) releaseQueue(ctx context.Context, pharmacyID string) {
	if err := a.pharmacies.DecrementQueue(ctx, pharmacyID); err != nil {
		a.logger.Error("queue decrement failed",
			zap.String("pharmacy_id", pharmacyID),
			zap.Error(err))
	}
}

// notifyAcceptingStaff notifies every active staff member of the pharmacy
// who may accept orders. Fire-and-forget.
func (a *Assignment) notifyAcceptingStaff(ctx context.Context, pharmacyID string, o *order.Order) {
	staff, err := a.pharmacies.ListStaff(ctx, pharmacyID)
	if err != nil {
		a.logger.Warn("staff lookup for notification failed",
			zap.String("pharmacy_id", pharmacyID),
			zap.Error(err))
		return
	}
	for _, m := range staff {
		if !m.Active || !m.CanAcceptOrders {
			continue
		}
		sendQuiet(ctx, a.logger, a.notifier, notify.NewNotification(
			m.ID, notify.RolePharmacyStaff, notify.ChannelPush, notify.EventOrderAssigned,
			"New order assigned",
			fmt.Sprintf("Order %s is waiting for acceptance.", o.ID),
			map[string]string{"order_id": o.ID, "cold_chain": fmt.Sprintf("%t", o.ColdChain)}))
	}
}
