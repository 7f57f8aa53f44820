package engine

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/medrova/go-fulfillment/internal/domain/order"
	"github.com/medrova/go-fulfillment/internal/domain/pharmacy"
	"github.com/medrova/go-fulfillment/internal/errs"
	"github.com/medrova/go-fulfillment/internal/notify"
	"github.com/medrova/go-fulfillment/internal/store"
)

// Workflow implements the staff-facing fulfillment operations. Every
// status change passes through the order state machine and is persisted
// with an optimistic guard on the prior status.
type Workflow struct {
	orders     store.OrderStore
	pharmacies store.PharmacyStore
	rx         store.PrescriptionLookup
	assigner   *Assignment
	notifier   notify.Notifier
	alerter    notify.OperatorAlerter
	logger     *zap.Logger
	now        func() time.Time

	// otp generates the 4-digit delivery code. Collisions across different
	// orders are acceptable; the code is only ever checked against its own
	// order.
	otp func() string
}

// NewWorkflow wires the staff workflow.
func NewWorkflow(orders store.OrderStore, pharmacies store.PharmacyStore, rx store.PrescriptionLookup, assigner *Assignment, notifier notify.Notifier, alerter notify.OperatorAlerter, logger *zap.Logger) *Workflow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workflow{
		orders:     orders,
		pharmacies: pharmacies,
		rx:         rx,
		assigner:   assigner,
		notifier:   notifier,
		alerter:    alerter,
		logger:     logger,
		now:        utcNow,
		otp:        func() string { return fmt.Sprintf("%04d", rand.IntN(10000)) },
	}
}

// staffAt loads a staff member and checks they are active at the order's
// pharmacy.
func (w *Workflow) staffAt(ctx context.Context, staffID string, o *order.Order) (*pharmacy.Staff, error) {
	m, err := w.pharmacies.GetStaff(ctx, staffID)
	if err != nil {
		return nil, err
	}
	if !m.Active {
		return nil, errs.Forbidden("staff %s is not active", staffID)
	}
	if m.PharmacyID != o.PharmacyID {
		return nil, errs.Forbidden("staff %s does not belong to pharmacy %s", staffID, o.PharmacyID)
	}
	return m, nil
}

// transitionAndSave applies a transition and persists it guarded on the
// prior status.
func (w *Workflow) transitionAndSave(ctx context.Context, o *order.Order, to order.Status) error {
	expected := o.Status
	if err := o.Transition(to, w.now()); err != nil {
		return err
	}
	return w.orders.UpdateOrder(ctx, o, expected)
}

// Accept moves an assigned order to PHARMACY_ACCEPTED. Only an active
// pharmacist with the accept permission may accept; that gate is
// regulatory, not configurable.
func (w *Workflow) Accept(ctx context.Context, orderID, staffID string) (*order.Order, error) {
	o, err := w.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	m, err := w.staffAt(ctx, staffID, o)
	if err != nil {
		return nil, err
	}
	if m.Role != pharmacy.RolePharmacist || !m.CanAcceptOrders {
		return nil, errs.Forbidden("staff %s may not accept orders", staffID)
	}

	if err := w.transitionAndSave(ctx, o, order.StatusPharmacyAccepted); err != nil {
		return nil, err
	}

	sendQuiet(ctx, w.logger, w.notifier, notify.NewNotification(
		o.PatientID, notify.RolePatient, notify.ChannelPush, notify.EventOrderAccepted,
		"Order confirmed",
		"Your pharmacy has accepted your order and will begin preparing it.",
		map[string]string{"order_id": o.ID}))

	return o, nil
}

// Reject moves the order to PHARMACY_REJECTED and immediately starts
// reassignment. The prescriber gets the specific reason; the patient gets
// a deliberately vague reassurance.
func (w *Workflow) Reject(ctx context.Context, orderID, staffID, reason string) (*order.Order, *AssignResult, error) {
	o, err := w.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	m, err := w.staffAt(ctx, staffID, o)
	if err != nil {
		return nil, nil, err
	}
	if m.Role != pharmacy.RolePharmacist || !m.CanAcceptOrders {
		return nil, nil, errs.Forbidden("staff %s may not reject orders", staffID)
	}

	if err := w.transitionAndSave(ctx, o, order.StatusPharmacyRejected); err != nil {
		return nil, nil, err
	}

	if rx, rxErr := w.rx.GetPrescription(ctx, o.PrescriptionID); rxErr == nil {
		sendQuiet(ctx, w.logger, w.notifier, notify.NewNotification(
			rx.PrescriberID, notify.RoleDoctor, notify.ChannelInApp, notify.EventOrderRejected,
			"Pharmacy rejected an order",
			fmt.Sprintf("Order %s was rejected: %s", o.ID, reason),
			map[string]string{"order_id": o.ID, "reason": reason}))
	} else {
		w.logger.Warn("prescriber lookup failed for rejection notice",
			zap.String("order_id", o.ID), zap.Error(rxErr))
	}
	sendQuiet(ctx, w.logger, w.notifier, notify.NewNotification(
		o.PatientID, notify.RolePatient, notify.ChannelPush, notify.EventOrderReassigning,
		"Order update",
		"Your order is being reassigned to another pharmacy.",
		map[string]string{"order_id": o.ID}))

	result, err := w.assigner.Reassign(ctx, o.ID, "pharmacy_rejected")
	if err != nil {
		return o, nil, err
	}
	if result.Order != nil {
		o = result.Order
	}
	return o, result, nil
}

// StartPreparing moves an accepted order into PREPARING.
func (w *Workflow) StartPreparing(ctx context.Context, orderID, staffID string) (*order.Order, error) {
	o, err := w.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if _, err := w.staffAt(ctx, staffID, o); err != nil {
		return nil, err
	}
	if err := w.transitionAndSave(ctx, o, order.StatusPreparing); err != nil {
		return nil, err
	}
	return o, nil
}

// ReportStockIssue records missing items, marks them out of stock in the
// pharmacy's inventory, and alerts operations.
func (w *Workflow) ReportStockIssue(ctx context.Context, orderID, staffID string, items []order.MissingItem, note string) (*order.Order, error) {
	if len(items) == 0 {
		return nil, errs.InvalidState("stock issue requires at least one missing item")
	}
	o, err := w.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if _, err := w.staffAt(ctx, staffID, o); err != nil {
		return nil, err
	}

	now := w.now()
	o.StockIssue = &order.StockIssueDetail{
		ReportedBy: staffID,
		Items:      items,
		Note:       note,
		ReportedAt: now,
	}
	if err := w.transitionAndSave(ctx, o, order.StatusStockIssue); err != nil {
		return nil, err
	}

	for _, item := range items {
		err := w.pharmacies.UpsertInventory(ctx, &pharmacy.InventoryItem{
			PharmacyID:     o.PharmacyID,
			MedicationName: item.MedicationName,
			InStock:        false,
			Quantity:       item.Available,
			UpdatedBy:      staffID,
			UpdatedAt:      now,
		})
		if err != nil {
			w.logger.Error("inventory out-of-stock mark failed",
				zap.String("pharmacy_id", o.PharmacyID),
				zap.String("medication", item.MedicationName),
				zap.Error(err))
		}
	}

	alertQuiet(ctx, w.logger, w.alerter, notify.NewAlert(
		notify.AlertStockIssue, notify.SeverityWarning,
		fmt.Sprintf("stock issue on order %s: %d item(s) missing", o.ID, len(items)),
		o.ID, o.PharmacyID))

	return o, nil
}

// ProposeSubstitution records a pharmacist's substitution proposal and
// asks the prescriber to decide.
func (w *Workflow) ProposeSubstitution(ctx context.Context, orderID, staffID, original, substitute, reason string) (*order.Order, error) {
	o, err := w.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	m, err := w.staffAt(ctx, staffID, o)
	if err != nil {
		return nil, err
	}
	if m.Role != pharmacy.RolePharmacist {
		return nil, errs.Forbidden("only a pharmacist may propose substitutions")
	}

	o.Substitution = &order.SubstitutionProposal{
		ProposedBy:           staffID,
		OriginalMedication:   original,
		SubstituteMedication: substitute,
		Reason:               reason,
		ProposedAt:           w.now(),
		Decision:             order.SubstitutionPending,
	}
	if err := w.transitionAndSave(ctx, o, order.StatusAwaitingSubstitutionApproval); err != nil {
		return nil, err
	}

	if rx, rxErr := w.rx.GetPrescription(ctx, o.PrescriptionID); rxErr == nil {
		sendQuiet(ctx, w.logger, w.notifier, notify.NewNotification(
			rx.PrescriberID, notify.RoleDoctor, notify.ChannelInApp, notify.EventSubstitutionProposed,
			"Substitution approval needed",
			fmt.Sprintf("Pharmacy proposes %s in place of %s: %s", substitute, original, reason),
			map[string]string{"order_id": o.ID}))
	} else {
		w.logger.Warn("prescriber lookup failed for substitution notice",
			zap.String("order_id", o.ID), zap.Error(rxErr))
	}

	return o, nil
}

// ApproveSubstitution is the prescriber's approval; preparation resumes.
func (w *Workflow) ApproveSubstitution(ctx context.Context, orderID, doctorID string) (*order.Order, error) {
	o, err := w.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Substitution == nil || o.Substitution.Decision != order.SubstitutionPending {
		return nil, errs.InvalidState("order %s has no pending substitution", o.ID)
	}

	now := w.now()
	o.Substitution.Decision = order.SubstitutionApproved
	o.Substitution.DecidedAt = &now
	o.Substitution.DecidedBy = doctorID
	if err := w.transitionAndSave(ctx, o, order.StatusPreparing); err != nil {
		return nil, err
	}
	return o, nil
}

// RejectSubstitution is the prescriber's refusal; the order falls back to
// STOCK_ISSUE and operations must intervene manually.
func (w *Workflow) RejectSubstitution(ctx context.Context, orderID, doctorID, note string) (*order.Order, error) {
	o, err := w.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Substitution == nil || o.Substitution.Decision != order.SubstitutionPending {
		return nil, errs.InvalidState("order %s has no pending substitution", o.ID)
	}

	now := w.now()
	o.Substitution.Decision = order.SubstitutionRejected
	o.Substitution.DecidedAt = &now
	o.Substitution.DecidedBy = doctorID
	if err := w.transitionAndSave(ctx, o, order.StatusStockIssue); err != nil {
		return nil, err
	}

	alertQuiet(ctx, w.logger, w.alerter, notify.NewAlert(
		notify.AlertSubstitutionRejected, notify.SeverityCritical,
		fmt.Sprintf("substitution rejected on order %s, manual intervention required: %s", o.ID, note),
		o.ID, o.PharmacyID))

	return o, nil
}

// ConfirmDiscreetPackaging sets the non-revocable packaging flag. It does
// not change the order status.
func (w *Workflow) ConfirmDiscreetPackaging(ctx context.Context, orderID, staffID string) (*order.Order, error) {
	o, err := w.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if _, err := w.staffAt(ctx, staffID, o); err != nil {
		return nil, err
	}
	if o.DiscreetPack {
		return o, nil
	}
	o.DiscreetPack = true
	if err := w.orders.UpdateOrder(ctx, o, o.Status); err != nil {
		return nil, err
	}
	return o, nil
}

// MarkReadyForPickup generates the delivery OTP and moves the order to
// READY_FOR_PICKUP. Discreet packaging confirmation is a hard gate.
func (w *Workflow) MarkReadyForPickup(ctx context.Context, orderID, staffID string) (*order.Order, error) {
	o, err := w.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	m, err := w.staffAt(ctx, staffID, o)
	if err != nil {
		return nil, err
	}
	if !m.CanDispense {
		return nil, errs.Forbidden("staff %s may not dispense", staffID)
	}
	if !o.DiscreetPack {
		return nil, errs.InvalidState("discreet packaging must be confirmed before marking ready")
	}

	o.DeliveryOTP = w.otp()
	if err := w.transitionAndSave(ctx, o, order.StatusReadyForPickup); err != nil {
		return nil, err
	}
	return o, nil
}

// InventoryUpdate is one row of an inventory upsert.
type InventoryUpdate struct {
	MedicationName string `json:"medication_name"`
	InStock        bool   `json:"in_stock"`
	Quantity       int    `json:"quantity"`
}

// UpdateInventory upserts stock rows for the staff member's pharmacy,
// recording who made the change.
func (w *Workflow) UpdateInventory(ctx context.Context, staffID string, updates []InventoryUpdate) error {
	m, err := w.pharmacies.GetStaff(ctx, staffID)
	if err != nil {
		return err
	}
	if !m.Active {
		return errs.Forbidden("staff %s is not active", staffID)
	}
	if !m.CanManageInventory {
		return errs.Forbidden("staff %s may not manage inventory", staffID)
	}

	now := w.now()
	for _, u := range updates {
		err := w.pharmacies.UpsertInventory(ctx, &pharmacy.InventoryItem{
			PharmacyID:     m.PharmacyID,
			MedicationName: u.MedicationName,
			InStock:        u.InStock,
			Quantity:       u.Quantity,
			UpdatedBy:      staffID,
			UpdatedAt:      now,
		})
		if err != nil {
			return fmt.Errorf("upsert inventory %s: %w", u.MedicationName, err)
		}
	}
	return nil
}

// Cancel cancels an order before dispatch. Only the owning patient may
// cancel; the assigned pharmacy's queue slot is released.
func (w *Workflow) Cancel(ctx context.Context, orderID, patientID, reason string) (*order.Order, error) {
	o, err := w.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.PatientID != patientID {
		return nil, errs.Forbidden("order %s does not belong to patient %s", orderID, patientID)
	}
	if !o.PreDispatch() {
		return nil, errs.InvalidState("order %s can no longer be cancelled (status %s)", o.ID, o.Status)
	}

	if err := w.transitionAndSave(ctx, o, order.StatusCancelled); err != nil {
		return nil, err
	}
	if o.PharmacyID != "" {
		if err := w.pharmacies.DecrementQueue(ctx, o.PharmacyID); err != nil {
			w.logger.Error("queue decrement failed on cancel",
				zap.String("pharmacy_id", o.PharmacyID), zap.Error(err))
		}
	}
	w.logger.Info("order cancelled",
		zap.String("order_id", o.ID), zap.String("reason", reason))
	return o, nil
}
