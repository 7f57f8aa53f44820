package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/medrova/go-fulfillment/internal/domain/order"
	"github.com/medrova/go-fulfillment/internal/errs"
	"github.com/medrova/go-fulfillment/internal/notify"
	"github.com/medrova/go-fulfillment/internal/store"
	"github.com/medrova/go-fulfillment/pkg/idempotency"
)

// returnWindow is how long after delivery an unopened package may be
// returned.
const returnWindow = 48 * time.Hour

// Returns implements damage reports, time-boxed returns, and cold-chain
// breach handling. Replacements re-enter the assignment engine with an
// idempotency claim so overlapping triggers create at most one new order.
type Returns struct {
	orders   store.OrderStore
	assigner *Assignment
	inbox    idempotency.Inbox
	notifier notify.Notifier
	alerter  notify.OperatorAlerter
	logger   *zap.Logger
	now      func() time.Time
}

// NewReturns wires the returns and exceptions workflows. The inbox may be
// nil, in which case replacement dedup is skipped.
func NewReturns(orders store.OrderStore, assigner *Assignment, inbox idempotency.Inbox, notifier notify.Notifier, alerter notify.OperatorAlerter, logger *zap.Logger) *Returns {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Returns{
		orders:   orders,
		assigner: assigner,
		inbox:    inbox,
		notifier: notifier,
		alerter:  alerter,
		logger:   logger,
		now:      utcNow,
	}
}

// ReportDamage records a patient's damage report and asks operations to
// review it.
func (r *Returns) ReportDamage(ctx context.Context, orderID, patientID, description string, photoURLs []string) (*order.Order, error) {
	o, err := r.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.PatientID != patientID {
		return nil, errs.Forbidden("order %s does not belong to patient %s", orderID, patientID)
	}

	now := r.now()
	o.Damage = &order.DamageReport{
		ReportedBy:  patientID,
		Description: description,
		PhotoURLs:   photoURLs,
		ReportedAt:  now,
	}
	expected := o.Status
	if err := o.Transition(order.StatusDamageReported, now); err != nil {
		return nil, err
	}
	if err := r.orders.UpdateOrder(ctx, o, expected); err != nil {
		return nil, err
	}

	alertQuiet(ctx, r.logger, r.alerter, notify.NewAlert(
		notify.AlertDamageReported, notify.SeverityWarning,
		fmt.Sprintf("damage reported on order %s: %s", o.ID, description),
		o.ID, o.PharmacyID))

	return o, nil
}

// ReviewDamage decides a pending damage report. Approval closes the order
// and triggers a free replacement; rejection restores the delivered
// status with the reviewer's note kept on record.
func (r *Returns) ReviewDamage(ctx context.Context, orderID, reviewerID string, approve bool, note string) (*order.Order, *AssignResult, error) {
	o, err := r.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if o.Status != order.StatusDamageReported {
		return nil, nil, errs.InvalidState("order %s has no damage report pending review (status %s)", o.ID, o.Status)
	}

	now := r.now()
	if o.Damage != nil {
		o.Damage.ReviewedBy = reviewerID
		o.Damage.ReviewedAt = &now
		o.Damage.ReviewNote = note
	}

	next := order.StatusDelivered
	if approve {
		next = order.StatusDamageApproved
	}
	expected := o.Status
	if err := o.Transition(next, now); err != nil {
		return nil, nil, err
	}
	if err := r.orders.UpdateOrder(ctx, o, expected); err != nil {
		return nil, nil, err
	}

	if !approve {
		return o, nil, nil
	}

	result, err := r.replace(ctx, o, "damage")
	if err != nil {
		return o, nil, err
	}
	return o, result, nil
}

// ProcessReturn accepts an unopened package returned within the window.
func (r *Returns) ProcessReturn(ctx context.Context, orderID, patientID string, unopened bool) (*order.Order, error) {
	o, err := r.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.PatientID != patientID {
		return nil, errs.Forbidden("order %s does not belong to patient %s", orderID, patientID)
	}
	if !unopened {
		return nil, errs.InvalidState("only unopened packages can be returned")
	}
	if o.DeliveredAt == nil {
		return nil, errs.InvalidState("order %s has not been delivered", o.ID)
	}
	if r.now().Sub(*o.DeliveredAt) > returnWindow {
		return nil, errs.InvalidState("return window of %d hours has passed for order %s", int(returnWindow.Hours()), o.ID)
	}

	expected := o.Status
	if err := o.Transition(order.StatusReturnAccepted, r.now()); err != nil {
		return nil, err
	}
	if err := r.orders.UpdateOrder(ctx, o, expected); err != nil {
		return nil, err
	}
	return o, nil
}

// HandleColdChainBreach closes a cold-chain order whose chain was broken
// and replaces it automatically. Unlike damage, there is no review step.
func (r *Returns) HandleColdChainBreach(ctx context.Context, orderID, reportedBy string) (*order.Order, *AssignResult, error) {
	o, err := r.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if !o.ColdChain {
		return nil, nil, errs.InvalidState("order %s is not a cold-chain order", o.ID)
	}

	expected := o.Status
	if err := o.Transition(order.StatusColdChainBreach, r.now()); err != nil {
		return nil, nil, err
	}
	if err := r.orders.UpdateOrder(ctx, o, expected); err != nil {
		return nil, nil, err
	}

	alertQuiet(ctx, r.logger, r.alerter, notify.NewAlert(
		notify.AlertColdChainBreach, notify.SeverityCritical,
		fmt.Sprintf("cold chain breached on order %s (reported by %s), replacement dispatched", o.ID, reportedBy),
		o.ID, o.PharmacyID))

	result, err := r.replace(ctx, o, "cold_chain_breach")
	if err != nil {
		return o, nil, err
	}
	return o, result, nil
}

// replace runs a fresh, free assignment for the same prescription,
// delivered to the same address.
func (r *Returns) replace(ctx context.Context, o *order.Order, cause string) (*AssignResult, error) {
	var key string
	if r.inbox != nil {
		key = idempotency.Key("replacement", o.ID, cause)
		claimed, err := r.inbox.Begin(ctx, key, "returns")
		if err != nil {
			return nil, fmt.Errorf("claim replacement key: %w", err)
		}
		if !claimed {
			r.logger.Info("replacement already created, skipping",
				zap.String("order_id", o.ID), zap.String("cause", cause))
			return nil, nil
		}
	}

	addr := o.Address
	result, err := r.assigner.Assign(ctx, AssignRequest{
		PrescriptionID:  o.PrescriptionID,
		AddressOverride: &addr,
		ReplacementOf:   o.ID,
	})
	if err != nil {
		r.surrender(ctx, key)
		return nil, fmt.Errorf("replacement assignment: %w", err)
	}
	if !result.Assigned {
		// The source order is already terminal, so a consumed claim here
		// would block the replacement forever. Free it for the next trigger.
		r.surrender(ctx, key)
	}
	return result, nil
}

// surrender frees a claimed replacement key whose order was not created.
func (r *Returns) surrender(ctx context.Context, key string) {
	if r.inbox == nil || key == "" {
		return
	}
	if err := r.inbox.Release(ctx, key); err != nil {
		r.logger.Error("replacement key release failed", zap.String("key", key), zap.Error(err))
	}
}
