package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/medrova/go-fulfillment/internal/domain/order"
	"github.com/medrova/go-fulfillment/internal/errs"
	"github.com/medrova/go-fulfillment/internal/notify"
	"github.com/medrova/go-fulfillment/internal/observability/metrics"
	"github.com/medrova/go-fulfillment/internal/store"
)

// maxDeliveryAttempts is the failure count at which a non-cold-chain order
// stops being reattempted. Cold-chain orders never reattempt.
const maxDeliveryAttempts = 2

// Delivery implements dispatch, courier status updates, OTP-gated
// confirmation, and the failure/reattempt policy.
type Delivery struct {
	orders     store.OrderStore
	pharmacies store.PharmacyStore
	notifier   notify.Notifier
	alerter    notify.OperatorAlerter
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewDelivery wires the delivery tracker.
func NewDelivery(orders store.OrderStore, pharmacies store.PharmacyStore, notifier notify.Notifier, alerter notify.OperatorAlerter, m *metrics.Metrics, logger *zap.Logger) *Delivery {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Delivery{
		orders:     orders,
		pharmacies: pharmacies,
		notifier:   notifier,
		alerter:    alerter,
		metrics:    m,
		logger:     logger,
		now:        utcNow,
	}
}

// Dispatch hands the order to a courier: OUT_FOR_DELIVERY, a fresh
// tracking entry, and an OTP reminder to the patient. Also used to
// redispatch after a non-terminal failed attempt.
func (d *Delivery) Dispatch(ctx context.Context, orderID string) (*order.Order, error) {
	o, err := d.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	prior, err := d.orders.CountTracking(ctx, o.ID)
	if err != nil {
		return nil, fmt.Errorf("count tracking: %w", err)
	}

	expected := o.Status
	now := d.now()
	if err := o.Transition(order.StatusOutForDelivery, now); err != nil {
		return nil, err
	}
	if err := d.orders.UpdateOrder(ctx, o, expected); err != nil {
		return nil, err
	}
	if err := d.orders.AddTracking(ctx, order.NewTrackingEntry(o, prior+1, now)); err != nil {
		return nil, fmt.Errorf("add tracking: %w", err)
	}

	sendQuiet(ctx, d.logger, d.notifier, notify.NewNotification(
		o.PatientID, notify.RolePatient, notify.ChannelPush, notify.EventOrderOutForDelivery,
		"Order out for delivery",
		fmt.Sprintf("Your order is on its way. Share OTP %s with the courier on arrival.", o.DeliveryOTP),
		map[string]string{"order_id": o.ID}))

	return o, nil
}

// UpdateStatus updates the latest tracking entry's courier sub-status.
// Arrival triggers an OTP reminder to the patient.
func (d *Delivery) UpdateStatus(ctx context.Context, orderID string, status order.DeliveryStatus) (*order.TrackingEntry, error) {
	o, err := d.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	entry, err := d.orders.LatestTracking(ctx, orderID)
	if err != nil {
		return nil, err
	}

	entry.Status = status
	entry.UpdatedAt = d.now()
	if err := d.orders.UpdateTracking(ctx, entry); err != nil {
		return nil, err
	}

	if status == order.DeliveryArrived {
		sendQuiet(ctx, d.logger, d.notifier, notify.NewNotification(
			o.PatientID, notify.RolePatient, notify.ChannelPush, notify.EventCourierArrived,
			"Courier has arrived",
			fmt.Sprintf("Please hand OTP %s to the courier to receive your order.", o.DeliveryOTP),
			map[string]string{"order_id": o.ID}))
	}

	return entry, nil
}

// ConfirmDelivery validates the OTP and completes the order. A wrong code
// mutates nothing. On success the pharmacy's queue slot is released.
func (d *Delivery) ConfirmDelivery(ctx context.Context, orderID, code string) (*order.Order, error) {
	o, err := d.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.DeliveryOTP == "" || code != o.DeliveryOTP {
		return nil, errs.InvalidState("delivery code does not match for order %s", orderID)
	}

	expected := o.Status
	now := d.now()
	if err := o.Transition(order.StatusDelivered, now); err != nil {
		return nil, err
	}
	if err := d.orders.UpdateOrder(ctx, o, expected); err != nil {
		return nil, err
	}

	if entry, tErr := d.orders.LatestTracking(ctx, orderID); tErr == nil {
		entry.Status = order.DeliveryDelivered
		entry.OTPVerified = true
		entry.DeliveredAt = &now
		entry.UpdatedAt = now
		if uErr := d.orders.UpdateTracking(ctx, entry); uErr != nil {
			d.logger.Error("tracking update failed after delivery",
				zap.String("order_id", orderID), zap.Error(uErr))
		}
	}

	if err := d.pharmacies.DecrementQueue(ctx, o.PharmacyID); err != nil {
		d.logger.Error("queue decrement failed after delivery",
			zap.String("pharmacy_id", o.PharmacyID), zap.Error(err))
	}

	d.metrics.IncDelivered()
	sendQuiet(ctx, d.logger, d.notifier, notify.NewNotification(
		o.PatientID, notify.RolePatient, notify.ChannelPush, notify.EventOrderDelivered,
		"Order delivered",
		"Your order has been delivered. Get well soon!",
		map[string]string{"order_id": o.ID}))

	return o, nil
}

// ReportFailure records a failed delivery attempt. Cold-chain orders never
// reattempt; everything else gets one more try before the terminal
// failure. Terminal failures always alert operations.
func (d *Delivery) ReportFailure(ctx context.Context, orderID, reason string) (*order.Order, error) {
	o, err := d.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	now := d.now()
	o.DeliveryAttempts++

	terminal := o.ColdChain || o.DeliveryAttempts >= maxDeliveryAttempts
	next := order.StatusDeliveryAttempted
	if terminal {
		next = order.StatusDeliveryFailed
	}

	expected := o.Status
	if err := o.Transition(next, now); err != nil {
		return nil, err
	}
	if err := d.orders.UpdateOrder(ctx, o, expected); err != nil {
		return nil, err
	}

	if entry, tErr := d.orders.LatestTracking(ctx, orderID); tErr == nil {
		entry.Status = order.DeliveryFailed
		entry.FailureReason = reason
		entry.UpdatedAt = now
		if uErr := d.orders.UpdateTracking(ctx, entry); uErr != nil {
			d.logger.Error("tracking update failed after delivery failure",
				zap.String("order_id", orderID), zap.Error(uErr))
		}
	}

	if terminal {
		d.metrics.IncDeliveryFailed()
		severity := notify.SeverityWarning
		if o.ColdChain {
			severity = notify.SeverityCritical
		}
		alertQuiet(ctx, d.logger, d.alerter, notify.NewAlert(
			notify.AlertDeliveryFailed, severity,
			fmt.Sprintf("delivery failed for order %s after %d attempt(s): %s", o.ID, o.DeliveryAttempts, reason),
			o.ID, o.PharmacyID))
	}

	return o, nil
}

// UpdateAddress changes the delivery address. Allowed only before dispatch
// and only by the patient who owns the order.
func (d *Delivery) UpdateAddress(ctx context.Context, orderID, patientID string, addr order.Address) (*order.Order, error) {
	o, err := d.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.PatientID != patientID {
		return nil, errs.Forbidden("order %s does not belong to patient %s", orderID, patientID)
	}
	if !o.PreDispatch() {
		return nil, errs.InvalidState("address can no longer change for order %s (status %s)", o.ID, o.Status)
	}

	o.Address = addr
	if err := d.orders.UpdateOrder(ctx, o, o.Status); err != nil {
		return nil, err
	}
	return o, nil
}
