package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/medrova/go-fulfillment/internal/domain/order"
	"github.com/medrova/go-fulfillment/internal/domain/refill"
	"github.com/medrova/go-fulfillment/internal/errs"
	"github.com/medrova/go-fulfillment/internal/notify"
	"github.com/medrova/go-fulfillment/internal/observability/metrics"
	"github.com/medrova/go-fulfillment/internal/store"
	"github.com/medrova/go-fulfillment/pkg/idempotency"
)

// refillLookahead is how far ahead of the due date a refill order is
// created.
const refillLookahead = 5 * 24 * time.Hour

// RefillScheduler creates recurring orders ahead of each subscription's
// due date.
type RefillScheduler struct {
	subs     store.SubscriptionStore
	rx       store.PrescriptionLookup
	assigner *Assignment
	inbox    idempotency.Inbox
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewRefillScheduler wires the scheduler. The inbox may be nil.
func NewRefillScheduler(subs store.SubscriptionStore, rx store.PrescriptionLookup, assigner *Assignment, inbox idempotency.Inbox, notifier notify.Notifier, m *metrics.Metrics, logger *zap.Logger) *RefillScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RefillScheduler{
		subs:     subs,
		rx:       rx,
		assigner: assigner,
		inbox:    inbox,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		now:      utcNow,
	}
}

// Scan processes every subscription due within the look-ahead window.
// A single subscription's failure never aborts the rest of the batch.
func (r *RefillScheduler) Scan(ctx context.Context) (created int, err error) {
	due, err := r.subs.ListDueSubscriptions(ctx, r.now().Add(refillLookahead))
	if err != nil {
		return 0, fmt.Errorf("list due subscriptions: %w", err)
	}

	for _, sub := range due {
		ok, perr := r.process(ctx, sub)
		if perr != nil {
			r.logger.Error("refill processing failed",
				zap.String("subscription_id", sub.ID), zap.Error(perr))
			continue
		}
		if ok {
			created++
		}
	}
	return created, nil
}

func (r *RefillScheduler) process(ctx context.Context, sub *refill.Subscription) (bool, error) {
	rx, err := r.rx.GetPrescription(ctx, sub.PrescriptionID)
	if err != nil {
		return false, err
	}

	now := r.now()
	if rx.Expired(now) {
		sub.Active = false
		sub.UpdatedAt = now
		if err := r.subs.UpdateSubscription(ctx, sub); err != nil {
			return false, fmt.Errorf("deactivate subscription: %w", err)
		}
		sendQuiet(ctx, r.logger, r.notifier, notify.NewNotification(
			sub.PatientID, notify.RolePatient, notify.ChannelPush, notify.EventRefillSkipped,
			"Refill paused",
			"Your prescription has expired. Please consult your doctor to renew it.",
			map[string]string{"subscription_id": sub.ID}))
		sendQuiet(ctx, r.logger, r.notifier, notify.NewNotification(
			rx.PrescriberID, notify.RoleDoctor, notify.ChannelInApp, notify.EventRefillSkipped,
			"Patient refill blocked by expired prescription",
			fmt.Sprintf("Prescription %s expired; patient %s has an active refill subscription.", rx.ID, sub.PatientID),
			map[string]string{"subscription_id": sub.ID}))
		return false, nil
	}

	var key string
	if r.inbox != nil {
		key = idempotency.Key("refill", sub.ID, sub.NextDueDate.UTC().Format(time.RFC3339))
		claimed, err := r.inbox.Begin(ctx, key, "refill-scheduler")
		if err != nil {
			return false, fmt.Errorf("claim refill key: %w", err)
		}
		if !claimed {
			return false, nil
		}
	}

	result, err := r.assigner.Assign(ctx, AssignRequest{
		PrescriptionID:  sub.PrescriptionID,
		AddressOverride: &sub.DeliveryAddress,
	})
	if err != nil {
		r.surrender(ctx, key)
		return false, err
	}
	if !result.Assigned {
		// The assignment engine already alerted; surrendering the claim
		// keeps the subscription due so the next scan retries it.
		r.surrender(ctx, key)
		return false, nil
	}

	sub.Advance(result.Order.ID, now)
	if err := r.subs.UpdateSubscription(ctx, sub); err != nil {
		return false, fmt.Errorf("advance subscription: %w", err)
	}

	r.metrics.IncRefill()
	r.logger.Info("refill order created",
		zap.String("subscription_id", sub.ID),
		zap.String("order_id", result.Order.ID))
	return true, nil
}

// surrender frees a claimed refill key whose order was not created.
func (r *RefillScheduler) surrender(ctx context.Context, key string) {
	if r.inbox == nil || key == "" {
		return
	}
	if err := r.inbox.Release(ctx, key); err != nil {
		r.logger.Error("refill key release failed", zap.String("key", key), zap.Error(err))
	}
}

// CreateSubscription validates ownership against the prescription and
// stores a new active subscription due one interval from now. The
// delivery address is kept on the subscription and stamped onto every
// refill order it creates.
func (r *RefillScheduler) CreateSubscription(ctx context.Context, patientID, prescriptionID string, intervalDays int, addr order.Address) (*refill.Subscription, error) {
	if intervalDays <= 0 {
		return nil, errs.InvalidState("refill interval must be positive")
	}
	if addr.Line1 == "" || addr.Pincode == "" {
		return nil, errs.InvalidState("delivery address requires line1 and pincode")
	}
	rx, err := r.rx.GetPrescription(ctx, prescriptionID)
	if err != nil {
		return nil, err
	}
	if rx.PatientID != patientID {
		return nil, errs.Forbidden("prescription %s does not belong to patient %s", prescriptionID, patientID)
	}
	if rx.Expired(r.now()) {
		return nil, errs.InvalidState("prescription %s has expired", prescriptionID)
	}

	now := r.now()
	sub := refill.New(patientID, prescriptionID, intervalDays, addr, now.AddDate(0, 0, intervalDays), now)
	if err := r.subs.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// CancelSubscription deactivates a subscription at the owner's request.
func (r *RefillScheduler) CancelSubscription(ctx context.Context, subscriptionID, patientID string) (*refill.Subscription, error) {
	sub, err := r.subs.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.PatientID != patientID {
		return nil, errs.Forbidden("subscription %s does not belong to patient %s", subscriptionID, patientID)
	}
	if !sub.Active {
		return sub, nil
	}
	sub.Active = false
	sub.UpdatedAt = r.now()
	if err := r.subs.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}
