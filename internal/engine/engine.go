// Package engine implements the pharmacy order fulfillment core:
// assignment, the staff workflow, delivery tracking, SLA monitoring,
// returns and exceptions, and refill scheduling. All persistence goes
// through the store contracts; all side effects go through the notify
// contracts fire-and-forget.
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/medrova/go-fulfillment/internal/notify"
)

// sendQuiet delivers a notification fire-and-forget. Failures are logged
// and never propagated; callers must not couple their success path to it.
func sendQuiet(ctx context.Context, logger *zap.Logger, notifier notify.Notifier, n notify.Notification) {
	if notifier == nil {
		return
	}
	if err := notifier.Send(ctx, n); err != nil {
		logger.Warn("notification send failed",
			zap.String("event", string(n.Event)),
			zap.String("recipient", n.RecipientID),
			zap.Error(err))
	}
}

// alertQuiet raises an operator alert fire-and-forget.
func alertQuiet(ctx context.Context, logger *zap.Logger, alerter notify.OperatorAlerter, a notify.Alert) {
	if alerter == nil {
		return
	}
	if err := alerter.Alert(ctx, a); err != nil {
		logger.Warn("operator alert failed",
			zap.String("code", string(a.Code)),
			zap.String("order_id", a.OrderID),
			zap.Error(err))
	}
}

// utcNow is the default clock; components take an overridable clock so
// SLA and return-window logic is testable.
func utcNow() time.Time { return time.Now().UTC() }
