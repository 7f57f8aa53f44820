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

// SLALimits are the per-phase limits in hours.
type SLALimits struct {
	AcceptanceHrs        float64
	PreparationHrs       float64
	DeliveryHrs          float64
	ColdChainDeliveryHrs float64
	OverallSoftHrs       float64
	OverallHardHrs       float64
}

// DefaultSLALimits returns the contractual limits.
func DefaultSLALimits() SLALimits {
	return SLALimits{
		AcceptanceHrs:        4,
		PreparationHrs:       4,
		DeliveryHrs:          6,
		ColdChainDeliveryHrs: 2,
		OverallSoftHrs:       24,
		OverallHardHrs:       48,
	}
}

// SLAMonitor periodically scans non-terminal orders, records breaches
// idempotently per (order, breach type), and alerts operations once per
// newly detected breach.
type SLAMonitor struct {
	orders  store.OrderStore
	alerter notify.OperatorAlerter
	limits  SLALimits
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewSLAMonitor wires the monitor.
func NewSLAMonitor(orders store.OrderStore, alerter notify.OperatorAlerter, limits SLALimits, m *metrics.Metrics, logger *zap.Logger) *SLAMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SLAMonitor{
		orders:  orders,
		alerter: alerter,
		limits:  limits,
		metrics: m,
		logger:  logger,
		now:     utcNow,
	}
}

// Scan evaluates every active order. Per-order failures are isolated so
// one bad record cannot block the batch. Returns the number of newly
// recorded breaches.
func (s *SLAMonitor) Scan(ctx context.Context) (int, error) {
	active, err := s.orders.ListActiveOrders(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active orders: %w", err)
	}

	recorded := 0
	for _, o := range active {
		n, err := s.scanOrder(ctx, o)
		if err != nil {
			s.logger.Error("sla scan failed for order",
				zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		recorded += n
	}
	return recorded, nil
}

func (s *SLAMonitor) scanOrder(ctx context.Context, o *order.Order) (int, error) {
	now := s.now()
	fresh := s.detect(o, now)
	if len(fresh) == 0 {
		return 0, nil
	}

	o.Breaches = append(o.Breaches, fresh...)
	if err := s.orders.UpdateOrder(ctx, o, o.Status); err != nil {
		// A concurrent transition moved the order; the next scan re-detects
		// against the fresh record.
		if errs.KindOf(err) == errs.KindConflict {
			return 0, nil
		}
		return 0, err
	}

	for _, b := range fresh {
		s.metrics.IncBreach(string(b.Type))
		alertQuiet(ctx, s.logger, s.alerter, notify.NewAlert(
			notify.AlertSLABreach, notify.SeverityWarning,
			fmt.Sprintf("order %s breached %s SLA: %.1fh elapsed, limit %.0fh", o.ID, b.Type, b.ElapsedHrs, b.LimitHrs),
			o.ID, o.PharmacyID))
	}
	return len(fresh), nil
}

// detect returns breaches that apply now and are not yet recorded.
// Recording merges by type; a type is added at most once per order.
func (s *SLAMonitor) detect(o *order.Order, now time.Time) []order.BreachRecord {
	var fresh []order.BreachRecord
	add := func(t order.BreachType, start time.Time, limit float64) {
		if o.HasBreach(t) {
			return
		}
		elapsed := now.Sub(start).Hours()
		if elapsed <= limit {
			return
		}
		fresh = append(fresh, order.BreachRecord{
			Type:       t,
			DetectedAt: now,
			ElapsedHrs: elapsed,
			LimitHrs:   limit,
		})
	}

	switch o.Status {
	case order.StatusAssigned:
		if o.AssignedAt != nil {
			add(order.BreachAcceptance, *o.AssignedAt, s.limits.AcceptanceHrs)
		}
	case order.StatusPharmacyAccepted, order.StatusPreparing,
		order.StatusStockIssue, order.StatusAwaitingSubstitutionApproval:
		if o.AcceptedAt != nil {
			add(order.BreachPreparation, *o.AcceptedAt, s.limits.PreparationHrs)
		}
	case order.StatusOutForDelivery, order.StatusDeliveryAttempted:
		if o.DispatchedAt != nil {
			add(order.BreachDelivery, *o.DispatchedAt, s.limits.DeliveryHrs)
			if o.ColdChain {
				add(order.BreachColdChainDelivery, *o.DispatchedAt, s.limits.ColdChainDeliveryHrs)
			}
		}
	}

	add(order.BreachOverallSoft, o.CreatedAt, s.limits.OverallSoftHrs)
	add(order.BreachOverallHard, o.CreatedAt, s.limits.OverallHardHrs)

	return fresh
}

// PhaseRemaining is the time left in one SLA phase, floored at zero.
type PhaseRemaining struct {
	Phase     order.BreachType `json:"phase"`
	Remaining time.Duration    `json:"remaining"`
}

// SLAStatus is the read-only per-order SLA view.
type SLAStatus struct {
	OrderID   string               `json:"order_id"`
	Breaches  []order.BreachRecord `json:"breaches"`
	Remaining []PhaseRemaining     `json:"remaining"`
}

// GetStatus returns recorded breaches and remaining time per applicable
// phase. Remaining time never goes negative.
func (s *SLAMonitor) GetStatus(ctx context.Context, orderID string) (*SLAStatus, error) {
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	status := &SLAStatus{OrderID: o.ID, Breaches: o.Breaches}
	remaining := func(phase order.BreachType, start time.Time, limit float64) {
		left := time.Duration(limit*float64(time.Hour)) - now.Sub(start)
		if left < 0 {
			left = 0
		}
		status.Remaining = append(status.Remaining, PhaseRemaining{Phase: phase, Remaining: left})
	}

	switch o.Status {
	case order.StatusAssigned:
		if o.AssignedAt != nil {
			remaining(order.BreachAcceptance, *o.AssignedAt, s.limits.AcceptanceHrs)
		}
	case order.StatusPharmacyAccepted, order.StatusPreparing,
		order.StatusStockIssue, order.StatusAwaitingSubstitutionApproval:
		if o.AcceptedAt != nil {
			remaining(order.BreachPreparation, *o.AcceptedAt, s.limits.PreparationHrs)
		}
	case order.StatusOutForDelivery, order.StatusDeliveryAttempted:
		if o.DispatchedAt != nil {
			remaining(order.BreachDelivery, *o.DispatchedAt, s.limits.DeliveryHrs)
			if o.ColdChain {
				remaining(order.BreachColdChainDelivery, *o.DispatchedAt, s.limits.ColdChainDeliveryHrs)
			}
		}
	}
	if !order.IsTerminal(o.Status) {
		remaining(order.BreachOverallSoft, o.CreatedAt, s.limits.OverallSoftHrs)
		remaining(order.BreachOverallHard, o.CreatedAt, s.limits.OverallHardHrs)
	}

	return status, nil
}

// PerformanceReport aggregates a pharmacy's fulfillment quality over a
// creation-time window.
type PerformanceReport struct {
	PharmacyID         string    `json:"pharmacy_id"`
	From               time.Time `json:"from"`
	To                 time.Time `json:"to"`
	TotalOrders        int       `json:"total_orders"`
	MeanAcceptanceHrs  float64   `json:"mean_acceptance_hours"`
	MeanPreparationHrs float64   `json:"mean_preparation_hours"`
	RejectionRate      float64   `json:"rejection_rate"`
	TotalBreaches      int       `json:"total_breaches"`
}

// GetPerformanceReport aggregates over orders created in [from, to). An
// empty window yields an all-zero report.
func (s *SLAMonitor) GetPerformanceReport(ctx context.Context, pharmacyID string, from, to time.Time) (*PerformanceReport, error) {
	orders, err := s.orders.ListOrdersByPharmacy(ctx, pharmacyID, from, to)
	if err != nil {
		return nil, err
	}

	report := &PerformanceReport{PharmacyID: pharmacyID, From: from, To: to, TotalOrders: len(orders)}
	if len(orders) == 0 {
		return report, nil
	}

	var acceptSum, prepSum float64
	var acceptN, prepN, rejected int
	for _, o := range orders {
		if o.AssignedAt != nil && o.AcceptedAt != nil {
			acceptSum += o.AcceptedAt.Sub(*o.AssignedAt).Hours()
			acceptN++
		}
		if o.AcceptedAt != nil && o.ReadyForPickupAt != nil {
			prepSum += o.ReadyForPickupAt.Sub(*o.AcceptedAt).Hours()
			prepN++
		}
		if o.RejectedAt != nil {
			rejected++
		}
		report.TotalBreaches += len(o.Breaches)
	}

	if acceptN > 0 {
		report.MeanAcceptanceHrs = acceptSum / float64(acceptN)
	}
	if prepN > 0 {
		report.MeanPreparationHrs = prepSum / float64(prepN)
	}
	report.RejectionRate = float64(rejected) / float64(len(orders))

	return report, nil
}
