package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medrova/go-fulfillment/internal/domain/order"
	"github.com/medrova/go-fulfillment/internal/errs"
	"github.com/medrova/go-fulfillment/internal/store"
)

// OrderStore implements store.OrderStore on PostgreSQL. Nested structures
// (medications, address, stock issue, substitution, damage, breaches) are
// stored as JSONB; the status guard on UpdateOrder gives the optimistic
// concurrency the engine relies on.
type OrderStore struct {
	pool *pgxpool.Pool
}

var _ store.OrderStore = (*OrderStore)(nil)

// NewOrderStore creates an order store over the pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderColumns = `
	id, prescription_id, consultation_id, patient_id, pharmacy_id, status,
	cold_chain, medications, address,
	created_at, assigned_at, accepted_at, rejected_at, preparing_at,
	stock_issue_at, substitution_at, ready_for_pickup_at, dispatched_at,
	delivered_at, cancelled_at,
	delivery_otp, delivery_attempts, discreet_pack,
	stock_issue, substitution, damage, breaches, replacement_of`

// CreateOrder inserts a new order row.
func (s *OrderStore) CreateOrder(ctx context.Context, o *order.Order) error {
	meds, addr, stock, sub, dmg, breaches, err := marshalOrderJSON(o)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6,
		        $7, $8, $9,
		        $10, $11, $12, $13, $14,
		        $15, $16, $17, $18,
		        $19, $20,
		        $21, $22, $23,
		        $24, $25, $26, $27, NULLIF($28, ''))
	`
	_, err = s.pool.Exec(ctx, query,
		o.ID, o.PrescriptionID, o.ConsultationID, o.PatientID, o.PharmacyID, string(o.Status),
		o.ColdChain, meds, addr,
		o.CreatedAt, o.AssignedAt, o.AcceptedAt, o.RejectedAt, o.PreparingAt,
		o.StockIssueAt, o.SubstitutionAt, o.ReadyForPickupAt, o.DispatchedAt,
		o.DeliveredAt, o.CancelledAt,
		o.DeliveryOTP, o.DeliveryAttempts, o.DiscreetPack,
		stock, sub, dmg, breaches, o.ReplacementOf,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetOrder fetches one order by ID.
func (s *OrderStore) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("order %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// UpdateOrder persists the order only if its stored status still matches
// the expected prior status. Zero rows updated means another writer won
// the race and the caller gets a conflict.
func (s *OrderStore) UpdateOrder(ctx context.Context, o *order.Order, expected order.Status) error {
	meds, addr, stock, sub, dmg, breaches, err := marshalOrderJSON(o)
	if err != nil {
		return err
	}

	query := `
		UPDATE orders SET
			pharmacy_id = NULLIF($3, ''), status = $4,
			medications = $5, address = $6,
			assigned_at = $7, accepted_at = $8, rejected_at = $9,
			preparing_at = $10, stock_issue_at = $11, substitution_at = $12,
			ready_for_pickup_at = $13, dispatched_at = $14,
			delivered_at = $15, cancelled_at = $16,
			delivery_otp = $17, delivery_attempts = $18, discreet_pack = $19,
			stock_issue = $20, substitution = $21, damage = $22, breaches = $23,
			updated_at = NOW()
		WHERE id = $1 AND status = $2
	`
	tag, err := s.pool.Exec(ctx, query,
		o.ID, string(expected),
		o.PharmacyID, string(o.Status),
		meds, addr,
		o.AssignedAt, o.AcceptedAt, o.RejectedAt,
		o.PreparingAt, o.StockIssueAt, o.SubstitutionAt,
		o.ReadyForPickupAt, o.DispatchedAt,
		o.DeliveredAt, o.CancelledAt,
		o.DeliveryOTP, o.DeliveryAttempts, o.DiscreetPack,
		stock, sub, dmg, breaches,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.Conflict("order %s is no longer in %s", o.ID, expected)
	}
	return nil
}

// ListActiveOrders returns all orders not in a terminal status.
func (s *OrderStore) ListActiveOrders(ctx context.Context) ([]*order.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE status NOT IN ('CANCELLED', 'DAMAGE_APPROVED', 'RETURN_ACCEPTED', 'COLD_CHAIN_BREACH')
		ORDER BY created_at ASC
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active orders: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

// ListOrdersByPharmacy returns a pharmacy's orders created within [from, to).
func (s *OrderStore) ListOrdersByPharmacy(ctx context.Context, pharmacyID string, from, to time.Time) ([]*order.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE pharmacy_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at ASC
	`
	rows, err := s.pool.Query(ctx, query, pharmacyID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list orders by pharmacy: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

// AddTracking inserts a tracking row for a dispatch attempt.
func (s *OrderStore) AddTracking(ctx context.Context, e *order.TrackingEntry) error {
	query := `
		INSERT INTO delivery_tracking
			(id, order_id, attempt, status, cold_chain, failure_reason,
			 otp_verified, dispatched_at, delivered_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.pool.Exec(ctx, query,
		e.ID, e.OrderID, e.Attempt, string(e.Status), e.ColdChain, e.FailureReason,
		e.OTPVerified, e.DispatchedAt, e.DeliveredAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert tracking: %w", err)
	}
	return nil
}

// LatestTracking returns the most recent tracking row for the order.
func (s *OrderStore) LatestTracking(ctx context.Context, orderID string) (*order.TrackingEntry, error) {
	query := `
		SELECT id, order_id, attempt, status, cold_chain, failure_reason,
		       otp_verified, dispatched_at, delivered_at, updated_at
		FROM delivery_tracking
		WHERE order_id = $1
		ORDER BY attempt DESC
		LIMIT 1
	`
	e := &order.TrackingEntry{}
	var status string
	err := s.pool.QueryRow(ctx, query, orderID).Scan(
		&e.ID, &e.OrderID, &e.Attempt, &status, &e.ColdChain, &e.FailureReason,
		&e.OTPVerified, &e.DispatchedAt, &e.DeliveredAt, &e.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("no tracking for order %s", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("latest tracking: %w", err)
	}
	e.Status = order.DeliveryStatus(status)
	return e, nil
}

// UpdateTracking overwrites a tracking row.
func (s *OrderStore) UpdateTracking(ctx context.Context, e *order.TrackingEntry) error {
	query := `
		UPDATE delivery_tracking
		SET status = $2, failure_reason = $3, otp_verified = $4,
		    delivered_at = $5, updated_at = $6
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query,
		e.ID, string(e.Status), e.FailureReason, e.OTPVerified, e.DeliveredAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update tracking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("tracking entry %s", e.ID)
	}
	return nil
}

// CountTracking returns the number of dispatch attempts recorded.
func (s *OrderStore) CountTracking(ctx context.Context, orderID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM delivery_tracking WHERE order_id = $1`, orderID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count tracking: %w", err)
	}
	return n, nil
}

func marshalOrderJSON(o *order.Order) (meds, addr, stock, sub, dmg, breaches []byte, err error) {
	if meds, err = json.Marshal(o.Medications); err != nil {
		return nil, nil, nil, nil, nil, nil, fmt.Errorf("marshal medications: %w", err)
	}
	if addr, err = json.Marshal(o.Address); err != nil {
		return nil, nil, nil, nil, nil, nil, fmt.Errorf("marshal address: %w", err)
	}
	if o.StockIssue != nil {
		if stock, err = json.Marshal(o.StockIssue); err != nil {
			return nil, nil, nil, nil, nil, nil, fmt.Errorf("marshal stock issue: %w", err)
		}
	}
	if o.Substitution != nil {
		if sub, err = json.Marshal(o.Substitution); err != nil {
			return nil, nil, nil, nil, nil, nil, fmt.Errorf("marshal substitution: %w", err)
		}
	}
	if o.Damage != nil {
		if dmg, err = json.Marshal(o.Damage); err != nil {
			return nil, nil, nil, nil, nil, nil, fmt.Errorf("marshal damage: %w", err)
		}
	}
	if len(o.Breaches) > 0 {
		if breaches, err = json.Marshal(o.Breaches); err != nil {
			return nil, nil, nil, nil, nil, nil, fmt.Errorf("marshal breaches: %w", err)
		}
	}
	return meds, addr, stock, sub, dmg, breaches, nil
}

func scanOrder(row pgx.Row) (*order.Order, error) {
	o := &order.Order{}
	var (
		pharmacyID, replacementOf         *string
		status                            string
		meds, addr, stock, sub, dmg, brch []byte
	)
	err := row.Scan(
		&o.ID, &o.PrescriptionID, &o.ConsultationID, &o.PatientID, &pharmacyID, &status,
		&o.ColdChain, &meds, &addr,
		&o.CreatedAt, &o.AssignedAt, &o.AcceptedAt, &o.RejectedAt, &o.PreparingAt,
		&o.StockIssueAt, &o.SubstitutionAt, &o.ReadyForPickupAt, &o.DispatchedAt,
		&o.DeliveredAt, &o.CancelledAt,
		&o.DeliveryOTP, &o.DeliveryAttempts, &o.DiscreetPack,
		&stock, &sub, &dmg, &brch, &replacementOf,
	)
	if err != nil {
		return nil, err
	}

	o.Status = order.Status(status)
	if pharmacyID != nil {
		o.PharmacyID = *pharmacyID
	}
	if replacementOf != nil {
		o.ReplacementOf = *replacementOf
	}
	if err := json.Unmarshal(meds, &o.Medications); err != nil {
		return nil, fmt.Errorf("unmarshal medications: %w", err)
	}
	if err := json.Unmarshal(addr, &o.Address); err != nil {
		return nil, fmt.Errorf("unmarshal address: %w", err)
	}
	if len(stock) > 0 {
		if err := json.Unmarshal(stock, &o.StockIssue); err != nil {
			return nil, fmt.Errorf("unmarshal stock issue: %w", err)
		}
	}
	if len(sub) > 0 {
		if err := json.Unmarshal(sub, &o.Substitution); err != nil {
			return nil, fmt.Errorf("unmarshal substitution: %w", err)
		}
	}
	if len(dmg) > 0 {
		if err := json.Unmarshal(dmg, &o.Damage); err != nil {
			return nil, fmt.Errorf("unmarshal damage: %w", err)
		}
	}
	if len(brch) > 0 {
		if err := json.Unmarshal(brch, &o.Breaches); err != nil {
			return nil, fmt.Errorf("unmarshal breaches: %w", err)
		}
	}
	return o, nil
}

func collectOrders(rows pgx.Rows) ([]*order.Order, error) {
	var out []*order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
