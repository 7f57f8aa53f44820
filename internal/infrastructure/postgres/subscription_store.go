package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medrova/go-fulfillment/internal/domain/refill"
	"github.com/medrova/go-fulfillment/internal/errs"
	"github.com/medrova/go-fulfillment/internal/store"
)

// SubscriptionStore implements store.SubscriptionStore on PostgreSQL.
type SubscriptionStore struct {
	pool *pgxpool.Pool
}

var _ store.SubscriptionStore = (*SubscriptionStore)(nil)

// NewSubscriptionStore creates a subscription store over the pool.
func NewSubscriptionStore(pool *pgxpool.Pool) *SubscriptionStore {
	return &SubscriptionStore{pool: pool}
}

const subscriptionColumns = `
	id, patient_id, prescription_id, interval_days, next_due_date,
	refills_created, active, last_order_id, delivery_address, created_at, updated_at`

// CreateSubscription inserts a new subscription row.
func (s *SubscriptionStore) CreateSubscription(ctx context.Context, sub *refill.Subscription) error {
	addr, err := json.Marshal(sub.DeliveryAddress)
	if err != nil {
		return fmt.Errorf("marshal delivery address: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO refill_subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, sub.ID, sub.PatientID, sub.PrescriptionID, sub.IntervalDays, sub.NextDueDate,
		sub.RefillsCreated, sub.Active, sub.LastOrderID, addr, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

// GetSubscription fetches one subscription by ID.
func (s *SubscriptionStore) GetSubscription(ctx context.Context, id string) (*refill.Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM refill_subscriptions WHERE id = $1`, id)
	sub, err := scanSubscription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("subscription %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

// UpdateSubscription overwrites a subscription row.
func (s *SubscriptionStore) UpdateSubscription(ctx context.Context, sub *refill.Subscription) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE refill_subscriptions
		SET next_due_date = $2, refills_created = $3, active = $4,
		    last_order_id = $5, updated_at = $6
		WHERE id = $1
	`, sub.ID, sub.NextDueDate, sub.RefillsCreated, sub.Active, sub.LastOrderID, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("subscription %s", sub.ID)
	}
	return nil
}

// ListDueSubscriptions returns active subscriptions due at or before the cutoff.
func (s *SubscriptionStore) ListDueSubscriptions(ctx context.Context, cutoff time.Time) ([]*refill.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM refill_subscriptions
		WHERE active AND next_due_date <= $1
		ORDER BY next_due_date ASC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list due subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*refill.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func scanSubscription(row pgx.Row) (*refill.Subscription, error) {
	sub := &refill.Subscription{}
	var addr []byte
	err := row.Scan(
		&sub.ID, &sub.PatientID, &sub.PrescriptionID, &sub.IntervalDays, &sub.NextDueDate,
		&sub.RefillsCreated, &sub.Active, &sub.LastOrderID, &addr, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(addr) > 0 {
		if err := json.Unmarshal(addr, &sub.DeliveryAddress); err != nil {
			return nil, fmt.Errorf("unmarshal delivery address: %w", err)
		}
	}
	return sub, nil
}
