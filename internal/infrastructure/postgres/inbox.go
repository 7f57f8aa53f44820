package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medrova/go-fulfillment/pkg/idempotency"
)

// Inbox implements idempotency.Inbox on PostgreSQL. Claiming a key is a
// single INSERT ... ON CONFLICT DO NOTHING, so exactly one of any set of
// concurrent claimants wins across all service instances.
type Inbox struct {
	pool *pgxpool.Pool
}

var _ idempotency.Inbox = (*Inbox)(nil)

// NewInbox creates an inbox over the pool.
func NewInbox(pool *pgxpool.Pool) *Inbox {
	return &Inbox{pool: pool}
}

// Begin claims the key for the named handler. Returns false when the key
// was already claimed.
func (i *Inbox) Begin(ctx context.Context, key, handler string) (bool, error) {
	tag, err := i.pool.Exec(ctx, `
		INSERT INTO idempotency_keys (key, handler) VALUES ($1, $2)
		ON CONFLICT (key) DO NOTHING
	`, key, handler)
	if err != nil {
		return false, fmt.Errorf("claim idempotency key: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Release frees a claimed key so a later Begin can win it again.
func (i *Inbox) Release(ctx context.Context, key string) error {
	if _, err := i.pool.Exec(ctx, `
		DELETE FROM idempotency_keys WHERE key = $1
	`, key); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
