package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/medrova/go-fulfillment/internal/notify"
)

// OutboxEntry is one durable outbound message awaiting relay.
type OutboxEntry struct {
	ID          int64
	Kind        string // "notification" or "alert"
	Topic       string
	Key         string
	Payload     json.RawMessage
	CreatedAt   time.Time
	ProcessedAt *time.Time
	RetryCount  int
	LastError   *string
}

// OutboxNotifier is the durable implementation of the notification
// boundary. Send and Alert insert a row; the relay drains rows to the
// broker. Used where delivery must survive a process crash.
type OutboxNotifier struct {
	pool   *pgxpool.Pool
	config notify.DispatcherConfig
}

var (
	_ notify.Notifier        = (*OutboxNotifier)(nil)
	_ notify.OperatorAlerter = (*OutboxNotifier)(nil)
)

// NewOutboxNotifier creates a notifier writing to the outbox table.
func NewOutboxNotifier(pool *pgxpool.Pool, cfg notify.DispatcherConfig) *OutboxNotifier {
	return &OutboxNotifier{pool: pool, config: cfg}
}

// Send persists a notification for relay.
func (n *OutboxNotifier) Send(ctx context.Context, msg notify.Notification) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return n.write(ctx, "notification", n.config.NotificationTopic, msg.RecipientID, payload)
}

// Alert persists an operator alert for relay.
func (n *OutboxNotifier) Alert(ctx context.Context, a notify.Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	return n.write(ctx, "alert", n.config.AlertTopic, string(a.Code), payload)
}

func (n *OutboxNotifier) write(ctx context.Context, kind, topic, key string, payload []byte) error {
	_, err := n.pool.Exec(ctx, `
		INSERT INTO notification_outbox (kind, topic, key, payload)
		VALUES ($1, $2, $3, $4)
	`, kind, topic, key, payload)
	if err != nil {
		return fmt.Errorf("write outbox entry: %w", err)
	}
	return nil
}

// OutboxPublisher is the downstream the relay publishes entries to.
type OutboxPublisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// OutboxConfig holds relay polling behavior.
type OutboxConfig struct {
	BatchSize    int
	PollInterval time.Duration
	// MaxRetries caps per-entry publish attempts; exhausted entries are
	// left pending for operator inspection.
	MaxRetries int
}

// DefaultOutboxConfig returns relay defaults.
func DefaultOutboxConfig() OutboxConfig {
	return OutboxConfig{
		BatchSize:    100,
		PollInterval: 250 * time.Millisecond,
		MaxRetries:   5,
	}
}

// Outbox drains the outbox table to a publisher. A single advisory lock
// keeps concurrent relay instances from double-publishing a batch.
type Outbox struct {
	pool      *pgxpool.Pool
	config    OutboxConfig
	publisher OutboxPublisher
	logger    *zap.Logger
	tracer    trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// outboxLockID is the advisory lock shared by relay instances.
const outboxLockID = int64(7741201)

// NewOutbox creates a relay processor.
func NewOutbox(pool *pgxpool.Pool, publisher OutboxPublisher, cfg OutboxConfig, logger *zap.Logger) *Outbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Outbox{
		pool:      pool,
		config:    cfg,
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer("notification-outbox"),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Start begins polling for pending entries.
func (o *Outbox) Start() {
	go o.processLoop()
	o.logger.Info("outbox relay started",
		zap.Int("batch_size", o.config.BatchSize),
		zap.Duration("poll_interval", o.config.PollInterval))
}

// Stop halts polling and waits for the loop to exit.
func (o *Outbox) Stop() {
	o.cancel()
	<-o.done
	o.logger.Info("outbox relay stopped")
}

func (o *Outbox) processLoop() {
	defer close(o.done)

	ticker := time.NewTicker(o.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.processBatch()
		}
	}
}

func (o *Outbox) processBatch() {
	ctx, span := o.tracer.Start(o.ctx, "outbox_process_batch")
	defer span.End()

	var acquired bool
	err := o.pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", outboxLockID).Scan(&acquired)
	if err != nil || !acquired {
		return
	}
	defer o.pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", outboxLockID)

	entries, err := o.fetchPending(ctx)
	if err != nil {
		o.logger.Error("failed to fetch outbox entries", zap.Error(err))
		span.RecordError(err)
		return
	}
	if len(entries) == 0 {
		return
	}
	span.SetAttributes(attribute.Int("batch_size", len(entries)))

	for _, entry := range entries {
		if err := o.processEntry(ctx, entry); err != nil {
			o.logger.Error("failed to relay outbox entry",
				zap.Int64("id", entry.ID),
				zap.String("topic", entry.Topic),
				zap.Error(err))
		}
	}
}

func (o *Outbox) fetchPending(ctx context.Context) ([]*OutboxEntry, error) {
	rows, err := o.pool.Query(ctx, `
		SELECT id, kind, topic, key, payload, created_at, retry_count, last_error
		FROM notification_outbox
		WHERE processed_at IS NULL
		  AND retry_count < $1
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, o.config.MaxRetries, o.config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var entries []*OutboxEntry
	for rows.Next() {
		entry := &OutboxEntry{}
		err := rows.Scan(
			&entry.ID, &entry.Kind, &entry.Topic, &entry.Key,
			&entry.Payload, &entry.CreatedAt, &entry.RetryCount, &entry.LastError,
		)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (o *Outbox) processEntry(ctx context.Context, entry *OutboxEntry) error {
	ctx, span := o.tracer.Start(ctx, "outbox_relay_entry",
		trace.WithAttributes(
			attribute.Int64("entry_id", entry.ID),
			attribute.String("kind", entry.Kind),
			attribute.String("topic", entry.Topic),
		))
	defer span.End()

	if err := o.publisher.Publish(ctx, entry.Topic, entry.Key, entry.Payload); err != nil {
		errStr := err.Error()
		if _, updateErr := o.pool.Exec(ctx, `
			UPDATE notification_outbox
			SET retry_count = retry_count + 1, last_error = $1
			WHERE id = $2
		`, errStr, entry.ID); updateErr != nil {
			o.logger.Error("failed to update retry count", zap.Error(updateErr))
		}
		span.RecordError(err)
		return fmt.Errorf("publish failed: %w", err)
	}

	if _, err := o.pool.Exec(ctx,
		`UPDATE notification_outbox SET processed_at = NOW() WHERE id = $1`, entry.ID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to mark processed: %w", err)
	}
	return nil
}

// CleanupProcessed removes relayed entries older than the retention window.
func (o *Outbox) CleanupProcessed(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := o.pool.Exec(ctx, `
		DELETE FROM notification_outbox
		WHERE processed_at IS NOT NULL
		  AND processed_at < NOW() - $1::interval
	`, olderThan.String())
	if err != nil {
		return 0, fmt.Errorf("cleanup failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PendingCount returns the number of entries awaiting relay.
func (o *Outbox) PendingCount(ctx context.Context) (int64, error) {
	var n int64
	err := o.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notification_outbox WHERE processed_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("pending count: %w", err)
	}
	return n, nil
}
