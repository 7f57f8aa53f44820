package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/medrova/go-fulfillment/internal/observability/metrics"
	"github.com/medrova/go-fulfillment/pkg/circuitbreaker"
	"github.com/medrova/go-fulfillment/pkg/workerpool"
)

// Publisher is the downstream the dispatcher hands messages to, typically
// the Redpanda producer.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// DispatcherConfig names the outbound topics.
type DispatcherConfig struct {
	NotificationTopic string
	AlertTopic        string
	Pool              workerpool.Config
}

// DefaultDispatcherConfig returns the standard topic names.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		NotificationTopic: "fulfillment.notifications",
		AlertTopic:        "fulfillment.alerts",
		Pool:              workerpool.DefaultConfig(),
	}
}

// Dispatcher is the one-way outbound queue between the transactional core
// and the delivery channels. Send and Alert enqueue without blocking;
// worker goroutines publish through a per-topic circuit breaker, and
// failures are retried by the pool, then logged and dropped. The engine
// never observes a downstream failure.
type Dispatcher struct {
	config   DispatcherConfig
	pub      Publisher
	breakers *circuitbreaker.Manager
	pool     *workerpool.Pool
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

var (
	_ Notifier        = (*Dispatcher)(nil)
	_ OperatorAlerter = (*Dispatcher)(nil)
)

type outbound struct {
	topic string
	key   string
	value []byte
}

// NewDispatcher creates a dispatcher; Start launches the workers.
func NewDispatcher(cfg DispatcherConfig, pub Publisher, m *metrics.Metrics, logger *zap.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{
		config:   cfg,
		pub:      pub,
		breakers: circuitbreaker.NewManager(logger),
		metrics:  m,
		logger:   logger,
	}

	pool, err := workerpool.New(cfg.Pool, d.deliver, logger)
	if err != nil {
		return nil, fmt.Errorf("dispatcher pool: %w", err)
	}
	d.pool = pool
	return d, nil
}

// Start launches the delivery workers.
func (d *Dispatcher) Start() { d.pool.Start() }

// Stop drains the queue and stops the workers.
func (d *Dispatcher) Stop() { d.pool.Stop() }

// Send enqueues a notification. Never blocks; a full queue drops the
// message with a log line.
func (d *Dispatcher) Send(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	d.enqueue(n.ID, outbound{topic: d.config.NotificationTopic, key: n.RecipientID, value: payload})
	return nil
}

// Alert enqueues an operator alert. Same non-blocking contract as Send.
func (d *Dispatcher) Alert(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	d.enqueue(a.ID, outbound{topic: d.config.AlertTopic, key: string(a.Code), value: payload})
	return nil
}

func (d *Dispatcher) enqueue(id string, msg outbound) {
	if err := d.pool.Submit(&workerpool.Task{ID: id, Payload: msg}); err != nil {
		d.metrics.IncDropped()
		d.logger.Error("outbound message dropped",
			zap.String("topic", msg.topic),
			zap.String("id", id),
			zap.Error(err))
		return
	}
	d.metrics.IncEnqueued()
}

func (d *Dispatcher) deliver(ctx context.Context, task *workerpool.Task) *workerpool.Result {
	msg, ok := task.Payload.(outbound)
	if !ok {
		return &workerpool.Result{TaskID: task.ID, Success: false, Error: fmt.Errorf("unexpected payload type %T", task.Payload)}
	}

	breaker := d.breakers.GetOrCreate(msg.topic)
	err := breaker.Execute(ctx, func() error {
		return d.pub.Publish(ctx, msg.topic, msg.key, msg.value)
	})
	if err != nil {
		return &workerpool.Result{TaskID: task.ID, Success: false, Error: err}
	}
	return &workerpool.Result{TaskID: task.ID, Success: true}
}
