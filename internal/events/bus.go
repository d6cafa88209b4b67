package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/greenledger/qagate/internal/logging"
	"github.com/greenledger/qagate/internal/observability/metrics"
)

// Handler processes one delivery. Returning a non-nil error nacks the message:
// it is redelivered with backoff unless the error is Permanent or the attempt
// cap is reached, in which case it is dead-lettered.
type Handler func(ctx context.Context, msg *Message) error

// Config holds bus configuration
type Config struct {
	BufferSize     int           // per-queue buffer size
	Workers        int           // workers per queue
	MaxAttempts    int           // delivery attempts before dead-lettering
	BackoffInitial time.Duration // first redelivery delay
	BackoffMax     time.Duration // redelivery delay cap
}

// DefaultConfig returns the default bus configuration
func DefaultConfig() *Config {
	return &Config{
		BufferSize:     4096,
		Workers:        4,
		MaxAttempts:    5,
		BackoffInitial: 200 * time.Millisecond,
		BackoffMax:     30 * time.Second,
	}
}

// Stats carries bus counters.
type Stats struct {
	Published     uint64
	Processed     uint64
	Redelivered   uint64
	DeadLettered  uint64
	Dropped       uint64
	HandlerErrors uint64
}

// queue is one durable subscriber queue bound to a topic.
type queue struct {
	name    string
	topic   string
	ch      chan *Message
	handler Handler
}

// Bus provides asynchronous fanout delivery over named topics. Every queue
// bound to a topic receives its own copy of every message published to it.
type Bus struct {
	config Config

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	mu     sync.RWMutex
	queues map[string][]*queue // topic -> bound queues
	byName map[string]*queue   // queue name -> queue

	stats   Stats
	metrics *metrics.BusMetrics
	logger  *slog.Logger
}

// NewBus creates a running bus. busMetrics may be nil.
func NewBus(config *Config, busMetrics *metrics.BusMetrics) *Bus {
	if config == nil {
		config = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	b := &Bus{
		config:  *config,
		ctx:     ctx,
		cancel:  cancel,
		queues:  make(map[string][]*queue),
		byName:  make(map[string]*queue),
		metrics: busMetrics,
		logger:  logging.ForService("events"),
	}
	if b.logger == nil {
		b.logger = slog.Default().With("service", "events")
	}
	b.running.Store(true)

	b.logger.Info("event bus started",
		"buffer_size", config.BufferSize,
		"workers", config.Workers,
		"max_attempts", config.MaxAttempts,
	)

	return b
}

// Subscribe binds a named queue to a topic and starts its workers.
// Queue names are unique across the bus; every queue bound to the same topic
// receives every message published on it.
func (b *Bus) Subscribe(topic, queueName string, handler Handler) error {
	if b == nil || !b.running.Load() {
		return fmt.Errorf("event bus not running")
	}
	if topic == "" || queueName == "" {
		return fmt.Errorf("topic and queue name must not be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler must not be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.byName[queueName]; exists {
		return fmt.Errorf("queue %s already subscribed", queueName)
	}

	q := &queue{
		name:    queueName,
		topic:   topic,
		ch:      make(chan *Message, b.config.BufferSize),
		handler: handler,
	}
	b.queues[topic] = append(b.queues[topic], q)
	b.byName[queueName] = q

	for i := 0; i < b.config.Workers; i++ {
		b.wg.Add(1)
		go b.worker(q, i)
	}

	b.logger.Info("queue subscribed",
		"topic", topic,
		"queue", queueName,
		"workers", b.config.Workers,
	)

	return nil
}

// encode marshals a payload unless it already is raw JSON bytes.
func encode(payload any) ([]byte, error) {
	if raw, ok := payload.([]byte); ok {
		return raw, nil
	}
	return json.Marshal(payload)
}

// Publish delivers payload to every queue bound to topic, blocking until each
// queue accepted the message or ctx is done. Used where loss is not acceptable.
func (b *Bus) Publish(ctx context.Context, topic string, payload any) error {
	if b == nil || !b.running.Load() {
		return fmt.Errorf("event bus not running")
	}

	body, err := encode(payload)
	if err != nil {
		return fmt.Errorf("encoding payload for topic %s: %w", topic, err)
	}

	b.mu.RLock()
	bound := make([]*queue, len(b.queues[topic]))
	copy(bound, b.queues[topic])
	b.mu.RUnlock()

	id := uuid.NewString()
	now := time.Now()

	for _, q := range bound {
		// Each queue gets its own copy so delivery attempts stay independent.
		msg := &Message{ID: id, Topic: topic, Payload: body, Timestamp: now}
		select {
		case q.ch <- msg:
		case <-ctx.Done():
			return fmt.Errorf("publishing to queue %s: %w", q.name, ctx.Err())
		case <-b.ctx.Done():
			return fmt.Errorf("publishing to queue %s: bus shut down", q.name)
		}
	}

	atomic.AddUint64(&b.stats.Published, 1)
	if b.metrics != nil {
		b.metrics.IncrementPublished(topic)
	}
	return nil
}

// TryPublish attempts to publish without blocking.
// Queues with full buffers miss the message; returns false if any queue dropped it.
func (b *Bus) TryPublish(topic string, payload any) bool {
	if b == nil || !b.running.Load() {
		return false
	}

	body, err := encode(payload)
	if err != nil {
		return false
	}

	b.mu.RLock()
	bound := make([]*queue, len(b.queues[topic]))
	copy(bound, b.queues[topic])
	b.mu.RUnlock()

	if len(bound) == 0 {
		return false
	}

	id := uuid.NewString()
	now := time.Now()
	accepted := true

	for _, q := range bound {
		msg := &Message{ID: id, Topic: topic, Payload: body, Timestamp: now}
		select {
		case q.ch <- msg:
		default:
			accepted = false
			atomic.AddUint64(&b.stats.Dropped, 1)
			if b.metrics != nil {
				b.metrics.IncrementDropped(q.name)
			}
			b.logger.Debug("message dropped due to full buffer",
				"topic", topic,
				"queue", q.name,
			)
		}
	}

	atomic.AddUint64(&b.stats.Published, 1)
	if b.metrics != nil {
		b.metrics.IncrementPublished(topic)
	}
	return accepted
}

// worker drains one queue.
func (b *Bus) worker(q *queue, id int) {
	defer b.wg.Done()

	logger := b.logger.With("queue", q.name, "worker_id", id)
	logger.Debug("worker started")

	for {
		select {
		case <-b.ctx.Done():
			logger.Debug("worker stopping due to context cancellation")
			return
		case msg, ok := <-q.ch:
			if !ok {
				logger.Debug("worker stopping due to channel closure")
				return
			}
			b.processMessage(q, msg, logger)
		}
	}
}

// processMessage runs the handler once and settles the delivery.
func (b *Bus) processMessage(q *queue, msg *Message, logger *slog.Logger) {
	msg.Attempts++

	var err error
	// Recovery wrapper so a panicking handler cannot kill the worker.
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panicked: %v", r)
			}
		}()
		err = q.handler(b.ctx, msg)
	}()

	if err == nil {
		atomic.AddUint64(&b.stats.Processed, 1)
		if b.metrics != nil {
			b.metrics.IncrementProcessed(q.name)
		}
		return
	}

	atomic.AddUint64(&b.stats.HandlerErrors, 1)
	if b.metrics != nil {
		b.metrics.IncrementHandlerErrors(q.name)
	}

	if IsPermanent(err) || msg.Attempts >= b.config.MaxAttempts {
		b.deadLetter(q, msg, err, logger)
		return
	}

	atomic.AddUint64(&b.stats.Redelivered, 1)
	if b.metrics != nil {
		b.metrics.IncrementRedelivered(q.name)
	}

	delay := b.backoffFor(msg.Attempts)
	logger.Warn("handler failed, scheduling redelivery",
		"message_id", msg.ID,
		"attempt", msg.Attempts,
		"delay", delay,
		"error", err,
	)

	b.wg.Add(1)
	go b.redeliver(q, msg, delay)
}

// redeliver re-enqueues msg after the backoff delay.
func (b *Bus) redeliver(q *queue, msg *Message, delay time.Duration) {
	defer b.wg.Done()

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-b.ctx.Done():
		return
	case <-timer.C:
	}

	select {
	case q.ch <- msg:
	case <-b.ctx.Done():
	}
}

// deadLetter drops msg permanently. A real broker would route it to a
// dead-letter queue; here it is logged and counted so operators can replay
// from the producer side.
func (b *Bus) deadLetter(q *queue, msg *Message, err error, logger *slog.Logger) {
	atomic.AddUint64(&b.stats.DeadLettered, 1)
	if b.metrics != nil {
		b.metrics.IncrementDeadLettered(q.name)
	}
	logger.Error("message dead-lettered",
		"message_id", msg.ID,
		"topic", msg.Topic,
		"attempts", msg.Attempts,
		"error", err,
	)
}

// backoffFor returns the redelivery delay for the given attempt count,
// doubling from BackoffInitial and capped at BackoffMax.
func (b *Bus) backoffFor(attempts int) time.Duration {
	delay := b.config.BackoffInitial
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= b.config.BackoffMax {
			return b.config.BackoffMax
		}
	}
	if delay > b.config.BackoffMax {
		return b.config.BackoffMax
	}
	return delay
}

// GetStats returns current bus statistics.
func (b *Bus) GetStats() Stats {
	if b == nil {
		return Stats{}
	}
	return Stats{
		Published:     atomic.LoadUint64(&b.stats.Published),
		Processed:     atomic.LoadUint64(&b.stats.Processed),
		Redelivered:   atomic.LoadUint64(&b.stats.Redelivered),
		DeadLettered:  atomic.LoadUint64(&b.stats.DeadLettered),
		Dropped:       atomic.LoadUint64(&b.stats.Dropped),
		HandlerErrors: atomic.LoadUint64(&b.stats.HandlerErrors),
	}
}

// Shutdown gracefully shuts down the bus.
func (b *Bus) Shutdown(timeout time.Duration) error {
	if b == nil || !b.running.Swap(false) {
		return nil
	}

	b.logger.Info("shutting down event bus", "timeout", timeout)

	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("event bus shutdown complete")
		return nil
	case <-time.After(timeout):
		b.logger.Warn("event bus shutdown timeout exceeded")
		return fmt.Errorf("shutdown timeout exceeded")
	}
}
