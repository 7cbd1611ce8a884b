package notify

import (
	"context"
	"sync"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/domainshop/internal/metrics"
)

// Target receives events from a Queue.
type Target interface {
	Dispatch(ctx context.Context, e Event)
}

// QueueConfig sizes a Queue.
type QueueConfig struct {
	Size    int `default:"256" usage:"Buffered notifications before new ones are dropped"`
	Workers int `default:"2" usage:"Concurrent notification deliveries"`
}

type queued struct {
	ctx context.Context
	e   Event
}

// Queue hands events to a Target on background workers, so Dispatch
// returns as soon as the event is buffered. A full buffer drops the event.
type Queue struct {
	target  Target
	metrics *metrics.Metrics
	events  chan queued
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewQueue starts cfg.Workers goroutines delivering to target. m may be nil.
func NewQueue(cfg QueueConfig, target Target, m *metrics.Metrics) *Queue {
	if cfg.Size <= 0 {
		cfg.Size = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	q := &Queue{
		target:  target,
		metrics: m,
		events:  make(chan queued, cfg.Size),
	}
	q.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go q.work()
	}
	return q
}

func (q *Queue) work() {
	defer q.wg.Done()
	for item := range q.events {
		q.target.Dispatch(item.ctx, item.e)
	}
}

// Dispatch buffers e for delivery. It never blocks.
func (q *Queue) Dispatch(ctx context.Context, e Event) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	lg := zctx.From(ctx)
	if q.closed {
		lg.Warn("Notification dropped after shutdown", zap.String("event", string(e.Type)), zap.String("order_id", e.OrderID))
		q.metrics.IncNotification(string(e.Type), "dropped")
		return
	}
	select {
	case q.events <- queued{ctx: context.WithoutCancel(ctx), e: e}:
	default:
		lg.Warn("Notification queue full", zap.String("event", string(e.Type)), zap.String("order_id", e.OrderID))
		q.metrics.IncNotification(string(e.Type), "dropped")
	}
}

// Close stops accepting events and waits for buffered ones to be delivered.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.events)
	q.mu.Unlock()

	q.wg.Wait()
}
