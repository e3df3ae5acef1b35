package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

var (
	ErrQueueFull        = errors.New("event queue is full")
	ErrDispatcherClosed = errors.New("event dispatcher is closed")
)

// Dispatcher hands committed orders to a fixed pool of workers that forward them
// to the underlying publisher. PublishOrderPlaced never blocks on the broker.
type Dispatcher struct {
	next    port.OrderEventPublisher
	queue   chan domain.Order
	timeout time.Duration
	log     *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(next port.OrderEventPublisher, queueSize, workers int, timeout time.Duration, log *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		next:    next,
		queue:   make(chan domain.Order, queueSize),
		timeout: timeout,
		log:     log,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go func(id int) {
			defer d.wg.Done()
			d.workerLoop(id)
		}(i)
	}
	return d
}

func (d *Dispatcher) PublishOrderPlaced(_ context.Context, order domain.Order) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case d.queue <- order:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting events and waits for the queue to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) workerLoop(id int) {
	for order := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)

		if err := d.next.PublishOrderPlaced(ctx, order); err != nil {
			d.log.Error("order event dropped",
				zap.Int("worker", id),
				zap.Int64("order_id", order.ID),
				zap.Error(err),
			)
		} else {
			d.log.Debug("order event published", zap.Int("worker", id), zap.Int64("order_id", order.ID))
		}

		cancel()
	}
}
