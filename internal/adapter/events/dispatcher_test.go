package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
)

type recordingPublisher struct {
	mu      sync.Mutex
	orders  []int64
	fail    bool
	release chan struct{}
}

func (p *recordingPublisher) PublishOrderPlaced(_ context.Context, order domain.Order) error {
	if p.release != nil {
		<-p.release
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker down")
	}
	p.orders = append(p.orders, order.ID)
	return nil
}

func (p *recordingPublisher) published() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int64(nil), p.orders...)
}

func TestDispatcher_DeliversAllOnClose(t *testing.T) {
	next := &recordingPublisher{}
	d := NewDispatcher(next, 100, 4, time.Second, zap.NewNop())

	for i := int64(1); i <= 50; i++ {
		require.NoError(t, d.PublishOrderPlaced(context.Background(), domain.Order{ID: i}))
	}
	d.Close()

	assert.ElementsMatch(t, expectedIDs(50), next.published())
}

func TestDispatcher_QueueFull(t *testing.T) {
	next := &recordingPublisher{release: make(chan struct{})}
	d := NewDispatcher(next, 1, 1, time.Second, zap.NewNop())

	// First event is taken by the worker, which then blocks on release.
	require.NoError(t, d.PublishOrderPlaced(context.Background(), domain.Order{ID: 1}))
	require.Eventually(t, func() bool { return len(d.queue) == 0 }, time.Second, time.Millisecond)

	require.NoError(t, d.PublishOrderPlaced(context.Background(), domain.Order{ID: 2}))
	err := d.PublishOrderPlaced(context.Background(), domain.Order{ID: 3})
	assert.ErrorIs(t, err, ErrQueueFull)

	close(next.release)
	d.Close()
	assert.ElementsMatch(t, []int64{1, 2}, next.published())
}

func TestDispatcher_RejectsAfterClose(t *testing.T) {
	d := NewDispatcher(&recordingPublisher{}, 10, 1, time.Second, zap.NewNop())
	d.Close()
	d.Close()

	err := d.PublishOrderPlaced(context.Background(), domain.Order{ID: 1})
	assert.ErrorIs(t, err, ErrDispatcherClosed)
}

func TestDispatcher_PublisherErrorDoesNotStopWorkers(t *testing.T) {
	next := &recordingPublisher{fail: true}
	d := NewDispatcher(next, 10, 1, time.Second, zap.NewNop())

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, d.PublishOrderPlaced(context.Background(), domain.Order{ID: i}))
	}
	d.Close()

	assert.Empty(t, next.published())
}

func expectedIDs(n int64) []int64 {
	ids := make([]int64, 0, n)
	for i := int64(1); i <= n; i++ {
		ids = append(ids, i)
	}
	return ids
}
