package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cotrelay/server/internal/metrics"
	"github.com/cotrelay/server/internal/queue"
)

var (
	// ErrOutboxClosed is returned by Enqueue once Close has been called.
	ErrOutboxClosed = errors.New("outbox closed")
	// ErrFlushTimeout means Close gave up with documents still queued.
	ErrFlushTimeout = errors.New("outbox flush timed out")
)

type outboxItem struct {
	origin string
	data   []byte
}

// PublishFunc hands one document to the bus.
type PublishFunc func(ctx context.Context, origin string, data []byte) error

// Outbox queues ingestion publishes and hands them to the bus in order,
// retrying the head with backoff for as long as the bus refuses it.
type Outbox struct {
	q       *queue.Queue[outboxItem]
	publish PublishFunc
	retry   time.Duration
	logger  *slog.Logger

	wake    chan struct{}
	mu      sync.Mutex
	closing chan struct{}
	closed  bool
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewOutbox starts the publisher loop. maxRetryInterval caps the backoff.
func NewOutbox(publish PublishFunc, maxRetryInterval time.Duration, logger *slog.Logger) *Outbox {
	if maxRetryInterval <= 0 {
		maxRetryInterval = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Outbox{
		q:       queue.New[outboxItem](),
		publish: publish,
		retry:   maxRetryInterval,
		logger:  logger,
		wake:    make(chan struct{}, 1),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	go o.run()
	return o
}

// Enqueue appends a document. It never blocks on the bus.
func (o *Outbox) Enqueue(origin string, data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrOutboxClosed
	}
	o.q.Push(outboxItem{origin: origin, data: data})
	metrics.OutboxDepth.Inc()
	select {
	case o.wake <- struct{}{}:
	default:
	}
	return nil
}

// Len returns the number of queued documents.
func (o *Outbox) Len() int {
	return o.q.Len()
}

// Close stops accepting documents and waits up to timeout for the queue
// to drain. Whatever is left after timeout is dropped.
func (o *Outbox) Close(timeout time.Duration) error {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.closing)
	}
	o.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-o.done:
		o.cancel()
		return nil
	case <-timer.C:
	}

	o.cancel()
	<-o.done
	left := o.q.Drain()
	metrics.OutboxDepth.Sub(float64(len(left)))
	if len(left) > 0 {
		return fmt.Errorf("%w: %d documents dropped", ErrFlushTimeout, len(left))
	}
	return nil
}

func (o *Outbox) run() {
	defer close(o.done)
	for {
		for {
			item, ok := o.q.Peek()
			if !ok {
				break
			}
			if err := o.send(item); err != nil {
				return
			}
			o.q.Pop()
			metrics.OutboxDepth.Dec()
		}
		select {
		case <-o.wake:
		case <-o.closing:
			if o.q.Empty() {
				return
			}
		case <-o.ctx.Done():
			return
		}
	}
}

// send retries until the bus accepts item or the outbox is cancelled.
func (o *Outbox) send(item outboxItem) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = o.retry
	policy.MaxElapsedTime = 0

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := o.publish(o.ctx, item.origin, item.data)
		if err != nil && o.ctx.Err() != nil {
			return backoff.Permanent(o.ctx.Err())
		}
		if err != nil && attempt == 1 {
			o.logger.Warn("bus refused publish, retrying", "origin", item.origin, "queued", o.q.Len(), "error", err)
		}
		return err
	}, backoff.WithContext(policy, o.ctx))
}
