package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Outbound batching defaults (spec §4.B).
const (
	DefaultCoalesceDelay = 15 * time.Millisecond
	DefaultMaxBatchSize  = 32
)

// sender writes one coalesced batch of frames. Implemented by *socket in
// production; a plain function in tests.
type sender func(ctx context.Context, frames [][]byte) error

// outboundQueue coalesces per-socket writes into batches, flushed on a
// coalesce timer or when the batch reaches its max size, and retries a
// flush with bounded exponential backoff before dropping the batch (spec
// §4.B "Outbound batching queue"). Grounded on the cenkalti/backoff/v4 retry
// idiom used by r3e-network-service_layer's resilience.Retry helper.
type outboundQueue struct {
	mu          sync.Mutex
	buf         [][]byte
	maxSize     int
	coalesce    time.Duration
	timer       *time.Timer
	send        sender
	maxRetries  uint64
	ctx         context.Context
	cancel      context.CancelFunc
	flushDoneWG sync.WaitGroup
}

// newOutboundQueue constructs a queue that calls send to flush batches. A
// maxSize or coalesce of zero falls back to the package defaults.
func newOutboundQueue(parent context.Context, maxSize int, coalesce time.Duration, maxRetries uint64, send sender) *outboundQueue {
	if maxSize <= 0 {
		maxSize = DefaultMaxBatchSize
	}
	if coalesce <= 0 {
		coalesce = DefaultCoalesceDelay
	}
	ctx, cancel := context.WithCancel(parent)
	return &outboundQueue{
		maxSize:    maxSize,
		coalesce:   coalesce,
		send:       send,
		maxRetries: maxRetries,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Enqueue appends frame to the pending batch, flushing immediately if the
// batch has reached maxSize or arming the coalesce timer otherwise.
func (q *outboundQueue) Enqueue(frame []byte) {
	q.mu.Lock()
	q.buf = append(q.buf, frame)
	full := len(q.buf) >= q.maxSize
	if full {
		q.stopTimerLocked()
		q.flushLocked()
		q.mu.Unlock()
		return
	}
	if q.timer == nil {
		q.timer = time.AfterFunc(q.coalesce, q.onTimer)
	}
	q.mu.Unlock()
}

func (q *outboundQueue) onTimer() {
	q.mu.Lock()
	q.timer = nil
	q.flushLocked()
	q.mu.Unlock()
}

// flushLocked drains the buffer and sends it with retries on a background
// goroutine so Enqueue callers never block on network I/O. Must be called
// with q.mu held.
func (q *outboundQueue) flushLocked() {
	if len(q.buf) == 0 {
		return
	}
	batch := q.buf
	q.buf = nil

	q.flushDoneWG.Add(1)
	go func() {
		defer q.flushDoneWG.Done()
		_ = q.sendWithRetry(batch)
	}()
}

func (q *outboundQueue) sendWithRetry(batch [][]byte) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 25 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, q.maxRetries), q.ctx)
	return backoff.Retry(func() error {
		return q.send(q.ctx, batch)
	}, policy)
}

func (q *outboundQueue) stopTimerLocked() {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

// Close stops the coalesce timer, flushes any pending batch, waits for
// outstanding flushes (including their retries) to finish, and then cancels
// the queue's context.
func (q *outboundQueue) Close() {
	q.mu.Lock()
	q.stopTimerLocked()
	q.flushLocked()
	q.mu.Unlock()

	q.flushDoneWG.Wait()
	q.cancel()
}
