package notification

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrQueueFull   = errors.New("notification queue is full")
	ErrQueueClosed = errors.New("notification queue is closed")
)

// Stats counts queue outcomes.
type Stats struct {
	Sent   int64
	Failed int64
}

// Queue delivers messages on a fixed pool of workers. Enqueue never blocks:
// when the buffer is full the caller gets ErrQueueFull.
type Queue struct {
	sender      Sender
	log         *zap.Logger
	sendTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	ch     chan Message
	wg     sync.WaitGroup

	sent   atomic.Int64
	failed atomic.Int64
}

func NewQueue(sender Sender, size, workers int, log *zap.Logger) *Queue {
	if size < 1 {
		size = 1
	}
	if workers < 1 {
		workers = 1
	}
	q := &Queue{
		sender:      sender,
		log:         log,
		sendTimeout: 10 * time.Second,
		ch:          make(chan Message, size),
	}
	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.worker()
	}
	return q
}

func (q *Queue) Enqueue(msg Message) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for msg := range q.ch {
		ctx, cancel := context.WithTimeout(context.Background(), q.sendTimeout)
		err := q.sender.Send(ctx, msg)
		cancel()
		if err != nil {
			q.failed.Add(1)
			q.log.Error("notification send failed",
				zap.Uint("user_id", msg.UserID),
				zap.String("kind", msg.Kind),
				zap.Error(err))
			continue
		}
		q.sent.Add(1)
	}
}

// Close stops accepting messages and waits for queued ones to be sent or for
// ctx to end.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) Stats() Stats {
	return Stats{Sent: q.sent.Load(), Failed: q.failed.Load()}
}
