package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/recapz-backend/pkg/logger"
)

// JobMessage is the queue payload for one job.
type JobMessage struct {
	JobID      uuid.UUID `json:"job_id"`
	AccountID  uuid.UUID `json:"account_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func (m JobMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

func DecodeJobMessage(data []byte) (JobMessage, error) {
	var msg JobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return JobMessage{}, fmt.Errorf("decode job message: %w", err)
	}
	if msg.JobID == uuid.Nil {
		return JobMessage{}, errors.New("job message missing job_id")
	}
	return msg, nil
}

// Handler processes one delivery. A non-nil error requests redelivery.
type Handler func(ctx context.Context, msg JobMessage) error

// Queue decouples submission from processing.
type Queue interface {
	Publish(ctx context.Context, msg JobMessage) error
	Consume(ctx context.Context, handler Handler) error
}

var (
	// ErrQueueClosed is returned by Publish after Close.
	ErrQueueClosed = errors.New("job queue closed")
	// ErrQueueFull is returned when the buffer stays full for PublishTimeout.
	ErrQueueFull = errors.New("job queue full")
)

// MemoryQueueOptions configures the in-process queue.
type MemoryQueueOptions struct {
	Buffer        int
	Workers       int
	MaxDeliveries int
	RetryDelay    time.Duration
	// PublishTimeout bounds how long a send waits on a full buffer,
	// independent of the caller's context.
	PublishTimeout time.Duration
	Logger         *logger.Logger
}

type delivery struct {
	msg     JobMessage
	attempt int
}

// MemoryQueue is a buffered channel drained by a fixed set of workers.
// Failed deliveries are retried with a linear backoff up to MaxDeliveries.
type MemoryQueue struct {
	ch     chan delivery
	opts   MemoryQueueOptions
	logg   *logger.Logger
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewMemoryQueue(opts MemoryQueueOptions) *MemoryQueue {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxDeliveries <= 0 {
		opts.MaxDeliveries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &MemoryQueue{ch: make(chan delivery, opts.Buffer), opts: opts, logg: opts.Logger}
}

func (q *MemoryQueue) Publish(ctx context.Context, msg JobMessage) error {
	return q.enqueue(ctx, delivery{msg: msg, attempt: 1})
}

func (q *MemoryQueue) enqueue(ctx context.Context, d delivery) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- d:
		return nil
	default:
	}
	timer := time.NewTimer(q.opts.PublishTimeout)
	defer timer.Stop()
	select {
	case q.ch <- d:
		return nil
	case <-timer.C:
		return ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume runs the workers until ctx ends.
func (q *MemoryQueue) Consume(ctx context.Context, handler Handler) error {
	var workers sync.WaitGroup
	for i := 0; i < q.opts.Workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d := <-q.ch:
					q.handle(ctx, handler, d)
				}
			}
		}()
	}
	workers.Wait()
	q.wg.Wait()
	return ctx.Err()
}

func (q *MemoryQueue) handle(ctx context.Context, handler Handler, d delivery) {
	err := handler(ctx, d.msg)
	if err == nil {
		return
	}
	logCtx := q.logg.WithFields(ctx, map[string]any{
		"job_id":  d.msg.JobID.String(),
		"attempt": d.attempt,
	})
	if d.attempt >= q.opts.MaxDeliveries || ctx.Err() != nil {
		q.logg.Error(logCtx, "queue.delivery_dropped", err)
		return
	}
	q.logg.Warn(logCtx, "queue.redeliver")
	next := delivery{msg: d.msg, attempt: d.attempt + 1}
	delay := time.Duration(d.attempt) * q.opts.RetryDelay
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if err := q.enqueue(ctx, next); err != nil {
			q.logg.Error(logCtx, "queue.redeliver_failed", err)
		}
	}()
}

// Close stops accepting new messages.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// Len reports buffered messages.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}
