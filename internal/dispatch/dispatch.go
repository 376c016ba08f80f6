package dispatch

import (
	"context"
	"errors"
	"time"
)

// Task is the unit of work routed through the broker: one stage invocation
// for one job. Stage inputs travel through the tracker, not the broker, so
// the payload stays small and redeliveries stay cheap.
type Task struct {
	JobID      string    `json:"job_id"`
	Stage      string    `json:"stage"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Delivery is one claimed instance of a task. Count is the total number of
// times the task has been handed to a consumer, including this one.
type Delivery struct {
	Task  Task
	Count int

	consumer string
	payload  []byte
}

// Reclaimed reports the outcome of a stale-claim sweep.
type Reclaimed struct {
	Requeued     []Task
	DeadLettered []Task
}

// ErrDeliveriesExhausted is returned by Retry when the task has consumed its
// delivery budget and has been moved to the dead-letter queue instead of
// being requeued.
var ErrDeliveriesExhausted = errors.New("delivery budget exhausted")

// Queue is the at-least-once dispatch broker. A claimed task stays invisible
// to other consumers until it is acked, retried, or reclaimed after its
// claim goes stale.
type Queue interface {
	// Submit enqueues a task on its stage queue.
	Submit(ctx context.Context, task Task) error
	// Claim blocks up to wait for a task on the stage queue. A nil delivery
	// with nil error means the wait elapsed with nothing to do.
	Claim(ctx context.Context, stage, consumer string, wait time.Duration) (*Delivery, error)
	// Ack removes a completed delivery from the broker.
	Ack(ctx context.Context, d *Delivery) error
	// Retry returns a failed delivery to its queue for another consumer.
	// When the delivery budget is spent the task is dead-lettered and
	// ErrDeliveriesExhausted is returned.
	Retry(ctx context.Context, d *Delivery) error
	// Heartbeat refreshes the claim so the reclaim sweep leaves it alone.
	Heartbeat(ctx context.Context, d *Delivery) error
	// ReclaimStale requeues or dead-letters tasks whose claims have not been
	// refreshed within olderThan. It heals consumers that died mid-task.
	ReclaimStale(ctx context.Context, stage string, olderThan time.Duration) (Reclaimed, error)
	// Depths reports the number of waiting tasks per stage queue.
	Depths(ctx context.Context) (map[string]int64, error)
	// DeadLetters lists tasks parked on the dead-letter queue.
	DeadLetters(ctx context.Context, limit int64) ([]Task, error)
	Close() error
}
