package dispatch

import (
	"context"
	"sync"
	"time"
)

type memoryClaim struct {
	task      Task
	consumer  string
	claimedAt time.Time
}

// Memory is an in-process Queue with the same delivery semantics as the
// Redis broker. It backs tests and the single-node development mode.
type Memory struct {
	mu            sync.Mutex
	queues        map[string][]Task
	claims        map[string]memoryClaim
	deliveries    map[string]int
	dead          []Task
	notify        map[string]chan struct{}
	maxDeliveries int
	now           func() time.Time
}

// NewMemory builds an in-process queue with the given delivery budget.
func NewMemory(maxDeliveries int) *Memory {
	if maxDeliveries < 1 {
		maxDeliveries = 1
	}
	return &Memory{
		queues:        make(map[string][]Task),
		claims:        make(map[string]memoryClaim),
		deliveries:    make(map[string]int),
		notify:        make(map[string]chan struct{}),
		maxDeliveries: maxDeliveries,
		now:           time.Now,
	}
}

func (m *Memory) signal(stage string) {
	ch, ok := m.notify[stage]
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (m *Memory) waiter(stage string) chan struct{} {
	ch, ok := m.notify[stage]
	if !ok {
		ch = make(chan struct{}, 1)
		m.notify[stage] = ch
	}
	return ch
}

func (m *Memory) Submit(ctx context.Context, task Task) error {
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = m.now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[task.Stage] = append(m.queues[task.Stage], task)
	m.signal(task.Stage)
	return nil
}

func (m *Memory) Claim(ctx context.Context, stage, consumer string, wait time.Duration) (*Delivery, error) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	for {
		m.mu.Lock()
		if pending := m.queues[stage]; len(pending) > 0 {
			task := pending[0]
			m.queues[stage] = pending[1:]
			m.deliveries[task.JobID]++
			count := m.deliveries[task.JobID]
			m.claims[task.JobID] = memoryClaim{task: task, consumer: consumer, claimedAt: m.now()}
			m.mu.Unlock()
			return &Delivery{Task: task, Count: count, consumer: consumer}, nil
		}
		ch := m.waiter(stage)
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-ch:
		}
	}
}

func (m *Memory) Ack(ctx context.Context, d *Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, d.Task.JobID)
	delete(m.deliveries, d.Task.JobID)
	return nil
}

func (m *Memory) Retry(ctx context.Context, d *Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, d.Task.JobID)
	if d.Count >= m.maxDeliveries {
		delete(m.deliveries, d.Task.JobID)
		m.dead = append(m.dead, d.Task)
		return ErrDeliveriesExhausted
	}
	m.queues[d.Task.Stage] = append(m.queues[d.Task.Stage], d.Task)
	m.signal(d.Task.Stage)
	return nil
}

func (m *Memory) Heartbeat(ctx context.Context, d *Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	claim, ok := m.claims[d.Task.JobID]
	if !ok {
		return nil
	}
	claim.claimedAt = m.now()
	m.claims[d.Task.JobID] = claim
	return nil
}

func (m *Memory) ReclaimStale(ctx context.Context, stage string, olderThan time.Duration) (Reclaimed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out Reclaimed
	cutoff := m.now().Add(-olderThan)
	for jobID, claim := range m.claims {
		if claim.task.Stage != stage || claim.claimedAt.After(cutoff) {
			continue
		}
		delete(m.claims, jobID)
		if m.deliveries[jobID] >= m.maxDeliveries {
			delete(m.deliveries, jobID)
			m.dead = append(m.dead, claim.task)
			out.DeadLettered = append(out.DeadLettered, claim.task)
			continue
		}
		m.queues[stage] = append(m.queues[stage], claim.task)
		m.signal(stage)
		out.Requeued = append(out.Requeued, claim.task)
	}
	return out, nil
}

func (m *Memory) Depths(ctx context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	depths := make(map[string]int64, len(m.queues))
	for stage, pending := range m.queues {
		depths[stage] = int64(len(pending))
	}
	return depths, nil
}

func (m *Memory) DeadLetters(ctx context.Context, limit int64) ([]Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > int64(len(m.dead)) {
		limit = int64(len(m.dead))
	}
	return append([]Task(nil), m.dead[:limit]...), nil
}

func (m *Memory) Close() error {
	return nil
}
