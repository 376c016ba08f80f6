package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"stemfuse/internal/config"
)

// claimRecord is the bookkeeping entry for one outstanding delivery. The
// payload is duplicated here so a reclaim sweep can requeue it without
// consulting the dead consumer's processing list contents.
type claimRecord struct {
	Consumer  string          `json:"consumer"`
	ClaimedAt int64           `json:"claimed_at"`
	Payload   json.RawMessage `json:"payload"`
}

// Redis is the production Queue backed by per-stage Redis lists. Claiming
// moves the payload atomically into a consumer-owned processing list, so a
// crash between claim and ack leaves the task recoverable.
type Redis struct {
	client        *redis.Client
	prefix        string
	stages        []string
	maxDeliveries int
}

// NewRedis connects the broker described by cfg. stages fixes the set of
// queues the reclaim sweep and depth reporting cover.
func NewRedis(cfg config.Broker, stages []string, maxDeliveries int) *Redis {
	prefix := strings.TrimSpace(cfg.QueuePrefix)
	if prefix == "" {
		prefix = "stemfuse"
	}
	if maxDeliveries < 1 {
		maxDeliveries = 1
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Redis{
		client:        client,
		prefix:        prefix,
		stages:        append([]string(nil), stages...),
		maxDeliveries: maxDeliveries,
	}
}

// Ping verifies broker connectivity, used by daemon startup.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("broker ping: %w", err)
	}
	return nil
}

func (r *Redis) queueKey(stage string) string {
	return r.prefix + ":queue:" + stage
}

func (r *Redis) processingKey(stage, consumer string) string {
	return r.prefix + ":processing:" + stage + ":" + consumer
}

func (r *Redis) claimsKey(stage string) string {
	return r.prefix + ":claims:" + stage
}

func (r *Redis) deliveriesKey(stage string) string {
	return r.prefix + ":deliveries:" + stage
}

func (r *Redis) deadKey() string {
	return r.prefix + ":dead"
}

func (r *Redis) Submit(ctx context.Context, task Task) error {
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := r.client.LPush(ctx, r.queueKey(task.Stage), payload).Err(); err != nil {
		return fmt.Errorf("submit %s task: %w", task.Stage, err)
	}
	return nil
}

func (r *Redis) Claim(ctx context.Context, stage, consumer string, wait time.Duration) (*Delivery, error) {
	raw, err := r.client.BLMove(ctx, r.queueKey(stage), r.processingKey(stage, consumer), "RIGHT", "LEFT", wait).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim from %s queue: %w", stage, err)
	}

	payload := []byte(raw)
	var task Task
	if err := json.Unmarshal(payload, &task); err != nil {
		// Corrupt payloads go straight to the dead-letter queue so the
		// consumer loop does not spin on them.
		pipe := r.client.TxPipeline()
		pipe.LRem(ctx, r.processingKey(stage, consumer), 1, payload)
		pipe.LPush(ctx, r.deadKey(), payload)
		if _, pipeErr := pipe.Exec(ctx); pipeErr != nil {
			return nil, fmt.Errorf("dead-letter corrupt payload: %w", pipeErr)
		}
		return nil, fmt.Errorf("corrupt task payload on %s queue: %w", stage, err)
	}

	count, err := r.client.HIncrBy(ctx, r.deliveriesKey(stage), task.JobID, 1).Result()
	if err != nil {
		return nil, fmt.Errorf("record delivery for job %s: %w", task.JobID, err)
	}

	record, err := json.Marshal(claimRecord{Consumer: consumer, ClaimedAt: time.Now().Unix(), Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("marshal claim record: %w", err)
	}
	if err := r.client.HSet(ctx, r.claimsKey(stage), task.JobID, record).Err(); err != nil {
		return nil, fmt.Errorf("record claim for job %s: %w", task.JobID, err)
	}

	return &Delivery{Task: task, Count: int(count), consumer: consumer, payload: payload}, nil
}

func (r *Redis) Ack(ctx context.Context, d *Delivery) error {
	pipe := r.client.TxPipeline()
	pipe.LRem(ctx, r.processingKey(d.Task.Stage, d.consumer), 1, d.payload)
	pipe.HDel(ctx, r.claimsKey(d.Task.Stage), d.Task.JobID)
	pipe.HDel(ctx, r.deliveriesKey(d.Task.Stage), d.Task.JobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack job %s: %w", d.Task.JobID, err)
	}
	return nil
}

func (r *Redis) Retry(ctx context.Context, d *Delivery) error {
	if d.Count >= r.maxDeliveries {
		pipe := r.client.TxPipeline()
		pipe.LRem(ctx, r.processingKey(d.Task.Stage, d.consumer), 1, d.payload)
		pipe.LPush(ctx, r.deadKey(), d.payload)
		pipe.HDel(ctx, r.claimsKey(d.Task.Stage), d.Task.JobID)
		pipe.HDel(ctx, r.deliveriesKey(d.Task.Stage), d.Task.JobID)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("dead-letter job %s: %w", d.Task.JobID, err)
		}
		return ErrDeliveriesExhausted
	}

	// Delivery count stays on the hash so the next claim observes it.
	pipe := r.client.TxPipeline()
	pipe.LRem(ctx, r.processingKey(d.Task.Stage, d.consumer), 1, d.payload)
	pipe.LPush(ctx, r.queueKey(d.Task.Stage), d.payload)
	pipe.HDel(ctx, r.claimsKey(d.Task.Stage), d.Task.JobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("requeue job %s: %w", d.Task.JobID, err)
	}
	return nil
}

func (r *Redis) Heartbeat(ctx context.Context, d *Delivery) error {
	record, err := json.Marshal(claimRecord{Consumer: d.consumer, ClaimedAt: time.Now().Unix(), Payload: d.payload})
	if err != nil {
		return fmt.Errorf("marshal claim record: %w", err)
	}
	if err := r.client.HSet(ctx, r.claimsKey(d.Task.Stage), d.Task.JobID, record).Err(); err != nil {
		return fmt.Errorf("heartbeat job %s: %w", d.Task.JobID, err)
	}
	return nil
}

func (r *Redis) ReclaimStale(ctx context.Context, stage string, olderThan time.Duration) (Reclaimed, error) {
	var out Reclaimed
	entries, err := r.client.HGetAll(ctx, r.claimsKey(stage)).Result()
	if err != nil {
		return out, fmt.Errorf("list %s claims: %w", stage, err)
	}

	cutoff := time.Now().Add(-olderThan).Unix()
	for jobID, raw := range entries {
		var record claimRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			r.client.HDel(ctx, r.claimsKey(stage), jobID)
			continue
		}
		if record.ClaimedAt > cutoff {
			continue
		}

		var task Task
		if err := json.Unmarshal(record.Payload, &task); err != nil {
			r.client.HDel(ctx, r.claimsKey(stage), jobID)
			continue
		}

		count, err := r.client.HGet(ctx, r.deliveriesKey(stage), jobID).Int()
		if err != nil && !errors.Is(err, redis.Nil) {
			return out, fmt.Errorf("read deliveries for job %s: %w", jobID, err)
		}

		pipe := r.client.TxPipeline()
		pipe.LRem(ctx, r.processingKey(stage, record.Consumer), 1, []byte(record.Payload))
		pipe.HDel(ctx, r.claimsKey(stage), jobID)
		if count >= r.maxDeliveries {
			pipe.LPush(ctx, r.deadKey(), []byte(record.Payload))
			pipe.HDel(ctx, r.deliveriesKey(stage), jobID)
		} else {
			pipe.LPush(ctx, r.queueKey(stage), []byte(record.Payload))
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return out, fmt.Errorf("reclaim job %s: %w", jobID, err)
		}
		if count >= r.maxDeliveries {
			out.DeadLettered = append(out.DeadLettered, task)
		} else {
			out.Requeued = append(out.Requeued, task)
		}
	}
	return out, nil
}

func (r *Redis) Depths(ctx context.Context) (map[string]int64, error) {
	depths := make(map[string]int64, len(r.stages))
	for _, stage := range r.stages {
		n, err := r.client.LLen(ctx, r.queueKey(stage)).Result()
		if err != nil {
			return nil, fmt.Errorf("depth of %s queue: %w", stage, err)
		}
		depths[stage] = n
	}
	return depths, nil
}

func (r *Redis) DeadLetters(ctx context.Context, limit int64) ([]Task, error) {
	if limit <= 0 {
		limit = 100
	}
	raws, err := r.client.LRange(ctx, r.deadKey(), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	tasks := make([]Task, 0, len(raws))
	for _, raw := range raws {
		var task Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
