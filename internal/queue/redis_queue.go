package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"warehouse-relay/internal/models"
)

const (
	readyKey     = "relay:ready"
	scheduledKey = "relay:scheduled"
	inflightKey  = "relay:inflight"
	taskPrefix   = "relay:task:"
)

// StepQueue carries orchestration steps between invocations. Every task
// envelope holds the full job context, so whichever worker pops it can run
// the step with no other shared state. Redis holds only in-flight steps;
// acked tasks disappear entirely.
type StepQueue struct {
	client        *redis.Client
	visibilityTTL time.Duration
}

func NewStepQueue(client *redis.Client, visibility time.Duration) *StepQueue {
	if visibility == 0 {
		visibility = 30 * time.Second
	}
	return &StepQueue{client: client, visibilityTTL: visibility}
}

func taskKey(taskID string) string {
	return taskPrefix + taskID
}

// Schedule stores the task body and parks it until runAt. A task due now (or
// in the past) goes straight to the ready list.
func (q *StepQueue) Schedule(ctx context.Context, task models.Task, runAt time.Time) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, taskKey(task.ID), body, 0)
	if runAt.After(time.Now()) {
		pipe.ZAdd(ctx, scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: task.ID})
	} else {
		pipe.RPush(ctx, readyKey, task.ID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// PromoteDue moves due scheduled tasks into the ready list and reports how
// many were promoted.
func (q *StepQueue) PromoteDue(ctx context.Context, now time.Time, limit int64) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, scheduledKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, scheduledKey, id)
		pipe.RPush(ctx, readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// DequeueWithLease pops one ready task and places it in-flight under a
// visibility timeout. A false second return means the queue was empty.
func (q *StepQueue) DequeueWithLease(ctx context.Context) (models.Task, bool, error) {
	res, err := popScript.Run(ctx, q.client, []string{readyKey, inflightKey},
		time.Now().Add(q.visibilityTTL).UnixMilli()).Result()
	if err == redis.Nil {
		return models.Task{}, false, nil
	}
	if err != nil {
		return models.Task{}, false, err
	}
	taskID, ok := res.(string)
	if !ok {
		return models.Task{}, false, fmt.Errorf("unexpected type from pop script: %T", res)
	}

	body, err := q.client.Get(ctx, taskKey(taskID)).Bytes()
	if err == redis.Nil {
		// Body vanished under us; drop the orphaned lease.
		_ = q.client.ZRem(ctx, inflightKey, taskID).Err()
		return models.Task{}, false, nil
	}
	if err != nil {
		return models.Task{}, false, err
	}

	var task models.Task
	if err := json.Unmarshal(body, &task); err != nil {
		_ = q.Ack(ctx, taskID)
		return models.Task{}, false, fmt.Errorf("decode task %s: %w", taskID, err)
	}
	task.ID = taskID
	return task, true, nil
}

// Ack removes a completed task and its body.
func (q *StepQueue) Ack(ctx context.Context, taskID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, inflightKey, taskID)
	pipe.Del(ctx, taskKey(taskID))
	_, err := pipe.Exec(ctx)
	return err
}

// RequeueExpired reclaims leases whose worker died mid-step.
func (q *StepQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, inflightKey, id)
		pipe.RPush(ctx, readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// Depth returns ready + scheduled counts for gauges.
func (q *StepQueue) Depth(ctx context.Context) (int64, error) {
	pipe := q.client.Pipeline()
	ready := pipe.LLen(ctx, readyKey)
	scheduled := pipe.ZCard(ctx, scheduledKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return ready.Val() + scheduled.Val(), nil
}

var popScript = redis.NewScript(`
local task = redis.call('LPOP', KEYS[1])
if task then
  redis.call('ZADD', KEYS[2], ARGV[1], task)
  return task
end
return nil
`)
