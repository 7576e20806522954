package queue

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"warehouse-relay/internal/models"
)

func newTestQueue(t *testing.T) (*StepQueue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewStepQueue(client, 30*time.Second), mr
}

func TestScheduleImmediateAndDequeue(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	task := models.Task{JobID: "01923abc", ViewName: "daily_sales_view", CallbackURL: "https://cb.example/conn123"}
	if err := q.Schedule(ctx, task, time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	got, ok, err := q.DequeueWithLease(ctx)
	if err != nil || !ok {
		t.Fatalf("dequeue: ok=%v err=%v", ok, err)
	}
	if got.JobID != "01923abc" || got.ViewName != "daily_sales_view" || got.CallbackURL != "https://cb.example/conn123" {
		t.Fatalf("task round trip mismatch: %+v", got)
	}
	if got.ID == "" {
		t.Fatalf("expected generated task id")
	}

	if err := q.Ack(ctx, got.ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if _, ok, _ := q.DequeueWithLease(ctx); ok {
		t.Fatalf("expected empty queue after ack")
	}
}

func TestScheduledTaskNotReadyUntilPromoted(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	runAt := time.Now().Add(5 * time.Second)
	if err := q.Schedule(ctx, models.Task{JobID: "j1"}, runAt); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	if _, ok, _ := q.DequeueWithLease(ctx); ok {
		t.Fatalf("task should still be parked")
	}

	n, err := q.PromoteDue(ctx, runAt.Add(time.Second), 100)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 promoted, got %d", n)
	}

	got, ok, err := q.DequeueWithLease(ctx)
	if err != nil || !ok {
		t.Fatalf("dequeue after promote: ok=%v err=%v", ok, err)
	}
	if got.JobID != "j1" {
		t.Fatalf("wrong task: %+v", got)
	}
}

func TestRequeueExpiredLease(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	if err := q.Schedule(ctx, models.Task{JobID: "j1"}, time.Now()); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if _, ok, _ := q.DequeueWithLease(ctx); !ok {
		t.Fatalf("expected task")
	}

	// Pretend the visibility timeout elapsed without an ack.
	ids, err := q.RequeueExpired(ctx, time.Now().Add(time.Minute), 100)
	if err != nil {
		t.Fatalf("requeue expired: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected 1 reclaimed, got %d", len(ids))
	}

	got, ok, _ := q.DequeueWithLease(ctx)
	if !ok || got.JobID != "j1" {
		t.Fatalf("expected reclaimed task, got ok=%v task=%+v", ok, got)
	}
}

func TestDepthCountsReadyAndScheduled(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	_ = q.Schedule(ctx, models.Task{JobID: "now"}, time.Now())
	_ = q.Schedule(ctx, models.Task{JobID: "later"}, time.Now().Add(time.Hour))

	depth, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if depth != 2 {
		t.Fatalf("expected depth 2, got %d", depth)
	}
}
