package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"warehouse-relay/internal/config"
	"warehouse-relay/internal/models"
	"warehouse-relay/internal/telemetry"
	"warehouse-relay/internal/warehouse"
)

// Engine is the warehouse surface the runner polls and reads from.
type Engine interface {
	PollStatus(ctx context.Context, jobID string) (models.ExecutionState, error)
	FetchResults(ctx context.Context, jobID string, offset, limit int) (models.ResultPage, error)
	FetchErrorMessage(ctx context.Context, jobID string) (string, error)
}

// Deliverer pushes one envelope to a callback address.
type Deliverer interface {
	Deliver(ctx context.Context, callbackURL string, env models.Envelope) error
}

// StepQueue is the scheduler carrying poll steps between invocations.
type StepQueue interface {
	Schedule(ctx context.Context, task models.Task, runAt time.Time) error
	PromoteDue(ctx context.Context, now time.Time, limit int64) (int, error)
	DequeueWithLease(ctx context.Context) (models.Task, bool, error)
	Ack(ctx context.Context, taskID string) error
	RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error)
	Depth(ctx context.Context) (int64, error)
}

// Runner drives scheduled poll steps to a terminal notification. Each step is
// self-contained: the task envelope carries the jobID and callback URL, so any
// worker instance can run any step.
type Runner struct {
	cfg      config.Config
	queue    StepQueue
	engine   Engine
	notifier Deliverer
	log      *slog.Logger
}

func NewRunner(cfg config.Config, q StepQueue, engine Engine, notifier Deliverer, log *slog.Logger) *Runner {
	return &Runner{cfg: cfg, queue: q, engine: engine, notifier: notifier, log: log}
}

// Run processes steps until context cancellation.
func (r *Runner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, _ = r.queue.PromoteDue(ctx, time.Now(), 100)
		if reclaimed, _ := r.queue.RequeueExpired(ctx, time.Now(), 100); len(reclaimed) > 0 {
			r.log.Warn("reclaimed expired step leases", "count", len(reclaimed))
		}
		if depth, err := r.queue.Depth(ctx); err == nil {
			telemetry.StepQueueDepth.Set(float64(depth))
		}

		task, ok, err := r.queue.DequeueWithLease(ctx)
		if err != nil {
			r.log.Error("dequeue failed", "error", err)
			sleepOrDone(ctx, time.Second)
			continue
		}
		if !ok {
			sleepOrDone(ctx, time.Second)
			continue
		}

		r.Step(ctx, task)
	}
}

// Step runs one poll iteration for a job and either reschedules or delivers
// the terminal envelope. Exactly one terminal envelope leaves per job: the
// task is acked after the single delivery attempt regardless of its outcome.
func (r *Runner) Step(ctx context.Context, task models.Task) {
	telemetry.StatusPolls.Inc()

	state, err := r.engine.PollStatus(ctx, task.JobID)
	if err != nil {
		// NotFound right after submission and transient engine trouble both
		// mean the same thing here: look again later.
		if errors.Is(err, warehouse.ErrNotFound) || errors.Is(err, warehouse.ErrUnavailable) {
			r.reschedule(ctx, task)
			return
		}
		r.log.Error("status poll failed", "job_id", task.JobID, "error", err)
		r.reschedule(ctx, task)
		return
	}

	switch Next(state) {
	case DecisionPollAgain:
		r.reschedule(ctx, task)
	case DecisionDeliverResults:
		r.deliverResults(ctx, task)
	case DecisionDeliverError:
		r.deliverError(ctx, task)
	}
}

func (r *Runner) deliverResults(ctx context.Context, task models.Task) {
	page, err := r.engine.FetchResults(ctx, task.JobID, 0, r.cfg.ResultPageLimit)
	if err != nil {
		if errors.Is(err, warehouse.ErrUnavailable) {
			r.reschedule(ctx, task)
			return
		}
		// ResultExpired and the rest are terminal: the client still gets
		// exactly one envelope, just an error one.
		r.finish(ctx, task, models.ErrorEnvelope(task.JobID, err.Error()))
		return
	}
	r.finish(ctx, task, models.ResultEnvelope(task.JobID, page))
}

func (r *Runner) deliverError(ctx context.Context, task models.Task) {
	message, err := r.engine.FetchErrorMessage(ctx, task.JobID)
	if err != nil {
		r.log.Error("error lookup failed", "job_id", task.JobID, "error", err)
		message = fmt.Sprintf("query %s failed; error detail unavailable", task.JobID)
	}
	r.finish(ctx, task, models.ErrorEnvelope(task.JobID, message))
}

// finish makes the single terminal delivery attempt and abandons the job.
// A failed push is logged, not retried.
func (r *Runner) finish(ctx context.Context, task models.Task, env models.Envelope) {
	if err := r.notifier.Deliver(ctx, task.CallbackURL, env); err != nil {
		telemetry.DeliveryFailures.Inc()
		r.log.Error("terminal delivery failed", "job_id", task.JobID, "kind", string(env.Kind), "error", err)
	} else {
		telemetry.Notifications.WithLabelValues(string(env.Kind)).Inc()
	}
	if err := r.queue.Ack(ctx, task.ID); err != nil {
		r.log.Error("ack failed", "task_id", task.ID, "error", err)
	}
}

// reschedule queues the next poll after the configured wait, unless the poll
// budget is spent, in which case the job terminates with an error envelope.
func (r *Runner) reschedule(ctx context.Context, task models.Task) {
	next := task
	next.ID = ""
	next.Attempts++

	if r.cfg.MaxPollAttempts > 0 && next.Attempts >= r.cfg.MaxPollAttempts {
		telemetry.PollsExhausted.Inc()
		r.finish(ctx, task, models.ErrorEnvelope(task.JobID,
			fmt.Sprintf("query %s did not reach a terminal state within the polling budget", task.JobID)))
		return
	}

	if err := r.queue.Schedule(ctx, next, time.Now().Add(r.cfg.PollWait)); err != nil {
		// Leave the lease to expire; the step will be reclaimed and retried.
		r.log.Error("reschedule failed", "job_id", task.JobID, "error", err)
		return
	}
	if err := r.queue.Ack(ctx, task.ID); err != nil {
		r.log.Error("ack failed", "task_id", task.ID, "error", err)
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
