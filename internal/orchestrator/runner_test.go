package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"warehouse-relay/internal/config"
	"warehouse-relay/internal/models"
	"warehouse-relay/internal/warehouse"
)

type fakeEngine struct {
	state        models.ExecutionState
	stateErr     error
	page         models.ResultPage
	fetchErr     error
	fetchCalls   int
	errorMessage string
	errorErr     error
}

func (f *fakeEngine) PollStatus(_ context.Context, _ string) (models.ExecutionState, error) {
	return f.state, f.stateErr
}

func (f *fakeEngine) FetchResults(_ context.Context, _ string, _, _ int) (models.ResultPage, error) {
	f.fetchCalls++
	return f.page, f.fetchErr
}

func (f *fakeEngine) FetchErrorMessage(_ context.Context, _ string) (string, error) {
	return f.errorMessage, f.errorErr
}

type fakeQueue struct {
	scheduled []models.Task
	acked     []string
}

func (f *fakeQueue) Schedule(_ context.Context, task models.Task, _ time.Time) error {
	f.scheduled = append(f.scheduled, task)
	return nil
}

func (f *fakeQueue) PromoteDue(context.Context, time.Time, int64) (int, error) { return 0, nil }

func (f *fakeQueue) DequeueWithLease(context.Context) (models.Task, bool, error) {
	return models.Task{}, false, nil
}

func (f *fakeQueue) Ack(_ context.Context, taskID string) error {
	f.acked = append(f.acked, taskID)
	return nil
}

func (f *fakeQueue) RequeueExpired(context.Context, time.Time, int64) ([]string, error) {
	return nil, nil
}

func (f *fakeQueue) Depth(context.Context) (int64, error) { return 0, nil }

type fakeNotifier struct {
	delivered []models.Envelope
	err       error
}

func (f *fakeNotifier) Deliver(_ context.Context, _ string, env models.Envelope) error {
	f.delivered = append(f.delivered, env)
	return f.err
}

func testRunner(engine Engine, q StepQueue, n Deliverer) *Runner {
	cfg := config.Config{PollWait: 5 * time.Second, MaxPollAttempts: 240, ResultPageLimit: 100}
	return NewRunner(cfg, q, engine, n, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func task() models.Task {
	return models.Task{ID: "t1", JobID: "01923abc", ViewName: "daily_sales_view", CallbackURL: "https://cb.example/conn123"}
}

func TestStepNotFoundPollsAgain(t *testing.T) {
	engine := &fakeEngine{stateErr: warehouse.ErrNotFound}
	q := &fakeQueue{}
	n := &fakeNotifier{}

	testRunner(engine, q, n).Step(context.Background(), task())

	if len(n.delivered) != 0 {
		t.Fatalf("no envelope expected while history is empty, got %d", len(n.delivered))
	}
	if len(q.scheduled) != 1 {
		t.Fatalf("expected a rescheduled poll, got %d", len(q.scheduled))
	}
	if q.scheduled[0].Attempts != 1 {
		t.Fatalf("expected attempts=1, got %d", q.scheduled[0].Attempts)
	}
	if q.scheduled[0].JobID != "01923abc" || q.scheduled[0].CallbackURL != "https://cb.example/conn123" {
		t.Fatalf("job context must carry through: %+v", q.scheduled[0])
	}
}

func TestStepRunningPollsAgain(t *testing.T) {
	engine := &fakeEngine{state: models.StateRunning}
	q := &fakeQueue{}
	n := &fakeNotifier{}

	testRunner(engine, q, n).Step(context.Background(), task())

	if len(q.scheduled) != 1 || len(n.delivered) != 0 {
		t.Fatalf("running job should only reschedule: scheduled=%d delivered=%d", len(q.scheduled), len(n.delivered))
	}
}

func TestStepSucceededDeliversOneResultEnvelope(t *testing.T) {
	page := models.ResultPage{Records: []models.Record{{"REGION": "emea", "TOTAL": "42"}}}
	engine := &fakeEngine{state: models.StateSucceeded, page: page}
	q := &fakeQueue{}
	n := &fakeNotifier{}

	testRunner(engine, q, n).Step(context.Background(), task())

	if len(n.delivered) != 1 {
		t.Fatalf("expected exactly one envelope, got %d", len(n.delivered))
	}
	env := n.delivered[0]
	if env.Kind != models.EnvelopeResult || env.JobID != "01923abc" {
		t.Fatalf("wrong envelope: %+v", env)
	}
	if env.Page.Records[0]["TOTAL"] != "42" {
		t.Fatalf("page not carried through: %+v", env.Page)
	}
	if len(q.scheduled) != 0 {
		t.Fatalf("terminal job must not be rescheduled")
	}
	if len(q.acked) != 1 || q.acked[0] != "t1" {
		t.Fatalf("task should be acked, got %v", q.acked)
	}
}

func TestStepFailedDeliversErrorWithoutFetching(t *testing.T) {
	engine := &fakeEngine{state: models.StateFailed, errorMessage: "SQL compilation error"}
	q := &fakeQueue{}
	n := &fakeNotifier{}

	testRunner(engine, q, n).Step(context.Background(), task())

	if engine.fetchCalls != 0 {
		t.Fatalf("result fetcher must not run for a failed job")
	}
	if len(n.delivered) != 1 {
		t.Fatalf("expected exactly one envelope, got %d", len(n.delivered))
	}
	env := n.delivered[0]
	if env.Kind != models.EnvelopeError || env.Message != "SQL compilation error" {
		t.Fatalf("wrong envelope: %+v", env)
	}
}

func TestStepExpiredResultsTerminateWithError(t *testing.T) {
	engine := &fakeEngine{state: models.StateSucceeded, fetchErr: warehouse.ErrResultExpired}
	q := &fakeQueue{}
	n := &fakeNotifier{}

	testRunner(engine, q, n).Step(context.Background(), task())

	if len(n.delivered) != 1 || n.delivered[0].Kind != models.EnvelopeError {
		t.Fatalf("expected single error envelope, got %+v", n.delivered)
	}
	if len(q.scheduled) != 0 {
		t.Fatalf("expired results are terminal, no reschedule")
	}
}

func TestStepPollBudgetExhaustion(t *testing.T) {
	engine := &fakeEngine{state: models.StateRunning}
	q := &fakeQueue{}
	n := &fakeNotifier{}
	r := testRunner(engine, q, n)

	tk := task()
	tk.Attempts = 239
	r.Step(context.Background(), tk)

	if len(q.scheduled) != 0 {
		t.Fatalf("exhausted job must not be rescheduled")
	}
	if len(n.delivered) != 1 || n.delivered[0].Kind != models.EnvelopeError {
		t.Fatalf("exhaustion must deliver an error envelope, got %+v", n.delivered)
	}
}

func TestStepDeliveryFailureStillAcks(t *testing.T) {
	engine := &fakeEngine{state: models.StateSucceeded}
	q := &fakeQueue{}
	n := &fakeNotifier{err: errors.New("callback gone")}

	testRunner(engine, q, n).Step(context.Background(), task())

	if len(q.acked) != 1 {
		t.Fatalf("job must be abandoned after a failed delivery, acked=%v", q.acked)
	}
	if len(q.scheduled) != 0 {
		t.Fatalf("no retry after delivery failure")
	}
}
