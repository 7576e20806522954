package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"warehouse-relay/internal/config"
	"warehouse-relay/internal/models"
	"warehouse-relay/internal/orchestrator"
	"warehouse-relay/internal/ratelimit"
	"warehouse-relay/internal/telemetry"
	"warehouse-relay/internal/warehouse"
)

// Submitter starts a warehouse run and returns the engine-assigned job ID.
type Submitter interface {
	Submit(ctx context.Context, viewName string) (string, error)
}

// Fetcher reads a page of a completed run's output.
type Fetcher interface {
	FetchResults(ctx context.Context, jobID string, offset, limit int) (models.ResultPage, error)
}

// Scheduler queues the first poll step for a submitted job.
type Scheduler interface {
	Schedule(ctx context.Context, task models.Task, runAt time.Time) error
}

// Server wires the inbound request surface. Clients get an immediate
// acknowledgment; outcomes arrive later on the push channel.
type Server struct {
	cfg       config.Config
	submitter Submitter
	fetcher   Fetcher
	notifier  orchestrator.Deliverer
	steps     Scheduler
	limiter   *ratelimit.TokenBucket
	log       *slog.Logger
}

func New(cfg config.Config, submitter Submitter, fetcher Fetcher, notifier orchestrator.Deliverer, steps Scheduler, limiter *ratelimit.TokenBucket, log *slog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		submitter: submitter,
		fetcher:   fetcher,
		notifier:  notifier,
		steps:     steps,
		limiter:   limiter,
		log:       log,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/runs", s.handleRun)
	r.Post("/results", s.handleResults)
	r.Post("/connect", s.handleConnect)
	r.Post("/disconnect", s.handleDisconnect)
	r.Post("/ping", s.handlePing)
	return r
}

type runRequest struct {
	ViewName    string `json:"view_name"`
	CallbackURL string `json:"callback_url"`
}

type runResponse struct {
	JobID   string `json:"job_id"`
	Message string `json:"message"`
}

type resultsRequest struct {
	QueryID     string `json:"query_id"`
	Offset      any    `json:"offset"`
	CallbackURL string `json:"callback_url"`
}

type resultsResponse struct {
	QueryID string          `json:"query_id"`
	Results []models.Record `json:"results"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	// Malformed bodies degrade to the zero request instead of failing the call.
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.log.Debug("run request body could not be decoded", "error", err)
	}
	if req.ViewName == "" {
		http.Error(w, "view_name is required", http.StatusBadRequest)
		return
	}
	callback := callbackFromRequest(r, req.CallbackURL)
	if callback == "" {
		http.Error(w, "callback address is required", http.StatusBadRequest)
		return
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(r.Context(), "rl:"+clientFromRequest(r))
		if err != nil {
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	jobID, err := s.submitter.Submit(r.Context(), req.ViewName)
	if err != nil {
		telemetry.SubmitFailures.Inc()
		s.log.Error("submission failed", "view", req.ViewName, "error", err)
		http.Error(w, "submission failed", http.StatusBadGateway)
		return
	}
	telemetry.QueriesSubmitted.Inc()

	// Submission-time ack is best effort; the terminal envelope is the one
	// that must land.
	if err := s.notifier.Deliver(r.Context(), callback, models.AckEnvelope(jobID)); err != nil {
		s.log.Warn("ack delivery failed", "job_id", jobID, "error", err)
	}

	task := models.Task{
		ID:          uuid.NewString(),
		JobID:       jobID,
		ViewName:    req.ViewName,
		CallbackURL: callback,
		SubmittedAt: time.Now().UTC(),
	}
	if err := s.steps.Schedule(r.Context(), task, time.Now().Add(s.cfg.PollWait)); err != nil {
		s.log.Error("schedule first poll failed", "job_id", jobID, "error", err)
		http.Error(w, "failed to schedule status tracking", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, runResponse{JobID: jobID, Message: "Request submitted. Please wait..."})
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	var req resultsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.log.Debug("results request body could not be decoded", "error", err)
	}
	if req.QueryID == "" {
		http.Error(w, "No query_id provided.", http.StatusBadRequest)
		return
	}

	offset, _ := asInt(req.Offset)
	page, err := s.fetcher.FetchResults(r.Context(), req.QueryID, offset, s.cfg.ResultPageLimit)
	if err != nil {
		switch {
		case errors.Is(err, warehouse.ErrResultExpired):
			http.Error(w, "results no longer available", http.StatusGone)
		case errors.Is(err, warehouse.ErrUnavailable):
			http.Error(w, "engine unavailable", http.StatusServiceUnavailable)
		default:
			http.Error(w, "fetch failed", http.StatusInternalServerError)
		}
		return
	}

	if callback := callbackFromRequest(r, req.CallbackURL); callback != "" {
		if err := s.notifier.Deliver(r.Context(), callback, models.ResultEnvelope(req.QueryID, page)); err != nil {
			telemetry.DeliveryFailures.Inc()
			s.log.Warn("result push failed", "job_id", req.QueryID, "error", err)
		} else {
			telemetry.Notifications.WithLabelValues(string(models.EnvelopeResult)).Inc()
		}
	}

	records := page.Records
	if records == nil {
		records = []models.Record{}
	}
	writeJSON(w, http.StatusOK, resultsResponse{QueryID: req.QueryID, Results: records})
}

// Push-channel lifecycle events are acknowledged but keep no session state.
func (s *Server) handleConnect(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Connect successful."))
}

func (s *Server) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Disconnect successful."))
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("PONG!"))
}

func callbackFromRequest(r *http.Request, bodyValue string) string {
	if bodyValue != "" {
		return bodyValue
	}
	return r.Header.Get("X-Callback-URL")
}

func clientFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Client-ID"); v != "" {
		return v
	}
	return "default"
}

// asInt tolerates offsets arriving as JSON numbers or strings.
func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case float64:
		return int(t), true
	case int:
		return t, true
	case int64:
		return int(t), true
	case string:
		if i, err := strconv.Atoi(t); err == nil {
			return i, true
		}
		return 0, false
	default:
		return 0, false
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
