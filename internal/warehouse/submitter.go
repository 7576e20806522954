package warehouse

import (
	"context"
	"sync"

	"warehouse-relay/internal/telemetry"
)

// Submitter starts queries and parks their sessions. The engine may abort a
// statement whose session goes away, so a successful submission transfers
// handle ownership into the registry instead of closing it on return. Nothing
// ever releases these handles; that leak is the documented price of keeping
// server-side execution alive past the submitting call.
type Submitter struct {
	connector *Connector

	mu   sync.Mutex
	held []*Handle
}

func NewSubmitter(connector *Connector) *Submitter {
	return &Submitter{connector: connector}
}

// Submit runs the view asynchronously and returns the engine-assigned job ID
// as soon as the engine accepts the statement.
func (s *Submitter) Submit(ctx context.Context, viewName string) (string, error) {
	h, err := s.connector.Open(ctx)
	if err != nil {
		return "", err
	}

	jobID, err := h.submitAsync(ctx, viewName)
	if err != nil {
		_ = h.Close()
		return "", err
	}

	s.mu.Lock()
	s.held = append(s.held, h)
	telemetry.HeldSessionsGauge.Set(float64(len(s.held)))
	s.mu.Unlock()
	return jobID, nil
}

// HeldSessions reports how many submission sessions are parked.
func (s *Submitter) HeldSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.held)
}
