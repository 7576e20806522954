package models

import (
	"time"
)

// ExecutionState is the lifecycle state the warehouse engine reports for a
// submitted query. It is re-derived on every poll, never stored.
type ExecutionState string

const (
	StateRunning   ExecutionState = "RUNNING"
	StateSucceeded ExecutionState = "SUCCEEDED"
	StateFailed    ExecutionState = "FAILED"
)

// Job identifies one asynchronously executing warehouse query. The ID is
// assigned by the engine at submission and immutable afterwards; everything a
// later step needs travels on the struct because the process that submitted
// the query is usually not the process that polls or notifies.
type Job struct {
	ID          string    `json:"job_id"`
	ViewName    string    `json:"view_name"`
	CallbackURL string    `json:"callback_url"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Record is one result row with every value rendered to text. Clients consume
// this stringly-typed shape on purpose; do not "fix" it to native types.
type Record map[string]string

// ResultPage is a bounded, ordered slice of a job's materialized output.
type ResultPage struct {
	Records []Record
	Offset  int
	Limit   int
}

// EnvelopeKind discriminates the callback payload variants.
type EnvelopeKind string

const (
	EnvelopeAck    EnvelopeKind = "ack"
	EnvelopeResult EnvelopeKind = "result"
	EnvelopeError  EnvelopeKind = "error"
)

// Envelope is the single payload pushed to a callback address. Exactly one
// terminal envelope (result or error) is delivered per job; an ack may
// additionally be sent once at submission time.
type Envelope struct {
	Kind    EnvelopeKind
	JobID   string
	Page    ResultPage
	Message string
}

// AckEnvelope builds the submission-time acknowledgment.
func AckEnvelope(jobID string) Envelope {
	return Envelope{Kind: EnvelopeAck, JobID: jobID, Message: "Now running query_id: " + jobID}
}

// ResultEnvelope wraps a fetched page as the terminal success payload.
func ResultEnvelope(jobID string, page ResultPage) Envelope {
	return Envelope{Kind: EnvelopeResult, JobID: jobID, Page: page}
}

// ErrorEnvelope wraps an engine error message as the terminal failure payload.
func ErrorEnvelope(jobID, message string) Envelope {
	return Envelope{Kind: EnvelopeError, JobID: jobID, Message: message}
}

// Task is the unit the step scheduler carries between invocations. It holds
// the complete job context so a worker can run any step with no other state.
type Task struct {
	ID          string    `json:"task_id"`
	JobID       string    `json:"job_id"`
	ViewName    string    `json:"view_name"`
	CallbackURL string    `json:"callback_url"`
	Attempts    int       `json:"attempts"`
	SubmittedAt time.Time `json:"submitted_at"`
}
