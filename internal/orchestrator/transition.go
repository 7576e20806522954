package orchestrator

import (
	"warehouse-relay/internal/models"
)

// Decision is the next action for a job given its observed execution state.
type Decision int

const (
	// DecisionPollAgain means wait the poll interval and look again.
	DecisionPollAgain Decision = iota
	// DecisionDeliverResults means fetch a result page and push it.
	DecisionDeliverResults
	// DecisionDeliverError means look up the engine's error message and push it.
	DecisionDeliverError
)

// Next is the whole state machine: a pure function of the observed state, so
// the scheduler may invoke a step any number of times without side effects
// here. Anything not terminal keeps polling.
func Next(state models.ExecutionState) Decision {
	switch state {
	case models.StateSucceeded:
		return DecisionDeliverResults
	case models.StateFailed:
		return DecisionDeliverError
	default:
		return DecisionPollAgain
	}
}
