package orchestrator

import "fmt"

// State is one node of the ingestion state machine.
type State string

const (
	StateReceived         State = "RECEIVED"
	StateClassifying      State = "CLASSIFYING"
	StateWriting          State = "WRITING"
	StateRetryWait        State = "RETRY_WAIT"
	StateArchivingSuccess State = "ARCHIVING_SUCCESS"
	StateArchivingFailure State = "ARCHIVING_FAILURE"
	StateDone             State = "DONE"
	StateFailed           State = "FAILED"
)

// StepEvent is an outcome emitted by a step execution.
type StepEvent string

const (
	EventStart            StepEvent = "start"
	EventClassified       StepEvent = "classified"
	EventClassifyFailed   StepEvent = "classify_failed"
	EventWriteSucceeded   StepEvent = "write_succeeded"
	EventWriteRetry       StepEvent = "write_retry"
	EventWriteExhausted   StepEvent = "write_exhausted"
	EventRetryElapsed     StepEvent = "retry_elapsed"
	EventArchiveSucceeded StepEvent = "archive_succeeded"
	EventArchiveExhausted StepEvent = "archive_exhausted"
)

// transitions is the explicit state table: current state x step event ->
// next state. Classification failures skip retry entirely; only exactly one
// of the two archiving states is ever entered for an event.
var transitions = map[State]map[StepEvent]State{
	StateReceived: {
		EventStart: StateClassifying,
	},
	StateClassifying: {
		EventClassified:     StateWriting,
		EventClassifyFailed: StateArchivingFailure,
	},
	StateWriting: {
		EventWriteSucceeded: StateArchivingSuccess,
		EventWriteRetry:     StateRetryWait,
		EventWriteExhausted: StateArchivingFailure,
	},
	StateRetryWait: {
		EventRetryElapsed: StateWriting,
	},
	StateArchivingSuccess: {
		EventArchiveSucceeded: StateDone,
		EventArchiveExhausted: StateFailed,
	},
	// A completed quarantine move still ends in FAILED: DONE is reserved
	// for events whose data actually landed in the target store.
	StateArchivingFailure: {
		EventArchiveSucceeded: StateFailed,
		EventArchiveExhausted: StateFailed,
	},
}

// terminal reports whether a state has no outgoing transitions.
func terminal(s State) bool {
	return s == StateDone || s == StateFailed
}

// next is the pure transition function over the table.
func next(s State, e StepEvent) (State, error) {
	outgoing, ok := transitions[s]
	if !ok {
		return "", fmt.Errorf("orchestrator: no transitions from state %s", s)
	}
	to, ok := outgoing[e]
	if !ok {
		return "", fmt.Errorf("orchestrator: state %s does not accept event %s", s, e)
	}
	return to, nil
}

// validateTable checks the transition table once at construction: every
// non-terminal state must have outgoing transitions, every destination must
// be a known state, and terminal states must have none.
func validateTable() error {
	known := map[State]bool{
		StateReceived: true, StateClassifying: true, StateWriting: true,
		StateRetryWait: true, StateArchivingSuccess: true,
		StateArchivingFailure: true, StateDone: true, StateFailed: true,
	}

	for s := range known {
		outgoing := transitions[s]
		if terminal(s) {
			if len(outgoing) > 0 {
				return fmt.Errorf("orchestrator: terminal state %s has outgoing transitions", s)
			}
			continue
		}
		if len(outgoing) == 0 {
			return fmt.Errorf("orchestrator: state %s has no outgoing transitions", s)
		}
		for e, to := range outgoing {
			if !known[to] {
				return fmt.Errorf("orchestrator: transition %s/%s targets unknown state %s", s, e, to)
			}
		}
	}
	return nil
}
