// Package workflow decides which state moves are legal for a task. It is
// pure: callers load a snapshot of the workflow's transitions and states and
// the validator computes the legal next states from it.
package workflow

import (
	"github.com/google/uuid"

	"trackline/internal/domain"
	"trackline/internal/fault"
)

// AnyStateID is the reserved all-zero identifier stored in
// workflow_transitions.from_state when a transition is legal from every
// state. The storage layer cannot index a nullable column in the uniqueness
// constraint, so the sentinel stands in for "no source state".
var AnyStateID = uuid.Nil.String()

// Source is the origin of a transition: a specific state or the any-state
// wildcard. It keeps the sentinel out of comparison logic.
type Source struct {
	Any     bool
	StateID string
}

// SourceOf decodes a stored from_state column into a Source.
func SourceOf(fromState string) Source {
	if fromState == AnyStateID {
		return Source{Any: true}
	}
	return Source{StateID: fromState}
}

// SpecificSource builds a Source for one state.
func SpecificSource(stateID string) Source { return Source{StateID: stateID} }

// AnySource is the wildcard origin.
func AnySource() Source { return Source{Any: true} }

// Encode returns the stored column value for a Source.
func (s Source) Encode() string {
	if s.Any {
		return AnyStateID
	}
	return s.StateID
}

// Snapshot is the in-memory view the validator operates on. A zero
// WorkflowID means the task type has no workflow configured.
type Snapshot struct {
	WorkflowID  string
	States      []domain.State
	Transitions []domain.WorkflowTransition
}

// Unrestricted reports whether the snapshot enforces nothing: no workflow
// assigned or no states defined. Projects that have not configured workflows
// keep full task movement.
func (s Snapshot) Unrestricted() bool {
	return s.WorkflowID == "" || len(s.States) == 0
}

// NextValidStates returns the states a task may move to from currentStateID.
// A nil current state is the bootstrap case: a freshly created task may be
// placed into any state of the workflow once.
func (s Snapshot) NextValidStates(currentStateID *string) []domain.State {
	if s.Unrestricted() {
		return s.States
	}
	if currentStateID == nil {
		return s.States
	}
	allowed := map[string]bool{}
	for _, tr := range s.Transitions {
		src := SourceOf(tr.FromState)
		if src.Any || src.StateID == *currentStateID {
			allowed[tr.ToState] = true
		}
	}
	var res []domain.State
	for _, st := range s.States {
		if allowed[st.ID] {
			res = append(res, st)
		}
	}
	return res
}

// IsTransitionLegal reports whether moving from fromStateID to toStateID is
// allowed. From a nil state every workflow state is reachable.
func (s Snapshot) IsTransitionLegal(fromStateID *string, toStateID string) bool {
	if s.Unrestricted() {
		return true
	}
	for _, st := range s.NextValidStates(fromStateID) {
		if st.ID == toStateID {
			return true
		}
	}
	return false
}

// EnsureTransition returns a ValidationError when the move is illegal.
func (s Snapshot) EnsureTransition(fromStateID *string, toStateID string) error {
	if s.IsTransitionLegal(fromStateID, toStateID) {
		return nil
	}
	return fault.Validation("illegal workflow transition")
}

// HasState reports whether the state belongs to the snapshot's workflow.
func (s Snapshot) HasState(stateID string) bool {
	for _, st := range s.States {
		if st.ID == stateID {
			return true
		}
	}
	return false
}
