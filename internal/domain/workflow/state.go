package workflow

import "github.com/garyjia/approval-engine/internal/domain/entity"

// State represents a workflow instance status in the approval lifecycle
type State string

const (
	StatePending                    State = entity.StatusPending
	StateInProgress                 State = entity.StatusInProgress
	StateAwaitingApproverAssignment State = entity.StatusAwaitingApproverAssignment
	StateApproved                   State = entity.StatusApproved
	StateRejected                   State = entity.StatusRejected
	StateCancelled                  State = entity.StatusCancelled
)

var validStates = map[State]bool{
	StatePending:                    true,
	StateInProgress:                 true,
	StateAwaitingApproverAssignment: true,
	StateApproved:                   true,
	StateRejected:                   true,
	StateCancelled:                  true,
}

var terminalStates = map[State]bool{
	StateApproved:  true,
	StateRejected:  true,
	StateCancelled: true,
}

// IsTerminal returns true if the state is a terminal state (no further transitions allowed)
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a valid workflow state
func (s State) IsValid() bool {
	return validStates[s]
}
