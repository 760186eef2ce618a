package workflow

import "context"

// StateMachine represents a state machine that tracks current state and validates transitions
type StateMachine interface {
	// State returns the current state
	State() State

	// CanFire returns true if the trigger is permitted in the current state
	CanFire(trigger Trigger) bool

	// Target resolves the destination of trigger without changing state
	Target(ctx context.Context, trigger Trigger) (State, error)

	// Fire attempts to execute the trigger, transitioning to the new state if allowed
	Fire(ctx context.Context, trigger Trigger) error

	// PermittedTriggers returns all triggers that can be fired in the current state
	PermittedTriggers() []Trigger
}

// BuildInstanceStateMachine returns the status machine every workflow
// instance follows. Terminal states have no outgoing transitions.
func BuildInstanceStateMachine(initialState State) StateMachine {
	builder := NewBuilder()

	builder.Configure(StatePending).
		Permit(TriggerMaterialize, StateInProgress).
		Permit(TriggerBlock, StateAwaitingApproverAssignment).
		Permit(TriggerCancel, StateCancelled)

	builder.Configure(StateInProgress).
		PermitReentry(TriggerAdvance).
		PermitReentry(TriggerDelegate).
		PermitReentry(TriggerEscalate).
		Permit(TriggerComplete, StateApproved).
		Permit(TriggerReject, StateRejected).
		Permit(TriggerBlock, StateAwaitingApproverAssignment).
		Permit(TriggerCancel, StateCancelled)

	builder.Configure(StateAwaitingApproverAssignment).
		Permit(TriggerMaterialize, StateInProgress).
		PermitReentry(TriggerBlock).
		Permit(TriggerCancel, StateCancelled)

	return builder.Build(initialState)
}
