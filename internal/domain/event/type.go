package event

// Type identifies the type of domain event
type Type string

const (
	TypeInstanceStarted            Type = "instance.started"
	TypeInstanceAwaitingAssignment Type = "instance.awaiting_assignment"
	TypeInstanceApproved           Type = "instance.approved"
	TypeInstanceRejected           Type = "instance.rejected"
	TypeInstanceCancelled          Type = "instance.cancelled"
	TypeChainMaterialized          Type = "chain.materialized"
	TypeStepApproved               Type = "step.approved"
	TypeStepAdvanced               Type = "step.advanced"
	TypeStepDelegated              Type = "step.delegated"
	TypeStepSkipped                Type = "step.skipped"
	TypeStepEscalated              Type = "step.escalated"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeInstanceStarted,
		TypeInstanceAwaitingAssignment,
		TypeInstanceApproved,
		TypeInstanceRejected,
		TypeInstanceCancelled,
		TypeChainMaterialized,
		TypeStepApproved,
		TypeStepAdvanced,
		TypeStepDelegated,
		TypeStepSkipped,
		TypeStepEscalated:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the event closes an instance
func (t Type) IsTerminal() bool {
	return t == TypeInstanceApproved || t == TypeInstanceRejected || t == TypeInstanceCancelled
}
