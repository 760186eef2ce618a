package workflow

// Trigger represents an event that can cause a state transition
type Trigger string

const (
	TriggerMaterialize Trigger = "MATERIALIZE"
	TriggerBlock       Trigger = "BLOCK"
	TriggerAdvance     Trigger = "ADVANCE"
	TriggerDelegate    Trigger = "DELEGATE"
	TriggerEscalate    Trigger = "ESCALATE"
	TriggerComplete    Trigger = "COMPLETE"
	TriggerReject      Trigger = "REJECT"
	TriggerCancel      Trigger = "CANCEL"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
