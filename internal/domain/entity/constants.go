package entity

// Status constants for WorkflowInstance
const (
	StatusPending                    = "pending"
	StatusInProgress                 = "in_progress"
	StatusAwaitingApproverAssignment = "awaiting_approver_assignment"
	StatusApproved                   = "approved"
	StatusRejected                   = "rejected"
	StatusCancelled                  = "cancelled"
)

// Execution modes for FlowStep
const (
	ExecutionSequential = "sequential"
	ExecutionParallel   = "parallel"
)

// Approver rule kinds
const (
	RuleUser          = "user"
	RuleRole          = "role"
	RulePositionLevel = "position_level"
	RuleHierarchy     = "hierarchy"
)

// Condition operators
const (
	OpEq       = "eq"
	OpNeq      = "neq"
	OpGt       = "gt"
	OpGte      = "gte"
	OpLt       = "lt"
	OpLte      = "lte"
	OpIn       = "in"
	OpContains = "contains"
)

// StepRecord decisions
const (
	DecisionApproved  = "approved"
	DecisionRejected  = "rejected"
	DecisionDelegated = "delegated"
	DecisionSkipped   = "skipped"
	DecisionEscalated = "escalated"
)

// Timeline actions
const (
	ActionStart           = "start"
	ActionApprove         = "approve"
	ActionReject          = "reject"
	ActionDelegate        = "delegate"
	ActionSkip            = "skip"
	ActionCancel          = "cancel"
	ActionEscalate        = "escalate"
	ActionAssign          = "assign"
	ActionRetryRouting    = "retry_routing"
	ActionStepAdvanced    = "step_advanced"
	ActionAwaitAssignment = "await_assignment"
)

// SystemActor is recorded for transitions not caused by a user.
const SystemActor = "system"
