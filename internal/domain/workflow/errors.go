package workflow

import "errors"

var (
	// ErrInvalidTransition is returned when a state transition is not allowed
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState is returned when a state is not valid
	ErrInvalidState = errors.New("invalid state")

	// ErrGuardFailed is returned when a guard condition fails
	ErrGuardFailed = errors.New("guard condition failed")
)

// Engine errors surfaced to callers. Callers match them with errors.Is.
var (
	ErrInstanceNotFound        = errors.New("workflow instance not found")
	ErrInstanceAlreadyTerminal = errors.New("workflow instance already terminal")
	ErrNotCurrentApprover      = errors.New("not a current approver for this step")
	ErrDelegationNotAllowed    = errors.New("delegation not allowed")
	ErrSkipNotAllowed          = errors.New("skip not allowed")
	ErrNotAuthorized           = errors.New("actor not authorized")
	ErrFlowNotFound            = errors.New("no applicable flow definition")
	ErrEmptyChain              = errors.New("approver chain resolved empty")
	ErrConcurrentModification  = errors.New("workflow instance modified concurrently")
	ErrDefinitionInUse         = errors.New("flow definition is bound to instances")
	ErrDefinitionNotFound      = errors.New("flow definition not found")
	ErrInvalidDefinition       = errors.New("invalid flow definition")
	ErrInvalidRequest          = errors.New("invalid request")
)
