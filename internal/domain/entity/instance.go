package entity

import "time"

// WorkflowInstance is one running execution of a flow definition bound to a
// business request.
type WorkflowInstance struct {
	ID                  string                 `json:"id"`
	TenantID            string                 `json:"tenant_id"`
	RequestID           string                 `json:"request_id"`
	DocumentType        string                 `json:"document_type"`
	FlowDefinitionID    string                 `json:"flow_definition_id,omitempty"`
	RequesterID         string                 `json:"requester_id"`
	Attributes          map[string]interface{} `json:"attributes,omitempty"`
	CurrentStepIndex    int                    `json:"current_step_index"`
	Status              string                 `json:"status"`
	Chain               []ChainMember          `json:"chain"`
	ChainGeneration     int                    `json:"chain_generation"`
	ChainMaterializedAt *time.Time             `json:"chain_materialized_at,omitempty"`
	Version             int64                  `json:"version"`
	CreatedAt           time.Time              `json:"created_at"`
	UpdatedAt           time.Time              `json:"updated_at"`
	CompletedAt         *time.Time             `json:"completed_at,omitempty"`
}

// ChainMember is one approver slot of the current step's materialized chain.
type ChainMember struct {
	ApproverID    string `json:"approver_id"`
	Position      int    `json:"position"`
	DelegatedFrom string `json:"delegated_from,omitempty"`
}

// StepRecord is a single decision taken on a step.
type StepRecord struct {
	ID         int64     `json:"id"`
	InstanceID string    `json:"instance_id"`
	StepIndex  int       `json:"step_index"`
	Generation int       `json:"generation"`
	ApproverID string    `json:"approver_id"`
	Decision   string    `json:"decision"`
	Comment    string    `json:"comment,omitempty"`
	DecidedAt  time.Time `json:"decided_at"`
}

// IsTerminal reports whether the instance accepts no further actions.
func (i *WorkflowInstance) IsTerminal() bool {
	switch i.Status {
	case StatusApproved, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// IsBound reports whether a flow definition has been bound.
func (i *WorkflowInstance) IsBound() bool {
	return i.FlowDefinitionID != ""
}

// InChain reports whether approverID currently holds a chain slot.
func (i *WorkflowInstance) InChain(approverID string) bool {
	for _, m := range i.Chain {
		if m.ApproverID == approverID {
			return true
		}
	}
	return false
}

// ChainApprovers returns the approver IDs of the current chain in order.
func (i *WorkflowInstance) ChainApprovers() []string {
	ids := make([]string, 0, len(i.Chain))
	for _, m := range i.Chain {
		ids = append(ids, m.ApproverID)
	}
	return ids
}

// Clone returns a copy that shares no mutable state with i.
func (i *WorkflowInstance) Clone() *WorkflowInstance {
	if i == nil {
		return nil
	}
	out := *i
	out.Chain = append([]ChainMember(nil), i.Chain...)
	if i.Attributes != nil {
		out.Attributes = make(map[string]interface{}, len(i.Attributes))
		for k, v := range i.Attributes {
			out.Attributes[k] = v
		}
	}
	if i.ChainMaterializedAt != nil {
		t := *i.ChainMaterializedAt
		out.ChainMaterializedAt = &t
	}
	if i.CompletedAt != nil {
		t := *i.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// NewChain builds chain members from an ordered approver list.
func NewChain(approverIDs []string) []ChainMember {
	chain := make([]ChainMember, 0, len(approverIDs))
	for i, id := range approverIDs {
		chain = append(chain, ChainMember{ApproverID: id, Position: i})
	}
	return chain
}
