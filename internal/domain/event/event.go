package event

import (
	"time"

	"github.com/google/uuid"
)

// Payload keys shared by publishers and subscribers
const (
	PayloadApprovers     = "approvers"
	PayloadStepIndex     = "step_index"
	PayloadFromStatus    = "from_status"
	PayloadToStatus      = "to_status"
	PayloadRequesterID   = "requester_id"
	PayloadDocumentType  = "document_type"
	PayloadDelegateTo    = "delegate_to"
	PayloadComment       = "comment"
	PayloadFlowID        = "flow_definition_id"
	PayloadGeneration    = "chain_generation"
	PayloadReplaced      = "replaced"
	PayloadBlockedReason = "blocked_reason"
)

// Event represents a domain event emitted after a committed transition
type Event struct {
	ID            string                 `json:"id"`
	Type          Type                   `json:"type"`
	TenantID      string                 `json:"tenant_id"`
	InstanceID    string                 `json:"instance_id"`
	Actor         string                 `json:"actor"`
	Payload       map[string]interface{} `json:"payload"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`
}

// NewEvent creates a new domain event with auto-generated ID and timestamp
func NewEvent(eventType Type, tenantID, instanceID, actor string, payload map[string]interface{}) *Event {
	return NewEventWithCorrelation(eventType, tenantID, instanceID, actor, payload, uuid.NewString())
}

// NewEventWithCorrelation creates an event linked to a correlation chain.
// All events produced by one engine operation share a correlation ID.
func NewEventWithCorrelation(eventType Type, tenantID, instanceID, actor string, payload map[string]interface{}, correlationID string) *Event {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	return &Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		TenantID:      tenantID,
		InstanceID:    instanceID,
		Actor:         actor,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
	}
}

// WithPayload returns a new Event with an added payload key-value pair (immutable operation)
func (e *Event) WithPayload(key string, value interface{}) *Event {
	newPayload := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		newPayload[k] = v
	}
	newPayload[key] = value

	out := *e
	out.Payload = newPayload
	return &out
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetPayloadInt retrieves an int64 value from the payload
func (e *Event) GetPayloadInt(key string) int64 {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case int64:
			return v
		case int:
			return int64(v)
		case float64:
			return int64(v)
		}
	}
	return 0
}

// GetPayloadStrings retrieves a string list from the payload
func (e *Event) GetPayloadStrings(key string) []string {
	val, ok := e.Payload[key]
	if !ok {
		return nil
	}
	switch v := val.(type) {
	case []string:
		return append([]string(nil), v...)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
