package entity

// Notification is a message handed to the notification dispatcher after a
// committed transition.
type Notification struct {
	TenantID   string   `json:"tenant_id"`
	InstanceID string   `json:"instance_id"`
	Kind       string   `json:"kind"`
	Recipients []string `json:"recipients"`
	Title      string   `json:"title"`
	Body       string   `json:"body"`
}

// Notification kinds
const (
	NotifyApprovalRequested = "approval_requested"
	NotifyEscalated         = "escalated"
	NotifyAwaitingAssign    = "awaiting_assignment"
	NotifyCompleted         = "completed"
)
