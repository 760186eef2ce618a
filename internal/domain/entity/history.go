package entity

import "time"

// TimelineEntry is an append-only record of one state transition.
type TimelineEntry struct {
	ID         int64     `json:"id"`
	InstanceID string    `json:"instance_id"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	FromStatus string    `json:"from_status,omitempty"`
	ToStatus   string    `json:"to_status"`
	StepIndex  int       `json:"step_index"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
