package entity

import "time"

// TimelineEvent is an append-only audit entry. One is written per transition.
type TimelineEvent struct {
	ID          int64     `json:"id"`
	RequestID   string    `json:"request_id"`
	EventType   string    `json:"event_type"`
	Description string    `json:"description"`
	Actor       string    `json:"actor,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}
