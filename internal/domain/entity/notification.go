package entity

import "time"

// NotificationLog records one delivery attempt to an approver
type NotificationLog struct {
	ID           int64      `json:"id"`
	RequestID    string     `json:"request_id"`
	ApprovalID   int64      `json:"approval_id,omitempty"`
	Recipient    string     `json:"recipient"`
	Channel      string     `json:"channel"`
	Subject      string     `json:"subject"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Contact is a resolved approver or identity
type Contact struct {
	Email      string   `json:"email"`
	Name       string   `json:"name,omitempty"`
	Department string   `json:"department,omitempty"`
	Title      string   `json:"title,omitempty"`
	ManagerID  string   `json:"manager_id,omitempty"`
	MemberOf   []string `json:"member_of,omitempty"`
}
