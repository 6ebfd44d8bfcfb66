package models

import "time"

// Confirmation completion states.
const (
	ConfirmationPending   = "pending"
	ConfirmationConfirmed = "confirmed"
)

// Confirmation is the audit record of one agent's latest reply to one job.
type Confirmation struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	JobID           string `gorm:"size:36;not null;uniqueIndex:idx_confirmation_job_agent"`
	AgentAddress    string `gorm:"size:64;not null;uniqueIndex:idx_confirmation_job_agent"`
	Response        string `gorm:"size:16"`
	CompletionState string `gorm:"size:16;default:pending"`
	MessageID       string `gorm:"size:64"`
	Replies         int    `gorm:"default:1"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ConfirmedAt     *time.Time
}

// ProcessedMessage remembers an inbound message id so that a redelivered
// webhook is recognised.
type ProcessedMessage struct {
	MessageID  string `gorm:"primaryKey;size:64"`
	Sender     string `gorm:"size:64;index"`
	Body       string `gorm:"type:text"`
	ReceivedAt time.Time
}
