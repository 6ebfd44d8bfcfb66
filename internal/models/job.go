package models

import "time"

// JobStatus is the lifecycle state of a Job. The string values are part of
// the public API and are stored verbatim.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobAssigned   JobStatus = "assigned"
	JobApproved   JobStatus = "approved"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
)

// Property describes the premises to be inspected.
type Property struct {
	ID        string  `json:"property_id"`
	Title     string  `json:"title"`
	Address   string  `json:"address"`
	Type      string  `json:"property_type,omitempty"`
	Bedrooms  int     `json:"bedrooms,omitempty"`
	Bathrooms int     `json:"bathrooms,omitempty"`
	Price     float64 `json:"price,omitempty"`
	Area      string  `json:"area,omitempty"`
}

// Client is the party who requested the inspection.
type Client struct {
	ID    string `json:"client_id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

// Job is one inspection dispatch cycle.
type Job struct {
	ID            string     `gorm:"primaryKey;size:36" json:"job_id"`
	Status        JobStatus  `gorm:"size:16;default:pending;index" json:"status"`
	AssignedAgent string     `gorm:"size:64;index" json:"assigned_agent,omitempty"`
	PropertyID    string     `gorm:"size:64;index" json:"property_id"`
	ClientPhone   string     `gorm:"size:64;index" json:"client_phone"`
	Property      Property   `gorm:"serializer:json;type:text" json:"property"`
	Client        Client     `gorm:"serializer:json;type:text" json:"client"`
	ScheduledFor  time.Time  `gorm:"index" json:"scheduled_for"`
	Notes         string     `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt     time.Time  `gorm:"index" json:"requested_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	AssignedAt    *time.Time `json:"assigned_at,omitempty"`
	ApprovedAt    *time.Time `json:"approved_at,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}
