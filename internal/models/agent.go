package models

import "time"

// Agent status values.
const (
	AgentActive   = "active"
	AgentInactive = "inactive"
)

// Agent is a field inspector who can be offered jobs. Address is the
// messaging identity (a phone number for WhatsApp).
type Agent struct {
	ID               string    `gorm:"primaryKey;size:36" json:"agent_id"`
	Address          string    `gorm:"size:64;uniqueIndex;not null" json:"phone"`
	Name             string    `gorm:"size:128" json:"name"`
	Email            string    `gorm:"size:128" json:"email,omitempty"`
	Status           string    `gorm:"size:16;default:active;index" json:"status"`
	Zone             string    `gorm:"size:64;index" json:"zone,omitempty"`
	Specializations  []string  `gorm:"serializer:json;type:text" json:"specializations,omitempty"`
	ExperienceYears  int       `json:"experience_years"`
	Rating           float64   `json:"rating"`
	TotalInspections int       `gorm:"default:0" json:"total_inspections"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// IsActive reports whether the agent may receive offers.
func (a Agent) IsActive() bool { return a.Status == AgentActive }
