package models

import "time"

// ScheduledTimer is the durable journal entry for a pending scheduler timer.
type ScheduledTimer struct {
	ID        string    `gorm:"primaryKey;size:128"`
	Kind      string    `gorm:"size:32;index"`
	Key       string    `gorm:"size:64;index"`
	FireAt    time.Time `gorm:"index"`
	EveryNS   int64
	CronSpec  string `gorm:"size:64"`
	Payload   string `gorm:"type:text"`
	CreatedAt time.Time
}
