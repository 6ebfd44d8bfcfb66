package models

import "time"

// NotificationLog records one outbound send attempt.
type NotificationLog struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	Address        string `gorm:"size:64;index"`
	Purpose        string `gorm:"size:32;index"`
	JobID          string `gorm:"size:36;index"`
	MessageID      string `gorm:"size:64;index"`
	Success        bool
	Error          string `gorm:"type:text"`
	DeliveryStatus string `gorm:"size:16"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
