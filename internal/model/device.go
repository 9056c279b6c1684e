package model

import "time"

// Device is a configured countdown source. The ID comes from config.
type Device struct {
	ID          string `gorm:"primaryKey;size:128"`
	DisplayName string `gorm:"size:256;not null"`
	Transport   string `gorm:"size:16;not null"`
	Source      string `gorm:"size:512"` // URL or NATS subject
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
