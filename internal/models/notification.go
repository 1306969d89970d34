package models

import (
	"encoding/json"
	"time"
)

// Notification severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Notification is the durable record behind every delivered notification.
type Notification struct {
	ID        string          `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    string          `gorm:"size:64;not null;index:idx_notifications_user_read,priority:1" json:"userId"`
	Category  string          `gorm:"size:64;not null" json:"category"`
	Severity  string          `gorm:"size:16;not null" json:"severity"`
	Title     string          `gorm:"size:255;not null" json:"title"`
	Body      string          `gorm:"type:text" json:"body"`
	Action    json.RawMessage `gorm:"type:jsonb" json:"action,omitempty"`
	IsRead    bool            `gorm:"column:is_read;not null;index:idx_notifications_user_read,priority:2" json:"isRead"`
	ReadAt    *time.Time      `json:"readAt,omitempty"`
	CreatedAt time.Time       `gorm:"index" json:"createdAt"`
}

func (Notification) TableName() string {
	return "notifications"
}
