package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EventType classifies a security event.
type EventType string

const (
	EventTypeRateLimit EventType = "rate_limit"
	EventTypeDDoS      EventType = "ddos"
	EventTypeAbuse     EventType = "abuse"
	EventTypeBlock     EventType = "block"
	EventTypeUnblock   EventType = "unblock"
)

// SecurityEvent is an immutable, append-only record of one evaluated request
// or detector verdict. Rows are only removed by the retention purge; the
// sliding windows age out via time-ranged queries.
type SecurityEvent struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	UUID       string    `json:"uuid" gorm:"uniqueIndex"`
	EventType  EventType `json:"event_type" gorm:"index:idx_events_ip_type_time,priority:2"`
	IP         string    `json:"ip" gorm:"index:idx_events_ip_type_time,priority:1"`
	Identifier string    `json:"identifier" gorm:"index"`
	Endpoint   string    `json:"endpoint"`
	UserAgent  string    `json:"user_agent"`
	StatusCode int       `json:"status_code"`
	Metadata   string    `json:"metadata" gorm:"type:text"`
	CreatedAt  time.Time `json:"created_at" gorm:"index:idx_events_ip_type_time,priority:3"`
}

func (e *SecurityEvent) BeforeCreate(tx *gorm.DB) (err error) {
	if e.UUID == "" {
		e.UUID = uuid.NewString()
	}
	return
}
