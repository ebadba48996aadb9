// internal/storage/models/event.go
package models

import (
	"time"

	"gorm.io/datatypes"
)

// EventRecord is the audit row written for every control loop event.
type EventRecord struct {
	BaseModel
	EventType  string         `gorm:"index;not null;type:varchar(64)"`
	PositionID string         `gorm:"index;type:varchar(64)"`
	Payload    datatypes.JSON `gorm:"column:payload"`
	OccurredAt time.Time      `gorm:"index;not null"`
}

// TableName pins the table name.
func (EventRecord) TableName() string { return "event_log" }
