// internal/storage/models/hedge.go
package models

import (
	"time"

	"gorm.io/datatypes"
)

// HedgeRecord is one persisted hedge attempt. Orders and receipts are kept
// as JSON so the schema does not follow every order field.
type HedgeRecord struct {
	BaseModel
	ResultID   string         `gorm:"uniqueIndex;not null;type:varchar(64)"`
	PositionID string         `gorm:"index:idx_hedge_position_time;not null;type:varchar(64)"`
	Symbol     string         `gorm:"index;not null;type:varchar(32)"`
	Success    bool           `gorm:"not null"`
	Manual     bool           `gorm:"not null;default:false"`
	TotalCost  float64        `gorm:"not null;default:0"`
	LatencyMs  int64          `gorm:"not null;default:0"`
	Message    string         `gorm:"type:text"`
	Orders     datatypes.JSON `gorm:"column:orders"`
	Receipts   datatypes.JSON `gorm:"column:receipts"`
	ExecutedAt time.Time      `gorm:"index:idx_hedge_position_time;not null"`
}

// TableName pins the table name.
func (HedgeRecord) TableName() string { return "hedge_results" }
