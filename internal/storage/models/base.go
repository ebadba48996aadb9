// internal/storage/models/base.go
package models

import "time"

// BaseModel replaces gorm.Model; rows are never soft-deleted.
type BaseModel struct {
	ID        uint      `gorm:"primarykey"`
	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}
