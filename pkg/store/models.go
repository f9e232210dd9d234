package store

import (
	"time"

	"gorm.io/datatypes"
)

// EntryModel is one persisted key.
type EntryModel struct {
	Key       string         `gorm:"column:entry_key;primaryKey"`
	Value     datatypes.JSON `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null;index"`
}

func (EntryModel) TableName() string {
	return "kv_entries"
}
