package model

import "time"

// KVEntry is one row of the flat key-value store.
type KVEntry struct {
	Key       string `gorm:"primaryKey;size:128"`
	Value     string
	UpdatedAt time.Time
}

func (KVEntry) TableName() string { return "kv_entries" }
