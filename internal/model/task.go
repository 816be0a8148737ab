package model

import (
	"strings"
	"time"
)

// ReminderType is the recurrence class of a task's reminder.
type ReminderType string

const (
	ReminderDaily   ReminderType = "daily"
	ReminderWeekly  ReminderType = "weekly"
	ReminderMonthly ReminderType = "monthly"
)

// ParseReminderType normalizes raw input. Anything unknown becomes daily.
func ParseReminderType(raw string) ReminderType {
	switch ReminderType(strings.ToLower(strings.TrimSpace(raw))) {
	case ReminderWeekly:
		return ReminderWeekly
	case ReminderMonthly:
		return ReminderMonthly
	default:
		return ReminderDaily
	}
}

// Valid reports whether t is one of the known reminder types.
func (t ReminderType) Valid() bool {
	switch t {
	case ReminderDaily, ReminderWeekly, ReminderMonthly:
		return true
	}
	return false
}

// Task represents a single to-do item with its recurring reminder.
type Task struct {
	ID           string       `gorm:"primaryKey;size:36" json:"id"`
	Title        string       `json:"title"`
	Description  string       `json:"description"`
	Category     string       `gorm:"index" json:"category"`
	ReminderTime time.Time    `gorm:"index" json:"reminderTime"`
	ReminderType ReminderType `gorm:"size:16;default:daily" json:"reminderType"`
	Completed    bool         `gorm:"default:false" json:"completed"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}
