package service

import (
	"time"

	"daily-tasks/internal/model"
)

// NextOccurrence returns the next wall-clock instant a reminder of the given
// type should fire, evaluated in now's location. Only hour and minute of
// nominal are used for the time of day; weekly reminders also take its
// weekday and monthly reminders its day of month. Unknown types behave as daily.
func NextOccurrence(kind model.ReminderType, nominal, now time.Time) time.Time {
	loc := now.Location()
	ref := nominal.In(loc)
	hour, minute := ref.Hour(), ref.Minute()
	year, month, day := now.Date()

	switch kind {
	case model.ReminderWeekly:
		offset := (int(ref.Weekday()) - int(now.Weekday()) + 7) % 7
		next := time.Date(year, month, day+offset, hour, minute, 0, 0, loc)
		if offset == 0 && !next.After(now) {
			next = time.Date(year, month, day+7, hour, minute, 0, 0, loc)
		}
		return next

	case model.ReminderMonthly:
		target := ref.Day()
		today := time.Date(year, month, day, hour, minute, 0, 0, loc)
		if day < target || (day == target && today.After(now)) {
			// time.Date normalizes, so a day the month lacks rolls into the next one.
			return time.Date(year, month, target, hour, minute, 0, 0, loc)
		}
		advanced := time.Date(year, month+1, day, hour, minute, 0, 0, loc)
		nextYear, nextMonth, _ := advanced.Date()
		return time.Date(nextYear, nextMonth, target, hour, minute, 0, 0, loc)

	default:
		next := time.Date(year, month, day, hour, minute, 0, 0, loc)
		if !next.After(now) {
			next = time.Date(year, month, day+1, hour, minute, 0, 0, loc)
		}
		return next
	}
}
