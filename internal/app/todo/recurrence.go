package todo

import (
	"errors"
	"time"
)

// ErrUnknownRecurrence signals a recurrence value that passed no upstream
// validation. It is a data error, not a user-facing one.
var ErrUnknownRecurrence = errors.New("unknown recurrence kind")

// Recurrence governs how a completed todo's due date advances.
type Recurrence string

const (
	RecurrenceDaily   Recurrence = "daily"
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceMonthly Recurrence = "monthly"
	RecurrenceYearly  Recurrence = "yearly"
)

func (r Recurrence) Valid() bool {
	switch r {
	case RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly, RecurrenceYearly:
		return true
	default:
		return false
	}
}

// NextDueDate computes the successor's due date using calendar arithmetic.
// Monthly and yearly advancement clamp the day-of-month to the last valid
// day of the target month: Jan 31 +1 month is Feb 28 (29 in leap years),
// Feb 29 +1 year is Feb 28.
func NextDueDate(due time.Time, kind Recurrence) (time.Time, error) {
	switch kind {
	case RecurrenceDaily:
		return due.AddDate(0, 0, 1), nil
	case RecurrenceWeekly:
		return due.AddDate(0, 0, 7), nil
	case RecurrenceMonthly:
		return addMonthsClamped(due, 1), nil
	case RecurrenceYearly:
		return addMonthsClamped(due, 12), nil
	default:
		return time.Time{}, ErrUnknownRecurrence
	}
}

func addMonthsClamped(d time.Time, months int) time.Time {
	// time.Date normalizes a month overflow into the following year.
	first := time.Date(d.Year(), d.Month()+time.Month(months), 1, 0, 0, 0, 0, d.Location())
	day := d.Day()
	if last := first.AddDate(0, 1, -1).Day(); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, d.Location())
}
