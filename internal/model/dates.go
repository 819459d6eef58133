package model

import "time"

const day = 24 * time.Hour

// DateOf truncates t to midnight UTC of its calendar day.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NewDate builds a UTC calendar date.
func NewDate(year int, month time.Month, dayOfMonth int) time.Time {
	return time.Date(year, month, dayOfMonth, 0, 0, 0, 0, time.UTC)
}

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewDateRange normalizes both ends to calendar dates.
func NewDateRange(start, end time.Time) DateRange {
	return DateRange{Start: DateOf(start), End: DateOf(end)}
}

// Valid reports whether Start is on or before End.
func (r DateRange) Valid() bool {
	return !r.End.Before(r.Start)
}

// IsZero reports whether the range is unset.
func (r DateRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// Days is the inclusive number of days in the range, or 0 when empty.
func (r DateRange) Days() int {
	if !r.Valid() {
		return 0
	}
	return int(DateOf(r.End).Sub(DateOf(r.Start))/day) + 1
}

// Overlaps reports whether the two ranges share at least one day.
func (r DateRange) Overlaps(o DateRange) bool {
	return !r.Start.After(o.End) && !o.Start.After(r.End)
}

// Intersect returns the shared days of r and o. ok is false when the ranges
// are disjoint. The result does not depend on argument order.
func (r DateRange) Intersect(o DateRange) (DateRange, bool) {
	start := r.Start
	if o.Start.After(start) {
		start = o.Start
	}
	end := r.End
	if o.End.Before(end) {
		end = o.End
	}
	out := DateRange{Start: start, End: end}
	if !out.Valid() {
		return DateRange{}, false
	}
	return out, true
}

// OverlapDays is max(0, min(end1,end2) - max(start1,start2) + 1).
func OverlapDays(a, b DateRange) int {
	shared, ok := a.Intersect(b)
	if !ok {
		return 0
	}
	return shared.Days()
}
