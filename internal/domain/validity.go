package domain

import (
	"strings"
	"time"
)

// DateLayout is the wire format of validity dates.
const DateLayout = "2006-01-02"

// Validity is an inclusive date interval; a nil End means open-ended.
type Validity struct {
	Start time.Time
	End   *time.Time
}

// Day truncates t to a UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD date.
func ParseDay(raw string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, err
	}
	return Day(t), nil
}

// NewValidity constructs a validity period, rejecting a zero start or an end before the start.
func NewValidity(start time.Time, end *time.Time) (Validity, error) {
	if start.IsZero() {
		return Validity{}, ValidationError(ErrInvalidValidity)
	}
	v := Validity{Start: Day(start)}
	if end != nil {
		e := Day(*end)
		if e.Before(v.Start) {
			return Validity{}, ValidationError(ErrInvalidValidity)
		}
		v.End = &e
	}
	return v, nil
}

// ParseValidity parses start and optional end dates.
func ParseValidity(start, end string) (Validity, error) {
	s, err := ParseDay(start)
	if err != nil {
		return Validity{}, ValidationError(ErrInvalidValidity)
	}
	var e *time.Time
	if strings.TrimSpace(end) != "" {
		parsed, err := ParseDay(end)
		if err != nil {
			return Validity{}, ValidationError(ErrInvalidValidity)
		}
		e = &parsed
	}
	return NewValidity(s, e)
}

// Contains reports whether day falls inside the period.
func (v Validity) Contains(day time.Time) bool {
	day = Day(day)
	if day.Before(v.Start) {
		return false
	}
	return v.End == nil || !day.After(*v.End)
}

// NotYetInEffect reports whether the period starts after day.
func (v Validity) NotYetInEffect(day time.Time) bool {
	return v.Start.After(Day(day))
}

// NoLongerInEffect reports whether the period ended before day.
func (v Validity) NoLongerInEffect(day time.Time) bool {
	return v.End != nil && v.End.Before(Day(day))
}

// Overlaps reports whether two periods share at least one day.
func (v Validity) Overlaps(o Validity) bool {
	if v.End != nil && v.End.Before(o.Start) {
		return false
	}
	if o.End != nil && o.End.Before(v.Start) {
		return false
	}
	return true
}

// StartString formats the start date.
func (v Validity) StartString() string {
	return v.Start.Format(DateLayout)
}

// EndString formats the end date, or returns "" when open-ended.
func (v Validity) EndString() string {
	if v.End == nil {
		return ""
	}
	return v.End.Format(DateLayout)
}
