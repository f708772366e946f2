package timeframe

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPeriod is returned for period specifications that cannot be
// resolved into a window. It is a user-correctable input error.
var ErrInvalidPeriod = errors.New("invalid period")

type DateStat struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// RangeLabel represents the available period keywords
type RangeLabel string

const (
	RangeLabelToday  RangeLabel = "today"
	RangeLabelWeek   RangeLabel = "week"
	RangeLabelMonth  RangeLabel = "month"
	RangeLabelAll    RangeLabel = "all"
	RangeLabelCustom RangeLabel = "custom"
)

// DateLayout is the format used for custom period dates and daily buckets.
const DateLayout = "2006-01-02"

// AllTimeStart is the lower bound used for the "all" period.
var AllTimeStart = time.Unix(0, 0).UTC()

type TimeProvider interface {
	Now(loc *time.Location) time.Time
}

// DefaultTimeProvider uses the system clock.
type DefaultTimeProvider struct{}

// Now returns the current time in loc
func (p *DefaultTimeProvider) Now(loc *time.Location) time.Time {
	return time.Now().In(loc)
}

// Window is a half-open [From, To) interval.
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (w Window) Duration() time.Duration {
	return w.To.Sub(w.From)
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}

// Period is a resolved window plus, when one exists, the immediately
// preceding window of equal length used for trend comparison.
type Period struct {
	Label    RangeLabel
	Current  Window
	Previous *Window
	Tz       *time.Location
}

// NewPeriod builds a Period for the given window, deriving the previous
// window unless the label is RangeLabelAll.
func NewPeriod(label RangeLabel, from, to time.Time, tz *time.Location) (*Period, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("%w: end %s is before start %s", ErrInvalidPeriod,
			to.Format(time.RFC3339), from.Format(time.RFC3339))
	}
	if tz == nil {
		tz = time.UTC
	}

	p := &Period{
		Label:   label,
		Current: Window{From: from, To: to},
		Tz:      tz,
	}
	if label != RangeLabelAll {
		prev := PreviousWindow(p.Current)
		p.Previous = &prev
	}
	return p, nil
}

// HasPrevious reports whether trend comparison is possible for this period.
func (p *Period) HasPrevious() bool {
	return p.Previous != nil
}

// PreviousWindow returns the window of equal length ending where w starts.
func PreviousWindow(w Window) Window {
	return Window{
		From: w.From.Add(-w.Duration()),
		To:   w.From,
	}
}

// StartOfDay returns local midnight of the day containing t in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// EndOfDay returns 23:59:59.999 local of the day containing t in loc.
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 23, 59, 59, int(999*time.Millisecond), loc)
}

// LocalDate formats t as a calendar date in loc.
func LocalDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}
