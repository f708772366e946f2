package timeframe

import (
	"fmt"
	"strings"
	"time"
)

// PeriodSpec is the unresolved period as received from callers.
type PeriodSpec struct {
	Label     RangeLabel
	StartDate string // YYYY-MM-DD, custom only
	EndDate   string // YYYY-MM-DD, custom only
}

// ParsePeriodSpec builds a PeriodSpec from raw request values.
// An empty keyword falls back to month.
func ParsePeriodSpec(keyword, start, end string) PeriodSpec {
	label := RangeLabel(strings.ToLower(strings.TrimSpace(keyword)))
	if label == "" {
		label = RangeLabelMonth
	}
	return PeriodSpec{
		Label:     label,
		StartDate: strings.TrimSpace(start),
		EndDate:   strings.TrimSpace(end),
	}
}

// CacheKey identifies the spec for cache lookups.
func (s PeriodSpec) CacheKey() string {
	if s.Label == RangeLabelCustom {
		return fmt.Sprintf("%s:%s:%s", s.Label, s.StartDate, s.EndDate)
	}
	return string(s.Label)
}

type Resolver struct {
	timeProvider TimeProvider
	loc          *time.Location
}

// NewResolver creates a resolver for the clinic's time zone. A nil location
// means UTC.
func NewResolver(loc *time.Location, timeProvider ...TimeProvider) *Resolver {
	var provider TimeProvider = &DefaultTimeProvider{}
	if len(timeProvider) > 0 && timeProvider[0] != nil {
		provider = timeProvider[0]
	}
	if loc == nil {
		loc = time.UTC
	}

	return &Resolver{
		timeProvider: provider,
		loc:          loc,
	}
}

// Location returns the zone periods are resolved in.
func (r *Resolver) Location() *time.Location {
	return r.loc
}

// Resolve turns a period keyword (and dates, for custom) into exact instants.
func (r *Resolver) Resolve(spec PeriodSpec) (*Period, error) {
	now := r.timeProvider.Now(r.loc)

	switch spec.Label {
	case RangeLabelToday:
		return NewPeriod(spec.Label, StartOfDay(now, r.loc), now, r.loc)
	case RangeLabelWeek:
		return NewPeriod(spec.Label, StartOfDay(now.AddDate(0, 0, -7), r.loc), now, r.loc)
	case RangeLabelMonth:
		return NewPeriod(spec.Label, StartOfDay(now.AddDate(0, -1, 0), r.loc), now, r.loc)
	case RangeLabelAll:
		return NewPeriod(spec.Label, AllTimeStart, now, r.loc)
	case RangeLabelCustom:
		return r.resolveCustom(spec)
	default:
		return nil, fmt.Errorf("%w: unknown period %q", ErrInvalidPeriod, spec.Label)
	}
}

func (r *Resolver) resolveCustom(spec PeriodSpec) (*Period, error) {
	if spec.StartDate == "" || spec.EndDate == "" {
		return nil, fmt.Errorf("%w: custom period requires start and end dates", ErrInvalidPeriod)
	}

	start, err := time.ParseInLocation(DateLayout, spec.StartDate, r.loc)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid start date %q", ErrInvalidPeriod, spec.StartDate)
	}
	end, err := time.ParseInLocation(DateLayout, spec.EndDate, r.loc)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid end date %q", ErrInvalidPeriod, spec.EndDate)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end date %s is before start date %s", ErrInvalidPeriod, spec.EndDate, spec.StartDate)
	}

	return NewPeriod(spec.Label, StartOfDay(start, r.loc), EndOfDay(end, r.loc), r.loc)
}
