// Package timeframe_test contains tests for the timeframe package
package timeframe_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrclinic/internal/timeframe"
)

// MockTimeProvider implements the TimeProvider interface for testing
type MockTimeProvider struct {
	FixedTime time.Time
}

func (m *MockTimeProvider) Now(loc *time.Location) time.Time {
	return m.FixedTime.In(loc)
}

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestResolverKeywords(t *testing.T) {
	tokyo := mustLoad(t, "Asia/Tokyo")
	// 2024-03-15 12:30 JST
	fixedTime := time.Date(2024, 3, 15, 3, 30, 0, 0, time.UTC)
	resolver := timeframe.NewResolver(tokyo, &MockTimeProvider{FixedTime: fixedTime})

	testCases := []struct {
		name         string
		spec         timeframe.PeriodSpec
		expectedFrom time.Time
		expectedTo   time.Time
	}{
		{
			name:         "today starts at local midnight",
			spec:         timeframe.PeriodSpec{Label: timeframe.RangeLabelToday},
			expectedFrom: time.Date(2024, 3, 15, 0, 0, 0, 0, tokyo),
			expectedTo:   fixedTime,
		},
		{
			name:         "week starts at midnight seven days ago",
			spec:         timeframe.PeriodSpec{Label: timeframe.RangeLabelWeek},
			expectedFrom: time.Date(2024, 3, 8, 0, 0, 0, 0, tokyo),
			expectedTo:   fixedTime,
		},
		{
			name:         "month goes back one calendar month",
			spec:         timeframe.PeriodSpec{Label: timeframe.RangeLabelMonth},
			expectedFrom: time.Date(2024, 2, 15, 0, 0, 0, 0, tokyo),
			expectedTo:   fixedTime,
		},
		{
			name:         "all starts at the epoch sentinel",
			spec:         timeframe.PeriodSpec{Label: timeframe.RangeLabelAll},
			expectedFrom: timeframe.AllTimeStart,
			expectedTo:   fixedTime,
		},
		{
			name: "custom covers whole local days",
			spec: timeframe.PeriodSpec{
				Label:     timeframe.RangeLabelCustom,
				StartDate: "2024-03-01",
				EndDate:   "2024-03-10",
			},
			expectedFrom: time.Date(2024, 3, 1, 0, 0, 0, 0, tokyo),
			expectedTo:   time.Date(2024, 3, 10, 23, 59, 59, 999000000, tokyo),
		},
		{
			name: "custom single day",
			spec: timeframe.PeriodSpec{
				Label:     timeframe.RangeLabelCustom,
				StartDate: "2024-03-10",
				EndDate:   "2024-03-10",
			},
			expectedFrom: time.Date(2024, 3, 10, 0, 0, 0, 0, tokyo),
			expectedTo:   time.Date(2024, 3, 10, 23, 59, 59, 999000000, tokyo),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			period, err := resolver.Resolve(tc.spec)
			require.NoError(t, err)
			assert.True(t, tc.expectedFrom.Equal(period.Current.From), "from: want %s got %s", tc.expectedFrom, period.Current.From)
			assert.True(t, tc.expectedTo.Equal(period.Current.To), "to: want %s got %s", tc.expectedTo, period.Current.To)
			assert.Equal(t, tc.spec.Label, period.Label)
		})
	}
}

func TestResolverInvalidPeriods(t *testing.T) {
	resolver := timeframe.NewResolver(time.UTC, &MockTimeProvider{FixedTime: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)})

	testCases := []struct {
		name string
		spec timeframe.PeriodSpec
	}{
		{"end before start", timeframe.PeriodSpec{Label: timeframe.RangeLabelCustom, StartDate: "2024-03-10", EndDate: "2024-03-01"}},
		{"unparseable start", timeframe.PeriodSpec{Label: timeframe.RangeLabelCustom, StartDate: "invalid-date", EndDate: "2024-03-01"}},
		{"unparseable end", timeframe.PeriodSpec{Label: timeframe.RangeLabelCustom, StartDate: "2024-03-01", EndDate: "03/10/2024"}},
		{"missing dates", timeframe.PeriodSpec{Label: timeframe.RangeLabelCustom}},
		{"unknown keyword", timeframe.PeriodSpec{Label: "fortnight"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			period, err := resolver.Resolve(tc.spec)
			assert.Nil(t, period)
			require.Error(t, err)
			assert.True(t, errors.Is(err, timeframe.ErrInvalidPeriod))
		})
	}
}

func TestPreviousPeriod(t *testing.T) {
	fixedTime := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	resolver := timeframe.NewResolver(time.UTC, &MockTimeProvider{FixedTime: fixedTime})

	t.Run("previous window has equal length and ends at start", func(t *testing.T) {
		period, err := resolver.Resolve(timeframe.PeriodSpec{Label: timeframe.RangeLabelWeek})
		require.NoError(t, err)
		require.True(t, period.HasPrevious())

		assert.True(t, period.Previous.To.Equal(period.Current.From))
		assert.Equal(t, period.Current.Duration(), period.Previous.Duration())
		assert.True(t, period.Previous.From.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))
	})

	t.Run("all has no previous window", func(t *testing.T) {
		period, err := resolver.Resolve(timeframe.PeriodSpec{Label: timeframe.RangeLabelAll})
		require.NoError(t, err)
		assert.False(t, period.HasPrevious())
		assert.Nil(t, period.Previous)
	})
}

func TestParsePeriodSpec(t *testing.T) {
	spec := timeframe.ParsePeriodSpec("", "", "")
	assert.Equal(t, timeframe.RangeLabelMonth, spec.Label)

	spec = timeframe.ParsePeriodSpec(" Custom ", "2024-01-01", " 2024-01-31 ")
	assert.Equal(t, timeframe.RangeLabelCustom, spec.Label)
	assert.Equal(t, "2024-01-31", spec.EndDate)
	assert.Equal(t, "custom:2024-01-01:2024-01-31", spec.CacheKey())
	assert.Equal(t, "week", timeframe.ParsePeriodSpec("week", "x", "y").CacheKey())
}

func TestWindowContainsIsHalfOpen(t *testing.T) {
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	w := timeframe.Window{From: from, To: to}

	assert.True(t, w.Contains(from))
	assert.True(t, w.Contains(to.Add(-time.Nanosecond)))
	assert.False(t, w.Contains(to))
	assert.False(t, w.Contains(from.Add(-time.Nanosecond)))
}

func TestLocalDateUsesClinicZone(t *testing.T) {
	tokyo := mustLoad(t, "Asia/Tokyo")
	// 20:00 UTC on the 1st is already the 2nd in Tokyo
	ts := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-03-02", timeframe.LocalDate(ts, tokyo))
	assert.Equal(t, "2024-03-01", timeframe.LocalDate(ts, time.UTC))
}
