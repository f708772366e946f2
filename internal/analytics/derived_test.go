package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrclinic/internal/channels"
)

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestRate(t *testing.T) {
	tests := []struct {
		name     string
		num, den int64
		expected float64
	}{
		{"zero denominator", 5, 0, 0},
		{"rounds to one decimal", 35, 90, 38.9},
		{"rounds down", 30, 35, 85.7},
		{"rounds half up", 1, 8, 12.5},
		{"whole", 1, 4, 25},
		{"above hundred", 3, 2, 150},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Rate(tt.num, tt.den))
		})
	}
}

func TestAdDays(t *testing.T) {
	assert.Nil(t, AdDays(nil, date(2024, 3, 9)))
	assert.Nil(t, AdDays(date(2024, 3, 1), nil))

	days := AdDays(date(2024, 3, 1), date(2024, 3, 9))
	require.NotNil(t, days)
	assert.Equal(t, int64(9), *days)

	same := AdDays(date(2024, 3, 1), date(2024, 3, 1))
	require.NotNil(t, same)
	assert.Equal(t, int64(1), *same)

	inverted := AdDays(date(2024, 3, 9), date(2024, 3, 1))
	require.NotNil(t, inverted)
	assert.Equal(t, int64(1), *inverted)
}

func TestPeriodLabel(t *testing.T) {
	assert.Equal(t, "no end date", PeriodLabel(nil, nil))
	assert.Equal(t, "2024/03/01〜", PeriodLabel(date(2024, 3, 1), nil))
	assert.Equal(t, "〜2024/03/09", PeriodLabel(nil, date(2024, 3, 9)))
	assert.Equal(t, "2024/03/01〜2024/03/09", PeriodLabel(date(2024, 3, 1), date(2024, 3, 9)))
}

func TestAdEfficiencyNullCosts(t *testing.T) {
	channel := channels.Channel{ID: "flyer", AdBudget: 10000}

	eff := NewAdEfficiency(channel, &RawCounts{})
	require.NotNil(t, eff)
	assert.Nil(t, eff.CPA)
	assert.Nil(t, eff.CPD)
	assert.Nil(t, eff.CPC)
	assert.Nil(t, eff.AdDays)
	assert.Nil(t, eff.DailyCost)
	assert.Equal(t, "no end date", eff.PeriodLabel)

	eff = NewAdEfficiency(channel, &RawCounts{AccessCount: 4})
	require.NotNil(t, eff.CPA)
	assert.Equal(t, int64(2500), *eff.CPA)
}

func TestAdEfficiencyRequiresBudget(t *testing.T) {
	assert.Nil(t, NewAdEfficiency(channels.Channel{ID: "free"}, &RawCounts{AccessCount: 10}))

	stats := NewChannelStats(newRawCounts(), &channels.Channel{ID: "free"})
	assert.Nil(t, stats.AdEfficiency)

	stats = NewChannelStats(newRawCounts(), nil)
	assert.Nil(t, stats.AdEfficiency)
	assert.Empty(t, stats.AccessByDate)
}

func TestCalculateTrend(t *testing.T) {
	trend := CalculateTrend(5, 0)
	assert.True(t, trend.IsNew)
	assert.Nil(t, trend.Value)

	trend = CalculateTrend(5, 10)
	assert.False(t, trend.IsNew)
	require.NotNil(t, trend.Value)
	assert.Equal(t, -50.0, *trend.Value)

	trend = CalculateTrend(0, 0)
	assert.False(t, trend.IsNew)
	require.NotNil(t, trend.Value)
	assert.Equal(t, 0.0, *trend.Value)

	trend = CalculateTrend(4, 3)
	require.NotNil(t, trend.Value)
	assert.Equal(t, 33.3, *trend.Value)
}

func TestNormalizeChannelIDs(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, NormalizeChannelIDs([]string{" c", "a", "b", "a", ""}))
	assert.Equal(t, []string{}, NormalizeChannelIDs(nil))
	assert.Equal(t, []string{}, ParseChannelIDs(""))
	assert.Equal(t, []string{"flyer", "web"}, ParseChannelIDs("web, flyer,,web"))
}

func TestAccessByDateKeepsMostRecentDays(t *testing.T) {
	counts := newRawCounts()
	for day := 1; day <= 12; day++ {
		counts.dailyAccess[time.Date(2024, 3, day, 0, 0, 0, 0, time.UTC).Format("2006-01-02")] = int64(day)
	}
	counts.dailyAccess["2024-02-01"] = 0

	stats := counts.AccessByDate()
	require.Len(t, stats, MaxAccessDates)
	assert.Equal(t, "2024-03-12", stats[0].Date)
	assert.Equal(t, 12, stats[0].Count)
	assert.Equal(t, "2024-03-03", stats[len(stats)-1].Date)
}
