package analytics

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrclinic/internal/events"
	"qrclinic/internal/pkg/async"
	"qrclinic/internal/timeframe"
)

// fakeStore answers GroupCount from canned rows keyed by kind and fields.
type fakeStore struct {
	events.Store

	mu    sync.Mutex
	rows  map[string][]events.GroupCount
	fail  map[string]error
	calls int
}

func groupKey(kind events.Kind, fields ...events.Field) string {
	parts := []string{string(kind)}
	for _, f := range fields {
		parts = append(parts, string(f))
	}
	return strings.Join(parts, ":")
}

func (f *fakeStore) GroupCount(ctx context.Context, kind events.Kind, filter events.Filter, groupBy ...events.Field) ([]events.GroupCount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	key := groupKey(kind, groupBy...)
	if err := f.fail[key]; err != nil {
		return nil, err
	}
	return f.rows[key], nil
}

var discardLogger = slog.New(slog.DiscardHandler)

func gc(count int64, keys ...string) events.GroupCount {
	return events.GroupCount{Keys: keys, Count: count}
}

var testWindow = timeframe.Window{
	From: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	To:   time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
}

func TestAggregatorChannels(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	store := &fakeStore{rows: map[string][]events.GroupCount{
		groupKey(events.KindAccess, events.FieldChannelID):       {gc(12, "a"), gc(99, "unknown")},
		groupKey(events.KindCompletion, events.FieldChannelID):   {gc(6, "a")},
		groupKey(events.KindCTAClick, events.FieldChannelID):     {gc(3, "a")},
		groupKey(events.KindCTAClick, events.FieldChannelID, events.FieldCTAType): {
			gc(2, "a", events.CTAReservation), gc(1, "a", "instagram"),
		},
		groupKey(events.KindCompletion, events.FieldChannelID, events.FieldUserGender): {
			gc(4, "a", "female"), gc(1, "a", "M"), gc(1, "a", ""),
		},
		groupKey(events.KindCompletion, events.FieldChannelID, events.FieldUserAge): {
			gc(2, "a", "34"), gc(1, "a", "65"), gc(3, "a", ""),
		},
		groupKey(events.KindAccess, events.FieldChannelID, events.FieldQuarterHour): {
			// 15:00 UTC is the next day in Tokyo
			gc(5, "a", "2024-03-01 15:00:00"),
			gc(7, "a", "2024-03-01 03:00:00"),
			gc(1, "a", "garbage"),
		},
	}}

	agg := NewAggregator(store, async.NewPool(DefaultWorkers), tokyo, discardLogger)
	out, err := agg.Channels(context.Background(), []string{"a", "b"}, testWindow)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, len(channelDimensions), store.calls)

	a := out["a"]
	assert.Equal(t, int64(12), a.AccessCount)
	assert.Equal(t, int64(6), a.CompletedCount)
	assert.Equal(t, int64(3), a.CTACount)
	assert.Equal(t, int64(2), a.CTAByType.Reservation)
	assert.Equal(t, int64(1), a.CTAByType.Other)
	assert.Equal(t, int64(4), a.Gender.Female)
	assert.Equal(t, int64(1), a.Gender.Male)
	assert.Equal(t, int64(1), a.Gender.Other)
	assert.Equal(t, int64(2), a.Ages.Get("30-39"))
	assert.Equal(t, int64(1), a.Ages.Get("≥60"))
	assert.Equal(t, int64(1), a.FineAges.Get("60-69"))

	byDate := a.AccessByDate()
	require.Len(t, byDate, 2)
	assert.Equal(t, timeframe.DateStat{Date: "2024-03-02", Count: 5}, byDate[0])
	assert.Equal(t, timeframe.DateStat{Date: "2024-03-01", Count: 7}, byDate[1])

	// b had no events but is still reported
	b := out["b"]
	require.NotNil(t, b)
	assert.Zero(t, b.AccessCount)
	assert.Empty(t, b.AccessByDate())

	_, ok := out["unknown"]
	assert.False(t, ok)
}

func TestAggregatorFoldsQuarterHoursIntoLocalDates(t *testing.T) {
	for _, tc := range []struct {
		zone    string
		buckets []events.GroupCount
		want    []timeframe.DateStat
	}{
		{
			zone: "Asia/Kolkata",
			buckets: []events.GroupCount{
				gc(2, "a", "2024-03-05 18:15:00"), // 23:45 IST
				gc(3, "a", "2024-03-05 18:30:00"), // 00:00 IST
				gc(1, "a", "2024-03-05 18:45:00"),
			},
			want: []timeframe.DateStat{{Date: "2024-03-06", Count: 4}, {Date: "2024-03-05", Count: 2}},
		},
		{
			zone: "Asia/Kathmandu",
			buckets: []events.GroupCount{
				gc(4, "a", "2024-03-05 18:00:00"), // 23:45 NPT
				gc(5, "a", "2024-03-05 18:15:00"), // 00:00 NPT
			},
			want: []timeframe.DateStat{{Date: "2024-03-06", Count: 5}, {Date: "2024-03-05", Count: 4}},
		},
		{
			// +10:30 in March, daylight saving still in effect
			zone: "Australia/Adelaide",
			buckets: []events.GroupCount{
				gc(6, "a", "2024-03-05 13:15:00"), // 23:45 ACDT
				gc(7, "a", "2024-03-05 13:30:00"), // 00:00 ACDT
			},
			want: []timeframe.DateStat{{Date: "2024-03-06", Count: 7}, {Date: "2024-03-05", Count: 6}},
		},
	} {
		t.Run(tc.zone, func(t *testing.T) {
			loc, err := time.LoadLocation(tc.zone)
			require.NoError(t, err)

			store := &fakeStore{rows: map[string][]events.GroupCount{
				groupKey(events.KindAccess, events.FieldChannelID, events.FieldQuarterHour): tc.buckets,
			}}
			agg := NewAggregator(store, async.NewPool(DefaultWorkers), loc, discardLogger)

			out, err := agg.Channels(context.Background(), []string{"a"}, testWindow)
			require.NoError(t, err)
			assert.Equal(t, tc.want, out["a"].AccessByDate())
		})
	}
}

func TestAggregatorEmptyChannelSetRunsNoQueries(t *testing.T) {
	store := &fakeStore{}
	agg := NewAggregator(store, async.NewPool(DefaultWorkers), time.UTC, discardLogger)

	out, err := agg.Channels(context.Background(), []string{}, testWindow)
	require.NoError(t, err)
	assert.Empty(t, out)

	totals, err := agg.Totals(context.Background(), []string{}, testWindow)
	require.NoError(t, err)
	assert.Equal(t, Totals{}, totals)

	perChannel, categories, err := agg.Overall(context.Background(), []string{}, testWindow)
	require.NoError(t, err)
	assert.Empty(t, perChannel)
	assert.Empty(t, categories)

	assert.Zero(t, store.calls)
}

func TestAggregatorFailureNamesDimension(t *testing.T) {
	store := &fakeStore{fail: map[string]error{
		groupKey(events.KindCTAClick, events.FieldChannelID, events.FieldCTAType): errors.New("disk I/O error"),
	}}
	agg := NewAggregator(store, async.NewPool(DefaultWorkers), time.UTC, discardLogger)

	_, err := agg.Channels(context.Background(), []string{"a"}, testWindow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error fetching cta_by_type")
	assert.Contains(t, err.Error(), "disk I/O error")

	// totals do not query that dimension
	_, err = agg.Totals(context.Background(), []string{"a"}, testWindow)
	assert.NoError(t, err)
}

func TestAggregatorOverallCategories(t *testing.T) {
	store := &fakeStore{rows: map[string][]events.GroupCount{
		groupKey(events.KindCompletion, events.FieldResultCategory): {
			gc(3, "whitening"), gc(5, "implant"), gc(3, "checkup"), gc(2, ""),
		},
		groupKey(events.KindCTAClick, events.FieldResultCategory): {
			gc(2, "implant"), gc(1, ""), gc(4, "orthodontics"),
		},
	}}
	agg := NewAggregator(store, async.NewPool(DefaultWorkers), time.UTC, discardLogger)

	_, categories, err := agg.Overall(context.Background(), []string{"a"}, testWindow)
	require.NoError(t, err)

	assert.Equal(t, []CategoryCounts{
		{Category: "implant", Count: 5, CTACount: 2},
		{Category: "checkup", Count: 3},
		{Category: "whitening", Count: 3},
		{Category: Uncategorized, Count: 2, CTACount: 1},
		{Category: "orthodontics", CTACount: 4},
	}, categories)
}
