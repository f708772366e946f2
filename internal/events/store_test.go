package events_test

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrclinic/internal/events"
	"qrclinic/internal/testsupport"
)

func countsByKey(rows []events.GroupCount) map[string]int64 {
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		key := ""
		for i, k := range row.Keys {
			if i > 0 {
				key += "|"
			}
			key += k
		}
		out[key] += row.Count
	}
	return out
}

func TestGroupCountAccessExcludesPageViews(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	store := events.NewGormStore(dbManager, logger)

	base := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	testsupport.CreateAccessEvents(t, db, "ch-a", events.AccessTypeQRScan, base, 3)
	testsupport.CreateAccessEvents(t, db, "ch-a", events.AccessTypeLink, base, 2)
	testsupport.CreateAccessEvents(t, db, "ch-a", events.AccessTypePageView, base, 4)
	testsupport.CreateAccessEvents(t, db, "ch-b", events.AccessTypeQRScan, base, 1)
	testsupport.CreateAccessEvents(t, db, "ch-out", events.AccessTypeQRScan, base, 7)

	filter := events.Filter{
		ChannelIDs: []string{"ch-a", "ch-b"},
		From:       base.Add(-time.Hour),
		To:         base.Add(time.Hour),
	}
	rows, err := store.GroupCount(context.Background(), events.KindAccess, filter, events.FieldChannelID)
	require.NoError(t, err)

	counts := countsByKey(rows)
	assert.Equal(t, int64(5), counts["ch-a"])
	assert.Equal(t, int64(1), counts["ch-b"])
	assert.NotContains(t, counts, "ch-out")
}

func TestGroupCountWindowIsHalfOpen(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	store := events.NewGormStore(dbManager, logger)

	from := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	testsupport.CreateAccessEvents(t, db, "ch-a", events.AccessTypeQRScan, from, 1)
	testsupport.CreateAccessEvents(t, db, "ch-a", events.AccessTypeQRScan, to.Add(-time.Second), 1)
	testsupport.CreateAccessEvents(t, db, "ch-a", events.AccessTypeQRScan, to, 1)
	testsupport.CreateAccessEvents(t, db, "ch-a", events.AccessTypeQRScan, from.Add(-time.Second), 1)

	rows, err := store.GroupCount(context.Background(), events.KindAccess,
		events.Filter{ChannelIDs: []string{"ch-a"}, From: from, To: to}, events.FieldChannelID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), countsByKey(rows)["ch-a"])
}

func TestGroupCountCompletionExclusions(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	store := events.NewGormStore(dbManager, logger)

	ts := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	testsupport.CreateCompletion(t, db, testsupport.Completion{ChannelID: "ch-a", Timestamp: ts, Completed: true, Gender: "male", Age: testsupport.Age(34)})
	testsupport.CreateCompletion(t, db, testsupport.Completion{ChannelID: "ch-a", Timestamp: ts, Completed: true, Gender: "female"})
	testsupport.CreateCompletion(t, db, testsupport.Completion{ChannelID: "ch-a", Timestamp: ts, Completed: true, Demo: true, Gender: "male"})
	testsupport.CreateCompletion(t, db, testsupport.Completion{ChannelID: "ch-a", Timestamp: ts, Completed: false, Gender: "male"})

	filter := events.Filter{ChannelIDs: []string{"ch-a"}, From: ts.Add(-time.Hour), To: ts.Add(time.Hour)}

	t.Run("by channel", func(t *testing.T) {
		rows, err := store.GroupCount(context.Background(), events.KindCompletion, filter, events.FieldChannelID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), countsByKey(rows)["ch-a"])
	})

	t.Run("null age renders as empty key", func(t *testing.T) {
		rows, err := store.GroupCount(context.Background(), events.KindCompletion, filter, events.FieldChannelID, events.FieldUserAge)
		require.NoError(t, err)
		counts := countsByKey(rows)
		assert.Equal(t, int64(1), counts["ch-a|34"])
		assert.Equal(t, int64(1), counts["ch-a|"])
	})

	t.Run("rows", func(t *testing.T) {
		rows, err := store.CompletionRows(context.Background(), filter)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		genders := []string{*rows[0].UserGender, *rows[1].UserGender}
		sort.Strings(genders)
		assert.Equal(t, []string{"female", "male"}, genders)
	})
}

func TestGroupCountCTAByType(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	store := events.NewGormStore(dbManager, logger)

	ts := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	testsupport.CreateCTAClicks(t, db, "ch-a", events.CTAReservation, "A", ts, 3)
	testsupport.CreateCTAClicks(t, db, "ch-a", events.CTAPhone, "B", ts, 2)

	rows, err := store.GroupCount(context.Background(), events.KindCTAClick,
		events.Filter{ChannelIDs: []string{"ch-a"}, From: ts.Add(-time.Hour), To: ts.Add(time.Hour)},
		events.FieldChannelID, events.FieldCTAType)
	require.NoError(t, err)

	counts := countsByKey(rows)
	assert.Equal(t, int64(3), counts["ch-a|reservation"])
	assert.Equal(t, int64(2), counts["ch-a|phone"])
}

func TestGroupCountQuarterHourBucket(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	store := events.NewGormStore(dbManager, logger)

	ts := time.Date(2024, 3, 10, 9, 15, 0, 0, time.UTC)
	testsupport.CreateAccessEvents(t, db, "ch-a", events.AccessTypeQRScan, ts, 2)
	testsupport.CreateAccessEvents(t, db, "ch-a", events.AccessTypeQRScan, ts.Add(14*time.Minute+59*time.Second), 1)
	testsupport.CreateAccessEvents(t, db, "ch-a", events.AccessTypeQRScan, ts.Add(30*time.Minute), 1)
	testsupport.CreateAccessEvents(t, db, "ch-a", events.AccessTypeQRScan, ts.Add(-10*time.Minute), 1)

	rows, err := store.GroupCount(context.Background(), events.KindAccess,
		events.Filter{ChannelIDs: []string{"ch-a"}, From: ts.Add(-time.Hour), To: ts.Add(3 * time.Hour)},
		events.FieldChannelID, events.FieldQuarterHour)
	require.NoError(t, err)

	counts := countsByKey(rows)
	assert.Equal(t, int64(3), counts["ch-a|2024-03-10 09:15:00"])
	assert.Equal(t, int64(1), counts["ch-a|2024-03-10 09:45:00"])
	assert.Equal(t, int64(1), counts["ch-a|2024-03-10 09:00:00"])
	assert.Len(t, counts, 3)
}

func TestGroupCountRejectsForeignField(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	store := events.NewGormStore(dbManager, logger)

	_, err := store.GroupCount(context.Background(), events.KindAccess,
		events.Filter{ChannelIDs: []string{"ch-a"}, From: time.Now().Add(-time.Hour), To: time.Now()},
		events.FieldUserGender)
	require.Error(t, err)
	assert.False(t, errors.Is(err, events.ErrStoreUnavailable))
}

func TestEmptyChannelSetRunsNoQuery(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	store := events.NewGormStore(dbManager, logger)

	rows, err := store.GroupCount(context.Background(), events.KindAccess, events.Filter{}, events.FieldChannelID)
	require.NoError(t, err)
	assert.Empty(t, rows)

	completions, err := store.CompletionRows(context.Background(), events.Filter{})
	require.NoError(t, err)
	assert.Empty(t, completions)
}

func TestStoreFailureIsWrapped(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	store := events.NewGormStore(dbManager, logger)

	sqlDB, err := dbManager.GetConnection().DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = store.GroupCount(context.Background(), events.KindAccess,
		events.Filter{ChannelIDs: []string{"ch-a"}, From: time.Now().Add(-time.Hour), To: time.Now()},
		events.FieldChannelID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, events.ErrStoreUnavailable))
}

func TestZonedTimestampsAreStoredInUTC(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanAllEvents(db)
	store := events.NewGormStore(dbManager, logger)

	tokyo := time.FixedZone("JST", 9*60*60)
	// 08:30 JST on the 6th is 23:30 UTC on the 5th
	local := time.Date(2024, 3, 6, 8, 30, 0, 0, tokyo)

	require.NoError(t, db.Create(&events.AccessEvent{ChannelID: "ch-a", EventType: events.AccessTypeQRScan, Timestamp: local}).Error)
	require.NoError(t, db.Create(&[]events.CTAClickEvent{
		{ChannelID: "ch-a", CTAType: events.CTAPhone, Timestamp: local},
	}).Error)
	completedAt := local
	require.NoError(t, db.Create(&events.CompletionEvent{ChannelID: "ch-a", Timestamp: local, CompletedAt: &completedAt}).Error)

	utcDay := events.Filter{
		ChannelIDs: []string{"ch-a"},
		From:       time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		To:         time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC),
	}
	for _, kind := range []events.Kind{events.KindAccess, events.KindCompletion, events.KindCTAClick} {
		rows, err := store.GroupCount(context.Background(), kind, utcDay, events.FieldChannelID, events.FieldQuarterHour)
		require.NoError(t, err)
		require.Lenf(t, rows, 1, "kind %s", kind)
		assert.Equal(t, []string{"ch-a", "2024-03-05 23:30:00"}, rows[0].Keys)
	}
}
