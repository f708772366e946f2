package testsupport

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"qrclinic/internal"
	"qrclinic/internal/channels"
	"qrclinic/internal/config"
	"qrclinic/internal/database"
	"qrclinic/internal/events"
)

func init() {
	if os.Getenv("QRCLINIC_ENV") == "" {
		os.Setenv("QRCLINIC_ENV", config.Test)
	}
}

// testDBCache caches test databases by test name to allow multiple calls
// within the same test to share the same database
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// TestDBManager wraps cartridge's TestDBManager
type TestDBManager struct {
	*ctestsupport.TestDBManager
}

// NewTestDBManager creates a TestDBManager that implements cartridge.DBManager
func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{
		TestDBManager: ctestsupport.NewTestDBManager(db),
	}
}

var _ cartridge.DBManager = (*TestDBManager)(nil)

// SetupTestDB creates a test database with all models migrated.
// Uses a named in-memory database with cache=shared. Caches the database by
// root test name so multiple calls within the same test return the same
// database.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	rootName := t.Name()
	if idx := strings.Index(rootName, "/"); idx > 0 {
		rootName = rootName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	sanitizedName := strings.ReplaceAll(rootName, "/", "_")
	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", sanitizedName, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	// one connection keeps shared-cache table locks out of parallel reads
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	db.Exec("PRAGMA foreign_keys = ON")

	if err := db.AutoMigrate(database.Models()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})

	return db
}

// SetupTestDBManager creates a test DB manager using cartridge's testsupport
func SetupTestDBManager(t *testing.T) (*TestDBManager, *slog.Logger) {
	t.Helper()

	cfg := config.GetConfig()
	if cfg.Environment != config.Test {
		t.Fatalf("CRITICAL: Tests must run in test environment! Current: %s. Set QRCLINIC_ENV=test", cfg.Environment)
	}

	db := SetupTestDB(t)
	return NewTestDBManager(db), GetLogger()
}

// CleanTables deletes every row of the given tables.
func CleanTables(db *gorm.DB, tables ...string) {
	db.Transaction(func(tx *gorm.DB) error {
		for _, table := range tables {
			tx.Exec("DELETE FROM " + table)
		}
		return nil
	})
}

// CleanAllEvents clears the event tables.
func CleanAllEvents(db *gorm.DB) {
	CleanTables(db, "access_events", "completion_events", "cta_click_events")
}

// GetLogger returns a test logger
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// MockTimeProvider is a fixed clock.
type MockTimeProvider struct {
	MockNow time.Time
}

func (m *MockTimeProvider) Now(loc *time.Location) time.Time {
	return m.MockNow.In(loc)
}

// Date returns midnight UTC of the given day.
func Date(year int, month time.Month, day int) *time.Time {
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return &d
}

// Age returns a pointer for optional age fields.
func Age(age int) *int {
	return &age
}

// CreateTestChannel creates a channel; fields left zero keep their defaults.
func CreateTestChannel(t *testing.T, db *gorm.DB, channel channels.Channel) channels.Channel {
	t.Helper()
	if channel.Name == "" {
		channel.Name = "channel " + channel.ID
	}
	channel.Active = true
	require.NoError(t, channels.CreateChannel(db, &channel))
	return channel
}

// CreateAccessEvents inserts n access events at ts.
func CreateAccessEvents(t *testing.T, db *gorm.DB, channelID string, eventType events.AccessType, ts time.Time, n int) {
	t.Helper()
	if n == 0 {
		return
	}
	rows := make([]events.AccessEvent, n)
	for i := range rows {
		rows[i] = events.AccessEvent{
			ChannelID: channelID,
			EventType: eventType,
			Timestamp: ts.UTC(),
			CreatedAt: time.Now().UTC(),
		}
	}
	require.NoError(t, db.Create(&rows).Error)
}

// Completion describes one completion event fixture.
type Completion struct {
	ChannelID      string
	Timestamp      time.Time
	Completed      bool
	Demo           bool
	Score          int
	ResultCategory string
	Gender         string
	Age            *int
	Latitude       *float64
	Longitude      *float64
	Region         string
	City           string
	Town           string
	IPAddress      string
}

// CreateCompletion inserts one completion event.
func CreateCompletion(t *testing.T, db *gorm.DB, c Completion) {
	t.Helper()

	ts := c.Timestamp.UTC()
	row := events.CompletionEvent{
		ChannelID:      c.ChannelID,
		Timestamp:      ts,
		IsDemo:         c.Demo,
		Score:          c.Score,
		ResultCategory: c.ResultCategory,
		UserAge:        c.Age,
		Latitude:       c.Latitude,
		Longitude:      c.Longitude,
		Region:         c.Region,
		City:           c.City,
		Town:           c.Town,
		IPAddress:      c.IPAddress,
		CreatedAt:      time.Now().UTC(),
	}
	if c.Completed {
		completedAt := ts
		row.CompletedAt = &completedAt
	}
	if c.Gender != "" {
		gender := c.Gender
		row.UserGender = &gender
	}
	require.NoError(t, db.Create(&row).Error)
}

// CreateCompletions inserts n copies of c.
func CreateCompletions(t *testing.T, db *gorm.DB, c Completion, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		CreateCompletion(t, db, c)
	}
}

// CreateCTAClicks inserts n CTA clicks at ts.
func CreateCTAClicks(t *testing.T, db *gorm.DB, channelID, ctaType, resultCategory string, ts time.Time, n int) {
	t.Helper()
	if n == 0 {
		return
	}
	rows := make([]events.CTAClickEvent, n)
	for i := range rows {
		rows[i] = events.CTAClickEvent{
			ChannelID:      channelID,
			CTAType:        ctaType,
			ResultCategory: resultCategory,
			Timestamp:      ts.UTC(),
			CreatedAt:      time.Now().UTC(),
		}
	}
	require.NoError(t, db.Create(&rows).Error)
}

// CreateMinimalTestApp creates a test Fiber app with all routes
func CreateMinimalTestApp(t *testing.T, db *gorm.DB) *fiber.App {
	t.Helper()

	dbManager := NewTestDBManager(db)
	appConfig := config.GetConfig()
	appConfig.Environment = config.Test

	cfg := cartridge.DefaultServerConfig()
	cfg.Config = appConfig
	cfg.Logger = GetLogger()
	cfg.DBManager = dbManager

	srv, err := cartridge.NewServer(cfg)
	require.NoError(t, err)

	internal.MountAppRoutes(srv)
	return srv.App()
}
