package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/karloscodes/cartridge/cache"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"qrclinic/internal/geo"
)

// Setting represents a configuration item in the database
type Setting struct {
	ID        uint      `gorm:"primaryKey"`
	Key       string    `gorm:"uniqueIndex;not null"`
	Value     string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:milli"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime:milli"`
}

// Setting keys
const (
	KeyExcludedIPs     = "excluded_ips"
	KeyClinicLatitude  = "clinic_latitude"
	KeyClinicLongitude = "clinic_longitude"
)

const excludedIPsTTL = 5 * time.Minute

var excludedIPsCache *cache.Cache[string, []string]

// SetupDefaultSettings initializes default settings in the database
func SetupDefaultSettings(dbConn *gorm.DB) error {
	defaults := []Setting{
		{Key: KeyExcludedIPs, Value: ""},
		{Key: KeyClinicLatitude, Value: ""},
		{Key: KeyClinicLongitude, Value: ""},
	}
	err := sqlite.PerformWrite(slog.Default(), dbConn, func(tx *gorm.DB) error {
		for _, setting := range defaults {
			now := time.Now().UTC()
			err := tx.Exec(`
                INSERT INTO settings (key, value, created_at, updated_at)
                VALUES (?, ?, ?, ?)
                ON CONFLICT(key) DO NOTHING
            `, setting.Key, setting.Value, now, now).Error
			if err != nil {
				slog.Default().Error("Failed to upsert setting", slog.String("key", setting.Key), slog.Any("error", err))
				return fmt.Errorf("failed to upsert setting %s: %w", setting.Key, err)
			}
		}
		return nil
	})

	loadCache(dbConn, slog.Default())

	return err
}

// IsIPExcluded reports whether ip is on the clinic's excluded list.
func IsIPExcluded(ip string) (bool, error) {
	if excludedIPsCache == nil {
		return false, nil
	}

	excludedIPs, err := excludedIPsCache.Get(KeyExcludedIPs)
	if err != nil {
		return false, fmt.Errorf("failed to check excluded IPs: %w", err)
	}

	ip = strings.TrimSpace(ip)
	for _, excludedIP := range excludedIPs {
		if excludedIP == ip {
			return true, nil
		}
	}
	return false, nil
}

// GetSetting retrieves a setting value from the database
func GetSetting(dbConn *gorm.DB, key string) (string, error) {
	var setting Setting
	result := dbConn.Where("key = ?", key).First(&setting)

	if result.Error != nil {
		return "", result.Error
	}

	return setting.Value, nil
}

// UpdateSetting updates a setting in the database using a transaction,
// creating it when missing.
func UpdateSetting(dbConn *gorm.DB, key string, value string) error {
	err := dbConn.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Setting{}).Where("key = ?", key).Update("value", value)
		if result.Error != nil {
			return fmt.Errorf("failed to update setting: %w", result.Error)
		}

		if result.RowsAffected == 0 {
			setting := Setting{
				Key:   key,
				Value: value,
			}
			if err := tx.Create(&setting).Error; err != nil {
				return fmt.Errorf("failed to create setting: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if excludedIPsCache != nil {
		excludedIPsCache.Clear()
	}
	loadCache(dbConn, slog.Default())

	return nil
}

// SetExcludedIPs stores the comma separated exclusion list.
func SetExcludedIPs(dbConn *gorm.DB, ips []string) error {
	return UpdateSetting(dbConn, KeyExcludedIPs, strings.Join(ips, ","))
}

// SetClinicCenter stores the clinic coordinate shown on location maps.
func SetClinicCenter(dbConn *gorm.DB, latitude, longitude float64) error {
	if err := UpdateSetting(dbConn, KeyClinicLatitude, strconv.FormatFloat(latitude, 'f', -1, 64)); err != nil {
		return err
	}
	return UpdateSetting(dbConn, KeyClinicLongitude, strconv.FormatFloat(longitude, 'f', -1, 64))
}

func loadCache(dbConn *gorm.DB, logger *slog.Logger) {
	fetchFunc := func(key string) ([]string, error) {
		var value string
		err := dbConn.WithContext(context.Background()).Raw("SELECT value FROM settings WHERE key = ? LIMIT 1", key).Scan(&value).Error
		if err != nil {
			return nil, err
		}
		return parseIPList(value), nil
	}
	excludedIPsCache = cache.NewCache[string, []string](logger, excludedIPsTTL, fetchFunc)
}

func parseIPList(value string) []string {
	ips := make([]string, 0)
	for _, ip := range strings.Split(value, ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

// Clinic serves clinic-level settings to the location reports. The excluded
// IP list is cached per instance for excludedIPsTTL.
type Clinic struct {
	db          *gorm.DB
	excludedIPs *cache.Cache[string, []string]
}

func NewClinic(db *gorm.DB) *Clinic {
	c := &Clinic{db: db}
	c.excludedIPs = cache.NewCache[string, []string](slog.Default(), excludedIPsTTL, c.fetchExcludedIPs)
	return c
}

// ClinicCenter returns the configured clinic coordinate, or nil when it has
// not been set.
func (c *Clinic) ClinicCenter(ctx context.Context) (*geo.Coordinate, error) {
	var rows []Setting
	err := c.db.WithContext(ctx).
		Where("key IN ?", []string{KeyClinicLatitude, KeyClinicLongitude}).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read clinic center: %w", err)
	}

	values := make(map[string]string, len(rows))
	for _, row := range rows {
		values[row.Key] = strings.TrimSpace(row.Value)
	}
	if values[KeyClinicLatitude] == "" || values[KeyClinicLongitude] == "" {
		return nil, nil
	}

	lat, err := strconv.ParseFloat(values[KeyClinicLatitude], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid clinic latitude %q: %w", values[KeyClinicLatitude], err)
	}
	lng, err := strconv.ParseFloat(values[KeyClinicLongitude], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid clinic longitude %q: %w", values[KeyClinicLongitude], err)
	}
	return &geo.Coordinate{Latitude: lat, Longitude: lng}, nil
}

// ExcludedIPs returns the clinic's own IPs, whose completions are left out
// of location reports.
func (c *Clinic) ExcludedIPs(ctx context.Context) ([]string, error) {
	ips, err := c.excludedIPs.Get(KeyExcludedIPs)
	if err != nil {
		return nil, fmt.Errorf("failed to read excluded IPs: %w", err)
	}
	return ips, nil
}

func (c *Clinic) fetchExcludedIPs(key string) ([]string, error) {
	value, err := GetSetting(c.db, key)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return []string{}, nil
		}
		return nil, err
	}
	return parseIPList(value), nil
}
