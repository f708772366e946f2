// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Database types
const (
	SQLiteDatabase = "sqlite"
)

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName                    string   `mapstructure:"appname"`
	AppPort                    string   `mapstructure:"appport"`
	Environment                string   `mapstructure:"environment"`
	LogLevel                   LogLevel `mapstructure:"loglevel"`
	PrivateKey                 string   `mapstructure:"privatekey"`
	SessionTimeoutSeconds      int      `mapstructure:"sessiontimeoutseconds"`
	LoginSessionTimeoutSeconds int      `mapstructure:"loginsessiontimeoutseconds"`

	// Clinic settings
	ClinicTimezone string `mapstructure:"clinictimezone"`

	// File paths
	DatabasePath          string `mapstructure:"storagepath"`
	DatabaseName          string `mapstructure:"-"` // Derived from other settings
	GeoDBPath             string `mapstructure:"geodbpath"`
	GeoLiteLicenseKey     string `mapstructure:"geolitelicensekey"`
	PublicDirectory       string `mapstructure:"publicdir"`
	PublicAssetsUrlPrefix string `mapstructure:"publicassetsurlprefix"`

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings
	DatabaseType         string `mapstructure:"dbtype"`
	DatabaseMaxOpenConns int    `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int    `mapstructure:"dbmaxidleconns"`

	// Report settings
	RedisURL              string `mapstructure:"redisurl"`
	ReportCacheTTLSeconds int    `mapstructure:"reportcachettlseconds"`
	AggregationWorkers    int    `mapstructure:"aggregationworkers"`

	// Job scheduling settings
	JobIntervalSeconds      int `mapstructure:"jobintervalseconds"`
	DemoEventsRetentionDays int `mapstructure:"demoeventsretentiondays"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		v := viper.New()

		v.SetDefault("appname", "qrclinic")
		v.SetDefault("appport", "3000")
		v.SetDefault("environment", Development)
		v.SetDefault("loglevel", string(LogLevelDebug))
		v.SetDefault("privatekey", "88888888888888888888888888888888")
		v.SetDefault("sessiontimeoutseconds", 1800)
		v.SetDefault("loginsessiontimeoutseconds", 604800)
		v.SetDefault("clinictimezone", "Asia/Tokyo")
		v.SetDefault("storagepath", "storage")
		v.SetDefault("geodbpath", "")
		v.SetDefault("geolitelicensekey", "")
		v.SetDefault("publicdir", "web")
		v.SetDefault("publicassetsurlprefix", "/")
		v.SetDefault("logsdir", "logs")
		v.SetDefault("logsmaxsizeinmb", 20)
		v.SetDefault("logsmaxbackups", 10)
		v.SetDefault("logsmaxageindays", 30)
		v.SetDefault("dbtype", SQLiteDatabase)
		v.SetDefault("dbmaxopenconns", 0)
		v.SetDefault("dbmaxidleconns", 0)
		v.SetDefault("redisurl", "")
		v.SetDefault("reportcachettlseconds", 60)
		v.SetDefault("aggregationworkers", 7)
		v.SetDefault("jobintervalseconds", 3600)
		v.SetDefault("demoeventsretentiondays", 30)

		v.BindEnv("appname", "QRCLINIC_APP_NAME")
		v.BindEnv("appport", "QRCLINIC_APP_PORT")
		v.BindEnv("environment", "QRCLINIC_ENV")
		v.BindEnv("loglevel", "QRCLINIC_LOG_LEVEL")
		v.BindEnv("privatekey", "QRCLINIC_PRIVATE_KEY")
		v.BindEnv("sessiontimeoutseconds", "QRCLINIC_SESSION_TIMEOUT_SECONDS")
		v.BindEnv("loginsessiontimeoutseconds", "QRCLINIC_LOGIN_SESSION_TIMEOUT_SECONDS")
		v.BindEnv("clinictimezone", "QRCLINIC_TIMEZONE")
		v.BindEnv("storagepath", "QRCLINIC_STORAGE_PATH")
		v.BindEnv("geodbpath", "QRCLINIC_GEO_DB_PATH")
		v.BindEnv("geolitelicensekey", "QRCLINIC_GEOLITE_LICENSE_KEY")
		v.BindEnv("publicdir", "QRCLINIC_PUBLIC_DIR")
		v.BindEnv("publicassetsurlprefix", "QRCLINIC_PUBLIC_ASSETS_URL_PREFIX")
		v.BindEnv("logsdir", "QRCLINIC_LOGS_DIR")
		v.BindEnv("logsmaxsizeinmb", "QRCLINIC_LOGS_MAX_SIZE_IN_MB")
		v.BindEnv("logsmaxbackups", "QRCLINIC_LOGS_MAX_BACKUPS")
		v.BindEnv("logsmaxageindays", "QRCLINIC_LOGS_MAX_AGE_IN_DAYS")
		v.BindEnv("dbtype", "QRCLINIC_DB_TYPE")
		v.BindEnv("dbmaxopenconns", "QRCLINIC_DB_MAX_OPEN_CONNS")
		v.BindEnv("dbmaxidleconns", "QRCLINIC_DB_MAX_IDLE_CONNS")
		v.BindEnv("redisurl", "QRCLINIC_REDIS_URL")
		v.BindEnv("reportcachettlseconds", "QRCLINIC_REPORT_CACHE_TTL_SECONDS")
		v.BindEnv("aggregationworkers", "QRCLINIC_AGGREGATION_WORKERS")
		v.BindEnv("jobintervalseconds", "QRCLINIC_JOB_INTERVAL_SECONDS")
		v.BindEnv("demoeventsretentiondays", "QRCLINIC_DEMO_EVENTS_RETENTION_DAYS")

		cfg = &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			log.Fatalf("config: failed to unmarshal configuration: %v", err)
		}

		if err := cfg.validate(); err != nil {
			log.Fatalf("config: invalid configuration: %v", err)
		}

		cfg.DatabaseName = cfg.GetDatabasePath()

		defaultKey := "88888888888888888888888888888888"
		if cfg.PrivateKey == "" {
			log.Fatal("Private key is required")
		}
		if cfg.IsProduction() && cfg.PrivateKey == defaultKey {
			log.Fatal("Production requires a unique QRCLINIC_PRIVATE_KEY (cannot use default)")
		}
	})
	return cfg
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	validDBTypes := map[string]bool{
		SQLiteDatabase: true,
	}
	if !validDBTypes[c.DatabaseType] {
		return fmt.Errorf("invalid database type: %s", c.DatabaseType)
	}

	if _, err := time.LoadLocation(c.ClinicTimezone); err != nil {
		return fmt.Errorf("invalid clinic timezone %q: %w", c.ClinicTimezone, err)
	}

	if c.ReportCacheTTLSeconds < 0 {
		return fmt.Errorf("invalid report cache ttl: %d", c.ReportCacheTTLSeconds)
	}

	return nil
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.DatabasePath,
			fmt.Sprintf("%s-%s.db", c.AppName, c.Environment))
	}
	return c.DatabaseName
}

// GetGeoDBPath returns where the GeoLite2 City database lives. Defaults to
// the storage directory, which is where the updater job downloads it.
func (c *Config) GetGeoDBPath() string {
	if c.GeoDBPath != "" {
		return c.GeoDBPath
	}
	return filepath.Join(c.DatabasePath, "GeoLite2-City.mmdb")
}

// Location returns the clinic time zone. Falls back to UTC if the
// configured zone cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ReportCacheTTL returns how long assembled reports stay cached.
func (c *Config) ReportCacheTTL() time.Duration {
	return time.Duration(c.ReportCacheTTLSeconds) * time.Second
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// GetPort returns the HTTP server port (implements cartridge.Config interface).
func (c *Config) GetPort() string {
	return c.AppPort
}

// GetPublicDirectory returns the path to public/static assets (implements cartridge.Config interface).
func (c *Config) GetPublicDirectory() string {
	return c.PublicDirectory
}

// GetAssetsPrefix returns the URL prefix for static assets (implements cartridge.Config interface).
func (c *Config) GetAssetsPrefix() string {
	return c.PublicAssetsUrlPrefix
}

// GetAppName returns the application name (implements cartridge.FactoryConfig interface).
func (c *Config) GetAppName() string {
	return c.AppName
}

// DatabaseDSN returns the database connection string (implements cartridge.FactoryConfig interface).
func (c *Config) DatabaseDSN() string {
	return c.GetDatabasePath()
}

// GetSessionSecret returns the session encryption key (implements cartridge.FactoryConfig interface).
func (c *Config) GetSessionSecret() string {
	return c.PrivateKey
}

// GetSessionTimeout returns the session timeout in seconds.
func (c *Config) GetSessionTimeout() int {
	return c.SessionTimeoutSeconds
}

// GetLoginSessionTimeout returns the login session timeout in seconds.
func (c *Config) GetLoginSessionTimeout() int {
	return c.LoginSessionTimeoutSeconds
}

// GetMaxOpenConns returns the appropriate MaxOpenConns value based on environment.
// Stats requests fan out one query per dimension, so outside tests the pool
// allows concurrent readers.
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}

	if c.Environment == Test {
		return 1
	}

	return 10
}

// GetMaxIdleConns returns the appropriate MaxIdleConns value based on environment
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}

	if c.Environment == Test {
		return 1
	}

	return 5
}

// GetLogLevel returns the log level as a string (implements cartridge.LogConfigProvider).
func (c *Config) GetLogLevel() string {
	return string(c.LogLevel)
}

// GetLogDirectory returns the logs directory (implements cartridge.LogConfigProvider).
func (c *Config) GetLogDirectory() string {
	return c.LogsDirectory
}

// GetLogMaxSizeMB returns the max log file size in MB (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxSizeMB() int {
	return c.LogsMaxSizeInMb
}

// GetLogMaxBackups returns the max number of log backups (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxBackups() int {
	return c.LogsMaxBackups
}

// GetLogMaxAgeDays returns the max age in days for log files (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxAgeDays() int {
	return c.LogsMaxAgeInDays
}

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}
