package jobs

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/karloscodes/cartridge"

	"qrclinic/internal/config"
	"qrclinic/internal/pkg/geoip"
	"qrclinic/internal/settings"
)

const (
	// GeoLite database is updated weekly by MaxMind
	GeoLiteUpdateInterval = 7 * 24 * time.Hour
	MaxMindDownloadURL    = "https://download.maxmind.com/app/geoip_download?edition_id=GeoLite2-City&license_key=%s&suffix=tar.gz"
	KeyGeoLiteLastUpdate  = "geolite_last_update"

	downloadTimeout = 5 * time.Minute
)

// GeoLiteUpdaterJob keeps the GeoLite2 City database used for place
// lookups fresh. It does nothing without a license key.
type GeoLiteUpdaterJob struct {
	dbManager  cartridge.DBManager
	logger     *slog.Logger
	cfg        *config.Config
	httpClient *http.Client
	url        string
}

func NewGeoLiteUpdaterJob(dbManager cartridge.DBManager, logger *slog.Logger, cfg *config.Config) *GeoLiteUpdaterJob {
	return &GeoLiteUpdaterJob{
		dbManager:  dbManager,
		logger:     logger,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: downloadTimeout},
		url:        MaxMindDownloadURL,
	}
}

// Run downloads a new database when the last one is older than a week.
func (j *GeoLiteUpdaterJob) Run(ctx context.Context) error {
	licenseKey := strings.TrimSpace(j.cfg.GeoLiteLicenseKey)
	if licenseKey == "" {
		j.logger.Debug("GeoLite license key not configured, skipping update")
		return nil
	}

	lastUpdate := j.lastUpdateTime()
	if time.Since(lastUpdate) < GeoLiteUpdateInterval {
		j.logger.Debug("GeoLite database is up to date",
			slog.Time("last_update", lastUpdate),
			slog.Duration("age", time.Since(lastUpdate)))
		return nil
	}

	j.logger.Info("Starting GeoLite database update", slog.Time("last_update", lastUpdate))

	if err := j.downloadAndUpdate(ctx, licenseKey); err != nil {
		return fmt.Errorf("failed to update GeoLite database: %w", err)
	}

	geoip.ReloadGeoDB()

	if err := settings.UpdateSetting(j.dbManager.GetConnection(), KeyGeoLiteLastUpdate, time.Now().UTC().Format(time.RFC3339)); err != nil {
		j.logger.Error("Failed to record GeoLite update time", slog.Any("error", err))
	}

	j.logger.Info("GeoLite database updated successfully")
	return nil
}

func (j *GeoLiteUpdaterJob) lastUpdateTime() time.Time {
	value, err := settings.GetSetting(j.dbManager.GetConnection(), KeyGeoLiteLastUpdate)
	if err != nil || value == "" {
		return time.Time{}
	}
	lastUpdate, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return lastUpdate
}

func (j *GeoLiteUpdaterJob) downloadAndUpdate(ctx context.Context, licenseKey string) error {
	destPath := j.cfg.GetGeoDBPath()
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(j.url, licenseKey), nil)
	if err != nil {
		return fmt.Errorf("failed to build download request: %w", err)
	}
	resp, err := j.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download GeoLite database: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	// extract next to the destination, then rename so readers never see a
	// partial file
	tmpPath := destPath + ".tmp"
	if err := extractMMDB(resp.Body, tmpPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to extract database: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to install database: %w", err)
	}
	return nil
}

var errNoMMDB = errors.New("no .mmdb file found in archive")

// extractMMDB writes the first .mmdb entry of a tar.gz stream to destPath.
func extractMMDB(archive io.Reader, destPath string) error {
	gzr, err := gzip.NewReader(archive)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return errNoMMDB
		}
		if err != nil {
			return fmt.Errorf("failed to read tar: %w", err)
		}
		if !strings.HasSuffix(header.Name, ".mmdb") {
			continue
		}

		outFile, err := os.Create(destPath)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		if _, err := io.Copy(outFile, tr); err != nil {
			outFile.Close()
			return fmt.Errorf("failed to extract file: %w", err)
		}
		return outFile.Close()
	}
}
