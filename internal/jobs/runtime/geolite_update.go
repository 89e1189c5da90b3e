package runtime

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"proxyfinder/internal/config"
	"proxyfinder/internal/geolite"
)

const geoLiteUpdateFallbackEvery = 24 * time.Hour

var updateCity = geolite.UpdateCity

// StartGeoLiteUpdateRoutine downloads the GeoLite database on every tick of
// the configured interval until ctx ends. onUpdate runs after each
// successful download.
func StartGeoLiteUpdateRoutine(ctx context.Context, onUpdate func()) {
	interval := config.GetConfig().GeoLiteUpdateInterval()
	if interval <= 0 {
		interval = geoLiteUpdateFallbackEvery
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updated, err := RunGeoLiteUpdate(ctx, "scheduled", false)
			if err == nil && updated && onUpdate != nil {
				onUpdate()
			}
		}
	}
}

// RunGeoLiteUpdate downloads the GeoLite database and reports whether it did.
// Unless force is set the download only happens when auto updates are
// enabled and the last download is older than the update interval.
func RunGeoLiteUpdate(ctx context.Context, reason string, force bool) (bool, error) {
	cfg := config.GetConfig()
	licenseKey := strings.TrimSpace(cfg.GeoLite.LicenseKey)
	if licenseKey == "" {
		if force {
			return false, geolite.ErrNoLicenseKey
		}
		log.Debug("GeoLite update skipped: license key missing", "reason", reason)
		return false, nil
	}

	if !force {
		if !cfg.GeoLite.AutoUpdate {
			log.Debug("GeoLite update skipped: auto update disabled", "reason", reason)
			return false, nil
		}
		if !geoLiteStale(cfg, time.Now()) {
			log.Debug("GeoLite update skipped: database is recent", "reason", reason)
			return false, nil
		}
	}

	if err := updateCity(ctx, licenseKey, cfg.GeoLite.CityDB); err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Error("GeoLite update failed", "reason", reason, "error", err)
		}
		return false, err
	}
	if err := config.MarkGeoLiteUpdated(time.Now()); err != nil {
		log.Warn("Failed to persist GeoLite updated timestamp", "error", err)
	}

	log.Info("GeoLite database updated", "reason", reason, "path", cfg.GeoLite.CityDB)
	return true, nil
}

func geoLiteStale(cfg config.Config, now time.Time) bool {
	last, ok := cfg.GeoLiteLastUpdated()
	if !ok {
		return true
	}
	interval := cfg.GeoLiteUpdateInterval()
	if interval <= 0 {
		interval = geoLiteUpdateFallbackEvery
	}
	return now.Sub(last) >= interval
}
