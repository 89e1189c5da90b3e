package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

type Config struct {
	Pool struct {
		MaxThreads      int     `json:"max_threads"`
		TimeoutSeconds  float64 `json:"timeout_seconds"`
		MaxAttempts     int     `json:"max_attempts"`     // 0 retries forever
		DeadlineSeconds float64 `json:"deadline_seconds"` // 0 retries forever
		Protocol        string  `json:"protocol"`
	} `json:"pool"`

	Discovery struct {
		Threads               int      `json:"threads"`
		TryURL                string   `json:"try_url"`
		CheckTimeoutSeconds   float64  `json:"check_timeout_seconds"`
		ConnectTimeoutSeconds float64  `json:"connect_timeout_seconds"`
		Ports                 []uint16 `json:"ports"`
	} `json:"discovery"`

	Directory struct {
		Root           string  `json:"root"`
		TimeoutSeconds float64 `json:"timeout_seconds"`
		Concurrency    int     `json:"concurrency"`
	} `json:"directory"`

	GeoLite struct {
		CityDB              string  `json:"city_db"`
		LicenseKey          string  `json:"license_key"`
		AutoUpdate          bool    `json:"auto_update"`
		UpdateIntervalHours float64 `json:"update_interval_hours"`
		LastUpdatedAt       string  `json:"last_updated_at,omitempty"`
	} `json:"geolite"`

	Scraper struct {
		RespectRobots  bool    `json:"respect_robots_txt"`
		TimeoutSeconds float64 `json:"timeout_seconds"`
		UserAgent      string  `json:"user_agent"`
		Concurrency    int     `json:"concurrency"`
	} `json:"scraper"`

	Redis struct {
		QueueKey string `json:"queue_key"`
	} `json:"redis"`

	Blacklist struct {
		Sources []string `json:"sources"`
		Entries []string `json:"entries"`
	} `json:"blacklist"`

	BlockedWebsites []string `json:"blocked_websites"`
}

func (c Config) PoolTimeout() time.Duration {
	return seconds(c.Pool.TimeoutSeconds)
}

func (c Config) PoolDeadline() time.Duration {
	return seconds(c.Pool.DeadlineSeconds)
}

func (c Config) CheckTimeout() time.Duration {
	return seconds(c.Discovery.CheckTimeoutSeconds)
}

func (c Config) ConnectTimeout() time.Duration {
	return seconds(c.Discovery.ConnectTimeoutSeconds)
}

func (c Config) DirectoryTimeout() time.Duration {
	return seconds(c.Directory.TimeoutSeconds)
}

func (c Config) ScraperTimeout() time.Duration {
	return seconds(c.Scraper.TimeoutSeconds)
}

func (c Config) GeoLiteUpdateInterval() time.Duration {
	if c.GeoLite.UpdateIntervalHours <= 0 {
		return 0
	}
	return time.Duration(c.GeoLite.UpdateIntervalHours * float64(time.Hour))
}

// GeoLiteLastUpdated reports when the GeoLite database was last downloaded.
func (c Config) GeoLiteLastUpdated() (time.Time, bool) {
	if c.GeoLite.LastUpdatedAt == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, c.GeoLite.LastUpdatedAt)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func seconds(value float64) time.Duration {
	if value <= 0 {
		return 0
	}
	return time.Duration(value * float64(time.Second))
}

const DefaultSettingsPath = "data/settings.json"

var (
	//go:embed default_settings.json
	defaultConfig []byte

	configValue  atomic.Value
	settingsPath atomic.Value
	configMu     sync.Mutex
)

func init() {
	cfg, err := Defaults()
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults are invalid: %v", err))
	}
	configValue.Store(cfg)
	settingsPath.Store(DefaultSettingsPath)
}

// Defaults returns the embedded default configuration.
func Defaults() (Config, error) {
	var cfg Config
	if err := json.Unmarshal(defaultConfig, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func SettingsPath() string {
	return settingsPath.Load().(string)
}

// ReadSettings loads path on top of the embedded defaults. A missing file is
// created from the defaults.
func ReadSettings(path string) error {
	if path == "" {
		path = DefaultSettingsPath
	}
	settingsPath.Store(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config: read %s: %w", path, err)
		}

		log.Warn("Settings file not found, creating with default configuration", "path", path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("config: create settings dir: %w", err)
		}
		if err := os.WriteFile(path, defaultConfig, 0o644); err != nil {
			return fmt.Errorf("config: write default settings: %w", err)
		}
		data = defaultConfig
	}

	newConfig, err := Defaults()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &newConfig); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	apply(newConfig, "file")
	return nil
}

// SetConfig replaces the active configuration and writes it to the
// settings file.
func SetConfig(newConfig Config) error {
	configMu.Lock()
	defer configMu.Unlock()

	data, err := json.MarshalIndent(newConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	path := SettingsPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create settings dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}

	storeLocked(newConfig, "local")
	return nil
}

// Override replaces the active configuration without persisting it.
func Override(newConfig Config) {
	apply(newConfig, "override")
}

func MarkGeoLiteUpdated(ts time.Time) error {
	cfg := GetConfig()
	cfg.GeoLite.LastUpdatedAt = ts.UTC().Format(time.RFC3339)
	return SetConfig(cfg)
}

func apply(newConfig Config, source string) {
	configMu.Lock()
	defer configMu.Unlock()
	storeLocked(newConfig, source)
}

func storeLocked(newConfig Config, source string) {
	configValue.Store(newConfig)
	updateWebsiteBlocklist(newConfig.BlockedWebsites)
	log.Debug("Configuration applied", "source", source)
}

func GetConfig() Config {
	return configValue.Load().(Config)
}
