package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Grid source kinds.
const (
	SourceOpenDAP = "opendap"
	SourceNetCDF  = "netcdf"
)

type AppConfig struct {
	Port string

	// Source selects the grid backend: opendap (NOMADS) or netcdf (local mirror).
	Source      string
	BaseURL     string
	NetCDFDir   string
	HTTPTimeout time.Duration

	// OutputOffset is the fixed UTC offset of response timestamps.
	OutputOffset time.Duration

	// WatchInterval controls how often the latest runs are refreshed (0 = off).
	WatchInterval time.Duration

	// In-memory run status retention.
	StoreMaxHistory int           // max statuses per product (0 = unlimited)
	StoreMaxAge     time.Duration // max age of statuses (0 = unlimited)

	GeocoderAPIKey string

	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment with sensible defaults.
// A .env file, if any, is loaded by the caller before Load.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{}
	var err error

	cfg.Port = getenvDefault("PORT", "8080")

	cfg.Source = strings.ToLower(getenvDefault("GFS_SOURCE", SourceOpenDAP))
	switch cfg.Source {
	case SourceOpenDAP, SourceNetCDF:
	default:
		return nil, fmt.Errorf("invalid GFS_SOURCE %q: want %s or %s", cfg.Source, SourceOpenDAP, SourceNetCDF)
	}
	cfg.BaseURL = os.Getenv("GFS_BASE_URL")
	cfg.NetCDFDir = os.Getenv("GFS_NETCDF_DIR")
	if cfg.Source == SourceNetCDF && cfg.NetCDFDir == "" {
		return nil, fmt.Errorf("GFS_NETCDF_DIR is required when GFS_SOURCE=%s", SourceNetCDF)
	}

	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "60s"); err != nil {
		return nil, err
	}
	if cfg.OutputOffset, err = getenvDuration("OUTPUT_TZ_OFFSET", "5h30m"); err != nil {
		return nil, err
	}
	if cfg.WatchInterval, err = getenvDuration("WATCH_INTERVAL", "30m"); err != nil {
		return nil, err
	}

	// Four cycles a day per product, a week of history by default.
	cfg.StoreMaxHistory = getenvInt("STORE_MAX_HISTORY", 28)
	if cfg.StoreMaxAge, err = getenvDuration("STORE_MAX_AGE", "168h"); err != nil {
		return nil, err
	}

	cfg.GeocoderAPIKey = os.Getenv("GEOCODER_API_KEY")

	cfg.LogLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.LogFormat = getenvDefault("LOG_FORMAT", "json")

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
