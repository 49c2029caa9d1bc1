// Package config loads server configuration from environment variables.
//
// Required variables:
//   - DATABASE_URL: PostgreSQL connection string.
//
// Optional variables:
//   - HTTP_ADDR: listen address for the HTTP server (default ":8080").
//   - LOG_LEVEL: slog level (default "info").
//   - GEO_MODE: "live" to resolve visitor locations over HTTP, "static" to
//     serve a fixed location (default "live").
//   - GEO_STATIC_CITY / GEO_STATIC_COUNTRY: the location served in static
//     mode.
//   - GEO_LOOKUP_URL / GEO_PUBLIC_IP_URL: override the lookup endpoints;
//     GEO_LOOKUP_URL must contain a %s verb for the address being resolved.
//   - GEO_TIMEOUT: per-lookup timeout (default "5s", must be > 0 if set).
//   - MAX_JSON_BODY_SIZE: max HTTP JSON request body size in bytes
//     (default "1048576", must be > 0 if set).
//   - CONNECT_RATE_LIMIT: per-IP connect requests per minute
//     (default "60", must be > 0 if set).
//   - MARK_TIMEOUT: bound on the post-create engaged-set write
//     (default "2s", must be > 0 if set).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	GeoModeLive   = "live"
	GeoModeStatic = "static"

	defaultHTTPAddr               = ":8080"
	defaultGeoTimeout             = 5 * time.Second
	defaultConnectRateLimit       = 60
	defaultMaxJSONBodySize  int64 = 1 << 20 // 1MB
	defaultMarkTimeout            = 2 * time.Second
)

// Config holds the runtime configuration for the engage server.
type Config struct {
	DatabaseURL      string
	HTTPAddr         string
	LogLevel         string
	GeoMode          string
	GeoStaticCity    string
	GeoStaticCountry string
	GeoLookupURL     string
	GeoPublicIPURL   string
	GeoTimeout       time.Duration
	MaxJSONBodySize  int64
	ConnectRateLimit int
	MarkTimeout      time.Duration
}

// Load reads configuration from environment variables, applying defaults where
// appropriate. It returns an error if required variables are missing or if
// optional values fail validation.
func Load() (Config, error) {
	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}

	geoMode := envOrDefault("GEO_MODE", GeoModeLive)
	if geoMode != GeoModeLive && geoMode != GeoModeStatic {
		return Config{}, fmt.Errorf("GEO_MODE must be %q or %q", GeoModeLive, GeoModeStatic)
	}

	geoTimeout := defaultGeoTimeout
	if value := strings.TrimSpace(os.Getenv("GEO_TIMEOUT")); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse GEO_TIMEOUT: %w", err)
		}
		if parsed <= 0 {
			return Config{}, errors.New("GEO_TIMEOUT must be > 0")
		}
		geoTimeout = parsed
	}

	maxJSONBodySize := defaultMaxJSONBodySize
	if v := strings.TrimSpace(os.Getenv("MAX_JSON_BODY_SIZE")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1 {
			return Config{}, errors.New("MAX_JSON_BODY_SIZE must be a positive integer (bytes)")
		}
		maxJSONBodySize = n
	}

	connectRateLimit := defaultConnectRateLimit
	if v := strings.TrimSpace(os.Getenv("CONNECT_RATE_LIMIT")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, errors.New("CONNECT_RATE_LIMIT must be a positive integer")
		}
		connectRateLimit = n
	}

	geoLookupURL := strings.TrimSpace(os.Getenv("GEO_LOOKUP_URL"))
	if geoLookupURL != "" && !strings.Contains(geoLookupURL, "%s") {
		return Config{}, errors.New("GEO_LOOKUP_URL must contain a %s verb for the address being resolved")
	}

	markTimeout := defaultMarkTimeout
	if v := strings.TrimSpace(os.Getenv("MARK_TIMEOUT")); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse MARK_TIMEOUT: %w", err)
		}
		if parsed <= 0 {
			return Config{}, errors.New("MARK_TIMEOUT must be > 0")
		}
		markTimeout = parsed
	}

	return Config{
		DatabaseURL:      databaseURL,
		HTTPAddr:         envOrDefault("HTTP_ADDR", defaultHTTPAddr),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		GeoMode:          geoMode,
		GeoStaticCity:    strings.TrimSpace(os.Getenv("GEO_STATIC_CITY")),
		GeoStaticCountry: strings.TrimSpace(os.Getenv("GEO_STATIC_COUNTRY")),
		GeoLookupURL:     geoLookupURL,
		GeoPublicIPURL:   strings.TrimSpace(os.Getenv("GEO_PUBLIC_IP_URL")),
		GeoTimeout:       geoTimeout,
		MaxJSONBodySize:  maxJSONBodySize,
		ConnectRateLimit: connectRateLimit,
		MarkTimeout:      markTimeout,
	}, nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
