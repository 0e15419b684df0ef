package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Catalog metadata service
	CatalogBaseURL string

	// Origin storage / CDN
	OriginBaseURL string

	// Download grants
	SigningSecret   string
	DownloadTTL     time.Duration // grant lifetime (default: 10 minutes)
	DownloadBaseURL string        // base for signed download URLs; defaults to OriginBaseURL

	// Streaming
	TargetSegmentDuration int           // seconds per segment (default: 10)
	ManifestCacheTTL      time.Duration // master/variant playlist cache (default: 5 minutes)
	SegmentCacheTTL       time.Duration // immutable segment cache (default: 24 hours)
	SegmentCacheMaxBytes  int           // largest segment body kept in cache (default: 4MB)
	OriginTimeout         time.Duration // per-request origin deadline (default: 15s)

	// Progress retention
	ProgressRetentionDays int // days before an untouched resume position is dropped (default: 90)

	// Server
	ServerPort string

	// Paths
	DatabaseFile string // $CONFIG_DIR/gostreamd.db

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	// Setup viper FIRST to load .env file
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// Load .env file if it exists (ignore if not found)
	_ = viper.ReadInConfig()

	// Set defaults
	viper.SetDefault("DOWNLOAD_TTL_SECONDS", 600)
	viper.SetDefault("TARGET_SEGMENT_DURATION", 10)
	viper.SetDefault("MANIFEST_CACHE_SECONDS", 300)
	viper.SetDefault("SEGMENT_CACHE_SECONDS", 86400)
	viper.SetDefault("SEGMENT_CACHE_MAX_BYTES", 4*1024*1024)
	viper.SetDefault("ORIGIN_TIMEOUT_SECONDS", 15)
	viper.SetDefault("PROGRESS_RETENTION_DAYS", 90)
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "text")

	// NOW read CONFIG_DIR from viper (which has loaded .env file)
	configDir := viper.GetString("CONFIG_DIR")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config", "gostreamd")
	} else {
		// Convert relative path to absolute path
		absPath, err := filepath.Abs(configDir)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path for CONFIG_DIR: %w", err)
		}
		configDir = absPath
	}

	// Create config directory if it doesn't exist
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	config := &Config{
		// Collaborators
		CatalogBaseURL: viper.GetString("CATALOG_BASE_URL"),
		OriginBaseURL:  viper.GetString("ORIGIN_BASE_URL"),

		// Download grants
		SigningSecret:   viper.GetString("STREAM_SIGNING_SECRET"),
		DownloadTTL:     time.Duration(viper.GetInt("DOWNLOAD_TTL_SECONDS")) * time.Second,
		DownloadBaseURL: viper.GetString("DOWNLOAD_BASE_URL"),

		// Streaming
		TargetSegmentDuration: viper.GetInt("TARGET_SEGMENT_DURATION"),
		ManifestCacheTTL:      time.Duration(viper.GetInt("MANIFEST_CACHE_SECONDS")) * time.Second,
		SegmentCacheTTL:       time.Duration(viper.GetInt("SEGMENT_CACHE_SECONDS")) * time.Second,
		SegmentCacheMaxBytes:  viper.GetInt("SEGMENT_CACHE_MAX_BYTES"),
		OriginTimeout:         time.Duration(viper.GetInt("ORIGIN_TIMEOUT_SECONDS")) * time.Second,

		// Progress retention
		ProgressRetentionDays: viper.GetInt("PROGRESS_RETENTION_DAYS"),

		// Server
		ServerPort: viper.GetString("SERVER_PORT"),

		// Paths
		DatabaseFile: filepath.Join(configDir, "gostreamd.db"),

		// Logging
		LogLevel:  viper.GetString("LOG_LEVEL"),
		LogFormat: viper.GetString("LOG_FORMAT"),
	}

	if config.DownloadBaseURL == "" {
		config.DownloadBaseURL = config.OriginBaseURL
	}

	// Validate required fields
	if config.CatalogBaseURL == "" {
		return nil, fmt.Errorf("CATALOG_BASE_URL is required")
	}
	if config.OriginBaseURL == "" {
		return nil, fmt.Errorf("ORIGIN_BASE_URL is required")
	}
	if config.SigningSecret == "" {
		return nil, fmt.Errorf("STREAM_SIGNING_SECRET is required")
	}
	if config.TargetSegmentDuration <= 0 {
		return nil, fmt.Errorf("TARGET_SEGMENT_DURATION must be positive")
	}

	return config, nil
}
