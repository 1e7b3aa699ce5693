package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Config holds all application configuration
type Config struct {
	ServerURL     string `json:"serverUrl"`
	DatabasePath  string `json:"databasePath"`
	BridgeAddress string `json:"bridgeAddress"`
	Platform      string `json:"platform"`

	// AllowAnonymousObservations enables dataset submission without a
	// logged-in user. Mirrors the app's frontend settings option.
	AllowAnonymousObservations bool `json:"allowAnonymousObservations"`

	LocalImages  ImageSettings `json:"localImages"`
	UploadImages ImageSettings `json:"uploadImages"`

	LocalQuotaMB     int64 `json:"localQuotaMB"`
	SyncIntervalMins int   `json:"syncIntervalMinutes"`
}

// ImageSettings bounds the codec output for one destination
type ImageSettings struct {
	MaxEdge int `json:"maxEdge"`
	Quality int `json:"quality"`
}

// Default configuration
func defaultConfig() *Config {
	return &Config{
		ServerURL:                  "https://localcosmos.org/api",
		DatabasePath:               "naturelog.db",
		BridgeAddress:              "127.0.0.1:8710",
		Platform:                   "browser",
		AllowAnonymousObservations: true,
		// on-device storage bounds; constrained platforms get overridden in Load
		LocalImages:      ImageSettings{MaxEdge: 2000, Quality: 95},
		UploadImages:     ImageSettings{MaxEdge: 2000, Quality: 95},
		LocalQuotaMB:     512,
		SyncIntervalMins: 5,
	}
}

// Load loads configuration from file or environment
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	// Override from environment variables
	if url := os.Getenv("SERVER_URL"); url != "" {
		cfg.ServerURL = url
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	if addr := os.Getenv("BRIDGE_ADDRESS"); addr != "" {
		cfg.BridgeAddress = addr
	}
	if platform := os.Getenv("PLATFORM"); platform != "" {
		cfg.Platform = platform
	}
	if anon := os.Getenv("ALLOW_ANONYMOUS_OBSERVATIONS"); anon != "" {
		cfg.AllowAnonymousObservations = anon == "true" || anon == "1"
	}
	if interval := os.Getenv("SYNC_INTERVAL_MINUTES"); interval != "" {
		if mins, err := strconv.Atoi(interval); err == nil && mins > 0 {
			cfg.SyncIntervalMins = mins
		}
	}

	// iOS enforces stricter limits on local database size
	if cfg.IsConstrainedPlatform() {
		cfg.LocalImages = ImageSettings{MaxEdge: 1500, Quality: 90}
	}

	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")

	return cfg, nil
}

// IsConstrainedPlatform reports whether local storage must be treated as scarce
func (c *Config) IsConstrainedPlatform() bool {
	return strings.EqualFold(c.Platform, "ios")
}

// EnsureClientID loads or creates the stable device identifier that keys
// anonymous submissions to the originating device across sessions.
func EnsureClientID(databasePath string) (string, error) {
	idPath := filepath.Join(filepath.Dir(databasePath), "device_id")

	if data, err := os.ReadFile(idPath); err == nil {
		id := strings.TrimSpace(string(data))
		if _, err := uuid.Parse(id); err == nil {
			return id, nil
		}
	}

	id := uuid.NewString()
	if err := os.WriteFile(idPath, []byte(id+"\n"), 0600); err != nil {
		return "", err
	}
	return id, nil
}
