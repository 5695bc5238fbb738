package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings is the top-level runtime configuration. All fields are typed and
// defaulted; validation happens once at load time, not at every access site.
type Settings struct {
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// DataDir holds the sqlite databases and downloaded packages.
	DataDir string `mapstructure:"DATA_DIR"`

	ScanDBPath    string `mapstructure:"SCAN_DB_PATH"`
	CatalogDBPath string `mapstructure:"CATALOG_DB_PATH"`

	// PluginsDir is where safe retrieval stages and extracts packages.
	PluginsDir string `mapstructure:"PLUGINS_DIR"`

	// HTTPPoolSize is the shared connection-pool size; clamped to MaxPoolSize.
	HTTPPoolSize int `mapstructure:"HTTP_POOL_SIZE"`

	// RequestTimeout applies to registry page fetches.
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	// DownloadTimeout applies to archive downloads, which are larger.
	DownloadTimeout time.Duration `mapstructure:"DOWNLOAD_TIMEOUT"`

	ServerAddr string `mapstructure:"SERVER_ADDR"`
}

// Load reads settings from .env / environment with defaults.
func Load() (*Settings, error) {
	v := viper.New()

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	dataDir := filepath.Join(home, ".wp-hunter")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATA_DIR", dataDir)
	v.SetDefault("SCAN_DB_PATH", "")
	v.SetDefault("CATALOG_DB_PATH", "")
	v.SetDefault("PLUGINS_DIR", "")
	v.SetDefault("HTTP_POOL_SIZE", MaxPoolSize)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("DOWNLOAD_TIMEOUT", "60s")
	v.SetDefault("SERVER_ADDR", fmt.Sprintf(":%d", DefaultServerPort))

	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // missing file is fine

	v.SetEnvPrefix("WP_HUNTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, err
	}

	if s.ScanDBPath == "" {
		s.ScanDBPath = filepath.Join(s.DataDir, "wp_hunter.db")
	}
	if s.CatalogDBPath == "" {
		s.CatalogDBPath = filepath.Join(s.DataDir, "plugins_metadata.db")
	}
	if s.PluginsDir == "" {
		s.PluginsDir = filepath.Join(s.DataDir, "Plugins")
	}
	if s.HTTPPoolSize <= 0 {
		return nil, errors.New("HTTP_POOL_SIZE must be positive")
	}
	if s.HTTPPoolSize > MaxPoolSize {
		s.HTTPPoolSize = MaxPoolSize
	}
	if s.RequestTimeout <= 0 || s.DownloadTimeout <= 0 {
		return nil, errors.New("timeouts must be positive")
	}

	return &s, nil
}
