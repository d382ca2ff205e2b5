// Package config loads daemon configuration from file, environment and
// flags via viper. Precedence follows viper's usual rules: explicit
// flag bindings over environment over config file over defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the daemon configuration.
type Config struct {
	// ListenAddr is the HTTP listen address for the RPC server.
	ListenAddr string `mapstructure:"listen_addr"`

	// SnapshotPath is where engine state is persisted. Empty disables
	// persistence.
	SnapshotPath string `mapstructure:"snapshot_path"`

	// SnapshotInterval is the autosave cadence. Zero disables autosave
	// even when SnapshotPath is set (state is still saved on shutdown).
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`

	// ManifestPath points at the views.yaml bootstrap file. Empty
	// disables manifest loading.
	ManifestPath string `mapstructure:"manifest_path"`

	// WatchManifest re-registers views when the manifest file changes.
	WatchManifest bool `mapstructure:"watch_manifest"`

	// LogFile redirects operational logging; empty keeps stderr.
	// Rotation applies only when a file is set.
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
	LogMaxAgeDays int    `mapstructure:"log_max_age_days"`

	// Telemetry enables the OpenTelemetry SDK with stdout exporters.
	Telemetry bool `mapstructure:"telemetry"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		ListenAddr:       "127.0.0.1:4822",
		SnapshotInterval: 30 * time.Second,
		WatchManifest:    true,
		LogMaxSizeMB:     50,
		LogMaxBackups:    3,
		LogMaxAgeDays:    14,
	}
}

// Load reads configuration. path may name a config file directly; when
// empty, spectre.yaml is searched in the working directory. Environment
// variables use the SPECTRE_ prefix (SPECTRE_LISTEN_ADDR and friends).
func Load(path string) (Config, error) {
	v := viper.New()

	def := Defaults()
	v.SetDefault("listen_addr", def.ListenAddr)
	v.SetDefault("snapshot_path", def.SnapshotPath)
	v.SetDefault("snapshot_interval", def.SnapshotInterval)
	v.SetDefault("manifest_path", def.ManifestPath)
	v.SetDefault("watch_manifest", def.WatchManifest)
	v.SetDefault("log_file", def.LogFile)
	v.SetDefault("log_max_size_mb", def.LogMaxSizeMB)
	v.SetDefault("log_max_backups", def.LogMaxBackups)
	v.SetDefault("log_max_age_days", def.LogMaxAgeDays)
	v.SetDefault("telemetry", def.Telemetry)

	v.SetEnvPrefix("SPECTRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("spectre")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			// A missing default config is fine; anything else is not.
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
