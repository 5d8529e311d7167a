// Package config holds runtime configuration for both services. Values
// come from config.yaml, GRANTLINE_* environment variables, or defaults,
// in ascending precedence of env over file over default.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton. Call once at
// startup, before any getter.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	// Explicitly locate config.yaml: working directory first, then the
	// user config directory.
	configFileSet := false
	if _, err := os.Stat("config.yaml"); err == nil {
		v.SetConfigFile("config.yaml")
		configFileSet = true
	}
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "grantline", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// GRANTLINE_DB_PATH maps to "db.path", GRANTLINE_LOG_LEVEL to
	// "log.level", and so on.
	v.SetEnvPrefix("GRANTLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Storage
	v.SetDefault("db.path", "grantline.db")

	// Listen addresses
	v.SetDefault("serve.addr", ":8080")
	v.SetDefault("executor.addr", ":8090")

	// Governance → executor link
	v.SetDefault("executor.url", "http://127.0.0.1:8090")
	v.SetDefault("executor.api-key", "")
	v.SetDefault("executor.timeout", "60s")

	// AES key for cluster credentials, 32 hex characters. Shared by both
	// services; there is no default on purpose.
	v.SetDefault("encryption-key", "")

	// Logging
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max-size-mb", 100)
	v.SetDefault("log.max-backups", 3)
	v.SetDefault("log.max-age-days", 28)

	// Graceful shutdown window
	v.SetDefault("shutdown-timeout", "10s")

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// Validate checks the settings a service cannot start without.
func Validate() error {
	key := GetString("encryption-key")
	if key == "" {
		return fmt.Errorf("encryption-key is required (GRANTLINE_ENCRYPTION_KEY)")
	}
	if len(key) != 32 {
		return fmt.Errorf("encryption-key must be 32 hex characters, got %d", len(key))
	}
	if GetString("executor.api-key") == "" {
		return fmt.Errorf("executor.api-key is required (GRANTLINE_EXECUTOR_API_KEY)")
	}
	return nil
}

// GetString retrieves a string configuration value.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value.
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value.
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value.
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// Set overrides a configuration value. Used by command-line flags, which
// take precedence over every other source.
func Set(key string, value any) {
	if v != nil {
		v.Set(key, value)
	}
}

// AllSettings returns all configuration settings as a map.
func AllSettings() map[string]any {
	if v == nil {
		return map[string]any{}
	}
	return v.AllSettings()
}
