package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Plex
	PlexBaseURL string
	PlexToken   string

	// PlexDatabaseFolder optionally overrides where the Plex server keeps its
	// own database file. Only consulted when importing intro markers.
	PlexDatabaseFolder string

	// Logging
	LogLevel string
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
	viper.SetDefault("LOG_LEVEL", "info")

	config := &Config{
		PlexBaseURL:        strings.TrimSuffix(viper.GetString("PLEX_BASE_URL"), "/"),
		PlexToken:          viper.GetString("PLEX_TOKEN"),
		PlexDatabaseFolder: viper.GetString("PLEX_DATABASE_FOLDER"),
		LogLevel:           viper.GetString("LOG_LEVEL"),
	}

	// Validate required fields
	if config.PlexBaseURL == "" {
		return nil, fmt.Errorf("PLEX_BASE_URL is required")
	}
	if config.PlexToken == "" {
		return nil, fmt.Errorf("PLEX_TOKEN is required")
	}

	return config, nil
}
