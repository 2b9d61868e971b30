// Package config has the configuration file for the staging pipeline
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Config holds all pipeline configuration
type Config struct {
	CacheDir          string // Immutable downloaded archives
	ScratchDir        string // Derived and intermediate artifacts
	Env               string
	LogLevel          string
	LogDir            string // Empty disables file logging
	HTTPTimeoutMin    int    // Download timeout in minutes
	DownloadRateLimit int64  // Download throttle in bytes/second, 0 = unlimited
	MetricsTextfile   string // Empty disables the textfile export

	// Upstream dataset locations, overridable per environment
	OSMBrasilURL     string
	IBGEUFURL        string
	IBGEMunicipioURL string
	CNESURL          string
}

// Load loads and validates configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		CacheDir:          getEnvWithDefault("CACHE_DIR", "data/cache"),
		ScratchDir:        getEnvWithDefault("SCRATCH_DIR", "data/tmp"),
		Env:               getEnvWithDefault("ENV", "dev"),
		LogLevel:          getEnvWithDefault("LOG_LEVEL", "info"),
		LogDir:            getEnvWithDefault("LOG_DIR", ""),
		HTTPTimeoutMin:    getIntEnvWithDefault("HTTP_TIMEOUT_MINUTES", 30),
		DownloadRateLimit: getInt64EnvWithDefault("DOWNLOAD_RATE_LIMIT", 0),
		MetricsTextfile:   getEnvWithDefault("METRICS_TEXTFILE", ""),

		OSMBrasilURL: getEnvWithDefault("OSM_BRASIL_URL",
			"https://download.geofabrik.de/south-america/brazil-latest.osm.pbf"),
		IBGEUFURL: getEnvWithDefault("IBGE_UF_URL",
			"https://geoftp.ibge.gov.br/organizacao_do_territorio/malhas_territoriais/malhas_municipais/municipio_2022/Brasil/BR/BR_UF_2022.zip"),
		IBGEMunicipioURL: getEnvWithDefault("IBGE_MUNICIPIOS_URL",
			"https://geoftp.ibge.gov.br/organizacao_do_territorio/malhas_territoriais/malhas_municipais/municipio_2022/Brasil/BR/BR_Municipios_2022.zip"),
		CNESURL: getEnvWithDefault("CNES_URL",
			"https://ftp.datasus.gov.br/cnes/BASE_DE_DADOS_CNES_202304.zip"),
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// validateConfig validates all configuration values
func validateConfig(cfg *Config) error {
	if err := validateDir(cfg.CacheDir, "CACHE_DIR"); err != nil {
		return err
	}

	if err := validateDir(cfg.ScratchDir, "SCRATCH_DIR"); err != nil {
		return err
	}

	if err := validateEnv(cfg.Env); err != nil {
		return fmt.Errorf("invalid ENV: %w", err)
	}

	if err := validateLogLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	if cfg.HTTPTimeoutMin < 1 || cfg.HTTPTimeoutMin > 24*60 {
		return fmt.Errorf("invalid HTTP_TIMEOUT_MINUTES: must be between 1 and 1440, got %d", cfg.HTTPTimeoutMin)
	}

	if cfg.DownloadRateLimit < 0 {
		return fmt.Errorf("invalid DOWNLOAD_RATE_LIMIT: must not be negative, got %d", cfg.DownloadRateLimit)
	}

	for name, value := range map[string]string{
		"OSM_BRASIL_URL":      cfg.OSMBrasilURL,
		"IBGE_UF_URL":         cfg.IBGEUFURL,
		"IBGE_MUNICIPIOS_URL": cfg.IBGEMunicipioURL,
		"CNES_URL":            cfg.CNESURL,
	} {
		if err := validateURL(value); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	return nil
}

// validateDir rejects empty paths and paths that escape the working tree
func validateDir(dir string, configName string) error {
	if dir == "" {
		return fmt.Errorf("%s cannot be empty", configName)
	}
	if strings.Contains(dir, "..") {
		return fmt.Errorf("%s must not contain '..', got: %s", configName, dir)
	}
	return nil
}

// validateEnv validates the ENV environment variable
func validateEnv(env string) error {
	if env == "" {
		return fmt.Errorf("ENV cannot be empty")
	}

	validEnvs := []string{"dev", "staging", "prod", "test"}
	env = strings.ToLower(env)

	for _, validEnv := range validEnvs {
		if env == validEnv {
			return nil
		}
	}

	return fmt.Errorf("ENV must be one of: %v, got: %s", validEnvs, env)
}

// validateLogLevel validates the LOG_LEVEL environment variable
func validateLogLevel(logLevel string) error {
	if logLevel == "" {
		return fmt.Errorf("LOG_LEVEL cannot be empty")
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	logLevel = strings.ToLower(logLevel)

	for _, level := range validLevels {
		if logLevel == level {
			return nil
		}
	}

	return fmt.Errorf("LOG_LEVEL must be one of: %v, got: %s", validLevels, logLevel)
}

// validateURL checks that a dataset URL is absolute http(s)
func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("URL cannot be empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("URL must be parseable: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}

	if u.Host == "" {
		return fmt.Errorf("URL must have a host: %s", raw)
	}

	return nil
}

// getEnvWithDefault returns the environment variable value or a default
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnvWithDefault returns the environment variable as int or a default
func getIntEnvWithDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// getInt64EnvWithDefault returns the environment variable as int64 or a default
func getInt64EnvWithDefault(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}
