// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package config provides configuration management for the Envoy power data logger.
package config

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Envoy     Envoy                     `yaml:"envoy"`
	Enphase   Enphase                   `yaml:"enphase"`
	Sampling  Sampling                  `yaml:"sampling"`
	Inverters map[string]InverterConfig `yaml:"inverters"`
	InfluxDB  InfluxDB                  `yaml:"influxdb" validate:"required"`
	Logging   Logging                   `yaml:"logging"`
}

// Envoy holds local gateway connection settings
type Envoy struct {
	// URL of the Envoy on the local network. Discovered via mDNS when empty.
	URL    string `yaml:"url" validate:"omitempty,url"`
	Serial string `yaml:"serial"`
	// Timeout bounds every HTTP call to the Envoy
	Timeout time.Duration `yaml:"timeout"`
}

// Enphase holds Enphase cloud credentials used to obtain the Envoy token
type Enphase struct {
	Email    string `yaml:"email" validate:"omitempty,email"`
	Password string `yaml:"password"`
	// Token bypasses the cloud login when set
	Token string `yaml:"token"`
}

// Sampling holds the engine cadence settings
type Sampling struct {
	Interval          time.Duration `yaml:"interval"`
	InverterInterval  time.Duration `yaml:"inverter_interval"`
	SourceTag         string        `yaml:"source_tag" validate:"required"`
	PowerRetries      int           `yaml:"power_retries"`
	PowerRetryBackoff time.Duration `yaml:"power_retry_backoff"`
	WatermarkLookback time.Duration `yaml:"watermark_lookback"`
}

// InverterConfig holds per-inverter settings. An entry here marks the
// serial as expected for daily rollover completeness.
type InverterConfig struct {
	Tags map[string]string `yaml:"tags"`
}

// InfluxDB holds InfluxDB connection settings
type InfluxDB struct {
	URL          string `yaml:"url" validate:"required"`
	Token        string `yaml:"token" validate:"required,min=8"`
	Organization string `yaml:"organization" validate:"required"`
	// BucketHR receives high-rate per-tick points, BucketLR daily summaries
	BucketHR string `yaml:"bucket_hr" validate:"required"`
	BucketLR string `yaml:"bucket_lr" validate:"required"`
}

// Logging holds logging settings
type Logging struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error fatal panic"`
}

// Load reads configuration from a YAML file and applies environment variable overrides
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.setDefaults()

	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// applyEnvironmentOverrides applies environment variable overrides to the configuration
func (c *Config) applyEnvironmentOverrides() {
	if u := os.Getenv("ENVOY_URL"); u != "" {
		c.Envoy.URL = u
	}
	if serial := os.Getenv("ENVOY_SERIAL"); serial != "" {
		c.Envoy.Serial = serial
	}
	if email := os.Getenv("ENPHASE_EMAIL"); email != "" {
		c.Enphase.Email = email
	}
	if password := os.Getenv("ENPHASE_PASSWORD"); password != "" {
		c.Enphase.Password = password
	}
	if token := os.Getenv("ENPHASE_TOKEN"); token != "" {
		c.Enphase.Token = token
	}
	if u := os.Getenv("INFLUXDB_URL"); u != "" {
		c.InfluxDB.URL = u
	}
	if token := os.Getenv("INFLUXDB_TOKEN"); token != "" {
		c.InfluxDB.Token = token
	}
	if org := os.Getenv("INFLUXDB_ORG"); org != "" {
		c.InfluxDB.Organization = org
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if interval := os.Getenv("SAMPLING_INTERVAL"); interval != "" {
		duration, parseErr := time.ParseDuration(interval)
		if parseErr == nil {
			c.Sampling.Interval = duration
		} else {
			fmt.Fprintf(os.Stderr, "Warning: Failed to parse SAMPLING_INTERVAL '%s': %v\n", interval, parseErr)
		}
	}
	if interval := os.Getenv("SAMPLING_INVERTER_INTERVAL"); interval != "" {
		duration, parseErr := time.ParseDuration(interval)
		if parseErr == nil {
			c.Sampling.InverterInterval = duration
		} else {
			fmt.Fprintf(os.Stderr, "Warning: Failed to parse SAMPLING_INVERTER_INTERVAL '%s': %v\n", interval, parseErr)
		}
	}
}

// setDefaults sets default values for configuration fields if not provided
func (c *Config) setDefaults() {
	if c.Envoy.Timeout == 0 {
		c.Envoy.Timeout = 10 * time.Second
	}
	if c.Sampling.Interval == 0 {
		c.Sampling.Interval = 60 * time.Second
	}
	if c.Sampling.InverterInterval == 0 {
		c.Sampling.InverterInterval = 300 * time.Second
	}
	if c.Sampling.PowerRetries == 0 {
		c.Sampling.PowerRetries = 10
	}
	if c.Sampling.PowerRetryBackoff == 0 {
		c.Sampling.PowerRetryBackoff = 5 * time.Second
	}
	if c.Sampling.WatermarkLookback == 0 {
		c.Sampling.WatermarkLookback = 30 * 24 * time.Hour
	}
	if c.Sampling.SourceTag == "" && c.Envoy.Serial != "" {
		c.Sampling.SourceTag = "envoy-" + c.Envoy.Serial
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	validate := validator.New()
	if validateErr := validate.Struct(c); validateErr != nil {
		return validateErr
	}

	if validateErr := c.validateInfluxDB(); validateErr != nil {
		return validateErr
	}

	if validateErr := c.validateSampling(); validateErr != nil {
		return validateErr
	}

	if c.Enphase.Token == "" && (c.Enphase.Email == "" || c.Enphase.Password == "") {
		return fmt.Errorf("either enphase.token or enphase.email and enphase.password are required")
	}

	return nil
}

// validateInfluxDB validates the InfluxDB configuration beyond struct tags
func (c *Config) validateInfluxDB() error {
	parsedURL, parseErr := url.Parse(c.InfluxDB.URL)
	if parseErr != nil {
		return fmt.Errorf("influxdb.url is not a valid URL: %w", parseErr)
	}

	if securityErr := validateURLSecurity(parsedURL); securityErr != nil {
		return securityErr
	}

	if c.InfluxDB.BucketHR == c.InfluxDB.BucketLR {
		return fmt.Errorf("influxdb.bucket_hr and influxdb.bucket_lr must differ: daily summaries would pollute the high-rate integral window")
	}

	return nil
}

// validateURLSecurity checks if the URL uses HTTPS for non-local connections
func validateURLSecurity(parsedURL *url.URL) error {
	if parsedURL.Scheme != "http" {
		return nil
	}

	hostname := strings.ToLower(parsedURL.Hostname())
	isLocal := hostname == "localhost" ||
		hostname == "127.0.0.1" ||
		hostname == "::1" ||
		strings.HasPrefix(hostname, "192.168.") ||
		strings.HasPrefix(hostname, "10.") ||
		strings.HasPrefix(hostname, "172.")

	if !isLocal {
		return fmt.Errorf("influxdb.url must use HTTPS for non-local connections (got %s). Using HTTP transmits credentials in plaintext and is a security risk", parsedURL.Scheme)
	}

	return nil
}

// validateSampling validates the sampling cadence configuration
func (c *Config) validateSampling() error {
	if c.Sampling.Interval < time.Second {
		return fmt.Errorf("sampling.interval must be at least 1 second")
	}
	if c.Sampling.Interval > time.Hour {
		return fmt.Errorf("sampling.interval must not exceed 1 hour")
	}
	if c.Sampling.InverterInterval < c.Sampling.Interval {
		return fmt.Errorf("sampling.inverter_interval must be greater than or equal to sampling.interval")
	}
	if c.Sampling.PowerRetries < 1 {
		return fmt.Errorf("sampling.power_retries must be at least 1")
	}
	if c.Sampling.WatermarkLookback < time.Hour {
		return fmt.Errorf("sampling.watermark_lookback must be at least 1 hour")
	}
	return nil
}

// ExpectedSerials returns the configured inverter serials in sorted order.
// Every serial listed here receives a daily summary point even when the
// inverter reported nothing all day.
func (c *Config) ExpectedSerials() []string {
	serials := make([]string, 0, len(c.Inverters))
	for serial := range c.Inverters {
		serials = append(serials, serial)
	}
	sort.Strings(serials)
	return serials
}

// InverterTags returns the extra tags configured for a serial, if any.
func (c *Config) InverterTags(serial string) map[string]string {
	inv, ok := c.Inverters[serial]
	if !ok {
		return nil
	}
	return inv.Tags
}
