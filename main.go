// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/soothill/envoy-data-logger/app"
	"github.com/soothill/envoy-data-logger/config"
	"github.com/soothill/envoy-data-logger/pkg/logger"
	"github.com/soothill/envoy-data-logger/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	metricsPort := flag.String("metrics-port", "9090", "Port for Prometheus metrics endpoint")
	healthCheck := flag.Bool("health-check", false, "Perform health check and exit")
	validateConfig := flag.Bool("validate-config", false, "Validate configuration file and exit")
	flag.Parse()

	if *healthCheck {
		os.Exit(performHealthCheck(*configPath))
	}

	if *validateConfig {
		os.Exit(performConfigValidation(*configPath))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Initialize("error")
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(cfg.Logging.Level)

	logger.Info().Msg("Starting Envoy Power Data Logger")
	logger.Info().Dur("sampling_interval", cfg.Sampling.Interval).
		Dur("inverter_interval", cfg.Sampling.InverterInterval).
		Str("source_tag", cfg.Sampling.SourceTag).
		Int("configured_inverters", len(cfg.Inverters)).
		Msg("Configuration loaded")

	application, err := app.New(cfg, *metricsPort)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create application")
	}

	setupDebugSignalHandlers(application)

	application.Run()
}

// performHealthCheck performs a health check and returns exit code
func performHealthCheck(configPath string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: could not load config: %v\n", err)
		return 1
	}

	store, err := storage.NewInfluxDBStore(
		cfg.InfluxDB.URL,
		cfg.InfluxDB.Token,
		cfg.InfluxDB.Organization,
		cfg.InfluxDB.BucketHR,
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: could not create InfluxDB client: %v\n", err)
		return 1
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.Health(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: InfluxDB is unhealthy: %v\n", err)
		return 1
	}

	fmt.Println("Health check passed: InfluxDB is healthy")
	return 0
}

// performConfigValidation validates the configuration file and returns exit code
func performConfigValidation(configPath string) int {
	logger.Initialize("info")
	logger.Info().Str("path", configPath).Msg("Validating configuration file")

	if err := config.ValidateWithSchema(configPath); err != nil {
		logger.Error().Err(err).Msg("Configuration schema validation failed")
		fmt.Fprintf(os.Stderr, "\n❌ Configuration validation FAILED\n")
		return 1
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error().Err(err).Msg("Configuration validation failed")
		fmt.Fprintf(os.Stderr, "\n❌ Configuration validation FAILED\n")
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		return 1
	}

	fmt.Println("\n✅ Configuration validation PASSED")
	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  InfluxDB URL: %s\n", cfg.InfluxDB.URL)
	fmt.Printf("  InfluxDB Organization: %s\n", cfg.InfluxDB.Organization)
	fmt.Printf("  High-Rate Bucket: %s\n", cfg.InfluxDB.BucketHR)
	fmt.Printf("  Daily Bucket: %s\n", cfg.InfluxDB.BucketLR)
	fmt.Printf("  Log Level: %s\n", cfg.Logging.Level)
	fmt.Printf("  Sampling Interval: %s\n", cfg.Sampling.Interval)
	fmt.Printf("  Inverter Interval: %s\n", cfg.Sampling.InverterInterval)
	fmt.Printf("  Source Tag: %s\n", cfg.Sampling.SourceTag)
	fmt.Printf("  Envoy Serial: %s\n", cfg.Envoy.Serial)
	fmt.Printf("  Configured Inverters: %d\n", len(cfg.Inverters))

	if cfg.Envoy.URL != "" {
		fmt.Printf("  Envoy URL: %s\n", cfg.Envoy.URL)
	} else {
		fmt.Println("  Envoy URL: (discovered via mDNS)")
	}

	if cfg.Enphase.Token != "" {
		fmt.Println("  Authentication: static token")
	} else {
		fmt.Println("  Authentication: Enphase cloud credentials")
	}

	fmt.Println("\nAll validation checks passed. Configuration is ready for use.")
	return 0
}
