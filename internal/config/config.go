package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	DatabaseURL string // ODD_DATABASE_URL (required)
	HTTPAddr    string // ODD_HTTP_ADDR (default ":8080")
	AuthToken   string // ODD_AUTH_TOKEN (optional, empty = auth disabled)

	// Bus settings
	Bus     string // ODD_BUS ("postgres" default, or "nats")
	NATSURL string // ODD_NATS_URL (required when ODD_BUS=nats)

	// Stream settings
	KeepaliveInterval time.Duration // ODD_KEEPALIVE_INTERVAL (default 15s)

	// Retention settings
	RetentionWindow time.Duration // ODD_RETENTION_WINDOW (default 72h; 0 = sweep disabled)
	SweepInterval   time.Duration // ODD_SWEEP_INTERVAL (default 1h)

	// Archive settings (S3-compatible; archiving disabled when bucket empty)
	ArchiveS3Bucket   string // ODD_ARCHIVE_S3_BUCKET
	ArchiveS3Prefix   string // ODD_ARCHIVE_S3_PREFIX (default "events")
	ArchiveS3Region   string // ODD_ARCHIVE_S3_REGION (default "us-east-1")
	ArchiveS3Endpoint string // ODD_ARCHIVE_S3_ENDPOINT (custom endpoint for MinIO)
}

const (
	BusPostgres = "postgres"
	BusNATS     = "nats"
)

func Load() (*Config, error) {
	c := &Config{
		DatabaseURL:       os.Getenv("ODD_DATABASE_URL"),
		HTTPAddr:          envOrDefault("ODD_HTTP_ADDR", ":8080"),
		AuthToken:         os.Getenv("ODD_AUTH_TOKEN"),
		Bus:               envOrDefault("ODD_BUS", BusPostgres),
		NATSURL:           os.Getenv("ODD_NATS_URL"),
		ArchiveS3Bucket:   os.Getenv("ODD_ARCHIVE_S3_BUCKET"),
		ArchiveS3Prefix:   envOrDefault("ODD_ARCHIVE_S3_PREFIX", "events"),
		ArchiveS3Region:   envOrDefault("ODD_ARCHIVE_S3_REGION", "us-east-1"),
		ArchiveS3Endpoint: os.Getenv("ODD_ARCHIVE_S3_ENDPOINT"),
	}
	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("ODD_DATABASE_URL is required")
	}

	switch c.Bus {
	case BusPostgres:
	case BusNATS:
		if c.NATSURL == "" {
			return nil, fmt.Errorf("ODD_NATS_URL is required when ODD_BUS=nats")
		}
	default:
		return nil, fmt.Errorf("ODD_BUS must be %q or %q, got %q", BusPostgres, BusNATS, c.Bus)
	}

	var err error
	if c.KeepaliveInterval, err = durationEnv("ODD_KEEPALIVE_INTERVAL", 15*time.Second); err != nil {
		return nil, err
	}
	if c.RetentionWindow, err = durationEnv("ODD_RETENTION_WINDOW", 72*time.Hour); err != nil {
		return nil, err
	}
	if c.SweepInterval, err = durationEnv("ODD_SWEEP_INTERVAL", time.Hour); err != nil {
		return nil, err
	}

	return c, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
