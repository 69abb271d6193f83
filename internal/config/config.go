package config

import (
	"os"
	"time"
)

// Config holds everything a single backup run needs: input/output paths,
// the concurrency bound, and optional integrations. Paths come from CLI
// flags; integration settings come from the environment.
type Config struct {
	InventoryPath      string
	EnvPath            string
	VendorPath         string
	BackupDir          string
	LogDir             string
	ReportTemplatePath string

	Concurrency int
	// RunTimeout bounds total wall-clock time for the run. Zero means no bound.
	RunTimeout time.Duration
	// Strict makes any per-device failure flip the process exit status.
	Strict   bool
	LogLevel string

	// MetricsPushURL is a Prometheus Pushgateway base URL. Empty disables pushes.
	MetricsPushURL string

	S3 S3Config
}

// S3Config configures optional off-host mirroring of backup artifacts to an
// S3-compatible bucket.
type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
}

// Enabled reports whether artifact mirroring is configured.
func (s S3Config) Enabled() bool {
	return s.Bucket != ""
}

// Load builds a Config from the environment. Path and tuning fields are
// overlaid by the CLI afterwards.
func Load() *Config {
	return &Config{
		Concurrency:    4,
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		MetricsPushURL: getEnv("METRICS_PUSH_URL", ""),
		S3: S3Config{
			Endpoint:  getEnv("S3_ENDPOINT", ""),
			Bucket:    getEnv("S3_BUCKET", ""),
			AccessKey: getEnv("S3_ACCESS_KEY", ""),
			SecretKey: getEnv("S3_SECRET_KEY", ""),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
