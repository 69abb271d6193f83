package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/edvin/netbackup/internal/backup"
	"github.com/edvin/netbackup/internal/config"
	"github.com/edvin/netbackup/internal/inventory"
	"github.com/edvin/netbackup/internal/logging"
	"github.com/edvin/netbackup/internal/metrics"
	"github.com/edvin/netbackup/internal/report"
	"github.com/edvin/netbackup/internal/vendorreg"
)

func main() {
	cfg := config.Load()

	flag.StringVar(&cfg.InventoryPath, "inventory", "", "Path to the device inventory CSV (required)")
	flag.StringVar(&cfg.EnvPath, "env", "", "Path to the credentials env file (required)")
	flag.StringVar(&cfg.VendorPath, "vendors", "", "Path to a vendor registry YAML (optional, extends built-ins)")
	flag.StringVar(&cfg.BackupDir, "backup-dir", "", "Directory for backup artifacts (required)")
	flag.StringVar(&cfg.LogDir, "log-dir", "", "Directory for run logs (required)")
	flag.StringVar(&cfg.ReportTemplatePath, "report", "", "Path to a report template (optional, built-in default)")
	flag.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "Devices backed up in parallel")
	flag.DurationVar(&cfg.RunTimeout, "timeout", 0, "Run deadline (0 = none)")
	flag.BoolVar(&cfg.Strict, "strict", false, "Exit non-zero if any device failed")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	flag.Parse()

	for _, required := range []struct{ name, value string }{
		{"inventory", cfg.InventoryPath},
		{"env", cfg.EnvPath},
		{"backup-dir", cfg.BackupDir},
		{"log-dir", cfg.LogDir},
	} {
		if required.value == "" {
			fmt.Fprintf(os.Stderr, "Error: -%s flag is required\n", required.name)
			flag.Usage()
			os.Exit(1)
		}
	}

	// Configuration-load failures are the only ones fatal to the run; they
	// abort before any device is contacted.
	creds, err := config.LoadCredentials(cfg.EnvPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.LogLevel, creds.Org)

	devices, parseErrors, err := inventory.Load(cfg.InventoryPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load inventory")
	}
	for _, parseErr := range parseErrors {
		logger.Warn().Int("row", parseErr.Row).Str("line", parseErr.Line).Err(parseErr.Err).Msg("skipping malformed inventory row")
	}

	registry := vendorreg.New()
	if cfg.VendorPath != "" {
		if err := registry.LoadFile(cfg.VendorPath); err != nil {
			logger.Fatal().Err(err).Msg("failed to load vendor registry")
		}
	}

	runID := uuid.NewString()
	runStart := time.Now()

	var uploader backup.Uploader
	if cfg.S3.Enabled() {
		uploader = backup.NewS3Uploader(logger, cfg.S3)
	}
	writer := backup.NewWriter(logger, cfg.BackupDir, runStart, uploader)

	runLog, err := backup.OpenRunLog(cfg.LogDir, runID, runStart)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open run log")
	}
	defer runLog.Close()

	dispatcher := backup.NewDispatcher(
		logger,
		registry,
		creds,
		backup.NewSessionRunner(logger, &backup.SSHDialer{}),
		backup.NewHTTPFetcher(logger),
		writer,
	)
	runner := backup.NewRunner(logger, dispatcher, runLog, runID, creds.Org, runStart, cfg.Concurrency, cfg.RunTimeout)

	// On SIGINT/SIGTERM in-flight sessions are disconnected and recorded as
	// cancelled instead of running unbounded.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary := runner.Run(ctx, devices)

	// Reporting and mailing run strictly after the backup work; their
	// failures cannot alter recorded outcomes.
	reportOK := true
	html, err := report.Render(summary, cfg.ReportTemplatePath)
	if err != nil {
		reportOK = false
		logger.Error().Err(err).Msg("report rendering failed")
	} else if creds.SMTP.Enabled {
		subject := fmt.Sprintf("Netbackup report for %s at %s", creds.Org, runStart.Format("20060102"))
		mailer := report.NewMailer(logger, creds.SMTP)
		if err := mailer.Send(subject, html); err != nil {
			reportOK = false
			logger.Error().Err(err).Msg("report mail failed")
		}
	}

	if cfg.MetricsPushURL != "" {
		if err := metrics.PushSummary(cfg.MetricsPushURL, summary); err != nil {
			logger.Warn().Err(err).Msg("metrics push failed")
		}
	}

	// Default exit policy: a completed run exits zero even when individual
	// devices failed; the report carries the per-device record. -strict
	// flips the exit status on any non-success result or reporting failure.
	if cfg.Strict && (summary.Succeeded != summary.Total() || !reportOK) {
		os.Exit(1)
	}
}
