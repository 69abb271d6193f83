// Package metrics publishes run outcomes to a Prometheus Pushgateway, the
// usual pattern for batch jobs that are gone before a scraper comes around.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/edvin/netbackup/internal/backup"
)

// PushSummary pushes the run's device counts and duration, grouped by job
// and organization. A push failure is the caller's to log; it is never fatal
// to the run.
func PushSummary(pushURL string, summary backup.Summary) error {
	registry := prometheus.NewRegistry()

	devices := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netbackup_devices_total",
		Help: "Devices dispatched in the last run, by terminal status.",
	}, []string{"status"})

	duration := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "netbackup_run_duration_seconds",
		Help: "Wall-clock duration of the last run.",
	})

	registry.MustRegister(devices, duration)

	devices.WithLabelValues(string(backup.StatusSuccess)).Add(float64(summary.Succeeded))
	devices.WithLabelValues(string(backup.StatusFailure)).Add(float64(summary.Failed))
	devices.WithLabelValues(string(backup.StatusTimeout)).Add(float64(summary.TimedOut))
	devices.WithLabelValues(string(backup.StatusCancelled)).Add(float64(summary.Cancelled))
	duration.Set(summary.FinishedAt.Sub(summary.StartedAt).Seconds())

	pusher := push.New(pushURL, "netbackup").Gatherer(registry)
	if summary.Org != "" {
		pusher = pusher.Grouping("org", summary.Org)
	}

	if err := pusher.Push(); err != nil {
		return fmt.Errorf("push run metrics: %w", err)
	}
	return nil
}
