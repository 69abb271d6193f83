package backup

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/netbackup/internal/inventory"
)

// Runner executes one full backup run: every inventory device dispatched
// through a bounded worker pool, results collected back into inventory order.
type Runner struct {
	logger     zerolog.Logger
	dispatcher *Dispatcher
	runLog     *RunLog

	runID    string
	org      string
	runStart time.Time

	// concurrency bounds the number of devices backed up in parallel.
	concurrency int
	// timeout bounds the whole run's wall-clock time. Zero means unbounded.
	timeout time.Duration
}

// NewRunner creates a Runner. runStart must match the timestamp given to the
// artifact writer so log, artifacts, and summary all name the same run.
func NewRunner(logger zerolog.Logger, dispatcher *Dispatcher, runLog *RunLog, runID, org string, runStart time.Time, concurrency int, timeout time.Duration) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Runner{
		logger:      logger.With().Str("component", "runner").Logger(),
		dispatcher:  dispatcher,
		runLog:      runLog,
		runID:       runID,
		org:         org,
		runStart:    runStart,
		concurrency: concurrency,
		timeout:     timeout,
	}
}

// Run dispatches every device and assembles the run summary. Devices are
// independent: each worker runs one dispatch to its terminal state before
// taking another device, and a failure never aborts siblings. On run
// deadline expiry, in-flight sessions observe the cancelled context, are
// disconnected, and finalize as cancelled; completed results are kept.
func (r *Runner) Run(ctx context.Context, devices []inventory.Device) Summary {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	r.logger.Info().
		Str("run_id", r.runID).
		Int("devices", len(devices)).
		Int("concurrency", r.concurrency).
		Msg("starting backup run")

	// Index-addressed results keep inventory order no matter which worker
	// finishes first.
	results := make([]Result, len(devices))

	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)
	for i, device := range devices {
		i, device := i, device
		g.Go(func() error {
			results[i] = r.dispatcher.Dispatch(ctx, device)
			r.runLog.Append(results[i])
			return nil
		})
	}
	// Dispatch never returns an error; every outcome is a Result.
	_ = g.Wait()

	summary := newSummary(r.runID, r.org, r.runStart, time.Now(), results)

	r.logger.Info().
		Str("run_id", r.runID).
		Int("total", summary.Total()).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("timed_out", summary.TimedOut).
		Int("cancelled", summary.Cancelled).
		Dur("duration", summary.FinishedAt.Sub(summary.StartedAt)).
		Msg("backup run finished")

	return summary
}
