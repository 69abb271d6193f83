package backup

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/netbackup/internal/config"
	"github.com/edvin/netbackup/internal/inventory"
	"github.com/edvin/netbackup/internal/vendorreg"
)

// Dispatcher routes one device to its backup strategy and converts whatever
// happens inside it into a terminal Result. It is the per-device isolation
// boundary: nothing that goes wrong here ever aborts a sibling device.
type Dispatcher struct {
	logger   zerolog.Logger
	registry *vendorreg.Registry
	creds    config.Credentials
	sessions *SessionRunner
	fetcher  *HTTPFetcher
	writer   *Writer
}

// NewDispatcher wires the dispatcher with its strategies and the artifact
// writer.
func NewDispatcher(logger zerolog.Logger, registry *vendorreg.Registry, creds config.Credentials, sessions *SessionRunner, fetcher *HTTPFetcher, writer *Writer) *Dispatcher {
	return &Dispatcher{
		logger:   logger.With().Str("component", "dispatcher").Logger(),
		registry: registry,
		creds:    creds,
		sessions: sessions,
		fetcher:  fetcher,
		writer:   writer,
	}
}

// Dispatch runs one device's backup to a terminal state and returns its
// Result. Unknown vendors are rejected before any network contact.
func (d *Dispatcher) Dispatch(ctx context.Context, device inventory.Device) Result {
	result := Result{Device: device, StartedAt: time.Now()}

	payload, err := d.execute(ctx, device)
	if err != nil {
		var classified *Error
		if errors.As(err, &classified) {
			result.Status = classified.Status
			result.Reason = classified.Reason
			if classified.Err != nil {
				result.Detail = classified.Err.Error()
			}
		} else {
			result.Status = StatusFailure
			result.Reason = ReasonProtocol
			result.Detail = err.Error()
		}
		result.FinishedAt = time.Now()

		d.logger.Error().
			Str("device", device.Name).
			Str("status", string(result.Status)).
			Str("reason", result.Reason).
			Str("detail", result.Detail).
			Dur("duration", result.Duration()).
			Msg("device backup failed")
		return result
	}

	result.Payload = payload

	// Persist. A write failure demotes this device only.
	artifactPath, err := d.writer.Write(ctx, device, payload)
	if err != nil {
		result.Status = StatusFailure
		result.Reason = ReasonWrite
		result.Detail = err.Error()
		result.FinishedAt = time.Now()

		d.logger.Error().
			Str("device", device.Name).
			Err(err).
			Msg("artifact write failed")
		return result
	}

	result.Status = StatusSuccess
	result.ArtifactPath = artifactPath
	result.FinishedAt = time.Now()

	d.logger.Info().
		Str("device", device.Name).
		Str("artifact", artifactPath).
		Int("bytes", len(payload)).
		Dur("duration", result.Duration()).
		Msg("device backup complete")
	return result
}

func (d *Dispatcher) execute(ctx context.Context, device inventory.Device) ([]byte, error) {
	profile, ok := d.registry.Lookup(device.Vendor)
	if !ok {
		return nil, failf(ReasonUnknownVendor, "vendor %q is not registered", device.Vendor)
	}

	switch device.Channel {
	case inventory.ChannelSession:
		if profile.Session == nil {
			return nil, failf(ReasonProtocol, "vendor %q has no session recipe", device.Vendor)
		}
		return d.sessions.Run(ctx, device, profile.Session, d.creds)
	case inventory.ChannelHTTP:
		if profile.HTTP == nil {
			return nil, failf(ReasonProtocol, "vendor %q has no http recipe", device.Vendor)
		}
		return d.fetcher.Fetch(ctx, device, profile.HTTP, d.creds)
	default:
		return nil, failf(ReasonProtocol, "unsupported channel %q", device.Channel)
	}
}
