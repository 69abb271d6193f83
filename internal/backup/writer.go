package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/netbackup/internal/inventory"
)

// Uploader mirrors a written artifact to off-host storage.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte) error
}

// Writer persists backup payloads under a per-day directory, with the run's
// start time in the filename so consecutive runs never overwrite each other.
// Artifacts are write-once: an existing file is refused, never truncated.
type Writer struct {
	logger   zerolog.Logger
	dir      string
	runStart time.Time
	uploader Uploader
}

// NewWriter creates a Writer rooted at dir for a run that started at
// runStart. uploader may be nil when off-host mirroring is not configured.
func NewWriter(logger zerolog.Logger, dir string, runStart time.Time, uploader Uploader) *Writer {
	return &Writer{
		logger:   logger.With().Str("component", "backup-writer").Logger(),
		dir:      dir,
		runStart: runStart,
		uploader: uploader,
	}
}

// Path returns the artifact path a device's payload will be written to.
func (w *Writer) Path(device inventory.Device) string {
	day := w.runStart.Format("20060102")
	name := fmt.Sprintf("%s-%s.cfg", device.Name, w.runStart.Format("150405"))
	return filepath.Join(w.dir, day, name)
}

// Write persists the payload and mirrors it off-host when configured.
// Returns the artifact path.
func (w *Writer) Write(ctx context.Context, device inventory.Device, payload []byte) (string, error) {
	path := w.Path(device)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create artifact %s: %w", path, err)
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		return "", fmt.Errorf("write artifact %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close artifact %s: %w", path, err)
	}

	if w.uploader != nil {
		key := filepath.ToSlash(filepath.Join(w.runStart.Format("20060102"), filepath.Base(path)))
		if err := w.uploader.Upload(ctx, key, payload); err != nil {
			return "", fmt.Errorf("mirror artifact %s: %w", key, err)
		}
		w.logger.Debug().Str("device", device.Name).Str("key", key).Msg("artifact mirrored")
	}

	return path, nil
}
