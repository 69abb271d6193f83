package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RunLog appends one structured JSON line per completed device dispatch to a
// date-stamped file, as results arrive. A crash mid-run leaves a readable
// partial record of everything that finished.
type RunLog struct {
	mu     sync.Mutex
	file   *os.File
	logger zerolog.Logger
}

// OpenRunLog opens (or creates) the run log file under dir for a run that
// started at runStart.
func OpenRunLog(dir, runID string, runStart time.Time) (*RunLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	path := filepath.Join(dir, runStart.Format("20060102")+"-backup-log.jsonl")
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log %s: %w", path, err)
	}

	logger := zerolog.New(file).With().Timestamp().Str("run_id", runID).Logger()

	return &RunLog{file: file, logger: logger}, nil
}

// Append records one finished dispatch. Safe for concurrent use; the lock is
// held only around the append, never across network I/O.
func (l *RunLog) Append(result Result) {
	l.mu.Lock()
	defer l.mu.Unlock()

	event := l.logger.Info()
	if !result.OK() {
		event = l.logger.Error()
	}
	event.
		Str("device", result.Device.Name).
		Str("host", result.Device.Host).
		Str("vendor", result.Device.Vendor).
		Str("channel", result.Device.Channel).
		Str("status", string(result.Status)).
		Str("reason", result.Reason).
		Str("detail", result.Detail).
		Dur("duration", result.Duration()).
		Msg("dispatch finished")
}

// Path returns the underlying file path.
func (l *RunLog) Path() string {
	return l.file.Name()
}

// Close releases the log file.
func (l *RunLog) Close() error {
	return l.file.Close()
}
