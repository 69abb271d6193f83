// Package backup contains the device backup engine: per-device dispatch over
// the session or HTTP channel, artifact persistence, and run aggregation.
package backup

import (
	"fmt"
	"time"

	"github.com/edvin/netbackup/internal/inventory"
)

// Status is the terminal state of one device's backup attempt.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailure   Status = "failure"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
)

// Failure reasons. Stable strings: they end up in the run log and report.
const (
	ReasonUnknownVendor = "unknown vendor"
	ReasonConnect       = "connect"
	ReasonAuth          = "auth"
	ReasonElevate       = "elevate"
	ReasonProtocol      = "protocol"
	ReasonTimeout       = "timeout"
	ReasonWrite         = "write"
	ReasonCancelled     = "cancelled"
)

// Result is the outcome of exactly one dispatch for one device. Created by
// the strategy that ran it and never mutated afterwards.
type Result struct {
	Device inventory.Device
	Status Status
	// Reason classifies non-success results; empty on success.
	Reason string
	// Detail carries the underlying error text, if any.
	Detail string
	// Payload holds the retrieved configuration bytes on success.
	Payload []byte
	// ArtifactPath is where the payload was persisted on success.
	ArtifactPath string

	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is the wall-clock time the dispatch took.
func (r Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// OK reports whether the backup succeeded.
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

// Summary aggregates one run: every device's result in inventory order plus
// counts and timing. Assembled once all dispatches have terminated.
type Summary struct {
	RunID string
	Org   string

	StartedAt  time.Time
	FinishedAt time.Time

	// Results holds exactly one entry per inventory device, in inventory
	// order regardless of completion order.
	Results []Result

	Succeeded int
	Failed    int
	TimedOut  int
	Cancelled int
}

// Total is the number of devices dispatched.
func (s Summary) Total() int {
	return len(s.Results)
}

func newSummary(runID, org string, start, end time.Time, results []Result) Summary {
	s := Summary{
		RunID:      runID,
		Org:        org,
		StartedAt:  start,
		FinishedAt: end,
		Results:    results,
	}
	for _, r := range results {
		switch r.Status {
		case StatusSuccess:
			s.Succeeded++
		case StatusTimeout:
			s.TimedOut++
		case StatusCancelled:
			s.Cancelled++
		default:
			s.Failed++
		}
	}
	return s
}

// Error is a classified strategy failure. The dispatcher converts it into a
// terminal Result instead of letting it escape to sibling devices.
type Error struct {
	Status Status
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *Error) Unwrap() error {
	return e.Err
}

func failErr(reason string, err error) *Error {
	return &Error{Status: StatusFailure, Reason: reason, Err: err}
}

func failf(reason, format string, args ...any) *Error {
	return &Error{Status: StatusFailure, Reason: reason, Err: fmt.Errorf(format, args...)}
}
