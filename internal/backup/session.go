package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/netbackup/internal/config"
	"github.com/edvin/netbackup/internal/inventory"
	"github.com/edvin/netbackup/internal/vendorreg"
)

// promptTailBytes bounds how much of the buffer tail the prompt regex is
// matched against, so matching stays cheap on large exports.
const promptTailBytes = 2048

// settleIdle / settleMax bound the initial drain of the login banner and
// MOTD before the export command is issued. That output is discarded.
const (
	settleIdle = 500 * time.Millisecond
	settleMax  = 5 * time.Second
)

var elevatePromptRe = regexp.MustCompile(`(?i)password`)

// SessionRunner backs up a device over an interactive command session:
// connect, authenticate, optionally elevate privileges, issue the vendor's
// export commands, and detect when the output stream has actually finished.
type SessionRunner struct {
	logger zerolog.Logger
	dialer Dialer
}

// NewSessionRunner creates a SessionRunner using the given dialer.
func NewSessionRunner(logger zerolog.Logger, dialer Dialer) *SessionRunner {
	return &SessionRunner{
		logger: logger.With().Str("component", "session-runner").Logger(),
		dialer: dialer,
	}
}

// Run performs one backup attempt. Exactly one attempt per device; retries
// are left to the next scheduled run. The returned error, if any, is an
// *Error classifying the failure; the transport is released on every path.
func (r *SessionRunner) Run(ctx context.Context, device inventory.Device, profile *vendorreg.SessionProfile, creds config.Credentials) ([]byte, error) {
	logger := r.logger.With().Str("device", device.Name).Logger()

	var prompt *regexp.Regexp
	if profile.Prompt != "" {
		compiled, err := regexp.Compile(profile.Prompt)
		if err != nil {
			return nil, failf(ReasonProtocol, "invalid prompt pattern %q: %w", profile.Prompt, err)
		}
		prompt = compiled
	}

	// Connect + Authenticate.
	transport, err := r.dialer.Dial(ctx, device.Host, creds)
	if err != nil {
		if errors.Is(err, ErrAuthRejected) {
			return nil, failErr(ReasonAuth, err)
		}
		if ctx.Err() != nil {
			return nil, &Error{Status: StatusCancelled, Reason: ReasonCancelled, Err: ctx.Err()}
		}
		return nil, failErr(ReasonConnect, err)
	}
	defer r.disconnect(logger, transport)

	deadline := time.Now().Add(profile.SessionTimeout.Std())
	out := transport.Output()

	// Drain the login banner so it does not end up in the capture.
	if outcome, _ := await(ctx, out, prompt, settleIdle, settleMax); outcome == awaitCancelled {
		return nil, &Error{Status: StatusCancelled, Reason: ReasonCancelled, Err: ctx.Err()}
	}

	// ElevatePrivilege, only when the device is flagged for it and the
	// vendor has an elevation sequence.
	if device.Enable && profile.EnableCommand != "" {
		if err := r.elevate(ctx, transport, out, prompt, profile.EnableCommand, creds); err != nil {
			return nil, err
		}
	}

	// IssueExportCommand(s), in profile order.
	for _, command := range profile.Commands {
		logger.Debug().Str("command", command).Msg("sending export command")
		if err := transport.Send(command); err != nil {
			return nil, failErr(ReasonProtocol, err)
		}
	}

	// AwaitCompletion: prompt reappearance, idle window, or absolute bound.
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return nil, &Error{Status: StatusTimeout, Reason: ReasonTimeout, Err: fmt.Errorf("session timeout %s elapsed", profile.SessionTimeout.Std())}
	}
	outcome, captured := await(ctx, out, prompt, profile.IdleTimeout.Std(), remaining)
	switch outcome {
	case awaitDeadline:
		// Partial output is not a valid backup.
		return nil, &Error{Status: StatusTimeout, Reason: ReasonTimeout, Err: fmt.Errorf("no completion within %s", profile.SessionTimeout.Std())}
	case awaitCancelled:
		return nil, &Error{Status: StatusCancelled, Reason: ReasonCancelled, Err: ctx.Err()}
	}

	if len(bytes.TrimSpace(captured)) == 0 {
		return nil, failf(ReasonProtocol, "device returned no output for export command")
	}

	logger.Debug().Int("bytes", len(captured)).Str("completion", outcome.String()).Msg("export complete")

	// Capture: prefix the device banner, as consumers of the artifacts expect.
	var payload bytes.Buffer
	fmt.Fprintf(&payload, "####################################\n")
	fmt.Fprintf(&payload, "# Output for device %s\n", device.Host)
	fmt.Fprintf(&payload, "####################################\n\n")
	payload.Write(captured)
	return payload.Bytes(), nil
}

// elevate sends the vendor's enable command, answers the secret prompt with
// the shared password, and waits for the privileged prompt to settle.
func (r *SessionRunner) elevate(ctx context.Context, transport Transport, out <-chan []byte, prompt *regexp.Regexp, enableCmd string, creds config.Credentials) error {
	if err := transport.Send(enableCmd); err != nil {
		return failErr(ReasonElevate, err)
	}

	outcome, resp := await(ctx, out, elevatePromptRe, 2*time.Second, 10*time.Second)
	switch outcome {
	case awaitCancelled:
		return &Error{Status: StatusCancelled, Reason: ReasonCancelled, Err: ctx.Err()}
	case awaitDeadline:
		return failf(ReasonElevate, "no response to %q", enableCmd)
	}

	if elevatePromptRe.Match(resp) {
		if err := transport.Send(creds.Password); err != nil {
			return failErr(ReasonElevate, err)
		}
		outcome, resp = await(ctx, out, prompt, time.Second, 10*time.Second)
		if outcome == awaitCancelled {
			return &Error{Status: StatusCancelled, Reason: ReasonCancelled, Err: ctx.Err()}
		}
		if elevatePromptRe.Match(resp) || bytes.Contains(bytes.ToLower(resp), []byte("denied")) {
			return failf(ReasonElevate, "device rejected elevation secret")
		}
	}

	return nil
}

func (r *SessionRunner) disconnect(logger zerolog.Logger, transport Transport) {
	if err := transport.Close(); err != nil {
		// An already-decided status is never changed by a close error.
		logger.Warn().Err(err).Msg("transport close failed")
	}
	// Unblock the transport's reader goroutine if output is still arriving.
	go func() {
		for range transport.Output() {
		}
	}()
}

type awaitOutcome int

const (
	// awaitPrompt: the terminal prompt pattern reappeared in the stream.
	awaitPrompt awaitOutcome = iota
	// awaitIdle: no new bytes for the idle window.
	awaitIdle
	// awaitClosed: the remote side closed the stream.
	awaitClosed
	// awaitDeadline: the absolute bound elapsed without completion.
	awaitDeadline
	// awaitCancelled: the run context was cancelled.
	awaitCancelled
)

func (o awaitOutcome) String() string {
	switch o {
	case awaitPrompt:
		return "prompt"
	case awaitIdle:
		return "idle"
	case awaitClosed:
		return "closed"
	case awaitDeadline:
		return "deadline"
	default:
		return "cancelled"
	}
}

// await reads device output until completion is declared: the prompt pattern
// matches the buffer tail, the stream goes idle for idleWindow, the stream
// closes, the absolute bound elapses, or the context is cancelled. Returns
// the accumulated bytes alongside the outcome.
func await(ctx context.Context, out <-chan []byte, prompt *regexp.Regexp, idleWindow, absolute time.Duration) (awaitOutcome, []byte) {
	var buf bytes.Buffer

	idleTimer := time.NewTimer(idleWindow)
	defer idleTimer.Stop()
	absTimer := time.NewTimer(absolute)
	defer absTimer.Stop()

	for {
		select {
		case chunk, ok := <-out:
			if !ok {
				return awaitClosed, buf.Bytes()
			}
			buf.Write(chunk)
			if prompt != nil && prompt.Match(tail(buf.Bytes(), promptTailBytes)) {
				return awaitPrompt, buf.Bytes()
			}
			idleTimer.Reset(idleWindow)
		case <-idleTimer.C:
			return awaitIdle, buf.Bytes()
		case <-absTimer.C:
			return awaitDeadline, buf.Bytes()
		case <-ctx.Done():
			return awaitCancelled, buf.Bytes()
		}
	}
}

func tail(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[len(b)-n:]
}
