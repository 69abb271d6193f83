package backup

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edvin/netbackup/internal/config"
	"github.com/edvin/netbackup/internal/vendorreg"
)

// registerTestVendors adds fast-profile vendors used by dispatcher and run
// tests: test_switch answers promptly, test_slow never answers.
func registerTestVendors(reg *vendorreg.Registry) {
	reg.Register("test_switch", vendorreg.Profile{
		Session: &vendorreg.SessionProfile{
			Commands:       []string{"show run"},
			Prompt:         `(?m)^[\w-]+# ?$`,
			IdleTimeout:    vendorreg.Duration(10 * time.Second),
			SessionTimeout: vendorreg.Duration(30 * time.Second),
		},
	})
	reg.Register("test_slow", vendorreg.Profile{
		Session: &vendorreg.SessionProfile{
			Commands:       []string{"show run"},
			IdleTimeout:    vendorreg.Duration(10 * time.Second),
			SessionTimeout: vendorreg.Duration(time.Second),
		},
	})
}

// promptDialer scripts a well-behaved test_switch device.
func promptDialer() *fakeDialer {
	return &fakeDialer{
		banner: "edge-sw# ",
		onSend: func(ft *fakeTransport, line string) {
			if line == "show run" {
				ft.emit("hostname edge-sw\ninterface 1\nexit\nedge-sw# ")
			}
		},
	}
}

func credsWithToken(key, token string) config.Credentials {
	return config.Credentials{
		Username: "backup",
		Password: "s3cret",
		Values:   map[string]string{key: token},
	}
}

// fakeTransport is a scripted in-memory device session. Tests drive the
// completion state machine deterministically by emitting output from the
// onSend hook or directly via emit.
type fakeTransport struct {
	out    chan []byte
	onSend func(t *fakeTransport, line string)

	mu     sync.Mutex
	sent   []string
	closed bool
}

func newFakeTransport(onSend func(t *fakeTransport, line string)) *fakeTransport {
	return &fakeTransport{
		out:    make(chan []byte, 64),
		onSend: onSend,
	}
}

func (t *fakeTransport) emit(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.out <- []byte(s)
	}
}

func (t *fakeTransport) Send(line string) error {
	t.mu.Lock()
	t.sent = append(t.sent, line)
	t.mu.Unlock()
	if t.onSend != nil {
		t.onSend(t, line)
	}
	return nil
}

func (t *fakeTransport) Output() <-chan []byte {
	return t.out
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.out)
	}
	return nil
}

func (t *fakeTransport) sentLines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.sent...)
}

// fakeDialer hands out one fresh scripted transport per dial and counts
// dials, so tests can assert that rejected devices never touch the network.
type fakeDialer struct {
	onSend func(t *fakeTransport, line string)
	banner string
	err    error

	dials      atomic.Int32
	mu         sync.Mutex
	transports []*fakeTransport
}

func (d *fakeDialer) Dial(_ context.Context, _ string, _ config.Credentials) (Transport, error) {
	d.dials.Add(1)
	if d.err != nil {
		return nil, d.err
	}
	t := newFakeTransport(d.onSend)
	if d.banner != "" {
		t.emit(d.banner)
	}
	d.mu.Lock()
	d.transports = append(d.transports, t)
	d.mu.Unlock()
	return t, nil
}

func (d *fakeDialer) dialCount() int {
	return int(d.dials.Load())
}
