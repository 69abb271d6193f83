package backup

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/netbackup/internal/inventory"
	"github.com/edvin/netbackup/internal/vendorreg"
)

type runHarness struct {
	runner    *Runner
	runLog    *RunLog
	backupDir string
	dialer    *fakeDialer
}

func newRunHarness(t *testing.T, reg *vendorreg.Registry, concurrency int, timeout time.Duration) *runHarness {
	t.Helper()

	backupDir := t.TempDir()
	dialer := promptDialer()

	runLog, err := OpenRunLog(t.TempDir(), "run-test", runStart)
	require.NoError(t, err)
	t.Cleanup(func() { runLog.Close() })

	writer := NewWriter(zerolog.Nop(), backupDir, runStart, nil)
	dispatcher := NewDispatcher(
		zerolog.Nop(),
		reg,
		credsWithToken("FORTI_TOKEN", "tok-123"),
		NewSessionRunner(zerolog.Nop(), dialer),
		NewHTTPFetcher(zerolog.Nop()),
		writer,
	)

	return &runHarness{
		runner:    NewRunner(zerolog.Nop(), dispatcher, runLog, "run-test", "acme", runStart, concurrency, timeout),
		runLog:    runLog,
		backupDir: backupDir,
		dialer:    dialer,
	}
}

func readRunLog(t *testing.T, runLog *RunLog) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(runLog.Path())
	require.NoError(t, err)

	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestRun_AllSucceed(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("config system global\nend\n"))
	}))
	defer ts.Close()

	reg := testRegistry()
	reg.Register("test_api", vendorreg.Profile{
		HTTP: &vendorreg.HTTPProfile{
			URL:          "http://{host}/backup?access_token={token}",
			SuccessCodes: []int{200},
			TokenIn:      "query",
		},
	})

	devices := []inventory.Device{
		{Name: "rtr1", Host: "10.0.0.1", Vendor: "test_switch", Channel: inventory.ChannelSession},
		{Name: "rtr2", Host: "10.0.0.2", Vendor: "test_switch", Channel: inventory.ChannelSession},
		{Name: "fw1", Host: ts.Listener.Addr().String(), Vendor: "test_api", Channel: inventory.ChannelHTTP, CredentialKey: "FORTI_TOKEN"},
	}

	h := newRunHarness(t, reg, 3, 0)
	summary := h.runner.Run(context.Background(), devices)

	// One result per device, in inventory order.
	require.Len(t, summary.Results, 3)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Zero(t, summary.Failed)
	for i, device := range devices {
		assert.Equal(t, device.Name, summary.Results[i].Device.Name)
		assert.Equal(t, StatusSuccess, summary.Results[i].Status, "device %s: %s", device.Name, summary.Results[i].Detail)
	}

	// Three artifacts on disk.
	matches, err := filepath.Glob(filepath.Join(h.backupDir, "*", "*.cfg"))
	require.NoError(t, err)
	assert.Len(t, matches, 3)

	// Three run log entries.
	entries := readRunLog(t, h.runLog)
	require.Len(t, entries, 3)
	for _, entry := range entries {
		assert.Equal(t, "run-test", entry["run_id"])
		assert.Equal(t, "success", entry["status"])
	}
}

func TestRun_UnknownVendorIsIsolated(t *testing.T) {
	devices := []inventory.Device{
		{Name: "rtr1", Host: "10.0.0.1", Vendor: "test_switch", Channel: inventory.ChannelSession},
		{Name: "mystery", Host: "10.0.0.9", Vendor: "junpier", Channel: inventory.ChannelSession},
		{Name: "rtr2", Host: "10.0.0.2", Vendor: "test_switch", Channel: inventory.ChannelSession},
	}

	h := newRunHarness(t, testRegistry(), 2, 0)
	summary := h.runner.Run(context.Background(), devices)

	require.Len(t, summary.Results, 3)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)

	failed := summary.Results[1]
	assert.Equal(t, "mystery", failed.Device.Name)
	assert.Equal(t, ReasonUnknownVendor, failed.Reason)

	// The unknown device never attempted a connection: only the two valid
	// session devices dialed.
	assert.Equal(t, 2, h.dialer.dialCount())
}

func TestRun_ResultsKeepInventoryOrder(t *testing.T) {
	// Three HTTP devices whose servers respond at staggered speeds, slowest
	// first in the inventory, all dispatched concurrently.
	delays := []time.Duration{600 * time.Millisecond, 300 * time.Millisecond, 0}
	reg := testRegistry()

	var devices []inventory.Device
	for i, delay := range delays {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(delay)
			w.Write([]byte("ok"))
		}))
		defer ts.Close()

		name := string(rune('a' + i))
		reg.Register("api_"+name, vendorreg.Profile{
			HTTP: &vendorreg.HTTPProfile{URL: "http://" + ts.Listener.Addr().String() + "/backup", SuccessCodes: []int{200}},
		})
		devices = append(devices, inventory.Device{Name: "dev-" + name, Host: "unused", Vendor: "api_" + name, Channel: inventory.ChannelHTTP})
	}

	h := newRunHarness(t, reg, 3, 0)
	summary := h.runner.Run(context.Background(), devices)

	require.Len(t, summary.Results, 3)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, "dev-a", summary.Results[0].Device.Name)
	assert.Equal(t, "dev-b", summary.Results[1].Device.Name)
	assert.Equal(t, "dev-c", summary.Results[2].Device.Name)
}

func TestRun_DeadlineCancelsInFlight(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer ts.Close()

	reg := testRegistry()
	reg.Register("test_api", vendorreg.Profile{
		HTTP: &vendorreg.HTTPProfile{URL: "http://{host}/backup", SuccessCodes: []int{200}},
	})

	devices := []inventory.Device{
		{Name: "fast", Host: ts.Listener.Addr().String(), Vendor: "test_api", Channel: inventory.ChannelHTTP},
		// test_slow never produces output; the run deadline fires first.
		{Name: "stuck", Host: "10.0.0.8", Vendor: "test_slow", Channel: inventory.ChannelSession},
	}

	h := newRunHarness(t, reg, 2, 400*time.Millisecond)
	summary := h.runner.Run(context.Background(), devices)

	require.Len(t, summary.Results, 2)
	// The completed result is preserved; the in-flight one is cancelled.
	assert.Equal(t, StatusSuccess, summary.Results[0].Status)
	assert.Equal(t, StatusCancelled, summary.Results[1].Status)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Cancelled)
}

func TestRun_EmptyInventory(t *testing.T) {
	h := newRunHarness(t, testRegistry(), 4, 0)
	summary := h.runner.Run(context.Background(), nil)

	assert.Zero(t, summary.Total())
	assert.Equal(t, "run-test", summary.RunID)
	assert.Equal(t, "acme", summary.Org)
}
