package vendorreg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltins(t *testing.T) {
	r := New()

	mikrotik, ok := r.Lookup("mikrotik_routeros")
	require.True(t, ok)
	require.NotNil(t, mikrotik.Session)
	assert.Equal(t, []string{"export"}, mikrotik.Session.Commands)
	assert.Equal(t, 60*time.Second, mikrotik.Session.IdleTimeout.Std())
	assert.Empty(t, mikrotik.Session.Prompt)

	fortinet, ok := r.Lookup("fortinet")
	require.True(t, ok)
	require.NotNil(t, fortinet.HTTP)
	assert.Contains(t, fortinet.HTTP.URL, "{host}")
	assert.True(t, fortinet.HTTP.Success(200))
	assert.False(t, fortinet.HTTP.Success(500))
}

func TestLookupCaseInsensitive(t *testing.T) {
	r := New()

	_, ok := r.Lookup("Mikrotik_RouterOS")
	assert.True(t, ok)

	_, ok = r.Lookup("FORTINET")
	assert.True(t, ok)
}

func TestLookupUnknown(t *testing.T) {
	r := New()

	_, ok := r.Lookup("juniper_junos")
	assert.False(t, ok)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vendors.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
vendors:
  Arista_EOS:
    session:
      commands: ["show running-config"]
      prompt: '(?m)^[\w.-]+[#>] ?$'
      idle_timeout: 15s
      session_timeout: 3m
      enable_command: enable
  mikrotik_routeros:
    session:
      commands: ["export verbose"]
      idle_timeout: 90s
      session_timeout: 10m
`), 0o644))

	r := New()
	require.NoError(t, r.LoadFile(path))

	// New vendor, looked up case-insensitively.
	arista, ok := r.Lookup("arista_eos")
	require.True(t, ok)
	require.NotNil(t, arista.Session)
	assert.Equal(t, 15*time.Second, arista.Session.IdleTimeout.Std())
	assert.Equal(t, "enable", arista.Session.EnableCommand)

	// File entry overrides the built-in.
	mikrotik, ok := r.Lookup("mikrotik_routeros")
	require.True(t, ok)
	assert.Equal(t, []string{"export verbose"}, mikrotik.Session.Commands)
	assert.Equal(t, 90*time.Second, mikrotik.Session.IdleTimeout.Std())
}

func TestLoadFile_EmptyProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vendors.yaml")
	require.NoError(t, os.WriteFile(path, []byte("vendors:\n  broken: {}\n"), 0o644))

	err := New().LoadFile(path)
	assert.ErrorContains(t, err, `vendor "broken"`)
}

func TestLoadFile_BadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vendors.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
vendors:
  x:
    session:
      commands: ["show run"]
      idle_timeout: soon
`), 0o644))

	err := New().LoadFile(path)
	assert.ErrorContains(t, err, "parse duration")
}

func TestLoadFile_Missing(t *testing.T) {
	err := New().LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
