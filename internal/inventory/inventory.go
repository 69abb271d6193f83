// Package inventory loads the device list for a backup run from a
// semicolon-separated CSV file.
package inventory

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Channel selects how a device is reached for backup.
const (
	ChannelSession = "session"
	ChannelHTTP    = "http"
)

// Device is one row of the inventory: a single network device to back up.
// Immutable once loaded.
type Device struct {
	Name    string `validate:"required"`
	Host    string `validate:"required"`
	Vendor  string `validate:"required"`
	Channel string `validate:"required,oneof=session http"`
	// CredentialKey names the env-file entry holding this device's API token
	// (HTTP channel only).
	CredentialKey string
	// Enable forces privilege elevation before the export command, for
	// devices whose account lands in an unprivileged shell.
	Enable bool
}

// ParseError records an inventory row that could not be turned into a valid
// Device. The loader reports these alongside the valid records; it is the
// caller's call whether any of them abort the run.
type ParseError struct {
	Row  int
	Line string
	Err  error
}

func (e ParseError) Error() string {
	return fmt.Sprintf("inventory row %d (%s): %v", e.Row, e.Line, e.Err)
}

var validate = validator.New()

// Load reads the inventory CSV at path. The first row is a header and is
// skipped. Columns: name;host;vendor;channel;options. The options column is
// optional: a comma-separated key=value list (recognized keys: enable,
// cred_key). Malformed rows are collected as ParseErrors and excluded from
// the result; they never abort the load. A missing file does.
func Load(path string) ([]Device, []ParseError, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open inventory: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = ';'
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	rows, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read inventory: %w", err)
	}
	if len(rows) > 0 {
		rows = rows[1:] // header
	}

	var devices []Device
	var parseErrors []ParseError
	for i, row := range rows {
		rowNum := i + 2 // 1-based, after the header
		device, err := parseRow(row)
		if err != nil {
			parseErrors = append(parseErrors, ParseError{
				Row:  rowNum,
				Line: strings.Join(row, ";"),
				Err:  err,
			})
			continue
		}
		devices = append(devices, device)
	}

	return devices, parseErrors, nil
}

func parseRow(row []string) (Device, error) {
	if len(row) < 4 {
		return Device{}, fmt.Errorf("expected at least 4 columns, got %d", len(row))
	}

	device := Device{
		Name:    strings.TrimSpace(row[0]),
		Host:    strings.TrimSpace(row[1]),
		Vendor:  strings.ToLower(strings.TrimSpace(row[2])),
		Channel: strings.ToLower(strings.TrimSpace(row[3])),
	}

	if len(row) >= 5 && strings.TrimSpace(row[4]) != "" {
		if err := parseOptions(strings.TrimSpace(row[4]), &device); err != nil {
			return Device{}, err
		}
	}

	if err := validate.Struct(device); err != nil {
		return Device{}, fmt.Errorf("validation: %w", err)
	}

	return device, nil
}

func parseOptions(options string, device *Device) error {
	for _, opt := range strings.Split(options, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(opt), "=")
		if !found {
			return fmt.Errorf("malformed option %q", opt)
		}
		switch key {
		case "enable":
			device.Enable = value == "true"
		case "cred_key":
			device.CredentialKey = value
		default:
			return fmt.Errorf("unknown option %q", key)
		}
	}
	return nil
}
