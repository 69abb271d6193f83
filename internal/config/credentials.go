package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Credentials holds the shared device account, per-vendor API tokens, and the
// mail transport settings for one run. Loaded once from an env-style file and
// passed by value into each dispatch; never mutated during the run.
type Credentials struct {
	Org      string
	Username string
	// Password is the shared account secret. It doubles as the privilege
	// elevation secret for vendors that need one.
	Password string

	SMTP SMTPConfig

	// Values holds every key from the credential file, for per-vendor API
	// token lookups by credential key.
	Values map[string]string
}

// SMTPConfig holds the mail transport settings for the status report.
type SMTPConfig struct {
	Enabled bool
	Host    string
	Port    string
	User    string
	Pass    string
	From    string
	To      string
}

// Token returns the API token stored under the given key, e.g. the
// credential key named by an HTTP device's inventory row.
func (c Credentials) Token(key string) (string, bool) {
	v, ok := c.Values[key]
	return v, ok
}

// LoadCredentials reads an env-style file (KEY=VALUE lines, # comments,
// optional single or double quoting) and builds the run credentials.
// A missing or unreadable file is fatal to the run.
func LoadCredentials(path string) (Credentials, error) {
	f, err := os.Open(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("open credential file: %w", err)
	}
	defer f.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		key, value, found := strings.Cut(text, "=")
		if !found {
			return Credentials{}, fmt.Errorf("credential file line %d: missing '='", line)
		}
		values[strings.TrimSpace(key)] = unquote(strings.TrimSpace(value))
	}
	if err := scanner.Err(); err != nil {
		return Credentials{}, fmt.Errorf("read credential file: %w", err)
	}

	creds := Credentials{
		Org:      values["ORG"],
		Username: values["MAIN_USER"],
		Password: values["MAIN_PASS"],
		SMTP: SMTPConfig{
			Enabled: values["USE_SMTP"] == "yes",
			Host:    values["SMTP_HOST"],
			Port:    values["SMTP_PORT"],
			User:    values["SMTP_USER"],
			Pass:    values["SMTP_PASS"],
			From:    values["SMTP_FROM"],
			To:      values["SMTP_TO"],
		},
		Values: values,
	}

	if creds.Username == "" || creds.Password == "" {
		return Credentials{}, fmt.Errorf("credential file: MAIN_USER and MAIN_PASS are required")
	}

	return creds, nil
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
