package backup

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/netbackup/internal/config"
	"github.com/edvin/netbackup/internal/inventory"
	"github.com/edvin/netbackup/internal/vendorreg"
)

// HTTPFetcher backs up a device with a single GET against its management
// API. No retry: a failed call is reported and left for the next run.
type HTTPFetcher struct {
	logger zerolog.Logger
	client *http.Client
}

// NewHTTPFetcher creates an HTTPFetcher. TLS verification is disabled:
// device management APIs sit on self-signed certificates.
func NewHTTPFetcher(logger zerolog.Logger) *HTTPFetcher {
	return &HTTPFetcher{
		logger: logger.With().Str("component", "http-fetcher").Logger(),
		client: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
	}
}

// Fetch performs the GET and returns the body bytes on a success status.
func (f *HTTPFetcher) Fetch(ctx context.Context, device inventory.Device, profile *vendorreg.HTTPProfile, creds config.Credentials) ([]byte, error) {
	token := ""
	if device.CredentialKey != "" {
		t, ok := creds.Token(device.CredentialKey)
		if !ok {
			return nil, failf(ReasonAuth, "no API token under credential key %q", device.CredentialKey)
		}
		token = t
	}

	url := strings.ReplaceAll(profile.URL, "{host}", device.Host)
	if profile.TokenIn != "header" {
		if strings.Contains(url, "{token}") && token == "" {
			return nil, failf(ReasonAuth, "profile URL needs a token but the device has no credential key")
		}
		url = strings.ReplaceAll(url, "{token}", token)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, failErr(ReasonProtocol, fmt.Errorf("create request: %w", err))
	}
	if profile.TokenIn == "header" {
		header := profile.HeaderName
		if header == "" {
			header = "Authorization"
		}
		req.Header.Set(header, token)
	}

	f.logger.Debug().Str("device", device.Name).Str("host", device.Host).Msg("fetching config over HTTP")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Status: StatusCancelled, Reason: ReasonCancelled, Err: ctx.Err()}
		}
		return nil, failErr(ReasonConnect, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, failErr(ReasonProtocol, fmt.Errorf("read response body: %w", err))
	}

	if !profile.Success(resp.StatusCode) {
		return nil, failf(ReasonProtocol, "unexpected status %d", resp.StatusCode)
	}

	return body, nil
}
