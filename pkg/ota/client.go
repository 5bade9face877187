// Package ota talks to the device-management backend: it registers the
// device at startup to fetch its server configuration, and when the backend
// demands it, completes the challenge/response activation handshake before
// the device is allowed online.
package ota

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultInterval    = 5 * time.Second
	defaultMaxAttempts = 60
)

var (
	// ErrNoSerial reports hardware without a provisioned serial number;
	// challenge/response activation is impossible for such a unit.
	ErrNoSerial = errors.New("ota: device has no serial number")
	// ErrExhausted reports an activation poll that ran out of attempts
	// without a definitive answer from the backend.
	ErrExhausted = errors.New("ota: activation attempts exhausted")
)

// Client performs registration and activation against one backend endpoint.
type Client struct {
	// URL is the registration endpoint; the activation endpoint is
	// derived from it by appending /activate.
	URL string
	// Identity supplies the device identity headers and challenge secret.
	Identity *Identity
	// Board is the static device descriptor posted at registration.
	Board map[string]any

	// HTTPClient defaults to a client with a 10s timeout.
	HTTPClient *http.Client
	// Interval is the pause between activation attempts. Defaults to 5s.
	Interval time.Duration
	// MaxAttempts bounds the activation poll. Defaults to 60.
	MaxAttempts int
}

// MQTTConfig is the broker connection block of the server configuration.
type MQTTConfig struct {
	Endpoint       string `json:"endpoint"`
	ClientID       string `json:"client_id"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	PublishTopic   string `json:"publish_topic"`
	SubscribeTopic string `json:"subscribe_topic"`
}

// Activation is the challenge block a not-yet-activated device receives.
type Activation struct {
	Challenge string `json:"challenge"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// Firmware describes a pending firmware version, if the backend offers one.
type Firmware struct {
	Version string `json:"version"`
	URL     string `json:"url"`
}

// ServerConfig is the document returned by a successful registration.
type ServerConfig struct {
	MQTT       *MQTTConfig `json:"mqtt"`
	Activation *Activation `json:"activation"`
	Firmware   *Firmware   `json:"firmware"`
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: defaultTimeout}
}

func (c *Client) interval() time.Duration {
	if c.Interval > 0 {
		return c.Interval
	}
	return defaultInterval
}

func (c *Client) maxAttempts() int {
	if c.MaxAttempts > 0 {
		return c.MaxAttempts
	}
	return defaultMaxAttempts
}

func (c *Client) activateURL() string {
	return strings.TrimSuffix(c.URL, "/") + "/activate"
}

func (c *Client) post(ctx context.Context, url, version string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("ota: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("ota: create request: %w", err)
	}
	c.Identity.setHeaders(req.Header, version)
	return c.httpClient().Do(req)
}

// Register posts the device descriptor to the backend and returns the
// server configuration. Any non-200 response is fatal for this startup
// attempt; retrying is the caller's decision.
func (c *Client) Register(ctx context.Context) (*ServerConfig, error) {
	if c.URL == "" {
		return nil, errors.New("ota: no endpoint configured")
	}

	resp, err := c.post(ctx, c.URL, registerVersion, c.Board)
	if err != nil {
		return nil, fmt.Errorf("ota: register: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ota: register: unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var cfg ServerConfig
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("ota: register: decode response: %w", err)
	}
	slog.Debug("device registered", "activation_required", cfg.Activation != nil)
	return &cfg, nil
}

// activatePayload is the signed challenge response. The outer Payload
// wrapper matches what the backend expects.
type activatePayload struct {
	Payload struct {
		Algorithm    string `json:"algorithm"`
		SerialNumber string `json:"serial_number"`
		Challenge    string `json:"challenge"`
		HMAC         string `json:"hmac"`
	} `json:"Payload"`
}

// Activate answers the challenge and polls until the backend accepts the
// device, the attempts run out, or ctx is cancelled. A 202 means a
// human has not yet entered the verification code on the console; other
// errors are logged (deduplicated) and retried.
func (c *Client) Activate(ctx context.Context, act *Activation) error {
	if c.Identity.SerialNumber == "" {
		return ErrNoSerial
	}

	var payload activatePayload
	payload.Payload.Algorithm = "hmac-sha256"
	payload.Payload.SerialNumber = c.Identity.SerialNumber
	payload.Payload.Challenge = act.Challenge
	payload.Payload.HMAC = c.Identity.HMAC(act.Challenge)

	url := c.activateURL()
	slog.Info("starting activation", "url", url, "attempts", c.maxAttempts())

	var (
		lastError     string
		notFoundCount int
	)
	for attempt := 1; attempt <= c.maxAttempts(); attempt++ {
		status, errMsg, err := c.postActivate(ctx, url, &payload)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("activation request failed", "attempt", attempt, "error", err)

		case status == http.StatusOK:
			slog.Info("device activated", "attempt", attempt)
			return nil

		case status == http.StatusAccepted:
			// Pending human action. Surface the code readably, but not
			// on every attempt.
			if attempt == 1 || attempt%6 == 0 {
				slog.Info("waiting for verification code entry",
					"code", spaced(act.Code), "attempt", attempt)
			}

		default:
			if errMsg == "" {
				errMsg = fmt.Sprintf("unexpected status %d", status)
			}
			if errMsg != lastError {
				slog.Warn("activation rejected", "status", status, "error", errMsg)
				lastError = errMsg
			}
			if strings.Contains(errMsg, "Device not found") {
				notFoundCount++
				if notFoundCount >= 5 && notFoundCount%5 == 0 {
					slog.Warn("device still not found; refresh the console page for a new verification code")
				}
			}
		}

		if attempt == c.maxAttempts() {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.interval()):
		}
	}

	if lastError != "" {
		return fmt.Errorf("%w: last error: %s", ErrExhausted, lastError)
	}
	return ErrExhausted
}

// postActivate performs one poll attempt. A non-nil error means the request
// itself failed; otherwise status carries the backend's verdict and errMsg
// the server-reported error text for non-2xx responses.
func (c *Client) postActivate(ctx context.Context, url string, payload *activatePayload) (status int, errMsg string, err error) {
	resp, err := c.post(ctx, url, activateVersion, payload)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			errMsg = e.Error
		} else if len(bytes.TrimSpace(body)) > 0 {
			errMsg = string(bytes.TrimSpace(body))
		}
	}
	return resp.StatusCode, errMsg, nil
}

// Bootstrap registers the device and, when the backend demands it, runs the
// activation handshake. The returned configuration is only usable once
// Bootstrap returns nil.
func (c *Client) Bootstrap(ctx context.Context) (*ServerConfig, error) {
	cfg, err := c.Register(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.Activation != nil && cfg.Activation.Challenge != "" {
		if err := c.Activate(ctx, cfg.Activation); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// spaced spreads the verification code out for readability in logs.
func spaced(code string) string {
	return strings.Join(strings.Split(code, ""), " ")
}
