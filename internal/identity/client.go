// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

// Package identity acquires substitute identity credentials from the
// external identity sidecar: a thin HTTP client plus the login state
// machine (Broker) that drives it.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/stardew-valley-dedicated-server/gateway/internal/retryhttp"
)

// Health is the sidecar's liveness report.
type Health struct {
	Status   string `json:"status"`
	LoggedIn bool   `json:"logged_in"`
}

// ChallengeAction is one way the operator may answer a login challenge.
type ChallengeAction struct {
	Type   string `json:"type"`
	Detail string `json:"detail,omitempty"`
}

// LoginStatus is the sidecar's view of the running login flow.
type LoginStatus struct {
	Status       string            `json:"status"`
	Message      string            `json:"message,omitempty"`
	ValidActions []ChallengeAction `json:"validActions,omitempty"`
	QRCode       string            `json:"qrCode,omitempty"`
}

// Ticket is an opaque identity credential issued by the external authority.
// The gateway never interprets Data; it only hands it to the engine and
// discards it on shutdown.
type Ticket struct {
	Data      []byte
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Valid reports whether the ticket has not expired at the given time.
func (t *Ticket) Valid(now time.Time) bool {
	return t != nil && len(t.Data) > 0 && now.Before(t.ExpiresAt)
}

type ticketResponse struct {
	AppTicket string    `json:"app_ticket"`
	Subject   string    `json:"subject,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Caller executes HTTP requests. *retryhttp.Transport satisfies it.
type Caller interface {
	Do(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error)
}

// Client talks to the identity sidecar's HTTP API.
type Client struct {
	baseURL string
	caller  Caller
	logger  *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the logger for request diagnostics.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a sidecar client. baseURL must be non-empty; caller must
// be non-nil.
func NewClient(baseURL string, caller Caller, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, oops.Errorf("identity: base URL is required")
	}
	if caller == nil {
		return nil, oops.Errorf("identity: caller is required")
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		caller:  caller,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Health fetches the sidecar liveness report.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartLogin begins a credential-based login flow.
func (c *Client) StartLogin(ctx context.Context, username, password string) (*LoginStatus, error) {
	body := map[string]string{"username": username, "password": password}
	var out LoginStatus
	if err := c.doJSON(ctx, http.MethodPost, "/login/start", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartLoginQR begins a QR-based login flow.
func (c *Client) StartLoginQR(ctx context.Context) (*LoginStatus, error) {
	var out LoginStatus
	if err := c.doJSON(ctx, http.MethodPost, "/login/start-qr", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status fetches the current login status.
func (c *Client) Status(ctx context.Context) (*LoginStatus, error) {
	var out LoginStatus
	if err := c.doJSON(ctx, http.MethodGet, "/login/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitCode posts a challenge response. An empty code asks the sidecar to
// start the unattended approval path.
func (c *Client) SubmitCode(ctx context.Context, code string) error {
	body := map[string]string{"code": code}
	return c.doJSON(ctx, http.MethodPost, "/login/submit-code", body, nil)
}

// AppTicket fetches the opaque identity ticket. Only meaningful once the
// login flow reports authenticated.
func (c *Client) AppTicket(ctx context.Context) (*Ticket, error) {
	var out ticketResponse
	if err := c.doJSON(ctx, http.MethodGet, "/app-ticket", nil, &out); err != nil {
		return nil, err
	}
	if out.AppTicket == "" {
		return nil, oops.
			Code(retryhttp.CodePermanent).
			Errorf("identity service returned an empty ticket")
	}

	issued := out.IssuedAt
	if issued.IsZero() {
		issued = time.Now()
	}
	return &Ticket{
		Data:      []byte(out.AppTicket),
		Subject:   out.Subject,
		IssuedAt:  issued,
		ExpiresAt: out.ExpiresAt,
	}, nil
}

// doJSON executes one API call. Transport failures keep the codes attached
// by the retrying transport; non-2xx responses and undecodable bodies are
// permanent.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	build := func(ctx context.Context) (*http.Request, error) {
		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return nil, err
			}
			reader = bytes.NewReader(data)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}

	resp, err := c.caller.Do(ctx, build)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return oops.
			Code(retryhttp.CodePermanent).
			With("path", path).
			With("status", resp.StatusCode).
			Errorf("identity service returned %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return oops.
			Code(retryhttp.CodePermanent).
			With("path", path).
			Wrapf(err, "decoding identity response")
	}
	return nil
}
