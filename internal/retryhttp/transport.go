// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

// Package retryhttp wraps an HTTP client with bounded exponential retries
// for transient failures.
package retryhttp

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/stardew-valley-dedicated-server/gateway/internal/observability"
	"github.com/stardew-valley-dedicated-server/gateway/pkg/errutil"
)

// Error codes attached to transport failures.
const (
	// CodeTransient marks a failure that persisted through all retries.
	CodeTransient = "TRANSPORT_TRANSIENT"
	// CodePermanent marks a failure retrying cannot fix.
	CodePermanent = "TRANSPORT_PERMANENT"
)

const (
	defaultBaseDelay  = time.Second
	defaultMaxRetries = 3
)

// Doer is the subset of *http.Client the transport needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Transport executes HTTP requests with exponential backoff on transient
// failures. With the defaults, a request is attempted four times with 1s,
// 2s, and 4s pauses in between before the transport gives up.
type Transport struct {
	client     Doer
	logger     *slog.Logger
	baseDelay  time.Duration
	maxRetries uint64
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger for retry diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithBaseDelay sets the first backoff pause. Subsequent pauses double.
func WithBaseDelay(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.baseDelay = d
		}
	}
}

// WithMaxRetries sets how many times a failed request is retried.
func WithMaxRetries(n uint64) Option {
	return func(t *Transport) {
		t.maxRetries = n
	}
}

// New creates a Transport around client. A nil client falls back to
// http.DefaultClient.
func New(client Doer, opts ...Option) *Transport {
	t := &Transport{
		client:     client,
		logger:     slog.New(slog.DiscardHandler),
		baseDelay:  defaultBaseDelay,
		maxRetries: defaultMaxRetries,
	}
	if t.client == nil {
		t.client = http.DefaultClient
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Do executes the request produced by build, retrying transient failures.
// build is called once per attempt so request bodies are fresh each time.
// Responses with status 502, 503, or 504 count as transient; any other
// response, including 4xx and 5xx, is returned to the caller unread.
func (t *Transport) Do(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	var (
		resp    *http.Response
		attempt int
	)

	backoff := newBackoff(t.baseDelay, t.maxRetries)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++

		req, err := build(ctx)
		if err != nil {
			return oops.Code(CodePermanent).Wrapf(err, "building request")
		}

		//nolint:bodyclose // the caller owns the body of the returned response
		r, err := t.client.Do(req)
		if err != nil {
			if IsTransient(err) {
				observability.RecordTransportRetry()
				t.logger.DebugContext(ctx, "transient request failure",
					"url", req.URL.String(),
					"attempt", attempt,
					"error", err)
				return retry.RetryableError(err)
			}
			return oops.Code(CodePermanent).With("url", req.URL.String()).Wrap(err)
		}

		if IsRetryableStatus(r.StatusCode) {
			drain(r)
			observability.RecordTransportRetry()
			t.logger.DebugContext(ctx, "upstream unavailable",
				"url", req.URL.String(),
				"status", r.StatusCode,
				"attempt", attempt)
			return retry.RetryableError(oops.
				With("url", req.URL.String()).
				With("status", r.StatusCode).
				Errorf("upstream returned %s", r.Status))
		}

		resp = r
		return nil
	})
	if err != nil {
		if errutil.HasCode(err, CodePermanent) {
			return nil, err
		}
		if ctx.Err() != nil {
			// Cancellation and deadline take precedence over retry wrapping
			// so callers can match on the context error.
			return nil, err
		}
		return nil, oops.Code(CodeTransient).With("attempts", attempt).Wrap(err)
	}

	return resp, nil
}

// drain discards and closes a response body so the connection can be reused
// across retries.
func drain(r *http.Response) {
	_, _ = io.Copy(io.Discard, r.Body)
	_ = r.Body.Close()
}

// newBackoff builds the retry schedule: base, 2*base, 4*base, capped at
// maxRetries pauses.
func newBackoff(base time.Duration, maxRetries uint64) retry.Backoff {
	return retry.WithMaxRetries(maxRetries, retry.NewExponential(base))
}
