// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

package retryhttp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stardew-valley-dedicated-server/gateway/pkg/errutil"
)

type fakeDoer struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, req *http.Request) (*http.Response, error)
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.fn(call, req)
}

func (f *fakeDoer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func buildGet(url string) func(ctx context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}
}

func TestTransport_Do_FirstAttemptSucceeds(t *testing.T) {
	doer := &fakeDoer{fn: func(_ int, _ *http.Request) (*http.Response, error) {
		return response(http.StatusOK, "ok"), nil
	}}
	tr := New(doer, WithBaseDelay(time.Millisecond))

	resp, err := tr.Do(context.Background(), buildGet("http://identity/health"))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, 1, doer.callCount())
}

func TestTransport_Do_RecoversFromTransientError(t *testing.T) {
	doer := &fakeDoer{fn: func(call int, _ *http.Request) (*http.Response, error) {
		if call < 3 {
			return nil, syscall.ECONNREFUSED
		}
		return response(http.StatusOK, "ok"), nil
	}}
	tr := New(doer, WithBaseDelay(time.Millisecond))

	resp, err := tr.Do(context.Background(), buildGet("http://identity/health"))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, 3, doer.callCount())
}

func TestTransport_Do_RecoversFromServiceUnavailable(t *testing.T) {
	doer := &fakeDoer{fn: func(call int, _ *http.Request) (*http.Response, error) {
		if call == 1 {
			return response(http.StatusServiceUnavailable, "starting"), nil
		}
		return response(http.StatusOK, "ok"), nil
	}}
	tr := New(doer, WithBaseDelay(time.Millisecond))

	resp, err := tr.Do(context.Background(), buildGet("http://identity/health"))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, 2, doer.callCount())
}

func TestTransport_Do_ExhaustsRetries(t *testing.T) {
	doer := &fakeDoer{fn: func(_ int, _ *http.Request) (*http.Response, error) {
		return nil, syscall.ECONNRESET
	}}
	tr := New(doer, WithBaseDelay(time.Millisecond))

	_, err := tr.Do(context.Background(), buildGet("http://identity/health"))
	require.Error(t, err)

	// One initial attempt plus three retries.
	assert.Equal(t, 4, doer.callCount())
	errutil.AssertErrorCode(t, err, CodeTransient)
	errutil.AssertErrorContext(t, err, "attempts", 4)
}

func TestTransport_Do_PermanentErrorNotRetried(t *testing.T) {
	doer := &fakeDoer{fn: func(_ int, _ *http.Request) (*http.Response, error) {
		return nil, errors.New("unsupported protocol scheme")
	}}
	tr := New(doer, WithBaseDelay(time.Millisecond))

	_, err := tr.Do(context.Background(), buildGet("http://identity/health"))
	require.Error(t, err)

	assert.Equal(t, 1, doer.callCount())
	errutil.AssertErrorCode(t, err, CodePermanent)
}

func TestTransport_Do_ClientErrorStatusReturned(t *testing.T) {
	doer := &fakeDoer{fn: func(_ int, _ *http.Request) (*http.Response, error) {
		return response(http.StatusNotFound, "no such session"), nil
	}}
	tr := New(doer, WithBaseDelay(time.Millisecond))

	resp, err := tr.Do(context.Background(), buildGet("http://identity/login/status"))
	require.NoError(t, err)
	defer resp.Body.Close()

	// Status handling belongs to the caller; only 502/503/504 are retried.
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, 1, doer.callCount())
}

func TestTransport_Do_CancellationStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	doer := &fakeDoer{fn: func(_ int, _ *http.Request) (*http.Response, error) {
		cancel()
		return nil, syscall.ECONNREFUSED
	}}
	tr := New(doer, WithBaseDelay(time.Minute))

	_, err := tr.Do(ctx, buildGet("http://identity/health"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, doer.callCount())
}

func TestTransport_Do_RebuildsRequestPerAttempt(t *testing.T) {
	doer := &fakeDoer{fn: func(call int, req *http.Request) (*http.Response, error) {
		body, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		assert.Equal(t, "payload", string(body), "attempt %d saw a stale body", call)
		if call == 1 {
			return nil, syscall.ECONNREFUSED
		}
		return response(http.StatusOK, "ok"), nil
	}}
	tr := New(doer, WithBaseDelay(time.Millisecond))

	resp, err := tr.Do(context.Background(), func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodPost, "http://identity/login/start",
			strings.NewReader("payload"))
	})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, 2, doer.callCount())
}

func TestNewBackoff_Schedule(t *testing.T) {
	b := newBackoff(time.Second, 3)

	for _, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		d, stop := b.Next()
		require.False(t, stop)
		assert.Equal(t, want, d)
	}

	_, stop := b.Next()
	assert.True(t, stop, "schedule should end after three pauses")
}
