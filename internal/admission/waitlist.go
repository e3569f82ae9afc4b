// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

package admission

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/stardew-valley-dedicated-server/gateway/pkg/errutil"
)

// ReadyCallback delivers a slot listing that was requested before the world
// finished loading.
type ReadyCallback func(ctx context.Context) error

// Waitlist parks slot-listing requests that arrive before the world is
// ready. Each connection holds at most one spot; the callback fires exactly
// once when the world loads, in arrival order, or never if the connection
// leaves first.
type Waitlist struct {
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]ReadyCallback
	order   []string
}

// WaitlistOption configures a Waitlist.
type WaitlistOption func(*Waitlist)

// WithWaitlistLogger sets the logger for registration diagnostics.
func WithWaitlistLogger(logger *slog.Logger) WaitlistOption {
	return func(w *Waitlist) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWaitlist creates an empty Waitlist.
func NewWaitlist(opts ...WaitlistOption) *Waitlist {
	w := &Waitlist{
		logger:  slog.New(slog.DiscardHandler),
		pending: make(map[string]ReadyCallback),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Add registers a callback for the connection. A connection that is already
// waiting keeps its original callback; the duplicate is ignored and Add
// returns false.
func (w *Waitlist) Add(connectionID string, fn ReadyCallback) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.pending[connectionID]; exists {
		w.logger.Debug("connection already waiting for slot listing",
			"connection_id", connectionID,
		)
		return false
	}
	w.pending[connectionID] = fn
	w.order = append(w.order, connectionID)
	return true
}

// Drop removes the connection's pending callback without firing it. It
// reports whether anything was dropped.
func (w *Waitlist) Drop(connectionID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.pending[connectionID]; !exists {
		return false
	}
	delete(w.pending, connectionID)
	w.order = slices.DeleteFunc(w.order, func(id string) bool {
		return id == connectionID
	})
	w.logger.Debug("dropped pending slot listing", "connection_id", connectionID)
	return true
}

// FireAll fires every pending callback once, in arrival order, and clears
// the list. Callback failures are logged, not returned; a failed delivery
// does not re-register the connection.
func (w *Waitlist) FireAll(ctx context.Context) {
	w.mu.Lock()
	pending := w.pending
	order := w.order
	w.pending = make(map[string]ReadyCallback)
	w.order = nil
	w.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	w.logger.Info("world ready, delivering pending slot listings", "count", len(pending))

	for _, connectionID := range order {
		fn, ok := pending[connectionID]
		if !ok {
			continue
		}
		delete(pending, connectionID)
		if err := fn(ctx); err != nil {
			errutil.LogError(w.logger.With("connection_id", connectionID),
				"failed to deliver pending slot listing", err)
		}
	}
}

// Len returns the number of connections currently waiting.
func (w *Waitlist) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}
