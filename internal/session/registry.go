// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

// Package session tracks the gateway's per-connection state: who is on the
// other end, how they reached the server, and where they stand with the
// shared-secret gate. Records live for one connection and are never
// persisted.
package session

import (
	"log/slog"
	"sync"
	"time"
)

// Connection is the gateway's record of one connected client.
//
// LoginAttempts only ever grows, and Authenticated never flips back to
// false for the lifetime of the connection; the Registry enforces both.
type Connection struct {
	ID               string
	ProvidedIdentity string // client-claimed identity, may be empty
	Transport        Transport
	Authenticated    bool
	LoginAttempts    int
	ConnectedAt      time.Time
}

// copyConnection returns a defensive copy so callers cannot mutate registry
// state behind the lock.
func copyConnection(c *Connection) *Connection {
	dup := *c
	return &dup
}

// Registry holds the connection records. It is safe for concurrent use; the
// engine's message goroutine writes while observability surfaces read.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*Connection),
	}
}

// Register records a new connection and classifies its transport. Repeated
// registration of a live connection id refreshes the provided identity but
// keeps the original record. Returns a copy of the stored record.
func (r *Registry) Register(connectionID, providedIdentity string) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.conns[connectionID]
	if exists {
		slog.Debug("connection re-registered",
			"connection_id", connectionID,
			"transport", conn.Transport.String(),
		)
		if providedIdentity != "" {
			conn.ProvidedIdentity = providedIdentity
		}
		return copyConnection(conn)
	}

	conn = &Connection{
		ID:               connectionID,
		ProvidedIdentity: providedIdentity,
		Transport:        Classify(connectionID),
		ConnectedAt:      time.Now(),
	}
	r.conns[connectionID] = conn
	return copyConnection(conn)
}

// Get returns a copy of the record for connectionID.
func (r *Registry) Get(connectionID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.conns[connectionID]
	if !exists {
		return nil, false
	}
	return copyConnection(conn), true
}

// Remove drops the record for connectionID. Unknown ids are ignored.
func (r *Registry) Remove(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[connectionID]; !exists {
		slog.Debug("remove called for unknown connection", "connection_id", connectionID)
		return
	}
	delete(r.conns, connectionID)
}

// MarkAuthenticated latches the connection as authenticated. Returns false
// if the connection is unknown.
func (r *Registry) MarkAuthenticated(connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.conns[connectionID]
	if !exists {
		slog.Debug("authenticate called for unknown connection", "connection_id", connectionID)
		return false
	}
	conn.Authenticated = true
	return true
}

// IsAuthenticated reports whether the connection has passed the gate.
func (r *Registry) IsAuthenticated(connectionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.conns[connectionID]
	return exists && conn.Authenticated
}

// IncrementLoginAttempts bumps the failed-attempt counter and returns the
// new total. Returns false if the connection is unknown.
func (r *Registry) IncrementLoginAttempts(connectionID string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.conns[connectionID]
	if !exists {
		slog.Debug("attempt recorded for unknown connection", "connection_id", connectionID)
		return 0, false
	}
	conn.LoginAttempts++
	return conn.LoginAttempts, true
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// All returns copies of every live connection record. Order is unspecified.
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		out = append(out, copyConnection(conn))
	}
	return out
}
