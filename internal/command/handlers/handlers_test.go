// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

package handlers

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/stardew-valley-dedicated-server/gateway/internal/admission"
	"github.com/stardew-valley-dedicated-server/gateway/internal/command"
	"github.com/stardew-valley-dedicated-server/gateway/internal/gate"
	"github.com/stardew-valley-dedicated-server/gateway/internal/observability"
	"github.com/stardew-valley-dedicated-server/gateway/internal/roles"
	"github.com/stardew-valley-dedicated-server/gateway/internal/session"
	"github.com/stardew-valley-dedicated-server/gateway/pkg/host"
)

type chatLine struct {
	connectionID string
	message      string
}

type kickCall struct {
	connectionID string
	reason       string
}

// fakeEngine records chat and kick calls and serves canned world state.
type fakeEngine struct {
	version    string
	worldReady bool
	date       host.GameDate
	slots      []*host.SlotRecord
	chatErr    error
	kickErr    error

	chats []chatLine
	kicks []kickCall
}

var _ host.Engine = (*fakeEngine)(nil)

func (e *fakeEngine) Version() string          { return e.version }
func (e *fakeEngine) WorldReady() bool         { return e.worldReady }
func (e *fakeEngine) GameDate() host.GameDate  { return e.date }
func (e *fakeEngine) Slots() []*host.SlotRecord { return e.slots }

func (e *fakeEngine) Kick(_ context.Context, connectionID, reason string) error {
	e.kicks = append(e.kicks, kickCall{connectionID, reason})
	return e.kickErr
}

func (e *fakeEngine) SendChat(_ context.Context, connectionID, message string) error {
	e.chats = append(e.chats, chatLine{connectionID, message})
	return e.chatErr
}

func (e *fakeEngine) lastChat(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, e.chats, "expected at least one chat reply")
	return e.chats[len(e.chats)-1].message
}

const testConnectionID = "GN_7895412"

// harness wires real gateway components around a fake engine the way the
// dispatcher hands them to handlers.
type harness struct {
	engine   *fakeEngine
	sessions *session.Registry
	metrics  *observability.Metrics
	roles    *roles.Service
	exec     *command.Execution
}

// newHarness builds an execution for testConnectionID. password is the
// gate's shared secret; empty disables the gate.
func newHarness(t *testing.T, password string) *harness {
	t.Helper()

	sessions := session.NewRegistry()
	sessions.Register(testConnectionID, "gandalf")

	g, err := gate.New(sessions, password, "", 3)
	require.NoError(t, err)

	svc, err := roles.NewService(roles.NewMemoryRepository())
	require.NoError(t, err)

	engine := &fakeEngine{
		version:    "1.6.9",
		worldReady: true,
		date:       host.GameDate{Year: 2, SeasonIndex: 0, DayOfMonth: 14},
	}
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	exec := &command.Execution{
		ConnectionID: testConnectionID,
		Identity:     "gandalf",
		Transport:    session.Classify(testConnectionID),
		Services: &command.Services{
			Gate:    g,
			Roles:   svc,
			Engine:  engine,
			Filter:  admission.NewFilter(true),
			Metrics: metrics,
		},
	}

	return &harness{
		engine:   engine,
		sessions: sessions,
		metrics:  metrics,
		roles:    svc,
		exec:     exec,
	}
}

// run invokes a handler with the harness execution and the given args.
func (h *harness) run(t *testing.T, handler command.Handler, args ...string) error {
	t.Helper()
	h.exec.Args = args
	return handler(context.Background(), h.exec)
}
