// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

//go:build integration

// Package integration provides end-to-end integration tests for the
// admission gateway.
package integration

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/stardew-valley-dedicated-server/gateway/internal/admission"
	"github.com/stardew-valley-dedicated-server/gateway/internal/config"
	"github.com/stardew-valley-dedicated-server/gateway/internal/identity"
	"github.com/stardew-valley-dedicated-server/gateway/internal/roles"
	"github.com/stardew-valley-dedicated-server/gateway/pkg/errutil"
	"github.com/stardew-valley-dedicated-server/gateway/pkg/gateway"
	"github.com/stardew-valley-dedicated-server/gateway/pkg/host"
)

// testEnv holds all the resources one spec needs: a scripted engine, a fake
// identity sidecar listening on a real socket, and the assembled gateway.
type testEnv struct {
	ctx     context.Context
	cancel  context.CancelFunc
	engine  *fakeEngine
	sidecar *fakeSidecar
	gw      *gateway.Gateway
}

// setupTestEnv builds a gateway wired the way an embedding engine would wire
// it: password gate on, lobby redirect on, metrics on an ephemeral port, and
// the identity sidecar reached over real HTTP.
func setupTestEnv() (*testEnv, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)

	env := &testEnv{
		ctx:     ctx,
		cancel:  cancel,
		engine:  newFakeEngine(),
		sidecar: newFakeSidecar(),
	}

	gw, err := gateway.New(ctx, env.settings(), env.engine)
	if err != nil {
		env.sidecar.Close()
		cancel()
		return nil, err
	}
	if err := gw.Start(); err != nil {
		env.sidecar.Close()
		cancel()
		return nil, err
	}

	env.gw = gw
	return env, nil
}

func (env *testEnv) settings() *config.Settings {
	return &config.Settings{
		AllowIPConnections:   true,
		ServerPassword:       "our-farm-secret",
		MaxLoginAttempts:     3,
		LobbyRedirectEnabled: true,
		MetricsAddr:          "127.0.0.1:0",
		LogLevel:             "error",
		Identity: config.IdentitySettings{
			ServiceURL:   env.sidecar.URL(),
			LoginTimeout: 10 * time.Second,
			PollInterval: 10 * time.Millisecond,
		},
	}
}

// cleanup releases all test resources.
func (env *testEnv) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if env.gw != nil {
		_ = env.gw.Stop(ctx)
	}
	if env.sidecar != nil {
		env.sidecar.Close()
	}
	env.cancel()
}

type chatLine struct {
	connectionID string
	message      string
}

// fakeEngine implements host.Engine with mutable world state. Everything is
// mutex-guarded because the observability server reads WorldReady from its
// own goroutine.
type fakeEngine struct {
	mu         sync.Mutex
	version    string
	worldReady bool
	date       host.GameDate
	slots      []*host.SlotRecord
	chats      []chatLine
	kicks      []string
}

var _ host.Engine = (*fakeEngine)(nil)

// newFakeEngine returns an engine with the roster a small co-op farm would
// have: one claimed cabin, one open cabin, and the reserved holding slot.
func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		version: "1.6.9",
		date:    host.GameDate{Year: 2, SeasonIndex: 0, DayOfMonth: 14},
		slots: []*host.SlotRecord{
			{
				Name:          "Abigail",
				OwnerID:       "76561198000000001",
				ReadyForClaim: true,
				Spawn: host.SpawnState{
					Location: "Cabin1",
					Position: host.Point{X: 12, Y: 9},
				},
			},
			{
				Name:          "Cabin2",
				ReadyForClaim: true,
				Spawn: host.SpawnState{
					Location: "Cabin2",
					Position: host.Point{X: 3, Y: 5},
				},
			},
			{
				Name:                "Greeter",
				OwnerID:             "76561198000000009",
				ReadyForClaim:       true,
				ReservedHoldingSlot: true,
				Spawn: host.SpawnState{
					Location: "Lobby",
					Position: host.Point{X: 8, Y: 8},
				},
			},
		},
	}
}

func (e *fakeEngine) Version() string { return e.version }

func (e *fakeEngine) WorldReady() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.worldReady
}

func (e *fakeEngine) setWorldReady(ready bool) {
	e.mu.Lock()
	e.worldReady = ready
	e.mu.Unlock()
}

func (e *fakeEngine) GameDate() host.GameDate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.date
}

func (e *fakeEngine) Slots() []*host.SlotRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.slots
}

func (e *fakeEngine) Kick(_ context.Context, connectionID, _ string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.kicks = append(e.kicks, connectionID)
	return nil
}

func (e *fakeEngine) SendChat(_ context.Context, connectionID, message string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.chats = append(e.chats, chatLine{connectionID: connectionID, message: message})
	return nil
}

func (e *fakeEngine) setSlotActive(name string, active bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, slot := range e.slots {
		if slot.Name == name {
			slot.Active = active
		}
	}
}

// slotSpawn returns a copy of the named slot's persisted spawn record.
func (e *fakeEngine) slotSpawn(name string) host.SpawnState {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, slot := range e.slots {
		if slot.Name == name {
			return slot.Spawn
		}
	}
	return host.SpawnState{}
}

func (e *fakeEngine) chatFor(connectionID string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var lines []string
	for _, c := range e.chats {
		if c.connectionID == connectionID {
			lines = append(lines, c.message)
		}
	}
	return lines
}

func (e *fakeEngine) kickedIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.kicks...)
}

// fakeSidecar speaks the identity sidecar's HTTP API on a real listener, so
// specs exercise the retrying transport and the JSON client end to end.
type fakeSidecar struct {
	mu     sync.Mutex
	status string
	server *httptest.Server
}

func newFakeSidecar() *fakeSidecar {
	s := &fakeSidecar{status: "authenticated"}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

func (s *fakeSidecar) handle(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/health":
		s.writeJSON(w, map[string]any{
			"status":    "ok",
			"logged_in": s.currentStatus() == "authenticated",
		})
	case "/login/status":
		s.writeJSON(w, map[string]any{"status": s.currentStatus()})
	case "/app-ticket":
		if s.currentStatus() != "authenticated" {
			http.Error(w, "not authenticated", http.StatusConflict)
			return
		}
		s.writeJSON(w, map[string]any{
			"app_ticket": "opaque-vendor-ticket-4217",
			"subject":    "76561198000000042",
			"issued_at":  time.Now().UTC(),
			"expires_at": time.Now().UTC().Add(time.Hour),
		})
	default:
		http.NotFound(w, r)
	}
}

func (s *fakeSidecar) writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func (s *fakeSidecar) currentStatus() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *fakeSidecar) setStatus(status string) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

func (s *fakeSidecar) URL() string { return s.server.URL }
func (s *fakeSidecar) Close()      { s.server.Close() }

// sendRecorder captures the payloads a hook delivers through host.SendFunc.
type sendRecorder struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (r *sendRecorder) send(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	dup := make([]byte, len(payload))
	copy(dup, payload)
	r.payloads = append(r.payloads, dup)
	return nil
}

func (r *sendRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

func (r *sendRecorder) last() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.payloads) == 0 {
		return nil
	}
	return r.payloads[len(r.payloads)-1]
}

// decodedSlot is one slot pulled back out of a listing message.
type decodedSlot struct {
	name          string
	ownerID       string
	spawnLocation string
	spawnX        int32
	spawnY        int32
	temporaryBed  bool
}

// decodeListing unpacks an availability message so specs assert on fields
// instead of raw bytes: a five-byte header, then one size-prefixed payload
// per slot.
func decodeListing(payload []byte) (host.GameDate, []decodedSlot, error) {
	if len(payload) < 5 {
		return host.GameDate{}, nil, fmt.Errorf("listing shorter than its header: %d bytes", len(payload))
	}
	date := host.GameDate{
		Year:        binary.BigEndian.Uint16(payload[0:2]),
		SeasonIndex: payload[2],
		DayOfMonth:  payload[3],
	}
	count := int(payload[4])
	rest := payload[5:]

	slots := make([]decodedSlot, 0, count)
	for i := 0; i < count; i++ {
		if len(rest) < 2 {
			return date, nil, fmt.Errorf("slot %d: missing size prefix", i)
		}
		size := int(binary.BigEndian.Uint16(rest[0:2]))
		rest = rest[2:]
		if len(rest) < size {
			return date, nil, fmt.Errorf("slot %d: truncated payload", i)
		}
		slot, err := decodeSlot(rest[:size])
		if err != nil {
			return date, nil, fmt.Errorf("slot %d: %w", i, err)
		}
		slots = append(slots, slot)
		rest = rest[size:]
	}
	if len(rest) != 0 {
		return date, nil, fmt.Errorf("%d trailing bytes after the last slot", len(rest))
	}
	return date, slots, nil
}

func decodeSlot(p []byte) (decodedSlot, error) {
	var out decodedSlot
	var err error
	if out.name, p, err = readWireString(p); err != nil {
		return out, err
	}
	if out.ownerID, p, err = readWireString(p); err != nil {
		return out, err
	}
	if out.spawnLocation, p, err = readWireString(p); err != nil {
		return out, err
	}
	if len(p) != 9 {
		return out, fmt.Errorf("expected 9 bytes of coordinates and flags, got %d", len(p))
	}
	out.spawnX = int32(binary.BigEndian.Uint32(p[0:4]))
	out.spawnY = int32(binary.BigEndian.Uint32(p[4:8]))
	out.temporaryBed = p[8]&1 != 0
	return out, nil
}

func readWireString(p []byte) (string, []byte, error) {
	if len(p) < 1 {
		return "", nil, fmt.Errorf("missing string length")
	}
	n := int(p[0])
	p = p[1:]
	if len(p) < n {
		return "", nil, fmt.Errorf("string shorter than its %d-byte prefix", n)
	}
	return string(p[:n]), p[n:], nil
}

var _ = Describe("Gateway Admission", func() {
	var env *testEnv

	BeforeEach(func() {
		var err error
		env, err = setupTestEnv()
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		env.cleanup()
	})

	Describe("Startup ticket", func() {
		It("acquires the app ticket through the identity sidecar", func() {
			ticket, err := env.gw.AcquireStartupTicket(env.ctx)
			Expect(err).NotTo(HaveOccurred())

			Expect(ticket.Data).To(Equal([]byte("opaque-vendor-ticket-4217")))
			Expect(ticket.Subject).To(Equal("76561198000000042"))
			Expect(ticket.Valid(time.Now())).To(BeTrue())
		})

		It("refuses when the sidecar holds no login", func() {
			env.sidecar.setStatus("idle")

			_, err := env.gw.AcquireStartupTicket(env.ctx)
			Expect(err).To(HaveOccurred())
			Expect(errutil.CodeOf(err)).To(Equal(identity.CodeRejected))
		})
	})

	Describe("Slot availability", func() {
		const connID = "GN_31337"

		BeforeEach(func() {
			env.gw.HandleConnect(env.ctx, connID, "76561198000000001")
		})

		It("parks requests until the world is ready, then answers into the holding area", func() {
			rec := &sendRecorder{}
			Expect(env.gw.HandleSlotListRequest(env.ctx, connID, rec.send)).To(Succeed())
			Expect(rec.count()).To(BeZero(), "nothing delivered before the world loads")

			env.engine.setWorldReady(true)
			env.gw.HandleWorldReady(env.ctx)
			Expect(rec.count()).To(Equal(1))

			date, slots, err := decodeListing(rec.last())
			Expect(err).NotTo(HaveOccurred())
			Expect(date).To(Equal(host.GameDate{Year: 2, SeasonIndex: 0, DayOfMonth: 14}))

			Expect(slots).To(HaveLen(2), "reserved holding slot stays hidden")
			for _, slot := range slots {
				Expect(slot.spawnLocation).To(Equal("Lobby"),
					"unauthenticated spawns point at the holding area")
				Expect(slot.temporaryBed).To(BeTrue())
				Expect(slot.spawnX).To(Equal(int32(8)))
				Expect(slot.spawnY).To(Equal(int32(8)))
			}

			// The live records must come back untouched after the send.
			Expect(env.engine.slotSpawn("Abigail").Location).To(Equal("Cabin1"))
			Expect(env.engine.slotSpawn("Abigail").SleptInTemporaryBed).To(BeFalse())
			Expect(env.engine.slotSpawn("Cabin2").Location).To(Equal("Cabin2"))
		})

		It("lists real spawns once the connection passes the gate", func() {
			env.engine.setWorldReady(true)
			Expect(env.gw.HandleChatCommand(env.ctx, connID, "password our-farm-secret")).To(Succeed())

			rec := &sendRecorder{}
			Expect(env.gw.HandleSlotListRequest(env.ctx, connID, rec.send)).To(Succeed())
			Expect(rec.count()).To(Equal(1))

			_, slots, err := decodeListing(rec.last())
			Expect(err).NotTo(HaveOccurred())
			Expect(slots).To(HaveLen(2))
			Expect(slots[0].name).To(Equal("Abigail"))
			Expect(slots[0].spawnLocation).To(Equal("Cabin1"))
			Expect(slots[0].temporaryBed).To(BeFalse())
			Expect(slots[1].spawnLocation).To(Equal("Cabin2"))
		})

		It("hides slots whose owner is currently in the world", func() {
			env.engine.setWorldReady(true)
			env.engine.setSlotActive("Abigail", true)

			rec := &sendRecorder{}
			Expect(env.gw.HandleSlotListRequest(env.ctx, connID, rec.send)).To(Succeed())

			_, slots, err := decodeListing(rec.last())
			Expect(err).NotTo(HaveOccurred())
			Expect(slots).To(HaveLen(1))
			Expect(slots[0].name).To(Equal("Cabin2"))
		})
	})

	Describe("Password gate", func() {
		const connID = "SN_88412"

		BeforeEach(func() {
			env.gw.HandleConnect(env.ctx, connID, "76561198000000051")
		})

		It("admits with the shared secret and reports progress in chat", func() {
			Expect(env.gw.HandleChatCommand(env.ctx, connID, "password wrong-guess")).To(Succeed())
			Expect(env.gw.HandleChatCommand(env.ctx, connID, "password our-farm-secret")).To(Succeed())

			lines := env.engine.chatFor(connID)
			Expect(lines).To(HaveLen(2))
			Expect(lines[0]).To(Equal("incorrect password, attempt 1 of 3"))
			Expect(lines[1]).To(Equal("access granted, happy farming"))
			Expect(env.engine.kickedIDs()).To(BeEmpty())
		})

		It("kicks the connection that pushes past the attempt limit", func() {
			for i := 0; i < 4; i++ {
				Expect(env.gw.HandleChatCommand(env.ctx, connID, "password wrong-guess")).To(Succeed())
			}

			lines := env.engine.chatFor(connID)
			Expect(lines).To(ContainElement("incorrect password, attempt 3 of 3"))
			Expect(lines).To(ContainElement("too many failed attempts"))
			Expect(env.engine.kickedIDs()).To(ConsistOf(connID))
		})
	})

	Describe("Slot claims", func() {
		const connID = "L_17"

		BeforeEach(func() {
			env.gw.HandleConnect(env.ctx, connID, "76561198000000001")
		})

		It("admits a claim on a listed slot", func() {
			env.engine.setWorldReady(true)
			Expect(env.gw.HandleClaimRequest(env.ctx, connID, "Abigail")).To(Succeed())
		})

		It("refuses a claim while the world is still loading", func() {
			err := env.gw.HandleClaimRequest(env.ctx, connID, "Abigail")
			Expect(err).To(HaveOccurred())
			Expect(errutil.CodeOf(err)).To(Equal(admission.CodeWorldNotReady))
		})

		It("refuses a claim on the reserved holding slot", func() {
			env.engine.setWorldReady(true)
			err := env.gw.HandleClaimRequest(env.ctx, connID, "Greeter")
			Expect(err).To(HaveOccurred())
			Expect(errutil.CodeOf(err)).To(Equal(admission.CodeSlotUnavailable))
		})
	})

	Describe("Chat commands", func() {
		const connID = "GN_70021"

		BeforeEach(func() {
			env.gw.HandleConnect(env.ctx, connID, "76561198000000042")
		})

		It("answers unknown commands in chat without failing the hook", func() {
			Expect(env.gw.HandleChatCommand(env.ctx, connID, "dance")).To(Succeed())
			Expect(env.engine.chatFor(connID)).To(ContainElement("Unknown command."))
		})

		It("gates admin commands on authentication and the operator role", func() {
			// A dedicated gateway with an injected repository, so the test can
			// seed the operator grant the admin commands require.
			repo := roles.NewMemoryRepository()
			svc, err := roles.NewService(repo)
			Expect(err).NotTo(HaveOccurred())
			_, err = svc.Grant(env.ctx, "76561198000000042", roles.RoleOperator, "console")
			Expect(err).NotTo(HaveOccurred())

			cfg := env.settings()
			cfg.MetricsAddr = ""
			gw, err := gateway.New(env.ctx, cfg, env.engine, gateway.WithRolesRepository(repo))
			Expect(err).NotTo(HaveOccurred())
			gw.HandleConnect(env.ctx, connID, "76561198000000042")

			By("refusing before the caller passes the gate")
			Expect(gw.HandleChatCommand(env.ctx, connID, "role list")).To(Succeed())
			Expect(env.engine.chatFor(connID)).To(ContainElement("You don't have permission to do that."))

			By("allowing once authenticated and granted")
			Expect(gw.HandleChatCommand(env.ctx, connID, "password our-farm-secret")).To(Succeed())
			Expect(gw.HandleChatCommand(env.ctx, connID, "role grant 76561198000000077 player")).To(Succeed())
			Expect(env.engine.chatFor(connID)).To(ContainElement("Granted player to 76561198000000077."))

			held, err := repo.RolesOf(env.ctx, "76561198000000077")
			Expect(err).NotTo(HaveOccurred())
			Expect(held).To(Equal([]string{roles.RolePlayer}))
		})
	})

	Describe("Observability endpoints", func() {
		It("serves liveness, readiness, and metrics over HTTP", func() {
			addr := env.gw.MetricsAddr()
			Expect(addr).NotTo(BeEmpty())

			resp, err := http.Get("http://" + addr + "/healthz/liveness")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			resp, err = http.Get("http://" + addr + "/healthz/readiness")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable),
				"not ready before the world loads")

			env.engine.setWorldReady(true)
			resp, err = http.Get("http://" + addr + "/healthz/readiness")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			// Drive one listing so the counters move, then scrape.
			env.gw.HandleConnect(env.ctx, "GN_900", "76561198000000001")
			rec := &sendRecorder{}
			Expect(env.gw.HandleSlotListRequest(env.ctx, "GN_900", rec.send)).To(Succeed())

			resp, err = http.Get("http://" + addr + "/metrics")
			Expect(err).NotTo(HaveOccurred())
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring(`gateway_slot_listings_total{outcome="delivered"} 1`))
			Expect(string(body)).To(ContainSubstring("gateway_spawn_redirects_total 2"))
		})
	})

	Describe("End-to-End Admission", func() {
		It("walks a friend from connect to claim", func() {
			const connID = "GN_31337"

			By("Step 1: the friend connects while the world is still loading")
			env.gw.HandleConnect(env.ctx, connID, "76561198000000001")

			By("Step 2: the slot request parks instead of failing")
			rec := &sendRecorder{}
			Expect(env.gw.HandleSlotListRequest(env.ctx, connID, rec.send)).To(Succeed())
			Expect(rec.count()).To(BeZero())

			By("Step 3: the world finishes loading and the parked request is answered")
			env.engine.setWorldReady(true)
			env.gw.HandleWorldReady(env.ctx)
			Expect(rec.count()).To(Equal(1))

			_, slots, err := decodeListing(rec.last())
			Expect(err).NotTo(HaveOccurred())
			Expect(slots).To(HaveLen(2))
			for _, slot := range slots {
				Expect(slot.spawnLocation).To(Equal("Lobby"))
			}

			By("Step 4: a typo first, then the real password")
			Expect(env.gw.HandleChatCommand(env.ctx, connID, "password our-farm-secert")).To(Succeed())
			Expect(env.gw.HandleChatCommand(env.ctx, connID, "password our-farm-secret")).To(Succeed())
			Expect(env.engine.chatFor(connID)).To(ContainElement("access granted, happy farming"))

			By("Step 5: a fresh listing now shows the real farm")
			Expect(env.gw.HandleSlotListRequest(env.ctx, connID, rec.send)).To(Succeed())
			Expect(rec.count()).To(Equal(2))
			_, slots, err = decodeListing(rec.last())
			Expect(err).NotTo(HaveOccurred())
			Expect(slots[0].spawnLocation).To(Equal("Cabin1"))
			Expect(slots[0].temporaryBed).To(BeFalse())

			By("Step 6: the claim on the owned slot goes through")
			Expect(env.gw.HandleClaimRequest(env.ctx, connID, "Abigail")).To(Succeed())

			By("Step 7: the metrics tell the same story")
			resp, err := http.Get("http://" + env.gw.MetricsAddr() + "/metrics")
			Expect(err).NotTo(HaveOccurred())
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring(`gateway_slot_listings_total{outcome="parked"} 1`))
			Expect(string(body)).To(ContainSubstring(`gateway_slot_listings_total{outcome="delivered"} 2`))
			Expect(string(body)).To(ContainSubstring(`gateway_claims_total{outcome="admitted"} 1`))
			Expect(string(body)).To(ContainSubstring(`gateway_password_attempts_total{result="success",transport="galaxy_p2p"} 1`))

			By("Step 8: clean shutdown")
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			Expect(env.gw.Stop(ctx)).To(Succeed())
			env.gw = nil // Prevent double-stop in cleanup
		})
	})
})
