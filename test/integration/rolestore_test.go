// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

//go:build integration

package integration

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/stardew-valley-dedicated-server/gateway/internal/config"
	"github.com/stardew-valley-dedicated-server/gateway/internal/roles"
	"github.com/stardew-valley-dedicated-server/gateway/internal/store"
	"github.com/stardew-valley-dedicated-server/gateway/pkg/gateway"
)

// pgEnv is a migrated postgres instance plus a verification pool the specs
// query directly. The gateway under test opens its own pool from the URL.
type pgEnv struct {
	ctx       context.Context
	cancel    context.CancelFunc
	container testcontainers.Container
	connStr   string
	pool      *pgxpool.Pool
}

func setupPostgresEnv() (*pgEnv, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)

	env := &pgEnv{ctx: ctx, cancel: cancel}

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("gateway_test"),
		postgres.WithUsername("gateway"),
		postgres.WithPassword("gateway"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		cancel()
		return nil, err
	}
	env.container = container

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		return nil, err
	}
	env.connStr = connStr

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		return nil, err
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		_ = container.Terminate(ctx)
		cancel()
		return nil, err
	}
	_ = migrator.Close()

	pool, err := store.Connect(ctx, connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		return nil, err
	}
	env.pool = pool

	return env, nil
}

func (env *pgEnv) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if env.pool != nil {
		env.pool.Close()
	}
	if env.container != nil {
		_ = env.container.Terminate(ctx)
	}
	env.cancel()
}

// seedGrant writes a grant through the service layer, the same path the
// gateway uses at runtime.
func (env *pgEnv) seedGrant(identity, role string) error {
	svc, err := roles.NewService(roles.NewPostgresRepository(env.pool))
	if err != nil {
		return err
	}
	_, err = svc.Grant(env.ctx, identity, role, "console")
	return err
}

func (env *pgEnv) gatewaySettings() *config.Settings {
	return &config.Settings{
		AllowIPConnections:   true,
		ServerPassword:       "our-farm-secret",
		MaxLoginAttempts:     3,
		LobbyRedirectEnabled: true,
		DatabaseURL:          env.connStr,
		LogLevel:             "error",
		Identity: config.IdentitySettings{
			ServiceURL:   "http://127.0.0.1:8081",
			LoginTimeout: 10 * time.Second,
			PollInterval: 10 * time.Millisecond,
		},
	}
}

var _ = Describe("Durable Role Store", func() {
	var (
		env    *pgEnv
		engine *fakeEngine
	)

	BeforeEach(func() {
		var err error
		env, err = setupPostgresEnv()
		Expect(err).NotTo(HaveOccurred())
		engine = newFakeEngine()
		engine.setWorldReady(true)
	})

	AfterEach(func() {
		env.cleanup()
	})

	It("keeps chat-issued grants across gateway restarts", func() {
		const (
			operatorID = "76561198000000042"
			friendID   = "76561198000000077"
			connID     = "GN_5501"
		)
		Expect(env.seedGrant(operatorID, roles.RoleOperator)).To(Succeed())

		By("granting a role through chat on the first gateway")
		gw1, err := gateway.New(env.ctx, env.gatewaySettings(), engine)
		Expect(err).NotTo(HaveOccurred())

		gw1.HandleConnect(env.ctx, connID, operatorID)
		Expect(gw1.HandleChatCommand(env.ctx, connID, "password our-farm-secret")).To(Succeed())
		Expect(gw1.HandleChatCommand(env.ctx, connID, "role grant "+friendID+" player")).To(Succeed())
		Expect(engine.chatFor(connID)).To(ContainElement("Granted player to " + friendID + "."))

		By("verifying the grant landed in postgres")
		var count int
		err = env.pool.QueryRow(env.ctx,
			`SELECT count(*) FROM role_grants WHERE identity = $1 AND role = $2`,
			friendID, roles.RolePlayer,
		).Scan(&count)
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(Equal(1))

		By("stopping the first gateway and starting a second against the same database")
		Expect(gw1.Stop(env.ctx)).To(Succeed())

		gw2, err := gateway.New(env.ctx, env.gatewaySettings(), engine)
		Expect(err).NotTo(HaveOccurred())
		defer func() {
			_ = gw2.Stop(env.ctx)
		}()

		gw2.HandleConnect(env.ctx, connID, operatorID)
		Expect(gw2.HandleChatCommand(env.ctx, connID, "password our-farm-secret")).To(Succeed())
		Expect(gw2.HandleChatCommand(env.ctx, connID, "role list")).To(Succeed())

		lines := engine.chatFor(connID)
		Expect(lines).To(ContainElement(ContainSubstring(operatorID + ": operator")))
		Expect(lines).To(ContainElement(ContainSubstring(friendID + ": player")))
	})

	It("blocks banned identities at the password gate", func() {
		const (
			bannedID = "76561198000000666"
			connID   = "SN_4040"
		)
		Expect(env.seedGrant(bannedID, roles.RoleBanned)).To(Succeed())

		gw, err := gateway.New(env.ctx, env.gatewaySettings(), engine)
		Expect(err).NotTo(HaveOccurred())
		defer func() {
			_ = gw.Stop(env.ctx)
		}()

		gw.HandleConnect(env.ctx, connID, bannedID)
		Expect(gw.HandleChatCommand(env.ctx, connID, "password our-farm-secret")).To(Succeed())

		lines := engine.chatFor(connID)
		Expect(lines).To(ContainElement(ContainSubstring("you are banned from this server")))
		Expect(lines).NotTo(ContainElement("access granted, happy farming"),
			"the right password must not admit a banned identity")
	})
})
