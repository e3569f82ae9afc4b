// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

package main

import (
	"bufio"
	"context"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/stardew-valley-dedicated-server/gateway/internal/config"
	"github.com/stardew-valley-dedicated-server/gateway/internal/identity"
)

// loginConfig holds configuration for the login command.
type loginConfig struct {
	username string
	password string
	useQR    bool
}

// newLoginCmd creates the login subcommand with all flags configured.
func newLoginCmd() *cobra.Command {
	cfg := &loginConfig{}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log the identity sidecar into the vendor network",
		Long: `Run an interactive login against the identity sidecar so the farm
server can fetch app tickets at start-up.

With --username the flow uses credentials; the password is prompted for
when --password is not given. With --qr the sidecar publishes a QR
payload to scan with the mobile app instead. Either way, challenge codes
(email or authenticator) are read from standard input as they arrive.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLoginWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}

	cmd.Flags().StringVar(&cfg.username, "username", "", "vendor account name")
	cmd.Flags().StringVar(&cfg.password, "password", "", "vendor account password (prompted when omitted)")
	cmd.Flags().BoolVar(&cfg.useQR, "qr", false, "log in by scanning a QR code instead of credentials")

	return cmd
}

// runLoginWithDeps runs the login command with injectable dependencies.
// If deps is nil, default implementations are used.
func runLoginWithDeps(ctx context.Context, cfg *loginConfig, cmd *cobra.Command, deps *LoginDeps) error {
	if deps == nil {
		deps = &LoginDeps{}
	}
	if deps.SettingsLoader == nil {
		deps.SettingsLoader = loadSettings
	}
	if deps.BrokerFactory == nil {
		deps.BrokerFactory = func(cfg *config.Settings) (LoginBroker, error) {
			return newSidecarBroker(cfg)
		}
	}

	if !cfg.useQR && cfg.username == "" {
		return oops.Code("CONFIG_INVALID").Errorf("either --username or --qr is required")
	}
	if cfg.useQR && cfg.username != "" {
		return oops.Code("CONFIG_INVALID").Errorf("--username and --qr are mutually exclusive")
	}

	settings, err := deps.SettingsLoader(configFile)
	if err != nil {
		return err
	}

	broker, err := deps.BrokerFactory(settings)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// One reader for both the password prompt and the code side channel,
	// so no typed input is lost between the two.
	stdin := bufio.NewReader(cmd.InOrStdin())

	password := cfg.password
	if !cfg.useQR && password == "" {
		cmd.Print("Password: ")
		line, err := stdin.ReadString('\n')
		if err != nil && line == "" {
			return oops.Code("CONFIG_INVALID").Wrapf(err, "reading password from stdin")
		}
		password = strings.TrimRight(line, "\r\n")
	}

	codes := make(chan string)
	go readCodes(ctx, stdin, codes)

	cmd.Printf("Contacting identity service at %s...\n", settings.Identity.ServiceURL)

	ticket, err := broker.Authenticate(ctx, identity.AuthenticateRequest{
		Username: cfg.username,
		Password: password,
		UseQR:    cfg.useQR,
		Codes:    codes,
		OnPrompt: func(session identity.LoginSession) {
			printChallengePrompt(cmd, session)
		},
		OnQR: func(qr string) {
			cmd.Println("Scan this QR payload with the mobile app to approve the login:")
			cmd.Println(qr)
		},
	})
	if err != nil {
		return err
	}

	cmd.Println("Login complete.")
	printTicket(cmd, ticket)
	return nil
}

// readCodes forwards non-empty stdin lines to the broker's code channel
// until stdin closes or the login finishes.
func readCodes(ctx context.Context, r *bufio.Reader, codes chan<- string) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		code := strings.TrimSpace(scanner.Text())
		if code == "" {
			continue
		}
		select {
		case codes <- code:
		case <-ctx.Done():
			return
		}
	}
}

// printChallengePrompt lists the remote's accepted challenge options. The
// broker invokes it at most once per login.
func printChallengePrompt(cmd *cobra.Command, session identity.LoginSession) {
	cmd.Println("The identity service requires a second factor:")
	for _, kind := range session.Challenges {
		cmd.Printf("  - %s\n", kind)
	}
	for _, name := range session.UnknownChallenges {
		cmd.Printf("  - %s\n", name)
	}
	if session.LastMessage != "" {
		cmd.Printf("  (%s)\n", session.LastMessage)
	}
	cmd.Println("Type the code and press enter. Device confirmations are picked up automatically.")
}
