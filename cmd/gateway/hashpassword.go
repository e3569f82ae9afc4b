// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

package main

import (
	"io"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/stardew-valley-dedicated-server/gateway/internal/gate"
)

// newHashPasswordCmd creates the hash-password subcommand.
func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a server password for server_password_hash",
		Long: `Read a password from standard input and print the argon2id hash to put
in the server_password_hash setting. The password is read from stdin
rather than the command line so it never lands in shell history:

    echo -n 'our-farm-secret' | gateway hash-password`,
		RunE: runHashPassword,
	}
}

// runHashPassword executes the hash-password command. A trailing newline is
// stripped so both piped and interactive input hash the same secret.
func runHashPassword(cmd *cobra.Command, _ []string) error {
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return oops.Code("CONFIG_INVALID").Wrapf(err, "reading password from stdin")
	}

	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return oops.Code("CONFIG_INVALID").Errorf("no password provided on stdin")
	}

	encoded, err := gate.HashSecret(secret)
	if err != nil {
		return err
	}

	cmd.Println(encoded)
	return nil
}
