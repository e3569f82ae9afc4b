// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

package main

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/stardew-valley-dedicated-server/gateway/internal/config"
)

// defaultSchemaPath is where gen-schema writes unless told otherwise.
const defaultSchemaPath = "schemas/gateway.schema.json"

// genSchemaConfig holds configuration for the gen-schema command.
type genSchemaConfig struct {
	output string
}

// newGenSchemaCmd creates the gen-schema subcommand with all flags
// configured.
func newGenSchemaCmd() *cobra.Command {
	cfg := &genSchemaConfig{}

	cmd := &cobra.Command{
		Use:   "gen-schema",
		Short: "Generate the configuration JSON Schema",
		Long: `Generate the JSON Schema that validates gateway configuration files
and write it to a file, or to standard output with --output -.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGenSchema(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.output, "output", defaultSchemaPath, "output path (- for stdout)")

	return cmd
}

// runGenSchema executes the gen-schema command.
func runGenSchema(cmd *cobra.Command, cfg *genSchemaConfig) error {
	schema, err := config.GenerateSchema()
	if err != nil {
		return oops.Code("SCHEMA_GENERATION_FAILED").Wrap(err)
	}

	if cfg.output == "-" {
		cmd.Println(string(schema))
		return nil
	}

	if dir := filepath.Dir(cfg.output); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return oops.Code("SCHEMA_WRITE_FAILED").With("path", cfg.output).Wrap(err)
		}
	}
	if err := os.WriteFile(cfg.output, schema, 0o600); err != nil {
		return oops.Code("SCHEMA_WRITE_FAILED").With("path", cfg.output).Wrap(err)
	}

	cmd.Printf("Generated %s\n", cfg.output)
	return nil
}
