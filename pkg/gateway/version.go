// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

package gateway

import (
	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
)

// Version is the gateway build version stamped into log records. Release
// builds override it through the linker:
//
//	-ldflags "-X github.com/stardew-valley-dedicated-server/gateway/pkg/gateway.Version=v1.2.0"
var Version = "dev"

// supportedEngines is the engine version range this gateway knows how to
// attach to. The hook surface and the slot wire format are stable within it.
const supportedEngines = ">= 1.5.0, < 2.0.0"

var engineConstraint = mustConstraint(supportedEngines)

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic("invalid engine version constraint " + s + ": " + err.Error())
	}
	return c
}

// checkEngineVersion verifies the host-reported engine version falls inside
// the supported range. The gateway refuses to attach otherwise; patching
// spawn records on an engine with a different slot layout corrupts saves.
func checkEngineVersion(version string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return oops.In("gateway").
			Code("ENGINE_VERSION_INVALID").
			With("version", version).
			Wrapf(err, "engine reported an unparsable version")
	}
	if !engineConstraint.Check(v) {
		return oops.In("gateway").
			Code("ENGINE_UNSUPPORTED").
			With("version", version).
			With("supported", supportedEngines).
			Errorf("engine version %s is outside the supported range %s", version, supportedEngines)
	}
	return nil
}
