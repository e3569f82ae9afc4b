// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

package session

import "strings"

// Transport identifies the network path a connection arrived over. It is
// recovered from the connection identifier prefix, the only transport
// signal the engine surfaces.
type Transport int

// Known transports.
const (
	TransportUnknown Transport = iota
	// TransportGalaxyP2P is the GOG Galaxy peer-to-peer mesh (GN_ prefix).
	TransportGalaxyP2P
	// TransportSteamSDR is Steam's relay network (SN_ prefix).
	TransportSteamSDR
	// TransportLAN is a direct local-network connection (L_ prefix).
	TransportLAN
)

// Classify maps a connection identifier to its transport.
func Classify(connectionID string) Transport {
	switch {
	case strings.HasPrefix(connectionID, "GN_"):
		return TransportGalaxyP2P
	case strings.HasPrefix(connectionID, "SN_"):
		return TransportSteamSDR
	case strings.HasPrefix(connectionID, "L_"):
		return TransportLAN
	default:
		return TransportUnknown
	}
}

// String returns the operator-facing transport name.
func (t Transport) String() string {
	switch t {
	case TransportGalaxyP2P:
		return "Galaxy P2P"
	case TransportSteamSDR:
		return "Steam SDR"
	case TransportLAN:
		return "LAN"
	default:
		return "Unknown"
	}
}

// Label returns the metric label value for the transport.
func (t Transport) Label() string {
	switch t {
	case TransportGalaxyP2P:
		return "galaxy_p2p"
	case TransportSteamSDR:
		return "steam_sdr"
	case TransportLAN:
		return "lan"
	default:
		return "unknown"
	}
}
