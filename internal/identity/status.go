// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

package identity

import "github.com/oklog/ulid/v2"

// Status is the local login state derived from the sidecar's status string.
type Status int

// Login states, in rough flow order.
const (
	StatusIdle Status = iota
	StatusAuthenticating
	StatusNeedsChallenge
	StatusChallengeSubmitted
	StatusAuthenticated
	StatusError
)

// String returns the snake_case status name used on the wire and in logs.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusAuthenticating:
		return "authenticating"
	case StatusNeedsChallenge:
		return "needs_authentication"
	case StatusChallengeSubmitted:
		return "code_submitted"
	case StatusAuthenticated:
		return "authenticated"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether the login flow has finished.
func (s Status) Terminal() bool {
	return s == StatusAuthenticated || s == StatusError
}

// parseRemoteStatus maps a sidecar status string to a local Status. Unknown
// strings map to StatusAuthenticating with ok=false so the poll loop keeps
// going across sidecar upgrades instead of failing the login.
func parseRemoteStatus(s string) (Status, bool) {
	switch s {
	case "idle":
		return StatusIdle, true
	case "authenticating":
		return StatusAuthenticating, true
	case "needs_authentication":
		return StatusNeedsChallenge, true
	case "code_submitted":
		return StatusChallengeSubmitted, true
	case "authenticated":
		return StatusAuthenticated, true
	case "error":
		return StatusError, true
	default:
		return StatusAuthenticating, false
	}
}

// ChallengeKind is one remote-supported way to answer a login challenge.
type ChallengeKind int

// Challenge kinds the sidecar may offer.
const (
	ChallengeEmailCode ChallengeKind = iota
	ChallengeDeviceCode
	ChallengeDeviceConfirmation
	ChallengeEmailConfirmation
)

// String returns the wire name of the challenge kind.
func (k ChallengeKind) String() string {
	switch k {
	case ChallengeEmailCode:
		return "email_code"
	case ChallengeDeviceCode:
		return "device_code"
	case ChallengeDeviceConfirmation:
		return "device_confirmation"
	case ChallengeEmailConfirmation:
		return "email_confirmation"
	default:
		return "unknown"
	}
}

// Unattended reports whether the challenge can complete without a typed
// code, by the operator approving on another device.
func (k ChallengeKind) Unattended() bool {
	return k == ChallengeDeviceConfirmation || k == ChallengeEmailConfirmation
}

// parseChallengeKind maps a wire challenge type to a ChallengeKind.
func parseChallengeKind(s string) (ChallengeKind, bool) {
	switch s {
	case "email_code":
		return ChallengeEmailCode, true
	case "device_code":
		return ChallengeDeviceCode, true
	case "device_confirmation":
		return ChallengeDeviceConfirmation, true
	case "email_confirmation":
		return ChallengeEmailConfirmation, true
	default:
		return 0, false
	}
}

// LoginSession is a snapshot of one ticket-acquisition attempt.
type LoginSession struct {
	// ID names this acquisition attempt in logs. Minted fresh by every
	// StartLogin, Resume, and already-logged-in adoption.
	ID     ulid.ULID
	Status Status
	// Challenges lists the remote's accepted challenge options while
	// Status is StatusNeedsChallenge.
	Challenges []ChallengeKind
	// UnknownChallenges carries challenge types this build does not
	// recognize, verbatim. They are shown to the operator but can never
	// start the unattended path.
	UnknownChallenges []string
	// LastMessage is the most recent human-readable remote message.
	LastMessage string
	// QRCode is the login QR payload, when the flow was started with one.
	QRCode string
}

// HasUnattendedChallenge reports whether any offered challenge can complete
// without a typed code.
func (s LoginSession) HasUnattendedChallenge() bool {
	for _, k := range s.Challenges {
		if k.Unattended() {
			return true
		}
	}
	return false
}

// copySession returns a snapshot with its own challenge slices.
func copySession(s LoginSession) LoginSession {
	dup := s
	dup.Challenges = make([]ChallengeKind, len(s.Challenges))
	copy(dup.Challenges, s.Challenges)
	dup.UnknownChallenges = make([]string, len(s.UnknownChallenges))
	copy(dup.UnknownChallenges, s.UnknownChallenges)
	return dup
}
