// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

package identity

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// AuthenticateRequest configures one full login flow.
type AuthenticateRequest struct {
	// Username and Password start a credential login. Ignored when UseQR
	// is set.
	Username string
	Password string
	// UseQR starts a QR login instead of a credential one.
	UseQR bool

	// Codes supplies operator-entered challenge codes. May be nil when no
	// interactive code entry is available. The broker never closes or
	// drains this channel; a code arriving after the flow ends is simply
	// never read.
	Codes <-chan string

	// OnPrompt runs once per login when the remote first asks for a
	// challenge, with the session snapshot for display. May be nil.
	OnPrompt func(LoginSession)

	// OnQR runs once when the remote publishes a QR payload. May be nil.
	OnQR func(qr string)
}

// Authenticate drives a complete login flow on the calling goroutine:
// start, poll until terminal, answer challenges, fetch the ticket.
//
// When the sidecar already holds a valid vendor session, the login is
// skipped and the ticket fetched directly. When the remote offers an
// unattended challenge option, the broker starts it immediately and still
// honors a typed code that arrives first; whichever path the remote
// resolves wins, and the other is abandoned.
func (b *Broker) Authenticate(ctx context.Context, req AuthenticateRequest) (*Ticket, error) {
	ctx, cancel := context.WithTimeout(ctx, b.loginTimeout)
	defer cancel()

	if health, err := b.api.Health(ctx); err == nil && health.LoggedIn {
		b.logger.Info("identity service already logged in, skipping login flow")
		b.mu.Lock()
		b.session = LoginSession{ID: ulid.Make(), Status: StatusAuthenticated}
		b.active = true
		b.prompted = false
		b.mu.Unlock()
		return b.AcquireTicket(ctx)
	}

	var (
		session LoginSession
		err     error
	)
	if req.UseQR {
		session, err = b.StartLoginQR(ctx)
	} else {
		session, err = b.StartLogin(ctx, req.Username, req.Password)
	}
	if err != nil {
		return nil, err
	}

	var (
		unattendedStarted bool
		qrShown           bool
	)
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		if !qrShown && session.QRCode != "" {
			qrShown = true
			if req.OnQR != nil {
				req.OnQR(session.QRCode)
			}
		}

		switch session.Status {
		case StatusAuthenticated:
			return b.AcquireTicket(ctx)

		case StatusError:
			return nil, oops.
				Code(CodeRejected).
				With("message", session.LastMessage).
				Errorf("identity service rejected the login: %s", session.LastMessage)

		case StatusNeedsChallenge:
			b.promptOnce(session, req.OnPrompt)
			if !unattendedStarted && session.HasUnattendedChallenge() {
				// Kick off the approval-on-another-device path; a typed
				// code can still overtake it below.
				if err := b.SubmitChallengeResponse(ctx, ""); err != nil {
					return nil, err
				}
				unattendedStarted = true
			}
		}

		// A nil Codes channel blocks forever and leaves only the ticker
		// and the deadline.
		select {
		case <-ctx.Done():
			_, err := b.abort(ctx.Err())
			return nil, err

		case code := <-req.Codes:
			if code == "" {
				break
			}
			if session.Status != StatusNeedsChallenge && session.Status != StatusChallengeSubmitted {
				b.logger.Debug("dropping challenge code, no challenge pending",
					"status", session.Status.String())
				break
			}
			if err := b.SubmitChallengeResponse(ctx, code); err != nil {
				return nil, err
			}

		case <-ticker.C:
		}

		session, err = b.PollOnce(ctx)
		if err != nil {
			return nil, err
		}
	}
}

// promptOnce shows the challenge prompt at most once per login session.
func (b *Broker) promptOnce(session LoginSession, onPrompt func(LoginSession)) {
	b.mu.Lock()
	already := b.prompted
	b.prompted = true
	b.mu.Unlock()

	if already {
		return
	}

	options := make([]string, 0, len(session.Challenges)+len(session.UnknownChallenges))
	for _, k := range session.Challenges {
		options = append(options, k.String())
	}
	options = append(options, session.UnknownChallenges...)
	b.logger.Info("identity service requires a challenge",
		"login_session_id", session.ID,
		"options", options,
	)

	if onPrompt != nil {
		onPrompt(session)
	}
}

