// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

package identity

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/stardew-valley-dedicated-server/gateway/pkg/errutil"
)

// Error codes attached to broker failures.
const (
	// CodeTimeout marks a login that exceeded the configured deadline.
	CodeTimeout = "AUTH_TIMEOUT"
	// CodeRejected marks a remote-reported login failure. Retrying without
	// a fresh StartLogin will not help.
	CodeRejected = "AUTH_REJECTED"
	// CodeServiceUnavailable marks an identity service that could not be
	// reached even after transport retries.
	CodeServiceUnavailable = "AUTH_SERVICE_UNAVAILABLE"
	// CodeCancelled marks a login abandoned by the caller.
	CodeCancelled = "AUTH_CANCELLED"
)

const (
	defaultPollInterval = time.Second
	defaultLoginTimeout = 5 * time.Minute
)

// API is the sidecar surface the broker drives. *Client satisfies it.
type API interface {
	Health(ctx context.Context) (*Health, error)
	StartLogin(ctx context.Context, username, password string) (*LoginStatus, error)
	StartLoginQR(ctx context.Context) (*LoginStatus, error)
	Status(ctx context.Context) (*LoginStatus, error)
	SubmitCode(ctx context.Context, code string) error
	AppTicket(ctx context.Context) (*Ticket, error)
}

// Broker runs the login state machine against the identity sidecar and
// produces the opaque ticket the engine needs at start-up.
//
// A broker holds at most one login session at a time. All methods are safe
// for concurrent use, but the intended shape is one background worker
// driving Authenticate while other goroutines read Session.
type Broker struct {
	api          API
	logger       *slog.Logger
	pollInterval time.Duration
	loginTimeout time.Duration

	mu                sync.Mutex
	session           LoginSession
	active            bool
	prompted          bool
	lastUnknownStatus string
	ticket            *Ticket
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithLogger sets the broker's logger.
func WithLogger(logger *slog.Logger) BrokerOption {
	return func(b *Broker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithPollInterval sets the delay between status polls.
func WithPollInterval(d time.Duration) BrokerOption {
	return func(b *Broker) {
		if d > 0 {
			b.pollInterval = d
		}
	}
}

// WithLoginTimeout bounds one whole login flow, polling included.
func WithLoginTimeout(d time.Duration) BrokerOption {
	return func(b *Broker) {
		if d > 0 {
			b.loginTimeout = d
		}
	}
}

// NewBroker creates a Broker over the given sidecar API.
func NewBroker(api API, opts ...BrokerOption) (*Broker, error) {
	if api == nil {
		return nil, oops.Errorf("identity: api is required")
	}

	b := &Broker{
		api:          api,
		logger:       slog.New(slog.DiscardHandler),
		pollInterval: defaultPollInterval,
		loginTimeout: defaultLoginTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Session returns a snapshot of the current login session.
func (b *Broker) Session() LoginSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	return copySession(b.session)
}

// Ticket returns the most recently acquired ticket, if any.
func (b *Broker) Ticket() (*Ticket, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ticket == nil {
		return nil, false
	}
	dup := *b.ticket
	return &dup, true
}

// StartLogin begins a credential login flow. Fails if another login is
// already running.
func (b *Broker) StartLogin(ctx context.Context, username, password string) (LoginSession, error) {
	return b.start(ctx, func(ctx context.Context) (*LoginStatus, error) {
		return b.api.StartLogin(ctx, username, password)
	})
}

// StartLoginQR begins a QR login flow. Fails if another login is already
// running.
func (b *Broker) StartLoginQR(ctx context.Context) (LoginSession, error) {
	return b.start(ctx, b.api.StartLoginQR)
}

func (b *Broker) start(ctx context.Context, begin func(ctx context.Context) (*LoginStatus, error)) (LoginSession, error) {
	b.mu.Lock()
	if b.active {
		session := copySession(b.session)
		b.mu.Unlock()
		return session, oops.
			Code(CodeRejected).
			With("status", session.Status.String()).
			Errorf("a login is already in progress")
	}
	b.active = true
	b.prompted = false
	b.ticket = nil
	b.session = LoginSession{ID: ulid.Make(), Status: StatusAuthenticating}
	b.mu.Unlock()

	remote, err := begin(ctx)
	if err != nil {
		return b.abort(err)
	}
	return b.apply(remote), nil
}

// Resume adopts whatever session the sidecar currently holds without
// starting a new login. The server calls it once at start-up: the operator
// logs in ahead of time with the CLI, and the gateway picks the session up
// here to fetch its ticket. Fails if this broker already runs a login.
func (b *Broker) Resume(ctx context.Context) (LoginSession, error) {
	b.mu.Lock()
	if b.active {
		session := copySession(b.session)
		b.mu.Unlock()
		return session, oops.
			Code(CodeRejected).
			With("status", session.Status.String()).
			Errorf("a login is already in progress")
	}
	b.active = true
	b.prompted = false
	b.session = LoginSession{ID: ulid.Make()}
	b.mu.Unlock()

	remote, err := b.api.Status(ctx)
	if err != nil {
		return b.abort(err)
	}

	session := b.apply(remote)
	if session.Status == StatusIdle || session.Status == StatusNeedsChallenge {
		// Nothing is actually running on the sidecar side.
		b.mu.Lock()
		b.active = false
		b.mu.Unlock()
	}
	return session, nil
}

// PollOnce fetches the remote login status and advances the state machine.
// Any failure aborts the running session; a fresh StartLogin is required
// afterwards.
func (b *Broker) PollOnce(ctx context.Context) (LoginSession, error) {
	b.mu.Lock()
	if !b.active {
		session := copySession(b.session)
		b.mu.Unlock()
		return session, oops.
			Code(CodeRejected).
			Errorf("no login in progress")
	}
	b.mu.Unlock()

	remote, err := b.api.Status(ctx)
	if err != nil {
		return b.abort(err)
	}
	return b.apply(remote), nil
}

// SubmitChallengeResponse posts a challenge code. An empty code starts the
// unattended approval path.
func (b *Broker) SubmitChallengeResponse(ctx context.Context, code string) error {
	b.mu.Lock()
	status := b.session.Status
	active := b.active
	b.mu.Unlock()

	if !active || (status != StatusNeedsChallenge && status != StatusChallengeSubmitted) {
		return oops.
			Code(CodeRejected).
			With("status", status.String()).
			Errorf("no challenge is pending")
	}

	if err := b.api.SubmitCode(ctx, code); err != nil {
		_, aborted := b.abort(err)
		return aborted
	}

	b.mu.Lock()
	if b.session.Status == StatusNeedsChallenge {
		b.session.Status = StatusChallengeSubmitted
	}
	b.mu.Unlock()
	return nil
}

// AcquireTicket fetches the opaque ticket. It fails fast unless the session
// has reached StatusAuthenticated; it never blocks waiting for the login to
// finish.
func (b *Broker) AcquireTicket(ctx context.Context) (*Ticket, error) {
	b.mu.Lock()
	status := b.session.Status
	b.mu.Unlock()

	if status != StatusAuthenticated {
		return nil, oops.
			Code(CodeRejected).
			With("status", status.String()).
			Errorf("not authenticated yet")
	}

	ticket, err := b.api.AppTicket(ctx)
	if err != nil {
		return nil, classify(err)
	}

	b.mu.Lock()
	b.ticket = ticket
	b.active = false
	sessionID := b.session.ID
	b.mu.Unlock()

	b.logger.Info("identity ticket acquired",
		"login_session_id", sessionID,
		"subject", ticket.Subject,
		"expires_at", ticket.ExpiresAt,
	)
	dup := *ticket
	return &dup, nil
}

// abort records a failed session and returns the classified error.
func (b *Broker) abort(err error) (LoginSession, error) {
	classified := classify(err)

	b.mu.Lock()
	b.active = false
	b.session.Status = StatusError
	b.session.LastMessage = classified.Error()
	session := copySession(b.session)
	b.mu.Unlock()

	return session, classified
}

// apply folds a remote status report into the local session.
func (b *Broker) apply(remote *LoginStatus) LoginSession {
	status, known := parseRemoteStatus(remote.Status)

	b.mu.Lock()
	defer b.mu.Unlock()

	if !known && b.lastUnknownStatus != remote.Status {
		b.lastUnknownStatus = remote.Status
		b.logger.Warn("unknown remote login status, continuing to poll",
			"login_session_id", b.session.ID,
			"status", remote.Status,
		)
	}

	b.session.Status = status
	if remote.Message != "" {
		b.session.LastMessage = remote.Message
	}
	if remote.QRCode != "" {
		b.session.QRCode = remote.QRCode
	}

	b.session.Challenges = b.session.Challenges[:0]
	b.session.UnknownChallenges = b.session.UnknownChallenges[:0]
	for _, action := range remote.ValidActions {
		kind, ok := parseChallengeKind(action.Type)
		if !ok {
			b.session.UnknownChallenges = append(b.session.UnknownChallenges, action.Type)
			continue
		}
		b.session.Challenges = append(b.session.Challenges, kind)
	}

	// An error report ends the session. An authenticated session stays
	// active until the ticket is fetched.
	if status == StatusError {
		b.active = false
	}

	return copySession(b.session)
}

// classify maps transport and context failures onto the auth error
// taxonomy. Already-classified auth errors pass through untouched.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errutil.HasCode(err, CodeTimeout),
		errutil.HasCode(err, CodeRejected),
		errutil.HasCode(err, CodeServiceUnavailable),
		errutil.HasCode(err, CodeCancelled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return oops.Code(CodeTimeout).Wrapf(err, "login timed out")
	case errors.Is(err, context.Canceled):
		return oops.Code(CodeCancelled).Wrapf(err, "login cancelled")
	default:
		return oops.Code(CodeServiceUnavailable).Wrapf(err, "identity service unavailable")
	}
}
