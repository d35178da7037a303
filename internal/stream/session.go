// Package stream implements the per-connection live notification session.
//
// A Session walks AUTHENTICATING → HYDRATING → LIVE → CLOSED. It owns exactly
// one client connection (through an Emitter), shares no mutable state with
// other sessions and reads only from the durable Store and the optional
// latest-hint side channel.
package stream

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"peaceseal.io/herald/internal/notification"
	"peaceseal.io/herald/internal/pkg/logger"
)

// State is a session lifecycle state.
type State int

const (
	StateAuthenticating State = iota
	StateHydrating
	StateLive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateHydrating:
		return "HYDRATING"
	case StateLive:
		return "LIVE"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN(" + strconv.Itoa(int(s)) + ")"
	}
}

// CloseReason explains why a session reached CLOSED.
type CloseReason string

const (
	CloseClientGone      CloseReason = "client_gone"
	CloseBudgetExhausted CloseReason = "budget_exhausted"
	CloseIOError         CloseReason = "io_error"
	CloseUnauthorized    CloseReason = "unauthorized"
	CloseStoreError      CloseReason = "store_error"
)

// SSE event names. Records travel as unnamed (default "message") events.
const (
	EventHydrate  = "hydrate"
	EventHydrated = "hydrated"
	KeepaliveText = "keepalive"
	eventMessage  = ""
)

// ErrUnauthorized is returned by Authenticate for a missing or rejected token.
var ErrUnauthorized = errors.New("stream: unauthorized")

// Config tunes a session. Zero values are not usable; start from DefaultConfig.
type Config struct {
	HydrateLimit  int
	LiveBatch     int
	PollFloor     time.Duration
	PollCeiling   time.Duration
	BackoffFactor float64
	Heartbeat     time.Duration
	JitterRatio   float64
	JitterMin     time.Duration
	// StoreCheck bounds how long the live loop trusts the latest hint alone.
	// Once it has passed since the last store query, a tick queries the
	// store even when the hint shows nothing new.
	StoreCheck time.Duration
	// CallBudget caps live backing calls (hint reads and store queries) per
	// session. The client reconnects with Last-Event-ID once it is spent.
	CallBudget int
}

// DefaultConfig returns the production cadence.
func DefaultConfig() Config {
	return Config{
		HydrateLimit:  10,
		LiveBatch:     50,
		PollFloor:     3 * time.Second,
		PollCeiling:   60 * time.Second,
		BackoffFactor: 1.6,
		Heartbeat:     25 * time.Second,
		JitterRatio:   0.2,
		JitterMin:     200 * time.Millisecond,
		StoreCheck:    30 * time.Second,
		CallBudget:    900,
	}
}

// RecordSource is the slice of notification.Store a session reads.
type RecordSource interface {
	ListByUser(ctx context.Context, userID string, opts notification.ListOptions) ([]notification.Record, error)
}

// HintReader is the read side of notification.HintStore.
type HintReader interface {
	Latest(ctx context.Context, userID string) (time.Time, bool, error)
}

// TokenVerifier maps a bearer token to the authenticated user id.
type TokenVerifier interface {
	VerifyUser(token string) (string, error)
}

// TokenVerifierFunc adapts a function to TokenVerifier.
type TokenVerifierFunc func(token string) (string, error)

func (f TokenVerifierFunc) VerifyUser(token string) (string, error) { return f(token) }

// Emitter writes frames to the client connection.
type Emitter interface {
	// Event writes one event. An empty name produces a default message event.
	Event(name, id string, data any) error
	// Comment writes a comment line that clients ignore.
	Comment(text string) error
}

// Sleeper blocks for d or until ctx is done, returning ctx.Err() in the latter case.
type Sleeper func(ctx context.Context, d time.Duration) error

// Option customizes a Session.
type Option func(*Session)

// WithHints enables the latest-hint fast path. Without it every live tick
// queries the store directly.
func WithHints(h HintReader) Option {
	return func(s *Session) { s.hints = h }
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(s *Session) { s.clock = clock }
}

// WithSleeper overrides the cancellable inter-poll sleep.
func WithSleeper(sleep Sleeper) Option {
	return func(s *Session) { s.sleep = sleep }
}

// WithRand overrides the jitter source; rnd must return values in [0, 1).
func WithRand(rnd func() float64) Option {
	return func(s *Session) { s.rand = rnd }
}

// Session is one live stream. It is driven by a single goroutine and is not
// safe for concurrent use.
type Session struct {
	cfg      Config
	records  RecordSource
	verifier TokenVerifier
	hints    HintReader
	clock    func() time.Time
	sleep    Sleeper
	rand     func() float64
	pacer    *Pacer

	state         State
	userID        string
	lastSent      time.Time
	lastSentID    string
	lastHeartbeat time.Time
	lastQuery     time.Time
	calls         int
	reason        CloseReason
}

// NewSession creates a session in AUTHENTICATING.
func NewSession(cfg Config, records RecordSource, verifier TokenVerifier, opts ...Option) *Session {
	s := &Session{
		cfg:      cfg,
		records:  records,
		verifier: verifier,
		clock:    time.Now,
		sleep:    SleepContext,
		state:    StateAuthenticating,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pacer = NewPacer(cfg, s.rand)
	return s
}

// Authenticate verifies token and moves the session to HYDRATING. On failure
// the session is closed with CloseUnauthorized and nothing has been written.
func (s *Session) Authenticate(token string) error {
	if s.state != StateAuthenticating {
		return fmt.Errorf("stream: authenticate in state %s", s.state)
	}
	token = strings.TrimSpace(token)
	if token == "" || s.verifier == nil {
		s.close(CloseUnauthorized)
		return ErrUnauthorized
	}
	userID, err := s.verifier.VerifyUser(token)
	if err != nil || userID == "" {
		s.close(CloseUnauthorized)
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	s.userID = userID
	s.transition(StateHydrating)
	return nil
}

// Run hydrates and then serves the live loop until ctx is cancelled, the
// call budget is spent or a write fails. resume, when non-nil, is the
// client's last received record time (Last-Event-ID); records at or before
// it are not replayed.
func (s *Session) Run(ctx context.Context, em Emitter, resume *time.Time) CloseReason {
	if s.state == StateAuthenticating {
		return s.close(CloseUnauthorized)
	}
	if s.state != StateHydrating {
		return s.reason
	}
	ctx = logger.Into(ctx, zap.String("user_id", s.userID))

	if reason, ok := s.hydrate(ctx, em, resume); !ok {
		return s.close(reason)
	}
	s.transition(StateLive)

	for {
		if ctx.Err() != nil {
			return s.close(CloseClientGone)
		}

		advanced, reason := s.poll(ctx, em)
		if reason != "" {
			return s.close(reason)
		}

		var interval time.Duration
		if advanced {
			interval = s.pacer.Active()
		} else {
			if reason := s.keepalive(em); reason != "" {
				return s.close(reason)
			}
			interval = s.pacer.Idle()
		}

		if s.calls >= s.cfg.CallBudget {
			return s.close(CloseBudgetExhausted)
		}
		if err := s.sleep(ctx, s.pacer.Jitter(interval)); err != nil {
			return s.close(CloseClientGone)
		}
	}
}

func (s *Session) hydrate(ctx context.Context, em Emitter, resume *time.Time) (CloseReason, bool) {
	if ctx.Err() != nil {
		return CloseClientGone, false
	}
	if err := em.Event(EventHydrate, "", map[string]bool{"start": true}); err != nil {
		return CloseIOError, false
	}

	var (
		recs []notification.Record
		err  error
	)
	if resume != nil {
		s.lastSent = resume.UTC()
		after := s.lastSent
		recs, err = s.records.ListByUser(ctx, s.userID, notification.ListOptions{
			After:     &after,
			Ascending: true,
			Limit:     s.cfg.LiveBatch,
		})
	} else {
		recs, err = s.records.ListByUser(ctx, s.userID, notification.ListOptions{Limit: s.cfg.HydrateLimit})
		slices.Reverse(recs)
	}
	if err != nil {
		if ctx.Err() != nil {
			return CloseClientGone, false
		}
		logger.From(ctx).Warn("stream hydration query failed", zap.Error(err))
		return CloseStoreError, false
	}

	if _, err := s.emit(em, recs); err != nil {
		return CloseIOError, false
	}
	if err := em.Event(EventHydrated, "", map[string]bool{"done": true}); err != nil {
		return CloseIOError, false
	}
	now := s.clock()
	s.lastHeartbeat = now
	s.lastQuery = now
	return "", true
}

// poll performs one live tick. advanced reports whether any record was emitted.
func (s *Session) poll(ctx context.Context, em Emitter) (advanced bool, reason CloseReason) {
	query := true
	if s.hints != nil {
		if !s.spend() {
			return false, CloseBudgetExhausted
		}
		at, ok, err := s.hints.Latest(ctx, s.userID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return false, CloseClientGone
			}
			logger.From(ctx).Debug("latest hint unavailable, querying store", zap.Error(err))
		case !ok:
			query = false
		default:
			// Equal times still query: another record may share the
			// cursor's millisecond.
			query = !at.Before(s.lastSent)
		}
		// A failed publish leaves the hint stale or absent; the store is
		// still checked every StoreCheck.
		if !query && s.cfg.StoreCheck > 0 && s.clock().Sub(s.lastQuery) >= s.cfg.StoreCheck {
			query = true
		}
	}
	if !query {
		return false, ""
	}

	if !s.spend() {
		return false, CloseBudgetExhausted
	}
	after := s.lastSent
	s.lastQuery = s.clock()
	recs, err := s.records.ListByUser(ctx, s.userID, notification.ListOptions{
		After:     &after,
		AfterID:   s.lastSentID,
		Ascending: true,
		Limit:     s.cfg.LiveBatch,
	})
	if err != nil {
		if ctx.Err() != nil {
			return false, CloseClientGone
		}
		logger.From(ctx).Warn("stream live query failed", zap.Error(err))
		return false, ""
	}

	n, err := s.emit(em, recs)
	if err != nil {
		return false, CloseIOError
	}
	return n > 0, ""
}

// emit writes records past the (lastSent, lastSentID) cursor in the given
// order and advances the cursor. Anything at or behind it is skipped.
func (s *Session) emit(em Emitter, recs []notification.Record) (int, error) {
	n := 0
	for i := range recs {
		rec := recs[i]
		if !notification.Follows(rec, s.lastSent, s.lastSentID) {
			continue
		}
		if err := em.Event(eventMessage, EventID(rec.CreatedAt), rec); err != nil {
			return n, err
		}
		s.lastSent = rec.CreatedAt
		s.lastSentID = rec.ID
		n++
	}
	if n > 0 {
		s.lastHeartbeat = s.clock()
	}
	return n, nil
}

func (s *Session) keepalive(em Emitter) CloseReason {
	now := s.clock()
	if now.Sub(s.lastHeartbeat) < s.cfg.Heartbeat {
		return ""
	}
	if err := em.Comment(KeepaliveText); err != nil {
		return CloseIOError
	}
	s.lastHeartbeat = now
	return ""
}

// spend charges one backing call against the budget.
func (s *Session) spend() bool {
	if s.calls >= s.cfg.CallBudget {
		return false
	}
	s.calls++
	return true
}

// transition moves to next unless the session is already closed.
func (s *Session) transition(next State) bool {
	if s.state == StateClosed {
		return false
	}
	s.state = next
	return true
}

func (s *Session) close(reason CloseReason) CloseReason {
	if s.transition(StateClosed) {
		s.reason = reason
	}
	return s.reason
}

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// UserID returns the authenticated user, or "" before authentication.
func (s *Session) UserID() string { return s.userID }

// Snapshot is a read-only view of session progress.
type Snapshot struct {
	State        State
	UserID       string
	LastSent     time.Time
	LastSentID   string
	PollInterval time.Duration
	IdleStreak   int
	Calls        int
	CloseReason  CloseReason
}

// Snapshot returns the current progress counters.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		State:        s.state,
		UserID:       s.userID,
		LastSent:     s.lastSent,
		LastSentID:   s.lastSentID,
		PollInterval: s.pacer.Interval(),
		IdleStreak:   s.pacer.IdleStreak(),
		Calls:        s.calls,
		CloseReason:  s.reason,
	}
}

// EventID renders a record time as the SSE id used for resumption.
func EventID(t time.Time) string {
	return strconv.FormatInt(notification.EpochMillis(t), 10)
}

// ParseEventID parses a Last-Event-ID value produced by EventID.
func ParseEventID(id string) (time.Time, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil || ms < 0 {
		return time.Time{}, fmt.Errorf("stream: invalid event id %q", id)
	}
	return notification.FromEpochMillis(ms), nil
}
