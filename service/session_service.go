package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/layer-3/cerberus/core"
	"github.com/layer-3/cerberus/internal/cryptox"
	"github.com/layer-3/cerberus/ports"
)

// DefaultReapInterval is the minimum spacing between two expired-session
// sweeps. Reaping is a tuning knob, not a correctness requirement: it only
// has to happen eventually.
const DefaultReapInterval = time.Minute

// SessionService owns the session lifecycle: minting on login or
// registration, cookie resolution with a sliding-expiry touch, listing and
// revoking a user's own sessions, and the gated expiry sweep.
type SessionService struct {
	sessions ports.SessionStore
	events   ports.EventPublisher // nil disables revocation events
	log      *slog.Logger

	ttl       time.Duration
	reapEvery time.Duration
	lastReap  atomic.Int64 // unix nanos of the last sweep
	now       func() time.Time
}

// NewSessionService creates a session manager. Zero ttl or reapEvery select
// the defaults (31 days, one minute).
func NewSessionService(sessions ports.SessionStore, events ports.EventPublisher, ttl, reapEvery time.Duration, log *slog.Logger) *SessionService {
	if ttl == 0 {
		ttl = core.SessionTTL
	}
	if reapEvery == 0 {
		reapEvery = DefaultReapInterval
	}
	return &SessionService{
		sessions:  sessions,
		events:    events,
		log:       log,
		ttl:       ttl,
		reapEvery: reapEvery,
		now:       time.Now,
	}
}

// OwnSession is a session as presented to its owner, with the entry matching
// the requesting device flagged.
type OwnSession struct {
	core.Session
	Current bool
}

// Create mints a session with a fresh opaque token. When replacing names an
// existing session id (re-login from an already-authenticated browser), that
// session is deleted first so the device ends up with exactly one; sessions
// on other devices are untouched.
func (s *SessionService) Create(ctx context.Context, seed core.SessionSeed, ip, userAgent, replacing string) (*core.Session, error) {
	if replacing != "" {
		if err := s.sessions.Delete(ctx, replacing); err != nil {
			return nil, fmt.Errorf("replace session: %w", err)
		}
	}

	token, err := cryptox.RandomToken(cryptox.TokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}

	sess := &core.Session{
		Pseudo:    seed.Pseudo,
		Name:      seed.Name,
		Token:     token,
		IP:        ip,
		UserAgent: userAgent,
		LastUsed:  s.now(),
	}
	id, err := s.sessions.Insert(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	sess.ID = id
	return sess, nil
}

// Resolve looks a session up by bearer token and, when found, advances its
// lastUsed without waiting for the write: a lost touch only makes the sliding
// window marginally stale, which is acceptable. A missing or unknown token
// resolves to (nil, nil).
func (s *SessionService) Resolve(ctx context.Context, token string) (*core.Session, error) {
	if token == "" {
		return nil, nil
	}
	sess, err := s.sessions.FindByToken(ctx, token)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}

	go func(id string, t time.Time) {
		if err := s.sessions.Touch(context.WithoutCancel(ctx), id, t); err != nil {
			s.log.Warn("session touch failed", "id", id, "error", err)
		}
	}(sess.ID, s.now())

	return sess, nil
}

// MaybeReap deletes sessions idle past the ttl, at most once per reap
// interval. It is called on the request path, so it must stay cheap: outside
// the interval it is a single atomic load.
func (s *SessionService) MaybeReap(ctx context.Context) {
	now := s.now()
	last := s.lastReap.Load()
	if now.UnixNano()-last < int64(s.reapEvery) {
		return
	}
	if !s.lastReap.CompareAndSwap(last, now.UnixNano()) {
		return // another request won the sweep
	}
	if err := s.sessions.DeleteIdleSince(ctx, now.Add(-s.ttl)); err != nil {
		s.log.Error("session reap failed", "error", err)
	}
}

// ListOwn returns every session belonging to pseudo, flagging the one that
// made the request. Order is not meaningful.
func (s *SessionService) ListOwn(ctx context.Context, pseudo, selfID string) ([]OwnSession, error) {
	sessions, err := s.sessions.ListByPseudo(ctx, pseudo)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]OwnSession, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, OwnSession{Session: sess, Current: sess.ID == selfID})
	}
	return out, nil
}

// RemoveOwn deletes one of pseudo's sessions. The ownership check is part of
// the delete predicate; a foreign or unknown id deletes nothing and is not an
// error.
func (s *SessionService) RemoveOwn(ctx context.Context, pseudo, id string) error {
	if err := s.sessions.DeleteOwned(ctx, pseudo, id); err != nil {
		return fmt.Errorf("remove session: %w", err)
	}
	s.publishRevoked(ctx, pseudo, id)
	return nil
}

// FlushOthers deletes every session of pseudo except exceptID.
func (s *SessionService) FlushOthers(ctx context.Context, pseudo, exceptID string) error {
	sessions, err := s.sessions.ListByPseudo(ctx, pseudo)
	if err != nil {
		return fmt.Errorf("flush sessions: %w", err)
	}
	if err := s.sessions.DeleteOthers(ctx, pseudo, exceptID); err != nil {
		return fmt.Errorf("flush sessions: %w", err)
	}
	for _, sess := range sessions {
		if sess.ID != exceptID {
			s.publishRevoked(ctx, pseudo, sess.ID)
		}
	}
	return nil
}

// Logout deletes the calling session. Logging out twice is fine; the caller
// always ends up logged out.
func (s *SessionService) Logout(ctx context.Context, sess *core.Session) error {
	if err := s.sessions.Delete(ctx, sess.ID); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	s.publishRevoked(ctx, sess.Pseudo, sess.ID)
	return nil
}

// publishRevoked is best effort: the session is already gone from the store,
// which is what matters. Publish failures are logged, never surfaced.
func (s *SessionService) publishRevoked(ctx context.Context, pseudo, id string) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishRevoked(ctx, pseudo, id); err != nil {
		s.log.Warn("publish session revocation failed", "pseudo", pseudo, "id", id, "error", err)
	}
}
