package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/cerberus/core"
	"github.com/layer-3/cerberus/ports"
)

// MemoryStore is an in-memory implementation of ports.Store, used by tests
// and for running the service without a database.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]*core.User                // keyed by pseudo
	sessions      map[string]*core.Session             // keyed by id
	registrations map[string]*core.PendingRegistration // keyed by gid
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]*core.User),
		sessions:      make(map[string]*core.Session),
		registrations: make(map[string]*core.PendingRegistration),
	}
}

func (s *MemoryStore) Users() ports.UserStore                 { return (*memoryUsers)(s) }
func (s *MemoryStore) Sessions() ports.SessionStore           { return (*memorySessions)(s) }
func (s *MemoryStore) Registrations() ports.RegistrationStore { return (*memoryRegistrations)(s) }

type memoryUsers MemoryStore

func (s *memoryUsers) FindByPseudo(ctx context.Context, pseudo string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[pseudo]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memoryUsers) SetChallenge(ctx context.Context, pseudo, challenge string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[pseudo]; ok {
		u.PendingChallenge = challenge
	}
	return nil
}

func (s *memoryUsers) ClearChallenge(ctx context.Context, pseudo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[pseudo]; ok {
		u.PendingChallenge = ""
	}
	return nil
}

func (s *memoryUsers) Insert(ctx context.Context, user *core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *user
	s.users[user.Pseudo] = &cp
	return nil
}

type memorySessions MemoryStore

func (s *memorySessions) FindByToken(ctx context.Context, token string) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sess := range s.sessions {
		if sess.Token == token {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

func (s *memorySessions) Insert(ctx context.Context, session *core.Session) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *session
	cp.ID = uuid.NewString()
	s.sessions[cp.ID] = &cp
	return cp.ID, nil
}

func (s *memorySessions) Touch(ctx context.Context, id string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok && t.After(sess.LastUsed) {
		sess.LastUsed = t
	}
	return nil
}

func (s *memorySessions) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

func (s *memorySessions) DeleteOwned(ctx context.Context, pseudo, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok && sess.Pseudo == pseudo {
		delete(s.sessions, id)
	}
	return nil
}

func (s *memorySessions) DeleteOthers(ctx context.Context, pseudo, exceptID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sess := range s.sessions {
		if sess.Pseudo == pseudo && id != exceptID {
			delete(s.sessions, id)
		}
	}
	return nil
}

func (s *memorySessions) DeleteIdleSince(ctx context.Context, cutoff time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sess := range s.sessions {
		if !sess.LastUsed.After(cutoff) {
			delete(s.sessions, id)
		}
	}
	return nil
}

func (s *memorySessions) ListByPseudo(ctx context.Context, pseudo string) ([]core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.Session
	for _, sess := range s.sessions {
		if sess.Pseudo == pseudo {
			out = append(out, *sess)
		}
	}
	return out, nil
}

type memoryRegistrations MemoryStore

func (s *memoryRegistrations) FindByGID(ctx context.Context, gid string) (*core.PendingRegistration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reg, ok := s.registrations[gid]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *reg
	return &cp, nil
}

func (s *memoryRegistrations) Claim(ctx context.Context, gid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.registrations[gid]; !ok {
		return false, nil
	}
	delete(s.registrations, gid)
	return true, nil
}

func (s *memoryRegistrations) Insert(ctx context.Context, reg *core.PendingRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *reg
	s.registrations[reg.GID] = &cp
	return nil
}
