package ports

import (
	"context"
	"time"

	"github.com/layer-3/cerberus/core"
)

// UserStore is the contract over the users collection.
type UserStore interface {
	// FindByPseudo returns core.ErrNotFound when the pseudo does not exist.
	FindByPseudo(ctx context.Context, pseudo string) (*core.User, error)

	// SetChallenge stores a pending challenge on the user record, overwriting
	// any prior value. Unknown pseudos are a silent no-op: prelogin answers
	// with a fresh challenge either way.
	SetChallenge(ctx context.Context, pseudo, challenge string) error

	// ClearChallenge removes the pending challenge, if any.
	ClearChallenge(ctx context.Context, pseudo string) error

	Insert(ctx context.Context, user *core.User) error
}

// SessionStore is the contract over the sessions collection.
type SessionStore interface {
	// FindByToken returns core.ErrNotFound when no session carries the token.
	FindByToken(ctx context.Context, token string) (*core.Session, error)

	// Insert stores the session and returns its store-assigned id.
	Insert(ctx context.Context, session *core.Session) (string, error)

	// Touch advances lastUsed. Losing the race between two concurrent touches
	// is acceptable; sliding expiry only needs eventual correctness.
	Touch(ctx context.Context, id string, t time.Time) error

	// Delete removes a session by id regardless of owner.
	Delete(ctx context.Context, id string) error

	// DeleteOwned removes the session only if it belongs to pseudo. A foreign
	// or missing id is a silent no-op.
	DeleteOwned(ctx context.Context, pseudo, id string) error

	// DeleteOthers removes every session of pseudo except exceptID.
	DeleteOthers(ctx context.Context, pseudo, exceptID string) error

	// DeleteIdleSince removes every session with lastUsed at or before cutoff.
	DeleteIdleSince(ctx context.Context, cutoff time.Time) error

	ListByPseudo(ctx context.Context, pseudo string) ([]core.Session, error)
}

// RegistrationStore is the contract over the pending_registrations collection.
type RegistrationStore interface {
	// FindByGID returns core.ErrNotFound when the invitation does not resolve.
	FindByGID(ctx context.Context, gid string) (*core.PendingRegistration, error)

	// Claim deletes the invitation and reports whether a document was actually
	// removed. The per-document atomicity of the delete is what makes the
	// invitation single-use: the second claimer observes claimed == false.
	Claim(ctx context.Context, gid string) (claimed bool, err error)

	Insert(ctx context.Context, reg *core.PendingRegistration) error
}

// Store bundles the three collections the protocol core operates on.
type Store interface {
	Users() UserStore
	Sessions() SessionStore
	Registrations() RegistrationStore
}
