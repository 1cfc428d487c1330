package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/cerberus/adapters/store"
	"github.com/layer-3/cerberus/core"
	"github.com/layer-3/cerberus/internal/cryptox"
)

func newTestRegistrations(t *testing.T) (*RegistrationService, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	sessions := NewSessionService(st.Sessions(), nil, 0, 0, testLogger())
	return NewRegistrationService(st.Users(), st.Registrations(), sessions, "cerberus", testLogger()), st
}

func seedInvitation(t *testing.T, st *store.MemoryStore, gid, pseudo, name string) {
	t.Helper()
	require.NoError(t, st.Registrations().Insert(context.Background(), &core.PendingRegistration{
		GID:        gid,
		Pseudo:     pseudo,
		Name:       name,
		TOTPSecret: testSecret,
	}))
}

func clientPublicKey(t *testing.T, pseudo, password string) string {
	t.Helper()
	pub, err := cryptox.PublicKeyHex(cryptox.DeriveClientKey(password, pseudo))
	require.NoError(t, err)
	return pub
}

func TestPeekInvitation(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestRegistrations(t)
	seedInvitation(t, st, "abc", "alice", "Alice")

	pseudo, uri, err := svc.Peek(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "alice", pseudo)
	assert.True(t, strings.HasPrefix(uri, "otpauth://totp/cerberus:alice?"))
	assert.Contains(t, uri, "secret="+testSecret)

	// Peeking does not consume the invitation.
	_, _, err = svc.Peek(ctx, "abc")
	assert.NoError(t, err)
}

func TestPeekUnknownInvitation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestRegistrations(t)

	_, _, err := svc.Peek(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrUnknownInvitation)
}

func TestFinalizeInvitation(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestRegistrations(t)
	seedInvitation(t, st, "abc", "alice", "Alice")
	pub := clientPublicKey(t, "alice", "hunter2")

	sess, err := svc.Finalize(ctx, "abc", currentCode(t), pub, false, "10.0.0.1", "firefox")
	require.NoError(t, err)
	assert.Equal(t, "alice", sess.Pseudo)
	assert.Equal(t, "Alice", sess.Name)
	assert.NotEmpty(t, sess.Token)

	// The user is active with the supplied key and the invitation's secret.
	user, err := st.Users().FindByPseudo(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, pub, user.PublicKey)
	assert.Equal(t, testSecret, user.TOTPSecret)

	// The pending registration is gone.
	_, err = st.Registrations().FindByGID(ctx, "abc")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestFinalizeConsumesExactlyOnce(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestRegistrations(t)
	seedInvitation(t, st, "abc", "alice", "Alice")
	pub := clientPublicKey(t, "alice", "hunter2")

	_, err := svc.Finalize(ctx, "abc", currentCode(t), pub, false, "", "")
	require.NoError(t, err)

	_, err = svc.Finalize(ctx, "abc", currentCode(t), pub, false, "", "")
	assert.ErrorIs(t, err, core.ErrUnknownInvitation)
}

func TestFinalizeUnknownInvitation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestRegistrations(t)
	pub := clientPublicKey(t, "alice", "hunter2")

	_, err := svc.Finalize(ctx, "missing", currentCode(t), pub, false, "", "")
	assert.ErrorIs(t, err, core.ErrUnknownInvitation)
}

func TestFinalizeConflictingSession(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestRegistrations(t)
	seedInvitation(t, st, "abc", "alice", "Alice")
	pub := clientPublicKey(t, "alice", "hunter2")

	_, err := svc.Finalize(ctx, "abc", currentCode(t), pub, true, "", "")
	assert.ErrorIs(t, err, core.ErrConflictingSession)

	// The invitation survives the rejected attempt.
	_, _, err = svc.Peek(ctx, "abc")
	assert.NoError(t, err)
}

func TestFinalizeStaleCode(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestRegistrations(t)
	seedInvitation(t, st, "abc", "alice", "Alice")
	pub := clientPublicKey(t, "alice", "hunter2")

	_, err := svc.Finalize(ctx, "abc", "000000", pub, false, "", "")
	assert.ErrorIs(t, err, core.ErrStaleCode)

	_, _, err = svc.Peek(ctx, "abc")
	assert.NoError(t, err)
}

func TestFinalizeRejectsGarbageKey(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestRegistrations(t)
	seedInvitation(t, st, "abc", "alice", "Alice")

	_, err := svc.Finalize(ctx, "abc", currentCode(t), "not hex", false, "", "")
	assert.ErrorIs(t, err, core.ErrMalformedRequest)

	_, err = svc.Finalize(ctx, "abc", currentCode(t), "04deadbeef", false, "", "")
	assert.ErrorIs(t, err, core.ErrMalformedRequest)
}
