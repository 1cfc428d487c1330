package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/layer-3/cerberus/core"
	"github.com/layer-3/cerberus/internal/cryptox"
	"github.com/layer-3/cerberus/internal/otpx"
	"github.com/layer-3/cerberus/ports"
)

// RegistrationService converts a pending registration into an active identity
// plus an initial session. An invitation has exactly two states: invited
// (pending registration exists, no user) and active (user exists, pending
// registration gone).
type RegistrationService struct {
	users         ports.UserStore
	registrations ports.RegistrationStore
	sessions      *SessionService
	issuer        string
	log           *slog.Logger
}

// NewRegistrationService creates the invitation state machine. The issuer
// names this service in the provisioning URIs it hands out.
func NewRegistrationService(users ports.UserStore, registrations ports.RegistrationStore, sessions *SessionService, issuer string, log *slog.Logger) *RegistrationService {
	return &RegistrationService{
		users:         users,
		registrations: registrations,
		sessions:      sessions,
		issuer:        issuer,
		log:           log,
	}
}

// Peek resolves an invitation without consuming it, returning the reserved
// pseudo and the otpauth:// provisioning URI for the authenticator QR code.
func (s *RegistrationService) Peek(ctx context.Context, gid string) (pseudo, provisioningURI string, err error) {
	reg, err := s.registrations.FindByGID(ctx, gid)
	if errors.Is(err, core.ErrNotFound) {
		return "", "", core.ErrUnknownInvitation
	}
	if err != nil {
		return "", "", fmt.Errorf("find registration: %w", err)
	}
	return reg.Pseudo, otpx.KeyURI(reg.Pseudo, s.issuer, reg.TOTPSecret), nil
}

// Finalize claims the invitation: it checks the TOTP code against the
// invitation's secret, deletes the pending registration, creates the user
// with the supplied public key, and mints the initial session. The claim is
// the single-use gate; whoever loses the delete race gets
// core.ErrUnknownInvitation, exactly like a second attempt after success.
func (s *RegistrationService) Finalize(ctx context.Context, gid, code, publicKeyHex string, callerHasSession bool, ip, userAgent string) (*core.Session, error) {
	if callerHasSession {
		return nil, core.ErrConflictingSession
	}
	publicKey, err := hex.DecodeString(publicKeyHex)
	if err != nil || !cryptox.ValidPublicKey(publicKey) {
		return nil, core.ErrMalformedRequest
	}

	reg, err := s.registrations.FindByGID(ctx, gid)
	if errors.Is(err, core.ErrNotFound) {
		return nil, core.ErrUnknownInvitation
	}
	if err != nil {
		return nil, fmt.Errorf("find registration: %w", err)
	}

	if !otpx.Check(code, reg.TOTPSecret) {
		s.log.Info("invalid totp code for invitation", "pseudo", reg.Pseudo)
		return nil, core.ErrStaleCode
	}

	claimed, err := s.registrations.Claim(ctx, gid)
	if err != nil {
		return nil, fmt.Errorf("claim registration: %w", err)
	}
	if !claimed {
		return nil, core.ErrUnknownInvitation
	}

	user := &core.User{
		Pseudo:     reg.Pseudo,
		Name:       reg.Name,
		PublicKey:  publicKeyHex,
		TOTPSecret: reg.TOTPSecret,
	}
	if err := s.users.Insert(ctx, user); err != nil {
		// The claim already went through; losing the insert leaves the
		// invitation burned. Surfaced as an internal error, the narrow
		// window is accepted in place of a cross-document transaction.
		return nil, fmt.Errorf("insert user: %w", err)
	}
	s.log.Info("invitation finalized", "pseudo", user.Pseudo)

	return s.sessions.Create(ctx, core.SessionSeed{Pseudo: user.Pseudo, Name: user.Name}, ip, userAgent, "")
}
