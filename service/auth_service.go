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

// AuthService implements the challenge-response login protocol: it issues
// per-user single-use challenges and verifies the signature plus the TOTP
// second factor.
type AuthService struct {
	users ports.UserStore
	log   *slog.Logger
}

// NewAuthService creates a new authenticator over the users collection.
func NewAuthService(users ports.UserStore, log *slog.Logger) *AuthService {
	return &AuthService{users: users, log: log}
}

// IssueChallenge stores a fresh random challenge on the user record,
// overwriting any prior one (last issued wins). Unknown pseudos get the same
// fresh value back while the store write silently no-ops, so the response
// shape does not disclose account existence.
func (s *AuthService) IssueChallenge(ctx context.Context, pseudo string) (string, error) {
	challenge, err := cryptox.RandomToken(cryptox.TokenBytes)
	if err != nil {
		return "", fmt.Errorf("generate challenge: %w", err)
	}
	if err := s.users.SetChallenge(ctx, pseudo, challenge); err != nil {
		return "", fmt.Errorf("store challenge: %w", err)
	}
	return challenge, nil
}

// VerifyLogin consumes the user's pending challenge and checks both factors.
// The challenge is cleared before anything is evaluated, so a replay of the
// same signature after a failed attempt finds nothing left to sign against.
// Signature and TOTP failures are collapsed into core.ErrInvalidCredentials.
func (s *AuthService) VerifyLogin(ctx context.Context, pseudo, signatureHex, code string) (*core.SessionSeed, error) {
	u, err := s.users.FindByPseudo(ctx, pseudo)
	if errors.Is(err, core.ErrNotFound) {
		return nil, core.ErrUnknownIdentity
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}

	challenge := u.PendingChallenge
	if err := s.users.ClearChallenge(ctx, pseudo); err != nil {
		return nil, fmt.Errorf("clear challenge: %w", err)
	}

	if !verifyChallengeSignature(challenge, signatureHex, u.PublicKey) {
		s.log.Info("invalid signature", "pseudo", pseudo)
		return nil, core.ErrInvalidCredentials
	}
	if !otpx.Check(code, u.TOTPSecret) {
		s.log.Info("invalid totp code", "pseudo", pseudo)
		return nil, core.ErrInvalidCredentials
	}

	return &core.SessionSeed{Pseudo: u.Pseudo, Name: u.Name}, nil
}

func verifyChallengeSignature(challengeHex, signatureHex, publicKeyHex string) bool {
	if challengeHex == "" {
		return false
	}
	challenge, err := hex.DecodeString(challengeHex)
	if err != nil {
		return false
	}
	signature, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	publicKey, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return false
	}
	return cryptox.VerifySignature(challenge, signature, publicKey)
}
