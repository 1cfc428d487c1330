// Package cryptox implements the protocol's crypto primitives: random token
// generation, the deterministic client-key derivation contract, and
// secp256k1 signature verification.
package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/ripemd160"
)

// TokenBytes is the size of challenges, session tokens and invitation ids.
const TokenBytes = 32

// RandomToken returns n cryptographically secure random bytes, hex-encoded.
func RandomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// DeriveClientKey computes the elliptic-curve private scalar a client derives
// from its password. This normally runs client-side; the server carries it so
// that admin tooling and tests can exercise the full contract:
// PBKDF2-SHA256(password, salt=pseudo, 42 rounds, 32 bytes), RIPEMD-160 of
// that, and the 20-byte digest right-aligned into a zero-padded 32-byte key.
func DeriveClientKey(password, pseudo string) []byte {
	stretched := pbkdf2.Key([]byte(password), []byte(pseudo), 42, 32, sha256.New)
	h := ripemd160.New()
	h.Write(stretched)
	digest := h.Sum(nil)

	key := make([]byte, 32)
	copy(key[32-ripemd160.Size:], digest)
	return key
}

// PublicKeyHex returns the uncompressed secp256k1 public key (04 || X || Y,
// hex) matching a derived private scalar.
func PublicKeyHex(privateKey []byte) (string, error) {
	prv, err := crypto.ToECDSA(privateKey)
	if err != nil {
		return "", fmt.Errorf("load private scalar: %w", err)
	}
	return hex.EncodeToString(crypto.FromECDSAPub(&prv.PublicKey)), nil
}

// SignChallenge signs a 32-byte hex challenge with a derived private scalar
// and returns the 64-byte R||S signature, hex-encoded and low-S normalized.
func SignChallenge(challengeHex string, privateKey []byte) (string, error) {
	msg, err := hex.DecodeString(challengeHex)
	if err != nil {
		return "", fmt.Errorf("decode challenge: %w", err)
	}
	if len(msg) != TokenBytes {
		return "", fmt.Errorf("challenge must be %d bytes, got %d", TokenBytes, len(msg))
	}
	prv, err := crypto.ToECDSA(privateKey)
	if err != nil {
		return "", fmt.Errorf("load private scalar: %w", err)
	}
	sig, err := crypto.Sign(msg, prv)
	if err != nil {
		return "", fmt.Errorf("sign challenge: %w", err)
	}
	// Drop the recovery id; the protocol carries plain R||S.
	return hex.EncodeToString(sig[:64]), nil
}

// VerifySignature checks a 64-byte R||S secp256k1 signature over message
// against a compressed or uncompressed public key. Malleable (high-S)
// signatures are rejected, matching the low-S form clients produce.
func VerifySignature(message, signature, publicKey []byte) bool {
	if len(signature) != 64 {
		return false
	}
	return crypto.VerifySignature(publicKey, message, signature)
}

// ValidPublicKey reports whether b is a parseable secp256k1 point in
// compressed (33-byte) or uncompressed (65-byte) encoding.
func ValidPublicKey(b []byte) bool {
	var err error
	switch len(b) {
	case 33:
		_, err = crypto.DecompressPubkey(b)
	case 65:
		_, err = crypto.UnmarshalPubkey(b)
	default:
		return false
	}
	return err == nil
}
