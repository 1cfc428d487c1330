package core

// User is an active identity. The private key never reaches the server;
// only the matching public key is stored.
type User struct {
	Pseudo string // unique, stable identifier
	Name   string // display name
	// PublicKey is a hex-encoded secp256k1 point, compressed or uncompressed.
	PublicKey string
	// TOTPSecret is the hex-encoded shared secret for the second factor.
	TOTPSecret string
	// PendingChallenge is the single active login challenge (hex), empty if
	// none has been issued or the last one was consumed.
	PendingChallenge string
}

// PendingRegistration is a claimable, single-use invitation for a
// not-yet-active identity. It is provisioned out-of-band and consumed
// exactly once by the registration flow.
type PendingRegistration struct {
	GID        string // unguessable invitation id, the claim key
	Pseudo     string
	Name       string
	TOTPSecret string
}

// SessionSeed carries the identity fields needed to mint a session after a
// successful login or invitation claim.
type SessionSeed struct {
	Pseudo string
	Name   string
}
