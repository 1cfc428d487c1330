package core

import "errors"

var (
	// ErrMalformedRequest is returned when a request field is missing or has
	// the wrong type.
	ErrMalformedRequest = errors.New("malformed request")

	// ErrUnknownIdentity is returned when a login names a pseudo that does
	// not exist. The transport collapses it with ErrInvalidCredentials so the
	// response does not reveal which it was.
	ErrUnknownIdentity = errors.New("unknown identity")

	// ErrInvalidCredentials is returned when the signature or the TOTP code
	// fails, without distinguishing which factor.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUnknownInvitation is returned when an invitation id does not resolve.
	ErrUnknownInvitation = errors.New("unknown invitation")

	// ErrConflictingSession is returned when a registration is attempted from
	// an already-authenticated browser.
	ErrConflictingSession = errors.New("conflicting session")

	// ErrStaleCode is returned when the TOTP code presented during
	// registration fails validation. Distinct from ErrUnknownInvitation: the
	// invitation's existence was already disclosed by the preceding geninfo.
	ErrStaleCode = errors.New("stale or invalid code")

	// ErrNotFound is the store-level sentinel for a missing document.
	ErrNotFound = errors.New("not found")
)
