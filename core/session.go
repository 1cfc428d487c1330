package core

import "time"

// SessionTTL is how long a session survives without being used. The client
// cookie deliberately outlives it; a cookie pointing at a reaped session
// simply resolves to "unauthenticated".
const SessionTTL = 31 * 24 * time.Hour

// Session represents one logged-in device or browser.
type Session struct {
	ID        string // store-assigned identifier
	Pseudo    string // owner, denormalized
	Name      string
	Token     string // 256-bit random bearer secret, globally unique, opaque
	IP        string
	UserAgent string
	LastUsed  time.Time // only ever moves forward
}

// Expired reports whether the session's sliding window has lapsed at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.LastUsed.After(now.Add(-SessionTTL))
}
