package types

import (
	"time"

	"github.com/google/uuid"
)

// SessionID identifies one SDK session in logs and metrics.
type SessionID string

// NewSessionID generates a UUIDv7 session identifier.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewSessionID() SessionID {
	return SessionID(uuid.Must(uuid.NewV7()).String())
}

// SessionStarted extracts the timestamp embedded in a UUIDv7 session ID.
// Returns zero time for invalid UUIDs; caller should check IsZero().
func SessionStarted(id SessionID) time.Time {
	u, err := uuid.Parse(string(id))
	if err != nil {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec)
}

// TempSuffix returns a unique ".<uuid>.tmp" suffix for in-flight downloads,
// so two processes downloading the same entry never write the same temp file.
func TempSuffix() string {
	return "." + uuid.NewString() + ".tmp"
}
