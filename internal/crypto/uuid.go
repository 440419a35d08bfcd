package crypto

import (
	"github.com/google/uuid"
)

// NewUUIDv7 generates a time-ordered UUID v7.
func NewUUIDv7() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewID returns a prefixed, time-ordered identifier such as "sess_0190...".
func NewID(prefix string) string {
	return prefix + "_" + NewUUIDv7().String()
}
