package vdoutil

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
)

const sessionAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewUUID returns a random version-4 UUID for peer identity on the wire.
func NewUUID() string {
	return uuid.NewString()
}

// NewSessionID returns an 8-character lowercase alphanumeric negotiation
// token.
func NewSessionID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; fall back to a
		// time-derived token rather than returning an empty session.
		now := time.Now().UnixNano()
		for i := range buf {
			buf[i] = byte(now >> (uint(i) * 8))
		}
	}
	for i, b := range buf {
		buf[i] = sessionAlphabet[int(b)%len(sessionAlphabet)]
	}
	return string(buf)
}

// CurrentTimeMs returns the wall clock in milliseconds since the epoch, the
// timestamp unit used across the wire protocol.
func CurrentTimeMs() int64 {
	return time.Now().UnixMilli()
}

// FormatTimestamp renders a millisecond timestamp for logs and telemetry.
func FormatTimestamp(ms int64) string {
	return time.UnixMilli(ms).Format("2006-01-02 15:04:05")
}
