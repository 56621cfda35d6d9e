// Package vdoutil implements the identifier, hashing, and encoding helpers
// shared by the VDO.Ninja signaling dialect: sanitized stream/room ids,
// password-salted hashing, viewer URL construction, and ICE server parsing.
package vdoutil

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// DefaultSalt is the salt used by the public vdo.ninja deployment.
	DefaultSalt = "vdo.ninja"
	// DefaultPassword is the service-wide password applied by clients that
	// never configured one; hashed stream ids may carry its suffix.
	DefaultPassword = "someEncryptionKey123"
	// DefaultBaseURL is the viewer-facing site used when none is configured.
	DefaultBaseURL = "https://vdo.ninja"
)

// SanitizeIdentifier trims whitespace, keeps case, collapses each run of
// characters outside [A-Za-z0-9_] into a single underscore, and truncates
// the result to maxLen.
func SanitizeIdentifier(value string, maxLen int) string {
	trimmed := strings.TrimSpace(value)
	var b strings.Builder
	b.Grow(len(trimmed))

	inInvalidRun := false
	for _, c := range []byte(trimmed) {
		if isWordByte(c) {
			b.WriteByte(c)
			inInvalidRun = false
		} else if !inInvalidRun {
			b.WriteByte('_')
			inInvalidRun = true
		}
	}

	result := b.String()
	if len(result) > maxLen {
		result = result[:maxLen]
	}
	return result
}

func isWordByte(c byte) bool {
	return c == '_' ||
		(c >= '0' && c <= '9') ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z')
}

// IsPasswordDisabled reports whether pw is one of the tokens viewers use to
// explicitly turn passwords off ("false", "0", "off", "no"), compared
// case-insensitively after trimming. The empty string is not a disabled
// token; callers treat it separately as "no password configured".
func IsPasswordDisabled(pw string) bool {
	switch strings.ToLower(strings.TrimSpace(pw)) {
	case "false", "0", "off", "no":
		return true
	}
	return false
}

// hasActivePassword reports whether pw should participate in hashing.
func hasActivePassword(pw string) bool {
	trimmed := strings.TrimSpace(pw)
	return trimmed != "" && !IsPasswordDisabled(trimmed)
}

// SHA256Hex returns the lowercase hex digest of s.
func SHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// SHA256Bytes returns the raw 32-byte digest of s.
func SHA256Bytes(s string) []byte {
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}

// HashStreamID derives the on-wire stream id. Without an active password the
// sanitized id is used as-is (capped at 64 chars). With one, the first 6 hex
// chars of sha256(password+salt) are appended, so the original id stays
// recognizable in logs.
func HashStreamID(streamID, password, salt string) string {
	sanitized := SanitizeIdentifier(streamID, 64)
	if !hasActivePassword(password) {
		return sanitized
	}
	return sanitized + SHA256Hex(strings.TrimSpace(password)+salt)[:6]
}

// HashRoomID derives the on-wire room id. Without an active password the
// sanitized id is used as-is (capped at 30 chars). With one, the whole id is
// replaced by the first 16 hex chars of sha256(sanitized+password+salt);
// rooms are fully obfuscated where streams are only suffixed.
func HashRoomID(roomID, password, salt string) string {
	sanitized := SanitizeIdentifier(roomID, 30)
	if !hasActivePassword(password) {
		return sanitized
	}
	return SHA256Hex(sanitized + strings.TrimSpace(password) + salt)[:16]
}

// DeriveViewStreamID strips a recognized password-hash suffix from a hashed
// stream id so the plaintext id can be rebuilt for viewer links. Both the
// configured password and the service default password are tried.
func DeriveViewStreamID(streamID, password, salt string) string {
	if len(streamID) <= 6 {
		return streamID
	}

	var suffixes []string
	if hasActivePassword(password) {
		suffixes = append(suffixes, SHA256Hex(strings.TrimSpace(password)+salt)[:6])
	}
	suffixes = append(suffixes, SHA256Hex(DefaultPassword+salt)[:6])

	for _, suffix := range suffixes {
		if len(streamID) > len(suffix) && strings.HasSuffix(streamID, suffix) {
			return streamID[:len(streamID)-len(suffix)]
		}
	}
	return streamID
}
