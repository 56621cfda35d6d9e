package vdoutil

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Base64Encode encodes data with standard padding.
func Base64Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Base64Decode decodes a standard-padded base64 string.
func Base64Decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// URLEncode percent-escapes everything outside RFC 3986 unreserved
// characters. Hex digits are lowercase to match the escaping the signaling
// server and viewer pages produce.
func URLEncode(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, c := range []byte(value) {
		if isWordByte(c) || c == '-' || c == '.' || c == '~' {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02x", c)
		}
	}
	return b.String()
}

// URLDecode reverses URLEncode, also accepting '+' for space and uppercase
// hex escapes. Malformed escapes are passed through untouched.
func URLDecode(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for i := 0; i < len(value); i++ {
		switch {
		case value[i] == '+':
			b.WriteByte(' ')
		case value[i] == '%' && i+2 < len(value):
			hi, okHi := hexNibble(value[i+1])
			lo, okLo := hexNibble(value[i+2])
			if okHi && okLo {
				b.WriteByte(hi<<4 | lo)
				i += 2
			} else {
				b.WriteByte(value[i])
			}
		default:
			b.WriteByte(value[i])
		}
	}
	return b.String()
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
