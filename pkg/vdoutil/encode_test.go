package vdoutil

import (
	"bytes"
	"testing"
)

func TestBase64KnownValues(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"M", "TQ=="},
		{"Ma", "TWE="},
		{"Man", "TWFu"},
		{"Hello, World!", "SGVsbG8sIFdvcmxkIQ=="},
	}
	for _, tc := range cases {
		if got := Base64Encode([]byte(tc.in)); got != tc.want {
			t.Errorf("Base64Encode(%q) = %q, want %q", tc.in, got, tc.want)
		}
		decoded, err := Base64Decode(tc.want)
		if err != nil {
			t.Fatalf("Base64Decode(%q): %v", tc.want, err)
		}
		if string(decoded) != tc.in {
			t.Errorf("Base64Decode(%q) = %q, want %q", tc.want, decoded, tc.in)
		}
	}
}

func TestBase64RoundTrip(t *testing.T) {
	data := []byte{0x00, 0xFF, 0x7F, 0x80, 0x01, 0xFE}
	decoded, err := Base64Decode(Base64Encode(data))
	if err != nil {
		t.Fatalf("round trip decode: %v", err)
	}
	if !bytes.Equal(decoded, data) {
		t.Errorf("round trip changed data: %v -> %v", data, decoded)
	}
}

func TestURLEncode(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"plain-value_ok.~", "plain-value_ok.~"},
		{"foo=bar", "foo%3dbar"},
		{"hello world", "hello%20world"},
		{"path/to/file", "path%2fto%2ffile"},
	}
	for _, tc := range cases {
		if got := URLEncode(tc.in); got != tc.want {
			t.Errorf("URLEncode(%q) = %q, want %q", tc.in, got, tc.want)
		}
		if got := URLDecode(tc.want); got != tc.in {
			t.Errorf("URLDecode(%q) = %q, want %q", tc.want, got, tc.in)
		}
	}
}

func TestURLDecodeLenient(t *testing.T) {
	if got := URLDecode("a+b"); got != "a b" {
		t.Errorf("plus handling: got %q", got)
	}
	if got := URLDecode("bad%zzescape"); got != "bad%zzescape" {
		t.Errorf("malformed escape should pass through, got %q", got)
	}
	if got := URLDecode("Hello%2C%20World"); got != "Hello, World" {
		t.Errorf("uppercase hex: got %q", got)
	}
}
