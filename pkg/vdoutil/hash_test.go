package vdoutil

import (
	"strings"
	"testing"
)

func TestSanitizeIdentifier(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"teststream", 64, "teststream"},
		{"  teststream  ", 64, "teststream"},
		{"TestStream", 64, "TestStream"},
		{"test@stream!", 64, "test_stream_"},
		{"test---stream", 64, "test_stream"},
		{"test..  stream", 64, "test_stream"},
		{"under_score", 64, "under_score"},
		{"", 64, ""},
		{"abcdefghij", 5, "abcde"},
	}
	for _, tc := range cases {
		if got := SanitizeIdentifier(tc.in, tc.max); got != tc.want {
			t.Errorf("SanitizeIdentifier(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}

func TestSHA256Hex(t *testing.T) {
	if got := SHA256Hex(""); got != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("SHA256Hex(\"\") = %q", got)
	}
	if got := SHA256Hex("hello world"); got != "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9" {
		t.Errorf("SHA256Hex(\"hello world\") = %q", got)
	}
}

func TestIsPasswordDisabled(t *testing.T) {
	for _, pw := range []string{"false", "FALSE", " FALSE ", "0", "off", "Off", "no", "No"} {
		if !IsPasswordDisabled(pw) {
			t.Errorf("IsPasswordDisabled(%q) = false, want true", pw)
		}
	}
	for _, pw := range []string{"", "secret", "falsey", "00"} {
		if IsPasswordDisabled(pw) {
			t.Errorf("IsPasswordDisabled(%q) = true, want false", pw)
		}
	}
}

func TestHashStreamID(t *testing.T) {
	const salt = DefaultSalt

	if got := HashStreamID("teststream", "", salt); got != "teststream" {
		t.Errorf("no password: got %q", got)
	}
	for _, pw := range []string{"false", "0", "off", "no"} {
		if got := HashStreamID("teststream", pw, salt); got != "teststream" {
			t.Errorf("disabled token %q: got %q", pw, got)
		}
	}

	hashed := HashStreamID("teststream", "secret", salt)
	if !strings.HasPrefix(hashed, "teststream") {
		t.Errorf("hashed id %q does not keep the sanitized prefix", hashed)
	}
	if len(hashed) != len("teststream")+6 {
		t.Errorf("hashed id %q has length %d, want %d", hashed, len(hashed), len("teststream")+6)
	}

	// The suffix depends only on password and salt.
	other := HashStreamID("otherstream", "secret", salt)
	if hashed[len(hashed)-6:] != other[len(other)-6:] {
		t.Errorf("suffix differs across ids: %q vs %q", hashed, other)
	}
	different := HashStreamID("teststream", "secret2", salt)
	if hashed[len(hashed)-6:] == different[len(different)-6:] {
		t.Error("suffix did not change with the password")
	}
}

func TestHashRoomID(t *testing.T) {
	const salt = DefaultSalt

	if got := HashRoomID("myroom", "", salt); got != "myroom" {
		t.Errorf("no password: got %q", got)
	}
	hashed := HashRoomID("myroom", "secret", salt)
	if len(hashed) != 16 {
		t.Errorf("hashed room %q has length %d, want 16", hashed, len(hashed))
	}
	if hashed == "myroom" || strings.Contains(hashed, "myroom") {
		t.Errorf("hashed room %q is not obfuscated", hashed)
	}
	if again := HashRoomID("myroom", "secret", salt); again != hashed {
		t.Errorf("hashing is not deterministic: %q vs %q", again, hashed)
	}
}

func TestDeriveViewStreamID(t *testing.T) {
	const salt = DefaultSalt

	hashed := HashStreamID("teststream", "secret", salt)
	if got := DeriveViewStreamID(hashed, "secret", salt); got != "teststream" {
		t.Errorf("configured password: got %q, want teststream", got)
	}

	withDefault := HashStreamID("teststream", DefaultPassword, salt)
	if got := DeriveViewStreamID(withDefault, "", salt); got != "teststream" {
		t.Errorf("default password suffix: got %q, want teststream", got)
	}

	if got := DeriveViewStreamID("plain", "secret", salt); got != "plain" {
		t.Errorf("short id should pass through, got %q", got)
	}
	if got := DeriveViewStreamID("nomatchsuffix", "secret", salt); got != "nomatchsuffix" {
		t.Errorf("unrecognized suffix should pass through, got %q", got)
	}
}
