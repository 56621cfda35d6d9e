package vdoutil

import (
	"regexp"
	"strings"
	"testing"
)

func TestBuildViewURLPassthrough(t *testing.T) {
	if got := BuildViewURL("", "https://example.com/whep/abc", "", "", DefaultSalt); got != "https://example.com/whep/abc" {
		t.Errorf("https passthrough: got %q", got)
	}
	if got := BuildViewURL("", "whep:https://example.com/whep/abc", "", "", DefaultSalt); got != "https://example.com/whep/abc" {
		t.Errorf("whep prefix strip: got %q", got)
	}
}

func TestBuildViewURL(t *testing.T) {
	got := BuildViewURL("", "teststream", "", "", DefaultSalt)
	if got != "https://vdo.ninja/?view=teststream" {
		t.Errorf("plain view url: got %q", got)
	}

	got = BuildViewURL("https://self.example.com", "teststream", "secret", "room1", DefaultSalt)
	if !strings.HasPrefix(got, "https://self.example.com/?view=teststream") {
		t.Errorf("base url not used: %q", got)
	}
	if !strings.Contains(got, "&solo&room=room1") {
		t.Errorf("room missing: %q", got)
	}
	if !strings.Contains(got, "&password=secret") {
		t.Errorf("password missing: %q", got)
	}

	got = BuildViewURL("", "teststream", "false", "", DefaultSalt)
	if !strings.Contains(got, "&password=false") {
		t.Errorf("disabled password marker missing: %q", got)
	}
}

func TestBuildViewURLStripsHashSuffix(t *testing.T) {
	hashed := HashStreamID("teststream", "secret", DefaultSalt)
	got := BuildViewURL("", hashed, "secret", "", DefaultSalt)
	if !strings.Contains(got, "view=teststream&") && !strings.HasSuffix(got, "view=teststream") {
		t.Errorf("hash suffix not stripped: %q", got)
	}
}

func TestModifySDPBitrate(t *testing.T) {
	sdp := "v=0\r\nm=audio 9 UDP/TLS/RTP/SAVPF 111\r\nm=video 9 UDP/TLS/RTP/SAVPF 96\r\na=mid:1\r\n"
	got := ModifySDPBitrate(sdp, 4000000)
	if !strings.Contains(got, "m=video 9 UDP/TLS/RTP/SAVPF 96\r\nb=AS:4000\r\n") {
		t.Errorf("bandwidth line not inserted after m=video: %q", got)
	}
	if got := ModifySDPBitrate("v=0\r\n", 4000000); got != "v=0\r\n" {
		t.Errorf("sdp without video section changed: %q", got)
	}
}

func TestExtractMID(t *testing.T) {
	sdp := "m=audio 9 X\r\na=mid:0\r\nm=video 9 X\r\na=mid:1\r\n"
	if got := ExtractMID(sdp, "video"); got != "1" {
		t.Errorf("ExtractMID(video) = %q", got)
	}
	if got := ExtractMID(sdp, "audio"); got != "0" {
		t.Errorf("ExtractMID(audio) = %q", got)
	}
	if got := ExtractMID("v=0\r\n", "video"); got != "" {
		t.Errorf("ExtractMID on missing section = %q", got)
	}
}

func TestNewSessionID(t *testing.T) {
	re := regexp.MustCompile(`^[0-9a-z]{8}$`)
	seen := map[string]bool{}
	for i := 0; i < 32; i++ {
		id := NewSessionID()
		if !re.MatchString(id) {
			t.Fatalf("session id %q has the wrong shape", id)
		}
		seen[id] = true
	}
	if len(seen) < 2 {
		t.Error("session ids do not vary")
	}
}

func TestNewUUID(t *testing.T) {
	re := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	id := NewUUID()
	if !re.MatchString(id) {
		t.Errorf("uuid %q is not version 4", id)
	}
}
