package publisher

import (
	"testing"

	"github.com/silviot/vdon_publisher_go/pkg/vdoutil"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	if s.WSSHost != "wss://wss.vdo.ninja:443" {
		t.Fatalf("wss host = %q", s.WSSHost)
	}
	if s.Salt != "vdo.ninja" {
		t.Fatalf("salt = %q", s.Salt)
	}
	if s.BitrateKbps != 4000 || s.MaxViewers != 10 {
		t.Fatalf("bitrate=%d maxViewers=%d", s.BitrateKbps, s.MaxViewers)
	}
	if !s.AutoReconnect {
		t.Fatal("auto-reconnect should default on")
	}
}

func TestNormalizeFillsDefaults(t *testing.T) {
	s := Settings{StreamID: "cam", MaxViewers: -1}
	s.Normalize()
	if s.WSSHost != DefaultWSSHost || s.Salt != vdoutil.DefaultSalt {
		t.Fatalf("defaults not applied: %+v", s)
	}
	if s.MaxViewers != 10 || s.BitrateKbps != 4000 {
		t.Fatalf("numeric defaults not applied: %+v", s)
	}
	if s.AutoInbound.SourcePrefix != "VDO" || s.AutoInbound.BaseURL != vdoutil.DefaultBaseURL {
		t.Fatalf("auto-inbound defaults not applied: %+v", s.AutoInbound)
	}
}

func TestNormalizeAutoInboundInherits(t *testing.T) {
	s := Settings{StreamID: "cam", RoomID: "studio", Password: "pw"}
	s.Normalize()
	if s.AutoInbound.RoomID != "studio" || s.AutoInbound.Password != "pw" {
		t.Fatalf("auto-inbound must inherit room credentials: %+v", s.AutoInbound)
	}
}

func TestStreamKeyPipeDelimited(t *testing.T) {
	s := Settings{StreamKey: "mycam|secret|studio|custom.salt|wss://relay.example.com"}
	s.Normalize()
	if s.StreamID != "mycam" || s.Password != "secret" || s.RoomID != "studio" {
		t.Fatalf("pipe form not parsed: %+v", s)
	}
	if s.Salt != "custom.salt" || s.WSSHost != "wss://relay.example.com" {
		t.Fatalf("salt/host not parsed: %+v", s)
	}
}

func TestStreamKeyBareID(t *testing.T) {
	s := Settings{StreamKey: "  justanid  "}
	s.Normalize()
	if s.StreamID != "justanid" {
		t.Fatalf("bare key not used as stream id: %q", s.StreamID)
	}
}

func TestStreamKeyURL(t *testing.T) {
	s := Settings{StreamKey: "https://vdo.ninja/?push=cam1&password=pw&room=studio&wss=wss://relay.example.com"}
	s.Normalize()
	if s.StreamID != "cam1" || s.Password != "pw" || s.RoomID != "studio" {
		t.Fatalf("URL form not parsed: %+v", s)
	}
	if s.WSSHost != "wss://relay.example.com" {
		t.Fatalf("wss param not parsed: %q", s.WSSHost)
	}
}

func TestStreamKeyViewURLAndMisspelledPassword(t *testing.T) {
	s := Settings{StreamKey: "https://vdo.ninja/?view=cam2&pasword=oops"}
	s.Normalize()
	if s.StreamID != "cam2" {
		t.Fatalf("view param not used: %q", s.StreamID)
	}
	if s.Password != "oops" {
		t.Fatalf("misspelled password param not honored: %q", s.Password)
	}
}

func TestStreamKeyNeverOverridesExplicitFields(t *testing.T) {
	s := Settings{StreamID: "explicit", Password: "set", StreamKey: "fromkey|other|room"}
	s.Normalize()
	if s.StreamID != "explicit" || s.Password != "set" {
		t.Fatalf("explicit fields overridden: %+v", s)
	}
	if s.RoomID != "room" {
		t.Fatalf("empty field not filled from key: %q", s.RoomID)
	}
}

func TestOwnStreamIDs(t *testing.T) {
	s := Settings{StreamID: "cam", Password: "pw"}
	s.Normalize()
	ids := s.ownStreamIDs()
	if len(ids) != 3 {
		t.Fatalf("expected 3 variants, got %d", len(ids))
	}
	if ids[0] != "cam" {
		t.Fatalf("first variant must be the plaintext id: %q", ids[0])
	}
	if ids[1] != vdoutil.HashStreamID("cam", "pw", s.Salt) {
		t.Fatalf("second variant must use the configured password")
	}
	if ids[2] != vdoutil.HashStreamID("cam", vdoutil.DefaultPassword, s.Salt) {
		t.Fatalf("third variant must use the service default password")
	}
}
