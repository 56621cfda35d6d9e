package protocol

import (
	"encoding/json"
	"testing"
)

func TestRequestEnvelopes(t *testing.T) {
	env := JoinRoomRequest("hashedroom", false)
	if env["request"] != "joinroom" || env["roomid"] != "hashedroom" {
		t.Errorf("joinroom = %v", env)
	}
	if _, ok := env["claim"]; ok {
		t.Error("claim present without director request")
	}
	if env := JoinRoomRequest("r", true); env["claim"] != true {
		t.Errorf("director claim missing: %v", env)
	}

	if env := SeedRequest("stream1"); env["request"] != "seed" || env["streamID"] != "stream1" {
		t.Errorf("seed = %v", env)
	}
	if env := StopPlayRequest("stream1"); env["request"] != "stopPlay" {
		t.Errorf("stopPlay = %v", env)
	}
}

func TestDescriptionEnvelopeCompatFields(t *testing.T) {
	env := DescriptionEnvelope("u1", "s1", "offer", "v=0\r\n")
	raw, err := env.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	// Old clients read sdp/type from the top level; new ones from the
	// description object. The envelope must satisfy both.
	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.Kind != KindOffer || msg.SDP != "v=0\r\n" {
		t.Errorf("round trip = %+v", msg)
	}
	var flat struct {
		SDP  string `json:"sdp"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &flat); err != nil || flat.SDP != "v=0\r\n" || flat.Type != "offer" {
		t.Errorf("top-level compat fields missing: %s", raw)
	}
}

func TestCandidateEnvelope(t *testing.T) {
	env := CandidateEnvelope("u1", "s1", "a=candidate:1 1 UDP 2 10.0.0.1 5000 typ host", "0")
	if env["type"] != "local" {
		t.Errorf("candidate envelope type = %v", env["type"])
	}
	payload := env["candidate"].(map[string]any)
	if payload["candidate"] != "candidate:1 1 UDP 2 10.0.0.1 5000 typ host" {
		t.Errorf("a= prefix not stripped: %v", payload["candidate"])
	}
	if payload["mid"] != "0" || payload["sdpMid"] != "0" {
		t.Errorf("mid spellings = %v", payload)
	}
}

func TestEncryptedEnvelopeRoundTrip(t *testing.T) {
	phrase := "pw" + "vdo.ninja"
	cipherHex, vectorHex, err := Encrypt(DescriptionPayload("answer", "v=0\r\n"), phrase)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	env := EncryptedDescriptionEnvelope("u1", "s1", cipherHex, vectorHex)
	if env["vector"] != vectorHex || env["description"] != cipherHex {
		t.Errorf("encrypted envelope = %v", env)
	}

	decrypted, err := Decrypt(cipherHex, vectorHex, phrase)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	var desc struct {
		Type string `json:"type"`
		SDP  string `json:"sdp"`
	}
	if err := json.Unmarshal(decrypted, &desc); err != nil || desc.Type != "answer" || desc.SDP != "v=0\r\n" {
		t.Errorf("payload = %s", decrypted)
	}
}
