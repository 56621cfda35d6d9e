package protocol

import (
	"encoding/json"
	"strings"
)

// Envelope is one outbound wire message, marshaled as-is.
type Envelope map[string]any

// Marshal renders the envelope for the socket.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(map[string]any(e))
}

// JoinRoomRequest asks the relay for room admission. roomID must already be
// hashed where a password applies.
func JoinRoomRequest(roomID string, claimDirector bool) Envelope {
	env := Envelope{"request": "joinroom", "roomid": roomID}
	if claimDirector {
		env["claim"] = true
	}
	return env
}

// LeaveRoomRequest leaves the current room.
func LeaveRoomRequest() Envelope {
	return Envelope{"request": "leaveroom"}
}

// SeedRequest announces streamID as available for playback.
func SeedRequest(streamID string) Envelope {
	return Envelope{"request": "seed", "streamID": streamID}
}

// UnseedRequest withdraws a seeded stream.
func UnseedRequest(streamID string) Envelope {
	return Envelope{"request": "unseed", "streamID": streamID}
}

// PlayRequest asks the publisher of streamID to send us an offer.
func PlayRequest(streamID string) Envelope {
	return Envelope{"request": "play", "streamID": streamID}
}

// StopPlayRequest stops viewing streamID.
func StopPlayRequest(streamID string) Envelope {
	return Envelope{"request": "stopPlay", "streamID": streamID}
}

// DescriptionEnvelope carries a plaintext offer or answer. The sdp and type
// are duplicated at the top level for clients that predate the description
// object.
func DescriptionEnvelope(uuid, session, sdpType, sdp string) Envelope {
	return Envelope{
		"UUID":        uuid,
		"session":     session,
		"description": map[string]any{"type": sdpType, "sdp": sdp},
		"sdp":         sdp,
		"type":        sdpType,
	}
}

// EncryptedDescriptionEnvelope carries an encrypted offer or answer; the
// description field holds hex ciphertext of the description object.
func EncryptedDescriptionEnvelope(uuid, session, cipherHex, vectorHex string) Envelope {
	return Envelope{
		"UUID":        uuid,
		"session":     session,
		"description": cipherHex,
		"vector":      vectorHex,
	}
}

// DescriptionPayload is the JSON that gets encrypted for a description
// envelope.
func DescriptionPayload(sdpType, sdp string) []byte {
	payload, _ := json.Marshal(map[string]any{"type": sdpType, "sdp": sdp})
	return payload
}

// NormalizeCandidateLine strips the "a=" SDP attribute prefix some stacks
// include on candidate lines.
func NormalizeCandidateLine(candidate string) string {
	return strings.TrimPrefix(candidate, "a=")
}

// CandidateEnvelope carries one plaintext local ICE candidate. The mid is
// sent under both of its spellings.
func CandidateEnvelope(uuid, session, candidate, mid string) Envelope {
	return Envelope{
		"UUID":    uuid,
		"type":    "local",
		"session": session,
		"candidate": map[string]any{
			"candidate": NormalizeCandidateLine(candidate),
			"mid":       mid,
			"sdpMid":    mid,
		},
	}
}

// EncryptedCandidateEnvelope carries an encrypted candidate payload.
func EncryptedCandidateEnvelope(uuid, session, cipherHex, vectorHex string) Envelope {
	return Envelope{
		"UUID":      uuid,
		"type":      "local",
		"session":   session,
		"candidate": cipherHex,
		"vector":    vectorHex,
	}
}

// CandidatePayload is the JSON that gets encrypted for a candidate
// envelope.
func CandidatePayload(candidate, mid string) []byte {
	payload, _ := json.Marshal(map[string]any{
		"candidate": NormalizeCandidateLine(candidate),
		"mid":       mid,
		"sdpMid":    mid,
	})
	return payload
}
