// Package protocol implements the VDO.Ninja signaling wire format: a
// permissive JSON dialect whose key names drift across protocol versions.
// Parse normalizes an inbound message into a closed Kind set; the envelope
// builders produce outbound requests and negotiation payloads; crypto.go
// covers the optional AES-256-CBC payload encryption.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind classifies one inbound signaling message.
type Kind int

const (
	KindUnknown Kind = iota
	KindListing
	KindOffer
	KindAnswer
	KindCandidate
	KindCandidates
	KindRequest
	KindAlert
	KindStreamAdded
	KindStreamRemoved
)

func (k Kind) String() string {
	switch k {
	case KindListing:
		return "listing"
	case KindOffer:
		return "offer"
	case KindAnswer:
		return "answer"
	case KindCandidate:
		return "candidate"
	case KindCandidates:
		return "candidates"
	case KindRequest:
		return "request"
	case KindAlert:
		return "alert"
	case KindStreamAdded:
		return "streamAdded"
	case KindStreamRemoved:
		return "streamRemoved"
	default:
		return "unknown"
	}
}

// Candidate is one normalized ICE candidate from a message.
type Candidate struct {
	Candidate string
	MID       string
}

// Message is the normalized view of one inbound wire message. Only the
// fields relevant to Kind are populated.
type Message struct {
	Kind    Kind
	UUID    string
	Session string

	// Offer/Answer
	Type string
	SDP  string

	// Candidate / Candidates
	Candidate  Candidate
	Candidates []Candidate

	// Request / Alert / membership events
	Request  string
	Alert    string
	StreamID string

	// Listing
	Listing []string
}

// midKeys are the key spellings different protocol versions use for an ICE
// candidate's media id.
var midKeys = []string{"mid", "sdpMid", "smid", "rmid"}

// streamIDKeys are the spellings used for stream identifiers, which may be
// plain ids or WHEP playback URLs.
var streamIDKeys = []string{"streamID", "streamId", "whep", "whepUrl", "url", "URL"}

// Parse normalizes one raw signaling message. Classification precedence
// follows the compatibility rules: listing, offer/answer by description
// type, single candidate, candidate bundle, named request (with alert and
// room-membership request names promoted to their own kinds), then legacy
// top-level alert/videoAddedToRoom/videoRemovedFromRoom keys. Anything else
// is KindUnknown; only malformed JSON is an error.
func Parse(raw []byte) (*Message, error) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("malformed signaling message: %w", err)
	}

	msg := &Message{
		UUID:    anyString(obj, "UUID", "uuid"),
		Session: anyString(obj, "session"),
	}

	if listing, ok := obj["listing"]; ok {
		msg.Kind = KindListing
		msg.Listing = parseListing(listing)
		return msg, nil
	}
	if listing, ok := obj["list"]; ok {
		msg.Kind = KindListing
		msg.Listing = parseListing(listing)
		return msg, nil
	}

	if desc, ok := obj["description"].(map[string]any); ok {
		msg.Type = anyString(desc, "type")
		msg.SDP = anyString(desc, "sdp")
	} else if _, ok := obj["sdp"]; ok {
		msg.Type = anyString(obj, "type")
		msg.SDP = anyString(obj, "sdp")
	}
	if msg.SDP != "" {
		switch msg.Type {
		case "offer":
			msg.Kind = KindOffer
			return msg, nil
		case "answer":
			msg.Kind = KindAnswer
			return msg, nil
		}
	}

	if rawCandidate, ok := obj["candidate"]; ok {
		msg.Kind = KindCandidate
		msg.Candidate = parseCandidate(rawCandidate, obj)
		return msg, nil
	}

	if rawBundle, ok := obj["candidates"]; ok {
		msg.Kind = KindCandidates
		if entries, ok := rawBundle.([]any); ok {
			for _, entry := range entries {
				candidate := parseCandidate(entry, obj)
				if candidate.Candidate != "" {
					msg.Candidates = append(msg.Candidates, candidate)
				}
			}
		}
		return msg, nil
	}

	if request := anyString(obj, "request"); request != "" {
		msg.Request = request
		msg.StreamID = streamIdentifier(obj)
		switch strings.ToLower(request) {
		case "alert", "error":
			msg.Kind = KindAlert
			msg.Alert = anyString(obj, "message", "alert", "value")
		case "videoaddedtoroom":
			msg.Kind = KindStreamAdded
		case "videoremovedfromroom":
			msg.Kind = KindStreamRemoved
		default:
			msg.Kind = KindRequest
		}
		return msg, nil
	}

	// Legacy top-level keys.
	if alert := anyString(obj, "alert"); alert != "" {
		msg.Kind = KindAlert
		msg.Alert = alert
		return msg, nil
	}
	if _, ok := obj["videoAddedToRoom"]; ok {
		msg.Kind = KindStreamAdded
		msg.StreamID = streamIdentifier(obj)
		return msg, nil
	}
	if _, ok := obj["videoRemovedFromRoom"]; ok {
		msg.Kind = KindStreamRemoved
		msg.StreamID = streamIdentifier(obj)
		return msg, nil
	}

	msg.Kind = KindUnknown
	return msg, nil
}

// parseCandidate accepts either an object payload or a bare candidate
// string; bare strings take their mid from the enclosing envelope.
func parseCandidate(raw any, envelope map[string]any) Candidate {
	switch v := raw.(type) {
	case map[string]any:
		return Candidate{
			Candidate: anyString(v, "candidate"),
			MID:       anyString(v, midKeys...),
		}
	case string:
		return Candidate{
			Candidate: v,
			MID:       anyString(envelope, midKeys...),
		}
	}
	return Candidate{}
}

// parseListing extracts stream identifiers from a listing array whose
// members may be bare strings or objects.
func parseListing(raw any) []string {
	entries, ok := raw.([]any)
	if !ok {
		return nil
	}
	var members []string
	for _, entry := range entries {
		switch v := entry.(type) {
		case string:
			if v != "" {
				members = append(members, v)
			}
		case map[string]any:
			if id := anyString(v, streamIDKeys...); id != "" {
				members = append(members, id)
			}
		}
	}
	return members
}

// streamIdentifier returns the first non-empty stream id spelling, looking
// through both the envelope itself and a nested value under the same keys.
func streamIdentifier(obj map[string]any) string {
	for _, key := range streamIDKeys {
		switch v := obj[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			if id := anyString(v, streamIDKeys...); id != "" {
				return id
			}
		}
	}
	return ""
}

// anyString returns the first key whose value is a non-empty string.
func anyString(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := obj[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
