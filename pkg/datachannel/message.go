// Package datachannel classifies and builds the JSON text frames VDO.Ninja
// peers exchange over WebRTC data channels: chat, tally, mute, keyframe
// requests, stats, remote control and custom payloads.
package datachannel

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/silviot/vdon_publisher_go/pkg/vdoutil"
)

// Kind identifies the payload carried by one data-channel frame.
type Kind int

const (
	KindUnknown Kind = iota
	KindChat
	KindTally
	KindKeyframeRequest
	KindMute
	KindStats
	KindRemoteControl
	KindCustom
)

func (k Kind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindTally:
		return "tally"
	case KindKeyframeRequest:
		return "keyframeRequest"
	case KindMute:
		return "mute"
	case KindStats:
		return "stats"
	case KindRemoteControl:
		return "remoteControl"
	case KindCustom:
		return "custom"
	}
	return "unknown"
}

// TallyState mirrors the program/preview tally lights of a mixer.
type TallyState struct {
	Program bool
	Preview bool
}

// MuteState carries a peer's reported mute flags.
type MuteState struct {
	Audio bool
	Video bool
}

// Command is one remote-control instruction, already normalized.
type Command struct {
	Action string
	Value  string
}

// Message is one classified data-channel frame.
type Message struct {
	Kind        Kind
	TimestampMS int64

	Chat       string
	Tally      TallyState
	Mute       MuteState
	Stats      json.RawMessage
	Control    Command
	CustomData string
}

// legacyRemoteActions is the action whitelist for old payloads that put
// the action under a bare "remote" key. Lowercased for comparison.
var legacyRemoteActions = map[string]struct{}{
	"nextscene":       {},
	"prevscene":       {},
	"setscene":        {},
	"setcurrentscene": {},
	"startstreaming":  {},
	"stopstreaming":   {},
	"startrecording":  {},
	"stoprecording":   {},
	"startvirtualcam": {},
	"stopvirtualcam":  {},
	"mute":            {},
	"unmute":          {},
}

// Parse classifies one inbound frame. The only error is malformed JSON;
// an unrecognized shape yields KindUnknown.
func Parse(raw []byte) (*Message, error) {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("malformed data message: %w", err)
	}

	msg := &Message{Kind: KindUnknown, TimestampMS: vdoutil.CurrentTimeMs()}

	switch {
	case hasAny(body, "chat", "chatMessage"):
		msg.Kind = KindChat
		msg.Chat = firstString(body, "chat", "chatMessage")
	case hasAny(body, "tally", "tallyOn", "tallyOff", "tallyPreview"):
		msg.Kind = KindTally
		msg.Tally = parseTally(body)
	case hasAny(body, "requestKeyframe", "keyframe"):
		msg.Kind = KindKeyframeRequest
	case hasAny(body, "muted", "audioMuted", "videoMuted"):
		msg.Kind = KindMute
		msg.Mute = parseMute(body)
	case hasAny(body, "stats"):
		msg.Kind = KindStats
		if enc, err := json.Marshal(body["stats"]); err == nil {
			msg.Stats = enc
		}
	case isRemoteControl(body):
		cmd, ok := parseRemoteControl(body)
		if !ok {
			return msg, nil
		}
		msg.Kind = KindRemoteControl
		msg.Control = cmd
	case hasAny(body, "custom", "type"):
		msg.Kind = KindCustom
		msg.CustomData = firstString(body, "data", "custom")
	}

	return msg, nil
}

func hasAny(body map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := body[k]; ok {
			return true
		}
	}
	return false
}

func firstString(body map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := body[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func boolValue(body map[string]any, key string) bool {
	b, _ := body[key].(bool)
	return b
}

func parseTally(body map[string]any) TallyState {
	state := TallyState{
		Program: boolValue(body, "tallyOn"),
		Preview: boolValue(body, "tallyPreview"),
	}
	// tallyOff wins over anything else in the same frame.
	if boolValue(body, "tallyOff") {
		state.Program = false
		state.Preview = false
	}
	return state
}

func parseMute(body map[string]any) MuteState {
	audio := boolValue(body, "audioMuted")
	if _, ok := body["audioMuted"]; !ok {
		audio = boolValue(body, "muted")
	}
	return MuteState{Audio: audio, Video: boolValue(body, "videoMuted")}
}

func isRemoteControl(body map[string]any) bool {
	if hasAny(body, "obsCommand", "action") {
		return true
	}
	return hasAny(body, "remote") && hasAny(body, "scene", "value")
}

func parseRemoteControl(body map[string]any) (Command, bool) {
	var action, value string

	if obj, ok := body["obsCommand"].(map[string]any); ok {
		action = strings.TrimSpace(firstString(obj, "action"))
		value = strings.TrimSpace(firstString(obj, "value"))
	}
	if action == "" {
		action = strings.TrimSpace(firstString(body, "action"))
	}
	if value == "" {
		if s, ok := body["value"].(string); ok {
			value = strings.TrimSpace(s)
		} else if s, ok := body["scene"].(string); ok {
			value = strings.TrimSpace(s)
		}
	}

	// Older payloads put the action under "remote"; only a known action
	// is accepted from that key.
	if action == "" {
		remote := strings.TrimSpace(firstString(body, "remote"))
		if _, ok := legacyRemoteActions[strings.ToLower(remote)]; ok {
			action = remote
		}
	}

	if action == "setCurrentScene" {
		action = "setScene"
	}
	if action == "" {
		return Command{}, false
	}
	return Command{Action: action, Value: value}, true
}
