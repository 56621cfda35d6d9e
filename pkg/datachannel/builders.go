package datachannel

import (
	"encoding/json"

	"github.com/silviot/vdon_publisher_go/pkg/vdoutil"
)

func marshal(body map[string]any) string {
	enc, err := json.Marshal(body)
	if err != nil {
		return "{}"
	}
	return string(enc)
}

// ChatMessage builds an outbound chat frame.
func ChatMessage(text string) string {
	return marshal(map[string]any{
		"chat":      text,
		"timestamp": vdoutil.CurrentTimeMs(),
	})
}

// TallyMessage builds an outbound tally frame. Program wins over preview;
// neither yields an explicit tallyOff.
func TallyMessage(state TallyState) string {
	body := map[string]any{}
	switch {
	case state.Program:
		body["tallyOn"] = true
	case state.Preview:
		body["tallyPreview"] = true
	default:
		body["tallyOff"] = true
	}
	return marshal(body)
}

// MuteMessage builds an outbound mute-state frame.
func MuteMessage(audioMuted, videoMuted bool) string {
	return marshal(map[string]any{
		"audioMuted": audioMuted,
		"videoMuted": videoMuted,
	})
}

// KeyframeRequest builds a frame asking the remote encoder for an IDR.
func KeyframeRequest() string {
	return marshal(map[string]any{"requestKeyframe": true})
}

// CustomMessage builds a typed application payload frame.
func CustomMessage(msgType, data string) string {
	return marshal(map[string]any{
		"type":      msgType,
		"data":      data,
		"timestamp": vdoutil.CurrentTimeMs(),
	})
}
