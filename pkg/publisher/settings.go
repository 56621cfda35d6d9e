package publisher

import (
	"strings"

	"github.com/silviot/vdon_publisher_go/pkg/scene"
	"github.com/silviot/vdon_publisher_go/pkg/vdoutil"
)

// DefaultWSSHost is the public VDO.Ninja signaling relay.
const DefaultWSSHost = "wss://wss.vdo.ninja:443"

// AutoInboundSettings configures automatic scene management for the other
// streams in the room.
type AutoInboundSettings struct {
	Enabled            bool   `json:"enabled"`
	RoomID             string `json:"roomId,omitempty"`
	Password           string `json:"password,omitempty"`
	SourcePrefix       string `json:"sourcePrefix,omitempty"`
	BaseURL            string `json:"baseUrl,omitempty"`
	RemoveOnDisconnect bool   `json:"removeOnDisconnect"`
	Width              int    `json:"width,omitempty"`
	Height             int    `json:"height,omitempty"`
}

// Settings is everything needed to publish one stream.
type Settings struct {
	StreamID string `json:"streamId"`
	RoomID   string `json:"roomId,omitempty"`
	Password string `json:"password,omitempty"`
	WSSHost  string `json:"wssHost,omitempty"`
	Salt     string `json:"salt,omitempty"`
	// StreamKey is the combined VDO.Ninja identifier form, either
	// pipe-delimited (streamid|password|roomid|salt|wsshost) or a full
	// push/view URL. Fields parsed from it never override explicitly
	// set ones.
	StreamKey string `json:"streamKey,omitempty"`

	BitrateKbps   int    `json:"bitrateKbps,omitempty"`
	MaxViewers    int    `json:"maxViewers,omitempty"`
	AutoReconnect bool   `json:"autoReconnect"`
	ForceTURN     bool   `json:"forceTurn"`
	EnableRemote  bool   `json:"enableRemote"`
	ICEServers    string `json:"iceServers,omitempty"`

	AutoInbound AutoInboundSettings `json:"autoInbound"`
}

// DefaultSettings returns the settings applied when fields are left zero.
func DefaultSettings() Settings {
	return Settings{
		WSSHost:       DefaultWSSHost,
		Salt:          vdoutil.DefaultSalt,
		BitrateKbps:   4000,
		MaxViewers:    10,
		AutoReconnect: true,
		AutoInbound: AutoInboundSettings{
			RemoveOnDisconnect: true,
			Width:              1920,
			Height:             1080,
		},
	}
}

// Normalize applies the stream key and fills defaults. Called once when
// the publisher snapshots settings at start.
func (s *Settings) Normalize() {
	if s.StreamKey != "" {
		applyStreamKey(s, s.StreamKey)
	}
	if s.WSSHost == "" {
		s.WSSHost = DefaultWSSHost
	}
	if s.Salt == "" {
		s.Salt = vdoutil.DefaultSalt
	}
	s.Salt = strings.TrimSpace(s.Salt)
	if s.BitrateKbps <= 0 {
		s.BitrateKbps = 4000
	}
	if s.MaxViewers <= 0 {
		s.MaxViewers = 10
	}
	if s.AutoInbound.SourcePrefix == "" {
		s.AutoInbound.SourcePrefix = "VDO"
	}
	if s.AutoInbound.BaseURL == "" {
		s.AutoInbound.BaseURL = vdoutil.DefaultBaseURL
	}
	if s.AutoInbound.Password == "" {
		s.AutoInbound.Password = s.Password
	}
	if s.AutoInbound.RoomID == "" {
		s.AutoInbound.RoomID = s.RoomID
	}
	if s.AutoInbound.Width <= 0 {
		s.AutoInbound.Width = 1920
	}
	if s.AutoInbound.Height <= 0 {
		s.AutoInbound.Height = 1080
	}
}

// sceneSettings maps the auto-inbound block onto the scene manager's
// configuration, inheriting room, password and salt from the main block.
func (s *Settings) sceneSettings() scene.Settings {
	return scene.Settings{
		Enabled:            s.AutoInbound.Enabled,
		BaseURL:            s.AutoInbound.BaseURL,
		Password:           s.AutoInbound.Password,
		RoomID:             s.AutoInbound.RoomID,
		Salt:               s.Salt,
		SourcePrefix:       s.AutoInbound.SourcePrefix,
		Width:              s.AutoInbound.Width,
		Height:             s.AutoInbound.Height,
		RemoveOnDisconnect: s.AutoInbound.RemoveOnDisconnect,
	}
}

// ownStreamIDs lists every identifier our stream may appear under in a
// room listing: plaintext, hashed with the configured password, and
// hashed with the service default password.
func (s *Settings) ownStreamIDs() []string {
	return []string{
		s.StreamID,
		vdoutil.HashStreamID(s.StreamID, s.Password, s.Salt),
		vdoutil.HashStreamID(s.StreamID, vdoutil.DefaultPassword, s.Salt),
	}
}

// applyStreamKey parses the combined identifier form, filling only fields
// that are still empty.
func applyStreamKey(s *Settings, key string) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}

	hasQuery := strings.Contains(key, "?")
	looksLikeURL := hasPrefixFold(key, "https://") || hasPrefixFold(key, "http://") ||
		(hasQuery && (strings.Contains(key, "push=") || strings.Contains(key, "view=")))

	if !looksLikeURL {
		parts := strings.Split(key, "|")
		if len(parts) > 1 {
			setIfEmpty(&s.StreamID, parts[0])
			setIfEmpty(&s.Password, parts[1])
			if len(parts) > 2 {
				setIfEmpty(&s.RoomID, parts[2])
			}
			if len(parts) > 3 {
				setIfEmpty(&s.Salt, parts[3])
			}
			if len(parts) > 4 {
				setIfEmpty(&s.WSSHost, parts[4])
			}
			return
		}
		setIfEmpty(&s.StreamID, key)
		return
	}

	if s.StreamID == "" {
		if push := queryValue(key, "push"); push != "" {
			s.StreamID = push
		} else if view := queryValue(key, "view"); view != "" {
			s.StreamID = view
		}
	}
	if s.Password == "" {
		s.Password = queryValue(key, "password")
		if s.Password == "" {
			// Common misspelling seen in the wild.
			s.Password = queryValue(key, "pasword")
		}
	}
	setIfEmpty(&s.RoomID, queryValue(key, "room"))
	setIfEmpty(&s.Salt, queryValue(key, "salt"))
	if s.WSSHost == "" {
		for _, param := range []string{"wss", "wss_host", "server", "signaling"} {
			if host := queryValue(key, param); host != "" {
				s.WSSHost = host
				break
			}
		}
	}
}

func setIfEmpty(dst *string, value string) {
	if *dst == "" {
		*dst = strings.TrimSpace(value)
	}
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// queryValue extracts one query parameter from a URL without rejecting
// the loosely formed links users paste.
func queryValue(url, param string) string {
	idx := strings.IndexByte(url, '?')
	if idx < 0 || idx+1 >= len(url) {
		return ""
	}
	prefix := param + "="
	for _, pair := range strings.Split(url[idx+1:], "&") {
		if strings.HasPrefix(pair, prefix) {
			return vdoutil.URLDecode(pair[len(prefix):])
		}
	}
	return ""
}
