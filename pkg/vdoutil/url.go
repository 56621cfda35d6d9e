package vdoutil

import "strings"

// BuildViewURL constructs the browser-source URL for viewing an inbound
// stream. Stream identifiers that are already playback URLs are passed
// through: http(s):// verbatim and whep: with the prefix stripped.
func BuildViewURL(baseURL, streamID, password, roomID, salt string) string {
	if strings.HasPrefix(streamID, "http://") || strings.HasPrefix(streamID, "https://") {
		return streamID
	}
	if strings.HasPrefix(streamID, "whep:") {
		return streamID[len("whep:"):]
	}

	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	normalizedPassword := strings.TrimSpace(password)
	viewID := DeriveViewStreamID(streamID, normalizedPassword, salt)

	url := baseURL + "/?view=" + URLEncode(viewID)
	if roomID != "" {
		url += "&solo&room=" + URLEncode(roomID)
	}
	if normalizedPassword != "" {
		if IsPasswordDisabled(normalizedPassword) {
			url += "&password=false"
		} else {
			url += "&password=" + URLEncode(normalizedPassword)
		}
	}
	return url
}
