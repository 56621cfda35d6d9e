package vdoutil

import (
	"fmt"
	"strings"
)

// ModifySDPBitrate inserts a b=AS bandwidth line after the m=video section
// header. bitrate is in bits per second; b=AS is expressed in kbps.
func ModifySDPBitrate(sdp string, bitrate int) string {
	videoPos := strings.Index(sdp, "m=video")
	if videoPos < 0 {
		return sdp
	}
	lineEnd := strings.Index(sdp[videoPos:], "\r\n")
	if lineEnd < 0 {
		return sdp
	}
	insertAt := videoPos + lineEnd + 2
	return sdp[:insertAt] + fmt.Sprintf("b=AS:%d\r\n", bitrate/1000) + sdp[insertAt:]
}

// ExtractMID returns the a=mid: value of the first section of the given
// media type ("video" or "audio"), or "" when absent.
func ExtractMID(sdp, mediaType string) string {
	pos := strings.Index(sdp, "m="+mediaType)
	if pos < 0 {
		return ""
	}
	midPos := strings.Index(sdp[pos:], "a=mid:")
	if midPos < 0 {
		return ""
	}
	rest := sdp[pos+midPos+len("a=mid:"):]
	if end := strings.IndexAny(rest, "\r\n"); end >= 0 {
		return rest[:end]
	}
	return ""
}
