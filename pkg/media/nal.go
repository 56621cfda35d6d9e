// Package media models pre-encoded access units and turns them into RTP:
// H.264 NAL extraction (Annex-B or length-prefixed, auto-detected), FU-A
// fragmentation for oversized units, and fixed-cadence Opus packetization.
// It does not decode or re-encode payloads.
package media

// H.264 NAL unit types this package cares about.
const (
	NALTypeIDR = 5
	NALTypeSPS = 7
	NALTypePPS = 8

	naluTypeFUA = 28
)

// startCodeAt reports the length (3 or 4) of an Annex-B start code at pos,
// or 0.
func startCodeAt(data []byte, pos int) int {
	if pos+3 <= len(data) && data[pos] == 0 && data[pos+1] == 0 && data[pos+2] == 1 {
		return 3
	}
	if pos+4 <= len(data) && data[pos] == 0 && data[pos+1] == 0 && data[pos+2] == 0 && data[pos+3] == 1 {
		return 4
	}
	return 0
}

func findStartCode(data []byte, from int) (pos, length int) {
	for p := from; p < len(data); p++ {
		if l := startCodeAt(data, p); l > 0 {
			return p, l
		}
	}
	return len(data), 0
}

func splitAnnexB(data []byte) [][]byte {
	start, startLen := findStartCode(data, 0)
	if start == len(data) {
		return nil
	}

	var nalus [][]byte
	for start < len(data) {
		nalStart := start + startLen
		nextStart, nextLen := findStartCode(data, nalStart)

		// Trim alignment zeros before the next start code.
		nalEnd := nextStart
		for nalEnd > nalStart && data[nalEnd-1] == 0 {
			nalEnd--
		}
		if nalEnd > nalStart {
			nalus = append(nalus, data[nalStart:nalEnd])
		}

		if nextStart == len(data) {
			break
		}
		start, startLen = nextStart, nextLen
	}
	return nalus
}

// splitAVCC parses 4-byte big-endian length-prefixed NAL units. The buffer
// must be consumed exactly or the framing guess is rejected.
func splitAVCC(data []byte) [][]byte {
	if len(data) < 4 {
		return nil
	}

	var nalus [][]byte
	offset := 0
	for offset+4 <= len(data) {
		nalSize := int(data[offset])<<24 | int(data[offset+1])<<16 | int(data[offset+2])<<8 | int(data[offset+3])
		offset += 4
		if nalSize == 0 {
			continue
		}
		if offset+nalSize > len(data) {
			return nil
		}
		nalus = append(nalus, data[offset:offset+nalSize])
		offset += nalSize
	}
	if offset != len(data) {
		return nil
	}
	return nalus
}

// SplitNALUnits extracts the NAL units of one encoded access unit,
// auto-detecting Annex-B start codes or AVCC length prefixes. An
// unrecognized buffer is returned as a single NAL unit.
func SplitNALUnits(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	if nalus := splitAnnexB(data); len(nalus) > 0 {
		return nalus
	}
	if nalus := splitAVCC(data); len(nalus) > 0 {
		return nalus
	}
	return [][]byte{data}
}

// NALType returns the type bits of one NAL unit.
func NALType(nalu []byte) byte {
	if len(nalu) == 0 {
		return 0
	}
	return nalu[0] & 0x1F
}

// ContainsKeyframe reports whether an access unit carries IDR, SPS, or PPS
// units, i.e. everything a fresh decoder needs.
func ContainsKeyframe(data []byte) bool {
	for _, nalu := range SplitNALUnits(data) {
		switch NALType(nalu) {
		case NALTypeIDR, NALTypeSPS, NALTypePPS:
			return true
		}
	}
	return false
}
