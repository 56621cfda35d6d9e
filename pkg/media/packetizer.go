package media

import "github.com/pion/rtp"

const (
	// H264PayloadType and OpusPayloadType are the dynamic payload types the
	// viewer side expects.
	H264PayloadType = 96
	OpusPayloadType = 111

	// VideoClockRate is the RTP clock for H.264; AudioClockRate for Opus.
	VideoClockRate = 90000
	AudioClockRate = 48000

	// maxRTPPayload is the largest NAL unit sent in a single packet; larger
	// units are FU-A fragmented with two bytes of FU overhead per packet.
	maxRTPPayload  = 1200
	maxFUAFragment = maxRTPPayload - 2

	// videoFallbackTicks advances the 90kHz clock when a frame has no
	// timestamp (~30fps); audioFallbackTicks is one 20ms Opus frame.
	videoFallbackTicks = 3000
	audioFallbackTicks = 960
)

// H264Packetizer turns encoded H.264 access units into RTP packets. Each
// stream (one per peer) owns its packetizer so sequence numbers and
// timestamps never interleave across viewers.
type H264Packetizer struct {
	sequence  uint16
	timestamp uint32
}

// PacketizeFrame packetizes one access unit. timestampMS < 0 advances the
// fallback cadence instead. The RTP marker is set only on the final packet
// of the final NAL unit so frame reassembly is unambiguous downstream.
func (p *H264Packetizer) PacketizeFrame(data []byte, timestampMS int64) []*rtp.Packet {
	nalus := SplitNALUnits(data)
	if len(nalus) == 0 {
		return nil
	}

	ts := p.timestamp
	if timestampMS >= 0 {
		ts = uint32(timestampMS * (VideoClockRate / 1000))
	}
	p.timestamp = ts + videoFallbackTicks

	var packets []*rtp.Packet
	for i, nalu := range nalus {
		lastNAL := i+1 == len(nalus)
		if len(nalu) <= maxRTPPayload {
			packets = append(packets, p.packet(ts, lastNAL, nalu))
			continue
		}
		if len(nalu) <= 1 {
			continue
		}

		nalHeader := nalu[0]
		fuIndicator := (nalHeader & 0xE0) | naluTypeFUA
		nalType := nalHeader & 0x1F

		offset := 1
		for offset < len(nalu) {
			chunk := len(nalu) - offset
			if chunk > maxFUAFragment {
				chunk = maxFUAFragment
			}
			start := offset == 1
			end := offset+chunk >= len(nalu)

			payload := make([]byte, 2+chunk)
			payload[0] = fuIndicator
			payload[1] = nalType
			if start {
				payload[1] |= 0x80
			}
			if end {
				payload[1] |= 0x40
			}
			copy(payload[2:], nalu[offset:offset+chunk])

			packets = append(packets, p.packet(ts, end && lastNAL, payload))
			offset += chunk
		}
	}
	return packets
}

func (p *H264Packetizer) packet(timestamp uint32, marker bool, payload []byte) *rtp.Packet {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    H264PayloadType,
			SequenceNumber: p.sequence,
			Timestamp:      timestamp,
			Marker:         marker,
		},
		Payload: payload,
	}
	p.sequence++
	return pkt
}

// OpusPacketizer wraps already-encoded Opus frames in RTP headers at a
// fixed 48kHz/20ms cadence when the caller supplies no timestamp.
type OpusPacketizer struct {
	sequence  uint16
	timestamp uint32
}

// PacketizeFrame wraps one Opus frame. timestampMS < 0 advances the 20ms
// fallback cadence.
func (p *OpusPacketizer) PacketizeFrame(data []byte, timestampMS int64) *rtp.Packet {
	if len(data) == 0 {
		return nil
	}

	ts := p.timestamp
	if timestampMS >= 0 {
		ts = uint32(timestampMS * (AudioClockRate / 1000))
	}
	p.timestamp = ts + audioFallbackTicks

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    OpusPayloadType,
			SequenceNumber: p.sequence,
			Timestamp:      ts,
		},
		Payload: data,
	}
	p.sequence++
	return pkt
}
