package peer

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/silviot/vdon_publisher_go/pkg/media"
)

const (
	// dataChannelName matches the channel name VDO.Ninja clients expect.
	dataChannelName = "sendChannel"

	// candidateFlushThreshold bounds how many local ICE candidates
	// accumulate before a bundle is flushed to signaling.
	candidateFlushThreshold = 5
)

// bundledCandidate is one locally gathered ICE candidate plus the session
// token captured at gather time, so a flush after session rotation still
// labels the candidate with the session it belongs to.
type bundledCandidate struct {
	candidate string
	mid       string
	session   string
}

// Peer is one remote connection. Mutable fields are guarded by the
// manager's peer lock except where noted.
type Peer struct {
	uuid    string
	session string
	role    Role
	state   State

	pc          *webrtc.PeerConnection
	videoTrack  *webrtc.TrackLocalStaticRTP
	audioTrack  *webrtc.TrackLocalStaticRTP
	dataChannel *webrtc.DataChannel
	dcOpen      bool

	// sendMu serializes the media send path for this peer. Sequence
	// numbers and the keyframe gate are peer-local so one slow or
	// disconnected peer never corrupts another's RTP stream.
	sendMu                sync.Mutex
	awaitingVideoKeyframe bool
	video                 media.H264Packetizer
	audio                 media.OpusPacketizer

	// bundleMu guards the local candidate bundle independently of the
	// peer map lock; pion's gathering callback must never contend with
	// signaling-driven map mutation.
	bundleMu   sync.Mutex
	bundle     []bundledCandidate
	gatherDone bool
}

// addLocalCandidate appends one gathered candidate and reports whether the
// bundle reached the flush threshold. A nil return from pion (gathering
// complete) is handled by the caller.
func (p *Peer) addLocalCandidate(candidate, mid, session string) (flush []bundledCandidate) {
	p.bundleMu.Lock()
	defer p.bundleMu.Unlock()
	if p.gatherDone {
		// Late candidate after gathering completed; send it on its own.
		return []bundledCandidate{{candidate: candidate, mid: mid, session: session}}
	}
	p.bundle = append(p.bundle, bundledCandidate{candidate: candidate, mid: mid, session: session})
	if len(p.bundle) >= candidateFlushThreshold {
		flush = p.bundle
		p.bundle = nil
	}
	return flush
}

// drainCandidates returns everything accumulated and marks gathering done.
func (p *Peer) drainCandidates() []bundledCandidate {
	p.bundleMu.Lock()
	defer p.bundleMu.Unlock()
	p.gatherDone = true
	flush := p.bundle
	p.bundle = nil
	return flush
}

// sendVideo packetizes one access unit and writes it to the peer's video
// track. Delta frames are dropped while the peer is still waiting for a
// keyframe; the first keyframe clears the gate. Returns false when the
// frame was gated off.
func (p *Peer) sendVideo(data []byte, timestampMS int64, keyframe bool) bool {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	if p.awaitingVideoKeyframe {
		if !keyframe {
			return false
		}
		p.awaitingVideoKeyframe = false
	}

	for _, pkt := range p.video.PacketizeFrame(data, timestampMS) {
		if err := p.videoTrack.WriteRTP(pkt); err != nil {
			return false
		}
	}
	return true
}

// sendAudio writes one encoded Opus frame to the peer's audio track.
// Empty frames packetize to nil and are dropped.
func (p *Peer) sendAudio(data []byte, timestampMS int64) bool {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	pkt := p.audio.PacketizeFrame(data, timestampMS)
	if pkt == nil {
		return false
	}
	return p.audioTrack.WriteRTP(pkt) == nil
}

// markAwaitingKeyframe re-arms the keyframe gate, e.g. after the remote
// requested a keyframe over the data channel.
func (p *Peer) markAwaitingKeyframe() {
	p.sendMu.Lock()
	p.awaitingVideoKeyframe = true
	p.sendMu.Unlock()
}
