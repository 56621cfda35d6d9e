// Package peer manages the WebRTC peer connections behind one published
// stream: offer/answer negotiation, ICE candidate bundling, per-viewer
// RTP fan-out with keyframe gating, and data channels.
package peer

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/silviot/vdon_publisher_go/pkg/vdoutil"
)

// Config carries the construction parameters for a Manager.
type Config struct {
	// ICEServers used for every peer connection.
	ICEServers []vdoutil.ICEServer
	// ForceTURN restricts ICE to relay candidates.
	ForceTURN bool
	// BitrateKbps is advertised to viewers via a b=AS line in outgoing
	// offers. Zero leaves the SDP untouched.
	BitrateKbps int
	// Signaler sends negotiation messages; required.
	Signaler Signaler
	// Events receives lifecycle and data-channel notifications.
	// Defaults to NopEvents.
	Events Events
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Manager owns the peer map and all negotiation policy.
type Manager struct {
	logger      *slog.Logger
	iceServers  []webrtc.ICEServer
	forceTURN   bool
	bitrateKbps int

	// mu guards the peer map and per-peer lifecycle state.
	mu         sync.RWMutex
	peers      map[string]*Peer
	publishing bool
	maxViewers int

	// cbMu guards the callback targets separately from the peer map so
	// invoking a callback never requires the map lock.
	cbMu     sync.Mutex
	signaler Signaler
	events   Events

	shuttingDown atomic.Bool
}

// NewManager creates a peer manager. cfg.Signaler must be non-nil.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Signaler == nil {
		return nil, fmt.Errorf("peer: Signaler is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	events := cfg.Events
	if events == nil {
		events = NopEvents{}
	}

	var servers []webrtc.ICEServer
	for _, s := range cfg.ICEServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{s.URL},
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	return &Manager{
		logger:      logger,
		iceServers:  servers,
		forceTURN:   cfg.ForceTURN,
		bitrateKbps: cfg.BitrateKbps,
		peers:       make(map[string]*Peer),
		signaler:    cfg.Signaler,
		events:      events,
	}, nil
}

// StartPublishing enables publisher mode with the given viewer capacity.
func (m *Manager) StartPublishing(maxViewers int) {
	if maxViewers <= 0 {
		maxViewers = 1
	}
	m.mu.Lock()
	m.publishing = true
	m.maxViewers = maxViewers
	m.mu.Unlock()
	m.logger.Info("publishing started", "maxViewers", maxViewers)
}

// StopPublishing disables publisher mode and tears down publisher-type
// peers. Viewer-type peers are unaffected. Peers are collected under the
// lock but closed outside it; closing a connection fires its own state
// callback, which wants the same lock.
func (m *Manager) StopPublishing() {
	m.mu.Lock()
	m.publishing = false
	var doomed []*Peer
	for uuid, p := range m.peers {
		if p.role == RolePublisher {
			p.state = StateClosed
			doomed = append(doomed, p)
			delete(m.peers, uuid)
		}
	}
	m.mu.Unlock()

	for _, p := range doomed {
		if err := p.pc.Close(); err != nil {
			m.logger.Error("failed to close peer", "uuid", p.uuid, "error", err)
		}
	}
	if len(doomed) > 0 {
		m.logger.Info("publishing stopped", "peersClosed", len(doomed))
	}
}

// IsPublishing reports whether publisher mode is active.
func (m *Manager) IsPublishing() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.publishing
}

// MaxViewers returns the configured capacity.
func (m *Manager) MaxViewers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxViewers
}

// slotCountLocked counts peers that occupy a capacity slot.
func (m *Manager) slotCountLocked() int {
	n := 0
	for _, p := range m.peers {
		if !p.state.terminal() {
			n++
		}
	}
	return n
}

// HandleOfferRequest reacts to a viewer asking to receive our stream.
// Policy: ignored when not publishing; a stale peer (terminal state or
// rotated session) is torn down and recreated; a request over capacity is
// rejected without creating a peer; a duplicate request for a Connected
// peer on the same session is ignored.
func (m *Manager) HandleOfferRequest(uuid, session string) error {
	if m.shuttingDown.Load() {
		return nil
	}

	m.mu.Lock()
	if !m.publishing {
		m.mu.Unlock()
		m.logger.Debug("offer request while not publishing, ignoring", "uuid", uuid)
		return nil
	}

	var stale *Peer
	if existing, ok := m.peers[uuid]; ok {
		if existing.state.terminal() || existing.session != session {
			m.logger.Info("recreating peer",
				"uuid", uuid, "state", existing.state.String(),
				"sessionRotated", existing.session != session)
			existing.state = StateClosed
			stale = existing
			delete(m.peers, uuid)
		} else {
			m.mu.Unlock()
			m.logger.Debug("duplicate offer request, ignoring",
				"uuid", uuid, "state", existing.state.String())
			return nil
		}
	}

	if m.slotCountLocked() >= m.maxViewers {
		m.mu.Unlock()
		if stale != nil {
			_ = stale.pc.Close()
		}
		m.logger.Warn("viewer capacity reached, rejecting offer request",
			"uuid", uuid, "maxViewers", m.maxViewers)
		return nil
	}

	p, err := m.createPeerLocked(uuid, session, RolePublisher)
	if err != nil {
		m.mu.Unlock()
		if stale != nil {
			_ = stale.pc.Close()
		}
		return err
	}
	p.state = StateConnecting
	m.mu.Unlock()

	if stale != nil {
		if err := stale.pc.Close(); err != nil {
			m.logger.Error("failed to close stale peer", "uuid", uuid, "error", err)
		}
	}

	if err := m.negotiateOffer(p, uuid, session); err != nil {
		m.removePeer(p, StateFailed)
		return err
	}
	return nil
}

// negotiateOffer creates and sends the local offer for a publisher peer.
func (m *Manager) negotiateOffer(p *Peer, uuid, session string) error {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	// The bitrate cap is advertised to the remote only; the local
	// description stays as generated.
	sdp := offer.SDP
	if m.bitrateKbps > 0 {
		sdp = vdoutil.ModifySDPBitrate(sdp, m.bitrateKbps*1000)
	}

	m.cbMu.Lock()
	signaler := m.signaler
	m.cbMu.Unlock()
	if signaler == nil {
		return nil
	}
	if err := signaler.SendOffer(uuid, session, sdp); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}
	m.logger.Info("offer sent", "uuid", uuid, "session", session)
	return nil
}

// HandleAnswer applies a remote answer to the matching publisher peer. A
// session mismatch is tolerated (logged) while the peer is still
// negotiating but rejected once it is Connected, protecting an active
// session from a late or duplicate answer.
func (m *Manager) HandleAnswer(uuid, session, sdp string) error {
	m.mu.RLock()
	p, ok := m.peers[uuid]
	var state State
	var peerSession string
	if ok {
		state = p.state
		peerSession = p.session
	}
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("answer for unknown peer %q", uuid)
	}
	if peerSession != session {
		if state == StateConnected {
			m.logger.Warn("answer with mismatched session for connected peer, rejecting",
				"uuid", uuid)
			return nil
		}
		m.logger.Info("answer with mismatched session while negotiating, accepting",
			"uuid", uuid)
	}

	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

// HandleOffer handles an inbound offer when acting as a viewer: create or
// reuse a viewer-type peer, apply the remote description and answer.
func (m *Manager) HandleOffer(uuid, session, sdp string) error {
	if m.shuttingDown.Load() {
		return nil
	}

	m.mu.Lock()
	p, ok := m.peers[uuid]
	if ok && (p.state.terminal() || p.session != session) {
		p.state = StateClosed
		stale := p
		delete(m.peers, uuid)
		ok = false
		defer func() { _ = stale.pc.Close() }()
	}
	if !ok {
		var err error
		p, err = m.createPeerLocked(uuid, session, RoleViewer)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		p.state = StateConnecting
	}
	m.mu.Unlock()

	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	m.cbMu.Lock()
	signaler := m.signaler
	m.cbMu.Unlock()
	if signaler == nil {
		return nil
	}
	if err := signaler.SendAnswer(uuid, session, answer.SDP); err != nil {
		return fmt.Errorf("send answer: %w", err)
	}
	return nil
}

// HandleRemoteCandidate adds a remote ICE candidate to the matching peer.
func (m *Manager) HandleRemoteCandidate(uuid, session, candidate, mid string) error {
	m.mu.RLock()
	p, ok := m.peers[uuid]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("candidate for unknown peer %q", uuid)
	}
	if p.session != session {
		m.logger.Debug("candidate with mismatched session", "uuid", uuid)
	}

	init := webrtc.ICECandidateInit{Candidate: candidate}
	if mid != "" {
		init.SDPMid = &mid
	}
	return p.pc.AddICECandidate(init)
}

// createPeerLocked builds a peer connection. Caller holds m.mu.
func (m *Manager) createPeerLocked(uuid, session string, role Role) (*Peer, error) {
	se := webrtc.SettingEngine{}
	se.SetReceiveMTU(16384)
	se.SetSRTPReplayProtectionWindow(1024)

	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	rtcConfig := webrtc.Configuration{ICEServers: m.iceServers}
	if m.forceTURN {
		rtcConfig.ICETransportPolicy = webrtc.ICETransportPolicyRelay
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(se), webrtc.WithMediaEngine(me))
	pc, err := api.NewPeerConnection(rtcConfig)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	p := &Peer{
		uuid:                  uuid,
		session:               session,
		role:                  role,
		state:                 StateNew,
		pc:                    pc,
		awaitingVideoKeyframe: true,
	}

	if role == RolePublisher {
		if err := m.attachSendTracks(p); err != nil {
			_ = pc.Close()
			return nil, err
		}
		dc, err := pc.CreateDataChannel(dataChannelName, nil)
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("create data channel: %w", err)
		}
		m.attachDataChannelLocked(p, dc)
	} else {
		// Viewer side: the remote opens whichever channel it likes.
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			m.attachDataChannel(p, dc)
		})
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		m.onLocalCandidate(p, c)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.onConnectionStateChange(p, state)
	})

	m.peers[uuid] = p
	m.logger.Info("peer created", "uuid", uuid, "session", session, "role", role.String())
	return p, nil
}

// attachSendTracks adds the H.264 and Opus send tracks and drains RTCP so
// interceptor feedback keeps flowing.
func (m *Manager) attachSendTracks(p *Peer) error {
	videoTrack, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
		MimeType:    webrtc.MimeTypeH264,
		ClockRate:   90000,
		SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
	}, "video", "vdon-stream")
	if err != nil {
		return fmt.Errorf("create video track: %w", err)
	}
	audioTrack, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, "audio", "vdon-stream")
	if err != nil {
		return fmt.Errorf("create audio track: %w", err)
	}

	for _, track := range []*webrtc.TrackLocalStaticRTP{videoTrack, audioTrack} {
		sender, err := p.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("add track: %w", err)
		}
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := sender.Read(buf); err != nil {
					return
				}
			}
		}()
	}

	p.videoTrack = videoTrack
	p.audioTrack = audioTrack
	return nil
}

// attachDataChannel wires an inbound channel delivered by pion's
// OnDataChannel callback, which fires without the peer lock held.
func (m *Manager) attachDataChannel(p *Peer, dc *webrtc.DataChannel) {
	m.mu.Lock()
	m.attachDataChannelLocked(p, dc)
	m.mu.Unlock()
}

// attachDataChannelLocked stores the channel and registers its handlers.
// Caller holds m.mu; the handlers fire later on pion goroutines and take
// the lock themselves.
func (m *Manager) attachDataChannelLocked(p *Peer, dc *webrtc.DataChannel) {
	p.dataChannel = dc

	uuid := p.uuid
	dc.OnOpen(func() {
		m.mu.Lock()
		p.dcOpen = true
		m.mu.Unlock()
		m.logger.Info("data channel open", "uuid", uuid, "label", dc.Label())
	})
	dc.OnClose(func() {
		m.mu.Lock()
		p.dcOpen = false
		m.mu.Unlock()
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !msg.IsString {
			return
		}
		if m.shuttingDown.Load() {
			return
		}
		m.cbMu.Lock()
		events := m.events
		m.cbMu.Unlock()
		events.OnDataChannelMessage(uuid, string(msg.Data))
	})
}

// onLocalCandidate accumulates gathered candidates into the peer's bundle
// and flushes at the threshold or on gathering completion. Each bundled
// entry carries the session token captured at gather time.
func (m *Manager) onLocalCandidate(p *Peer, c *webrtc.ICECandidate) {
	var flush []bundledCandidate
	if c == nil {
		flush = p.drainCandidates()
	} else {
		init := c.ToJSON()
		mid := ""
		if init.SDPMid != nil {
			mid = *init.SDPMid
		}
		flush = p.addLocalCandidate(init.Candidate, mid, p.session)
	}
	if len(flush) == 0 {
		return
	}

	m.cbMu.Lock()
	signaler := m.signaler
	m.cbMu.Unlock()
	if signaler == nil {
		return
	}
	for _, bc := range flush {
		if err := signaler.SendICECandidate(p.uuid, bc.session, bc.candidate, bc.mid); err != nil {
			m.logger.Error("failed to send ICE candidate", "uuid", p.uuid, "error", err)
			return
		}
	}
	m.logger.Debug("ICE candidates flushed", "uuid", p.uuid, "count", len(flush))
}

// onConnectionStateChange tracks pion state transitions. Terminal
// transitions invoke the disconnected callback before the peer is removed
// from the map, so the callback can still query peer state.
func (m *Manager) onConnectionStateChange(p *Peer, state webrtc.PeerConnectionState) {
	m.logger.Info("peer connection state changed", "uuid", p.uuid, "state", state.String())
	if m.shuttingDown.Load() {
		return
	}

	switch state {
	case webrtc.PeerConnectionStateConnected:
		m.mu.Lock()
		p.state = StateConnected
		m.mu.Unlock()
		m.cbMu.Lock()
		events := m.events
		m.cbMu.Unlock()
		events.OnPeerConnected(p.uuid)
	case webrtc.PeerConnectionStateDisconnected:
		m.retirePeer(p, StateDisconnected)
	case webrtc.PeerConnectionStateFailed:
		m.retirePeer(p, StateFailed)
	case webrtc.PeerConnectionStateClosed:
		m.retirePeer(p, StateClosed)
	}
}

// retirePeer marks a peer terminal, fires the disconnected callback, then
// removes it from the map. The map entry must still be this exact peer:
// after a session rotation the uuid maps to a replacement connection, and
// the stale connection's Closed event must not touch it.
func (m *Manager) retirePeer(p *Peer, state State) {
	m.mu.Lock()
	if m.peers[p.uuid] != p {
		m.mu.Unlock()
		return
	}
	p.state = state
	m.mu.Unlock()

	m.cbMu.Lock()
	events := m.events
	m.cbMu.Unlock()
	events.OnPeerDisconnected(p.uuid)

	m.mu.Lock()
	if m.peers[p.uuid] == p {
		delete(m.peers, p.uuid)
	}
	m.mu.Unlock()
	m.logger.Info("peer removed", "uuid", p.uuid, "state", state.String())
}

// removePeer closes and removes a peer without firing callbacks; used on
// negotiation failures before the peer ever connected. Same identity rule
// as retirePeer.
func (m *Manager) removePeer(p *Peer, state State) {
	m.mu.Lock()
	if m.peers[p.uuid] == p {
		p.state = state
		delete(m.peers, p.uuid)
	}
	m.mu.Unlock()
	_ = p.pc.Close()
}

// SendVideoFrame fans one encoded access unit out to every Connected
// publisher peer. Safe to call concurrently with signaling-driven peer
// mutation.
func (m *Manager) SendVideoFrame(data []byte, timestampMS int64, keyframe bool) {
	for _, p := range m.connectedPublishers() {
		p.sendVideo(data, timestampMS, keyframe)
	}
}

// SendAudioFrame fans one encoded Opus frame out to every Connected
// publisher peer.
func (m *Manager) SendAudioFrame(data []byte, timestampMS int64) {
	for _, p := range m.connectedPublishers() {
		p.sendAudio(data, timestampMS)
	}
}

// SendVideoFrameToPeer delivers one access unit to a single peer, e.g. to
// prime a fresh viewer with the cached keyframe. Returns false when the
// peer is unknown, not connected, or gated off the frame.
func (m *Manager) SendVideoFrameToPeer(uuid string, data []byte, timestampMS int64, keyframe bool) bool {
	m.mu.RLock()
	p, ok := m.peers[uuid]
	if ok && (p.state != StateConnected || p.role != RolePublisher) {
		ok = false
	}
	m.mu.RUnlock()
	if !ok {
		return false
	}
	return p.sendVideo(data, timestampMS, keyframe)
}

// MarkAwaitingKeyframe re-arms a peer's keyframe gate.
func (m *Manager) MarkAwaitingKeyframe(uuid string) {
	m.mu.RLock()
	p, ok := m.peers[uuid]
	m.mu.RUnlock()
	if ok {
		p.markAwaitingKeyframe()
	}
}

func (m *Manager) connectedPublishers() []*Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	peers := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		if p.role == RolePublisher && p.state == StateConnected {
			peers = append(peers, p)
		}
	}
	return peers
}

// SendDataChannelMessage sends a text frame to one peer's data channel.
func (m *Manager) SendDataChannelMessage(uuid, message string) error {
	m.mu.RLock()
	p, ok := m.peers[uuid]
	var dc *webrtc.DataChannel
	var open bool
	if ok {
		dc = p.dataChannel
		open = p.dcOpen
	}
	m.mu.RUnlock()

	if !ok || dc == nil || !open {
		return fmt.Errorf("no open data channel for peer %q", uuid)
	}
	return dc.SendText(message)
}

// BroadcastDataChannelMessage sends a text frame to every peer with an
// open data channel.
func (m *Manager) BroadcastDataChannelMessage(message string) {
	m.mu.RLock()
	var channels []*webrtc.DataChannel
	for _, p := range m.peers {
		if p.dcOpen && p.dataChannel != nil {
			channels = append(channels, p.dataChannel)
		}
	}
	m.mu.RUnlock()

	for _, dc := range channels {
		if err := dc.SendText(message); err != nil {
			m.logger.Debug("data channel send failed", "error", err)
		}
	}
}

// PeerCount returns the number of peers occupying a capacity slot.
func (m *Manager) PeerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.slotCountLocked()
}

// Snapshots returns a telemetry view of every peer.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, Snapshot{
			UUID:            p.uuid,
			Role:            p.role.String(),
			State:           p.state.String(),
			DataChannelOpen: p.dcOpen,
		})
	}
	return out
}

// Close tears the manager down: mark shutting down so callbacks become
// no-ops, stop publishing, clear callback targets, then close every
// remaining peer from a copied list.
func (m *Manager) Close() error {
	if !m.shuttingDown.CompareAndSwap(false, true) {
		return nil
	}

	m.StopPublishing()

	m.cbMu.Lock()
	m.signaler = nil
	m.events = NopEvents{}
	m.cbMu.Unlock()

	m.mu.Lock()
	remaining := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		p.state = StateClosed
		remaining = append(remaining, p)
	}
	m.peers = make(map[string]*Peer)
	m.mu.Unlock()

	for _, p := range remaining {
		if err := p.pc.Close(); err != nil {
			m.logger.Error("failed to close peer during shutdown", "uuid", p.uuid, "error", err)
		}
	}
	return nil
}
