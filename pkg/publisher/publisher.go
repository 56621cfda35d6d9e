// Package publisher orchestrates one published stream end to end:
// signaling session, peer fan-out, data-channel handling, keyframe
// caching and room scene automation.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/silviot/vdon_publisher_go/pkg/datachannel"
	"github.com/silviot/vdon_publisher_go/pkg/media"
	"github.com/silviot/vdon_publisher_go/pkg/peer"
	"github.com/silviot/vdon_publisher_go/pkg/scene"
	"github.com/silviot/vdon_publisher_go/pkg/signaling"
	"github.com/silviot/vdon_publisher_go/pkg/vdoutil"
)

// Config carries the long-lived collaborators of a Publisher. All fields
// are optional.
type Config struct {
	// SceneSink receives source changes for auto-managed inbound
	// streams. Nil disables scene automation regardless of settings.
	SceneSink scene.Sink
	// OnChat receives inbound chat messages.
	OnChat func(senderUUID, message string)
	// OnRemoteControl receives whitelisted remote-control commands when
	// settings enable them.
	OnRemoteControl func(action, value string)
	Logger          *slog.Logger
}

// ViewerSnapshot joins a peer snapshot with its last stats report.
type ViewerSnapshot struct {
	peer.Snapshot
	LastStats            json.RawMessage `json:"lastStats,omitempty"`
	LastStatsTimestampMS int64           `json:"lastStatsTimestampMs,omitempty"`
}

// Publisher runs at most one publishing session at a time. Start and Stop
// may be called repeatedly.
type Publisher struct {
	logger          *slog.Logger
	sceneSink       scene.Sink
	onChat          func(string, string)
	onRemoteControl func(string, string)

	running  atomic.Bool
	stopping atomic.Bool

	mu       sync.Mutex
	settings Settings
	client   *signaling.Client
	peers    *peer.Manager
	sceneMgr *scene.Manager
	pipeline *media.Pipeline
	tally    *datachannel.Tracker

	kfMu             sync.Mutex
	cachedKeyframe   []byte
	cachedKeyframeTS int64

	telemetryMu sync.Mutex
	lastStats   map[string]json.RawMessage
	lastStatsTS map[string]int64
}

// New creates an idle publisher.
func New(cfg Config) *Publisher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		logger:          logger,
		sceneSink:       cfg.SceneSink,
		onChat:          cfg.OnChat,
		onRemoteControl: cfg.OnRemoteControl,
		tally:           datachannel.NewTracker(),
		lastStats:       make(map[string]json.RawMessage),
		lastStatsTS:     make(map[string]int64),
	}
}

// IsRunning reports whether a session is active.
func (p *Publisher) IsRunning() bool {
	return p.running.Load()
}

// Start begins publishing with the given settings. Settings are
// normalized and snapshotted; later mutation by the caller has no effect
// on the running session.
func (p *Publisher) Start(ctx context.Context, settings Settings) error {
	settings.Normalize()
	if settings.StreamID == "" {
		return fmt.Errorf("publisher: stream id is required")
	}
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("publisher: already running")
	}

	p.kfMu.Lock()
	p.cachedKeyframe = nil
	p.cachedKeyframeTS = 0
	p.kfMu.Unlock()

	client := signaling.NewClient(signaling.Config{
		Host:            settings.WSSHost,
		Salt:            settings.Salt,
		DefaultPassword: settings.Password,
		AutoReconnect:   settings.AutoReconnect,
		Events:          &signalingEvents{p: p},
		Logger:          p.logger,
	})

	peers, err := peer.NewManager(peer.Config{
		ICEServers:  vdoutil.ParseICEServers(settings.ICEServers),
		ForceTURN:   settings.ForceTURN,
		BitrateKbps: settings.BitrateKbps,
		Signaler:    client,
		Events:      &peerEvents{p: p},
		Logger:      p.logger,
	})
	if err != nil {
		p.running.Store(false)
		return err
	}

	var sceneMgr *scene.Manager
	if p.sceneSink != nil {
		sceneMgr = scene.NewManager(p.sceneSink, p.logger)
		sceneMgr.Configure(settings.sceneSettings())
		sceneMgr.SetOwnStreamIDs(settings.ownStreamIDs())
		if settings.AutoInbound.Enabled {
			sceneMgr.Start()
		}
	}

	pipeline := media.NewPipeline(p.logger)
	pipeline.Start(&frameSink{peers: peers})

	p.mu.Lock()
	p.settings = settings
	p.client = client
	p.peers = peers
	p.sceneMgr = sceneMgr
	p.pipeline = pipeline
	p.mu.Unlock()

	if err := client.Connect(ctx); err != nil {
		p.logger.Error("failed to connect to signaling server", "error", err)
		p.teardown()
		p.running.Store(false)
		return err
	}

	p.logger.Info("publisher started",
		"streamID", settings.StreamID, "room", settings.RoomID, "host", settings.WSSHost)
	return nil
}

// Stop ends the session: unseed, leave the room, close every peer and
// disconnect. Idempotent; concurrent calls collapse into one teardown.
func (p *Publisher) Stop() {
	if !p.stopping.CompareAndSwap(false, true) {
		return
	}
	defer p.stopping.Store(false)

	if !p.running.CompareAndSwap(true, false) {
		return
	}
	p.logger.Info("stopping publisher")
	p.teardown()
	p.logger.Info("publisher stopped")
}

func (p *Publisher) teardown() {
	p.mu.Lock()
	client := p.client
	peers := p.peers
	sceneMgr := p.sceneMgr
	pipeline := p.pipeline
	p.client = nil
	p.peers = nil
	p.sceneMgr = nil
	p.pipeline = nil
	p.mu.Unlock()

	if sceneMgr != nil {
		sceneMgr.Stop()
	}
	if pipeline != nil {
		_ = pipeline.Close()
	}
	// Closing the peer manager first clears its callbacks, so nothing
	// fires into a dying session while signaling winds down.
	if peers != nil {
		_ = peers.Close()
	}
	if client != nil {
		if client.IsPublishing() {
			_ = client.UnpublishStream()
		}
		if client.InRoom() {
			_ = client.LeaveRoom()
		}
		client.Disconnect()
	}

	p.telemetryMu.Lock()
	p.lastStats = make(map[string]json.RawMessage)
	p.lastStatsTS = make(map[string]int64)
	p.telemetryMu.Unlock()

	p.kfMu.Lock()
	p.cachedKeyframe = nil
	p.cachedKeyframeTS = 0
	p.kfMu.Unlock()
}

// ProcessVideoFrame ingests one encoded H.264 access unit from the
// capture pipeline. Keyframes are cached so late-joining viewers can be
// primed immediately.
func (p *Publisher) ProcessVideoFrame(data []byte, timestampMS int64, keyframe bool) {
	if !p.running.Load() {
		return
	}
	if keyframe && len(data) > 0 {
		p.kfMu.Lock()
		p.cachedKeyframe = append(p.cachedKeyframe[:0], data...)
		p.cachedKeyframeTS = timestampMS
		p.kfMu.Unlock()
	}

	p.mu.Lock()
	pipeline := p.pipeline
	p.mu.Unlock()
	if pipeline != nil {
		pipeline.PushVideo(media.VideoFrame{Data: data, TimestampMS: timestampMS, Keyframe: keyframe})
	}
}

// ProcessAudioFrame ingests one encoded Opus frame.
func (p *Publisher) ProcessAudioFrame(data []byte, timestampMS int64) {
	if !p.running.Load() {
		return
	}
	p.mu.Lock()
	pipeline := p.pipeline
	p.mu.Unlock()
	if pipeline != nil {
		pipeline.PushAudio(media.AudioFrame{Data: data, TimestampMS: timestampMS})
	}
}

// primeViewer sends the cached keyframe to one peer so it renders video
// without waiting for the next encoder keyframe interval.
func (p *Publisher) primeViewer(uuid string) {
	p.kfMu.Lock()
	if len(p.cachedKeyframe) == 0 {
		p.kfMu.Unlock()
		return
	}
	frame := make([]byte, len(p.cachedKeyframe))
	copy(frame, p.cachedKeyframe)
	ts := p.cachedKeyframeTS
	p.kfMu.Unlock()

	p.mu.Lock()
	peers := p.peers
	p.mu.Unlock()
	if peers != nil && peers.SendVideoFrameToPeer(uuid, frame, ts, true) {
		p.logger.Info("primed viewer with cached keyframe", "uuid", uuid, "bytes", len(frame))
	}
}

// ViewerSnapshots joins the peer snapshots with the last stats blob each
// viewer reported over its data channel.
func (p *Publisher) ViewerSnapshots() []ViewerSnapshot {
	p.mu.Lock()
	peers := p.peers
	p.mu.Unlock()
	if peers == nil {
		return nil
	}

	snaps := peers.Snapshots()
	out := make([]ViewerSnapshot, 0, len(snaps))
	p.telemetryMu.Lock()
	defer p.telemetryMu.Unlock()
	for _, s := range snaps {
		out = append(out, ViewerSnapshot{
			Snapshot:             s,
			LastStats:            p.lastStats[s.UUID],
			LastStatsTimestampMS: p.lastStatsTS[s.UUID],
		})
	}
	return out
}

// ViewerCount returns the number of capacity-occupying peers.
func (p *Publisher) ViewerCount() int {
	p.mu.Lock()
	peers := p.peers
	p.mu.Unlock()
	if peers == nil {
		return 0
	}
	return peers.PeerCount()
}

// MaxViewers returns the configured capacity of the running session.
func (p *Publisher) MaxViewers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settings.MaxViewers
}

// AggregatedTally ORs the tally flags reported across all viewers.
func (p *Publisher) AggregatedTally() datachannel.TallyState {
	return p.tally.Aggregate()
}

// handleDataChannelMessage routes one inbound data-channel frame.
func (p *Publisher) handleDataChannelMessage(uuid, message string) {
	raw := []byte(message)
	msg, err := datachannel.Parse(raw)
	if err != nil {
		p.logger.Debug("dropping malformed data-channel message", "uuid", uuid, "error", err)
		return
	}

	p.mu.Lock()
	settings := p.settings
	sceneMgr := p.sceneMgr
	p.mu.Unlock()

	switch msg.Kind {
	case datachannel.KindChat:
		p.logger.Info("chat received", "uuid", uuid)
		if p.onChat != nil {
			p.onChat(uuid, msg.Chat)
		}
	case datachannel.KindTally:
		p.tally.UpdateTally(uuid, msg.Tally)
	case datachannel.KindMute:
		p.tally.UpdateMute(uuid, msg.Mute)
	case datachannel.KindKeyframeRequest:
		p.logger.Info("viewer requested keyframe", "uuid", uuid)
		p.primeViewer(uuid)
	case datachannel.KindStats:
		p.telemetryMu.Lock()
		p.lastStats[uuid] = msg.Stats
		p.lastStatsTS[uuid] = vdoutil.CurrentTimeMs()
		p.telemetryMu.Unlock()
	case datachannel.KindRemoteControl:
		if settings.EnableRemote && p.onRemoteControl != nil {
			p.logger.Info("remote control command",
				"uuid", uuid, "action", msg.Control.Action)
			p.onRemoteControl(msg.Control.Action, msg.Control.Value)
		}
	}

	if sceneMgr != nil && settings.AutoInbound.Enabled {
		if whepURL := datachannel.ExtractWHEPURL(raw); whepURL != "" {
			p.logger.Info("discovered WHEP playback URL", "uuid", uuid)
			sceneMgr.OnStreamAdded(whepURL)
		}
	}
}

// signalingEvents adapts signaling callbacks onto the publisher.
type signalingEvents struct {
	p *Publisher
}

func (e *signalingEvents) OnConnected() {
	p := e.p
	if !p.running.Load() {
		return
	}
	p.mu.Lock()
	settings := p.settings
	client := p.client
	peers := p.peers
	p.mu.Unlock()
	if client == nil || peers == nil {
		return
	}

	roomID := settings.AutoInbound.RoomID
	roomPassword := settings.AutoInbound.Password
	if roomID == "" {
		roomID = settings.RoomID
		roomPassword = settings.Password
	}
	if roomID != "" {
		if err := client.JoinRoom(roomID, roomPassword, false); err != nil {
			p.logger.Error("failed to join room", "room", roomID, "error", err)
		}
	}
	if err := client.PublishStream(settings.StreamID, settings.Password); err != nil {
		p.logger.Error("failed to seed stream", "streamID", settings.StreamID, "error", err)
	}
	peers.StartPublishing(settings.MaxViewers)
}

func (e *signalingEvents) OnDisconnected() {
	e.p.logger.Info("disconnected from signaling server")
}

func (e *signalingEvents) OnError(msg string) {
	p := e.p
	p.logger.Error("signaling error", "error", msg)
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "already in use") || strings.Contains(lowered, "already claimed") {
		// Another publisher holds our identifier; retrying would flap.
		go p.Stop()
	}
}

func (e *signalingEvents) OnOfferRequest(uuid, session string) {
	if peers := e.peers(); peers != nil {
		if err := peers.HandleOfferRequest(uuid, session); err != nil {
			e.p.logger.Error("offer request failed", "uuid", uuid, "error", err)
		}
	}
}

func (e *signalingEvents) OnOffer(uuid, session, sdp string) {
	if peers := e.peers(); peers != nil {
		if err := peers.HandleOffer(uuid, session, sdp); err != nil {
			e.p.logger.Error("inbound offer failed", "uuid", uuid, "error", err)
		}
	}
}

func (e *signalingEvents) OnAnswer(uuid, session, sdp string) {
	if peers := e.peers(); peers != nil {
		if err := peers.HandleAnswer(uuid, session, sdp); err != nil {
			e.p.logger.Error("inbound answer failed", "uuid", uuid, "error", err)
		}
	}
}

func (e *signalingEvents) OnICECandidate(uuid, session, candidate, mid string) {
	if peers := e.peers(); peers != nil {
		if err := peers.HandleRemoteCandidate(uuid, session, candidate, mid); err != nil {
			e.p.logger.Debug("remote candidate rejected", "uuid", uuid, "error", err)
		}
	}
}

func (e *signalingEvents) OnRoomListing(members []string) {
	if sceneMgr := e.scene(); sceneMgr != nil {
		sceneMgr.OnRoomListing(members)
	}
}

func (e *signalingEvents) OnStreamAdded(streamID, _ string) {
	if sceneMgr := e.scene(); sceneMgr != nil {
		sceneMgr.OnStreamAdded(streamID)
	}
}

func (e *signalingEvents) OnStreamRemoved(streamID, _ string) {
	if sceneMgr := e.scene(); sceneMgr != nil {
		sceneMgr.OnStreamRemoved(streamID)
	}
}

func (e *signalingEvents) peers() *peer.Manager {
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	return e.p.peers
}

func (e *signalingEvents) scene() *scene.Manager {
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	return e.p.sceneMgr
}

// peerEvents adapts peer-manager callbacks onto the publisher.
type peerEvents struct {
	p *Publisher
}

func (e *peerEvents) OnPeerConnected(uuid string) {
	p := e.p
	p.logger.Info("viewer connected", "uuid", uuid, "viewers", p.ViewerCount())
	p.primeViewer(uuid)
}

func (e *peerEvents) OnPeerDisconnected(uuid string) {
	p := e.p
	p.telemetryMu.Lock()
	delete(p.lastStats, uuid)
	delete(p.lastStatsTS, uuid)
	p.telemetryMu.Unlock()
	p.tally.Remove(uuid)
	p.logger.Info("viewer disconnected", "uuid", uuid)
}

func (e *peerEvents) OnDataChannelMessage(uuid, message string) {
	e.p.handleDataChannelMessage(uuid, message)
}

// frameSink feeds drained pipeline frames into the peer fan-out.
type frameSink struct {
	peers *peer.Manager
}

func (s *frameSink) SendVideoFrame(f media.VideoFrame) {
	s.peers.SendVideoFrame(f.Data, f.TimestampMS, f.Keyframe)
}

func (s *frameSink) SendAudioFrame(f media.AudioFrame) {
	s.peers.SendAudioFrame(f.Data, f.TimestampMS)
}
