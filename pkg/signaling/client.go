// Package signaling implements the WebSocket client side of the VDO.Ninja
// signaling dialect: room and stream bookkeeping, offer/answer/candidate
// relay with optional payload encryption, and exponential-backoff
// reconnection on a single long-lived I/O goroutine.
package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/silviot/vdon_publisher_go/pkg/protocol"
	"github.com/silviot/vdon_publisher_go/pkg/vdoutil"
)

const (
	handshakeTimeout     = 10 * time.Second
	connectWaitTimeout   = 5 * time.Second
	pingInterval         = 25 * time.Second
	readDeadline         = 60 * time.Second
	minReconnectInterval = time.Second
	maxReconnectDelay    = 30 * time.Second
	sendQueueSize        = 100
)

// Config holds signaling client configuration.
type Config struct {
	Host                 string // WebSocket URL, e.g. wss://wss.vdo.ninja:443
	Salt                 string // hashing salt; empty means vdoutil.DefaultSalt
	DefaultPassword      string // applied when an operation passes no password
	AutoReconnect        bool
	MaxReconnectAttempts int
	Events               Events
	Logger               *slog.Logger
}

// Client manages the WebSocket connection to the signaling relay.
type Client struct {
	host                 string
	salt                 string
	defaultPassword      string
	autoReconnect        bool
	maxReconnectAttempts int
	localUUID            string

	events Events
	logger *slog.Logger

	conn   *websocket.Conn
	connMu sync.Mutex

	// Room/stream snapshots are guarded separately from the socket so
	// telemetry reads never block on network I/O.
	stateMu   sync.Mutex
	room      roomInfo
	published streamInfo
	viewing   map[string]streamInfo

	sendCh    chan []byte
	closeCh   chan struct{}
	running   atomic.Bool
	connected atomic.Bool
	wg        sync.WaitGroup
}

type roomInfo struct {
	roomID       string
	hashedRoomID string
	password     string
	joined       bool
	members      []string
}

type streamInfo struct {
	streamID       string
	hashedStreamID string
	password       string
	viewing        bool
	publishing     bool
}

// NewClient creates a signaling client. It does not connect.
func NewClient(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Events == nil {
		cfg.Events = NopEvents{}
	}
	salt := strings.TrimSpace(cfg.Salt)
	if salt == "" {
		salt = vdoutil.DefaultSalt
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 10
	}

	c := &Client{
		host:                 cfg.Host,
		salt:                 salt,
		defaultPassword:      cfg.DefaultPassword,
		autoReconnect:        cfg.AutoReconnect,
		maxReconnectAttempts: cfg.MaxReconnectAttempts,
		localUUID:            vdoutil.NewUUID(),
		events:               cfg.Events,
		logger:               cfg.Logger,
		viewing:              make(map[string]streamInfo),
		sendCh:               make(chan []byte, sendQueueSize),
		closeCh:              make(chan struct{}),
	}
	c.logger.Info("signaling client created", "uuid", c.localUUID)
	return c
}

// LocalUUID returns the identity this client announces on the wire.
func (c *Client) LocalUUID() string {
	return c.localUUID
}

// IsConnected reports whether the socket is currently up.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Connect starts the I/O goroutine and waits (bounded) for the first
// connection attempt to succeed. It is idempotent while running: a call
// during an in-flight dial joins the same bounded wait.
func (c *Client) Connect(ctx context.Context) error {
	if c.running.CompareAndSwap(false, true) {
		c.closeCh = make(chan struct{})
		c.wg.Add(1)
		go c.run()
	} else if c.connected.Load() {
		return nil
	}

	// Bounded poll for the initial handshake, not an indefinite block.
	deadline := time.NewTimer(connectWaitTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("timed out connecting to %s", c.host)
		case <-ticker.C:
			if c.connected.Load() {
				return nil
			}
			if !c.running.Load() {
				return fmt.Errorf("signaling connection failed")
			}
		}
	}
}

// Disconnect stops the I/O goroutine and clears room/stream state. Safe to
// call in any state, including never-connected.
func (c *Client) Disconnect() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	close(c.closeCh)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()

	c.stateMu.Lock()
	c.room = roomInfo{}
	c.published = streamInfo{}
	c.viewing = make(map[string]streamInfo)
	c.stateMu.Unlock()
}

// run is the outer reconnect loop. It never recurses; backoff grows
// exponentially with a floor and a 30s cap.
func (c *Client) run() {
	defer c.wg.Done()

	attempts := 0
	for c.running.Load() {
		connected, err := c.runSession()
		if connected {
			// A successful dial resets the budget; only consecutive
			// failures count against it.
			attempts = 0
		}
		if !c.running.Load() {
			return
		}
		if err != nil {
			c.logger.Warn("signaling session ended", "error", err)
		}

		if !c.autoReconnect {
			c.running.Store(false)
			c.events.OnError("signaling connection lost")
			return
		}
		attempts++
		if attempts > c.maxReconnectAttempts {
			c.logger.Error("max reconnection attempts reached")
			c.running.Store(false)
			c.events.OnError("max reconnection attempts reached")
			return
		}

		delay := time.Duration(1000<<uint(attempts)) * time.Millisecond
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
		if delay < minReconnectInterval {
			delay = minReconnectInterval
		}
		c.logger.Info("reconnecting", "delay", delay, "attempt", attempts, "max", c.maxReconnectAttempts)

		// Sleep in small increments so Disconnect interrupts the wait.
		for waited := time.Duration(0); waited < delay && c.running.Load(); waited += 100 * time.Millisecond {
			time.Sleep(100 * time.Millisecond)
		}
	}
}

// runSession dials once and pumps the socket until it fails or the client
// shuts down. The bool reports whether the dial succeeded.
func (c *Client) runSession() (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.Dial(c.host, nil)
	if err != nil {
		c.logger.Error("failed to connect to signaling server", "host", c.host, "error", err)
		return false, err
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.connected.Store(true)
	c.logger.Info("connected to signaling server", "host", c.host)
	c.events.OnConnected()

	sessionDone := make(chan struct{})
	var writerWg sync.WaitGroup
	writerWg.Add(1)
	go func() {
		defer writerWg.Done()
		c.writeLoop(conn, sessionDone)
	}()

	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	var readErr error
	for {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		_, data, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		c.processMessage(data)
	}

	close(sessionDone)
	conn.Close()
	writerWg.Wait()

	c.connMu.Lock()
	c.conn = nil
	c.connMu.Unlock()
	if c.connected.CompareAndSwap(true, false) {
		c.events.OnDisconnected()
	}
	return true, readErr
}

// writeLoop drains the send queue and keeps the connection alive.
func (c *Client) writeLoop(conn *websocket.Conn, sessionDone <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sessionDone:
			return
		case <-c.closeCh:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Error("failed to send ping", "error", err)
				return
			}
		case data := <-c.sendCh:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Error("failed to send message", "error", err)
				return
			}
		}
	}
}

// enqueue queues one outbound wire message. Fails fast when disconnected.
func (c *Client) enqueue(env protocol.Envelope) error {
	if !c.connected.Load() {
		return fmt.Errorf("not connected to signaling server")
	}
	data, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("marshal signaling message: %w", err)
	}
	select {
	case c.sendCh <- data:
		return nil
	default:
		return fmt.Errorf("signaling send queue full")
	}
}

// processMessage decrypts (when applicable) and dispatches one inbound
// message. Malformed or undecryptable messages are dropped, never fatal.
func (c *Client) processMessage(data []byte) {
	c.logger.Debug("received signaling message", "size", len(data))

	if msg, handled := c.decryptInbound(data); handled {
		if msg != nil {
			c.dispatch(msg)
		}
		return
	}

	msg, err := protocol.Parse(data)
	if err != nil {
		c.logger.Error("failed to parse signaling message", "error", err)
		return
	}
	c.dispatch(msg)
}

// decryptInbound handles messages carrying an encryption vector. It
// returns handled=false when the message should take the plaintext path,
// and (nil, true) when the message was encrypted but could not be
// decrypted and must be dropped.
func (c *Client) decryptInbound(data []byte) (*protocol.Message, bool) {
	password := c.activePassword()
	if password == "" {
		return nil, false
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false
	}
	vector, _ := raw["vector"].(string)
	if vector == "" {
		return nil, false
	}

	phrase := password + c.salt

	msg := &protocol.Message{}
	if uuid, ok := raw["UUID"].(string); ok {
		msg.UUID = uuid
	} else if uuid, ok := raw["uuid"].(string); ok {
		msg.UUID = uuid
	}
	msg.Session, _ = raw["session"].(string)

	if cipherHex, ok := raw["description"].(string); ok && cipherHex != "" {
		plaintext, err := protocol.Decrypt(cipherHex, vector, phrase)
		if err != nil {
			c.logger.Warn("failed to decrypt incoming SDP description", "error", err)
			return nil, true
		}
		var desc struct {
			Type string `json:"type"`
			SDP  string `json:"sdp"`
		}
		if err := json.Unmarshal(plaintext, &desc); err != nil {
			c.logger.Warn("decrypted description is not JSON", "error", err)
			return nil, true
		}
		msg.Type, msg.SDP = desc.Type, desc.SDP
		switch desc.Type {
		case "offer":
			msg.Kind = protocol.KindOffer
			return msg, true
		case "answer":
			msg.Kind = protocol.KindAnswer
			return msg, true
		}
		return nil, true
	}

	if cipherHex, ok := raw["candidate"].(string); ok && cipherHex != "" {
		plaintext, err := protocol.Decrypt(cipherHex, vector, phrase)
		if err != nil {
			c.logger.Warn("failed to decrypt incoming ICE candidate", "error", err)
			return nil, true
		}
		wrapped, err := protocol.Parse(withEnvelope(plaintext, "candidate", msg.UUID, msg.Session))
		if err != nil {
			c.logger.Warn("decrypted candidate is not JSON", "error", err)
			return nil, true
		}
		return wrapped, true
	}

	if cipherHex, ok := raw["candidates"].(string); ok && cipherHex != "" {
		plaintext, err := protocol.Decrypt(cipherHex, vector, phrase)
		if err != nil {
			c.logger.Warn("failed to decrypt incoming ICE candidate bundle", "error", err)
			return nil, true
		}
		wrapped, err := protocol.Parse(withEnvelope(plaintext, "candidates", msg.UUID, msg.Session))
		if err != nil {
			c.logger.Warn("decrypted candidate bundle is not JSON", "error", err)
			return nil, true
		}
		return wrapped, true
	}

	return nil, false
}

// withEnvelope re-wraps a decrypted payload so the normalizer sees the same
// shape a plaintext message would have had.
func withEnvelope(payload []byte, key, uuid, session string) []byte {
	env := map[string]any{"UUID": uuid, "session": session}
	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		// Bare candidate strings arrive unquoted after decryption.
		value = string(payload)
	}
	env[key] = value
	out, _ := json.Marshal(env)
	return out
}

// dispatch routes one normalized message to the event sink.
func (c *Client) dispatch(msg *protocol.Message) {
	switch msg.Kind {
	case protocol.KindListing:
		c.logger.Info("received room listing", "members", len(msg.Listing))
		c.stateMu.Lock()
		c.room.joined = true
		c.room.members = append([]string(nil), msg.Listing...)
		members := c.room.members
		c.stateMu.Unlock()
		c.events.OnRoomListing(members)

	case protocol.KindOffer:
		c.logger.Info("received offer", "uuid", msg.UUID)
		c.events.OnOffer(msg.UUID, msg.Session, msg.SDP)

	case protocol.KindAnswer:
		c.logger.Info("received answer", "uuid", msg.UUID)
		c.events.OnAnswer(msg.UUID, msg.Session, msg.SDP)

	case protocol.KindCandidate:
		c.logger.Debug("received ICE candidate", "uuid", msg.UUID)
		c.events.OnICECandidate(msg.UUID, msg.Session, msg.Candidate.Candidate, msg.Candidate.MID)

	case protocol.KindCandidates:
		c.logger.Debug("received ICE candidate bundle", "uuid", msg.UUID, "count", len(msg.Candidates))
		for _, candidate := range msg.Candidates {
			c.events.OnICECandidate(msg.UUID, msg.Session, candidate.Candidate, candidate.MID)
		}

	case protocol.KindRequest:
		c.handleRequest(msg)

	case protocol.KindAlert:
		c.logger.Warn("server alert", "message", msg.Alert)
		c.events.OnError(msg.Alert)

	case protocol.KindStreamAdded:
		c.logger.Info("stream added to room", "streamID", msg.StreamID, "uuid", msg.UUID)
		c.events.OnStreamAdded(msg.StreamID, msg.UUID)

	case protocol.KindStreamRemoved:
		c.logger.Info("stream removed from room", "streamID", msg.StreamID, "uuid", msg.UUID)
		c.events.OnStreamRemoved(msg.StreamID, msg.UUID)

	default:
		c.logger.Debug("unknown signaling message")
	}
}

// handleRequest maps offer-soliciting request names to the offer-request
// event. joinroom is accepted only when it carries a stream identifier;
// plain joinroom events are room-admission flow.
func (c *Client) handleRequest(msg *protocol.Message) {
	c.logger.Info("received request", "request", msg.Request, "uuid", msg.UUID)
	request := strings.ToLower(msg.Request)
	joinroomOfferCompat := request == "joinroom" && msg.StreamID != ""
	if request == "offersdp" || request == "sendoffer" || request == "play" || joinroomOfferCompat {
		c.events.OnOfferRequest(msg.UUID, msg.Session)
	}
}
