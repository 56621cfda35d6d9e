package test

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MockRelay simulates a VDO.Ninja-style signaling relay for testing.
type MockRelay struct {
	listener  net.Listener
	server    *http.Server
	logger    *slog.Logger
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	received  []map[string]interface{}
	recvMu    sync.Mutex
	broadcast chan interface{}
	done      chan struct{}
}

// StartMockRelay starts a mock relay on the given port (0 = auto-assign).
func StartMockRelay(port int, logger *slog.Logger) (*MockRelay, error) {
	if logger == nil {
		logger = slog.Default()
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mock := &MockRelay{
		listener:  listener,
		logger:    logger,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan interface{}, 100),
		done:      make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", mock.handleWebSocket)

	mock.server = &http.Server{
		Handler: mux,
	}

	go func() {
		if err := mock.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Error("mock relay server error", "error", err)
		}
	}()
	go mock.broadcastLoop()

	logger.Info("mock relay started", "addr", listener.Addr().String())

	return mock, nil
}

// URL returns the WebSocket URL for this mock relay.
func (m *MockRelay) URL() string {
	return fmt.Sprintf("ws://%s", m.listener.Addr().String())
}

// handleWebSocket handles incoming WebSocket connections.
func (m *MockRelay) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("failed to upgrade connection", "error", err)
		return
	}

	m.clientsMu.Lock()
	m.clients[conn] = true
	m.clientsMu.Unlock()

	defer func() {
		m.clientsMu.Lock()
		delete(m.clients, conn)
		m.clientsMu.Unlock()
		conn.Close()
	}()

	for {
		select {
		case <-m.done:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				m.logger.Debug("WebSocket read error", "error", err)
			}
			return
		}

		var msg map[string]interface{}
		if err := json.Unmarshal(data, &msg); err != nil {
			m.logger.Debug("failed to parse message", "error", err, "data", string(data))
			continue
		}

		m.recvMu.Lock()
		m.received = append(m.received, msg)
		m.recvMu.Unlock()

		m.logger.Debug("relay received message", "request", msg["request"])

		// Room admission is acknowledged with a (possibly empty) listing.
		if msg["request"] == "joinroom" {
			m.sendMessage(conn, map[string]interface{}{
				"listing": []interface{}{},
			})
		}
	}
}

// sendMessage sends a JSON message to a client.
func (m *MockRelay) sendMessage(conn *websocket.Conn, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// BroadcastMessage sends a message to all connected clients.
func (m *MockRelay) BroadcastMessage(msg interface{}) {
	select {
	case m.broadcast <- msg:
	default:
		m.logger.Warn("broadcast channel full")
	}
}

// broadcastLoop sends broadcast messages to all clients.
func (m *MockRelay) broadcastLoop() {
	for {
		select {
		case <-m.done:
			return
		case msg := <-m.broadcast:
			data, _ := json.Marshal(msg)

			m.clientsMu.Lock()
			for client := range m.clients {
				if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
					m.logger.Debug("failed to broadcast", "error", err)
					client.Close()
					delete(m.clients, client)
				}
			}
			m.clientsMu.Unlock()
		}
	}
}

// SolicitOffer asks every connected publisher for an SDP offer, as a
// viewer joining through the relay would.
func (m *MockRelay) SolicitOffer(viewerUUID, session string) {
	m.BroadcastMessage(map[string]interface{}{
		"request": "offersdp",
		"UUID":    viewerUUID,
		"session": session,
	})
}

// Received returns a snapshot of every message the relay has seen.
func (m *MockRelay) Received() []map[string]interface{} {
	m.recvMu.Lock()
	defer m.recvMu.Unlock()
	out := make([]map[string]interface{}, len(m.received))
	copy(out, m.received)
	return out
}

// WaitForRequest waits until a message with the given request name arrives.
func (m *MockRelay) WaitForRequest(name string, timeout time.Duration) (map[string]interface{}, error) {
	return m.waitFor(timeout, func(msg map[string]interface{}) bool {
		return msg["request"] == name
	})
}

// WaitForKey waits until a message carrying the given top-level key arrives.
func (m *MockRelay) WaitForKey(key string, timeout time.Duration) (map[string]interface{}, error) {
	return m.waitFor(timeout, func(msg map[string]interface{}) bool {
		_, ok := msg[key]
		return ok
	})
}

func (m *MockRelay) waitFor(timeout time.Duration, match func(map[string]interface{}) bool) (map[string]interface{}, error) {
	deadline := time.Now().Add(timeout)
	for {
		m.recvMu.Lock()
		for _, msg := range m.received {
			if match(msg) {
				m.recvMu.Unlock()
				return msg, nil
			}
		}
		m.recvMu.Unlock()

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timeout waiting for message")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// Close stops the mock relay.
func (m *MockRelay) Close() error {
	close(m.done)

	m.clientsMu.Lock()
	for client := range m.clients {
		client.Close()
	}
	m.clientsMu.Unlock()

	return m.server.Close()
}

// ClientCount returns the number of connected clients.
func (m *MockRelay) ClientCount() int {
	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()
	return len(m.clients)
}

// WaitForConnections waits for N clients to connect (with timeout).
func (m *MockRelay) WaitForConnections(n int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		m.clientsMu.Lock()
		count := len(m.clients)
		m.clientsMu.Unlock()

		if count >= n {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for %d connections, got %d", n, count)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
