package signaling

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/silviot/vdon_publisher_go/pkg/protocol"
	"github.com/silviot/vdon_publisher_go/pkg/vdoutil"
)

type recordingEvents struct {
	NopEvents
	connected     chan struct{}
	listings      chan []string
	offerRequests chan [2]string
	answers       chan [3]string
}

func newRecordingEvents() *recordingEvents {
	return &recordingEvents{
		connected:     make(chan struct{}, 4),
		listings:      make(chan []string, 4),
		offerRequests: make(chan [2]string, 4),
		answers:       make(chan [3]string, 4),
	}
}

func (e *recordingEvents) OnConnected()               { e.connected <- struct{}{} }
func (e *recordingEvents) OnRoomListing(m []string)   { e.listings <- m }
func (e *recordingEvents) OnOfferRequest(u, s string) { e.offerRequests <- [2]string{u, s} }
func (e *recordingEvents) OnAnswer(u, s, sdp string) {
	e.answers <- [3]string{u, s, sdp}
}

// mockRelay is a minimal in-process signaling server.
type mockRelay struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	received chan map[string]any
}

func newMockRelay(t *testing.T) *mockRelay {
	t.Helper()
	relay := &mockRelay{received: make(chan map[string]any, 32)}
	relay.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := relay.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		relay.mu.Lock()
		relay.conn = conn
		relay.mu.Unlock()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg map[string]any
			if json.Unmarshal(data, &msg) == nil {
				relay.received <- msg
			}
		}
	}))
	t.Cleanup(relay.srv.Close)
	return relay
}

func (r *mockRelay) url() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http")
}

func (r *mockRelay) send(t *testing.T, msg map[string]any) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		conn := r.conn
		r.mu.Unlock()
		if conn != nil {
			if err := conn.WriteJSON(msg); err != nil {
				t.Fatalf("relay send: %v", err)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("relay never saw a client connection")
}

func (r *mockRelay) expect(t *testing.T, request string) map[string]any {
	t.Helper()
	for {
		select {
		case msg := <-r.received:
			if req, _ := msg["request"].(string); req == request || request == "" {
				return msg
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("relay did not receive %q", request)
		}
	}
}

func connectedClient(t *testing.T, relay *mockRelay, events Events, defaultPassword string) *Client {
	t.Helper()
	client := NewClient(Config{
		Host:            relay.url(),
		DefaultPassword: defaultPassword,
		Events:          events,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(client.Disconnect)
	return client
}

func TestConnectFailure(t *testing.T) {
	client := NewClient(Config{Host: "ws://127.0.0.1:1"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err == nil {
		t.Error("Connect to an unreachable host succeeded")
	}
	if client.IsConnected() {
		t.Error("client claims to be connected")
	}
}

func TestConnectIdempotent(t *testing.T) {
	relay := newMockRelay(t)
	client := connectedClient(t, relay, nil, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Errorf("second Connect while running: %v", err)
	}
	if !client.IsConnected() {
		t.Error("client lost its connection on repeated Connect")
	}
}

func TestReconnectAttemptsResetAfterSuccess(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping reconnect timing test in short mode")
	}

	// A relay that accepts each connection and drops it immediately: every
	// dial succeeds, so the retry budget must never run out even though the
	// total number of drops far exceeds it.
	var mu sync.Mutex
	dials := 0
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		dials++
		mu.Unlock()
		conn.Close()
	}))
	defer srv.Close()

	client := NewClient(Config{
		Host:                 "ws" + strings.TrimPrefix(srv.URL, "http"),
		AutoReconnect:        true,
		MaxReconnectAttempts: 1,
	})
	t.Cleanup(client.Disconnect)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// The relay drops us before the bounded poll may observe the
	// connection; only the dial count matters here.
	_ = client.Connect(ctx)

	// Without resetting, a budget of 1 allows two dials total. Three or
	// more proves the counter cleared after each successful dial.
	deadline := time.Now().Add(15 * time.Second)
	for {
		mu.Lock()
		n := dials
		mu.Unlock()
		if n >= 3 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("client gave up after %d dials despite each one succeeding", n)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestOperationsRequireConnection(t *testing.T) {
	client := NewClient(Config{Host: "ws://127.0.0.1:1"})
	if err := client.JoinRoom("room", "", false); err == nil {
		t.Error("JoinRoom while disconnected succeeded")
	}
	if err := client.PublishStream("stream", ""); err == nil {
		t.Error("PublishStream while disconnected succeeded")
	}
	if err := client.ViewStream("stream", ""); err == nil {
		t.Error("ViewStream while disconnected succeeded")
	}
	// Stop operations are no-ops when idle.
	if err := client.LeaveRoom(); err != nil {
		t.Errorf("LeaveRoom: %v", err)
	}
	if err := client.UnpublishStream(); err != nil {
		t.Errorf("UnpublishStream: %v", err)
	}
}

func TestLocalUUIDShape(t *testing.T) {
	client := NewClient(Config{Host: "ws://127.0.0.1:1"})
	if len(client.LocalUUID()) != 36 {
		t.Errorf("uuid = %q", client.LocalUUID())
	}
}

func TestSessionFlow(t *testing.T) {
	relay := newMockRelay(t)
	events := newRecordingEvents()
	client := connectedClient(t, relay, events, "")

	select {
	case <-events.connected:
	case <-time.After(2 * time.Second):
		t.Fatal("OnConnected never fired")
	}

	if err := client.JoinRoom("My Room!", "", false); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	join := relay.expect(t, "joinroom")
	if join["roomid"] != "My_Room_" {
		t.Errorf("roomid = %v", join["roomid"])
	}

	relay.send(t, map[string]any{"listing": []any{
		map[string]any{"streamID": "alpha"}, "beta",
	}})
	select {
	case members := <-events.listings:
		if len(members) != 2 || members[0] != "alpha" || members[1] != "beta" {
			t.Errorf("listing = %v", members)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnRoomListing never fired")
	}
	if !client.InRoom() {
		t.Error("listing did not mark the room joined")
	}

	if err := client.PublishStream("cam", ""); err != nil {
		t.Fatalf("PublishStream: %v", err)
	}
	seed := relay.expect(t, "seed")
	if seed["streamID"] != "cam" {
		t.Errorf("seed streamID = %v", seed["streamID"])
	}

	relay.send(t, map[string]any{"request": "offerSDP", "UUID": "viewer1", "session": "sess1"})
	select {
	case req := <-events.offerRequests:
		if req != [2]string{"viewer1", "sess1"} {
			t.Errorf("offer request = %v", req)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnOfferRequest never fired")
	}

	if err := client.SendOffer("viewer1", "sess1", "v=0\r\n"); err != nil {
		t.Fatalf("SendOffer: %v", err)
	}
	offer := relay.expect(t, "")
	if offer["type"] != "offer" || offer["sdp"] != "v=0\r\n" {
		t.Errorf("plaintext offer = %v", offer)
	}
	if offer["streamID"] != "cam" {
		t.Errorf("offer streamID = %v", offer["streamID"])
	}
}

func TestEncryptedNegotiation(t *testing.T) {
	relay := newMockRelay(t)
	events := newRecordingEvents()
	client := connectedClient(t, relay, events, "")

	if err := client.PublishStream("cam", "secret"); err != nil {
		t.Fatalf("PublishStream: %v", err)
	}
	seed := relay.expect(t, "seed")
	wantHashed := vdoutil.HashStreamID("cam", "secret", vdoutil.DefaultSalt)
	if seed["streamID"] != wantHashed {
		t.Errorf("seed streamID = %v, want %v", seed["streamID"], wantHashed)
	}

	if err := client.SendOffer("viewer1", "sess1", "v=0\r\n"); err != nil {
		t.Fatalf("SendOffer: %v", err)
	}
	offer := relay.expect(t, "")
	vector, _ := offer["vector"].(string)
	cipherHex, _ := offer["description"].(string)
	if vector == "" || cipherHex == "" {
		t.Fatalf("offer not encrypted: %v", offer)
	}
	plaintext, err := protocol.Decrypt(cipherHex, vector, "secret"+vdoutil.DefaultSalt)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !strings.Contains(string(plaintext), `"sdp":"v=0\r\n"`) {
		t.Errorf("decrypted offer = %s", plaintext)
	}

	// Encrypted answer from the remote side is decrypted before dispatch.
	answerCipher, answerVector, err := protocol.Encrypt(
		protocol.DescriptionPayload("answer", "v=0\r\nanswer\r\n"), "secret"+vdoutil.DefaultSalt)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	relay.send(t, map[string]any{
		"UUID": "viewer1", "session": "sess1",
		"description": answerCipher, "vector": answerVector,
	})
	select {
	case answer := <-events.answers:
		if answer != [3]string{"viewer1", "sess1", "v=0\r\nanswer\r\n"} {
			t.Errorf("answer = %v", answer)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnAnswer never fired")
	}

	// A message that fails decryption is dropped, not dispatched.
	relay.send(t, map[string]any{
		"UUID": "viewer1", "description": "00ff", "vector": "not-hex",
	})
	select {
	case answer := <-events.answers:
		t.Errorf("undecryptable message dispatched: %v", answer)
	case <-time.After(300 * time.Millisecond):
	}
}
