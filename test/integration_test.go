package test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/silviot/vdon_publisher_go/pkg/publisher"
)

// TestPublishSession tests the basic publish session flow end to end:
// connect, join a room, seed the stream, answer an offer request, stop.
func TestPublishSession(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	relay, err := StartMockRelay(0, logger)
	if err != nil {
		t.Fatalf("failed to start mock relay: %v", err)
	}
	defer relay.Close()

	pub := publisher.New(publisher.Config{Logger: logger})
	defer pub.Stop()

	settings := publisher.DefaultSettings()
	settings.StreamID = "teststream"
	settings.RoomID = "testroom"
	settings.WSSHost = relay.URL()
	settings.AutoReconnect = false

	if err := pub.Start(context.Background(), settings); err != nil {
		t.Fatalf("failed to start publisher: %v", err)
	}

	if err := relay.WaitForConnections(1, 5*time.Second); err != nil {
		t.Fatalf("relay connection timeout: %v", err)
	}

	if _, err := relay.WaitForRequest("joinroom", 5*time.Second); err != nil {
		t.Errorf("expected joinroom request: %v", err)
	}
	seed, err := relay.WaitForRequest("seed", 5*time.Second)
	if err != nil {
		t.Fatalf("expected seed request: %v", err)
	}
	if id, _ := seed["streamID"].(string); id == "" {
		t.Error("seed request carried no stream id")
	}

	if !pub.IsRunning() {
		t.Error("publisher should report running")
	}
	if pub.ViewerCount() != 0 {
		t.Errorf("expected 0 viewers, got %d", pub.ViewerCount())
	}

	// A viewer asks for an offer through the relay; the publisher must
	// answer with an SDP description addressed to that viewer.
	relay.SolicitOffer("viewer-1", "sess-1")

	offer, err := relay.WaitForKey("description", 10*time.Second)
	if err != nil {
		t.Fatalf("expected an SDP offer on the relay: %v", err)
	}
	if uuid, _ := offer["UUID"].(string); uuid != "viewer-1" {
		t.Errorf("offer addressed to %q, want viewer-1", uuid)
	}
	if pub.ViewerCount() != 1 {
		t.Errorf("expected 1 viewer slot occupied, got %d", pub.ViewerCount())
	}

	pub.Stop()

	if _, err := relay.WaitForRequest("unseed", 5*time.Second); err != nil {
		t.Errorf("expected unseed request on stop: %v", err)
	}
	if pub.IsRunning() {
		t.Error("publisher should be stopped")
	}

	logger.Info("test passed: publish session lifecycle verified")
}

// TestStartUnreachableRelay tests that startup fails cleanly when the
// signaling relay cannot be reached.
func TestStartUnreachableRelay(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	pub := publisher.New(publisher.Config{Logger: slog.Default()})

	settings := publisher.DefaultSettings()
	settings.StreamID = "teststream"
	settings.WSSHost = "ws://127.0.0.1:9999" // Nothing listening here.
	settings.AutoReconnect = false

	if err := pub.Start(context.Background(), settings); err == nil {
		pub.Stop()
		t.Fatal("expected start to fail against unreachable relay")
	}
	if pub.IsRunning() {
		t.Error("publisher should not report running after failed start")
	}
}

// TestStreamKeyRoundTrip tests that a combined stream key populates the
// session settings the API would otherwise receive field by field.
func TestStreamKeyRoundTrip(t *testing.T) {
	settings := publisher.Settings{
		StreamKey: "mystream|secret|myroom",
	}
	settings.Normalize()

	if settings.StreamID != "mystream" {
		t.Errorf("StreamID = %q, want mystream", settings.StreamID)
	}
	if settings.Password != "secret" {
		t.Errorf("Password = %q, want secret", settings.Password)
	}
	if settings.RoomID != "myroom" {
		t.Errorf("RoomID = %q, want myroom", settings.RoomID)
	}
	if settings.WSSHost != publisher.DefaultWSSHost {
		t.Errorf("WSSHost = %q, want default host", settings.WSSHost)
	}
}

// Benchmark to verify settings normalization stays allocation-light.
func BenchmarkSettingsNormalize(b *testing.B) {
	for i := 0; i < b.N; i++ {
		settings := publisher.Settings{
			StreamKey: "mystream|secret|myroom|mysalt|wss://example.test",
		}
		settings.Normalize()
	}
}
