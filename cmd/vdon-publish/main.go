package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/silviot/vdon_publisher_go/pkg/publisher"
)

func main() {
	var (
		port       = flag.String("port", "8080", "HTTP control API port")
		streamID   = flag.String("stream-id", "", "Stream ID to publish as")
		streamKey  = flag.String("stream-key", "", "Combined VDO.Ninja key (id|password|room|... or push URL)")
		roomID     = flag.String("room", "", "Room to join")
		password   = flag.String("password", "", "Room/stream password")
		wssHost    = flag.String("wss-host", "", "Signaling server URL (default wss://wss.vdo.ninja:443)")
		salt       = flag.String("salt", "", "Hashing salt (default vdo.ninja)")
		bitrate    = flag.Int("bitrate", 0, "Video bitrate in kbps (default 4000)")
		maxViewers = flag.Int("max-viewers", 0, "Maximum concurrent viewers (default 10)")
		forceTURN  = flag.Bool("force-turn", false, "Restrict ICE to TURN relay candidates")
		iceServers = flag.String("ice-servers", "", "Custom ICE server list")
		videoFile  = flag.String("video-file", "", "Raw Annex-B H.264 file to loop as the video feed")
		frameRate  = flag.Int("frame-rate", 30, "Frame rate for the -video-file feeder")
		logLevel   = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	)
	flag.Parse()

	// Environment fallbacks for container deployments.
	if *port == "8080" {
		if p := os.Getenv("PORT"); p != "" {
			*port = p
		}
	}
	if *streamID == "" {
		*streamID = os.Getenv("VDON_STREAM_ID")
	}
	if *streamKey == "" {
		*streamKey = os.Getenv("VDON_STREAM_KEY")
	}
	if *roomID == "" {
		*roomID = os.Getenv("VDON_ROOM")
	}
	if *password == "" {
		*password = os.Getenv("VDON_PASSWORD")
	}
	if *wssHost == "" {
		*wssHost = os.Getenv("VDON_WSS_HOST")
	}
	if *logLevel == "info" {
		if ll := os.Getenv("LOG_LEVEL"); ll != "" {
			*logLevel = ll
		}
	}

	logger := setupLogger(*logLevel)

	pub := publisher.New(publisher.Config{
		Logger: logger,
		OnChat: func(sender, message string) {
			logger.Info("chat", "from", sender, "message", message)
		},
	})
	defer pub.Stop()

	settings := publisher.DefaultSettings()
	settings.StreamID = *streamID
	settings.StreamKey = *streamKey
	settings.RoomID = *roomID
	settings.Password = *password
	if *wssHost != "" {
		settings.WSSHost = *wssHost
	}
	if *salt != "" {
		settings.Salt = *salt
	}
	if *bitrate > 0 {
		settings.BitrateKbps = *bitrate
	}
	if *maxViewers > 0 {
		settings.MaxViewers = *maxViewers
	}
	settings.ForceTURN = *forceTURN
	settings.ICEServers = *iceServers

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Publish immediately when a stream identity was supplied; otherwise
	// wait for a POST to the control API.
	if *streamID != "" || *streamKey != "" {
		if err := pub.Start(ctx, settings); err != nil {
			logger.Error("failed to start publishing", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Info("no stream id configured, waiting for control API request")
	}

	if *videoFile != "" {
		feeder, err := newFileFeeder(*videoFile, *frameRate, pub, logger)
		if err != nil {
			logger.Error("failed to open video file", "file", *videoFile, "error", err)
			os.Exit(1)
		}
		go feeder.run(ctx)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"healthy","publishing":%t,"viewers":%d,"timestamp":%d}`+"\n",
			pub.IsRunning(), pub.ViewerCount(), time.Now().Unix())
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":     "ok",
			"publishing": pub.IsRunning(),
		})
	})

	mux.HandleFunc("POST /api/v1/publish", pub.HandlePublishRequest)
	mux.HandleFunc("DELETE /api/v1/publish", pub.HandleStopRequest)
	mux.HandleFunc("GET /api/v1/viewers", pub.HandleViewersRequest)
	mux.HandleFunc("GET /api/v1/tally", pub.HandleTallyRequest)

	server := &http.Server{
		Addr:    ":" + *port,
		Handler: mux,
	}

	go func() {
		logger.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received, gracefully shutting down")
	cancel()
	pub.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("publisher stopped")
}

// setupLogger creates a structured logger
func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
