package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/silviot/vdon_publisher_go/pkg/media"
	"github.com/silviot/vdon_publisher_go/pkg/publisher"
)

// fileFeeder loops a raw Annex-B H.264 bitstream through the publisher at
// a fixed frame rate, so the daemon can be exercised without a capture
// host.
type fileFeeder struct {
	frames    [][]byte
	keyframes []bool
	interval  time.Duration
	pub       *publisher.Publisher
	logger    *slog.Logger
}

func newFileFeeder(path string, frameRate int, pub *publisher.Publisher, logger *slog.Logger) (*fileFeeder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if frameRate <= 0 {
		frameRate = 30
	}

	frames, keyframes := splitAccessUnits(data)
	if len(frames) == 0 {
		return nil, fmt.Errorf("no H.264 access units found in %s", path)
	}

	logger.Info("video file loaded", "file", path, "frames", len(frames), "fps", frameRate)
	return &fileFeeder{
		frames:    frames,
		keyframes: keyframes,
		interval:  time.Second / time.Duration(frameRate),
		pub:       pub,
		logger:    logger,
	}, nil
}

func (f *fileFeeder) run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	start := time.Now()
	idx := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ts := time.Since(start).Milliseconds()
			f.pub.ProcessVideoFrame(f.frames[idx], ts, f.keyframes[idx])
			idx = (idx + 1) % len(f.frames)
		}
	}
}

// splitAccessUnits groups the NAL units of an Annex-B stream into frames:
// each slice NAL (non-IDR or IDR) closes an access unit, with any
// preceding parameter sets attached to it.
func splitAccessUnits(data []byte) (frames [][]byte, keyframes []bool) {
	units := media.SplitNALUnits(data)
	startCode := []byte{0x00, 0x00, 0x00, 0x01}

	var current []byte
	keyframe := false
	for _, unit := range units {
		if len(unit) == 0 {
			continue
		}
		current = append(current, startCode...)
		current = append(current, unit...)

		switch media.NALType(unit) {
		case media.NALTypeIDR, media.NALTypeSPS, media.NALTypePPS:
			keyframe = true
		}

		nalType := media.NALType(unit)
		if nalType == 1 || nalType == media.NALTypeIDR {
			frames = append(frames, current)
			keyframes = append(keyframes, keyframe)
			current = nil
			keyframe = false
		}
	}
	if len(current) > 0 {
		frames = append(frames, current)
		keyframes = append(keyframes, keyframe)
	}
	return frames, keyframes
}
