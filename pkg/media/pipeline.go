package media

import (
	"log/slog"
	"sync"
)

// VideoFrame is one pre-encoded H.264 access unit from the capture side.
type VideoFrame struct {
	Data        []byte
	TimestampMS int64 // < 0 when the encoder supplied no timestamp
	Keyframe    bool
}

// AudioFrame is one pre-encoded Opus frame.
type AudioFrame struct {
	Data        []byte
	TimestampMS int64
}

// FrameSink consumes frames drained from a Pipeline.
type FrameSink interface {
	SendVideoFrame(frame VideoFrame)
	SendAudioFrame(frame AudioFrame)
}

// Pipeline decouples the encoder thread from the peer fan-out with bounded
// queues. Frames are dropped with a warning when a queue is full; a slow
// consumer must never block the capture side.
type Pipeline struct {
	videoCh chan VideoFrame
	audioCh chan AudioFrame
	logger  *slog.Logger
	closeCh chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// NewPipeline creates a pipeline with bounded frame queues.
func NewPipeline(logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		videoCh: make(chan VideoFrame, 30),
		audioCh: make(chan AudioFrame, 100),
		logger:  logger,
		closeCh: make(chan struct{}),
	}
}

// Start drains frames into sink until Close.
func (p *Pipeline) Start(sink FrameSink) {
	p.wg.Add(1)
	go p.drainLoop(sink)
}

func (p *Pipeline) drainLoop(sink FrameSink) {
	defer p.wg.Done()
	for {
		select {
		case <-p.closeCh:
			return
		case frame := <-p.videoCh:
			sink.SendVideoFrame(frame)
		case frame := <-p.audioCh:
			sink.SendAudioFrame(frame)
		}
	}
}

// PushVideo enqueues one video frame, dropping it when the queue is full.
func (p *Pipeline) PushVideo(frame VideoFrame) {
	select {
	case p.videoCh <- frame:
	case <-p.closeCh:
	default:
		p.logger.Warn("video frame queue full, dropping frame")
	}
}

// PushAudio enqueues one audio frame, dropping it when the queue is full.
func (p *Pipeline) PushAudio(frame AudioFrame) {
	select {
	case p.audioCh <- frame:
	case <-p.closeCh:
	default:
		p.logger.Warn("audio frame queue full, dropping frame")
	}
}

// Close stops the drain loop. Buffered frames are discarded; shutdown
// favors prompt release over delivery.
func (p *Pipeline) Close() error {
	p.once.Do(func() { close(p.closeCh) })
	p.wg.Wait()
	return nil
}
