// internal/screen/streamer.go
package screen

import (
	"context"
	"log/slog"
	"time"
)

// FrameSink receives encoded frames and the terminal stream event.
type FrameSink interface {
	// SendFrame delivers one encoded frame. A send error ends the stream.
	SendFrame(frame string) error
	// StreamEnded reports why the stream stopped. Called exactly once
	// unless the stream ends by context cancellation.
	StreamEnded(reason string)
}

// StreamParams configures one streaming session.
type StreamParams struct {
	FPS     int     `json:"fps"`
	Quality int     `json:"quality"`
	Scale   float64 `json:"scale"`
}

func (p StreamParams) withDefaults() StreamParams {
	if p.FPS <= 0 {
		p.FPS = 10
	}
	if p.Quality <= 0 {
		p.Quality = 60
	}
	if p.Scale <= 0 {
		p.Scale = 0.5
	}
	return p
}

// Streamer is a cooperative capture loop: each tick captures, encodes,
// and emits one frame, then sleeps out the rest of the frame interval.
// There is no flow control; a slow sink blocks the loop and throttles
// the effective frame rate.
type Streamer struct {
	capturer Capturer
}

// NewStreamer creates a Streamer over the given capturer.
func NewStreamer(capturer Capturer) *Streamer {
	return &Streamer{capturer: capturer}
}

// Run streams until ctx is cancelled or capture/send fails. A failure
// terminates the stream AND reports it through sink.StreamEnded, so the
// coordinator knows streaming stopped and why.
func (s *Streamer) Run(ctx context.Context, params StreamParams, sink FrameSink) {
	params = params.withDefaults()
	interval := time.Second / time.Duration(params.FPS)

	slog.Info("screen stream started", "fps", params.FPS, "quality", params.Quality, "scale", params.Scale)
	frames := 0
	defer func() {
		slog.Info("screen stream stopped", "frames", frames)
	}()

	for {
		img, err := s.capturer.Capture()
		if err != nil {
			slog.Error("stream capture failed", "error", err)
			sink.StreamEnded(err.Error())
			return
		}
		frame, err := Encode(img, params.Quality, params.Scale)
		if err != nil {
			slog.Error("stream encode failed", "error", err)
			sink.StreamEnded(err.Error())
			return
		}
		if err := sink.SendFrame(frame); err != nil {
			slog.Error("stream send failed", "error", err)
			sink.StreamEnded(err.Error())
			return
		}
		frames++

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// Screenshot captures and encodes a single frame.
func (s *Streamer) Screenshot(quality int, scale float64) (string, error) {
	img, err := s.capturer.Capture()
	if err != nil {
		return "", err
	}
	return Encode(img, quality, scale)
}
