package devices

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vango-go/vai-live/pkg/core/audio"
	"github.com/vango-go/vai-live/pkg/core/live"
)

// Recording wraps a backend and copies everything the microphone captures
// into a WAV recorder.
type Recording struct {
	live.Devices
	rec    *audio.WAVRecorder
	logger *slog.Logger
}

// NewRecording returns devices that tee capture into rec.
func NewRecording(inner live.Devices, rec *audio.WAVRecorder, logger *slog.Logger) *Recording {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recording{Devices: inner, rec: rec, logger: logger}
}

// OpenMicrophone opens the wrapped microphone.
func (r *Recording) OpenMicrophone(ctx context.Context, c live.CaptureConstraints) (live.InputStream, error) {
	in, err := r.Devices.OpenMicrophone(ctx, c)
	if err != nil {
		return nil, err
	}
	src, ok := in.(Source)
	if !ok {
		in.Stop()
		return nil, fmt.Errorf("recording: unsupported stream %T", in)
	}
	return &recordedSource{Source: src, r: r}, nil
}

type recordedSource struct {
	Source
	r *Recording
}

func (s *recordedSource) Attach(sink func([]float32)) func() {
	return s.Source.Attach(func(samples []float32) {
		if err := s.r.rec.Write(samples); err != nil {
			s.r.logger.Debug("recording write failed", "error", err)
		}
		sink(samples)
	})
}
