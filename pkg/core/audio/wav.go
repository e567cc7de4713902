package audio

import (
	"fmt"
	"io"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVRecorder streams mono float blocks into a 16-bit PCM WAV file.
// It is safe for concurrent use.
type WAVRecorder struct {
	mu     sync.Mutex
	enc    *wav.Encoder
	format *goaudio.Format
	frames int64
	closed bool
}

// NewWAVRecorder starts a WAV stream on w. The header is finalized by Close.
func NewWAVRecorder(w io.WriteSeeker, sampleRate int) (*WAVRecorder, error) {
	if w == nil {
		return nil, fmt.Errorf("wav recorder: writer must not be nil")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("wav recorder: invalid sample rate %d", sampleRate)
	}
	return &WAVRecorder{
		enc:    wav.NewEncoder(w, sampleRate, 16, 1, 1),
		format: &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
	}, nil
}

// Write appends a block of samples.
func (r *WAVRecorder) Write(samples []float32) error {
	if r == nil || len(samples) == 0 {
		return nil
	}
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(quantize(s))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("wav recorder: closed")
	}
	buf := &goaudio.IntBuffer{Format: r.format, Data: data, SourceBitDepth: 16}
	if err := r.enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	r.frames += int64(len(samples))
	return nil
}

// Frames returns the number of frames written so far.
func (r *WAVRecorder) Frames() int64 {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Close finalizes the WAV header. The underlying writer is not closed.
func (r *WAVRecorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
