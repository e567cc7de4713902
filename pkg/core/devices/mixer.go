// Package devices provides the audio hardware used by a live session: a
// sample-accurate playback mixer, a capture blocker, and two backends built
// on malgo and on ffmpeg/ffplay subprocesses.
package devices

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/vango-go/vai-live/pkg/core/audio"
	"github.com/vango-go/vai-live/pkg/core/live"
)

// ErrClosed is returned by contexts that have been closed.
var ErrClosed = errors.New("devices: closed")

// Mixer is a pull-driven output clock. Buffers are scheduled at absolute
// clock times and summed by Read, which also advances the clock. The clock
// only moves when a device (or a test) pulls samples.
type Mixer struct {
	rate int

	mu     sync.Mutex
	frame  int64
	voices []*voice
	nextID uint64
	closed bool
}

type voice struct {
	id      uint64
	start   int64
	samples []float32
	onEnded func()
}

// NewMixer returns a mixer running at sampleRate Hz, positioned at time zero.
func NewMixer(sampleRate int) (*Mixer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("mixer: invalid sample rate %d", sampleRate)
	}
	return &Mixer{rate: sampleRate}, nil
}

// SampleRate returns the clock rate in Hz.
func (m *Mixer) SampleRate() int { return m.rate }

// Resume is a no-op; the mixer advances whenever Read is called.
func (m *Mixer) Resume(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// CurrentTime returns the clock position in seconds.
func (m *Mixer) CurrentTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(m.frame) / float64(m.rate)
}

// Pending returns the number of scheduled buffers that have not finished.
func (m *Mixer) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voices)
}

// Schedule queues buf to start at the given clock time. A start time in the
// past plays from the current position.
func (m *Mixer) Schedule(buf *audio.Buffer, at float64, onEnded func()) (live.PlaybackHandle, error) {
	if buf == nil {
		return nil, fmt.Errorf("mixer: nil buffer")
	}
	if buf.SampleRate != m.rate {
		return nil, fmt.Errorf("mixer: buffer rate %d does not match clock rate %d", buf.SampleRate, m.rate)
	}
	samples := downmix(buf)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	start := int64(math.Round(at * float64(m.rate)))
	if start < m.frame {
		start = m.frame
	}
	m.nextID++
	v := &voice{id: m.nextID, start: start, samples: samples, onEnded: onEnded}
	m.voices = append(m.voices, v)
	return &mixerHandle{m: m, id: v.id}, nil
}

// Read mixes the next len(dst) frames into dst and advances the clock.
// Buffers that finish during the read have their callbacks run before Read
// returns, outside the mixer lock.
func (m *Mixer) Read(dst []float32) int {
	for i := range dst {
		dst[i] = 0
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0
	}
	from := m.frame
	to := from + int64(len(dst))
	var ended []func()
	kept := m.voices[:0]
	for _, v := range m.voices {
		end := v.start + int64(len(v.samples))
		lo, hi := max(v.start, from), min(end, to)
		for f := lo; f < hi; f++ {
			dst[f-from] += v.samples[f-v.start]
		}
		if end <= to {
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
			continue
		}
		kept = append(kept, v)
	}
	clear(m.voices[len(kept):])
	m.voices = kept
	m.frame = to
	m.mu.Unlock()

	for i, s := range dst {
		dst[i] = clamp(s)
	}
	for _, fn := range ended {
		fn()
	}
	return len(dst)
}

// Close drops every scheduled buffer. Their callbacks still run, on another
// goroutine.
func (m *Mixer) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	voices := m.voices
	m.voices = nil
	m.mu.Unlock()

	var ended []func()
	for _, v := range voices {
		if v.onEnded != nil {
			ended = append(ended, v.onEnded)
		}
	}
	runLater(ended)
	return nil
}

func (m *Mixer) stop(id uint64) {
	m.mu.Lock()
	var fn func()
	for i, v := range m.voices {
		if v.id == id {
			fn = v.onEnded
			m.voices = append(m.voices[:i], m.voices[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	if fn != nil {
		runLater([]func(){fn})
	}
}

type mixerHandle struct {
	m    *Mixer
	id   uint64
	once sync.Once
}

// Stop silences the buffer immediately. Stopping a finished buffer is a no-op.
func (h *mixerHandle) Stop() {
	h.once.Do(func() { h.m.stop(h.id) })
}

func runLater(fns []func()) {
	if len(fns) == 0 {
		return
	}
	go func() {
		for _, fn := range fns {
			fn()
		}
	}()
}

func downmix(buf *audio.Buffer) []float32 {
	ch := buf.Channels
	if ch <= 1 {
		out := make([]float32, len(buf.Samples))
		copy(out, buf.Samples)
		return out
	}
	frames := buf.Frames()
	out := make([]float32, frames)
	for f := 0; f < frames; f++ {
		var sum float32
		for c := 0; c < ch; c++ {
			sum += buf.Samples[f*ch+c]
		}
		out[f] = sum / float32(ch)
	}
	return out
}

func clamp(s float32) float32 {
	switch {
	case s > 1:
		return 1
	case s < -1:
		return -1
	default:
		return s
	}
}
