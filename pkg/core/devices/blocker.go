package devices

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/vango-go/vai-live/pkg/core/live"
)

// Blocker regroups an arbitrary stream of samples into fixed-size blocks.
// It is not safe for concurrent use; each capture callback owns one.
type Blocker struct {
	size int
	buf  []float32
	fn   func([]float32)
}

// NewBlocker returns a Blocker that calls fn with every full block. The block
// slice is reused between calls.
func NewBlocker(size int, fn func([]float32)) *Blocker {
	if size <= 0 {
		size = 1
	}
	return &Blocker{size: size, buf: make([]float32, 0, size), fn: fn}
}

// Write appends samples, emitting as many blocks as complete.
func (b *Blocker) Write(samples []float32) {
	for len(samples) > 0 {
		n := min(b.size-len(b.buf), len(samples))
		b.buf = append(b.buf, samples[:n]...)
		samples = samples[n:]
		if len(b.buf) == b.size {
			if b.fn != nil {
				b.fn(b.buf)
			}
			b.buf = b.buf[:0]
		}
	}
}

// Buffered returns the number of samples waiting for a full block.
func (b *Blocker) Buffered() int { return len(b.buf) }

// Source is a capture stream that pushes mono samples to a sink. Sinks are
// called from the device's capture goroutine.
type Source interface {
	live.InputStream
	SampleRate() int
	Attach(sink func([]float32)) (detach func())
}

// tap fans a source's samples out to at most one sink at a time.
type tap struct {
	sink atomic.Pointer[func([]float32)]
}

func (t *tap) Attach(sink func([]float32)) func() {
	t.sink.Store(&sink)
	return func() { t.sink.CompareAndSwap(&sink, nil) }
}

func (t *tap) push(samples []float32) {
	if fn := t.sink.Load(); fn != nil {
		(*fn)(samples)
	}
}

// InputGraph is the capture-side context shared by every backend. It connects
// a Source to a Blocker.
type InputGraph struct {
	rate int

	mu     sync.Mutex
	closed bool
	nodes  map[*inputNode]struct{}
}

// NewInputGraph returns an input context expecting sources at sampleRate Hz.
func NewInputGraph(sampleRate int) (*InputGraph, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("input: invalid sample rate %d", sampleRate)
	}
	return &InputGraph{rate: sampleRate, nodes: make(map[*inputNode]struct{})}, nil
}

// Resume fails only after Close.
func (g *InputGraph) Resume(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	return nil
}

// Connect starts delivering blockSize-sample blocks from stream to fn.
func (g *InputGraph) Connect(stream live.InputStream, blockSize int, fn func([]float32)) (live.CaptureNode, error) {
	src, ok := stream.(Source)
	if !ok {
		return nil, fmt.Errorf("input: unsupported stream %T", stream)
	}
	if src.SampleRate() != g.rate {
		return nil, fmt.Errorf("input: stream rate %d does not match context rate %d", src.SampleRate(), g.rate)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, ErrClosed
	}
	n := &inputNode{g: g}
	blk := NewBlocker(blockSize, fn)
	var mu sync.Mutex
	n.detach = src.Attach(func(samples []float32) {
		mu.Lock()
		defer mu.Unlock()
		blk.Write(samples)
	})
	g.nodes[n] = struct{}{}
	return n, nil
}

// Close disconnects every node.
func (g *InputGraph) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	nodes := g.nodes
	g.nodes = nil
	g.mu.Unlock()

	for n := range nodes {
		n.once.Do(n.detach)
	}
	return nil
}

type inputNode struct {
	g      *InputGraph
	detach func()
	once   sync.Once
}

func (n *inputNode) Disconnect() {
	n.once.Do(func() {
		n.detach()
		n.g.mu.Lock()
		delete(n.g.nodes, n)
		n.g.mu.Unlock()
	})
}
