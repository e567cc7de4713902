package live

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vango-go/vai-live/pkg/core/audio"
)

// conversation is the resource bundle for one Connect. Every callback checks
// active first; once it is false no further audio is captured, sent or
// scheduled for this conversation.
type conversation struct {
	s      *Session
	id     string
	logger *slog.Logger

	active atomic.Bool
	opened atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	queue       chan RealtimeInput
	streamReady chan struct{}
	senderDone  chan struct{}

	teardownOnce sync.Once

	mu               sync.Mutex
	closed           bool
	failure          error
	input            InputContext
	output           OutputContext
	mic              InputStream
	node             CaptureNode
	stream           Stream
	handshake        *time.Timer
	nextPlaybackTime float64
	pending          map[uint64]PlaybackHandle
	nextHandle       uint64
}

func newConversation(s *Session) *conversation {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	c := &conversation{
		s:           s,
		id:          id,
		logger:      s.logger.With("conversation_id", id),
		ctx:         ctx,
		cancel:      cancel,
		queue:       make(chan RealtimeInput, s.cfg.SendQueueSize),
		streamReady: make(chan struct{}),
		senderDone:  make(chan struct{}),
		pending:     make(map[uint64]PlaybackHandle),
	}
	c.active.Store(true)
	go c.runSender()
	return c
}

// keep runs assign under the lock unless the conversation was already torn
// down. A false result means the caller still owns the resource and must
// release it.
func (c *conversation) keep(assign func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	assign()
	return true
}

func (c *conversation) recordFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failure == nil {
		c.failure = err
	}
}

// closedErr is what Connect returns once the conversation went away under it.
func (c *conversation) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failure != nil {
		return c.failure
	}
	return ErrConversationClosed
}

func (c *conversation) callbacks() StreamCallbacks {
	return StreamCallbacks{
		OnOpen:    c.handleOpen,
		OnMessage: c.handleMessage,
		OnClose:   c.handleClose,
		OnError:   c.handleError,
	}
}

func (c *conversation) startHandshakeTimer(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	t := time.AfterFunc(timeout, func() {
		// Claim the open slot so a late OnOpen cannot report connected.
		if !c.opened.CompareAndSwap(false, true) {
			return
		}
		c.logger.Warn("live stream handshake timed out", "timeout", timeout)
		c.failTransport(ClassifyTransportError(PhaseOpen, ErrHandshakeTimeout))
	})
	if !c.keep(func() { c.handshake = t }) {
		t.Stop()
	}
}

func (c *conversation) stopHandshakeTimer() {
	c.mu.Lock()
	t := c.handshake
	c.handshake = nil
	c.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}

func (c *conversation) fail(err error) {
	if !c.active.Load() {
		return
	}
	_ = c.s.fail(c, err)
}

func (c *conversation) failTransport(err error) {
	if !c.active.Load() {
		return
	}
	_ = c.s.failTransport(c, err)
}

func (c *conversation) handleOpen() {
	if !c.active.Load() || !c.opened.CompareAndSwap(false, true) {
		return
	}
	c.stopHandshakeTimer()
	if !c.s.transition(c, StatusConnected, "") {
		return
	}
	c.logger.Info("live stream open")

	c.mu.Lock()
	in, mic := c.input, c.mic
	c.mu.Unlock()
	if in == nil || mic == nil {
		return
	}

	node, err := in.Connect(mic, c.s.cfg.BlockSize, c.handleBlock)
	if err != nil {
		c.fail(err)
		return
	}
	if !c.keep(func() { c.node = node }) {
		node.Disconnect()
	}
}

func (c *conversation) handleBlock(block []float32) {
	if !c.active.Load() {
		return
	}
	c.s.notifyVolume(audio.RMS(block))

	in := RealtimeInput{Media: audio.Encode(block, c.s.cfg.CaptureSampleRate)}
	select {
	case c.queue <- in:
	default:
		c.s.observer.ChunkDropped(DropBackpressure)
		c.logger.Debug("live send queue full; dropping chunk", "bytes", len(in.Media.Data))
	}
}

func (c *conversation) handleMessage(msg *ServerMessage) {
	if !c.active.Load() || msg == nil {
		return
	}
	if msg.GoAway != nil {
		c.logger.Info("live server going away", "time_left", msg.GoAway.TimeLeft)
	}
	sc := msg.ServerContent
	if sc == nil {
		return
	}

	if t := sc.InputTranscription; t != nil && t.Text != "" {
		c.s.notifyTranscription(t.Text, RoleUser)
	}
	if t := sc.OutputTranscription; t != nil && t.Text != "" {
		c.s.notifyTranscription(t.Text, RoleModel)
	}
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part.InlineData.IsAudio() && part.InlineData.Data != "" {
				c.playChunk(part.InlineData.Data)
			}
		}
	}
	if sc.Interrupted {
		c.interrupt()
	}
	if sc.TurnComplete {
		c.s.observer.TurnComplete()
	}
}

// playChunk schedules one base64 PCM chunk at the end of the playback queue.
// Undecodable chunks are logged and skipped.
func (c *conversation) playChunk(data string) {
	raw, err := audio.BytesFromBase64(data)
	if err != nil {
		c.s.observer.DecodeFailed()
		c.logger.Warn("live audio chunk skipped", "error", err)
		return
	}
	buf, err := audio.Decode(raw, c.s.cfg.PlaybackSampleRate, 1)
	if err != nil {
		c.s.observer.DecodeFailed()
		c.logger.Warn("live audio chunk skipped", "error", err)
		return
	}
	if buf.Frames() == 0 {
		return
	}

	c.mu.Lock()
	if c.closed || c.output == nil {
		c.mu.Unlock()
		return
	}
	start := math.Max(c.nextPlaybackTime, c.output.CurrentTime())
	id := c.nextHandle
	c.nextHandle++
	h, err := c.output.Schedule(buf, start, func() { c.release(id) })
	if err != nil {
		c.mu.Unlock()
		c.logger.Warn("live audio schedule failed", "error", err)
		return
	}
	c.nextPlaybackTime = start + buf.Seconds()
	c.pending[id] = h
	c.mu.Unlock()

	c.s.observer.AudioScheduled(buf.Duration())
}

func (c *conversation) release(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

// interrupt stops everything scheduled and restarts the playback queue.
func (c *conversation) interrupt() {
	c.mu.Lock()
	handles := c.drainPendingLocked()
	c.nextPlaybackTime = 0
	c.mu.Unlock()

	for _, h := range handles {
		h.Stop()
	}
	c.s.observer.Interrupted(len(handles))
	c.logger.Debug("live playback interrupted", "stopped", len(handles))
}

func (c *conversation) drainPendingLocked() []PlaybackHandle {
	handles := make([]PlaybackHandle, 0, len(c.pending))
	for id, h := range c.pending {
		handles = append(handles, h)
		delete(c.pending, id)
	}
	return handles
}

func (c *conversation) handleClose(reason string) {
	if !c.active.Load() {
		return
	}
	if c.s.transition(c, StatusIdle, reason) {
		c.logger.Info("live stream closed by server", "reason", reason)
	}
	c.teardown()
}

func (c *conversation) handleError(err error) {
	if !c.active.Load() || err == nil {
		return
	}
	phase := PhaseRuntime
	if !c.opened.Load() {
		phase = PhaseOpen
	}
	c.failTransport(ClassifyTransportError(phase, err))
}

// teardown releases every resource exactly once, in acquisition-safe order:
// microphone, capture node, scheduled playback, both audio contexts, then
// the stream. It waits for the sender to exit.
func (c *conversation) teardown() {
	c.teardownOnce.Do(func() {
		c.active.Store(false)

		c.mu.Lock()
		c.closed = true
		timer := c.handshake
		mic, node := c.mic, c.node
		in, out := c.input, c.output
		stream := c.stream
		handles := c.drainPendingLocked()
		c.nextPlaybackTime = 0
		c.handshake, c.mic, c.node, c.input, c.output, c.stream = nil, nil, nil, nil, nil, nil
		c.mu.Unlock()

		if timer != nil {
			timer.Stop()
		}
		c.cancel()

		if mic != nil {
			mic.Stop()
		}
		if node != nil {
			node.Disconnect()
		}
		for _, h := range handles {
			h.Stop()
		}
		if in != nil {
			closeQuietly(c.logger, "input context", in.Close)
		}
		if out != nil {
			closeQuietly(c.logger, "output context", out.Close)
		}
		if stream != nil {
			closeQuietly(c.logger, "stream", stream.Close)
		}
		<-c.senderDone
		c.logger.Debug("live conversation released")
	})
}
