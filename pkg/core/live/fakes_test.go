package live

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/vango-go/vai-live/pkg/core/audio"
)

type fakeTransport struct {
	mu      sync.Mutex
	opens   int
	cfg     StreamConfig
	cb      StreamCallbacks
	stream  *fakeStream
	openErr error

	// block, when set, makes Open wait until it is closed or ctx ends.
	block chan struct{}
	// entered is closed when Open starts, if set.
	entered chan struct{}
}

func (t *fakeTransport) Open(ctx context.Context, cfg StreamConfig, cb StreamCallbacks) (Stream, error) {
	t.mu.Lock()
	t.opens++
	t.cfg = cfg
	t.cb = cb
	block, entered, openErr := t.block, t.entered, t.openErr
	t.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if openErr != nil {
		return nil, openErr
	}
	st := &fakeStream{sent: make(chan RealtimeInput, 64)}
	t.mu.Lock()
	t.stream = st
	t.mu.Unlock()
	return st, nil
}

func (t *fakeTransport) callbacks() StreamCallbacks {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cb
}

func (t *fakeTransport) openCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opens
}

func (t *fakeTransport) lastStream() *fakeStream {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stream
}

type fakeStream struct {
	sent chan RealtimeInput

	mu      sync.Mutex
	closes  int
	sendErr error
	// hold, when set, makes Send wait until it is closed or ctx ends.
	hold      chan struct{}
	inSend    chan struct{}
	inSendOne sync.Once
}

func (s *fakeStream) Send(ctx context.Context, in RealtimeInput) error {
	s.mu.Lock()
	hold, inSend, sendErr := s.hold, s.inSend, s.sendErr
	s.mu.Unlock()

	if inSend != nil {
		s.inSendOne.Do(func() { close(inSend) })
	}
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if sendErr != nil {
		return sendErr
	}
	s.sent <- in
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeStream) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

type fakeDevices struct {
	mu     sync.Mutex
	micErr error
	inErr  error
	mics   []*fakeMic
	inputs []*fakeInput
	output []*fakeOutput
	constr CaptureConstraints
}

func (d *fakeDevices) OpenMicrophone(ctx context.Context, c CaptureConstraints) (InputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.constr = c
	if d.micErr != nil {
		return nil, d.micErr
	}
	m := &fakeMic{}
	d.mics = append(d.mics, m)
	return m, nil
}

func (d *fakeDevices) NewInputContext(sampleRate int) (InputContext, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inErr != nil {
		return nil, d.inErr
	}
	in := &fakeInput{sampleRate: sampleRate}
	d.inputs = append(d.inputs, in)
	return in, nil
}

func (d *fakeDevices) NewOutputContext(sampleRate int) (OutputContext, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := &fakeOutput{sampleRate: sampleRate}
	d.output = append(d.output, out)
	return out, nil
}

func (d *fakeDevices) lastInput() *fakeInput {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.inputs) == 0 {
		return nil
	}
	return d.inputs[len(d.inputs)-1]
}

func (d *fakeDevices) lastOutput() *fakeOutput {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.output) == 0 {
		return nil
	}
	return d.output[len(d.output)-1]
}

func (d *fakeDevices) lastMic() *fakeMic {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.mics) == 0 {
		return nil
	}
	return d.mics[len(d.mics)-1]
}

type fakeMic struct {
	mu    sync.Mutex
	stops int
}

func (m *fakeMic) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
}

func (m *fakeMic) stopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

type fakeInput struct {
	sampleRate int

	mu        sync.Mutex
	resumed   int
	closes    int
	blockSize int
	fn        func([]float32)
	node      *fakeNode
}

func (in *fakeInput) Resume(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.resumed++
	return nil
}

func (in *fakeInput) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.closes++
	return nil
}

func (in *fakeInput) Connect(stream InputStream, blockSize int, fn func([]float32)) (CaptureNode, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.blockSize = blockSize
	in.fn = fn
	in.node = &fakeNode{}
	return in.node, nil
}

// feed delivers one block as the audio thread would.
func (in *fakeInput) feed(block []float32) {
	in.mu.Lock()
	fn := in.fn
	in.mu.Unlock()
	if fn != nil {
		fn(block)
	}
}

func (in *fakeInput) closeCount() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.closes
}

func (in *fakeInput) captureNode() *fakeNode {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.node
}

type fakeNode struct {
	mu           sync.Mutex
	disconnected int
}

func (n *fakeNode) Disconnect() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.disconnected++
}

func (n *fakeNode) disconnectCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.disconnected
}

type scheduled struct {
	at      float64
	frames  int
	onEnded func()
	handle  *fakeHandle
}

type fakeOutput struct {
	sampleRate int

	mu      sync.Mutex
	now     float64
	closes  int
	entries []scheduled
}

func (o *fakeOutput) Resume(ctx context.Context) error { return nil }

func (o *fakeOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closes++
	return nil
}

func (o *fakeOutput) CurrentTime() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

func (o *fakeOutput) Schedule(buf *audio.Buffer, at float64, onEnded func()) (PlaybackHandle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	h := &fakeHandle{}
	o.entries = append(o.entries, scheduled{at: at, frames: buf.Frames(), onEnded: onEnded, handle: h})
	return h, nil
}

func (o *fakeOutput) setTime(t float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = t
}

func (o *fakeOutput) scheduled() []scheduled {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]scheduled, len(o.entries))
	copy(out, o.entries)
	return out
}

func (o *fakeOutput) closeCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closes
}

type fakeHandle struct {
	mu    sync.Mutex
	stops int
}

func (h *fakeHandle) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stops++
}

func (h *fakeHandle) stopCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stops
}

type statusEvent struct {
	status  Status
	details string
}

type transcriptEvent struct {
	text string
	role Role
}

type recorder struct {
	mu          sync.Mutex
	statuses    []statusEvent
	transcripts []transcriptEvent
	volumes     []float64
}

func (r *recorder) handler() Handler {
	return Handler{
		OnVolumeChange: func(level float64) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.volumes = append(r.volumes, level)
		},
		OnStatusChange: func(status Status, details string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.statuses = append(r.statuses, statusEvent{status: status, details: details})
		},
		OnTranscription: func(text string, role Role) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.transcripts = append(r.transcripts, transcriptEvent{text: text, role: role})
		},
	}
}

func (r *recorder) statusList() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, 0, len(r.statuses))
	for _, ev := range r.statuses {
		out = append(out, ev.status)
	}
	return out
}

func (r *recorder) statusEvents() []statusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]statusEvent, len(r.statuses))
	copy(out, r.statuses)
	return out
}

func (r *recorder) lastStatus() statusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return statusEvent{status: -1}
	}
	return r.statuses[len(r.statuses)-1]
}

func (r *recorder) transcriptList() []transcriptEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]transcriptEvent, len(r.transcripts))
	copy(out, r.transcripts)
	return out
}

func (r *recorder) volumeList() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]float64, len(r.volumes))
	copy(out, r.volumes)
	return out
}

type countingObserver struct {
	mu          sync.Mutex
	sent        int
	dropped     map[string]int
	scheduled   int
	decodeFails int
	interrupts  []int
	turns       int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{dropped: make(map[string]int)}
}

func (o *countingObserver) StatusChanged(Status) {}

func (o *countingObserver) ChunkSent(int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent++
}

func (o *countingObserver) ChunkDropped(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped[reason]++
}

func (o *countingObserver) AudioScheduled(time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scheduled++
}

func (o *countingObserver) DecodeFailed() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.decodeFails++
}

func (o *countingObserver) Interrupted(stopped int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.interrupts = append(o.interrupts, stopped)
}

func (o *countingObserver) TurnComplete() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.turns++
}

func (o *countingObserver) droppedFor(reason string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped[reason]
}

type fakeCredentials struct {
	mu         sync.Mutex
	has        bool
	requestErr error
	requests   int
}

func (c *fakeCredentials) HasCredential(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.has
}

func (c *fakeCredentials) RequestCredential(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests++
	return c.requestErr
}

type harness struct {
	t         *testing.T
	session   *Session
	transport *fakeTransport
	devices   *fakeDevices
	rec       *recorder
	obs       *countingObserver
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	h := &harness{
		t:         t,
		transport: &fakeTransport{},
		devices:   &fakeDevices{},
		rec:       &recorder{},
		obs:       newCountingObserver(),
	}
	h.session = NewSession(cfg, Deps{
		Transport: h.transport,
		Devices:   h.devices,
		Observer:  h.obs,
	}, h.rec.handler())
	t.Cleanup(h.session.Disconnect)
	return h
}

// connectOpen connects and fires the stream's open callback.
func (h *harness) connectOpen() {
	h.t.Helper()
	if err := h.session.Connect(context.Background()); err != nil {
		h.t.Fatalf("Connect: %v", err)
	}
	h.transport.callbacks().OnOpen()
	h.flush()
}

// flush waits until every queued owner callback has run.
func (h *harness) flush() {
	h.session.events.sync()
}

func (h *harness) message(msg *ServerMessage) {
	h.transport.callbacks().OnMessage(msg)
	h.flush()
}

func pcmBase64(frames int) string {
	return base64.StdEncoding.EncodeToString(make([]byte, frames*2))
}

func audioMessage(chunks ...string) *ServerMessage {
	parts := make([]Part, 0, len(chunks))
	for _, c := range chunks {
		parts = append(parts, Part{InlineData: &InlineData{MIMEType: "audio/pcm;rate=24000", Data: c}})
	}
	return &ServerMessage{ServerContent: &ServerContent{ModelTurn: &Content{Role: "model", Parts: parts}}}
}

func equalStatuses(got, want []Status) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
