package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrConversationClosed is returned by Connect when the conversation it was
// building was disconnected before setup finished.
var ErrConversationClosed = errors.New("conversation closed during connect")

// Handler receives owner-facing notifications. Callbacks run one at a time,
// in the order the events happened, on a goroutine owned by the session. They
// may call Connect and Disconnect.
type Handler struct {
	// OnVolumeChange reports the RMS level of each captured block in [0, 1].
	OnVolumeChange func(level float64)

	// OnStatusChange reports lifecycle transitions. details is empty except
	// for StatusError and server-initiated closes.
	OnStatusChange func(status Status, details string)

	// OnTranscription reports an incremental transcript fragment.
	OnTranscription func(text string, role Role)
}

// Deps are the collaborators a session drives.
type Deps struct {
	Transport Transport
	Devices   Devices

	// Credentials is optional. When set, a missing credential is requested
	// before devices are acquired.
	Credentials CredentialChecker

	// Observer is optional.
	Observer Observer

	// Logger is optional; slog.Default() is used when nil.
	Logger *slog.Logger
}

// Session manages at most one live conversation at a time.
type Session struct {
	cfg         Config
	transport   Transport
	devices     Devices
	credentials CredentialChecker
	observer    Observer
	logger      *slog.Logger
	handler     Handler
	events      dispatcher

	mu     sync.Mutex
	status Status
	conv   *conversation
}

// NewSession creates an idle session.
func NewSession(cfg Config, deps Deps, h Handler) *Session {
	s := &Session{
		cfg:         cfg.withDefaults(),
		transport:   deps.Transport,
		devices:     deps.Devices,
		credentials: deps.Credentials,
		observer:    deps.Observer,
		logger:      deps.Logger,
		handler:     h,
		status:      StatusIdle,
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Status returns the last reported status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Active reports whether a conversation is in progress.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv != nil
}

// PendingPlayback returns the number of scheduled buffers that have not ended.
func (s *Session) PendingPlayback() int {
	c := s.current()
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// NextPlaybackTime returns the output clock time at which the next model audio
// chunk will start, or 0 when nothing is queued.
func (s *Session) NextPlaybackTime() float64 {
	c := s.current()
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextPlaybackTime
}

func (s *Session) current() *conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv
}

// Connect starts a conversation: it checks the credential, creates both audio
// contexts, acquires the microphone and opens the transport stream. Capture
// starts once the stream reports open. Connect is a no-op while a
// conversation is already active.
//
// Failures are reported as StatusError and returned. Resources acquired
// before the failure are released. Stream failures are followed by
// StatusIdle once teardown finishes.
func (s *Session) Connect(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.transport == nil || s.devices == nil {
		return fmt.Errorf("live session requires a transport and devices")
	}

	s.mu.Lock()
	if s.conv != nil {
		s.mu.Unlock()
		return nil
	}
	c := newConversation(s)
	s.conv = c
	s.mu.Unlock()

	c.logger.Info("live conversation starting", "model", s.cfg.Stream.Model)

	s.checkCredential(ctx, c)

	in, err := s.devices.NewInputContext(s.cfg.CaptureSampleRate)
	if err != nil {
		return s.fail(c, fmt.Errorf("create input context: %w", err))
	}
	if !c.keep(func() { c.input = in }) {
		closeQuietly(c.logger, "input context", in.Close)
		return c.closedErr()
	}

	out, err := s.devices.NewOutputContext(s.cfg.PlaybackSampleRate)
	if err != nil {
		return s.fail(c, fmt.Errorf("create output context: %w", err))
	}
	if !c.keep(func() { c.output = out }) {
		closeQuietly(c.logger, "output context", out.Close)
		return c.closedErr()
	}

	if !s.transition(c, StatusConnecting, "") {
		return c.closedErr()
	}

	mic, err := s.devices.OpenMicrophone(ctx, CaptureConstraints{
		SampleRate:       s.cfg.CaptureSampleRate,
		Channels:         1,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	})
	if err != nil {
		return s.fail(c, &PermissionError{Err: err})
	}
	if !c.keep(func() { c.mic = mic }) {
		mic.Stop()
		return c.closedErr()
	}

	if err := in.Resume(ctx); err != nil {
		return s.fail(c, fmt.Errorf("resume input context: %w", err))
	}
	if err := out.Resume(ctx); err != nil {
		return s.fail(c, fmt.Errorf("resume output context: %w", err))
	}

	c.startHandshakeTimer(s.cfg.HandshakeTimeout)

	// The stream lives on the conversation's context; the caller's context
	// only bounds the dial.
	openCtx, cancelOpen := context.WithCancel(c.ctx)
	defer cancelOpen()
	stopWatch := context.AfterFunc(ctx, cancelOpen)
	stream, err := s.transport.Open(openCtx, s.cfg.Stream, c.callbacks())
	stopWatch()
	if err != nil {
		if !c.active.Load() {
			return c.closedErr()
		}
		return s.failTransport(c, ClassifyTransportError(PhaseOpen, err))
	}
	if !c.keep(func() {
		c.stream = stream
		close(c.streamReady)
	}) {
		closeQuietly(c.logger, "stream", stream.Close)
		return c.closedErr()
	}
	return nil
}

// Disconnect ends the active conversation, if any, and reports StatusIdle.
// It is safe to call at any time and from any goroutine.
func (s *Session) Disconnect() {
	s.mu.Lock()
	c := s.conv
	if c != nil {
		c.active.Store(false)
	}
	s.conv = nil
	s.status = StatusIdle
	s.notifyStatus(StatusIdle, "")
	s.mu.Unlock()

	if c != nil {
		c.logger.Info("live conversation disconnected")
		c.teardown()
	}
}

func (s *Session) checkCredential(ctx context.Context, c *conversation) {
	if s.credentials == nil || s.credentials.HasCredential(ctx) {
		return
	}
	if err := s.credentials.RequestCredential(ctx); err != nil {
		c.logger.Warn("credential request failed; connecting anyway", "error", err)
	}
}

// transition records status for c and queues the owner notification. It
// reports false when c is no longer the session's conversation. Terminal
// statuses detach c from the session.
func (s *Session) transition(c *conversation, status Status, details string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv != c || !c.active.Load() {
		return false
	}
	if status == StatusIdle || status == StatusError {
		c.active.Store(false)
		s.conv = nil
	}
	s.status = status
	s.notifyStatus(status, details)
	return true
}

// notifyStatus must be called with s.mu held so notifications are queued in
// the same order as the transitions.
func (s *Session) notifyStatus(status Status, details string) {
	s.observer.StatusChanged(status)
	if h := s.handler.OnStatusChange; h != nil {
		s.events.post(func() { h(status, details) })
	}
}

func (s *Session) notifyVolume(level float64) {
	if h := s.handler.OnVolumeChange; h != nil {
		s.events.post(func() { h(level) })
	}
}

func (s *Session) notifyTranscription(text string, role Role) {
	if h := s.handler.OnTranscription; h != nil {
		s.events.post(func() { h(text, role) })
	}
}

// fail reports err as StatusError for c and tears c down. It returns err so
// Connect can return it directly.
func (s *Session) fail(c *conversation, err error) error {
	s.report(c, err)
	c.teardown()
	return err
}

// failTransport is fail for stream errors. Once teardown finishes the session
// settles back to StatusIdle.
func (s *Session) failTransport(c *conversation, err error) error {
	reported := s.report(c, err)
	c.teardown()
	if reported {
		s.settle()
	}
	return err
}

func (s *Session) report(c *conversation, err error) bool {
	c.recordFailure(err)
	if !s.transition(c, StatusError, statusDetails(err)) {
		return false
	}
	c.logger.Error("live conversation failed", "error", err)
	return true
}

// settle moves an errored session with no conversation back to StatusIdle.
// A Connect or Disconnect that ran in between wins.
func (s *Session) settle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv != nil || s.status != StatusError {
		return
	}
	s.status = StatusIdle
	s.notifyStatus(StatusIdle, "")
}

func closeQuietly(logger *slog.Logger, what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.Debug("live close failed", "resource", what, "error", err)
	}
}
