package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-live/pkg/core/audio"
	"github.com/vango-go/vai-live/pkg/core/live"
)

var errStreamClosed = errors.New("gemini: live stream is closed")

// WSTransport speaks the BidiGenerateContent protocol over gorilla/websocket.
type WSTransport struct {
	key  KeySource
	opts options
}

// NewWSTransport creates a websocket transport.
func NewWSTransport(key KeySource, opts ...Option) *WSTransport {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &WSTransport{key: key, opts: o}
}

// Open dials the endpoint and sends the setup frame. cb.OnOpen fires when the
// server acknowledges the setup.
func (t *WSTransport) Open(ctx context.Context, cfg live.StreamConfig, cb live.StreamCallbacks) (live.Stream, error) {
	key := ""
	if t.key != nil {
		key = strings.TrimSpace(t.key())
	}
	if key == "" {
		return nil, errNoAPIKey
	}

	header := make(http.Header)
	header.Set("x-goog-api-key", key)

	conn, resp, err := t.opts.dialer.DialContext(ctx, t.opts.endpoint, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, fmt.Errorf("gemini live dial failed (status %d): %w", resp.StatusCode, errorFromHandshake(resp))
		}
		return nil, fmt.Errorf("gemini live dial: %w", err)
	}

	payload, err := sonic.Marshal(buildSetup(cfg))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("encode live setup: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send live setup: %w", err)
	}

	s := &wsStream{
		conn:   conn,
		cb:     cb,
		logger: t.opts.logger.With("transport", "ws"),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

type wsStream struct {
	conn   *websocket.Conn
	cb     live.StreamCallbacks
	logger *slog.Logger
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

// Send writes one realtime audio frame.
func (s *wsStream) Send(ctx context.Context, in live.RealtimeInput) error {
	if s.closed.Load() {
		return errStreamClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := sonic.Marshal(realtimeInputMessage{RealtimeInput: realtimeInput{
		Audio: &wireBlob{MIMEType: in.Media.MIMEType(), Data: audio.ToBase64(in.Media.Data)},
	}})
	if err != nil {
		return fmt.Errorf("encode realtime input: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	deadline, _ := ctx.Deadline()
	_ = s.conn.SetWriteDeadline(deadline)
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// Close sends a close frame and closes the connection. It does not wait for
// the read loop.
func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWriteTimeout))
		err = s.conn.Close()
	})
	return err
}

func (s *wsStream) readLoop() {
	defer close(s.done)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return
			}
			if reason, ok := isNormalClose(err); ok {
				s.logger.Debug("gemini live closed by server", "reason", reason)
				if s.cb.OnClose != nil {
					s.cb.OnClose(reason)
				}
				return
			}
			if s.cb.OnError != nil {
				s.cb.OnError(streamError(err))
			}
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		var msg live.ServerMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("gemini live frame skipped", "error", err, "bytes", len(data))
			continue
		}
		if s.closed.Load() {
			return
		}
		if msg.SetupComplete != nil {
			if s.cb.OnOpen != nil {
				s.cb.OnOpen()
			}
			if msg.ServerContent == nil && msg.GoAway == nil {
				continue
			}
		}
		if s.cb.OnMessage != nil {
			s.cb.OnMessage(&msg)
		}
	}
}
