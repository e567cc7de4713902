package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"google.golang.org/genai"

	"github.com/vango-go/vai-live/pkg/core/audio"
	"github.com/vango-go/vai-live/pkg/core/live"
)

// GenAITransport opens live streams through the google.golang.org/genai
// client.
type GenAITransport struct {
	key  KeySource
	opts options
}

// NewGenAITransport creates a transport backed by the genai Live API.
func NewGenAITransport(key KeySource, opts ...Option) *GenAITransport {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &GenAITransport{key: key, opts: o}
}

// Open connects a genai live session. The genai dialer does not observe ctx,
// so a cancelled ctx abandons the dial and closes the session if it arrives
// later.
func (t *GenAITransport) Open(ctx context.Context, cfg live.StreamConfig, cb live.StreamCallbacks) (live.Stream, error) {
	key := ""
	if t.key != nil {
		key = strings.TrimSpace(t.key())
	}
	if key == "" {
		return nil, errNoAPIKey
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    t.opts.baseURL,
			APIVersion: t.opts.apiVersion,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	type result struct {
		session *genai.Session
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		s, err := client.Live.Connect(ctx, strings.TrimSpace(cfg.Model), liveConnectConfig(cfg))
		ch <- result{session: s, err: err}
	}()

	var r result
	select {
	case r = <-ch:
	case <-ctx.Done():
		go func() {
			if late := <-ch; late.session != nil {
				_ = late.session.Close()
			}
		}()
		return nil, ctx.Err()
	}
	if r.err != nil {
		return nil, fmt.Errorf("gemini live connect: %w", r.err)
	}

	s := &genaiStream{
		session: r.session,
		cb:      cb,
		logger:  t.opts.logger.With("transport", "genai"),
	}
	go s.readLoop()
	return s, nil
}

func liveConnectConfig(cfg live.StreamConfig) *genai.LiveConnectConfig {
	c := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	}
	if v := strings.TrimSpace(cfg.Voice); v != "" {
		c.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: v},
			},
		}
	}
	if sys := strings.TrimSpace(cfg.SystemInstruction); sys != "" {
		c.SystemInstruction = genai.NewContentFromText(sys, genai.RoleUser)
	}
	if cfg.InputTranscription {
		c.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if cfg.OutputTranscription {
		c.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return c
}

type genaiStream struct {
	session *genai.Session
	cb      live.StreamCallbacks
	logger  *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

// Send forwards one realtime audio chunk.
func (s *genaiStream) Send(ctx context.Context, in live.RealtimeInput) error {
	if s.closed.Load() {
		return errStreamClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{MIMEType: in.Media.MIMEType(), Data: in.Media.Data},
	})
}

// Close closes the underlying connection without waiting for the read loop.
func (s *genaiStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = s.session.Close()
	})
	return err
}

func (s *genaiStream) readLoop() {
	for {
		msg, err := s.session.Receive()
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
		if s.closed.Load() {
			return
		}
		out := fromGenAI(msg)
		if out.SetupComplete != nil {
			if s.cb.OnOpen != nil {
				s.cb.OnOpen()
			}
			if out.ServerContent == nil && out.GoAway == nil {
				continue
			}
		}
		if s.cb.OnMessage != nil {
			s.cb.OnMessage(out)
		}
	}
}

// fromGenAI converts a genai message into the session's message shape. Inline
// data is re-encoded as base64, the form the session decodes.
func fromGenAI(msg *genai.LiveServerMessage) *live.ServerMessage {
	out := &live.ServerMessage{}
	if msg == nil {
		return out
	}
	if msg.SetupComplete != nil {
		out.SetupComplete = &live.SetupComplete{}
	}
	if msg.GoAway != nil {
		out.GoAway = &live.GoAway{TimeLeft: msg.GoAway.TimeLeft.String()}
	}
	sc := msg.ServerContent
	if sc == nil {
		return out
	}

	content := &live.ServerContent{
		Interrupted:  sc.Interrupted,
		TurnComplete: sc.TurnComplete,
	}
	if sc.InputTranscription != nil {
		content.InputTranscription = &live.Transcription{Text: sc.InputTranscription.Text}
	}
	if sc.OutputTranscription != nil {
		content.OutputTranscription = &live.Transcription{Text: sc.OutputTranscription.Text}
	}
	if sc.ModelTurn != nil {
		turn := &live.Content{Role: sc.ModelTurn.Role}
		for _, p := range sc.ModelTurn.Parts {
			if p == nil {
				continue
			}
			part := live.Part{Text: p.Text}
			if p.InlineData != nil {
				part.InlineData = &live.InlineData{
					MIMEType: p.InlineData.MIMEType,
					Data:     audio.ToBase64(p.InlineData.Data),
				}
			}
			turn.Parts = append(turn.Parts, part)
		}
		content.ModelTurn = turn
	}
	out.ServerContent = content
	return out
}
