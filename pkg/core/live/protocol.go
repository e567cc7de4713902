package live

import (
	"strings"

	"github.com/vango-go/vai-live/pkg/core/audio"
)

// RealtimeInput is one outbound chunk of encoded microphone audio.
type RealtimeInput struct {
	Media audio.Blob
}

// ServerMessage is one inbound message. Any subset of fields may be set.
type ServerMessage struct {
	SetupComplete *SetupComplete `json:"setupComplete,omitempty"`
	ServerContent *ServerContent `json:"serverContent,omitempty"`
	GoAway        *GoAway        `json:"goAway,omitempty"`
}

// SetupComplete acknowledges the stream setup.
type SetupComplete struct{}

// GoAway announces that the server will close the stream soon.
type GoAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

// ServerContent carries transcripts, model audio and turn signals.
type ServerContent struct {
	InputTranscription  *Transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`
	ModelTurn           *Content       `json:"modelTurn,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
}

// Transcription is an incremental recognized-speech fragment.
type Transcription struct {
	Text string `json:"text,omitempty"`
}

// Content is a block of model output.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts,omitempty"`
}

// Part is one piece of model output.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData is base64-encoded media.
type InlineData struct {
	MIMEType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

// IsAudio reports whether the payload carries audio. An empty MIME type is
// treated as audio, since the audio stream is the only inline media.
func (d *InlineData) IsAudio() bool {
	if d == nil {
		return false
	}
	mt := strings.ToLower(strings.TrimSpace(d.MIMEType))
	return mt == "" || strings.HasPrefix(mt, "audio/")
}
