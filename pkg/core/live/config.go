package live

import "time"

// Status is the lifecycle state reported to the session owner.
type Status int

const (
	// StatusIdle means no conversation is active.
	StatusIdle Status = iota
	// StatusConnecting covers device acquisition and the stream handshake.
	StatusConnecting
	// StatusConnected means the stream accepts audio and capture is running.
	StatusConnected
	// StatusError means the last conversation failed; details carry the reason.
	StatusError
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Role tags a transcript fragment with its speaker.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Config holds all configuration for a live session.
type Config struct {
	// Stream is passed to the transport when a conversation opens.
	Stream StreamConfig

	// CaptureSampleRate is the microphone rate in Hz. Default: 16000.
	CaptureSampleRate int

	// PlaybackSampleRate is the output clock rate in Hz. Default: 24000.
	PlaybackSampleRate int

	// BlockSize is the number of samples per captured block. Default: 4096.
	BlockSize int

	// SendQueueSize bounds the number of encoded blocks waiting for the
	// transport. Blocks are dropped when the queue is full. Default: 8.
	SendQueueSize int

	// HandshakeTimeout bounds the time between Connect and the stream's open
	// callback. Zero disables the timeout. Default: 15s.
	HandshakeTimeout time.Duration

	// SendTimeout bounds a single chunk transmission. Default: 5s.
	SendTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Stream:             DefaultStreamConfig(),
		CaptureSampleRate:  16000,
		PlaybackSampleRate: 24000,
		BlockSize:          4096,
		SendQueueSize:      8,
		HandshakeTimeout:   15 * time.Second,
		SendTimeout:        5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.CaptureSampleRate <= 0 {
		c.CaptureSampleRate = def.CaptureSampleRate
	}
	if c.PlaybackSampleRate <= 0 {
		c.PlaybackSampleRate = def.PlaybackSampleRate
	}
	if c.BlockSize <= 0 {
		c.BlockSize = def.BlockSize
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = def.SendQueueSize
	}
	if c.HandshakeTimeout < 0 {
		c.HandshakeTimeout = 0
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = def.SendTimeout
	}
	if c.Stream.Model == "" {
		c.Stream.Model = def.Stream.Model
	}
	return c
}

// StreamConfig describes the remote conversation the transport opens.
type StreamConfig struct {
	// Model is the realtime model identifier.
	Model string

	// Voice is the prebuilt voice used for synthesized speech.
	Voice string

	// SystemInstruction is optional guidance for the model.
	SystemInstruction string

	// InputTranscription requests transcripts of the user's speech.
	InputTranscription bool

	// OutputTranscription requests transcripts of the model's speech.
	OutputTranscription bool
}

// DefaultStreamConfig returns the stream settings used when none are given.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Model:               "gemini-2.5-flash-native-audio-preview-09-2025",
		Voice:               "Zephyr",
		InputTranscription:  true,
		OutputTranscription: true,
	}
}

// CaptureConstraints are requested from the microphone.
type CaptureConstraints struct {
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}
