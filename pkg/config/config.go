// Package config loads vai-live settings from defaults, an optional YAML file
// and VAI_LIVE_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vango-go/vai-live/pkg/core/live"
)

// Transport selects the live.Transport implementation.
type Transport string

const (
	TransportGenAI Transport = "genai"
	TransportWS    Transport = "ws"
)

// AudioBackend selects the live.Devices implementation.
type AudioBackend string

const (
	BackendMalgo  AudioBackend = "malgo"
	BackendFFmpeg AudioBackend = "ffmpeg"
)

// Config is the resolved vai-live configuration.
type Config struct {
	Model  string `yaml:"model"`
	Voice  string `yaml:"voice"`
	System string `yaml:"system"`

	Transport  Transport `yaml:"transport"`
	WSEndpoint string    `yaml:"ws_endpoint"`

	AudioBackend AudioBackend `yaml:"audio_backend"`
	MicCommand   string       `yaml:"mic_cmd"`
	FFplayPath   string       `yaml:"ffplay_path"`
	RecordWAV    string       `yaml:"record_wav"`

	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	SendQueueSize        int           `yaml:"send_queue_size"`
	TranscriptMergeChars int           `yaml:"transcript_merge_chars"`

	HistoryPath string `yaml:"history_path"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() Config {
	def := live.DefaultConfig()
	return Config{
		Model:                def.Stream.Model,
		Voice:                def.Stream.Voice,
		Transport:            TransportGenAI,
		AudioBackend:         BackendMalgo,
		FFplayPath:           "ffplay",
		HandshakeTimeout:     def.HandshakeTimeout,
		SendQueueSize:        def.SendQueueSize,
		TranscriptMergeChars: live.DefaultMergeThreshold,
		LogLevel:             "info",
	}
}

// Load builds a Config. An empty path skips the file; a named file that does
// not exist is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path = strings.TrimSpace(path); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config file: %w", err)
		}
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		err = dec.Decode(&cfg)
		_ = f.Close()
		if err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse config file %q: %w", path, err)
		}
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Model = envOr("VAI_LIVE_MODEL", cfg.Model)
	cfg.Voice = envOr("VAI_LIVE_VOICE", cfg.Voice)
	cfg.System = envOr("VAI_LIVE_SYSTEM", cfg.System)
	cfg.Transport = Transport(strings.ToLower(envOr("VAI_LIVE_TRANSPORT", string(cfg.Transport))))
	cfg.WSEndpoint = envOr("VAI_LIVE_WS_ENDPOINT", cfg.WSEndpoint)
	cfg.AudioBackend = AudioBackend(strings.ToLower(envOr("VAI_LIVE_AUDIO_BACKEND", string(cfg.AudioBackend))))
	cfg.MicCommand = envOr("VAI_LIVE_MIC_CMD", cfg.MicCommand)
	cfg.FFplayPath = envOr("VAI_LIVE_FFPLAY_PATH", cfg.FFplayPath)
	cfg.RecordWAV = envOr("VAI_LIVE_RECORD_WAV", cfg.RecordWAV)
	cfg.HandshakeTimeout = envDurationOr("VAI_LIVE_HANDSHAKE_TIMEOUT", cfg.HandshakeTimeout)
	cfg.SendQueueSize = envIntOr("VAI_LIVE_SEND_QUEUE_SIZE", cfg.SendQueueSize)
	cfg.TranscriptMergeChars = envIntOr("VAI_LIVE_TRANSCRIPT_MERGE_CHARS", cfg.TranscriptMergeChars)
	cfg.HistoryPath = envOr("VAI_LIVE_HISTORY_PATH", cfg.HistoryPath)
	cfg.MetricsAddr = envOr("VAI_LIVE_METRICS_ADDR", cfg.MetricsAddr)
	cfg.LogLevel = strings.ToLower(envOr("VAI_LIVE_LOG_LEVEL", cfg.LogLevel))
}

// Validate reports the first invalid setting, named by its environment key.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("VAI_LIVE_MODEL must not be empty")
	}
	switch c.Transport {
	case TransportGenAI, TransportWS:
	default:
		return fmt.Errorf("VAI_LIVE_TRANSPORT must be one of genai|ws")
	}
	switch c.AudioBackend {
	case BackendMalgo, BackendFFmpeg:
	default:
		return fmt.Errorf("VAI_LIVE_AUDIO_BACKEND must be one of malgo|ffmpeg")
	}
	if c.HandshakeTimeout < 0 {
		return fmt.Errorf("VAI_LIVE_HANDSHAKE_TIMEOUT must be >= 0")
	}
	if c.SendQueueSize <= 0 {
		return fmt.Errorf("VAI_LIVE_SEND_QUEUE_SIZE must be > 0")
	}
	if c.TranscriptMergeChars <= 0 {
		return fmt.Errorf("VAI_LIVE_TRANSCRIPT_MERGE_CHARS must be > 0")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("VAI_LIVE_LOG_LEVEL must be one of debug|info|warn|error")
	}
	return nil
}

// Live returns the session configuration described by c.
func (c Config) Live() live.Config {
	cfg := live.DefaultConfig()
	cfg.Stream.Model = c.Model
	cfg.Stream.Voice = c.Voice
	cfg.Stream.SystemInstruction = c.System
	cfg.HandshakeTimeout = c.HandshakeTimeout
	cfg.SendQueueSize = c.SendQueueSize
	return cfg
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
