// Package gemini streams live voice conversations to the Gemini Live API.
//
// Two transports implement live.Transport: GenAITransport drives the official
// google.golang.org/genai client, and WSTransport speaks the
// BidiGenerateContent JSON protocol directly over a websocket. Both read the
// API key at Open time so a key entered after startup is picked up.
package gemini

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultLiveEndpoint is the BidiGenerateContent websocket endpoint.
	DefaultLiveEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	// DefaultAPIVersion is the API version used by GenAITransport.
	DefaultAPIVersion = "v1beta"

	defaultDialTimeout = 15 * time.Second
	closeWriteTimeout  = 2 * time.Second
)

// KeySource returns the API key to use for the next stream.
type KeySource func() string

// StaticKey returns a KeySource that always yields key.
func StaticKey(key string) KeySource {
	return func() string { return key }
}

type options struct {
	endpoint   string
	baseURL    string
	apiVersion string
	dialer     *websocket.Dialer
	logger     *slog.Logger
}

func defaultOptions() options {
	return options{
		endpoint:   DefaultLiveEndpoint,
		apiVersion: DefaultAPIVersion,
		dialer:     &websocket.Dialer{HandshakeTimeout: defaultDialTimeout},
		logger:     slog.Default(),
	}
}

// Option configures a transport.
type Option func(*options)

// WithEndpoint sets the websocket URL used by WSTransport.
// Default: DefaultLiveEndpoint
func WithEndpoint(url string) Option {
	return func(o *options) {
		if url != "" {
			o.endpoint = url
		}
	}
}

// WithBaseURL sets the API base URL used by GenAITransport.
func WithBaseURL(url string) Option {
	return func(o *options) {
		o.baseURL = url
	}
}

// WithAPIVersion sets the API version used by GenAITransport.
func WithAPIVersion(v string) Option {
	return func(o *options) {
		if v != "" {
			o.apiVersion = v
		}
	}
}

// WithDialer sets the websocket dialer used by WSTransport.
func WithDialer(d *websocket.Dialer) Option {
	return func(o *options) {
		if d != nil {
			o.dialer = d
		}
	}
}

// WithLogger sets the logger for stream diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
