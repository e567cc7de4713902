package live

import (
	"context"

	"github.com/vango-go/vai-live/pkg/core/audio"
)

// Transport opens bidirectional streams to the remote voice model.
type Transport interface {
	// Open dials the remote model and sends the setup message. The returned
	// stream accepts traffic once cb.OnOpen fires.
	//
	// Callbacks are invoked sequentially from a single goroutine, in delivery
	// order. No new callback starts once Stream.Close has returned.
	Open(ctx context.Context, cfg StreamConfig, cb StreamCallbacks) (Stream, error)
}

// Stream is an open conversation with the remote model.
type Stream interface {
	// Send transmits one realtime input chunk.
	Send(ctx context.Context, in RealtimeInput) error

	// Close releases the stream. It is idempotent and does not wait for
	// callbacks that are already running, so callbacks may call it.
	Close() error
}

// StreamCallbacks receive stream lifecycle and content events.
type StreamCallbacks struct {
	OnOpen    func()
	OnMessage func(*ServerMessage)
	OnClose   func(reason string)
	OnError   func(err error)
}

// Devices acquires the audio hardware used by a conversation.
type Devices interface {
	// OpenMicrophone requests exclusive access to a capture device.
	OpenMicrophone(ctx context.Context, c CaptureConstraints) (InputStream, error)

	// NewInputContext creates the capture-side processing context.
	NewInputContext(sampleRate int) (InputContext, error)

	// NewOutputContext creates the playback clock.
	NewOutputContext(sampleRate int) (OutputContext, error)
}

// InputStream is an acquired microphone.
type InputStream interface {
	// Stop stops every track of the stream.
	Stop()
}

// InputContext turns an input stream into fixed-size blocks.
type InputContext interface {
	Resume(ctx context.Context) error
	Close() error

	// Connect feeds blockSize-sample mono blocks from stream to fn until the
	// returned node is disconnected. fn must not retain the block.
	Connect(stream InputStream, blockSize int, fn func(block []float32)) (CaptureNode, error)
}

// CaptureNode is a connected capture pipeline.
type CaptureNode interface {
	Disconnect()
}

// OutputContext is the playback clock.
type OutputContext interface {
	Resume(ctx context.Context) error
	Close() error

	// CurrentTime returns the clock position in seconds.
	CurrentTime() float64

	// Schedule plays buf starting exactly at the given clock time. onEnded is
	// called once playback finishes or the handle is stopped; it is never
	// called from within Schedule or Stop.
	Schedule(buf *audio.Buffer, at float64, onEnded func()) (PlaybackHandle, error)
}

// PlaybackHandle is a scheduled or playing buffer.
type PlaybackHandle interface {
	Stop()
}

// CredentialChecker is the optional capability precheck run before connecting.
type CredentialChecker interface {
	HasCredential(ctx context.Context) bool
	RequestCredential(ctx context.Context) error
}
