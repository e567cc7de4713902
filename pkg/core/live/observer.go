package live

import "time"

// Observer receives operational signals from a session. Implementations must
// be safe for concurrent use and must not block.
type Observer interface {
	StatusChanged(status Status)
	ChunkSent(bytes int)
	ChunkDropped(reason string)
	AudioScheduled(d time.Duration)
	DecodeFailed()
	Interrupted(stopped int)
	TurnComplete()
}

// Reasons passed to Observer.ChunkDropped.
const (
	DropBackpressure = "backpressure"
	DropSendError    = "send_error"
	DropNoStream     = "no_stream"
)

type nopObserver struct{}

func (nopObserver) StatusChanged(Status) {}
func (nopObserver) ChunkSent(int) {}
func (nopObserver) ChunkDropped(string) {}
func (nopObserver) AudioScheduled(time.Duration) {}
func (nopObserver) DecodeFailed() {}
func (nopObserver) Interrupted(int) {}
func (nopObserver) TurnComplete() {}
