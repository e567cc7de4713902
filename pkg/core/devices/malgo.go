package devices

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/vango-go/vai-live/pkg/core/audio"
	"github.com/vango-go/vai-live/pkg/core/live"
)

const periodMillis = 20

// MalgoDevices drives the system's default capture and playback devices
// through miniaudio.
type MalgoDevices struct {
	ctx    *malgo.AllocatedContext
	logger *slog.Logger
}

// NewMalgoDevices initializes a miniaudio context. Call Close when done.
func NewMalgoDevices(logger *slog.Logger) (*MalgoDevices, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{ThreadPriority: malgo.ThreadPriorityRealtime}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return &MalgoDevices{ctx: ctx, logger: logger.With("backend", "malgo")}, nil
}

// Close releases the miniaudio context.
func (d *MalgoDevices) Close() error {
	if d == nil || d.ctx == nil {
		return nil
	}
	err := d.ctx.Uninit()
	d.ctx.Free()
	d.ctx = nil
	return err
}

// OpenMicrophone opens the default capture device as 16-bit mono.
func (d *MalgoDevices) OpenMicrophone(_ context.Context, c live.CaptureConstraints) (live.InputStream, error) {
	if c.Channels > 1 {
		return nil, fmt.Errorf("malgo: %d capture channels requested; only mono is supported", c.Channels)
	}
	if c.EchoCancellation || c.NoiseSuppression || c.AutoGainControl {
		d.logger.Warn("echo cancellation, noise suppression and gain control are not available; capturing raw input")
	}

	mic := &malgoMic{rate: c.SampleRate, logger: d.logger}
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(c.SampleRate)
	cfg.PeriodSizeInMilliseconds = periodMillis

	dev, err := malgo.InitDevice(d.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) { mic.onData(in) },
	})
	if err != nil {
		return nil, fmt.Errorf("init microphone: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("start microphone: %w", err)
	}
	mic.dev = dev
	return mic, nil
}

// NewInputContext returns the shared block graph.
func (d *MalgoDevices) NewInputContext(sampleRate int) (live.InputContext, error) {
	g, err := NewInputGraph(sampleRate)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// NewOutputContext returns a mixer clocked by the default playback device.
// The device starts on Resume.
func (d *MalgoDevices) NewOutputContext(sampleRate int) (live.OutputContext, error) {
	m, err := NewMixer(sampleRate)
	if err != nil {
		return nil, err
	}
	return &malgoOutput{Mixer: m, devices: d}, nil
}

type malgoMic struct {
	tap
	rate   int
	logger *slog.Logger
	dev    *malgo.Device
	once   sync.Once
}

func (m *malgoMic) SampleRate() int { return m.rate }

func (m *malgoMic) onData(in []byte) {
	if len(in) < 2 {
		return
	}
	buf, err := audio.Decode(in[:len(in)&^1], m.rate, 1)
	if err != nil {
		return
	}
	m.push(buf.Samples)
}

func (m *malgoMic) Stop() {
	m.once.Do(func() {
		if m.dev == nil {
			return
		}
		if err := m.dev.Stop(); err != nil {
			m.logger.Debug("stop microphone", "error", err)
		}
		m.dev.Uninit()
	})
}

type malgoOutput struct {
	*Mixer
	devices *MalgoDevices

	mu      sync.Mutex
	dev     *malgo.Device
	scratch []float32
}

func (o *malgoOutput) Resume(ctx context.Context) error {
	if err := o.Mixer.Resume(ctx); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.dev != nil {
		return nil
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 1
	cfg.SampleRate = uint32(o.SampleRate())
	cfg.PeriodSizeInMilliseconds = periodMillis

	dev, err := malgo.InitDevice(o.devices.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frames uint32) { o.fill(out, int(frames)) },
	})
	if err != nil {
		return fmt.Errorf("init speaker: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return fmt.Errorf("start speaker: %w", err)
	}
	o.dev = dev
	return nil
}

// fill runs on the device thread only.
func (o *malgoOutput) fill(out []byte, frames int) {
	if cap(o.scratch) < frames {
		o.scratch = make([]float32, frames)
	}
	buf := o.scratch[:frames]
	o.Read(buf)
	copy(out, audio.Encode(buf, o.SampleRate()).Data)
}

func (o *malgoOutput) Close() error {
	o.mu.Lock()
	dev := o.dev
	o.dev = nil
	o.mu.Unlock()
	if dev != nil {
		if err := dev.Stop(); err != nil {
			o.devices.logger.Debug("stop speaker", "error", err)
		}
		dev.Uninit()
	}
	return o.Mixer.Close()
}
