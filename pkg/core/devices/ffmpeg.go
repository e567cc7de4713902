package devices

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/vango-go/vai-live/pkg/core/audio"
	"github.com/vango-go/vai-live/pkg/core/live"
)

// FFmpegConfig configures the subprocess backend.
type FFmpegConfig struct {
	// FFmpegPath is the capture binary. Default: "ffmpeg".
	FFmpegPath string
	// FFplayPath is the playback binary. Default: "ffplay".
	FFplayPath string
	// InputFormat and InputDevice select the ffmpeg capture device. Defaults
	// depend on the OS: avfoundation "none:0" on macOS, pulse "default" on
	// Linux.
	InputFormat string
	InputDevice string
	// MicCommand replaces the ffmpeg capture command entirely. It must write
	// 16-bit little-endian mono PCM at the requested rate to stdout.
	MicCommand string
	// Volume is the ffplay volume, 0-100. Default: 80.
	Volume int
	// LogLevel is passed to both binaries. Default: "error".
	LogLevel string
	// Tick is how often playback pulls from the mixer. Default: 20ms.
	Tick time.Duration
}

func (c FFmpegConfig) withDefaults() FFmpegConfig {
	if strings.TrimSpace(c.FFmpegPath) == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if strings.TrimSpace(c.FFplayPath) == "" {
		c.FFplayPath = "ffplay"
	}
	if c.InputFormat == "" && c.InputDevice == "" {
		switch runtime.GOOS {
		case "darwin":
			c.InputFormat, c.InputDevice = "avfoundation", "none:0"
		case "linux":
			c.InputFormat, c.InputDevice = "pulse", "default"
		}
	}
	if c.Volume <= 0 {
		c.Volume = 80
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = "error"
	}
	if c.Tick <= 0 {
		c.Tick = 20 * time.Millisecond
	}
	return c
}

// FFmpegDevices captures with ffmpeg and plays back through ffplay.
type FFmpegDevices struct {
	cfg    FFmpegConfig
	logger *slog.Logger
}

// NewFFmpegDevices returns the subprocess backend. Binaries are looked up
// when a device is opened.
func NewFFmpegDevices(cfg FFmpegConfig, logger *slog.Logger) *FFmpegDevices {
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegDevices{cfg: cfg.withDefaults(), logger: logger.With("backend", "ffmpeg")}
}

// captureArgs returns the argv used to capture sampleRate Hz mono PCM.
func (d *FFmpegDevices) captureArgs(sampleRate int) ([]string, error) {
	if cmd := strings.TrimSpace(d.cfg.MicCommand); cmd != "" {
		p := shellwords.NewParser()
		p.ParseEnv = true
		args, err := p.Parse(cmd)
		if err != nil {
			return nil, fmt.Errorf("parse mic command: %w", err)
		}
		if len(args) == 0 {
			return nil, fmt.Errorf("parse mic command: empty")
		}
		return args, nil
	}
	if d.cfg.InputFormat == "" {
		return nil, fmt.Errorf("no default capture device on %s; set a mic command", runtime.GOOS)
	}
	return []string{
		d.cfg.FFmpegPath,
		"-hide_banner",
		"-loglevel", d.cfg.LogLevel,
		"-f", d.cfg.InputFormat,
		"-i", d.cfg.InputDevice,
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-f", "s16le",
		"-",
	}, nil
}

func (d *FFmpegDevices) playbackArgs(sampleRate int) []string {
	return []string{
		"-hide_banner",
		"-loglevel", d.cfg.LogLevel,
		"-nostats",
		"-volume", strconv.Itoa(d.cfg.Volume),
		"-nodisp",
		"-f", "s16le",
		"-ch_layout", "mono",
		"-ar", strconv.Itoa(sampleRate),
		"-i", "-",
	}
}

// OpenMicrophone starts the capture process. The constraints' processing
// flags cannot be honored by ffmpeg and are logged.
func (d *FFmpegDevices) OpenMicrophone(_ context.Context, c live.CaptureConstraints) (live.InputStream, error) {
	if c.Channels > 1 {
		return nil, fmt.Errorf("ffmpeg: %d capture channels requested; only mono is supported", c.Channels)
	}
	if c.EchoCancellation || c.NoiseSuppression || c.AutoGainControl {
		d.logger.Warn("echo cancellation, noise suppression and gain control are not available; capturing raw input")
	}
	args, err := d.captureArgs(c.SampleRate)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(args[0], args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start capture %q: %w", args[0], err)
	}
	d.logger.Debug("capture started", "pid", cmd.Process.Pid, "cmd", strings.Join(args, " "))

	m := &ffmpegMic{rate: c.SampleRate, cmd: cmd, logger: d.logger, done: make(chan struct{})}
	go m.read(stdout, d.cfg.Tick)
	return m, nil
}

// NewInputContext returns the shared block graph.
func (d *FFmpegDevices) NewInputContext(sampleRate int) (live.InputContext, error) {
	g, err := NewInputGraph(sampleRate)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// NewOutputContext returns a mixer that feeds ffplay once resumed.
func (d *FFmpegDevices) NewOutputContext(sampleRate int) (live.OutputContext, error) {
	m, err := NewMixer(sampleRate)
	if err != nil {
		return nil, err
	}
	return &ffplayOutput{Mixer: m, d: d}, nil
}

type ffmpegMic struct {
	tap
	rate   int
	cmd    *exec.Cmd
	logger *slog.Logger
	done   chan struct{}
	once   sync.Once
}

func (m *ffmpegMic) SampleRate() int { return m.rate }

func (m *ffmpegMic) read(r io.Reader, tick time.Duration) {
	defer close(m.done)
	frameBytes := int(int64(m.rate)*int64(tick)/int64(time.Second)) * 2
	if frameBytes <= 0 {
		frameBytes = 640
	}
	buf := make([]byte, frameBytes)
	for {
		n, err := io.ReadFull(r, buf)
		if n >= 2 {
			if b, derr := audio.Decode(buf[:n&^1], m.rate, 1); derr == nil {
				m.push(b.Samples)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, os.ErrClosed) {
				m.logger.Debug("capture read ended", "error", err)
			}
			return
		}
	}
}

func (m *ffmpegMic) Stop() {
	m.once.Do(func() {
		if m.cmd.Process != nil {
			_ = m.cmd.Process.Kill()
		}
		<-m.done
		_ = m.cmd.Wait()
	})
}

type ffplayOutput struct {
	*Mixer
	d *FFmpegDevices

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	cancel  context.CancelFunc
	stopped chan struct{}
}

// Resume starts ffplay and the pull loop.
func (o *ffplayOutput) Resume(ctx context.Context) error {
	if err := o.Mixer.Resume(ctx); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cmd != nil {
		return nil
	}

	args := o.d.playbackArgs(o.SampleRate())
	cmd := exec.Command(o.d.cfg.FFplayPath, args...)
	if runtime.GOOS == "darwin" && os.Getenv("SDL_AUDIODRIVER") == "" {
		cmd.Env = append(os.Environ(), "SDL_AUDIODRIVER=coreaudio")
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("start ffplay: %w", err)
	}
	o.d.logger.Debug("ffplay started", "pid", cmd.Process.Pid)

	loopCtx, cancel := context.WithCancel(context.Background())
	o.cmd, o.stdin, o.cancel = cmd, stdin, cancel
	o.stopped = make(chan struct{})
	go o.run(loopCtx, stdin, o.stopped)
	return nil
}

func (o *ffplayOutput) run(ctx context.Context, w io.Writer, stopped chan struct{}) {
	defer close(stopped)
	tick := o.d.cfg.Tick
	frames := int(int64(o.SampleRate()) * int64(tick) / int64(time.Second))
	if frames <= 0 {
		frames = 1
	}
	buf := make([]float32, frames)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Read(buf)
			if _, err := w.Write(audio.Encode(buf, o.SampleRate()).Data); err != nil {
				o.d.logger.Warn("ffplay write failed", "error", err)
				return
			}
		}
	}
}

func (o *ffplayOutput) Close() error {
	o.mu.Lock()
	cmd, stdin, cancel, stopped := o.cmd, o.stdin, o.cancel, o.stopped
	o.cmd, o.stdin, o.cancel = nil, nil, nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
		_ = stdin.Close()
		<-stopped
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		_ = cmd.Wait()
	}
	return o.Mixer.Close()
}
