package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/vango-go/vai-live/internal/dotenv"
	"github.com/vango-go/vai-live/pkg/config"
	"github.com/vango-go/vai-live/pkg/core/audio"
	"github.com/vango-go/vai-live/pkg/core/devices"
	"github.com/vango-go/vai-live/pkg/core/live"
	"github.com/vango-go/vai-live/pkg/core/providers/gemini"
	"github.com/vango-go/vai-live/pkg/credentials"
	"github.com/vango-go/vai-live/pkg/history"
	"github.com/vango-go/vai-live/pkg/metrics"
)

type options struct {
	configPath  string
	model       string
	voice       string
	transport   string
	backend     string
	micCmd      string
	recordWAV   string
	historyPath string
	metricsAddr string
	debug       bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opt options
	fs := flag.NewFlagSet("vai-live", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opt.configPath, "config", "", "Path to a YAML config file")
	fs.StringVar(&opt.model, "model", "", "Live model id (overrides VAI_LIVE_MODEL)")
	fs.StringVar(&opt.voice, "voice", "", "Prebuilt voice name (overrides VAI_LIVE_VOICE)")
	fs.StringVar(&opt.transport, "transport", "", "Transport: genai|ws (overrides VAI_LIVE_TRANSPORT)")
	fs.StringVar(&opt.backend, "backend", "", "Audio backend: malgo|ffmpeg (overrides VAI_LIVE_AUDIO_BACKEND)")
	fs.StringVar(&opt.micCmd, "mic-cmd", "", "Capture command writing s16le mono PCM to stdout (ffmpeg backend)")
	fs.StringVar(&opt.recordWAV, "record-wav", "", "Write captured microphone audio to this WAV file")
	fs.StringVar(&opt.historyPath, "history", "", "SQLite file for transcript history")
	fs.StringVar(&opt.metricsAddr, "metrics-addr", "", "Serve /metrics and /healthz on this address")
	fs.BoolVar(&opt.debug, "debug", false, "Enable debug logging")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return opt, nil
}

// apply overrides cfg with every flag that was set.
func (o options) apply(cfg config.Config) (config.Config, error) {
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.Model, o.model)
	set(&cfg.Voice, o.voice)
	set(&cfg.MicCommand, o.micCmd)
	set(&cfg.RecordWAV, o.recordWAV)
	set(&cfg.HistoryPath, o.historyPath)
	set(&cfg.MetricsAddr, o.metricsAddr)
	if v := strings.TrimSpace(o.transport); v != "" {
		cfg.Transport = config.Transport(strings.ToLower(v))
	}
	if v := strings.TrimSpace(o.backend); v != "" {
		cfg.AudioBackend = config.AudioBackend(strings.ToLower(v))
	}
	if o.debug {
		cfg.LogLevel = "debug"
	}
	return cfg, cfg.Validate()
}

type liveDeps struct {
	loadConfig   func(path string) (config.Config, error)
	newDevices   func(config.Config, *slog.Logger) (live.Devices, func() error, error)
	newTransport func(config.Config, gemini.KeySource, *slog.Logger) live.Transport
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultLiveDeps() liveDeps {
	return liveDeps{
		loadConfig:   config.Load,
		newDevices:   newDevices,
		newTransport: newTransport,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func newDevices(cfg config.Config, logger *slog.Logger) (live.Devices, func() error, error) {
	switch cfg.AudioBackend {
	case config.BackendFFmpeg:
		d := devices.NewFFmpegDevices(devices.FFmpegConfig{
			FFplayPath: cfg.FFplayPath,
			MicCommand: cfg.MicCommand,
		}, logger)
		return d, func() error { return nil }, nil
	default:
		d, err := devices.NewMalgoDevices(logger)
		if err != nil {
			return nil, nil, err
		}
		return d, d.Close, nil
	}
}

func newTransport(cfg config.Config, key gemini.KeySource, logger *slog.Logger) live.Transport {
	opts := []gemini.Option{gemini.WithLogger(logger)}
	if cfg.Transport == config.TransportWS {
		if cfg.WSEndpoint != "" {
			opts = append(opts, gemini.WithEndpoint(cfg.WSEndpoint))
		}
		return gemini.NewWSTransport(key, opts...)
	}
	return gemini.NewGenAITransport(key, opts...)
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// withRecording wraps devs so capture is also written to path. The returned
// closer finalizes the file.
func withRecording(devs live.Devices, path string, sampleRate int, logger *slog.Logger) (live.Devices, func() error, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create recording: %w", err)
	}
	rec, err := audio.NewWAVRecorder(f, sampleRate)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	closeFn := func() error {
		return errors.Join(rec.Close(), f.Close())
	}
	return devices.NewRecording(devs, rec, logger), closeFn, nil
}

func runLive(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, deps liveDeps) error {
	if deps.loadConfig == nil || deps.newDevices == nil || deps.newTransport == nil {
		return errors.New("missing live dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}

	opt, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	cfg, err := deps.loadConfig(opt.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg, err = opt.apply(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	liveCfg := cfg.Live()

	devs, closeDevices, err := deps.newDevices(cfg, logger)
	if err != nil {
		return fmt.Errorf("audio devices: %w", err)
	}
	defer func() {
		if err := closeDevices(); err != nil {
			logger.Warn("close audio devices", "error", err)
		}
	}()
	if cfg.RecordWAV != "" {
		var closeRec func() error
		devs, closeRec, err = withRecording(devs, cfg.RecordWAV, liveCfg.CaptureSampleRate, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := closeRec(); err != nil {
				logger.Warn("close recording", "error", err)
			}
		}()
		logger.Info("recording microphone", "path", cfg.RecordWAV)
	}

	var store transcriptStore
	if cfg.HistoryPath != "" {
		hs, err := history.Open(ctx, cfg.HistoryPath, logger)
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
		defer hs.Close()
		store = hs
	}

	var observer live.Observer
	if cfg.MetricsAddr != "" {
		m := metrics.New("")
		observer = m
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("serving metrics", "addr", cfg.MetricsAddr)
	}

	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()
	lines := make(chan string)
	go readLines(readCtx, stdin, lines)

	// Ask for the key before the toggle loop starts consuming input lines.
	creds := credentials.NewEnvStore(credentials.LinePrompt(stderr, lines))
	if !creds.HasCredential(ctx) {
		if err := creds.RequestCredential(ctx); err != nil {
			return err
		}
	}

	ctrl := newController(stdout, cfg.Model, cfg.TranscriptMergeChars, store, logger)
	session := live.NewSession(liveCfg, live.Deps{
		Transport:   deps.newTransport(cfg, creds.Key, logger),
		Devices:     devs,
		Credentials: creds,
		Observer:    observer,
		Logger:      logger,
	}, ctrl.handler())
	defer session.Disconnect()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	connect := func() {
		go func() {
			if err := session.Connect(runCtx); err != nil {
				logger.Debug("connect ended", "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	logger.Info("starting live mode", "model", cfg.Model, "transport", cfg.Transport, "backend", cfg.AudioBackend)
	connect()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-sigCh:
			logger.Info("shutdown signal received", "signal", sig.String())
			return nil
		case _, ok := <-lines:
			if !ok {
				return nil
			}
			switch session.Status() {
			case live.StatusIdle, live.StatusError:
				connect()
			default:
				session.Disconnect()
			}
		}
	}
}

// readLines forwards lines from r until r ends or ctx is done. A read that is
// already blocked on r returns with it.
func readLines(ctx context.Context, r io.Reader, out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		select {
		case out <- sc.Text():
		case <-ctx.Done():
			return
		}
	}
}

func runMain(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, deps liveDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	if err := dotenv.LoadNearest(); err != nil {
		fmt.Fprintf(stderr, "vai-live: %v\n", err)
		return 1
	}
	if err := runLive(ctx, args, stdin, stdout, stderr, deps); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "vai-live: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr, defaultLiveDeps()))
}
