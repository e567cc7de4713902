package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vango-go/vai-live/pkg/core/live"
	"github.com/vango-go/vai-live/pkg/history"
)

const (
	meterInterval = 100 * time.Millisecond
	meterWidth    = 20

	// lineQuiet is how long a transcript line stays open for more fragments
	// before the mic meter takes the terminal back.
	lineQuiet = 1500 * time.Millisecond
)

type transcriptStore interface {
	StartConversation(ctx context.Context, id, model string) error
	SaveTurn(ctx context.Context, conversationID string, t history.Turn) error
	EndConversation(ctx context.Context, id, reason string) error
}

// controller renders session events to a terminal and persists transcripts.
type controller struct {
	out    io.Writer
	model  string
	store  transcriptStore
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	mu         sync.Mutex
	transcript *live.TranscriptLog
	convID     string
	lastMeter  time.Time
	meterShown bool
	lineOpen   bool
	lastText   time.Time
}

func newController(out io.Writer, model string, mergeChars int, store transcriptStore, logger *slog.Logger) *controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &controller{
		out:        out,
		model:      model,
		store:      store,
		logger:     logger,
		now:        time.Now,
		newID:      uuid.NewString,
		transcript: live.NewTranscriptLog(mergeChars),
	}
}

func (c *controller) handler() live.Handler {
	return live.Handler{
		OnStatusChange:  c.onStatus,
		OnVolumeChange:  c.onVolume,
		OnTranscription: c.onTranscription,
	}
}

func (c *controller) onStatus(status live.Status, details string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearMeterLocked()

	switch status {
	case live.StatusConnecting:
		c.transcript.Reset()
		c.lineOpen = false
		c.convID = c.newID()
		if c.store != nil {
			if err := c.store.StartConversation(context.Background(), c.convID, c.model); err != nil {
				c.logger.Warn("history: start conversation failed", "error", err)
			}
		}
		fmt.Fprintln(c.out, "[connecting]")
	case live.StatusConnected:
		fmt.Fprintln(c.out, "[connected] speak now; press Enter to hang up")
	case live.StatusIdle, live.StatusError:
		c.endLineLocked()
		if details != "" {
			fmt.Fprintf(c.out, "[%s] %s\n", status, details)
		} else {
			fmt.Fprintf(c.out, "[%s]\n", status)
		}
		if status == live.StatusIdle {
			fmt.Fprintln(c.out, "press Enter to reconnect, Ctrl-C to quit")
		}
		c.endLocked(status.String())
	}
}

func (c *controller) endLocked(reason string) {
	if c.convID == "" {
		return
	}
	if c.store != nil {
		if err := c.store.EndConversation(context.Background(), c.convID, reason); err != nil {
			c.logger.Warn("history: end conversation failed", "error", err)
		}
	}
	c.convID = ""
}

func (c *controller) onVolume(level float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if c.lineOpen {
		if now.Sub(c.lastText) < lineQuiet {
			return
		}
		c.endLineLocked()
	}
	if !c.lastMeter.IsZero() && now.Sub(c.lastMeter) < meterInterval {
		return
	}
	c.lastMeter = now
	c.meterShown = true
	fmt.Fprintf(c.out, "\r[mic] %s", meter(level))
}

func (c *controller) clearMeterLocked() {
	if !c.meterShown {
		return
	}
	fmt.Fprint(c.out, "\r\033[K")
	c.meterShown = false
}

func (c *controller) endLineLocked() {
	if c.lineOpen {
		fmt.Fprintln(c.out)
		c.lineOpen = false
	}
}

func (c *controller) onTranscription(text string, role live.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearMeterLocked()

	idx, created := c.transcript.Add(text, role)
	if created || !c.lineOpen {
		c.endLineLocked()
		fmt.Fprintf(c.out, "%s: %s", speaker(role), strings.TrimLeft(text, " "))
	} else {
		fmt.Fprint(c.out, text)
	}
	c.lineOpen = true
	c.lastText = c.now()

	if c.store == nil || c.convID == "" {
		return
	}
	turn, ok := c.transcript.Turn(idx)
	if !ok {
		return
	}
	err := c.store.SaveTurn(context.Background(), c.convID, history.Turn{Seq: idx, Role: string(turn.Role), Text: turn.Text})
	if err != nil {
		c.logger.Warn("history: save turn failed", "error", err)
	}
}

func speaker(r live.Role) string {
	if r == live.RoleModel {
		return "gemini"
	}
	return "you"
}

// meter renders a level in [0, 1] as a fixed-width bar. Speech RMS rarely
// exceeds 0.3, so the scale is stretched.
func meter(level float64) string {
	n := int(level * 3 * meterWidth)
	n = max(0, min(n, meterWidth))
	return strings.Repeat("#", n) + strings.Repeat(".", meterWidth-n)
}
