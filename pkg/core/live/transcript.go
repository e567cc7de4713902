package live

import (
	"sync"
	"unicode/utf8"
)

// DefaultMergeThreshold is the turn length, in runes, after which fragments
// from the same speaker start a new turn.
const DefaultMergeThreshold = 500

// Turn is one speaker's contiguous run of transcript text.
type Turn struct {
	Role Role
	Text string
}

// TranscriptLog merges incremental transcript fragments into turns.
// Fragments are appended to the last turn when it has the same role and is
// still shorter than MergeThreshold; otherwise they start a new turn.
type TranscriptLog struct {
	mu        sync.Mutex
	threshold int
	turns     []Turn
}

// NewTranscriptLog returns an empty log. A threshold <= 0 selects
// DefaultMergeThreshold.
func NewTranscriptLog(threshold int) *TranscriptLog {
	if threshold <= 0 {
		threshold = DefaultMergeThreshold
	}
	return &TranscriptLog{threshold: threshold}
}

// Add records a fragment and returns the index of the turn it landed in and
// whether that turn was created by this call.
func (l *TranscriptLog) Add(text string, role Role) (index int, created bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n := len(l.turns); n > 0 {
		last := &l.turns[n-1]
		if last.Role == role && utf8.RuneCountInString(last.Text) < l.threshold {
			last.Text += text
			return n - 1, false
		}
	}
	l.turns = append(l.turns, Turn{Role: role, Text: text})
	return len(l.turns) - 1, true
}

// Turn returns the turn at index i.
func (l *TranscriptLog) Turn(i int) (Turn, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i < 0 || i >= len(l.turns) {
		return Turn{}, false
	}
	return l.turns[i], true
}

// Turns returns a copy of every turn in order.
func (l *TranscriptLog) Turns() []Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

// Len returns the number of turns.
func (l *TranscriptLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.turns)
}

// Reset drops every turn.
func (l *TranscriptLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = nil
}
