// Package credentials checks for and requests the API key used by the live
// transports.
package credentials

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// DefaultKeys are the environment variables consulted, in order.
var DefaultKeys = []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}

// ErrNoKey is returned when a request completes without a usable key.
var ErrNoKey = errors.New("credentials: no api key provided")

// PromptFunc asks the user for a key and returns what they entered.
type PromptFunc func(ctx context.Context, message string) (string, error)

// EnvStore keeps the API key in the process environment.
type EnvStore struct {
	keys   []string
	prompt PromptFunc

	mu sync.Mutex
}

// NewEnvStore returns a store over keys (DefaultKeys when empty). A nil
// prompt makes RequestCredential fail with ErrNoKey.
func NewEnvStore(prompt PromptFunc, keys ...string) *EnvStore {
	if len(keys) == 0 {
		keys = DefaultKeys
	}
	return &EnvStore{keys: keys, prompt: prompt}
}

// Key returns the first non-empty key, or "".
func (s *EnvStore) Key() string {
	for _, k := range s.keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

// HasCredential reports whether a key is set.
func (s *EnvStore) HasCredential(context.Context) bool {
	return s.Key() != ""
}

// RequestCredential prompts for a key and stores it under the first
// configured variable.
func (s *EnvStore) RequestCredential(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Key() != "" {
		return nil
	}
	if s.prompt == nil {
		return ErrNoKey
	}
	v, err := s.prompt(ctx, fmt.Sprintf("Enter %s: ", s.keys[0]))
	if err != nil {
		return fmt.Errorf("request api key: %w", err)
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return ErrNoKey
	}
	if err := os.Setenv(s.keys[0], v); err != nil {
		return fmt.Errorf("store api key: %w", err)
	}
	return nil
}

// LinePrompt returns a prompt that writes the message to w and reads one line
// from lines. Reading from a channel lets the caller share stdin with other
// consumers.
func LinePrompt(w io.Writer, lines <-chan string) PromptFunc {
	return func(ctx context.Context, message string) (string, error) {
		if _, err := io.WriteString(w, message); err != nil {
			return "", err
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return "", io.EOF
			}
			return line, nil
		}
	}
}

// ReaderPrompt returns a prompt that reads one line from r.
func ReaderPrompt(w io.Writer, r io.Reader) PromptFunc {
	br := bufio.NewReader(r)
	return func(_ context.Context, message string) (string, error) {
		if _, err := io.WriteString(w, message); err != nil {
			return "", err
		}
		line, err := br.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return "", err
		}
		return line, nil
	}
}
