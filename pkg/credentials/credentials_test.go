package credentials

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

func TestEnvStore_KeyOrder(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "google")

	s := NewEnvStore(nil)
	if !s.HasCredential(context.Background()) {
		t.Fatalf("HasCredential()=false with GOOGLE_API_KEY set")
	}
	if got := s.Key(); got != "google" {
		t.Fatalf("Key()=%q, want google", got)
	}

	t.Setenv("GEMINI_API_KEY", "  gemini  ")
	if got := s.Key(); got != "gemini" {
		t.Fatalf("Key()=%q, want gemini", got)
	}
}

func TestEnvStore_RequestStoresPromptedKey(t *testing.T) {
	t.Setenv("VAI_LIVE_TEST_KEY", "")

	var out bytes.Buffer
	s := NewEnvStore(ReaderPrompt(&out, strings.NewReader("secret-key\n")), "VAI_LIVE_TEST_KEY")
	if s.HasCredential(context.Background()) {
		t.Fatalf("HasCredential()=true before request")
	}
	if err := s.RequestCredential(context.Background()); err != nil {
		t.Fatalf("RequestCredential() error = %v", err)
	}
	if got := os.Getenv("VAI_LIVE_TEST_KEY"); got != "secret-key" {
		t.Fatalf("env=%q, want secret-key", got)
	}
	if !strings.Contains(out.String(), "VAI_LIVE_TEST_KEY") {
		t.Fatalf("prompt=%q, want it to name the variable", out.String())
	}

	// A second request is satisfied without prompting.
	if err := s.RequestCredential(context.Background()); err != nil {
		t.Fatalf("second RequestCredential() error = %v", err)
	}
}

func TestEnvStore_RequestFailures(t *testing.T) {
	tests := []struct {
		name   string
		prompt PromptFunc
		want   error
	}{
		{name: "no prompt", prompt: nil, want: ErrNoKey},
		{name: "blank answer", prompt: ReaderPrompt(&bytes.Buffer{}, strings.NewReader("   \n")), want: ErrNoKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("VAI_LIVE_TEST_KEY", "")
			s := NewEnvStore(tt.prompt, "VAI_LIVE_TEST_KEY")
			if err := s.RequestCredential(context.Background()); !errors.Is(err, tt.want) {
				t.Fatalf("RequestCredential() error=%v, want %v", err, tt.want)
			}
		})
	}

	t.Run("closed input", func(t *testing.T) {
		t.Setenv("VAI_LIVE_TEST_KEY", "")
		s := NewEnvStore(ReaderPrompt(&bytes.Buffer{}, strings.NewReader("")), "VAI_LIVE_TEST_KEY")
		if err := s.RequestCredential(context.Background()); err == nil {
			t.Fatalf("RequestCredential() succeeded on empty input")
		}
	})
}

func TestLinePrompt(t *testing.T) {
	lines := make(chan string, 1)
	var out bytes.Buffer
	prompt := LinePrompt(&out, lines)

	lines <- "abc"
	got, err := prompt(context.Background(), "key? ")
	if err != nil || got != "abc" {
		t.Fatalf("prompt()=%q,%v, want abc", got, err)
	}
	if out.String() != "key? " {
		t.Fatalf("out=%q, want %q", out.String(), "key? ")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := prompt(ctx, "key? "); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("prompt() error=%v, want deadline exceeded", err)
	}

	close(lines)
	if _, err := prompt(context.Background(), "key? "); err == nil {
		t.Fatalf("prompt() succeeded on closed input")
	}
}
