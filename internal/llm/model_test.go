package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

func TestIsFatalAPIError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"nil error", nil, false},
		{"generic error", errors.New("connection reset"), false},
		{"credit balance", errors.New("insufficient credit balance"), true},
		{"quota exceeded", errors.New("quota exceeded for model"), true},
		{"billing issue", errors.New("billing account inactive"), true},
		{"invalid api key", errors.New("invalid api key"), true},
		{"authentication failed", errors.New("authentication failed"), true},
		{"unauthorized", errors.New("unauthorized request"), true},
		{"401 status", errors.New("HTTP 401: not allowed"), true},
		{"403 status", errors.New("HTTP 403: forbidden"), true},
		{"wrapped error", fmt.Errorf("embed: %w", errors.New("credit balance too low")), true},
		{"rate limit not fatal", errors.New("rate limit exceeded"), false},
		{"404 not fatal", errors.New("HTTP 404: not found"), false},
		{"timeout not fatal", errors.New("context deadline exceeded"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isFatalAPIError(tt.err)
			if got != tt.fatal {
				t.Errorf("isFatalAPIError(%v) = %v, want %v", tt.err, got, tt.fatal)
			}
		})
	}
}

func TestWrapFatalError(t *testing.T) {
	t.Run("wraps fatal error", func(t *testing.T) {
		err := errors.New("invalid api key provided")
		wrapped := wrapFatalError(err)
		if !errors.Is(wrapped, ErrFatalAPI) {
			t.Errorf("expected wrapped error to match ErrFatalAPI")
		}
	})

	t.Run("passes through non-fatal error", func(t *testing.T) {
		err := errors.New("network timeout")
		result := wrapFatalError(err)
		if errors.Is(result, ErrFatalAPI) {
			t.Errorf("non-fatal error should not be wrapped with ErrFatalAPI")
		}
		if result != err {
			t.Errorf("expected original error returned, got %v", result)
		}
	})

	t.Run("nil error", func(t *testing.T) {
		result := wrapFatalError(nil)
		if result != nil {
			t.Errorf("expected nil, got %v", result)
		}
	})
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"nil", nil, false},
		{"rate limit", errors.New("API returned unexpected status code: 429: Rate limit reached"), true},
		{"overloaded", errors.New("anthropic: overloaded_error"), true},
		{"server error", errors.New("status 503 service unavailable"), true},
		{"deadline", context.DeadlineExceeded, true},
		{"fatal wins", fmt.Errorf("%w: HTTP 401 rate limit", ErrFatalAPI), false},
		{"bad request", errors.New("invalid request: messages must not be empty"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, IsTransient(tt.err))
		})
	}
}

// stubLLM answers GenerateContent with a canned response.
type stubLLM struct {
	resp     *llms.ContentResponse
	err      error
	messages []llms.MessageContent
	opts     llms.CallOptions
}

func (s *stubLLM) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	s.messages = messages
	for _, o := range options {
		o(&s.opts)
	}
	return s.resp, s.err
}

func (s *stubLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, s, prompt, options...)
}

func TestComplete(t *testing.T) {
	stub := &stubLLM{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:        "## Overview\n- 12 open bugs",
		GenerationInfo: map[string]any{"PromptTokens": 900, "CompletionTokens": 40},
	}}}}
	m := NewFromLLM(stub, "gpt-4o")

	got, err := m.Complete(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Equal(t, "## Overview\n- 12 open bugs", got.Text)
	assert.Equal(t, int64(900), got.InputTokens)
	assert.Equal(t, int64(40), got.OutputTokens)
	assert.Equal(t, "gpt-4o", m.Model())

	require.Len(t, stub.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, stub.messages[0].Role)
	assert.InDelta(t, DefaultTemperature, stub.opts.Temperature, 1e-9)
	assert.Equal(t, DefaultMaxTokens, stub.opts.MaxTokens)
}

func TestCompleteErrors(t *testing.T) {
	m := NewFromLLM(&stubLLM{err: errors.New("HTTP 401: invalid api key")}, "gpt-4o")
	_, err := m.Complete(context.Background(), "s", "u")
	assert.ErrorIs(t, err, ErrFatalAPI)

	m = NewFromLLM(&stubLLM{resp: &llms.ContentResponse{}}, "gpt-4o")
	_, err = m.Complete(context.Background(), "s", "u")
	assert.ErrorContains(t, err, "no response choices")
}

func TestTokenUsageKeys(t *testing.T) {
	in, out := tokenUsage(map[string]any{"input_tokens": int32(10), "output_tokens": float64(3)})
	assert.Equal(t, int64(10), in)
	assert.Equal(t, int64(3), out)

	in, out = tokenUsage(nil)
	assert.Zero(t, in)
	assert.Zero(t, out)
}
