package llm

import (
	"context"
	"errors"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrNotConfigured is returned by Unconfigured; callers fall back to their safe defaults.
var ErrNotConfigured = errors.New("llm: no language model configured")

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	System      []string
	Messages    []Message
	MaxTokens   int32
	Temperature float32
}

type Response struct {
	Text       string
	StopReason string
}

// Client is a single-shot completion backend.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Unconfigured is used when no API key is set. Every call fails with ErrNotConfigured.
type Unconfigured struct{}

func (Unconfigured) Complete(context.Context, Request) (Response, error) {
	return Response{}, ErrNotConfigured
}

// LastUserMessage returns the content of the most recent user turn, or "".
func LastUserMessage(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}
