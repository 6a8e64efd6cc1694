package llm

import (
	"context"
	"strings"
)

type Classification string

const (
	General   Classification = "general"
	Urgency   Classification = "urgency"
	Emergency Classification = "emergency"
)

func (c Classification) Valid() bool {
	switch c {
	case General, Urgency, Emergency:
		return true
	}
	return false
}

// ParseClassification normalizes a model label. Anything unrecognised is General.
func ParseClassification(label string) Classification {
	c := Classification(strings.Trim(strings.ToLower(strings.TrimSpace(label)), `."'`))
	if !c.Valid() {
		return General
	}
	return c
}

type Classifier interface {
	Classify(ctx context.Context, text string) (Classification, error)
}

// ModelClassifier asks a language model for a one-word label.
type ModelClassifier struct {
	client Client
}

func NewClassifier(client Client) *ModelClassifier {
	return &ModelClassifier{client: client}
}

func (c *ModelClassifier) Classify(ctx context.Context, text string) (Classification, error) {
	if strings.TrimSpace(text) == "" {
		return General, nil
	}

	resp, err := c.client.Complete(ctx, Request{
		System:      []string{classifierPrompt},
		Messages:    []Message{{Role: RoleUser, Content: text}},
		MaxTokens:   8,
		Temperature: 0,
	})
	if err != nil {
		return General, err
	}
	return ParseClassification(resp.Text), nil
}
