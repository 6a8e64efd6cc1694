package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	reply string
	err   error
	last  Request
	calls int
}

func (s *stubClient) Complete(_ context.Context, req Request) (Response, error) {
	s.calls++
	s.last = req
	if s.err != nil {
		return Response{}, s.err
	}
	return Response{Text: s.reply}, nil
}

func TestParseClassification(t *testing.T) {
	cases := map[string]Classification{
		"general":     General,
		" Urgency\n":  Urgency,
		"EMERGENCY.":  Emergency,
		"\"urgency\"": Urgency,
		"critical":    General,
		"":            General,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseClassification(in), in)
	}
}

func TestClassifierFallsBackToGeneral(t *testing.T) {
	client := &stubClient{reply: "it depends"}
	c := NewClassifier(client)

	got, err := c.Classify(context.Background(), "my tooth hurts")
	require.NoError(t, err)
	assert.Equal(t, General, got)

	client.reply = "urgency"
	got, err = c.Classify(context.Background(), "my tooth is broken and bleeding")
	require.NoError(t, err)
	assert.Equal(t, Urgency, got)
	assert.Equal(t, float32(0), client.last.Temperature)

	client.err = errors.New("timeout")
	got, err = c.Classify(context.Background(), "help")
	assert.Error(t, err)
	assert.Equal(t, General, got)
}

func TestClassifierSkipsEmptyText(t *testing.T) {
	client := &stubClient{reply: "emergency"}
	got, err := NewClassifier(client).Classify(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, General, got)
	assert.Zero(t, client.calls)
}

func TestResponderBoundsHistory(t *testing.T) {
	client := &stubClient{reply: "Brush twice a day."}
	var history []Message
	for i := 0; i < 10; i++ {
		history = append(history, Message{Role: RoleUser, Content: fmt.Sprintf("m%d", i)})
	}

	reply, err := NewResponder(client).Respond(context.Background(), General, "how often should I brush?", ResponseContext{
		PatientName:    "Ana",
		MedicalHistory: "The patient has no recorded medical history.",
		History:        history,
	})
	require.NoError(t, err)
	assert.Equal(t, "Brush twice a day.", reply)

	require.Len(t, client.last.Messages, HistoryWindow+1)
	assert.Equal(t, "m4", client.last.Messages[0].Content)
	assert.Equal(t, "how often should I brush?", client.last.Messages[HistoryWindow].Content)
	assert.Contains(t, client.last.System[1], "Ana")
}

func TestResponderEmergencyIncludesContacts(t *testing.T) {
	client := &stubClient{reply: "Call now."}
	_, err := NewResponder(client).Respond(context.Background(), Emergency, "I can't breathe", ResponseContext{})
	require.NoError(t, err)
	assert.True(t, strings.Contains(client.last.System[1], "106"))
}

func TestResponderErrors(t *testing.T) {
	_, err := NewResponder(&stubClient{reply: "  "}).Respond(context.Background(), Urgency, "pain", ResponseContext{})
	assert.Error(t, err)

	_, err = NewResponder(Unconfigured{}).Respond(context.Background(), General, "hi", ResponseContext{})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewResponder(&stubClient{reply: "x"}).Respond(context.Background(), Classification("other"), "hi", ResponseContext{})
	assert.Error(t, err)
}

func TestLastUserMessage(t *testing.T) {
	msgs := []Message{
		{Role: RoleUser, Content: "first"},
		{Role: RoleAssistant, Content: "reply"},
		{Role: RoleUser, Content: "second"},
		{Role: RoleAssistant, Content: "reply 2"},
	}
	assert.Equal(t, "second", LastUserMessage(msgs))
	assert.Equal(t, "", LastUserMessage(nil))
}
