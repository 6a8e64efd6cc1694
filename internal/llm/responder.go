package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// HistoryWindow bounds how many prior turns are sent with a general query.
const HistoryWindow = 6

const ApologyText = "I'm sorry, I couldn't process your message right now. Please try again in a few minutes or call the clinic directly."

// ResponseContext carries what the responder may use besides the patient's message.
type ResponseContext struct {
	PatientName    string
	MedicalHistory string
	History        []Message
	Doctors        []string // "Name (Specialty)"
}

type Responder interface {
	Respond(ctx context.Context, kind Classification, message string, rc ResponseContext) (string, error)
}

type ModelResponder struct {
	client Client
}

func NewResponder(client Client) *ModelResponder {
	return &ModelResponder{client: client}
}

func (r *ModelResponder) Respond(ctx context.Context, kind Classification, message string, rc ResponseContext) (string, error) {
	name := rc.PatientName
	if name == "" {
		name = "Patient"
	}

	req := Request{Temperature: 0.7}
	switch kind {
	case General:
		req.System = []string{generalPrompt, fmt.Sprintf("Patient information:\n- Name: %s\n\n%s", name, rc.MedicalHistory)}
		req.Messages = append(req.Messages, recent(rc.History, HistoryWindow)...)
	case Urgency:
		status := "No doctors are available right now. A human operator has been notified."
		if len(rc.Doctors) > 0 {
			status = "Available doctors:\n- " + strings.Join(rc.Doctors, "\n- ")
		}
		req.System = []string{urgencyPrompt, fmt.Sprintf("Patient: %s\n%s", name, status)}
	case Emergency:
		req.System = []string{emergencyPrompt, "Patient: " + name + EmergencyContacts}
	default:
		return "", fmt.Errorf("llm: unknown response kind %q", kind)
	}
	req.Messages = append(req.Messages, Message{Role: RoleUser, Content: message})

	resp, err := r.client.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", errors.New("llm: empty response")
	}
	return resp.Text, nil
}

// recent returns the last n messages. The slice shares no backing array with msgs.
func recent(msgs []Message, n int) []Message {
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}
