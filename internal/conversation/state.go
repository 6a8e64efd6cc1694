package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/dental-intake-scheduling/internal/appointment"
	"github.com/hackgods/dental-intake-scheduling/internal/config"
	"github.com/hackgods/dental-intake-scheduling/internal/llm"
)

// SchemaVersion is bumped whenever State changes shape incompatibly.
const SchemaVersion = 1

var ErrInvalidState = errors.New("conversation: invalid state")

type Step string

const (
	StepVerifyPatient       Step = "verify_patient"
	StepRegisterPatient     Step = "register_patient"
	StepClassify            Step = "classify"
	StepGeneralQuery        Step = "general_query"
	StepDentalUrgency       Step = "dental_urgency"
	StepCheckAvailability   Step = "check_availability"
	StepSelectSlot          Step = "select_slot"
	StepConnectDoctor       Step = "connect_doctor"
	StepScheduleAppointment Step = "schedule_appointment"
	StepMedicalEmergency    Step = "medical_emergency"
	StepEnd                 Step = "end"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusSuspended Status = "suspended"
	StatusDone      Status = "done"
)

// Interrupt reasons.
const (
	ReasonUrgencyNoDoctors = "urgency_no_doctors"
	ReasonSlotSelection    = "slot_selection"
)

type DoctorSummary struct {
	ID        uuid.UUID `json:"doctor_id"`
	Name      string    `json:"doctor_name"`
	Specialty string    `json:"specialty"`
}

func summarize(d appointment.Doctor) DoctorSummary {
	return DoctorSummary{ID: d.ID, Name: d.Name, Specialty: d.Specialty}
}

type BookedAppointment struct {
	ID         uuid.UUID             `json:"appointment_id"`
	DoctorID   uuid.UUID             `json:"doctor_id"`
	DoctorName string                `json:"doctor_name"`
	Date       string                `json:"date"`
	Start      appointment.TimeOfDay `json:"start"`
	End        appointment.TimeOfDay `json:"end"`
	Reason     string                `json:"reason"`
}

// Interrupt describes the external input a suspended thread is waiting for.
type Interrupt struct {
	Reason         string                  `json:"reason"`
	Message        string                  `json:"message,omitempty"`
	PatientKey     string                  `json:"patient_key,omitempty"`
	RequiredAction string                  `json:"required_action,omitempty"`
	Slots          []appointment.SlotOffer `json:"slots,omitempty"`
	ResumeAt       Step                    `json:"resume_at"`
}

type Transition struct {
	From Step      `json:"from"`
	To   Step      `json:"to"`
	At   time.Time `json:"at"`
}

// State is the checkpointed record of one thread. Steps receive it by value and return a
// new value; the slice fields are never appended to in place.
type State struct {
	SchemaVersion int    `json:"schema_version"`
	ThreadID      string `json:"thread_id"`
	Version       int    `json:"version"`
	Status        Status `json:"status"`
	Next          Step   `json:"next"`
	UrgencyPolicy string `json:"urgency_policy"`

	PatientKey    string    `json:"patient_key"`
	PatientID     uuid.UUID `json:"patient_id"`
	PatientName   string    `json:"patient_name,omitempty"`
	PatientExists bool      `json:"patient_exists"`

	Classification llm.Classification `json:"classification,omitempty"`
	Messages       []llm.Message      `json:"messages"`
	MedicalHistory string             `json:"medical_history,omitempty"`

	AvailableDoctors   []DoctorSummary         `json:"available_doctors,omitempty"`
	AssignedDoctor     *DoctorSummary          `json:"assigned_doctor,omitempty"`
	Slots              []appointment.SlotOffer `json:"slots,omitempty"`
	Appointment        *BookedAppointment      `json:"appointment,omitempty"`
	AvailabilityChecks int                     `json:"availability_checks"`

	AwaitingHuman             bool            `json:"awaiting_human"`
	HumanResponse             json.RawMessage `json:"human_response,omitempty"`
	Pending                   *Interrupt      `json:"pending,omitempty"`
	EmergencyContactsProvided bool            `json:"emergency_contacts_provided"`

	Trail []Transition `json:"trail,omitempty"`
}

func newState(threadID, patientKey, policy string) State {
	return State{
		SchemaVersion: SchemaVersion,
		ThreadID:      threadID,
		Status:        StatusRunning,
		Next:          StepVerifyPatient,
		UrgencyPolicy: policy,
		PatientKey:    patientKey,
		Messages:      []llm.Message{},
	}
}

func knownStep(s Step) bool {
	switch s {
	case StepVerifyPatient, StepRegisterPatient, StepClassify, StepGeneralQuery, StepDentalUrgency,
		StepCheckAvailability, StepSelectSlot, StepConnectDoctor, StepScheduleAppointment,
		StepMedicalEmergency, StepEnd:
		return true
	}
	return false
}

// Validate checks the invariants every stored or loaded state must hold.
func (s State) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
	}

	if s.SchemaVersion != SchemaVersion {
		return invalid("schema version %d, want %d", s.SchemaVersion, SchemaVersion)
	}
	if s.ThreadID == "" {
		return invalid("missing thread id")
	}
	if s.PatientKey == "" {
		return invalid("missing patient key")
	}
	if s.UrgencyPolicy != config.UrgencyPolicySelect && s.UrgencyPolicy != config.UrgencyPolicyAutoAssign {
		return invalid("urgency policy %q", s.UrgencyPolicy)
	}
	if !knownStep(s.Next) {
		return invalid("unknown step %q", s.Next)
	}
	if s.PatientExists && s.PatientID == uuid.Nil {
		return invalid("patient marked as existing without id")
	}
	if s.Classification != "" && !s.Classification.Valid() {
		return invalid("classification %q", s.Classification)
	}
	for i, m := range s.Messages {
		if m.Role != llm.RoleUser && m.Role != llm.RoleAssistant {
			return invalid("message %d has role %q", i, m.Role)
		}
	}

	switch s.Status {
	case StatusRunning:
		if s.Pending != nil {
			return invalid("running with a pending interrupt")
		}
	case StatusSuspended:
		if s.Pending == nil {
			return invalid("suspended without an interrupt")
		}
		if s.Pending.ResumeAt != s.Next || s.Next == StepEnd {
			return invalid("resume target %q does not match next step %q", s.Pending.ResumeAt, s.Next)
		}
	case StatusDone:
		if s.Pending != nil {
			return invalid("done with a pending interrupt")
		}
	default:
		return invalid("status %q", s.Status)
	}

	return nil
}

// say returns a copy of s with an assistant message appended.
func (s State) say(text string) State {
	return s.withMessage(llm.RoleAssistant, text)
}

func (s State) withMessage(role, text string) State {
	msgs := make([]llm.Message, len(s.Messages), len(s.Messages)+1)
	copy(msgs, s.Messages)
	s.Messages = append(msgs, llm.Message{Role: role, Content: text})
	return s
}

// suspend parks the thread until Resume supplies a value for step at.
func (s State) suspend(at Step, in Interrupt) State {
	in.ResumeAt = at
	if in.Slots != nil {
		in.Slots = append([]appointment.SlotOffer(nil), in.Slots...)
	}
	s.Pending = &in
	s.Status = StatusSuspended
	s.Next = at
	s.AwaitingHuman = in.Reason == ReasonUrgencyNoDoctors
	return s
}

// startTurn prepares a finished thread for a new inbound message. Per-turn fields are cleared;
// the transcript, patient identity, assigned doctor and the last booked appointment are kept.
func (s State) startTurn(text string) State {
	s.Status = StatusRunning
	s.Next = StepVerifyPatient
	s.Classification = ""
	s.AvailableDoctors = nil
	s.Slots = nil
	s.AvailabilityChecks = 0
	s.AwaitingHuman = false
	s.HumanResponse = nil
	s.Pending = nil
	s.EmergencyContactsProvided = false
	return s.withMessage(llm.RoleUser, text)
}

// history returns the messages preceding the latest user message.
func (s State) history() []llm.Message {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == llm.RoleUser {
			return s.Messages[:i:i]
		}
	}
	return s.Messages[:len(s.Messages):len(s.Messages)]
}
