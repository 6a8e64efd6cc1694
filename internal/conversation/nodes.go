package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/dental-intake-scheduling/internal/appointment"
	"github.com/hackgods/dental-intake-scheduling/internal/config"
	"github.com/hackgods/dental-intake-scheduling/internal/llm"
)

const urgencyReason = "Dental urgency"

const noHistoryText = "No medical history available."

func (e *Engine) verifyPatient(ctx context.Context, s State) (State, error) {
	p, err := e.scheduler.FindPatient(ctx, s.PatientKey)
	switch {
	case errors.Is(err, appointment.ErrPatientNotFound):
		s.PatientExists = false
		s.PatientID = uuid.Nil
		s.PatientName = ""
		return s, nil
	case err != nil:
		return s, fmt.Errorf("find patient: %w", err)
	}

	s.PatientExists = true
	s.PatientID = p.ID
	s.PatientName = p.Name
	return s, nil
}

func (e *Engine) registerPatient(ctx context.Context, s State) (State, error) {
	p, err := e.scheduler.RegisterPatient(ctx, s.PatientKey)
	if err != nil {
		return s, fmt.Errorf("register patient: %w", err)
	}

	s.PatientExists = true
	s.PatientID = p.ID
	s.PatientName = p.Name
	return s.say(fmt.Sprintf("I've registered you as a new patient with ID %s. Welcome to our dental clinic!", s.PatientKey)), nil
}

func (e *Engine) classify(ctx context.Context, s State) (State, error) {
	text := llm.LastUserMessage(s.Messages)
	if strings.TrimSpace(text) == "" {
		s.Classification = llm.General
		return s, nil
	}

	actx, cancel := e.adapterContext(ctx)
	defer cancel()

	c, err := e.classifier.Classify(actx, text)
	if err != nil {
		e.metrics.ObserveAdapterFailure("classifier")
		e.logger.Warn("classifier failed, defaulting to general", zap.String("thread_id", s.ThreadID), zap.Error(err))
		c = llm.General
	}
	if !c.Valid() {
		c = llm.General
	}

	e.metrics.ObserveClassification(string(c))
	s.Classification = c
	return s, nil
}

func (e *Engine) generalQuery(ctx context.Context, s State) (State, error) {
	summary := noHistoryText
	if s.PatientID != uuid.Nil {
		text, err := e.scheduler.MedicalHistorySummary(ctx, s.PatientID)
		if err != nil {
			e.logger.Warn("failed to load medical history", zap.String("thread_id", s.ThreadID), zap.Error(err))
		} else {
			summary = text
		}
	}
	s.MedicalHistory = summary

	reply := e.respond(ctx, s, llm.General, llm.ResponseContext{
		PatientName:    s.PatientName,
		MedicalHistory: summary,
		History:        s.history(),
	})
	return s.say(reply), nil
}

func (e *Engine) dentalUrgency(ctx context.Context, s State) (State, error) {
	doctors, err := e.scheduler.AvailableDoctors(ctx)
	if err != nil {
		return s, fmt.Errorf("available doctors: %w", err)
	}

	if len(doctors) == 0 {
		s.AvailableDoctors = nil
		msg := fmt.Sprintf("I understand you have a dental urgency, %s. No doctors are available right now, "+
			"but I'm notifying our team so they can help you as soon as possible. Please stay online.", s.displayName())
		return s.say(msg).suspend(StepCheckAvailability, e.noDoctorsInterrupt(s)), nil
	}

	return e.urgencyWithDoctors(ctx, s, doctors)
}

func (e *Engine) checkAvailability(ctx context.Context, s State) (State, error) {
	s.AvailabilityChecks++
	s.HumanResponse = nil

	doctors, err := e.scheduler.AvailableDoctors(ctx)
	if err != nil {
		return s, fmt.Errorf("available doctors: %w", err)
	}

	if len(doctors) > 0 {
		return e.urgencyWithDoctors(ctx, s, doctors)
	}

	s.AvailableDoctors = nil
	if s.AvailabilityChecks < e.cfg.MaxAvailabilityChecks {
		msg := "We're still looking for an available doctor. Our team has been notified again; please stay online."
		return s.say(msg).suspend(StepCheckAvailability, e.noDoctorsInterrupt(s)), nil
	}

	return s.say(fmt.Sprintf("%s, we couldn't find an available doctor right now. "+
		"Our team will contact you directly to coordinate your care.", s.displayName())), nil
}

// urgencyWithDoctors applies the configured urgency policy once doctors are available.
func (e *Engine) urgencyWithDoctors(ctx context.Context, s State, doctors []appointment.Doctor) (State, error) {
	s.AvailableDoctors = make([]DoctorSummary, 0, len(doctors))
	names := make([]string, 0, len(doctors))
	for _, d := range doctors {
		s.AvailableDoctors = append(s.AvailableDoctors, summarize(d))
		names = append(names, fmt.Sprintf("%s (%s)", d.Name, d.Specialty))
	}

	if s.UrgencyPolicy == config.UrgencyPolicyAutoAssign {
		actx, cancel := e.adapterContext(ctx)
		defer cancel()
		reply, err := e.responder.Respond(actx, llm.Urgency, llm.LastUserMessage(s.Messages), llm.ResponseContext{
			PatientName: s.PatientName,
			Doctors:     names,
		})
		if err != nil {
			e.metrics.ObserveAdapterFailure("responder")
			e.logger.Warn("urgency responder failed", zap.String("thread_id", s.ThreadID), zap.Error(err))
			return s, nil
		}
		return s.say(reply), nil
	}

	slots, err := e.scheduler.EnumerateSlots(ctx, doctors, e.cfg.SlotDuration, e.cfg.MaxSlotResults, e.cfg.SlotHorizonDays)
	if err != nil {
		return s, fmt.Errorf("enumerate slots: %w", err)
	}
	if len(slots) == 0 {
		s.Slots = nil
		return s.say(fmt.Sprintf("%s, we couldn't find free appointments in the next %d days. "+
			"Our team will contact you to coordinate an appointment.", s.displayName(), e.cfg.SlotHorizonDays)), nil
	}

	s.Slots = slots
	return s.say(formatSlotOffer("I understand you have a dental urgency. These are the earliest appointments available:", slots)), nil
}

func (e *Engine) noDoctorsInterrupt(s State) Interrupt {
	return Interrupt{
		Reason: ReasonUrgencyNoDoctors,
		Message: fmt.Sprintf("DENTAL URGENCY - Patient: %s\nMessage: %s\n\n"+
			"No doctors are available. Please update availability or assign a doctor manually.",
			s.displayName(), llm.LastUserMessage(s.Messages)),
		PatientKey:     s.PatientKey,
		RequiredAction: "update_availability",
	}
}

func (e *Engine) selectSlot(ctx context.Context, s State) (State, error) {
	if len(s.HumanResponse) == 0 {
		return s.suspend(StepSelectSlot, Interrupt{
			Reason:     ReasonSlotSelection,
			Message:    "Choose one of the offered appointments.",
			PatientKey: s.PatientKey,
			Slots:      s.Slots,
		}), nil
	}

	selected := parseSlotSelection(s.HumanResponse)
	s.HumanResponse = nil

	offer, ok := findOffer(s.Slots, selected)
	if !ok {
		return e.retrySelection(ctx, s, "That appointment isn't one of the options I offered.")
	}

	slot, err := appointment.ParseSlotID(offer.ID, e.scheduler.Location())
	if err != nil {
		return e.retrySelection(ctx, s, "That appointment isn't one of the options I offered.")
	}

	appt, err := e.scheduler.BookSlot(ctx, s.PatientID, slot, urgencyReason)
	switch {
	case errors.Is(err, appointment.ErrConflict), errors.Is(err, appointment.ErrDoctorBusy):
		return e.retrySelection(ctx, s, "Sorry, that appointment was just taken.")
	case errors.Is(err, appointment.ErrOutOfSchedule):
		return e.retrySelection(ctx, s, "Sorry, that time is no longer within the doctor's schedule.")
	case err != nil:
		return s, fmt.Errorf("book slot: %w", err)
	}

	s.Slots = nil
	s.Appointment = bookedFrom(appt, offer.DoctorName)
	return s.say(confirmationCard(s.Appointment, e.scheduler.Location())), nil
}

// retrySelection refreshes the offer and waits for another choice.
func (e *Engine) retrySelection(ctx context.Context, s State, reason string) (State, error) {
	doctors, err := e.scheduler.AvailableDoctors(ctx)
	if err != nil {
		return s, fmt.Errorf("available doctors: %w", err)
	}

	slots, err := e.scheduler.EnumerateSlots(ctx, doctors, e.cfg.SlotDuration, e.cfg.MaxSlotResults, e.cfg.SlotHorizonDays)
	if err != nil {
		return s, fmt.Errorf("enumerate slots: %w", err)
	}
	if len(slots) == 0 {
		s.Slots = nil
		return s.say(reason + " There are no other free appointments right now; our team will contact you to coordinate."), nil
	}

	s.Slots = slots
	s = s.say(formatSlotOffer(reason+" Please pick another one:", slots))
	return s.suspend(StepSelectSlot, Interrupt{
		Reason:     ReasonSlotSelection,
		Message:    reason,
		PatientKey: s.PatientKey,
		Slots:      slots,
	}), nil
}

func (e *Engine) connectDoctor(ctx context.Context, s State) (State, error) {
	if len(s.AvailableDoctors) == 0 {
		return s.say("Sorry, no doctors are available right now. Please wait while our team handles your case."), nil
	}

	selected := s.AvailableDoctors[0]
	if prev := s.AssignedDoctor; prev != nil && prev.ID != selected.ID {
		if _, err := e.scheduler.ReleaseDoctor(ctx, prev.ID); err != nil {
			return s, fmt.Errorf("release doctor: %w", err)
		}
		s.AssignedDoctor = nil
	}
	if _, err := e.scheduler.AssignDoctorToChat(ctx, selected.ID, s.ThreadID); err != nil {
		return s, fmt.Errorf("assign doctor: %w", err)
	}

	s.AssignedDoctor = &selected
	return s.say(fmt.Sprintf("Good news, %s! I've connected you with %s (%s). "+
		"The doctor will join this chat shortly to attend to your urgency.",
		s.displayName(), selected.Name, selected.Specialty)), nil
}

func (e *Engine) scheduleAppointment(ctx context.Context, s State) (State, error) {
	doctor := s.AssignedDoctor
	if doctor == nil || s.PatientID == uuid.Nil {
		return s, nil
	}

	var appt *appointment.Appointment
	for attempt := 0; attempt < 2 && appt == nil; attempt++ {
		slot, err := e.scheduler.FindNextSlot(ctx, doctor.ID, e.scheduler.Now(), e.cfg.SlotDuration)
		if err != nil {
			return s, fmt.Errorf("find next slot: %w", err)
		}
		if slot == nil {
			return s.say(fmt.Sprintf("%s, we couldn't find free time with %s in the next %d days. "+
				"Our team will contact you to coordinate the appointment.",
				s.displayName(), doctor.Name, e.cfg.SlotHorizonDays)), nil
		}

		appt, err = e.scheduler.BookSlot(ctx, s.PatientID, *slot, urgencyReason)
		switch {
		case err == nil:
		case errors.Is(err, appointment.ErrConflict), errors.Is(err, appointment.ErrDoctorBusy):
			e.logger.Info("slot taken while booking, retrying", zap.String("thread_id", s.ThreadID))
		case errors.Is(err, appointment.ErrOutOfSchedule):
			return s.say(fmt.Sprintf("The appointment could not be booked: %v", err)), nil
		default:
			return s, fmt.Errorf("book slot: %w", err)
		}
	}

	if appt == nil {
		return s.say("The appointment could not be booked because the time was just taken. " +
			"Our team will contact you to coordinate the appointment."), nil
	}

	s.Appointment = bookedFrom(appt, doctor.Name)
	return s.say(confirmationCard(s.Appointment, e.scheduler.Location())), nil
}

func (e *Engine) medicalEmergency(ctx context.Context, s State) (State, error) {
	reply := e.respond(ctx, s, llm.Emergency, llm.ResponseContext{PatientName: s.PatientName})
	s.EmergencyContactsProvided = true
	return s.say(reply + llm.EmergencyContacts), nil
}

// respond calls the responder, replacing any failure with an apology.
func (e *Engine) respond(ctx context.Context, s State, kind llm.Classification, rc llm.ResponseContext) string {
	actx, cancel := e.adapterContext(ctx)
	defer cancel()

	reply, err := e.responder.Respond(actx, kind, llm.LastUserMessage(s.Messages), rc)
	if err != nil {
		e.metrics.ObserveAdapterFailure("responder")
		e.logger.Warn("responder failed", zap.String("thread_id", s.ThreadID), zap.String("kind", string(kind)), zap.Error(err))
		return llm.ApologyText
	}
	return reply
}

func (s State) displayName() string {
	if s.PatientName == "" {
		return "Patient"
	}
	return s.PatientName
}

// parseSlotSelection accepts a JSON string or an object with a slot_id field.
func parseSlotSelection(raw json.RawMessage) string {
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return strings.TrimSpace(id)
	}
	var obj struct {
		SlotID string `json:"slot_id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return strings.TrimSpace(obj.SlotID)
	}
	return ""
}

func findOffer(slots []appointment.SlotOffer, id string) (appointment.SlotOffer, bool) {
	if id == "" {
		return appointment.SlotOffer{}, false
	}
	for _, o := range slots {
		if o.ID == id {
			return o, true
		}
	}
	return appointment.SlotOffer{}, false
}

func bookedFrom(a *appointment.Appointment, doctorName string) *BookedAppointment {
	return &BookedAppointment{
		ID:         a.ID,
		DoctorID:   a.DoctorID,
		DoctorName: doctorName,
		Date:       appointment.FormatDate(a.Date),
		Start:      a.Start,
		End:        a.End,
		Reason:     a.Reason,
	}
}
