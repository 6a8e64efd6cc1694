package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/dental-intake-scheduling/internal/appointment"
)

type SendMessageRequest struct {
	PatientKey string `json:"patient_key"`
	Message    string `json:"message"`
}

type ResumeRequest struct {
	Value json.RawMessage `json:"value"`
}

// CreateAppointmentRequest books either by slot_id or by explicit doctor/date/start/end.
type CreateAppointmentRequest struct {
	PatientID string `json:"patient_id"`
	SlotID    string `json:"slot_id,omitempty"`
	DoctorID  string `json:"doctor_id,omitempty"`
	Date      string `json:"date,omitempty"`
	Start     string `json:"start,omitempty"`
	End       string `json:"end,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type AvailabilityRequest struct {
	Available *bool `json:"available"`
}

type WeeklyWindowRequest struct {
	DayOfWeek *int   `json:"day_of_week"`
	Start     string `json:"start"`
	End       string `json:"end"`
}

type AppointmentResponse struct {
	ID        uuid.UUID             `json:"id"`
	PatientID uuid.UUID             `json:"patient_id"`
	DoctorID  uuid.UUID             `json:"doctor_id"`
	Date      string                `json:"date"`
	Start     appointment.TimeOfDay `json:"start"`
	End       appointment.TimeOfDay `json:"end"`
	Status    string                `json:"status"`
	Reason    string                `json:"reason,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:        a.ID,
		PatientID: a.PatientID,
		DoctorID:  a.DoctorID,
		Date:      appointment.FormatDate(a.Date),
		Start:     a.Start,
		End:       a.End,
		Status:    string(a.Status),
		Reason:    a.Reason,
		CreatedAt: a.CreatedAt,
	}
}

type DoctorResponse struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Specialty     string    `json:"specialty"`
	Phone         string    `json:"phone,omitempty"`
	Available     bool      `json:"available"`
	CurrentChatID *string   `json:"current_chat_id,omitempty"`
}

func toDoctorResponse(d *appointment.Doctor) DoctorResponse {
	return DoctorResponse{
		ID:            d.ID,
		Name:          d.Name,
		Specialty:     d.Specialty,
		Phone:         d.Phone,
		Available:     d.Available,
		CurrentChatID: d.CurrentChatID,
	}
}

type WeeklyWindowResponse struct {
	ID        uuid.UUID             `json:"id"`
	DoctorID  uuid.UUID             `json:"doctor_id"`
	DayOfWeek int                   `json:"day_of_week"`
	Weekday   string                `json:"weekday"`
	Start     appointment.TimeOfDay `json:"start"`
	End       appointment.TimeOfDay `json:"end"`
}

func toWindowResponse(w *appointment.WeeklyWindow) WeeklyWindowResponse {
	return WeeklyWindowResponse{
		ID:        w.ID,
		DoctorID:  w.DoctorID,
		DayOfWeek: int(w.Day),
		Weekday:   w.Day.String(),
		Start:     w.Start,
		End:       w.End,
	}
}

type SlotResponse struct {
	SlotID   string                `json:"slot_id"`
	DoctorID uuid.UUID             `json:"doctor_id"`
	Date     string                `json:"date"`
	Start    appointment.TimeOfDay `json:"start"`
	End      appointment.TimeOfDay `json:"end"`
}

type NextSlotResponse struct {
	Slot *SlotResponse `json:"slot"`
}

type SlotsResponse struct {
	Slots []appointment.SlotOffer `json:"slots"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
