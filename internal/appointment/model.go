package appointment

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

type Patient struct {
	ID        uuid.UUID
	Key       string // identifying key supplied by the patient (national id)
	Name      string
	Phone     *string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type MedicalRecord struct {
	ID         uuid.UUID
	PatientID  uuid.UUID
	RecordedAt time.Time
	Diagnosis  string
	Treatment  string
	Notes      *string
}

type Doctor struct {
	ID            uuid.UUID
	Name          string
	Specialty     string
	Phone         string
	Available     bool
	CurrentChatID *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// WeeklyWindow is one recurring block of working hours.
type WeeklyWindow struct {
	ID       uuid.UUID
	DoctorID uuid.UUID
	Day      DayOfWeek
	Start    TimeOfDay
	End      TimeOfDay
}

func (w WeeklyWindow) Window() Window {
	return Window{Start: w.Start, End: w.End}
}

type Appointment struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Date      time.Time // midnight of the appointment day, clinic location
	Start     TimeOfDay
	End       TimeOfDay
	Status    AppointmentStatus
	Reason    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a Appointment) Window() Window {
	return Window{Start: a.Start, End: a.End}
}

// Slot is a bookable interval for one doctor.
type Slot struct {
	DoctorID uuid.UUID
	Date     time.Time
	Start    TimeOfDay
	End      TimeOfDay
}

// SlotOffer is a Slot decorated for presentation to a patient.
type SlotOffer struct {
	ID         string    `json:"slot_id"`
	DoctorID   uuid.UUID `json:"doctor_id"`
	DoctorName string    `json:"doctor_name"`
	Specialty  string    `json:"specialty"`
	Date       string    `json:"date"` // YYYY-MM-DD
	Weekday    string    `json:"weekday"`
	Start      TimeOfDay `json:"start"`
	End        TimeOfDay `json:"end"`
}

type BookingRequest struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Date      time.Time
	Start     TimeOfDay
	End       TimeOfDay
	Reason    string
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
