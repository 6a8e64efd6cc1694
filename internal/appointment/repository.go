package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// ScheduleStore holds weekly recurring availability windows.
type ScheduleStore interface {
	// ScheduleFor returns the doctor's windows for the weekday ordered by start.
	// An empty result means the doctor does not work that day.
	ScheduleFor(ctx context.Context, doctorID uuid.UUID, day DayOfWeek) ([]Window, error)
	ListSchedule(ctx context.Context, doctorID uuid.UUID) ([]WeeklyWindow, error)
	AddWeeklyWindow(ctx context.Context, w WeeklyWindow) (*WeeklyWindow, error)
}

// BookingStore holds committed appointments. Only scheduled appointments take part in conflicts.
type BookingStore interface {
	ScheduledOn(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error)
	HasOverlap(ctx context.Context, doctorID uuid.UUID, date time.Time, w Window) (bool, error)

	// CreateAppointment re-checks for overlap and inserts atomically; it returns ErrConflict on overlap.
	CreateAppointment(ctx context.Context, a Appointment) (*Appointment, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, from time.Time) ([]Appointment, error)

	// Completion worker
	FindPastScheduled(ctx context.Context, now time.Time) ([]Appointment, error)
}

type DoctorStore interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	ListDoctors(ctx context.Context, onlyAvailable bool) ([]Doctor, error)
	SetDoctorAvailability(ctx context.Context, id uuid.UUID, available bool) (*Doctor, error)
	SetDoctorChat(ctx context.Context, id uuid.UUID, chatID *string, available bool) (*Doctor, error)
}

type PatientStore interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetPatientByKey(ctx context.Context, key string) (*Patient, error)
	CreatePatient(ctx context.Context, p Patient) (*Patient, error)
	ListMedicalHistory(ctx context.Context, patientID uuid.UUID) ([]MedicalRecord, error)
}

type EventStore interface {
	InsertEvent(ctx context.Context, ev EventLog) error
}

// Repository contains all DB interactions needed by the service.
type Repository interface {
	ScheduleStore
	BookingStore
	DoctorStore
	PatientStore
	EventStore
}
