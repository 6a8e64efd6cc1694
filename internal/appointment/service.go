package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hackgods/dental-intake-scheduling/internal/config"
	"github.com/hackgods/dental-intake-scheduling/internal/metrics"
	redisclient "github.com/hackgods/dental-intake-scheduling/internal/redis"
)

const (
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
)

var (
	ErrOutOfSchedule           = errors.New("requested time is outside the doctor's schedule")
	ErrConflict                = errors.New("requested time overlaps an existing appointment")
	ErrDoctorBusy              = errors.New("doctor's calendar is being updated, please retry")
	ErrInvalidInterval         = errors.New("invalid time interval")
	ErrInvalidSlotID           = errors.New("invalid slot id")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrOverlappingWindow       = errors.New("weekly window overlaps an existing window")
)

type Service struct {
	repo    Repository
	locker  redisclient.Locker
	cfg     config.Config
	logger  *zap.Logger
	metrics *metrics.SchedulingMetrics
	tracer  trace.Tracer
	now     func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, logger *zap.Logger, m *metrics.SchedulingMetrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ClinicTimezone == nil {
		cfg.ClinicTimezone = time.Local
	}
	return &Service{
		repo:    repo,
		locker:  locker,
		cfg:     cfg,
		logger:  logger.Named("appointment"),
		metrics: m,
		tracer:  otel.Tracer("dental.internal.appointment"),
		now:     time.Now,
	}
}

// WithClock replaces the wall clock used for same-day cutoffs and the completion sweep.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Now() time.Time {
	return s.now().In(s.cfg.ClinicTimezone)
}

func (s *Service) Location() *time.Location {
	return s.cfg.ClinicTimezone
}

// Book creates a scheduled appointment. The interval must sit inside one weekly window of the
// doctor (ErrOutOfSchedule) and must not overlap a scheduled booking (ErrConflict). The check
// and the insert run under a per-doctor lock so concurrent bookings cannot both pass the check.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	ctx, span := s.tracer.Start(ctx, "appointment.book",
		trace.WithAttributes(attribute.String("doctor_id", req.DoctorID.String())))
	defer span.End()

	w := Window{Start: req.Start, End: req.End}
	if !w.Start.Valid() || !w.End.Valid() || w.Start >= w.End {
		s.metrics.ObserveBooking("invalid")
		return nil, ErrInvalidInterval
	}
	if _, err := s.repo.GetPatientByID(ctx, req.PatientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			s.metrics.ObserveBooking("not_found")
			return nil, err
		}
		s.metrics.ObserveBooking("error")
		return nil, fmt.Errorf("load patient: %w", err)
	}
	date := DateOf(req.Date, s.cfg.ClinicTimezone)

	var created *Appointment

	err := s.locker.WithLock(ctx, redisclient.DoctorLockKey(req.DoctorID), func(lockCtx context.Context) error {
		windows, err := s.repo.ScheduleFor(lockCtx, req.DoctorID, DayOfWeekOf(date))
		if err != nil {
			return fmt.Errorf("load schedule: %w", err)
		}
		if !containedInAny(windows, w) {
			return ErrOutOfSchedule
		}

		overlap, err := s.repo.HasOverlap(lockCtx, req.DoctorID, date, w)
		if err != nil {
			return err
		}
		if overlap {
			return ErrConflict
		}

		appt, err := s.repo.CreateAppointment(lockCtx, Appointment{
			PatientID: req.PatientID,
			DoctorID:  req.DoctorID,
			Date:      date,
			Start:     req.Start,
			End:       req.End,
			Status:    StatusScheduled,
			Reason:    req.Reason,
		})
		if err != nil {
			return err
		}

		created = appt

		s.logEvent(lockCtx, appt.ID, EventAppointmentBooked, map[string]any{
			"doctor_id":  req.DoctorID.String(),
			"patient_id": req.PatientID.String(),
			"date":       FormatDate(date),
			"start":      req.Start.String(),
			"end":        req.End.String(),
		})

		return nil
	})

	switch {
	case err == nil:
		s.metrics.ObserveBooking("booked")
		return created, nil
	case errors.Is(err, ErrConflict):
		s.metrics.ObserveBooking("conflict")
		return nil, err
	case errors.Is(err, ErrOutOfSchedule):
		s.metrics.ObserveBooking("out_of_schedule")
		return nil, err
	case errors.Is(err, ErrPatientNotFound), errors.Is(err, ErrDoctorNotFound):
		s.metrics.ObserveBooking("not_found")
		return nil, err
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		s.metrics.ObserveBooking("busy")
		return nil, ErrDoctorBusy
	default:
		s.metrics.ObserveBooking("error")
		span.RecordError(err)
		return nil, fmt.Errorf("book appointment: %w", err)
	}
}

// BookSlot books a slot produced by the slot engine.
func (s *Service) BookSlot(ctx context.Context, patientID uuid.UUID, slot Slot, reason string) (*Appointment, error) {
	return s.Book(ctx, BookingRequest{
		PatientID: patientID,
		DoctorID:  slot.DoctorID,
		Date:      slot.Date,
		Start:     slot.Start,
		End:       slot.End,
		Reason:    reason,
	})
}

func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusCancelled, EventAppointmentCancelled)
}

func (s *Service) CompleteAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusCompleted, EventAppointmentCompleted)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to AppointmentStatus, eventType string) (*Appointment, error) {
	updated, err := s.repo.UpdateAppointmentStatus(ctx, id, StatusScheduled, to)
	if err != nil {
		if !errors.Is(err, ErrAppointmentNotFound) {
			return nil, fmt.Errorf("update appointment status: %w", err)
		}
		// distinguish a missing row from one that is no longer scheduled
		if _, getErr := s.repo.GetAppointmentByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrInvalidStatusTransition
	}

	s.logEvent(ctx, updated.ID, eventType, map[string]any{})
	return updated, nil
}

// CompletePastAppointments is intended to be called by the worker periodically.
func (s *Service) CompletePastAppointments(ctx context.Context) (int, error) {
	past, err := s.repo.FindPastScheduled(ctx, s.Now())
	if err != nil {
		return 0, fmt.Errorf("find past scheduled appointments: %w", err)
	}

	completed := 0
	for _, appt := range past {
		_, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusScheduled, StatusCompleted)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			s.logger.Warn("failed to complete appointment", zap.String("appointment_id", appt.ID.String()), zap.Error(err))
			continue
		}
		if err == nil {
			completed++
			s.logEvent(ctx, appt.ID, EventAppointmentCompleted, map[string]any{
				"reason": "worker",
			})
		}
	}

	return completed, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetAppointmentByID(ctx, id)
}

// PatientAppointments lists a patient's appointments, upcoming only unless includePast is set.
func (s *Service) PatientAppointments(ctx context.Context, patientID uuid.UUID, includePast bool) ([]Appointment, error) {
	from := s.Now()
	if includePast {
		from = time.Time{}
	}
	list, err := s.repo.ListAppointmentsByPatient(ctx, patientID, from)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return list, nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal event payload", zap.String("event_type", eventType), zap.Error(err))
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Warn("failed to insert event log",
			zap.String("event_type", eventType),
			zap.String("appointment_id", appointmentID.String()),
			zap.Error(err))
	}
}
