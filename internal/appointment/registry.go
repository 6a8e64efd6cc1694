package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const noHistorySummary = "The patient has no recorded medical history."

// Doctors

func (s *Service) ListDoctors(ctx context.Context) ([]Doctor, error) {
	return s.repo.ListDoctors(ctx, false)
}

// AvailableDoctors returns doctors whose availability flag is set, in stable order.
func (s *Service) AvailableDoctors(ctx context.Context) ([]Doctor, error) {
	doctors, err := s.repo.ListDoctors(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list available doctors: %w", err)
	}
	return doctors, nil
}

func (s *Service) SetDoctorAvailability(ctx context.Context, doctorID uuid.UUID, available bool) (*Doctor, error) {
	d, err := s.repo.SetDoctorAvailability(ctx, doctorID, available)
	if err != nil {
		return nil, err
	}
	s.logger.Info("doctor availability changed", zap.String("doctor_id", doctorID.String()), zap.Bool("available", available))
	return d, nil
}

// AssignDoctorToChat records that the doctor joined a conversation; the doctor stops being offered.
func (s *Service) AssignDoctorToChat(ctx context.Context, doctorID uuid.UUID, threadID string) (*Doctor, error) {
	chat := threadID
	return s.repo.SetDoctorChat(ctx, doctorID, &chat, false)
}

// ReleaseDoctor clears the chat marker and makes the doctor available again.
func (s *Service) ReleaseDoctor(ctx context.Context, doctorID uuid.UUID) (*Doctor, error) {
	return s.repo.SetDoctorChat(ctx, doctorID, nil, true)
}

// Weekly schedules

func (s *Service) WeeklySchedule(ctx context.Context, doctorID uuid.UUID) ([]WeeklyWindow, error) {
	return s.repo.ListSchedule(ctx, doctorID)
}

// AddWeeklyWindow validates and stores a recurring window. Windows overlapping an existing
// window of the same doctor and day are rejected.
func (s *Service) AddWeeklyWindow(ctx context.Context, w WeeklyWindow) (*WeeklyWindow, error) {
	if !w.Day.Valid() {
		return nil, fmt.Errorf("%w: day of week %d", ErrInvalidInterval, w.Day)
	}
	if !w.Start.Valid() || !w.End.Valid() || w.Start >= w.End {
		return nil, ErrInvalidInterval
	}
	if _, err := s.repo.GetDoctorByID(ctx, w.DoctorID); err != nil {
		return nil, err
	}

	existing, err := s.repo.ScheduleFor(ctx, w.DoctorID, w.Day)
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}
	for _, e := range existing {
		if e.Overlaps(w.Window()) {
			return nil, fmt.Errorf("%w: %s %s-%s", ErrOverlappingWindow, w.Day, e.Start, e.End)
		}
	}

	return s.repo.AddWeeklyWindow(ctx, w)
}

// Patients

func (s *Service) FindPatient(ctx context.Context, key string) (*Patient, error) {
	return s.repo.GetPatientByKey(ctx, key)
}

// RegisterPatient creates a minimal record from the identifying key alone.
func (s *Service) RegisterPatient(ctx context.Context, key string) (*Patient, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("patient key is required")
	}
	return s.repo.CreatePatient(ctx, Patient{Key: key, Name: "Patient " + key})
}

// MedicalHistorySummary renders the patient's records newest first.
func (s *Service) MedicalHistorySummary(ctx context.Context, patientID uuid.UUID) (string, error) {
	records, err := s.repo.ListMedicalHistory(ctx, patientID)
	if err != nil {
		return "", fmt.Errorf("list medical history: %w", err)
	}
	if len(records) == 0 {
		return noHistorySummary, nil
	}

	var b strings.Builder
	b.WriteString("Patient medical history:")
	for _, r := range records {
		fmt.Fprintf(&b, "\n- Date: %s\n  Diagnosis: %s\n  Treatment: %s", r.RecordedAt.Format("02/01/2006"), r.Diagnosis, r.Treatment)
		if r.Notes != nil && *r.Notes != "" {
			fmt.Fprintf(&b, "\n  Notes: %s", *r.Notes)
		}
	}
	return b.String(), nil
}
