package appointment

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Repository. Every method takes one mutex, so
// CreateAppointment's check-and-insert is atomic.
type MemoryStore struct {
	mu           sync.Mutex
	patients     map[uuid.UUID]Patient
	history      map[uuid.UUID][]MedicalRecord
	doctors      map[uuid.UUID]Doctor
	windows      []WeeklyWindow
	appointments map[uuid.UUID]Appointment
	events       []EventLog
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		patients:     make(map[uuid.UUID]Patient),
		history:      make(map[uuid.UUID][]MedicalRecord),
		doctors:      make(map[uuid.UUID]Doctor),
		appointments: make(map[uuid.UUID]Appointment),
	}
}

// AddDoctor and AddMedicalRecord are seeding helpers.
func (m *MemoryStore) AddDoctor(d Doctor) Doctor {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	m.doctors[d.ID] = d
	return d
}

func (m *MemoryStore) AddMedicalRecord(r MedicalRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	m.history[r.PatientID] = append(m.history[r.PatientID], r)
}

// Events returns a copy of the recorded event log.
func (m *MemoryStore) Events() []EventLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.events)
}

// Appointments returns every stored appointment regardless of status.
func (m *MemoryStore) Appointments() []Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Appointment, 0, len(m.appointments))
	for _, a := range m.appointments {
		out = append(out, a)
	}
	sortAppointments(out)
	return out
}

func sortAppointments(list []Appointment) {
	slices.SortFunc(list, func(a, b Appointment) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return int(a.Start - b.Start)
	})
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func (m *MemoryStore) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (m *MemoryStore) GetPatientByKey(_ context.Context, key string) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.patients {
		if p.Key == key {
			return &p, nil
		}
	}
	return nil, ErrPatientNotFound
}

func (m *MemoryStore) CreatePatient(_ context.Context, p Patient) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	m.patients[p.ID] = p
	return &p, nil
}

func (m *MemoryStore) ListMedicalHistory(_ context.Context, patientID uuid.UUID) ([]MedicalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := slices.Clone(m.history[patientID])
	slices.SortFunc(out, func(a, b MedicalRecord) int { return b.RecordedAt.Compare(a.RecordedAt) })
	return out, nil
}

func (m *MemoryStore) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (m *MemoryStore) ListDoctors(_ context.Context, onlyAvailable bool) ([]Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Doctor
	for _, d := range m.doctors {
		if onlyAvailable && !d.Available {
			continue
		}
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b Doctor) int {
		if a.Name != b.Name {
			if a.Name < b.Name {
				return -1
			}
			return 1
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	return out, nil
}

func (m *MemoryStore) SetDoctorAvailability(_ context.Context, id uuid.UUID, available bool) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	d.Available = available
	d.UpdatedAt = time.Now()
	m.doctors[id] = d
	return &d, nil
}

func (m *MemoryStore) SetDoctorChat(_ context.Context, id uuid.UUID, chatID *string, available bool) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	d.CurrentChatID = chatID
	d.Available = available
	d.UpdatedAt = time.Now()
	m.doctors[id] = d
	return &d, nil
}

func (m *MemoryStore) ScheduleFor(_ context.Context, doctorID uuid.UUID, day DayOfWeek) ([]Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Window
	for _, w := range m.windows {
		if w.DoctorID == doctorID && w.Day == day {
			out = append(out, w.Window())
		}
	}
	slices.SortFunc(out, func(a, b Window) int { return int(a.Start - b.Start) })
	return out, nil
}

func (m *MemoryStore) ListSchedule(_ context.Context, doctorID uuid.UUID) ([]WeeklyWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []WeeklyWindow
	for _, w := range m.windows {
		if w.DoctorID == doctorID {
			out = append(out, w)
		}
	}
	slices.SortFunc(out, func(a, b WeeklyWindow) int {
		if a.Day != b.Day {
			return int(a.Day - b.Day)
		}
		return int(a.Start - b.Start)
	})
	return out, nil
}

func (m *MemoryStore) AddWeeklyWindow(_ context.Context, w WeeklyWindow) (*WeeklyWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	m.windows = append(m.windows, w)
	return &w, nil
}

func (m *MemoryStore) scheduledOnLocked(doctorID uuid.UUID, date time.Time) []Appointment {
	var out []Appointment
	for _, a := range m.appointments {
		if a.DoctorID == doctorID && a.Status == StatusScheduled && sameDay(a.Date, date) {
			out = append(out, a)
		}
	}
	sortAppointments(out)
	return out
}

func (m *MemoryStore) ScheduledOn(_ context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scheduledOnLocked(doctorID, date), nil
}

func (m *MemoryStore) HasOverlap(_ context.Context, doctorID uuid.UUID, date time.Time, w Window) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return overlapsAny(m.scheduledOnLocked(doctorID, date), w), nil
}

func (m *MemoryStore) CreateAppointment(_ context.Context, a Appointment) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if overlapsAny(m.scheduledOnLocked(a.DoctorID, a.Date), a.Window()) {
		return nil, ErrConflict
	}

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = StatusScheduled
	}
	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	m.appointments[a.ID] = a
	return &a, nil
}

func (m *MemoryStore) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *MemoryStore) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	m.appointments[id] = a
	return &a, nil
}

func (m *MemoryStore) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID, from time.Time) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.appointments {
		if a.PatientID == patientID && !a.Date.Before(DateOf(from, a.Date.Location())) {
			out = append(out, a)
		}
	}
	sortAppointments(out)
	slices.Reverse(out)
	return out, nil
}

func (m *MemoryStore) FindPastScheduled(_ context.Context, now time.Time) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.appointments {
		if a.Status == StatusScheduled && !a.End.On(a.Date).After(now) {
			out = append(out, a)
		}
	}
	sortAppointments(out)
	return out, nil
}

func (m *MemoryStore) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

var _ Repository = (*MemoryStore)(nil)
var _ Repository = (*PgRepository)(nil)
