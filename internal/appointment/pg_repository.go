package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/dental-intake-scheduling/internal/db"
)

const (
	// exclusion_violation raised by appointments_no_overlap
	pgExclusionViolation  = "23P01"
	pgForeignKeyViolation = "23503"
)

// DBTX is the subset of *pgxpool.Pool the repository needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgRepository struct {
	pool DBTX
	loc  *time.Location
}

// NewPgRepository returns a repository whose dates are interpreted in loc (the clinic timezone).
func NewPgRepository(pool DBTX, loc *time.Location) *PgRepository {
	if loc == nil {
		loc = time.Local
	}
	return &PgRepository{pool: pool, loc: loc}
}

func minutesOf(col string) string {
	return fmt.Sprintf("(EXTRACT(HOUR FROM %[1]s) * 60 + EXTRACT(MINUTE FROM %[1]s))::int", col)
}

func timeFromMinutes(param string) string {
	return fmt.Sprintf("make_time(%[1]s / 60, %[1]s %% 60, 0)", param)
}

var (
	appointmentColumns = `id, patient_id, doctor_id, appointment_date, ` +
		minutesOf("start_time") + `, ` + minutesOf("end_time") +
		`, status, COALESCE(reason, ''), created_at, updated_at`
	scheduleColumns = `id, doctor_id, day_of_week, ` + minutesOf("start_time") + `, ` + minutesOf("end_time")
)

const doctorColumns = `id, name, specialty, phone, is_available, current_chat_id, created_at, updated_at`

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var phone, email *string

	err := row.Scan(
		&p.ID,
		&p.Key,
		&p.Name,
		&phone,
		&email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Phone = phone
	p.Email = email
	return &p, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var chatID *string

	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Specialty,
		&d.Phone,
		&d.Available,
		&chatID,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	d.CurrentChatID = chatID
	return &d, nil
}

func (r *PgRepository) scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date time.Time
	var start, end int

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&date,
		&start,
		&end,
		&a.Status,
		&a.Reason,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Date = r.localDate(date)
	a.Start = TimeOfDay(start)
	a.End = TimeOfDay(end)
	return &a, nil
}

func scanWeeklyWindow(row pgx.Row) (*WeeklyWindow, error) {
	var w WeeklyWindow
	var day, start, end int

	if err := row.Scan(&w.ID, &w.DoctorID, &day, &start, &end); err != nil {
		return nil, err
	}

	w.Day = DayOfWeek(day)
	w.Start = TimeOfDay(start)
	w.End = TimeOfDay(end)
	return &w, nil
}

// localDate re-anchors a DATE column (returned at UTC midnight) in the clinic location.
func (r *PgRepository) localDate(d time.Time) time.Time {
	y, m, day := d.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, r.loc)
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()

	var result []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Patients

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, patient_key, name, phone, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetPatientByKey(ctx context.Context, key string) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, patient_key, name, phone, email, created_at, updated_at
		FROM patients
		WHERE patient_key = $1
	`, key)
	return scanPatient(row)
}

func (r *PgRepository) CreatePatient(ctx context.Context, p Patient) (*Patient, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO patients (id, patient_key, name, phone, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING id, patient_key, name, phone, email, created_at, updated_at
	`, p.ID, p.Key, p.Name, p.Phone, p.Email)
	return scanPatient(row)
}

func (r *PgRepository) ListMedicalHistory(ctx context.Context, patientID uuid.UUID) ([]MedicalRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, patient_id, recorded_at, diagnosis, treatment, notes
		FROM medical_history
		WHERE patient_id = $1
		ORDER BY recorded_at DESC
	`, patientID)
	if err != nil {
		return nil, fmt.Errorf("query medical history: %w", err)
	}

	return collect(rows, func(row pgx.Row) (*MedicalRecord, error) {
		var m MedicalRecord
		if err := row.Scan(&m.ID, &m.PatientID, &m.RecordedAt, &m.Diagnosis, &m.Treatment, &m.Notes); err != nil {
			return nil, err
		}
		return &m, nil
	})
}

// Doctors

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+doctorColumns+` FROM doctors WHERE id = $1`, id)
	return scanDoctor(row)
}

func (r *PgRepository) ListDoctors(ctx context.Context, onlyAvailable bool) ([]Doctor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+doctorColumns+`
		FROM doctors
		WHERE ($1 = false OR is_available)
		ORDER BY name, id
	`, onlyAvailable)
	if err != nil {
		return nil, fmt.Errorf("query doctors: %w", err)
	}
	return collect(rows, scanDoctor)
}

func (r *PgRepository) SetDoctorAvailability(ctx context.Context, id uuid.UUID, available bool) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE doctors
		SET is_available = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+doctorColumns, id, available)
	return scanDoctor(row)
}

func (r *PgRepository) SetDoctorChat(ctx context.Context, id uuid.UUID, chatID *string, available bool) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE doctors
		SET current_chat_id = $2,
		    is_available = $3,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+doctorColumns, id, chatID, available)
	return scanDoctor(row)
}

// Schedules

func (r *PgRepository) ScheduleFor(ctx context.Context, doctorID uuid.UUID, day DayOfWeek) ([]Window, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+minutesOf("start_time")+`, `+minutesOf("end_time")+`
		FROM doctor_schedules
		WHERE doctor_id = $1 AND day_of_week = $2
		ORDER BY start_time
	`, doctorID, int(day))
	if err != nil {
		return nil, fmt.Errorf("query schedule: %w", err)
	}

	return collect(rows, func(row pgx.Row) (*Window, error) {
		var start, end int
		if err := row.Scan(&start, &end); err != nil {
			return nil, err
		}
		return &Window{Start: TimeOfDay(start), End: TimeOfDay(end)}, nil
	})
}

func (r *PgRepository) ListSchedule(ctx context.Context, doctorID uuid.UUID) ([]WeeklyWindow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM doctor_schedules
		WHERE doctor_id = $1
		ORDER BY day_of_week, start_time
	`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("query weekly schedule: %w", err)
	}
	return collect(rows, scanWeeklyWindow)
}

func (r *PgRepository) AddWeeklyWindow(ctx context.Context, w WeeklyWindow) (*WeeklyWindow, error) {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO doctor_schedules (id, doctor_id, day_of_week, start_time, end_time)
		VALUES ($1, $2, $3, `+timeFromMinutes("$4::int")+`, `+timeFromMinutes("$5::int")+`)
		RETURNING `+scheduleColumns, w.ID, w.DoctorID, int(w.Day), int(w.Start), int(w.End))
	return scanWeeklyWindow(row)
}

// Bookings

func (r *PgRepository) ScheduledOn(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date = $2::date
		  AND status = 'scheduled'
		ORDER BY start_time
	`, doctorID, FormatDate(date))
	if err != nil {
		return nil, fmt.Errorf("query scheduled appointments: %w", err)
	}
	return collect(rows, r.scanAppointment)
}

const overlapQuery = `
	SELECT EXISTS (
		SELECT 1
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date = $2::date
		  AND status = 'scheduled'
		  AND %s < $4::int
		  AND $3::int < %s
	)`

func (r *PgRepository) HasOverlap(ctx context.Context, doctorID uuid.UUID, date time.Time, w Window) (bool, error) {
	return hasOverlap(ctx, r.pool, doctorID, date, w)
}

func hasOverlap(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, doctorID uuid.UUID, date time.Time, w Window) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, fmt.Sprintf(overlapQuery, minutesOf("start_time"), minutesOf("end_time")),
		doctorID, FormatDate(date), int(w.Start), int(w.End)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check overlap: %w", err)
	}
	return exists, nil
}

// CreateAppointment serializes writers per doctor with a transaction-scoped advisory lock,
// re-checks overlap and inserts. The exclusion constraint backs this up.
func (r *PgRepository) CreateAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = StatusScheduled
	}

	var created *Appointment
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, a.DoctorID.String()); err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}

		overlap, err := hasOverlap(ctx, tx, a.DoctorID, a.Date, a.Window())
		if err != nil {
			return err
		}
		if overlap {
			return ErrConflict
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO appointments (id, patient_id, doctor_id, appointment_date, start_time, end_time, status, reason, created_at, updated_at)
			VALUES ($1, $2, $3, $4::date, `+timeFromMinutes("$5::int")+`, `+timeFromMinutes("$6::int")+`, $7, $8, now(), now())
			RETURNING `+appointmentColumns,
			a.ID, a.PatientID, a.DoctorID, FormatDate(a.Date), int(a.Start), int(a.End), string(a.Status), a.Reason)

		created, err = r.scanAppointment(row)
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch {
			case pgErr.Code == pgExclusionViolation:
				return nil, ErrConflict
			case pgErr.Code == pgForeignKeyViolation && strings.Contains(pgErr.ConstraintName, "doctor"):
				return nil, ErrDoctorNotFound
			case pgErr.Code == pgForeignKeyViolation:
				return nil, ErrPatientNotFound
			}
		}
		if errors.Is(err, ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	return created, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return r.scanAppointment(row)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns, id, string(to), string(from))

	return r.scanAppointment(row)
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, from time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		  AND appointment_date >= $2::date
		ORDER BY appointment_date DESC, start_time DESC
	`, patientID, FormatDate(from))
	if err != nil {
		return nil, fmt.Errorf("query patient appointments: %w", err)
	}
	return collect(rows, r.scanAppointment)
}

func (r *PgRepository) FindPastScheduled(ctx context.Context, now time.Time) ([]Appointment, error) {
	local := now.In(r.loc)
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'scheduled'
		  AND (appointment_date < $1::date
		       OR (appointment_date = $1::date AND `+minutesOf("end_time")+` <= $2::int))
	`, FormatDate(local), int(TimeOfDayOf(local)))
	if err != nil {
		return nil, fmt.Errorf("query past appointments: %w", err)
	}
	return collect(rows, r.scanAppointment)
}

// Events

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
