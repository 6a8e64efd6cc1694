package appointment

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func overlapsAny(booked []Appointment, w Window) bool {
	for _, a := range booked {
		if a.Window().Overlaps(w) {
			return true
		}
	}
	return false
}

func containedInAny(windows []Window, w Window) bool {
	for _, win := range windows {
		if win.Contains(w) {
			return true
		}
	}
	return false
}

// wholeMinutes reports whether d can be expressed as a TimeOfDay span.
func wholeMinutes(d time.Duration) bool {
	return d >= time.Minute && d%time.Minute == 0
}

// FindNextSlot returns the first free interval of the given duration for the doctor, scanning
// days forward from "from" up to the configured horizon. Candidates starting before "from" are
// skipped, so passing a midnight date scans that whole day. A nil slot with a nil error means
// nothing fits within the horizon.
func (s *Service) FindNextSlot(ctx context.Context, doctorID uuid.UUID, from time.Time, duration time.Duration) (*Slot, error) {
	ctx, span := s.tracer.Start(ctx, "appointment.find_next_slot",
		trace.WithAttributes(attribute.String("doctor_id", doctorID.String())))
	defer span.End()

	started := time.Now()
	defer func() { s.metrics.ObserveSlotSearch("find_next", time.Since(started).Seconds()) }()

	if !wholeMinutes(duration) {
		return nil, ErrInvalidInterval
	}

	from = from.In(s.cfg.ClinicTimezone)
	first := DateOf(from, s.cfg.ClinicTimezone)

	for day := 0; day < s.cfg.SlotHorizonDays; day++ {
		date := first.AddDate(0, 0, day)
		slots, err := s.daySlots(ctx, doctorID, date, duration, from, 1)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if len(slots) > 0 {
			return &slots[0], nil
		}
	}

	return nil, nil
}

// EnumerateSlots collects up to maxResults free intervals across doctors. Ordering is
// doctor-major, then date, then time; callers wanting date-major ordering must re-sort.
// Same-day slots are skipped once the clock passes the configured day-ending hour.
func (s *Service) EnumerateSlots(ctx context.Context, doctors []Doctor, duration time.Duration, maxResults, horizonDays int) ([]SlotOffer, error) {
	ctx, span := s.tracer.Start(ctx, "appointment.enumerate_slots",
		trace.WithAttributes(attribute.Int("doctors", len(doctors))))
	defer span.End()

	started := time.Now()
	defer func() { s.metrics.ObserveSlotSearch("enumerate", time.Since(started).Seconds()) }()

	if !wholeMinutes(duration) {
		return nil, ErrInvalidInterval
	}
	if maxResults <= 0 || horizonDays <= 0 {
		return nil, nil
	}

	now := s.now().In(s.cfg.ClinicTimezone)
	today := DateOf(now, s.cfg.ClinicTimezone)
	dayEnding := now.Hour() >= s.cfg.DayEndingHour

	offers := make([]SlotOffer, 0, maxResults)
	for _, doctor := range doctors {
		for day := 0; day < horizonDays; day++ {
			if day == 0 && dayEnding {
				continue
			}
			date := today.AddDate(0, 0, day)
			notBefore := date
			if day == 0 {
				notBefore = now
			}

			slots, err := s.daySlots(ctx, doctor.ID, date, duration, notBefore, maxResults-len(offers))
			if err != nil {
				span.RecordError(err)
				return nil, err
			}
			for _, slot := range slots {
				offers = append(offers, newSlotOffer(doctor, slot))
			}
			if len(offers) >= maxResults {
				return offers, nil
			}
		}
	}

	return offers, nil
}

// AvailableSlots enumerates slots for every doctor flagged available, using configured defaults.
func (s *Service) AvailableSlots(ctx context.Context) ([]SlotOffer, error) {
	doctors, err := s.repo.ListDoctors(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list available doctors: %w", err)
	}
	return s.EnumerateSlots(ctx, doctors, s.cfg.SlotDuration, s.cfg.MaxSlotResults, s.cfg.SlotHorizonDays)
}

// daySlots walks each window of the day in duration steps from the window start and keeps
// candidates that fit in the window, start no earlier than notBefore and miss every booking.
// limit <= 0 means no limit.
func (s *Service) daySlots(ctx context.Context, doctorID uuid.UUID, date time.Time, duration time.Duration, notBefore time.Time, limit int) ([]Slot, error) {
	windows, err := s.repo.ScheduleFor(ctx, doctorID, DayOfWeekOf(date))
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}
	if len(windows) == 0 {
		return nil, nil
	}

	booked, err := s.repo.ScheduledOn(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("load bookings: %w", err)
	}

	var slots []Slot
	seen := make(map[TimeOfDay]bool)
	for _, w := range windows {
		for start := w.Start; start.Add(duration) <= w.End; start = start.Add(duration) {
			candidate := Window{Start: start, End: start.Add(duration)}
			if seen[start] || start.On(date).Before(notBefore) || overlapsAny(booked, candidate) {
				continue
			}
			seen[start] = true
			slots = append(slots, Slot{DoctorID: doctorID, Date: date, Start: candidate.Start, End: candidate.End})
			if limit > 0 && len(slots) >= limit && len(windows) == 1 {
				return slots, nil
			}
		}
	}

	// overlapping windows can yield candidates out of order
	slices.SortStableFunc(slots, func(a, b Slot) int { return int(a.Start - b.Start) })
	if limit > 0 && len(slots) > limit {
		slots = slots[:limit]
	}
	return slots, nil
}

func newSlotOffer(d Doctor, slot Slot) SlotOffer {
	return SlotOffer{
		ID:         SlotID(slot),
		DoctorID:   d.ID,
		DoctorName: d.Name,
		Specialty:  d.Specialty,
		Date:       FormatDate(slot.Date),
		Weekday:    slot.Date.Weekday().String(),
		Start:      slot.Start,
		End:        slot.End,
	}
}

// SlotID encodes a slot as doctor|date|start|end.
func SlotID(slot Slot) string {
	return strings.Join([]string{slot.DoctorID.String(), FormatDate(slot.Date), slot.Start.String(), slot.End.String()}, "|")
}

func ParseSlotID(id string, loc *time.Location) (Slot, error) {
	parts := strings.Split(strings.TrimSpace(id), "|")
	if len(parts) != 4 {
		return Slot{}, fmt.Errorf("%w: %q", ErrInvalidSlotID, id)
	}

	doctorID, err := uuid.Parse(parts[0])
	if err != nil {
		return Slot{}, fmt.Errorf("%w: doctor: %v", ErrInvalidSlotID, err)
	}
	date, err := ParseDate(parts[1], loc)
	if err != nil {
		return Slot{}, fmt.Errorf("%w: %v", ErrInvalidSlotID, err)
	}
	start, err := ParseTimeOfDay(parts[2])
	if err != nil {
		return Slot{}, fmt.Errorf("%w: %v", ErrInvalidSlotID, err)
	}
	end, err := ParseTimeOfDay(parts[3])
	if err != nil {
		return Slot{}, fmt.Errorf("%w: %v", ErrInvalidSlotID, err)
	}
	if start >= end {
		return Slot{}, fmt.Errorf("%w: empty interval", ErrInvalidSlotID)
	}

	return Slot{DoctorID: doctorID, Date: date, Start: start, End: end}, nil
}
