package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnumerateSlotsIsDoctorMajor(t *testing.T) {
	store := NewMemoryStore()
	svc := newTestService(t, store, monday.Add(8*time.Hour))
	a := addDoctor(t, store, "Dr. A", weekdays("09:00", "10:00"))
	b := addDoctor(t, store, "Dr. B", weekdays("09:00", "10:00"))

	offers, err := svc.EnumerateSlots(context.Background(), []Doctor{a, b}, 30*time.Minute, 3, 14)
	require.NoError(t, err)
	require.Len(t, offers, 3)

	for _, o := range offers {
		assert.Equal(t, a.ID, o.DoctorID)
	}
	assert.Equal(t, "2026-10-19", offers[0].Date)
	assert.Equal(t, "Monday", offers[0].Weekday)
	assert.Equal(t, tod("09:00"), offers[0].Start)
	assert.Equal(t, tod("09:30"), offers[1].Start)
	assert.Equal(t, "2026-10-20", offers[2].Date)
}

func TestEnumerateSlotsSkipsTodayAfterDayEnding(t *testing.T) {
	store := NewMemoryStore()
	svc := newTestService(t, store, monday.Add(16*time.Hour+5*time.Minute))
	d := addDoctor(t, store, "Dr. Late", map[DayOfWeek][][2]string{
		0: {{"16:00", "20:00"}},
		1: {{"09:00", "10:00"}},
	})

	offers, err := svc.EnumerateSlots(context.Background(), []Doctor{d}, 30*time.Minute, 1, 14)
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, "2026-10-20", offers[0].Date)
	assert.Equal(t, tod("09:00"), offers[0].Start)
}

func TestEnumerateSlotsSkipsStartedSlotsToday(t *testing.T) {
	store := NewMemoryStore()
	svc := newTestService(t, store, monday.Add(9*time.Hour+40*time.Minute))
	d := addDoctor(t, store, "Dr. Morning", weekdays("09:00", "11:00"))
	seedBooking(t, store, d.ID, monday, "10:00", "10:30")

	offers, err := svc.EnumerateSlots(context.Background(), []Doctor{d}, 30*time.Minute, 2, 14)
	require.NoError(t, err)
	require.Len(t, offers, 2)
	assert.Equal(t, "2026-10-19", offers[0].Date)
	assert.Equal(t, tod("10:30"), offers[0].Start)
	assert.Equal(t, "2026-10-20", offers[1].Date)
	assert.Equal(t, tod("09:00"), offers[1].Start)
}

func TestEnumerateSlotsBoundsAndEmptyInput(t *testing.T) {
	store := NewMemoryStore()
	svc := newTestService(t, store, monday)
	d := addDoctor(t, store, "Dr. Bound", weekdays("09:00", "17:00"))
	ctx := context.Background()

	offers, err := svc.EnumerateSlots(ctx, nil, 30*time.Minute, 10, 14)
	require.NoError(t, err)
	assert.Empty(t, offers)

	offers, err = svc.EnumerateSlots(ctx, []Doctor{d}, 30*time.Minute, 0, 14)
	require.NoError(t, err)
	assert.Empty(t, offers)

	_, err = svc.EnumerateSlots(ctx, []Doctor{d}, 0, 10, 14)
	assert.ErrorIs(t, err, ErrInvalidInterval)

	_, err = svc.EnumerateSlots(ctx, []Doctor{d}, 90*time.Second, 10, 14)
	assert.ErrorIs(t, err, ErrInvalidInterval)

	offers, err = svc.EnumerateSlots(ctx, []Doctor{d}, 30*time.Minute, 10, 14)
	require.NoError(t, err)
	assert.Len(t, offers, 10)
}

func TestAvailableSlotsUsesAvailableDoctorsOnly(t *testing.T) {
	store := NewMemoryStore()
	svc := newTestService(t, store, monday)
	on := addDoctor(t, store, "Dr. On", weekdays("09:00", "10:00"))
	off := addDoctor(t, store, "Dr. Off", weekdays("08:00", "09:00"))
	_, err := svc.SetDoctorAvailability(context.Background(), off.ID, false)
	require.NoError(t, err)

	offers, err := svc.AvailableSlots(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, offers)
	for _, o := range offers {
		assert.Equal(t, on.ID, o.DoctorID)
	}
}

func TestOverlappingWindowsAreDeduplicated(t *testing.T) {
	store := NewMemoryStore()
	svc := newTestService(t, store, monday)
	d := store.AddDoctor(Doctor{Name: "Dr. Legacy", Available: true})
	// written straight to the store, bypassing the overlap check
	for _, w := range [][2]string{{"10:00", "11:00"}, {"09:00", "10:30"}} {
		_, err := store.AddWeeklyWindow(context.Background(), WeeklyWindow{DoctorID: d.ID, Day: 0, Start: tod(w[0]), End: tod(w[1])})
		require.NoError(t, err)
	}

	slots, err := svc.daySlots(context.Background(), d.ID, monday, 30*time.Minute, monday, 0)
	require.NoError(t, err)

	var starts []string
	for _, s := range slots {
		starts = append(starts, s.Start.String())
	}
	assert.Equal(t, []string{"09:00", "09:30", "10:00", "10:30"}, starts)
}

func TestSlotIDRoundTrip(t *testing.T) {
	slot := Slot{DoctorID: uuid.New(), Date: monday, Start: tod("09:30"), End: tod("10:00")}

	id := SlotID(slot)
	parsed, err := ParseSlotID(id, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, slot.DoctorID, parsed.DoctorID)
	assert.True(t, parsed.Date.Equal(slot.Date))
	assert.Equal(t, slot.Start, parsed.Start)
	assert.Equal(t, slot.End, parsed.End)
}

func TestParseSlotIDRejectsMalformed(t *testing.T) {
	doctor := uuid.New().String()
	cases := []string{
		"",
		"not-a-slot",
		"x|2026-10-19|09:00|09:30",
		doctor + "|2026-19-10|09:00|09:30",
		doctor + "|2026-10-19|9am|09:30",
		doctor + "|2026-10-19|09:30|09:30",
		doctor + "|2026-10-19|09:00|09:30|extra",
	}
	for _, c := range cases {
		_, err := ParseSlotID(c, time.UTC)
		assert.ErrorIs(t, err, ErrInvalidSlotID, c)
	}
}
