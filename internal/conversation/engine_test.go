package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/dental-intake-scheduling/internal/appointment"
	"github.com/hackgods/dental-intake-scheduling/internal/config"
	"github.com/hackgods/dental-intake-scheduling/internal/llm"
	redisclient "github.com/hackgods/dental-intake-scheduling/internal/redis"
)

// Monday 2026-10-19, 08:00 UTC.
var mondayMorning = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

type stubClassifier struct {
	label llm.Classification
	err   error
}

func (s *stubClassifier) Classify(context.Context, string) (llm.Classification, error) {
	return s.label, s.err
}

type stubResponder struct {
	reply string
	err   error
	calls []llm.ResponseContext
	kinds []llm.Classification
}

func (s *stubResponder) Respond(_ context.Context, kind llm.Classification, _ string, rc llm.ResponseContext) (string, error) {
	s.kinds = append(s.kinds, kind)
	s.calls = append(s.calls, rc)
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

type fixture struct {
	engine     *Engine
	store      *appointment.MemoryStore
	svc        *appointment.Service
	classifier *stubClassifier
	responder  *stubResponder
	client     *redis.Client
	cfg        config.Config
}

func newFixture(t *testing.T, policy string) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.Config{
		ClinicTimezone:        time.UTC,
		SlotDuration:          30 * time.Minute,
		SlotHorizonDays:       14,
		MaxSlotResults:        3,
		DayEndingHour:         16,
		UrgencyPolicy:         policy,
		MaxAvailabilityChecks: 3,
		AdapterTimeout:        time.Second,
		CheckpointTTL:         time.Hour,
	}

	store := appointment.NewMemoryStore()
	svc := appointment.NewService(store, redisclient.NewRedisLocker(client, 5*time.Second, 5*time.Second), cfg, zap.NewNop(), nil).
		WithClock(func() time.Time { return mondayMorning })

	f := &fixture{
		store:      store,
		svc:        svc,
		classifier: &stubClassifier{label: llm.General},
		responder:  &stubResponder{reply: "Happy to help."},
		client:     client,
		cfg:        cfg,
	}
	f.engine = f.newEngine()
	return f
}

// newEngine builds an engine over the fixture's Redis, as a restarted process would.
func (f *fixture) newEngine() *Engine {
	return NewEngine(Dependencies{
		Scheduler:   f.svc,
		Classifier:  f.classifier,
		Responder:   f.responder,
		Checkpoints: NewRedisCheckpoints(f.client, f.cfg.CheckpointTTL),
		Locker:      redisclient.NewRedisLocker(f.client, 10*time.Second, 5*time.Second),
	}, f.cfg, zap.NewNop(), nil)
}

func (f *fixture) addDoctor(t *testing.T, name string, available bool) appointment.Doctor {
	t.Helper()
	d := f.store.AddDoctor(appointment.Doctor{Name: name, Specialty: "General Dentistry", Available: available})
	for day := appointment.DayOfWeek(0); day < 5; day++ {
		_, err := f.store.AddWeeklyWindow(context.Background(), appointment.WeeklyWindow{
			DoctorID: d.ID, Day: day, Start: appointment.NewTimeOfDay(9, 0), End: appointment.NewTimeOfDay(17, 0),
		})
		require.NoError(t, err)
	}
	return d
}

func lastMessage(s State) string {
	if len(s.Messages) == 0 {
		return ""
	}
	return s.Messages[len(s.Messages)-1].Content
}

func steps(s State) []Step {
	var out []Step
	for _, tr := range s.Trail {
		out = append(out, tr.To)
	}
	return out
}

func rawString(t *testing.T, s string) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(s)
	require.NoError(t, err)
	return data
}

func TestNewPatientGeneralQuery(t *testing.T) {
	f := newFixture(t, config.UrgencyPolicySelect)

	res, err := f.engine.Send(context.Background(), "t-1", "12345678", "Which toothpaste should I use?")
	require.NoError(t, err)
	assert.True(t, res.Done)
	assert.Nil(t, res.Pending)

	st := res.State
	assert.True(t, st.PatientExists)
	assert.Equal(t, "Patient 12345678", st.PatientName)
	assert.Equal(t, llm.General, st.Classification)
	require.Len(t, st.Messages, 3)
	assert.Contains(t, st.Messages[1].Content, "registered you as a new patient")
	assert.Equal(t, "Happy to help.", lastMessage(st))
	assert.Equal(t, []Step{StepRegisterPatient, StepClassify, StepGeneralQuery, StepEnd}, steps(st))

	p, err := f.svc.FindPatient(context.Background(), "12345678")
	require.NoError(t, err)
	assert.Equal(t, p.ID, st.PatientID)
}

func TestGeneralQueryUsesMedicalHistory(t *testing.T) {
	f := newFixture(t, config.UrgencyPolicySelect)
	p, err := f.svc.RegisterPatient(context.Background(), "87654321")
	require.NoError(t, err)
	f.store.AddMedicalRecord(appointment.MedicalRecord{PatientID: p.ID, RecordedAt: mondayMorning.AddDate(0, -2, 0), Diagnosis: "Bruxism", Treatment: "Night guard"})

	_, err = f.engine.Send(context.Background(), "t-2", "87654321", "first question")
	require.NoError(t, err)
	res, err := f.engine.Send(context.Background(), "t-2", "", "second question")
	require.NoError(t, err)

	require.Len(t, f.responder.calls, 2)
	rc := f.responder.calls[1]
	assert.Contains(t, rc.MedicalHistory, "Bruxism")
	// prior turns only; the current message is sent separately
	require.Len(t, rc.History, 2)
	assert.Equal(t, "first question", rc.History[0].Content)
	assert.Len(t, res.State.Messages, 4)
	assert.Equal(t, []Step{StepClassify, StepGeneralQuery, StepEnd, StepClassify, StepGeneralQuery, StepEnd}, steps(res.State))
}

func TestClassifierFailureDefaultsToGeneral(t *testing.T) {
	f := newFixture(t, config.UrgencyPolicySelect)
	f.classifier.err = errors.New("quota exceeded")

	res, err := f.engine.Send(context.Background(), "t-3", "11111111", "my tooth aches")
	require.NoError(t, err)
	assert.Equal(t, llm.General, res.State.Classification)
	assert.True(t, res.Done)

	f.classifier.err = nil
	f.classifier.label = "mystery"
	res, err = f.engine.Send(context.Background(), "t-3", "", "and now?")
	require.NoError(t, err)
	assert.Equal(t, llm.General, res.State.Classification)
}

func TestResponderFailureBecomesApology(t *testing.T) {
	f := newFixture(t, config.UrgencyPolicySelect)
	f.responder.err = errors.New("timeout")

	res, err := f.engine.Send(context.Background(), "t-4", "22222222", "hello")
	require.NoError(t, err)
	assert.True(t, res.Done)
	assert.Equal(t, llm.ApologyText, lastMessage(res.State))
}

func TestMedicalEmergencyAlwaysAppendsContacts(t *testing.T) {
	for _, respErr := range []error{nil, errors.New("model down")} {
		f := newFixture(t, config.UrgencyPolicySelect)
		f.classifier.label = llm.Emergency
		f.responder.reply = "Stay calm and call for help."
		f.responder.err = respErr

		res, err := f.engine.Send(context.Background(), "t-5", "33333333", "I can't breathe")
		require.NoError(t, err)
		assert.True(t, res.Done)
		assert.True(t, res.State.EmergencyContactsProvided)
		assert.True(t, strings.HasSuffix(lastMessage(res.State), llm.EmergencyContacts))
	}
}

func TestUrgencySelectSlotBooks(t *testing.T) {
	f := newFixture(t, config.UrgencyPolicySelect)
	f.classifier.label = llm.Urgency
	d := f.addDoctor(t, "Dr. Rivera", true)
	ctx := context.Background()

	res, err := f.engine.Send(ctx, "t-6", "44444444", "my tooth broke")
	require.NoError(t, err)
	assert.False(t, res.Done)
	require.NotNil(t, res.Pending)
	assert.Equal(t, ReasonSlotSelection, res.Pending.Reason)
	assert.Equal(t, StepSelectSlot, res.Pending.ResumeAt)
	require.Len(t, res.Pending.Slots, 3)
	assert.Equal(t, "09:00", res.Pending.Slots[0].Start.String())
	assert.Contains(t, lastMessage(res.State), "Dr. Rivera")

	chosen := res.Pending.Slots[1]
	res, err = f.engine.Resume(ctx, "t-6", rawString(t, chosen.ID))
	require.NoError(t, err)
	assert.True(t, res.Done)
	require.NotNil(t, res.State.Appointment)
	assert.Equal(t, "09:30", res.State.Appointment.Start.String())
	assert.Contains(t, lastMessage(res.State), "Appointment booked")
	assert.Contains(t, lastMessage(res.State), "Monday 19/10/2026")

	booked := f.store.Appointments()
	require.Len(t, booked, 1)
	assert.Equal(t, d.ID, booked[0].DoctorID)
	assert.Equal(t, res.State.PatientID, booked[0].PatientID)
}

func TestUrgencySelectSlotConflictRetries(t *testing.T) {
	f := newFixture(t, config.UrgencyPolicySelect)
	f.classifier.label = llm.Urgency
	f.addDoctor(t, "Dr. Rivera", true)
	ctx := context.Background()

	res, err := f.engine.Send(ctx, "t-7", "55555555", "swollen gum")
	require.NoError(t, err)
	taken := res.Pending.Slots[0]

	// someone else books the same slot first
	slot, err := appointment.ParseSlotID(taken.ID, time.UTC)
	require.NoError(t, err)
	other, err := f.svc.RegisterPatient(ctx, "99999999")
	require.NoError(t, err)
	_, err = f.svc.BookSlot(ctx, other.ID, slot, "checkup")
	require.NoError(t, err)

	res, err = f.engine.Resume(ctx, "t-7", json.RawMessage(`{"slot_id":"`+taken.ID+`"}`))
	require.NoError(t, err)
	assert.False(t, res.Done)
	require.NotNil(t, res.Pending)
	assert.Contains(t, lastMessage(res.State), "just taken")
	for _, o := range res.Pending.Slots {
		assert.NotEqual(t, taken.ID, o.ID)
	}

	res, err = f.engine.Resume(ctx, "t-7", rawString(t, "not-a-slot"))
	require.NoError(t, err)
	require.NotNil(t, res.Pending)
	assert.Contains(t, lastMessage(res.State), "isn't one of the options")

	res, err = f.engine.Resume(ctx, "t-7", rawString(t, res.Pending.Slots[0].ID))
	require.NoError(t, err)
	assert.True(t, res.Done)
	assert.Len(t, f.store.Appointments(), 2)
}

func TestUrgencyWithoutDoctorsSuspendsForOperator(t *testing.T) {
	f := newFixture(t, config.UrgencyPolicySelect)
	f.classifier.label = llm.Urgency
	d := f.addDoctor(t, "Dr. Later", false)
	ctx := context.Background()

	res, err := f.engine.Send(ctx, "t-8", "66666666", "severe pain")
	require.NoError(t, err)
	require.NotNil(t, res.Pending)
	assert.Equal(t, ReasonUrgencyNoDoctors, res.Pending.Reason)
	assert.Equal(t, "update_availability", res.Pending.RequiredAction)
	assert.Equal(t, "66666666", res.Pending.PatientKey)
	assert.Equal(t, StepCheckAvailability, res.Pending.ResumeAt)
	assert.Contains(t, res.Pending.Message, "severe pain")
	assert.True(t, res.State.AwaitingHuman)

	_, err = f.engine.Send(ctx, "t-8", "", "hello?")
	assert.ErrorIs(t, err, ErrAwaitingInput)

	// operator resumes before anyone is available
	res, err = f.engine.Resume(ctx, "t-8", json.RawMessage(`true`))
	require.NoError(t, err)
	require.NotNil(t, res.Pending)
	assert.Equal(t, 1, res.State.AvailabilityChecks)

	_, err = f.svc.SetDoctorAvailability(ctx, d.ID, true)
	require.NoError(t, err)

	res, err = f.engine.Resume(ctx, "t-8", json.RawMessage(`true`))
	require.NoError(t, err)
	require.NotNil(t, res.Pending)
	assert.Equal(t, ReasonSlotSelection, res.Pending.Reason)
	assert.Nil(t, res.State.HumanResponse)
}

func TestAvailabilityChecksAreBounded(t *testing.T) {
	f := newFixture(t, config.UrgencyPolicySelect)
	f.classifier.label = llm.Urgency
	ctx := context.Background()

	res, err := f.engine.Send(ctx, "t-9", "77777777", "abscess")
	require.NoError(t, err)
	require.NotNil(t, res.Pending)

	for i := 1; i < f.cfg.MaxAvailabilityChecks; i++ {
		res, err = f.engine.Resume(ctx, "t-9", json.RawMessage(`{}`))
		require.NoError(t, err)
		require.NotNil(t, res.Pending, "check %d", i)
	}

	res, err = f.engine.Resume(ctx, "t-9", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.True(t, res.Done)
	assert.Contains(t, lastMessage(res.State), "contact you directly")

	_, err = f.engine.Resume(ctx, "t-9", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrInvalidResumeState)
}

func TestUrgencyAutoAssignBooksNearestSlot(t *testing.T) {
	f := newFixture(t, config.UrgencyPolicyAutoAssign)
	f.classifier.label = llm.Urgency
	f.responder.reply = "A doctor will see you soon."
	d := f.addDoctor(t, "Dr. Auto", true)
	ctx := context.Background()

	res, err := f.engine.Send(ctx, "t-10", "88888888", "knocked out tooth")
	require.NoError(t, err)
	assert.True(t, res.Done)
	require.NotNil(t, res.State.AssignedDoctor)
	assert.Equal(t, d.ID, res.State.AssignedDoctor.ID)
	require.NotNil(t, res.State.Appointment)
	assert.Equal(t, "2026-10-19", res.State.Appointment.Date)
	assert.Equal(t, "09:00", res.State.Appointment.Start.String())
	assert.Equal(t, []Step{StepRegisterPatient, StepClassify, StepDentalUrgency, StepConnectDoctor, StepScheduleAppointment, StepEnd}, steps(res.State))

	joined, err := f.store.GetDoctorByID(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, joined.CurrentChatID)
	assert.Equal(t, "t-10", *joined.CurrentChatID)
	assert.False(t, joined.Available)

	require.NoError(t, f.engine.Reset(ctx, "t-10"))
	released, err := f.store.GetDoctorByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Nil(t, released.CurrentChatID)
	assert.True(t, released.Available)

	_, err = f.engine.State(ctx, "t-10")
	assert.ErrorIs(t, err, ErrUnknownThread)
}

func TestAssignedDoctorIsReleasedAfterFollowUp(t *testing.T) {
	f := newFixture(t, config.UrgencyPolicyAutoAssign)
	f.classifier.label = llm.Urgency
	d := f.addDoctor(t, "Dr. Joined", true)
	ctx := context.Background()

	_, err := f.engine.Send(ctx, "t-12", "12121212", "my tooth broke")
	require.NoError(t, err)

	f.classifier.label = llm.General
	res, err := f.engine.Send(ctx, "t-12", "", "do I need to bring anything?")
	require.NoError(t, err)
	assert.True(t, res.Done)
	require.NotNil(t, res.State.AssignedDoctor)
	assert.Equal(t, d.ID, res.State.AssignedDoctor.ID)

	require.NoError(t, f.engine.Reset(ctx, "t-12"))
	released, err := f.store.GetDoctorByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Nil(t, released.CurrentChatID)
	assert.True(t, released.Available)
}

func TestReconnectReleasesPreviousDoctor(t *testing.T) {
	f := newFixture(t, config.UrgencyPolicyAutoAssign)
	f.classifier.label = llm.Urgency
	first := f.addDoctor(t, "Dr. First", true)
	ctx := context.Background()

	res, err := f.engine.Send(ctx, "t-13", "13131313", "swollen gum")
	require.NoError(t, err)
	require.NotNil(t, res.State.AssignedDoctor)
	require.Equal(t, first.ID, res.State.AssignedDoctor.ID)

	second := f.addDoctor(t, "Dr. Second", true)
	res, err = f.engine.Send(ctx, "t-13", "", "it hurts again")
	require.NoError(t, err)
	require.NotNil(t, res.State.AssignedDoctor)
	assert.Equal(t, second.ID, res.State.AssignedDoctor.ID)

	freed, err := f.store.GetDoctorByID(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, freed.Available)
	assert.Nil(t, freed.CurrentChatID)
}

func TestAutoAssignWithoutFreeTime(t *testing.T) {
	f := newFixture(t, config.UrgencyPolicyAutoAssign)
	f.classifier.label = llm.Urgency
	f.store.AddDoctor(appointment.Doctor{Name: "Dr. NoHours", Specialty: "Orthodontics", Available: true})

	res, err := f.engine.Send(context.Background(), "t-11", "10101010", "pain")
	require.NoError(t, err)
	assert.True(t, res.Done)
	assert.Nil(t, res.State.Appointment)
	assert.Contains(t, lastMessage(res.State), "couldn't find free time")
}

func TestResumeAndSendErrors(t *testing.T) {
	f := newFixture(t, config.UrgencyPolicySelect)
	ctx := context.Background()

	_, err := f.engine.Resume(ctx, "missing", json.RawMessage(`true`))
	assert.ErrorIs(t, err, ErrUnknownThread)

	_, err = f.engine.Send(ctx, "t-12", "", "hello")
	assert.ErrorIs(t, err, ErrMissingPatientKey)

	_, err = f.engine.Send(ctx, "t-12", "12121212", "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = f.engine.Send(ctx, "t-12", "12121212", "hello")
	require.NoError(t, err)
	_, err = f.engine.Resume(ctx, "t-12", json.RawMessage(`true`))
	assert.ErrorIs(t, err, ErrInvalidResumeState)

	assert.ErrorIs(t, f.engine.Reset(ctx, "missing"), ErrUnknownThread)
}

func TestSuspendedThreadSurvivesRestart(t *testing.T) {
	f := newFixture(t, config.UrgencyPolicySelect)
	f.classifier.label = llm.Urgency
	f.addDoctor(t, "Dr. Durable", true)
	ctx := context.Background()

	res, err := f.engine.Send(ctx, "t-13", "13131313", "bleeding gums")
	require.NoError(t, err)
	offered := res.Pending.Slots[0].ID
	version := res.State.Version

	restarted := f.newEngine()
	st, err := restarted.State(ctx, "t-13")
	require.NoError(t, err)
	assert.Equal(t, version, st.Version)
	assert.Equal(t, StatusSuspended, st.Status)

	res, err = restarted.Resume(ctx, "t-13", rawString(t, offered))
	require.NoError(t, err)
	assert.True(t, res.Done)
	assert.Greater(t, res.State.Version, version)
}

func TestStepErrorsBecomeApology(t *testing.T) {
	f := newFixture(t, config.UrgencyPolicySelect)
	f.engine.scheduler = failingScheduler{Scheduler: f.svc}

	res, err := f.engine.Send(context.Background(), "t-14", "14141414", "hi")
	require.NoError(t, err)
	assert.True(t, res.Done)
	assert.Equal(t, llm.ApologyText, lastMessage(res.State))
}

type failingScheduler struct {
	Scheduler
}

func (failingScheduler) FindPatient(context.Context, string) (*appointment.Patient, error) {
	return nil, errors.New("database unavailable")
}
