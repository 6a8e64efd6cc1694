package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/dental-intake-scheduling/internal/appointment"
	"github.com/hackgods/dental-intake-scheduling/internal/config"
	"github.com/hackgods/dental-intake-scheduling/internal/conversation"
	"github.com/hackgods/dental-intake-scheduling/internal/llm"
	"github.com/hackgods/dental-intake-scheduling/internal/metrics"
	redisclient "github.com/hackgods/dental-intake-scheduling/internal/redis"
)

const testSecret = "operator-secret"

// Monday 2026-10-19, 08:00 UTC.
var mondayMorning = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

type fixedClassifier llm.Classification

func (c fixedClassifier) Classify(context.Context, string) (llm.Classification, error) {
	return llm.Classification(c), nil
}

type echoResponder struct{}

func (echoResponder) Respond(_ context.Context, _ llm.Classification, message string, _ llm.ResponseContext) (string, error) {
	return "You said: " + message, nil
}

type testServer struct {
	handler http.Handler
	store   *appointment.MemoryStore
	mr      *miniredis.Miniredis
	doctor  appointment.Doctor
	patient *appointment.Patient
}

func newTestServer(t *testing.T, label llm.Classification) *testServer {
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
		UrgencyPolicy:         config.UrgencyPolicySelect,
		MaxAvailabilityChecks: 3,
		AdapterTimeout:        time.Second,
		CheckpointTTL:         time.Hour,
		OperatorJWTSecret:     testSecret,
	}

	reg := prometheus.NewRegistry()
	store := appointment.NewMemoryStore()
	svc := appointment.NewService(store, redisclient.NewRedisLocker(client, 5*time.Second, 5*time.Second), cfg, zap.NewNop(), metrics.NewSchedulingMetrics(reg)).
		WithClock(func() time.Time { return mondayMorning })

	engine := conversation.NewEngine(conversation.Dependencies{
		Scheduler:   svc,
		Classifier:  fixedClassifier(label),
		Responder:   echoResponder{},
		Checkpoints: conversation.NewRedisCheckpoints(client, cfg.CheckpointTTL),
		Locker:      redisclient.NewRedisLocker(client, 10*time.Second, 5*time.Second),
	}, cfg, zap.NewNop(), metrics.NewConversationMetrics(reg))

	doctor := store.AddDoctor(appointment.Doctor{Name: "Dr. Rivera", Specialty: "Endodontics", Available: true})
	for day := appointment.DayOfWeek(0); day < 5; day++ {
		_, err := store.AddWeeklyWindow(context.Background(), appointment.WeeklyWindow{
			DoctorID: doctor.ID, Day: day, Start: appointment.NewTimeOfDay(9, 0), End: appointment.NewTimeOfDay(17, 0),
		})
		require.NoError(t, err)
	}
	patient, err := store.CreatePatient(context.Background(), appointment.Patient{Key: "12345678", Name: "Ana"})
	require.NoError(t, err)

	return &testServer{
		handler: NewRouter(RouterConfig{
			Service:  svc,
			Engine:   engine,
			Config:   cfg,
			Redis:    client,
			Gatherer: reg,
			Env:      "test",
			Version:  "v-test",
		}),
		store:   store,
		mr:      mr,
		doctor:  doctor,
		patient: patient,
	}
}

func operatorToken(t *testing.T, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "front-desk",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func (s *testServer) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t, llm.General)

	live := s.do(t, http.MethodGet, "/health/live", nil, "")
	assert.Equal(t, http.StatusOK, live.Code)
	assert.NotEmpty(t, live.Header().Get("X-Request-ID"))

	ready := s.do(t, http.MethodGet, "/health/ready", nil, "")
	require.Equal(t, http.StatusOK, ready.Code)
	body := decode[ReadinessResponse](t, ready)
	assert.Equal(t, "ok", body.Dependencies["redis"])
	assert.Equal(t, "skipped", body.Dependencies["postgres"])

	s.mr.Close()
	down := s.do(t, http.MethodGet, "/health/ready", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, down.Code)
	assert.Equal(t, "down", decode[ReadinessResponse](t, down).Dependencies["redis"])
}

func TestMetricsEndpointExposesBookingCounters(t *testing.T) {
	s := newTestServer(t, llm.General)

	rec := s.do(t, http.MethodPost, "/appointments", CreateAppointmentRequest{
		PatientID: s.patient.ID.String(), DoctorID: s.doctor.ID.String(), Date: "2026-10-19", Start: "10:00", End: "10:30",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	m := s.do(t, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, m.Code)
	assert.Contains(t, m.Body.String(), "dental_booking_attempts_total")
}

func TestAppointmentLifecycle(t *testing.T) {
	s := newTestServer(t, llm.General)
	req := CreateAppointmentRequest{
		PatientID: s.patient.ID.String(),
		DoctorID:  s.doctor.ID.String(),
		Date:      "2026-10-19",
		Start:     "10:00",
		End:       "10:30",
		Reason:    "Cleaning",
	}

	created := s.do(t, http.MethodPost, "/appointments", req, "")
	require.Equal(t, http.StatusCreated, created.Code)
	appt := decode[AppointmentResponse](t, created)
	assert.Equal(t, "scheduled", appt.Status)
	assert.Equal(t, "2026-10-19", appt.Date)

	conflict := s.do(t, http.MethodPost, "/appointments", req, "")
	assert.Equal(t, http.StatusConflict, conflict.Code)
	assert.Equal(t, "slot_taken", decode[ErrorResponse](t, conflict).Error)

	outside := req
	outside.Start, outside.End = "18:00", "18:30"
	rec := s.do(t, http.MethodPost, "/appointments", outside, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	badPatient := req
	badPatient.PatientID = "nope"
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/appointments", badPatient, "").Code)

	unknownPatient := req
	unknownPatient.PatientID = uuid.NewString()
	unknownPatient.Start, unknownPatient.End = "11:00", "11:30"
	rec = s.do(t, http.MethodPost, "/appointments", unknownPatient, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "patient_not_found", decode[ErrorResponse](t, rec).Error)

	got := s.do(t, http.MethodGet, "/appointments/"+appt.ID.String(), nil, "")
	assert.Equal(t, http.StatusOK, got.Code)

	list := s.do(t, http.MethodGet, "/patients/"+s.patient.ID.String()+"/appointments", nil, "")
	require.Equal(t, http.StatusOK, list.Code)
	assert.Len(t, decode[[]AppointmentResponse](t, list), 1)

	cancelled := s.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/cancel", nil, "")
	require.Equal(t, http.StatusOK, cancelled.Code)
	assert.Equal(t, "cancelled", decode[AppointmentResponse](t, cancelled).Status)

	again := s.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/cancel", nil, "")
	assert.Equal(t, http.StatusConflict, again.Code)

	rebooked := s.do(t, http.MethodPost, "/appointments", req, "")
	assert.Equal(t, http.StatusCreated, rebooked.Code)

	missing := s.do(t, http.MethodGet, "/appointments/"+s.doctor.ID.String(), nil, "")
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestSlotsAndNextSlot(t *testing.T) {
	s := newTestServer(t, llm.General)

	rec := s.do(t, http.MethodGet, "/slots?limit=2", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	slots := decode[SlotsResponse](t, rec).Slots
	require.Len(t, slots, 2)
	assert.Equal(t, "09:00", slots[0].Start.String())
	assert.Equal(t, "09:30", slots[1].Start.String())

	booked := s.do(t, http.MethodPost, "/appointments", CreateAppointmentRequest{
		PatientID: s.patient.ID.String(), SlotID: slots[0].ID,
	}, "")
	require.Equal(t, http.StatusCreated, booked.Code)

	next := s.do(t, http.MethodGet, "/doctors/"+s.doctor.ID.String()+"/next-slot?duration=30", nil, "")
	require.Equal(t, http.StatusOK, next.Code)
	slot := decode[NextSlotResponse](t, next).Slot
	require.NotNil(t, slot)
	assert.Equal(t, "09:30", slot.Start.String())
	assert.Equal(t, "10:00", slot.End.String())

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/slots?limit=zero", nil, "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/appointments", CreateAppointmentRequest{
		PatientID: s.patient.ID.String(), SlotID: "garbage",
	}, "").Code)
}

func TestThreadUrgencySlotSelection(t *testing.T) {
	s := newTestServer(t, llm.Urgency)

	sent := s.do(t, http.MethodPost, "/threads/t-1/messages", SendMessageRequest{PatientKey: "12345678", Message: "My tooth hurts"}, "")
	require.Equal(t, http.StatusOK, sent.Code)
	res := decode[conversation.Result](t, sent)
	require.NotNil(t, res.Pending)
	assert.Equal(t, conversation.ReasonSlotSelection, res.Pending.Reason)
	require.NotEmpty(t, res.Pending.Slots)

	busy := s.do(t, http.MethodPost, "/threads/t-1/messages", SendMessageRequest{PatientKey: "12345678", Message: "hello?"}, "")
	assert.Equal(t, http.StatusConflict, busy.Code)
	assert.Equal(t, "awaiting_input", decode[ErrorResponse](t, busy).Error)

	choice := ResumeRequest{Value: json.RawMessage(`{"slot_id":"` + res.Pending.Slots[0].ID + `"}`)}
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodPost, "/threads/t-1/resume", choice, "").Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodPost, "/threads/t-1/resume", choice, operatorToken(t, "wrong")).Code)

	resumed := s.do(t, http.MethodPost, "/threads/t-1/resume", choice, operatorToken(t, testSecret))
	require.Equal(t, http.StatusOK, resumed.Code)
	done := decode[conversation.Result](t, resumed)
	assert.True(t, done.Done)
	require.NotNil(t, done.State.Appointment)
	assert.Len(t, s.store.Appointments(), 1)

	notWaiting := s.do(t, http.MethodPost, "/threads/t-1/resume", choice, operatorToken(t, testSecret))
	assert.Equal(t, http.StatusConflict, notWaiting.Code)

	got := s.do(t, http.MethodGet, "/threads/t-1", nil, "")
	require.Equal(t, http.StatusOK, got.Code)
	assert.Equal(t, conversation.StatusDone, decode[conversation.State](t, got).Status)

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/threads/t-1", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/threads/t-1", nil, "").Code)
}

func TestThreadValidation(t *testing.T) {
	s := newTestServer(t, llm.General)

	noKey := s.do(t, http.MethodPost, "/threads/t-2/messages", SendMessageRequest{Message: "hi"}, "")
	assert.Equal(t, http.StatusBadRequest, noKey.Code)
	assert.Equal(t, "missing_patient_key", decode[ErrorResponse](t, noKey).Error)

	empty := s.do(t, http.MethodPost, "/threads/t-2/messages", SendMessageRequest{PatientKey: "12345678", Message: "  "}, "")
	assert.Equal(t, http.StatusBadRequest, empty.Code)

	unknown := s.do(t, http.MethodPost, "/threads/ghost/resume", ResumeRequest{Value: json.RawMessage(`"x"`)}, operatorToken(t, testSecret))
	assert.Equal(t, http.StatusNotFound, unknown.Code)

	ok := s.do(t, http.MethodPost, "/threads/t-2/messages", SendMessageRequest{PatientKey: "12345678", Message: "Do you open on Saturday?"}, "")
	require.Equal(t, http.StatusOK, ok.Code)
	res := decode[conversation.Result](t, ok)
	assert.True(t, res.Done)
	assert.Equal(t, "You said: Do you open on Saturday?", res.State.Messages[len(res.State.Messages)-1].Content)
}

func TestAdminRoutesRequireOperatorToken(t *testing.T) {
	s := newTestServer(t, llm.General)
	token := operatorToken(t, testSecret)
	base := "/admin/doctors/" + s.doctor.ID.String()

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/admin/doctors", nil, "").Code)

	list := s.do(t, http.MethodGet, "/admin/doctors", nil, token)
	require.Equal(t, http.StatusOK, list.Code)
	assert.Len(t, decode[[]DoctorResponse](t, list), 1)

	off := false
	updated := s.do(t, http.MethodPut, base+"/availability", AvailabilityRequest{Available: &off}, token)
	require.Equal(t, http.StatusOK, updated.Code)
	assert.False(t, decode[DoctorResponse](t, updated).Available)

	slots := s.do(t, http.MethodGet, "/slots", nil, "")
	assert.Empty(t, decode[SlotsResponse](t, slots).Slots)

	released := s.do(t, http.MethodPost, base+"/release", nil, token)
	require.Equal(t, http.StatusOK, released.Code)
	assert.True(t, decode[DoctorResponse](t, released).Available)

	saturday := 5
	added := s.do(t, http.MethodPost, base+"/schedule", WeeklyWindowRequest{DayOfWeek: &saturday, Start: "09:00", End: "12:00"}, token)
	require.Equal(t, http.StatusCreated, added.Code)
	assert.Equal(t, "Saturday", decode[WeeklyWindowResponse](t, added).Weekday)

	overlap := s.do(t, http.MethodPost, base+"/schedule", WeeklyWindowRequest{DayOfWeek: &saturday, Start: "11:00", End: "13:00"}, token)
	assert.Equal(t, http.StatusConflict, overlap.Code)

	inverted := s.do(t, http.MethodPost, base+"/schedule", WeeklyWindowRequest{DayOfWeek: &saturday, Start: "15:00", End: "14:00"}, token)
	assert.Equal(t, http.StatusBadRequest, inverted.Code)

	schedule := s.do(t, http.MethodGet, base+"/schedule", nil, token)
	require.Equal(t, http.StatusOK, schedule.Code)
	assert.Len(t, decode[[]WeeklyWindowResponse](t, schedule), 6)

	unknown := s.do(t, http.MethodPut, "/admin/doctors/"+s.patient.ID.String()+"/availability", AvailabilityRequest{Available: &off}, token)
	assert.Equal(t, http.StatusNotFound, unknown.Code)
}
