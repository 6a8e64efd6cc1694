package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/dental-intake-scheduling/internal/appointment"
	"github.com/hackgods/dental-intake-scheduling/internal/config"
	"github.com/hackgods/dental-intake-scheduling/internal/db"
	"github.com/hackgods/dental-intake-scheduling/internal/logging"
	redisclient "github.com/hackgods/dental-intake-scheduling/internal/redis"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	CancelRatio  float64
	ChatRatio    float64
	PatientLimit int
	Memory       bool
}

type patientRef struct {
	ID  uuid.UUID
	Key string
}

type DataPool struct {
	Patients     []patientRef
	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Percentiles() (p50, p95, max time.Duration) {
	om.mu.Lock()
	latencies := slices.Clone(om.latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0
	}
	slices.Sort(latencies)
	at := func(pct int) time.Duration {
		return latencies[min(len(latencies)*pct/100, len(latencies)-1)]
	}
	return at(50), at(95), latencies[len(latencies)-1]
}

type Metrics struct {
	Booking    OperationMetrics
	Cancel     OperationMetrics
	Read       OperationMetrics
	Chat       OperationMetrics
	SlotSearch OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	logger  *zap.Logger
	metrics Metrics
}

func main() {
	var cfg SimConfig
	flag.StringVar(&cfg.APIBaseURL, "api", "http://localhost:8080", "api-server base URL")
	flag.DurationVar(&cfg.Duration, "duration", 30*time.Second, "how long to generate load")
	flag.IntVar(&cfg.Workers, "workers", 10, "concurrent workers")
	flag.Float64Var(&cfg.BookingRatio, "booking", 0.5, "share of booking operations")
	flag.Float64Var(&cfg.CancelRatio, "cancel", 0.1, "share of cancellations")
	flag.Float64Var(&cfg.ChatRatio, "chat", 0.2, "share of conversation messages; the rest are reads")
	flag.IntVar(&cfg.PatientLimit, "patients", 500, "patients loaded from Postgres")
	flag.BoolVar(&cfg.Memory, "memory", false, "race bookings for one slot in-process, without Postgres or the API")
	flag.Parse()

	logger := logging.Must("dev", "info").Named("simulate")
	defer func() { _ = logger.Sync() }()

	if cfg.Workers <= 0 || cfg.Duration <= 0 {
		logger.Fatal("workers and duration must be positive")
	}

	if cfg.Memory {
		if err := raceSameSlot(context.Background(), cfg.Workers, logger); err != nil {
			logger.Fatal("memory race", zap.Error(err))
		}
		return
	}

	baseCfg, err := config.Load()
	if err != nil {
		logger.Fatal("config load error", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, baseCfg.PostgresDSN)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg.PatientLimit)
	if err != nil {
		logger.Fatal("load data pool", zap.Error(err))
	}
	logger.Info("data pool loaded", zap.Int("patients", len(dataPool.Patients)))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
	sim.Run()
	sim.PrintReport()
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, limit int) (*DataPool, error) {
	rows, err := pool.Query(ctx, `SELECT id, patient_key FROM patients ORDER BY patient_key LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	patients, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (patientRef, error) {
		var p patientRef
		err := row.Scan(&p.ID, &p.Key)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan patients: %w", err)
	}
	if len(patients) == 0 {
		return nil, errors.New("no patients loaded, run cmd/seed first")
	}
	return &DataPool{Patients: patients}, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info("starting simulation", zap.Duration("duration", s.config.Duration), zap.Int("workers", s.config.Workers))

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		case r < s.config.BookingRatio+s.config.CancelRatio+s.config.ChatRatio:
			s.doChat(ctx, rng, workerID)
		default:
			s.doRead(ctx, rng)
		}
	}
}

// call issues one JSON request and decodes a 2xx body into out when out is non-nil.
func (s *Simulator) call(ctx context.Context, method, path string, body, out any) (int, time.Duration, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode/100 == 2 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, latency, err
		}
	}
	return resp.StatusCode, latency, nil
}

// doBooking picks one of the first few offered slots so workers collide on purpose.
func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	var offered struct {
		Slots []appointment.SlotOffer `json:"slots"`
	}
	status, latency, err := s.call(ctx, http.MethodGet, "/slots?limit=5", nil, &offered)
	if ctx.Err() != nil {
		return
	}
	s.metrics.SlotSearch.Record(latency, err == nil && status == http.StatusOK, false)
	if len(offered.Slots) == 0 {
		return
	}

	slot := offered.Slots[rng.Intn(len(offered.Slots))]
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	var created struct {
		ID uuid.UUID `json:"id"`
	}
	status, latency, err = s.call(ctx, http.MethodPost, "/appointments", map[string]string{
		"patient_id": patient.ID.String(),
		"slot_id":    slot.ID,
		"reason":     "Load test",
	}, &created)
	if ctx.Err() != nil {
		return
	}
	if err == nil && status == http.StatusCreated {
		s.pool.AddAppointment(created.ID)
	}
	s.metrics.Booking.Record(latency, err == nil && status == http.StatusCreated, status == http.StatusConflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	status, latency, err := s.call(ctx, http.MethodPost, "/appointments/"+id.String()+"/cancel", nil, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Cancel.Record(latency, err == nil && status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) doRead(ctx context.Context, rng *rand.Rand) {
	path := fmt.Sprintf("/patients/%s/appointments", s.pool.Patients[rng.Intn(len(s.pool.Patients))].ID)
	if id, ok := s.pool.RandomAppointment(rng); ok && rng.Intn(2) == 0 {
		path = "/appointments/" + id.String()
	}
	status, latency, err := s.call(ctx, http.MethodGet, path, nil, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Read.Record(latency, err == nil && status == http.StatusOK, false)
}

var chatMessages = []string{
	"What are your opening hours?",
	"How much does a cleaning cost?",
	"My tooth hurts a lot since yesterday",
	"My gum is swollen and bleeding",
}

// doChat sends one message on a fresh thread. Suspended threads count as successes.
func (s *Simulator) doChat(ctx context.Context, rng *rand.Rand, workerID int) {
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	thread := fmt.Sprintf("sim-%d-%s", workerID, uuid.NewString()[:8])

	status, latency, err := s.call(ctx, http.MethodPost, "/threads/"+thread+"/messages", map[string]string{
		"patient_key": patient.Key,
		"message":     chatMessages[rng.Intn(len(chatMessages))],
	}, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Chat.Record(latency, err == nil && status == http.StatusOK, status == http.StatusConflict)
	_, _, _ = s.call(ctx, http.MethodDelete, "/threads/"+thread, nil, nil)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n\n", s.config.Workers)

	printOperationReport("Slot search", &s.metrics.SlotSearch)
	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Read", &s.metrics.Read)
	printOperationReport("Chat", &s.metrics.Chat)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}
	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	p50, p95, max := om.Percentiles()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, pct(conflict))
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, pct(failed))
	}
	fmt.Printf("  Latency: p50=%s p95=%s max=%s\n\n",
		p50.Round(time.Millisecond), p95.Round(time.Millisecond), max.Round(time.Millisecond))
}

// raceSameSlot books one slot from many goroutines against the in-memory store and an
// embedded Redis, then checks that exactly one booking won.
func raceSameSlot(ctx context.Context, workers int, logger *zap.Logger) error {
	mr, err := miniredis.Run()
	if err != nil {
		return fmt.Errorf("start embedded redis: %w", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	cfg := config.Config{
		ClinicTimezone:  time.UTC,
		SlotDuration:    30 * time.Minute,
		SlotHorizonDays: 14,
		MaxSlotResults:  1,
		DayEndingHour:   16,
	}
	store := appointment.NewMemoryStore()
	svc := appointment.NewService(store, redisclient.NewRedisLocker(client, 5*time.Second, 10*time.Second), cfg, logger, nil)

	doctor := store.AddDoctor(appointment.Doctor{Name: "Dr. Load", Specialty: "General Dentistry", Available: true})
	for day := appointment.DayOfWeek(0); day <= 6; day++ {
		if _, err := svc.AddWeeklyWindow(ctx, appointment.WeeklyWindow{
			DoctorID: doctor.ID, Day: day, Start: appointment.NewTimeOfDay(9, 0), End: appointment.NewTimeOfDay(17, 0),
		}); err != nil {
			return err
		}
	}

	slot, err := svc.FindNextSlot(ctx, doctor.ID, svc.Now().AddDate(0, 0, 1), cfg.SlotDuration)
	if err != nil {
		return err
	}
	if slot == nil {
		return errors.New("no slot found")
	}

	var won, conflicts, failed int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			patient, err := svc.RegisterPatient(ctx, uuid.NewString()[:8])
			if err != nil {
				atomic.AddInt64(&failed, 1)
				return
			}
			_, err = svc.BookSlot(ctx, patient.ID, *slot, "Race")
			switch {
			case err == nil:
				atomic.AddInt64(&won, 1)
			case errors.Is(err, appointment.ErrConflict):
				atomic.AddInt64(&conflicts, 1)
			default:
				atomic.AddInt64(&failed, 1)
			}
		}()
	}
	wg.Wait()

	logger.Info("race finished",
		zap.String("slot", appointment.SlotID(*slot)),
		zap.Int64("booked", won),
		zap.Int64("conflicts", conflicts),
		zap.Int64("errors", failed),
	)
	if won != 1 {
		return fmt.Errorf("expected exactly one booking, got %d", won)
	}
	return nil
}
