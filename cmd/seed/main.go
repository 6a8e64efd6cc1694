package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/hackgods/dental-intake-scheduling/internal/appointment"
	"github.com/hackgods/dental-intake-scheduling/internal/config"
	"github.com/hackgods/dental-intake-scheduling/internal/db"
	"github.com/hackgods/dental-intake-scheduling/internal/logging"
)

var specialties = []string{
	"General Dentistry",
	"Endodontics",
	"Orthodontics",
	"Periodontics",
	"Oral Surgery",
	"Pediatric Dentistry",
	"Prosthodontics",
}

var treatments = []struct{ diagnosis, treatment string }{
	{"Dental caries", "Composite filling"},
	{"Gingivitis", "Scaling and root planing"},
	{"Pulpitis", "Root canal treatment"},
	{"Impacted third molar", "Surgical extraction"},
	{"Malocclusion", "Orthodontic brackets"},
	{"Tooth sensitivity", "Fluoride varnish"},
	{"Cracked tooth", "Porcelain crown"},
}

func main() {
	doctors := flag.Int("doctors", 8, "number of doctors to create")
	patients := flag.Int("patients", 200, "number of patients to create")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := logging.Must(cfg.Env, cfg.LogLevel).Named("seed")
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := seedDoctors(context.Background(), pool, *doctors, logger); err != nil {
		logger.Fatal("seed doctors", zap.Error(err))
	}
	if err := seedDemoPatients(context.Background(), pool, logger); err != nil {
		logger.Fatal("seed demo patients", zap.Error(err))
	}
	if err := seedPatients(context.Background(), pool, *patients, logger); err != nil {
		logger.Fatal("seed patients", zap.Error(err))
	}

	logger.Info("seed complete")
}

// seedDoctors creates doctors working Monday to Friday 09:00-17:00. Every other doctor starts available.
func seedDoctors(ctx context.Context, pool db.TxBeginner, count int, logger *zap.Logger) error {
	logger.Info("seeding doctors", zap.Int("count", count))

	start, end := appointment.NewTimeOfDay(9, 0), appointment.NewTimeOfDay(17, 0)

	return db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		for i := 0; i < count; i++ {
			id := uuid.New()
			_, err := tx.Exec(ctx, `
				INSERT INTO doctors (id, name, specialty, phone, is_available, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, now(), now())
			`, id, "Dr. "+gofakeit.Name(), specialties[i%len(specialties)], gofakeit.Phone(), i%2 == 0)
			if err != nil {
				return fmt.Errorf("insert doctor: %w", err)
			}

			for day := appointment.DayOfWeek(0); day < 5; day++ {
				_, err := tx.Exec(ctx, `
					INSERT INTO doctor_schedules (id, doctor_id, day_of_week, start_time, end_time)
					VALUES ($1, $2, $3, $4::time, $5::time)
				`, uuid.New(), id, int(day), start.String(), end.String())
				if err != nil {
					return fmt.Errorf("insert schedule: %w", err)
				}
			}
		}
		return nil
	})
}

// seedDemoPatients creates two patients with fixed keys and a known history for manual testing.
func seedDemoPatients(ctx context.Context, pool db.TxBeginner, logger *zap.Logger) error {
	demo := []struct {
		key, name string
		history   []int
	}{
		{"12345678", "Maria Quispe", []int{0, 2}},
		{"87654321", "Jorge Huaman", []int{1}},
	}

	err := db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		for _, p := range demo {
			var id uuid.UUID
			err := tx.QueryRow(ctx, `
				INSERT INTO patients (id, patient_key, name, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
				ON CONFLICT (patient_key) DO UPDATE SET name = EXCLUDED.name, updated_at = now()
				RETURNING id
			`, uuid.New(), p.key, p.name).Scan(&id)
			if err != nil {
				return fmt.Errorf("upsert demo patient: %w", err)
			}

			if _, err := tx.Exec(ctx, `DELETE FROM medical_history WHERE patient_id = $1`, id); err != nil {
				return fmt.Errorf("reset demo history: %w", err)
			}
			for i, idx := range p.history {
				t := treatments[idx]
				_, err := tx.Exec(ctx, `
					INSERT INTO medical_history (id, patient_id, recorded_at, diagnosis, treatment)
					VALUES ($1, $2, $3, $4, $5)
				`, uuid.New(), id, time.Now().AddDate(0, -6*(i+1), 0), t.diagnosis, t.treatment)
				if err != nil {
					return fmt.Errorf("insert demo history: %w", err)
				}
			}
		}
		return nil
	})
	if err == nil {
		logger.Info("demo patients seeded", zap.Int("count", len(demo)))
	}
	return err
}

func seedPatients(ctx context.Context, pool db.TxBeginner, count int, logger *zap.Logger) error {
	logger.Info("seeding patients", zap.Int("count", count))

	const batchSize = 100

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		err := db.WithTx(ctx, pool, func(tx pgx.Tx) error {
			for i := offset; i < end; i++ {
				id := uuid.New()
				key := fmt.Sprintf("%08d", 10000000+i)

				_, err := tx.Exec(ctx, `
					INSERT INTO patients (id, patient_key, name, phone, email, created_at, updated_at)
					VALUES ($1, $2, $3, $4, $5, now(), now())
					ON CONFLICT (patient_key) DO NOTHING
				`, id, key, gofakeit.Name(), gofakeit.Phone(), gofakeit.Email())
				if err != nil {
					return fmt.Errorf("insert patient: %w", err)
				}

				for r := gofakeit.Number(0, 3); r > 0; r-- {
					t := treatments[gofakeit.Number(0, len(treatments)-1)]
					recorded := time.Now().AddDate(0, -gofakeit.Number(1, 36), 0)
					_, err := tx.Exec(ctx, `
						INSERT INTO medical_history (id, patient_id, recorded_at, diagnosis, treatment)
						SELECT $1, id, $3, $4, $5 FROM patients WHERE patient_key = $2
					`, uuid.New(), key, recorded, t.diagnosis, t.treatment)
					if err != nil {
						return fmt.Errorf("insert medical history: %w", err)
					}
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		logger.Info("patients seeded", zap.Int("done", end), zap.Int("total", count))
	}

	return nil
}
