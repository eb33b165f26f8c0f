package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-queue-scheduling/internal/app"
	"github.com/hackgods/clinic-queue-scheduling/internal/config"
	"github.com/hackgods/clinic-queue-scheduling/internal/db"
	"github.com/hackgods/clinic-queue-scheduling/internal/queue"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := app.NewLogger("", "seed")
		bootLogger.Fatal().Err(err).Msg("config load error")
	}
	logger := app.NewLogger(cfg.Env, "seed")

	tenant := getEnv("SEED_TENANT", cfg.DefaultTenant)
	doctors := getInt("SEED_DOCTORS", 40)
	locations := getInt("SEED_LOCATIONS", 5)
	days := getInt("SEED_DAYS", 7)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, "seed")
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("ensure schema")
	}

	gofakeit.Seed(time.Now().UnixNano())

	locIDs := make([]string, locations)
	for i := range locIDs {
		locIDs[i] = fmt.Sprintf("loc-%d", i+1)
	}

	if err := seedWorkingHours(ctx, pool, tenant, locIDs, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed working hours")
	}
	doctorIDs, err := seedDoctors(ctx, pool, tenant, locIDs, doctors, cfg.DefaultMaxAppointmentsPerDay, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed doctors")
	}
	if err := seedAppointments(ctx, pool, tenant, doctorIDs, days, cfg.DefaultMaxAppointmentsPerDay, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed appointments")
	}

	logger.Info().Str("tenant", tenant).Msg("seed complete")
}

// seedWorkingHours opens every location Monday to Friday with a random
// morning start and a nine hour day.
func seedWorkingHours(ctx context.Context, pool *pgxpool.Pool, tenant string, locations []string, logger zerolog.Logger) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, loc := range locations {
		opens := gofakeit.Number(7, 9)
		for wd := time.Monday; wd <= time.Friday; wd++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO working_hours (tenant_id, location_id, weekday, opens_at, closes_at)
				VALUES ($1, $2, $3, make_time($4, 0, 0), make_time($5, 0, 0))
				ON CONFLICT (tenant_id, location_id, weekday) DO UPDATE
				SET opens_at = EXCLUDED.opens_at, closes_at = EXCLUDED.closes_at
			`, tenant, loc, int(wd), opens, opens+9)
			if err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	logger.Info().Int("locations", len(locations)).Msg("working hours seeded")
	return nil
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, tenant string, locations []string, count, defaultMax int, logger zerolog.Logger) ([]string, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.NewString()
		name := "Dr. " + gofakeit.Name()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]
		loc := locations[gofakeit.Number(0, len(locations)-1)]

		// roughly a third of doctors keep the clinic default limit
		var maxPerDay *int
		if gofakeit.Number(0, 2) > 0 {
			n := gofakeit.Number(defaultMax/2, defaultMax+10)
			maxPerDay = &n
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (tenant_id, id, name, specialty, primary_location_id, max_appointments_per_day)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, tenant, id, name, spec, loc, maxPerDay)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	logger.Info().Int("doctors", len(ids)).Msg("doctors seeded")
	return ids, nil
}

// seedAppointments books each doctor for the next days, sometimes up to the
// daily limit so the availability check has full days to reject.
func seedAppointments(ctx context.Context, pool *pgxpool.Pool, tenant string, doctors []string, days, defaultMax int, logger zerolog.Logger) error {
	statuses := []string{"booked", "booked", "booked", "confirmed", "cancelled", "completed"}
	today := time.Now().UTC().Truncate(24 * time.Hour)
	total := 0

	for _, doc := range doctors {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		for d := 0; d < days; d++ {
			day := today.AddDate(0, 0, d)
			n := gofakeit.Number(0, defaultMax)
			for i := 0; i < n; i++ {
				_, err := tx.Exec(ctx, `
					INSERT INTO appointments (tenant_id, id, doctor_id, patient_id, scheduled_for, status)
					VALUES ($1, $2, $3, $4, $5::date, $6)
				`, tenant, uuid.NewString(), doc, uuid.NewString(), day.Format(queue.DateLayout), statuses[gofakeit.Number(0, len(statuses)-1)])
				if err != nil {
					_ = tx.Rollback(ctx)
					return err
				}
				total++
			}
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
	}

	logger.Info().Int("appointments", total).Int("days", days).Msg("appointments seeded")
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
