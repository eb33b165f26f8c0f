package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/clinic-queue-scheduling/internal/api"
	"github.com/hackgods/clinic-queue-scheduling/internal/app"
	"github.com/hackgods/clinic-queue-scheduling/internal/config"
	"github.com/hackgods/clinic-queue-scheduling/internal/db"
	"github.com/hackgods/clinic-queue-scheduling/internal/queue"
)

type SimConfig struct {
	APIBaseURL     string
	Tenant         string
	Date           string
	Duration       time.Duration
	Workers        int
	EnqueueRatio   float64
	ReorderRatio   float64
	EmergencyRatio float64
	ReadRatio      float64
	DoctorLimit    int
	PostgresDSN    string
}

type doctor struct {
	ID         string
	LocationID string
}

// DataPool holds the doctors under load and the appointments the simulator
// managed to queue for each of them.
type DataPool struct {
	Doctors []doctor

	mu           sync.RWMutex
	appointments map[string][]string
}

func (dp *DataPool) AddAppointment(doctorID, id string) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments[doctorID] = append(dp.appointments[doctorID], id)
}

func (dp *DataPool) RandomAppointment(f *gofakeit.Faker) (string, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return "", false
	}
	doc := dp.Doctors[f.Number(0, len(dp.Doctors)-1)]
	ids := dp.appointments[doc.ID]
	if len(ids) == 0 {
		return "", false
	}
	return ids[f.Number(0, len(ids)-1)], true
}

func (dp *DataPool) TouchedDoctors() []string {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	out := make([]string, 0, len(dp.appointments))
	for id := range dp.appointments {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[min2(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min2(len(latencies)*95/100, len(latencies)-1)]
	return avg, min, max, p50, p95
}

type Metrics struct {
	Enqueue   OperationMetrics
	Reorder   OperationMetrics
	Emergency OperationMetrics
	GetQueue  OperationMetrics
	Locate    OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	logger  zerolog.Logger
}

func main() {
	cfg, baseCfg := loadConfig()
	logger := app.NewLogger(baseCfg.Env, "simulate")
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Str("date", cfg.Date).
		Float64("enqueue", cfg.EnqueueRatio).
		Float64("reorder", cfg.ReorderRatio).
		Float64("emergency", cfg.EmergencyRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, "simulate")
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	logger.Info().Int("doctors", len(dataPool.Doctors)).Msg("data pool loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	sim.Run()
	sim.PrintReport()

	verifyCtx, cancelVerify := context.WithTimeout(context.Background(), time.Minute)
	defer cancelVerify()
	if violations := sim.Verify(verifyCtx); violations > 0 {
		logger.Error().Int("violations", violations).Msg("queue invariants violated")
		os.Exit(1)
	}
	logger.Info().Msg("queue invariants hold")
}

func loadConfig() (SimConfig, config.Config) {
	baseCfg, err := config.Load()
	if err != nil {
		bootLogger := app.NewLogger("", "simulate")
		bootLogger.Fatal().Err(err).Msg("failed to load base config")
	}

	cfg := SimConfig{
		APIBaseURL:     getEnv("SIM_API_BASE_URL", "http://localhost:"+baseCfg.HTTPPort),
		Tenant:         getEnv("SIM_TENANT", baseCfg.DefaultTenant),
		Date:           getEnv("SIM_DATE", time.Now().UTC().Format(queue.DateLayout)),
		Duration:       getDuration("SIM_DURATION", 30*time.Second),
		Workers:        getInt("SIM_WORKERS", 10),
		EnqueueRatio:   getFloat("SIM_ENQUEUE_RATIO", 0.5),
		ReorderRatio:   getFloat("SIM_REORDER_RATIO", 0.1),
		EmergencyRatio: getFloat("SIM_EMERGENCY_RATIO", 0.05),
		ReadRatio:      getFloat("SIM_READ_RATIO", 0.35),
		DoctorLimit:    getInt("SIM_DOCTOR_LIMIT", 20),
		PostgresDSN:    baseCfg.PostgresDSN,
	}

	// Normalize ratios
	total := cfg.EnqueueRatio + cfg.ReorderRatio + cfg.EmergencyRatio + cfg.ReadRatio
	if total > 0 {
		cfg.EnqueueRatio /= total
		cfg.ReorderRatio /= total
		cfg.EmergencyRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg, baseCfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if _, err := time.Parse(queue.DateLayout, cfg.Date); err != nil {
		return fmt.Errorf("SIM_DATE must be %s: %w", queue.DateLayout, err)
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{appointments: make(map[string][]string)}

	rows, err := pool.Query(ctx, `
		SELECT id, COALESCE(primary_location_id, '')
		FROM doctors
		WHERE tenant_id = $1
		LIMIT $2
	`, cfg.Tenant, cfg.DoctorLimit)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d doctor
		if err := rows.Scan(&d.ID, &d.LocationID); err != nil {
			return nil, err
		}
		dataPool.Doctors = append(dataPool.Doctors, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(dataPool.Doctors) == 0 {
		return nil, fmt.Errorf("no doctors for tenant %q, run the seed first", cfg.Tenant)
	}
	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info().Msg("starting simulation")

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.config.Workers; i++ {
		g.Go(func() error {
			s.worker(gctx, gofakeit.New(uint64(time.Now().UnixNano())+uint64(i)))
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, f *gofakeit.Faker) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r := f.Float64()
		switch {
		case r < s.config.EnqueueRatio:
			s.doEnqueue(ctx, f)
		case r < s.config.EnqueueRatio+s.config.ReorderRatio:
			s.doReorder(ctx, f)
		case r < s.config.EnqueueRatio+s.config.ReorderRatio+s.config.EmergencyRatio:
			s.doEmergency(ctx, f)
		default:
			if f.Bool() {
				s.doGetQueue(ctx, f)
			} else {
				s.doLocate(ctx, f)
			}
		}
	}
}

func (s *Simulator) queueURL(doctorID string) string {
	return fmt.Sprintf("%s/queues/%s/%s", s.config.APIBaseURL, doctorID, s.config.Date)
}

func (s *Simulator) do(ctx context.Context, method, url string, body any) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.TenantHeader, s.config.Tenant)
	return s.client.Do(req)
}

func (s *Simulator) doEnqueue(ctx context.Context, f *gofakeit.Faker) {
	doc := s.pool.Doctors[f.Number(0, len(s.pool.Doctors)-1)]
	appointmentID := f.UUID()

	start := time.Now()
	resp, err := s.do(ctx, http.MethodPost, s.queueURL(doc.ID)+"/entries", api.EnqueueRequest{
		AppointmentID: appointmentID,
		PatientID:     f.UUID(),
		LocationID:    doc.LocationID,
	})
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusCreated:
			success = true
			s.pool.AddAppointment(doc.ID, appointmentID)
		case http.StatusConflict:
			conflict = true
		}
	}
	s.metrics.Enqueue.Record(latency, success, conflict)
}

// doReorder reads a queue and writes back a shuffled order. Concurrent writers
// make some of these stale, which the server rejects.
func (s *Simulator) doReorder(ctx context.Context, f *gofakeit.Faker) {
	doc := s.pool.Doctors[f.Number(0, len(s.pool.Doctors)-1)]

	start := time.Now()
	entries, err := s.fetchQueue(ctx, doc.ID)
	if err != nil || len(entries) < 2 {
		return
	}
	order := make([]string, len(entries))
	for i, e := range entries {
		order[i] = e.AppointmentID
	}
	f.ShuffleStrings(order)

	resp, err := s.do(ctx, http.MethodPut, s.queueURL(doc.ID)+"/order", api.ReorderRequest{Order: order})
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
		conflict = resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusConflict
	}
	s.metrics.Reorder.Record(latency, success, conflict)
}

func (s *Simulator) doEmergency(ctx context.Context, f *gofakeit.Faker) {
	id, ok := s.pool.RandomAppointment(f)
	if !ok {
		return
	}

	start := time.Now()
	resp, err := s.do(ctx, http.MethodPost,
		fmt.Sprintf("%s/appointments/%s/emergency", s.config.APIBaseURL, id),
		api.EmergencyRequest{Priority: f.Number(1, 10)})
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
		conflict = resp.StatusCode == http.StatusConflict
	}
	s.metrics.Emergency.Record(latency, success, conflict)
}

func (s *Simulator) doGetQueue(ctx context.Context, f *gofakeit.Faker) {
	doc := s.pool.Doctors[f.Number(0, len(s.pool.Doctors)-1)]

	start := time.Now()
	_, err := s.fetchQueue(ctx, doc.ID)
	s.metrics.GetQueue.Record(time.Since(start), err == nil, false)
}

func (s *Simulator) doLocate(ctx context.Context, f *gofakeit.Faker) {
	id, ok := s.pool.RandomAppointment(f)
	if !ok {
		return
	}

	start := time.Now()
	resp, err := s.do(ctx, http.MethodGet, fmt.Sprintf("%s/appointments/%s/position", s.config.APIBaseURL, id), nil)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}
	s.metrics.Locate.Record(latency, success, false)
}

func (s *Simulator) fetchQueue(ctx context.Context, doctorID string) ([]queue.Entry, error) {
	resp, err := s.do(ctx, http.MethodGet, s.queueURL(doctorID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get queue %s: status %d", doctorID, resp.StatusCode)
	}
	var out api.QueueResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode queue %s: %w", doctorID, err)
	}
	return out.Entries, nil
}

// Verify re-reads every queue the simulation touched and counts broken
// invariants: positions must run 1..N and no appointment may appear twice,
// neither inside one queue nor across queues.
func (s *Simulator) Verify(ctx context.Context) int {
	violations := 0
	owner := make(map[string]string)

	for _, doctorID := range s.pool.TouchedDoctors() {
		entries, err := s.fetchQueue(ctx, doctorID)
		if err != nil {
			s.logger.Error().Err(err).Str("doctor_id", doctorID).Msg("verify read failed")
			violations++
			continue
		}
		for i, e := range entries {
			if e.Position != i+1 {
				s.logger.Error().Str("doctor_id", doctorID).Str("appointment_id", e.AppointmentID).
					Int("position", e.Position).Int("expected", i+1).Msg("position gap")
				violations++
			}
			if prev, dup := owner[e.AppointmentID]; dup {
				s.logger.Error().Str("appointment_id", e.AppointmentID).
					Str("doctor_id", doctorID).Str("also_in", prev).Msg("duplicate appointment")
				violations++
			}
			owner[e.AppointmentID] = doctorID
		}
	}
	return violations
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Queue date: %s\n", s.config.Date)
	fmt.Println()

	printOperationReport("Enqueue", &s.metrics.Enqueue)
	printOperationReport("Reorder", &s.metrics.Reorder)
	printOperationReport("Emergency", &s.metrics.Emergency)
	printOperationReport("Get queue", &s.metrics.GetQueue)
	printOperationReport("Locate", &s.metrics.Locate)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func min2(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
