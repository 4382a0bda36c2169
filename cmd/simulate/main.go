package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/caremesh/hospital-booking/internal/config"
	"github.com/caremesh/hospital-booking/internal/db"
	"github.com/caremesh/hospital-booking/internal/scheduling"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	Patients     int
	Hospitals    int
	Days         int
	BookingRatio float64
	CancelRatio  float64
	ReadRatio    float64
	PostgresDSN  string
}

type actor struct {
	ID    uuid.UUID
	Token string
}

// DataPool holds the simulated accounts plus a thread-safe list of
// appointments created during the run, so cancel and read operations have
// something to target.
type DataPool struct {
	Patients  []actor
	Hospitals []actor

	mu           sync.RWMutex
	appointments []appointmentRef
}

type appointmentRef struct {
	ID      uuid.UUID
	Patient actor
}

func (dp *DataPool) AddAppointment(id uuid.UUID, patient actor) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, appointmentRef{ID: id, Patient: patient})
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (appointmentRef, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return appointmentRef{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Rejected  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success, rejected bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if rejected {
		atomic.AddInt64(&om.Rejected, 1)
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

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]

	p50Idx := len(latencies) * 50 / 100
	if p50Idx >= len(latencies) {
		p50Idx = len(latencies) - 1
	}
	p50 = latencies[p50Idx]

	p95Idx := len(latencies) * 95 / 100
	if p95Idx >= len(latencies) {
		p95Idx = len(latencies) - 1
	}
	p95 = latencies[p95Idx]

	return avg, min, max, p50, p95
}

type Metrics struct {
	Booking OperationMetrics
	Cancel  OperationMetrics
	List    OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d patients=%d hospitals=%d booking=%.2f cancel=%.2f read=%.2f",
		cfg.Duration, cfg.Workers, cfg.Patients, cfg.Hospitals,
		cfg.BookingRatio, cfg.CancelRatio, cfg.ReadRatio)

	sim := &Simulator{
		config: cfg,
		pool:   &DataPool{},
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	setupCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := sim.registerActors(setupCtx); err != nil {
		log.Fatalf("register actors: %v", err)
	}
	log.Printf("registered: %d patients, %d hospitals", len(sim.pool.Patients), len(sim.pool.Hospitals))

	sim.Run()
	sim.PrintReport()

	if err := verifyOccupancy(context.Background(), cfg.PostgresDSN); err != nil {
		log.Fatalf("occupancy check FAILED: %v", err)
	}
	log.Println("occupancy check passed: slot counts match active appointments")
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		Patients:     getInt("SIM_PATIENTS", 50),
		Hospitals:    getInt("SIM_HOSPITALS", 5),
		Days:         getInt("SIM_DAYS", 3),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.6),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.2),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.2),
		PostgresDSN:  baseCfg.PostgresDSN,
	}

	total := cfg.BookingRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Patients <= 0 || cfg.Hospitals <= 0 {
		return fmt.Errorf("SIM_PATIENTS and SIM_HOSPITALS must be > 0")
	}
	return nil
}

// registerActors creates fresh patient and hospital accounts through the
// public API so the storm runs against real auth tokens.
func (s *Simulator) registerActors(ctx context.Context) error {
	runID := time.Now().UnixNano()

	for i := 0; i < s.config.Hospitals; i++ {
		a, err := s.register(ctx, map[string]any{
			"name":     fmt.Sprintf("Sim Hospital %d", i),
			"email":    fmt.Sprintf("sim-hospital-%d-%d@example.com", runID, i),
			"password": "simulate123",
			"role":     "hospital",
		})
		if err != nil {
			return fmt.Errorf("register hospital %d: %w", i, err)
		}
		s.pool.Hospitals = append(s.pool.Hospitals, a)
	}

	for i := 0; i < s.config.Patients; i++ {
		a, err := s.register(ctx, map[string]any{
			"name":     fmt.Sprintf("Sim Patient %d", i),
			"email":    fmt.Sprintf("sim-patient-%d-%d@example.com", runID, i),
			"password": "simulate123",
			"role":     "patient",
		})
		if err != nil {
			return fmt.Errorf("register patient %d: %w", i, err)
		}
		s.pool.Patients = append(s.pool.Patients, a)
	}

	return nil
}

func (s *Simulator) register(ctx context.Context, payload map[string]any) (actor, error) {
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, "POST", s.config.APIBaseURL+"/auth/register", bytes.NewReader(body))
	if err != nil {
		return actor{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return actor{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		return actor{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, raw)
	}

	var out struct {
		Data struct {
			Token string `json:"token"`
			User  struct {
				ID uuid.UUID `json:"id"`
			} `json:"user"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return actor{}, err
	}

	return actor{ID: out.Data.User.ID, Token: out.Data.Token}, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.CancelRatio:
				s.doCancel(ctx, rng)
			default:
				s.doList(ctx, rng)
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	hospital := s.pool.Hospitals[rng.Intn(len(s.pool.Hospitals))]
	date := time.Now().AddDate(0, 0, 1+rng.Intn(s.config.Days)).Format("2006-01-02")
	timeSlot := scheduling.DefaultBuckets[rng.Intn(len(scheduling.DefaultBuckets))]

	reqBody := map[string]string{
		"hospitalId": hospital.ID.String(),
		"date":       date,
		"timeSlot":   timeSlot,
		"symptoms":   "simulated symptoms",
	}
	body, _ := json.Marshal(reqBody)

	start := time.Now()

	req, _ := http.NewRequestWithContext(ctx, "POST", s.config.APIBaseURL+"/appointments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+patient.Token)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	rejected := false

	if err == nil {
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusCreated:
			success = true
			var out struct {
				Data struct {
					Appointment struct {
						ID uuid.UUID `json:"id"`
					} `json:"appointment"`
				} `json:"data"`
			}
			if json.NewDecoder(resp.Body).Decode(&out) == nil && out.Data.Appointment.ID != uuid.Nil {
				s.pool.AddAppointment(out.Data.Appointment.ID, patient)
			}
		case http.StatusBadRequest:
			// Full slot, duplicate booking, or lock contention.
			rejected = true
		}
	}

	s.metrics.Booking.Record(latency, success, rejected)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	ref, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	body, _ := json.Marshal(map[string]string{"status": "cancelled"})

	start := time.Now()

	req, _ := http.NewRequestWithContext(ctx, "PATCH",
		fmt.Sprintf("%s/appointments/%s", s.config.APIBaseURL, ref.ID), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+ref.Patient.Token)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	rejected := false

	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			success = true
		} else if resp.StatusCode == http.StatusBadRequest {
			rejected = true
		}
	}

	s.metrics.Cancel.Record(latency, success, rejected)
}

func (s *Simulator) doList(ctx context.Context, rng *rand.Rand) {
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()

	req, _ := http.NewRequestWithContext(ctx, "GET",
		s.config.APIBaseURL+"/appointments?limit=20", nil)
	req.Header.Set("Authorization", "Bearer "+patient.Token)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.List.Record(latency, success, false)
}

// verifyOccupancy recounts active appointments per slot straight from
// Postgres and fails if any stored count disagrees or exceeds capacity.
func verifyOccupancy(ctx context.Context, dsn string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	rows, err := pool.Query(ctx, `
		SELECT hs.id, hs.current_appointments, hs.max_appointments, COUNT(a.id) AS active
		FROM hospital_slots hs
		LEFT JOIN appointments a
		  ON a.hospital_id = hs.hospital_id
		 AND a.slot_date = hs.slot_date
		 AND a.time_slot = hs.time_slot
		 AND a.status IN ('scheduled', 'confirmed')
		GROUP BY hs.id, hs.current_appointments, hs.max_appointments
		HAVING hs.current_appointments <> COUNT(a.id)
		    OR hs.current_appointments > hs.max_appointments
	`)
	if err != nil {
		return fmt.Errorf("query slots: %w", err)
	}
	defer rows.Close()

	bad := 0
	for rows.Next() {
		var id uuid.UUID
		var stored, maxAppts int
		var active int64
		if err := rows.Scan(&id, &stored, &maxAppts, &active); err != nil {
			return err
		}
		log.Printf("DRIFT slot=%s stored=%d active=%d max=%d", id, stored, active, maxAppts)
		bad++
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if bad > 0 {
		return fmt.Errorf("%d slots with occupancy drift or overbooking", bad)
	}
	return nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("List", &s.metrics.List)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	rejected := atomic.LoadInt64(&om.Rejected)
	errors := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if rejected > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", rejected, float64(rejected)/float64(total)*100)
	}
	if errors > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", errors, float64(errors)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

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
