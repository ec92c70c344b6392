package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/practitioner-booking/internal/booking"
	"github.com/hackgods/practitioner-booking/internal/config"
	"github.com/hackgods/practitioner-booking/internal/db"
	"github.com/hackgods/practitioner-booking/internal/logger"
)

type SimConfig struct {
	APIBaseURL      string
	Duration        time.Duration
	Workers         int
	BookingRatio    float64
	RescheduleRatio float64
	CancelRatio     float64
	ReadRatio       float64
	HotSlots        int
	Days            int
	PostgresDSN     string
}

// slot is a bookable (practitioner, date, time). The simulator keeps the
// set small so workers collide on purpose.
type slot struct {
	practitioner uuid.UUID
	date         string
	time         string
}

type DataPool struct {
	Practitioners []uuid.UUID
	Patients      []uuid.UUID
	Slots         []slot

	mu       sync.RWMutex
	bookings []uuid.UUID
	groups   []string
}

func (dp *DataPool) AddBooking(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.bookings = append(dp.bookings, id)
}

// TakeBooking removes and returns a random known booking id.
func (dp *DataPool) TakeBooking(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.bookings) == 0 {
		return uuid.Nil, false
	}
	idx := rng.Intn(len(dp.bookings))
	id := dp.bookings[idx]
	dp.bookings[idx] = dp.bookings[len(dp.bookings)-1]
	dp.bookings = dp.bookings[:len(dp.bookings)-1]
	return id, true
}

func (dp *DataPool) AddGroup(bn string) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.groups = append(dp.groups, bn)
}

func (dp *DataPool) RandomGroup(rng *rand.Rand) (string, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.groups) == 0 {
		return "", false
	}
	return dp.groups[rng.Intn(len(dp.groups))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err == nil && status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case err == nil && status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	n := len(latencies)
	return sum / time.Duration(n), latencies[n*50/100], latencies[min(n*95/100, n-1)], latencies[n-1]
}

type Metrics struct {
	Create     OperationMetrics
	Reschedule OperationMetrics
	Cancel     OperationMetrics
	List       OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	log     *logger.Logger
	metrics Metrics
}

func main() {
	log := logger.New(logger.Config{Format: logger.FormatText, Service: "simulate"})

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal("invalid config", "error", err)
	}

	log.Info("simulator starting",
		"duration", cfg.Duration,
		"workers", cfg.Workers,
		"hot_slots", cfg.HotSlots,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("connect postgres", "error", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatal("load data pool", "error", err)
	}
	log.Info("data loaded",
		"practitioners", len(dataPool.Practitioners),
		"patients", len(dataPool.Patients),
		"slots", len(dataPool.Slots),
	)

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	if err := sim.Run(); err != nil {
		log.Error("simulation aborted", "error", err)
	}
	sim.PrintReport()

	doubles, err := countDoubleBookings(ctx, pgPool)
	if err != nil {
		log.Fatal("double booking check", "error", err)
	}
	fmt.Printf("Double-booked slots: %d\n", doubles)
	if doubles > 0 {
		os.Exit(1)
	}
}

func loadConfig() (SimConfig, error) {
	baseCfg, err := config.Load()
	if err != nil {
		return SimConfig{}, err
	}

	cfg := SimConfig{
		APIBaseURL:      getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:        getDuration("SIM_DURATION", 30*time.Second),
		Workers:         getInt("SIM_WORKERS", 20),
		BookingRatio:    getFloat("SIM_BOOKING_RATIO", 0.5),
		RescheduleRatio: getFloat("SIM_RESCHEDULE_RATIO", 0.1),
		CancelRatio:     getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:       getFloat("SIM_READ_RATIO", 0.3),
		HotSlots:        getInt("SIM_HOT_SLOTS", 50),
		Days:            getInt("SIM_DAYS", 3),
		PostgresDSN:     baseCfg.PostgresDSN,
	}

	total := cfg.BookingRatio + cfg.RescheduleRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.RescheduleRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	if cfg.Workers <= 0 {
		return cfg, fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return cfg, fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.HotSlots <= 0 || cfg.Days <= 0 {
		return cfg, fmt.Errorf("SIM_HOT_SLOTS and SIM_DAYS must be > 0")
	}
	return cfg, nil
}

func loadProfiles(ctx context.Context, pool *pgxpool.Pool, role string) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, `SELECT id FROM profiles WHERE role = $1 LIMIT 1000`, role)
	if err != nil {
		return nil, fmt.Errorf("load %s profiles: %w", role, err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no %s profiles loaded, run cmd/seed first", role)
	}
	return ids, nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	practitioners, err := loadProfiles(ctx, pool, "practitioner")
	if err != nil {
		return nil, err
	}
	patients, err := loadProfiles(ctx, pool, "patient")
	if err != nil {
		return nil, err
	}

	dp := &DataPool{Practitioners: practitioners, Patients: patients}

	// Far enough out to stay clear of seeded data.
	base := time.Now().AddDate(1, 0, 0).Truncate(24 * time.Hour)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for i := 0; i < cfg.HotSlots; i++ {
		dp.Slots = append(dp.Slots, slot{
			practitioner: practitioners[rng.Intn(len(practitioners))],
			date:         base.AddDate(0, 0, rng.Intn(cfg.Days)).Format(booking.DateLayout),
			time:         fmt.Sprintf("%02d:00", 8+rng.Intn(10)),
		})
	}
	return dp, nil
}

func (s *Simulator) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.config.Workers; i++ {
		workerID := i
		g.Go(func() error {
			s.worker(ctx, workerID)
			return nil
		})
	}

	err := g.Wait()
	s.log.Info("simulation complete")
	return err
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doCreate(ctx, rng)
		case r < s.config.BookingRatio+s.config.RescheduleRatio:
			s.doReschedule(ctx, rng)
		case r < s.config.BookingRatio+s.config.RescheduleRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		default:
			s.doList(ctx, rng)
		}
	}
}

func (s *Simulator) newBooking(rng *rand.Rand, sl slot) map[string]any {
	return map[string]any{
		"practitioner_id": sl.practitioner.String(),
		"patient_id":      s.pool.Patients[rng.Intn(len(s.pool.Patients))].String(),
		"date":            sl.date,
		"time":            sl.time,
		"service_type":    "consultation",
		"price":           60,
	}
}

func (s *Simulator) doCreate(ctx context.Context, rng *rand.Rand) {
	body := s.newBooking(rng, s.pool.Slots[rng.Intn(len(s.pool.Slots))])

	start := time.Now()
	status, resp, err := s.send(ctx, http.MethodPost, "/bookings", body)
	s.metrics.Create.Record(time.Since(start), status, err)

	if err == nil && status == http.StatusCreated {
		var b struct {
			ID uuid.UUID `json:"id"`
		}
		if json.Unmarshal(resp, &b) == nil && b.ID != uuid.Nil {
			s.pool.AddBooking(b.ID)
		}
	}
}

// doReschedule moves an existing group, or starts a new one, onto two or
// three hot slots.
func (s *Simulator) doReschedule(ctx context.Context, rng *rand.Rand) {
	bn, ok := s.pool.RandomGroup(rng)
	if !ok || rng.Intn(4) == 0 {
		bn = fmt.Sprintf("SIM-%s", uuid.NewString()[:8])
	}

	var rows []map[string]any
	for i := 0; i < 2+rng.Intn(2); i++ {
		rows = append(rows, s.newBooking(rng, s.pool.Slots[rng.Intn(len(s.pool.Slots))]))
	}

	start := time.Now()
	status, _, err := s.send(ctx, http.MethodPut, "/bookings", map[string]any{
		"book_number":     bn,
		"reschedule_data": rows,
	})
	s.metrics.Reschedule.Record(time.Since(start), status, err)

	if err == nil && status == http.StatusOK && !ok {
		s.pool.AddGroup(bn)
	}
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.TakeBooking(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, _, err := s.send(ctx, http.MethodDelete, "/bookings?id="+id.String(), nil)
	s.metrics.Cancel.Record(time.Since(start), status, err)
}

func (s *Simulator) doList(ctx context.Context, rng *rand.Rand) {
	sl := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	q := url.Values{}
	q.Set("practitioner_id", sl.practitioner.String())
	q.Set("date", sl.date)

	start := time.Now()
	status, _, err := s.send(ctx, http.MethodGet, "/bookings?"+q.Encode(), nil)
	s.metrics.List.Record(time.Since(start), status, err)
}

func (s *Simulator) send(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	return resp.StatusCode, data, err
}

// countDoubleBookings counts slots holding more than one confirmed booking.
// Anything above zero means the slot index was bypassed.
func countDoubleBookings(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `
		SELECT count(*) FROM (
			SELECT 1 FROM bookings
			WHERE status = 'confirmed'
			GROUP BY practitioner_id, date, time
			HAVING count(*) > 1
		) d
	`).Scan(&n)
	return n, err
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Hot slots: %d\n", len(s.pool.Slots))
	fmt.Println()

	printOperationReport("Create", &s.metrics.Create)
	printOperationReport("Reschedule", &s.metrics.Reschedule)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("List", &s.metrics.List)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, p50, p95, max := om.Stats()

	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, pct(conflict))
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, pct(failed))
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), max.Round(time.Millisecond))
	fmt.Println()
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
