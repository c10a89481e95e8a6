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
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

type SimConfig struct {
	APIBaseURL string
	Duration   time.Duration
	Workers    int
	InvalidPct float64 // fraction of deliberately malformed requests
}

type Metrics struct {
	Total     int64
	Accepted  int64
	Rejected  int64
	Errors    int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (m *Metrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&m.Total, 1)
	switch {
	case err != nil || status >= 500:
		atomic.AddInt64(&m.Errors, 1)
	case status == http.StatusAccepted:
		atomic.AddInt64(&m.Accepted, 1)
	default:
		atomic.AddInt64(&m.Rejected, 1)
	}

	m.mu.Lock()
	m.latencies = append(m.latencies, latency)
	m.mu.Unlock()
}

func (m *Metrics) Percentile(p int) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.latencies) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg := loadSimConfig()
	log.Printf("simulate starting: url=%s duration=%s workers=%d invalid_pct=%.2f",
		cfg.APIBaseURL, cfg.Duration, cfg.Workers, cfg.InvalidPct)

	gofakeit.Seed(time.Now().UnixNano())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	client := &http.Client{Timeout: 5 * time.Second}
	metrics := &Metrics{}

	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runWorker(ctx, client, cfg, metrics)
		}()
	}
	wg.Wait()

	log.Printf("simulate done: total=%d accepted=%d rejected=%d errors=%d p50=%s p95=%s",
		metrics.Total, metrics.Accepted, metrics.Rejected, metrics.Errors,
		metrics.Percentile(50), metrics.Percentile(95))
}

func runWorker(ctx context.Context, client *http.Client, cfg SimConfig, metrics *Metrics) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		body := creationBody(cfg.InvalidPct)

		start := time.Now()
		status, err := post(ctx, client, cfg.APIBaseURL+"/appointments", body)
		metrics.Record(time.Since(start), status, err)

		// Pace requests a little so the queue, not the HTTP layer, is the bottleneck.
		sleep := time.Duration(200+rand.Intn(600)) * time.Millisecond
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

func creationBody(invalidPct float64) []byte {
	if rand.Float64() < invalidPct {
		// Poison payload: subjectId is not a number.
		raw := map[string]any{
			"subjectId":   "not-a-number",
			"displayName": gofakeit.Name(),
		}
		b, _ := json.Marshal(raw)
		return b
	}

	priorities := []string{"high", "medium", "medium", "low", ""}
	payload := map[string]any{
		"subjectId":   gofakeit.Number(10_000_000, 99_999_999),
		"displayName": gofakeit.Name(),
	}
	if p := priorities[rand.Intn(len(priorities))]; p != "" {
		payload["priority"] = p
	}

	b, _ := json.Marshal(payload)
	return b
}

func post(ctx context.Context, client *http.Client, url string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

func loadSimConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL: "http://localhost:8080",
		Duration:   30 * time.Second,
		Workers:    4,
		InvalidPct: 0.05,
	}

	if v := os.Getenv("SIM_API_URL"); v != "" {
		cfg.APIBaseURL = v
	}
	if v := os.Getenv("SIM_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Duration = d
		}
	}
	if v := os.Getenv("SIM_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("SIM_INVALID_PCT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			cfg.InvalidPct = f
		}
	}

	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	fmt.Fprintln(os.Stderr, "tip: set SIM_API_URL / SIM_DURATION / SIM_WORKERS / SIM_INVALID_PCT to tune the run")

	return cfg
}
