package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ksred/orderpad/internal/database"
	"github.com/ksred/orderpad/internal/pricefeed"
	"github.com/ksred/orderpad/internal/receipt"
	"github.com/ksred/orderpad/internal/session"
	"github.com/ksred/orderpad/internal/types"
)

const (
	minTraders    = 10
	maxTraders    = 60
	numWorkers    = 5
	serverPort    = "8081"
	serverAddress = "http://localhost:" + serverPort
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// statsBook is shared by every trader
type statsBook struct {
	mu     sync.Mutex
	order  []string
	routes map[string]*routeStats
}

func newStatsBook() *statsBook {
	b := &statsBook{routes: make(map[string]*routeStats)}
	for _, r := range []struct{ key, name string }{
		{"session", "Create Session"},
		{"draft", "Update Draft"},
		{"picker", "Open Order Types"},
		{"expand", "Expand Order Type"},
		{"select", "Select Order Type"},
		{"review", "Review"},
		{"confirm", "Confirm"},
		{"receipt", "Get Receipt"},
		{"reset", "Reset"},
	} {
		b.order = append(b.order, r.key)
		b.routes[r.key] = &routeStats{name: r.name}
	}
	return b
}

func (b *statsBook) record(route string, d time.Duration, failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rs := b.routes[route]
	rs.addDuration(d)
	if failed {
		rs.failures++
	}
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (b *statsBook) printPerformanceStats() {
	b.mu.Lock()
	defer b.mu.Unlock()

	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, key := range b.order {
		stats := b.routes[key]
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Microsecond),
			max.Round(time.Microsecond),
			mean.Round(time.Microsecond),
			median.Round(time.Microsecond),
			p95.Round(time.Microsecond),
			p99.Round(time.Microsecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// trader walks one session through the wizard over HTTP
type trader struct {
	id     int
	token  string
	client *http.Client
	stats  *statsBook
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// call performs one request, records its latency and decodes the envelope
func (tr *trader) call(route, method, path string, body interface{}, out interface{}) error {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, serverAddress+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())
	if tr.token != "" {
		req.Header.Set("Authorization", "Bearer "+tr.token)
	}

	start := time.Now()
	resp, err := tr.client.Do(req)
	if err != nil {
		tr.stats.record(route, time.Since(start), true)
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	tr.stats.record(route, time.Since(start), err != nil || resp.StatusCode >= 400)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	if !env.Success {
		if env.Error != nil {
			return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, env.Error.Message)
		}
		return fmt.Errorf("%s %s failed with status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

type confirmation struct {
	Receipt struct {
		ReferenceID    string          `json:"reference_id"`
		EstimatedTotal decimal.Decimal `json:"estimated_total"`
	} `json:"receipt"`
}

// placeOrder runs one complete pass: draft, pick a kind, fill its prices,
// review, confirm, look up the receipt and return to trading
func (tr *trader) placeOrder(rng *rand.Rand) (types.OrderKind, decimal.Decimal, error) {
	var created struct {
		Token string `json:"session_token"`
	}
	if tr.token == "" {
		if err := tr.call("session", http.MethodPost, "/api/v1/sessions", nil, &created); err != nil {
			return "", decimal.Zero, err
		}
		tr.token = created.Token
	}

	kind := types.OrderKinds[rng.Intn(len(types.OrderKinds))]
	shares := fmt.Sprintf("%d", rng.Intn(100)+1)
	limit := fmt.Sprintf("%.2f", 160+rng.Float64()*20)
	stop := fmt.Sprintf("%.2f", 150+rng.Float64()*20)

	if err := tr.call("draft", http.MethodPatch, "/api/v1/ticket/draft", map[string]string{"shares": shares}, nil); err != nil {
		return kind, decimal.Zero, err
	}
	if err := tr.call("picker", http.MethodPost, "/api/v1/ticket/order-types", nil, nil); err != nil {
		return kind, decimal.Zero, err
	}
	slug := strings.ReplaceAll(strings.ToLower(string(kind)), " ", "_")
	if err := tr.call("expand", http.MethodPost, "/api/v1/ticket/order-types/"+slug+"/expand", nil, nil); err != nil {
		return kind, decimal.Zero, err
	}
	if err := tr.call("select", http.MethodPost, "/api/v1/ticket/order-types/"+slug+"/select", nil, nil); err != nil {
		return kind, decimal.Zero, err
	}

	prices := map[string]string{}
	switch kind {
	case types.KindLimit:
		prices["limit_price"] = limit
	case types.KindStopLoss:
		prices["stop_price"] = stop
	case types.KindStopLimit:
		prices["limit_price"] = limit
		prices["stop_price"] = stop
	}
	if len(prices) > 0 {
		if err := tr.call("draft", http.MethodPatch, "/api/v1/ticket/draft", prices, nil); err != nil {
			return kind, decimal.Zero, err
		}
	}

	if err := tr.call("review", http.MethodPost, "/api/v1/ticket/review", nil, nil); err != nil {
		return kind, decimal.Zero, err
	}

	var confirmed confirmation
	if err := tr.call("confirm", http.MethodPost, "/api/v1/ticket/confirm", nil, &confirmed); err != nil {
		return kind, decimal.Zero, err
	}
	ref := confirmed.Receipt.ReferenceID

	if err := tr.call("receipt", http.MethodGet, "/api/v1/receipts/"+ref, nil, nil); err != nil {
		return kind, decimal.Zero, err
	}
	if err := tr.call("reset", http.MethodPost, "/api/v1/ticket/reset", nil, nil); err != nil {
		return kind, decimal.Zero, err
	}

	log.Info().
		Int("trader", tr.id).
		Str("reference_id", ref).
		Str("order_kind", string(kind)).
		Str("shares", shares).
		Str("estimated_total", confirmed.Receipt.EstimatedTotal.StringFixed(2)).
		Msg("Order confirmed")

	return kind, confirmed.Receipt.EstimatedTotal, nil
}

// startServer runs an in-process API with a fast price feed
func startServer(ctx context.Context) error {
	db, err := database.NewDatabase(database.MemoryDSN)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	feed := pricefeed.NewFeed("AAPL", 175.50, pricefeed.NewRandomWalk(175.50, 1.0, nil), 100*time.Millisecond)
	go feed.Start(ctx)

	sessions := session.NewService("orderpad-simulation", time.Hour)
	receipts := receipt.NewService(db, receipt.NewGenerator(nil, nil))

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	session.NewGinHandlers(sessions, feed, receipts).Register(router.Group("/api/v1"))

	return router.Run(":" + serverPort)
}

// main runs the wizard simulation
// It starts a local API server and walks concurrent traders through every screen
func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := startServer(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(time.Second)

	stats := newStatsBook()
	targetOrders := rand.Intn(maxTraders-minTraders) + minTraders
	log.Info().Int("target_orders", targetOrders).Msg("Starting simulation")

	var (
		mu        sync.Mutex
		confirmed int
		failed    int
		total     = decimal.Zero
		kinds     = make(map[types.OrderKind]int)
		wg        sync.WaitGroup
	)
	startTime := time.Now()

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			tr := &trader{
				id:     workerID,
				client: &http.Client{Timeout: 10 * time.Second},
				stats:  stats,
			}
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

			for i := 0; i < targetOrders/numWorkers; i++ {
				kind, amount, err := tr.placeOrder(rng)

				mu.Lock()
				if err != nil {
					failed++
				} else {
					confirmed++
					total = total.Add(amount)
					kinds[kind]++
				}
				mu.Unlock()

				if err != nil {
					log.Error().Err(err).Int("trader", workerID).Msg("Order flow failed")
				}
				time.Sleep(time.Duration(rng.Intn(200)) * time.Millisecond)
			}
		}(w)
	}
	wg.Wait()

	duration := time.Since(startTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("ORDER ENTRY SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf(`
Confirmed:        %d
Failed:           %d
Estimated Value:  $%s
Duration:         %v

Order Kind Distribution
-----------------------
`, confirmed, failed, total.StringFixed(2), duration.Round(time.Millisecond))

	for _, kind := range types.OrderKinds {
		count := kinds[kind]
		barLength := 0
		if confirmed > 0 {
			barLength = int(float64(count) / float64(confirmed) * 20)
		}
		fmt.Printf("%-10s: %s (%d)\n", kind, strings.Repeat("#", barLength), count)
	}
	fmt.Println(strings.Repeat("=", 80))

	log.Info().
		Int("confirmed", confirmed).
		Int("failed", failed).
		Str("estimated_value", total.StringFixed(2)).
		Dur("duration", duration).
		Msg("Simulation completed")

	stats.printPerformanceStats()
}
