package main

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ksred/galactic-exchange/internal/codec"
	"github.com/ksred/galactic-exchange/internal/types"
)

const (
	numTraders      = 8
	numWorkers      = 4
	ordersPerWorker = 50
	numContracts    = 6
	serverAddress   = "http://localhost:8080"
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	mu         sync.Mutex
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration, failed bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
	if failed {
		rs.failures++
	}
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	// Calculate mean
	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	// Calculate median
	median = rs.durations[len(rs.durations)/2]

	// Calculate percentiles
	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// trader is one simulated market participant
type trader struct {
	username string
	token    string
	orderIDs []string
	mu       sync.Mutex
}

func (t *trader) rememberOrder(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.orderIDs = append(t.orderIDs, id)
}

func (t *trader) randomOrder() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.orderIDs) == 0 {
		return "", false
	}
	return t.orderIDs[rand.Intn(len(t.orderIDs))], true
}

// simulationClient handles HTTP communication with the exchange
type simulationClient struct {
	baseURL string
	client  *http.Client
	stats   map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client
func newSimulationClient() *simulationClient {
	return &simulationClient{
		baseURL: serverAddress,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		stats: map[string]*routeStats{
			"register": {name: "Register"},
			"login":    {name: "Login"},
			"create":   {name: "Create Order"},
			"modify":   {name: "Modify Order"},
			"cancel":   {name: "Cancel Order"},
			"book":     {name: "Order Book"},
			"balance":  {name: "Balance"},
		},
	}
}

// call sends one galacticbuf request and decodes the response body, if
// there is one.
func (sc *simulationClient) call(route, method, path, token string, body codec.Map) (codec.Map, int, error) {
	start := time.Now()

	var reader io.Reader
	if body != nil {
		data, err := codec.Encode(body, codec.V2)
		if err != nil {
			return nil, 0, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, reader)
	if err != nil {
		return nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", codec.ContentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := sc.client.Do(req)
	failed := err != nil
	defer func() {
		sc.stats[route].addDuration(time.Since(start), failed)
	}()
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		failed = true
		return nil, resp.StatusCode, err
	}
	failed = resp.StatusCode >= 500

	if len(data) == 0 {
		return nil, resp.StatusCode, nil
	}
	msg, err := codec.Decode(data)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return msg, resp.StatusCode, nil
}

// setupTraders registers and logs in the simulated participants
func (sc *simulationClient) setupTraders() ([]*trader, error) {
	traders := make([]*trader, 0, numTraders)
	for i := 0; i < numTraders; i++ {
		t := &trader{username: fmt.Sprintf("sim-trader-%d", i)}

		_, status, err := sc.call("register", "POST", "/register", "", codec.Map{
			"username": t.username,
			"password": "sim-password",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", t.username, err)
		}
		// 409 just means a previous run already registered the trader
		if status != http.StatusNoContent && status != http.StatusConflict {
			return nil, fmt.Errorf("register %s failed with status %d", t.username, status)
		}

		msg, status, err := sc.call("login", "POST", "/login", "", codec.Map{
			"username": t.username,
			"password": "sim-password",
		})
		if err != nil || status != http.StatusOK {
			return nil, fmt.Errorf("login %s failed with status %d: %w", t.username, status, err)
		}
		token, ok := msg.String("token")
		if !ok {
			return nil, fmt.Errorf("login %s returned no token", t.username)
		}
		t.token = token
		traders = append(traders, t)
	}
	return traders, nil
}

// contracts returns the next tradable delivery hours
func contracts() []types.ContractKey {
	start := time.Now().Add(2 * time.Hour).UnixMilli()
	start -= start % types.HourMillis

	out := make([]types.ContractKey, numContracts)
	for i := range out {
		s := start + int64(i)*types.HourMillis
		out[i] = types.ContractKey{DeliveryStart: s, DeliveryEnd: s + types.HourMillis}
	}
	return out
}

// runWorker drives a stream of random market activity
func (sc *simulationClient) runWorker(id int, traders []*trader, keys []types.ContractKey) {
	logger := log.With().Int("worker", id).Logger()

	for i := 0; i < ordersPerWorker; i++ {
		t := traders[rand.Intn(len(traders))]
		contract := keys[rand.Intn(len(keys))]

		switch action := rand.Intn(10); {
		case action < 6: // submit
			side := types.SideBuy
			if rand.Intn(2) == 0 {
				side = types.SideSell
			}
			msg, status, err := sc.call("create", "POST", "/v2/orders", t.token, codec.Map{
				"side":           string(side),
				"price":          int64(80 + rand.Intn(60)),
				"quantity":       int64(1 + rand.Intn(50)),
				"delivery_start": contract.DeliveryStart,
				"delivery_end":   contract.DeliveryEnd,
			})
			if err != nil {
				logger.Warn().Err(err).Msg("Create order failed")
				continue
			}
			if status == http.StatusOK {
				if orderID, ok := msg.String("order_id"); ok {
					t.rememberOrder(orderID)
				}
			} else {
				// Self-match and collateral rejections are expected market noise
				logger.Debug().Int("status", status).Msg("Order rejected")
			}
		case action < 7: // modify
			orderID, ok := t.randomOrder()
			if !ok {
				continue
			}
			_, status, err := sc.call("modify", "PUT", "/v2/orders/"+orderID, t.token, codec.Map{
				"price":    int64(80 + rand.Intn(60)),
				"quantity": int64(1 + rand.Intn(50)),
			})
			if err != nil {
				logger.Warn().Err(err).Msg("Modify order failed")
				continue
			}
			logger.Debug().Int("status", status).Msg("Modify attempted")
		case action < 8: // cancel
			orderID, ok := t.randomOrder()
			if !ok {
				continue
			}
			_, _, err := sc.call("cancel", "DELETE", "/v2/orders/"+orderID, t.token, nil)
			if err != nil {
				logger.Warn().Err(err).Msg("Cancel order failed")
			}
		case action < 9: // read the book
			path := fmt.Sprintf("/v2/orders?delivery_start=%d&delivery_end=%d", contract.DeliveryStart, contract.DeliveryEnd)
			_, _, err := sc.call("book", "GET", path, "", nil)
			if err != nil {
				logger.Warn().Err(err).Msg("Book query failed")
			}
		default: // check balance
			_, _, err := sc.call("balance", "GET", "/balance", t.token, nil)
			if err != nil {
				logger.Warn().Err(err).Msg("Balance query failed")
			}
		}
	}
}

// printStats logs the collected per-route statistics
func (sc *simulationClient) printStats() {
	for _, rs := range sc.stats {
		if rs.totalCalls == 0 {
			continue
		}
		min, max, mean, median, p95, p99 := rs.calculate()
		log.Info().
			Str("route", rs.name).
			Int("calls", rs.totalCalls).
			Int("failures", rs.failures).
			Dur("min", min).
			Dur("max", max).
			Dur("mean", mean).
			Dur("median", median).
			Dur("p95", p95).
			Dur("p99", p99).
			Msg("Route statistics")
	}
}

// main drives a randomized trading session against a running server and
// reports per-route latency statistics.
func main() {
	sc := newSimulationClient()

	traders, err := sc.setupTraders()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up traders")
	}
	log.Info().Int("traders", len(traders)).Msg("Traders ready")

	keys := contracts()
	start := time.Now()

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			sc.runWorker(id, traders, keys)
		}(w)
	}
	wg.Wait()

	log.Info().Dur("elapsed", time.Since(start)).Msg("Simulation complete")
	sc.printStats()
}
