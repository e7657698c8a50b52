package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
)

// Metrics
var (
	totalRequests uint64
	created201    uint64 // Links created
	settled200    uint64 // Payments settled
	conflict409   uint64 // Cancelled/already-paid losers
	failOther     uint64
)

const (
	seededWallets = 1000
	linkAmount    = "1000000000000000000" // 1 unit, 18 decimals
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	// Hotspot: every worker races to settle the same small set of links,
	// so all but one pay per link lands on the terminal-state conflict path.
	var hotIDs []string
	if workload == "hotspot" {
		client := &http.Client{Timeout: 5 * time.Second}
		for i := 0; i < concurrency; i++ {
			id, err := createLink(client)
			if err != nil {
				log.Fatalf("Hotspot setup failed: %v", err)
			}
			hotIDs = append(hotIDs, id)
		}
	}

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, hotIDs)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time, hotIDs []string) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		var linkID string
		if len(hotIDs) > 0 {
			linkID = hotIDs[rand.Intn(len(hotIDs))]
		} else {
			id, err := createLink(client)
			if err != nil {
				atomic.AddUint64(&failOther, 1)
				continue
			}
			linkID = id
		}
		payLink(client, linkID)
	}
}

func createLink(client *http.Client) (string, error) {
	creator := wallet(rand.Intn(seededWallets) + 1)
	recipient := wallet(rand.Intn(seededWallets) + 1)

	payload := map[string]interface{}{
		"creator":   creator,
		"recipient": recipient,
		"amount":    linkAmount,
		"expiry":    0,
		"memo":      "bench-" + uuid.NewString(),
	}
	body, _ := json.Marshal(payload)

	resp, err := client.Post(targetURL+"/api/v1/links", "application/json", bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	atomic.AddUint64(&totalRequests, 1)
	if resp.StatusCode != 201 {
		atomic.AddUint64(&failOther, 1)
		return "", fmt.Errorf("create returned %d", resp.StatusCode)
	}
	atomic.AddUint64(&created201, 1)

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func payLink(client *http.Client, linkID string) {
	payer := wallet(rand.Intn(seededWallets) + 1)
	payload := map[string]interface{}{
		"payer":  payer,
		"amount": linkAmount,
	}
	body, _ := json.Marshal(payload)

	resp, err := client.Post(targetURL+"/api/v1/links/"+linkID+"/pay", "application/json", bytes.NewBuffer(body))
	if err != nil {
		atomic.AddUint64(&failOther, 1)
		return
	}
	defer resp.Body.Close()

	atomic.AddUint64(&totalRequests, 1)
	switch resp.StatusCode {
	case 200:
		atomic.AddUint64(&settled200, 1)
	case 409:
		atomic.AddUint64(&conflict409, 1)
	default:
		atomic.AddUint64(&failOther, 1)
	}
}

func wallet(i int) string {
	return fmt.Sprintf("0x%040x", i)
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	c201 := atomic.LoadUint64(&created201)
	s200 := atomic.LoadUint64(&settled200)
	f409 := atomic.LoadUint64(&conflict409)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	conflictRate := float64(f409) / float64(total) * 100

	results := map[string]interface{}{
		"workload":          workload,
		"duration_sec":      d.Seconds(),
		"total_requests":    total,
		"throughput_tps":    tps,
		"links_created":     c201,
		"payments_settled":  s200,
		"terminal_conflict": f409,
		"conflict_rate_pct": conflictRate,
		"errors":            fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, _ := os.Create(filename)
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
