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
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	replays     int
	studentID   string
	amountCents int64
	adminUser   string
	adminPass   string
)

// Metrics
var (
	totalRequests uint64
	webhookOK     uint64
	verifyOK      uint64
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.IntVar(&replays, "replays", 500, "Total webhook/verify deliveries for the order")
	flag.StringVar(&studentID, "student", "S0001", "Student to top up")
	flag.Int64Var(&amountCents, "amount", 10000, "Recharge amount in minor units")
	flag.StringVar(&adminUser, "admin-user", "admin", "Admin username")
	flag.StringVar(&adminPass, "admin-pass", "admin@123", "Admin password")
}

// The benchmark opens one recharge, then races webhook replays and verify
// calls against it. The student's balance must move by exactly one amount.
func main() {
	flag.Parse()
	log.Printf("Starting replay benchmark: student %s | Workers: %d | Replays: %d", studentID, concurrency, replays)

	client := &http.Client{Timeout: 30 * time.Second}
	token := mustLogin(client)
	before := mustBalance(client, token)
	orderID, slug := mustCreate(client, token)
	log.Printf("Created order %s (slug %q)", orderID, slug)

	start := time.Now()
	var wg sync.WaitGroup
	var issued int64
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()
			for atomic.AddInt64(&issued, 1) <= int64(replays) {
				deliver(client, token, orderID, slug)
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	after := mustBalance(client, token)
	printResults(elapsed, orderID, after-before)
}

func deliver(client *http.Client, token, orderID, slug string) {
	var (
		req *http.Request
		ok  *uint64
	)
	if rand.Float32() < 0.8 {
		body, _ := json.Marshal(map[string]any{
			"data": map[string]any{"order_id": orderID, "order_slug": slug, "payment_status": "SUCCESS"},
		})
		req, _ = http.NewRequest(http.MethodPost, targetURL+"/api/recharge/webhook", bytes.NewReader(body))
		ok = &webhookOK
	} else {
		body, _ := json.Marshal(map[string]any{"provider_txn": orderID, "slug": slug})
		req, _ = http.NewRequest(http.MethodPost, targetURL+"/api/recharge/verify", bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		ok = &verifyOK
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	atomic.AddUint64(&totalRequests, 1)
	if err != nil {
		atomic.AddUint64(&failOther, 1)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		atomic.AddUint64(ok, 1)
		return
	}
	atomic.AddUint64(&failOther, 1)
}

func mustLogin(client *http.Client) string {
	var out struct {
		Token string `json:"token"`
	}
	mustCall(client, http.MethodPost, "/api/auth/admin/login", "", map[string]string{
		"username": adminUser,
		"password": adminPass,
	}, &out)
	return out.Token
}

func mustCreate(client *http.Client, token string) (string, string) {
	var out struct {
		Provider struct {
			ProviderTxn string `json:"provider_txn"`
			Slug        string `json:"slug"`
		} `json:"provider"`
	}
	mustCall(client, http.MethodPost, "/api/recharge/create", token, map[string]any{
		"studentId":    studentID,
		"amount_cents": amountCents,
	}, &out)
	return out.Provider.ProviderTxn, out.Provider.Slug
}

func mustBalance(client *http.Client, token string) int64 {
	var out struct {
		Student struct {
			BalanceCents int64 `json:"balance_cents"`
		} `json:"student"`
	}
	mustCall(client, http.MethodGet, "/api/students/"+studentID, token, nil, &out)
	return out.Student.BalanceCents
}

func mustCall(client *http.Client, method, path, token string, in, out any) {
	var body bytes.Buffer
	if in != nil {
		json.NewEncoder(&body).Encode(in)
	}
	req, _ := http.NewRequest(method, targetURL+path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		log.Fatalf("%s %s: decode: %v", method, path, err)
	}
}

func printResults(d time.Duration, orderID string, delta int64) {
	total := atomic.LoadUint64(&totalRequests)

	results := map[string]interface{}{
		"order_id":        orderID,
		"duration_sec":    d.Seconds(),
		"total_requests":  total,
		"throughput_rps":  float64(total) / d.Seconds(),
		"webhook_ok":      atomic.LoadUint64(&webhookOK),
		"verify_ok":       atomic.LoadUint64(&verifyOK),
		"errors":          atomic.LoadUint64(&failOther),
		"expected_credit": amountCents,
		"observed_credit": delta,
		"credited_once":   delta == amountCents,
	}

	// Print JSON for the python plotter to consume
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_replay_%s.json", studentID)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("save results: %v", err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
