package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/yunze7373/traffic-tool/internal/domain"
)

var sampleHosts = []string{
	"api.example.com",
	"cdn.example.net",
	"auth.example.org",
	"telemetry.example.io",
}

var sampleSignatures = []string{
	"TrafficCapture/1.0 (Android 14)",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X)",
	"Mozilla/5.0 (Linux; Android 13; Pixel 7)",
	"curl/8.5.0",
}

func randomFlow(workerID int) *domain.RawFlow {
	host := sampleHosts[rand.Intn(len(sampleHosts))]
	return &domain.RawFlow{
		ClientIP:        fmt.Sprintf("10.0.%d.%d", workerID%256, rand.Intn(256)),
		ClientSignature: sampleSignatures[rand.Intn(len(sampleSignatures))],
		Method:          "GET",
		URL:             fmt.Sprintf("https://%s/v1/resource/%s", host, uuid.NewString()),
		Host:            host,
		RequestHeaders: []domain.HeaderField{
			{Key: "Accept", Value: "application/json"},
		},
		HasResponse:    true,
		ResponseStatus: 200,
		ResponseHeaders: []domain.HeaderField{
			{Key: "Content-Type", Value: "application/json"},
		},
		ResponseBody: []byte(`{"ok":true}`),
	}
}

func main() {
	targetURL := flag.String("url", "http://localhost:5010/api/flows", "Target URL for flow intake")
	concurrency := flag.Int("c", 10, "Number of concurrent workers")
	duration := flag.Duration("d", 30*time.Second, "Duration of the load test")
	rps := flag.Int("rps", 1000, "Requests per second limit")
	flag.Parse()

	log.Printf("Starting load test on %s", *targetURL)
	log.Printf("Concurrency: %d, Duration: %s, RPS: %d", *concurrency, *duration, *rps)

	var wg sync.WaitGroup
	var successCount, errorCount atomic.Int64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(*rps), 100) // Allow bursts up to 100

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			client := &http.Client{
				Timeout: 5 * time.Second,
			}

			for {
				select {
				case <-ctx.Done():
					return
				default:
					limiter.Wait(ctx) // Wait for token from rate limiter

					payload, err := json.Marshal(randomFlow(workerID))
					if err != nil {
						continue // Should not happen
					}

					req, err := http.NewRequestWithContext(ctx, http.MethodPost, *targetURL, bytes.NewReader(payload))
					if err != nil {
						continue
					}
					req.Header.Set("Content-Type", "application/json")

					resp, err := client.Do(req)
					if err != nil {
						errorCount.Add(1)
						continue
					}

					if resp.StatusCode == http.StatusAccepted {
						successCount.Add(1)
					} else {
						errorCount.Add(1)
					}
					resp.Body.Close()
				}
			}
		}(i)
	}

	wg.Wait()

	totalRequests := successCount.Load() + errorCount.Load()
	actualRPS := float64(totalRequests) / duration.Seconds()

	log.Println("Load test finished.")
	log.Printf("Total Requests: %d", totalRequests)
	log.Printf("Successful (202 Accepted): %d", successCount.Load())
	log.Printf("Errors: %d", errorCount.Load())
	log.Printf("Actual RPS: %.2f", actualRPS)
}
