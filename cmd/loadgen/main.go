package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type reserveRequest struct {
	ResourceID int64  `json:"resource_id"`
	Quantity   int    `json:"quantity"`
	OwnerID    int64  `json:"owner_id"`
	SessionID  string `json:"session_id"`
}

type reserveResponse struct {
	Success           bool   `json:"success"`
	ReservationID     int64  `json:"reservation_id"`
	AvailableQuantity *int   `json:"available_quantity"`
	Message           string `json:"message"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "server base URL")
	resourceID := flag.Int64("resource", 1, "resource id to reserve against")
	requests := flag.Int("n", 50, "total concurrent reserve requests")
	quantity := flag.Int("q", 1, "quantity per request")
	flag.Parse()

	client := &http.Client{Timeout: 10 * time.Second}

	var success atomic.Int32
	var insufficient atomic.Int32
	var failed atomic.Int32
	var wg sync.WaitGroup

	start := time.Now()
	for i := 0; i < *requests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			body, _ := json.Marshal(reserveRequest{
				ResourceID: *resourceID,
				Quantity:   *quantity,
				OwnerID:    int64(n + 1),
				SessionID:  uuid.NewString(),
			})

			resp, err := client.Post(*baseURL+"/api/reserve", "application/json", bytes.NewReader(body))
			if err != nil {
				failed.Add(1)
				return
			}
			defer resp.Body.Close()

			var out reserveResponse
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				failed.Add(1)
				return
			}

			switch {
			case out.Success:
				success.Add(1)
			case resp.StatusCode == http.StatusConflict:
				insufficient.Add(1)
			default:
				failed.Add(1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	fmt.Printf("requests:     %d\n", *requests)
	fmt.Printf("reserved:     %d\n", success.Load())
	fmt.Printf("insufficient: %d\n", insufficient.Load())
	fmt.Printf("failed:       %d\n", failed.Load())
	fmt.Printf("elapsed:      %s\n", elapsed)

	if failed.Load() > 0 {
		log.Printf("warning: %d requests failed outright", failed.Load())
	}
}
