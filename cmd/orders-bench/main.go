// Command orders-bench fires concurrent orders at one product and reports how
// many were accepted. With stock S and N > S requests, exactly S should
// succeed and the rest should fail with insufficient stock.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/matheusmosca/order-placement-engine/internal/httpapi"
	"github.com/matheusmosca/order-placement-engine/internal/orders"
)

type productResponse struct {
	ID    string `json:"id"`
	Stock int    `json:"stock"`
}

func main() {
	var (
		baseURL     = flag.String("url", "http://localhost:8080", "orders service base url")
		secret      = flag.String("secret", os.Getenv("JWT_SECRET"), "JWT signing secret")
		requests    = flag.Int("requests", 200, "number of orders to place")
		concurrency = flag.Int("concurrency", 50, "parallel requests")
		stock       = flag.Int("stock", 50, "initial stock of the benchmark product")
		quantity    = flag.Int("quantity", 1, "quantity per order")
	)
	flag.Parse()

	if *secret == "" {
		log.Fatal("a JWT secret is required (-secret or JWT_SECRET)")
	}

	client := resty.New().
		SetBaseURL(*baseURL).
		SetTimeout(30 * time.Second).
		SetHeader("Content-Type", "application/json")

	ctx := context.Background()
	productID, err := createProduct(ctx, client, []byte(*secret), *stock)
	if err != nil {
		log.Fatalf("failed to create benchmark product: %v", err)
	}
	log.Printf("created product %s with stock %d", productID, *stock)

	var (
		mu        sync.Mutex
		codes     = map[int]int{}
		latencies = make([]time.Duration, 0, *requests)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*concurrency)

	start := time.Now()
	for i := 0; i < *requests; i++ {
		g.Go(func() error {
			token, err := httpapi.SignToken([]byte(*secret), uuid.NewString(), orders.RoleUser, time.Hour)
			if err != nil {
				return err
			}

			began := time.Now()
			resp, err := client.R().
				SetContext(gctx).
				SetAuthToken(token).
				SetHeader("Idempotency-Key", uuid.NewString()).
				SetBody(map[string]any{
					"products": []map[string]any{{"productId": productID, "quantity": *quantity}},
				}).
				Post("/api/orders")
			elapsed := time.Since(began)

			mu.Lock()
			defer mu.Unlock()
			latencies = append(latencies, elapsed)
			if err != nil {
				codes[0]++
				return nil
			}
			codes[resp.StatusCode()]++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("benchmark aborted: %v", err)
	}
	total := time.Since(start)

	remaining, err := getStock(ctx, client, []byte(*secret), productID)
	if err != nil {
		log.Fatalf("failed to read final stock: %v", err)
	}

	report(codes, latencies, total)
	fmt.Printf("final stock: %d\n", remaining)

	accepted := codes[http.StatusCreated]
	if remaining != *stock-accepted*(*quantity) {
		fmt.Printf("MISMATCH: %d orders accepted but stock moved by %d\n", accepted, *stock-remaining)
		os.Exit(1)
	}
}

func createProduct(ctx context.Context, client *resty.Client, secret []byte, stock int) (string, error) {
	token, err := httpapi.SignToken(secret, "bench-admin", orders.RoleAdmin, time.Hour)
	if err != nil {
		return "", err
	}

	var product productResponse
	resp, err := client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(map[string]any{
			"name":     "bench-" + uuid.NewString()[:8],
			"price":    "19.99",
			"stock":    stock,
			"category": "bench",
		}).
		SetResult(&product).
		Post("/api/products")
	if err != nil {
		return "", err
	}
	if resp.StatusCode() != http.StatusCreated {
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode(), resp.String())
	}
	return product.ID, nil
}

func getStock(ctx context.Context, client *resty.Client, secret []byte, productID string) (int, error) {
	token, err := httpapi.SignToken(secret, "bench-admin", orders.RoleAdmin, time.Hour)
	if err != nil {
		return 0, err
	}

	var product productResponse
	resp, err := client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(&product).
		Get("/api/products/" + productID)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d: %s", resp.StatusCode(), resp.String())
	}
	return product.Stock, nil
}

func report(codes map[int]int, latencies []time.Duration, total time.Duration) {
	statuses := make([]int, 0, len(codes))
	for code := range codes {
		statuses = append(statuses, code)
	}
	sort.Ints(statuses)

	fmt.Printf("requests: %d in %s\n", len(latencies), total.Round(time.Millisecond))
	for _, code := range statuses {
		label := http.StatusText(code)
		if code == 0 {
			label = "transport error"
		}
		fmt.Printf("  %3d %-22s %d\n", code, label, codes[code])
	}

	if len(latencies) == 0 {
		return
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	pct := func(p float64) time.Duration {
		return latencies[int(float64(len(latencies)-1)*p)]
	}
	fmt.Printf("latency p50=%s p95=%s p99=%s\n", pct(0.50), pct(0.95), pct(0.99))
}
