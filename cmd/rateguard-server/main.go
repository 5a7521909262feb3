// Command rateguard-server is the reference HTTP binding for the rate
// limiting decision engine. The request/response header contract is
// implemented literally, because existing clients rely on bit-exact
// compatibility.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/brightcart/rateguard/config"
	"github.com/brightcart/rateguard/pkg/ratelimit"
)

func main() {
	cfg, err := config.Load(os.Getenv("RATEGUARD_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	store, err := ratelimit.NewRedisStore(ctx, client)
	cancel()
	if err != nil {
		log.Fatalf("connect redis at %s: %v", cfg.RedisAddr, err)
	}

	registry := ratelimit.NewRegistry()

	metrics := ratelimit.NewPrometheusRecorder(prometheus.DefaultRegisterer)
	engine := ratelimit.NewEngine(store, registry,
		ratelimit.WithCacheTTL(time.Duration(cfg.CacheTTLSeconds*float64(time.Second))),
		ratelimit.WithSlowStart(ratelimit.DefaultSlowStartConfig(cfg.SlowStartSeconds)),
		ratelimit.WithMetricsRecorder(metrics),
	)
	// Applied after NewEngine so the bootstrap writes reach the audit log.
	cfg.ApplyTo(engine.Registry())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/search", rateLimitedHandler(engine, handlePayload("search results")))
	mux.HandleFunc("/api/checkout", rateLimitedHandler(engine, handlePayload("checkout accepted")))
	mux.HandleFunc("/api/profile", rateLimitedHandler(engine, handlePayload("profile")))

	srv := &http.Server{Addr: cfg.ListenAddress, Handler: mux}

	go func() {
		log.Printf("rateguard-server listening on %s (redis: %s)", cfg.ListenAddress, cfg.RedisAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	waitForShutdown(srv)
}

func waitForShutdown(srv *http.Server) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Println("shutting down, draining in-flight requests")
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Printf("shutdown error: %v", err)
	}
}

// rateLimitedHandler wraps next with the header contract: it reads the
// request descriptor from headers, calls the engine, writes the
// X-RateLimit-* headers on every response, and either denies with 429 or
// forwards to next on admission. A panic recovered from next becomes a 503,
// since the engine itself is never supposed to raise.
func rateLimitedHandler(engine *ratelimit.Engine, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("handler panic: %v", rec)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Service unavailable"})
			}
		}()

		req := requestFromHeaders(r)
		dec := engine.CheckLimit(r.Context(), req)

		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(dec.Remaining, 10))
		w.Header().Set("X-RateLimit-Allowed", strconv.FormatBool(dec.Allowed))
		w.Header().Set("X-RateLimit-RetryAfter", strconv.FormatInt(dec.RetryAfterSeconds, 10))

		if !dec.Allowed {
			writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
				"error":      "Rate limit exceeded",
				"retryAfter": dec.RetryAfterSeconds,
				"remaining":  dec.Remaining,
			})
			return
		}

		next(w, r)
	}
}

func requestFromHeaders(r *http.Request) ratelimit.Request {
	identity := r.Header.Get("x-user-id")
	if identity == "" {
		identity = "anonymous"
	}
	tier := r.Header.Get("x-user-tier")
	if tier == "" {
		tier = "free"
	}
	region := r.Header.Get("x-region")
	if region == "" {
		region = "US"
	}
	cost := int64(1)
	if raw := r.Header.Get("x-cost"); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			cost = v
		}
	}

	return ratelimit.Request{
		Identity: identity,
		Endpoint: r.URL.Path,
		Tier:     ratelimit.Tier(tier),
		Region:   region,
		Cost:     cost,
	}
}

func handlePayload(message string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": message})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		fmt.Fprintf(os.Stderr, "encode response: %v\n", err)
	}
}
