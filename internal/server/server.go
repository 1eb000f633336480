// Package server provides HTTP server initialization and lifecycle management
// for the Sundial agent core.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/sundialhq/sundial/internal/config"
	"github.com/sundialhq/sundial/internal/engine"
	"github.com/sundialhq/sundial/internal/scheduler"
	"github.com/sundialhq/sundial/web/handlers"
)

// securityHeadersMiddleware adds security headers to all HTTP responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Services bundles the engine components the HTTP layer exposes.
type Services struct {
	Episodic   *engine.EpisodicService
	Graph      *engine.EntityGraph
	Aggregator *engine.ContextAggregator
	Pipeline   *engine.ExtractionPipeline
	Scheduler  *scheduler.Scheduler

	// Hub is the websocket delivery hub. When nil, Start creates one.
	// Callers that wire the hub into the scheduler as its deliverer
	// construct it themselves and pass it here.
	Hub *handlers.DeliveryHub
}

// Start initializes and starts the HTTP server.
// Returns the actual address being listened on (useful for testing with
// port 0) and the DeliveryHub for wiring reminder delivery.
func Start(ctx context.Context, cfg *config.Config, svc Services) (string, *handlers.DeliveryHub, error) {
	mux := http.NewServeMux()

	hub := svc.Hub
	if hub == nil {
		hub = handlers.NewDeliveryHub()
	}
	go hub.Run()

	apiMux := http.NewServeMux()
	api := handlers.NewAPIHandlers(svc.Episodic, svc.Graph, svc.Aggregator, svc.Pipeline, svc.Scheduler)
	api.Register(apiMux)

	// Health endpoint, no auth required, used by monitoring
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","version":"1.0.0"}`))
	})

	// Wrap API routes with auth middleware
	mux.Handle("/api/", handlers.RequireAuth(apiMux, cfg.Server.APIToken))

	// WebSocket endpoint for reminder and wakeup delivery
	mux.Handle("/ws", hub)

	// Wrap the server with rate limiting, request logging, then security headers.
	// An unset rate limit would admit nothing, so fall back to the config
	// defaults rather than locking the server shut.
	rateLimit := cfg.Server.RateLimit
	if rateLimit <= 0 {
		rateLimit = 10
	}
	rateBurst := cfg.Server.RateBurst
	if rateBurst <= 0 {
		rateBurst = 20
	}
	rateLimiter := handlers.NewRateLimiter(rateLimit, rateBurst)
	handler := handlers.RateLimitMiddleware(mux, rateLimiter)
	handler = handlers.RequestLogger(handler, log.Printf)
	handler = securityHeadersMiddleware(handler)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("server: listen on %s: %w", addr, err)
	}

	actualAddr := listener.Addr().String()

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}()

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		hub.Stop()
	}()

	return actualAddr, hub, nil
}
