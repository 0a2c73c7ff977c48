package main

import (
	"bufio"
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"hawkroute/internal/api"
	"hawkroute/internal/config"
	"hawkroute/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	metrics.RegisterDefault()

	srvDeps, err := api.NewServer(cfg)
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	mux := http.NewServeMux()

	// Optimization and routes
	mux.HandleFunc("/v1/optimize", srvDeps.OptimizeHandler)
	mux.HandleFunc("/v1/routes/current", srvDeps.CurrentRouteHandler)
	mux.HandleFunc("/v1/routes/", srvDeps.RouteByIDHandler)
	mux.HandleFunc("/v1/merchants/", srvDeps.MerchantsHandler) // routes, location

	// ETA
	mux.HandleFunc("/v1/eta/batch", srvDeps.EtaBatchHandler)
	mux.HandleFunc("/v1/eta/", srvDeps.EtaHandler)

	// Subscriptions
	mux.HandleFunc("/v1/events/stream", srvDeps.EventsStreamHandler)
	mux.HandleFunc("/v1/ws", srvDeps.WSHandler)

	// Admin
	mux.HandleFunc("/v1/admin/schedule/run", srvDeps.ScheduleRunHandler)
	mux.HandleFunc("/v1/admin/solver-metrics", srvDeps.SolverMetricsHandler)

	// Health, metrics, docs
	mux.HandleFunc("/healthz", srvDeps.HealthHandler)
	mux.HandleFunc("/readyz", srvDeps.ReadyHandler)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/openapi.yaml", srvDeps.OpenAPIHandler)
	mux.HandleFunc("/openapi.json", srvDeps.OpenAPIJSONHandler)
	mux.HandleFunc("/docs", srvDeps.DocsHandler)
	mux.HandleFunc("/debug/info", srvDeps.DebugJSON)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           logMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Schedule.Enabled {
		go srvDeps.Scheduler.Run(ctx)
	}

	go func() {
		log.Printf("API listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown err=%v", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE working through the middleware.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// pathLabel collapses ids so the metrics path label stays bounded.
func pathLabel(path string) string {
	switch {
	case path == "/v1/routes/current", path == "/v1/eta/batch":
		return path
	case strings.HasPrefix(path, "/v1/routes/"):
		return "/v1/routes/{id}"
	case strings.HasPrefix(path, "/v1/eta/"):
		return "/v1/eta/{orderId}"
	case strings.HasPrefix(path, "/v1/merchants/"):
		return "/v1/merchants/{id}/" + path[strings.LastIndex(path, "/")+1:]
	}
	return path
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		dur := time.Since(start)
		status := strconv.Itoa(rec.status)
		label := pathLabel(r.URL.Path)
		metrics.HTTPRequests.WithLabelValues(r.Method, label, status).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, label, status).Observe(dur.Seconds())
		log.Printf("%s %s %s status=%s dur=%v", r.RemoteAddr, r.Method, r.URL.Path, status, dur)
	})
}
