package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"zexplore/stats"
)

// The service reported by the health listener
const serviceName = "zexplore"

// The listeners that expose a running search
type monitor struct {
	log    *slog.Logger
	http   *http.Server
	grpc   *grpc.Server
	health *health.Server
	wg     sync.WaitGroup
}

func newMonitor(log *slog.Logger) *monitor {
	return &monitor{log: log}
}

// Serve the counters of the search on /metrics
func (m *monitor) serveMetrics(lis net.Listener, st *stats.Stats, run string) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		stats.NewCollector(st, prometheus.Labels{"run": run}),
		collectors.NewGoCollector(),
	)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	m.http = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	m.log.Info("Serving metrics", "addr", lis.Addr())
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.http.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Error("Metrics listener failed", "err", err)
		}
	}()
}

// Serve the grpc health service. The search is SERVING until the monitor is stopped.
func (m *monitor) serveHealth(lis net.Listener) {
	m.health = health.NewServer()
	m.grpc = grpc.NewServer(grpc.UnaryInterceptor(m.logCall))
	healthpb.RegisterHealthServer(m.grpc, m.health)
	m.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	m.log.Info("Serving health", "addr", lis.Addr())
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			m.log.Error("Health listener failed", "err", err)
		}
	}()
}

func (m *monitor) logCall(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	resp, err := handler(ctx, req)
	m.log.Debug("Served call", "method", info.FullMethod, "err", err)
	return resp, err
}

// Report the search as finished and close the listeners
func (m *monitor) stop() {
	if m.health != nil {
		m.health.Shutdown()
		m.grpc.GracefulStop()
	}
	if m.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.http.Shutdown(ctx); err != nil {
			m.log.Warn("Closing metrics listener", "err", err)
		}
		cancel()
	}
	m.wg.Wait()
}
