// Package health reports whether the service can reach its storage
package health

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/KirkDiggler/rpg-encounters/internal/errors"
	redisclient "github.com/KirkDiggler/rpg-encounters/internal/redis"
)

// ServiceName is the health service name registered for the encounter API
const ServiceName = "rpgencounters.v1alpha1.EncounterService"

const (
	defaultInterval = 10 * time.Second
	pingTimeout     = 2 * time.Second
)

// MonitorConfig contains configuration for the monitor
type MonitorConfig struct {
	Client redisclient.Client
	Server *health.Server
	// Interval between pings (optional, defaults to 10 seconds)
	Interval time.Duration
}

// Validate validates the config
func (cfg *MonitorConfig) Validate() error {
	if cfg == nil {
		return errors.InvalidArgument("config cannot be nil")
	}

	vb := errors.NewValidationBuilder()
	if cfg.Client == nil {
		vb.RequiredField("client")
	}
	if cfg.Server == nil {
		vb.RequiredField("server")
	}
	if cfg.Interval < 0 {
		vb.Field("interval", "must not be negative")
	}
	return vb.Build()
}

// Monitor pings Redis and mirrors the result into a gRPC health server
type Monitor struct {
	client   redisclient.Client
	server   *health.Server
	interval time.Duration
	serving  atomic.Bool
}

// NewMonitor creates a monitor. Status starts NOT_SERVING until the first check.
func NewMonitor(cfg *MonitorConfig) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	interval := cfg.Interval
	if interval == 0 {
		interval = defaultInterval
	}

	m := &Monitor{
		client:   cfg.Client,
		server:   cfg.Server,
		interval: interval,
	}
	m.set(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return m, nil
}

// Check pings Redis once and updates the reported status
func (m *Monitor) Check(ctx context.Context) grpc_health_v1.HealthCheckResponse_ServingStatus {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	status := grpc_health_v1.HealthCheckResponse_SERVING
	if err := m.client.Ping(pingCtx).Err(); err != nil {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		if m.serving.Load() {
			slog.WarnContext(ctx, "redis unreachable, reporting not serving", "error", err)
		}
	} else if !m.serving.Load() {
		slog.InfoContext(ctx, "redis reachable, reporting serving")
	}

	m.set(status)
	return status
}

// Serving reports the last observed status
func (m *Monitor) Serving() bool {
	return m.serving.Load()
}

// Run checks on every interval until ctx is done
func (m *Monitor) Run(ctx context.Context) {
	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.server.Shutdown()
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

func (m *Monitor) set(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	m.serving.Store(status == grpc_health_v1.HealthCheckResponse_SERVING)
	m.server.SetServingStatus("", status)
	m.server.SetServingStatus(ServiceName, status)
}
