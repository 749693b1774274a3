package api

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/crossroads/internal/timeutil"
)

// HealthService is the gRPC health service name that tracks the arbitration
// loop. The empty service name reports the process itself.
const HealthService = "crossroads.Arbiter"

// RunningReporter is the part of Controller the health service needs.
type RunningReporter interface {
	Running() bool
}

// HealthMonitor mirrors the loop's running state into a gRPC health server:
// SERVING while the loop runs, NOT_SERVING otherwise.
type HealthMonitor struct {
	health *health.Server
	ctrl   RunningReporter
	clock  timeutil.Clock
}

// NewHealthMonitor creates the monitor and records the current state.
func NewHealthMonitor(ctrl RunningReporter, clock timeutil.Clock) *HealthMonitor {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	h := &HealthMonitor{health: health.NewServer(), ctrl: ctrl, clock: clock}
	h.Update()
	return h
}

// Register adds the health service to a gRPC server.
func (h *HealthMonitor) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.health)
}

// Update publishes the current running state.
func (h *HealthMonitor) Update() {
	h.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if h.ctrl.Running() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(HealthService, status)
}

// Check answers a health check without going through the network.
func (h *HealthMonitor) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := h.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// Run refreshes the state every interval until ctx is cancelled, then marks
// every service NOT_SERVING.
func (h *HealthMonitor) Run(ctx context.Context, interval time.Duration) {
	for {
		timer := h.clock.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			h.health.Shutdown()
			return
		case <-timer.C():
			h.Update()
		}
	}
}
