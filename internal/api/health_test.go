package api

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/testing/protocmp"

	"github.com/banshee-data/crossroads/internal/timeutil"
)

func TestHealthMonitorTracksRunning(t *testing.T) {
	ctrl := newFakeController()
	h := NewHealthMonitor(ctrl, timeutil.NewMockClock(testNow))
	ctx := context.Background()

	status, err := h.Check(ctx, HealthService)
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)

	status, err = h.Check(ctx, "")
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, status)

	require.NoError(t, ctrl.Start())
	h.Update()
	status, err = h.Check(ctx, HealthService)
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, status)

	_, err = h.Check(ctx, "unknown.Service")
	require.Error(t, err)
}

func TestHealthMonitorRun(t *testing.T) {
	ctrl := newFakeController()
	clock := timeutil.NewMockClock(testNow)
	h := NewHealthMonitor(ctrl, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Run(ctx, time.Second)
	}()

	require.NoError(t, ctrl.Start())
	clock.BlockUntil(1)
	clock.Advance(time.Second)

	require.Eventually(t, func() bool {
		status, err := h.Check(context.Background(), HealthService)
		return err == nil && status == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
	status, err := h.Check(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)
}

func TestHealthMonitorRegister(t *testing.T) {
	s := grpc.NewServer()
	defer s.Stop()
	NewHealthMonitor(newFakeController(), nil).Register(s)

	info := s.GetServiceInfo()
	if _, ok := info[healthpb.Health_ServiceDesc.ServiceName]; !ok {
		t.Errorf("health service not registered: %v", info)
	}
}

func TestHealthOverGRPC(t *testing.T) {
	lis := bufconn.Listen(1 << 16)
	s := grpc.NewServer()
	ctrl := newFakeController()
	h := NewHealthMonitor(ctrl, nil)
	h.Register(s)
	go func() { _ = s.Serve(lis) }()
	defer s.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: HealthService})
	require.NoError(t, err)
	want := &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}
	if diff := cmp.Diff(want, got, protocmp.Transform()); diff != "" {
		t.Errorf("stopped response mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, ctrl.Start())
	h.Update()
	got, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: HealthService})
	require.NoError(t, err)
	want = &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}
	if diff := cmp.Diff(want, got, protocmp.Transform()); diff != "" {
		t.Errorf("running response mismatch (-want +got):\n%s", diff)
	}
}
