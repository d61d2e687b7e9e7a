package health

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/banshee-data/bledoubt/internal/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func dial(t *testing.T, s *Server) healthpb.HealthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	g := grpc.NewServer()
	s.Register(g)
	go func() { _ = g.Serve(lis) }()
	t.Cleanup(g.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func check(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestServer_ReflectsChecker(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	s := NewServer(healthy.Load, time.Second, timeutil.NewMockClock(time.Unix(0, 0)))
	c := dial(t, s)

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, Service))

	healthy.Store(false)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, s.Update())
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, Service))
}

func TestServer_WatchPollsAndShutsDown(t *testing.T) {
	var healthy atomic.Bool
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	s := NewServer(healthy.Load, time.Second, clock)
	c := dial(t, s)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, ""))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Watch(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return clock.TickerCount() == 1 }, time.Second, 5*time.Millisecond)
	healthy.Store(true)
	clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		return check(t, c, Service) == healthpb.HealthCheckResponse_SERVING
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, Service))
}
