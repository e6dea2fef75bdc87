package observability

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"

	"github.com/signalsfoundry/ascent-controller/internal/logging"
	"github.com/signalsfoundry/ascent-controller/internal/mission"
)

func startStatusServer(t *testing.T, collector *MissionCollector) (*StatusServer, healthpb.HealthClient) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewStatusServer("m-1", collector, logging.Noop())
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return srv, healthpb.NewHealthClient(conn)
}

func checkHealth(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.GetStatus()
}

func TestStatusServerTracksMission(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewMissionCollector(reg)
	if err != nil {
		t.Fatalf("NewMissionCollector: %v", err)
	}
	srv, client := startStatusServer(t, collector)
	ctx := context.Background()

	if got := checkHealth(t, client, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("overall health = %v, want SERVING", got)
	}
	if got := checkHealth(t, client, MissionHealthService); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("pre-launch mission health = %v, want NOT_SERVING", got)
	}

	srv.PhaseChanged(ctx, mission.PreLaunch, mission.PoweredAscent, time.Second)
	if got := checkHealth(t, client, MissionHealthService); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("in-flight mission health = %v, want SERVING", got)
	}

	srv.PhaseChanged(ctx, mission.Burning, mission.Aborted, time.Second)
	srv.MissionFailed(ctx, mission.FailureStalled, errors.New("stalled"))
	if got := checkHealth(t, client, MissionHealthService); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("aborted mission health = %v, want NOT_SERVING", got)
	}

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("Health", "Check", "OK")); got != 4 {
		t.Fatalf("status_requests_total = %v, want 4", got)
	}
}

func TestMissionInterceptorAttachesContext(t *testing.T) {
	interceptor := MissionUnaryServerInterceptor(nil, "m-42")
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(requestIDMetadataKey, "req-7"))
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	var gotID string
	var gotLogger logging.Logger
	_, err := interceptor(ctx, struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		gotID = logging.MissionIDFromContext(ctx)
		gotLogger = logging.LoggerFromContext(ctx)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if gotID != "m-42" {
		t.Fatalf("mission_id = %q, want m-42", gotID)
	}
	if gotLogger == nil {
		t.Fatalf("no logger on context")
	}
}
