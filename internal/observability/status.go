package observability

import (
	"context"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"

	"github.com/signalsfoundry/ascent-controller/internal/logging"
	"github.com/signalsfoundry/ascent-controller/internal/maneuver"
	"github.com/signalsfoundry/ascent-controller/internal/mission"
	"github.com/signalsfoundry/ascent-controller/internal/telemetry"
)

// MissionHealthService is the health-check service name that tracks the
// mission. It is NOT_SERVING before launch and after an abort.
const MissionHealthService = "ascent.Mission"

const requestIDMetadataKey = "x-request-id"

// StatusServer is the gRPC status endpoint: the standard health service,
// instrumented with OpenTelemetry and Prometheus.
type StatusServer struct {
	server *grpc.Server
	health *health.Server
	logger logging.Logger
}

var _ mission.Observer = (*StatusServer)(nil)

// NewStatusServer builds the server. collector may be nil.
func NewStatusServer(missionID string, collector *MissionCollector, logger logging.Logger) *StatusServer {
	if logger == nil {
		logger = logging.Noop()
	}
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(MissionHealthService, healthpb.HealthCheckResponse_NOT_SERVING)

	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			MissionUnaryServerInterceptor(logger, missionID),
			collector.UnaryServerInterceptor(),
		),
	)
	healthpb.RegisterHealthServer(srv, hs)
	return &StatusServer{server: srv, health: hs, logger: logger}
}

// Serve accepts connections on lis until Stop is called.
func (s *StatusServer) Serve(lis net.Listener) error {
	return s.server.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains the server.
func (s *StatusServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}

// PhaseChanged implements mission.Observer.
func (s *StatusServer) PhaseChanged(ctx context.Context, _, to mission.Phase, _ time.Duration) {
	st := healthpb.HealthCheckResponse_SERVING
	if to == mission.Aborted {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(MissionHealthService, st)
}

// TriggerFired implements mission.Observer.
func (s *StatusServer) TriggerFired(context.Context, string, telemetry.Sample) {}

// AttitudeCommanded implements mission.Observer.
func (s *StatusServer) AttitudeCommanded(context.Context, float64, float64) {}

// BurnPlanned implements mission.Observer.
func (s *StatusServer) BurnPlanned(context.Context, maneuver.BurnPlan) {}

// MissionFailed implements mission.Observer.
func (s *StatusServer) MissionFailed(ctx context.Context, kind string, _ error) {
	s.logger.Warn(ctx, "mission health set to NOT_SERVING", logging.String("kind", kind))
}

// MissionUnaryServerInterceptor attaches the mission_id and a per-call
// logger to the context, sourcing request_id from inbound metadata when
// provided.
func MissionUnaryServerInterceptor(base logging.Logger, missionID string) grpc.UnaryServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		callLog := base.With(logging.String("method", info.FullMethod))
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if incoming := firstHeader(md, requestIDMetadataKey); incoming != "" {
				callLog = callLog.With(logging.String("request_id", incoming))
			}
		}
		ctx = logging.ContextWithMissionID(ctx, missionID)
		ctx, callLog = logging.WithMissionLogger(ctx, callLog)
		ctx = logging.ContextWithLogger(ctx, callLog)

		resp, err := handler(ctx, req)
		if err != nil {
			callLog.Debug(ctx, "status rpc failed", logging.Err(err))
		}
		return resp, err
	}
}

func firstHeader(md metadata.MD, key string) string {
	if md == nil {
		return ""
	}
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
