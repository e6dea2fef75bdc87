// Command ascent flies a vehicle from the launch pad to a circular parking
// orbit and deploys its payload.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/ascent-controller/internal/api"
	"github.com/signalsfoundry/ascent-controller/internal/config"
	"github.com/signalsfoundry/ascent-controller/internal/logging"
	"github.com/signalsfoundry/ascent-controller/internal/mission"
	"github.com/signalsfoundry/ascent-controller/internal/observability"
	"github.com/signalsfoundry/ascent-controller/internal/vehicle"
	"github.com/signalsfoundry/ascent-controller/internal/vehicle/fake"
	"github.com/signalsfoundry/ascent-controller/internal/vehicle/krpc"
	"github.com/signalsfoundry/ascent-controller/timectrl"
)

const shutdownTimeout = 5 * time.Second

// Options are the command-line flags.
type Options struct {
	ConfigPath   string
	Provider     string
	PrintMission bool
}

func parseFlags(args []string, stderr io.Writer) (Options, error) {
	var opts Options
	fs := flag.NewFlagSet("ascent", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to a YAML/JSON/TOML config file")
	fs.StringVar(&opts.Provider, "provider", "", "Override the vehicle provider (krpc|fake)")
	fs.BoolVar(&opts.PrintMission, "print-mission", false, "Print the effective flight profile and exit")
	if err := fs.Parse(args); err != nil {
		return Options{}, err
	}
	if fs.NArg() > 0 {
		return Options{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return opts, nil
}

func main() {
	log := logging.NewFromEnv()

	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout, log); err != nil {
		log.Error(ctx, "mission failed", logging.Err(err))
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, opts Options, stdout io.Writer, log logging.Logger) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.Provider != "" {
		cfg.Runtime.Provider.Kind = strings.ToLower(opts.Provider)
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if opts.PrintMission {
		return config.DumpMission(stdout, cfg.Mission)
	}

	_, missionID := logging.EnsureMissionID(ctx)
	shutdownTracing, err := observability.InitTracing(ctx, cfg.Runtime.Tracing, observability.FlightFromConfig(missionID, cfg), log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewMissionCollector(prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("init metrics collector: %w", err)
	}

	provider, providerOpts, closeProvider, err := openProvider(ctx, cfg.Runtime.Provider, log)
	if err != nil {
		return err
	}
	defer closeProvider()

	status := observability.NewStatusServer(missionID, collector, log)

	ctrl := mission.NewController(provider, cfg, append(providerOpts,
		mission.WithLogger(log),
		mission.WithMissionID(missionID),
		mission.WithObserver(mission.Observers(mission.LogObserver{Logger: log}, collector, status)),
		mission.WithSampleMetrics(collector),
	)...)

	router := api.NewRouter(ctrl, api.WithMetrics(collector.Handler()), api.WithLogger(log))
	apiSrv, err := serveHTTP(cfg.Runtime.APIAddr, router, "mission API", log)
	if err != nil {
		return err
	}
	metricsSrv, err := serveMetrics(cfg.Runtime.MetricsAddr, collector, log)
	if err != nil {
		_ = apiSrv.Close()
		return err
	}
	if err := serveStatus(cfg.Runtime.StatusAddr, status, log); err != nil {
		_ = apiSrv.Close()
		_ = metricsSrv.Close()
		return err
	}

	runErr := ctrl.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	status.Stop()
	for _, srv := range []*http.Server{apiSrv, metricsSrv} {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn(shutdownCtx, "http shutdown", logging.String("addr", srv.Addr), logging.Err(err))
		}
	}

	if runErr != nil {
		return runErr
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(ctrl.Status())
}

// openProvider connects the configured provider. The fake provider runs on a
// manual clock, so a dry run completes without waiting in real time.
func openProvider(ctx context.Context, cfg config.Provider, log logging.Logger) (vehicle.Provider, []mission.Option, func(), error) {
	switch strings.ToLower(cfg.Kind) {
	case "fake":
		clock := timectrl.NewManualClock(time.Now())
		log.Info(ctx, "using scripted vehicle", logging.String("provider", "fake"))
		return fake.New(clock, fake.DefaultProfile()), []mission.Option{mission.WithClock(clock)}, func() {}, nil
	case "krpc":
		p, err := krpc.Dial(ctx, cfg, krpc.WithLogger(log))
		if err != nil {
			return nil, nil, nil, err
		}
		return p, nil, p.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("%w: unsupported provider kind %q", config.ErrInvalid, cfg.Kind)
	}
}

func serveHTTP(addr string, handler http.Handler, name string, log logging.Logger) (*http.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s on %s: %w", name, addr, err)
	}
	srv := &http.Server{
		Addr:              lis.Addr().String(),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), name+" server exited", logging.Err(err))
		}
	}()
	log.Info(context.Background(), "serving "+name, logging.String("addr", srv.Addr))
	return srv, nil
}

func serveMetrics(addr string, collector *observability.MissionCollector, log logging.Logger) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	return serveHTTP(addr, mux, "Prometheus metrics", log)
}

func serveStatus(addr string, status *observability.StatusServer, log logging.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen status on %s: %w", addr, err)
	}
	go func() {
		if err := status.Serve(lis); err != nil {
			log.Warn(context.Background(), "status server exited", logging.Err(err))
		}
	}()
	log.Info(context.Background(), "serving gRPC status", logging.String("addr", lis.Addr().String()))
	return nil
}
