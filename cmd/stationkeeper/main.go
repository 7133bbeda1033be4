package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/signalsfoundry/station-keeper/internal/api"
	"github.com/signalsfoundry/station-keeper/internal/config"
	"github.com/signalsfoundry/station-keeper/internal/logging"
	"github.com/signalsfoundry/station-keeper/internal/observability"
	"github.com/signalsfoundry/station-keeper/internal/sim"
	"github.com/signalsfoundry/station-keeper/internal/sink/mqtt"
	"github.com/signalsfoundry/station-keeper/timectrl"
)

func main() {
	configPath := flag.String("config", "", "optional config file (yaml, json or toml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, AddSource: true})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		log.Error(ctx, "failed to listen", logging.String("addr", cfg.HTTP.Addr), logging.Err(err))
		os.Exit(1)
	}

	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "station keeper exited", logging.Err(err))
		os.Exit(1)
	}
}

// run serves the API on lis until ctx is cancelled, then stops the loop and
// drains the server. A loop that fails to stop in time is reported as an
// error.
func run(ctx context.Context, cfg config.Config, log logging.Logger, lis net.Listener) error {
	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
	}, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewStationCollector(nil)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	opts := []sim.Option{sim.WithMetrics(collector)}
	if cfg.MQTT.Enabled() {
		sink, err := mqtt.Dial(cfg.MQTT, log)
		if err != nil {
			return err
		}
		defer sink.Close()
		opts = append(opts, sim.WithObserver(sink.Observe))
		log.Info(ctx, "publishing telemetry to mqtt",
			logging.String("broker", cfg.MQTT.Broker),
			logging.String("topic", cfg.MQTT.Topic),
		)
	}

	engine, err := sim.NewEngine(cfg, log, opts...)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler: api.NewServer(engine, api.Options{
			Logger:      log,
			Metrics:     collector,
			ControlRPS:  cfg.HTTP.ControlRPS,
			BaseContext: ctx,
		}).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "serving station-keeping API", logging.String("addr", lis.Addr().String()))
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if cfg.AutoStart {
		if err := engine.Start(ctx); err != nil {
			return fmt.Errorf("auto start: %w", err)
		}
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			_ = engine.Shutdown()
			return fmt.Errorf("http server: %w", err)
		}
	}

	log.Info(context.Background(), "shutting down station keeper")
	stopErr := engine.Shutdown()

	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Warn(drainCtx, "http shutdown", logging.Err(err))
	}

	if errors.Is(stopErr, timectrl.ErrStopTimeout) {
		return stopErr
	}
	return nil
}
