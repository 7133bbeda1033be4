package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/signalsfoundry/station-keeper/internal/config"
	"github.com/signalsfoundry/station-keeper/internal/logging"
	"github.com/signalsfoundry/station-keeper/internal/observability"
	"github.com/signalsfoundry/station-keeper/internal/shell/tui"
	"github.com/signalsfoundry/station-keeper/internal/sim"
	"github.com/signalsfoundry/station-keeper/timectrl"
)

func main() {
	configPath := flag.String("config", "", "optional config file (yaml, json or toml)")
	logPath := flag.String("log-file", "mission-control.log", "file receiving structured logs")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logFile, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open log file: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()
	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: logFile})

	if err := run(context.Background(), cfg, log, logFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run drives the TUI until quit. Stdout belongs to the terminal UI, so
// stdout-exported spans are written to spanOut instead.
func run(ctx context.Context, cfg config.Config, log logging.Logger, spanOut io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
		Output:      spanOut,
	}, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	engine, err := sim.NewEngine(cfg, log)
	if err != nil {
		return err
	}

	p := tea.NewProgram(tui.New(ctx, engine), tea.WithAltScreen())
	engine.Subscribe(tui.Observer(p))

	if cfg.AutoStart {
		if err := engine.Start(ctx); err != nil {
			return err
		}
	}

	_, runErr := p.Run()
	if err := engine.Shutdown(); errors.Is(err, timectrl.ErrStopTimeout) {
		return err
	}
	return runErr
}
