package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/signalsfoundry/station-keeper/internal/config"
	"github.com/signalsfoundry/station-keeper/internal/logging"
	"github.com/signalsfoundry/station-keeper/internal/sim"
)

// summary describes a finished batch run.
type summary struct {
	Ticks         int
	Corrections   int
	HistoryEvents int
	MeanDistance  float64
	MaxDistance   float64
	FinalDistance float64
}

func main() {
	configPath := flag.String("config", "", "optional config file (yaml, json or toml)")
	duration := flag.Duration("duration", 60*time.Second, "total simulation duration")
	accelerated := flag.Bool("accelerated", true, "run in accelerated mode (vs real-time)")
	record := flag.Bool("record", false, "record drift history from the first tick")
	seed := flag.Uint64("seed", 0, "random seed for drift and sensor noise (0 = random)")
	quiet := flag.Bool("quiet", false, "print only the summary")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	cfg.Mode = "realtime"
	if *accelerated {
		cfg.Mode = "accelerated"
	}
	if *record {
		cfg.RecordOnStart = true
	}
	if *seed != 0 {
		cfg.Seed = *seed
	}

	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stderr})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var out io.Writer = os.Stdout
	if *quiet {
		out = io.Discard
	}

	fmt.Printf("Starting simulation: duration=%s, tick=%s, mode=%s\n", *duration, cfg.TickPeriod(), cfg.Mode)
	sum, err := runBatch(ctx, cfg, *duration, out, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "simulation failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Simulation complete: ticks=%d corrections=%d history=%d mean=%.4f km max=%.4f km final=%.4f km\n",
		sum.Ticks, sum.Corrections, sum.HistoryEvents, sum.MeanDistance, sum.MaxDistance, sum.FinalDistance)
}

// runBatch drives the engine for duration of simulation time and prints one
// line per tick to out.
func runBatch(ctx context.Context, cfg config.Config, duration time.Duration, out io.Writer, log logging.Logger, opts ...sim.Option) (summary, error) {
	var distances []float64
	opts = append(opts, sim.WithObserver(func(r sim.Report) {
		distances = append(distances, r.Distance)
		e := r.Entry
		status := "on course"
		if !e.OnCourse {
			status = fmt.Sprintf("correction %s", *e.Correction)
		}
		fmt.Fprintf(out, "[%s] tick=%d pos=%s err=%.4f km %s\n",
			e.Timestamp.Format(time.RFC3339), r.Tick, e.CurrentPosition, e.ErrorMagnitude, status)
	}))

	engine, err := sim.NewEngine(cfg, log, opts...)
	if err != nil {
		return summary{}, err
	}
	done, err := engine.Run(ctx, duration)
	if err != nil {
		return summary{}, err
	}
	<-done
	if err := engine.Shutdown(); err != nil {
		return summary{}, err
	}

	st := engine.Status()
	sum := summary{
		Ticks:         int(st.Ticks),
		Corrections:   st.TotalCorrections,
		HistoryEvents: st.HistorySize,
	}
	if len(distances) > 0 {
		sum.MeanDistance = stat.Mean(distances, nil)
		sum.MaxDistance = floats.Max(distances)
		sum.FinalDistance = distances[len(distances)-1]
	}
	return sum, nil
}
