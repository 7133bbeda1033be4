package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/signalsfoundry/station-keeper/internal/config"
	"github.com/signalsfoundry/station-keeper/internal/logging"
	"github.com/signalsfoundry/station-keeper/internal/sim"
)

func TestStationKeeperStartupSmoke(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}

	cfg := config.Default()
	cfg.TickRateHz = 50
	cfg.AutoStart = true

	log := logging.New(logging.Config{Level: "warn", Format: "text"})

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, cfg, log, lis)
	}()

	base := "http://" + lis.Addr().String()
	var st sim.Status
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err := http.Get(base + "/api/v1/status")
		if err == nil {
			err = json.NewDecoder(resp.Body).Decode(&st)
			resp.Body.Close()
		}
		if err == nil && st.Ticks > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no ticks reported: status=%+v err=%v", st, err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if st.Phase != "running" {
		t.Fatalf("phase = %q, want running with auto_start", st.Phase)
	}

	resp, err := http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/metrics = %d, want 200", resp.StatusCode)
	}

	cancel()

	if err := <-errCh; err != nil {
		t.Fatalf("run returned error: %v", err)
	}
}
