// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package config_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gogpu/fluidsim/internal/config"
)

const sample = `
window: {width: 800, height: 600}
log: {level: debug}
shaders: {overrides: {sph: sph.wgsl}}
simulation:
  type: sph
  grid: {size: [16, 8, 8], origin: [0, 0, 0], cell_size: 0.05}
  fluid: {timestep: 0.002, gravity: [0, -1, 0]}
  particles:
    volumes: [{min: [0.1,0.1,0.1], max: [0.2,0.2,0.2], spacing: 0.02}]
  grid_fluid: {iterations: 8}
  coupling: {interval: 2}
gpu: {fence_timeout: 2s}
output: {to_file: true, path: out, format: tiff, frame_rate: 30}
metrics: {addr: ":9100"}
`

func TestParse(t *testing.T) {
	s, err := config.Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Window.Width != 800 || s.Simulation.Type != config.TypeSPH {
		t.Errorf("window %+v type %q", s.Window, s.Simulation.Type)
	}
	if lvl, _ := s.LogLevel(); lvl != slog.LevelDebug {
		t.Errorf("LogLevel = %v", lvl)
	}
	if g := s.SimGrid(); g.Size != [3]uint32{16, 8, 8} || g.CellSize != 0.05 {
		t.Errorf("SimGrid = %+v", g)
	}
	f := s.SimFluid()
	if f.Timestep != 0.002 || f.Gravity[1] != -1 {
		t.Errorf("SimFluid = %+v", f)
	}
	if f.RestDensity != 1000 {
		t.Errorf("rest density default lost: %v", f.RestDensity)
	}
	if s.GPU.FenceTimeout != 2*time.Second {
		t.Errorf("FenceTimeout = %v", s.GPU.FenceTimeout)
	}
	if s.Simulation.GridFluid.Iterations != 8 || s.Simulation.Coupling.Drag != 0.5 {
		t.Errorf("grid fluid %+v coupling %+v", s.Simulation.GridFluid, s.Simulation.Coupling)
	}
	if src := s.SimSource(); len(src.Volumes) != 1 || src.Volumes[0].Spacing != 0.02 {
		t.Errorf("SimSource = %+v", src)
	}
	if s.Shaders.Overrides["sph"] != "sph.wgsl" || s.Metrics.Addr != ":9100" {
		t.Errorf("shaders %+v metrics %+v", s.Shaders, s.Metrics)
	}
}

func TestParseEmptyGivesDefaults(t *testing.T) {
	s, err := config.Parse(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Simulation.Type != config.TypeCoupled || s.GPU.FenceTimeout != 5*time.Second {
		t.Errorf("defaults = %+v", s)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name, yaml string
		invalid    bool
	}{
		{"unknown key", "window: {depth: 3}", false},
		{"bad type", "simulation: {type: lbm}", true},
		{"zero axis", "simulation: {grid: {size: [8, 0, 8]}}", true},
		{"no particles", "simulation: {particles: {volumes: []}}", true},
		{"bad volume", "simulation: {particles: {volumes: [{min: [0,0,0], max: [0,1,1], spacing: 0.1}]}}", true},
		{"radius", "simulation: {fluid: {support_radius: 0.5}}", true},
		{"interval", "simulation: {coupling: {interval: 0}}", true},
		{"log level", "log: {level: loud}", true},
		{"output format", "output: {to_file: true, format: gif}", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("Parse succeeded")
			}
			if got := errors.Is(err, config.ErrInvalid); got != tt.invalid {
				t.Errorf("errors.Is(ErrInvalid) = %v for %v", got, err)
			}
		})
	}
}

func TestWatcherDeliversReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fluidsim.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatal(err)
	}
	w, err := config.NewWatcher(path, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// A broken file is skipped.
	if err := os.WriteFile(path, []byte("window: [oops"), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	select {
	case s := <-w.Updates():
		t.Fatalf("broken file delivered %+v", s)
	default:
	}

	updated := strings.Replace(sample, "width: 800", "width: 1024", 1)
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case s := <-w.Updates():
		if s.Window.Width != 1024 {
			t.Errorf("reloaded width = %d", s.Window.Width)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload delivered")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}
}
