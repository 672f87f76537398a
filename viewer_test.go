// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package fluidsim

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gogpu/gpucontext"

	"github.com/gogpu/fluidsim/internal/config"
	"github.com/gogpu/fluidsim/internal/gpu"
	"github.com/gogpu/fluidsim/internal/refkernel"
	"github.com/gogpu/fluidsim/internal/render"
)

func smallSettings() config.Settings {
	s := config.Default()
	s.Window = config.Window{Width: 32, Height: 24}
	s.Simulation.Grid = config.Grid{Size: [3]uint32{4, 4, 4}, CellSize: 0.1}
	s.Simulation.Particles.Volumes = []config.Volume{{
		Min:     [3]float32{0.1, 0.1, 0.1},
		Max:     [3]float32{0.2, 0.2, 0.2},
		Spacing: 0.05,
	}}
	s.Simulation.GridFluid.Iterations = 2
	s.Simulation.Coupling.Interval = 1
	return s
}

func newTestViewer(t *testing.T, s config.Settings, opts ...Option) *Viewer {
	t.Helper()
	_, dev := refkernel.Open(gpu.Options{})
	t.Cleanup(func() { dev.Close() })
	v, err := NewViewer(context.Background(), dev, s, opts...)
	if err != nil {
		t.Fatalf("NewViewer: %v", err)
	}
	t.Cleanup(func() {
		if err := v.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return v
}

func TestRunStopsAtFrameLimit(t *testing.T) {
	v := newTestViewer(t, smallSettings(), WithMaxFrames(3))
	v.Start()
	if err := v.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s := v.Stats(); s.Frames != 3 || s.Ticks != 3 {
		t.Errorf("Stats = %+v", s)
	}
	if v.State() != Running {
		t.Errorf("State = %v", v.State())
	}
}

func TestStepPausesAfterOneTick(t *testing.T) {
	v := newTestViewer(t, smallSettings(), WithMaxFrames(3))
	v.Step()
	if err := v.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s := v.Stats(); s.Ticks != 1 || s.Frames != 3 {
		t.Errorf("Stats = %+v", s)
	}
	if v.State() != Idle {
		t.Errorf("State = %v, want idle", v.State())
	}
}

func TestCancelledContextEndsRun(t *testing.T) {
	v := newTestViewer(t, smallSettings())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := v.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

// keySource keeps the callbacks the viewer registers.
type keySource struct {
	gpucontext.NullEventSource

	key    func(gpucontext.Key, gpucontext.Modifiers)
	resize func(int, int)
}

func (s *keySource) OnKeyPress(fn func(gpucontext.Key, gpucontext.Modifiers)) { s.key = fn }
func (s *keySource) OnResize(fn func(int, int))                               { s.resize = fn }

func TestKeyBindings(t *testing.T) {
	src := &keySource{}
	v := newTestViewer(t, smallSettings(), WithEvents(src))
	if src.key == nil || src.resize == nil {
		t.Fatal("viewer did not subscribe to key and resize events")
	}

	src.key(gpucontext.KeySpace, 0)
	if v.State() != Running {
		t.Errorf("after Space: %v", v.State())
	}
	src.key(gpucontext.KeySpace, 0)
	if v.State() != Idle {
		t.Errorf("after second Space: %v", v.State())
	}
	src.key(gpucontext.KeyN, 0)
	if v.State() != SingleStep {
		t.Errorf("after N: %v", v.State())
	}

	vis := v.Visualization()
	src.key(gpucontext.KeyV, 0)
	if v.Visualization() != vis.Next() {
		t.Errorf("after V: %v", v.Visualization())
	}
	rt := v.RenderType()
	src.key(gpucontext.KeyT, 0)
	if v.RenderType() != rt.Next() {
		t.Errorf("after T: %v", v.RenderType())
	}

	src.key(gpucontext.KeyEscape, 0)
	done := make(chan error, 1)
	go func() { done <- v.Run(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run after Escape: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after Escape")
	}
}

func TestResizeRebuildsTarget(t *testing.T) {
	src := &keySource{}
	v := newTestViewer(t, smallSettings(), WithEvents(src), WithMaxFrames(2))
	src.resize(48, 40)
	if err := v.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if w, h := v.target.Size(); w != 48 || h != 40 {
		t.Errorf("target %dx%d after resize", w, h)
	}
	if s := v.Stats(); s.Skipped != 1 || s.Frames != 1 {
		t.Errorf("Stats = %+v", s)
	}
}

func TestConfigReload(t *testing.T) {
	updates := make(chan config.Settings, 1)
	v := newTestViewer(t, smallSettings(), WithUpdates(updates), WithMaxFrames(1))
	ctx := context.Background()
	first, count := v.sim, v.sim.Buffers().Count()

	same := smallSettings()
	same.Simulation.Fluid.Viscosity = 1
	same.Simulation.Type = config.TypeSPH
	updates <- same
	if err := v.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v.sim != first {
		t.Error("same particle count rebuilt the simulation")
	}
	if got := v.sim.Buffers().Params().Viscosity; got != 1 {
		t.Errorf("viscosity after refill = %v", got)
	}
	if v.SimulationType() != SPH {
		t.Errorf("type after reload = %v", v.SimulationType())
	}

	denser := smallSettings()
	denser.Simulation.Particles.Volumes[0].Spacing = 0.025
	updates <- denser
	if err := v.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v.sim == first {
		t.Error("new particle count kept the old simulation")
	}
	if v.sim.Buffers().Count() <= count {
		t.Errorf("particles %d after reload, had %d", v.sim.Buffers().Count(), count)
	}
}

func TestBadReloadKeepsRunning(t *testing.T) {
	updates := make(chan config.Settings, 1)
	v := newTestViewer(t, smallSettings(), WithUpdates(updates), WithMaxFrames(2))
	bad := smallSettings()
	bad.Simulation.Particles.Dataset = filepath.Join(t.TempDir(), "missing.txt")
	updates <- bad
	if err := v.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v.Stats().Frames != 2 {
		t.Errorf("Frames = %d", v.Stats().Frames)
	}
}

func TestCaptureToFile(t *testing.T) {
	s := smallSettings()
	s.Output = config.Output{ToFile: true, Path: t.TempDir(), Format: "bmp", FrameRate: 30}
	v := newTestViewer(t, s, WithMaxFrames(2))
	if err := v.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, name := range []string{"frame_000000.bmp", "frame_000001.bmp"} {
		if _, err := os.Stat(filepath.Join(s.Output.Path, name)); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
}

func TestRunAfterClose(t *testing.T) {
	_, dev := refkernel.Open(gpu.Options{})
	defer dev.Close()
	v, err := NewViewer(context.Background(), dev, smallSettings())
	if err != nil {
		t.Fatalf("NewViewer: %v", err)
	}
	if err := v.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := v.Run(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Run after Close = %v, want ErrClosed", err)
	}
	if err := v.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestSetters(t *testing.T) {
	v := newTestViewer(t, smallSettings(), WithMaxFrames(1))
	if err := v.SetSimulationType(Grid); err != nil {
		t.Fatalf("SetSimulationType: %v", err)
	}
	if err := v.SetSimulationType(SimulationType(9)); err == nil {
		t.Error("unknown simulation type accepted")
	}
	v.SetRenderType(RenderGrid)
	v.SetVisualization(Temperature)
	called := false
	v.SetViewMatrixGetter(func() mgl32.Mat4 {
		called = true
		return mgl32.Ident4()
	})
	if err := v.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v.drv.SimulationType() != Grid {
		t.Errorf("driver type = %v", v.drv.SimulationType())
	}
	if got := v.drv.DrawOptions(); got != (render.DrawOptions{Type: RenderGrid, Visualization: Temperature}) {
		t.Errorf("draw options = %+v", got)
	}
	if !called {
		t.Error("view matrix getter not used")
	}
}

func TestSetLoggerPropagates(t *testing.T) {
	l := slog.New(slog.NewTextHandler(os.Stderr, nil))
	SetLogger(l)
	defer SetLogger(nil)
	if Logger() != l || gpu.Logger() != l {
		t.Error("logger not propagated")
	}
	SetLogger(nil)
	if Logger().Enabled(context.Background(), slog.LevelError) {
		t.Error("nil logger is not silent")
	}
}
