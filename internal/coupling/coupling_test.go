// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package coupling_test

import (
	"context"
	"math"
	"testing"

	"github.com/gogpu/fluidsim/internal/coupling"
	"github.com/gogpu/fluidsim/internal/gpu"
	"github.com/gogpu/fluidsim/internal/grid"
	"github.com/gogpu/fluidsim/internal/gridfluid"
	"github.com/gogpu/fluidsim/internal/refkernel"
	"github.com/gogpu/fluidsim/internal/sim"
)

func TestMeasure(t *testing.T) {
	tests := []struct {
		name   string
		counts []uint32
		want   coupling.Occupancy
	}{
		{"empty", nil, coupling.Occupancy{}},
		{"none occupied", []uint32{0, 0, 0, 0}, coupling.Occupancy{}},
		{"mixed", []uint32{3, 0, 1, 0}, coupling.Occupancy{Occupied: 2, MaxPerCell: 3, Particles: 4, Fraction: 0.5}},
		{"full", []uint32{1, 2}, coupling.Occupancy{Occupied: 2, MaxPerCell: 2, Particles: 3, Fraction: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := coupling.Measure(tt.counts); got != tt.want {
				t.Errorf("Measure = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestHeatRate(t *testing.T) {
	tests := []struct {
		fraction   float64
		saturation float64
		want       float32
	}{
		{0.5, 0.85, 1},
		{0.85, 0.85, 1.7},
		{0.9, 0.85, 0},
		{0.9, 0, 1.8},
	}
	for _, tt := range tests {
		got := coupling.HeatRate(2, coupling.Occupancy{Fraction: tt.fraction}, tt.saturation)
		if math.Abs(float64(got-tt.want)) > 1e-6 {
			t.Errorf("HeatRate(fraction %g, saturation %g) = %g, want %g", tt.fraction, tt.saturation, got, tt.want)
		}
	}
}

var cube4 = sim.Grid{Size: [3]uint32{4, 4, 4}, CellSize: 0.1}

type fixture struct {
	dev   *gpu.Device
	bufs  *sim.Buffers
	grid  *grid.Builder
	field *gridfluid.Solver
	stage *coupling.Stage
}

func newFixture(t *testing.T, particles []sim.Particle, interval int) *fixture {
	t.Helper()
	ctx := context.Background()
	_, dev := refkernel.Open(gpu.Options{})
	t.Cleanup(func() { dev.Close() })

	bufs, err := sim.NewBuffers(ctx, dev, cube4, sim.DefaultFluid(), particles)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(bufs.Destroy)
	g, err := grid.New(ctx, dev, grid.Config{
		Params:    bufs.ParamBuffer(),
		Particles: bufs.ParticleBuffer(),
		Grid:      cube4,
		Capacity:  bufs.Params().Capacity,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(g.Destroy)
	field, err := gridfluid.New(ctx, dev, gridfluid.Config{Grid: cube4, Timestep: 0.001})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(field.Destroy)
	stage, err := coupling.New(dev, coupling.Config{
		Params:         bufs.ParamBuffer(),
		Particles:      bufs.ParticleBuffer(),
		Pairs:          g.Pairs(),
		Table:          g.CellTable(),
		GridVelocity:   field.Velocity(),
		VelocitySource: field.VelocitySource(),
		ScalarSource:   field.ScalarSource(),
		Cells:          cube4.CellCount(),
		Count:          bufs.Count(),
		Interval:       interval,
		Drag:           100,
		Transfer:       0.5,
		Heat:           10,
		Saturation:     0.85,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(stage.Destroy)
	return &fixture{dev: dev, bufs: bufs, grid: g, field: field, stage: stage}
}

func (f *fixture) tick(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	built := f.dev.Semaphores().Get("grid")
	if err := f.grid.Run(ctx, nil, built); err != nil {
		t.Fatalf("grid: %v", err)
	}
	done := f.dev.Semaphores().Get("coupling")
	if err := f.stage.Run(ctx, []*gpu.Semaphore{built}, done); err != nil {
		t.Fatalf("coupling: %v", err)
	}
	if !done.Signaled() {
		t.Fatal("coupling did not signal")
	}
	done.Release()
}

// Three particles in cell 0 and one in the last cell.
func clusters() []sim.Particle {
	return []sim.Particle{
		sim.NewParticle([3]float32{0.01, 0.01, 0.01}, [3]float32{1, 0, 0}),
		sim.NewParticle([3]float32{0.02, 0.02, 0.02}, [3]float32{3, 0, 0}),
		sim.NewParticle([3]float32{0.03, 0.03, 0.03}, [3]float32{2, 0, 0}),
		sim.NewParticle([3]float32{0.39, 0.39, 0.39}, [3]float32{0, 2, 0}),
	}
}

func TestRunExchange(t *testing.T) {
	f := newFixture(t, clusters(), 1)
	f.tick(t)

	occ, ok := f.stage.Last()
	if !ok {
		t.Fatal("no run recorded")
	}
	want := coupling.Occupancy{Occupied: 2, MaxPerCell: 3, Particles: 4, Fraction: 2.0 / 64}
	if occ != want {
		t.Fatalf("occupancy = %+v, want %+v", occ, want)
	}

	ctx := context.Background()
	vsrc, err := gpu.Read[[4]float32](ctx, f.field.VelocitySource())
	if err != nil {
		t.Fatal(err)
	}
	ssrc, err := gpu.Read[float32](ctx, f.field.ScalarSource())
	if err != nil {
		t.Fatal(err)
	}
	last := cube4.CellCount() - 1
	if math.Abs(float64(vsrc[0][0]-1)) > 1e-6 || vsrc[0][1] != 0 || vsrc[0][2] != 0 {
		t.Errorf("velocity source[0] = %v, want mean 2 * transfer 0.5", vsrc[0])
	}
	if vsrc[last] != [4]float32{0, 1, 0, 0} {
		t.Errorf("velocity source[last] = %v", vsrc[last])
	}
	rate := coupling.HeatRate(10, occ, 0.85)
	if math.Abs(float64(ssrc[0]-3*rate)) > 1e-6 || math.Abs(float64(ssrc[last]-rate)) > 1e-6 {
		t.Errorf("scalar source = %g, %g; want %g, %g", ssrc[0], ssrc[last], 3*rate, rate)
	}
	for c := 1; c < int(last); c++ {
		if vsrc[c] != ([4]float32{}) || ssrc[c] != 0 {
			t.Fatalf("empty cell %d has source %v / %g", c, vsrc[c], ssrc[c])
		}
	}
}

func TestRunDragTowardGridVelocity(t *testing.T) {
	f := newFixture(t, clusters(), 1)
	f.tick(t)

	// The grid field is at rest, so drag only slows particles down.
	got, err := gpu.Read[sim.Particle](context.Background(), f.bufs.ParticleBuffer())
	if err != nil {
		t.Fatal(err)
	}
	keep := 1 - float32(100)*sim.DefaultFluid().Timestep
	for i, p := range clusters() {
		for a := range 3 {
			if want := p.Velocity[a] * keep; math.Abs(float64(got[i].Velocity[a]-want)) > 1e-5 {
				t.Errorf("particle %d velocity[%d] = %g, want %g", i, a, got[i].Velocity[a], want)
			}
		}
	}
}

func TestRunIntervalClearsSources(t *testing.T) {
	f := newFixture(t, clusters(), 2)
	f.tick(t)
	f.tick(t)

	vsrc, err := gpu.Read[[4]float32](context.Background(), f.field.VelocitySource())
	if err != nil {
		t.Fatal(err)
	}
	for c, v := range vsrc {
		if v != ([4]float32{}) {
			t.Fatalf("source %d = %v on an off tick", c, v)
		}
	}
	if live := f.dev.Semaphores().Live(); live != 0 {
		t.Errorf("live semaphores = %d", live)
	}
}

func TestNewRequiresBuffers(t *testing.T) {
	_, dev := refkernel.Open(gpu.Options{})
	defer dev.Close()
	if _, err := coupling.New(dev, coupling.Config{Cells: 8, Count: 1}); err == nil {
		t.Fatal("New accepted missing buffers")
	}
}
