// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gridfluid_test

import (
	"context"
	"math"
	"slices"
	"testing"

	"github.com/gogpu/fluidsim/internal/gpu"
	"github.com/gogpu/fluidsim/internal/gpu/gputest"
	"github.com/gogpu/fluidsim/internal/gridfluid"
	"github.com/gogpu/fluidsim/internal/refkernel"
	"github.com/gogpu/fluidsim/internal/sim"
)

var cube4 = sim.Grid{Size: [3]uint32{4, 4, 4}, CellSize: 0.1}

func newSolver(t *testing.T, cfg gridfluid.Config) (*gridfluid.Solver, *gpu.Device, *gputest.Device) {
	t.Helper()
	emu, dev := refkernel.Open(gpu.Options{})
	t.Cleanup(func() { dev.Close() })
	s, err := gridfluid.New(context.Background(), dev, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Destroy)
	return s, dev, emu
}

func step(t *testing.T, s *gridfluid.Solver) {
	t.Helper()
	if err := s.Step(context.Background(), nil, nil); err != nil {
		t.Fatalf("Step: %v", err)
	}
}

func fill[T any](t *testing.T, b *gpu.Buffer, v T, n int) {
	t.Helper()
	vals := make([]T, n)
	for i := range vals {
		vals[i] = v
	}
	if err := gpu.Write(context.Background(), b, vals, gpu.FillOptions{Staging: true}); err != nil {
		t.Fatalf("Write %s: %v", b.Label(), err)
	}
}

func near(a, b float32) bool { return math.Abs(float64(a-b)) <= 1e-5 }

func TestStepDispatchCount(t *testing.T) {
	tests := []struct {
		iterations int
		want       int
	}{
		{1, 16},
		{3, 32},
		{0, 8 + 8*gridfluid.DefaultIterations},
	}
	for _, tt := range tests {
		s, _, emu := newSolver(t, gridfluid.Config{Grid: cube4, Timestep: 0.01, Iterations: tt.iterations})
		if s.Dispatches() != tt.want {
			t.Errorf("iterations %d: Dispatches = %d, want %d", tt.iterations, s.Dispatches(), tt.want)
		}
		emu.Queue().ResetLog()
		step(t, s)
		log := emu.Queue().Log()
		if len(log) != 1 {
			t.Fatalf("iterations %d: %d submissions, want 1", tt.iterations, len(log))
		}
		if got := len(emu.Queue().Ops("dispatch:")); got != tt.want {
			t.Errorf("iterations %d: dispatched %d, want %d", tt.iterations, got, tt.want)
		}
	}
}

func TestStepOrder(t *testing.T) {
	s, _, emu := newSolver(t, gridfluid.Config{Grid: cube4, Timestep: 0.01, Iterations: 1})
	emu.Queue().ResetLog()
	step(t, s)
	want := []string{
		"dispatch:add_source_vec",
		"dispatch:diffuse_vec_red", "dispatch:diffuse_vec_black",
		"dispatch:divergence_step", "dispatch:pressure_red", "dispatch:pressure_black", "dispatch:subtract_gradient",
		"dispatch:advect_vec",
		"dispatch:divergence_step", "dispatch:pressure_red", "dispatch:pressure_black", "dispatch:subtract_gradient",
		"dispatch:add_source_scalar",
		"dispatch:diffuse_scalar_red", "dispatch:diffuse_scalar_black",
		"dispatch:advect_scalar",
	}
	if got := emu.Queue().Ops("dispatch:"); !slices.Equal(got, want) {
		t.Errorf("order =\n%v\nwant\n%v", got, want)
	}
}

func TestStepKeepsAuthoritativeBuffers(t *testing.T) {
	s, _, _ := newSolver(t, gridfluid.Config{Grid: cube4, Timestep: 0.01, Iterations: 2})
	vel, scalar := s.Velocity(), s.Scalar()
	step(t, s)
	step(t, s)
	if s.Velocity() != vel || s.Scalar() != scalar {
		t.Error("authoritative buffers moved across steps")
	}
}

func TestZeroFieldStaysZero(t *testing.T) {
	s, _, _ := newSolver(t, gridfluid.Config{Grid: cube4, Timestep: 0.01, Diffusion: 0.1, Viscosity: 0.1, Iterations: 4})
	step(t, s)
	vel, err := gpu.Read[[4]float32](context.Background(), s.Velocity())
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range vel {
		if v != ([4]float32{}) {
			t.Fatalf("cell %d velocity = %v", i, v)
		}
	}
}

func TestUniformSourcesAccumulate(t *testing.T) {
	const dt = 0.01
	// Without diffusion the sweeps copy old into new exactly.
	s, _, _ := newSolver(t, gridfluid.Config{Grid: cube4, Timestep: dt, Iterations: 4})
	n := int(cube4.CellCount())
	fill(t, s.ScalarSource(), float32(2), n)
	fill(t, s.VelocitySource(), [4]float32{1, 0, 0, 0}, n)
	step(t, s)

	ctx := context.Background()
	scalar, err := gpu.Read[float32](ctx, s.Scalar())
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range scalar {
		if !near(v, 2*dt) {
			t.Fatalf("cell %d scalar = %g, want %g", i, v, 2*dt)
		}
	}
	// A uniform field has no divergence, so projection leaves it alone.
	vel, err := gpu.Read[[4]float32](ctx, s.Velocity())
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range vel {
		if !near(v[0], dt) || !near(v[1], 0) || !near(v[2], 0) {
			t.Fatalf("cell %d velocity = %v, want (%g,0,0)", i, v, dt)
		}
	}
}

func TestNewRejectsEmptyGrid(t *testing.T) {
	_, dev := refkernel.Open(gpu.Options{})
	defer dev.Close()
	if _, err := gridfluid.New(context.Background(), dev, gridfluid.Config{}); err != gridfluid.ErrBadGrid {
		t.Fatalf("err = %v, want ErrBadGrid", err)
	}
}
