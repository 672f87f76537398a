// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package grid_test

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/gogpu/fluidsim/internal/gpu"
	"github.com/gogpu/fluidsim/internal/grid"
	"github.com/gogpu/fluidsim/internal/refkernel"
	"github.com/gogpu/fluidsim/internal/sim"
)

var cube8 = sim.Grid{Size: [3]uint32{8, 8, 8}, CellSize: 0.1}

func randomParticles(seed uint64, n int, g sim.Grid) []sim.Particle {
	r := rand.New(rand.NewPCG(seed, 2))
	hi := g.Max()
	out := make([]sim.Particle, n)
	for i := range out {
		var p [3]float32
		for a := range 3 {
			p[a] = g.Origin[a] + r.Float32()*(hi[a]-g.Origin[a])
		}
		out[i] = sim.NewParticle(p, [3]float32{})
	}
	return out
}

type fixture struct {
	dev     *gpu.Device
	bufs    *sim.Buffers
	builder *grid.Builder
}

func newFixture(t *testing.T, g sim.Grid, particles []sim.Particle) *fixture {
	t.Helper()
	ctx := context.Background()
	_, dev := refkernel.Open(gpu.Options{})
	t.Cleanup(func() { dev.Close() })

	bufs, err := sim.NewBuffers(ctx, dev, g, sim.DefaultFluid(), particles)
	if err != nil {
		t.Fatalf("NewBuffers: %v", err)
	}
	t.Cleanup(bufs.Destroy)

	b, err := grid.New(ctx, dev, grid.Config{
		Params:    bufs.ParamBuffer(),
		Particles: bufs.ParticleBuffer(),
		Grid:      g,
		Capacity:  bufs.Params().Capacity,
	})
	if err != nil {
		t.Fatalf("grid.New: %v", err)
	}
	t.Cleanup(b.Destroy)
	return &fixture{dev: dev, bufs: bufs, builder: b}
}

func (f *fixture) run(t *testing.T) {
	t.Helper()
	signal := f.dev.Semaphores().Get("grid")
	if err := f.builder.Run(context.Background(), nil, signal); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !signal.Signaled() {
		t.Fatal("Run did not signal")
	}
	signal.Release()
}

func TestBuild512OnCube(t *testing.T) {
	particles := randomParticles(1, 512, cube8)
	f := newFixture(t, cube8, particles)
	f.run(t)

	ctx := context.Background()
	table, err := gpu.Read[uint32](ctx, f.builder.CellTable())
	if err != nil {
		t.Fatal(err)
	}
	sum := uint32(0)
	for c := range cube8.CellCount() {
		sum += table[c+1] - table[c]
	}
	if sum != 512 {
		t.Errorf("occupancy sum = %d, want 512", sum)
	}

	got, err := gpu.Read[sim.Particle](ctx, f.bufs.ParticleBuffer())
	if err != nil {
		t.Fatal(err)
	}
	pairs, err := gpu.Read[sim.KeyValue](ctx, f.builder.Pairs())
	if err != nil {
		t.Fatal(err)
	}
	for i, p := range got {
		if want := cube8.CellOf(particles[i].Pos()); p.Cell != want {
			t.Fatalf("particle %d cell = %d, want %d", i, p.Cell, want)
		}
	}
	// Every real cell range holds exactly the particles tagged with it.
	for c := range cube8.CellCount() {
		for j := table[c]; j < table[c+1]; j++ {
			if kv := pairs[j]; kv.Value != c || got[kv.Key].Cell != c {
				t.Fatalf("pair %d = %+v in range of cell %d", j, kv, c)
			}
		}
	}
}

func TestBuildPaddingSortsLast(t *testing.T) {
	// 300 particles round up to a capacity of 512.
	f := newFixture(t, cube8, randomParticles(2, 300, cube8))
	if c := f.bufs.Params().Capacity; c != 512 {
		t.Fatalf("capacity = %d, want 512", c)
	}
	f.run(t)

	pairs, err := gpu.Read[sim.KeyValue](context.Background(), f.builder.Pairs())
	if err != nil {
		t.Fatal(err)
	}
	for i, kv := range pairs {
		padding := kv.Value == cube8.CellCount()
		if padding != (i >= 300) {
			t.Fatalf("pair %d = %+v", i, kv)
		}
	}
}

func TestBuildClampsOutsideParticles(t *testing.T) {
	particles := []sim.Particle{
		sim.NewParticle([3]float32{-5, -5, -5}, [3]float32{}),
		sim.NewParticle([3]float32{5, 5, 5}, [3]float32{}),
		sim.NewParticle([3]float32{0.05, 0.05, 0.05}, [3]float32{}),
	}
	f := newFixture(t, cube8, particles)
	f.run(t)

	got, err := gpu.Read[sim.Particle](context.Background(), f.bufs.ParticleBuffer())
	if err != nil {
		t.Fatal(err)
	}
	want := []uint32{0, cube8.CellCount() - 1, 0}
	for i := range want {
		if got[i].Cell != want[i] {
			t.Errorf("particle %d cell = %d, want %d", i, got[i].Cell, want[i])
		}
	}
}

func TestNewRequiresBuffers(t *testing.T) {
	_, dev := refkernel.Open(gpu.Options{})
	defer dev.Close()
	if _, err := grid.New(context.Background(), dev, grid.Config{Grid: cube8, Capacity: 256}); err == nil {
		t.Fatal("New accepted missing buffers")
	}
}
