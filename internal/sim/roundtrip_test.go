// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package sim_test

import (
	"context"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/fluidsim/internal/gpu"
	"github.com/gogpu/fluidsim/internal/gpu/gputest"
	"github.com/gogpu/fluidsim/internal/sim"
)

const storage = gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst

func roundTrip[T comparable](t *testing.T, size int, in []T, staged bool) {
	t.Helper()
	ctx := context.Background()
	d := gputest.New().Open(gpu.Options{})
	defer d.Close()

	b, err := d.Allocate("records", uint64(size*len(in)), storage, gpu.MemoryDeviceLocal)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	defer b.Destroy()
	if err := gpu.Write(ctx, b, in, gpu.FillOptions{Staging: staged}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out, err := gpu.Read[T](ctx, b)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("read %d records, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("[%d] = %+v, want %+v", i, out[i], in[i])
		}
	}
}

func TestParticleRoundTrip(t *testing.T) {
	in := []sim.Particle{
		sim.NewParticle([3]float32{0.1, 0.2, 0.3}, [3]float32{1, -1, 0.5}),
		{Density: 998.5, Pressure: -3, Cell: 17},
	}
	roundTrip(t, sim.ParticleSize, in, false)
	roundTrip(t, sim.ParticleSize, in, true)
}

func TestKeyValueRoundTrip(t *testing.T) {
	in := []sim.KeyValue{{Key: 0, Value: 5}, {Key: 1, Value: 0}, {Key: 2, Value: 1 << 20}}
	roundTrip(t, sim.KeyValueSize, in, true)
}

func TestParamsRoundTrip(t *testing.T) {
	g := sim.Grid{Size: [3]uint32{8, 8, 8}, CellSize: 0.1}
	in := []sim.Params{sim.NewParams(g, sim.DefaultFluid(), 512)}
	roundTrip(t, sim.ParamsSize, in, false)
}
