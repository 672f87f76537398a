// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package sorter_test

import (
	"context"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/gogpu/fluidsim/internal/gpu"
	"github.com/gogpu/fluidsim/internal/gpu/gputest"
	"github.com/gogpu/fluidsim/internal/refkernel"
	"github.com/gogpu/fluidsim/internal/sim"
	"github.com/gogpu/fluidsim/internal/sorter"
)

func newEngine(t *testing.T, capacity, cells uint32) (*sorter.Engine, *gpu.Device, *gputest.Device) {
	t.Helper()
	emu, dev := refkernel.Open(gpu.Options{})
	t.Cleanup(func() { dev.Close() })
	e, err := sorter.New(context.Background(), dev, sorter.Config{Capacity: capacity, CellCount: cells})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(e.Destroy)
	return e, dev, emu
}

// randomPairs returns count real pairs followed by padding up to capacity.
func randomPairs(seed uint64, count, capacity, cells uint32) []sim.KeyValue {
	r := rand.New(rand.NewPCG(seed, 1))
	out := make([]sim.KeyValue, capacity)
	for i := range out {
		out[i] = sim.KeyValue{Key: uint32(i), Value: cells}
		if uint32(i) < count {
			out[i].Value = r.Uint32N(cells)
		}
	}
	return out
}

func runSort(t *testing.T, e *sorter.Engine, dev *gpu.Device, in []sim.KeyValue) ([]sim.KeyValue, []uint32) {
	t.Helper()
	ctx := context.Background()
	if err := gpu.Write(ctx, e.Pairs(), in, gpu.FillOptions{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	signal := dev.Semaphores().Get("sorted")
	if err := e.Sort(ctx, nil, signal); err != nil {
		t.Fatalf("Sort: %v", err)
	}
	if !signal.Signaled() {
		t.Fatal("final submission did not signal")
	}
	signal.Release()

	out, err := gpu.Read[sim.KeyValue](ctx, e.Pairs())
	if err != nil {
		t.Fatalf("Read pairs: %v", err)
	}
	table, err := gpu.Read[uint32](ctx, e.Table())
	if err != nil {
		t.Fatalf("Read table: %v", err)
	}
	return out, table
}

func checkSorted(t *testing.T, in, out []sim.KeyValue, table []uint32, cells uint32) {
	t.Helper()
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := 1; i < len(out); i++ {
		if out[i-1].Value > out[i].Value {
			t.Fatalf("out[%d].Value = %d > out[%d].Value = %d", i-1, out[i-1].Value, i, out[i].Value)
		}
		// Stable: equal cells keep ascending particle order.
		if out[i-1].Value == out[i].Value && out[i-1].Key > out[i].Key {
			t.Fatalf("unstable at %d: keys %d, %d in cell %d", i, out[i-1].Key, out[i].Key, out[i].Value)
		}
	}

	key := func(a, b sim.KeyValue) int {
		if a.Key != b.Key {
			return int(a.Key) - int(b.Key)
		}
		return int(a.Value) - int(b.Value)
	}
	a, b := slices.Clone(in), slices.Clone(out)
	slices.SortFunc(a, key)
	slices.SortFunc(b, key)
	if !slices.Equal(a, b) {
		t.Fatal("output is not a permutation of the input")
	}

	// table[c] is the first index whose cell is >= c.
	for c := uint32(0); c <= cells; c++ {
		want, _ := slices.BinarySearchFunc(out, c, func(kv sim.KeyValue, c uint32) int {
			return int(kv.Value) - int(c)
		})
		if table[c] != uint32(want) {
			t.Fatalf("table[%d] = %d, want %d", c, table[c], want)
		}
	}
}

func TestSort(t *testing.T) {
	tests := []struct {
		name            string
		capacity, count uint32
		cells           uint32
		digits          int
	}{
		{"single digit", 256, 200, 64, 1},
		{"two digits", 1024, 1000, 4096, 2},
		{"three digits", 512, 512, 70000, 3},
		{"all padding", 256, 0, 27, 1},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, dev, _ := newEngine(t, tt.capacity, tt.cells)
			if e.Digits() != tt.digits {
				t.Fatalf("Digits = %d, want %d", e.Digits(), tt.digits)
			}
			in := randomPairs(uint64(i), tt.count, tt.capacity, tt.cells)
			out, table := runSort(t, e, dev, in)
			checkSorted(t, in, out, table, tt.cells)
		})
	}
}

func TestSortCellOccupancySums(t *testing.T) {
	const cells = 8 * 8 * 8
	e, dev, _ := newEngine(t, 512, cells)
	in := randomPairs(7, 512, 512, cells)
	_, table := runSort(t, e, dev, in)

	total := uint32(0)
	for c := range cells {
		if table[c+1] < table[c] {
			t.Fatalf("table not monotonic at %d", c)
		}
		total += table[c+1] - table[c]
	}
	if total != 512 {
		t.Errorf("occupancy sum = %d, want 512", total)
	}
}

func TestSortSubmissionCount(t *testing.T) {
	e, dev, emu := newEngine(t, 1024, 4096)
	if e.Levels() != 10 {
		t.Fatalf("Levels = %d, want 10", e.Levels())
	}
	emu.Queue().ResetLog()
	runSort(t, e, dev, randomPairs(3, 1024, 1024, 4096))

	if got, want := emu.Queue().Count("dispatch:upsweep"), e.Digits()*e.Levels(); got != want {
		t.Errorf("upsweep dispatches = %d, want %d", got, want)
	}
	if got := emu.Queue().Count("dispatch:scatter"); got != e.Digits() {
		t.Errorf("scatter dispatches = %d, want %d", got, e.Digits())
	}
	if got := emu.Queue().Count("dispatch:cell_table"); got != 1 {
		t.Errorf("cell_table dispatches = %d, want 1", got)
	}
	sorts := 0
	for _, s := range emu.Queue().Log() {
		for _, op := range s.Ops {
			if strings.HasPrefix(op, "dispatch:") {
				sorts++
				break
			}
		}
	}
	if sorts != e.Submissions() {
		t.Errorf("dispatching submissions = %d, want %d", sorts, e.Submissions())
	}
}

type passCounter map[sim.SortPass]int

func (p passCounter) PassCompleted(pass sim.SortPass, _ time.Duration) { p[pass]++ }

func TestSortObserver(t *testing.T) {
	e, dev, _ := newEngine(t, 256, 64)
	obs := passCounter{}
	e.SetObserver(obs)
	runSort(t, e, dev, randomPairs(1, 256, 256, 64))
	if obs[sim.PassCount] != 1 || obs[sim.PassScatter] != 1 {
		t.Errorf("observed %v", obs)
	}
	if obs[sim.PassUpsweep] != e.Levels() {
		t.Errorf("upsweeps = %d, want %d", obs[sim.PassUpsweep], e.Levels())
	}
}

func TestNewRejectsBadCapacity(t *testing.T) {
	_, dev := refkernel.Open(gpu.Options{})
	defer dev.Close()
	for _, c := range []uint32{0, 100, 300} {
		if _, err := sorter.New(context.Background(), dev, sorter.Config{Capacity: c, CellCount: 8}); err == nil {
			t.Errorf("capacity %d accepted", c)
		}
	}
}
