// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package sorter sorts (particle, cell) pairs by cell on the GPU with an
// LSD radix sort and builds the cell-start table used for neighbor
// queries.
//
// Each 8-bit digit takes four kinds of dispatch: a per-block histogram,
// the up-sweep and down-sweep of a Blelloch scan over the bucket-major
// histogram (one dispatch per tree level), and a stable scatter. Every
// dispatch except the last of the whole sort is its own fence-waited
// submission, so the host can rewrite the pass uniform between them.
package sorter

import (
	"context"
	"fmt"
	"math/bits"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/fluidsim/internal/gpu"
	"github.com/gogpu/fluidsim/internal/shaders"
	"github.com/gogpu/fluidsim/internal/sim"
)

// Config describes the sort problem.
type Config struct {
	// Capacity is the number of pairs. It must be a power of two and at
	// least sim.BlockSize; see sim.Capacity.
	Capacity uint32

	// CellCount is the number of grid cells. Pairs with Value == CellCount
	// are padding.
	CellCount uint32

	// Source overrides the embedded sort shader.
	Source string
}

const (
	pipeCount = iota
	pipeUpsweep
	pipeDownsweep
	pipeScatter
	pipeTable
	numPipes
)

var entryPoints = [numPipes]string{"count", "upsweep", "downsweep", "scatter", "cell_table"}

// Observer receives the duration of every sort pass. It is optional.
type Observer interface {
	PassCompleted(pass sim.SortPass, d time.Duration)
}

// Engine owns the pair buffers, the histogram, the cell table and one
// pipeline per pass.
type Engine struct {
	dev *gpu.Device

	capacity  uint32
	numBlocks uint32
	cellCount uint32
	tableLen  uint32
	levels    uint32
	digits    int

	pairs   *gpu.Buffer // primary, holds the sorted result
	scratch *gpu.Buffer
	hist    *gpu.Buffer
	table   *gpu.Buffer

	// uniform is rewritten before every intermediate pass. tableUniform
	// is constant so the final, unwaited submission never shares a
	// uniform with the next sort.
	uniform      *gpu.Buffer
	tableUniform *gpu.Buffer

	pipes [numPipes]*gpu.ComputePipeline
	// groups[p][dir]: dir 0 reads pairs and writes scratch, dir 1 the reverse.
	groups [numPipes][2]hal.BindGroup

	fence    *gpu.Fence
	observer Observer
}

// New builds a sort engine on d.
func New(ctx context.Context, d *gpu.Device, cfg Config) (*Engine, error) {
	if cfg.Capacity < sim.BlockSize || cfg.Capacity&(cfg.Capacity-1) != 0 {
		return nil, fmt.Errorf("sort: capacity %d is not a power of two >= %d", cfg.Capacity, sim.BlockSize)
	}
	if cfg.CellCount == 0 {
		return nil, fmt.Errorf("sort: cell count must be non-zero")
	}
	src := cfg.Source
	if src == "" {
		var err error
		if src, err = shaders.Source(shaders.Sort); err != nil {
			return nil, err
		}
	}

	e := &Engine{
		dev:       d,
		capacity:  cfg.Capacity,
		numBlocks: sim.NumBlocks(cfg.Capacity),
		cellCount: cfg.CellCount,
		tableLen:  sim.TableSize(cfg.CellCount),
		digits:    sim.SortDigits(cfg.CellCount),
		fence:     d.NewFence("sort"),
	}
	e.levels = uint32(bits.Len32(sim.BlockSize*e.numBlocks) - 1)

	if err := e.init(ctx, src); err != nil {
		e.Destroy()
		return nil, err
	}
	gpu.Logger().Debug("sort: engine created",
		"capacity", e.capacity,
		"blocks", e.numBlocks,
		"digits", e.digits,
		"levels", e.levels)
	return e, nil
}

func (e *Engine) init(ctx context.Context, src string) error {
	const storage = gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst
	const uniform = gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst

	var err error
	pairBytes := uint64(e.capacity) * sim.KeyValueSize
	if e.pairs, err = e.dev.Allocate("sort.pairs", pairBytes, storage, gpu.MemoryDeviceLocal); err != nil {
		return err
	}
	if e.scratch, err = e.dev.Allocate("sort.scratch", pairBytes, storage, gpu.MemoryDeviceLocal); err != nil {
		return err
	}
	if e.hist, err = e.dev.Allocate("sort.hist", uint64(256*e.numBlocks)*4, storage, gpu.MemoryDeviceLocal); err != nil {
		return err
	}
	if e.table, err = e.dev.Allocate("sort.table", uint64(e.tableLen)*4, storage, gpu.MemoryDeviceLocal); err != nil {
		return err
	}
	if e.uniform, err = e.dev.Allocate("sort.params", sim.SortParamsSize, uniform, gpu.MemoryDeviceLocal); err != nil {
		return err
	}
	if e.tableUniform, err = e.dev.Allocate("sort.table_params", sim.SortParamsSize, uniform, gpu.MemoryDeviceLocal); err != nil {
		return err
	}
	if err := gpu.Write(ctx, e.tableUniform, []sim.SortParams{{
		Pass:      sim.PassCellTable,
		NumBlocks: e.numBlocks,
		Count:     e.capacity,
		CellCount: e.cellCount,
		TableLen:  e.tableLen,
	}}, gpu.FillOptions{}); err != nil {
		return err
	}

	bindings := []gpu.Binding{gpu.Uniform(0), gpu.Storage(1), gpu.Storage(2), gpu.Storage(3), gpu.Storage(4)}
	for i, entry := range entryPoints {
		p, err := e.dev.NewComputePipeline(gpu.ComputePipelineDesc{
			Label:      "sort." + entry,
			Source:     src,
			EntryPoint: entry,
			Bindings:   bindings,
			ParamSize:  sim.SortParamsSize,
		})
		if err != nil {
			return fmt.Errorf("sort: %w", err)
		}
		e.pipes[i] = p

		u := e.uniform
		if i == pipeTable {
			u = e.tableUniform
		}
		if e.groups[i][0], err = p.NewBindGroup("sort."+entry+".fwd", u, e.pairs, e.scratch, e.hist, e.table); err != nil {
			return err
		}
		if e.groups[i][1], err = p.NewBindGroup("sort."+entry+".rev", u, e.scratch, e.pairs, e.hist, e.table); err != nil {
			return err
		}
	}
	return nil
}

// SetObserver installs o. May be nil.
func (e *Engine) SetObserver(o Observer) { e.observer = o }

// Pairs returns the primary pair buffer. It holds the sorted pairs once
// the signal semaphore of Sort is reached.
func (e *Engine) Pairs() *gpu.Buffer { return e.pairs }

// Table returns the cell-start table.
func (e *Engine) Table() *gpu.Buffer { return e.table }

// Capacity returns the number of pairs sorted.
func (e *Engine) Capacity() uint32 { return e.capacity }

// CellCount returns the number of real cells.
func (e *Engine) CellCount() uint32 { return e.cellCount }

// Levels returns the number of scan levels per sweep, log2(256*numBlocks).
func (e *Engine) Levels() int { return int(e.levels) }

// Digits returns the number of radix digits sorted.
func (e *Engine) Digits() int { return e.digits }

// Submissions returns how many submissions one Sort makes.
func (e *Engine) Submissions() int { return e.digits*(2+2*int(e.levels)) + 1 }

// Sort orders the pairs by cell and rebuilds the table. The first
// submission waits on wait; only the final one signals signal, which may
// be nil.
func (e *Engine) Sort(ctx context.Context, wait []*gpu.Semaphore, signal *gpu.Semaphore) error {
	r := run{e: e, ctx: ctx, q: e.dev.Queue(gpu.RoleCompute), pending: wait}

	for d := range e.digits {
		dir := d & 1
		base := sim.SortParams{
			Shift:     uint32(8 * d),
			NumBlocks: e.numBlocks,
			Count:     e.capacity,
			CellCount: e.cellCount,
			TableLen:  e.tableLen,
		}

		p := base
		p.Pass = sim.PassCount
		if err := r.pass(p, func(enc *gpu.Encoder) {
			enc.ClearBuffer(e.hist, 0, 0)
			enc.Dispatch(e.pipes[pipeCount], e.groups[pipeCount][dir], e.numBlocks, 1, 1)
		}); err != nil {
			return err
		}

		n := sim.BlockSize * e.numBlocks
		for level := range e.levels {
			p := base
			p.Pass, p.Level = sim.PassUpsweep, level
			if err := r.pass(p, func(enc *gpu.Encoder) {
				enc.DispatchElements(e.pipes[pipeUpsweep], e.groups[pipeUpsweep][dir], n>>(level+1))
			}); err != nil {
				return err
			}
		}
		for level := int(e.levels) - 1; level >= 0; level-- {
			p := base
			p.Pass, p.Level = sim.PassDownsweep, uint32(level)
			if level == int(e.levels)-1 {
				p.ClearRoot = 1
			}
			if err := r.pass(p, func(enc *gpu.Encoder) {
				enc.DispatchElements(e.pipes[pipeDownsweep], e.groups[pipeDownsweep][dir], n>>(level+1))
			}); err != nil {
				return err
			}
		}

		p = base
		p.Pass = sim.PassScatter
		if err := r.pass(p, func(enc *gpu.Encoder) {
			enc.Dispatch(e.pipes[pipeScatter], e.groups[pipeScatter][dir], e.numBlocks, 1, 1)
		}); err != nil {
			return err
		}
	}

	// After an odd number of digits the sorted pairs sit in scratch.
	odd := e.digits&1 == 1
	dir := 0
	if odd {
		dir = 1
	}
	return r.final(signal, func(enc *gpu.Encoder) error {
		enc.DispatchElements(e.pipes[pipeTable], e.groups[pipeTable][dir], e.tableLen)
		if odd {
			return enc.CopyBuffer(e.scratch, 0, e.pairs, 0, e.pairs.Size())
		}
		return nil
	})
}

// run carries the state of one Sort call.
type run struct {
	e       *Engine
	ctx     context.Context
	q       *gpu.Queue
	pending []*gpu.Semaphore
	n       int
}

func (r *run) begin(label string) (*gpu.Encoder, []*gpu.Semaphore, error) {
	enc, err := r.e.dev.BeginCommands(label)
	if err != nil {
		return nil, nil, fmt.Errorf("sort: %w", err)
	}
	wait := r.pending
	r.pending = nil
	r.n++
	return enc, wait, nil
}

// pass writes p to the shared uniform, submits the recorded work and
// blocks until it completes.
func (r *run) pass(p sim.SortParams, record func(enc *gpu.Encoder)) error {
	e := r.e
	label := fmt.Sprintf("sort.%s.%d", p.Pass, p.Level)
	data, err := gpu.Encode([]sim.SortParams{p})
	if err != nil {
		return err
	}
	if err := r.q.WriteBuffer(e.uniform, 0, data); err != nil {
		return fmt.Errorf("sort: %s: %w", label, err)
	}

	start := time.Now()
	enc, wait, err := r.begin(label)
	if err != nil {
		return err
	}
	record(enc)
	e.fence.Reset()
	if _, err := enc.Submit(r.ctx, r.q, gpu.Submission{Label: label, Wait: wait, Fence: e.fence}); err != nil {
		return fmt.Errorf("sort: %s: %w", label, err)
	}
	if err := e.fence.Wait(r.ctx); err != nil {
		return fmt.Errorf("sort: %s: %w", label, err)
	}
	if e.observer != nil {
		e.observer.PassCompleted(p.Pass, time.Since(start))
	}
	gpu.Logger().Debug("sort: pass complete", "pass", p.Pass.String(), "level", p.Level, "shift", p.Shift)
	return nil
}

func (r *run) final(signal *gpu.Semaphore, record func(enc *gpu.Encoder) error) error {
	const label = "sort.cell_table"
	enc, wait, err := r.begin(label)
	if err != nil {
		return err
	}
	if err := record(enc); err != nil {
		enc.Discard()
		return fmt.Errorf("sort: %s: %w", label, err)
	}
	s := gpu.Submission{Label: label, Wait: wait}
	if signal != nil {
		s.Signal = []*gpu.Semaphore{signal}
	}
	if _, err := enc.Submit(r.ctx, r.q, s); err != nil {
		return fmt.Errorf("sort: %s: %w", label, err)
	}
	return nil
}

// Destroy releases every resource. Safe on a partially built engine.
func (e *Engine) Destroy() {
	for i := range e.pipes {
		e.pipes[i].Destroy()
		e.pipes[i] = nil
	}
	for _, b := range []*gpu.Buffer{e.pairs, e.scratch, e.hist, e.table, e.uniform, e.tableUniform} {
		if b != nil {
			b.Destroy()
		}
	}
}
