// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package grid builds the uniform neighbor grid: one dispatch tags every
// particle with its cell and emits (particle, cell) pairs, then the sort
// engine orders the pairs and rebuilds the cell-start table.
package grid

import (
	"context"
	"fmt"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/fluidsim/internal/gpu"
	"github.com/gogpu/fluidsim/internal/shaders"
	"github.com/gogpu/fluidsim/internal/sim"
	"github.com/gogpu/fluidsim/internal/sorter"
)

// Config wires the builder to the shared simulation buffers.
type Config struct {
	Params    *gpu.Buffer // sim.Params uniform
	Particles *gpu.Buffer

	Grid     sim.Grid
	Capacity uint32

	// Source and SortSource override the embedded shaders.
	Source     string
	SortSource string
}

// Builder runs the cell-ID pass and the sort.
type Builder struct {
	dev   *gpu.Device
	pipe  *gpu.ComputePipeline
	group hal.BindGroup
	sort  *sorter.Engine
	slots uint32
}

// New creates the cell-ID pipeline and the sort engine.
func New(ctx context.Context, d *gpu.Device, cfg Config) (*Builder, error) {
	if cfg.Params == nil || cfg.Particles == nil {
		return nil, fmt.Errorf("grid: params and particle buffers are required")
	}
	src := cfg.Source
	if src == "" {
		var err error
		if src, err = shaders.Source(shaders.Grid); err != nil {
			return nil, err
		}
	}

	b := &Builder{dev: d, slots: cfg.Capacity}
	var err error
	b.sort, err = sorter.New(ctx, d, sorter.Config{
		Capacity:  cfg.Capacity,
		CellCount: cfg.Grid.CellCount(),
		Source:    cfg.SortSource,
	})
	if err != nil {
		return nil, err
	}
	b.pipe, err = d.NewComputePipeline(gpu.ComputePipelineDesc{
		Label:      "grid.cell_ids",
		Source:     src,
		EntryPoint: "cell_ids",
		Bindings:   []gpu.Binding{gpu.Uniform(0), gpu.Storage(1), gpu.Storage(2)},
		ParamSize:  sim.ParamsSize,
	})
	if err != nil {
		b.Destroy()
		return nil, fmt.Errorf("grid: %w", err)
	}
	if b.group, err = b.pipe.NewBindGroup("grid.cell_ids", cfg.Params, cfg.Particles, b.sort.Pairs()); err != nil {
		b.Destroy()
		return nil, fmt.Errorf("grid: %w", err)
	}
	return b, nil
}

// Pairs returns the sorted (particle, cell) pairs.
func (b *Builder) Pairs() *gpu.Buffer { return b.sort.Pairs() }

// CellTable returns the cell-start table.
func (b *Builder) CellTable() *gpu.Buffer { return b.sort.Table() }

// Sorter returns the sort engine.
func (b *Builder) Sorter() *sorter.Engine { return b.sort }

// Run tags particles with their cells and sorts the pairs. The cell-ID
// submission waits on wait; the sort's final submission signals signal.
func (b *Builder) Run(ctx context.Context, wait []*gpu.Semaphore, signal *gpu.Semaphore) error {
	enc, err := b.dev.BeginCommands("grid.cell_ids")
	if err != nil {
		return fmt.Errorf("grid: %w", err)
	}
	enc.DispatchElements(b.pipe, b.group, b.slots)

	tagged := b.dev.Semaphores().Get("grid.cell_ids")
	if _, err := enc.Submit(ctx, b.dev.Queue(gpu.RoleCompute), gpu.Submission{
		Label:  "grid.cell_ids",
		Wait:   wait,
		Signal: []*gpu.Semaphore{tagged},
	}); err != nil {
		tagged.Release()
		return fmt.Errorf("grid: %w", err)
	}
	if err := b.sort.Sort(ctx, []*gpu.Semaphore{tagged}, signal); err != nil {
		if tagged.Signaled() {
			tagged.Release()
		}
		return err
	}
	return nil
}

// Destroy releases the pipeline and the sort engine.
func (b *Builder) Destroy() {
	b.pipe.Destroy()
	b.pipe = nil
	if b.sort != nil {
		b.sort.Destroy()
		b.sort = nil
	}
}
