// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package coupling exchanges momentum and heat between the particle fluid
// and the grid fluid.
//
// A run tags every cell with its particle count, reads the counts back to
// the host, derives the heat injection rate from the occupancy and then
// writes the grid sources and drags particles toward the grid velocity.
// Runs happen every Interval ticks; in between the sources are zeroed.
package coupling

import (
	"context"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/fluidsim/internal/gpu"
	"github.com/gogpu/fluidsim/internal/shaders"
	"github.com/gogpu/fluidsim/internal/sim"
)

// Config wires the stage to buffers owned by the other stages.
type Config struct {
	Params    *gpu.Buffer
	Particles *gpu.Buffer
	Pairs     *gpu.Buffer
	Table     *gpu.Buffer

	GridVelocity   *gpu.Buffer
	VelocitySource *gpu.Buffer
	ScalarSource   *gpu.Buffer

	Cells uint32
	Count uint32

	// Interval is the number of ticks between runs. Zero means every tick.
	Interval int

	// Drag is the rate at which particles follow the grid velocity.
	Drag float32

	// Transfer scales the mean particle velocity injected into the grid.
	Transfer float32

	// Heat is the base heat injection rate per particle.
	Heat float32

	// Saturation is the occupied-cell fraction above which no heat is
	// injected. Zero disables the cutoff.
	Saturation float64

	// Source overrides the embedded shader.
	Source string
}

// Occupancy summarizes the per-cell particle counts of one run.
type Occupancy struct {
	Occupied   uint32
	MaxPerCell uint32
	Particles  uint32
	Fraction   float64
}

// Measure computes the occupancy of per-cell counts.
func Measure(counts []uint32) Occupancy {
	var o Occupancy
	for _, n := range counts {
		if n == 0 {
			continue
		}
		o.Occupied++
		o.Particles += n
		o.MaxPerCell = max(o.MaxPerCell, n)
	}
	if len(counts) > 0 {
		o.Fraction = float64(o.Occupied) / float64(len(counts))
	}
	return o
}

// HeatRate returns the per-particle heat injection rate for o: base
// scaled by the occupied fraction, and zero once the fraction exceeds
// saturation.
func HeatRate(base float32, o Occupancy, saturation float64) float32 {
	if saturation > 0 && o.Fraction > saturation {
		return 0
	}
	return base * float32(o.Fraction)
}

const (
	pipeTag = iota
	pipeExchange
	pipeDrag
	numPipes
)

var entryPoints = [numPipes]string{"tag", "exchange", "drag"}

// Stage owns the cell-info buffer, the coupling uniform and three
// pipelines.
type Stage struct {
	dev *gpu.Device
	cfg Config

	cellInfo *gpu.Buffer
	uniform  *gpu.Buffer
	pipes    [numPipes]*gpu.ComputePipeline
	groups   [numPipes]hal.BindGroup
	fence    *gpu.Fence

	ticks int
	last  Occupancy
	ran   bool
}

// New builds the stage.
func New(d *gpu.Device, cfg Config) (*Stage, error) {
	for name, b := range map[string]*gpu.Buffer{
		"params":          cfg.Params,
		"particles":       cfg.Particles,
		"pairs":           cfg.Pairs,
		"table":           cfg.Table,
		"grid velocity":   cfg.GridVelocity,
		"velocity source": cfg.VelocitySource,
		"scalar source":   cfg.ScalarSource,
	} {
		if b == nil {
			return nil, fmt.Errorf("coupling: missing %s buffer", name)
		}
	}
	if cfg.Cells == 0 || cfg.Count == 0 {
		return nil, fmt.Errorf("coupling: cell and particle counts must be non-zero")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 1
	}
	src := cfg.Source
	if src == "" {
		var err error
		if src, err = shaders.Source(shaders.Coupling); err != nil {
			return nil, err
		}
	}

	s := &Stage{dev: d, cfg: cfg, fence: d.NewFence("coupling.tag")}
	if err := s.init(src); err != nil {
		s.Destroy()
		return nil, err
	}
	return s, nil
}

func (s *Stage) init(src string) error {
	var err error
	if s.cellInfo, err = s.dev.Allocate("coupling.cell_info", uint64(s.cfg.Cells)*4,
		gputypes.BufferUsageStorage|gputypes.BufferUsageCopySrc, gpu.MemoryDeviceLocal); err != nil {
		return err
	}
	if s.uniform, err = s.dev.Allocate("coupling.params", sim.CouplingParamsSize,
		gputypes.BufferUsageUniform|gputypes.BufferUsageCopyDst, gpu.MemoryDeviceLocal); err != nil {
		return err
	}

	bindings := []gpu.Binding{
		gpu.Uniform(0),
		gpu.Storage(1),
		gpu.ReadOnly(2),
		gpu.ReadOnly(3),
		gpu.Storage(4),
		gpu.ReadOnly(5),
		gpu.Storage(6),
		gpu.Storage(7),
		gpu.Uniform(8),
	}
	c := s.cfg
	for i, entry := range entryPoints {
		label := "coupling." + entry
		p, err := s.dev.NewComputePipeline(gpu.ComputePipelineDesc{
			Label:      label,
			Source:     src,
			EntryPoint: entry,
			Bindings:   bindings,
			ParamSize:  sim.ParamsSize,
		})
		if err != nil {
			return fmt.Errorf("coupling: %w", err)
		}
		s.pipes[i] = p
		if s.groups[i], err = p.NewBindGroup(label,
			c.Params, c.Particles, c.Pairs, c.Table, s.cellInfo,
			c.GridVelocity, c.VelocitySource, c.ScalarSource, s.uniform); err != nil {
			return fmt.Errorf("coupling: %w", err)
		}
	}
	return nil
}

// CellInfo returns the per-cell particle counts written by the last run.
func (s *Stage) CellInfo() *gpu.Buffer { return s.cellInfo }

// Last returns the occupancy of the most recent run and whether a run has
// happened.
func (s *Stage) Last() (Occupancy, bool) { return s.last, s.ran }

// Rewind restarts the interval count so the next Run couples.
func (s *Stage) Rewind() { s.ticks = 0 }

// SetRates updates the drag, transfer, heat and saturation constants.
func (s *Stage) SetRates(drag, transfer, heat float32, saturation float64) {
	s.cfg.Drag, s.cfg.Transfer, s.cfg.Heat, s.cfg.Saturation = drag, transfer, heat, saturation
}

// Run advances the stage by one tick. On coupling ticks it runs tag,
// readback, exchange and drag; otherwise it zeroes the grid sources. The
// first submission waits on wait and the last signals signal.
func (s *Stage) Run(ctx context.Context, wait []*gpu.Semaphore, signal *gpu.Semaphore) error {
	tick := s.ticks
	s.ticks++
	if tick%s.cfg.Interval != 0 {
		return s.clearSources(ctx, wait, signal)
	}

	q := s.dev.Queue(gpu.RoleCompute)

	enc, err := s.dev.BeginCommands("coupling.tag")
	if err != nil {
		return fmt.Errorf("coupling: %w", err)
	}
	enc.DispatchElements(s.pipes[pipeTag], s.groups[pipeTag], s.cfg.Cells)
	s.fence.Reset()
	if _, err := enc.Submit(ctx, q, gpu.Submission{Label: "coupling.tag", Wait: wait, Fence: s.fence}); err != nil {
		return fmt.Errorf("coupling: tag: %w", err)
	}
	if err := s.fence.Wait(ctx); err != nil {
		return fmt.Errorf("coupling: tag: %w", err)
	}
	counts, err := gpu.Read[uint32](ctx, s.cellInfo)
	if err != nil {
		return fmt.Errorf("coupling: read cell info: %w", err)
	}
	s.last, s.ran = Measure(counts), true

	// Every earlier use of the uniform completed before the readback.
	cp := sim.CouplingParams{
		HeatRate: HeatRate(s.cfg.Heat, s.last, s.cfg.Saturation),
		Drag:     s.cfg.Drag,
		Transfer: s.cfg.Transfer,
	}
	data, err := gpu.Encode([]sim.CouplingParams{cp})
	if err != nil {
		return err
	}
	if err := q.WriteBuffer(s.uniform, 0, data); err != nil {
		return fmt.Errorf("coupling: %w", err)
	}

	enc, err = s.dev.BeginCommands("coupling.exchange")
	if err != nil {
		return fmt.Errorf("coupling: %w", err)
	}
	enc.DispatchElements(s.pipes[pipeExchange], s.groups[pipeExchange], s.cfg.Cells)
	enc.DispatchElements(s.pipes[pipeDrag], s.groups[pipeDrag], s.cfg.Count)
	sub := gpu.Submission{Label: "coupling.exchange"}
	if signal != nil {
		sub.Signal = []*gpu.Semaphore{signal}
	}
	if _, err := enc.Submit(ctx, q, sub); err != nil {
		return fmt.Errorf("coupling: exchange: %w", err)
	}

	gpu.Logger().Debug("coupling: exchanged",
		"occupied", s.last.Occupied,
		"max_per_cell", s.last.MaxPerCell,
		"fraction", s.last.Fraction,
		"heat_rate", cp.HeatRate)
	return nil
}

func (s *Stage) clearSources(ctx context.Context, wait []*gpu.Semaphore, signal *gpu.Semaphore) error {
	enc, err := s.dev.BeginCommands("coupling.clear")
	if err != nil {
		return fmt.Errorf("coupling: %w", err)
	}
	enc.ClearBuffer(s.cfg.VelocitySource, 0, 0)
	enc.ClearBuffer(s.cfg.ScalarSource, 0, 0)
	sub := gpu.Submission{Label: "coupling.clear", Wait: wait}
	if signal != nil {
		sub.Signal = []*gpu.Semaphore{signal}
	}
	if _, err := enc.Submit(ctx, s.dev.Queue(gpu.RoleCompute), sub); err != nil {
		return fmt.Errorf("coupling: clear: %w", err)
	}
	return nil
}

// Destroy releases the pipelines and owned buffers.
func (s *Stage) Destroy() {
	for i := range s.pipes {
		s.pipes[i].Destroy()
		s.pipes[i] = nil
	}
	if s.cellInfo != nil {
		s.cellInfo.Destroy()
	}
	if s.uniform != nil {
		s.uniform.Destroy()
	}
}
