// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package gridfluid implements a stable-fluids solver on the neighbor
// grid: a vec4 velocity field and a scalar (temperature) field, each kept
// as an old/new pair that is swapped by switching bind groups.
//
// A velocity step is
//
//	addSource, swap, diffuse, project, swap, advect, project
//
// and a scalar step is
//
//	addSource, swap, diffuse, swap, advect
//
// where diffuse and the pressure solve of project run a fixed number of
// red-black Gauss-Seidel sweeps. Both steps swap twice, so the
// authoritative fields always end up in the same physical buffers.
package gridfluid

import (
	"context"
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/fluidsim/internal/gpu"
	"github.com/gogpu/fluidsim/internal/shaders"
	"github.com/gogpu/fluidsim/internal/sim"
)

// DefaultIterations is the Gauss-Seidel sweep count when none is set.
const DefaultIterations = 20

// ErrBadGrid is returned for a grid with a zero dimension.
var ErrBadGrid = errors.New("gridfluid: grid has a zero dimension")

// Config describes the field and its solver constants.
type Config struct {
	Grid      sim.Grid
	Timestep  float32
	Diffusion float32
	Viscosity float32

	// Iterations is the number of red-black sweeps per solve. Convergence
	// is not checked. Zero means DefaultIterations.
	Iterations int

	// Source overrides the embedded shader.
	Source string
}

type kernel int

const (
	addSourceVec kernel = iota
	addSourceScalar
	diffuseVecRed
	diffuseVecBlack
	diffuseScalarRed
	diffuseScalarBlack
	advectVec
	advectScalar
	divergence
	pressureRed
	pressureBlack
	subtractGradient
	numKernels
)

var entryPoints = [numKernels]string{
	"add_source_vec",
	"add_source_scalar",
	"diffuse_vec_red",
	"diffuse_vec_black",
	"diffuse_scalar_red",
	"diffuse_scalar_black",
	"advect_vec",
	"advect_scalar",
	"divergence_step",
	"pressure_red",
	"pressure_black",
	"subtract_gradient",
}

// Solver owns the field buffers and one pipeline per kernel.
type Solver struct {
	dev        *gpu.Device
	cells      uint32
	iterations int
	params     sim.FluidParams

	uniform    *gpu.Buffer
	vel        [2]*gpu.Buffer
	scalar     [2]*gpu.Buffer
	velSrc     *gpu.Buffer
	scalarSrc  *gpu.Buffer
	pressure   *gpu.Buffer
	divergence *gpu.Buffer

	pipes [numKernels]*gpu.ComputePipeline
	// groups[k][vp*2+sp]: with parity 0 the old field is buffer 0 and the
	// new field buffer 1.
	groups [numKernels][4]hal.BindGroup

	// Parity of the velocity and scalar pairs. Both are zero between steps.
	vp, sp int
}

// New allocates the fields, zeroed, and builds the pipelines.
func New(ctx context.Context, d *gpu.Device, cfg Config) (*Solver, error) {
	cells := cfg.Grid.CellCount()
	if cells == 0 {
		return nil, ErrBadGrid
	}
	src := cfg.Source
	if src == "" {
		var err error
		if src, err = shaders.Source(shaders.GridFluid); err != nil {
			return nil, err
		}
	}
	s := &Solver{
		dev:        d,
		cells:      cells,
		iterations: cfg.Iterations,
		params: sim.FluidParams{
			GridSize:  cfg.Grid.Size,
			CellCount: cells,
			Timestep:  cfg.Timestep,
			Diffusion: cfg.Diffusion,
			Viscosity: cfg.Viscosity,
		},
	}
	if s.iterations <= 0 {
		s.iterations = DefaultIterations
	}
	if err := s.init(ctx, src); err != nil {
		s.Destroy()
		return nil, err
	}
	gpu.Logger().Debug("gridfluid: solver created", "cells", cells, "iterations", s.iterations)
	return s, nil
}

func (s *Solver) init(ctx context.Context, src string) error {
	const usage = gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst
	alloc := func(label string, stride uint64) (*gpu.Buffer, error) {
		return s.dev.Allocate("gridfluid."+label, uint64(s.cells)*stride, usage, gpu.MemoryDeviceLocal)
	}

	var err error
	if s.uniform, err = s.dev.Allocate("gridfluid.params", sim.FluidParamsSize,
		gputypes.BufferUsageUniform|gputypes.BufferUsageCopyDst, gpu.MemoryDeviceLocal); err != nil {
		return err
	}
	for i := range 2 {
		if s.vel[i], err = alloc(fmt.Sprintf("velocity%d", i), 16); err != nil {
			return err
		}
		if s.scalar[i], err = alloc(fmt.Sprintf("scalar%d", i), 4); err != nil {
			return err
		}
	}
	if s.velSrc, err = alloc("velocity_source", 16); err != nil {
		return err
	}
	if s.scalarSrc, err = alloc("scalar_source", 4); err != nil {
		return err
	}
	if s.pressure, err = alloc("pressure", 4); err != nil {
		return err
	}
	if s.divergence, err = alloc("divergence", 4); err != nil {
		return err
	}
	if err := s.writeParams(ctx); err != nil {
		return err
	}
	if err := s.Clear(ctx); err != nil {
		return err
	}

	bindings := []gpu.Binding{gpu.Uniform(0)}
	for b := uint32(1); b <= 8; b++ {
		bindings = append(bindings, gpu.Storage(b))
	}
	for k, entry := range entryPoints {
		label := "gridfluid." + entry
		p, err := s.dev.NewComputePipeline(gpu.ComputePipelineDesc{
			Label:      label,
			Source:     src,
			EntryPoint: entry,
			Bindings:   bindings,
			ParamSize:  sim.FluidParamsSize,
		})
		if err != nil {
			return fmt.Errorf("gridfluid: %w", err)
		}
		s.pipes[k] = p
		for vp := range 2 {
			for sp := range 2 {
				g, err := p.NewBindGroup(fmt.Sprintf("%s.%d%d", label, vp, sp),
					s.uniform,
					s.vel[vp], s.vel[1-vp],
					s.scalar[sp], s.scalar[1-sp],
					s.velSrc, s.scalarSrc, s.pressure, s.divergence)
				if err != nil {
					return fmt.Errorf("gridfluid: %w", err)
				}
				s.groups[k][vp*2+sp] = g
			}
		}
	}
	return nil
}

func (s *Solver) writeParams(ctx context.Context) error {
	return gpu.Write(ctx, s.uniform, []sim.FluidParams{s.params}, gpu.FillOptions{})
}

// SetConstants updates the timestep, diffusion and viscosity between steps.
func (s *Solver) SetConstants(ctx context.Context, timestep, diffusion, viscosity float32) error {
	s.params.Timestep = timestep
	s.params.Diffusion = diffusion
	s.params.Viscosity = viscosity
	return s.writeParams(ctx)
}

// SetIterations changes the sweep count. n <= 0 means DefaultIterations.
func (s *Solver) SetIterations(n int) {
	if n <= 0 {
		n = DefaultIterations
	}
	s.iterations = n
}

// Iterations returns the sweep count.
func (s *Solver) Iterations() int { return s.iterations }

// Dispatches returns the number of dispatches one Step records.
func (s *Solver) Dispatches() int { return 8 + 8*s.iterations }

// Cells returns the number of grid cells.
func (s *Solver) Cells() uint32 { return s.cells }

// Velocity returns the authoritative velocity field, one vec4 per cell.
func (s *Solver) Velocity() *gpu.Buffer { return s.vel[1-s.vp] }

// Scalar returns the authoritative scalar field.
func (s *Solver) Scalar() *gpu.Buffer { return s.scalar[1-s.sp] }

// VelocitySource returns the per-cell velocity source written by coupling.
func (s *Solver) VelocitySource() *gpu.Buffer { return s.velSrc }

// ScalarSource returns the per-cell scalar source written by coupling.
func (s *Solver) ScalarSource() *gpu.Buffer { return s.scalarSrc }

// Clear zeroes every field and source.
func (s *Solver) Clear(ctx context.Context) error {
	enc, err := s.dev.BeginCommands("gridfluid.clear")
	if err != nil {
		return err
	}
	for _, b := range []*gpu.Buffer{s.vel[0], s.vel[1], s.scalar[0], s.scalar[1], s.velSrc, s.scalarSrc, s.pressure, s.divergence} {
		enc.ClearBuffer(b, 0, 0)
	}
	cb, err := enc.Finish()
	if err != nil {
		return err
	}
	return s.dev.Queue(gpu.RoleCompute).SubmitAndWait(ctx, gpu.Submission{
		Label:    "gridfluid.clear",
		Commands: []hal.CommandBuffer{cb},
	})
}

// stepRecorder records dispatches against the current parities.
type stepRecorder struct {
	s   *Solver
	enc *gpu.Encoder
}

func (r stepRecorder) run(k kernel) {
	s := r.s
	r.enc.DispatchElements(s.pipes[k], s.groups[k][s.vp*2+s.sp], s.cells)
}

func (r stepRecorder) sweeps(red, black kernel) {
	for range r.s.iterations {
		r.run(red)
		r.run(black)
	}
}

func (r stepRecorder) project() {
	r.run(divergence)
	r.sweeps(pressureRed, pressureBlack)
	r.run(subtractGradient)
}

// Step records a velocity step and a scalar step into one submission that
// waits on wait and signals signal, which may be nil.
func (s *Solver) Step(ctx context.Context, wait []*gpu.Semaphore, signal *gpu.Semaphore) error {
	enc, err := s.dev.BeginCommands("gridfluid.step")
	if err != nil {
		return fmt.Errorf("gridfluid: %w", err)
	}
	r := stepRecorder{s: s, enc: enc}

	r.run(addSourceVec)
	s.vp ^= 1
	r.sweeps(diffuseVecRed, diffuseVecBlack)
	r.project()
	s.vp ^= 1
	r.run(advectVec)
	r.project()

	r.run(addSourceScalar)
	s.sp ^= 1
	r.sweeps(diffuseScalarRed, diffuseScalarBlack)
	s.sp ^= 1
	r.run(advectScalar)

	sub := gpu.Submission{Label: "gridfluid.step", Wait: wait}
	if signal != nil {
		sub.Signal = []*gpu.Semaphore{signal}
	}
	if _, err := enc.Submit(ctx, s.dev.Queue(gpu.RoleCompute), sub); err != nil {
		return fmt.Errorf("gridfluid: %w", err)
	}
	gpu.Logger().Debug("gridfluid: step submitted", "dispatches", enc.Dispatches())
	return nil
}

// Destroy releases every pipeline and buffer.
func (s *Solver) Destroy() {
	for k := range s.pipes {
		s.pipes[k].Destroy()
		s.pipes[k] = nil
	}
	for _, b := range []*gpu.Buffer{s.uniform, s.vel[0], s.vel[1], s.scalar[0], s.scalar[1], s.velSrc, s.scalarSrc, s.pressure, s.divergence} {
		if b != nil {
			b.Destroy()
		}
	}
}
