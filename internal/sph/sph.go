// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package sph advances the particle fluid: density, neighbor center,
// forces and integration, one dispatch each over the sorted neighbor grid.
package sph

import (
	"context"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/fluidsim/internal/gpu"
	"github.com/gogpu/fluidsim/internal/shaders"
	"github.com/gogpu/fluidsim/internal/sim"
)

// Step is one SPH dispatch.
type Step int

// Steps in tick order.
const (
	MassDensity Step = iota
	MassDensityCenter
	Force
	Advect
	numSteps
)

// Steps returns every step in tick order.
func Steps() []Step { return []Step{MassDensity, MassDensityCenter, Force, Advect} }

// String returns the step name used in stage and submission labels.
func (s Step) String() string {
	switch s {
	case MassDensity:
		return "massDensity"
	case MassDensityCenter:
		return "massDensityCenter"
	case Force:
		return "force"
	case Advect:
		return "advect"
	default:
		return fmt.Sprintf("Step(%d)", int(s))
	}
}

func (s Step) entryPoint() string {
	switch s {
	case MassDensity:
		return "mass_density"
	case MassDensityCenter:
		return "mass_density_center"
	case Force:
		return "force"
	default:
		return "advect"
	}
}

// Config wires the solver to buffers owned by sim.Buffers and the grid
// builder.
type Config struct {
	Params    *gpu.Buffer
	Particles *gpu.Buffer
	Pairs     *gpu.Buffer
	Table     *gpu.Buffer
	Count     uint32

	// Source overrides the embedded shader.
	Source string
}

// Solver owns one pipeline per step and the per-particle center buffer.
// Every step binds the same buffers.
type Solver struct {
	dev     *gpu.Device
	count   uint32
	centers *gpu.Buffer
	pipes   [numSteps]*gpu.ComputePipeline
	groups  [numSteps]hal.BindGroup
}

// New builds the four step pipelines.
func New(d *gpu.Device, cfg Config) (*Solver, error) {
	if cfg.Params == nil || cfg.Particles == nil || cfg.Pairs == nil || cfg.Table == nil {
		return nil, fmt.Errorf("sph: params, particle, pair and table buffers are required")
	}
	if cfg.Count == 0 {
		return nil, sim.ErrNoParticles
	}
	src := cfg.Source
	if src == "" {
		var err error
		if src, err = shaders.Source(shaders.SPH); err != nil {
			return nil, err
		}
	}

	s := &Solver{dev: d, count: cfg.Count}
	var err error
	s.centers, err = d.Allocate("sph.centers", uint64(cfg.Count)*sim.CenterSize,
		gputypes.BufferUsageStorage|gputypes.BufferUsageCopySrc, gpu.MemoryDeviceLocal)
	if err != nil {
		return nil, err
	}

	bindings := []gpu.Binding{gpu.Uniform(0), gpu.Storage(1), gpu.ReadOnly(2), gpu.ReadOnly(3), gpu.Storage(4)}
	for _, step := range Steps() {
		label := "sph." + step.String()
		p, err := d.NewComputePipeline(gpu.ComputePipelineDesc{
			Label:      label,
			Source:     src,
			EntryPoint: step.entryPoint(),
			Bindings:   bindings,
			ParamSize:  sim.ParamsSize,
		})
		if err != nil {
			s.Destroy()
			return nil, fmt.Errorf("sph: %s: %w", step, err)
		}
		s.pipes[step] = p
		if s.groups[step], err = p.NewBindGroup(label, cfg.Params, cfg.Particles, cfg.Pairs, cfg.Table, s.centers); err != nil {
			s.Destroy()
			return nil, fmt.Errorf("sph: %s: %w", step, err)
		}
	}
	return s, nil
}

// Centers returns the neighbor-center buffer: xyz is the weighted center,
// w the color-field gradient magnitude.
func (s *Solver) Centers() *gpu.Buffer { return s.centers }

// RunStep submits a single step. The submission waits on wait and signals
// signal, which may be nil.
func (s *Solver) RunStep(ctx context.Context, step Step, wait []*gpu.Semaphore, signal *gpu.Semaphore) error {
	if step < 0 || step >= numSteps {
		return fmt.Errorf("sph: unknown step %d", int(step))
	}
	label := "sph." + step.String()
	enc, err := s.dev.BeginCommands(label)
	if err != nil {
		return fmt.Errorf("sph: %s: %w", step, err)
	}
	enc.DispatchElements(s.pipes[step], s.groups[step], s.count)

	sub := gpu.Submission{Label: label, Wait: wait}
	if signal != nil {
		sub.Signal = []*gpu.Semaphore{signal}
	}
	if _, err := enc.Submit(ctx, s.dev.Queue(gpu.RoleCompute), sub); err != nil {
		return fmt.Errorf("sph: %s: %w", step, err)
	}
	gpu.Logger().Debug("sph: step submitted", "step", step.String(), "particles", s.count)
	return nil
}

// Tick runs every step in order, chaining them through pool semaphores.
// The first step waits on wait; the last signals signal. On error the
// semaphores chained between steps go back to the pool; wait and signal
// stay with the caller.
func (s *Solver) Tick(ctx context.Context, wait []*gpu.Semaphore, signal *gpu.Semaphore) error {
	pool := s.dev.Semaphores()
	var chained *gpu.Semaphore
	for _, step := range Steps() {
		next := signal
		if step != Advect {
			next = pool.Get("sph." + step.String())
		}
		if err := s.RunStep(ctx, step, wait, next); err != nil {
			if next != signal {
				next.Release()
			}
			if chained != nil && chained.Signaled() {
				chained.Release()
			}
			return err
		}
		chained = next
		wait = []*gpu.Semaphore{next}
	}
	return nil
}

// Destroy releases the pipelines and the center buffer.
func (s *Solver) Destroy() {
	for i := range s.pipes {
		s.pipes[i].Destroy()
		s.pipes[i] = nil
	}
	if s.centers != nil {
		s.centers.Destroy()
		s.centers = nil
	}
}
