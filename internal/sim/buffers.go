// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package sim

import (
	"context"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/fluidsim/internal/gpu"
)

// Buffers owns the device state every stage shares: the parameter uniform
// and the particle array.
type Buffers struct {
	params    *gpu.Buffer
	particles *gpu.Buffer

	host    Params
	initial []Particle
}

// NewBuffers allocates and fills the shared buffers. particles is kept as
// the snapshot Reset restores.
func NewBuffers(ctx context.Context, d *gpu.Device, g Grid, f Fluid, particles []Particle) (*Buffers, error) {
	if len(particles) == 0 {
		return nil, ErrNoParticles
	}
	b := &Buffers{
		host:    NewParams(g, f, uint32(len(particles))),
		initial: append([]Particle(nil), particles...),
	}

	var err error
	b.params, err = d.Allocate("sim.params", ParamsSize,
		gputypes.BufferUsageUniform|gputypes.BufferUsageCopyDst, gpu.MemoryDeviceLocal)
	if err != nil {
		return nil, err
	}
	b.particles, err = d.Allocate("sim.particles", uint64(len(particles))*ParticleSize,
		gputypes.BufferUsageStorage|gputypes.BufferUsageCopySrc|gputypes.BufferUsageCopyDst, gpu.MemoryDeviceLocal)
	if err != nil {
		b.Destroy()
		return nil, err
	}
	if err := gpu.Write(ctx, b.params, []Params{b.host}, gpu.FillOptions{}); err != nil {
		b.Destroy()
		return nil, err
	}
	if err := b.Reset(ctx); err != nil {
		b.Destroy()
		return nil, err
	}
	return b, nil
}

// ParamBuffer returns the uniform holding the parameter block.
func (b *Buffers) ParamBuffer() *gpu.Buffer { return b.params }

// ParticleBuffer returns the particle array.
func (b *Buffers) ParticleBuffer() *gpu.Buffer { return b.particles }

// Params returns the host copy of the parameter block.
func (b *Buffers) Params() Params { return b.host }

// Count returns the number of particles.
func (b *Buffers) Count() uint32 { return b.host.ParticleCount }

// Reset restores the particle array from the initial snapshot.
func (b *Buffers) Reset(ctx context.Context) error {
	if err := gpu.Write(ctx, b.particles, b.initial, gpu.FillOptions{Staging: true}); err != nil {
		return fmt.Errorf("sim: reset particles: %w", err)
	}
	return nil
}

// Refill replaces the initial snapshot and restores the particle array
// from it without reallocating. The particle count must not change.
func (b *Buffers) Refill(ctx context.Context, particles []Particle) error {
	if uint32(len(particles)) != b.host.ParticleCount {
		return fmt.Errorf("%w: have %d, got %d", ErrCountChanged, b.host.ParticleCount, len(particles))
	}
	b.initial = append(b.initial[:0], particles...)
	return b.Reset(ctx)
}

// SetFluid rewrites the parameter block with new fluid constants. The
// grid and the particle count are unchanged.
func (b *Buffers) SetFluid(ctx context.Context, f Fluid) error {
	p := NewParams(b.host.Grid(), f, b.host.ParticleCount)
	if err := gpu.Write(ctx, b.params, []Params{p}, gpu.FillOptions{}); err != nil {
		return fmt.Errorf("sim: write params: %w", err)
	}
	b.host = p
	return nil
}

// Destroy releases both buffers.
func (b *Buffers) Destroy() {
	if b.params != nil {
		b.params.Destroy()
	}
	if b.particles != nil {
		b.particles.Destroy()
	}
}
