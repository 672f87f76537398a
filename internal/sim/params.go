// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package sim holds the host-side data model shared by every solver stage:
// the uniform parameter block, the particle and key-value records, grid
// geometry, sort capacity and the initial particle sources.
//
// All GPU records are plain fixed-size structs whose little-endian
// encoding (encoding/binary) matches the WGSL std140/std430 layouts in
// internal/shaders. Padding is spelled out with blank fields.
package sim

import "math"

// ParamsSize is the encoded size of Params in bytes.
const ParamsSize = 96

// Params is the uniform block bound at binding 0 of every simulation
// stage. It is immutable within a step.
type Params struct {
	GridSize   [3]uint32
	CellCount  uint32
	GridOrigin [3]float32
	CellSize   float32
	Gravity    [3]float32
	Timestep   float32

	ParticleMass     float32
	RestDensity      float32
	Viscosity        float32
	GasStiffness     float32
	Heat             float32
	SurfaceTension   float32
	SurfaceThreshold float32
	SupportRadius    float32

	ParticleCount uint32
	Capacity      uint32
	_             [2]uint32
}

// Fluid holds the SPH material constants.
type Fluid struct {
	RestDensity      float32
	ParticleMass     float32
	Viscosity        float32
	GasStiffness     float32
	Heat             float32
	SurfaceTension   float32
	SurfaceThreshold float32
	Timestep         float32
	Gravity          [3]float32

	// SupportRadius is the kernel radius h. Zero means the grid cell
	// size, the largest radius the 27-cell neighbor search covers.
	SupportRadius float32
}

// DefaultFluid returns water-like constants.
func DefaultFluid() Fluid {
	return Fluid{
		RestDensity:      1000,
		ParticleMass:     0.02,
		Viscosity:        3.5,
		GasStiffness:     3.0,
		Heat:             0.5,
		SurfaceTension:   0.0728,
		SurfaceThreshold: 7.065,
		Timestep:         0.001,
		Gravity:          [3]float32{0, -9.81, 0},
	}
}

// NewParams builds the parameter block for count particles.
func NewParams(g Grid, f Fluid, count uint32) Params {
	h := f.SupportRadius
	if h <= 0 {
		h = g.CellSize
	}
	return Params{
		GridSize:         g.Size,
		CellCount:        g.CellCount(),
		GridOrigin:       g.Origin,
		CellSize:         g.CellSize,
		Gravity:          f.Gravity,
		Timestep:         f.Timestep,
		ParticleMass:     f.ParticleMass,
		RestDensity:      f.RestDensity,
		Viscosity:        f.Viscosity,
		GasStiffness:     f.GasStiffness,
		Heat:             f.Heat,
		SurfaceTension:   f.SurfaceTension,
		SurfaceThreshold: f.SurfaceThreshold,
		SupportRadius:    h,
		ParticleCount:    count,
		Capacity:         Capacity(count),
	}
}

// Grid returns the grid geometry the block was built from.
func (p Params) Grid() Grid {
	return Grid{Size: p.GridSize, Origin: p.GridOrigin, CellSize: p.CellSize}
}

// Grid is a uniform box of cubic cells shared by the neighbor search and
// the grid-fluid solver.
type Grid struct {
	Size     [3]uint32
	Origin   [3]float32
	CellSize float32
}

// CellCount returns the number of cells.
func (g Grid) CellCount() uint32 { return g.Size[0] * g.Size[1] * g.Size[2] }

// Max returns the far corner of the box.
func (g Grid) Max() [3]float32 {
	var m [3]float32
	for i := range m {
		m[i] = g.Origin[i] + float32(g.Size[i])*g.CellSize
	}
	return m
}

// Coord returns the clamped integer cell coordinate of p.
func (g Grid) Coord(p [3]float32) [3]uint32 {
	var c [3]uint32
	for i := range c {
		f := float32(math.Floor(float64((p[i] - g.Origin[i]) / g.CellSize)))
		switch {
		case !(f > 0): // also catches NaN
			c[i] = 0
		case f >= float32(g.Size[i]):
			c[i] = g.Size[i] - 1
		default:
			c[i] = uint32(f)
		}
	}
	return c
}

// Flatten returns the linear index of cell coordinate c, x fastest.
func (g Grid) Flatten(c [3]uint32) uint32 {
	return c[0] + g.Size[0]*(c[1]+g.Size[1]*c[2])
}

// Unflatten is the inverse of Flatten.
func (g Grid) Unflatten(cell uint32) [3]uint32 {
	x := cell % g.Size[0]
	y := (cell / g.Size[0]) % g.Size[1]
	z := cell / (g.Size[0] * g.Size[1])
	return [3]uint32{x, y, z}
}

// CellOf returns the flattened cell containing p, clamped to the grid.
func (g Grid) CellOf(p [3]float32) uint32 { return g.Flatten(g.Coord(p)) }
