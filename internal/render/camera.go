// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// Visualization selects the quantity mapped to color.
type Visualization uint32

const (
	Velocity Visualization = iota
	Density
	Pressure
	Temperature
	numVisualizations
)

func (v Visualization) String() string {
	switch v {
	case Velocity:
		return "velocity"
	case Density:
		return "density"
	case Pressure:
		return "pressure"
	case Temperature:
		return "temperature"
	default:
		return fmt.Sprintf("Visualization(%d)", uint32(v))
	}
}

// Next returns the following visualization, wrapping around.
func (v Visualization) Next() Visualization { return (v + 1) % numVisualizations }

// ParseVisualization returns the visualization named s.
func ParseVisualization(s string) (Visualization, error) {
	for v := range numVisualizations {
		if v.String() == s {
			return v, nil
		}
	}
	return 0, fmt.Errorf("render: unknown visualization %q", s)
}

// RenderType selects what is drawn.
type RenderType int

const (
	Particles RenderType = iota
	Grid
	Both
	numRenderTypes
)

func (t RenderType) String() string {
	switch t {
	case Particles:
		return "particles"
	case Grid:
		return "grid"
	case Both:
		return "both"
	default:
		return fmt.Sprintf("RenderType(%d)", int(t))
	}
}

// Next returns the following render type, wrapping around.
func (t RenderType) Next() RenderType { return (t + 1) % numRenderTypes }

// ParseRenderType returns the render type named s.
func ParseRenderType(s string) (RenderType, error) {
	for t := range numRenderTypes {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("render: unknown render type %q", s)
}

// ViewMatrixGetter supplies the view matrix each frame.
type ViewMatrixGetter func() mgl32.Mat4

// Camera is a perspective camera looking at the simulation box.
type Camera struct {
	Eye    mgl32.Vec3
	Center mgl32.Vec3
	Up     mgl32.Vec3

	FovY      float32 // degrees
	Near, Far float32
}

// DefaultCamera frames a box from lo to hi.
func DefaultCamera(lo, hi [3]float32) Camera {
	lo3, hi3 := mgl32.Vec3(lo), mgl32.Vec3(hi)
	center := lo3.Add(hi3).Mul(0.5)
	extent := hi3.Sub(lo3).Len()
	if extent == 0 {
		extent = 1
	}
	return Camera{
		Eye:    center.Add(mgl32.Vec3{0.6, 0.5, 1.2}.Mul(extent)),
		Center: center,
		Up:     mgl32.Vec3{0, 1, 0},
		FovY:   45,
		Near:   0.01 * extent,
		Far:    10 * extent,
	}
}

// View returns the view matrix.
func (c Camera) View() mgl32.Mat4 { return mgl32.LookAtV(c.Eye, c.Center, c.Up) }

// Projection returns the projection matrix for a viewport aspect ratio.
// The Y axis is flipped for Vulkan clip space.
func (c Camera) Projection(aspect float32) mgl32.Mat4 {
	if aspect <= 0 {
		aspect = 1
	}
	p := mgl32.Perspective(mgl32.DegToRad(c.FovY), aspect, c.Near, c.Far)
	p[5] = -p[5]
	return p
}

// CameraUniformSize is the encoded size of CameraUniform.
const CameraUniformSize = 80

// CameraUniform is bound at binding 0 of every render pipeline.
type CameraUniform struct {
	ViewProj       [16]float32
	Mode           uint32
	ParticleRadius float32
	ValueScale     float32
	_              float32
}
