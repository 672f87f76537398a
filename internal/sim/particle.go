// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package sim

// ParticleSize is the encoded size of Particle in bytes.
const ParticleSize = 64

// Particle is one SPH particle as stored on the device. The w components
// of the vectors are unused.
type Particle struct {
	Position          [4]float32
	Velocity          [4]float32
	PredictedVelocity [4]float32
	Density           float32
	Pressure          float32
	Cell              uint32
	_                 uint32
}

// NewParticle returns a particle at p moving with v.
func NewParticle(p, v [3]float32) Particle {
	return Particle{
		Position: [4]float32{p[0], p[1], p[2], 1},
		Velocity: [4]float32{v[0], v[1], v[2], 0},
	}
}

// Pos returns the position as a 3-vector.
func (p *Particle) Pos() [3]float32 { return [3]float32{p.Position[0], p.Position[1], p.Position[2]} }

// Vel returns the velocity as a 3-vector.
func (p *Particle) Vel() [3]float32 { return [3]float32{p.Velocity[0], p.Velocity[1], p.Velocity[2]} }

// KeyValueSize is the encoded size of KeyValue in bytes.
const KeyValueSize = 8

// KeyValue pairs a particle index with its cell. The sort orders pairs by
// Value.
type KeyValue struct {
	Key   uint32
	Value uint32
}

// CenterSize is the encoded size of Center in bytes.
const CenterSize = 16

// Center is the per-particle auxiliary record written by the
// mass-density-center step: the density-weighted neighbor center in xyz and
// the color-field gradient magnitude in w.
type Center [4]float32
