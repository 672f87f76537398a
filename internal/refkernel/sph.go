// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package refkernel

import (
	"math"

	"github.com/gogpu/fluidsim/internal/gpu/gputest"
	"github.com/gogpu/fluidsim/internal/sim"
)

// sphBindings are the buffers shared by every SPH step.
type sphBindings struct {
	p         sim.Params
	particles record[sim.Particle]
	pairs     record[sim.KeyValue]
	table     *gputest.Dispatch
	centers   record[sim.Center]
}

func bindSPH(k *gputest.Dispatch) (*sphBindings, error) {
	p, err := params(k)
	if err != nil {
		return nil, err
	}
	return &sphBindings{
		p:         p,
		particles: view[sim.Particle](k, 1),
		pairs:     view[sim.KeyValue](k, 2),
		table:     k,
		centers:   view[sim.Center](k, 4),
	}, nil
}

func (b *sphBindings) count(k *gputest.Dispatch) int {
	return min(k.Invocations(local), int(b.p.ParticleCount))
}

// neighbors calls visit with every particle index in the 27 cells around
// cell, in the same order as the WGSL loops.
func (b *sphBindings) neighbors(cell uint32, visit func(j uint32)) {
	g := b.p.Grid()
	c := g.Unflatten(cell)
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				n := [3]int{int(c[0]) + dx, int(c[1]) + dy, int(c[2]) + dz}
				if n[0] < 0 || n[1] < 0 || n[2] < 0 ||
					n[0] >= int(g.Size[0]) || n[1] >= int(g.Size[1]) || n[2] >= int(g.Size[2]) {
					continue
				}
				nc := g.Flatten([3]uint32{uint32(n[0]), uint32(n[1]), uint32(n[2])})
				start, end := b.table.U32(3, int(nc)), b.table.U32(3, int(nc)+1)
				for kk := start; kk < end; kk++ {
					visit(b.pairs.get(int(kk)).Key)
				}
			}
		}
	}
}

func (b *sphBindings) poly6(r2 float32) float32 {
	h := b.p.SupportRadius
	h2 := h * h
	if r2 >= h2 {
		return 0
	}
	d := h2 - r2
	return 315 / (64 * math.Pi * pow(h, 9)) * d * d * d
}

func (b *sphBindings) poly6Grad(r vec3, r2 float32) vec3 {
	h := b.p.SupportRadius
	h2 := h * h
	if r2 >= h2 {
		return vec3{}
	}
	d := h2 - r2
	return r.scale(-945 / (32 * math.Pi * pow(h, 9)) * d * d)
}

func (b *sphBindings) spikyGrad(r vec3, length float32) vec3 {
	h := b.p.SupportRadius
	if length >= h || length <= 0 {
		return vec3{}
	}
	d := h - length
	return r.scale(1 / length).scale(-45 / (math.Pi * pow(h, 6)) * d * d)
}

func (b *sphBindings) viscLaplacian(length float32) float32 {
	h := b.p.SupportRadius
	if length >= h {
		return 0
	}
	return 45 / (math.Pi * pow(h, 6)) * (h - length)
}

func (b *sphBindings) eos(density float32) float32 {
	return b.p.GasStiffness * (density - b.p.RestDensity)
}

func massDensity(k *gputest.Dispatch) error {
	b, err := bindSPH(k)
	if err != nil {
		return err
	}
	for i := range b.count(k) {
		pi := b.particles.get(i)
		xi := xyz(pi.Position)
		var rho float32
		b.neighbors(pi.Cell, func(j uint32) {
			r := xi.sub(xyz(b.particles.get(int(j)).Position))
			rho += b.p.ParticleMass * b.poly6(r.dot(r))
		})
		pi.Density = rho
		b.particles.set(i, pi)
	}
	return nil
}

func massDensityCenter(k *gputest.Dispatch) error {
	b, err := bindSPH(k)
	if err != nil {
		return err
	}
	for i := range b.count(k) {
		pi := b.particles.get(i)
		xi := xyz(pi.Position)
		var weighted, normal vec3
		var weight float32
		b.neighbors(pi.Cell, func(j uint32) {
			pj := b.particles.get(int(j))
			xj := xyz(pj.Position)
			r := xi.sub(xj)
			r2 := r.dot(r)
			vol := b.p.ParticleMass / max(pj.Density, 1e-6)
			w := vol * b.poly6(r2)
			weighted = weighted.add(xj.scale(w))
			weight += w
			normal = normal.add(b.poly6Grad(r, r2).scale(vol))
		})
		center := xi
		if weight > 0 {
			center = weighted.scale(1 / weight)
		}
		b.centers.set(i, sim.Center(vec4(center, normal.length())))
	}
	return nil
}

func force(k *gputest.Dispatch) error {
	b, err := bindSPH(k)
	if err != nil {
		return err
	}
	p := b.p
	for i := range b.count(k) {
		pi := b.particles.get(i)
		xi, vi := xyz(pi.Position), xyz(pi.Velocity)
		rhoi := max(pi.Density, 1e-6)
		press := b.eos(pi.Density)

		var fPressure, fVisc vec3
		b.neighbors(pi.Cell, func(j uint32) {
			if j == uint32(i) {
				return
			}
			pj := b.particles.get(int(j))
			r := xi.sub(xyz(pj.Position))
			length := r.length()
			rhoj := max(pj.Density, 1e-6)
			pressj := b.eos(pj.Density)
			fPressure = fPressure.sub(b.spikyGrad(r, length).scale(p.ParticleMass * (press + pressj) / (2 * rhoj)))
			fVisc = fVisc.add(xyz(pj.Velocity).sub(vi).scale(p.Viscosity * p.ParticleMass / rhoj * b.viscLaplacian(length)))
		})

		a := fPressure.add(fVisc).scale(1 / rhoi).add(vec3(p.Gravity))
		c := b.centers.get(i)
		if c[3] > p.SurfaceThreshold {
			a = a.add(xyz(c).sub(xi).scale(p.SurfaceTension / (p.SupportRadius * p.SupportRadius)))
		}
		pi.Pressure = press
		pi.PredictedVelocity = vec4(vi.add(a.scale(p.Timestep)), 0)
		b.particles.set(i, pi)
	}
	return nil
}

func advect(k *gputest.Dispatch) error {
	b, err := bindSPH(k)
	if err != nil {
		return err
	}
	p := b.p
	lo, hi := p.GridOrigin, p.Grid().Max()
	for i := range b.count(k) {
		pi := b.particles.get(i)
		v := xyz(pi.PredictedVelocity)
		x := xyz(pi.Position).add(v.scale(p.Timestep))
		for a := range 3 {
			below, above := x[a] < lo[a], x[a] > hi[a]
			if below {
				x[a] = 2*lo[a] - x[a]
			}
			if above {
				x[a] = 2*hi[a] - x[a]
			}
			if below || above {
				v[a] = -v[a]
			}
			x[a] = max(lo[a], min(x[a], hi[a]))
		}
		pi.Position = vec4(x, 1)
		pi.Velocity = vec4(v, 0)
		b.particles.set(i, pi)
	}
	return nil
}
