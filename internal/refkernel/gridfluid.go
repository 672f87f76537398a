// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package refkernel

import (
	"math"

	"github.com/gogpu/fluidsim/internal/gpu/gputest"
	"github.com/gogpu/fluidsim/internal/sim"
)

// Grid-fluid bindings.
const (
	bVelOld = 1 + iota
	bVelNew
	bSOld
	bSNew
	bVelSrc
	bSSrc
	bPressure
	bDivergence
)

type field struct {
	k *gputest.Dispatch
	p sim.FluidParams
}

func bindField(k *gputest.Dispatch) (*field, error) {
	f := &field{k: k}
	if err := k.Uniform(0, &f.p); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *field) count() int { return min(f.k.Invocations(local), int(f.p.CellCount)) }

func (f *field) coord(i int) [3]int {
	g := f.p.GridSize
	u := uint32(i)
	return [3]int{int(u % g[0]), int((u / g[0]) % g[1]), int(u / (g[0] * g[1]))}
}

func (f *field) at(c [3]int) int {
	g := f.p.GridSize
	var k [3]int
	for a := range 3 {
		k[a] = max(0, min(c[a], int(g[a])-1))
	}
	return k[0] + int(g[0])*(k[1]+int(g[1])*k[2])
}

func (f *field) scale() float32 {
	g := f.p.GridSize
	return float32(max(g[0], g[1], g[2]))
}

var axes = [3][3]int{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}

func offset(c [3]int, d [3]int, sign int) [3]int {
	return [3]int{c[0] + sign*d[0], c[1] + sign*d[1], c[2] + sign*d[2]}
}

func isColor(c [3]int, parity int) bool { return (c[0]+c[1]+c[2])&1 == parity }

func (f *field) vec(binding uint32, i int) [4]float32 {
	return [4]float32{f.k.F32(binding, 4*i), f.k.F32(binding, 4*i+1), f.k.F32(binding, 4*i+2), f.k.F32(binding, 4*i+3)}
}

func (f *field) setVec(binding uint32, i int, v [4]float32) {
	for c := range 4 {
		f.k.SetF32(binding, 4*i+c, v[c])
	}
}

func (f *field) sum6Vec(binding uint32, c [3]int) [4]float32 {
	var s [4]float32
	for _, d := range axes {
		for _, sign := range []int{1, -1} {
			v := f.vec(binding, f.at(offset(c, d, sign)))
			for k := range 4 {
				s[k] += v[k]
			}
		}
	}
	return s
}

func (f *field) sum6(binding uint32, c [3]int) float32 {
	var s float32
	for _, d := range axes {
		for _, sign := range []int{1, -1} {
			s += f.k.F32(binding, f.at(offset(c, d, sign)))
		}
	}
	return s
}

func (f *field) backtrace(c [3]int, v vec3) vec3 {
	g := f.p.GridSize
	var p vec3
	for a := range 3 {
		p[a] = max(0, min(float32(c[a])-f.p.Timestep*f.scale()*v[a], float32(g[a])-1))
	}
	return p
}

// trilinear samples corner values at p, looking them up with get.
func (f *field) trilinear(p vec3, get func(i int) [4]float32) [4]float32 {
	var b [3]int
	var t vec3
	for a := range 3 {
		fl := float32(math.Floor(float64(p[a])))
		b[a] = int(fl)
		t[a] = p[a] - fl
	}
	corner := func(dx, dy, dz int) [4]float32 {
		return get(f.at([3]int{b[0] + dx, b[1] + dy, b[2] + dz}))
	}
	mix := func(x, y [4]float32, s float32) [4]float32 {
		var o [4]float32
		for k := range 4 {
			o[k] = x[k]*(1-s) + y[k]*s
		}
		return o
	}
	c00 := mix(corner(0, 0, 0), corner(1, 0, 0), t[0])
	c10 := mix(corner(0, 1, 0), corner(1, 1, 0), t[0])
	c01 := mix(corner(0, 0, 1), corner(1, 0, 1), t[0])
	c11 := mix(corner(0, 1, 1), corner(1, 1, 1), t[0])
	return mix(mix(c00, c10, t[1]), mix(c01, c11, t[1]), t[2])
}

func addSourceVec(k *gputest.Dispatch) error {
	f, err := bindField(k)
	if err != nil {
		return err
	}
	for i := range f.count() {
		v, s := f.vec(bVelNew, i), f.vec(bVelSrc, i)
		for c := range 4 {
			v[c] += f.p.Timestep * s[c]
		}
		f.setVec(bVelNew, i, v)
	}
	return nil
}

func addSourceScalar(k *gputest.Dispatch) error {
	f, err := bindField(k)
	if err != nil {
		return err
	}
	for i := range f.count() {
		k.SetF32(bSNew, i, k.F32(bSNew, i)+f.p.Timestep*k.F32(bSSrc, i))
	}
	return nil
}

func diffuseVec(parity int) gputest.Kernel {
	return func(k *gputest.Dispatch) error {
		f, err := bindField(k)
		if err != nil {
			return err
		}
		n := f.scale()
		a := f.p.Timestep * f.p.Viscosity * n * n
		for i := range f.count() {
			c := f.coord(i)
			if !isColor(c, parity) {
				continue
			}
			old, sum := f.vec(bVelOld, i), f.sum6Vec(bVelNew, c)
			var v [4]float32
			for ch := range 4 {
				v[ch] = (old[ch] + a*sum[ch]) / (1 + 6*a)
			}
			f.setVec(bVelNew, i, v)
		}
		return nil
	}
}

func diffuseScalar(parity int) gputest.Kernel {
	return func(k *gputest.Dispatch) error {
		f, err := bindField(k)
		if err != nil {
			return err
		}
		n := f.scale()
		a := f.p.Timestep * f.p.Diffusion * n * n
		for i := range f.count() {
			c := f.coord(i)
			if !isColor(c, parity) {
				continue
			}
			k.SetF32(bSNew, i, (k.F32(bSOld, i)+a*f.sum6(bSNew, c))/(1+6*a))
		}
		return nil
	}
}

func advectVec(k *gputest.Dispatch) error {
	f, err := bindField(k)
	if err != nil {
		return err
	}
	for i := range f.count() {
		p := f.backtrace(f.coord(i), xyz(f.vec(bVelOld, i)))
		f.setVec(bVelNew, i, f.trilinear(p, func(j int) [4]float32 { return f.vec(bVelOld, j) }))
	}
	return nil
}

func advectScalar(k *gputest.Dispatch) error {
	f, err := bindField(k)
	if err != nil {
		return err
	}
	for i := range f.count() {
		p := f.backtrace(f.coord(i), xyz(f.vec(bVelNew, i)))
		s := f.trilinear(p, func(j int) [4]float32 { return [4]float32{k.F32(bSOld, j)} })
		k.SetF32(bSNew, i, s[0])
	}
	return nil
}

func divergenceStep(k *gputest.Dispatch) error {
	f, err := bindField(k)
	if err != nil {
		return err
	}
	for i := range f.count() {
		c := f.coord(i)
		var sum float32
		for a, d := range axes {
			sum += f.vec(bVelNew, f.at(offset(c, d, 1)))[a] - f.vec(bVelNew, f.at(offset(c, d, -1)))[a]
		}
		k.SetF32(bDivergence, i, -0.5*sum/f.scale())
		k.SetF32(bPressure, i, 0)
	}
	return nil
}

func pressureSweep(parity int) gputest.Kernel {
	return func(k *gputest.Dispatch) error {
		f, err := bindField(k)
		if err != nil {
			return err
		}
		for i := range f.count() {
			c := f.coord(i)
			if !isColor(c, parity) {
				continue
			}
			k.SetF32(bPressure, i, (k.F32(bDivergence, i)+f.sum6(bPressure, c))/6)
		}
		return nil
	}
}

func subtractGradient(k *gputest.Dispatch) error {
	f, err := bindField(k)
	if err != nil {
		return err
	}
	n := f.scale()
	for i := range f.count() {
		c := f.coord(i)
		v := f.vec(bVelNew, i)
		for a, d := range axes {
			g := k.F32(bPressure, f.at(offset(c, d, 1))) - k.F32(bPressure, f.at(offset(c, d, -1)))
			v[a] -= 0.5 * n * g
		}
		f.setVec(bVelNew, i, v)
	}
	return nil
}
