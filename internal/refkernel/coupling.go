// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package refkernel

import (
	"github.com/gogpu/fluidsim/internal/gpu/gputest"
	"github.com/gogpu/fluidsim/internal/sim"
)

func couplingParams(k *gputest.Dispatch) (sim.CouplingParams, error) {
	var c sim.CouplingParams
	err := k.Uniform(8, &c)
	return c, err
}

func tag(k *gputest.Dispatch) error {
	p, err := params(k)
	if err != nil {
		return err
	}
	for c := range min(k.Invocations(local), int(p.CellCount)) {
		k.SetU32(4, c, k.U32(3, c+1)-k.U32(3, c))
	}
	return nil
}

func exchange(k *gputest.Dispatch) error {
	p, err := params(k)
	if err != nil {
		return err
	}
	cp, err := couplingParams(k)
	if err != nil {
		return err
	}
	particles := view[sim.Particle](k, 1)
	pairs := view[sim.KeyValue](k, 2)
	for c := range min(k.Invocations(local), int(p.CellCount)) {
		n := k.U32(4, c)
		if n == 0 {
			for ch := range 4 {
				k.SetF32(6, 4*c+ch, 0)
			}
			k.SetF32(7, c, 0)
			continue
		}
		var sum vec3
		for kk := k.U32(3, c); kk < k.U32(3, c+1); kk++ {
			sum = sum.add(xyz(particles.get(int(pairs.get(int(kk)).Key)).Velocity))
		}
		mean := sum.scale(1 / float32(n)).scale(cp.Transfer)
		for ch := range 3 {
			k.SetF32(6, 4*c+ch, mean[ch])
		}
		k.SetF32(6, 4*c+3, 0)
		k.SetF32(7, c, cp.HeatRate*float32(n))
	}
	return nil
}

func drag(k *gputest.Dispatch) error {
	p, err := params(k)
	if err != nil {
		return err
	}
	cp, err := couplingParams(k)
	if err != nil {
		return err
	}
	particles := view[sim.Particle](k, 1)
	t := max(0, min(cp.Drag*p.Timestep, 1))
	for i := range min(k.Invocations(local), int(p.ParticleCount)) {
		pt := particles.get(i)
		gv := vec3{k.F32(5, 4*int(pt.Cell)), k.F32(5, 4*int(pt.Cell)+1), k.F32(5, 4*int(pt.Cell)+2)}
		v := xyz(pt.Velocity)
		pt.Velocity = vec4(v.scale(1-t).add(gv.scale(t)), 0)
		particles.set(i, pt)
	}
	return nil
}
