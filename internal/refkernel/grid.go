// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package refkernel

import (
	"github.com/gogpu/fluidsim/internal/gpu/gputest"
	"github.com/gogpu/fluidsim/internal/sim"
)

func cellIDs(k *gputest.Dispatch) error {
	p, err := params(k)
	if err != nil {
		return err
	}
	particles := view[sim.Particle](k, 1)
	pairs := view[sim.KeyValue](k, 2)
	g := p.Grid()
	for i := range min(k.Invocations(local), int(p.Capacity)) {
		if uint32(i) >= p.ParticleCount {
			pairs.set(i, sim.KeyValue{Key: uint32(i), Value: p.CellCount})
			continue
		}
		pt := particles.get(i)
		cell := g.CellOf(pt.Pos())
		pt.Cell = cell
		particles.set(i, pt)
		pairs.set(i, sim.KeyValue{Key: uint32(i), Value: cell})
	}
	return nil
}
