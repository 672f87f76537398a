// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package sim

import "fmt"

// Volume is an axis-aligned box filled with particles on a lattice.
type Volume struct {
	Min     [3]float32
	Max     [3]float32
	Spacing float32
}

// Validate reports a degenerate box or lattice.
func (v Volume) Validate() error {
	if !(v.Spacing > 0) {
		return fmt.Errorf("sim: volume spacing %v must be positive", v.Spacing)
	}
	for i := range 3 {
		if !(v.Max[i] > v.Min[i]) {
			return fmt.Errorf("sim: volume axis %d: max %v <= min %v", i, v.Max[i], v.Min[i])
		}
	}
	return nil
}

func (v Volume) counts() [3]int {
	var n [3]int
	for i := range n {
		n[i] = int((v.Max[i]-v.Min[i])/v.Spacing) + 1
		if v.Min[i]+float32(n[i]-1)*v.Spacing > v.Max[i] {
			n[i]--
		}
	}
	return n
}

// Count returns the number of particles Fill places in v.
func (v Volume) Count() int {
	n := v.counts()
	return n[0] * n[1] * n[2]
}

// jitterScale is the lattice jitter as a fraction of the spacing.
const jitterScale = 0.1

// Fill places particles on the lattice of every volume, in order, and
// clamps them into the grid. Positions carry a small deterministic jitter
// so that no two particles are exactly aligned.
func Fill(volumes []Volume, g Grid) ([]Particle, error) {
	total := 0
	for i, v := range volumes {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("volume %d: %w", i, err)
		}
		total += v.Count()
	}
	if total == 0 {
		return nil, ErrNoParticles
	}

	lo, hi := g.Origin, g.Max()
	out := make([]Particle, 0, total)
	for _, v := range volumes {
		n := v.counts()
		for z := range n[2] {
			for y := range n[1] {
				for x := range n[0] {
					idx := [3]int{x, y, z}
					var p [3]float32
					for a := range 3 {
						j := jitter(uint64(len(out)), a) * jitterScale * v.Spacing
						p[a] = clampf(v.Min[a]+float32(idx[a])*v.Spacing+j, lo[a], hi[a])
					}
					out = append(out, NewParticle(p, [3]float32{}))
				}
			}
		}
	}
	return out, nil
}

// jitter returns a value in [-0.5, 0.5) derived from a particle index and
// axis with splitmix64.
func jitter(i uint64, axis int) float32 {
	z := i*3 + uint64(axis) + 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	z ^= z >> 31
	return float32(z>>40)/float32(1<<24) - 0.5
}

func clampf(v, lo, hi float32) float32 {
	// Keep strictly inside the far face so the particle maps to the last
	// cell rather than one past it.
	const eps = 1e-5
	return max(lo, min(v, hi-eps))
}
