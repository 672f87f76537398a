// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package refkernel

import (
	"github.com/gogpu/fluidsim/internal/gpu/gputest"
	"github.com/gogpu/fluidsim/internal/sim"
)

func sortParams(k *gputest.Dispatch) (sim.SortParams, error) {
	var p sim.SortParams
	err := k.Uniform(0, &p)
	return p, err
}

func digit(keys record[sim.KeyValue], i int, shift uint32) uint32 {
	return (keys.get(i).Value >> shift) & 0xff
}

func sortCount(k *gputest.Dispatch) error {
	p, err := sortParams(k)
	if err != nil {
		return err
	}
	keys := view[sim.KeyValue](k, 1)
	for wg := range int(k.Groups[0]) {
		var local [256]uint32
		for lid := range sim.BlockSize {
			i := wg*sim.BlockSize + lid
			if uint32(i) < p.Count {
				local[digit(keys, i, p.Shift)]++
			}
		}
		for d := range 256 {
			k.SetU32(3, d*int(p.NumBlocks)+wg, local[d])
		}
	}
	return nil
}

// sweepRange returns the (left, right) pairs touched by one scan level.
func sweepRange(p sim.SortParams, invocations int, visit func(left, right int)) {
	n := sim.BlockSize * int(p.NumBlocks)
	stride := 2 << p.Level
	for kk := range min(invocations, n/stride) {
		right := (kk+1)*stride - 1
		visit(right-stride/2, right)
	}
}

func sortUpsweep(k *gputest.Dispatch) error {
	p, err := sortParams(k)
	if err != nil {
		return err
	}
	sweepRange(p, k.Invocations(local), func(left, right int) {
		k.SetU32(3, right, k.U32(3, right)+k.U32(3, left))
	})
	return nil
}

func sortDownsweep(k *gputest.Dispatch) error {
	p, err := sortParams(k)
	if err != nil {
		return err
	}
	sweepRange(p, k.Invocations(local), func(left, right int) {
		if p.ClearRoot != 0 {
			k.SetU32(3, right, 0)
		}
		t := k.U32(3, left)
		k.SetU32(3, left, k.U32(3, right))
		k.SetU32(3, right, k.U32(3, right)+t)
	})
	return nil
}

func sortScatter(k *gputest.Dispatch) error {
	p, err := sortParams(k)
	if err != nil {
		return err
	}
	in := view[sim.KeyValue](k, 1)
	out := view[sim.KeyValue](k, 2)
	for wg := range int(k.Groups[0]) {
		var digits [256]uint32
		for lid := range sim.BlockSize {
			i := wg*sim.BlockSize + lid
			digits[lid] = 0xffffffff
			if uint32(i) < p.Count {
				digits[lid] = digit(in, i, p.Shift)
			}
		}
		for lid := range sim.BlockSize {
			i := wg*sim.BlockSize + lid
			if uint32(i) >= p.Count {
				continue
			}
			d := digits[lid]
			rank := uint32(0)
			for j := range lid {
				if digits[j] == d {
					rank++
				}
			}
			dst := k.U32(3, int(d)*int(p.NumBlocks)+wg) + rank
			out.set(int(dst), in.get(i))
		}
	}
	return nil
}

func sortCellTable(k *gputest.Dispatch) error {
	p, err := sortParams(k)
	if err != nil {
		return err
	}
	keys := view[sim.KeyValue](k, 1)
	for c := range min(k.Invocations(local), int(p.TableLen)) {
		lo, hi := uint32(0), p.Count
		for lo < hi {
			mid := (lo + hi) / 2
			if keys.get(int(mid)).Value < uint32(c) {
				lo = mid + 1
			} else {
				hi = mid
			}
		}
		k.SetU32(4, c, lo)
	}
	return nil
}
