// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package sim

// SortPass names the kind of dispatch a SortParams block drives.
type SortPass uint32

// Sort passes in submission order.
const (
	PassCount SortPass = iota
	PassUpsweep
	PassDownsweep
	PassScatter
	PassCellTable
)

func (p SortPass) String() string {
	switch p {
	case PassCount:
		return "count"
	case PassUpsweep:
		return "upsweep"
	case PassDownsweep:
		return "downsweep"
	case PassScatter:
		return "scatter"
	case PassCellTable:
		return "cell_table"
	default:
		return "unknown"
	}
}

// SortParamsSize is the encoded size of SortParams in bytes.
const SortParamsSize = 32

// SortParams is the radix sort uniform, rewritten by the host between
// sort submissions.
type SortParams struct {
	Pass      SortPass
	Level     uint32
	Shift     uint32
	NumBlocks uint32
	Count     uint32
	CellCount uint32
	ClearRoot uint32
	TableLen  uint32
}

// FluidParamsSize is the encoded size of FluidParams in bytes.
const FluidParamsSize = 32

// FluidParams is the grid-fluid uniform.
type FluidParams struct {
	GridSize  [3]uint32
	CellCount uint32
	Timestep  float32
	Diffusion float32
	Viscosity float32
	_         float32
}

// CouplingParamsSize is the encoded size of CouplingParams in bytes.
const CouplingParamsSize = 16

// CouplingParams is the per-run exchange uniform.
type CouplingParams struct {
	HeatRate float32
	Drag     float32
	Transfer float32
	_        float32
}
