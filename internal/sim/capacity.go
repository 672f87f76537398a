// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package sim

import "math/bits"

// BlockSize is the number of pairs one sort workgroup handles.
const BlockSize = 256

// Capacity returns the sort capacity for n particles: the next power of
// two that is at least n and at least one block.
func Capacity(n uint32) uint32 {
	return NextPow2(max(n, BlockSize))
}

// NumBlocks returns the number of sort blocks for a capacity.
func NumBlocks(capacity uint32) uint32 {
	return (capacity + BlockSize - 1) / BlockSize
}

// TableSize returns the length of the cell-start table for cellCount
// cells: cellCount+1 entries rounded up to a power of two.
func TableSize(cellCount uint32) uint32 {
	return NextPow2(cellCount + 1)
}

// SortDigits returns the number of 8-bit radix digits needed to order cell
// IDs up to and including the padding sentinel cellCount.
func SortDigits(cellCount uint32) int {
	return max(1, (bits.Len32(cellCount)+7)/8)
}

// NextPow2 returns the smallest power of two >= n. NextPow2(0) is 1.
func NextPow2(n uint32) uint32 {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len32(n-1)
}
