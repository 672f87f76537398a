// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"context"
	"fmt"

	"github.com/gogpu/wgpu/hal"
)

// Encoder records a one-shot command buffer.
//
// Every Dispatch opens its own compute pass so that storage writes of one
// dispatch are visible to the next.
type Encoder struct {
	dev   *Device
	raw   hal.CommandEncoder
	label string

	dispatches int
	finished   bool
}

// BeginCommands creates an encoder and begins recording.
func (d *Device) BeginCommands(label string) (*Encoder, error) {
	if d.isClosed() {
		return nil, ErrDeviceClosed
	}
	raw, err := d.raw.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("gpu: %s: create command encoder: %w", label, err)
	}
	if err := raw.BeginEncoding(label); err != nil {
		return nil, fmt.Errorf("gpu: %s: begin encoding: %w", label, err)
	}
	return &Encoder{dev: d, raw: raw, label: label}, nil
}

// HAL returns the underlying encoder for render passes and texture copies.
func (e *Encoder) HAL() hal.CommandEncoder { return e.raw }

// Label returns the debug label.
func (e *Encoder) Label() string { return e.label }

// Dispatches returns the number of dispatches recorded so far.
func (e *Encoder) Dispatches() int { return e.dispatches }

// Dispatch records p over a workgroup grid of x*y*z using group at index 0.
// A zero-sized grid records nothing.
func (e *Encoder) Dispatch(p *ComputePipeline, group hal.BindGroup, x, y, z uint32) {
	if x == 0 || y == 0 || z == 0 {
		return
	}
	pass := e.raw.BeginComputePass(&hal.ComputePassDescriptor{Label: p.label})
	pass.SetPipeline(p.pipeline)
	pass.SetBindGroup(0, group, nil)
	pass.Dispatch(x, y, z)
	pass.End()
	e.dispatches++
}

// DispatchElements dispatches enough workgroups of the pipeline's size to
// cover n elements.
func (e *Encoder) DispatchElements(p *ComputePipeline, group hal.BindGroup, n uint32) {
	e.Dispatch(p, group, WorkgroupCount(n, p.workgroupSize), 1, 1)
}

// ClearBuffer zeroes size bytes of b starting at offset. A size of zero
// clears to the end of the buffer.
func (e *Encoder) ClearBuffer(b *Buffer, offset, size uint64) {
	if size == 0 {
		size = b.physical - offset
	}
	e.raw.ClearBuffer(b.raw, offset, align4(size))
}

// CopyBuffer copies size bytes from src at srcOffset to dst at dstOffset.
func (e *Encoder) CopyBuffer(src *Buffer, srcOffset uint64, dst *Buffer, dstOffset, size uint64) error {
	size = align4(size)
	if err := src.checkPhysical(srcOffset, size); err != nil {
		return err
	}
	if err := dst.checkPhysical(dstOffset, size); err != nil {
		return err
	}
	e.raw.CopyBufferToBuffer(src.raw, dst.raw, []hal.BufferCopy{{
		SrcOffset: srcOffset,
		DstOffset: dstOffset,
		Size:      size,
	}})
	return nil
}

// Finish ends recording and returns the command buffer.
func (e *Encoder) Finish() (hal.CommandBuffer, error) {
	if e.finished {
		return nil, fmt.Errorf("gpu: %s: encoder already finished", e.label)
	}
	e.finished = true
	cb, err := e.raw.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("gpu: %s: end encoding: %w", e.label, err)
	}
	return cb, nil
}

// Discard abandons recording. Safe to call after Finish.
func (e *Encoder) Discard() {
	if e.finished {
		return
	}
	e.finished = true
	e.raw.DiscardEncoding()
}

// Submit finishes the encoder and submits it on q with the synchronization
// in s. s.Commands is replaced by the encoder's command buffer.
func (e *Encoder) Submit(ctx context.Context, q *Queue, s Submission) (uint64, error) {
	cb, err := e.Finish()
	if err != nil {
		return 0, err
	}
	if s.Label == "" {
		s.Label = e.label
	}
	s.Commands = []hal.CommandBuffer{cb}
	index, err := q.Submit(ctx, s)
	if err != nil {
		e.dev.raw.FreeCommandBuffer(cb)
		return 0, err
	}
	return index, nil
}

// WorkgroupCount returns ceil(n/size), the number of workgroups covering n
// invocations.
func WorkgroupCount(n, size uint32) uint32 {
	if size == 0 {
		size = 1
	}
	return (n + size - 1) / size
}

func align4(n uint64) uint64 { return (n + 3) &^ 3 }
