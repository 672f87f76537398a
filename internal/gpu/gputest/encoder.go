// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gputest

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

// op is one recorded command, executed at submit time.
type op struct {
	name string
	run  func() error
}

// CommandBuffer holds recorded commands.
type CommandBuffer struct {
	noop.Resource

	label string
	ops   []op
}

// Encoder records commands instead of executing them.
type Encoder struct {
	noop.CommandEncoder

	dev   *Device
	label string
	ops   []op
}

// BeginEncoding starts a fresh recording.
func (e *Encoder) BeginEncoding(label string) error {
	if label != "" {
		e.label = label
	}
	e.ops = nil
	return nil
}

// EndEncoding returns the recording.
func (e *Encoder) EndEncoding() (hal.CommandBuffer, error) {
	cb := &CommandBuffer{label: e.label, ops: e.ops}
	e.ops = nil
	return cb, nil
}

// DiscardEncoding drops the recording.
func (e *Encoder) DiscardEncoding() { e.ops = nil }

func (e *Encoder) record(name string, run func() error) {
	e.ops = append(e.ops, op{name: name, run: run})
}

// ClearBuffer records a zero fill.
func (e *Encoder) ClearBuffer(buf hal.Buffer, offset, size uint64) {
	b := buf.(*Buffer)
	e.record("clear:"+b.label, func() error {
		if offset+size > uint64(len(b.data)) {
			return fmt.Errorf("gputest: clear %s out of range", b.label)
		}
		clear(b.data[offset : offset+size])
		return nil
	})
}

// CopyBufferToBuffer records a byte copy.
func (e *Encoder) CopyBufferToBuffer(src, dst hal.Buffer, regions []hal.BufferCopy) {
	s, d := src.(*Buffer), dst.(*Buffer)
	regions = append([]hal.BufferCopy(nil), regions...)
	e.record("copy:"+s.label+"->"+d.label, func() error {
		for _, r := range regions {
			if r.SrcOffset+r.Size > uint64(len(s.data)) || r.DstOffset+r.Size > uint64(len(d.data)) {
				return fmt.Errorf("gputest: copy %s -> %s out of range", s.label, d.label)
			}
			copy(d.data[r.DstOffset:r.DstOffset+r.Size], s.data[r.SrcOffset:r.SrcOffset+r.Size])
		}
		return nil
	})
}

// CopyTextureToBuffer records a row-pitched texel copy.
func (e *Encoder) CopyTextureToBuffer(src hal.Texture, dst hal.Buffer, regions []hal.BufferTextureCopy) {
	t, d := src.(*Texture), dst.(*Buffer)
	regions = append([]hal.BufferTextureCopy(nil), regions...)
	e.record("copy:texture->"+d.label, func() error {
		for _, r := range regions {
			rowBytes := uint64(r.Size.Width) * 4
			for y := uint64(0); y < uint64(r.Size.Height); y++ {
				srcOff := ((uint64(r.TextureBase.Origin.Y)+y)*uint64(t.Width) + uint64(r.TextureBase.Origin.X)) * 4
				dstOff := r.BufferLayout.Offset + y*uint64(r.BufferLayout.BytesPerRow)
				if srcOff+rowBytes > uint64(len(t.data)) || dstOff+rowBytes > uint64(len(d.data)) {
					return fmt.Errorf("gputest: texture copy row %d out of range", y)
				}
				copy(d.data[dstOff:dstOff+rowBytes], t.data[srcOff:srcOff+rowBytes])
			}
		}
		return nil
	})
}

// BeginComputePass returns a pass that records dispatches.
func (e *Encoder) BeginComputePass(desc *hal.ComputePassDescriptor) hal.ComputePassEncoder {
	return &ComputePass{enc: e, label: desc.Label}
}

// BeginRenderPass returns a pass that records attachment clears and draws.
func (e *Encoder) BeginRenderPass(desc *hal.RenderPassDescriptor) hal.RenderPassEncoder {
	rp := &RenderPass{enc: e, label: desc.Label}
	for _, ca := range desc.ColorAttachments {
		v, ok := ca.View.(*TextureView)
		if !ok || v.tex == nil || ca.LoadOp != gputypes.LoadOpClear {
			continue
		}
		tex, c := v.tex, ca.ClearValue
		e.record("clear:"+desc.Label, func() error {
			fillTexture(tex, c)
			return nil
		})
	}
	return rp
}

func fillTexture(t *Texture, c gputypes.Color) {
	px := [4]byte{unorm(c.R), unorm(c.G), unorm(c.B), unorm(c.A)}
	if t.Format == gputypes.TextureFormatBGRA8Unorm {
		px[0], px[2] = px[2], px[0]
	}
	for i := 0; i+4 <= len(t.data); i += 4 {
		copy(t.data[i:i+4], px[:])
	}
}

func unorm(v float64) byte {
	return byte(math.Round(math.Max(0, math.Min(1, v)) * 255))
}

// ComputePass records one dispatch per Dispatch call.
type ComputePass struct {
	noop.ComputePassEncoder

	enc      *Encoder
	label    string
	pipeline *Pipeline
	group    *BindGroup
}

// SetPipeline selects the kernel.
func (p *ComputePass) SetPipeline(pl hal.ComputePipeline) { p.pipeline = pl.(*Pipeline) }

// SetBindGroup selects the buffers.
func (p *ComputePass) SetBindGroup(_ uint32, bg hal.BindGroup, _ []uint32) {
	p.group = bg.(*BindGroup)
}

// Dispatch records a kernel invocation.
func (p *ComputePass) Dispatch(x, y, z uint32) {
	pl, bg, dev := p.pipeline, p.group, p.enc.dev
	p.enc.record("dispatch:"+pl.Entry, func() error {
		k, ok := dev.kernel(pl.Entry)
		if !ok {
			return fmt.Errorf("gputest: no kernel for entry point %q", pl.Entry)
		}
		return k(&Dispatch{Entry: pl.Entry, Groups: [3]uint32{x, y, z}, group: bg})
	})
}

// End is a no-op.
func (p *ComputePass) End() {}

// RenderPass counts draws.
type RenderPass struct {
	noop.RenderPassEncoder

	enc   *Encoder
	label string
}

// Draw records a draw call.
func (p *RenderPass) Draw(vertexCount, instanceCount, _, _ uint32) {
	p.enc.record(fmt.Sprintf("draw:%s:%dx%d", p.label, vertexCount, instanceCount), func() error { return nil })
}

// DrawIndexed records an indexed draw call.
func (p *RenderPass) DrawIndexed(indexCount, instanceCount, _ uint32, _ int32, _ uint32) {
	p.enc.record(fmt.Sprintf("draw:%s:%dx%d", p.label, indexCount, instanceCount), func() error { return nil })
}

// End is a no-op.
func (p *RenderPass) End() {}

// Dispatch gives a kernel typed access to its bound buffers.
type Dispatch struct {
	Entry  string
	Groups [3]uint32

	group *BindGroup
}

// Buffer returns the buffer at binding. It panics when nothing is bound,
// which surfaces as a test failure.
func (d *Dispatch) Buffer(binding uint32) []byte {
	b, ok := d.group.buffers[binding]
	if !ok {
		panic(fmt.Sprintf("gputest: %s: nothing bound at %d", d.Entry, binding))
	}
	return b.data
}

// Len32 returns the number of 32-bit words at binding.
func (d *Dispatch) Len32(binding uint32) int { return len(d.Buffer(binding)) / 4 }

// U32 reads word i at binding.
func (d *Dispatch) U32(binding uint32, i int) uint32 {
	return binary.LittleEndian.Uint32(d.Buffer(binding)[i*4:])
}

// SetU32 writes word i at binding.
func (d *Dispatch) SetU32(binding uint32, i int, v uint32) {
	binary.LittleEndian.PutUint32(d.Buffer(binding)[i*4:], v)
}

// F32 reads float i at binding.
func (d *Dispatch) F32(binding uint32, i int) float32 {
	return math.Float32frombits(d.U32(binding, i))
}

// SetF32 writes float i at binding.
func (d *Dispatch) SetF32(binding uint32, i int, v float32) {
	d.SetU32(binding, i, math.Float32bits(v))
}

// Uniform decodes the block at binding into v, a pointer to a fixed-size
// struct.
func (d *Dispatch) Uniform(binding uint32, v any) error {
	buf := d.Buffer(binding)
	n := binary.Size(v)
	if n <= 0 || n > len(buf) {
		return fmt.Errorf("gputest: %s: uniform at %d: %d bytes bound, %d wanted", d.Entry, binding, len(buf), n)
	}
	_, err := binary.Decode(buf[:n], binary.LittleEndian, v)
	return err
}

// Invocations returns the total number of invocations for a local size.
func (d *Dispatch) Invocations(local uint32) int {
	return int(d.Groups[0]) * int(d.Groups[1]) * int(d.Groups[2]) * int(local)
}
