// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"context"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// MemoryFlags selects the memory a buffer lives in.
type MemoryFlags uint32

const (
	// MemoryDeviceLocal is GPU-only memory. The zero value means this.
	MemoryDeviceLocal MemoryFlags = 1 << iota
	// MemoryHostVisible can be mapped by the host.
	MemoryHostVisible
	// MemoryHostCoherent needs no explicit flush. Requires MemoryHostVisible.
	MemoryHostCoherent
)

// String returns a "|"-joined flag list.
func (m MemoryFlags) String() string {
	if m == 0 {
		return "DeviceLocal"
	}
	s := ""
	add := func(name string) {
		if s != "" {
			s += "|"
		}
		s += name
	}
	if m&MemoryDeviceLocal != 0 {
		add("DeviceLocal")
	}
	if m&MemoryHostVisible != 0 {
		add("HostVisible")
	}
	if m&MemoryHostCoherent != 0 {
		add("HostCoherent")
	}
	return s
}

const (
	mapReadUsage  = gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst
	mapWriteUsage = gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopySrc
	mapUsage      = gputypes.BufferUsageMapRead | gputypes.BufferUsageMapWrite
)

// checkMemory rejects memory/usage combinations the device cannot provide.
// Host-visible memory only backs readback (MapRead|CopyDst) and upload
// (MapWrite|CopySrc) buffers.
func checkMemory(usage gputypes.BufferUsage, mem MemoryFlags) error {
	if mem&MemoryHostCoherent != 0 && mem&MemoryHostVisible == 0 {
		return fmt.Errorf("%w: %s without HostVisible", ErrUnsupportedMemoryType, mem)
	}
	if mem&MemoryHostVisible != 0 {
		if mem&MemoryDeviceLocal != 0 {
			return fmt.Errorf("%w: %s", ErrUnsupportedMemoryType, mem)
		}
		if usage != mapReadUsage && usage != mapWriteUsage {
			return fmt.Errorf("%w: host-visible usage %#x", ErrUnsupportedMemoryType, uint64(usage))
		}
		return nil
	}
	if usage&mapUsage != 0 {
		return fmt.Errorf("%w: device-local usage %#x is mappable", ErrUnsupportedMemoryType, uint64(usage))
	}
	return nil
}

// Buffer is a fixed-size device buffer.
type Buffer struct {
	dev   *Device
	raw   hal.Buffer
	label string

	size     uint64
	physical uint64
	usage    gputypes.BufferUsage
	mem      MemoryFlags

	destroyed atomic.Bool
}

// Allocate creates a buffer of size bytes. The size is fixed for the
// buffer's lifetime.
func (d *Device) Allocate(label string, size uint64, usage gputypes.BufferUsage, mem MemoryFlags) (*Buffer, error) {
	if size == 0 {
		return nil, fmt.Errorf("gpu: allocate %s: %w", label, ErrZeroSize)
	}
	if mem == 0 {
		mem = MemoryDeviceLocal
	}
	if err := checkMemory(usage, mem); err != nil {
		return nil, fmt.Errorf("gpu: allocate %s: %w", label, err)
	}
	if d.isClosed() {
		return nil, ErrDeviceClosed
	}

	physical := align4(size)
	raw, err := d.raw.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  physical,
		Usage: usage,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: allocate %s (%d bytes): %w", label, size, err)
	}

	return &Buffer{
		dev:      d,
		raw:      raw,
		label:    label,
		size:     size,
		physical: physical,
		usage:    usage,
		mem:      mem,
	}, nil
}

// Label returns the debug label.
func (b *Buffer) Label() string { return b.label }

// Size returns the requested size in bytes.
func (b *Buffer) Size() uint64 { return b.size }

// Usage returns the usage flags.
func (b *Buffer) Usage() gputypes.BufferUsage { return b.usage }

// Memory returns the memory flags.
func (b *Buffer) Memory() MemoryFlags { return b.mem }

// HAL returns the underlying HAL buffer.
func (b *Buffer) HAL() hal.Buffer { return b.raw }

// Binding returns a whole-buffer binding resource.
func (b *Buffer) Binding() gputypes.BufferBinding {
	return gputypes.BufferBinding{
		Buffer: b.raw.NativeHandle(),
		Offset: 0,
		Size:   b.physical,
	}
}

// Destroy releases the buffer once every submission made so far has
// completed. Repeated calls are no-ops.
func (b *Buffer) Destroy() {
	if b == nil || b.destroyed.Swap(true) {
		return
	}
	q := b.dev.queues[RoleCompute]
	q.mu.Lock()
	last := q.last
	q.mu.Unlock()

	raw, dev := b.raw, b.dev.raw
	b.dev.retire(last, func() { dev.DestroyBuffer(raw) })
	b.dev.collect(q.Completed())
}

func (b *Buffer) checkRange(offset, n uint64) error {
	if b.destroyed.Load() {
		return fmt.Errorf("gpu: %s: %w", b.label, ErrBufferDestroyed)
	}
	if offset > b.size || n > b.size-offset {
		return fmt.Errorf("gpu: %s: %w: %d bytes at offset %d, size %d",
			b.label, ErrCapacityExceeded, n, offset, b.size)
	}
	return nil
}

// checkPhysical is checkRange against the 4-byte aligned allocation, for
// device copies whose sizes are rounded up.
func (b *Buffer) checkPhysical(offset, n uint64) error {
	if b.destroyed.Load() {
		return fmt.Errorf("gpu: %s: %w", b.label, ErrBufferDestroyed)
	}
	if offset > b.physical || n > b.physical-offset {
		return fmt.Errorf("gpu: %s: %w: %d bytes at offset %d, size %d",
			b.label, ErrCapacityExceeded, n, offset, b.size)
	}
	return nil
}

// FillOptions controls Buffer.Fill.
type FillOptions struct {
	// Offset is the destination byte offset. Must be a multiple of 4.
	Offset uint64

	// Staging routes the upload through a transient host-visible buffer
	// and a device-side copy.
	Staging bool

	// Wait semaphores gate the upload. A fill with waits is always staged,
	// because a direct write cannot be ordered after them.
	Wait []*Semaphore

	// Signal is signaled when the upload completes.
	Signal *Semaphore
}

func (o FillOptions) async() bool { return len(o.Wait) > 0 || o.Signal != nil }

// Fill uploads data into b. The length must be a multiple of 4 unless the
// data ends exactly at Size. It blocks until the upload completes unless
// semaphores are supplied, in which case the staging buffer is released
// once the queue passes the submission.
func (b *Buffer) Fill(ctx context.Context, data []byte, opts FillOptions) error {
	if opts.Offset%4 != 0 {
		return fmt.Errorf("gpu: fill %s: offset %d is not 4-byte aligned", b.label, opts.Offset)
	}
	if err := b.checkRange(opts.Offset, uint64(len(data))); err != nil {
		return err
	}
	// Writes are whole words; a partial last word is only allowed where
	// its padding lands past Size.
	if end := opts.Offset + uint64(len(data)); len(data)%4 != 0 && end != b.size {
		return fmt.Errorf("gpu: fill %s: %w: %d bytes at offset %d end inside the buffer",
			b.label, ErrUnalignedFill, len(data), opts.Offset)
	}
	q := b.dev.queues[RoleCompute]
	padded := pad4(data)

	if !opts.Staging && len(opts.Wait) == 0 {
		if len(padded) > 0 {
			if err := q.WriteBuffer(b, opts.Offset, padded); err != nil {
				return err
			}
		}
		if opts.Signal != nil {
			_, err := q.Submit(ctx, Submission{
				Label:  b.label + ".fill",
				Signal: []*Semaphore{opts.Signal},
			})
			return err
		}
		return nil
	}

	return b.fillStaged(ctx, q, padded, opts)
}

func (b *Buffer) fillStaged(ctx context.Context, q *Queue, data []byte, opts FillOptions) error {
	label := b.label + ".fill"
	enc, err := b.dev.BeginCommands(label)
	if err != nil {
		return err
	}

	var staging []*Buffer
	release := func() {
		for _, s := range staging {
			s.Destroy()
		}
	}

	chunk := maxStagingChunk(q.raw, uint64(len(data)))
	for off := uint64(0); off < uint64(len(data)); off += chunk {
		end := min(off+chunk, uint64(len(data)))
		sb, err := b.dev.stage(label+".staging", data[off:end])
		if err != nil {
			enc.Discard()
			release()
			return err
		}
		staging = append(staging, sb)
		if err := enc.CopyBuffer(sb, 0, b, opts.Offset+off, end-off); err != nil {
			enc.Discard()
			release()
			return err
		}
	}

	s := Submission{Label: label, Wait: opts.Wait}
	if opts.Signal != nil {
		s.Signal = []*Semaphore{opts.Signal}
	}
	if opts.async() {
		_, err := enc.Submit(ctx, q, s)
		// Destroy defers to the submission's completion.
		release()
		return err
	}

	s.Fence = b.dev.NewFence(label)
	if _, err := enc.Submit(ctx, q, s); err != nil {
		release()
		return err
	}
	err = s.Fence.Wait(ctx)
	release()
	return err
}

// stage creates a MapWrite|CopySrc buffer holding data.
func (d *Device) stage(label string, data []byte) (*Buffer, error) {
	sb, err := d.Allocate(label, uint64(len(data)), mapWriteUsage, MemoryHostVisible|MemoryHostCoherent)
	if err != nil {
		return nil, err
	}
	m, err := d.raw.MapBuffer(sb.raw, 0, sb.physical)
	if err != nil {
		sb.Destroy()
		return nil, fmt.Errorf("gpu: map %s: %w", label, err)
	}
	copy(unsafe.Slice((*byte)(m.Ptr), sb.physical), data)
	if err := d.raw.UnmapBuffer(sb.raw); err != nil {
		sb.Destroy()
		return nil, fmt.Errorf("gpu: unmap %s: %w", label, err)
	}
	return sb, nil
}

// ReadBytes copies size bytes of b at offset back to the host. It blocks
// on a fence.
func (b *Buffer) ReadBytes(ctx context.Context, offset, size uint64) ([]byte, error) {
	if err := b.checkRange(offset, size); err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	label := b.label + ".read"
	d := b.dev
	rb, err := d.Allocate(label+".staging", size, mapReadUsage, MemoryHostVisible|MemoryHostCoherent)
	if err != nil {
		return nil, err
	}
	defer rb.Destroy()

	enc, err := d.BeginCommands(label)
	if err != nil {
		return nil, err
	}
	if err := enc.CopyBuffer(b, offset, rb, 0, size); err != nil {
		enc.Discard()
		return nil, err
	}
	q := d.queues[RoleCompute]
	fence := d.NewFence(label)
	if _, err := enc.Submit(ctx, q, Submission{Label: label, Fence: fence}); err != nil {
		return nil, err
	}
	if err := fence.Wait(ctx); err != nil {
		return nil, err
	}

	m, err := d.raw.MapBuffer(rb.raw, 0, rb.physical)
	if err != nil {
		return nil, fmt.Errorf("gpu: map %s: %w", label, err)
	}
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(m.Ptr), rb.physical))
	if err := d.raw.UnmapBuffer(rb.raw); err != nil {
		return nil, fmt.Errorf("gpu: unmap %s: %w", label, err)
	}
	return out, nil
}

// CopyOptions controls Device.Copy.
type CopyOptions struct {
	SrcOffset uint64
	Wait      []*Semaphore
	Signal    *Semaphore
}

// Copy copies size bytes from src to dst at offset. Without semaphores it
// blocks until the copy completes.
func (d *Device) Copy(ctx context.Context, dst, src *Buffer, size, offset uint64, opts CopyOptions) error {
	if size == 0 {
		return fmt.Errorf("gpu: copy %s -> %s: %w", src.label, dst.label, ErrZeroSize)
	}
	label := src.label + "->" + dst.label
	enc, err := d.BeginCommands(label)
	if err != nil {
		return err
	}
	if err := enc.CopyBuffer(src, opts.SrcOffset, dst, offset, size); err != nil {
		enc.Discard()
		return err
	}

	s := Submission{Label: label, Wait: opts.Wait}
	if opts.Signal != nil {
		s.Signal = []*Semaphore{opts.Signal}
	}
	q := d.queues[RoleCompute]
	if len(opts.Wait) > 0 || opts.Signal != nil {
		_, err := enc.Submit(ctx, q, s)
		return err
	}
	s.Fence = d.NewFence(label)
	if _, err := enc.Submit(ctx, q, s); err != nil {
		return err
	}
	return s.Fence.Wait(ctx)
}

// maxStagingChunk returns the largest upload a single staging buffer may
// carry on this queue.
func maxStagingChunk(q hal.Queue, n uint64) uint64 {
	if s, ok := q.(hal.MaxStagingBufferSizer); ok {
		if m := s.MaxStagingBufferSize() &^ 3; m > 0 && m < n {
			return m
		}
	}
	if n == 0 {
		return 4
	}
	return n
}

func pad4(data []byte) []byte {
	if len(data)%4 == 0 {
		return data
	}
	out := make([]byte, align4(uint64(len(data))))
	copy(out, data)
	return out
}
