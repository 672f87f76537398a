// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/fluidsim/internal/gpu"
	"github.com/gogpu/fluidsim/internal/gpu/gputest"
)

const storageUsage = gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst

func newDevice(t *testing.T) (*gpu.Device, *gputest.Device) {
	t.Helper()
	emu := gputest.New()
	d := emu.Open(gpu.Options{})
	t.Cleanup(func() { _ = d.Close() })
	return d, emu
}

func TestAllocateMemoryValidation(t *testing.T) {
	d, _ := newDevice(t)

	tests := []struct {
		name    string
		size    uint64
		usage   gputypes.BufferUsage
		mem     gpu.MemoryFlags
		wantErr error
	}{
		{"storage device local", 64, storageUsage, gpu.MemoryDeviceLocal, nil},
		{"zero value memory", 64, storageUsage, 0, nil},
		{"readback", 64, gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst, gpu.MemoryHostVisible, nil},
		{"upload coherent", 64, gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopySrc, gpu.MemoryHostVisible | gpu.MemoryHostCoherent, nil},
		{"zero size", 0, storageUsage, gpu.MemoryDeviceLocal, gpu.ErrZeroSize},
		{"host visible storage", 64, storageUsage, gpu.MemoryHostVisible, gpu.ErrUnsupportedMemoryType},
		{"device local mappable", 64, gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst, gpu.MemoryDeviceLocal, gpu.ErrUnsupportedMemoryType},
		{"coherent without visible", 64, storageUsage, gpu.MemoryHostCoherent, gpu.ErrUnsupportedMemoryType},
		{"visible and local", 64, gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst, gpu.MemoryHostVisible | gpu.MemoryDeviceLocal, gpu.ErrUnsupportedMemoryType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := d.Allocate(tt.name, tt.size, tt.usage, tt.mem)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Allocate() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Allocate() error = %v", err)
			}
			defer b.Destroy()
			if b.Size() != tt.size {
				t.Errorf("Size() = %d, want %d", b.Size(), tt.size)
			}
		})
	}
}

func TestFillReadRoundTripFloat32(t *testing.T) {
	ctx := context.Background()
	for _, staging := range []bool{false, true} {
		name := "direct"
		if staging {
			name = "staged"
		}
		t.Run(name, func(t *testing.T) {
			d, _ := newDevice(t)
			want := []float32{0, 1.5, -2.25, math.MaxFloat32, float32(math.Inf(-1)), 1e-30}

			b, err := d.Allocate("floats", uint64(len(want)*4), storageUsage, gpu.MemoryDeviceLocal)
			if err != nil {
				t.Fatalf("Allocate: %v", err)
			}
			defer b.Destroy()

			if err := gpu.Write(ctx, b, want, gpu.FillOptions{Staging: staging}); err != nil {
				t.Fatalf("Write: %v", err)
			}
			got, err := gpu.Read[float32](ctx, b)
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if len(got) != len(want) {
				t.Fatalf("len = %d, want %d", len(got), len(want))
			}
			for i := range want {
				if got[i] != want[i] {
					t.Errorf("[%d] = %v, want %v", i, got[i], want[i])
				}
			}
		})
	}
}

func TestFillUnalignedLength(t *testing.T) {
	ctx := context.Background()
	d, _ := newDevice(t)
	b, err := d.Allocate("bytes", 6, storageUsage, gpu.MemoryDeviceLocal)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	defer b.Destroy()

	want := []byte{1, 2, 3, 4, 5, 6}
	if err := b.Fill(ctx, want, gpu.FillOptions{Staging: true}); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	got, err := b.ReadBytes(ctx, 0, 6)
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if string(got) != string(want) {
		t.Errorf("ReadBytes = %v, want %v", got, want)
	}
}

func TestFillUnalignedLeavesNeighborBytes(t *testing.T) {
	ctx := context.Background()
	d, _ := newDevice(t)
	b, err := d.Allocate("bytes", 8, storageUsage, gpu.MemoryDeviceLocal)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	defer b.Destroy()

	nines := []byte{9, 9, 9, 9, 9, 9, 9, 9}
	if err := b.Fill(ctx, nines, gpu.FillOptions{}); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	for _, staging := range []bool{false, true} {
		err := b.Fill(ctx, []byte{1, 2, 3}, gpu.FillOptions{Staging: staging})
		if !errors.Is(err, gpu.ErrUnalignedFill) {
			t.Errorf("staging=%v: Fill(3 bytes) error = %v, want ErrUnalignedFill", staging, err)
		}
	}
	got, err := b.ReadBytes(ctx, 0, 8)
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if string(got) != string(nines) {
		t.Errorf("ReadBytes = %v, want %v", got, nines)
	}

	// Ending at Size is fine: the padding falls outside the buffer.
	tail, err := d.Allocate("tail", 7, storageUsage, gpu.MemoryDeviceLocal)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	defer tail.Destroy()
	if err := tail.Fill(ctx, nines[:7], gpu.FillOptions{}); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if err := tail.Fill(ctx, []byte{1, 2, 3}, gpu.FillOptions{Offset: 4}); err != nil {
		t.Fatalf("Fill at tail: %v", err)
	}
	got, err = tail.ReadBytes(ctx, 0, 7)
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if want := []byte{9, 9, 9, 9, 1, 2, 3}; string(got) != string(want) {
		t.Errorf("ReadBytes = %v, want %v", got, want)
	}
}

func TestFillCapacityExceeded(t *testing.T) {
	ctx := context.Background()
	d, _ := newDevice(t)
	b, err := d.Allocate("small", 16, storageUsage, gpu.MemoryDeviceLocal)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	defer b.Destroy()

	err = b.Fill(ctx, make([]byte, 20), gpu.FillOptions{})
	if !errors.Is(err, gpu.ErrCapacityExceeded) {
		t.Fatalf("Fill(20 bytes) error = %v, want ErrCapacityExceeded", err)
	}
	err = b.Fill(ctx, make([]byte, 8), gpu.FillOptions{Offset: 12})
	if !errors.Is(err, gpu.ErrCapacityExceeded) {
		t.Fatalf("Fill(offset 12) error = %v, want ErrCapacityExceeded", err)
	}
}

func TestFillAsyncSignalsAndReleasesStaging(t *testing.T) {
	ctx := context.Background()
	d, emu := newDevice(t)
	b, err := d.Allocate("target", 64, storageUsage, gpu.MemoryDeviceLocal)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	defer b.Destroy()

	live := emu.LiveBuffers()
	done := d.Semaphores().Get("fill.done")
	if err := b.Fill(ctx, make([]byte, 64), gpu.FillOptions{Staging: true, Signal: done}); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if !done.Signaled() {
		t.Fatal("signal semaphore not signaled after async fill")
	}
	if err := d.WaitIdle(); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
	if got := emu.LiveBuffers(); got != live {
		t.Errorf("live buffers = %d after idle, want %d (staging leaked)", got, live)
	}
	done.Release()
}

func TestFillWaitRequiresSignaledSemaphore(t *testing.T) {
	ctx := context.Background()
	d, _ := newDevice(t)
	b, err := d.Allocate("target", 16, storageUsage, gpu.MemoryDeviceLocal)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	defer b.Destroy()

	pending := d.Semaphores().Get("never.signaled")
	defer pending.Release()
	err = b.Fill(ctx, make([]byte, 16), gpu.FillOptions{Wait: []*gpu.Semaphore{pending}})
	if !errors.Is(err, gpu.ErrSemaphoreNotSignaled) {
		t.Fatalf("Fill error = %v, want ErrSemaphoreNotSignaled", err)
	}
}

func TestCopyWithOffsets(t *testing.T) {
	ctx := context.Background()
	d, _ := newDevice(t)
	src, err := d.Allocate("src", 16, storageUsage, gpu.MemoryDeviceLocal)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	dst, err := d.Allocate("dst", 16, storageUsage, gpu.MemoryDeviceLocal)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	defer src.Destroy()
	defer dst.Destroy()

	if err := gpu.Write(ctx, src, []uint32{1, 2, 3, 4}, gpu.FillOptions{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := d.Copy(ctx, dst, src, 8, 8, gpu.CopyOptions{SrcOffset: 4}); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	got, err := gpu.Read[uint32](ctx, dst)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := []uint32{0, 0, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("dst[%d] = %d, want %d", i, got[i], want[i])
		}
	}

	if err := d.Copy(ctx, dst, src, 16, 4, gpu.CopyOptions{}); !errors.Is(err, gpu.ErrCapacityExceeded) {
		t.Errorf("overflowing Copy error = %v, want ErrCapacityExceeded", err)
	}
}

func TestDestroyedBufferRejectsFill(t *testing.T) {
	d, _ := newDevice(t)
	b, err := d.Allocate("gone", 16, storageUsage, gpu.MemoryDeviceLocal)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	b.Destroy()
	b.Destroy()
	if err := b.Fill(context.Background(), make([]byte, 4), gpu.FillOptions{}); !errors.Is(err, gpu.ErrBufferDestroyed) {
		t.Fatalf("Fill after Destroy error = %v, want ErrBufferDestroyed", err)
	}
}

type record struct {
	A [4]float32
	B uint32
	_ uint32
}

func TestEncodeDecodePaddedStruct(t *testing.T) {
	in := []record{{A: [4]float32{1, 2, 3, 4}, B: 7}, {B: 9}}
	data, err := gpu.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(data) != 2*24 {
		t.Fatalf("encoded %d bytes, want 48", len(data))
	}
	out, err := gpu.Decode[record](data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out[0].A != in[0].A || out[0].B != 7 || out[1].B != 9 {
		t.Errorf("Decode = %+v, want %+v", out, in)
	}
}

func TestReadUnsizedElement(t *testing.T) {
	d, _ := newDevice(t)
	b, err := d.Allocate("any", 16, storageUsage, gpu.MemoryDeviceLocal)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	defer b.Destroy()
	if _, err := gpu.Read[string](context.Background(), b); !errors.Is(err, gpu.ErrUnsizedElement) {
		t.Fatalf("Read[string] error = %v, want ErrUnsizedElement", err)
	}
}
