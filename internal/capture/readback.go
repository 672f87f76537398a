// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package capture

import (
	"context"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/fluidsim/internal/gpu"
	"github.com/gogpu/fluidsim/internal/render"
)

// RowAlignment is the required BytesPerRow alignment of texture copies.
const RowAlignment = 256

// AlignedStride returns the padded row pitch of a 4-byte-per-texel image.
func AlignedStride(width uint32) uint32 {
	return (width*4 + RowAlignment - 1) &^ (RowAlignment - 1)
}

// Readback copies rendered images into a device buffer and reads them back.
// Copy records into the frame's own command buffer; Frame is called once
// that submission has completed.
type Readback struct {
	dev *gpu.Device
	buf *gpu.Buffer

	width, height uint32
	stride        uint32
	format        gputypes.TextureFormat
	frames        int
	pending       bool
}

// NewReadback returns a readback with no buffer yet.
func NewReadback(d *gpu.Device) *Readback { return &Readback{dev: d} }

// Copy records a copy of img into the readback buffer, growing it when the
// image size changed.
func (r *Readback) Copy(enc *gpu.Encoder, img *render.Image) error {
	stride := AlignedStride(img.Width)
	size := uint64(stride) * uint64(img.Height)
	if r.buf == nil || r.buf.Size() != size {
		r.buf.Destroy()
		buf, err := r.dev.Allocate("capture.readback", size,
			gputypes.BufferUsageCopySrc|gputypes.BufferUsageCopyDst, gpu.MemoryDeviceLocal)
		if err != nil {
			r.buf = nil
			return fmt.Errorf("capture: %w", err)
		}
		r.buf = buf
	}
	enc.HAL().CopyTextureToBuffer(img.Texture, r.buf.HAL(), []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{BytesPerRow: stride, RowsPerImage: img.Height},
		TextureBase: hal.ImageCopyTexture{
			Texture: img.Texture,
			Aspect:  gputypes.TextureAspectAll,
		},
		Size: hal.Extent3D{Width: img.Width, Height: img.Height, DepthOrArrayLayers: 1},
	}})
	r.width, r.height, r.stride, r.format = img.Width, img.Height, stride, img.Format
	r.pending = true
	return nil
}

// Frame reads the last copied image back. It blocks on a fence.
func (r *Readback) Frame(ctx context.Context, frameRate float64) (Frame, error) {
	if !r.pending {
		return Frame{}, fmt.Errorf("capture: no copy recorded")
	}
	r.pending = false
	px, err := r.buf.ReadBytes(ctx, 0, r.buf.Size())
	if err != nil {
		return Frame{}, fmt.Errorf("capture: %w", err)
	}
	f := Frame{
		Index:     r.frames,
		Width:     r.width,
		Height:    r.height,
		Stride:    int(r.stride),
		Format:    r.format,
		FrameRate: frameRate,
		Pixels:    px,
	}
	r.frames++
	return f, nil
}

// Destroy releases the readback buffer.
func (r *Readback) Destroy() {
	r.buf.Destroy()
	r.buf = nil
}
