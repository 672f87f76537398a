// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package capture reads rendered frames back from the GPU and writes them
// out through an Encoder.
package capture

import (
	"errors"
	"fmt"
	"image"

	"github.com/gogpu/gputypes"
)

// ErrClosed is returned by WriteFrame after Close.
var ErrClosed = errors.New("capture: encoder closed")

// Frame is one read-back image. Rows are Stride bytes apart; only the
// first Width*4 bytes of each row are pixels.
type Frame struct {
	Index     int
	Width     uint32
	Height    uint32
	Stride    int
	Format    gputypes.TextureFormat
	FrameRate float64
	Pixels    []byte
}

// Encoder consumes captured frames.
type Encoder interface {
	WriteFrame(f Frame) error
	Close() error
}

// Image converts f to RGBA, swizzling BGRA formats.
func (f Frame) Image() (*image.RGBA, error) {
	var bgra bool
	switch f.Format {
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb:
	case gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb:
		bgra = true
	default:
		return nil, fmt.Errorf("capture: unsupported pixel format %v", f.Format)
	}
	w, h := int(f.Width), int(f.Height)
	if f.Stride < w*4 || len(f.Pixels) < (h-1)*f.Stride+w*4 {
		return nil, fmt.Errorf("capture: frame %d: %d bytes for %dx%d at stride %d",
			f.Index, len(f.Pixels), w, h, f.Stride)
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		src := f.Pixels[y*f.Stride : y*f.Stride+w*4]
		dst := img.Pix[y*img.Stride : y*img.Stride+w*4]
		copy(dst, src)
		if bgra {
			for x := 0; x < len(dst); x += 4 {
				dst[x], dst[x+2] = dst[x+2], dst[x]
			}
		}
	}
	return img, nil
}
