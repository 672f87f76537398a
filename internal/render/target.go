// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/fluidsim/internal/gpu"
)

// Image is one acquired render target image.
type Image struct {
	Texture hal.Texture
	View    hal.TextureView
	Width   uint32
	Height  uint32
	Format  gputypes.TextureFormat

	surface hal.SurfaceTexture
	owned   bool // View is destroyed on release
}

// Target is where frames are drawn and presented.
//
// Two implementations are provided:
//   - SurfaceTarget: a window surface supplied by the host
//   - OffscreenTarget: a texture, for headless runs and capture
type Target interface {
	// Configure (re)creates the image chain at the given size.
	Configure(width, height uint32) error

	// Acquire returns the next image. An image chain that must be
	// reconfigured yields an error wrapping gpu.ErrOutOfDate.
	Acquire() (*Image, error)

	// Present shows img and releases it.
	Present(q *gpu.Queue, img *Image) error

	// Discard releases img without presenting it.
	Discard(img *Image)

	// MarkOutdated forces the next Acquire to report gpu.ErrOutOfDate,
	// for example after a window resize.
	MarkOutdated()

	// Size returns the configured size.
	Size() (width, height uint32)

	// Format returns the color format.
	Format() gputypes.TextureFormat

	// Destroy releases the image chain.
	Destroy()
}

const targetUsage = gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc

// SurfaceTarget presents to a window surface.
type SurfaceTarget struct {
	dev     *gpu.Device
	surface hal.Surface
	format  gputypes.TextureFormat

	mu            sync.Mutex
	width, height uint32
	outdated      bool
	configured    bool
}

// NewSurfaceTarget wraps surface. It must be configured before use.
func NewSurfaceTarget(d *gpu.Device, surface hal.Surface, format gputypes.TextureFormat) *SurfaceTarget {
	if format == gputypes.TextureFormatUndefined {
		format = gputypes.TextureFormatBGRA8Unorm
	}
	return &SurfaceTarget{dev: d, surface: surface, format: format}
}

// Configure implements Target.
func (t *SurfaceTarget) Configure(width, height uint32) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("render: surface size %dx%d", width, height)
	}
	err := t.surface.Configure(t.dev.HAL(), &hal.SurfaceConfiguration{
		Width:       width,
		Height:      height,
		Format:      t.format,
		Usage:       targetUsage,
		PresentMode: gputypes.PresentModeFifo,
		AlphaMode:   gputypes.CompositeAlphaModeOpaque,
	})
	if err != nil {
		return fmt.Errorf("render: configure surface: %w", err)
	}
	t.mu.Lock()
	t.width, t.height = width, height
	t.outdated = false
	t.configured = true
	t.mu.Unlock()
	return nil
}

// Acquire implements Target.
func (t *SurfaceTarget) Acquire() (*Image, error) {
	t.mu.Lock()
	outdated, w, h := t.outdated || !t.configured, t.width, t.height
	t.mu.Unlock()
	if outdated {
		return nil, fmt.Errorf("render: acquire: %w", gpu.ErrOutOfDate)
	}

	acq, err := t.surface.AcquireTexture(nil)
	if err != nil {
		if errors.Is(err, hal.ErrSurfaceOutdated) {
			return nil, fmt.Errorf("render: acquire: %w: %w", gpu.ErrOutOfDate, err)
		}
		return nil, fmt.Errorf("render: acquire: %w", err)
	}
	view, err := t.dev.HAL().CreateTextureView(acq.Texture, &hal.TextureViewDescriptor{
		Label:  "render.surface",
		Format: t.format,
		Aspect: gputypes.TextureAspectAll,
	})
	if err != nil {
		t.surface.DiscardTexture(acq.Texture)
		return nil, fmt.Errorf("render: surface view: %w", err)
	}
	if acq.Suboptimal {
		t.MarkOutdated()
	}
	return &Image{
		Texture: acq.Texture,
		View:    view,
		Width:   w,
		Height:  h,
		Format:  t.format,
		surface: acq.Texture,
		owned:   true,
	}, nil
}

// Present implements Target.
func (t *SurfaceTarget) Present(q *gpu.Queue, img *Image) error {
	defer t.release(img)
	return q.Present(t.surface, img.surface)
}

// Discard implements Target.
func (t *SurfaceTarget) Discard(img *Image) {
	if img == nil {
		return
	}
	t.surface.DiscardTexture(img.surface)
	t.release(img)
}

func (t *SurfaceTarget) release(img *Image) {
	if img.owned && img.View != nil {
		t.dev.HAL().DestroyTextureView(img.View)
		img.View = nil
	}
}

// MarkOutdated implements Target.
func (t *SurfaceTarget) MarkOutdated() {
	t.mu.Lock()
	t.outdated = true
	t.mu.Unlock()
}

// Size implements Target.
func (t *SurfaceTarget) Size() (uint32, uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.width, t.height
}

// Format implements Target.
func (t *SurfaceTarget) Format() gputypes.TextureFormat { return t.format }

// Destroy implements Target.
func (t *SurfaceTarget) Destroy() {
	t.mu.Lock()
	configured := t.configured
	t.configured = false
	t.mu.Unlock()
	if configured {
		t.surface.Unconfigure(t.dev.HAL())
	}
}

// OffscreenTarget renders into a texture. Presenting is a no-op.
type OffscreenTarget struct {
	dev    *gpu.Device
	format gputypes.TextureFormat

	mu            sync.Mutex
	tex           hal.Texture
	view          hal.TextureView
	width, height uint32
	outdated      bool
	presents      int
}

// NewOffscreenTarget returns an unconfigured offscreen target.
func NewOffscreenTarget(d *gpu.Device, format gputypes.TextureFormat) *OffscreenTarget {
	if format == gputypes.TextureFormatUndefined {
		format = gputypes.TextureFormatRGBA8Unorm
	}
	return &OffscreenTarget{dev: d, format: format}
}

// Configure implements Target.
func (t *OffscreenTarget) Configure(width, height uint32) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("render: offscreen size %dx%d", width, height)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.destroyLocked()

	raw := t.dev.HAL()
	tex, err := raw.CreateTexture(&hal.TextureDescriptor{
		Label:         "render.offscreen",
		Size:          hal.Extent3D{Width: width, Height: height, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        t.format,
		Usage:         targetUsage,
	})
	if err != nil {
		return fmt.Errorf("render: offscreen texture: %w", err)
	}
	view, err := raw.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:  "render.offscreen",
		Format: t.format,
		Aspect: gputypes.TextureAspectAll,
	})
	if err != nil {
		raw.DestroyTexture(tex)
		return fmt.Errorf("render: offscreen view: %w", err)
	}
	t.tex, t.view = tex, view
	t.width, t.height = width, height
	t.outdated = false
	return nil
}

// Acquire implements Target.
func (t *OffscreenTarget) Acquire() (*Image, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.outdated || t.tex == nil {
		return nil, fmt.Errorf("render: acquire: %w", gpu.ErrOutOfDate)
	}
	return &Image{
		Texture: t.tex,
		View:    t.view,
		Width:   t.width,
		Height:  t.height,
		Format:  t.format,
	}, nil
}

// Present implements Target.
func (t *OffscreenTarget) Present(*gpu.Queue, *Image) error {
	t.mu.Lock()
	t.presents++
	t.mu.Unlock()
	return nil
}

// Discard implements Target.
func (t *OffscreenTarget) Discard(*Image) {}

// Presents returns the number of presented frames.
func (t *OffscreenTarget) Presents() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.presents
}

// MarkOutdated implements Target.
func (t *OffscreenTarget) MarkOutdated() {
	t.mu.Lock()
	t.outdated = true
	t.mu.Unlock()
}

// Size implements Target.
func (t *OffscreenTarget) Size() (uint32, uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.width, t.height
}

// Format implements Target.
func (t *OffscreenTarget) Format() gputypes.TextureFormat { return t.format }

// Destroy implements Target.
func (t *OffscreenTarget) Destroy() {
	t.mu.Lock()
	t.destroyLocked()
	t.mu.Unlock()
}

func (t *OffscreenTarget) destroyLocked() {
	raw := t.dev.HAL()
	if t.view != nil {
		raw.DestroyTextureView(t.view)
		t.view = nil
	}
	if t.tex != nil {
		raw.DestroyTexture(t.tex)
		t.tex = nil
	}
}

var (
	_ Target = (*SurfaceTarget)(nil)
	_ Target = (*OffscreenTarget)(nil)
)
