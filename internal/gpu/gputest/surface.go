// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gputest

import (
	"sync"

	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

// Surface is an emulated presentation surface backed by one texture.
type Surface struct {
	noop.Resource

	mu         sync.Mutex
	config     *hal.SurfaceConfiguration
	tex        *Texture
	outdated   bool
	configures int
	acquires   int
}

// NewSurface creates an unconfigured surface.
func NewSurface() *Surface { return &Surface{} }

// Configure (re)creates the backing texture and clears the outdated flag.
func (s *Surface) Configure(_ hal.Device, cfg *hal.SurfaceConfiguration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *cfg
	s.config = &c
	s.tex = newTexture(cfg.Width, cfg.Height, cfg.Format)
	s.outdated = false
	s.configures++
	return nil
}

// Unconfigure drops the configuration.
func (s *Surface) Unconfigure(hal.Device) {
	s.mu.Lock()
	s.config = nil
	s.tex = nil
	s.mu.Unlock()
}

// MarkOutdated makes the next acquire and present fail until Configure.
func (s *Surface) MarkOutdated() {
	s.mu.Lock()
	s.outdated = true
	s.mu.Unlock()
}

// Outdated reports the outdated flag.
func (s *Surface) Outdated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outdated
}

// Configures returns how many times Configure ran.
func (s *Surface) Configures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configures
}

// Config returns the current configuration, or nil.
func (s *Surface) Config() *hal.SurfaceConfiguration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// AcquireTexture returns the backing texture.
func (s *Surface) AcquireTexture(hal.Fence) (*hal.AcquiredSurfaceTexture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outdated || s.tex == nil {
		return nil, hal.ErrSurfaceOutdated
	}
	s.acquires++
	return &hal.AcquiredSurfaceTexture{Texture: s.tex}, nil
}

// DiscardTexture is a no-op.
func (s *Surface) DiscardTexture(hal.SurfaceTexture) {}

var _ hal.Surface = (*Surface)(nil)
