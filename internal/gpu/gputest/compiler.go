// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gputest

import (
	"sync"

	"github.com/gogpu/fluidsim/internal/gpu"
)

// spirvMagic opens every SPIR-V module.
const spirvMagic = 0x07230203

// Compiler is a gpu.ShaderCompiler that never parses WGSL. It returns a
// minimal SPIR-V header, or a ShaderCompileError for labels in Fail.
type Compiler struct {
	Fail map[string]bool

	mu       sync.Mutex
	compiled []gpu.ShaderSource
}

// Compile implements gpu.ShaderCompiler.
func (c *Compiler) Compile(src gpu.ShaderSource) ([]uint32, error) {
	c.mu.Lock()
	c.compiled = append(c.compiled, src)
	c.mu.Unlock()
	if c.Fail[src.Label] {
		return nil, &gpu.ShaderCompileError{
			Label:   src.Label,
			Stage:   gpu.StageName(src.Stage),
			Message: "rejected by test compiler",
		}
	}
	return []uint32{spirvMagic, 0x00010300, 0, 1, 0}, nil
}

// Compiled returns every source handed to Compile.
func (c *Compiler) Compiled() []gpu.ShaderSource {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]gpu.ShaderSource(nil), c.compiled...)
}

// Recorder is a gpu.Tracer that keeps every submission event.
type Recorder struct {
	mu     sync.Mutex
	events []gpu.SubmitEvent
}

// Submitted implements gpu.Tracer.
func (r *Recorder) Submitted(ev gpu.SubmitEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []gpu.SubmitEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]gpu.SubmitEvent(nil), r.events...)
}

// Labels returns the label of every recorded submission in order.
func (r *Recorder) Labels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Label
	}
	return out
}

// Reset forgets recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
