// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package fluidsim

import (
	"github.com/gogpu/gpucontext"

	"github.com/gogpu/fluidsim/internal/capture"
	"github.com/gogpu/fluidsim/internal/config"
	"github.com/gogpu/fluidsim/internal/frame"
	"github.com/gogpu/fluidsim/internal/gpu"
	"github.com/gogpu/fluidsim/internal/input"
	"github.com/gogpu/fluidsim/internal/render"
	"github.com/gogpu/fluidsim/internal/sorter"
)

// Option configures a Viewer during creation.
//
// Example:
//
//	v, err := fluidsim.NewViewer(ctx, dev, settings,
//	    fluidsim.WithTarget(surfaceTarget),
//	    fluidsim.WithEvents(window),
//	)
type Option func(*options)

type options struct {
	target    render.Target
	window    gpucontext.WindowProvider
	events    gpucontext.EventSource
	keymap    input.Keymap
	encoder   capture.Encoder
	meshes    render.MeshLoader
	updates   <-chan config.Settings
	observers []frame.Observer
	stages    gpu.StageObserver
	sorts     sorter.Observer
	maxFrames uint64
}

func defaultOptions() options {
	return options{keymap: input.DefaultKeymap()}
}

// WithTarget renders into t instead of an offscreen texture. The viewer
// configures t but does not destroy it.
func WithTarget(t Target) Option {
	return func(o *options) { o.target = t }
}

// WithWindow takes the initial target size from w instead of the
// window section of the settings.
func WithWindow(w gpucontext.WindowProvider) Option {
	return func(o *options) { o.window = w }
}

// WithEvents subscribes the viewer to key and resize events from src.
func WithEvents(src gpucontext.EventSource) Option {
	return func(o *options) { o.events = src }
}

// WithKeymap replaces the default key bindings.
func WithKeymap(m Keymap) Option {
	return func(o *options) { o.keymap = m }
}

// WithEncoder receives every presented frame. It overrides the output
// section of the settings; the caller keeps ownership of e.
func WithEncoder(e Encoder) Option {
	return func(o *options) { o.encoder = e }
}

// WithMeshLoader replaces the procedural particle and box meshes.
func WithMeshLoader(l MeshLoader) Option {
	return func(o *options) { o.meshes = l }
}

// WithUpdates applies every Settings received on ch between frames,
// typically from a SettingsWatcher.
func WithUpdates(ch <-chan Settings) Option {
	return func(o *options) { o.updates = ch }
}

// WithObserver is told about every frame. It may be given more than once.
func WithObserver(obs FrameObserver) Option {
	return func(o *options) { o.observers = append(o.observers, obs) }
}

// WithStageObserver receives the host duration of every tick stage.
func WithStageObserver(obs StageObserver) Option {
	return func(o *options) { o.stages = obs }
}

// WithSortObserver receives the duration of every radix sort pass.
func WithSortObserver(obs SortObserver) Option {
	return func(o *options) { o.sorts = obs }
}

// WithMaxFrames makes Run return after n frames, skipped ones included.
// Zero means no limit.
func WithMaxFrames(n uint64) Option {
	return func(o *options) { o.maxFrames = n }
}
