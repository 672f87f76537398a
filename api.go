// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package fluidsim

import (
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/fluidsim/internal/capture"
	"github.com/gogpu/fluidsim/internal/config"
	"github.com/gogpu/fluidsim/internal/frame"
	"github.com/gogpu/fluidsim/internal/gpu"
	"github.com/gogpu/fluidsim/internal/input"
	"github.com/gogpu/fluidsim/internal/render"
	"github.com/gogpu/fluidsim/internal/sorter"
)

// Device is an opened GPU device with its queues.
type Device = gpu.Device

// DeviceOptions configures OpenDevice.
type DeviceOptions = gpu.Options

// OpenDevice opens the first adapter of the selected backend. The
// backend package must be linked in, e.g.
//
//	import _ "github.com/gogpu/wgpu/hal/vulkan"
func OpenDevice(opts DeviceOptions) (*Device, error) { return gpu.Open(opts) }

// Settings is the parsed configuration file.
type Settings = config.Settings

// DefaultSettings returns the settings used for every key a file omits.
func DefaultSettings() Settings { return config.Default() }

// LoadSettings reads and validates the YAML file at path.
func LoadSettings(path string) (Settings, error) { return config.Load(path) }

// SettingsWatcher delivers validated reloads of a settings file.
type SettingsWatcher = config.Watcher

// WatchSettings watches path. Pass its Updates channel to WithUpdates and
// run it alongside the viewer. A non-positive debounce means the default.
func WatchSettings(path string, debounce time.Duration) (*SettingsWatcher, error) {
	return config.NewWatcher(path, debounce)
}

// Target is where frames are rendered and presented.
type Target = render.Target

// NewSurfaceTarget presents to a window surface. A zero format selects
// BGRA8Unorm.
func NewSurfaceTarget(d *Device, surface hal.Surface, format gputypes.TextureFormat) Target {
	return render.NewSurfaceTarget(d, surface, format)
}

// Encoder receives captured frames.
type Encoder = capture.Encoder

// CapturedFrame is one frame handed to an Encoder.
type CapturedFrame = capture.Frame

// MeshLoader loads the particle and grid meshes.
type MeshLoader = render.MeshLoader

// Keymap binds keys to viewer actions.
type Keymap = input.Keymap

// Action is a viewer command bound to a key.
type Action = input.Action

// DefaultKeymap returns the standard bindings.
func DefaultKeymap() Keymap { return input.DefaultKeymap() }

// FrameObserver is told about every completed or skipped frame.
type FrameObserver = frame.Observer

// StageObserver receives the host duration of every tick stage.
type StageObserver = gpu.StageObserver

// SortObserver receives the duration of every radix sort pass.
type SortObserver = sorter.Observer
