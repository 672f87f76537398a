// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package fluidsim is a real-time GPU fluid simulation viewer.
//
// # Overview
//
// A Viewer simulates a smoothed-particle-hydrodynamics (SPH) fluid and an
// Eulerian grid fluid on the GPU, couples the two, and renders particles,
// grid cells or both every frame. Frames can be recorded to a numbered
// image sequence.
//
// # Quick Start
//
//	dev, err := fluidsim.OpenDevice(fluidsim.DeviceOptions{})
//	if err != nil {
//	    return err
//	}
//	defer dev.Close()
//
//	settings, err := fluidsim.LoadSettings("fluidsim.yaml")
//	if err != nil {
//	    return err
//	}
//	v, err := fluidsim.NewViewer(ctx, dev, settings)
//	if err != nil {
//	    return err
//	}
//	defer v.Close()
//	v.Start()
//	return v.Run(ctx)
//
// # Simulation
//
// Each tick is a graph of GPU stages ordered by the buffers they read and
// write:
//
//	grid → sph.massDensity → sph.massDensityCenter → sph.force → sph.advect
//	gridfluid.step → coupling
//
// SimulationType selects the particle stages, the grid stages or both
// with the coupling exchange between them.
//
// A backend must be linked in with a blank import such as
// github.com/gogpu/wgpu/hal/vulkan.
//
// # Hot Reload
//
// WatchSettings follows the settings file. Pass its Updates channel to
// WithUpdates; edits that keep the grid, shaders and particle count refill
// the running simulation, anything else rebuilds it between frames.
//
// # Controls
//
// With an event source attached (WithEvents), the default keymap applies:
// Space toggles run/pause, N single-steps, R resets, V cycles the
// visualization, T cycles the render type and Escape quits.
//
// # Logging
//
// fluidsim is silent by default. Use SetLogger to enable log output.
package fluidsim
