// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package fluidsim

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/fluidsim/internal/capture"
	"github.com/gogpu/fluidsim/internal/config"
	"github.com/gogpu/fluidsim/internal/frame"
	"github.com/gogpu/fluidsim/internal/gpu"
	"github.com/gogpu/fluidsim/internal/input"
	"github.com/gogpu/fluidsim/internal/render"
	"github.com/gogpu/fluidsim/internal/shaders"
)

// State is the run state of the simulation.
type State = frame.State

// Run states.
const (
	Idle       = frame.Idle
	Running    = frame.Running
	SingleStep = frame.SingleStep
)

// SimulationType selects which solvers run.
type SimulationType = frame.SimulationType

// Simulation types.
const (
	SPH     = frame.SPH
	Grid    = frame.Grid
	Coupled = frame.Coupled
)

// RenderType selects what is drawn.
type RenderType = render.RenderType

// Render types.
const (
	RenderParticles = render.Particles
	RenderGrid      = render.Grid
	RenderBoth      = render.Both
)

// Visualization selects the per-particle or per-cell value mapped to color.
type Visualization = render.Visualization

// Visualizations.
const (
	Velocity    = render.Velocity
	Density     = render.Density
	Pressure    = render.Pressure
	Temperature = render.Temperature
)

// Stats is a snapshot of the frame counters.
type Stats = frame.Stats

// Viewer owns a simulation, its renderer and the frame loop.
//
// The UI hooks (Start, Pause, Step, Reset and the setters) are safe to
// call from any goroutine, including input callbacks. Their effect is
// applied before the next frame.
type Viewer struct {
	dev  *gpu.Device
	opts options

	settings config.Settings
	sim      *frame.Simulation
	drv      *frame.Driver

	target     render.Target
	ownTarget  bool
	encoder    capture.Encoder
	ownEncoder bool

	events *input.Dispatcher

	mu        sync.Mutex
	state     State
	typ       SimulationType
	draw      render.DrawOptions
	view      render.ViewMatrixGetter
	viewDirty bool
	resizeW   uint32
	resizeH   uint32
	resize    bool
	reset     bool
	running   bool
	released  bool
	done      chan struct{}

	quit     chan struct{}
	quitOnce sync.Once

	closeOnce sync.Once
	closeErr  error
}

// NewViewer creates the simulation described by settings on dev. The
// viewer starts paused.
func NewViewer(ctx context.Context, dev *Device, settings Settings, opts ...Option) (*Viewer, error) {
	if dev == nil {
		return nil, errors.New("fluidsim: no device")
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	typ, err := frame.ParseSimulationType(settings.Simulation.Type)
	if err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	v := &Viewer{
		dev:      dev,
		opts:     o,
		settings: settings,
		state:    Idle,
		typ:      typ,
		draw:     render.DrawOptions{Type: render.Both, Visualization: render.Velocity},
		quit:     make(chan struct{}),
	}

	v.target = o.target
	if v.target == nil {
		v.target = render.NewOffscreenTarget(dev, gputypes.TextureFormatUndefined)
		v.ownTarget = true
	}
	v.encoder = o.encoder
	if v.encoder == nil && settings.Output.ToFile {
		seq, err := capture.NewImageSequence(settings.Output.Path, settings.Output.Format)
		if err != nil {
			v.release()
			return nil, err
		}
		v.encoder, v.ownEncoder = seq, true
	}

	sc, err := simConfig(settings)
	if err != nil {
		v.release()
		return nil, err
	}
	if err := v.build(ctx, settings, sc); err != nil {
		v.release()
		return nil, err
	}
	if o.events != nil {
		v.subscribe(o.events)
	}
	Logger().Info("fluidsim: viewer ready",
		"type", typ.String(),
		"particles", v.sim.Buffers().Count(),
		"capture", v.encoder != nil)
	return v, nil
}

func simConfig(s config.Settings) (frame.SimConfig, error) {
	g := s.SimGrid()
	particles, err := s.SimSource().Load(g)
	if err != nil {
		return frame.SimConfig{}, err
	}
	gf, c := s.Simulation.GridFluid, s.Simulation.Coupling
	return frame.SimConfig{
		Grid:             g,
		Fluid:            s.SimFluid(),
		Particles:        particles,
		Diffusion:        gf.Diffusion,
		GridViscosity:    gf.Viscosity,
		Iterations:       gf.Iterations,
		CouplingInterval: c.Interval,
		Drag:             c.Drag,
		Transfer:         c.MomentumTransfer,
		Heat:             c.HeatTransfer,
		Saturation:       c.Saturation,
		Shaders:          shaders.Loader{Overrides: s.Shaders.Overrides},
	}, nil
}

func (v *Viewer) size(s config.Settings) (uint32, uint32) {
	if w := v.opts.window; w != nil {
		if width, height := w.Size(); width > 0 && height > 0 {
			return uint32(width), uint32(height)
		}
	}
	if w, h := v.target.Size(); w > 0 && h > 0 && v.drv != nil {
		return w, h
	}
	return s.Window.Width, s.Window.Height
}

// build creates the simulation and the driver for s, replacing any
// existing ones.
func (v *Viewer) build(ctx context.Context, s config.Settings, sc frame.SimConfig) error {
	simulation, err := frame.NewSimulation(ctx, v.dev, sc)
	if err != nil {
		return err
	}
	if v.opts.sorts != nil {
		simulation.SetSortObserver(v.opts.sorts)
	}
	if v.opts.stages != nil {
		if err := simulation.SetStageObserver(v.opts.stages); err != nil {
			simulation.Destroy()
			return err
		}
	}

	v.mu.Lock()
	typ, draw, view := v.typ, v.draw, v.view
	v.mu.Unlock()

	g := sc.Grid
	width, height := v.size(s)
	drv, err := frame.New(ctx, v.dev, simulation, frame.Config{
		Target: v.target,
		Width:  width,
		Height: height,
		Render: render.Config{
			Meshes:         v.opts.meshes,
			Camera:         render.DefaultCamera(g.Origin, g.Max()),
			ParticleRadius: g.CellSize / 4,
			ValueScale:     1 / sc.Fluid.RestDensity,
			Background:     gputypes.Color{R: 0.08, G: 0.08, B: 0.1, A: 1},
		},
		Type:      typ,
		Draw:      draw,
		Capture:   v.encoder,
		FrameRate: s.Output.FrameRate,
		Observers: v.opts.observers,
	})
	if err != nil {
		simulation.Destroy()
		return err
	}
	if view != nil {
		drv.SetViewMatrixGetter(view)
	}

	if v.drv != nil {
		v.drv.Destroy()
	}
	if v.sim != nil {
		v.sim.Destroy()
	}
	v.mu.Lock()
	v.sim, v.drv = simulation, drv
	v.mu.Unlock()
	v.settings = s
	return nil
}

// apply switches to new settings. A change that keeps the grid, the
// shaders and the particle count refills the existing buffers; anything
// else rebuilds the simulation.
func (v *Viewer) apply(ctx context.Context, s config.Settings) error {
	typ, err := frame.ParseSimulationType(s.Simulation.Type)
	if err != nil {
		return err
	}
	sc, err := simConfig(s)
	if err != nil {
		return err
	}
	old := v.settings
	refill := old.SimGrid() == s.SimGrid() &&
		uint32(len(sc.Particles)) == v.sim.Buffers().Count() &&
		maps.Equal(old.Shaders.Overrides, s.Shaders.Overrides)

	v.mu.Lock()
	v.typ = typ
	v.mu.Unlock()

	if refill {
		if err := v.drv.WaitIdle(); err != nil {
			return err
		}
		if err := v.sim.Refill(ctx, sc); err != nil {
			return err
		}
		if err := v.drv.SetSimulationType(typ); err != nil {
			return err
		}
		v.settings = s
	} else if err := v.build(ctx, s, sc); err != nil {
		return err
	}
	Logger().Info("fluidsim: config applied", "refill", refill, "particles", len(sc.Particles), "type", typ.String())
	return nil
}

func (v *Viewer) subscribe(src gpucontext.EventSource) {
	v.events = input.NewDispatcher(src)
	v.events.OnAction(v.opts.keymap, v.handleAction)
	v.events.OnResize(func(w, h int) {
		if w > 0 && h > 0 {
			v.Resize(uint32(w), uint32(h))
		}
	})
}

func (v *Viewer) handleAction(a input.Action) {
	switch a {
	case input.ActionToggleRun:
		v.mu.Lock()
		if v.state == Running {
			v.state = Idle
		} else {
			v.state = Running
		}
		v.mu.Unlock()
	case input.ActionStep:
		v.Step()
	case input.ActionReset:
		v.Reset()
	case input.ActionCycleVisualization:
		v.SetVisualization(v.Visualization().Next())
	case input.ActionCycleRenderType:
		v.SetRenderType(v.RenderType().Next())
	case input.ActionQuit:
		v.requestQuit()
	}
}

// Run drives the frame loop until ctx is cancelled, the quit key is
// pressed, Close is called or the frame limit is reached. Fatal GPU
// errors are returned wrapped; cancellation and quitting return nil.
func (v *Viewer) Run(ctx context.Context) error {
	v.mu.Lock()
	switch {
	case v.released:
		v.mu.Unlock()
		return ErrClosed
	case v.running:
		v.mu.Unlock()
		return ErrRunning
	}
	v.running = true
	v.done = make(chan struct{})
	v.mu.Unlock()
	defer func() {
		v.mu.Lock()
		v.running = false
		close(v.done)
		v.mu.Unlock()
	}()

	var frames uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-v.quit:
			return nil
		case s, ok := <-v.opts.updates:
			if ok {
				if err := v.apply(ctx, s); err != nil {
					Logger().Warn("fluidsim: config not applied", "err", err)
				}
			}
		default:
		}

		if err := v.sync(ctx); err != nil {
			return fmt.Errorf("fluidsim: %w", err)
		}

		v.mu.Lock()
		state := v.state
		v.mu.Unlock()
		next, err := v.drv.RunFrame(ctx, state)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fluidsim: frame: %w", err)
		}
		v.mu.Lock()
		if v.state == state {
			v.state = next
		}
		v.mu.Unlock()

		frames++
		if v.opts.maxFrames > 0 && frames >= v.opts.maxFrames {
			return nil
		}
	}
}

// sync hands requests made since the last frame to the driver.
func (v *Viewer) sync(ctx context.Context) error {
	v.mu.Lock()
	typ, draw, view, viewDirty := v.typ, v.draw, v.view, v.viewDirty
	reset, resize := v.reset, v.resize
	w, h := v.resizeW, v.resizeH
	v.reset, v.resize, v.viewDirty = false, false, false
	v.mu.Unlock()

	if typ != v.drv.SimulationType() {
		if err := v.drv.SetSimulationType(typ); err != nil {
			return err
		}
	}
	if draw != v.drv.DrawOptions() {
		v.drv.SetDrawOptions(draw)
	}
	if viewDirty {
		v.drv.SetViewMatrixGetter(view)
	}
	if resize {
		v.drv.Resize(w, h)
	}
	if reset {
		return v.drv.Reset(ctx)
	}
	return nil
}

// SetViewMatrixGetter replaces the camera's view matrix with g's result,
// evaluated once per frame. Nil restores the default camera framing the
// grid.
func (v *Viewer) SetViewMatrixGetter(g func() mgl32.Mat4) {
	v.mu.Lock()
	v.view = g
	v.viewDirty = true
	v.mu.Unlock()
}

// Start runs the simulation every frame.
func (v *Viewer) Start() { v.setState(Running) }

// Pause stops simulating; frames keep rendering.
func (v *Viewer) Pause() { v.setState(Idle) }

// Step simulates exactly one tick on the next frame, then pauses.
func (v *Viewer) Step() { v.setState(SingleStep) }

func (v *Viewer) setState(s State) {
	v.mu.Lock()
	v.state = s
	v.mu.Unlock()
}

// State returns the run state.
func (v *Viewer) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Reset restores the initial particles and clears the grid fields before
// the next frame.
func (v *Viewer) Reset() {
	v.mu.Lock()
	v.reset = true
	v.mu.Unlock()
}

// Resize rebuilds the render target at width x height before the next
// frame.
func (v *Viewer) Resize(width, height uint32) {
	v.mu.Lock()
	v.resize, v.resizeW, v.resizeH = true, width, height
	v.mu.Unlock()
}

// SetSimulationType selects the solvers run from the next frame on.
func (v *Viewer) SetSimulationType(t SimulationType) error {
	if !slices.Contains([]SimulationType{SPH, Grid, Coupled}, t) {
		return fmt.Errorf("fluidsim: unknown simulation type %d", int(t))
	}
	v.mu.Lock()
	v.typ = t
	v.mu.Unlock()
	return nil
}

// SimulationType returns the selected simulation type.
func (v *Viewer) SimulationType() SimulationType {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.typ
}

// SetRenderType selects what is drawn.
func (v *Viewer) SetRenderType(t RenderType) {
	v.mu.Lock()
	v.draw.Type = t
	v.mu.Unlock()
}

// RenderType returns what is drawn.
func (v *Viewer) RenderType() RenderType {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.draw.Type
}

// SetVisualization selects the value mapped to color.
func (v *Viewer) SetVisualization(vis Visualization) {
	v.mu.Lock()
	v.draw.Visualization = vis
	v.mu.Unlock()
}

// Visualization returns the value mapped to color.
func (v *Viewer) Visualization() Visualization {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.draw.Visualization
}

// Stats returns the frame counters of the current simulation. A config
// change that rebuilds the simulation starts them from zero.
func (v *Viewer) Stats() Stats {
	v.mu.Lock()
	drv := v.drv
	v.mu.Unlock()
	return drv.Stats()
}

func (v *Viewer) requestQuit() {
	v.quitOnce.Do(func() { close(v.quit) })
}

// Close stops Run, waits for it to return and releases every GPU
// resource the viewer created. It must not be called from an input
// callback; use the quit key binding there.
func (v *Viewer) Close() error {
	v.requestQuit()
	v.mu.Lock()
	done, running := v.done, v.running
	v.mu.Unlock()
	if running {
		<-done
	}
	v.closeOnce.Do(func() { v.closeErr = v.release() })
	return v.closeErr
}

func (v *Viewer) release() error {
	v.mu.Lock()
	v.released = true
	v.mu.Unlock()
	if v.events != nil {
		v.events.Close()
	}
	if v.drv != nil {
		v.drv.Destroy()
	}
	if v.sim != nil {
		v.sim.Destroy()
	}
	if v.ownTarget {
		v.target.Destroy()
	}
	if v.ownEncoder {
		return v.encoder.Close()
	}
	return nil
}
