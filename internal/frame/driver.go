// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package frame

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/fluidsim/internal/capture"
	"github.com/gogpu/fluidsim/internal/gpu"
	"github.com/gogpu/fluidsim/internal/render"
)

// Config describes a driver.
type Config struct {
	// Target receives the rendered images. The caller owns it.
	Target render.Target

	// Width and Height are the initial target size.
	Width, Height uint32

	// Render supplies the camera, meshes and shader source. The
	// simulation buffers are filled in by New.
	Render render.Config

	Type SimulationType
	Draw render.DrawOptions

	// Capture, when non-nil, receives a copy of every presented frame.
	// The caller owns it.
	Capture   capture.Encoder
	FrameRate float64

	Observers []Observer
}

// Driver runs the frame loop body: acquire, simulate, record, submit,
// present and capture. It keeps render.Slots frames in flight.
//
// RunFrame, Reset and Destroy must be called from one goroutine. Resize,
// SetSimulationType, SetDrawOptions and Stats may be called from any.
type Driver struct {
	dev    *gpu.Device
	sim    *Simulation
	target render.Target
	res    *render.ResourceGroup

	fences [render.Slots]*gpu.Fence
	slot   int

	capture   capture.Encoder
	readback  *capture.Readback
	frameRate float64

	observers []Observer

	mu             sync.Mutex
	typ            SimulationType
	draw           render.DrawOptions
	resizeW        uint32
	resizeH        uint32
	stats          Stats
	captureErrored bool
}

// New builds the render resources for s and returns a driver. s and the
// target stay owned by the caller.
func New(ctx context.Context, d *gpu.Device, s *Simulation, cfg Config) (*Driver, error) {
	if s == nil {
		return nil, errors.New("frame: no simulation")
	}
	if cfg.Target == nil {
		return nil, errors.New("frame: no target")
	}
	if cfg.Type < 0 || cfg.Type >= numSimulationTypes {
		return nil, fmt.Errorf("frame: simulation type %d out of range", int(cfg.Type))
	}
	if _, err := s.Graph(cfg.Type); err != nil {
		return nil, err
	}

	rc := cfg.Render
	rc.Target = cfg.Target
	rc.Params = s.Buffers().ParamBuffer()
	rc.Particles = s.Buffers().ParticleBuffer()
	rc.Scalar = s.GridFluid().Scalar()
	rc.GridVelocity = s.GridFluid().Velocity()
	rc.Count = s.Buffers().Count()
	rc.Cells = s.GridFluid().Cells()
	res, err := render.NewResourceGroup(ctx, d, rc, cfg.Width, cfg.Height)
	if err != nil {
		return nil, err
	}

	drv := &Driver{
		dev:       d,
		sim:       s,
		target:    cfg.Target,
		res:       res,
		capture:   cfg.Capture,
		frameRate: cfg.FrameRate,
		observers: cfg.Observers,
		typ:       cfg.Type,
		draw:      cfg.Draw,
	}
	for i := range drv.fences {
		drv.fences[i] = d.NewFence(fmt.Sprintf("frame.slot%d", i))
	}
	if cfg.Capture != nil {
		drv.readback = capture.NewReadback(d)
	}
	drv.stats.Particles = rc.Count
	drv.stats.Type = cfg.Type
	return drv, nil
}

// Resources returns the render resources.
func (d *Driver) Resources() *render.ResourceGroup { return d.res }

// Simulation returns the driven simulation.
func (d *Driver) Simulation() *Simulation { return d.sim }

// SetViewMatrixGetter replaces the camera view matrix source.
func (d *Driver) SetViewMatrixGetter(g render.ViewMatrixGetter) { d.res.SetViewMatrixGetter(g) }

// SetSimulationType selects the tick graph used from the next frame on.
func (d *Driver) SetSimulationType(t SimulationType) error {
	if _, err := d.sim.Graph(t); err != nil {
		return err
	}
	d.mu.Lock()
	d.typ = t
	d.stats.Type = t
	d.mu.Unlock()
	return nil
}

// SimulationType returns the current simulation type.
func (d *Driver) SimulationType() SimulationType {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.typ
}

// SetDrawOptions changes what the next frames draw.
func (d *Driver) SetDrawOptions(o render.DrawOptions) {
	d.mu.Lock()
	d.draw = o
	d.mu.Unlock()
}

// DrawOptions returns the current draw options.
func (d *Driver) DrawOptions() render.DrawOptions {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.draw
}

// Resize records the new window size and marks the target out of date.
// The rebuild happens on the next frame.
func (d *Driver) Resize(width, height uint32) {
	d.mu.Lock()
	d.resizeW, d.resizeH = width, height
	d.mu.Unlock()
	d.target.MarkOutdated()
}

// Stats returns a snapshot of the frame counters.
func (d *Driver) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// RunFrame renders one frame, advancing the simulation unless state is
// Idle, and returns the state for the next frame. An out-of-date target
// is rebuilt and the frame skipped without error.
func (d *Driver) RunFrame(ctx context.Context, state State) (State, error) {
	d.mu.Lock()
	typ, draw := d.typ, d.draw
	d.mu.Unlock()

	fence := d.fences[d.slot]
	if fence.Pending() {
		if err := fence.Wait(ctx); err != nil {
			return state, err
		}
		fence.Reset()
	}

	img, err := d.target.Acquire()
	if errors.Is(err, gpu.ErrOutOfDate) {
		return state, d.skip(state, err)
	}
	if err != nil {
		return state, err
	}

	gq := d.dev.Queue(gpu.RoleGraphics)
	acquired := d.dev.Semaphores().Get("frame.acquired")
	if err := acquired.SignalFromHost(gq); err != nil {
		acquired.Release()
		d.target.Discard(img)
		return state, err
	}
	wait := []*gpu.Semaphore{acquired}

	next := state
	var tick time.Duration
	if state != Idle {
		g, err := d.sim.Graph(typ)
		if err != nil {
			acquired.Release()
			d.target.Discard(img)
			return state, err
		}
		start := time.Now()
		leaves, err := g.Execute(ctx, wait)
		if err != nil {
			d.target.Discard(img)
			return state, err
		}
		tick = time.Since(start)
		wait = leaves
		if state == SingleStep {
			next = Idle
		}
	}
	d.noteTick(state, tick)

	enc, err := d.dev.BeginCommands("frame")
	if err != nil {
		release(wait)
		d.target.Discard(img)
		return next, err
	}
	if err := d.res.Record(enc, img, d.slot, draw); err != nil {
		enc.Discard()
		release(wait)
		d.target.Discard(img)
		if errors.Is(err, gpu.ErrOutOfDate) {
			return next, d.skip(next, err)
		}
		return next, err
	}
	capturing := d.readback != nil
	if capturing {
		if err := d.readback.Copy(enc, img); err != nil {
			gpu.Logger().Warn("frame: capture copy failed", "err", err)
			capturing = false
		}
	}
	if _, err := enc.Submit(ctx, gq, gpu.Submission{
		Label: "frame",
		Wait:  wait,
		Fence: fence,
	}); err != nil {
		d.target.Discard(img)
		return next, err
	}

	if err := d.target.Present(gq, img); err != nil {
		if !errors.Is(err, gpu.ErrOutOfDate) {
			return next, err
		}
		gpu.Logger().Debug("frame: present out of date", "err", err)
		d.target.MarkOutdated()
	}

	if capturing {
		d.captureFrame(ctx, fence)
	}

	d.slot = (d.slot + 1) % render.Slots
	d.mu.Lock()
	d.stats.Frames++
	d.stats.State = next
	d.mu.Unlock()
	d.notify()
	return next, nil
}

func (d *Driver) noteTick(state State, tick time.Duration) {
	if state == Idle {
		return
	}
	occ, ran := d.sim.Coupling().Last()
	d.mu.Lock()
	d.stats.Ticks++
	d.stats.LastTick = tick
	d.stats.Occupancy, d.stats.Coupled = occ, ran
	d.mu.Unlock()
}

// skip rebuilds the render resources after an out-of-date error and
// counts the frame as skipped.
func (d *Driver) skip(state State, cause error) error {
	gpu.Logger().Debug("frame: target out of date, rebuilding", "err", cause)
	if err := d.WaitIdle(); err != nil {
		return err
	}
	d.mu.Lock()
	w, h := d.resizeW, d.resizeH
	d.resizeW, d.resizeH = 0, 0
	d.mu.Unlock()
	if err := d.res.Rebuild(w, h); err != nil {
		return fmt.Errorf("frame: rebuild: %w", err)
	}
	d.mu.Lock()
	d.stats.Skipped++
	d.stats.State = state
	d.mu.Unlock()
	d.notify()
	return nil
}

func (d *Driver) captureFrame(ctx context.Context, fence *gpu.Fence) {
	if err := fence.Wait(ctx); err != nil {
		gpu.Logger().Warn("frame: capture wait failed", "err", err)
		return
	}
	f, err := d.readback.Frame(ctx, d.frameRate)
	if err == nil {
		err = d.capture.WriteFrame(f)
	}
	if err != nil {
		// Logged once per run of failures.
		if !d.captureErrored {
			gpu.Logger().Error("frame: capture failed", "err", err)
		}
		d.captureErrored = true
		return
	}
	d.captureErrored = false
}

func (d *Driver) notify() {
	if len(d.observers) == 0 {
		return
	}
	s := d.Stats()
	for _, o := range d.observers {
		o.FrameCompleted(s)
	}
}

func release(ss []*gpu.Semaphore) {
	for _, s := range ss {
		s.Release()
	}
}

// WaitIdle blocks until every frame in flight has completed.
func (d *Driver) WaitIdle() error {
	if err := d.dev.WaitIdle(); err != nil {
		return err
	}
	for _, f := range d.fences {
		f.Reset()
	}
	return nil
}

// Reset waits for the device and restores the simulation's initial state.
func (d *Driver) Reset(ctx context.Context) error {
	if err := d.WaitIdle(); err != nil {
		return err
	}
	if err := d.sim.Reset(ctx); err != nil {
		return err
	}
	gpu.Logger().Info("frame: simulation reset")
	return nil
}

// Destroy waits for the device and releases the render resources. The
// simulation, target and capture encoder are left to their owners.
func (d *Driver) Destroy() {
	if err := d.WaitIdle(); err != nil {
		gpu.Logger().Warn("frame: destroy", "err", err)
	}
	d.res.Destroy()
	if d.readback != nil {
		d.readback.Destroy()
	}
}
