// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package frame

import (
	"context"
	"fmt"

	"github.com/gogpu/fluidsim/internal/coupling"
	"github.com/gogpu/fluidsim/internal/gpu"
	"github.com/gogpu/fluidsim/internal/grid"
	"github.com/gogpu/fluidsim/internal/gridfluid"
	"github.com/gogpu/fluidsim/internal/shaders"
	"github.com/gogpu/fluidsim/internal/sim"
	"github.com/gogpu/fluidsim/internal/sorter"
	"github.com/gogpu/fluidsim/internal/sph"
)

// SimConfig describes a simulation.
type SimConfig struct {
	Grid      sim.Grid
	Fluid     sim.Fluid
	Particles []sim.Particle

	Diffusion     float32
	GridViscosity float32
	Iterations    int

	CouplingInterval int
	Drag             float32
	Transfer         float32
	Heat             float32
	Saturation       float64

	Shaders shaders.Loader
}

// Buffer names declared by the tick graph stages.
const (
	bufParticles = "particles"
	bufPairs     = "pairs"
	bufTable     = "cell_table"
	bufCenters   = "centers"
	bufVelocity  = "grid_velocity"
	bufScalar    = "grid_scalar"
	bufVelSource = "grid_velocity_source"
	bufScalarSrc = "grid_scalar_source"
)

// Simulation owns every solver and the buffers they share.
type Simulation struct {
	dev *gpu.Device
	cfg SimConfig

	buffers  *sim.Buffers
	grid     *grid.Builder
	sph      *sph.Solver
	fluid    *gridfluid.Solver
	coupling *coupling.Stage

	graphs [numSimulationTypes]*gpu.Graph
}

// NewSimulation allocates and initializes every solver.
func NewSimulation(ctx context.Context, d *gpu.Device, cfg SimConfig) (*Simulation, error) {
	if err := cfg.Shaders.Validate(); err != nil {
		return nil, err
	}
	src := make(map[string]string)
	for _, name := range shaders.Names() {
		s, err := cfg.Shaders.Load(name)
		if err != nil {
			return nil, err
		}
		src[name] = s
	}

	s := &Simulation{dev: d, cfg: cfg}
	var err error
	if s.buffers, err = sim.NewBuffers(ctx, d, cfg.Grid, cfg.Fluid, cfg.Particles); err != nil {
		return nil, err
	}
	count := s.buffers.Count()
	if s.grid, err = grid.New(ctx, d, grid.Config{
		Params:     s.buffers.ParamBuffer(),
		Particles:  s.buffers.ParticleBuffer(),
		Grid:       cfg.Grid,
		Capacity:   sim.Capacity(count),
		Source:     src[shaders.Grid],
		SortSource: src[shaders.Sort],
	}); err != nil {
		s.Destroy()
		return nil, err
	}
	if s.sph, err = sph.New(d, sph.Config{
		Params:    s.buffers.ParamBuffer(),
		Particles: s.buffers.ParticleBuffer(),
		Pairs:     s.grid.Pairs(),
		Table:     s.grid.CellTable(),
		Count:     count,
		Source:    src[shaders.SPH],
	}); err != nil {
		s.Destroy()
		return nil, err
	}
	if s.fluid, err = gridfluid.New(ctx, d, gridfluid.Config{
		Grid:       cfg.Grid,
		Timestep:   cfg.Fluid.Timestep,
		Diffusion:  cfg.Diffusion,
		Viscosity:  cfg.GridViscosity,
		Iterations: cfg.Iterations,
		Source:     src[shaders.GridFluid],
	}); err != nil {
		s.Destroy()
		return nil, err
	}
	if s.coupling, err = coupling.New(d, coupling.Config{
		Params:         s.buffers.ParamBuffer(),
		Particles:      s.buffers.ParticleBuffer(),
		Pairs:          s.grid.Pairs(),
		Table:          s.grid.CellTable(),
		GridVelocity:   s.fluid.Velocity(),
		VelocitySource: s.fluid.VelocitySource(),
		ScalarSource:   s.fluid.ScalarSource(),
		Cells:          cfg.Grid.CellCount(),
		Count:          count,
		Interval:       cfg.CouplingInterval,
		Drag:           cfg.Drag,
		Transfer:       cfg.Transfer,
		Heat:           cfg.Heat,
		Saturation:     cfg.Saturation,
		Source:         src[shaders.Coupling],
	}); err != nil {
		s.Destroy()
		return nil, err
	}
	gpu.Logger().Info("frame: simulation ready",
		"particles", count,
		"cells", cfg.Grid.CellCount(),
		"capacity", s.grid.Sorter().Capacity())
	return s, nil
}

// Buffers returns the shared parameter and particle buffers.
func (s *Simulation) Buffers() *sim.Buffers { return s.buffers }

// GridFluid returns the grid-fluid solver.
func (s *Simulation) GridFluid() *gridfluid.Solver { return s.fluid }

// Coupling returns the exchange stage.
func (s *Simulation) Coupling() *coupling.Stage { return s.coupling }

// Sorter returns the neighbor-grid sort engine.
func (s *Simulation) Sorter() *sorter.Engine { return s.grid.Sorter() }

// Graph returns the tick graph for t, building it on first use.
func (s *Simulation) Graph(t SimulationType) (*gpu.Graph, error) {
	if t < 0 || t >= numSimulationTypes {
		return nil, fmt.Errorf("frame: simulation type %d out of range", int(t))
	}
	if g := s.graphs[t]; g != nil {
		return g, nil
	}
	g := gpu.NewGraph(s.dev)
	var stages []gpu.Stage
	if t == SPH || t == Coupled {
		stages = append(stages, s.particleStages()...)
	}
	if t == Grid || t == Coupled {
		stages = append(stages, gpu.Stage{
			Name:   "gridfluid.step",
			Reads:  []string{bufVelSource, bufScalarSrc},
			Writes: []string{bufVelocity, bufScalar},
			Run: func(ctx context.Context, sc *gpu.StageContext) error {
				return s.fluid.Step(ctx, sc.Wait, sc.Signal)
			},
		})
	}
	if t == Coupled {
		stages = append(stages, gpu.Stage{
			Name:   "coupling",
			Reads:  []string{bufPairs, bufTable, bufVelocity},
			Writes: []string{bufParticles, bufVelSource, bufScalarSrc},
			Run: func(ctx context.Context, sc *gpu.StageContext) error {
				return s.coupling.Run(ctx, sc.Wait, sc.Signal)
			},
		})
	}
	for _, st := range stages {
		if err := g.Add(st); err != nil {
			return nil, err
		}
	}
	if _, err := g.Order(); err != nil {
		return nil, err
	}
	s.graphs[t] = g
	return g, nil
}

func (s *Simulation) particleStages() []gpu.Stage {
	stages := []gpu.Stage{{
		Name:   "grid",
		Reads:  []string{bufParticles},
		Writes: []string{bufParticles, bufPairs, bufTable}, // cell_ids stores each particle's cell
		Run: func(ctx context.Context, sc *gpu.StageContext) error {
			return s.grid.Run(ctx, sc.Wait, sc.Signal)
		},
	}}
	io := map[sph.Step]struct{ reads, writes []string }{
		sph.MassDensity:       {[]string{bufPairs, bufTable}, []string{bufParticles}},
		sph.MassDensityCenter: {[]string{bufParticles, bufPairs, bufTable}, []string{bufCenters}},
		sph.Force:             {[]string{bufCenters, bufPairs, bufTable}, []string{bufParticles}},
		sph.Advect:            {nil, []string{bufParticles}},
	}
	for _, step := range sph.Steps() {
		stages = append(stages, gpu.Stage{
			Name:   "sph." + step.String(),
			Reads:  io[step].reads,
			Writes: io[step].writes,
			Run: func(ctx context.Context, sc *gpu.StageContext) error {
				return s.sph.RunStep(ctx, step, sc.Wait, sc.Signal)
			},
		})
	}
	return stages
}

// Reset restores the initial particles, zeroes the grid fields and
// restarts the coupling interval. The device must be idle.
func (s *Simulation) Reset(ctx context.Context) error {
	if err := s.buffers.Reset(ctx); err != nil {
		return err
	}
	if err := s.fluid.Clear(ctx); err != nil {
		return err
	}
	s.coupling.Rewind()
	return nil
}

// Refill swaps in a new initial snapshot of the same size and new
// constants, then resets.
func (s *Simulation) Refill(ctx context.Context, cfg SimConfig) error {
	if err := s.buffers.SetFluid(ctx, cfg.Fluid); err != nil {
		return err
	}
	if err := s.buffers.Refill(ctx, cfg.Particles); err != nil {
		return err
	}
	if err := s.fluid.SetConstants(ctx, cfg.Fluid.Timestep, cfg.Diffusion, cfg.GridViscosity); err != nil {
		return err
	}
	s.fluid.SetIterations(cfg.Iterations)
	s.coupling.SetRates(cfg.Drag, cfg.Transfer, cfg.Heat, cfg.Saturation)
	s.cfg = cfg
	return s.Reset(ctx)
}

// SetSortObserver forwards sort pass timings to o.
func (s *Simulation) SetSortObserver(o sorter.Observer) { s.grid.Sorter().SetObserver(o) }

// SetStageObserver installs o on every tick graph built so far and later.
func (s *Simulation) SetStageObserver(o gpu.StageObserver) error {
	for t := range numSimulationTypes {
		g, err := s.Graph(t)
		if err != nil {
			return err
		}
		g.SetObserver(o)
	}
	return nil
}

// Destroy releases every solver. Safe on a partially built simulation.
func (s *Simulation) Destroy() {
	if s.coupling != nil {
		s.coupling.Destroy()
	}
	if s.fluid != nil {
		s.fluid.Destroy()
	}
	if s.sph != nil {
		s.sph.Destroy()
	}
	if s.grid != nil {
		s.grid.Destroy()
	}
	if s.buffers != nil {
		s.buffers.Destroy()
	}
}
