// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package config loads the YAML settings file and watches it for changes.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gogpu/fluidsim/internal/sim"
)

// Simulation types.
const (
	TypeSPH     = "sph"
	TypeGrid    = "grid"
	TypeCoupled = "coupled"
)

// ErrInvalid is the sentinel behind every validation failure.
var ErrInvalid = errors.New("config: invalid settings")

// Settings is the whole configuration file.
type Settings struct {
	Window     Window     `yaml:"window"`
	Log        Log        `yaml:"log"`
	Shaders    Shaders    `yaml:"shaders"`
	Simulation Simulation `yaml:"simulation"`
	GPU        GPU        `yaml:"gpu"`
	Output     Output     `yaml:"output"`
	Metrics    Listener   `yaml:"metrics"`
	Telemetry  Listener   `yaml:"telemetry"`
}

type Window struct {
	Width  uint32 `yaml:"width"`
	Height uint32 `yaml:"height"`
}

type Log struct {
	Level string `yaml:"level"`
}

// Shaders maps module names to replacement WGSL files.
type Shaders struct {
	Overrides map[string]string `yaml:"overrides"`
}

type Simulation struct {
	Type      string    `yaml:"type"`
	Grid      Grid      `yaml:"grid"`
	Fluid     Fluid     `yaml:"fluid"`
	Particles Particles `yaml:"particles"`
	GridFluid GridFluid `yaml:"grid_fluid"`
	Coupling  Coupling  `yaml:"coupling"`
}

type Grid struct {
	Size     [3]uint32  `yaml:"size"`
	Origin   [3]float32 `yaml:"origin"`
	CellSize float32    `yaml:"cell_size"`
}

type Fluid struct {
	RestDensity      float32    `yaml:"rest_density"`
	ParticleMass     float32    `yaml:"particle_mass"`
	Viscosity        float32    `yaml:"viscosity"`
	GasStiffness     float32    `yaml:"gas_stiffness"`
	Heat             float32    `yaml:"heat"`
	SurfaceTension   float32    `yaml:"surface_tension"`
	SurfaceThreshold float32    `yaml:"surface_threshold"`
	Timestep         float32    `yaml:"timestep"`
	Gravity          [3]float32 `yaml:"gravity"`
	SupportRadius    float32    `yaml:"support_radius"`
}

type Particles struct {
	Dataset string   `yaml:"dataset"`
	Volumes []Volume `yaml:"volumes"`
}

type Volume struct {
	Min     [3]float32 `yaml:"min"`
	Max     [3]float32 `yaml:"max"`
	Spacing float32    `yaml:"spacing"`
}

type GridFluid struct {
	Diffusion  float32 `yaml:"diffusion"`
	Viscosity  float32 `yaml:"viscosity"`
	Iterations int     `yaml:"iterations"`
}

type Coupling struct {
	Interval         int     `yaml:"interval"`
	Drag             float32 `yaml:"drag"`
	MomentumTransfer float32 `yaml:"momentum_transfer"`
	HeatTransfer     float32 `yaml:"heat_transfer"`
	Saturation       float64 `yaml:"saturation"`
}

type GPU struct {
	FenceTimeout time.Duration `yaml:"fence_timeout"`
}

type Output struct {
	ToFile    bool    `yaml:"to_file"`
	Path      string  `yaml:"path"`
	Format    string  `yaml:"format"`
	FrameRate float64 `yaml:"frame_rate"`
}

// Listener is an optional HTTP listen address. Empty disables it.
type Listener struct {
	Addr string `yaml:"addr"`
}

// Default returns the settings used for every key the file leaves out.
func Default() Settings {
	f := sim.DefaultFluid()
	return Settings{
		Window: Window{Width: 1280, Height: 720},
		Log:    Log{Level: "info"},
		Simulation: Simulation{
			Type: TypeCoupled,
			Grid: Grid{Size: [3]uint32{8, 8, 8}, CellSize: 0.1},
			Fluid: Fluid{
				RestDensity:      f.RestDensity,
				ParticleMass:     f.ParticleMass,
				Viscosity:        f.Viscosity,
				GasStiffness:     f.GasStiffness,
				Heat:             f.Heat,
				SurfaceTension:   f.SurfaceTension,
				SurfaceThreshold: f.SurfaceThreshold,
				Timestep:         f.Timestep,
				Gravity:          f.Gravity,
			},
			Particles: Particles{Volumes: []Volume{{
				Min:     [3]float32{0.1, 0.1, 0.1},
				Max:     [3]float32{0.4, 0.6, 0.4},
				Spacing: 0.03,
			}}},
			GridFluid: GridFluid{Diffusion: 0.0001, Viscosity: 0.0001, Iterations: 20},
			Coupling:  Coupling{Interval: 4, Drag: 0.5, MomentumTransfer: 0.5, HeatTransfer: 1, Saturation: 0.85},
		},
		GPU:    GPU{FenceTimeout: 5 * time.Second},
		Output: Output{Path: "frames", Format: "bmp", FrameRate: 60},
	}
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// keys are errors.
func Parse(r io.Reader) (Settings, error) {
	s := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return Settings{}, fmt.Errorf("config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Load reads and parses the file at path.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("config: %w", err)
	}
	s, err := Parse(bytes.NewReader(data))
	if err != nil {
		return Settings{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate reports the first setting the simulation cannot run with.
func (s Settings) Validate() error {
	if s.Window.Width == 0 || s.Window.Height == 0 {
		return invalid("window size %dx%d", s.Window.Width, s.Window.Height)
	}
	if _, err := s.LogLevel(); err != nil {
		return err
	}
	sm := s.Simulation
	switch sm.Type {
	case TypeSPH, TypeGrid, TypeCoupled:
	default:
		return invalid("simulation type %q", sm.Type)
	}
	for a, n := range sm.Grid.Size {
		if n == 0 {
			return invalid("grid size axis %d is zero", a)
		}
	}
	if !(sm.Grid.CellSize > 0) {
		return invalid("grid cell_size %v", sm.Grid.CellSize)
	}
	if !(sm.Fluid.Timestep > 0) {
		return invalid("timestep %v", sm.Fluid.Timestep)
	}
	if !(sm.Fluid.ParticleMass > 0) || !(sm.Fluid.RestDensity > 0) {
		return invalid("particle_mass %v and rest_density %v must be positive",
			sm.Fluid.ParticleMass, sm.Fluid.RestDensity)
	}
	if sm.Fluid.SupportRadius > sm.Grid.CellSize {
		return invalid("support_radius %v exceeds cell_size %v", sm.Fluid.SupportRadius, sm.Grid.CellSize)
	}
	if sm.Particles.Dataset == "" {
		if len(sm.Particles.Volumes) == 0 {
			return invalid("particles need a dataset or at least one volume")
		}
		for i, v := range sm.Particles.Volumes {
			if err := v.volume().Validate(); err != nil {
				return invalid("volume %d: %v", i, err)
			}
		}
	}
	if sm.GridFluid.Iterations < 0 {
		return invalid("grid_fluid iterations %d", sm.GridFluid.Iterations)
	}
	if sm.Coupling.Interval < 1 {
		return invalid("coupling interval %d", sm.Coupling.Interval)
	}
	if s.GPU.FenceTimeout < 0 {
		return invalid("fence_timeout %v", s.GPU.FenceTimeout)
	}
	if s.Output.ToFile {
		switch s.Output.Format {
		case "bmp", "tiff":
		default:
			return invalid("output format %q", s.Output.Format)
		}
		if s.Output.Path == "" {
			return invalid("output path is empty")
		}
	}
	return nil
}

// LogLevel parses Log.Level.
func (s Settings) LogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s.Log.Level)); err != nil {
		return 0, invalid("log level %q", s.Log.Level)
	}
	return l, nil
}

// SimGrid returns the simulation grid.
func (s Settings) SimGrid() sim.Grid {
	g := s.Simulation.Grid
	return sim.Grid{Size: g.Size, Origin: g.Origin, CellSize: g.CellSize}
}

// SimFluid returns the SPH constants.
func (s Settings) SimFluid() sim.Fluid {
	f := s.Simulation.Fluid
	return sim.Fluid{
		RestDensity:      f.RestDensity,
		ParticleMass:     f.ParticleMass,
		Viscosity:        f.Viscosity,
		GasStiffness:     f.GasStiffness,
		Heat:             f.Heat,
		SurfaceTension:   f.SurfaceTension,
		SurfaceThreshold: f.SurfaceThreshold,
		Timestep:         f.Timestep,
		Gravity:          f.Gravity,
		SupportRadius:    f.SupportRadius,
	}
}

// SimSource returns where the initial particles come from.
func (s Settings) SimSource() sim.Source {
	p := s.Simulation.Particles
	src := sim.Source{Dataset: p.Dataset}
	for _, v := range p.Volumes {
		src.Volumes = append(src.Volumes, v.volume())
	}
	return src
}

func (v Volume) volume() sim.Volume {
	return sim.Volume{Min: v.Min, Max: v.Max, Spacing: v.Spacing}
}
