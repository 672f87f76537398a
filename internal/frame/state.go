// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package frame

import "fmt"

// State says whether a frame advances the simulation.
type State int

const (
	// Idle renders without simulating.
	Idle State = iota
	// Running simulates one tick per frame.
	Running
	// SingleStep simulates one tick and then becomes Idle.
	SingleStep
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case SingleStep:
		return "singleStep"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// SimulationType selects which solvers a tick runs.
type SimulationType int

const (
	// SPH runs the grid build and the particle solver.
	SPH SimulationType = iota
	// Grid runs the grid-fluid solver alone.
	Grid
	// Coupled runs both solvers and the exchange between them.
	Coupled
	numSimulationTypes
)

func (t SimulationType) String() string {
	switch t {
	case SPH:
		return "sph"
	case Grid:
		return "grid"
	case Coupled:
		return "coupled"
	default:
		return fmt.Sprintf("SimulationType(%d)", int(t))
	}
}

// ParseSimulationType returns the type named s.
func ParseSimulationType(s string) (SimulationType, error) {
	for t := range numSimulationTypes {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("frame: unknown simulation type %q", s)
}

// MarshalText encodes s by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// MarshalText encodes t by name.
func (t SimulationType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }
