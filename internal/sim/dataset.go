// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package sim

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ParseError reports a malformed dataset line.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("sim: dataset line %d: %s", e.Line, e.Msg)
}

// Unwrap lets callers match ErrDatasetSyntax.
func (e *ParseError) Unwrap() error { return ErrDatasetSyntax }

// LoadDataset reads particles from r. Each non-empty line holds
// "x y z" or "x y z vx vy vz"; '#' starts a comment.
func LoadDataset(r io.Reader) ([]Particle, error) {
	var out []Particle
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 3 && len(fields) != 6 {
			return nil, &ParseError{Line: line, Msg: fmt.Sprintf("want 3 or 6 numbers, got %d", len(fields))}
		}
		var vals [6]float32
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 32)
			if err != nil {
				return nil, &ParseError{Line: line, Msg: fmt.Sprintf("field %d: %q is not a number", i+1, f)}
			}
			vals[i] = float32(v)
		}
		out = append(out, NewParticle(
			[3]float32{vals[0], vals[1], vals[2]},
			[3]float32{vals[3], vals[4], vals[5]}))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("sim: read dataset: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrNoParticles
	}
	return out, nil
}

// LoadDatasetFile reads a dataset from path.
func LoadDatasetFile(path string) ([]Particle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sim: open dataset: %w", err)
	}
	defer f.Close()
	ps, err := LoadDataset(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ps, nil
}

// Source selects where the initial particles come from: a dataset file
// when Dataset is set, otherwise the fill volumes.
type Source struct {
	Dataset string
	Volumes []Volume
}

// Load returns the initial particle snapshot for g. Dataset particles are
// clamped into the grid like filled ones.
func (s Source) Load(g Grid) ([]Particle, error) {
	if s.Dataset == "" {
		return Fill(s.Volumes, g)
	}
	ps, err := LoadDatasetFile(s.Dataset)
	if err != nil {
		return nil, err
	}
	lo, hi := g.Origin, g.Max()
	for i := range ps {
		for a := range 3 {
			ps[i].Position[a] = clampf(ps[i].Position[a], lo[a], hi[a])
		}
	}
	return ps, nil
}
