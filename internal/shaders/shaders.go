// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package shaders embeds the WGSL sources of every simulation and render
// stage and resolves per-module file overrides.
package shaders

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
)

// Module names.
const (
	Sort      = "sort"
	Grid      = "grid"
	SPH       = "sph"
	GridFluid = "gridfluid"
	Coupling  = "coupling"
	Render    = "render"
)

//go:embed common.wgsl
var commonSource string

//go:embed sort.wgsl
var sortSource string

//go:embed grid.wgsl
var gridSource string

//go:embed sph.wgsl
var sphSource string

//go:embed gridfluid.wgsl
var gridFluidSource string

//go:embed coupling.wgsl
var couplingSource string

//go:embed render.wgsl
var renderSource string

type module struct {
	source string
	// common prepends the shared particle records.
	common bool
}

var modules = map[string]module{
	Sort:      {source: sortSource},
	Grid:      {source: gridSource, common: true},
	SPH:       {source: sphSource, common: true},
	GridFluid: {source: gridFluidSource},
	Coupling:  {source: couplingSource, common: true},
	Render:    {source: renderSource, common: true},
}

// Names returns every module name in sorted order.
func Names() []string {
	names := make([]string, 0, len(modules))
	for n := range modules {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Source returns the embedded source of module name, with the shared
// records prepended where the module uses them.
func Source(name string) (string, error) {
	m, ok := modules[name]
	if !ok {
		return "", fmt.Errorf("shaders: unknown module %q", name)
	}
	return assemble(m, m.source), nil
}

func assemble(m module, body string) string {
	if !m.common {
		return body
	}
	return commonSource + "\n" + body
}

// Loader resolves module sources, reading replacement files for the
// modules named in Overrides. Override files get the same shared records
// prepended as the embedded sources.
type Loader struct {
	Overrides map[string]string
}

// Load returns the source of module name.
func (l Loader) Load(name string) (string, error) {
	m, ok := modules[name]
	if !ok {
		return "", fmt.Errorf("shaders: unknown module %q", name)
	}
	path, ok := l.Overrides[name]
	if !ok || path == "" {
		return assemble(m, m.source), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("shaders: override %s: %w", name, err)
	}
	return assemble(m, string(data)), nil
}

// Validate reports override entries naming unknown modules.
func (l Loader) Validate() error {
	for name := range l.Overrides {
		if _, ok := modules[name]; !ok {
			return fmt.Errorf("shaders: override for unknown module %q", name)
		}
	}
	return nil
}
