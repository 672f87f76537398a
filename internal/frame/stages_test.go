// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package frame

import (
	"slices"
	"testing"
)

func TestParticleStageHazards(t *testing.T) {
	stages := (&Simulation{}).particleStages()
	writes := make(map[string][]string, len(stages))
	for _, st := range stages {
		writes[st.Name] = st.Writes
	}

	// The cell_ids dispatch writes particles[i].cell, which every SPH step
	// reads for its neighbor search.
	if !slices.Contains(writes["grid"], bufParticles) {
		t.Errorf("grid writes %v, want %q among them", writes["grid"], bufParticles)
	}
	for _, name := range []string{"sph.massDensity", "sph.force", "sph.advect"} {
		if !slices.Contains(writes[name], bufParticles) {
			t.Errorf("%s writes %v, want %q among them", name, writes[name], bufParticles)
		}
	}
}
