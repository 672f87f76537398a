// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"math"
	"testing"
)

func TestIcosphere(t *testing.T) {
	tests := []struct {
		n             int
		verts, triIdx int
	}{
		{0, 12, 60},
		{1, 42, 240},
		{2, 162, 960},
		{9, 2562, 15360},
	}
	for _, tt := range tests {
		m := Icosphere(tt.n)
		if len(m.Vertices) != tt.verts || len(m.Indices) != tt.triIdx {
			t.Errorf("Icosphere(%d): %d vertices %d indices, want %d %d",
				tt.n, len(m.Vertices), len(m.Indices), tt.verts, tt.triIdx)
		}
		for i, v := range m.Vertices {
			l := math.Sqrt(float64(v[0]*v[0] + v[1]*v[1] + v[2]*v[2]))
			if math.Abs(l-1) > 1e-5 {
				t.Fatalf("Icosphere(%d) vertex %d has length %g", tt.n, i, l)
			}
		}
		for _, idx := range m.Indices {
			if int(idx) >= len(m.Vertices) {
				t.Fatalf("Icosphere(%d) index %d out of range", tt.n, idx)
			}
		}
	}
}

func TestBoxEdges(t *testing.T) {
	m := Box()
	if len(m.Vertices) != 8 || len(m.Indices) != 24 {
		t.Fatalf("Box: %d vertices %d indices", len(m.Vertices), len(m.Indices))
	}
	for e := 0; e < len(m.Indices); e += 2 {
		a, b := m.Vertices[m.Indices[e]], m.Vertices[m.Indices[e+1]]
		var diff int
		for c := range 3 {
			if a[c] != b[c] {
				diff++
			}
		}
		if diff != 1 {
			t.Errorf("edge %v-%v is not axis aligned", a, b)
		}
	}
}

func TestProceduralLoader(t *testing.T) {
	var l MeshLoader = ProceduralLoader{Subdivisions: 1}
	if m, err := l.Load(MeshIcosphere); err != nil || len(m.Vertices) != 42 {
		t.Errorf("Load(icosphere) = %d vertices, %v", len(m.Vertices), err)
	}
	if _, err := l.Load("teapot.obj"); err == nil {
		t.Error("Load accepted an unknown mesh")
	}
	if n := len(Box().IndexBytes()); n%4 != 0 {
		t.Errorf("IndexBytes length %d is not 4-aligned", n)
	}
}
