// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"fmt"
	"math"
)

// Built-in mesh names understood by ProceduralLoader.
const (
	MeshIcosphere = "icosphere"
	MeshBox       = "box"
)

// Mesh is an indexed vertex list. Particle meshes are triangle lists around
// the origin with unit radius; the box mesh is a line list over [0,1]^3.
type Mesh struct {
	Vertices [][3]float32
	Indices  []uint16
}

// VertexBytes returns the vertices packed as float32x3.
func (m Mesh) VertexBytes() []byte {
	out := make([]byte, 0, len(m.Vertices)*12)
	for _, v := range m.Vertices {
		for _, c := range v {
			b := math.Float32bits(c)
			out = append(out, byte(b), byte(b>>8), byte(b>>16), byte(b>>24))
		}
	}
	return out
}

// IndexBytes returns the indices packed as uint16, padded to 4 bytes.
func (m Mesh) IndexBytes() []byte {
	out := make([]byte, 0, len(m.Indices)*2+2)
	for _, i := range m.Indices {
		out = append(out, byte(i), byte(i>>8))
	}
	if len(out)%4 != 0 {
		out = append(out, 0, 0)
	}
	return out
}

// MeshLoader resolves a mesh path.
type MeshLoader interface {
	Load(path string) (Mesh, error)
}

// ProceduralLoader builds the built-in meshes. Subdivisions applies to
// the icosphere.
type ProceduralLoader struct {
	Subdivisions int
}

// Load returns the built-in mesh named path.
func (l ProceduralLoader) Load(path string) (Mesh, error) {
	switch path {
	case MeshIcosphere:
		return Icosphere(l.Subdivisions), nil
	case MeshBox:
		return Box(), nil
	}
	return Mesh{}, fmt.Errorf("render: unknown mesh %q", path)
}

// Icosphere returns a unit sphere made by subdividing an icosahedron n
// times. n is clamped to [0, 4] so the indices fit in uint16.
func Icosphere(n int) Mesh {
	n = max(0, min(n, 4))
	t := float32((1 + math.Sqrt(5)) / 2)
	m := Mesh{
		Vertices: [][3]float32{
			{-1, t, 0}, {1, t, 0}, {-1, -t, 0}, {1, -t, 0},
			{0, -1, t}, {0, 1, t}, {0, -1, -t}, {0, 1, -t},
			{t, 0, -1}, {t, 0, 1}, {-t, 0, -1}, {-t, 0, 1},
		},
		Indices: []uint16{
			0, 11, 5, 0, 5, 1, 0, 1, 7, 0, 7, 10, 0, 10, 11,
			1, 5, 9, 5, 11, 4, 11, 10, 2, 10, 7, 6, 7, 1, 8,
			3, 9, 4, 3, 4, 2, 3, 2, 6, 3, 6, 8, 3, 8, 9,
			4, 9, 5, 2, 4, 11, 6, 2, 10, 8, 6, 7, 9, 8, 1,
		},
	}
	for i := range m.Vertices {
		m.Vertices[i] = normalize(m.Vertices[i])
	}
	for range n {
		m = subdivide(m)
	}
	return m
}

func subdivide(m Mesh) Mesh {
	mid := make(map[[2]uint16]uint16)
	verts := append([][3]float32(nil), m.Vertices...)
	midpoint := func(a, b uint16) uint16 {
		key := [2]uint16{min(a, b), max(a, b)}
		if i, ok := mid[key]; ok {
			return i
		}
		va, vb := verts[a], verts[b]
		verts = append(verts, normalize([3]float32{va[0] + vb[0], va[1] + vb[1], va[2] + vb[2]}))
		i := uint16(len(verts) - 1)
		mid[key] = i
		return i
	}
	idx := make([]uint16, 0, len(m.Indices)*4)
	for f := 0; f+2 < len(m.Indices); f += 3 {
		a, b, c := m.Indices[f], m.Indices[f+1], m.Indices[f+2]
		ab, bc, ca := midpoint(a, b), midpoint(b, c), midpoint(c, a)
		idx = append(idx,
			a, ab, ca,
			b, bc, ab,
			c, ca, bc,
			ab, bc, ca)
	}
	return Mesh{Vertices: verts, Indices: idx}
}

func normalize(v [3]float32) [3]float32 {
	l := float32(math.Sqrt(float64(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])))
	if l == 0 {
		return v
	}
	return [3]float32{v[0] / l, v[1] / l, v[2] / l}
}

// Box returns the 12 edges of the unit cube as a line list.
func Box() Mesh {
	m := Mesh{Vertices: make([][3]float32, 8)}
	for i := range 8 {
		m.Vertices[i] = [3]float32{float32(i & 1), float32(i >> 1 & 1), float32(i >> 2 & 1)}
	}
	for i := range uint16(8) {
		for _, bit := range []uint16{1, 2, 4} {
			if i&bit == 0 {
				m.Indices = append(m.Indices, i, i|bit)
			}
		}
	}
	return m
}
