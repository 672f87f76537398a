// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// StageContext carries a stage's synchronization for one execution.
type StageContext struct {
	// Wait must be passed to the stage's first submission.
	Wait []*Semaphore

	// Signal must be signaled by the stage's last submission.
	Signal *Semaphore
}

// Stage is one node of a Graph.
type Stage struct {
	Name string

	// Reads and Writes name the buffers the stage touches. Ordering edges
	// are inferred from them in insertion order: read-after-write,
	// write-after-write and write-after-read.
	Reads  []string
	Writes []string

	// After adds explicit ordering edges.
	After []string

	Run func(ctx context.Context, sc *StageContext) error
}

// StageObserver is told how long each stage took to record and submit.
type StageObserver interface {
	StageCompleted(name string, d time.Duration, err error)
}

// Graph orders stages by their declared buffer hazards and chains them
// with semaphores from the device pool.
type Graph struct {
	dev    *Device
	stages []Stage
	index  map[string]int

	order []int
	succ  [][]int
	pred  [][]int
	dirty bool

	observer StageObserver
}

// NewGraph creates an empty graph on d.
func NewGraph(d *Device) *Graph {
	return &Graph{dev: d, index: make(map[string]int)}
}

// SetObserver installs o. May be nil.
func (g *Graph) SetObserver(o StageObserver) { g.observer = o }

// Add appends a stage.
func (g *Graph) Add(s Stage) error {
	if _, ok := g.index[s.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateStage, s.Name)
	}
	if s.Run == nil {
		return fmt.Errorf("gpu: stage %s has no Run function", s.Name)
	}
	g.index[s.Name] = len(g.stages)
	g.stages = append(g.stages, s)
	g.dirty = true
	return nil
}

// Len returns the number of stages.
func (g *Graph) Len() int { return len(g.stages) }

// Order returns stage names in submission order.
func (g *Graph) Order() ([]string, error) {
	if err := g.compile(); err != nil {
		return nil, err
	}
	names := make([]string, len(g.order))
	for i, n := range g.order {
		names[i] = g.stages[n].Name
	}
	return names, nil
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		if slices.Contains(b, x) {
			return true
		}
	}
	return false
}

func (g *Graph) compile() error {
	if !g.dirty && g.order != nil {
		return nil
	}
	n := len(g.stages)
	succ := make([][]int, n)
	pred := make([][]int, n)
	addEdge := func(from, to int) {
		if from == to || slices.Contains(succ[from], to) {
			return
		}
		succ[from] = append(succ[from], to)
		pred[to] = append(pred[to], from)
	}

	for j := range g.stages {
		sj := &g.stages[j]
		for i := 0; i < j; i++ {
			si := &g.stages[i]
			if overlaps(si.Writes, sj.Reads) || overlaps(si.Writes, sj.Writes) || overlaps(si.Reads, sj.Writes) {
				addEdge(i, j)
			}
		}
		for _, name := range sj.After {
			i, ok := g.index[name]
			if !ok {
				return fmt.Errorf("%w: %s (after of %s)", ErrUnknownStage, name, sj.Name)
			}
			addEdge(i, j)
		}
	}

	// Kahn's algorithm; ties go to the earliest inserted stage.
	indeg := make([]int, n)
	for j := range pred {
		indeg[j] = len(pred[j])
	}
	var ready, order []int
	for j := range n {
		if indeg[j] == 0 {
			ready = append(ready, j)
		}
	}
	for len(ready) > 0 {
		slices.Sort(ready)
		cur := ready[0]
		ready = ready[1:]
		order = append(order, cur)
		for _, s := range succ[cur] {
			indeg[s]--
			if indeg[s] == 0 {
				ready = append(ready, s)
			}
		}
	}
	if len(order) != n {
		var stuck []string
		for j := range n {
			if indeg[j] > 0 {
				stuck = append(stuck, g.stages[j].Name)
			}
		}
		return fmt.Errorf("%w: %v", ErrGraphCycle, stuck)
	}

	// External waits are handed to the first stage only. Every other root
	// is ordered after it so the waits gate the whole graph.
	for _, j := range order[min(1, n):] {
		if len(pred[j]) == 0 {
			addEdge(order[0], j)
		}
	}

	g.order, g.succ, g.pred = order, succ, pred
	g.dirty = false
	return nil
}

// Execute runs every stage in order. external semaphores gate the first
// stage. The returned semaphores are signaled by the leaf stages and must
// be waited on, or released, by the caller.
func (g *Graph) Execute(ctx context.Context, external []*Semaphore) ([]*Semaphore, error) {
	if err := g.compile(); err != nil {
		return nil, err
	}
	if len(g.order) == 0 {
		return external, nil
	}

	pool := g.dev.semaphores
	q := g.dev.queues[RoleCompute]

	// incoming[j] holds the semaphores stage j waits on.
	incoming := make([][]*Semaphore, len(g.stages))
	incoming[g.order[0]] = append(incoming[g.order[0]], external...)

	var leaves []*Semaphore
	abandon := func() {
		for _, ws := range incoming {
			for _, s := range ws {
				if s.Signaled() {
					s.Release()
				}
			}
		}
		for _, s := range leaves {
			s.Release()
		}
	}

	for _, j := range g.order {
		st := &g.stages[j]
		sc := &StageContext{Wait: incoming[j], Signal: pool.Get(st.Name)}
		incoming[j] = nil

		start := time.Now()
		err := st.Run(ctx, sc)
		if err == nil && !sc.Signal.Signaled() {
			err = fmt.Errorf("%w: %s", ErrStageNotSignaled, st.Name)
		}
		if g.observer != nil {
			g.observer.StageCompleted(st.Name, time.Since(start), err)
		}
		if err != nil {
			for _, s := range sc.Wait {
				if s.Signaled() {
					s.Release()
				}
			}
			sc.Signal.Release()
			abandon()
			return nil, fmt.Errorf("gpu: stage %s: %w", st.Name, err)
		}

		switch succ := g.succ[j]; len(succ) {
		case 0:
			leaves = append(leaves, sc.Signal)
		case 1:
			incoming[succ[0]] = append(incoming[succ[0]], sc.Signal)
		default:
			// A binary semaphore has one consumer; fan out through an
			// empty submission that signals one semaphore per successor.
			outs := make([]*Semaphore, len(succ))
			for k, s := range succ {
				outs[k] = pool.Get(st.Name + "->" + g.stages[s].Name)
			}
			if _, err := q.Submit(ctx, Submission{
				Label:  st.Name + ".fanout",
				Wait:   []*Semaphore{sc.Signal},
				Signal: outs,
			}); err != nil {
				sc.Signal.Release()
				for _, o := range outs {
					o.Release()
				}
				abandon()
				return nil, fmt.Errorf("gpu: stage %s: %w", st.Name, err)
			}
			for k, s := range succ {
				incoming[s] = append(incoming[s], outs[k])
			}
		}
	}
	return leaves, nil
}
