// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/gogpu/fluidsim/internal/gpu"
	"github.com/gogpu/fluidsim/internal/gpu/gputest"
)

// submitStage returns a Run function that makes one empty submission
// honoring the stage context.
func submitStage(d *gpu.Device, label string) func(context.Context, *gpu.StageContext) error {
	return func(ctx context.Context, sc *gpu.StageContext) error {
		_, err := d.Queue(gpu.RoleCompute).Submit(ctx, gpu.Submission{
			Label:  label,
			Wait:   sc.Wait,
			Signal: []*gpu.Semaphore{sc.Signal},
		})
		return err
	}
}

func TestGraphOrder(t *testing.T) {
	d, _ := newDevice(t)

	tests := []struct {
		name   string
		stages []gpu.Stage
		want   []string
	}{
		{
			name: "read after write",
			stages: []gpu.Stage{
				{Name: "sort", Writes: []string{"particles"}},
				{Name: "density", Reads: []string{"particles"}, Writes: []string{"density"}},
				{Name: "force", Reads: []string{"particles", "density"}, Writes: []string{"particles"}},
			},
			want: []string{"sort", "density", "force"},
		},
		{
			name: "independent keeps insertion order",
			stages: []gpu.Stage{
				{Name: "a", Writes: []string{"x"}},
				{Name: "b", Writes: []string{"y"}},
				{Name: "c", Writes: []string{"z"}},
			},
			want: []string{"a", "b", "c"},
		},
		{
			name: "explicit after",
			stages: []gpu.Stage{
				{Name: "render", After: []string{"sim"}},
				{Name: "sim", Writes: []string{"particles"}},
			},
			want: []string{"sim", "render"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := gpu.NewGraph(d)
			for _, s := range tt.stages {
				s.Run = submitStage(d, s.Name)
				if err := g.Add(s); err != nil {
					t.Fatalf("Add(%s): %v", s.Name, err)
				}
			}
			got, err := g.Order()
			if err != nil {
				t.Fatalf("Order: %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("Order() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGraphErrors(t *testing.T) {
	d, _ := newDevice(t)
	run := submitStage(d, "x")

	g := gpu.NewGraph(d)
	if err := g.Add(gpu.Stage{Name: "a", Run: run}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := g.Add(gpu.Stage{Name: "a", Run: run}); !errors.Is(err, gpu.ErrDuplicateStage) {
		t.Errorf("duplicate Add error = %v, want ErrDuplicateStage", err)
	}
	if err := g.Add(gpu.Stage{Name: "norun"}); err == nil {
		t.Error("Add without Run succeeded")
	}

	unknown := gpu.NewGraph(d)
	_ = unknown.Add(gpu.Stage{Name: "a", After: []string{"ghost"}, Run: run})
	if _, err := unknown.Order(); !errors.Is(err, gpu.ErrUnknownStage) {
		t.Errorf("Order error = %v, want ErrUnknownStage", err)
	}

	cycle := gpu.NewGraph(d)
	_ = cycle.Add(gpu.Stage{Name: "a", After: []string{"b"}, Run: run})
	_ = cycle.Add(gpu.Stage{Name: "b", After: []string{"a"}, Run: run})
	if _, err := cycle.Execute(context.Background(), nil); !errors.Is(err, gpu.ErrGraphCycle) {
		t.Errorf("Execute error = %v, want ErrGraphCycle", err)
	}
}

type observed struct {
	names []string
}

func (o *observed) StageCompleted(name string, _ time.Duration, _ error) {
	o.names = append(o.names, name)
}

func TestGraphExecuteChainsSemaphores(t *testing.T) {
	ctx := context.Background()
	rec := &gputest.Recorder{}
	emu := gputest.New()
	d := emu.Open(gpu.Options{Tracer: rec})
	defer d.Close()

	g := gpu.NewGraph(d)
	obs := &observed{}
	g.SetObserver(obs)
	for _, s := range []gpu.Stage{
		{Name: "sort", Writes: []string{"particles"}},
		{Name: "density", Reads: []string{"particles"}, Writes: []string{"density"}},
		{Name: "render", Reads: []string{"particles"}},
		{Name: "force", Reads: []string{"density"}, Writes: []string{"particles"}},
	} {
		s.Run = submitStage(d, s.Name)
		if err := g.Add(s); err != nil {
			t.Fatalf("Add(%s): %v", s.Name, err)
		}
	}

	acquire := d.Semaphores().Get("acquire")
	if err := acquire.SignalFromHost(d.Queue(gpu.RolePresent)); err != nil {
		t.Fatalf("SignalFromHost: %v", err)
	}

	leaves, err := g.Execute(ctx, []*gpu.Semaphore{acquire})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(leaves) != 1 || leaves[0].Name() != "force" {
		names := make([]string, len(leaves))
		for i, l := range leaves {
			names[i] = l.Name()
		}
		t.Fatalf("leaves = %v, want [force]", names)
	}
	if !slices.Equal(obs.names, []string{"sort", "density", "render", "force"}) {
		t.Errorf("observer saw %v", obs.names)
	}

	// Every wait names a semaphore some earlier submission signaled.
	signaled := map[string]bool{"acquire": true}
	for _, ev := range rec.Events() {
		for _, w := range ev.Waits {
			if !signaled[w] {
				t.Errorf("%s waits on %s before it was signaled", ev.Label, w)
			}
		}
		for _, s := range ev.Signals {
			signaled[s] = true
		}
	}

	// sort fans out to density and render.
	if !slices.Contains(rec.Labels(), "sort.fanout") {
		t.Errorf("no fan-out submission in %v", rec.Labels())
	}

	for _, l := range leaves {
		l.Release()
	}
	if live := d.Semaphores().Live(); live != 0 {
		t.Errorf("%d semaphores still live after releasing leaves", live)
	}
}

func TestGraphStageMustSignal(t *testing.T) {
	d, _ := newDevice(t)
	g := gpu.NewGraph(d)
	_ = g.Add(gpu.Stage{Name: "lazy", Run: func(context.Context, *gpu.StageContext) error { return nil }})

	_, err := g.Execute(context.Background(), nil)
	if !errors.Is(err, gpu.ErrStageNotSignaled) {
		t.Fatalf("Execute error = %v, want ErrStageNotSignaled", err)
	}
	if live := d.Semaphores().Live(); live != 0 {
		t.Errorf("%d semaphores leaked after failed execute", live)
	}
}
