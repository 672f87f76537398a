// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package metrics_test

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gogpu/fluidsim/internal/coupling"
	"github.com/gogpu/fluidsim/internal/frame"
	"github.com/gogpu/fluidsim/internal/gpu"
	"github.com/gogpu/fluidsim/internal/metrics"
	"github.com/gogpu/fluidsim/internal/sim"
	"github.com/gogpu/fluidsim/internal/sorter"
)

var (
	_ frame.Observer    = (*metrics.Collector)(nil)
	_ gpu.StageObserver = (*metrics.Collector)(nil)
	_ sorter.Observer   = (*metrics.Collector)(nil)
)

func gather(t *testing.T, c *metrics.Collector) string {
	t.Helper()
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestFrameCountersFollowSnapshots(t *testing.T) {
	c := metrics.New()
	c.FrameCompleted(frame.Stats{Frames: 3, Ticks: 2, Particles: 100, State: frame.Running, LastTick: time.Millisecond})
	c.FrameCompleted(frame.Stats{Frames: 5, Ticks: 4, Skipped: 1, Particles: 100, State: frame.Running,
		Coupled: true, Occupancy: coupling.Occupancy{Fraction: 0.5, MaxPerCell: 7}})

	body := gather(t, c)
	for _, want := range []string{
		"fluidsim_frames_total 5",
		"fluidsim_ticks_total 4",
		"fluidsim_skipped_frames_total 1",
		"fluidsim_particles 100",
		"fluidsim_occupied_cell_fraction 0.5",
		"fluidsim_max_particles_per_cell 7",
		`fluidsim_state{state="running",type="sph"} 1`,
		"fluidsim_tick_seconds_count 2",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestNewDriverRestartsCounting(t *testing.T) {
	c := metrics.New()
	c.FrameCompleted(frame.Stats{Frames: 10})
	c.FrameCompleted(frame.Stats{Frames: 2})
	if body := gather(t, c); !strings.Contains(body, "fluidsim_frames_total 12") {
		t.Errorf("frames after restart:\n%s", body)
	}
}

func TestStageAndSortTimings(t *testing.T) {
	c := metrics.New()
	c.StageCompleted("sph.force", 2*time.Millisecond, nil)
	c.StageCompleted("sph.force", time.Millisecond, errors.New("boom"))
	c.PassCompleted(sim.PassScatter, time.Millisecond)

	n, err := testutil.GatherAndCount(c.Registry(), "fluidsim_stage_seconds")
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if n != 1 {
		t.Errorf("%d stage series, want 1", n)
	}
	body := gather(t, c)
	for _, want := range []string{
		`fluidsim_stage_seconds_count{stage="sph.force"} 2`,
		`fluidsim_stage_errors_total{stage="sph.force"} 1`,
		`fluidsim_sort_pass_seconds_count{pass="scatter"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestCollectorsAreIndependent(t *testing.T) {
	a, b := metrics.New(), metrics.New()
	a.FrameCompleted(frame.Stats{Frames: 1})
	if body := gather(t, b); strings.Contains(body, "fluidsim_frames_total 1") {
		t.Error("second collector saw the first one's frames")
	}
}
