// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package metrics exports frame, tick, stage and sort timings to Prometheus.
//
// A Collector owns its registry, so several viewers in one process (or
// tests) never collide on metric names.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gogpu/fluidsim/internal/frame"
	"github.com/gogpu/fluidsim/internal/sim"
)

const namespace = "fluidsim"

// stageBuckets cover host recording times from 10µs to about 80ms.
var stageBuckets = prometheus.ExponentialBuckets(10e-6, 2, 14)

// Collector implements frame.Observer, gpu.StageObserver and
// sorter.Observer.
type Collector struct {
	reg *prometheus.Registry

	frames  prometheus.Counter
	ticks   prometheus.Counter
	skipped prometheus.Counter

	tickSeconds  prometheus.Histogram
	stageSeconds *prometheus.HistogramVec
	stageErrors  *prometheus.CounterVec
	sortSeconds  *prometheus.HistogramVec

	particles  prometheus.Gauge
	occupied   prometheus.Gauge
	maxPerCell prometheus.Gauge
	state      *prometheus.GaugeVec

	mu   sync.Mutex
	last frame.Stats
}

// New creates a collector with a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Collector{
		reg: reg,
		frames: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Frames presented.",
		}),
		ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Simulation ticks submitted.",
		}),
		skipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_frames_total",
			Help:      "Frames skipped to rebuild an out-of-date target.",
		}),
		tickSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_seconds",
			Help:      "Host time spent recording and submitting one tick.",
			Buckets:   stageBuckets,
		}),
		stageSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_seconds",
			Help:      "Host time spent in one tick graph stage.",
			Buckets:   stageBuckets,
		}, []string{"stage"}),
		stageErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_errors_total",
			Help:      "Tick graph stages that failed.",
		}, []string{"stage"}),
		sortSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sort_pass_seconds",
			Help:      "Wall time of one radix sort pass, including its fence wait.",
			Buckets:   stageBuckets,
		}, []string{"pass"}),
		particles: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "particles",
			Help:      "Particles in the simulation.",
		}),
		occupied: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "occupied_cell_fraction",
			Help:      "Fraction of grid cells holding particles at the last coupling run.",
		}),
		maxPerCell: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "max_particles_per_cell",
			Help:      "Most particles in one cell at the last coupling run.",
		}),
		state: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "1 for the current run state and simulation type.",
		}, []string{"state", "type"}),
	}
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// FrameCompleted implements frame.Observer. Counters advance by the
// difference to the previous snapshot; a snapshot with smaller totals
// comes from a new driver and counts from zero.
func (c *Collector) FrameCompleted(s frame.Stats) {
	c.mu.Lock()
	last := c.last
	if s.Frames < last.Frames || s.Ticks < last.Ticks || s.Skipped < last.Skipped {
		last = frame.Stats{}
	}
	c.last = s
	c.mu.Unlock()

	c.frames.Add(float64(s.Frames - last.Frames))
	c.skipped.Add(float64(s.Skipped - last.Skipped))
	if s.Ticks > last.Ticks {
		c.ticks.Add(float64(s.Ticks - last.Ticks))
		c.tickSeconds.Observe(s.LastTick.Seconds())
	}
	c.particles.Set(float64(s.Particles))
	if s.Coupled {
		c.occupied.Set(s.Occupancy.Fraction)
		c.maxPerCell.Set(float64(s.Occupancy.MaxPerCell))
	}
	if last.State != s.State || last.Type != s.Type || last.Frames+last.Skipped == 0 {
		c.state.Reset()
		c.state.WithLabelValues(s.State.String(), s.Type.String()).Set(1)
	}
}

// StageCompleted implements gpu.StageObserver.
func (c *Collector) StageCompleted(name string, d time.Duration, err error) {
	c.stageSeconds.WithLabelValues(name).Observe(d.Seconds())
	if err != nil {
		c.stageErrors.WithLabelValues(name).Inc()
	}
}

// PassCompleted implements sorter.Observer.
func (c *Collector) PassCompleted(pass sim.SortPass, d time.Duration) {
	c.sortSeconds.WithLabelValues(pass.String()).Observe(d.Seconds())
}
