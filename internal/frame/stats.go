// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package frame

import (
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/fluidsim/internal/coupling"
)

// Stats counts what the driver has done since it was created.
type Stats struct {
	Frames  uint64 `json:"frames"`
	Ticks   uint64 `json:"ticks"`
	Skipped uint64 `json:"skipped"`

	// LastTick is the host time spent recording and submitting the most
	// recent tick.
	LastTick time.Duration `json:"last_tick_ns"`

	// Occupancy is valid only when Coupled is true.
	Occupancy coupling.Occupancy `json:"occupancy"`
	Coupled   bool               `json:"coupled"`

	Particles uint32         `json:"particles"`
	State     State          `json:"state"`
	Type      SimulationType `json:"type"`
}

// Format renders s as a one-line summary with numbers localized for tag.
func (s Stats) Format(tag language.Tag) string {
	p := message.NewPrinter(tag)
	line := p.Sprintf("%s %s: %d frames, %d ticks, %d skipped, %d particles, last tick %v",
		s.Type, s.State, s.Frames, s.Ticks, s.Skipped, s.Particles, s.LastTick.Round(time.Microsecond))
	if s.Coupled {
		line += p.Sprintf(", %.1f%% cells occupied", 100*s.Occupancy.Fraction)
	}
	return line
}

// Observer is told about every frame, skipped or not.
type Observer interface {
	FrameCompleted(s Stats)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(s Stats)

// FrameCompleted calls f(s).
func (f ObserverFunc) FrameCompleted(s Stats) { f(s) }
