// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package input

import (
	"fmt"

	"github.com/gogpu/gpucontext"
)

// Action is a viewer command bound to a key.
type Action int

const (
	ActionNone Action = iota
	ActionToggleRun
	ActionStep
	ActionReset
	ActionCycleVisualization
	ActionCycleRenderType
	ActionQuit
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionToggleRun:
		return "toggleRun"
	case ActionStep:
		return "step"
	case ActionReset:
		return "reset"
	case ActionCycleVisualization:
		return "cycleVisualization"
	case ActionCycleRenderType:
		return "cycleRenderType"
	case ActionQuit:
		return "quit"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Keymap binds keys to actions.
type Keymap map[gpucontext.Key]Action

// DefaultKeymap returns the standard bindings.
func DefaultKeymap() Keymap {
	return Keymap{
		gpucontext.KeySpace:  ActionToggleRun,
		gpucontext.KeyN:      ActionStep,
		gpucontext.KeyR:      ActionReset,
		gpucontext.KeyV:      ActionCycleVisualization,
		gpucontext.KeyT:      ActionCycleRenderType,
		gpucontext.KeyEscape: ActionQuit,
	}
}

// Lookup returns the action bound to k, or ActionNone.
func (m Keymap) Lookup(k gpucontext.Key) Action { return m[k] }

// OnAction subscribes fn to the actions m maps key presses to. Unbound keys
// are dropped.
func (d *Dispatcher) OnAction(m Keymap, fn func(Action)) Subscription {
	return d.OnKey(func(k gpucontext.Key, _ gpucontext.Modifiers) {
		if a := m.Lookup(k); a != ActionNone {
			fn(a)
		}
	})
}
