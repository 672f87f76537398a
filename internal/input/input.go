// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package input fans window events out to subscribers and maps keys to
// viewer actions.
package input

import (
	"slices"
	"sync"

	"github.com/gogpu/gpucontext"
)

// Subscription identifies one registered callback.
type Subscription uint64

type entry[F any] struct {
	id Subscription
	fn F
}

// Dispatcher registers once with an EventSource and forwards its key,
// mouse and resize events to every subscriber, in subscription order.
//
// Callbacks run on the event source's goroutine while the dispatcher holds
// a read lock, so once Unsubscribe or Close returns the callback will not
// run again. A callback must not call Unsubscribe or Close itself.
type Dispatcher struct {
	mu     sync.RWMutex
	next   Subscription
	closed bool

	keys   []entry[func(gpucontext.Key, gpucontext.Modifiers)]
	mouse  []entry[func(gpucontext.MouseButton, float64, float64)]
	moves  []entry[func(float64, float64)]
	scroll []entry[func(float64, float64)]
	resize []entry[func(int, int)]
}

// NewDispatcher attaches to src. A nil src is allowed; events can then be
// injected with the Emit methods.
func NewDispatcher(src gpucontext.EventSource) *Dispatcher {
	d := &Dispatcher{}
	if src != nil {
		src.OnKeyPress(d.EmitKey)
		src.OnMousePress(d.EmitMouse)
		src.OnMouseMove(d.EmitMove)
		src.OnScroll(d.EmitScroll)
		src.OnResize(d.EmitResize)
	}
	return d
}

func subscribe[F any](d *Dispatcher, list *[]entry[F], fn F) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0
	}
	d.next++
	*list = append(*list, entry[F]{id: d.next, fn: fn})
	return d.next
}

func remove[F any](list []entry[F], id Subscription) []entry[F] {
	return slices.DeleteFunc(list, func(e entry[F]) bool { return e.id == id })
}

// OnKey subscribes to key presses.
func (d *Dispatcher) OnKey(fn func(gpucontext.Key, gpucontext.Modifiers)) Subscription {
	return subscribe(d, &d.keys, fn)
}

// OnMouse subscribes to mouse button presses.
func (d *Dispatcher) OnMouse(fn func(gpucontext.MouseButton, float64, float64)) Subscription {
	return subscribe(d, &d.mouse, fn)
}

// OnMove subscribes to pointer movement.
func (d *Dispatcher) OnMove(fn func(x, y float64)) Subscription {
	return subscribe(d, &d.moves, fn)
}

// OnScroll subscribes to scroll wheel deltas.
func (d *Dispatcher) OnScroll(fn func(dx, dy float64)) Subscription {
	return subscribe(d, &d.scroll, fn)
}

// OnResize subscribes to window resizes.
func (d *Dispatcher) OnResize(fn func(width, height int)) Subscription {
	return subscribe(d, &d.resize, fn)
}

// Unsubscribe removes s. Unknown subscriptions are ignored.
func (d *Dispatcher) Unsubscribe(s Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys = remove(d.keys, s)
	d.mouse = remove(d.mouse, s)
	d.moves = remove(d.moves, s)
	d.scroll = remove(d.scroll, s)
	d.resize = remove(d.resize, s)
}

// Close drops every subscription and ignores all later events.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.keys, d.mouse, d.moves, d.scroll, d.resize = nil, nil, nil, nil, nil
}

// EmitKey delivers a key press.
func (d *Dispatcher) EmitKey(k gpucontext.Key, m gpucontext.Modifiers) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, e := range d.keys {
		e.fn(k, m)
	}
}

// EmitMouse delivers a mouse button press.
func (d *Dispatcher) EmitMouse(b gpucontext.MouseButton, x, y float64) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, e := range d.mouse {
		e.fn(b, x, y)
	}
}

// EmitMove delivers pointer movement.
func (d *Dispatcher) EmitMove(x, y float64) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, e := range d.moves {
		e.fn(x, y)
	}
}

// EmitScroll delivers a scroll delta.
func (d *Dispatcher) EmitScroll(dx, dy float64) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, e := range d.scroll {
		e.fn(dx, dy)
	}
}

// EmitResize delivers a resize.
func (d *Dispatcher) EmitResize(w, h int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, e := range d.resize {
		e.fn(w, h)
	}
}
