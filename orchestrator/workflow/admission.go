// Copyright 2025 MediaForge
// SPDX-License-Identifier: BUSL-1.1

package workflow

import (
	"container/list"
	"context"
	"sync"
)

// defaultMaxInFlight bounds concurrent calls against one backend when no
// limit is configured.
const defaultMaxInFlight = 4

// admissionGate bounds concurrent in-flight calls against one backend.
// Waiters are granted strictly in FIFO order; a waiter whose context is
// cancelled fails with the context error instead of being dropped.
type admissionGate struct {
	mu       sync.Mutex
	limit    int
	inFlight int
	waiters  *list.List // of chan struct{}
}

func newAdmissionGate(limit int) *admissionGate {
	if limit <= 0 {
		limit = defaultMaxInFlight
	}
	return &admissionGate{limit: limit, waiters: list.New()}
}

// Acquire blocks until a slot is free or ctx is done.
func (g *admissionGate) Acquire(ctx context.Context) error {
	g.mu.Lock()
	if g.inFlight < g.limit && g.waiters.Len() == 0 {
		g.inFlight++
		g.mu.Unlock()
		return nil
	}

	grant := make(chan struct{})
	elem := g.waiters.PushBack(grant)
	g.mu.Unlock()

	select {
	case <-grant:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		select {
		case <-grant:
			// Granted while cancelling: hand the slot to the next waiter.
			g.releaseLocked()
			g.mu.Unlock()
		default:
			g.waiters.Remove(elem)
			g.mu.Unlock()
		}
		return ctx.Err()
	}
}

// Release frees a slot, waking the oldest waiter if any.
func (g *admissionGate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.releaseLocked()
}

func (g *admissionGate) releaseLocked() {
	if front := g.waiters.Front(); front != nil {
		g.waiters.Remove(front)
		close(front.Value.(chan struct{}))
		return
	}
	if g.inFlight > 0 {
		g.inFlight--
	}
}

// AdmissionController holds one gate per backend, created on first use.
type AdmissionController struct {
	limit int

	mu    sync.Mutex
	gates map[string]*admissionGate
}

// NewAdmissionController creates per-backend admission gates with the given
// in-flight limit (0 uses the default).
func NewAdmissionController(limit int) *AdmissionController {
	return &AdmissionController{limit: limit, gates: make(map[string]*admissionGate)}
}

// Acquire admits one call against a backend, waiting FIFO up to ctx's
// deadline. Callers must Release the returned gate exactly once.
func (a *AdmissionController) Acquire(ctx context.Context, backendID string) (func(), error) {
	a.mu.Lock()
	gate, ok := a.gates[backendID]
	if !ok {
		gate = newAdmissionGate(a.limit)
		a.gates[backendID] = gate
	}
	a.mu.Unlock()

	if err := gate.Acquire(ctx); err != nil {
		return nil, err
	}

	var once sync.Once
	return func() { once.Do(gate.Release) }, nil
}

// Remove drops the gate for an unregistered backend.
func (a *AdmissionController) Remove(backendID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.gates, backendID)
}
