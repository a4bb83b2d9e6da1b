// Copyright 2025 MediaForge
// SPDX-License-Identifier: BUSL-1.1

package workflow

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"
)

// fakeClock is a manually advanced clock for deterministic timing tests.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []fakeWaiter
}

type fakeWaiter struct {
	at time.Time
	ch chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, fakeWaiter{at: c.now.Add(d), ch: ch})
	return ch
}

// Advance moves the clock forward, firing any timers that come due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.at.After(c.now) {
			w.ch <- c.now
		} else {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
}

// fakeTransport is a scriptable transport tier.
type fakeTransport struct {
	tier TransportTier
	fn   func(ctx context.Context, backendID string, payload map[string]any, progress ProgressFunc) (*TransportResult, error)

	mu    sync.Mutex
	calls int
}

func (t *fakeTransport) Tier() TransportTier { return t.tier }

func (t *fakeTransport) Execute(ctx context.Context, backendID string, payload map[string]any, progress ProgressFunc) (*TransportResult, error) {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
	return t.fn(ctx, backendID, payload, progress)
}

func (t *fakeTransport) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

func succeedingTransport(tier TransportTier) *fakeTransport {
	return &fakeTransport{
		tier: tier,
		fn: func(_ context.Context, backendID string, _ map[string]any, _ ProgressFunc) (*TransportResult, error) {
			return &TransportResult{
				Output:         map[string]any{"backend": backendID},
				MemoryUsedMb:   512,
				QualityMetrics: map[string]float64{"aesthetic": 0.8},
			}, nil
		},
	}
}

func failingTransport(tier TransportTier, msg string) *fakeTransport {
	return &fakeTransport{
		tier: tier,
		fn: func(context.Context, string, map[string]any, ProgressFunc) (*TransportResult, error) {
			return nil, fmt.Errorf("%s", msg)
		},
	}
}

// memStorage is an in-memory Storage with optional injected failures.
type memStorage struct {
	mu          sync.Mutex
	descriptors map[string]*WorkflowDescriptor
	usage       []string
	saveErr     error
}

func newMemStorage() *memStorage {
	return &memStorage{descriptors: make(map[string]*WorkflowDescriptor)}
}

func (s *memStorage) SaveDescriptor(_ context.Context, d *WorkflowDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.descriptors[d.ID] = cloneDescriptor(d)
	return nil
}

func (s *memStorage) GetDescriptor(_ context.Context, id string) (*WorkflowDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.descriptors[id]
	if !ok {
		return nil, fmt.Errorf("descriptor %s not found", id)
	}
	return cloneDescriptor(d), nil
}

func (s *memStorage) DeleteDescriptor(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.descriptors, id)
	return nil
}

func (s *memStorage) ListDescriptors(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.descriptors))
	for id := range s.descriptors {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *memStorage) RecordUsage(_ context.Context, backendID, outcome string, _ int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, backendID+":"+outcome)
	return nil
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func testDescriptor(id string, caps ...Capability) *WorkflowDescriptor {
	if len(caps) == 0 {
		caps = []Capability{CapabilityTextToImage}
	}
	return &WorkflowDescriptor{
		ID:           id,
		Type:         BackendTypeImage,
		Capabilities: caps,
		Cost:         DeclaredCost{Speed: 0.5, Memory: 0.5, Quality: 0.5},
	}
}
