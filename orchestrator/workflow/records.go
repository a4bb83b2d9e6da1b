// Copyright 2025 MediaForge
// SPDX-License-Identifier: BUSL-1.1

package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
)

// RecordStore persists execution records for observability and debugging.
// Implementations must be safe for concurrent use.
type RecordStore interface {
	// Append stores one execution record. Stores are bounded: old records
	// may be evicted to keep the log at a fixed size.
	Append(ctx context.Context, record ExecutionRecord) error

	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]ExecutionRecord, error)
}

const defaultRecordCapacity = 1024

// MemoryRecordStore is a bounded in-memory execution log. It is the
// default store when no external backing is configured.
type MemoryRecordStore struct {
	mu       sync.RWMutex
	records  []ExecutionRecord
	capacity int
	next     int
	full     bool
}

// NewMemoryRecordStore creates an in-memory store holding up to capacity
// records; a non-positive capacity selects the default.
func NewMemoryRecordStore(capacity int) *MemoryRecordStore {
	if capacity <= 0 {
		capacity = defaultRecordCapacity
	}
	return &MemoryRecordStore{
		records:  make([]ExecutionRecord, capacity),
		capacity: capacity,
	}
}

// Append stores a record, evicting the oldest once the store is full.
func (s *MemoryRecordStore) Append(_ context.Context, record ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[s.next] = record
	s.next = (s.next + 1) % s.capacity
	if s.next == 0 {
		s.full = true
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *MemoryRecordStore) Recent(_ context.Context, limit int) ([]ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := s.next
	if s.full {
		count = s.capacity
	}
	if limit <= 0 || limit > count {
		limit = count
	}

	out := make([]ExecutionRecord, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (s.next - 1 - i + s.capacity) % s.capacity
		out = append(out, s.records[idx])
	}
	return out, nil
}

// RedisRecordStore keeps the execution log in a capped Redis list so the
// log survives orchestrator restarts and is shared across replicas.
type RedisRecordStore struct {
	client   *redis.Client
	key      string
	capacity int64
}

// NewRedisRecordStore creates a Redis-backed store. The list is trimmed
// to capacity on every append; a non-positive capacity selects the
// default.
func NewRedisRecordStore(client *redis.Client, key string, capacity int) *RedisRecordStore {
	if key == "" {
		key = "mediaforge:orchestrator:executions"
	}
	if capacity <= 0 {
		capacity = defaultRecordCapacity
	}
	return &RedisRecordStore{
		client:   client,
		key:      key,
		capacity: int64(capacity),
	}
}

// Append pushes the record onto the head of the list and trims the tail.
func (s *RedisRecordStore) Append(ctx context.Context, record ExecutionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal execution record: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.key, data)
	pipe.LTrim(ctx, s.key, 0, s.capacity-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append execution record: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *RedisRecordStore) Recent(ctx context.Context, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 || int64(limit) > s.capacity {
		limit = int(s.capacity)
	}

	raw, err := s.client.LRange(ctx, s.key, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read execution records: %w", err)
	}

	out := make([]ExecutionRecord, 0, len(raw))
	for _, item := range raw {
		var record ExecutionRecord
		if err := json.Unmarshal([]byte(item), &record); err != nil {
			// Skip records written by an incompatible version.
			continue
		}
		out = append(out, record)
	}
	return out, nil
}
