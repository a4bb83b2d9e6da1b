// Copyright 2025 MediaForge
// SPDX-License-Identifier: BUSL-1.1

package workflow

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func TestMemoryRecordStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRecordStore(3)

	for i := 1; i <= 5; i++ {
		err := store.Append(ctx, ExecutionRecord{
			ID:        fmt.Sprintf("rec-%d", i),
			RequestID: "req-1",
			BackendID: "sdxl",
			Outcome:   OutcomeSuccess,
			Timestamp: time.Now(),
		})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	records, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected capped log of 3, got %d", len(records))
	}
	// Newest first, oldest evicted.
	for i, want := range []string{"rec-5", "rec-4", "rec-3"} {
		if records[i].ID != want {
			t.Errorf("record %d: expected %s, got %s", i, want, records[i].ID)
		}
	}

	limited, err := store.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "rec-5" {
		t.Errorf("expected newest record only, got %v", limited)
	}
}

func TestRedisRecordStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	store := NewRedisRecordStore(client, "test:executions", 3)

	for i := 1; i <= 5; i++ {
		err := store.Append(ctx, ExecutionRecord{
			ID:        fmt.Sprintf("rec-%d", i),
			RequestID: "req-1",
			BackendID: "sdxl",
			Attempt:   1,
			Outcome:   OutcomeFailure,
			Error:     "oom",
			Timestamp: time.Date(2025, 6, 1, 12, 0, i, 0, time.UTC),
		})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	records, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected trimmed log of 3, got %d", len(records))
	}
	if records[0].ID != "rec-5" {
		t.Errorf("expected newest first, got %s", records[0].ID)
	}
	if records[0].Outcome != OutcomeFailure || records[0].Error != "oom" {
		t.Errorf("record fields lost in round trip: %+v", records[0])
	}
}
