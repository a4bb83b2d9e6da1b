// Copyright 2025 MediaForge
// SPDX-License-Identifier: BUSL-1.1

package workflow

import (
	"context"
	"errors"
	"testing"
)

func TestRegistryRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		r := NewRegistry(WithRegistryLogger(quietLogger()))
		if err := r.Register(ctx, testDescriptor("sdxl", CapabilityTextToImage, CapabilityInpainting)); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		if !r.Has("sdxl") {
			t.Error("registered backend not found")
		}
		if r.Count() != 1 {
			t.Errorf("expected count 1, got %d", r.Count())
		}
	})

	t.Run("duplicate rejected", func(t *testing.T) {
		r := NewRegistry(WithRegistryLogger(quietLogger()))
		if err := r.Register(ctx, testDescriptor("sdxl")); err != nil {
			t.Fatalf("first Register failed: %v", err)
		}

		err := r.Register(ctx, testDescriptor("sdxl"))
		if err == nil {
			t.Fatal("expected duplicate error")
		}
		if !IsDuplicateBackend(err) {
			t.Errorf("expected duplicate_backend error, got %v", err)
		}
		if r.Count() != 1 {
			t.Errorf("duplicate registration changed the catalog: count %d", r.Count())
		}
	})

	t.Run("no capabilities rejected", func(t *testing.T) {
		r := NewRegistry(WithRegistryLogger(quietLogger()))
		err := r.Register(ctx, &WorkflowDescriptor{ID: "empty", Type: BackendTypeImage})
		if err == nil {
			t.Fatal("expected invalid descriptor error")
		}
		var re *RegistryError
		if !errors.As(err, &re) || re.Code != ErrRegistryInvalidDescriptor {
			t.Errorf("expected invalid_descriptor, got %v", err)
		}
	})

	t.Run("caller mutation after register has no effect", func(t *testing.T) {
		r := NewRegistry(WithRegistryLogger(quietLogger()))
		d := testDescriptor("sdxl", CapabilityTextToImage)
		if err := r.Register(ctx, d); err != nil {
			t.Fatalf("Register failed: %v", err)
		}

		d.Capabilities[0] = CapabilityAudioSynthesis

		got, ok := r.Get("sdxl")
		if !ok {
			t.Fatal("backend missing")
		}
		if got.Capabilities[0] != CapabilityTextToImage {
			t.Error("registry exposed caller mutation")
		}
	})

	t.Run("storage failure rolls back", func(t *testing.T) {
		storage := newMemStorage()
		storage.saveErr = errors.New("connection refused")
		r := NewRegistry(WithStorage(storage), WithRegistryLogger(quietLogger()))

		err := r.Register(ctx, testDescriptor("sdxl"))
		if err == nil {
			t.Fatal("expected storage error")
		}
		var re *RegistryError
		if !errors.As(err, &re) || re.Code != ErrRegistryStorageError {
			t.Errorf("expected registry_storage_error, got %v", err)
		}
		if r.Has("sdxl") {
			t.Error("failed registration left backend in catalog")
		}
	})
}

func TestRegistryUnregisterIdempotent(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(WithRegistryLogger(quietLogger()))

	if err := r.Register(ctx, testDescriptor("sdxl")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Unregister(ctx, "sdxl"); err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}
	if r.Has("sdxl") {
		t.Error("backend still present after Unregister")
	}

	// Second removal of the same id is a no-op.
	if err := r.Unregister(ctx, "sdxl"); err != nil {
		t.Errorf("repeat Unregister should be nil, got %v", err)
	}
	if err := r.Unregister(ctx, "never-registered"); err != nil {
		t.Errorf("Unregister of unknown id should be nil, got %v", err)
	}
}

func TestRegistryFindByCapabilities(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(WithRegistryLogger(quietLogger()))

	mustRegister := func(d *WorkflowDescriptor) {
		t.Helper()
		if err := r.Register(ctx, d); err != nil {
			t.Fatalf("Register %s failed: %v", d.ID, err)
		}
	}
	mustRegister(testDescriptor("img-basic", CapabilityTextToImage))
	mustRegister(testDescriptor("img-full", CapabilityTextToImage, CapabilityInpainting, CapabilitySuperResolution))
	mustRegister(testDescriptor("vid", CapabilityTextToVideo, CapabilityImageToVideo))

	t.Run("superset match in registration order", func(t *testing.T) {
		matches := r.FindByCapabilities([]Capability{CapabilityTextToImage})
		if len(matches) != 2 {
			t.Fatalf("expected 2 matches, got %d", len(matches))
		}
		if matches[0].ID != "img-basic" || matches[1].ID != "img-full" {
			t.Errorf("expected registration order [img-basic img-full], got [%s %s]", matches[0].ID, matches[1].ID)
		}
	})

	t.Run("all capabilities required", func(t *testing.T) {
		matches := r.FindByCapabilities([]Capability{CapabilityTextToImage, CapabilityInpainting})
		if len(matches) != 1 || matches[0].ID != "img-full" {
			t.Fatalf("expected only img-full, got %v", matches)
		}
	})

	t.Run("no match is empty not error", func(t *testing.T) {
		matches := r.FindByCapabilities([]Capability{CapabilityAudioSynthesis})
		if len(matches) != 0 {
			t.Fatalf("expected no matches, got %d", len(matches))
		}
	})
}

func TestRegistryReloadFromStorage(t *testing.T) {
	ctx := context.Background()
	storage := newMemStorage()

	seed := NewRegistry(WithStorage(storage), WithRegistryLogger(quietLogger()))
	if err := seed.Register(ctx, testDescriptor("sdxl")); err != nil {
		t.Fatalf("seed Register failed: %v", err)
	}
	if err := seed.Register(ctx, testDescriptor("flux", CapabilityTextToImage, CapabilityRelighting)); err != nil {
		t.Fatalf("seed Register failed: %v", err)
	}

	replica := NewRegistry(WithStorage(storage), WithRegistryLogger(quietLogger()))
	if err := replica.Register(ctx, testDescriptor("sdxl", CapabilityLayeredGeneration)); err != nil {
		t.Fatalf("replica Register failed: %v", err)
	}

	if err := replica.ReloadFromStorage(ctx); err != nil {
		t.Fatalf("ReloadFromStorage failed: %v", err)
	}

	if replica.Count() != 2 {
		t.Fatalf("expected 2 backends after reload, got %d", replica.Count())
	}
	// A locally registered id is never overwritten by storage.
	local, _ := replica.Get("sdxl")
	if !local.HasCapability(CapabilityLayeredGeneration) {
		t.Error("reload overwrote a locally registered descriptor")
	}
	if !replica.Has("flux") {
		t.Error("reload did not load the stored descriptor")
	}
}
