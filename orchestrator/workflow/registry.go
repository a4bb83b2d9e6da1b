// Copyright 2025 MediaForge
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package workflow

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"
)

// Registry is the catalog of known backend workflow implementations and the
// capabilities each declares. It is thread-safe for concurrent access.
//
// The registry holds in-memory state only and never calls out to a backend.
// With storage configured, registrations are additionally persisted so other
// orchestrator replicas can load them.
type Registry struct {
	descriptors map[string]*WorkflowDescriptor
	order       map[string]int // registration order, used by round-robin routing
	nextOrder   int
	storage     Storage // optional persistent storage
	logger      *log.Logger
	mu          sync.RWMutex
}

// RegistryOption configures the registry during creation.
type RegistryOption func(*Registry)

// WithStorage sets persistent storage for the registry.
func WithStorage(storage Storage) RegistryOption {
	return func(r *Registry) {
		r.storage = storage
	}
}

// WithRegistryLogger sets a custom logger for the registry.
func WithRegistryLogger(logger *log.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates a new backend registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		descriptors: make(map[string]*WorkflowDescriptor),
		order:       make(map[string]int),
		logger:      log.New(os.Stdout, "[WORKFLOW_REGISTRY] ", log.LstdFlags),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// ValidateDescriptor checks a descriptor for registration.
func ValidateDescriptor(d *WorkflowDescriptor) error {
	if d == nil {
		return &RegistryError{Code: ErrRegistryInvalidDescriptor, Message: "descriptor cannot be nil"}
	}
	if d.ID == "" {
		return &RegistryError{Code: ErrRegistryInvalidDescriptor, Message: "backend id is required"}
	}
	if len(d.Capabilities) == 0 {
		return &RegistryError{
			BackendID: d.ID,
			Code:      ErrRegistryInvalidDescriptor,
			Message:   "descriptor must declare at least one capability",
		}
	}
	return nil
}

// Register adds a backend descriptor to the registry. It fails with a
// duplicate_backend error if the id is already present. The descriptor is
// copied; later mutation by the caller has no effect.
func (r *Registry) Register(ctx context.Context, descriptor *WorkflowDescriptor) error {
	if err := ValidateDescriptor(descriptor); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.descriptors[descriptor.ID]; exists {
		return &RegistryError{
			BackendID: descriptor.ID,
			Code:      ErrRegistryDuplicate,
			Message:   fmt.Sprintf("backend %q already registered", descriptor.ID),
		}
	}

	descriptorCopy := cloneDescriptor(descriptor)
	r.descriptors[descriptor.ID] = descriptorCopy
	r.order[descriptor.ID] = r.nextOrder
	r.nextOrder++

	// Persist to storage if available
	if r.storage != nil {
		if err := r.storage.SaveDescriptor(ctx, descriptorCopy); err != nil {
			// Rollback in-memory registration
			delete(r.descriptors, descriptor.ID)
			delete(r.order, descriptor.ID)
			return &RegistryError{
				BackendID: descriptor.ID,
				Code:      ErrRegistryStorageError,
				Message:   fmt.Sprintf("failed to persist descriptor: %v", err),
				Cause:     err,
			}
		}
	}

	r.logger.Printf("Registered backend: %s (type: %s, capabilities: %v)",
		descriptor.ID, descriptor.Type, descriptor.Capabilities)
	return nil
}

// Unregister removes a backend from the registry. It is idempotent: removing
// an unknown id is not an error.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.descriptors[id]; !exists {
		return nil
	}

	if r.storage != nil {
		if err := r.storage.DeleteDescriptor(ctx, id); err != nil {
			r.logger.Printf("Warning: failed to delete descriptor %s from storage: %v", id, err)
			// Continue with in-memory removal
		}
	}

	delete(r.descriptors, id)
	delete(r.order, id)

	r.logger.Printf("Unregistered backend: %s", id)
	return nil
}

// Get returns a copy of the descriptor for a backend.
func (r *Registry) Get(id string) (*WorkflowDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.descriptors[id]
	if !ok {
		return nil, false
	}
	return cloneDescriptor(d), true
}

// FindByCapabilities returns every backend whose capability set is a
// superset of required, in registration order. An empty result is a normal
// outcome, never an error: absence of a capable backend is for the router
// and resilience layer to handle.
func (r *Registry) FindByCapabilities(required []Capability) []*WorkflowDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matches := make([]*WorkflowDescriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		if d.Covers(required) {
			matches = append(matches, cloneDescriptor(d))
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return r.order[matches[i].ID] < r.order[matches[j].ID]
	})
	return matches
}

// RegistrationOrder returns the registration index for a backend, used by
// the round-robin strategy. Unknown ids sort last.
func (r *Registry) RegistrationOrder(id string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if idx, ok := r.order[id]; ok {
		return idx
	}
	return int(^uint(0) >> 1)
}

// List returns all registered backend ids, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.descriptors))
	for id := range r.descriptors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of registered backends.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.descriptors)
}

// Has returns true if a backend is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.descriptors[id]
	return ok
}

// ReloadFromStorage loads descriptors persisted by other orchestrator
// replicas. Already-registered ids are left untouched.
func (r *Registry) ReloadFromStorage(ctx context.Context) error {
	if r.storage == nil {
		return nil
	}

	ids, err := r.storage.ListDescriptors(ctx)
	if err != nil {
		return &RegistryError{
			Code:    ErrRegistryStorageError,
			Message: fmt.Sprintf("failed to list descriptors from storage: %v", err),
			Cause:   err,
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	loaded := 0
	for _, id := range ids {
		if _, exists := r.descriptors[id]; exists {
			continue
		}

		d, err := r.storage.GetDescriptor(ctx, id)
		if err != nil {
			r.logger.Printf("Warning: failed to load descriptor %s from storage: %v", id, err)
			continue
		}
		if err := ValidateDescriptor(d); err != nil {
			r.logger.Printf("Warning: skipping invalid stored descriptor %s: %v", id, err)
			continue
		}

		r.descriptors[id] = d
		r.order[id] = r.nextOrder
		r.nextOrder++
		loaded++
	}

	if loaded > 0 {
		r.logger.Printf("Loaded %d backend descriptor(s) from storage", loaded)
	}
	return nil
}

// StartPeriodicReload starts a background goroutine that periodically
// reloads descriptors from storage until ctx is cancelled.
func (r *Registry) StartPeriodicReload(ctx context.Context, interval time.Duration) {
	if r.storage == nil {
		r.logger.Println("Storage not configured - skipping periodic reload")
		return
	}

	r.logger.Printf("Starting periodic descriptor reload (every %v)", interval)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				r.logger.Println("Stopping periodic descriptor reload")
				return
			case <-ticker.C:
				if err := r.ReloadFromStorage(ctx); err != nil {
					r.logger.Printf("Periodic reload failed: %v", err)
				}
			}
		}
	}()
}

func cloneDescriptor(d *WorkflowDescriptor) *WorkflowDescriptor {
	dup := *d
	dup.Capabilities = append([]Capability(nil), d.Capabilities...)
	return &dup
}
