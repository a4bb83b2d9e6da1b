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
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Storage persists backend descriptors so registrations survive
// orchestrator restarts and are visible across replicas. Implementations
// must be safe for concurrent use.
type Storage interface {
	// SaveDescriptor inserts or updates a descriptor.
	SaveDescriptor(ctx context.Context, d *WorkflowDescriptor) error

	// GetDescriptor loads one descriptor by backend ID.
	GetDescriptor(ctx context.Context, id string) (*WorkflowDescriptor, error)

	// DeleteDescriptor removes a descriptor. Missing IDs are not an error.
	DeleteDescriptor(ctx context.Context, id string) error

	// ListDescriptors returns all persisted backend IDs.
	ListDescriptors(ctx context.Context) ([]string, error)

	// RecordUsage appends one usage row for capacity planning.
	RecordUsage(ctx context.Context, backendID, outcome string, latencyMs int64) error
}

// PostgresStorage implements Storage on top of PostgreSQL.
type PostgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage creates a PostgreSQL-backed descriptor store using
// an existing database handle.
func NewPostgresStorage(db *sql.DB) *PostgresStorage {
	return &PostgresStorage{db: db}
}

// EnsureSchema creates the storage tables if they do not exist.
func (s *PostgresStorage) EnsureSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS workflow_backends (
			id TEXT PRIMARY KEY,
			backend_type TEXT NOT NULL,
			capabilities TEXT[] NOT NULL,
			cost_speed DOUBLE PRECISION NOT NULL,
			cost_memory DOUBLE PRECISION NOT NULL,
			cost_quality DOUBLE PRECISION NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS workflow_usage (
			id BIGSERIAL PRIMARY KEY,
			backend_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			latency_ms BIGINT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_workflow_usage_backend
			ON workflow_usage (backend_id, recorded_at)`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure storage schema: %w", err)
	}
	return nil
}

// SaveDescriptor inserts or updates a descriptor.
func (s *PostgresStorage) SaveDescriptor(ctx context.Context, d *WorkflowDescriptor) error {
	caps := make([]string, len(d.Capabilities))
	for i, c := range d.Capabilities {
		caps[i] = string(c)
	}

	query := `
		INSERT INTO workflow_backends (id, backend_type, capabilities, cost_speed, cost_memory, cost_quality, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (id) DO UPDATE SET
			backend_type = EXCLUDED.backend_type,
			capabilities = EXCLUDED.capabilities,
			cost_speed = EXCLUDED.cost_speed,
			cost_memory = EXCLUDED.cost_memory,
			cost_quality = EXCLUDED.cost_quality,
			updated_at = now()`

	_, err := s.db.ExecContext(ctx, query,
		d.ID, string(d.Type), pq.Array(caps),
		d.Cost.Speed, d.Cost.Memory, d.Cost.Quality)
	if err != nil {
		return fmt.Errorf("failed to save descriptor %s: %w", d.ID, err)
	}
	return nil
}

// GetDescriptor loads one descriptor by backend ID.
func (s *PostgresStorage) GetDescriptor(ctx context.Context, id string) (*WorkflowDescriptor, error) {
	query := `
		SELECT id, backend_type, capabilities, cost_speed, cost_memory, cost_quality
		FROM workflow_backends WHERE id = $1`

	var d WorkflowDescriptor
	var backendType string
	var caps []string
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&d.ID, &backendType, pq.Array(&caps),
		&d.Cost.Speed, &d.Cost.Memory, &d.Cost.Quality)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("descriptor %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load descriptor %s: %w", id, err)
	}

	d.Type = BackendType(backendType)
	d.Capabilities = make([]Capability, len(caps))
	for i, c := range caps {
		d.Capabilities[i] = Capability(c)
	}
	return &d, nil
}

// DeleteDescriptor removes a descriptor; deleting a missing ID is a no-op.
func (s *PostgresStorage) DeleteDescriptor(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM workflow_backends WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete descriptor %s: %w", id, err)
	}
	return nil
}

// ListDescriptors returns all persisted backend IDs.
func (s *PostgresStorage) ListDescriptors(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM workflow_backends ORDER BY updated_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list descriptors: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan descriptor id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RecordUsage appends one usage row.
func (s *PostgresStorage) RecordUsage(ctx context.Context, backendID, outcome string, latencyMs int64) error {
	query := `
		INSERT INTO workflow_usage (backend_id, outcome, latency_ms, recorded_at)
		VALUES ($1, $2, $3, $4)`
	if _, err := s.db.ExecContext(ctx, query, backendID, outcome, latencyMs, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to record usage for %s: %w", backendID, err)
	}
	return nil
}
