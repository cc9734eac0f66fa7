// Copyright 2025 Incentra
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tenant

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"

	"incentra/platform/shared/types"
)

// PostgresDirectory implements Directory on the control-plane PostgreSQL
// database.
type PostgresDirectory struct {
	db     *sql.DB
	logger *log.Logger
}

// NewPostgresDirectory connects to the control-plane database and ensures
// the tenants schema exists.
func NewPostgresDirectory(dbURL string) (*PostgresDirectory, error) {
	// Retry connection with backoff to handle container DNS
	// initialization delay on startup.
	maxRetries := 5
	var db *sql.DB
	var err error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		db, err = sql.Open("postgres", dbURL)
		if err == nil {
			err = db.Ping()
			if err == nil {
				break
			}
		}

		if attempt < maxRetries {
			backoff := time.Duration(attempt*2) * time.Second
			log.Printf("[TenantDirectory] Database connection failed (attempt %d/%d): %v, retrying in %v",
				attempt, maxRetries, err, backoff)
			time.Sleep(backoff)
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to control-plane database after %d attempts: %w", maxRetries, err)
	}

	dir := &PostgresDirectory{
		db:     db,
		logger: log.New(log.Writer(), "[TenantDirectory] ", log.LstdFlags),
	}

	if err := dir.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize tenant schema: %w", err)
	}

	dir.logger.Println("PostgreSQL tenant directory initialized")
	return dir, nil
}

// NewPostgresDirectoryWithDB wraps an existing database handle. Schema
// initialization is skipped; intended for tests.
func NewPostgresDirectoryWithDB(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{
		db:     db,
		logger: log.New(log.Writer(), "[TenantDirectory] ", log.LstdFlags),
	}
}

// initSchema creates the tenants table if it doesn't exist
func (d *PostgresDirectory) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS tenants (
		tenant_id VARCHAR(255) PRIMARY KEY,
		datastore_uri TEXT NOT NULL,
		collections JSONB NOT NULL DEFAULT '{}'::jsonb,
		setup_complete BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_tenants_setup ON tenants(setup_complete);
	`

	_, err := d.db.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// GetTenant implements Directory.
func (d *PostgresDirectory) GetTenant(ctx context.Context, tenantID string) (*types.Tenant, error) {
	query := `
		SELECT tenant_id, datastore_uri, collections, setup_complete, created_at
		FROM tenants
		WHERE tenant_id = $1
	`

	var t types.Tenant
	var collectionsJSON []byte

	err := d.db.QueryRowContext(ctx, query, tenantID).Scan(
		&t.TenantID,
		&t.DatastoreURI,
		&collectionsJSON,
		&t.SetupComplete,
		&t.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("tenant '%s': %w", tenantID, types.ErrTenantNotConfigured)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant '%s': %w", tenantID, err)
	}

	if err := json.Unmarshal(collectionsJSON, &t.Collections); err != nil {
		return nil, fmt.Errorf("failed to unmarshal collections for tenant '%s': %w", tenantID, err)
	}

	return &t, nil
}

// SaveTenant implements Directory.
func (d *PostgresDirectory) SaveTenant(ctx context.Context, t *types.Tenant) error {
	if t.TenantID == "" {
		return fmt.Errorf("tenant id is required")
	}

	collectionsJSON, err := json.Marshal(t.Collections)
	if err != nil {
		return fmt.Errorf("failed to marshal collections: %w", err)
	}

	query := `
		INSERT INTO tenants (tenant_id, datastore_uri, collections, setup_complete)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id) DO UPDATE SET
			datastore_uri = EXCLUDED.datastore_uri,
			collections = EXCLUDED.collections,
			setup_complete = EXCLUDED.setup_complete
	`

	_, err = d.db.ExecContext(ctx, query, t.TenantID, t.DatastoreURI, collectionsJSON, t.SetupComplete)
	if err != nil {
		return fmt.Errorf("failed to save tenant '%s': %w", t.TenantID, err)
	}

	d.logger.Printf("Saved tenant '%s' (setup_complete=%v)", t.TenantID, t.SetupComplete)
	return nil
}

// ListTenants implements Directory.
func (d *PostgresDirectory) ListTenants(ctx context.Context) ([]types.Tenant, error) {
	query := `
		SELECT tenant_id, datastore_uri, collections, setup_complete, created_at
		FROM tenants
		ORDER BY tenant_id
	`

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tenants []types.Tenant
	for rows.Next() {
		var t types.Tenant
		var collectionsJSON []byte

		if err := rows.Scan(&t.TenantID, &t.DatastoreURI, &collectionsJSON, &t.SetupComplete, &t.CreatedAt); err != nil {
			d.logger.Printf("Error scanning tenant row: %v", err)
			continue
		}

		if err := json.Unmarshal(collectionsJSON, &t.Collections); err != nil {
			d.logger.Printf("Error unmarshaling collections for tenant '%s': %v", t.TenantID, err)
			continue
		}

		tenants = append(tenants, t)
	}

	return tenants, rows.Err()
}

// Close releases the underlying database handle.
func (d *PostgresDirectory) Close() error {
	return d.db.Close()
}

// Ping verifies the control-plane connection is alive.
func (d *PostgresDirectory) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}
