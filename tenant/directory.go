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
	"fmt"
	"sync"
	"time"

	"incentra/platform/shared/types"
)

// Directory resolves tenant configuration from the control plane.
// The control plane is a single global store and is never exposed to
// tenant-scoped queries.
type Directory interface {
	// GetTenant returns the tenant record, or an error wrapping
	// types.ErrTenantNotConfigured when no record exists.
	GetTenant(ctx context.Context, tenantID string) (*types.Tenant, error)

	// SaveTenant inserts or updates a tenant record. Used by the
	// administrative setup step, never by the execution engine.
	SaveTenant(ctx context.Context, t *types.Tenant) error

	// ListTenants returns all configured tenants.
	ListTenants(ctx context.Context) ([]types.Tenant, error)
}

// MemoryDirectory is an in-memory Directory for tests and single-node
// composition.
type MemoryDirectory struct {
	mu      sync.RWMutex
	tenants map[string]types.Tenant
}

// NewMemoryDirectory creates an empty in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{tenants: make(map[string]types.Tenant)}
}

// GetTenant implements Directory.
func (d *MemoryDirectory) GetTenant(_ context.Context, tenantID string) (*types.Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	t, ok := d.tenants[tenantID]
	if !ok {
		return nil, fmt.Errorf("tenant '%s': %w", tenantID, types.ErrTenantNotConfigured)
	}
	out := t
	return &out, nil
}

// SaveTenant implements Directory.
func (d *MemoryDirectory) SaveTenant(_ context.Context, t *types.Tenant) error {
	if t.TenantID == "" {
		return fmt.Errorf("tenant id is required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	rec := *t
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	d.tenants[t.TenantID] = rec
	return nil
}

// ListTenants implements Directory.
func (d *MemoryDirectory) ListTenants(_ context.Context) ([]types.Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]types.Tenant, 0, len(d.tenants))
	for _, t := range d.tenants {
		out = append(out, t)
	}
	return out, nil
}
