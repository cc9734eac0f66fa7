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
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"

	"incentra/platform/shared/types"
)

// DefaultCacheTTL bounds how stale a cached tenant record may be.
// Tenant records are read-mostly, so a short TTL is enough.
const DefaultCacheTTL = 30 * time.Second

// CachedDirectory is a Redis read-through cache in front of another
// Directory. Cache failures degrade to direct reads; they never fail a
// lookup on their own.
type CachedDirectory struct {
	inner  Directory
	client *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

// NewCachedDirectory wraps inner with a Redis read-through cache.
func NewCachedDirectory(inner Directory, client *redis.Client, ttl time.Duration) *CachedDirectory {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedDirectory{
		inner:  inner,
		client: client,
		ttl:    ttl,
		logger: log.New(log.Writer(), "[TenantCache] ", log.LstdFlags),
	}
}

func cacheKey(tenantID string) string {
	return fmt.Sprintf("tenant:config:%s", tenantID)
}

// GetTenant implements Directory.
func (c *CachedDirectory) GetTenant(ctx context.Context, tenantID string) (*types.Tenant, error) {
	if data, err := c.client.Get(ctx, cacheKey(tenantID)).Bytes(); err == nil {
		var t types.Tenant
		if err := json.Unmarshal(data, &t); err == nil {
			return &t, nil
		}
		// Corrupt entry: drop it and fall through to the store.
		c.client.Del(ctx, cacheKey(tenantID))
	} else if err != redis.Nil {
		c.logger.Printf("Cache read failed for tenant '%s': %v (falling back to store)", tenantID, err)
	}

	t, err := c.inner.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(t); err == nil {
		if err := c.client.Set(ctx, cacheKey(tenantID), data, c.ttl).Err(); err != nil {
			c.logger.Printf("Cache write failed for tenant '%s': %v", tenantID, err)
		}
	}

	return t, nil
}

// SaveTenant implements Directory. The cache entry is invalidated so the
// next read observes the new record.
func (c *CachedDirectory) SaveTenant(ctx context.Context, t *types.Tenant) error {
	if err := c.inner.SaveTenant(ctx, t); err != nil {
		return err
	}
	c.Invalidate(ctx, t.TenantID)
	return nil
}

// ListTenants implements Directory. Listings always go to the store.
func (c *CachedDirectory) ListTenants(ctx context.Context) ([]types.Tenant, error) {
	return c.inner.ListTenants(ctx)
}

// Invalidate drops the cached record for a tenant.
func (c *CachedDirectory) Invalidate(ctx context.Context, tenantID string) {
	if err := c.client.Del(ctx, cacheKey(tenantID)).Err(); err != nil {
		c.logger.Printf("Cache invalidation failed for tenant '%s': %v", tenantID, err)
	}
}
