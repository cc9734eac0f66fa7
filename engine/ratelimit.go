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

package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	// DefaultRunsPerMinute caps how many runs one tenant may start per
	// sliding minute.
	DefaultRunsPerMinute = 30
	rateLimitWindow      = time.Minute
)

// RateLimiter enforces a per-tenant sliding-window cap on run starts.
// When Redis is unavailable the limiter fails open: an unreachable
// cache must not take the engine down with it.
type RateLimiter struct {
	client *redis.Client
	limit  int
	logger *log.Logger
}

// NewRateLimiter builds a limiter over an existing Redis client. A nil
// client disables limiting entirely.
func NewRateLimiter(client *redis.Client, limit int) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRunsPerMinute
	}
	return &RateLimiter{
		client: client,
		limit:  limit,
		logger: log.New(log.Writer(), "[RateLimiter] ", log.LstdFlags),
	}
}

// Allow records one run start for the tenant and reports whether it is
// within the window's budget.
func (rl *RateLimiter) Allow(ctx context.Context, tenantID string) bool {
	if rl == nil || rl.client == nil {
		return true
	}

	key := fmt.Sprintf("ratelimit:runs:%s", tenantID)
	now := time.Now()
	windowStart := now.Add(-rateLimitWindow)

	pipe := rl.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, &redis.Z{
		Score:  float64(now.UnixNano()),
		Member: uuid.NewString(),
	})
	pipe.Expire(ctx, key, rateLimitWindow)

	if _, err := pipe.Exec(ctx); err != nil {
		rl.logger.Printf("Rate limit check for tenant %s failed, allowing: %v", tenantID, err)
		return true
	}

	if countCmd.Val() >= int64(rl.limit) {
		promRateLimited.Inc()
		return false
	}
	return true
}
