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
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newLimiterFixture(t *testing.T, limit int) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRateLimiter(client, limit), mr
}

func TestRateLimiter_AllowsUnderLimit(t *testing.T) {
	rl, _ := newLimiterFixture(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if !rl.Allow(ctx, "acme") {
			t.Fatalf("Allow() #%d = false, want true under limit", i+1)
		}
	}
}

func TestRateLimiter_RejectsOverLimit(t *testing.T) {
	rl, _ := newLimiterFixture(t, 2)
	ctx := context.Background()

	rl.Allow(ctx, "acme")
	rl.Allow(ctx, "acme")
	if rl.Allow(ctx, "acme") {
		t.Error("Allow() = true after budget exhausted, want false")
	}
}

func TestRateLimiter_TenantsAreIsolated(t *testing.T) {
	rl, _ := newLimiterFixture(t, 1)
	ctx := context.Background()

	rl.Allow(ctx, "acme")
	if rl.Allow(ctx, "acme") {
		t.Error("Allow(acme) = true after acme's budget exhausted")
	}
	if !rl.Allow(ctx, "globex") {
		t.Error("Allow(globex) = false, other tenants must keep their own budget")
	}
}

func TestRateLimiter_FailsOpenWhenRedisDown(t *testing.T) {
	rl, mr := newLimiterFixture(t, 1)
	mr.Close()

	if !rl.Allow(context.Background(), "acme") {
		t.Error("Allow() = false with Redis down, limiter must fail open")
	}
}

func TestRateLimiter_NilLimiterAllowsEverything(t *testing.T) {
	var rl *RateLimiter
	if !rl.Allow(context.Background(), "acme") {
		t.Error("nil limiter denied a run")
	}
}
