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
	"log"
	"os"
	"time"

	"github.com/go-redis/redis/v8"

	"incentra/platform/config"
	"incentra/platform/postproc"
	"incentra/platform/tenant"
)

// Run composes the full engine from configuration and serves HTTP.
// It is the entry point used by cmd/engined and blocks until the
// server exits.
func Run() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	pgDir, err := tenant.NewPostgresDirectory(cfg.DirectoryURL)
	if err != nil {
		log.Fatalf("Failed to connect to tenant directory: %v", err)
	}
	defer pgDir.Close()

	var (
		directory   tenant.Directory = pgDir
		redisClient *redis.Client
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Invalid REDIS_URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		directory = tenant.NewCachedDirectory(pgDir, redisClient, tenant.DefaultCacheTTL)
	}

	router := tenant.NewRouter(directory)
	if cfg.Engine.ConnectTimeoutSecs > 0 {
		router.SetConnectTimeout(time.Duration(cfg.Engine.ConnectTimeoutSecs) * time.Second)
	}

	host := postproc.NewHost(time.Duration(cfg.Engine.PostProcTimeoutSecs) * time.Second)
	for name, path := range cfg.PostProcessors {
		source, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("Failed to read post-processor script %s: %v", path, err)
		}
		proc, err := postproc.NewLuaProcessor(name, string(source))
		if err != nil {
			log.Fatalf("Failed to load post-processor '%s': %v", name, err)
		}
		if err := host.Register(name, proc); err != nil {
			log.Fatalf("Failed to register post-processor '%s': %v", name, err)
		}
	}

	var limiter *RateLimiter
	if redisClient != nil {
		limiter = NewRateLimiter(redisClient, cfg.Engine.RunsPerMinute)
	}

	orch := NewOrchestrator(router, host, limiter, Options{Workers: cfg.Engine.Workers})
	server := NewServer(orch, directory, router, redisClient)

	if err := server.Run(cfg.Port); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
