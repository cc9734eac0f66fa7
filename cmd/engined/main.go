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

// Package main is the entry point for the Incentra execution engine.
//
// The engine runs incentive-compensation schemes against per-tenant
// datastores: rule evaluation, tiered payout, credit splitting, optional
// post-processing, and immutable execution audit logs.
//
// Usage:
//
//	./engined
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8080)
//	DIRECTORY_URL - PostgreSQL connection string for the tenant directory
//	REDIS_URL - Redis URL for directory caching and rate limiting (optional)
//	CONFIG_FILE - path to the YAML service configuration (optional)
package main

import (
	"incentra/platform/engine"
)

func main() {
	engine.Run()
}
