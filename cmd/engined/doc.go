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

/*
Command engined runs the Incentra commission execution engine.

The engine is the computational core of Incentra: it routes each run to
the owning tenant's isolated datastore, evaluates the scheme's
qualification, exclusion, adjustment and credit rules over the agent
population, applies the tiered payout structure and credit split, and
appends an immutable execution log.

# Usage

	engined

# Environment Variables

Required:
  - DIRECTORY_URL: PostgreSQL connection string for the tenant directory

Optional:
  - PORT: HTTP server port (default: 8080)
  - REDIS_URL: Redis URL for directory caching and run rate limiting
  - CONFIG_FILE: path to the YAML service configuration

# Endpoints

  - POST /api/v1/executions: start a commission run
  - GET /api/v1/executions/{runId}?tenant_id=: fetch one execution log
  - GET /api/v1/executions?tenant_id=&scheme_id=: list run summaries
  - POST /api/v1/tenants: provision a tenant
  - GET /health, GET /metrics: operational surface
*/
package main
