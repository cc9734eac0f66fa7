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
Package types provides shared type definitions used across Incentra components.

# Overview

This package contains the domain model shared between the tenant routing
layer, the rule engine, the payout calculator, and the execution
orchestrator. It provides a single source of truth for the shapes that are
persisted to a tenant's datastore.

# Multi-Tenancy

Every tenant owns an isolated datastore. The Tenant record lives in the
control-plane directory and maps a tenant identifier to its datastore URI
and logical collection names. Tenant-scoped documents (Scheme,
ExecutionLog) are only ever read or written through a connection resolved
for that tenant.

# Money

Commission amounts and base metrics are computed with decimal arithmetic
inside the payout calculator. The persisted types carry float64 values;
conversion happens once at the storage boundary.

# Thread Safety

All types in this package are plain data and are safe for concurrent use
as long as a single run owns its ExecutionLog until it is persisted.
*/
package types
