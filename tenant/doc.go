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
Package tenant provides the tenant directory and the datastore connection
router.

# Overview

The Directory maps a tenant identifier to its datastore connection string
and logical collection names. The production implementation persists
tenant records in the control-plane PostgreSQL database; a Redis
read-through cache can be layered on top.

The Router resolves a tenant identifier to a live, pooled MongoDB handle
for that tenant's datastore. Handles are cached (at most one live client
per tenant), health-checked on reuse, and evicted on failure. Concurrent
Acquire calls for the same tenant share a single connection attempt.

There is never a fallback to a default or global datastore: a tenant
without a configured datastore gets ErrTenantNotConfigured, which is what
keeps one tenant's queries out of another tenant's data.
*/
package tenant
