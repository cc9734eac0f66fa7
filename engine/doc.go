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

// Package engine drives commission runs end to end: request validation,
// tenant datastore acquisition, scheme compilation, per-agent rule
// evaluation over a bounded worker pool, optional post-processing, and
// durable append of the execution log. It also serves the HTTP API.
package engine
