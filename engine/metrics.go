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

import "github.com/prometheus/client_golang/prometheus"

var (
	promRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incentra_runs_total",
			Help: "Total commission runs by mode and terminal state",
		},
		[]string{"mode", "state"},
	)
	promRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "incentra_run_duration_seconds",
			Help:    "End-to-end commission run duration",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"mode"},
	)
	promAgentsEvaluated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "incentra_agents_evaluated_total",
			Help: "Total agent records evaluated across all runs",
		},
	)
	promRateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "incentra_runs_rate_limited_total",
			Help: "Total run requests rejected by per-tenant rate limiting",
		},
	)
)

func init() {
	prometheus.MustRegister(promRunsTotal)
	prometheus.MustRegister(promRunDuration)
	prometheus.MustRegister(promAgentsEvaluated)
	prometheus.MustRegister(promRateLimited)
}
