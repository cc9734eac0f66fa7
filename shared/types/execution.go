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

package types

import "time"

// RunMode selects whether a run is a dry simulation or a production payout.
type RunMode string

const (
	ModeSimulation RunMode = "simulation"
	ModeProduction RunMode = "production"
)

// Valid reports whether m is a recognised run mode.
func (m RunMode) Valid() bool {
	return m == ModeSimulation || m == ModeProduction
}

// Tenant maps a tenant identifier to its isolated datastore. Created once
// via the administrative setup step; the execution engine never mutates it.
type Tenant struct {
	TenantID      string            `json:"tenant_id" bson:"tenant_id"`
	DatastoreURI  string            `json:"datastore_uri" bson:"datastore_uri"`
	Collections   map[string]string `json:"collections" bson:"collections"`
	SetupComplete bool              `json:"setup_complete" bson:"setup_complete"`
	CreatedAt     time.Time         `json:"created_at" bson:"created_at"`
}

// Well-known logical collection names in a tenant's collection map.
const (
	CollectionSchemes       = "schemes"
	CollectionExecutionLogs = "execution_logs"
	CollectionTransactions  = "transactions"
)

// AgentRecord is one agent's transaction input for a run. It is supplied
// by the transaction data source and is not persisted by the engine.
type AgentRecord struct {
	AgentID    string                 `json:"agent_id" bson:"agent_id"`
	BaseMetric float64                `json:"base_metric" bson:"base_metric"`
	Attributes map[string]interface{} `json:"attributes,omitempty" bson:"attributes,omitempty"`
}

// RuleOutcome records how one rule evaluated against one record, with the
// compared values preserved for audit display.
type RuleOutcome struct {
	Rule     string `json:"rule" bson:"rule"`
	Passed   bool   `json:"passed" bson:"passed"`
	Evidence string `json:"evidence,omitempty" bson:"evidence,omitempty"`
}

// Adjustment records a base-metric transform applied by an adjustment rule.
type Adjustment struct {
	Name   string  `json:"name" bson:"name"`
	Before float64 `json:"before" bson:"before"`
	After  float64 `json:"after" bson:"after"`
}

// CreditAmount is one role's share of a computed commission.
type CreditAmount struct {
	Role   string  `json:"role" bson:"role"`
	Amount float64 `json:"amount" bson:"amount"`
}

// AgentResult is the complete computation record for one agent. It is
// derived entirely from (AgentRecord, Scheme) and is never mutated after
// creation except by a registered post-processor.
type AgentResult struct {
	AgentID            string         `json:"agent_id" bson:"agent_id"`
	Qualified          bool           `json:"qualified" bson:"qualified"`
	Commission         float64        `json:"commission" bson:"commission"`
	TotalBaseMetric    float64        `json:"total_base_metric" bson:"total_base_metric"`
	QualifyingCriteria []RuleOutcome  `json:"qualifying_criteria,omitempty" bson:"qualifying_criteria,omitempty"`
	Exclusions         []RuleOutcome  `json:"exclusions,omitempty" bson:"exclusions,omitempty"`
	Adjustments        []Adjustment   `json:"adjustments,omitempty" bson:"adjustments,omitempty"`
	CreditCriteria     []RuleOutcome  `json:"credit_criteria,omitempty" bson:"credit_criteria,omitempty"`
	CustomLogic        []RuleOutcome  `json:"custom_logic,omitempty" bson:"custom_logic,omitempty"`
	CreditShares       []CreditAmount `json:"credit_shares,omitempty" bson:"credit_shares,omitempty"`
}

// RunSummary aggregates the per-agent results of one run.
type RunSummary struct {
	TotalAgents     int     `json:"total_agents" bson:"total_agents"`
	Passed          int     `json:"passed" bson:"passed"`
	Failed          int     `json:"failed" bson:"failed"`
	TotalCommission float64 `json:"total_commission" bson:"total_commission"`
}

// PostProcessingLog captures the outcome of the optional post-processing
// step. Status is "success", "error", "timeout", or "skipped".
type PostProcessingLog struct {
	Status    string    `json:"status" bson:"status"`
	Message   string    `json:"message,omitempty" bson:"message,omitempty"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// ExecutionLog is the immutable audit record of one run. It is created
// once per run and append-only: a failed run still produces a log
// carrying Error.
type ExecutionLog struct {
	RunID          string            `json:"run_id" bson:"run_id"`
	SchemeID       string            `json:"scheme_id" bson:"scheme_id"`
	TenantID       string            `json:"tenant_id" bson:"tenant_id"`
	Mode           RunMode           `json:"mode" bson:"mode"`
	Summary        RunSummary        `json:"summary" bson:"summary"`
	Agents         []AgentResult     `json:"agents,omitempty" bson:"agents,omitempty"`
	PostProcessing PostProcessingLog `json:"post_processing" bson:"post_processing"`
	Error          string            `json:"error,omitempty" bson:"error,omitempty"`
	ExecutedAt     time.Time         `json:"executed_at" bson:"executed_at"`
}

// LogSummary is the listing projection of an ExecutionLog, without the
// per-agent detail.
type LogSummary struct {
	RunID      string     `json:"run_id" bson:"run_id"`
	SchemeID   string     `json:"scheme_id" bson:"scheme_id"`
	Mode       RunMode    `json:"mode" bson:"mode"`
	Summary    RunSummary `json:"summary" bson:"summary"`
	Error      string     `json:"error,omitempty" bson:"error,omitempty"`
	ExecutedAt time.Time  `json:"executed_at" bson:"executed_at"`
}
