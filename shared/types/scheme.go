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

// SchemeStatus tracks where a scheme is in its lifecycle.
// A scheme is immutable once its status leaves Draft; the orchestrator
// enforces this, not the storage layer.
type SchemeStatus string

const (
	StatusDraft     SchemeStatus = "Draft"
	StatusApproved  SchemeStatus = "Approved"
	StatusSimulated SchemeStatus = "Simulated"
	StatusProdRun   SchemeStatus = "ProdRun"
)

// FieldType declares the data type of a record attribute referenced by a
// field rule. The operator set permitted for a rule depends on this type.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldDate    FieldType = "date"
)

// Operator is a comparison operator in a field rule.
type Operator string

const (
	OpEqual        Operator = "="
	OpNotEqual     Operator = "!="
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpContains     Operator = "contains"
	OpStartsWith   Operator = "starts_with"
)

// FieldRule is a single condition on one record attribute. In the rule
// maps the attribute is the map key; Field is only set where the rule is
// not keyed by attribute (adjustment conditions).
type FieldRule struct {
	Field    string      `json:"field,omitempty" bson:"field,omitempty"`
	Operator Operator    `json:"operator" bson:"operator"`
	Value    interface{} `json:"value" bson:"value"`
	Type     FieldType   `json:"type" bson:"type"`
}

// AdjustmentRule transforms the running base metric when its condition
// holds. Transform is one of "multiply", "add", "subtract", "cap", "floor".
type AdjustmentRule struct {
	Condition FieldRule `json:"condition" bson:"condition"`
	Transform string    `json:"transform" bson:"transform"`
	Operand   float64   `json:"operand" bson:"operand"`
}

// CustomRule carries a free-form boolean expression over record attributes,
// e.g. `orderValue > 10000 && customerSegment == 'Enterprise'`.
type CustomRule struct {
	Name     string `json:"name" bson:"name"`
	Criteria string `json:"criteria" bson:"criteria"`
}

// RuleSet groups the configured rules of a scheme by purpose.
type RuleSet struct {
	Qualifying map[string]FieldRule      `json:"qualifying,omitempty" bson:"qualifying,omitempty"`
	Exclusion  map[string]FieldRule      `json:"exclusion,omitempty" bson:"exclusion,omitempty"`
	Adjustment map[string]AdjustmentRule `json:"adjustment,omitempty" bson:"adjustment,omitempty"`
	Credit     map[string]FieldRule      `json:"credit,omitempty" bson:"credit,omitempty"`
}

// Tier maps a contiguous base-metric range to a payout rate.
// To == 0 on the last tier means the range is unbounded above.
type Tier struct {
	From float64 `json:"from" bson:"from"`
	To   float64 `json:"to" bson:"to"`
	Rate float64 `json:"rate" bson:"rate"`
}

// CreditShare assigns a percentage of a commission to a participant role.
type CreditShare struct {
	Role       string  `json:"role" bson:"role"`
	Percentage float64 `json:"percentage" bson:"percentage"`
}

// PayoutStructure defines how a qualified base metric becomes a commission.
type PayoutStructure struct {
	IsPercentage bool          `json:"is_percentage" bson:"is_percentage"`
	Tiers        []Tier        `json:"tiers" bson:"tiers"`
	CreditSplit  []CreditShare `json:"credit_split,omitempty" bson:"credit_split,omitempty"`
}

// Scheme is a versioned incentive-compensation rule definition for a period.
type Scheme struct {
	SchemeID         string          `json:"scheme_id" bson:"scheme_id"`
	Name             string          `json:"name" bson:"name"`
	EffectiveStart   time.Time       `json:"effective_start" bson:"effective_start"`
	EffectiveEnd     time.Time       `json:"effective_end" bson:"effective_end"`
	Status           SchemeStatus    `json:"status" bson:"status"`
	QuotaAmount      float64         `json:"quota_amount" bson:"quota_amount"`
	RevenueBase      float64         `json:"revenue_base" bson:"revenue_base"`
	Rules            RuleSet         `json:"rules" bson:"rules"`
	CustomRules      []CustomRule    `json:"custom_rules,omitempty" bson:"custom_rules,omitempty"`
	Payout           PayoutStructure `json:"payout" bson:"payout"`
	PostProcessorRef string          `json:"post_processor_ref,omitempty" bson:"post_processor_ref,omitempty"`
	VersionOf        string          `json:"version_of,omitempty" bson:"version_of,omitempty"`
	CreatedAt        time.Time       `json:"created_at" bson:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" bson:"updated_at"`
}
