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

package rules

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"incentra/platform/shared/types"
)

// Adjustment transforms supported by adjustment rules.
const (
	TransformMultiply = "multiply"
	TransformAdd      = "add"
	TransformSubtract = "subtract"
	TransformCap      = "cap"
	TransformFloor    = "floor"
)

// namedFieldRule is a field rule with its owning attribute name, kept in
// a slice so evaluation order is deterministic.
type namedFieldRule struct {
	Field string
	Rule  types.FieldRule
	Err   error
}

// namedAdjustmentRule is an adjustment rule with its name and any
// configuration error found at compile time.
type namedAdjustmentRule struct {
	Name string
	Rule types.AdjustmentRule
	Err  error
}

// CompiledScheme is a scheme's rule set after load-time validation.
// Per-rule configuration errors are carried inside; they surface as
// failed outcomes at evaluation time and are listed in ConfigErrors so
// the orchestrator can block production runs on a misconfigured scheme.
type CompiledScheme struct {
	Qualifying  []namedFieldRule
	Exclusion   []namedFieldRule
	Credit      []namedFieldRule
	Adjustments []namedAdjustmentRule
	Custom      []compiledCustomRule

	ConfigErrors []error
}

// Evaluation is the outcome of running one record through a compiled
// rule set.
type Evaluation struct {
	Qualified  bool
	Excluded   bool
	BaseMetric decimal.Decimal

	Qualifying  []types.RuleOutcome
	Exclusions  []types.RuleOutcome
	Adjustments []types.Adjustment
	Credit      []types.RuleOutcome
	Custom      []types.RuleOutcome

	// CreditEligible reports whether the credit split should be applied
	// to this record's commission. True when every credit rule passes.
	CreditEligible bool
}

// Evaluator compiles scheme rule sets and evaluates them against agent
// records. Stateless and safe for concurrent use.
type Evaluator struct{}

// NewEvaluator creates a rule evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Compile validates a scheme's rules and builds the programs evaluated
// per record. Configuration problems are collected, not fatal: a scheme
// with config errors can still run simulation diagnostics.
func (e *Evaluator) Compile(scheme *types.Scheme) *CompiledScheme {
	cs := &CompiledScheme{}

	cs.Qualifying = compileFieldRules(scheme.Rules.Qualifying, &cs.ConfigErrors)
	cs.Exclusion = compileFieldRules(scheme.Rules.Exclusion, &cs.ConfigErrors)
	cs.Credit = compileFieldRules(scheme.Rules.Credit, &cs.ConfigErrors)

	names := make([]string, 0, len(scheme.Rules.Adjustment))
	for name := range scheme.Rules.Adjustment {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rule := scheme.Rules.Adjustment[name]
		compiled := namedAdjustmentRule{Name: name, Rule: rule}
		if err := validateFieldRule(name, rule.Condition); err != nil {
			compiled.Err = err
			cs.ConfigErrors = append(cs.ConfigErrors, err)
		} else if !validTransform(rule.Transform) {
			err := &types.RuleConfigurationError{
				Rule:   name,
				Reason: fmt.Sprintf("unknown adjustment transform '%s'", rule.Transform),
			}
			compiled.Err = err
			cs.ConfigErrors = append(cs.ConfigErrors, err)
		}
		cs.Adjustments = append(cs.Adjustments, compiled)
	}

	cs.Custom = compileCustomRules(scheme.CustomRules)
	for _, cr := range cs.Custom {
		if cr.Err != nil {
			cs.ConfigErrors = append(cs.ConfigErrors, cr.Err)
		}
	}

	return cs
}

// compileFieldRules validates a rule map and returns it in deterministic
// field order.
func compileFieldRules(ruleMap map[string]types.FieldRule, configErrors *[]error) []namedFieldRule {
	fields := make([]string, 0, len(ruleMap))
	for field := range ruleMap {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	out := make([]namedFieldRule, 0, len(fields))
	for _, field := range fields {
		compiled := namedFieldRule{Field: field, Rule: ruleMap[field]}
		if err := validateFieldRule(field, ruleMap[field]); err != nil {
			compiled.Err = err
			*configErrors = append(*configErrors, err)
		}
		out = append(out, compiled)
	}
	return out
}

// Evaluate runs one agent record through the compiled rule set.
func (e *Evaluator) Evaluate(cs *CompiledScheme, record *types.AgentRecord) *Evaluation {
	attrs := recordAttributes(record)

	ev := &Evaluation{
		Qualified:      true, // zero qualifying rules ⇒ qualifies by default
		CreditEligible: true,
		BaseMetric:     decimal.NewFromFloat(record.BaseMetric),
	}

	for _, r := range cs.Qualifying {
		outcome := evalNamedRule(r, attrs)
		ev.Qualifying = append(ev.Qualifying, outcome)
		if !outcome.Passed {
			ev.Qualified = false
		}
	}

	for _, r := range cs.Exclusion {
		passed, evidence := false, ""
		if r.Err != nil {
			evidence = r.Err.Error()
		} else {
			passed, evidence = evalFieldRule(r.Field, r.Rule, attrs)
		}
		ev.Exclusions = append(ev.Exclusions, types.RuleOutcome{Rule: r.Field, Passed: passed, Evidence: evidence})
		if passed {
			ev.Excluded = true
		}
	}
	if ev.Excluded {
		ev.Qualified = false
	}

	for _, r := range cs.Adjustments {
		if r.Err != nil {
			// Misconfigured adjustments never touch the metric; the
			// configuration error is reported at the scheme level.
			continue
		}
		condField := r.Rule.Condition.Field
		if condField == "" {
			condField = r.Name
		}
		holds, _ := evalFieldRule(condField, r.Rule.Condition, attrs)
		if !holds {
			continue
		}
		before := ev.BaseMetric
		ev.BaseMetric = applyTransform(ev.BaseMetric, r.Rule.Transform, decimal.NewFromFloat(r.Rule.Operand))
		ev.Adjustments = append(ev.Adjustments, types.Adjustment{
			Name:   r.Name,
			Before: decimalFloat(before),
			After:  decimalFloat(ev.BaseMetric),
		})
	}

	for _, r := range cs.Credit {
		outcome := evalNamedRule(r, attrs)
		ev.Credit = append(ev.Credit, outcome)
		if !outcome.Passed {
			ev.CreditEligible = false
		}
	}

	for _, cr := range cs.Custom {
		ev.Custom = append(ev.Custom, evalCustomRule(cr, attrs))
	}

	return ev
}

// evalNamedRule evaluates a named field rule, surfacing a compile-time
// configuration error as a failed outcome.
func evalNamedRule(r namedFieldRule, attrs map[string]interface{}) types.RuleOutcome {
	if r.Err != nil {
		return types.RuleOutcome{Rule: r.Field, Evidence: r.Err.Error()}
	}
	passed, evidence := evalFieldRule(r.Field, r.Rule, attrs)
	return types.RuleOutcome{Rule: r.Field, Passed: passed, Evidence: evidence}
}

// applyTransform applies an adjustment transform to the running metric.
func applyTransform(metric decimal.Decimal, transform string, operand decimal.Decimal) decimal.Decimal {
	switch transform {
	case TransformMultiply:
		return metric.Mul(operand)
	case TransformAdd:
		return metric.Add(operand)
	case TransformSubtract:
		return metric.Sub(operand)
	case TransformCap:
		if metric.GreaterThan(operand) {
			return operand
		}
		return metric
	case TransformFloor:
		if metric.LessThan(operand) {
			return operand
		}
		return metric
	default:
		return metric
	}
}

func validTransform(t string) bool {
	switch t {
	case TransformMultiply, TransformAdd, TransformSubtract, TransformCap, TransformFloor:
		return true
	}
	return false
}

// recordAttributes builds the attribute map rules evaluate against. The
// agent id and base metric are always visible alongside the record's own
// attributes.
func recordAttributes(record *types.AgentRecord) map[string]interface{} {
	attrs := make(map[string]interface{}, len(record.Attributes)+2)
	for k, v := range record.Attributes {
		attrs[k] = v
	}
	attrs["agentId"] = record.AgentID
	attrs["baseMetric"] = record.BaseMetric
	return attrs
}

func decimalFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
