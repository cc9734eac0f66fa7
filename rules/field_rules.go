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
	"strconv"
	"strings"
	"time"

	"incentra/platform/shared/types"
)

// operatorsByType is the closed operator table: which operators are legal
// for which declared field type. Anything outside this table is a
// configuration error reported at compile time.
var operatorsByType = map[types.FieldType]map[types.Operator]bool{
	types.FieldNumber: {
		types.OpEqual: true, types.OpNotEqual: true,
		types.OpGreater: true, types.OpLess: true,
		types.OpGreaterEqual: true, types.OpLessEqual: true,
	},
	types.FieldDate: {
		types.OpEqual: true, types.OpNotEqual: true,
		types.OpGreater: true, types.OpLess: true,
		types.OpGreaterEqual: true, types.OpLessEqual: true,
	},
	types.FieldString: {
		types.OpEqual: true, types.OpNotEqual: true,
		types.OpContains: true, types.OpStartsWith: true,
	},
	types.FieldBoolean: {
		types.OpEqual: true, types.OpNotEqual: true,
	},
}

// validateFieldRule checks the operator against the declared field type.
func validateFieldRule(field string, rule types.FieldRule) error {
	ft := rule.Type
	if ft == "" {
		ft = types.FieldString
	}
	allowed, ok := operatorsByType[ft]
	if !ok {
		return &types.RuleConfigurationError{Rule: field, Reason: fmt.Sprintf("unknown field type '%s'", rule.Type)}
	}
	if !allowed[rule.Operator] {
		return &types.RuleConfigurationError{
			Rule:   field,
			Reason: fmt.Sprintf("operator '%s' not supported for type '%s'", rule.Operator, ft),
		}
	}
	return nil
}

// evalFieldRule evaluates one field rule against a record attribute and
// returns the outcome plus an evidence string showing the compared values.
func evalFieldRule(field string, rule types.FieldRule, attrs map[string]interface{}) (bool, string) {
	raw, present := attrs[field]
	if !present {
		return false, fmt.Sprintf("%s is not present in record", field)
	}

	ft := rule.Type
	if ft == "" {
		ft = types.FieldString
	}

	switch ft {
	case types.FieldNumber:
		actual, err := toNumber(raw)
		if err != nil {
			return false, fmt.Sprintf("%s: %v", field, err)
		}
		expected, err := toNumber(rule.Value)
		if err != nil {
			return false, fmt.Sprintf("%s comparison value: %v", field, err)
		}
		passed := compareOrdered(actual, expected, rule.Operator)
		return passed, fmt.Sprintf("%s=%v %s %v", field, trimFloat(actual), rule.Operator, trimFloat(expected))

	case types.FieldDate:
		actual, err := toDate(raw)
		if err != nil {
			return false, fmt.Sprintf("%s: %v", field, err)
		}
		expected, err := toDate(rule.Value)
		if err != nil {
			return false, fmt.Sprintf("%s comparison value: %v", field, err)
		}
		passed := compareOrdered(float64(actual.UnixMilli()), float64(expected.UnixMilli()), rule.Operator)
		return passed, fmt.Sprintf("%s=%s %s %s",
			field, actual.Format("2006-01-02"), rule.Operator, expected.Format("2006-01-02"))

	case types.FieldBoolean:
		actual, ok := raw.(bool)
		if !ok {
			return false, fmt.Sprintf("%s=%v is not a boolean", field, raw)
		}
		expected, ok := rule.Value.(bool)
		if !ok {
			return false, fmt.Sprintf("%s comparison value %v is not a boolean", field, rule.Value)
		}
		passed := actual == expected
		if rule.Operator == types.OpNotEqual {
			passed = !passed
		}
		return passed, fmt.Sprintf("%s=%v %s %v", field, actual, rule.Operator, expected)

	default: // string
		actual := fmt.Sprintf("%v", raw)
		expected := fmt.Sprintf("%v", rule.Value)
		var passed bool
		switch rule.Operator {
		case types.OpEqual:
			passed = actual == expected
		case types.OpNotEqual:
			passed = actual != expected
		case types.OpContains:
			passed = strings.Contains(actual, expected)
		case types.OpStartsWith:
			passed = strings.HasPrefix(actual, expected)
		}
		return passed, fmt.Sprintf("%s=%q %s %q", field, actual, rule.Operator, expected)
	}
}

// compareOrdered applies an ordering operator to two numbers.
func compareOrdered(actual, expected float64, op types.Operator) bool {
	switch op {
	case types.OpEqual:
		return actual == expected
	case types.OpNotEqual:
		return actual != expected
	case types.OpGreater:
		return actual > expected
	case types.OpLess:
		return actual < expected
	case types.OpGreaterEqual:
		return actual >= expected
	case types.OpLessEqual:
		return actual <= expected
	default:
		return false
	}
}

// toNumber coerces the value shapes that survive JSON/BSON round-trips.
func toNumber(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%v (%T) is not a number", v, v)
	}
}

// toDate accepts time.Time or the common ISO date string forms.
func toDate(v interface{}) (time.Time, error) {
	switch d := v.(type) {
	case time.Time:
		return d, nil
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, d); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("%q is not a date", d)
	default:
		return time.Time{}, fmt.Errorf("%v (%T) is not a date", v, v)
	}
}

// trimFloat renders a number without a trailing .000000.
func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
