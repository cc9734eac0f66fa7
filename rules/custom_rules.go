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
	"regexp"
	"sort"
	"strings"

	"github.com/google/cel-go/cel"

	"incentra/platform/shared/types"
)

// celCostLimit caps the computational cost of a single custom-rule
// evaluation so a pathological expression cannot stall a run.
const celCostLimit = 10000

// compiledCustomRule is one custom rule after CEL compilation. A rule
// that failed to compile carries its error and always fails closed.
type compiledCustomRule struct {
	Name     string
	Criteria string
	Program  cel.Program
	Err      error
}

// celKeywords are identifiers that must not be declared as record
// attribute variables.
var celKeywords = map[string]bool{
	"true": true, "false": true, "null": true, "in": true,
	"size": true, "matches": true, "contains": true, "startsWith": true,
	"endsWith": true, "has": true, "int": true, "uint": true,
	"double": true, "string": true, "bool": true, "bytes": true,
	"list": true, "map": true, "type": true, "dyn": true,
	"timestamp": true, "duration": true,
}

var identPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// compileCustomRules compiles every custom rule of a scheme. Compilation
// failures are recorded per rule, never returned as a hard error.
func compileCustomRules(customRules []types.CustomRule) []compiledCustomRule {
	out := make([]compiledCustomRule, 0, len(customRules))
	for _, cr := range customRules {
		compiled := compiledCustomRule{Name: cr.Name, Criteria: cr.Criteria}

		expr := normalizeEquality(cr.Criteria)
		prg, err := compileExpression(expr)
		if err != nil {
			compiled.Err = &types.RuleExpressionError{Rule: cr.Name, Phase: "compile", Cause: err}
		} else {
			compiled.Program = prg
		}
		out = append(out, compiled)
	}
	return out
}

// compileExpression builds a CEL program for one boolean expression.
// Every bare identifier in the expression is declared as a dynamic
// variable; the expression has no access to anything else.
func compileExpression(expr string) (cel.Program, error) {
	var opts []cel.EnvOption
	for _, name := range extractIdentifiers(expr) {
		opts = append(opts, cel.Variable(name, cel.DynType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}

	return env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(celCostLimit),
	)
}

// evalCustomRule runs a compiled custom rule against the record's
// attributes. Any failure (compile, eval, non-boolean result) fails the
// rule closed and is reported in the outcome notes.
func evalCustomRule(rule compiledCustomRule, attrs map[string]interface{}) types.RuleOutcome {
	outcome := types.RuleOutcome{Rule: rule.Name}

	if rule.Err != nil {
		outcome.Evidence = rule.Err.Error()
		return outcome
	}

	out, _, err := rule.Program.Eval(attrs)
	if err != nil {
		exprErr := &types.RuleExpressionError{Rule: rule.Name, Phase: "eval", Cause: err}
		outcome.Evidence = exprErr.Error()
		return outcome
	}

	passed, ok := out.Value().(bool)
	if !ok {
		outcome.Evidence = fmt.Sprintf("expression result is %T, not boolean", out.Value())
		return outcome
	}

	outcome.Passed = passed
	outcome.Evidence = fmt.Sprintf("criteria %q evaluated to %v", rule.Criteria, passed)
	return outcome
}

// extractIdentifiers returns the bare identifiers referenced by an
// expression, excluding string literals, member accesses, and CEL
// keywords, sorted for deterministic environments.
func extractIdentifiers(expr string) []string {
	stripped := stripStringLiterals(expr)

	seen := make(map[string]bool)
	for _, loc := range identPattern.FindAllStringIndex(stripped, -1) {
		name := stripped[loc[0]:loc[1]]
		if celKeywords[name] {
			continue
		}
		// Member accesses (x.contains(...)) are methods, not variables.
		if loc[0] > 0 && stripped[loc[0]-1] == '.' {
			continue
		}
		seen[name] = true
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// stripStringLiterals blanks out single- and double-quoted literals so
// their contents are not mistaken for identifiers.
func stripStringLiterals(expr string) string {
	var b strings.Builder
	b.Grow(len(expr))

	var quote byte
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
			b.WriteByte(' ')
		case c == '\'' || c == '"':
			quote = c
			b.WriteByte(' ')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// normalizeEquality rewrites the legacy single '=' comparison operator to
// CEL's '==' without touching '==', '!=', '>=', or '<='.
func normalizeEquality(expr string) string {
	var b strings.Builder
	b.Grow(len(expr) + 4)

	var quote byte
	for i := 0; i < len(expr); i++ {
		c := expr[i]

		if quote != 0 {
			b.WriteByte(c)
			if c == quote {
				quote = 0
			}
			continue
		}

		switch {
		case c == '\'' || c == '"':
			quote = c
			b.WriteByte(c)
		case c == '=':
			prev := byte(0)
			if i > 0 {
				prev = expr[i-1]
			}
			next := byte(0)
			if i+1 < len(expr) {
				next = expr[i+1]
			}
			if prev == '=' || prev == '!' || prev == '<' || prev == '>' || next == '=' {
				b.WriteByte(c)
			} else {
				b.WriteString("==")
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
