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

// Package payout converts a qualified, adjusted base metric into a
// commission amount and distributes it across credit-split participants.
// All arithmetic is decimal; floats only appear at the API boundary.
package payout

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"incentra/platform/shared/types"
)

// splitEpsilon is the tolerance on credit-split percentages summing to 100.
var splitEpsilon = decimal.NewFromFloat(0.01)

var oneHundred = decimal.NewFromInt(100)

// Calculator computes commissions from payout structures. Stateless and
// safe for concurrent use.
type Calculator struct{}

// NewCalculator creates a payout calculator.
func NewCalculator() *Calculator {
	return &Calculator{}
}

// ValidateStructure checks a payout structure at scheme-load time:
// tiers must be ordered by From and non-overlapping, and credit-split
// percentages must sum to 100 within epsilon. A violation is a
// RuleConfigurationError; no commission is ever computed from an invalid
// structure.
func (c *Calculator) ValidateStructure(p *types.PayoutStructure) error {
	if len(p.Tiers) == 0 {
		return &types.RuleConfigurationError{Rule: "payout.tiers", Reason: "at least one tier is required"}
	}

	tiers := sortedTiers(p.Tiers)
	for i, t := range tiers {
		unbounded := t.To == 0
		if !unbounded && t.To <= t.From {
			return &types.RuleConfigurationError{
				Rule:   "payout.tiers",
				Reason: fmt.Sprintf("tier %d: upper bound %v must exceed lower bound %v", i, t.To, t.From),
			}
		}
		if unbounded && i != len(tiers)-1 {
			return &types.RuleConfigurationError{
				Rule:   "payout.tiers",
				Reason: fmt.Sprintf("tier %d: only the last tier may be unbounded", i),
			}
		}
		if i > 0 {
			prev := tiers[i-1]
			if t.From < prev.To {
				return &types.RuleConfigurationError{
					Rule:   "payout.tiers",
					Reason: fmt.Sprintf("tier %d [%v, %v) overlaps tier %d [%v, %v)", i, t.From, t.To, i-1, prev.From, prev.To),
				}
			}
		}
		if t.Rate < 0 {
			return &types.RuleConfigurationError{
				Rule:   "payout.tiers",
				Reason: fmt.Sprintf("tier %d: negative rate %v", i, t.Rate),
			}
		}
	}

	if len(p.CreditSplit) > 0 {
		if err := validateSplit(p.CreditSplit); err != nil {
			return err
		}
	}

	return nil
}

// validateSplit asserts the percentages sum to 100 within epsilon. The
// split is never silently normalized.
func validateSplit(split []types.CreditShare) error {
	total := decimal.Zero
	for _, share := range split {
		if share.Percentage < 0 {
			return &types.RuleConfigurationError{
				Rule:   "payout.credit_split",
				Reason: fmt.Sprintf("role '%s' has negative percentage %v", share.Role, share.Percentage),
			}
		}
		total = total.Add(decimal.NewFromFloat(share.Percentage))
	}
	if total.Sub(oneHundred).Abs().GreaterThan(splitEpsilon) {
		return &types.RuleConfigurationError{
			Rule:   "payout.credit_split",
			Reason: fmt.Sprintf("percentages sum to %s, expected 100", total.String()),
		}
	}
	return nil
}

// Commission converts a base metric into a commission amount. The
// applicable tier is the one where From <= base < To; the last tier may
// be unbounded (To == 0). Percentage mode multiplies the base by the
// tier rate; flat mode pays the tier rate as the amount. A base outside
// every tier earns zero.
func (c *Calculator) Commission(base decimal.Decimal, p *types.PayoutStructure) decimal.Decimal {
	tiers := sortedTiers(p.Tiers)
	for i, t := range tiers {
		from := decimal.NewFromFloat(t.From)
		if base.LessThan(from) {
			continue
		}
		unbounded := t.To == 0 && i == len(tiers)-1
		if !unbounded && !base.LessThan(decimal.NewFromFloat(t.To)) {
			continue
		}

		rate := decimal.NewFromFloat(t.Rate)
		if p.IsPercentage {
			return base.Mul(rate)
		}
		return rate
	}
	return decimal.Zero
}

// SplitCredit distributes a commission across the credit-split roles.
// Each share equals commission * percentage/100; the shares sum to the
// commission within rounding epsilon.
func (c *Calculator) SplitCredit(commission decimal.Decimal, split []types.CreditShare) ([]types.CreditAmount, error) {
	if len(split) == 0 {
		return nil, nil
	}
	if err := validateSplit(split); err != nil {
		return nil, err
	}

	out := make([]types.CreditAmount, 0, len(split))
	for _, share := range split {
		pct := decimal.NewFromFloat(share.Percentage)
		amount := commission.Mul(pct).Div(oneHundred)
		f, _ := amount.Float64()
		out = append(out, types.CreditAmount{Role: share.Role, Amount: f})
	}
	return out, nil
}

// sortedTiers returns the tiers ordered by From without mutating the
// scheme's slice.
func sortedTiers(tiers []types.Tier) []types.Tier {
	out := make([]types.Tier, len(tiers))
	copy(out, tiers)
	sort.Slice(out, func(i, j int) bool { return out[i].From < out[j].From })
	return out
}
