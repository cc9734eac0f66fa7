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
Package rules evaluates a scheme's rule set against agent transaction
records.

# Rule kinds

Field rules (qualifying, exclusion, adjustment conditions, credit) are a
closed comparison form: one record attribute, one operator from the set
declared for the attribute's data type, one comparison value. They are
compiled into a validated program at scheme-load time, so a bad operator
is rejected before any run instead of throwing mid-batch.

Custom rules are free-form boolean expressions over record attributes,
e.g.

	orderValue > 10000 && customerSegment == 'Enterprise'

They are compiled and evaluated with CEL under a hard cost limit, with no
access to host state, I/O, or reflection. A malformed or failing
expression fails closed: the rule does not pass, a diagnostic is recorded,
and the run continues.

# Semantics

Qualification is the conjunction of all qualifying rules; a record with
zero qualifying rules qualifies by default. Any exclusion rule that holds
excludes the record regardless of qualification. Adjustment rules whose
condition holds transform the running base metric in rule-name order and
record the before/after values. Custom-rule outcomes are recorded for the
audit trail. Credit rules gate whether the credit split is applied to the
computed commission.
*/
package rules
