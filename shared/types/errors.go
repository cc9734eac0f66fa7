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

import (
	"errors"
	"fmt"
)

// Sentinel errors for tenant configuration problems. Both are
// non-retryable until an operator completes the tenant setup.
var (
	ErrTenantNotConfigured   = errors.New("tenant not configured")
	ErrTenantSetupIncomplete = errors.New("tenant setup incomplete")

	// ErrDuplicateProductionRun guards against double-booking a
	// production run on a scheme already in ProdRun status.
	ErrDuplicateProductionRun = errors.New("scheme already has a production run")
)

// ValidationError reports bad run input. Non-retryable, surfaced to the
// caller immediately.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// ConnectionErrorKind classifies why a tenant datastore connection failed.
type ConnectionErrorKind string

const (
	ConnAuthFailure  ConnectionErrorKind = "auth_failure"
	ConnUnreachable  ConnectionErrorKind = "host_unreachable"
	ConnMalformedURI ConnectionErrorKind = "malformed_uri"
	ConnTimeout      ConnectionErrorKind = "timeout"
)

// ConnectionError reports a failed connection to a tenant's datastore.
// Retryable with backoff; Kind distinguishes the causative subtype for
// diagnostics.
type ConnectionError struct {
	TenantID string
	Kind     ConnectionErrorKind
	Cause    error
}

func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("connection failed for tenant %s (%s): %v", e.TenantID, e.Kind, e.Cause)
	}
	return fmt.Sprintf("connection failed for tenant %s (%s)", e.TenantID, e.Kind)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// RuleConfigurationError reports a bad tier, credit-split, or operator
// configuration. Reported per scheme; blocks production runs but not
// simulation diagnostics.
type RuleConfigurationError struct {
	Rule   string
	Reason string
}

func (e *RuleConfigurationError) Error() string {
	return fmt.Sprintf("rule configuration error: %s: %s", e.Rule, e.Reason)
}

// RuleExpressionError reports a single custom-rule expression that failed
// to parse or evaluate. The rule fails closed; the run is not aborted.
type RuleExpressionError struct {
	Rule  string
	Phase string // "compile" or "eval"
	Cause error
}

func (e *RuleExpressionError) Error() string {
	return fmt.Sprintf("rule expression error: %s (%s): %v", e.Rule, e.Phase, e.Cause)
}

func (e *RuleExpressionError) Unwrap() error { return e.Cause }

// PostProcessingError reports a missing, failing, or timed-out
// post-processor. The run degrades gracefully and still completes.
type PostProcessingError struct {
	Ref    string
	Reason string
	Cause  error
}

func (e *PostProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("post-processing failed: %s: %s: %v", e.Ref, e.Reason, e.Cause)
	}
	return fmt.Sprintf("post-processing failed: %s: %s", e.Ref, e.Reason)
}

func (e *PostProcessingError) Unwrap() error { return e.Cause }

// PersistenceError reports a failed execution-log write after the bounded
// retry budget was exhausted. Escalated loudly: it threatens audit
// integrity.
type PersistenceError struct {
	Op       string
	Attempts int
	Cause    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed: %s after %d attempts: %v", e.Op, e.Attempts, e.Cause)
}

func (e *PersistenceError) Unwrap() error { return e.Cause }
