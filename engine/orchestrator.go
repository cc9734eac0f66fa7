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

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"incentra/platform/payout"
	"incentra/platform/postproc"
	"incentra/platform/rules"
	"incentra/platform/shared/logger"
	"incentra/platform/shared/types"
	"incentra/platform/store"
	"incentra/platform/tenant"
)

// RunState is where a run is in its lifecycle. Every run ends in
// Completed or Failed; a Failed run still produces an execution log
// whenever a tenant datastore was reachable.
type RunState string

const (
	StateInitialized    RunState = "Initialized"
	StateInputValidated RunState = "InputValidated"
	StateConnected      RunState = "Connected"
	StateEvaluated      RunState = "Evaluated"
	StatePostProcessed  RunState = "PostProcessed"
	StatePersisted      RunState = "Persisted"
	StateCompleted      RunState = "Completed"
	StateFailed         RunState = "Failed"
)

// DefaultWorkers is the evaluation worker pool size.
const DefaultWorkers = 8

// ErrRateLimited is returned when a tenant exceeds its run-start budget.
var ErrRateLimited = errors.New("run rate limit exceeded for tenant")

// RunRequest identifies one commission run to execute.
type RunRequest struct {
	TenantID string        `json:"tenant_id"`
	SchemeID string        `json:"scheme_id"`
	Mode     types.RunMode `json:"mode"`
}

// RunResult is what the caller gets back. RunID is set whenever an
// execution log was written, including for failed runs.
type RunResult struct {
	RunID                string           `json:"run_id,omitempty"`
	State                RunState         `json:"state"`
	Summary              types.RunSummary `json:"summary"`
	PostProcessingStatus string           `json:"post_processing_status,omitempty"`
	Err                  error            `json:"-"`
}

// Options configures an Orchestrator beyond its wired dependencies.
type Options struct {
	// Workers bounds concurrent per-agent evaluation. Zero means
	// DefaultWorkers.
	Workers int
	// Source overrides the agent data source. Nil means the tenant's
	// transactions collection, with a synthetic fallback for empty
	// simulation runs.
	Source AgentSource
}

// schemeStore is the slice of store.SchemeRepository the run path needs.
type schemeStore interface {
	Get(ctx context.Context, schemeID string) (*types.Scheme, error)
	UpdateStatus(ctx context.Context, schemeID string, status types.SchemeStatus) error
}

// logStore is the slice of store.ExecutionLogStore the run path needs.
type logStore interface {
	Append(ctx context.Context, execLog *types.ExecutionLog) error
	FindByRunID(ctx context.Context, runID string) (*types.ExecutionLog, error)
	ListByScheme(ctx context.Context, schemeID string, limit int64) ([]types.LogSummary, error)
	HasProductionRun(ctx context.Context, schemeID string) (bool, error)
}

// Orchestrator drives commission runs through the full state machine.
// Safe for concurrent use; all per-run state lives on the stack.
type Orchestrator struct {
	router     *tenant.Router
	host       *postproc.Host
	limiter    *RateLimiter
	evaluator  *rules.Evaluator
	calculator *payout.Calculator
	workers    int
	source     AgentSource
	logger     *logger.Logger

	// Seams over the datastore layer so the run path is testable
	// without a live Mongo.
	acquire    func(ctx context.Context, tenantID string) (*tenant.Handle, error)
	newSchemes func(h *tenant.Handle) schemeStore
	newLogs    func(h *tenant.Handle) logStore
}

// NewOrchestrator wires an orchestrator. limiter may be nil to disable
// rate limiting.
func NewOrchestrator(router *tenant.Router, host *postproc.Host, limiter *RateLimiter, opts Options) *Orchestrator {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Orchestrator{
		router:     router,
		host:       host,
		limiter:    limiter,
		evaluator:  rules.NewEvaluator(),
		calculator: payout.NewCalculator(),
		workers:    workers,
		source:     opts.Source,
		logger:     logger.New("ExecutionOrchestrator"),
		acquire:    router.Acquire,
		newSchemes: func(h *tenant.Handle) schemeStore { return store.NewSchemeRepository(h) },
		newLogs:    func(h *tenant.Handle) logStore { return store.NewExecutionLogStore(h) },
	}
}

// RunExecution executes one commission run end to end and always
// returns a RunResult; Err is set on failure. Whenever an execution log
// could be written, including for failed runs, RunID points at it.
func (o *Orchestrator) RunExecution(ctx context.Context, req RunRequest) RunResult {
	started := time.Now()

	result := func(res RunResult) RunResult {
		promRunsTotal.WithLabelValues(string(req.Mode), string(res.State)).Inc()
		promRunDuration.WithLabelValues(string(req.Mode)).Observe(time.Since(started).Seconds())
		return res
	}

	// Initialized -> InputValidated. Rejected input is still an
	// auditable attempt: when the tenant's datastore is reachable an
	// error-only log is written for it.
	if err := validateRequest(req); err != nil {
		o.logger.Error(req.TenantID, "", "Run request rejected", map[string]interface{}{"error": err.Error()})
		res := RunResult{State: StateFailed, Err: err}
		res.RunID = o.appendRejectionLog(ctx, req, err)
		return result(res)
	}

	if o.limiter != nil && !o.limiter.Allow(ctx, req.TenantID) {
		return result(RunResult{State: StateFailed, Err: fmt.Errorf("%w: %s", ErrRateLimited, req.TenantID)})
	}

	// InputValidated -> Connected
	handle, err := o.acquire(ctx, req.TenantID)
	if err != nil {
		o.logger.Error(req.TenantID, "", "Tenant datastore unavailable", map[string]interface{}{"error": err.Error()})
		return result(RunResult{State: StateFailed, Err: err})
	}
	schemes := o.newSchemes(handle)
	logs := o.newLogs(handle)

	runID := store.NewRunID(time.Now().UTC())
	execLog := &types.ExecutionLog{
		RunID:      runID,
		SchemeID:   req.SchemeID,
		TenantID:   req.TenantID,
		Mode:       req.Mode,
		ExecutedAt: time.Now().UTC(),
	}

	// From here on every failure still appends the log.
	fail := func(err error) RunResult {
		execLog.Error = err.Error()
		if appendErr := logs.Append(ctx, execLog); appendErr != nil {
			o.logger.Error(req.TenantID, runID, "Failed to persist error log", map[string]interface{}{"error": appendErr.Error()})
			return result(RunResult{State: StateFailed, Err: err})
		}
		return result(RunResult{RunID: runID, State: StateFailed, Summary: execLog.Summary, Err: err})
	}

	scheme, err := schemes.Get(ctx, req.SchemeID)
	if err != nil {
		return fail(err)
	}

	// Production double-run guard: non-retryable, no status transition,
	// but the attempt is still logged. The scheme status alone misses a
	// crash between log append and the status flip, so the log store is
	// consulted too.
	if req.Mode == types.ModeProduction {
		hasRun, err := logs.HasProductionRun(ctx, req.SchemeID)
		if err != nil {
			return fail(err)
		}
		if hasRun || scheme.Status == types.StatusProdRun {
			o.logger.Warn(req.TenantID, runID, "Duplicate production run rejected", map[string]interface{}{"schemeId": req.SchemeID})
			return fail(fmt.Errorf("%w: scheme %s", types.ErrDuplicateProductionRun, req.SchemeID))
		}
	}

	compiled := o.evaluator.Compile(scheme)
	configErrs := append([]error{}, compiled.ConfigErrors...)
	payoutValid := true
	if err := o.calculator.ValidateStructure(&scheme.Payout); err != nil {
		configErrs = append(configErrs, err)
		payoutValid = false
	}
	if len(configErrs) > 0 {
		// Configuration problems block production; simulations proceed
		// as diagnostics with the problems recorded on the log. An
		// invalid payout structure never produces commission amounts,
		// only qualification diagnostics.
		if req.Mode == types.ModeProduction {
			return fail(&types.RuleConfigurationError{
				Rule:   req.SchemeID,
				Reason: joinErrors(configErrs),
			})
		}
		execLog.Error = "configuration diagnostics: " + joinErrors(configErrs)
	}

	records, err := o.fetchRecords(ctx, handle, scheme, req.Mode)
	if err != nil {
		return fail(err)
	}

	// Connected -> Evaluated
	agents, summary, evalErr := o.evaluateBatch(ctx, compiled, &scheme.Payout, payoutValid, records)
	if evalErr != nil {
		return fail(evalErr)
	}
	execLog.Agents = agents
	execLog.Summary = summary
	promAgentsEvaluated.Add(float64(summary.TotalAgents))

	// Evaluated -> PostProcessed. Always advances; failures degrade to
	// an error entry on the log.
	execLog = o.host.Invoke(ctx, scheme.PostProcessorRef, execLog, postproc.RunContext{
		SchemeID:       scheme.SchemeID,
		TenantID:       req.TenantID,
		Mode:           req.Mode,
		Timestamp:      started.UTC(),
		SchemeSnapshot: scheme,
	})

	// PostProcessed -> Persisted
	if err := logs.Append(ctx, execLog); err != nil {
		o.logger.Error(req.TenantID, runID, "Failed to persist execution log", map[string]interface{}{"error": err.Error()})
		return result(RunResult{State: StateFailed, Err: err})
	}

	// Only production success transitions the scheme; simulation runs
	// are repeatable and never touch scheme status.
	if req.Mode == types.ModeProduction {
		if err := schemes.UpdateStatus(ctx, scheme.SchemeID, types.StatusProdRun); err != nil {
			// The audit log is written; report the half-applied state
			// rather than pretending the run failed outright.
			o.logger.Error(req.TenantID, runID, "Run persisted but status transition failed", map[string]interface{}{"error": err.Error()})
			return result(RunResult{RunID: runID, State: StateFailed, Summary: execLog.Summary, Err: err})
		}
	}

	o.logger.InfoWithDuration(req.TenantID, runID, "Run completed", float64(time.Since(started).Milliseconds()), map[string]interface{}{
		"schemeId":        req.SchemeID,
		"mode":            string(req.Mode),
		"totalAgents":     summary.TotalAgents,
		"totalCommission": summary.TotalCommission,
	})

	return result(RunResult{
		RunID:                runID,
		State:                StateCompleted,
		Summary:              execLog.Summary,
		PostProcessingStatus: execLog.PostProcessing.Status,
	})
}

// appendRejectionLog writes an error-only log for a rejected request
// and returns its run ID, or "" when the tenant (and thus a datastore)
// cannot be resolved from the request.
func (o *Orchestrator) appendRejectionLog(ctx context.Context, req RunRequest, cause error) string {
	if req.TenantID == "" {
		return ""
	}
	handle, err := o.acquire(ctx, req.TenantID)
	if err != nil {
		return ""
	}
	runID := store.NewRunID(time.Now().UTC())
	rejection := &types.ExecutionLog{
		RunID:      runID,
		SchemeID:   req.SchemeID,
		TenantID:   req.TenantID,
		Mode:       req.Mode,
		ExecutedAt: time.Now().UTC(),
		Error:      cause.Error(),
	}
	if err := o.newLogs(handle).Append(ctx, rejection); err != nil {
		o.logger.Error(req.TenantID, runID, "Failed to persist rejection log", map[string]interface{}{"error": err.Error()})
		return ""
	}
	return runID
}

// GetExecutionLog fetches one run's full log from the tenant's store.
func (o *Orchestrator) GetExecutionLog(ctx context.Context, tenantID, runID string) (*types.ExecutionLog, error) {
	handle, err := o.acquire(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return o.newLogs(handle).FindByRunID(ctx, runID)
}

// ListExecutionLogs returns log summaries for a scheme, newest first.
func (o *Orchestrator) ListExecutionLogs(ctx context.Context, tenantID, schemeID string) ([]types.LogSummary, error) {
	handle, err := o.acquire(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return o.newLogs(handle).ListByScheme(ctx, schemeID, 0)
}

func validateRequest(req RunRequest) error {
	if req.TenantID == "" {
		return &types.ValidationError{Field: "tenant_id", Reason: "required"}
	}
	if req.SchemeID == "" {
		return &types.ValidationError{Field: "scheme_id", Reason: "required"}
	}
	if !req.Mode.Valid() {
		return &types.ValidationError{Field: "mode", Reason: "must be 'simulation' or 'production'"}
	}
	return nil
}

func (o *Orchestrator) fetchRecords(ctx context.Context, handle *tenant.Handle, scheme *types.Scheme, mode types.RunMode) ([]types.AgentRecord, error) {
	src := o.source
	if src == nil {
		src = NewTransactionSource(handle)
	}
	records, err := src.Fetch(ctx, scheme)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 && mode == types.ModeSimulation && o.source == nil {
		// Schemes with no transaction data yet can still be simulated.
		return (&SyntheticSource{}).Fetch(ctx, scheme)
	}
	return records, nil
}

// evaluateBatch runs every record through the rule evaluator and payout
// calculator over a bounded worker pool. Cancellation is cooperative at
// dispatch boundaries; a cancelled batch returns the context error and
// no results. A panic in any worker is captured and fails the batch.
// payoutValid false suppresses all commission amounts; qualification
// results are still produced as diagnostics.
func (o *Orchestrator) evaluateBatch(ctx context.Context, cs *rules.CompiledScheme, p *types.PayoutStructure, payoutValid bool, records []types.AgentRecord) ([]types.AgentResult, types.RunSummary, error) {
	results := make([]types.AgentResult, len(records))

	var (
		wg       sync.WaitGroup
		panicMu  sync.Mutex
		panicErr error
	)
	sem := make(chan struct{}, o.workers)

	for i := range records {
		if err := ctx.Err(); err != nil {
			wg.Wait()
			return nil, types.RunSummary{}, fmt.Errorf("run cancelled: %w", err)
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					panicMu.Lock()
					if panicErr == nil {
						panicErr = fmt.Errorf("evaluation panicked on agent %s: %v", records[idx].AgentID, r)
					}
					panicMu.Unlock()
				}
			}()
			results[idx] = o.evaluateOne(cs, p, payoutValid, &records[idx])
		}(i)
	}
	wg.Wait()

	if panicErr != nil {
		return nil, types.RunSummary{}, panicErr
	}

	summary := types.RunSummary{TotalAgents: len(results)}
	for _, r := range results {
		if r.Qualified {
			summary.Passed++
			summary.TotalCommission += r.Commission
		} else {
			summary.Failed++
		}
	}
	return results, summary, nil
}

// evaluateOne is the per-agent unit of work: rule evaluation, tiered
// commission, credit split.
func (o *Orchestrator) evaluateOne(cs *rules.CompiledScheme, p *types.PayoutStructure, payoutValid bool, record *types.AgentRecord) types.AgentResult {
	ev := o.evaluator.Evaluate(cs, record)

	res := types.AgentResult{
		AgentID:            record.AgentID,
		Qualified:          ev.Qualified,
		QualifyingCriteria: ev.Qualifying,
		Exclusions:         ev.Exclusions,
		Adjustments:        ev.Adjustments,
		CreditCriteria:     ev.Credit,
		CustomLogic:        ev.Custom,
	}
	res.TotalBaseMetric, _ = ev.BaseMetric.Float64()

	if !ev.Qualified || !payoutValid {
		return res
	}

	commission := o.calculator.Commission(ev.BaseMetric, p)
	res.Commission, _ = commission.Float64()

	if ev.CreditEligible && len(p.CreditSplit) > 0 {
		shares, err := o.calculator.SplitCredit(commission, p.CreditSplit)
		if err == nil {
			res.CreditShares = shares
		}
	}
	return res
}

func joinErrors(errs []error) string {
	parts := make([]string, 0, len(errs))
	for _, err := range errs {
		parts = append(parts, err.Error())
	}
	return strings.Join(parts, "; ")
}
