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
	"testing"
	"time"

	"incentra/platform/postproc"
	"incentra/platform/rules"
	"incentra/platform/shared/types"
	"incentra/platform/store"
	"incentra/platform/tenant"
)

func newTestOrchestrator(dir tenant.Directory) *Orchestrator {
	router := tenant.NewRouter(dir)
	router.SetConnectTimeout(100 * time.Millisecond)
	return NewOrchestrator(router, postproc.NewHost(time.Second), nil, Options{})
}

func TestRunExecution_Validation(t *testing.T) {
	o := newTestOrchestrator(tenant.NewMemoryDirectory())

	tests := []struct {
		name string
		req  RunRequest
	}{
		{"missing tenant", RunRequest{SchemeID: "SCH_001", Mode: types.ModeSimulation}},
		{"missing scheme", RunRequest{TenantID: "acme", Mode: types.ModeSimulation}},
		{"bad mode", RunRequest{TenantID: "acme", SchemeID: "SCH_001", Mode: "dry-run"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := o.RunExecution(context.Background(), tt.req)
			if res.State != StateFailed {
				t.Errorf("State = %s, want Failed", res.State)
			}
			var vErr *types.ValidationError
			if !errors.As(res.Err, &vErr) {
				t.Errorf("Err = %v, want *ValidationError", res.Err)
			}
			if res.RunID != "" {
				t.Errorf("RunID = %q, want empty before a datastore was reachable", res.RunID)
			}
		})
	}
}

func TestRunExecution_UnknownTenant(t *testing.T) {
	o := newTestOrchestrator(tenant.NewMemoryDirectory())

	res := o.RunExecution(context.Background(), RunRequest{
		TenantID: "ghost", SchemeID: "SCH_001", Mode: types.ModeSimulation,
	})
	if res.State != StateFailed {
		t.Errorf("State = %s, want Failed", res.State)
	}
	if !errors.Is(res.Err, types.ErrTenantNotConfigured) {
		t.Errorf("Err = %v, want ErrTenantNotConfigured", res.Err)
	}
}

func TestRunExecution_SetupIncompleteTenant(t *testing.T) {
	dir := tenant.NewMemoryDirectory()
	_ = dir.SaveTenant(context.Background(), &types.Tenant{
		TenantID:     "pending",
		DatastoreURI: "mongodb://no-such-host.invalid:27017/pending",
	})
	o := newTestOrchestrator(dir)

	res := o.RunExecution(context.Background(), RunRequest{
		TenantID: "pending", SchemeID: "SCH_001", Mode: types.ModeProduction,
	})
	if !errors.Is(res.Err, types.ErrTenantSetupIncomplete) {
		t.Errorf("Err = %v, want ErrTenantSetupIncomplete", res.Err)
	}
}

func TestEvaluateBatch_FullPipeline(t *testing.T) {
	o := newTestOrchestrator(tenant.NewMemoryDirectory())

	scheme := &types.Scheme{
		SchemeID: "SCH_001",
		Rules: types.RuleSet{
			Qualifying: map[string]types.FieldRule{
				"totalSales": {Operator: types.OpGreater, Value: 80000, Type: types.FieldNumber},
			},
		},
		Payout: types.PayoutStructure{
			IsPercentage: true,
			Tiers: []types.Tier{
				{From: 0, To: 50000, Rate: 0.02},
				{From: 50000, To: 0, Rate: 0.05},
			},
			CreditSplit: []types.CreditShare{
				{Role: "primary", Percentage: 70},
				{Role: "overlay", Percentage: 30},
			},
		},
	}
	compiled := rules.NewEvaluator().Compile(scheme)

	records := []types.AgentRecord{
		{AgentID: "AGT_001", BaseMetric: 98500, Attributes: map[string]interface{}{"totalSales": 98500.0}},
		{AgentID: "AGT_002", BaseMetric: 40000, Attributes: map[string]interface{}{"totalSales": 40000.0}},
	}

	agents, summary, err := o.evaluateBatch(context.Background(), compiled, &scheme.Payout, true, records)
	if err != nil {
		t.Fatalf("evaluateBatch() error = %v", err)
	}

	if summary.TotalAgents != 2 || summary.Passed != 1 || summary.Failed != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if summary.TotalCommission != 4925.00 {
		t.Errorf("TotalCommission = %v, want 4925.00", summary.TotalCommission)
	}

	qualified := agents[0]
	if !qualified.Qualified || qualified.Commission != 4925.00 {
		t.Errorf("qualified agent = %+v", qualified)
	}
	if len(qualified.CreditShares) != 2 {
		t.Fatalf("got %d credit shares, want 2", len(qualified.CreditShares))
	}
	if qualified.CreditShares[0].Amount != 3447.5 || qualified.CreditShares[1].Amount != 1477.5 {
		t.Errorf("credit shares = %+v, want 70/30 of 4925", qualified.CreditShares)
	}

	unqualified := agents[1]
	if unqualified.Qualified || unqualified.Commission != 0 {
		t.Errorf("unqualified agent = %+v", unqualified)
	}
	if len(unqualified.QualifyingCriteria) != 1 || unqualified.QualifyingCriteria[0].Passed {
		t.Errorf("unqualified agent criteria = %+v, want recorded failure", unqualified.QualifyingCriteria)
	}
}

func TestEvaluateBatch_QualificationThreshold(t *testing.T) {
	o := newTestOrchestrator(tenant.NewMemoryDirectory())

	scheme := &types.Scheme{
		Rules: types.RuleSet{
			Qualifying: map[string]types.FieldRule{
				"totalSales": {Operator: types.OpGreater, Value: 80000, Type: types.FieldNumber},
			},
		},
	}
	compiled := rules.NewEvaluator().Compile(scheme)
	payout := &types.PayoutStructure{IsPercentage: true, Tiers: []types.Tier{{From: 0, To: 0, Rate: 0.05}}}

	records := make([]types.AgentRecord, 10)
	for i := range records {
		sales := 50000.0 + float64(i)*11000 // 50000 .. 149000
		records[i] = types.AgentRecord{
			AgentID:    fmt.Sprintf("AGT_%03d", i+1),
			BaseMetric: sales,
			Attributes: map[string]interface{}{"totalSales": sales},
		}
	}

	agents, _, err := o.evaluateBatch(context.Background(), compiled, payout, true, records)
	if err != nil {
		t.Fatalf("evaluateBatch() error = %v", err)
	}
	for i, a := range agents {
		sales := records[i].BaseMetric
		if sales <= 80000 {
			if a.Qualified || a.Commission != 0 {
				t.Errorf("agent %s (sales %.0f) = qualified %v commission %v, want excluded with zero",
					a.AgentID, sales, a.Qualified, a.Commission)
			}
		} else if !a.Qualified {
			t.Errorf("agent %s (sales %.0f) not qualified", a.AgentID, sales)
		}
	}
}

func TestEvaluateBatch_PreservesRecordOrder(t *testing.T) {
	o := newTestOrchestrator(tenant.NewMemoryDirectory())
	compiled := rules.NewEvaluator().Compile(&types.Scheme{})
	payout := &types.PayoutStructure{Tiers: []types.Tier{{From: 0, To: 0, Rate: 1}}}

	records := make([]types.AgentRecord, 100)
	for i := range records {
		records[i] = types.AgentRecord{AgentID: string(rune('A'+i%26)) + ": agent", BaseMetric: float64(i)}
	}

	agents, _, err := o.evaluateBatch(context.Background(), compiled, payout, true, records)
	if err != nil {
		t.Fatalf("evaluateBatch() error = %v", err)
	}
	for i, a := range agents {
		if a.AgentID != records[i].AgentID {
			t.Fatalf("result %d is for agent %q, want %q", i, a.AgentID, records[i].AgentID)
		}
	}
}

func TestEvaluateBatch_Cancellation(t *testing.T) {
	o := newTestOrchestrator(tenant.NewMemoryDirectory())
	compiled := rules.NewEvaluator().Compile(&types.Scheme{})
	payout := &types.PayoutStructure{Tiers: []types.Tier{{From: 0, To: 0, Rate: 1}}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := o.evaluateBatch(ctx, compiled, payout, true, make([]types.AgentRecord, 10))
	if err == nil {
		t.Fatal("evaluateBatch() with cancelled context succeeded")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled in chain", err)
	}
}

func TestSyntheticSource_Deterministic(t *testing.T) {
	scheme := &types.Scheme{QuotaAmount: 100000}

	a, err := (&SyntheticSource{Count: 10, Seed: 42}).Fetch(context.Background(), scheme)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	b, err := (&SyntheticSource{Count: 10, Seed: 42}).Fetch(context.Background(), scheme)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if len(a) != 10 || len(b) != 10 {
		t.Fatalf("got %d/%d records, want 10/10", len(a), len(b))
	}
	for i := range a {
		if a[i].AgentID != b[i].AgentID || a[i].BaseMetric != b[i].BaseMetric {
			t.Fatalf("same seed produced different records at %d: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestSyntheticSource_AttributesSupportRules(t *testing.T) {
	records, err := (&SyntheticSource{Count: 5}).Fetch(context.Background(), &types.Scheme{})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	for _, r := range records {
		if r.AgentID == "" || r.BaseMetric <= 0 {
			t.Errorf("record = %+v", r)
		}
		if _, ok := r.Attributes["totalSales"]; !ok {
			t.Errorf("record %s has no totalSales attribute", r.AgentID)
		}
		if _, ok := r.Attributes["region"]; !ok {
			t.Errorf("record %s has no region attribute", r.AgentID)
		}
	}
}

// fakeSchemeStore and fakeLogStore stand in for the Mongo-backed
// repositories so the full run path can be exercised in-process.
type fakeSchemeStore struct {
	scheme        *types.Scheme
	statusUpdates []types.SchemeStatus
}

func (f *fakeSchemeStore) Get(_ context.Context, schemeID string) (*types.Scheme, error) {
	if f.scheme == nil || f.scheme.SchemeID != schemeID {
		return nil, store.ErrSchemeNotFound
	}
	out := *f.scheme
	return &out, nil
}

func (f *fakeSchemeStore) UpdateStatus(_ context.Context, _ string, status types.SchemeStatus) error {
	f.statusUpdates = append(f.statusUpdates, status)
	f.scheme.Status = status
	return nil
}

type fakeLogStore struct {
	appended []*types.ExecutionLog
}

func (f *fakeLogStore) Append(_ context.Context, execLog *types.ExecutionLog) error {
	f.appended = append(f.appended, execLog)
	return nil
}

func (f *fakeLogStore) FindByRunID(_ context.Context, runID string) (*types.ExecutionLog, error) {
	for _, l := range f.appended {
		if l.RunID == runID {
			return l, nil
		}
	}
	return nil, store.ErrLogNotFound
}

func (f *fakeLogStore) ListByScheme(_ context.Context, _ string, _ int64) ([]types.LogSummary, error) {
	return nil, nil
}

func (f *fakeLogStore) HasProductionRun(_ context.Context, schemeID string) (bool, error) {
	for _, l := range f.appended {
		if l.SchemeID == schemeID && l.Mode == types.ModeProduction && l.Error == "" {
			return true, nil
		}
	}
	return false, nil
}

type staticSource struct{ records []types.AgentRecord }

func (s *staticSource) Fetch(_ context.Context, _ *types.Scheme) ([]types.AgentRecord, error) {
	return s.records, nil
}

func approvedScheme() *types.Scheme {
	return &types.Scheme{
		SchemeID: "SCH_001",
		Status:   types.StatusApproved,
		Payout: types.PayoutStructure{
			IsPercentage: true,
			Tiers:        []types.Tier{{From: 0, To: 0, Rate: 0.05}},
		},
	}
}

// newFakeOrchestrator wires an orchestrator whose datastore layer is
// fully in-memory.
func newFakeOrchestrator(scheme *types.Scheme, records []types.AgentRecord) (*Orchestrator, *fakeSchemeStore, *fakeLogStore) {
	schemes := &fakeSchemeStore{scheme: scheme}
	logs := &fakeLogStore{}
	o := newTestOrchestrator(tenant.NewMemoryDirectory())
	o.source = &staticSource{records: records}
	o.acquire = func(context.Context, string) (*tenant.Handle, error) { return &tenant.Handle{}, nil }
	o.newSchemes = func(*tenant.Handle) schemeStore { return schemes }
	o.newLogs = func(*tenant.Handle) logStore { return logs }
	return o, schemes, logs
}

func salesRecord(id string, sales float64) types.AgentRecord {
	return types.AgentRecord{AgentID: id, BaseMetric: sales, Attributes: map[string]interface{}{"totalSales": sales}}
}

func TestRunExecution_SimulationIsIdempotent(t *testing.T) {
	o, schemes, logs := newFakeOrchestrator(approvedScheme(), []types.AgentRecord{salesRecord("AGT_001", 1000)})
	ctx := context.Background()
	req := RunRequest{TenantID: "acme", SchemeID: "SCH_001", Mode: types.ModeSimulation}

	first := o.RunExecution(ctx, req)
	second := o.RunExecution(ctx, req)

	if first.State != StateCompleted || second.State != StateCompleted {
		t.Fatalf("states = %s, %s (errs %v, %v)", first.State, second.State, first.Err, second.Err)
	}
	if first.RunID == "" || first.RunID == second.RunID {
		t.Errorf("run ids = %q, %q, want two distinct ids", first.RunID, second.RunID)
	}
	if len(logs.appended) != 2 {
		t.Errorf("got %d logs, want one per run", len(logs.appended))
	}
	if len(schemes.statusUpdates) != 0 {
		t.Errorf("simulation mutated scheme status: %v", schemes.statusUpdates)
	}
	if schemes.scheme.Status != types.StatusApproved {
		t.Errorf("scheme status = %s, want Approved untouched", schemes.scheme.Status)
	}
}

func TestRunExecution_ProductionTransitionsToProdRun(t *testing.T) {
	o, schemes, logs := newFakeOrchestrator(approvedScheme(), []types.AgentRecord{salesRecord("AGT_001", 1000)})

	res := o.RunExecution(context.Background(), RunRequest{TenantID: "acme", SchemeID: "SCH_001", Mode: types.ModeProduction})
	if res.State != StateCompleted {
		t.Fatalf("State = %s, err = %v", res.State, res.Err)
	}
	if len(schemes.statusUpdates) != 1 || schemes.statusUpdates[0] != types.StatusProdRun {
		t.Errorf("status updates = %v, want single ProdRun transition", schemes.statusUpdates)
	}
	if len(logs.appended) != 1 || logs.appended[0].RunID != res.RunID {
		t.Errorf("logs = %d, want the run's log appended", len(logs.appended))
	}
}

func TestRunExecution_ProductionGuard_SchemeStatus(t *testing.T) {
	scheme := approvedScheme()
	scheme.Status = types.StatusProdRun
	o, schemes, logs := newFakeOrchestrator(scheme, []types.AgentRecord{salesRecord("AGT_001", 1000)})

	res := o.RunExecution(context.Background(), RunRequest{TenantID: "acme", SchemeID: "SCH_001", Mode: types.ModeProduction})
	if !errors.Is(res.Err, types.ErrDuplicateProductionRun) {
		t.Fatalf("Err = %v, want ErrDuplicateProductionRun", res.Err)
	}
	if res.State != StateFailed {
		t.Errorf("State = %s, want Failed", res.State)
	}
	if len(schemes.statusUpdates) != 0 {
		t.Errorf("guard violation transitioned status: %v", schemes.statusUpdates)
	}
	// The rejected attempt is still auditable.
	if res.RunID == "" || len(logs.appended) != 1 || logs.appended[0].Error == "" {
		t.Errorf("rejected attempt not logged: runID=%q logs=%d", res.RunID, len(logs.appended))
	}
}

func TestRunExecution_ProductionGuard_ExistingLog(t *testing.T) {
	// Status still Approved, but a successful production log already
	// exists (a crash after append, before the status flip).
	o, schemes, logs := newFakeOrchestrator(approvedScheme(), []types.AgentRecord{salesRecord("AGT_001", 1000)})
	logs.appended = append(logs.appended, &types.ExecutionLog{
		RunID: "RUN_010925_1", SchemeID: "SCH_001", TenantID: "acme", Mode: types.ModeProduction,
	})

	res := o.RunExecution(context.Background(), RunRequest{TenantID: "acme", SchemeID: "SCH_001", Mode: types.ModeProduction})
	if !errors.Is(res.Err, types.ErrDuplicateProductionRun) {
		t.Fatalf("Err = %v, want ErrDuplicateProductionRun from the log store guard", res.Err)
	}
	if len(schemes.statusUpdates) != 0 {
		t.Errorf("guard violation transitioned status: %v", schemes.statusUpdates)
	}
}

func TestRunExecution_InvalidPayoutSuppressesCommission(t *testing.T) {
	scheme := approvedScheme()
	scheme.Payout.Tiers = []types.Tier{
		{From: 0, To: 100, Rate: 0.02},
		{From: 50, To: 150, Rate: 0.05}, // overlaps
	}
	o, _, logs := newFakeOrchestrator(scheme, []types.AgentRecord{salesRecord("AGT_001", 75)})

	res := o.RunExecution(context.Background(), RunRequest{TenantID: "acme", SchemeID: "SCH_001", Mode: types.ModeSimulation})
	if res.State != StateCompleted {
		t.Fatalf("State = %s, err = %v, simulation should proceed as diagnostics", res.State, res.Err)
	}
	if len(logs.appended) != 1 {
		t.Fatalf("got %d logs, want 1", len(logs.appended))
	}
	persisted := logs.appended[0]
	if persisted.Error == "" {
		t.Error("configuration diagnostics missing from the log")
	}
	if persisted.Summary.TotalCommission != 0 {
		t.Errorf("TotalCommission = %v, want 0 from an invalid payout structure", persisted.Summary.TotalCommission)
	}
	for _, a := range persisted.Agents {
		if a.Commission != 0 || len(a.CreditShares) != 0 {
			t.Errorf("agent %s paid out from an invalid structure: %+v", a.AgentID, a)
		}
	}

	// Production is blocked outright.
	prod := o.RunExecution(context.Background(), RunRequest{TenantID: "acme", SchemeID: "SCH_001", Mode: types.ModeProduction})
	var cfgErr *types.RuleConfigurationError
	if !errors.As(prod.Err, &cfgErr) {
		t.Errorf("production Err = %v, want RuleConfigurationError", prod.Err)
	}
}

func TestRunExecution_RejectedInputIsLogged(t *testing.T) {
	o, _, logs := newFakeOrchestrator(approvedScheme(), nil)

	res := o.RunExecution(context.Background(), RunRequest{TenantID: "acme", SchemeID: "SCH_001", Mode: "dry-run"})
	if res.State != StateFailed {
		t.Fatalf("State = %s, want Failed", res.State)
	}
	var vErr *types.ValidationError
	if !errors.As(res.Err, &vErr) {
		t.Fatalf("Err = %v, want *ValidationError", res.Err)
	}
	if res.RunID == "" || len(logs.appended) != 1 {
		t.Fatalf("rejection not logged: runID=%q logs=%d", res.RunID, len(logs.appended))
	}
	if logs.appended[0].Error == "" || logs.appended[0].SchemeID != "SCH_001" {
		t.Errorf("rejection log = %+v", logs.appended[0])
	}
}
