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

package postproc

import (
	"context"
	"errors"
	"testing"
	"time"

	"incentra/platform/shared/types"
)

func sampleLog() *types.ExecutionLog {
	return &types.ExecutionLog{
		RunID:    "RUN_010925_1756700000000",
		SchemeID: "SCH_001",
		TenantID: "acme",
		Mode:     types.ModeSimulation,
		Summary:  types.RunSummary{TotalAgents: 2, Passed: 1, Failed: 1, TotalCommission: 4925},
		Agents: []types.AgentResult{
			{AgentID: "AGT_001", Qualified: true, Commission: 4925},
			{AgentID: "AGT_002"},
		},
		ExecutedAt: time.Now().UTC(),
	}
}

func TestInvoke_EmptyRefSkips(t *testing.T) {
	h := NewHost(time.Second)

	out := h.Invoke(context.Background(), "", sampleLog(), RunContext{})
	if out.PostProcessing.Status != "skipped" {
		t.Errorf("status = %q, want skipped", out.PostProcessing.Status)
	}
}

func TestInvoke_UnregisteredRef(t *testing.T) {
	h := NewHost(time.Second)

	out := h.Invoke(context.Background(), "missing", sampleLog(), RunContext{})
	if out.PostProcessing.Status != "error" {
		t.Errorf("status = %q, want error", out.PostProcessing.Status)
	}
	if out.Summary.TotalCommission != 4925 {
		t.Error("pre-plugin results were not preserved")
	}
}

func TestInvoke_Success(t *testing.T) {
	h := NewHost(time.Second)
	err := h.Register("annotate", ProcessorFunc(func(_ context.Context, logCopy *types.ExecutionLog, _ RunContext) (*types.ExecutionLog, error) {
		logCopy.Agents[0].Commission += 100
		logCopy.Summary.TotalCommission += 100
		return logCopy, nil
	}))
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	out := h.Invoke(context.Background(), "annotate", sampleLog(), RunContext{})
	if out.PostProcessing.Status != "success" {
		t.Fatalf("status = %q, want success", out.PostProcessing.Status)
	}
	if out.Summary.TotalCommission != 5025 {
		t.Errorf("TotalCommission = %v, want 5025", out.Summary.TotalCommission)
	}
}

func TestInvoke_IdentityFieldsRestored(t *testing.T) {
	h := NewHost(time.Second)
	_ = h.Register("hijack", ProcessorFunc(func(_ context.Context, logCopy *types.ExecutionLog, _ RunContext) (*types.ExecutionLog, error) {
		logCopy.RunID = "RUN_FORGED"
		logCopy.SchemeID = "SCH_FORGED"
		logCopy.TenantID = "other-tenant"
		logCopy.Mode = types.ModeProduction
		return logCopy, nil
	}))

	out := h.Invoke(context.Background(), "hijack", sampleLog(), RunContext{})
	if out.RunID != "RUN_010925_1756700000000" || out.SchemeID != "SCH_001" || out.TenantID != "acme" {
		t.Errorf("identity fields not restored: %s/%s/%s", out.RunID, out.SchemeID, out.TenantID)
	}
	if out.Mode != types.ModeSimulation {
		t.Errorf("mode not restored: %s", out.Mode)
	}
}

func TestInvoke_OriginalLogNotMutatedOnFailure(t *testing.T) {
	h := NewHost(time.Second)
	_ = h.Register("mutate-then-fail", ProcessorFunc(func(_ context.Context, logCopy *types.ExecutionLog, _ RunContext) (*types.ExecutionLog, error) {
		logCopy.Agents[0].Commission = 0
		logCopy.Summary.TotalCommission = 0
		return nil, errors.New("deliberate failure")
	}))

	in := sampleLog()
	out := h.Invoke(context.Background(), "mutate-then-fail", in, RunContext{})
	if out.PostProcessing.Status != "error" {
		t.Fatalf("status = %q, want error", out.PostProcessing.Status)
	}
	if out.Summary.TotalCommission != 4925 || out.Agents[0].Commission != 4925 {
		t.Error("processor mutations leaked into the persisted log")
	}
}

func TestInvoke_PanicRecovered(t *testing.T) {
	h := NewHost(time.Second)
	_ = h.Register("panics", ProcessorFunc(func(_ context.Context, _ *types.ExecutionLog, _ RunContext) (*types.ExecutionLog, error) {
		panic("boom")
	}))

	out := h.Invoke(context.Background(), "panics", sampleLog(), RunContext{})
	if out.PostProcessing.Status != "error" {
		t.Errorf("status = %q, want error", out.PostProcessing.Status)
	}
	if out.Summary.TotalAgents != 2 {
		t.Error("pre-plugin results were not preserved after panic")
	}
}

func TestInvoke_Timeout(t *testing.T) {
	h := NewHost(50 * time.Millisecond)
	_ = h.Register("slow", ProcessorFunc(func(ctx context.Context, logCopy *types.ExecutionLog, _ RunContext) (*types.ExecutionLog, error) {
		select {
		case <-time.After(5 * time.Second):
			return logCopy, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}))

	start := time.Now()
	out := h.Invoke(context.Background(), "slow", sampleLog(), RunContext{})
	if time.Since(start) > time.Second {
		t.Fatal("Invoke did not enforce the timeout")
	}
	if out.PostProcessing.Status != "timeout" {
		t.Errorf("status = %q, want timeout", out.PostProcessing.Status)
	}
}

func TestRegister_DuplicateName(t *testing.T) {
	h := NewHost(time.Second)
	noop := ProcessorFunc(func(_ context.Context, l *types.ExecutionLog, _ RunContext) (*types.ExecutionLog, error) {
		return l, nil
	})

	if err := h.Register("p", noop); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	if err := h.Register("p", noop); err == nil {
		t.Error("duplicate Register() succeeded")
	}
	if got := h.List(); len(got) != 1 || got[0] != "p" {
		t.Errorf("List() = %v, want [p]", got)
	}
}
