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
	"strings"
	"testing"
	"time"

	"incentra/platform/shared/types"
)

func TestNewLuaProcessor_RejectsBadSyntax(t *testing.T) {
	if _, err := NewLuaProcessor("bad", "function process( end"); err == nil {
		t.Fatal("NewLuaProcessor accepted a script that does not parse")
	}
}

func TestLuaProcessor_AddsBonus(t *testing.T) {
	script := `
function process(log, run)
	for _, agent in ipairs(log.agents or {}) do
		if agent.qualified then
			agent.commission = agent.commission + 250
			log.summary.total_commission = log.summary.total_commission + 250
		end
	end
	return log
end
`
	p, err := NewLuaProcessor("bonus", script)
	if err != nil {
		t.Fatalf("NewLuaProcessor() error = %v", err)
	}

	h := NewHost(5 * time.Second)
	if err := h.Register("bonus", p); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	out := h.Invoke(context.Background(), "bonus", sampleLog(), RunContext{
		SchemeID: "SCH_001",
		TenantID: "acme",
		Mode:     types.ModeSimulation,
	})
	if out.PostProcessing.Status != "success" {
		t.Fatalf("status = %q (%s), want success", out.PostProcessing.Status, out.PostProcessing.Message)
	}
	if out.Summary.TotalCommission != 5175 {
		t.Errorf("TotalCommission = %v, want 5175", out.Summary.TotalCommission)
	}
	if out.Agents[0].Commission != 5175 {
		t.Errorf("qualified agent commission = %v, want 5175", out.Agents[0].Commission)
	}
	if out.Agents[1].Commission != 0 {
		t.Errorf("unqualified agent commission = %v, want 0", out.Agents[1].Commission)
	}
}

func TestLuaProcessor_SeesRunContext(t *testing.T) {
	script := `
function process(log, run)
	log.error = run.mode .. ":" .. run.scheme_id
	return log
end
`
	p, err := NewLuaProcessor("ctx", script)
	if err != nil {
		t.Fatalf("NewLuaProcessor() error = %v", err)
	}

	out, err := p.Process(context.Background(), sampleLog(), RunContext{
		SchemeID: "SCH_001",
		Mode:     types.ModeSimulation,
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if out.Error != "simulation:SCH_001" {
		t.Errorf("Error = %q, want run context values", out.Error)
	}
}

func TestLuaProcessor_NoProcessFunction(t *testing.T) {
	p, err := NewLuaProcessor("noop", "local x = 1")
	if err != nil {
		t.Fatalf("NewLuaProcessor() error = %v", err)
	}

	if _, err := p.Process(context.Background(), sampleLog(), RunContext{}); err == nil {
		t.Fatal("Process() succeeded without a process() function")
	}
}

func TestLuaProcessor_SandboxHasNoIO(t *testing.T) {
	script := `
function process(log, run)
	io.open("/etc/passwd")
	return log
end
`
	p, err := NewLuaProcessor("escape", script)
	if err != nil {
		t.Fatalf("NewLuaProcessor() error = %v", err)
	}

	_, err = p.Process(context.Background(), sampleLog(), RunContext{})
	if err == nil {
		t.Fatal("script reached the io library inside the sandbox")
	}
}

func TestLuaProcessor_RunawayLoopInterrupted(t *testing.T) {
	script := `
function process(log, run)
	while true do end
end
`
	p, err := NewLuaProcessor("spin", script)
	if err != nil {
		t.Fatalf("NewLuaProcessor() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = p.Process(ctx, sampleLog(), RunContext{})
	if err == nil {
		t.Fatal("runaway loop returned without error")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("runaway loop was not interrupted at the deadline")
	}
}

func TestLuaProcessor_ReturningNothingKeepsLog(t *testing.T) {
	script := `
function process(log, run)
end
`
	p, err := NewLuaProcessor("silent", script)
	if err != nil {
		t.Fatalf("NewLuaProcessor() error = %v", err)
	}

	out, err := p.Process(context.Background(), sampleLog(), RunContext{})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if out.Summary.TotalAgents != 2 {
		t.Error("log was lost when the script returned nothing")
	}
}

func TestLuaProcessor_WrongReturnType(t *testing.T) {
	script := `
function process(log, run)
	return "done"
end
`
	p, err := NewLuaProcessor("wrong", script)
	if err != nil {
		t.Fatalf("NewLuaProcessor() error = %v", err)
	}

	_, err = p.Process(context.Background(), sampleLog(), RunContext{})
	if err == nil || !strings.Contains(err.Error(), "want table") {
		t.Errorf("Process() error = %v, want table-type complaint", err)
	}
}
