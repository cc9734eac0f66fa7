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

// Package postproc hosts the optional, tenant-specified post-processing
// step of a run.
//
// Post-processors are registered in a capability table keyed by name at
// composition time; nothing is ever loaded from a filesystem path at
// runtime. A processor receives a copy of the execution log and may
// return a modified one (added bonuses, annotations), but cannot alter
// the log's identity fields. Processor failures (missing registration,
// returned error, panic, timeout) degrade to an error entry in the
// log's post-processing record; the pre-plugin computation results are
// always preserved and the run is not failed.
package postproc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"incentra/platform/shared/types"
)

// DefaultTimeout is the hard bound on one post-processor invocation.
// A hung processor must not block the orchestrator indefinitely.
const DefaultTimeout = 10 * time.Second

// RunContext is the read-only run metadata handed to a processor.
type RunContext struct {
	SchemeID       string
	TenantID       string
	Mode           types.RunMode
	Timestamp      time.Time
	SchemeSnapshot *types.Scheme
}

// Processor is a registered post-processing transformation.
type Processor interface {
	// Process receives a private copy of the execution log and returns
	// the (possibly modified) log.
	Process(ctx context.Context, logCopy *types.ExecutionLog, runCtx RunContext) (*types.ExecutionLog, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, logCopy *types.ExecutionLog, runCtx RunContext) (*types.ExecutionLog, error)

// Process implements Processor.
func (f ProcessorFunc) Process(ctx context.Context, logCopy *types.ExecutionLog, runCtx RunContext) (*types.ExecutionLog, error) {
	return f(ctx, logCopy, runCtx)
}

// Host resolves post-processor references and invokes them under a hard
// timeout. Thread-safe for concurrent registration and invocation.
type Host struct {
	mu         sync.RWMutex
	processors map[string]Processor
	timeout    time.Duration
	logger     *log.Logger
}

// NewHost creates an empty post-processor host.
func NewHost(timeout time.Duration) *Host {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Host{
		processors: make(map[string]Processor),
		timeout:    timeout,
		logger:     log.New(log.Writer(), "[PostProcessorHost] ", log.LstdFlags),
	}
}

// Register adds a processor to the capability table.
// Returns an error if the name is already taken.
func (h *Host) Register(name string, p Processor) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.processors[name]; exists {
		return fmt.Errorf("post-processor '%s' already registered", name)
	}
	h.processors[name] = p
	h.logger.Printf("Registered post-processor '%s'", name)
	return nil
}

// List returns the registered processor names.
func (h *Host) List() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.processors))
	for name := range h.processors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke runs the referenced processor against a copy of the execution
// log and folds the outcome into the returned log's post-processing
// record. Invoke never returns an error to the caller: every failure
// mode is recorded on the log itself so the run can proceed to
// persistence.
func (h *Host) Invoke(ctx context.Context, ref string, execLog *types.ExecutionLog, runCtx RunContext) *types.ExecutionLog {
	now := time.Now().UTC()

	if ref == "" {
		execLog.PostProcessing = types.PostProcessingLog{Status: "skipped", Timestamp: now}
		return execLog
	}

	h.mu.RLock()
	p, ok := h.processors[ref]
	h.mu.RUnlock()

	if !ok {
		perr := &types.PostProcessingError{Ref: ref, Reason: "processor not registered"}
		h.logger.Printf("%v", perr)
		execLog.PostProcessing = types.PostProcessingLog{Status: "error", Message: perr.Error(), Timestamp: now}
		return execLog
	}

	logCopy, err := copyLog(execLog)
	if err != nil {
		perr := &types.PostProcessingError{Ref: ref, Reason: "failed to copy execution log", Cause: err}
		execLog.PostProcessing = types.PostProcessingLog{Status: "error", Message: perr.Error(), Timestamp: now}
		return execLog
	}

	invokeCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	type result struct {
		log *types.ExecutionLog
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("processor panicked: %v", r)}
			}
		}()
		out, err := p.Process(invokeCtx, logCopy, runCtx)
		done <- result{log: out, err: err}
	}()

	select {
	case <-invokeCtx.Done():
		perr := &types.PostProcessingError{Ref: ref, Reason: "timed out", Cause: invokeCtx.Err()}
		h.logger.Printf("%v", perr)
		execLog.PostProcessing = types.PostProcessingLog{Status: "timeout", Message: perr.Error(), Timestamp: time.Now().UTC()}
		return execLog

	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) {
				perr := &types.PostProcessingError{Ref: ref, Reason: "timed out", Cause: res.err}
				h.logger.Printf("%v", perr)
				execLog.PostProcessing = types.PostProcessingLog{Status: "timeout", Message: perr.Error(), Timestamp: time.Now().UTC()}
				return execLog
			}
			perr := &types.PostProcessingError{Ref: ref, Reason: "processor failed", Cause: res.err}
			h.logger.Printf("%v", perr)
			execLog.PostProcessing = types.PostProcessingLog{Status: "error", Message: perr.Error(), Timestamp: time.Now().UTC()}
			return execLog
		}
		if res.log == nil {
			execLog.PostProcessing = types.PostProcessingLog{Status: "success", Timestamp: time.Now().UTC()}
			return execLog
		}

		// Identity fields are not the plugin's to change.
		res.log.RunID = execLog.RunID
		res.log.SchemeID = execLog.SchemeID
		res.log.TenantID = execLog.TenantID
		res.log.Mode = execLog.Mode
		res.log.PostProcessing = types.PostProcessingLog{Status: "success", Timestamp: time.Now().UTC()}
		return res.log
	}
}

// copyLog deep-copies an execution log through its JSON form.
func copyLog(in *types.ExecutionLog) (*types.ExecutionLog, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	var out types.ExecutionLog
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
