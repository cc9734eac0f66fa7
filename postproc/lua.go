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
	"encoding/json"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"incentra/platform/shared/types"
)

// LuaProcessor runs a tenant-supplied Lua script in a sandboxed
// interpreter. The script must define a global function
//
//	function process(log, run)
//
// which receives the execution log and run metadata as tables and
// returns the (possibly modified) log table. Only the base, table,
// string and math libraries are opened; the script has no access to io,
// os or the debug library, and the interpreter is bound to the host's
// invocation context so a runaway loop is interrupted at the timeout.
type LuaProcessor struct {
	name   string
	source string
}

// NewLuaProcessor validates that the script parses and returns a
// processor ready for registration.
func NewLuaProcessor(name, source string) (*LuaProcessor, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	if _, err := L.LoadString(source); err != nil {
		return nil, &types.PostProcessingError{Ref: name, Reason: "script failed to parse", Cause: err}
	}
	return &LuaProcessor{name: name, source: source}, nil
}

// Process implements Processor.
func (p *LuaProcessor) Process(ctx context.Context, logCopy *types.ExecutionLog, runCtx RunContext) (*types.ExecutionLog, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	L.SetContext(ctx)

	for _, open := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(open.fn))
		L.Push(lua.LString(open.name))
		L.Call(1, 0)
	}

	if err := L.DoString(p.source); err != nil {
		return nil, fmt.Errorf("script error: %w", err)
	}

	processFn := L.GetGlobal("process")
	if processFn.Type() != lua.LTFunction {
		return nil, fmt.Errorf("script does not define a 'process' function")
	}

	logTable, err := toLuaValue(L, logCopy)
	if err != nil {
		return nil, fmt.Errorf("failed to convert execution log: %w", err)
	}
	runTable, err := toLuaValue(L, map[string]interface{}{
		"scheme_id": runCtx.SchemeID,
		"tenant_id": runCtx.TenantID,
		"mode":      string(runCtx.Mode),
		"timestamp": runCtx.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to convert run context: %w", err)
	}

	if err := L.CallByParam(lua.P{Fn: processFn, NRet: 1, Protect: true}, logTable, runTable); err != nil {
		return nil, fmt.Errorf("process() failed: %w", err)
	}

	ret := L.Get(-1)
	L.Pop(1)

	if ret == lua.LNil {
		// Returning nothing means "no changes".
		return logCopy, nil
	}
	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("process() returned %s, want table", ret.Type())
	}

	var out types.ExecutionLog
	data, err := json.Marshal(fromLuaValue(tbl))
	if err != nil {
		return nil, fmt.Errorf("failed to encode returned log: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("returned log has invalid shape: %w", err)
	}
	return &out, nil
}

// toLuaValue converts a Go value (anything JSON-encodable) into a Lua
// value by way of its JSON form.
func toLuaValue(L *lua.LState, v interface{}) (lua.LValue, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	return buildLuaValue(L, generic), nil
}

func buildLuaValue(L *lua.LState, v interface{}) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []interface{}:
		tbl := L.NewTable()
		for i, item := range val {
			tbl.RawSetInt(i+1, buildLuaValue(L, item))
		}
		return tbl
	case map[string]interface{}:
		tbl := L.NewTable()
		for k, item := range val {
			tbl.RawSetString(k, buildLuaValue(L, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

// fromLuaValue converts a Lua value back into a JSON-encodable Go value.
// A table with a contiguous 1..n integer index range becomes a slice,
// anything else becomes a map.
func fromLuaValue(v lua.LValue) interface{} {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		maxN := val.MaxN()
		if maxN > 0 {
			arr := make([]interface{}, 0, maxN)
			for i := 1; i <= maxN; i++ {
				arr = append(arr, fromLuaValue(val.RawGetInt(i)))
			}
			return arr
		}
		m := make(map[string]interface{})
		val.ForEach(func(k, item lua.LValue) {
			if ks, ok := k.(lua.LString); ok {
				m[string(ks)] = fromLuaValue(item)
			}
		})
		return m
	default:
		return nil
	}
}
