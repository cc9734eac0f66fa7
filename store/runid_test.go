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

package store

import (
	"regexp"
	"sync"
	"testing"
	"time"
)

var runIDPattern = regexp.MustCompile(`^RUN_\d{6}_\d+$`)

func TestNewRunID_Format(t *testing.T) {
	now := time.Date(2025, 9, 1, 10, 30, 0, 0, time.UTC)

	id := NewRunID(now)
	if !runIDPattern.MatchString(id) {
		t.Fatalf("NewRunID() = %q, want RUN_<DDMMYY>_<millis>", id)
	}
	if id[:10] != "RUN_010925" {
		t.Errorf("date component = %q, want RUN_010925", id[:10])
	}
}

func TestNewRunID_SameMillisecondUnique(t *testing.T) {
	now := time.Now()

	a := NewRunID(now)
	b := NewRunID(now)
	if a == b {
		t.Errorf("two ids in the same millisecond collide: %s", a)
	}
}

func TestNewRunID_ConcurrentUnique(t *testing.T) {
	const n = 100
	var (
		mu  sync.Mutex
		ids = make(map[string]bool, n)
		wg  sync.WaitGroup
	)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := NewRunID(time.Now())
			mu.Lock()
			ids[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(ids) != n {
		t.Errorf("got %d unique ids from %d concurrent calls", len(ids), n)
	}
}
