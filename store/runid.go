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
	"fmt"
	"sync"
	"time"
)

var runIDMu struct {
	sync.Mutex
	last int64
}

// NewRunID returns a run identifier of the form RUN_<DDMMYY>_<millis>.
// The millisecond component is forced strictly monotonic within the
// process so two runs started in the same millisecond never collide.
func NewRunID(now time.Time) string {
	millis := now.UnixMilli()

	runIDMu.Lock()
	if millis <= runIDMu.last {
		millis = runIDMu.last + 1
	}
	runIDMu.last = millis
	runIDMu.Unlock()

	return fmt.Sprintf("RUN_%s_%d", now.Format("020106"), millis)
}
