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
	"fmt"
	"math/rand"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"incentra/platform/shared/types"
	"incentra/platform/tenant"
)

// AgentSource produces the agent records a run evaluates. The engine
// does not care where records come from; production uses the tenant's
// transactions collection, simulations may use synthetic data.
type AgentSource interface {
	Fetch(ctx context.Context, scheme *types.Scheme) ([]types.AgentRecord, error)
}

// TransactionSource aggregates a tenant's transaction documents into
// per-agent records within the scheme's effective window. Each
// transaction carries an agentId, an amount, and arbitrary attributes;
// amounts sum into the agent's base metric and the latest transaction's
// attributes win.
type TransactionSource struct {
	handle *tenant.Handle
}

// NewTransactionSource reads agents from the tenant's transactions
// collection.
func NewTransactionSource(h *tenant.Handle) *TransactionSource {
	return &TransactionSource{handle: h}
}

// Fetch implements AgentSource.
func (s *TransactionSource) Fetch(ctx context.Context, scheme *types.Scheme) ([]types.AgentRecord, error) {
	coll := s.handle.Collection(types.CollectionTransactions)

	filter := bson.M{}
	if !scheme.EffectiveStart.IsZero() || !scheme.EffectiveEnd.IsZero() {
		window := bson.M{}
		if !scheme.EffectiveStart.IsZero() {
			window["$gte"] = scheme.EffectiveStart
		}
		if !scheme.EffectiveEnd.IsZero() {
			window["$lte"] = scheme.EffectiveEnd
		}
		filter["date"] = window
	}

	cursor, err := coll.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transactions: %w", err)
	}
	defer cursor.Close(ctx)

	type txn struct {
		AgentID    string                 `bson:"agentId"`
		Amount     float64                `bson:"amount"`
		Attributes map[string]interface{} `bson:"attributes"`
	}

	byAgent := make(map[string]*types.AgentRecord)
	order := make([]string, 0)

	for cursor.Next(ctx) {
		var t txn
		if err := cursor.Decode(&t); err != nil {
			return nil, fmt.Errorf("failed to decode transaction: %w", err)
		}
		if t.AgentID == "" {
			continue
		}
		rec, ok := byAgent[t.AgentID]
		if !ok {
			rec = &types.AgentRecord{AgentID: t.AgentID, Attributes: make(map[string]interface{})}
			byAgent[t.AgentID] = rec
			order = append(order, t.AgentID)
		}
		rec.BaseMetric += t.Amount
		for k, v := range t.Attributes {
			rec.Attributes[k] = v
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("transaction cursor failed: %w", err)
	}

	records := make([]types.AgentRecord, 0, len(order))
	for _, id := range order {
		records = append(records, *byAgent[id])
	}
	return records, nil
}

// SyntheticSource generates deterministic pseudo-random agent records
// for simulation runs against schemes with no transaction data yet.
type SyntheticSource struct {
	Count int
	Seed  int64
}

// Fetch implements AgentSource.
func (s *SyntheticSource) Fetch(_ context.Context, scheme *types.Scheme) ([]types.AgentRecord, error) {
	count := s.Count
	if count <= 0 {
		count = 25
	}
	seed := s.Seed
	if seed == 0 {
		seed = 1
	}
	rng := rand.New(rand.NewSource(seed))

	base := scheme.QuotaAmount
	if base <= 0 {
		base = 100000
	}

	records := make([]types.AgentRecord, 0, count)
	for i := 0; i < count; i++ {
		metric := base * (0.2 + rng.Float64()*1.6)
		records = append(records, types.AgentRecord{
			AgentID:    fmt.Sprintf("SYN_AGENT_%03d", i+1),
			BaseMetric: metric,
			Attributes: map[string]interface{}{
				"region":     []string{"north", "south", "east", "west"}[rng.Intn(4)],
				"tenureDays": float64(rng.Intn(3650)),
				"totalSales": metric,
				"startDate":  time.Now().AddDate(0, -rng.Intn(36), 0).Format("2006-01-02"),
			},
		})
	}
	return records, nil
}
