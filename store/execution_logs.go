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
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"incentra/platform/shared/types"
	"incentra/platform/tenant"
)

var promAppendRetries = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "incentra_log_append_retries_total",
		Help: "Total execution log append attempts beyond the first",
	},
)

func init() {
	prometheus.MustRegister(promAppendRetries)
}

const (
	// AppendAttempts is how many times a log write is tried before the
	// run is reported as failed-to-persist.
	AppendAttempts = 3
	appendBackoff  = 500 * time.Millisecond
)

// ErrLogNotFound is returned when no execution log matches the run id.
var ErrLogNotFound = errors.New("execution log not found")

// ExecutionLogStore appends and reads immutable execution logs in a
// tenant's datastore.
type ExecutionLogStore struct {
	handle *tenant.Handle
	logger *log.Logger
}

// NewExecutionLogStore wraps a tenant handle.
func NewExecutionLogStore(h *tenant.Handle) *ExecutionLogStore {
	return &ExecutionLogStore{
		handle: h,
		logger: log.New(log.Writer(), "[ExecutionLogStore] ", log.LstdFlags),
	}
}

// Append durably writes one execution log. The write is retried a
// bounded number of times with backoff; if all attempts fail the caller
// gets a PersistenceError carrying the attempt count and last cause.
// Logs are never updated in place.
func (s *ExecutionLogStore) Append(ctx context.Context, execLog *types.ExecutionLog) error {
	coll := s.handle.Collection(types.CollectionExecutionLogs)

	var lastErr error
	for attempt := 1; attempt <= AppendAttempts; attempt++ {
		_, err := coll.InsertOne(ctx, execLog)
		if err == nil {
			if attempt > 1 {
				s.logger.Printf("Appended log %s for tenant %s after %d attempts",
					execLog.RunID, s.handle.TenantID(), attempt)
			}
			return nil
		}
		lastErr = err
		promAppendRetries.Inc()
		s.logger.Printf("Append attempt %d/%d for log %s failed: %v",
			attempt, AppendAttempts, execLog.RunID, err)

		if attempt < AppendAttempts {
			select {
			case <-ctx.Done():
				return &types.PersistenceError{Op: "append", Attempts: attempt, Cause: ctx.Err()}
			case <-time.After(appendBackoff * time.Duration(attempt)):
			}
		}
	}
	return &types.PersistenceError{Op: "append", Attempts: AppendAttempts, Cause: lastErr}
}

// FindByRunID fetches one execution log in full.
func (s *ExecutionLogStore) FindByRunID(ctx context.Context, runID string) (*types.ExecutionLog, error) {
	coll := s.handle.Collection(types.CollectionExecutionLogs)

	var execLog types.ExecutionLog
	err := coll.FindOne(ctx, bson.M{"run_id": runID}).Decode(&execLog)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", ErrLogNotFound, runID)
		}
		return nil, fmt.Errorf("failed to fetch execution log %s: %w", runID, err)
	}
	return &execLog, nil
}

// ListByScheme returns log summaries for a scheme, newest first. An
// empty schemeID lists every scheme's runs for the tenant. The
// per-agent detail is projected out to keep listings cheap.
func (s *ExecutionLogStore) ListByScheme(ctx context.Context, schemeID string, limit int64) ([]types.LogSummary, error) {
	coll := s.handle.Collection(types.CollectionExecutionLogs)

	opts := options.Find().
		SetSort(bson.D{{Key: "executed_at", Value: -1}}).
		SetProjection(bson.M{"agents": 0, "post_processing": 0})
	if limit > 0 {
		opts.SetLimit(limit)
	}

	filter := bson.M{}
	if schemeID != "" {
		filter["scheme_id"] = schemeID
	}
	cursor, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution logs for scheme %s: %w", schemeID, err)
	}
	defer cursor.Close(ctx)

	summaries := make([]types.LogSummary, 0)
	if err := cursor.All(ctx, &summaries); err != nil {
		return nil, fmt.Errorf("failed to decode execution log listing: %w", err)
	}
	return summaries, nil
}

// HasProductionRun reports whether a successful production-mode log
// already exists for the scheme. Failed production attempts carry an
// error and do not count; they must not block a corrected retry.
func (s *ExecutionLogStore) HasProductionRun(ctx context.Context, schemeID string) (bool, error) {
	coll := s.handle.Collection(types.CollectionExecutionLogs)

	count, err := coll.CountDocuments(ctx,
		bson.M{
			"scheme_id": schemeID,
			"mode":      types.ModeProduction,
			"error":     bson.M{"$exists": false},
		},
		options.Count().SetLimit(1),
	)
	if err != nil {
		return false, fmt.Errorf("failed to check production runs for scheme %s: %w", schemeID, err)
	}
	return count > 0, nil
}
