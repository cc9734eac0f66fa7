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
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"incentra/platform/shared/types"
	"incentra/platform/tenant"
)

// ErrSchemeNotFound is returned when no scheme matches the requested id.
var ErrSchemeNotFound = errors.New("scheme not found")

// SchemeRepository reads and updates compensation schemes in a tenant's
// datastore.
type SchemeRepository struct {
	handle *tenant.Handle
}

// NewSchemeRepository wraps a tenant handle.
func NewSchemeRepository(h *tenant.Handle) *SchemeRepository {
	return &SchemeRepository{handle: h}
}

// Get fetches a scheme by id.
func (r *SchemeRepository) Get(ctx context.Context, schemeID string) (*types.Scheme, error) {
	coll := r.handle.Collection(types.CollectionSchemes)

	var scheme types.Scheme
	err := coll.FindOne(ctx, bson.M{"scheme_id": schemeID}).Decode(&scheme)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", ErrSchemeNotFound, schemeID)
		}
		return nil, fmt.Errorf("failed to fetch scheme %s: %w", schemeID, err)
	}
	return &scheme, nil
}

// statusUpdate builds the transition document. Keys must match the
// Scheme struct's bson tags; schemes_test.go enforces that.
func statusUpdate(status types.SchemeStatus) bson.M {
	return bson.M{"$set": bson.M{"status": status, "updated_at": time.Now().UTC()}}
}

// UpdateStatus transitions a scheme's lifecycle status.
func (r *SchemeRepository) UpdateStatus(ctx context.Context, schemeID string, status types.SchemeStatus) error {
	coll := r.handle.Collection(types.CollectionSchemes)

	res, err := coll.UpdateOne(ctx,
		bson.M{"scheme_id": schemeID},
		statusUpdate(status),
	)
	if err != nil {
		return fmt.Errorf("failed to update status of scheme %s: %w", schemeID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", ErrSchemeNotFound, schemeID)
	}
	return nil
}
