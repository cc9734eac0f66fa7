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

package tenant

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"incentra/platform/shared/types"
)

func TestAcquire_UnknownTenant(t *testing.T) {
	r := NewRouter(NewMemoryDirectory())

	_, err := r.Acquire(context.Background(), "ghost")
	if !errors.Is(err, types.ErrTenantNotConfigured) {
		t.Errorf("Acquire() error = %v, want ErrTenantNotConfigured", err)
	}
}

func TestAcquire_EmptyTenantID(t *testing.T) {
	r := NewRouter(NewMemoryDirectory())

	_, err := r.Acquire(context.Background(), "")
	if !errors.Is(err, types.ErrTenantNotConfigured) {
		t.Errorf("Acquire() error = %v, want ErrTenantNotConfigured", err)
	}
}

func TestAcquire_SetupIncompleteFailsBeforeConnect(t *testing.T) {
	dir := NewMemoryDirectory()
	// The URI is unreachable on purpose: the setup check must reject the
	// tenant before any connection attempt happens.
	_ = dir.SaveTenant(context.Background(), &types.Tenant{
		TenantID:     "pending",
		DatastoreURI: "mongodb://no-such-host.invalid:27017/pending",
	})

	r := NewRouter(dir)
	r.SetConnectTimeout(50 * time.Millisecond)

	start := time.Now()
	_, err := r.Acquire(context.Background(), "pending")
	if !errors.Is(err, types.ErrTenantSetupIncomplete) {
		t.Fatalf("Acquire() error = %v, want ErrTenantSetupIncomplete", err)
	}
	if time.Since(start) > 40*time.Millisecond {
		t.Error("setup-incomplete check appears to have attempted a connection")
	}
}

func TestAcquire_MissingURI(t *testing.T) {
	dir := NewMemoryDirectory()
	_ = dir.SaveTenant(context.Background(), &types.Tenant{
		TenantID:      "hollow",
		SetupComplete: true,
	})

	r := NewRouter(dir)
	_, err := r.Acquire(context.Background(), "hollow")
	if !errors.Is(err, types.ErrTenantNotConfigured) {
		t.Errorf("Acquire() error = %v, want ErrTenantNotConfigured", err)
	}
}

func TestAcquire_MalformedURIScheme(t *testing.T) {
	dir := NewMemoryDirectory()
	_ = dir.SaveTenant(context.Background(), &types.Tenant{
		TenantID:      "acme",
		DatastoreURI:  "postgres://db.acme.internal/acme",
		SetupComplete: true,
	})

	r := NewRouter(dir)
	_, err := r.Acquire(context.Background(), "acme")

	var connErr *types.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Acquire() error = %v, want *ConnectionError", err)
	}
	if connErr.Kind != types.ConnMalformedURI {
		t.Errorf("Kind = %s, want %s", connErr.Kind, types.ConnMalformedURI)
	}
}

func TestClassifyConnectError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want types.ConnectionErrorKind
	}{
		{"deadline", context.DeadlineExceeded, types.ConnTimeout},
		{"wrapped deadline", fmt.Errorf("connect: %w", context.DeadlineExceeded), types.ConnTimeout},
		{"auth", errors.New("connection() error occurred during connection handshake: auth error"), types.ConnAuthFailure},
		{"sasl", errors.New("unable to authenticate using mechanism SCRAM-SHA-256: sasl conversation error"), types.ConnAuthFailure},
		{"parse", errors.New(`error parsing uri: scheme must be "mongodb" or "mongodb+srv"`), types.ConnMalformedURI},
		{"timed out", errors.New("server selection timeout, current topology: ..."), types.ConnTimeout},
		{"unreachable", errors.New("dial tcp: lookup db.acme.internal: no such host"), types.ConnUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyConnectError(tt.err); got != tt.want {
				t.Errorf("classifyConnectError(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestDatabaseNameFromURI(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{"mongodb://host:27017/acme_prod", "acme_prod"},
		{"mongodb://host:27017/acme_prod?retryWrites=true", "acme_prod"},
		{"mongodb://host:27017", ""},
		{"mongodb://host:27017/", ""},
		{"mongodb+srv://cluster.example.com/tenants", "tenants"},
	}

	for _, tt := range tests {
		if got := databaseNameFromURI(tt.uri); got != tt.want {
			t.Errorf("databaseNameFromURI(%q) = %q, want %q", tt.uri, got, tt.want)
		}
	}
}

func TestHandle_CollectionMapping(t *testing.T) {
	h := &Handle{
		tenantID:    "acme",
		collections: map[string]string{types.CollectionSchemes: "acme_schemes"},
	}

	if h.TenantID() != "acme" {
		t.Errorf("TenantID() = %q", h.TenantID())
	}
}

func TestMemoryDirectory_RoundTrip(t *testing.T) {
	dir := NewMemoryDirectory()
	ctx := context.Background()

	if err := dir.SaveTenant(ctx, &types.Tenant{TenantID: "acme", DatastoreURI: "mongodb://a/acme"}); err != nil {
		t.Fatalf("SaveTenant() error = %v", err)
	}

	got, err := dir.GetTenant(ctx, "acme")
	if err != nil {
		t.Fatalf("GetTenant() error = %v", err)
	}
	// The directory hands out copies; callers must not be able to
	// mutate the stored record.
	got.DatastoreURI = "mongodb://tampered/x"

	again, err := dir.GetTenant(ctx, "acme")
	if err != nil {
		t.Fatalf("GetTenant() error = %v", err)
	}
	if again.DatastoreURI != "mongodb://a/acme" {
		t.Errorf("stored record was mutated through a returned pointer")
	}

	tenants, err := dir.ListTenants(ctx)
	if err != nil {
		t.Fatalf("ListTenants() error = %v", err)
	}
	if len(tenants) != 1 {
		t.Errorf("got %d tenants, want 1", len(tenants))
	}
}
