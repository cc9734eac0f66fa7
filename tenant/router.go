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
	"log"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"incentra/platform/shared/types"
)

const (
	// DefaultConnectTimeout bounds how long a tenant datastore connect
	// attempt may take.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultPingTimeout bounds the health check on a cached handle.
	DefaultPingTimeout = 2 * time.Second
	// DefaultMaxPoolSize is the driver-side pool cap per tenant client.
	DefaultMaxPoolSize = 50
)

var (
	promLiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "incentra_router_live_connections",
			Help: "Number of live tenant datastore connections",
		},
	)
	promConnectFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incentra_router_connect_failures_total",
			Help: "Total tenant datastore connection failures",
		},
		[]string{"kind"},
	)
	promEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "incentra_router_evictions_total",
			Help: "Total tenant connection cache evictions",
		},
	)
)

func init() {
	prometheus.MustRegister(promLiveConnections)
	prometheus.MustRegister(promConnectFailures)
	prometheus.MustRegister(promEvictions)
}

// Handle is a live connection to one tenant's datastore plus that
// tenant's logical collection-name map.
type Handle struct {
	tenantID    string
	client      *mongo.Client
	db          *mongo.Database
	collections map[string]string
}

// TenantID returns the owning tenant.
func (h *Handle) TenantID() string { return h.tenantID }

// Database returns the tenant's database.
func (h *Handle) Database() *mongo.Database { return h.db }

// Collection resolves a logical collection name through the tenant's
// collection map. An unmapped logical name resolves to itself.
func (h *Handle) Collection(logical string) *mongo.Collection {
	name := logical
	if mapped, ok := h.collections[logical]; ok && mapped != "" {
		name = mapped
	}
	return h.db.Collection(name)
}

// flight tracks one in-progress connection attempt so concurrent Acquire
// calls for the same tenant share it instead of racing to open duplicates.
type flight struct {
	done chan struct{}
	h    *Handle
	err  error
}

// Router resolves tenant identifiers to cached datastore handles.
// At most one live handle exists per tenant. Safe for concurrent use.
type Router struct {
	dir            Directory
	connectTimeout time.Duration

	mu       sync.RWMutex
	handles  map[string]*Handle
	inflight map[string]*flight

	logger *log.Logger
}

// NewRouter creates a Router over the given directory.
func NewRouter(dir Directory) *Router {
	return &Router{
		dir:            dir,
		connectTimeout: DefaultConnectTimeout,
		handles:        make(map[string]*Handle),
		inflight:       make(map[string]*flight),
		logger:         log.New(log.Writer(), "[ConnectionRouter] ", log.LstdFlags),
	}
}

// SetConnectTimeout overrides the connection timeout. Intended for tests
// and composition-time tuning.
func (r *Router) SetConnectTimeout(d time.Duration) {
	if d > 0 {
		r.connectTimeout = d
	}
}

// Acquire returns a live handle to the tenant's datastore, opening and
// caching a connection on first use. There is no fallback datastore: an
// unconfigured tenant is an error.
func (r *Router) Acquire(ctx context.Context, tenantID string) (*Handle, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant '': %w", types.ErrTenantNotConfigured)
	}

	// Fast path: cached handle that still responds to ping.
	r.mu.RLock()
	h := r.handles[tenantID]
	r.mu.RUnlock()

	if h != nil {
		if r.healthy(ctx, h) {
			return h, nil
		}
		r.logger.Printf("Cached connection for tenant '%s' unhealthy, evicting", tenantID)
		r.Evict(tenantID)
	}

	// Resolve tenant config before any connection attempt. A tenant
	// whose setup never completed must fail here, not at the datastore.
	cfg, err := r.dir.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !cfg.SetupComplete {
		return nil, fmt.Errorf("tenant '%s': %w", tenantID, types.ErrTenantSetupIncomplete)
	}
	if cfg.DatastoreURI == "" {
		return nil, fmt.Errorf("tenant '%s' has no datastore URI: %w", tenantID, types.ErrTenantNotConfigured)
	}

	// Single-flight: the first caller opens the connection, the rest wait.
	r.mu.Lock()
	if h := r.handles[tenantID]; h != nil {
		r.mu.Unlock()
		return h, nil
	}
	if f := r.inflight[tenantID]; f != nil {
		r.mu.Unlock()
		select {
		case <-f.done:
			return f.h, f.err
		case <-ctx.Done():
			return nil, &types.ConnectionError{TenantID: tenantID, Kind: types.ConnTimeout, Cause: ctx.Err()}
		}
	}
	f := &flight{done: make(chan struct{})}
	r.inflight[tenantID] = f
	r.mu.Unlock()

	f.h, f.err = r.open(ctx, cfg)

	r.mu.Lock()
	delete(r.inflight, tenantID)
	if f.err == nil {
		r.handles[tenantID] = f.h
		promLiveConnections.Set(float64(len(r.handles)))
	}
	r.mu.Unlock()
	close(f.done)

	return f.h, f.err
}

// open establishes a new client for the tenant's datastore.
func (r *Router) open(ctx context.Context, cfg *types.Tenant) (*Handle, error) {
	uri := cfg.DatastoreURI

	if !strings.HasPrefix(uri, "mongodb://") && !strings.HasPrefix(uri, "mongodb+srv://") {
		promConnectFailures.WithLabelValues(string(types.ConnMalformedURI)).Inc()
		return nil, &types.ConnectionError{
			TenantID: cfg.TenantID,
			Kind:     types.ConnMalformedURI,
			Cause:    fmt.Errorf("unsupported datastore URI scheme"),
		}
	}

	clientOpts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(DefaultMaxPoolSize).
		SetConnectTimeout(r.connectTimeout).
		SetServerSelectionTimeout(r.connectTimeout).
		SetRetryWrites(true).
		SetRetryReads(true).
		SetAppName("Incentra-Engine")

	connectCtx, cancel := context.WithTimeout(ctx, r.connectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		kind := classifyConnectError(err)
		promConnectFailures.WithLabelValues(string(kind)).Inc()
		return nil, &types.ConnectionError{TenantID: cfg.TenantID, Kind: kind, Cause: err}
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, r.connectTimeout)
	defer pingCancel()

	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		kind := classifyConnectError(err)
		promConnectFailures.WithLabelValues(string(kind)).Inc()
		return nil, &types.ConnectionError{TenantID: cfg.TenantID, Kind: kind, Cause: err}
	}

	dbName := databaseNameFromURI(uri)
	if dbName == "" {
		dbName = "incentra_" + cfg.TenantID
	}

	r.logger.Printf("Connected tenant '%s' datastore (database=%s)", cfg.TenantID, dbName)

	return &Handle{
		tenantID:    cfg.TenantID,
		client:      client,
		db:          client.Database(dbName),
		collections: cfg.Collections,
	}, nil
}

// healthy pings a cached handle with a short timeout.
func (r *Router) healthy(ctx context.Context, h *Handle) bool {
	pingCtx, cancel := context.WithTimeout(ctx, DefaultPingTimeout)
	defer cancel()
	return h.client.Ping(pingCtx, readpref.Primary()) == nil
}

// Evict force-closes and removes a cached handle.
func (r *Router) Evict(tenantID string) {
	r.mu.Lock()
	h := r.handles[tenantID]
	delete(r.handles, tenantID)
	promLiveConnections.Set(float64(len(r.handles)))
	r.mu.Unlock()

	if h == nil {
		return
	}
	promEvictions.Inc()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.client.Disconnect(ctx); err != nil {
		r.logger.Printf("Error disconnecting tenant '%s': %v", tenantID, err)
	}
}

// Shutdown disconnects every cached handle. Used on service teardown.
func (r *Router) Shutdown(ctx context.Context) {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]*Handle)
	promLiveConnections.Set(0)
	r.mu.Unlock()

	for tenantID, h := range handles {
		if err := h.client.Disconnect(ctx); err != nil {
			r.logger.Printf("Error disconnecting tenant '%s': %v", tenantID, err)
		}
	}
	r.logger.Printf("Disconnected %d tenant connection(s)", len(handles))
}

// LiveConnections reports the number of cached handles.
func (r *Router) LiveConnections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// classifyConnectError maps a driver error to a ConnectionErrorKind for
// diagnostics.
func classifyConnectError(err error) types.ConnectionErrorKind {
	if err == nil {
		return types.ConnUnreachable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.ConnTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "auth"), strings.Contains(msg, "unauthorized"), strings.Contains(msg, "sasl"):
		return types.ConnAuthFailure
	case strings.Contains(msg, "error parsing uri"), strings.Contains(msg, "scheme must be"), strings.Contains(msg, "invalid uri"):
		return types.ConnMalformedURI
	case strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "timed out"), strings.Contains(msg, "timeout"):
		return types.ConnTimeout
	default:
		return types.ConnUnreachable
	}
}

// databaseNameFromURI extracts the database path component of a MongoDB
// URI, if present.
func databaseNameFromURI(uri string) string {
	rest := uri
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	if i := strings.Index(rest, "/"); i >= 0 {
		rest = rest[i+1:]
	} else {
		return ""
	}
	if i := strings.Index(rest, "?"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}
