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
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"incentra/platform/shared/types"
	"incentra/platform/store"
	"incentra/platform/tenant"
)

// Server is the thin HTTP surface over the orchestrator. Handlers are
// I/O shims: decode, delegate, encode.
type Server struct {
	orch      *Orchestrator
	directory tenant.Directory
	router    *tenant.Router
	redis     *redis.Client
	logger    *log.Logger
}

// NewServer wires the HTTP surface. redis may be nil when caching and
// rate limiting are disabled.
func NewServer(orch *Orchestrator, directory tenant.Directory, router *tenant.Router, redisClient *redis.Client) *Server {
	return &Server{
		orch:      orch,
		directory: directory,
		router:    router,
		redis:     redisClient,
		logger:    log.New(log.Writer(), "[EngineServer] ", log.LstdFlags),
	}
}

// Routes builds the router with CORS applied.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	r.HandleFunc("/api/v1/executions", s.runExecutionHandler).Methods("POST")
	r.HandleFunc("/api/v1/executions", s.listExecutionsHandler).Methods("GET")
	r.HandleFunc("/api/v1/executions/{runId}", s.getExecutionHandler).Methods("GET")

	r.HandleFunc("/api/v1/tenants", s.provisionTenantHandler).Methods("POST")
	r.HandleFunc("/api/v1/tenants", s.listTenantsHandler).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure for production
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

// Run starts the HTTP server and blocks.
func (s *Server) Run(port string) error {
	s.logger.Printf("Incentra engine listening on port %s", port)
	return http.ListenAndServe(":"+port, s.Routes())
}

func (s *Server) runExecutionHandler(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res := s.orch.RunExecution(r.Context(), req)
	if res.Err != nil {
		writeJSON(w, statusForError(res.Err), map[string]interface{}{
			"run_id": res.RunID,
			"state":  res.State,
			"error":  res.Err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":          res.RunID,
		"state":           res.State,
		"summary":         res.Summary,
		"post_processing": res.PostProcessingStatus,
	})
}

func (s *Server) getExecutionHandler(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id query parameter is required")
		return
	}

	execLog, err := s.orch.GetExecutionLog(r.Context(), tenantID, runID)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, execLog)
}

func (s *Server) listExecutionsHandler(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	schemeID := r.URL.Query().Get("scheme_id")
	if tenantID == "" || schemeID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id and scheme_id query parameters are required")
		return
	}

	summaries, err := s.orch.ListExecutionLogs(r.Context(), tenantID, schemeID)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"scheme_id":  schemeID,
		"executions": summaries,
	})
}

func (s *Server) provisionTenantHandler(w http.ResponseWriter, r *http.Request) {
	var t types.Tenant
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if t.TenantID == "" || t.DatastoreURI == "" {
		writeError(w, http.StatusBadRequest, "tenant_id and datastore_uri are required")
		return
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	if err := s.directory.SaveTenant(r.Context(), &t); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Routing must not serve a stale connection after re-provisioning.
	s.router.Evict(t.TenantID)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tenant_id":      t.TenantID,
		"setup_complete": t.SetupComplete,
	})
}

func (s *Server) listTenantsHandler(w http.ResponseWriter, r *http.Request) {
	tenants, err := s.directory.ListTenants(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Datastore URIs carry credentials and stay server-side.
	out := make([]map[string]interface{}, 0, len(tenants))
	for _, t := range tenants {
		out = append(out, map[string]interface{}{
			"tenant_id":      t.TenantID,
			"setup_complete": t.SetupComplete,
			"created_at":     t.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tenants": out})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"directory": "ok", "redis": "ok"}
	healthy := true

	if p, ok := s.directory.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(ctx); err != nil {
			checks["directory"] = err.Error()
			healthy = false
		}
	}
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		}
	} else {
		checks["redis"] = "disabled"
	}

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status":           status,
		"service":          "incentra-engine",
		"checks":           checks,
		"live_connections": s.router.LiveConnections(),
		"timestamp":        time.Now().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]interface{}{"error": msg})
}

// statusForError maps the engine's error taxonomy onto HTTP codes.
func statusForError(err error) int {
	var (
		validation *types.ValidationError
		ruleConfig *types.RuleConfigurationError
		connErr    *types.ConnectionError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &ruleConfig):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrTenantNotConfigured),
		errors.Is(err, store.ErrSchemeNotFound),
		errors.Is(err, store.ErrLogNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrTenantSetupIncomplete):
		return http.StatusPreconditionFailed
	case errors.Is(err, types.ErrDuplicateProductionRun):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.As(err, &connErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
