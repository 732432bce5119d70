// Package api exposes the HTTP surface: technique record keeping, operation
// and asset management, the ATT&CK taxonomy, authentication, and the audit
// trail.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"redtrace/config"
	"redtrace/service"
	"redtrace/storage"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// rateLimiterEntry holds a rate limiter with last seen time
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// API holds the HTTP server and its dependencies
type API struct {
	router     *mux.Router
	server     *http.Server
	techniques *service.TechniqueService
	operations *service.OperationService
	tools      *storage.SQLiteToolStorage
	targets    *storage.SQLiteTargetStorage
	mitre      *storage.SQLiteMitreStorage
	users      *storage.SQLiteUserStorage
	auditLog   *storage.SQLiteAuditStorage
	config     *config.Config
	logger     *zap.SugaredLogger
	validate   *validator.Validate

	rateLimiters   map[string]*rateLimiterEntry
	rateLimitersMu sync.Mutex
	stopCh         chan struct{}
}

// NewAPI creates a new API server
func NewAPI(
	techniques *service.TechniqueService,
	operations *service.OperationService,
	tools *storage.SQLiteToolStorage,
	targets *storage.SQLiteTargetStorage,
	mitreStore *storage.SQLiteMitreStorage,
	users *storage.SQLiteUserStorage,
	auditLog *storage.SQLiteAuditStorage,
	cfg *config.Config,
	logger *zap.SugaredLogger,
) *API {
	a := &API{
		router:       mux.NewRouter(),
		techniques:   techniques,
		operations:   operations,
		tools:        tools,
		targets:      targets,
		mitre:        mitreStore,
		users:        users,
		auditLog:     auditLog,
		config:       cfg,
		logger:       logger,
		validate:     validator.New(),
		rateLimiters: make(map[string]*rateLimiterEntry),
		stopCh:       make(chan struct{}),
	}
	a.setupRoutes()
	go a.cleanupRateLimiters()
	return a
}

// setupRoutes sets up the API routes
func (a *API) setupRoutes() {
	a.router.Use(a.requestIDMiddleware)
	a.router.Use(a.corsMiddleware)
	a.router.Use(a.rateLimitMiddleware)
	a.router.Use(a.metricsMiddleware)

	a.router.HandleFunc("/health", a.healthCheck).Methods("GET")
	a.router.Handle("/metrics", promhttp.Handler())
	a.router.HandleFunc("/api/auth/login", a.login).Methods("POST")

	protected := a.router.PathPrefix("/api").Subrouter()
	protected.Use(a.jwtAuthMiddleware)

	protected.HandleFunc("/techniques", a.listTechniques).Methods("GET")
	protected.HandleFunc("/techniques", a.createTechnique).Methods("POST")
	protected.HandleFunc("/techniques/{id}", a.getTechnique).Methods("GET")
	protected.HandleFunc("/techniques/{id}", a.updateTechnique).Methods("PUT")
	protected.HandleFunc("/techniques/{id}", a.deleteTechnique).Methods("DELETE")

	protected.HandleFunc("/operations", a.listOperations).Methods("GET")
	protected.HandleFunc("/operations", a.createOperation).Methods("POST")
	protected.HandleFunc("/operations/{id}", a.getOperation).Methods("GET")
	protected.HandleFunc("/operations/{id}", a.deleteOperation).Methods("DELETE")
	protected.HandleFunc("/operations/{id}/members", a.addOperationMember).Methods("POST")
	protected.HandleFunc("/operations/{id}/members/{username}", a.removeOperationMember).Methods("DELETE")
	protected.HandleFunc("/operations/{id}/techniques/reorder", a.reorderTechniques).Methods("POST")

	protected.HandleFunc("/tools", a.listTools).Methods("GET")
	protected.HandleFunc("/tools", a.createTool).Methods("POST")
	protected.HandleFunc("/tools/{id}", a.deleteTool).Methods("DELETE")

	protected.HandleFunc("/targets", a.listTargets).Methods("GET")
	protected.HandleFunc("/targets", a.createTarget).Methods("POST")
	protected.HandleFunc("/targets/{id}", a.deleteTarget).Methods("DELETE")

	protected.HandleFunc("/mitre/techniques", a.listMitreTechniques).Methods("GET")
	protected.HandleFunc("/mitre/techniques/{id}/sub-techniques", a.listMitreSubTechniques).Methods("GET")

	protected.HandleFunc("/audit", a.listAuditLog).Methods("GET")
}

// healthCheck reports liveness
func (a *API) healthCheck(w http.ResponseWriter, _ *http.Request) {
	a.respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// Start starts the API server
func (a *API) Start(addr string) error {
	a.server = &http.Server{
		Addr:         addr,
		Handler:      a.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return a.server.ListenAndServe()
}

// StartTLS starts the API server with TLS
func (a *API) StartTLS(addr, certFile, keyFile string) error {
	a.server = &http.Server{
		Addr:         addr,
		Handler:      a.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return a.server.ListenAndServeTLS(certFile, keyFile)
}

// Stop stops the API server
func (a *API) Stop(ctx context.Context) error {
	close(a.stopCh)
	if a.server != nil {
		return a.server.Shutdown(ctx)
	}
	return nil
}

// Router exposes the handler for tests
func (a *API) Router() http.Handler {
	return a.router
}
