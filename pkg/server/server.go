// Package server implements the pixgallery reference backend.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/NicolasHaas/pixgallery/pkg/datastore"
	"github.com/NicolasHaas/pixgallery/pkg/model"
)

// Config holds server configuration.
type Config struct {
	Addr         string        // HTTP bind address (e.g. ":5000")
	DBDriver     string        // sqlite, postgres or memory
	DBPath       string        // SQLite database path
	DatabaseURL  string        // PostgreSQL connection string
	UploadDir    string        // directory served under /uploads/
	SessionTTL   time.Duration // lifetime of issued session tokens (0 = no expiry)
	UsersFile    string        // YAML file of accounts to create on startup
	OTLPEndpoint string        // OTLP/gRPC collector for traces (empty = disabled)
	MetricsLog   time.Duration // interval of the periodic metrics log line (0 = disabled)

	// CLI-only actions (run and exit)
	ExportUsers  bool // export all users as YAML and exit
	ExportImages bool // export all image records as YAML and exit
}

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Store and will Close() it on shutdown.
type Dependencies struct {
	Store datastore.DataStore
	// Now overrides the clock used for session expiry.
	Now func() time.Time
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:       ":5000",
		DBDriver:   "sqlite",
		DBPath:     "pixgallery.db",
		UploadDir:  "uploads",
		SessionTTL: 7 * 24 * time.Hour,
		MetricsLog: 60 * time.Second,
	}
}

// Server is the pixgallery backend.
type Server struct {
	cfg     Config
	store   datastore.DataStore
	metrics *Metrics
	now     func() time.Time

	// registerMu serializes registration so exactly one account becomes
	// the first (admin) user.
	registerMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Server instance.
func New(cfg Config, deps Dependencies) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Server{
		cfg:     cfg,
		store:   deps.Store,
		metrics: NewMetrics(),
		now:     now,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Routes registers every endpoint on a gorilla/mux router.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/auth/logout", s.requireAuth(s.handleLogout)).Methods(http.MethodPost)
	api.HandleFunc("/auth/me", s.requireAuth(s.handleMe)).Methods(http.MethodGet)

	api.HandleFunc("/images", s.handleListImages).Methods(http.MethodGet)
	api.HandleFunc("/images", s.requirePermission(model.PermUploadImage, s.handleCreateImage)).Methods(http.MethodPost)
	api.HandleFunc("/images/bulk", s.requirePermission(model.PermUploadImage, s.handleBulkImages)).Methods(http.MethodPost)
	api.HandleFunc("/images/{id}", s.handleGetImage).Methods(http.MethodGet)
	api.HandleFunc("/images/{id}", s.requirePermission(model.PermDeleteImage, s.handleDeleteImage)).Methods(http.MethodDelete)
	api.HandleFunc("/export/{kind}", s.requirePermission(model.PermExportData, s.handleExport)).Methods(http.MethodGet)
	api.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "endpoint not found")
	})

	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)

	r.PathPrefix("/uploads/").Handler(http.StripPrefix("/uploads/", http.FileServer(http.Dir(s.cfg.UploadDir))))

	return r
}

// Handler returns the full middleware chain: tracing, request logging, routes.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.logRequests(s.Routes()), "pixgallery-server")
}
