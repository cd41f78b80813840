// Package gateway hosts the Conclave HTTP surface: the chat SSE endpoint,
// the council command WebSocket, and the observer fan-out socket.
//
// server.go contains the core Server struct definition and constructor.
// Related functionality is organized in separate files:
//   - lifecycle.go: server startup, shutdown, and background tasks
//   - runtime.go: runtime initialization, provider setup, tool registration
//   - sse.go / chat_http.go: the chat streaming endpoint and its adapters
//   - council_ws.go / council_runner.go: council command socket and turn driver
package gateway

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/conclave-ai/conclave/internal/agent"
	"github.com/conclave-ai/conclave/internal/artifacts"
	"github.com/conclave-ai/conclave/internal/audit"
	"github.com/conclave-ai/conclave/internal/auth"
	"github.com/conclave-ai/conclave/internal/config"
	"github.com/conclave-ai/conclave/internal/infra"
	"github.com/conclave-ai/conclave/internal/jobs"
	modelcatalog "github.com/conclave-ai/conclave/internal/models"
	"github.com/conclave-ai/conclave/internal/observability"
	"github.com/conclave-ai/conclave/internal/quota"
	"github.com/conclave-ai/conclave/internal/ratelimit"
	"github.com/conclave-ai/conclave/internal/sessions"
	"github.com/conclave-ai/conclave/internal/storage"
	"github.com/conclave-ai/conclave/internal/tasks"
	"github.com/conclave-ai/conclave/internal/tools/policy"
	"github.com/conclave-ai/conclave/internal/tools/sandbox/firecracker"
)

// Server coordinates the agent runtime, session store, quota gate, council
// engine, and tool manager behind the HTTP streaming surface.
type Server struct {
	config     *config.Config
	configPath string
	logger     *slog.Logger

	auditLogger *audit.Logger
	wg          sync.WaitGroup
	cancel      context.CancelFunc
	startTime   time.Time

	// startupCancel cancels background discovery goroutines launched during
	// initialization (bedrock model discovery, artifact cleanup).
	startupCancel context.CancelFunc

	runtimeMu     sync.Mutex
	runtime       *agent.Runtime
	sessions      sessions.Store
	branchStore   sessions.BranchStore
	sessionLocker sessions.Locker
	memoryLogger  *sessions.MemoryLogger
	stores        storage.StoreSet

	authService   *auth.Service
	taskScheduler *tasks.Scheduler
	taskStore     tasks.Store

	toolPolicyResolver *policy.Resolver
	toolManager        *ToolManager
	firecrackerBackend *firecracker.Backend

	llmProvider     agent.LLMProvider
	defaultModel    string
	jobStore        jobs.Store
	approvalChecker *agent.ApprovalChecker

	modelCatalog     *modelcatalog.Catalog
	bedrockDiscovery *modelcatalog.BedrockDiscovery

	quotaGate  *quota.Gate
	quotaSweep *quota.Sweeper

	// chatLimiter throttles chat request admission per user (429 on deny)
	chatLimiter *ratelimit.Limiter

	councilBus      *topicBus
	councilSessions map[string]*councilRun
	councilMu       sync.Mutex

	// Artifact repository for tool-produced files
	artifactRepo     artifacts.Repository
	artifactCleanup  *artifacts.CleanupService
	artifactRedactor *artifacts.RedactionPolicy

	// Event timeline for observability and debugging
	eventStore    *observability.MemoryEventStore
	eventRecorder *observability.EventRecorder

	// OpenTelemetry tracer and its exporter shutdown hook
	tracer        *observability.Tracer
	traceShutdown func(context.Context) error

	// Trace directory plugin for run tracing
	tracePlugin *agent.TraceDirectoryPlugin

	// nodeID identifies this gateway instance in clustered deployments
	nodeID string

	// healthChecks aggregates per-subsystem probes for /healthz
	healthChecks *infra.HealthCheckRegistry

	// httpServer serves the chat SSE endpoint, council and observer
	// WebSockets, metrics, and health probes
	httpServer   *http.Server
	httpListener net.Listener

	// singletonLock prevents multiple gateway instances from running
	singletonLock *LockHandle
}

// NewServer creates a new gateway server with the given configuration and logger.
// If cfg is nil, an empty config is used. If logger is nil, slog.Default() is used.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Startup context for background discovery goroutines
	startupCtx, startupCancel := context.WithCancel(context.Background())
	startupCancelUsed := false
	defer func() {
		if !startupCancelUsed {
			startupCancel()
		}
	}()

	apiKeys := make([]auth.APIKeyConfig, 0, len(cfg.Auth.APIKeys))
	for _, entry := range cfg.Auth.APIKeys {
		apiKeys = append(apiKeys, auth.APIKeyConfig{
			Key:    entry.Key,
			UserID: entry.UserID,
			Email:  entry.Email,
			Name:   entry.Name,
		})
	}
	authService := auth.NewService(auth.Config{
		JWTSecret:   cfg.Auth.JWTSecret,
		TokenExpiry: cfg.Auth.TokenExpiry,
		APIKeys:     apiKeys,
	})

	var auditLogger *audit.Logger
	loggerInstance, err := audit.NewLogger(cfg.Audit)
	if err != nil {
		logger.Warn("audit logger init failed", "error", err)
	} else {
		auditLogger = loggerInstance
	}

	stores, err := initStorageStores(cfg)
	if err != nil {
		return nil, err
	}
	if stores.Users != nil {
		authService.SetUserStore(stores.Users)
	}
	registerOAuthProviders(authService, cfg.Auth.OAuth)

	modelCatalog := modelcatalog.NewCatalog()
	var bedrockDiscovery *modelcatalog.BedrockDiscovery
	if cfg.LLM.Bedrock.Enabled {
		bedrockCfg := buildBedrockDiscoveryConfig(cfg.LLM.Bedrock, logger)
		bedrockDiscovery = modelcatalog.NewBedrockDiscovery(bedrockCfg, logger)
		if err := bedrockDiscovery.RegisterWithCatalog(startupCtx, modelCatalog); err != nil {
			logger.Warn("bedrock discovery failed", "error", err)
		}
	}

	// Job store for async tool execution (prefer DB when available)
	var jobStore jobs.Store
	if hasServerDatabase(cfg) {
		dbJobStore, err := jobs.NewCockroachStoreFromDSN(cfg.Database.URL, nil)
		if err != nil {
			logger.Warn("job store falling back to memory", "error", err)
			jobStore = jobs.NewMemoryStore()
		} else {
			jobStore = dbJobStore
			logger.Info("using database-backed job store")
		}
	} else {
		jobStore = jobs.NewMemoryStore()
	}

	// Task store for scheduled work, when enabled and a database exists
	var taskStore tasks.Store
	if cfg.Tasks.Enabled && hasServerDatabase(cfg) {
		taskStoreCfg := tasks.DefaultCockroachConfig()
		if cfg.Database.MaxConnections > 0 {
			taskStoreCfg.MaxOpenConns = cfg.Database.MaxConnections
		}
		if cfg.Database.ConnMaxLifetime > 0 {
			taskStoreCfg.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
		}
		dbTaskStore, err := tasks.NewCockroachStoreFromDSN(cfg.Database.URL, taskStoreCfg)
		if err != nil {
			logger.Warn("task store initialization failed, scheduled tasks disabled", "error", err)
		} else {
			taskStore = dbTaskStore
			logger.Info("scheduled tasks store initialized")
		}
	}

	artifactSetup, err := buildArtifactSetup(cfg, logger)
	if err != nil {
		startupCancel()
		return nil, err
	}
	artifactCleanupNeeded := true
	defer func() {
		if !artifactCleanupNeeded || artifactSetup == nil {
			return
		}
		if artifactSetup.cleanup != nil {
			artifactSetup.cleanup.Stop()
		}
		if closer, ok := artifactSetup.repo.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				logger.Warn("failed to close artifact repository", "error", err)
			}
		}
	}()

	// Tracer for OpenTelemetry spans (no-op when no endpoint configured)
	var tracer *observability.Tracer
	var traceShutdown func(context.Context) error
	if cfg.Observability.Tracing.Enabled {
		tracer, traceShutdown = observability.NewTracer(observability.TraceConfig{
			ServiceName:    cfg.Observability.Tracing.ServiceName,
			ServiceVersion: cfg.Observability.Tracing.ServiceVersion,
			Environment:    cfg.Observability.Tracing.Environment,
			Endpoint:       cfg.Observability.Tracing.Endpoint,
			SamplingRate:   cfg.Observability.Tracing.SamplingRate,
			EnableInsecure: cfg.Observability.Tracing.Insecure,
			Attributes:     cfg.Observability.Tracing.Attributes,
		})
	}

	// Event store for the observability timeline
	eventStore := observability.NewMemoryEventStore(10000)
	eventRecorder := observability.NewEventRecorder(eventStore, nil)

	toolPolicyResolver := policy.NewResolver()

	// Quota ledger and gate share one store so the sweeper can prune
	// counters from periods long past.
	quotaLedger := quota.NewMemoryLedger()
	quotaGate := quota.NewGate(quota.Config{Ledger: quotaLedger})
	quotaSweep := quota.NewSweeper(quotaLedger, 90*24*time.Hour, logger)

	server := &Server{
		config:             cfg,
		logger:             logger,
		auditLogger:        auditLogger,
		startupCancel:      startupCancel,
		stores:             stores,
		authService:        authService,
		taskStore:          taskStore,
		toolPolicyResolver: toolPolicyResolver,
		jobStore:           jobStore,
		modelCatalog:       modelCatalog,
		bedrockDiscovery:   bedrockDiscovery,
		eventStore:         eventStore,
		eventRecorder:      eventRecorder,
		tracer:             tracer,
		traceShutdown:      traceShutdown,
		quotaGate:          quotaGate,
		quotaSweep:         quotaSweep,
		chatLimiter:        newChatRateLimiter(),
		councilBus:         newTopicBus(logger),
		councilSessions:    make(map[string]*councilRun),
	}
	if artifactSetup != nil {
		server.artifactRepo = artifactSetup.repo
		server.artifactCleanup = artifactSetup.cleanup
		server.artifactRedactor = artifactSetup.redactor
	}

	server.toolManager = NewToolManager(ToolManagerConfig{
		Config:         cfg,
		PolicyResolver: toolPolicyResolver,
		JobStore:       jobStore,
		TaskStore:      taskStore,
		AuditLogger:    auditLogger,
		Logger:         logger,
	})

	server.healthChecks = infra.NewHealthCheckRegistry()
	server.healthChecks.Register(infra.HealthCheckConfig{
		Name:    "liveness",
		Checker: infra.LivenessChecker(),
	})
	server.healthChecks.Register(infra.HealthCheckConfig{
		Name:    "tool-manager",
		Checker: infra.ComponentChecker("tool-manager", server.toolManager),
	})

	startupCancelUsed = true
	artifactCleanupNeeded = false
	return server, nil
}

// initStorageStores builds the agent/connection/user store set, backed by the
// database when one is configured and by memory otherwise.
func initStorageStores(cfg *config.Config) (storage.StoreSet, error) {
	if !hasServerDatabase(cfg) {
		return storage.NewMemoryStores(), nil
	}
	storeCfg := storage.DefaultCockroachConfig()
	if cfg.Database.MaxConnections > 0 {
		storeCfg.MaxOpenConns = cfg.Database.MaxConnections
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		storeCfg.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
	}
	return storage.NewCockroachStoresFromDSN(cfg.Database.URL, storeCfg)
}

// registerOAuthProviders wires configured OAuth providers into the auth service.
func registerOAuthProviders(service *auth.Service, cfg config.OAuthConfig) {
	if service == nil {
		return
	}
	if strings.TrimSpace(cfg.Google.ClientID) != "" && strings.TrimSpace(cfg.Google.ClientSecret) != "" {
		service.RegisterProvider("google", auth.NewGoogleProvider(auth.OAuthProviderConfig{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURL,
		}))
	}
	if strings.TrimSpace(cfg.GitHub.ClientID) != "" && strings.TrimSpace(cfg.GitHub.ClientSecret) != "" {
		service.RegisterProvider("github", auth.NewGitHubProvider(auth.OAuthProviderConfig{
			ClientID:     cfg.GitHub.ClientID,
			ClientSecret: cfg.GitHub.ClientSecret,
			RedirectURL:  cfg.GitHub.RedirectURL,
		}))
	}
}

// hasServerDatabase reports whether a server-backed (non-embedded) database
// is configured; sqlite: URLs are handled by the session store alone.
func hasServerDatabase(cfg *config.Config) bool {
	url := strings.TrimSpace(cfg.Database.URL)
	return url != "" && !strings.HasPrefix(url, "sqlite:")
}

// newChatRateLimiter builds the per-user request-admission limiter the chat
// endpoint consults before any provider work starts; a denied request is
// answered with 429.
func newChatRateLimiter() *ratelimit.Limiter {
	return ratelimit.NewLimiter(ratelimit.Config{
		Enabled:           true,
		RequestsPerSecond: 2,
		BurstSize:         10,
	})
}

// ToolManager returns the tool manager for registration introspection.
func (s *Server) ToolManager() *ToolManager {
	return s.toolManager
}

// TaskStore returns the task store for scheduled task operations.
func (s *Server) TaskStore() tasks.Store {
	return s.taskStore
}

// QuotaGate returns the quota and tier policy gate.
func (s *Server) QuotaGate() *quota.Gate {
	return s.quotaGate
}
