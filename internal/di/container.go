package di

import (
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"campus-assistant/internal/adapter/assistant_http"
	"campus-assistant/internal/adapter/generation_http"
	"campus-assistant/internal/adapter/kb_http"
	"campus-assistant/internal/adapter/mirror"
	"campus-assistant/internal/adapter/repository"
	"campus-assistant/internal/domain"
	"campus-assistant/internal/infra/backoff"
	"campus-assistant/internal/infra/config"
	"campus-assistant/internal/infra/httpclient"
	"campus-assistant/internal/infra/throttle"
	"campus-assistant/internal/usecase"
	"campus-assistant/internal/usecase/classifier"
	"campus-assistant/internal/usecase/retrieval"
	"campus-assistant/internal/usecase/session"
	"campus-assistant/internal/worker"
)

// ApplicationComponents holds all wired dependencies for the application.
type ApplicationComponents struct {
	// Repositories
	SessionRepo domain.SessionRepository
	TxManager   domain.TransactionManager
	Mirror      *mirror.BadgerMirror

	// External clients
	KnowledgeBase *kb_http.Client
	Generation    *generation_http.Client

	// Usecases
	Classifier *classifier.Classifier
	Retrieval  *retrieval.Engine
	PlanAnswer usecase.PlanAnswerUsecase
	Sessions   *session.Registry

	// Admission and retry
	Throttle *throttle.Throttler
	Backoff  *backoff.Scheduler

	// HTTP surface
	Handler          *assistant_http.Handler
	IdentityProvider domain.IdentityProvider

	// Worker
	Janitor *worker.Janitor
}

// NewApplicationComponents wires all dependencies from config and database pool.
func NewApplicationComponents(cfg *config.Config, pool *pgxpool.Pool, log *slog.Logger) (*ApplicationComponents, error) {
	// Repositories
	sessionRepo := repository.NewSessionRepository(pool)
	txManager := repository.NewPostgresTransactionManager(pool)

	sessionMirror, err := mirror.Open(mirror.Config{
		Path:     cfg.Mirror.Path,
		InMemory: cfg.Mirror.InMemory,
		Logger:   log,
	})
	if err != nil {
		return nil, fmt.Errorf("open session mirror: %w", err)
	}

	// Shared HTTP clients with connection pooling
	kbHTTP := httpclient.NewPooledClient(cfg.KnowledgeBase.Timeout)
	generationHTTP := httpclient.NewPooledClient(cfg.Generation.Timeout)

	// External clients
	kbClient := kb_http.NewClient(kb_http.Config{
		BaseURL:   cfg.KnowledgeBase.URL,
		CacheSize: cfg.KnowledgeBase.CacheSize,
		CacheTTL:  cfg.KnowledgeBase.CacheTTL,
		FetchRPS:  cfg.KnowledgeBase.FetchRPS,
	}, kbHTTP, log)
	generationClient := generation_http.NewClient(cfg.Generation.URL, generationHTTP, log)

	// Classifier and retrieval
	cls := classifier.New(classifier.Config{
		HomeInstitution: cfg.Classifier.HomeInstitution,
		Competitors:     cfg.Classifier.Competitors,
	})

	retrievalConfig := retrieval.Config{
		MaxResults:         cfg.Retrieval.MaxResults,
		DirectResults:      cfg.Retrieval.DirectResults,
		MinRecommendation:  cfg.Retrieval.MinRecommendation,
		CandidatePool:      cfg.Retrieval.CandidatePool,
		ClosenessThreshold: cfg.Retrieval.ClosenessThreshold,
		FetchConcurrency:   cfg.KnowledgeBase.FetchConcurrency,
	}
	if err := retrievalConfig.Validate(); err != nil {
		_ = sessionMirror.Close()
		return nil, fmt.Errorf("invalid retrieval config: %w", err)
	}
	engine := retrieval.NewEngine(kbClient, cls, retrievalConfig, log)
	planAnswer := usecase.NewPlanAnswerUsecase(cls, engine, log)

	// Admission and retry
	throttler := throttle.New(throttle.Config{
		MaxRequests: cfg.Throttle.MaxRequests,
		Window:      cfg.Throttle.Window,
	})
	scheduler := backoff.New(backoff.Config{
		BaseDelay:  cfg.Backoff.BaseDelay,
		MaxDelay:   cfg.Backoff.MaxDelay,
		MaxRetries: cfg.Backoff.MaxRetries,
	}, log)

	log.Info("assistant_pipeline_configured",
		slog.Int("throttle_max_requests", cfg.Throttle.MaxRequests),
		slog.Duration("throttle_window", cfg.Throttle.Window),
		slog.Int("backoff_max_retries", cfg.Backoff.MaxRetries),
		slog.Int("retrieval_max_results", retrievalConfig.MaxResults))

	// Sessions
	registry := session.NewRegistry(session.Deps{
		Store:     sessionRepo,
		Mirror:    sessionMirror,
		Tx:        txManager,
		Throttle:  throttler,
		Planner:   planAnswer,
		Generator: generationClient,
		Backoff:   scheduler,
		Logger:    log,
	})

	// HTTP surface
	handler := assistant_http.NewHandler(registry, throttler, log, assistant_http.DefaultHeartbeat)
	identityProvider := assistant_http.NewJWTIdentityProvider(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AdminSubjects...)
	if cfg.Auth.JWTSecret == "" {
		log.Warn("AUTH_JWT_SECRET not set, identity middleware will deny all requests")
	}

	// Worker
	janitor := worker.NewJanitor(throttler, cfg.Throttle.SweepInterval, log)

	return &ApplicationComponents{
		SessionRepo:      sessionRepo,
		TxManager:        txManager,
		Mirror:           sessionMirror,
		KnowledgeBase:    kbClient,
		Generation:       generationClient,
		Classifier:       cls,
		Retrieval:        engine,
		PlanAnswer:       planAnswer,
		Sessions:         registry,
		Throttle:         throttler,
		Backoff:          scheduler,
		Handler:          handler,
		IdentityProvider: identityProvider,
		Janitor:          janitor,
	}, nil
}

// Close releases resources owned by the components.
func (c *ApplicationComponents) Close() error {
	return c.Mirror.Close()
}
