package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/docflow/internal/config"
	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/ports"
	"github.com/kirillkom/docflow/internal/core/usecase"
	"github.com/kirillkom/docflow/internal/core/workflow"
	"github.com/kirillkom/docflow/internal/infrastructure/files"
	"github.com/kirillkom/docflow/internal/infrastructure/queue/nats"
	"github.com/kirillkom/docflow/internal/infrastructure/repository/memory"
	"github.com/kirillkom/docflow/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/docflow/internal/infrastructure/resilience"
	"github.com/kirillkom/docflow/internal/infrastructure/rules/yamlrules"
	"github.com/kirillkom/docflow/internal/infrastructure/scheduler"
	"github.com/kirillkom/docflow/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/docflow/internal/infrastructure/storage/s3"
	"github.com/kirillkom/docflow/internal/observability/metrics"
)

type Options struct {
	Service string
	// Registerer receives the workflow collectors; a private registry is used
	// when nil.
	Registerer prometheus.Registerer
}

type App struct {
	Config config.Config

	Rules         *workflow.RuleTable
	Workflow      *usecase.TransitionUseCase
	Documents     *usecase.DocumentUseCase
	Audit         *usecase.AuditRecorder
	Roles         *usecase.RoleUseCase
	Importer      *usecase.ImportDocumentsUseCase
	Notifications *usecase.NotificationUseCase
	Expiry        *usecase.ExpireDocumentUseCase
	Files         ports.FileStore

	// Subscriber is nil when notifications are delivered in process.
	Subscriber ports.NotificationSubscriber
	Metrics    *metrics.WorkflowMetrics

	closers []func()
}

type repositories struct {
	docs     ports.DocumentRepository
	audit    ports.AuditLog
	identity ports.IdentityProvider
	roles    ports.RoleAssignmentStore
	inbox    ports.NotificationInbox
}

func New(ctx context.Context, cfg config.Config, options Options) (*App, error) {
	if options.Service == "" {
		options.Service = "docflow"
	}
	registerer := options.Registerer
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	app := &App{Config: cfg}
	app.Metrics = metrics.NewWorkflowMetrics(options.Service, registerer)

	rules, err := yamlrules.Load(cfg.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	app.Rules = rules

	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts: cfg.ResilienceRetryMaxAttempts,
		BreakerEnabled:   cfg.ResilienceBreakerEnabled,
		OnStateChange:    app.Metrics.ObserveBreakerState,
		OnRetry:          app.Metrics.ObserveRetry,
	})

	repos, err := app.openRepositories(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}

	objects, err := newObjectStorage(ctx, cfg, executor)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init object storage: %w", err)
	}
	app.Files = files.New(objects, files.Options{
		MaxBytes:         cfg.MaxFileBytes,
		AllowedMimeTypes: cfg.AllowedMimeTypes,
	})

	app.Notifications = usecase.NewNotificationUseCase(repos.inbox)
	var notifier ports.Notifier = app.Notifications
	var queue *nats.Queue
	if cfg.NATSURL != "" {
		queue, err = nats.NewWithOptions(cfg.NATSURL, cfg.NATSNotificationSubject, nats.Options{
			ResilienceExecutor: executor,
			ClientName:         "docflow-" + options.Service,
			AccessSubject:      cfg.NATSAccessSubject,
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		app.closers = append(app.closers, queue.Close)
		notifier = queue
		app.Subscriber = queue
	}

	var expiryScheduler ports.ExpiryScheduler
	if cfg.RedisAddr != "" {
		client := asynq.NewClient(RedisOpt(cfg))
		app.closers = append(app.closers, func() { _ = client.Close() })
		expiryScheduler = scheduler.New(client, scheduler.Options{
			Queue:              cfg.ExpiryQueue,
			ResilienceExecutor: executor,
		})
	} else {
		slog.Warn("expiry_scheduler_disabled", "reason", "REDIS_ADDR is empty")
	}

	resolver := usecase.NewCapabilityResolver(repos.identity, cfg.CapabilityCacheTTL, app.Metrics)
	authorizer := usecase.NewTransitionAuthorizer(rules, resolver)
	app.Audit = usecase.NewAuditRecorder(repos.audit, authorizer, app.Metrics)

	app.Workflow = usecase.NewTransitionUseCase(repos.docs, authorizer, app.Files, notifier, app.Audit, usecase.TransitionOptions{
		MaxCommentLength: cfg.MaxCommentLength,
		Scheduler:        expiryScheduler,
		Observer:         app.Metrics,
	})
	app.Documents = usecase.NewDocumentUseCase(repos.docs, authorizer, app.Files, app.Audit, expiryScheduler, cfg.MaxCommentLength)
	app.Roles = usecase.NewRoleUseCase(repos.roles, resolver, authorizer, app.Audit)
	if err := app.wireAccessChanges(cfg, queue, resolver); err != nil {
		app.Close()
		return nil, err
	}
	app.Importer = usecase.NewImportDocumentsUseCase(repos.docs, authorizer, app.Audit)
	app.Expiry = usecase.NewExpireDocumentUseCase(repos.docs, app.Workflow, expiryScheduler, cfg.SystemActorID)

	if err := seedActors(ctx, repos.roles, cfg); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

// wireAccessChanges keeps the capability cache of every process in step with
// role changes made by any other. Without NATS a shared database cannot push
// invalidations, so the cache stays on the short fallback TTL.
func (a *App) wireAccessChanges(cfg config.Config, queue *nats.Queue, resolver *usecase.CapabilityResolver) error {
	if queue == nil {
		if cfg.StorageDriver != "memory" {
			slog.Warn("access_change_feed_disabled",
				"reason", "NATS_URL is empty",
				"cache_ttl", usecase.AccessFeedFallbackTTL.String(),
			)
			resolver.SetAccessFeedHealthy(false)
		}
		return nil
	}
	a.Roles.SetBroadcaster(queue)
	unsubscribe, err := queue.SubscribeAccessChanges(resolver)
	if err != nil {
		return fmt.Errorf("subscribe access changes: %w", err)
	}
	a.closers = append(a.closers, unsubscribe)
	return nil
}

// RedisOpt is shared by the expiry client and the worker's asynq server.
func RedisOpt(cfg config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

func (a *App) openRepositories(ctx context.Context, cfg config.Config) (repositories, error) {
	switch cfg.StorageDriver {
	case "memory":
		store := memory.NewStore()
		return repositories{docs: store, audit: store, identity: store, roles: store, inbox: store}, nil
	case "postgres", "":
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return repositories{}, fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		if err := ensureSchema(ctx, db); err != nil {
			return repositories{}, err
		}
		identity := postgres.NewIdentityRepository(db)
		return repositories{
			docs:     postgres.NewDocumentRepository(db),
			audit:    postgres.NewAuditRepository(db),
			identity: identity,
			roles:    identity,
			inbox:    postgres.NewNotificationRepository(db),
		}, nil
	default:
		return repositories{}, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	schemaCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := postgres.EnsureSchema(schemaCtx, db); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func newObjectStorage(ctx context.Context, cfg config.Config, executor *resilience.Executor) (ports.ObjectStorage, error) {
	switch cfg.FileStore {
	case "s3":
		storage, err := s3.New(s3.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		}, executor)
		if err != nil {
			return nil, err
		}
		if err := storage.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return storage, nil
	case "local", "":
		storage, err := localfs.New(cfg.StoragePath)
		if err != nil {
			return nil, err
		}
		return storage, nil
	default:
		return nil, fmt.Errorf("unknown FILE_STORE %q", cfg.FileStore)
	}
}

// seedActors grants the system actor its role, plus admin to the configured
// bootstrap operator. Both grants are idempotent.
func seedActors(ctx context.Context, store ports.RoleAssignmentStore, cfg config.Config) error {
	grants := map[string]domain.RoleName{}
	if cfg.SystemActorID != "" {
		grants[cfg.SystemActorID] = domain.RoleSystem
	}
	if cfg.BootstrapAdminID != "" {
		grants[cfg.BootstrapAdminID] = domain.RoleAdmin
	}
	for actorID, role := range grants {
		if err := store.AssignRole(ctx, domain.RoleAssignment{
			ActorID:   actorID,
			Role:      role,
			Active:    true,
			GrantedBy: "bootstrap",
			GrantedAt: time.Now().UTC(),
		}); err != nil {
			return fmt.Errorf("seed %s role for %s: %w", role, actorID, err)
		}
	}
	return nil
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
