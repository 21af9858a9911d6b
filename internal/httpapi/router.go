package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"llm_evaluator/internal/chat"
	"llm_evaluator/internal/config"
	"llm_evaluator/internal/logging"
	"llm_evaluator/internal/metrics"
	"llm_evaluator/internal/middleware"
	"llm_evaluator/internal/providers"
	"llm_evaluator/internal/storage"
	"llm_evaluator/internal/utils"
)

const cacheJanitorInterval = time.Minute

// Dependencies aggregates all services the HTTP layer needs.
type Dependencies struct {
	Store   AdminStore
	Chat    ChatRunner
	Models  providers.ModelLister
	Locker  storage.ConversationLocker
	Metrics metrics.Metrics
	Sink    logging.Sink

	// Bound on a provider's model listing during sync
	SyncTimeout time.Duration

	// Owned resources, released by Close. Nil in tests.
	DB     *storage.DB
	Redis  *storage.RedisClient
	Client *providers.OpenAIClient
}

// NewRouter creates an HTTP handler with all dependencies wired up
func NewRouter(ctx context.Context, cfg *config.Config) (http.Handler, *Dependencies, error) {
	key, err := cfg.EncryptionKey()
	if err != nil {
		return nil, nil, err
	}
	encryption, err := storage.NewEncryption(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize encryption: %w", err)
	}

	db, err := storage.NewDB(storage.DBConfig{
		URL:               cfg.Database.URL,
		MaxOpenConns:      cfg.Database.MaxOpenConns,
		MaxIdleConns:      cfg.Database.MaxIdleConns,
		ConnMaxLifetime:   cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime:   cfg.Database.ConnMaxIdleTime,
		ModelCacheSize:    cfg.Cache.ModelCacheSize,
		ModelCacheTTL:     cfg.Cache.ModelCacheTTL,
		ProviderCacheSize: cfg.Cache.ProviderCacheSize,
		ProviderCacheTTL:  cfg.Cache.ProviderCacheTTL,
	}, encryption)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
	}
	db.StartCacheJanitor(ctx, cacheJanitorInterval)

	deps := &Dependencies{
		Store:       NewDatabaseAdminStore(db),
		Metrics:     metrics.NewPrometheusMetrics(),
		SyncTimeout: cfg.Chat.SyncTimeout,
		DB:          db,
	}

	// Redis is optional; without it locks only hold within this process
	if cfg.Redis.Address != "" {
		redisClient, err := storage.NewRedisClient(storage.RedisConfig{
			Address:      cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			deps.Close(ctx)
			return nil, nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
		deps.Redis = redisClient
		deps.Locker = storage.NewRedisLocker(redisClient.Client(), cfg.Chat.LockTTL)
	} else {
		logging.Infof("REDIS_ADDRESS not set, using in-process conversation locks")
		deps.Locker = storage.NewMemoryLocker()
	}

	if cfg.LoggingSink.Enabled {
		sink, err := logging.NewS3Sink(ctx, logging.S3SinkConfig{
			BufferSize:    cfg.LoggingSink.BufferSize,
			FlushSize:     cfg.LoggingSink.FlushSize,
			FlushInterval: cfg.LoggingSink.FlushInterval,
			S3Bucket:      cfg.LoggingSink.S3Bucket,
			S3Region:      cfg.LoggingSink.S3Region,
			S3Prefix:      cfg.LoggingSink.S3Prefix,
			PodName:       cfg.LoggingSink.PodName,
		})
		if err != nil {
			deps.Close(ctx)
			return nil, nil, fmt.Errorf("failed to initialize logging sink: %w", err)
		}
		deps.Sink = sink
	} else {
		deps.Sink = logging.NewNoopSink()
	}

	client := providers.NewOpenAIClient(providers.DefaultClientConfig())
	deps.Client = client
	deps.Models = client

	service, err := chat.NewService(chat.ServiceConfig{
		Store:       NewChatStore(db.NewRecordStore()),
		Completer:   client,
		Sink:        deps.Sink,
		Metrics:     deps.Metrics,
		CallTimeout: cfg.Chat.CallTimeout,
	})
	if err != nil {
		deps.Close(ctx)
		return nil, nil, err
	}
	deps.Chat = service

	return NewHandler(deps, cfg), deps, nil
}

// NewHandler registers every route on a fresh mux and wraps it in the
// request middleware
func NewHandler(deps *Dependencies, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()
	registerRoutes(mux, deps, cfg)

	return middleware.Chain(
		middleware.Instrument(deps.Metrics, mux),
		middleware.RequestID,
		middleware.CORS(cfg.CORSOrigin),
	)
}

func registerRoutes(mux *http.ServeMux, deps *Dependencies, cfg *config.Config) {
	// Health check endpoint - public
	mux.HandleFunc("GET /health", deps.handleHealth)

	// Metrics endpoint - public
	mux.Handle("GET /metrics", deps.Metrics.HTTPHandler())

	// API endpoints - bearer JWT when JWT_SECRET is set
	auth := middleware.JWTMiddleware([]byte(cfg.JWTSecret))
	api := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, auth(h))
	}

	api("POST /api/providers/{$}", deps.handleCreateProvider)
	api("GET /api/providers/{$}", deps.handleListProviders)
	api("DELETE /api/providers/{id}", deps.handleDeleteProvider)
	api("POST /api/providers/{id}/sync_models", deps.handleSyncModels)

	api("POST /api/models/{$}", deps.handleCreateModel)
	api("GET /api/models/{$}", deps.handleListModels)
	api("DELETE /api/models/{id}", deps.handleDeleteModel)
	api("PUT /api/models/{id}/toggle", deps.handleToggleModel)

	api("POST /api/conversations/{$}", deps.handleCreateConversation)
	api("GET /api/conversations/{$}", deps.handleListConversations)
	api("GET /api/conversations/{id}", deps.handleGetConversation)
	api("DELETE /api/conversations/{id}", deps.handleDeleteConversation)

	api("POST /api/messages/{$}", deps.handleCreateMessage)

	api("POST /api/chat/{$}", deps.handleChat)
	api("POST /api/chat/edit", deps.handleEdit)
	api("POST /api/chat/regenerate", deps.handleRegenerate)
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status   string           `json:"status"`
	Database *storage.DBStats `json:"database,omitempty"`
}

// handleHealth reports ok with pool and cache stats, or 503 when the
// database or Redis is unreachable
func (d *Dependencies) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if d.DB != nil {
		if err := d.DB.Health(ctx); err != nil {
			utils.RespondWithError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Health(ctx); err != nil {
			utils.RespondWithError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}

	resp := HealthResponse{Status: "ok"}
	if d.DB != nil {
		stats := d.DB.GetStats()
		resp.Database = &stats
	}
	utils.RespondWithJSON(w, http.StatusOK, resp)
}

// Close flushes the sink and releases every owned resource
func (d *Dependencies) Close(ctx context.Context) error {
	var errs []error
	if d.Sink != nil {
		if err := d.Sink.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("logging sink: %w", err))
		}
	}
	if d.Client != nil {
		if err := d.Client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("provider client: %w", err))
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	return errors.Join(errs...)
}
