package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/turnrelay/internal/api"
	"github.com/wuwenbin0122/turnrelay/internal/auth"
	"github.com/wuwenbin0122/turnrelay/internal/cache"
	"github.com/wuwenbin0122/turnrelay/internal/chat"
	"github.com/wuwenbin0122/turnrelay/internal/db"
	"github.com/wuwenbin0122/turnrelay/internal/metrics"
	"github.com/wuwenbin0122/turnrelay/internal/utils"
)

// conversationStore is what every STORE_DRIVER backend provides.
type conversationStore interface {
	chat.Store
	auth.UserLookup
}

type backend struct {
	store   conversationStore
	history api.HistoryReader
	ping    func(context.Context) error
	closers []func()
}

func (b *backend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("config: no .env file loaded: %v", err)
	}

	cfg, err := utils.LoadConfig()
	if err != nil {
		log.Fatalf("config: failed to load: %v", err)
	}

	logger, err := utils.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("logger: failed to build: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store: failed to open", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	defer be.close()

	authService, err := auth.NewService(cfg.Auth.JWTSecret, be.store)
	if err != nil {
		logger.Fatal("auth: failed to initialise", zap.Error(err))
	}

	collectors := metrics.New()
	detached := chat.NewDetached(utils.Component(logger, "detached"), collectors.DetachedFailed)

	var assemblerOpts []chat.AssemblerOption
	assemblerOpts = append(assemblerOpts, chat.WithLimits(cfg.Chat.HistoryLimit, cfg.Chat.MemoryLimit))
	if cfg.Redis.Addr != "" {
		redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Warn("redis: user context cache disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
			userCache := cache.NewUserContextCache(redisClient, cfg.Redis.TTL, utils.Component(logger, "cache"))
			assemblerOpts = append(assemblerOpts, chat.WithUserContextCache(userCache))
		}
	}

	upstream := chat.NewUpstream(chat.UpstreamConfig{
		BaseURL:       cfg.Upstream.BaseURL,
		APIKey:        cfg.Upstream.APIKey,
		Model:         cfg.Upstream.Model,
		HeaderTimeout: cfg.Upstream.HeaderTimeout,
	}, utils.Component(logger, "upstream"))

	service := chat.NewService(chat.Dependencies{
		Authenticator: authService,
		Store:         be.store,
		Assembler:     chat.NewAssembler(be.store, utils.Component(logger, "assembler"), assemblerOpts...),
		Upstream:      upstream,
		Summary:       chat.NewSummaryTrigger(cfg.Summary.Endpoint, nil),
		Detached:      detached,
		DecodeMode:    chat.ParseDecodeMode(cfg.Chat.DecodeMode),
		Observer:      collectors,
		Logger:        utils.Component(logger, "chat"),
	})

	handler := api.NewHandler(api.Dependencies{
		Chat:          service,
		Authenticator: authService,
		Conversations: be.store,
		History:       be.history,
		AllowedOrigin: cfg.Server.AllowedOrigin,
		Logger:        utils.Component(logger, "api"),
	})

	router := setupRouter(handler, collectors, be.ping)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server listening",
			zap.String("addr", server.Addr),
			zap.String("store", cfg.Store.Driver),
			zap.String("model", upstream.Model()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server crashed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}

	// Let in-flight summary refreshes and assistant writes finish.
	detached.Close()

	logger.Info("server stopped cleanly")
}

func openBackend(ctx context.Context, cfg *utils.Config, logger *zap.Logger) (*backend, error) {
	switch cfg.Store.Driver {
	case utils.StoreDriverPostgres:
		postgres, err := db.NewPostgres(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		be := &backend{store: postgres, ping: postgres.Ping, closers: []func(){postgres.Close}}

		if err := postgres.Ping(ctx); err != nil {
			be.close()
			return nil, fmt.Errorf("postgres: ping: %w", err)
		}
		if err := postgres.EnsureSchema(ctx); err != nil {
			be.close()
			return nil, err
		}

		gormDB, err := db.NewGORM(cfg.Postgres.BuildDSN())
		if err != nil {
			logger.Warn("history listing disabled", zap.Error(err))
			return be, nil
		}
		if sqlDB, err := gormDB.DB(); err == nil {
			be.closers = append(be.closers, func() { _ = sqlDB.Close() })
		}
		be.history = db.NewHistory(gormDB)
		return be, nil

	case utils.StoreDriverMongo:
		mongoStore, err := db.NewMongo(ctx, cfg.Mongo)
		if err != nil {
			return nil, err
		}
		be := &backend{
			store:   mongoStore,
			history: mongoStore,
			ping: func(ctx context.Context) error {
				return mongoStore.Client.Ping(ctx, nil)
			},
			closers: []func(){func() {
				if err := mongoStore.Close(context.Background()); err != nil {
					logger.Warn("mongo: close error", zap.Error(err))
				}
			}},
		}
		if err := mongoStore.EnsureCollections(ctx); err != nil {
			be.close()
			return nil, err
		}
		return be, nil

	case utils.StoreDriverMemory:
		logger.Warn("using in-memory store; data is lost on restart")
		memory := db.NewMemory()
		return &backend{
			store:   memory,
			history: memory,
			ping:    func(context.Context) error { return nil },
		}, nil

	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}

func setupRouter(handler *api.Handler, collectors *metrics.Metrics, ping func(context.Context) error) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		status, code := "ok", http.StatusOK
		if err := ping(c.Request.Context()); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":    status,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})
	router.GET("/metrics", gin.WrapH(collectors.Handler()))

	handler.RegisterRoutes(router)

	return router
}
