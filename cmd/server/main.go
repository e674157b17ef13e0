/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the feature-engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (file + FEATURE_ENGINE_* environment)
  2. Build the zap logger
  3. Initialize SQLite store
  4. Select the evaluation cache backend (memory or Redis)
  5. Wire the flagging engine and experiment manager together:
     - ab_test flags delegate variant selection to the manager
     - auto-apply experiments write the winning value back to their flag
  6. Start the HTTP server and the duration sweeper with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (configurable timeout)
  3. Stop the sweeper
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  FEATURE_ENGINE_STORAGE_PATH=./data/engine.db ./server

  # Run with in-memory database and Redis cache
  FEATURE_ENGINE_STORAGE_PATH=":memory:" \
  FEATURE_ENGINE_CACHE_BACKEND=redis ./server

SEE ALSO:
  - config/config.go: Configuration keys and defaults
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/feature-engine/api"
	"github.com/warp/feature-engine/config"
	"github.com/warp/feature-engine/experiments"
	"github.com/warp/feature-engine/flagging"
	"github.com/warp/feature-engine/logger"
	redisstore "github.com/warp/feature-engine/store/redis"
	"github.com/warp/feature-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zlog, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zlog.Sync()

	// Initialize store
	store, err := sqlite.New(cfg.Storage.Path)
	if err != nil {
		zlog.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	// Select cache backend
	var cache flagging.Cache
	switch cfg.Cache.Backend {
	case config.CacheRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr: cfg.Cache.RedisAddr,
			DB:   cfg.Cache.RedisDB,
		})
		defer client.Close()
		cache = redisstore.NewCache(client, cfg.Cache.TTL, zlog)
		zlog.Info("using redis evaluation cache", zap.String("addr", cfg.Cache.RedisAddr))
	default:
		cache = flagging.NewMemoryCache(cfg.Cache.TTL)
		zlog.Info("using in-memory evaluation cache", zap.Duration("ttl", cfg.Cache.TTL))
	}

	// Experiment manager, with auto-applied winners written back to flags.
	engine := &engineHolder{}
	manager := experiments.NewManager(store, store,
		experiments.WithLogger(zlog),
		experiments.WithApplier(&flagWinnerApplier{engine: engine, log: zlog}),
	)

	// Flagging engine: ab_test flags delegate variant selection to the
	// experiment manager so flag evaluation and assignment agree.
	engine.Engine = flagging.NewEngine(store, store, cache, zlog,
		flagging.WithStoreTimeout(cfg.Storage.Timeout),
		flagging.WithAssignment(func(evalCtx flagging.EvaluationContext, experimentID string) (string, bool) {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Storage.Timeout)
			defer cancel()
			p, err := manager.AssignParticipant(ctx, experimentID, evalCtx.ID, nil)
			if err != nil {
				return "", false
			}
			return p.Variant, true
		}),
	)

	// HTTP layer
	handler := api.NewHandler(engine.Engine, manager, zlog)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Background sweeper for overdue experiments
	sweeper := api.NewSweeper(manager, zlog)
	sweeper.CheckInterval = cfg.Sweep.Interval
	sweeper.Enabled = cfg.Sweep.Enabled
	sweeper.Start()

	// Start server in goroutine
	go func() {
		zlog.Info("server starting", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		zlog.Fatal("server forced to shutdown", zap.Error(err))
	}
	sweeper.Stop()

	zlog.Info("server stopped")
}

// engineHolder breaks the construction cycle between the engine and the
// winner applier: the applier needs the engine, the engine needs the
// manager, and the manager needs the applier.
type engineHolder struct {
	*flagging.Engine
}

// flagWinnerApplier writes a completed experiment's winning value back to
// its linked flag, switching the flag to an immediate full rollout.
type flagWinnerApplier struct {
	engine *engineHolder
	log    *zap.Logger
}

func (a *flagWinnerApplier) ApplyWinner(ctx context.Context, exp *experiments.Experiment, winningVariant string) error {
	if exp.FlagKey == "" || a.engine.Engine == nil {
		return nil
	}

	flag, err := a.engine.GetFlag(ctx, exp.TenantID, exp.FlagKey)
	if err != nil {
		return err
	}

	flag.DefaultValue = exp.Variants[winningVariant]
	flag.Strategy = flagging.StrategyImmediate
	flag.Rollout = flagging.RolloutConfig{}
	if err := a.engine.UpdateFlag(ctx, flag); err != nil {
		return err
	}

	a.log.Info("applied experiment winner to flag",
		zap.String("experiment_id", exp.ID),
		zap.String("flag_key", exp.FlagKey),
		zap.String("variant", winningVariant))
	return nil
}
