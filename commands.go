package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"task-tracker/internal/cache"
	"task-tracker/internal/config"
	"task-tracker/internal/database"
	"task-tracker/internal/mailer"
	"task-tracker/internal/middleware"
	"task-tracker/internal/monitoring"
	"task-tracker/internal/repositories"
	"task-tracker/internal/router"
	"task-tracker/internal/services"
	"task-tracker/internal/worker"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "task-tracker",
		Short:         "Multi-user task tracker API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCommand(), newMigrateCommand(), newWorkerCommand())
	return root
}

func newServeCommand() *cobra.Command {
	var migrate bool
	var withWorker bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := newApplication()
			if err != nil {
				return err
			}
			defer app.close()

			if migrate {
				if err := database.AutoMigrate(app.pool.DB); err != nil {
					return err
				}
			}
			if withWorker {
				if err := app.startBackground(ctx); err != nil {
					return err
				}
			}
			return app.serve(ctx)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply schema migrations before serving")
	cmd.Flags().BoolVar(&withWorker, "with-worker", false, "run the digest scheduler and worker in this process")
	return cmd
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			pool, err := database.NewDatabasePool(database.PoolConfigFrom(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := database.AutoMigrate(pool.DB); err != nil {
				return err
			}
			log.Println("Migrations applied")
			return nil
		},
	}
}

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the daily digest scheduler and worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := newApplication()
			if err != nil {
				return err
			}
			defer app.close()

			if err := app.startBackground(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			return nil
		},
	}
}

type application struct {
	cfg     *config.Config
	pool    *database.DatabasePool
	redis   *redis.Client
	cache   *cache.MultiLevelCache
	tasks   *services.CachedTaskService
	digest  *services.DigestService
	auth    *services.AuthServiceImpl
	workers *worker.Worker
}

func newApplication() (*application, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	pool, err := database.NewDatabasePool(database.PoolConfigFrom(cfg))
	if err != nil {
		return nil, err
	}

	app := &application{cfg: cfg, pool: pool, auth: services.NewAuthService(cfg.Auth)}

	var l2 *cache.RedisCache
	if cfg.Redis.Enabled {
		app.redis = cache.NewRedisClient(cache.CacheConfigFrom(cfg))
		l2 = cache.NewRedisCacheFromClient(app.redis)
	}
	app.cache = cache.NewMultiLevelCache(l2)

	taskRepo := repositories.NewTaskRepository(pool.DB)
	app.tasks = services.NewCachedTaskService(services.NewTaskService(taskRepo, cfg.Tasks), app.cache, cfg.Tasks.CacheTTL)
	app.digest = services.NewDigestService(taskRepo, repositories.NewReportRepository(pool.DB), mailer.New(cfg), cfg.Digest)

	return app, nil
}

func (a *application) healthChecker() *monitoring.HealthChecker {
	checker := monitoring.NewHealthChecker(5 * time.Second)
	checker.Register("database", func(ctx context.Context) error { return a.pool.Health() })
	if a.redis != nil {
		checker.Register("cache", a.cache.Health)
	}
	return checker
}

func (a *application) serve(ctx context.Context) error {
	limiter := middleware.NewRateLimiter(a.cfg.RateLimit)
	go limiter.RunCleanup(ctx, a.cfg.RateLimit.CleanupInterval)

	engine := router.SetupRouter(a.cfg, router.Dependencies{
		DB:              a.pool.DB,
		AuthService:     a.auth,
		RegisterService: services.NewRegisterService(a.cfg.Auth.BCryptCost),
		TaskService:     a.tasks,
		Reports:         a.digest,
		RateLimiter:     limiter,
		Health:          a.healthChecker(),
		Stats: map[string]monitoring.StatsFunc{
			"database": a.pool.Stats,
			"cache":    a.tasks.GetCacheStats,
		},
	})

	server := &http.Server{
		Addr:         a.cfg.GetServerAddr(),
		Handler:      engine,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server listening on %s (%s)", server.Addr, a.cfg.Server.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	log.Println("Server stopped")
	return nil
}

// startBackground runs the digest scheduler and the job worker until ctx ends.
func (a *application) startBackground(ctx context.Context) error {
	if a.redis == nil {
		return errors.New("the digest worker needs redis; set REDIS_ENABLED=true")
	}
	if !a.cfg.Digest.Enabled {
		log.Println("Daily digest disabled, background jobs not started")
		return nil
	}

	queues := append([]string{a.cfg.Digest.Queue}, a.cfg.Worker.Queues...)
	a.workers = worker.NewWorker(worker.WorkerConfig{
		RedisClient:  a.redis,
		Concurrency:  a.cfg.Worker.Concurrency,
		PollInterval: a.cfg.Worker.PollInterval,
		Queues:       uniqueQueues(queues),
	})
	a.workers.RegisterHandler(worker.JobTypeDailyDigest, worker.DigestHandler(a.digest))
	a.workers.Start(a.cfg.Worker.Concurrency)

	scheduler := worker.NewScheduler(a.redis, a.digest, a.cfg.Digest.Queue, a.cfg.Digest.Interval)
	go scheduler.Run(ctx)
	return nil
}

func uniqueQueues(queues []string) []string {
	seen := make(map[string]bool, len(queues))
	out := queues[:0]
	for _, q := range queues {
		if q == "" || seen[q] {
			continue
		}
		seen[q] = true
		out = append(out, q)
	}
	return out
}

func (a *application) close() {
	if a.workers != nil {
		a.workers.Stop()
	}
	if err := a.cache.Close(); err != nil {
		log.Printf("Error closing cache: %v", err)
	}
	if err := a.pool.Close(); err != nil {
		log.Printf("Error closing database: %v", err)
	}
}
