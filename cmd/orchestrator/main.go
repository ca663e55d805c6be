package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-arbor/internal/api/console"
	"go-arbor/internal/api/handler"
	"go-arbor/internal/config"
	"go-arbor/internal/core/ports"
	"go-arbor/internal/core/postgres/repository"
	"go-arbor/internal/infrastructure/memory"
	redisinfra "go-arbor/internal/infrastructure/redis"
	"go-arbor/internal/lifecycle"
	"go-arbor/internal/logging"
	"go-arbor/internal/metrics"
	"go-arbor/internal/orchestrator"
	"go-arbor/internal/service"
	"go-arbor/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to the yaml configuration")
	flag.Parse()

	// 1. Load configuration
	cfg, err := config.FromEnv(*configPath)
	logger, level := logging.New(os.Stderr, cfg.Logging.Level, "arbor")
	defer logger.Sync()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *configPath, logger, level); err != nil {
		logger.Fatal("orchestrator failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, configPath string, logger *zap.Logger, level zap.AtomicLevel) error {
	// 2. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 3. Transport and spawner
	var (
		fabric  ports.Fabric
		spawner ports.Spawner
	)
	switch cfg.Transport.Kind {
	case config.TransportMemory:
		mem := memory.NewFabric(0)
		defer mem.Close()
		local := worker.NewLocalSpawner(mem, cfg.Worker.ReplyTimeout(), logger, m)
		defer local.Close()
		fabric, spawner = mem, local
	default:
		client, err := redisinfra.NewRedisClient(ctx, cfg.Transport.RedisAddr)
		if err != nil {
			return err
		}
		rf := redisinfra.NewFabric(client)
		rf.SetJoinWait(cfg.Transport.JoinWait())
		defer rf.Close()
		fabric = rf
		spawner = lifecycle.NewExecSpawner(cfg.Worker.Binary, logger.Named("spawner"))
	}

	// 4. Job history
	var jobs ports.JobRepository = memory.NewJobLedger(0)
	if cfg.Database.DSN != "" {
		db, err := repository.Open(cfg.Database.DSN)
		if err != nil {
			return err
		}
		jobs = repository.NewJobRepository(db)
	}

	// 5. Orchestrator
	namespace := lifecycle.NewNamespace(cfg.Namespace)
	orch := orchestrator.New(orchestrator.OptionsFrom(cfg, namespace), fabric, spawner, logger, m)
	if err := orch.Start(ctx); err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Orchestrator.ShutdownGrace()+5*time.Second)
		defer cancel()
		orch.Close(closeCtx)
	}()
	logger.Info("orchestrator up", zap.String("namespace", namespace))

	// 6. Operator surfaces
	svc := service.NewTreeService(orch, jobs, logger)
	gin.SetMode(gin.ReleaseMode)
	server := &http.Server{
		Addr:              cfg.Orchestrator.HTTPAddr,
		Handler:           handler.NewRouter(handler.NewTreeHandler(svc), reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http api listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		err := console.New(svc, os.Stdin, os.Stdout).Run(gctx)
		if errors.Is(err, console.ErrExit) {
			// exit ends the whole run
			return err
		}
		return nil
	})
	if configPath != "" {
		g.Go(func() error {
			return config.Watch(gctx, configPath, func(next config.Config) {
				level.SetLevel(logging.ParseLevel(next.Logging.Level))
				logger.Info("configuration reloaded", zap.Stringer("level", level.Level()))
			}, func(err error) {
				logger.Warn("config reload failed", zap.Error(err))
			})
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, console.ErrExit) {
		return err
	}
	return nil
}
