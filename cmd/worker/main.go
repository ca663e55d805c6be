package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go-arbor/internal/config"
	"go-arbor/internal/domain"
	redisinfra "go-arbor/internal/infrastructure/redis"
	"go-arbor/internal/lifecycle"
	"go-arbor/internal/logging"
	"go-arbor/internal/worker"

	"go.uber.org/zap"
)

// Usage: arbor-worker <id> <parent-address>
func main() {
	if len(os.Args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: arbor-worker <id> <parent-address>")
		os.Exit(2)
	}

	cfg, err := config.FromEnv("")
	logger, _ := logging.New(os.Stderr, cfg.Logging.Level, "arbor")
	defer logger.Sync()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	id, err := strconv.ParseInt(os.Args[1], 10, 32)
	if err != nil {
		logger.Fatal("bad worker id", zap.String("arg", os.Args[1]), zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, domain.NodeID(id), os.Args[2], logger); err != nil {
		logger.Fatal("worker failed", zap.Stringer("worker", domain.NodeID(id)), zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, id domain.NodeID, parentAddr string, logger *zap.Logger) error {
	if cfg.Transport.Kind != config.TransportRedis {
		return fmt.Errorf("worker processes need a shared broker, transport %q is in-process only", cfg.Transport.Kind)
	}

	client, err := redisinfra.NewRedisClient(ctx, cfg.Transport.RedisAddr)
	if err != nil {
		return err
	}
	fabric := redisinfra.NewFabric(client)
	fabric.SetJoinWait(cfg.Transport.JoinWait())
	defer fabric.Close()

	node, err := worker.New(worker.Config{
		ID:           id,
		PID:          os.Getpid(),
		ParentAddr:   parentAddr,
		ReplyTimeout: cfg.Worker.ReplyTimeout(),
	}, fabric, lifecycle.NewExecSpawner(cfg.Worker.Binary, logger.Named("spawner")), logger, nil)
	if err != nil {
		return err
	}
	if err := node.Open(ctx); err != nil {
		return err
	}
	logger.Info("serving", zap.String("address", node.Addresses().Parent))
	return node.Run(ctx)
}
