package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/you/intake/internal/blob"
	"github.com/you/intake/internal/config"
	"github.com/you/intake/internal/extract"
	"github.com/you/intake/internal/queue"
	"github.com/you/intake/internal/storage"
	"github.com/you/intake/internal/webhook"
	"github.com/you/intake/internal/worker"
)

func main() {
	cfg := config.Load()
	log := newLogger(cfg.AppEnv)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect failed", zap.Error(err))
	}
	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})

	store := storage.New(db)
	settings := config.NewSettings(store, 30*time.Second)
	jobQ := queue.New(rdb, "ingest")
	hookQ := queue.New(rdb, "webhook")

	runner := worker.NewRunner(
		store,
		jobQ,
		store,
		extract.NewHTTPClient(cfg.ExtractorURL, cfg.ExtractorKey),
		store,
		blob.NewLocal(cfg.StorageDir),
		webhook.NewNotifier(hookQ),
		settings,
		log,
	)
	deliverer := webhook.NewDeliverer(store, store, hookQ, settings, log)
	hooks := webhook.NewRunner(hookQ, store, store, deliverer, log)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Workers; i++ {
		g.Go(func() error { return runner.Run(gctx) })
	}
	g.Go(func() error { return hooks.Run(gctx) })

	log.Info("workers started", zap.Int("count", cfg.Workers))
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	err = multierr.Append(err, rdb.Close())
	db.Close()
	if err != nil {
		log.Fatal("worker exited", zap.Error(err))
	}
	log.Info("worker stopped")
}

func newLogger(appEnv string) *zap.Logger {
	if appEnv == "dev" {
		l, _ := zap.NewDevelopment()
		return l
	}
	l, _ := zap.NewProduction()
	return l
}
