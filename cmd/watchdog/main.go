package main

import (
	"context"
	"database/sql"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jackc/pgx/v5/pgxpool"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/you/intake/internal/config"
	"github.com/you/intake/internal/queue"
	"github.com/you/intake/internal/storage"
	"github.com/you/intake/internal/webhook"
	"github.com/you/intake/internal/worker"
)

// advisoryLockID keeps exactly one watchdog sweeping per database.
const advisoryLockID = 7411

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
	defer db.Close()

	// The advisory lock rides a dedicated session, held for the life of
	// the process.
	lockDB, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		log.Fatal("lock connection failed", zap.Error(err))
	}
	defer lockDB.Close()

	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()

	store := storage.New(db)
	settings := config.NewSettings(store, 30*time.Second)
	dog := worker.NewWatchdog(
		store,
		queue.New(rdb, "ingest"),
		queue.New(rdb, "webhook"),
		webhook.NewNotifier(queue.New(rdb, "webhook")),
		settings,
		log,
	)

	tick := time.NewTicker(time.Duration(cfg.WatchdogTick) * time.Second)
	defer tick.Stop()

	log.Info("watchdog started", zap.Int("tick_sec", cfg.WatchdogTick))
	for {
		select {
		case <-ctx.Done():
			log.Info("watchdog stopped")
			return
		case <-tick.C:
		}

		var leader bool
		if err := lockDB.QueryRowContext(ctx,
			`select pg_try_advisory_lock($1)`, advisoryLockID).Scan(&leader); err != nil {
			log.Warn("leader election failed", zap.Error(err))
			continue
		}
		if !leader {
			continue
		}
		dog.Sweep(ctx)
	}
}

func newLogger(appEnv string) *zap.Logger {
	if appEnv == "dev" {
		l, _ := zap.NewDevelopment()
		return l
	}
	l, _ := zap.NewProduction()
	return l
}
