package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/you/intake/internal/admission"
	"github.com/you/intake/internal/auth"
	"github.com/you/intake/internal/blob"
	"github.com/you/intake/internal/config"
	"github.com/you/intake/internal/queue"
	"github.com/you/intake/internal/ratelimit"
	"github.com/you/intake/internal/server"
	"github.com/you/intake/internal/storage"
	"github.com/you/intake/internal/upload"
	"github.com/you/intake/internal/webhook"
)

func main() {
	cfg := config.Load()
	log := newLogger(cfg.AppEnv)
	defer log.Sync()

	if err := storage.Migrate(cfg.PostgresDSN, "migrations"); err != nil {
		log.Fatal("migrations failed", zap.Error(err))
	}

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

	srv := server.New(
		store,
		jobQ,
		auth.NewResolver(store),
		ratelimit.New(store, settings),
		admission.NewGuard(queue.NewSlots(rdb), queue.NewLocker(rdb), settings),
		upload.NewIssuer(store, settings),
		blob.NewLocal(cfg.StorageDir),
		webhook.NewNotifier(hookQ),
		settings,
		log,
	)

	httpSrv := &http.Server{Addr: cfg.APIAddr, Handler: srv.Router()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("api listening", zap.String("addr", cfg.APIAddr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})

	err = g.Wait()
	err = multierr.Append(err, rdb.Close())
	db.Close()
	if err != nil {
		log.Fatal("api exited", zap.Error(err))
	}
	log.Info("api stopped")
}

func newLogger(appEnv string) *zap.Logger {
	if appEnv == "dev" {
		l, _ := zap.NewDevelopment()
		return l
	}
	l, _ := zap.NewProduction()
	return l
}
