package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appcfg "github.com/park285/chess-match-server/internal/config"
	"github.com/park285/chess-match-server/internal/coord"
	"github.com/park285/chess-match-server/internal/gateway"
	"github.com/park285/chess-match-server/internal/hub"
	"github.com/park285/chess-match-server/internal/matchqueue"
	"github.com/park285/chess-match-server/internal/obslog"
	"github.com/park285/chess-match-server/internal/rules"
	"github.com/park285/chess-match-server/internal/sched"
	"github.com/park285/chess-match-server/internal/session"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}

	rdb, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis init error: %v", err)
	}

	repo, err := session.NewRepository(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("repository init error: %v", err)
	}
	mctx, mcancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := repo.Migrate(mctx); err != nil {
		mcancel()
		log.Fatalf("migrate error: %v", err)
	}
	mcancel()

	store := session.NewStore(rdb, repo, rules.NewAdapter())
	queue := matchqueue.NewQueue(cfg.WaitPerPlayer)
	scheduler := sched.NewScheduler()
	h := hub.NewHub()

	coordinator := coord.New(store, queue, scheduler, h, coord.Config{
		MoveTimeout:   cfg.MoveTimeout,
		MatchInterval: cfg.MatchInterval,
	})

	runCtx, stopMatching := context.WithCancel(context.Background())
	go coordinator.Run(runCtx)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           gateway.NewServer(coordinator, cfg.SendBuffer).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		obslog.L().Info("server_listen", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			obslog.L().Fatal("server_error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	obslog.L().Info("server_shutdown")

	stopMatching()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	_ = srv.Shutdown(shutdownCtx)
	cancel()
	scheduler.Stop()
	_ = rdb.Close()
	_ = repo.Close()
}

func newRedisClient(rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return rdb, nil
}
