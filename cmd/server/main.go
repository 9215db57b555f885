package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/duet/internal/adapters/gateway"
	router "github.com/dkeye/duet/internal/adapters/http"
	"github.com/dkeye/duet/internal/auth"
	"github.com/dkeye/duet/internal/config"
	"github.com/dkeye/duet/internal/domain"
	"github.com/dkeye/duet/internal/queue"
	"github.com/dkeye/duet/internal/registry"
	"github.com/dkeye/duet/internal/rooms"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	queues, err := buildQueues(ctx, cfg)
	if err != nil {
		// A dead backing store at startup is fatal.
		log.Fatal().Err(err).Msg("failed to init matchmaking store")
	}

	reg := registry.New(cfg.RoomTTL,
		rooms.NewChat(),
		rooms.NewCall(),
		rooms.NewSync(domain.KindWatch),
		rooms.NewSync(domain.KindSing),
		rooms.NewChess(),
	)
	am := auth.NewManager(cfg.Secret)
	ctl := gateway.NewController(cfg, am, reg, queues)

	r := router.SetupRouter(ctx, cfg, am, ctl)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("Duet server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		// Idle rooms are reclaimed even when nobody disconnects
		// cleanly.
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				ctl.SweepRooms(time.Now())
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server error")
	}
	log.Info().Msg("Server exited gracefully")
}

// buildQueues wires one matchmaking queue per room kind on the
// configured backend.
func buildQueues(ctx context.Context, cfg *config.Config) (map[domain.RoomKind]*queue.Queue, error) {
	queues := make(map[domain.RoomKind]*queue.Queue, len(domain.Kinds()))

	if cfg.QueueBackend == "redis" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		mode := queue.PairAny
		if cfg.Pairing == "distinct" {
			mode = queue.PairDistinctClass
		}
		for _, kind := range domain.Kinds() {
			store, err := queue.NewRedisStore(ctx, rdb, kind, cfg.RedisTimeout, mode)
			if err != nil {
				return nil, err
			}
			queues[kind] = queue.New(kind, store)
		}
		return queues, nil
	}

	compat := queue.Any
	if cfg.Pairing == "distinct" {
		compat = queue.DistinctClass
	}
	for _, kind := range domain.Kinds() {
		queues[kind] = queue.New(kind, queue.NewMemoryStore(compat))
	}
	return queues, nil
}
