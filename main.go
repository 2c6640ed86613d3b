package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"paper-trader/config"
	"paper-trader/internal/api"
	"paper-trader/internal/database"
	"paper-trader/internal/engine"
	"paper-trader/internal/events"
	"paper-trader/internal/ledger"
	"paper-trader/internal/logging"
	"paper-trader/internal/market"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic("invalid configuration: " + err.Error())
	}

	logger := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
	})

	db, err := database.NewDB(database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.RunMigrations(ctx); err != nil {
		cancel()
		logger.Fatal().Err(err).Msg("migrations failed")
	}
	cancel()

	repo := database.NewRepository(db)

	var redisClient *redis.Client
	var live *database.LiveState
	feed := market.PriceFeed(market.NewSimFeed(time.Now()))
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn().Err(err).Msg("redis unreachable, continuing without cache")
			redisClient = nil
		}
		pingCancel()

		if redisClient != nil {
			live = database.NewLiveState(redisClient)
			feed = market.NewCachedFeed(feed, redisClient, cfg.PriceFeed.QuoteCacheTTL, logger)
		}
	}

	bus := events.NewBus(events.Config{
		HeartbeatInterval:  cfg.EventBus.HeartbeatInterval,
		BackpressureWindow: cfg.EventBus.BackpressureWindow,
		SubscriberBuffer:   cfg.EventBus.SubscriberBuffer,
	}, logger)
	defer bus.Close()

	ldg := ledger.New(repo, logger)
	eng := engine.New(cfg.Engine, repo, ldg, feed, bus, live, logger)
	server := api.NewServer(cfg.Server, repo, eng, live, logger)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		if err := eng.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		eng.Stop()
		return nil
	})
	g.Go(func() error {
		return server.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("shutdown with error")
	}
	logger.Info().Msg("shutdown complete")
}
