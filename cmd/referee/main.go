package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arbreferee/internal/arbitrage"
	"arbreferee/internal/config"
	"arbreferee/internal/database"
	"arbreferee/internal/exchange"
	"arbreferee/internal/logging"
	"arbreferee/internal/metrics"
	"arbreferee/internal/publish"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}

	logger := logging.New(os.Stdout, cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, &cfg); err != nil {
		logger.Error("Referee stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	seed := cfg.Execution.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	rng := rand.New(rand.NewPCG(seed, seed>>1|1))
	logger.Info("Referee starting", "mode", cfg.Trading.Mode, "seed", seed)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, reg, logger); err != nil {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	var repo database.Repository = database.NopRepository{}
	if cfg.Database.Enabled {
		pg, err := database.NewPostgresRepository(ctx, cfg.Database.DSN())
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		repo = pg
		logger.Info("Database connected", "host", cfg.Database.Host, "db", cfg.Database.DBName)
	}

	var pub publish.Publisher = publish.NopPublisher{}
	if cfg.Redis.Enabled {
		rp := publish.NewRedisPublisher(cfg.Redis)
		defer rp.Close()
		if err := rp.Ping(ctx); err != nil {
			return err
		}
		pub = rp
		logger.Info("Redis publisher connected", "addr", cfg.Redis.Addr, "prefix", cfg.Redis.Prefix)
	}

	var clients []exchange.Client
	if cfg.Trading.Mode == config.ModeScan {
		all, err := exchange.NewClients(logger, cfg, rng)
		if err != nil {
			return err
		}
		clients, err = exchange.ConnectAll(ctx, logger, all)
		if err != nil {
			return err
		}
		defer exchange.DisconnectAll(logger, clients)
	}

	engine := arbitrage.NewEngine(logger, cfg, clients, repo, pub, m, rng)
	err := engine.Run(ctx)
	if errors.Is(err, arbitrage.ErrStopLoss) {
		logger.Warn("Trading halted", "reason", err)
		return nil
	}
	return err
}
