package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"arbreferee/internal/config"

	"golang.org/x/sync/errgroup"
)

// NewClient creates a new exchange client based on the given configuration.
// cfg.Type picks the implementation; name identifies the venue in books,
// opportunities and logs. rng seeds simulated venues only.
func NewClient(name string, logger *slog.Logger, cfg config.ExchangeConfig, symbols []string, rng *rand.Rand) (Client, error) {
	logger = logger.With("exchange", name)
	switch cfg.Type {
	case "kraken":
		return NewKrakenClient(name, logger, cfg, symbols), nil
	case "binance":
		return NewBinanceClient(name, logger, cfg, symbols), nil
	case "simulated":
		// Each venue gets its own source so concurrent fetches never share one.
		src := rand.New(rand.NewPCG(rng.Uint64(), rng.Uint64()))
		return NewSimulatedClient(name, logger, cfg, symbols, src), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExchange, cfg.Type)
	}
}

// NewClients builds a client for every enabled exchange in cfg.
func NewClients(logger *slog.Logger, cfg *config.Config, rng *rand.Rand) ([]Client, error) {
	names := cfg.EnabledExchanges()
	clients := make([]Client, 0, len(names))
	for _, name := range names {
		c, err := NewClient(name, logger, cfg.Exchanges[name], cfg.Trading.Symbols, rng)
		if err != nil {
			return nil, fmt.Errorf("exchange %s: %w", name, err)
		}
		clients = append(clients, c)
	}
	return clients, nil
}

// ConnectAll connects every client concurrently. Clients that fail are
// logged and dropped; fewer than two survivors is an error.
func ConnectAll(ctx context.Context, logger *slog.Logger, clients []Client) ([]Client, error) {
	slots := make([]Client, len(clients))
	var g errgroup.Group
	for i, c := range clients {
		g.Go(func() error {
			if err := c.Connect(ctx); err != nil {
				logger.Error("Exchange: connection failed", "exchange", c.GetName(), "error", err)
				return nil
			}
			slots[i] = c
			return nil
		})
	}
	_ = g.Wait()

	connected := make([]Client, 0, len(slots))
	for _, c := range slots {
		if c != nil {
			connected = append(connected, c)
		}
	}
	if len(connected) < 2 {
		DisconnectAll(logger, connected)
		return nil, fmt.Errorf("%w: %d of %d connected", ErrNotEnoughExchanges, len(connected), len(clients))
	}
	logger.Info("Exchange: connected", "count", len(connected))
	return connected, nil
}

// DisconnectAll disconnects every client, logging failures.
func DisconnectAll(logger *slog.Logger, clients []Client) {
	for _, c := range clients {
		if err := c.Disconnect(); err != nil {
			logger.Warn("Exchange: disconnect failed", "exchange", c.GetName(), "error", err)
		}
	}
}
