package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"arbreferee/internal/config"
	"arbreferee/internal/model"
	"arbreferee/internal/simulation"

	"github.com/shopspring/decimal"
)

const (
	// maxStep bounds the per-refresh random walk of a simulated mid price.
	maxStep         = 0.0005
	maxFundingRate  = 0.002
	maxBasis        = 0.0002
	fundingInterval = 8 * time.Hour
)

// SimulatedClient serves synthetic books around a drifting mid price. A book
// is reused until the cache TTL expires so ticker and depth stay consistent.
type SimulatedClient struct {
	fees
	name   string
	logger *slog.Logger
	cache  *BookCache

	mu        sync.Mutex
	rng       *rand.Rand
	generator *simulation.Generator
	mids      map[string]decimal.Decimal
	connected bool
}

// NewSimulatedClient creates a SimulatedClient. Symbols without a configured
// base price start at the middle of their simulation price range; symbols
// with neither are unsupported.
func NewSimulatedClient(name string, logger *slog.Logger, cfg config.ExchangeConfig, symbols []string, rng *rand.Rand) *SimulatedClient {
	mids := make(map[string]decimal.Decimal, len(symbols))
	bases := make(map[string]float64, len(cfg.BasePrices))
	for s, p := range cfg.BasePrices {
		bases[strings.ToUpper(s)] = p
	}
	for _, s := range symbols {
		if p, ok := bases[s]; ok && p > 0 {
			mids[s] = decimal.NewFromFloat(p)
			continue
		}
		if r, ok := simulation.PriceRanges[s]; ok {
			mids[s] = decimal.NewFromFloat((r.Min + r.Max) / 2)
		}
	}

	return &SimulatedClient{
		fees: fees{
			taker: decimal.NewFromFloat(cfg.TakerFeePercent),
			maker: decimal.NewFromFloat(cfg.MakerFeePercent),
		},
		name:      name,
		logger:    logger,
		cache:     NewBookCache(cfg.CacheTTL),
		rng:       rng,
		generator: simulation.NewGenerator(config.SimulationConfig{}, rng),
		mids:      mids,
	}
}

func (s *SimulatedClient) GetName() string {
	return s.name
}

func (s *SimulatedClient) Connect(_ context.Context) error {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	s.logger.Info("SimulatedClient: connected", "symbols", len(s.mids))
	return nil
}

func (s *SimulatedClient) Disconnect() error {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return nil
}

func (s *SimulatedClient) GetTicker(_ context.Context, symbol string) (model.Ticker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(symbol); err != nil {
		return model.Ticker{}, err
	}
	if t, ok := s.cache.Ticker(s.name, symbol); ok {
		return t, nil
	}
	return tickerFromBook(s.refresh(symbol)), nil
}

func (s *SimulatedClient) GetOrderbook(_ context.Context, symbol string, depth int) (model.Orderbook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(symbol); err != nil {
		return model.Orderbook{}, err
	}
	ob, ok := s.cache.Orderbook(s.name, symbol)
	if !ok {
		ob = s.refresh(symbol)
	}
	return truncate(ob, depth), nil
}

func (s *SimulatedClient) GetBalance(_ context.Context, _ string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (s *SimulatedClient) PlaceOrder(_ context.Context, _ model.Order) (model.Order, error) {
	return model.Order{}, ErrPaperOnly
}

func (s *SimulatedClient) SupportedSymbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.mids))
	for sym := range s.mids {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (s *SimulatedClient) check(symbol string) error {
	if !s.connected {
		return ErrNotConnected
	}
	if _, ok := s.mids[symbol]; !ok {
		return fmt.Errorf("%w: %s on %s", ErrUnsupportedSymbol, symbol, s.name)
	}
	return nil
}

// refresh moves the mid price one random step and caches a fresh book.
// Callers hold s.mu.
func (s *SimulatedClient) refresh(symbol string) model.Orderbook {
	step := decimal.NewFromFloat((s.rng.Float64()*2 - 1) * maxStep)
	mid := s.mids[symbol].Mul(decimal.NewFromInt(1).Add(step))
	s.mids[symbol] = mid

	ob := s.generator.Orderbook(symbol, s.name, mid)
	s.cache.PutOrderbook(ob)
	s.cache.PutTicker(tickerFromBook(ob))
	return ob
}

// GetFundingRate quotes a perpetual trading at a small random basis to the
// current mid, with a random funding rate due at the next eight-hour mark.
func (s *SimulatedClient) GetFundingRate(_ context.Context, symbol string) (FundingRate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(symbol); err != nil {
		return FundingRate{}, err
	}

	spot := s.mids[symbol]
	basis := decimal.NewFromFloat((s.rng.Float64()*2 - 1) * maxBasis)
	rate := decimal.NewFromFloat((s.rng.Float64()*2 - 1) * maxFundingRate).Round(6)
	now := time.Now().UTC()
	return FundingRate{
		Exchange:      s.name,
		Symbol:        symbol,
		SpotPrice:     spot,
		PerpPrice:     spot.Mul(decimal.NewFromInt(1).Add(basis)),
		Rate:          rate,
		NextFundingAt: now.Truncate(fundingInterval).Add(fundingInterval),
	}, nil
}
