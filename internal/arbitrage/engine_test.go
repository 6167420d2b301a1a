package arbitrage

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"arbreferee/internal/config"
	"arbreferee/internal/database"
	"arbreferee/internal/exchange"
	"arbreferee/internal/execution"
	"arbreferee/internal/metrics"
	"arbreferee/internal/model"
	"arbreferee/internal/publish"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Migrate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockRepository) LogOpportunity(ctx context.Context, opp model.Opportunity) error {
	args := m.Called(ctx, opp)
	return args.Error(0)
}

func (m *MockRepository) LogTrade(ctx context.Context, trade model.Trade) error {
	args := m.Called(ctx, trade)
	return args.Error(0)
}

func (m *MockRepository) LogPortfolioSnapshot(ctx context.Context, p model.Portfolio) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockRepository) LogTicker(ctx context.Context, t model.Ticker) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishOpportunity(ctx context.Context, opp model.Opportunity) error {
	args := m.Called(ctx, opp)
	return args.Error(0)
}

func (m *MockPublisher) PublishTrade(ctx context.Context, trade model.Trade) error {
	args := m.Called(ctx, trade)
	return args.Error(0)
}

func (m *MockPublisher) PublishStatistics(ctx context.Context, stats execution.Statistics) error {
	args := m.Called(ctx, stats)
	return args.Error(0)
}

func acceptAll(m *mock.Mock, methods ...string) {
	for _, method := range methods {
		switch method {
		case "Migrate":
			m.On(method, mock.Anything).Return(nil)
		default:
			m.On(method, mock.Anything, mock.Anything).Return(nil)
		}
	}
}

func simulateConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := testConfig(t)
	cfg.Trading.Mode = config.ModeSimulate
	cfg.Simulation.OpportunityRate = 1
	cfg.Simulation.MinProfitPercent = 0.5
	cfg.Simulation.MaxProfitPercent = 0.6
	cfg.Simulation.SuccessRate = 1
	cfg.Risk.MaxPositionUSD = 1_000_000
	cfg.Risk.MaxExposureUSD = 10_000_000
	return cfg
}

func engineRand() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func TestEngine_RunOnce_ExecutesTrade(t *testing.T) {
	cfg := testConfig(t)
	repo := new(MockRepository)
	acceptAll(&repo.Mock, "LogOpportunity", "LogTrade", "LogTicker", "LogPortfolioSnapshot")
	pub := new(MockPublisher)
	acceptAll(&pub.Mock, "PublishOpportunity", "PublishTrade", "PublishStatistics")
	m := metrics.New(prometheus.NewRegistry())

	clients := []exchange.Client{cheapVenue("alpha"), richVenue("beta")}
	engine := NewEngine(testLogger(), cfg, clients, repo, pub, m, engineRand())

	require.NoError(t, engine.RunOnce(context.Background()))

	repo.AssertNumberOfCalls(t, "LogOpportunity", 2)
	repo.AssertCalled(t, "LogOpportunity", mock.Anything, mock.MatchedBy(func(o model.Opportunity) bool {
		return o.Status == model.OpportunityExecuted && o.WouldHaveExecuted != nil && *o.WouldHaveExecuted
	}))
	repo.AssertNumberOfCalls(t, "LogTrade", 1)
	repo.AssertCalled(t, "LogTrade", mock.Anything, mock.MatchedBy(func(tr model.Trade) bool {
		return tr.Status == model.TradeCompleted &&
			tr.BuyOrder.Exchange == "alpha" &&
			tr.SellOrder.Exchange == "beta" &&
			tr.BuyOrder.RequestedVolume.Equal(d("0.01492314"))
	}))
	repo.AssertNumberOfCalls(t, "LogTicker", 2)
	repo.AssertNumberOfCalls(t, "LogPortfolioSnapshot", 1)
	pub.AssertNumberOfCalls(t, "PublishOpportunity", 1)
	pub.AssertNumberOfCalls(t, "PublishTrade", 1)
	pub.AssertNumberOfCalls(t, "PublishStatistics", 1)

	assert.Equal(t, 1, engine.Trader().Portfolio().TotalTrades)
	assert.True(t, engine.Risk().Exposure().IsZero())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Scans))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Trades.WithLabelValues("completed")))
}

func TestEngine_RunOnce_RiskRejected(t *testing.T) {
	cfg := testConfig(t)
	cfg.Risk.MaxRiskScore = 0.5
	repo := new(MockRepository)
	acceptAll(&repo.Mock, "LogOpportunity")
	m := metrics.New(prometheus.NewRegistry())

	clients := []exchange.Client{cheapVenue("alpha"), richVenue("beta")}
	engine := NewEngine(testLogger(), cfg, clients, repo, publish.NopPublisher{}, m, engineRand())

	require.NoError(t, engine.RunOnce(context.Background()))

	repo.AssertNumberOfCalls(t, "LogOpportunity", 1)
	repo.AssertNotCalled(t, "LogTrade", mock.Anything, mock.Anything)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RiskRejections))
	assert.Equal(t, 0, engine.Trader().Portfolio().TotalTrades)
	assert.Empty(t, engine.Trader().Trades())
}

func TestEngine_RunOnce_FundingRecordedOnly(t *testing.T) {
	cfg := testConfig(t)
	cfg.Risk.MinProfitPercent = 0.5
	repo := new(MockRepository)
	acceptAll(&repo.Mock, "LogOpportunity")

	funded := cheapVenue("bybit")
	funded.funding = &exchange.FundingRate{
		Exchange:      "bybit",
		Symbol:        "BTC/USDT",
		SpotPrice:     d("67000"),
		PerpPrice:     d("67000"),
		Rate:          d("0.002"),
		NextFundingAt: time.Now().Add(time.Hour),
	}
	clients := []exchange.Client{fundingClient{funded}, cheapVenue("alpha")}
	engine := NewEngine(testLogger(), cfg, clients, repo, publish.NopPublisher{}, nil, engineRand())

	require.NoError(t, engine.RunOnce(context.Background()))

	repo.AssertNumberOfCalls(t, "LogOpportunity", 1)
	repo.AssertCalled(t, "LogOpportunity", mock.Anything, mock.MatchedBy(func(o model.Opportunity) bool {
		return o.Type == model.TypeFundingRate && o.Status == model.OpportunityDetected
	}))
	repo.AssertNotCalled(t, "LogTrade", mock.Anything, mock.Anything)
}

func TestEngine_RunOnce_Simulate(t *testing.T) {
	t.Run("liquid books complete the trade", func(t *testing.T) {
		cfg := simulateConfig(t)
		repo := new(MockRepository)
		acceptAll(&repo.Mock, "LogOpportunity", "LogTrade", "LogTicker", "LogPortfolioSnapshot")
		engine := NewEngine(testLogger(), cfg, nil, repo, publish.NopPublisher{}, nil, engineRand())

		require.NoError(t, engine.RunOnce(context.Background()))

		repo.AssertCalled(t, "LogTrade", mock.Anything, mock.MatchedBy(func(tr model.Trade) bool {
			return tr.Status == model.TradeCompleted && tr.BothOrdersWouldHaveExecuted
		}))
		assert.Equal(t, 1, engine.Trader().Portfolio().TotalTrades)
	})

	t.Run("thin books fail the trade", func(t *testing.T) {
		cfg := simulateConfig(t)
		cfg.Simulation.SuccessRate = 0
		repo := new(MockRepository)
		acceptAll(&repo.Mock, "LogOpportunity", "LogTrade", "LogTicker", "LogPortfolioSnapshot")
		m := metrics.New(prometheus.NewRegistry())
		engine := NewEngine(testLogger(), cfg, nil, repo, publish.NopPublisher{}, m, engineRand())

		require.NoError(t, engine.RunOnce(context.Background()))

		repo.AssertCalled(t, "LogTrade", mock.Anything, mock.MatchedBy(func(tr model.Trade) bool {
			return tr.Status == model.TradeFailed && !tr.BothOrdersWouldHaveExecuted
		}))
		repo.AssertCalled(t, "LogOpportunity", mock.Anything, mock.MatchedBy(func(o model.Opportunity) bool {
			return o.Status == model.OpportunityFailed
		}))
		assert.Equal(t, 0, engine.Trader().Portfolio().TotalTrades)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Trades.WithLabelValues("failed")))
	})

	t.Run("quiet market", func(t *testing.T) {
		cfg := simulateConfig(t)
		cfg.Simulation.OpportunityRate = 0
		repo := new(MockRepository)
		engine := NewEngine(testLogger(), cfg, nil, repo, publish.NopPublisher{}, nil, engineRand())

		require.NoError(t, engine.RunOnce(context.Background()))
		repo.AssertExpectations(t)
	})
}

// bookLoss settles a losing trade of roughly 102 USD directly on the trader.
func bookLoss(t *testing.T, engine *Engine) {
	t.Helper()
	opp := model.Opportunity{
		ID:                "loss",
		Type:              model.TypeCrossExchange,
		Status:            model.OpportunityDetected,
		BuyExchange:       "alpha",
		SellExchange:      "beta",
		Symbol:            "SOL/USDT",
		BuyPrice:          d("100"),
		SellPrice:         d("90"),
		RecommendedVolume: d("10"),
		BuyFeePercent:     d("0.1"),
		SellFeePercent:    d("0.1"),
	}
	buyBook := model.Orderbook{
		Bids: []model.OrderbookLevel{level("99.9", "1000")},
		Asks: []model.OrderbookLevel{level("100", "1000")},
	}
	sellBook := model.Orderbook{
		Bids: []model.OrderbookLevel{level("90", "1000")},
		Asks: []model.OrderbookLevel{level("90.1", "1000")},
	}
	trade := engine.Trader().ExecuteArbitrage(opp, buyBook, sellBook)
	require.Equal(t, model.TradeCompleted, trade.Status)
	require.True(t, trade.NetProfit.LessThan(d("-100")))
}

func TestEngine_RunOnce_StopLoss(t *testing.T) {
	cfg := simulateConfig(t)
	cfg.Simulation.OpportunityRate = 0
	cfg.Risk.MaxDrawdownPercent = 1
	engine := NewEngine(testLogger(), cfg, nil, database.NopRepository{}, publish.NopPublisher{}, nil, engineRand())
	bookLoss(t, engine)

	err := engine.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrStopLoss)
	assert.ErrorContains(t, err, "max drawdown reached")
}

func TestEngine_Run(t *testing.T) {
	t.Run("stops after the configured duration", func(t *testing.T) {
		cfg := simulateConfig(t)
		cfg.Simulation.OpportunityRate = 0
		cfg.Trading.ScanInterval = 5 * time.Millisecond
		cfg.Trading.Duration = 50 * time.Millisecond
		engine := NewEngine(testLogger(), cfg, nil, database.NopRepository{}, publish.NopPublisher{}, nil, engineRand())

		require.NoError(t, engine.Run(context.Background()))
		assert.Greater(t, engine.iterations, 1)
	})

	t.Run("stops when cancelled", func(t *testing.T) {
		cfg := simulateConfig(t)
		cfg.Simulation.OpportunityRate = 0
		engine := NewEngine(testLogger(), cfg, nil, database.NopRepository{}, publish.NopPublisher{}, nil, engineRand())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.NoError(t, engine.Run(ctx))
		assert.Equal(t, 1, engine.iterations)
	})

	t.Run("returns the stop loss", func(t *testing.T) {
		cfg := simulateConfig(t)
		cfg.Simulation.OpportunityRate = 0
		cfg.Risk.MaxDrawdownPercent = 1
		engine := NewEngine(testLogger(), cfg, nil, database.NopRepository{}, publish.NopPublisher{}, nil, engineRand())
		bookLoss(t, engine)

		assert.ErrorIs(t, engine.Run(context.Background()), ErrStopLoss)
	})
}

func TestBookTicker(t *testing.T) {
	tk := bookTicker(model.Orderbook{
		Symbol:   "BTC/USDT",
		Exchange: "alpha",
		Bids:     []model.OrderbookLevel{level("99", "2")},
		Asks:     []model.OrderbookLevel{level("101", "3")},
	})
	assert.Equal(t, "alpha", tk.Exchange)
	assert.True(t, tk.Bid.Equal(d("99")))
	assert.True(t, tk.AskVolume.Equal(d("3")))

	empty := bookTicker(model.Orderbook{Symbol: "BTC/USDT"})
	assert.True(t, empty.Bid.IsZero())
	assert.True(t, empty.BidVolume.IsZero())
}
