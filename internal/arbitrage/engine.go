package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"time"

	"arbreferee/internal/config"
	"arbreferee/internal/database"
	"arbreferee/internal/exchange"
	"arbreferee/internal/execution"
	"arbreferee/internal/metrics"
	"arbreferee/internal/model"
	"arbreferee/internal/publish"
	"arbreferee/internal/risk"
	"arbreferee/internal/simulation"

	"github.com/shopspring/decimal"
)

// ErrStopLoss is returned by Run when the risk manager halts trading.
var ErrStopLoss = errors.New("stop loss triggered")

// statusEvery is how many iterations pass between status log lines.
const statusEvery = 100

// Engine runs the scan loop: detect, gate, paper execute, record.
type Engine struct {
	logger    *slog.Logger
	cfg       *config.Config
	repo      database.Repository
	publisher publish.Publisher
	metrics   *metrics.Metrics

	clients   map[string]exchange.Client
	funding   []exchange.FundingSource
	detector  *Detector
	fundingDt *FundingDetector
	generator *simulation.Generator
	trader    *execution.PaperTrader
	risk      *risk.Manager

	iterations    int
	opportunities int
	startedAt     time.Time
	now           func() time.Time
}

// NewEngine creates a new Engine over the connected clients. In simulate
// mode clients may be empty.
func NewEngine(
	logger *slog.Logger,
	cfg *config.Config,
	clients []exchange.Client,
	repo database.Repository,
	pub publish.Publisher,
	m *metrics.Metrics,
	rng *rand.Rand,
) *Engine {
	trader := execution.NewPaperTrader(logger, cfg, rng)
	e := &Engine{
		logger:    logger,
		cfg:       cfg,
		repo:      repo,
		publisher: pub,
		metrics:   m,
		clients:   make(map[string]exchange.Client, len(clients)),
		detector:  NewDetector(logger, clients, cfg, m),
		fundingDt: NewFundingDetector(),
		generator: simulation.NewGenerator(cfg.Simulation, rng),
		trader:    trader,
		risk:      risk.NewManager(logger, trader, cfg.Risk),
		now:       time.Now,
	}
	for _, c := range clients {
		e.clients[c.GetName()] = c
		if fs, ok := c.(exchange.FundingSource); ok {
			e.funding = append(e.funding, fs)
		}
	}
	return e
}

// Trader exposes the paper trader for reporting.
func (e *Engine) Trader() *execution.PaperTrader { return e.trader }

// Risk exposes the risk manager for reporting.
func (e *Engine) Risk() *risk.Manager { return e.risk }

// Run scans every ScanInterval until ctx is done, the configured duration
// elapses or the stop loss triggers. Only the stop loss is reported as an error.
func (e *Engine) Run(ctx context.Context) error {
	if d := e.cfg.Trading.Duration; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	e.startedAt = e.now()
	e.logger.Info("Engine: starting",
		"mode", e.cfg.Trading.Mode,
		"symbols", e.cfg.Trading.Symbols,
		"exchanges", len(e.clients),
		"scan_interval", e.cfg.Trading.ScanInterval,
	)
	defer e.report()

	ticker := time.NewTicker(e.cfg.Trading.ScanInterval)
	defer ticker.Stop()

	for {
		if err := e.RunOnce(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			e.logger.Info("Engine: stopping", "reason", context.Cause(ctx))
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single scan iteration. It returns an error wrapping
// ErrStopLoss when trading must halt; every other failure is logged.
func (e *Engine) RunOnce(ctx context.Context) error {
	start := e.now()
	e.iterations++

	opps := e.detect(ctx)
	sort.SliceStable(opps, func(i, j int) bool {
		return opps[i].NetProfitPercent.GreaterThan(opps[j].NetProfitPercent)
	})
	e.opportunities += len(opps)

	// Records outlive a cancelled scan so the last iteration is not lost.
	store := context.WithoutCancel(ctx)
	for _, opp := range opps {
		e.logOpportunity(store, opp)
		if err := e.publisher.PublishOpportunity(store, opp); err != nil {
			e.logger.Error("Engine: failed to publish opportunity", "opportunity_id", opp.ID, "error", err)
		}
	}

	executed := 0
	for i := range opps {
		if ctx.Err() != nil {
			break
		}
		if e.consider(ctx, store, &opps[i]) {
			executed++
		}
	}
	e.metrics.ScanCompleted(e.now().Sub(start))

	e.checkpoint(store, executed > 0 || e.iterations%statusEvery == 0)

	if stop, reason := e.risk.CheckStopLoss(); stop {
		e.logger.Warn("Engine: stop loss triggered", "reason", reason)
		return fmt.Errorf("%w: %s", ErrStopLoss, reason)
	}

	if e.iterations%statusEvery == 0 {
		p := e.trader.Portfolio()
		e.logger.Info("Engine: status",
			"iteration", e.iterations,
			"opportunities", e.opportunities,
			"trades", p.TotalTrades,
			"pnl_usd", p.TotalPnLUSD.StringFixed(2),
			"win_rate", p.WinRate().StringFixed(1),
		)
	}
	return nil
}

func (e *Engine) detect(ctx context.Context) []model.Opportunity {
	if e.cfg.Trading.Mode == config.ModeSimulate {
		opp, ok := e.generator.MaybeOpportunity()
		if !ok {
			return nil
		}
		e.metrics.OpportunityDetected(opp)
		return []model.Opportunity{opp}
	}

	opps := e.detector.ScanAll(ctx, e.cfg.Trading.Symbols)
	for _, fs := range e.funding {
		for _, symbol := range e.cfg.Trading.Symbols {
			fr, err := fs.GetFundingRate(ctx, symbol)
			if err != nil {
				e.logger.Debug("Engine: funding rate unavailable", "symbol", symbol, "error", err)
				continue
			}
			if opp, ok := e.fundingDt.Scan(fr); ok {
				e.metrics.OpportunityDetected(opp)
				opps = append(opps, opp)
			}
		}
	}
	return opps
}

// consider gates and executes one opportunity, reporting whether a trade ran.
func (e *Engine) consider(ctx, store context.Context, opp *model.Opportunity) bool {
	if opp.Type != model.TypeCrossExchange {
		return false
	}

	if !e.now().Before(opp.ExpiresAt) {
		e.settleOpportunity(store, opp, model.OpportunityExpired)
		return false
	}

	if ok, reason := e.risk.CanTrade(*opp); !ok {
		e.logger.Info("Engine: opportunity rejected",
			"opportunity_id", opp.ID,
			"symbol", opp.Symbol,
			"reason", reason,
		)
		e.metrics.RiskRejected()
		return false
	}

	buyBook, sellBook, err := e.books(ctx, *opp)
	if err != nil {
		e.logger.Warn("Engine: orderbooks unavailable",
			"opportunity_id", opp.ID,
			"symbol", opp.Symbol,
			"error", err,
		)
		return false
	}

	notional := opp.RecommendedVolume.Mul(opp.BuyPrice)
	e.risk.UpdateExposure(notional, true)
	trade := e.trader.ExecuteArbitrage(*opp, buyBook, sellBook)
	e.risk.UpdateExposure(notional, false)

	would := trade.BothOrdersWouldHaveExecuted
	opp.WouldHaveExecuted = &would
	next := model.OpportunityFailed
	if trade.Status == model.TradeCompleted {
		next = model.OpportunityExecuted
	}
	e.settleOpportunity(store, opp, next)

	if err := e.repo.LogTrade(store, trade); err != nil {
		e.logger.Error("Engine: failed to log trade", "trade_id", trade.ID, "error", err)
	}
	if err := e.publisher.PublishTrade(store, trade); err != nil {
		e.logger.Error("Engine: failed to publish trade", "trade_id", trade.ID, "error", err)
	}
	for _, book := range []model.Orderbook{buyBook, sellBook} {
		if err := e.repo.LogTicker(store, bookTicker(book)); err != nil {
			e.logger.Error("Engine: failed to log ticker", "exchange", book.Exchange, "error", err)
		}
	}
	e.metrics.TradeExecuted(trade)
	return true
}

// books returns the orderbooks the trade is simulated against: freshly
// fetched from the venues, or synthesized around the quoted prices in
// simulate mode.
func (e *Engine) books(ctx context.Context, opp model.Opportunity) (buy, sell model.Orderbook, err error) {
	if e.cfg.Trading.Mode == config.ModeSimulate {
		buy = e.generator.Orderbook(opp.Symbol, opp.BuyExchange, opp.BuyPrice)
		if e.generator.ShouldSucceed() {
			sell = e.generator.Orderbook(opp.Symbol, opp.SellExchange, opp.SellPrice)
		} else {
			sell = e.generator.ThinOrderbook(opp.Symbol, opp.SellExchange, opp.SellPrice)
		}
		return buy, sell, nil
	}

	buyClient, ok := e.clients[opp.BuyExchange]
	if !ok {
		return buy, sell, fmt.Errorf("%w: %s", exchange.ErrUnknownExchange, opp.BuyExchange)
	}
	sellClient, ok := e.clients[opp.SellExchange]
	if !ok {
		return buy, sell, fmt.Errorf("%w: %s", exchange.ErrUnknownExchange, opp.SellExchange)
	}

	depth := e.cfg.Detector.OrderbookDepth
	if buy, err = buyClient.GetOrderbook(ctx, opp.Symbol, depth); err != nil {
		return buy, sell, fmt.Errorf("buy orderbook: %w", err)
	}
	if sell, err = sellClient.GetOrderbook(ctx, opp.Symbol, depth); err != nil {
		return buy, sell, fmt.Errorf("sell orderbook: %w", err)
	}
	return buy, sell, nil
}

func (e *Engine) settleOpportunity(ctx context.Context, opp *model.Opportunity, next model.OpportunityStatus) {
	if err := opp.Transition(next); err != nil {
		e.logger.Error("Engine: failed to update opportunity", "opportunity_id", opp.ID, "error", err)
		return
	}
	e.logOpportunity(ctx, *opp)
}

func (e *Engine) logOpportunity(ctx context.Context, opp model.Opportunity) {
	if err := e.repo.LogOpportunity(ctx, opp); err != nil {
		e.logger.Error("Engine: failed to log opportunity", "opportunity_id", opp.ID, "error", err)
	}
}

// checkpoint pushes portfolio figures to metrics and the presentation feed,
// and persists a snapshot when snapshot is set.
func (e *Engine) checkpoint(ctx context.Context, snapshot bool) {
	p := e.trader.Portfolio()
	e.metrics.ObservePortfolio(p)

	if err := e.publisher.PublishStatistics(ctx, e.trader.Statistics()); err != nil {
		e.logger.Error("Engine: failed to publish statistics", "error", err)
	}
	if !snapshot {
		return
	}
	if err := e.repo.LogPortfolioSnapshot(ctx, p); err != nil {
		e.logger.Error("Engine: failed to log portfolio snapshot", "error", err)
	}
}

func (e *Engine) report() {
	p := e.trader.Portfolio()
	e.logger.Info("Engine: final report",
		"runtime", e.now().Sub(e.startedAt).Round(time.Second).String(),
		"iterations", e.iterations,
		"opportunities", e.opportunities,
		"trades", p.TotalTrades,
		"winning_trades", p.WinningTrades,
		"losing_trades", p.LosingTrades,
		"win_rate", p.WinRate().StringFixed(1),
		"pnl_usd", p.TotalPnLUSD.StringFixed(2),
		"pnl_percent", p.TotalPnLPercent.StringFixed(2),
		"max_drawdown_percent", p.MaxDrawdownPercent.StringFixed(2),
		"final_value_usd", p.TotalValueUSD.StringFixed(2),
	)
}

// bookTicker summarises the top of book for the market data log.
func bookTicker(ob model.Orderbook) model.Ticker {
	t := model.Ticker{
		Symbol:    ob.Symbol,
		Exchange:  ob.Exchange,
		Bid:       ob.BestBid(),
		Ask:       ob.BestAsk(),
		BidVolume: decimal.Zero,
		AskVolume: decimal.Zero,
		Timestamp: ob.Timestamp,
	}
	if len(ob.Bids) > 0 {
		t.BidVolume = ob.Bids[0].Volume
	}
	if len(ob.Asks) > 0 {
		t.AskVolume = ob.Asks[0].Volume
	}
	return t
}
