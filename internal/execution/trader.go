package execution

import (
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"arbreferee/internal/config"
	"arbreferee/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Statistics summarises the paper portfolio for reporting.
type Statistics struct {
	TotalTrades        int             `json:"total_trades"`
	WinningTrades      int             `json:"winning_trades"`
	LosingTrades       int             `json:"losing_trades"`
	WinRate            decimal.Decimal `json:"win_rate"`
	TotalPnLUSD        decimal.Decimal `json:"total_pnl_usd"`
	TotalPnLPercent    decimal.Decimal `json:"total_pnl_percent"`
	MaxDrawdownUSD     decimal.Decimal `json:"max_drawdown_usd"`
	MaxDrawdownPercent decimal.Decimal `json:"max_drawdown_percent"`
	PortfolioValue     decimal.Decimal `json:"portfolio_value"`
}

// PaperTrader simulates both legs of an arbitrage trade against orderbooks
// and books the result into a virtual portfolio. Calls are serialized.
type PaperTrader struct {
	logger    *slog.Logger
	validator *Validator
	slippage  *SlippageSimulator
	rng       *rand.Rand

	balances     map[string]decimal.Decimal
	initialValue decimal.Decimal
	latencyMin   time.Duration
	latencyMax   time.Duration

	sleep func(time.Duration)
	now   func() time.Time

	mu        sync.Mutex
	portfolio *model.Portfolio
	trades    map[string]model.Trade
	orders    map[string]model.Order
}

// NewPaperTrader creates a new PaperTrader seeded with the configured balances.
func NewPaperTrader(logger *slog.Logger, cfg *config.Config, rng *rand.Rand) *PaperTrader {
	balances := make(map[string]decimal.Decimal, len(cfg.Trading.InitialBalances))
	for currency, amount := range cfg.Trading.InitialBalances {
		balances[strings.ToUpper(currency)] = decimal.NewFromFloat(amount)
	}

	t := &PaperTrader{
		logger:       logger,
		validator:    NewValidator(logger, cfg.Execution),
		slippage:     NewSlippageSimulator(cfg.Execution, rng),
		rng:          rng,
		balances:     balances,
		initialValue: decimal.NewFromFloat(cfg.Trading.InitialValueUSD),
		latencyMin:   cfg.Execution.LatencyMin,
		latencyMax:   cfg.Execution.LatencyMax,
		sleep:        time.Sleep,
		now:          time.Now,
	}
	t.reset()
	return t
}

// ExecuteArbitrage simulates buying on the opportunity's buy exchange and
// selling on its sell exchange. A leg that would not have filled fails the
// trade and leaves the portfolio untouched. Once started it runs to completion.
func (t *PaperTrader) ExecuteArbitrage(opp model.Opportunity, buyBook, sellBook model.Orderbook) model.Trade {
	t.mu.Lock()
	defer t.mu.Unlock()

	start := t.now()
	latency := t.simulateLatency()

	buy := t.newOrder(opp, model.SideBuy, buyBook, latency)
	sell := t.newOrder(opp, model.SideSell, sellBook, latency)

	buyOK := t.validator.WouldHaveExecuted(buy, buyBook)
	sellOK := t.validator.WouldHaveExecuted(sell, sellBook)
	buy.WouldHaveExecuted = buyOK
	sell.WouldHaveExecuted = sellOK

	end := t.now()
	trade := model.Trade{
		ID:                          uuid.NewString(),
		OpportunityID:               opp.ID,
		Type:                        opp.Type,
		Mode:                        model.ModePaper,
		Status:                      model.TradePending,
		StartedAt:                   start,
		GrossProfit:                 decimal.Zero,
		TotalFees:                   decimal.Zero,
		NetProfit:                   decimal.Zero,
		NetProfitPercent:            decimal.Zero,
		BothOrdersWouldHaveExecuted: buyOK && sellOK,
	}

	status := model.TradeFailed
	if buyOK && sellOK {
		t.settle(&buy, true, end)
		t.settle(&sell, true, end)
		buy.FilledVolume = buy.RequestedVolume
		sell.FilledVolume = sell.RequestedVolume

		trade.GrossProfit = grossProfit(buy, sell)
		trade.TotalFees = buy.FeePaid.Add(sell.FeePaid)
		trade.NetProfit = trade.GrossProfit.Sub(trade.TotalFees)
		t.portfolio.RecordTrade(trade.NetProfit, end)
		status = model.TradeCompleted
	} else {
		t.settle(&buy, buyOK, end)
		t.settle(&sell, sellOK, end)
		trade.ErrorMessage = failureReason(buyOK, sellOK)
	}

	if buy.AverageFillPrice.Valid {
		value := buy.RequestedVolume.Mul(buy.AverageFillPrice.Decimal)
		if value.IsPositive() {
			trade.NetProfitPercent = trade.NetProfit.Div(value).Mul(hundred)
		}
	}

	trade.BuyOrder = buy
	trade.SellOrder = sell
	trade.TotalExecutionMS = end.Sub(start).Milliseconds() + latency.Milliseconds()
	if err := trade.Transition(status, end); err != nil {
		t.logger.Error("PaperTrader: failed to settle trade", "trade_id", trade.ID, "error", err)
	}

	t.trades[trade.ID] = trade
	t.orders[buy.ID] = buy
	t.orders[sell.ID] = sell

	if status == model.TradeCompleted {
		t.logger.Info("PaperTrader: trade completed",
			"symbol", opp.Symbol,
			"net_profit", trade.NetProfit.StringFixed(4),
			"net_profit_percent", trade.NetProfitPercent.StringFixed(4),
			"execution_ms", trade.TotalExecutionMS,
		)
	} else {
		t.logger.Warn("PaperTrader: trade failed",
			"symbol", opp.Symbol,
			"buy_executed", buyOK,
			"sell_executed", sellOK,
		)
	}
	return trade
}

func (t *PaperTrader) newOrder(opp model.Opportunity, side model.Side, book model.Orderbook, latency time.Duration) model.Order {
	volume := opp.RecommendedVolume
	slippage := t.slippage.Simulate(book, side, volume)

	var price, feePct decimal.Decimal
	exchange := opp.BuyExchange
	if side == model.SideBuy {
		price = opp.BuyPrice.Mul(one.Add(slippage.Div(hundred)))
		feePct = opp.BuyFeePercent
	} else {
		price = opp.SellPrice.Mul(one.Sub(slippage.Div(hundred)))
		feePct = opp.SellFeePercent
		exchange = opp.SellExchange
	}

	now := t.now()
	return model.Order{
		ID:                 uuid.NewString(),
		OpportunityID:      opp.ID,
		Exchange:           exchange,
		Symbol:             opp.Symbol,
		Side:               side,
		Type:               model.OrderMarket,
		RequestedVolume:    volume,
		FilledVolume:       decimal.Zero,
		AverageFillPrice:   decimal.NewNullDecimal(price),
		Status:             model.OrderPending,
		Mode:               model.ModePaper,
		FeePaid:            volume.Mul(price).Mul(feePct).Div(hundred),
		FeeCurrency:        "USD",
		CreatedAt:          now,
		UpdatedAt:          now,
		SimulatedSlippage:  slippage,
		ExecutionLatencyMS: latency.Milliseconds(),
	}
}

func (t *PaperTrader) settle(o *model.Order, filled bool, at time.Time) {
	next := model.OrderFailed
	if filled {
		next = model.OrderFilled
	}
	if err := o.Transition(next, at); err != nil {
		t.logger.Error("PaperTrader: failed to settle order", "order_id", o.ID, "error", err)
	}
}

func (t *PaperTrader) simulateLatency() time.Duration {
	span := t.latencyMax - t.latencyMin
	latency := t.latencyMin
	if span > 0 {
		latency += time.Duration(t.rng.Int64N(span.Milliseconds()+1)) * time.Millisecond
	}
	if latency > 0 {
		t.sleep(latency)
	}
	return latency
}

func grossProfit(buy, sell model.Order) decimal.Decimal {
	if !buy.AverageFillPrice.Valid || !sell.AverageFillPrice.Valid {
		return decimal.Zero
	}
	cost := buy.FilledVolume.Mul(buy.AverageFillPrice.Decimal)
	revenue := sell.FilledVolume.Mul(sell.AverageFillPrice.Decimal)
	return revenue.Sub(cost)
}

func failureReason(buyOK, sellOK bool) string {
	switch {
	case !buyOK && !sellOK:
		return "neither leg would have executed"
	case !buyOK:
		return "buy leg would not have executed"
	default:
		return "sell leg would not have executed"
	}
}

// Portfolio returns a copy of the current portfolio.
func (t *PaperTrader) Portfolio() model.Portfolio {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.portfolio.Snapshot()
}

// Trades returns the trade history ordered by start time.
func (t *PaperTrader) Trades() []model.Trade {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.Trade, 0, len(t.trades))
	for _, tr := range t.trades {
		out = append(out, tr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Trade looks up a trade by id.
func (t *PaperTrader) Trade(id string) (model.Trade, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.trades[id]
	return tr, ok
}

// Order looks up an order by id.
func (t *PaperTrader) Order(id string) (model.Order, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.orders[id]
	return o, ok
}

// Statistics returns portfolio performance figures.
func (t *PaperTrader) Statistics() Statistics {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.portfolio
	return Statistics{
		TotalTrades:        p.TotalTrades,
		WinningTrades:      p.WinningTrades,
		LosingTrades:       p.LosingTrades,
		WinRate:            p.WinRate(),
		TotalPnLUSD:        p.TotalPnLUSD,
		TotalPnLPercent:    p.TotalPnLPercent,
		MaxDrawdownUSD:     p.MaxDrawdownUSD,
		MaxDrawdownPercent: p.MaxDrawdownPercent,
		PortfolioValue:     p.TotalValueUSD,
	}
}

// Reset drops all history and rebuilds the portfolio from the starting balances.
func (t *PaperTrader) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reset()
	t.logger.Info("PaperTrader: reset to initial state")
}

func (t *PaperTrader) reset() {
	t.trades = make(map[string]model.Trade)
	t.orders = make(map[string]model.Order)
	t.portfolio = model.NewPortfolio(t.balances, t.initialValue, t.now())
	t.logger.Info("PaperTrader: portfolio initialized", "initial_value_usd", t.initialValue)
}
