package arbitrage

import (
	"context"
	"log/slog"
	"time"

	"arbreferee/internal/config"
	"arbreferee/internal/exchange"
	"arbreferee/internal/metrics"
	"arbreferee/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// snapshotVolume is the unit volume used for the first profitability check.
var snapshotVolume = decimal.NewFromInt(1)

// volumePlaces is the precision recommended volumes are truncated to, so the
// notional never exceeds the position limit it was sized from.
const volumePlaces = 8

// marketSnapshot is one exchange's view of a symbol at scan time.
type marketSnapshot struct {
	exchange string
	ticker   model.Ticker
	book     model.Orderbook
	feePct   decimal.Decimal
}

// Detector compares every pair of connected exchanges for each symbol and
// emits the profitable directions as opportunities.
type Detector struct {
	logger  *slog.Logger
	clients []exchange.Client
	metrics *metrics.Metrics
	scorer  RiskScorer

	minProfit   decimal.Decimal
	maxPosition decimal.Decimal
	minDepth    decimal.Decimal
	window      time.Duration
	depth       int
	concurrency int

	now func() time.Time
}

// NewDetector creates a new Detector over the connected clients.
func NewDetector(logger *slog.Logger, clients []exchange.Client, cfg *config.Config, m *metrics.Metrics) *Detector {
	dc := cfg.Detector
	return &Detector{
		logger:  logger,
		clients: clients,
		metrics: m,
		scorer: RiskScorer{
			Weights: RiskWeights{
				Profit:   decimal.NewFromFloat(dc.RiskWeights.Profit),
				Slippage: decimal.NewFromFloat(dc.RiskWeights.Slippage),
				Volume:   decimal.NewFromFloat(dc.RiskWeights.Volume),
			},
			Scale: RiskScale{
				Profit:   decimal.NewFromFloat(dc.ProfitScale),
				Slippage: decimal.NewFromFloat(dc.SlippageScale),
				Volume:   decimal.NewFromFloat(dc.VolumeScale),
			},
		},
		minProfit:   decimal.NewFromFloat(cfg.Risk.MinProfitPercent),
		maxPosition: decimal.NewFromFloat(cfg.Risk.MaxPositionUSD),
		minDepth:    decimal.NewFromFloat(dc.MinDepthVolume),
		window:      dc.OpportunityWindow,
		depth:       dc.OrderbookDepth,
		concurrency: dc.MaxConcurrentRequests,
		now:         time.Now,
	}
}

// ScanAll scans every symbol concurrently. A symbol that fails is logged and
// skipped; the result holds the opportunities of all others in symbol order.
func (d *Detector) ScanAll(ctx context.Context, symbols []string) []model.Opportunity {
	results := make([][]model.Opportunity, len(symbols))
	var g errgroup.Group
	for i, symbol := range symbols {
		g.Go(func() error {
			opps, err := d.ScanSymbol(ctx, symbol)
			if err != nil {
				d.logger.Error("Detector: scan failed", "symbol", symbol, "error", err)
				return nil
			}
			results[i] = opps
			return nil
		})
	}
	_ = g.Wait()

	var all []model.Opportunity
	for _, opps := range results {
		all = append(all, opps...)
	}
	return all
}

// ScanSymbol fetches symbol from every exchange and checks both directions of
// every exchange pair. Exchanges whose fetch fails are left out of the scan.
func (d *Detector) ScanSymbol(ctx context.Context, symbol string) ([]model.Opportunity, error) {
	snapshots := d.fetchAll(ctx, symbol)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var available []marketSnapshot
	for _, s := range snapshots {
		if s != nil {
			available = append(available, *s)
		}
	}

	now := d.now()
	var opps []model.Opportunity
	for i := 0; i < len(available); i++ {
		for j := i + 1; j < len(available); j++ {
			if opp, ok := d.checkPair(symbol, available[i], available[j], now); ok {
				opps = append(opps, opp)
			}
			if opp, ok := d.checkPair(symbol, available[j], available[i], now); ok {
				opps = append(opps, opp)
			}
		}
	}
	return opps, nil
}

func (d *Detector) fetchAll(ctx context.Context, symbol string) []*marketSnapshot {
	snapshots := make([]*marketSnapshot, len(d.clients))
	var g errgroup.Group
	if d.concurrency > 0 {
		g.SetLimit(d.concurrency)
	}
	for i, c := range d.clients {
		g.Go(func() error {
			s, err := d.fetch(ctx, c, symbol)
			if err != nil {
				d.logger.Debug("Detector: fetch failed", "exchange", c.GetName(), "symbol", symbol, "error", err)
				d.metrics.FetchFailed(c.GetName())
				return nil
			}
			snapshots[i] = s
			return nil
		})
	}
	_ = g.Wait()
	return snapshots
}

func (d *Detector) fetch(ctx context.Context, c exchange.Client, symbol string) (*marketSnapshot, error) {
	ticker, err := c.GetTicker(ctx, symbol)
	if err != nil {
		return nil, err
	}
	book, err := c.GetOrderbook(ctx, symbol, d.depth)
	if err != nil {
		return nil, err
	}
	return &marketSnapshot{
		exchange: c.GetName(),
		ticker:   ticker,
		book:     book,
		feePct:   c.GetFee(model.OrderMarket),
	}, nil
}

// checkPair evaluates buying on buy and selling on sell.
func (d *Detector) checkPair(symbol string, buy, sell marketSnapshot, now time.Time) (model.Opportunity, bool) {
	if buy.ticker.Ask.GreaterThanOrEqual(sell.ticker.Bid) {
		return model.Opportunity{}, false
	}

	gross, net, _ := CrossExchangeProfit(buy.ticker, sell.ticker, buy.feePct, sell.feePct, decimal.Zero, snapshotVolume)
	if net.LessThan(d.minProfit) {
		return model.Opportunity{}, false
	}

	maxVolume := MaxExecutableVolume(buy.book, sell.book, d.minProfit, buy.feePct, sell.feePct)
	if maxVolume.IsZero() {
		return model.Opportunity{}, false
	}

	slippage := EstimateSlippage(buy.book, model.SideBuy, maxVolume).
		Add(EstimateSlippage(sell.book, model.SideSell, maxVolume))
	net = net.Sub(slippage)
	if net.LessThan(d.minProfit) {
		return model.Opportunity{}, false
	}

	recommended := maxVolume
	if buy.ticker.Ask.IsPositive() {
		recommended = decimal.Min(maxVolume, d.maxPosition.Div(buy.ticker.Ask).RoundDown(volumePlaces))
	}
	_, _, profitUSD := CrossExchangeProfit(buy.ticker, sell.ticker, buy.feePct, sell.feePct, decimal.Zero, recommended)

	opp := model.Opportunity{
		ID:                       uuid.NewString(),
		Type:                     model.TypeCrossExchange,
		Status:                   model.OpportunityDetected,
		BuyExchange:              buy.exchange,
		SellExchange:             sell.exchange,
		Symbol:                   symbol,
		BuyPrice:                 buy.ticker.Ask,
		SellPrice:                sell.ticker.Bid,
		MaxVolume:                maxVolume,
		RecommendedVolume:        recommended,
		GrossProfitPercent:       gross,
		NetProfitPercent:         net,
		EstimatedProfitUSD:       profitUSD,
		BuyFeePercent:            buy.feePct,
		SellFeePercent:           sell.feePct,
		TransferFee:              decimal.Zero,
		EstimatedSlippagePercent: slippage,
		DetectedAt:               now,
		ExpiresAt:                now.Add(d.window),
		WindowMS:                 d.window.Milliseconds(),
		OrderbookDepthOK:         maxVolume.GreaterThan(d.minDepth),
		LiquidityOK:              buy.ticker.BidVolume.GreaterThan(recommended) && sell.ticker.AskVolume.GreaterThan(recommended),
		RiskScore:                d.scorer.Score(net, slippage, maxVolume),
	}

	d.logger.Info("Detector: opportunity found",
		"symbol", symbol,
		"buy_exchange", buy.exchange,
		"sell_exchange", sell.exchange,
		"net_profit_percent", net.StringFixed(4),
		"max_volume", maxVolume,
	)
	d.metrics.OpportunityDetected(opp)
	return opp, true
}
