package simulation

import (
	"math/rand/v2"
	"sort"
	"time"

	"arbreferee/internal/config"
	"arbreferee/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PriceRange bounds the base price drawn for a symbol.
type PriceRange struct {
	Min, Max float64
}

// PriceRanges holds realistic price bands for the simulated pairs.
var PriceRanges = map[string]PriceRange{
	"BTC/USDT":  {95000, 105000},
	"ETH/USDT":  {3200, 3600},
	"SOL/USDT":  {180, 220},
	"XRP/USDT":  {2.0, 2.8},
	"ADA/USDT":  {0.8, 1.2},
	"DOGE/USDT": {0.30, 0.45},
}

// Exchanges are the venue names opportunities are attributed to.
var Exchanges = []string{"binance", "kraken", "coinbase", "kucoin", "bybit"}

const bookLevels = 10

var (
	hundred  = decimal.NewFromInt(100)
	bookStep = decimal.RequireFromString("0.0001")
)

// Generator produces synthetic opportunities and orderbooks. It is not safe
// for concurrent use.
type Generator struct {
	rng     *rand.Rand
	cfg     config.SimulationConfig
	symbols []string
	now     func() time.Time
}

// NewGenerator creates a Generator drawing from rng.
func NewGenerator(cfg config.SimulationConfig, rng *rand.Rand) *Generator {
	symbols := make([]string, 0, len(PriceRanges))
	for s := range PriceRanges {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return &Generator{rng: rng, cfg: cfg, symbols: symbols, now: time.Now}
}

// MaybeOpportunity returns a cross-exchange opportunity with probability
// OpportunityRate.
func (g *Generator) MaybeOpportunity() (model.Opportunity, bool) {
	if g.rng.Float64() > g.cfg.OpportunityRate {
		return model.Opportunity{}, false
	}

	symbol := g.symbols[g.rng.IntN(len(g.symbols))]
	perm := g.rng.Perm(len(Exchanges))
	buyExchange, sellExchange := Exchanges[perm[0]], Exchanges[perm[1]]

	pr := PriceRanges[symbol]
	base := decimal.NewFromFloat(g.uniform(pr.Min, pr.Max))
	profitPct := decimal.NewFromFloat(g.uniform(g.cfg.MinProfitPercent, g.cfg.MaxProfitPercent))
	sell := base.Add(base.Mul(profitPct).Div(hundred))

	volume := decimal.NewFromFloat(g.volumeFor(base))
	buyFee := decimal.NewFromFloat(g.uniform(0.04, 0.1))
	sellFee := decimal.NewFromFloat(g.uniform(0.04, 0.1))
	net := profitPct.Sub(buyFee.Add(sellFee))
	slippage := decimal.NewFromFloat(g.uniform(0.01, 0.05))

	now := g.now()
	window := time.Duration(1000+g.rng.IntN(4001)) * time.Millisecond
	expiry := time.Duration(2+g.rng.IntN(9)) * time.Second

	opp := model.Opportunity{
		ID:                       uuid.NewString(),
		Type:                     model.TypeCrossExchange,
		Status:                   model.OpportunityDetected,
		BuyExchange:              buyExchange,
		SellExchange:             sellExchange,
		Symbol:                   symbol,
		BuyPrice:                 quantizePrice(base),
		SellPrice:                quantizePrice(sell),
		MaxVolume:                volume.Mul(decimal.NewFromInt(2)),
		RecommendedVolume:        volume.Round(4),
		GrossProfitPercent:       profitPct.Round(4),
		NetProfitPercent:         net.Round(4),
		EstimatedProfitUSD:       volume.Mul(base).Mul(net).Div(hundred).Round(2),
		BuyFeePercent:            buyFee.Round(4),
		SellFeePercent:           sellFee.Round(4),
		TransferFee:              decimal.Zero,
		EstimatedSlippagePercent: slippage.Round(4),
		DetectedAt:               now,
		ExpiresAt:                now.Add(expiry),
		WindowMS:                 window.Milliseconds(),
		OrderbookDepthOK:         true,
		LiquidityOK:              true,
		RiskScore:                decimal.NewFromFloat(g.uniform(0.1, 0.4)).Round(2),
	}
	return opp, true
}

// Orderbook builds a ten-level book around base with levels 0.01% apart and
// ample volume at every level.
func (g *Generator) Orderbook(symbol, exchange string, base decimal.Decimal) model.Orderbook {
	step := base.Mul(bookStep)
	ob := model.Orderbook{
		Symbol:    symbol,
		Exchange:  exchange,
		Bids:      make([]model.OrderbookLevel, 0, bookLevels),
		Asks:      make([]model.OrderbookLevel, 0, bookLevels),
		Timestamp: g.now(),
	}
	for i := 1; i <= bookLevels; i++ {
		offset := step.Mul(decimal.NewFromInt(int64(i)))
		volume := decimal.NewFromFloat(g.uniform(50, 200)).Round(4)
		ob.Bids = append(ob.Bids, model.OrderbookLevel{Price: quantizePrice(base.Sub(offset)), Volume: volume})
		ob.Asks = append(ob.Asks, model.OrderbookLevel{Price: quantizePrice(base.Add(offset)), Volume: volume})
	}
	return ob
}

// ThinOrderbook builds a single-level book holding a token amount, the
// shape of a market that cannot absorb a real order.
func (g *Generator) ThinOrderbook(symbol, exchange string, base decimal.Decimal) model.Orderbook {
	step := base.Mul(bookStep)
	dust := decimal.RequireFromString("0.0001")
	return model.Orderbook{
		Symbol:    symbol,
		Exchange:  exchange,
		Bids:      []model.OrderbookLevel{{Price: quantizePrice(base.Sub(step)), Volume: dust}},
		Asks:      []model.OrderbookLevel{{Price: quantizePrice(base.Add(step)), Volume: dust}},
		Timestamp: g.now(),
	}
}

// ShouldSucceed draws whether a simulated trade finds the liquidity it needs.
func (g *Generator) ShouldSucceed() bool {
	return g.rng.Float64() < g.cfg.SuccessRate
}

func (g *Generator) volumeFor(price decimal.Decimal) float64 {
	switch {
	case price.GreaterThan(decimal.NewFromInt(10000)):
		return g.uniform(0.01, 0.1)
	case price.GreaterThan(decimal.NewFromInt(100)):
		return g.uniform(0.1, 2.0)
	default:
		return g.uniform(10, 500)
	}
}

func (g *Generator) uniform(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}

// quantizePrice rounds finely enough that adjacent book levels stay distinct.
func quantizePrice(p decimal.Decimal) decimal.Decimal {
	switch {
	case p.GreaterThanOrEqual(decimal.NewFromInt(1000)):
		return p.Round(2)
	case p.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return p.Round(4)
	default:
		return p.Round(6)
	}
}
