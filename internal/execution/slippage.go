package execution

import (
	"math"
	"math/rand/v2"

	"arbreferee/internal/config"
	"arbreferee/internal/model"

	"github.com/shopspring/decimal"
)

// SlippageSimulator produces randomized but bounded slippage for paper fills.
// It is not safe for concurrent use; the paper trader serializes access.
type SlippageSimulator struct {
	rng *rand.Rand

	baseSlippage     decimal.Decimal // percent
	volumeImpact     decimal.Decimal
	volatilityFactor decimal.Decimal
	maxSlippage      decimal.Decimal

	randomMin, randomMax float64
	depthMin, depthMax   float64
}

// NewSlippageSimulator creates a simulator drawing from rng.
func NewSlippageSimulator(cfg config.ExecutionConfig, rng *rand.Rand) *SlippageSimulator {
	return &SlippageSimulator{
		rng:              rng,
		baseSlippage:     decimal.NewFromFloat(cfg.BaseSlippageBps).Div(hundred),
		volumeImpact:     decimal.NewFromFloat(cfg.VolumeImpactFactor),
		volatilityFactor: decimal.NewFromFloat(cfg.VolatilityFactor),
		maxSlippage:      decimal.NewFromFloat(cfg.MaxSlippagePercent),
		randomMin:        cfg.RandomFactorMin,
		randomMax:        cfg.RandomFactorMax,
		depthMin:         cfg.DepthFactorMin,
		depthMax:         cfg.DepthFactorMax,
	}
}

// Simulate returns a slippage percent for a market order: base slippage plus
// an impact term for volume relative to the top level, jittered and capped.
func (s *SlippageSimulator) Simulate(book model.Orderbook, side model.Side, volume decimal.Decimal) decimal.Decimal {
	slippage := s.baseSlippage

	if len(book.Bids) > 0 && len(book.Asks) > 0 {
		top := book.Asks[0].Volume
		if side == model.SideSell {
			top = book.Bids[0].Volume
		}
		if top.IsPositive() {
			slippage = slippage.Add(volume.Div(top).Mul(s.volumeImpact))
		}
	}

	slippage = slippage.Mul(s.uniform(s.randomMin, s.randomMax))
	return decimal.Min(slippage, s.maxSlippage)
}

// SimulateWithDepth walks the book for the real average price and jitters
// the resulting slippage. An empty side returns (0, 100).
func (s *SlippageSimulator) SimulateWithDepth(book model.Orderbook, side model.Side, volume decimal.Decimal) (avgPrice, slippagePct decimal.Decimal) {
	avg, filled := book.ExecutablePrice(side, volume)
	if filled.IsZero() || avg.IsZero() {
		return decimal.Zero, hundred
	}
	best := book.BestPrice(side)
	if best.IsZero() {
		return avg, decimal.Zero
	}
	actual := avg.Sub(best).Div(best).Abs().Mul(hundred)
	return avg, actual.Mul(s.uniform(s.depthMin, s.depthMax))
}

// MarketImpact is a square-root impact estimate against top-of-book depth,
// capped at 1 percent.
func (s *SlippageSimulator) MarketImpact(book model.Orderbook, side model.Side, volume decimal.Decimal) decimal.Decimal {
	depth := book.TotalVolume(side, depthLevels)
	if !depth.IsPositive() {
		return one
	}
	ratio := volume.Div(depth).InexactFloat64()
	if ratio <= 0 {
		return decimal.Zero
	}
	impact := decimal.NewFromFloat(math.Sqrt(ratio)).Mul(decimal.RequireFromString("0.1"))
	return decimal.Min(impact, one)
}

// AdjustForVolatility scales slippage by 1 + volatility%/100 * factor.
func (s *SlippageSimulator) AdjustForVolatility(slippage, volatilityPct decimal.Decimal) decimal.Decimal {
	multiplier := one.Add(volatilityPct.Div(hundred).Mul(s.volatilityFactor))
	return slippage.Mul(multiplier)
}

func (s *SlippageSimulator) uniform(lo, hi float64) decimal.Decimal {
	return decimal.NewFromFloat(lo + s.rng.Float64()*(hi-lo))
}
