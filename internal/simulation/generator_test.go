package simulation

import (
	"math/rand/v2"
	"testing"

	"arbreferee/internal/config"
	"arbreferee/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGenerator(rate float64) *Generator {
	cfg := config.SimulationConfig{
		OpportunityRate:  rate,
		MinProfitPercent: 0.03,
		MaxProfitPercent: 0.35,
		SuccessRate:      0.75,
	}
	return NewGenerator(cfg, rand.New(rand.NewPCG(42, 42)))
}

func TestGenerator_MaybeOpportunity(t *testing.T) {
	g := testGenerator(1)

	for i := 0; i < 100; i++ {
		opp, ok := g.MaybeOpportunity()
		require.True(t, ok)

		pr, known := PriceRanges[opp.Symbol]
		require.True(t, known, "unknown symbol %s", opp.Symbol)
		assert.NotEqual(t, opp.BuyExchange, opp.SellExchange)
		assert.Contains(t, Exchanges, opp.BuyExchange)
		assert.Contains(t, Exchanges, opp.SellExchange)

		buy := opp.BuyPrice.InexactFloat64()
		assert.GreaterOrEqual(t, buy, pr.Min*0.999)
		assert.LessOrEqual(t, buy, pr.Max*1.001)
		assert.True(t, opp.SellPrice.GreaterThanOrEqual(opp.BuyPrice))

		assert.True(t, opp.ExpiresAt.After(opp.DetectedAt))
		assert.GreaterOrEqual(t, opp.WindowMS, int64(1000))
		assert.LessOrEqual(t, opp.WindowMS, int64(5000))
		assert.True(t, opp.RiskScore.GreaterThanOrEqual(decimal.RequireFromString("0.1")))
		assert.True(t, opp.RiskScore.LessThanOrEqual(decimal.RequireFromString("0.4")))
		assert.True(t, opp.NetProfitPercent.Equal(opp.GrossProfitPercent.Sub(opp.TotalFeePercent())) ||
			opp.NetProfitPercent.Sub(opp.GrossProfitPercent.Sub(opp.TotalFeePercent())).Abs().LessThan(decimal.RequireFromString("0.001")))
		assert.True(t, opp.MaxVolume.GreaterThan(opp.RecommendedVolume))
		assert.Equal(t, model.OpportunityDetected, opp.Status)
	}
}

func TestGenerator_Rate(t *testing.T) {
	none := testGenerator(0)
	for i := 0; i < 50; i++ {
		_, ok := none.MaybeOpportunity()
		assert.False(t, ok)
	}
}

func TestGenerator_VolumeBands(t *testing.T) {
	g := testGenerator(1)
	for i := 0; i < 200; i++ {
		opp, _ := g.MaybeOpportunity()
		v := opp.RecommendedVolume.InexactFloat64()
		switch {
		case opp.BuyPrice.GreaterThan(decimal.NewFromInt(10000)):
			assert.True(t, v >= 0.01 && v <= 0.1, "%s volume %f", opp.Symbol, v)
		case opp.BuyPrice.GreaterThan(decimal.NewFromInt(100)):
			assert.True(t, v >= 0.1 && v <= 2, "%s volume %f", opp.Symbol, v)
		default:
			assert.True(t, v >= 10 && v <= 500, "%s volume %f", opp.Symbol, v)
		}
	}
}

func TestGenerator_Orderbook(t *testing.T) {
	g := testGenerator(1)

	for _, base := range []string{"100000", "3400", "2.4", "0.35"} {
		ob := g.Orderbook("X/USDT", "binance", decimal.RequireFromString(base))
		require.Len(t, ob.Bids, 10)
		require.Len(t, ob.Asks, 10)
		assert.True(t, ob.BestBid().LessThan(ob.BestAsk()), "base %s", base)

		for i := 1; i < 10; i++ {
			assert.True(t, ob.Bids[i].Price.LessThan(ob.Bids[i-1].Price), "bids not descending at %s", base)
			assert.True(t, ob.Asks[i].Price.GreaterThan(ob.Asks[i-1].Price), "asks not ascending at %s", base)
		}
		for _, l := range ob.Asks {
			assert.True(t, l.Volume.GreaterThanOrEqual(decimal.NewFromInt(50)))
			assert.True(t, l.Volume.LessThanOrEqual(decimal.NewFromInt(200)))
		}
	}
}

func TestGenerator_ThinOrderbook(t *testing.T) {
	g := testGenerator(1)
	ob := g.ThinOrderbook("BTC/USDT", "kraken", decimal.NewFromInt(100000))
	assert.Equal(t, "0.0001", ob.TotalVolume(model.SideBuy, 10).String())
	assert.Equal(t, "0.0001", ob.TotalVolume(model.SideSell, 10).String())
}

func TestGenerator_ShouldSucceed(t *testing.T) {
	g := testGenerator(1)
	successes := 0
	for i := 0; i < 1000; i++ {
		if g.ShouldSucceed() {
			successes++
		}
	}
	assert.InDelta(t, 750, successes, 80)
}
