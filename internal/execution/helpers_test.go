package execution

import (
	"log/slog"
	"math/rand/v2"
	"os"
	"time"

	"arbreferee/internal/config"
	"arbreferee/internal/model"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testRand() *rand.Rand {
	return rand.New(rand.NewPCG(7, 11))
}

func testExecutionConfig() config.ExecutionConfig {
	return config.ExecutionConfig{
		MinFillRatio:       0.95,
		MaxPriceDeviation:  0.01,
		MaxSpreadPercent:   0.5,
		MaxOrderbookAge:    100 * time.Millisecond,
		BaseSlippageBps:    5,
		VolumeImpactFactor: 0.1,
		VolatilityFactor:   0.5,
		MaxSlippagePercent: 2,
		RandomFactorMin:    0.8,
		RandomFactorMax:    1.2,
		DepthFactorMin:     0.9,
		DepthFactorMax:     1.1,
		LatencyMin:         10 * time.Millisecond,
		LatencyMax:         50 * time.Millisecond,
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Trading: config.TradingConfig{
			InitialBalances: map[string]float64{"usd": 10000, "usdt": 10000, "btc": 1, "eth": 10},
			InitialValueUSD: 10000,
		},
		Execution: testExecutionConfig(),
	}
}

// deepBook builds ten levels of 100 units around mid, one tick apart.
func deepBook(mid string) model.Orderbook {
	m := d(mid)
	tick := d("0.01")
	ob := model.Orderbook{Symbol: "BTC/USDT", Exchange: "test"}
	for i := 1; i <= 10; i++ {
		off := tick.Mul(decimal.NewFromInt(int64(i)))
		ob.Bids = append(ob.Bids, model.OrderbookLevel{Price: m.Sub(off), Volume: d("100")})
		ob.Asks = append(ob.Asks, model.OrderbookLevel{Price: m.Add(off), Volume: d("100")})
	}
	return ob
}

func thinBook(mid string) model.Orderbook {
	m := d(mid)
	return model.Orderbook{
		Symbol: "BTC/USDT",
		Bids:   []model.OrderbookLevel{{Price: m.Sub(d("1")), Volume: d("0.001")}},
		Asks:   []model.OrderbookLevel{{Price: m.Add(d("1")), Volume: d("0.001")}},
	}
}
