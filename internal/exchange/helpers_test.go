package exchange

import (
	"log/slog"
	"math/rand/v2"
	"os"
	"time"

	"arbreferee/internal/config"

	"github.com/shopspring/decimal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testRand() *rand.Rand {
	return rand.New(rand.NewPCG(3, 5))
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testExchangeConfig(kind string) config.ExchangeConfig {
	return config.ExchangeConfig{
		Type:            kind,
		Enabled:         true,
		TakerFeePercent: 0.1,
		MakerFeePercent: 0.08,
		CacheTTL:        time.Minute,
	}
}
