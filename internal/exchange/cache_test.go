package exchange

import (
	"testing"
	"time"

	"arbreferee/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookCache_TTL(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cache := NewBookCache(time.Second)
	cache.now = func() time.Time { return now }

	cache.PutOrderbook(model.Orderbook{Symbol: "BTC/USDT", Exchange: "binance"})
	cache.PutTicker(model.Ticker{Symbol: "BTC/USDT", Exchange: "binance", Bid: decimal.NewFromInt(67000)})

	_, ok := cache.Orderbook("binance", "BTC/USDT")
	assert.True(t, ok)
	_, ok = cache.Orderbook("kraken", "BTC/USDT")
	assert.False(t, ok, "keys include the exchange")

	now = now.Add(500 * time.Millisecond)
	cache.PutTicker(model.Ticker{Symbol: "BTC/USDT", Exchange: "binance", Bid: decimal.NewFromInt(67001)})

	now = now.Add(700 * time.Millisecond)
	_, ok = cache.Orderbook("binance", "BTC/USDT")
	assert.False(t, ok, "book is 1.2s old")
	tk, ok := cache.Ticker("binance", "BTC/USDT")
	require.True(t, ok, "ticker is 0.7s old")
	assert.Equal(t, "67001", tk.Bid.String())
	assert.Equal(t, 1, cache.Len())

	now = now.Add(time.Second)
	_, ok = cache.Ticker("binance", "BTC/USDT")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len(), "fully expired entries are evicted")
}
