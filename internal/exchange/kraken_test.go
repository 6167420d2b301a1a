package exchange

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	krakenSnapshot = `[336,{"as":[["67010.10000","1.50000000","1716200000.100"],["67011.00000","2.00000000","1716200000.200"]],` +
		`"bs":[["67000.00000","1.20000000","1716200000.100"],["66999.50000","3.00000000","1716200000.100"]]},"book-25","XBT/USDT"]`
	krakenUpdate = `[336,{"a":[["67010.10000","0.00000000","1716200001.100"]]},` +
		`{"b":[["67000.50000","0.80000000","1716200001.200","r"]],"c":"974942666"},"book-25","XBT/USDT"]`
)

func TestKrakenClient_MergeBook(t *testing.T) {
	k := NewKrakenClient("kraken", testLogger(), testExchangeConfig("kraken"), []string{"BTC/USDT"})

	require.NoError(t, k.handleMessage([]byte(`{"event":"systemStatus","status":"online"}`)))
	require.NoError(t, k.handleMessage([]byte(`{"event":"heartbeat"}`)))
	require.NoError(t, k.handleMessage([]byte(krakenSnapshot)))

	ob, ok := k.cache.Orderbook("kraken", "BTC/USDT")
	require.True(t, ok)
	assert.Equal(t, "67000", ob.BestBid().String())
	assert.Equal(t, "67010.1", ob.BestAsk().String())

	require.NoError(t, k.handleMessage([]byte(krakenUpdate)))
	ob, ok = k.cache.Orderbook("kraken", "BTC/USDT")
	require.True(t, ok)
	require.Len(t, ob.Asks, 1, "zero volume removes the level")
	assert.Equal(t, "67011", ob.BestAsk().String())
	require.Len(t, ob.Bids, 3)
	assert.Equal(t, "67000.5", ob.Bids[0].Price.String())
	assert.Equal(t, "67000", ob.Bids[1].Price.String())
	assert.Equal(t, "66999.5", ob.Bids[2].Price.String())

	tk, ok := k.cache.Ticker("kraken", "BTC/USDT")
	require.True(t, ok)
	assert.Equal(t, "67000.5", tk.Bid.String())
	assert.Equal(t, "0.8", tk.BidVolume.String())
	assert.Equal(t, "2", tk.AskVolume.String())
}

func TestKrakenClient_BadMessages(t *testing.T) {
	k := NewKrakenClient("kraken", testLogger(), testExchangeConfig("kraken"), []string{"BTC/USDT"})

	assert.Error(t, k.handleMessage([]byte(`[336,{"as":[]},"book-25","ETH/EUR"]`)))
	assert.Error(t, k.handleMessage([]byte(`[336,"book-25"]`)))
	assert.Error(t, k.handleMessage([]byte(`[336,{"a":[["abc","1","1"]]},"book-25","XBT/USDT"]`)))
}

func TestKrakenClient_TrimsToDepth(t *testing.T) {
	k := NewKrakenClient("kraken", testLogger(), testExchangeConfig("kraken"), []string{"ETH/USDT"})

	msg := `[1,{"as":[],"bs":[`
	for i := 0; i < krakenBookDepth+5; i++ {
		if i > 0 {
			msg += ","
		}
		msg += `["` + d("3000").Sub(d("0.1").Mul(decimal.NewFromInt(int64(i)))).StringFixed(5) + `","1.0","1"]`
	}
	msg += `]},"book-25","ETH/USDT"]`
	require.NoError(t, k.handleMessage([]byte(msg)))

	ob, ok := k.cache.Orderbook("kraken", "ETH/USDT")
	require.True(t, ok)
	assert.Len(t, ob.Bids, krakenBookDepth)
	assert.Empty(t, ob.Asks)
	assert.Len(t, k.books["ETH/USDT"].bids, krakenBookDepth)
}

func TestKrakenClient_Stream(t *testing.T) {
	subscriptions := make(chan map[string]any, 1)
	url := wsServer(t, func(_ *http.Request, conn *websocket.Conn) {
		var sub map[string]any
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscriptions <- sub
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"subscriptionStatus","status":"subscribed","pair":"XBT/USDT"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(krakenSnapshot))
	})

	cfg := testExchangeConfig("kraken")
	cfg.WSURL = url
	k := NewKrakenClient("kraken", testLogger(), cfg, []string{"BTC/USDT"})
	ctx := context.Background()
	require.NoError(t, k.Connect(ctx))

	sub := <-subscriptions
	assert.Equal(t, "subscribe", sub["event"])
	assert.Equal(t, []any{"XBT/USDT"}, sub["pair"])

	assert.Eventually(t, func() bool {
		_, err := k.GetTicker(ctx, "BTC/USDT")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	ob, err := k.GetOrderbook(ctx, "BTC/USDT", 1)
	require.NoError(t, err)
	assert.Len(t, ob.Bids, 1)

	require.NoError(t, k.Disconnect())
	_, err = k.GetOrderbook(ctx, "BTC/USDT", 1)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestKrakenPair(t *testing.T) {
	assert.Equal(t, "XBT/USDT", krakenPair("BTC/USDT"))
	assert.Equal(t, "ETH/USDT", krakenPair("eth/usdt"))
}
