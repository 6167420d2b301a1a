package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"arbreferee/internal/config"
	"arbreferee/internal/model"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const binanceStreamURL = "wss://stream.binance.com:9443"

// BinanceClient implements the Client interface for Binance. Best bid/ask and
// the top 20 levels of each symbol arrive on one combined stream.
type BinanceClient struct {
	fees
	name    string
	logger  *slog.Logger
	url     string
	symbols []string
	streams map[string]string // lowercase stream symbol -> symbol
	cache   *BookCache
	stream  *stream
}

// NewBinanceClient creates a new BinanceClient for symbols such as "BTC/USDT".
func NewBinanceClient(name string, logger *slog.Logger, cfg config.ExchangeConfig, symbols []string) *BinanceClient {
	b := &BinanceClient{
		fees: fees{
			taker: decimal.NewFromFloat(cfg.TakerFeePercent),
			maker: decimal.NewFromFloat(cfg.MakerFeePercent),
		},
		name:    name,
		logger:  logger,
		url:     cfg.WSURL,
		symbols: symbols,
		streams: make(map[string]string, len(symbols)),
		cache:   NewBookCache(cfg.CacheTTL),
	}
	if b.url == "" {
		b.url = binanceStreamURL
	}
	for _, s := range symbols {
		b.streams[binanceSymbol(s)] = s
	}
	b.stream = &stream{
		logger: logger,
		prefix: "BinanceClient",
		dial:   b.dial,
		handle: b.handleMessage,
	}
	return b
}

func (b *BinanceClient) GetName() string {
	return b.name
}

// Connect opens the combined stream and starts filling the cache.
func (b *BinanceClient) Connect(ctx context.Context) error {
	if err := b.stream.start(ctx); err != nil {
		return fmt.Errorf("binance connect: %w", err)
	}
	return nil
}

func (b *BinanceClient) Disconnect() error {
	b.stream.stop()
	b.logger.Info("BinanceClient: disconnected")
	return nil
}

func (b *BinanceClient) GetTicker(_ context.Context, symbol string) (model.Ticker, error) {
	if err := b.check(symbol); err != nil {
		return model.Ticker{}, err
	}
	if t, ok := b.cache.Ticker(b.name, symbol); ok {
		return t, nil
	}
	if ob, ok := b.cache.Orderbook(b.name, symbol); ok {
		return tickerFromBook(ob), nil
	}
	return model.Ticker{}, fmt.Errorf("%w: %s %s", ErrStaleData, b.name, symbol)
}

func (b *BinanceClient) GetOrderbook(_ context.Context, symbol string, depth int) (model.Orderbook, error) {
	if err := b.check(symbol); err != nil {
		return model.Orderbook{}, err
	}
	ob, ok := b.cache.Orderbook(b.name, symbol)
	if !ok {
		return model.Orderbook{}, fmt.Errorf("%w: %s %s", ErrStaleData, b.name, symbol)
	}
	return truncate(ob, depth), nil
}

// GetBalance requires signed account access, which paper trading never uses.
func (b *BinanceClient) GetBalance(_ context.Context, _ string) (decimal.Decimal, error) {
	return decimal.Zero, ErrPaperOnly
}

func (b *BinanceClient) PlaceOrder(_ context.Context, _ model.Order) (model.Order, error) {
	return model.Order{}, ErrPaperOnly
}

func (b *BinanceClient) SupportedSymbols() []string {
	return append([]string(nil), b.symbols...)
}

func (b *BinanceClient) check(symbol string) error {
	if !b.stream.active() {
		return ErrNotConnected
	}
	if _, ok := b.streams[binanceSymbol(symbol)]; !ok {
		return fmt.Errorf("%w: %s on %s", ErrUnsupportedSymbol, symbol, b.name)
	}
	return nil
}

func (b *BinanceClient) streamURL() string {
	names := make([]string, 0, 2*len(b.symbols))
	for _, s := range b.symbols {
		sym := binanceSymbol(s)
		names = append(names, sym+"@bookTicker", sym+"@depth20@100ms")
	}
	return b.url + "/stream?streams=" + strings.Join(names, "/")
}

func (b *BinanceClient) dial(ctx context.Context) (*websocket.Conn, error) {
	c, _, err := websocket.DefaultDialer.DialContext(ctx, b.streamURL(), nil)
	return c, err
}

type binanceEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type binanceBookTicker struct {
	Bid       decimal.Decimal `json:"b"`
	BidVolume decimal.Decimal `json:"B"`
	Ask       decimal.Decimal `json:"a"`
	AskVolume decimal.Decimal `json:"A"`
}

type binanceDepth struct {
	Bids [][2]decimal.Decimal `json:"bids"`
	Asks [][2]decimal.Decimal `json:"asks"`
}

func (b *BinanceClient) handleMessage(message []byte) error {
	var env binanceEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		return err
	}
	name, channel, ok := strings.Cut(env.Stream, "@")
	if !ok {
		return fmt.Errorf("unexpected stream %q", env.Stream)
	}
	symbol, ok := b.streams[name]
	if !ok {
		return fmt.Errorf("unexpected symbol %q", name)
	}
	now := time.Now()

	if channel == "bookTicker" {
		var bt binanceBookTicker
		if err := json.Unmarshal(env.Data, &bt); err != nil {
			return err
		}
		b.cache.PutTicker(model.Ticker{
			Symbol:    symbol,
			Exchange:  b.name,
			Bid:       bt.Bid,
			Ask:       bt.Ask,
			BidVolume: bt.BidVolume,
			AskVolume: bt.AskVolume,
			Timestamp: now,
		})
		return nil
	}

	var depth binanceDepth
	if err := json.Unmarshal(env.Data, &depth); err != nil {
		return err
	}
	b.cache.PutOrderbook(model.Orderbook{
		Symbol:    symbol,
		Exchange:  b.name,
		Bids:      levels(depth.Bids),
		Asks:      levels(depth.Asks),
		Timestamp: now,
	})
	return nil
}

func levels(raw [][2]decimal.Decimal) []model.OrderbookLevel {
	out := make([]model.OrderbookLevel, 0, len(raw))
	for _, l := range raw {
		out = append(out, model.OrderbookLevel{Price: l[0], Volume: l[1]})
	}
	return out
}

// binanceSymbol maps "BTC/USDT" to the stream name "btcusdt".
func binanceSymbol(symbol string) string {
	return strings.ToLower(strings.ReplaceAll(symbol, "/", ""))
}
