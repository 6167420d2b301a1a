package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"arbreferee/internal/config"
	"arbreferee/internal/model"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	krakenStreamURL = "wss://ws.kraken.com"
	krakenBookDepth = 25
)

// KrakenClient implements the Client interface for Kraken. It subscribes to
// the book channel and merges snapshots and level updates locally.
type KrakenClient struct {
	fees
	name    string
	logger  *slog.Logger
	url     string
	symbols []string
	pairs   map[string]string // Kraken pair -> symbol
	cache   *BookCache
	stream  *stream

	mu    sync.Mutex
	books map[string]*krakenBook
}

type krakenBook struct {
	bids map[string]model.OrderbookLevel
	asks map[string]model.OrderbookLevel
}

// NewKrakenClient creates a new KrakenClient.
func NewKrakenClient(name string, logger *slog.Logger, cfg config.ExchangeConfig, symbols []string) *KrakenClient {
	k := &KrakenClient{
		fees: fees{
			taker: decimal.NewFromFloat(cfg.TakerFeePercent),
			maker: decimal.NewFromFloat(cfg.MakerFeePercent),
		},
		name:    name,
		logger:  logger,
		url:     cfg.WSURL,
		symbols: symbols,
		pairs:   make(map[string]string, len(symbols)),
		cache:   NewBookCache(cfg.CacheTTL),
		books:   make(map[string]*krakenBook),
	}
	if k.url == "" {
		k.url = krakenStreamURL
	}
	for _, s := range symbols {
		k.pairs[krakenPair(s)] = s
	}
	k.stream = &stream{
		logger: logger,
		prefix: "KrakenClient",
		dial:   k.dial,
		handle: k.handleMessage,
	}
	return k
}

func (k *KrakenClient) GetName() string {
	return k.name
}

// Connect opens the websocket and subscribes to the book channel.
func (k *KrakenClient) Connect(ctx context.Context) error {
	if err := k.stream.start(ctx); err != nil {
		return fmt.Errorf("kraken connect: %w", err)
	}
	return nil
}

func (k *KrakenClient) Disconnect() error {
	k.stream.stop()
	k.mu.Lock()
	k.books = make(map[string]*krakenBook)
	k.mu.Unlock()
	k.logger.Info("KrakenClient: disconnected")
	return nil
}

func (k *KrakenClient) GetTicker(_ context.Context, symbol string) (model.Ticker, error) {
	if err := k.check(symbol); err != nil {
		return model.Ticker{}, err
	}
	t, ok := k.cache.Ticker(k.name, symbol)
	if !ok {
		return model.Ticker{}, fmt.Errorf("%w: %s %s", ErrStaleData, k.name, symbol)
	}
	return t, nil
}

func (k *KrakenClient) GetOrderbook(_ context.Context, symbol string, depth int) (model.Orderbook, error) {
	if err := k.check(symbol); err != nil {
		return model.Orderbook{}, err
	}
	ob, ok := k.cache.Orderbook(k.name, symbol)
	if !ok {
		return model.Orderbook{}, fmt.Errorf("%w: %s %s", ErrStaleData, k.name, symbol)
	}
	return truncate(ob, depth), nil
}

// GetBalance requires signed account access, which paper trading never uses.
func (k *KrakenClient) GetBalance(_ context.Context, _ string) (decimal.Decimal, error) {
	return decimal.Zero, ErrPaperOnly
}

func (k *KrakenClient) PlaceOrder(_ context.Context, _ model.Order) (model.Order, error) {
	return model.Order{}, ErrPaperOnly
}

func (k *KrakenClient) SupportedSymbols() []string {
	return append([]string(nil), k.symbols...)
}

func (k *KrakenClient) check(symbol string) error {
	if !k.stream.active() {
		return ErrNotConnected
	}
	if _, ok := k.pairs[krakenPair(symbol)]; !ok {
		return fmt.Errorf("%w: %s on %s", ErrUnsupportedSymbol, symbol, k.name)
	}
	return nil
}

func (k *KrakenClient) dial(ctx context.Context) (*websocket.Conn, error) {
	c, _, err := websocket.DefaultDialer.DialContext(ctx, k.url, nil)
	if err != nil {
		return nil, err
	}

	pairs := make([]string, 0, len(k.symbols))
	for _, s := range k.symbols {
		pairs = append(pairs, krakenPair(s))
	}
	subscription := map[string]any{
		"event": "subscribe",
		"pair":  pairs,
		"subscription": map[string]any{
			"name":  "book",
			"depth": krakenBookDepth,
		},
	}
	if err := c.WriteJSON(subscription); err != nil {
		c.Close()
		return nil, fmt.Errorf("send subscription: %w", err)
	}
	k.logger.Info("KrakenClient: subscription sent successfully", "pairs", pairs)
	return c, nil
}

type krakenEvent struct {
	Event        string `json:"event"`
	Status       string `json:"status"`
	Pair         string `json:"pair"`
	ErrorMessage string `json:"errorMessage"`
}

// krakenBookData is one payload object of a book message. Snapshots carry
// "as"/"bs", updates carry "a" and/or "b". Each level is [price, volume,
// timestamp] with an optional "r" marker for republished levels.
type krakenBookData struct {
	AskSnapshot [][]string `json:"as"`
	BidSnapshot [][]string `json:"bs"`
	Asks        [][]string `json:"a"`
	Bids        [][]string `json:"b"`
}

func (k *KrakenClient) handleMessage(message []byte) error {
	message = bytes.TrimSpace(message)
	if len(message) == 0 {
		return nil
	}

	if message[0] == '{' {
		var ev krakenEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			return err
		}
		switch {
		case ev.Event == "subscriptionStatus" && ev.Status == "error":
			k.logger.Error("KrakenClient: subscription rejected", "pair", ev.Pair, "error", ev.ErrorMessage)
		case ev.Event == "subscriptionStatus":
			k.logger.Info("KrakenClient: subscription confirmed", "pair", ev.Pair, "status", ev.Status)
		}
		return nil
	}

	// [channelID, data..., channelName, pair]
	var parts []json.RawMessage
	if err := json.Unmarshal(message, &parts); err != nil {
		return err
	}
	if len(parts) < 4 {
		return fmt.Errorf("short book message: %d elements", len(parts))
	}
	var pair string
	if err := json.Unmarshal(parts[len(parts)-1], &pair); err != nil {
		return fmt.Errorf("decode pair: %w", err)
	}
	symbol, ok := k.pairs[pair]
	if !ok {
		return fmt.Errorf("unexpected pair %q", pair)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	book, ok := k.books[symbol]
	if !ok {
		book = &krakenBook{
			bids: make(map[string]model.OrderbookLevel),
			asks: make(map[string]model.OrderbookLevel),
		}
		k.books[symbol] = book
	}

	for _, raw := range parts[1 : len(parts)-2] {
		var data krakenBookData
		if err := json.Unmarshal(raw, &data); err != nil {
			return fmt.Errorf("decode book data: %w", err)
		}
		if data.AskSnapshot != nil || data.BidSnapshot != nil {
			book.asks = make(map[string]model.OrderbookLevel, len(data.AskSnapshot))
			book.bids = make(map[string]model.OrderbookLevel, len(data.BidSnapshot))
			if err := applyLevels(book.asks, data.AskSnapshot); err != nil {
				return err
			}
			if err := applyLevels(book.bids, data.BidSnapshot); err != nil {
				return err
			}
		}
		if err := applyLevels(book.asks, data.Asks); err != nil {
			return err
		}
		if err := applyLevels(book.bids, data.Bids); err != nil {
			return err
		}
	}

	ob := book.snapshot(symbol, k.name, krakenBookDepth, time.Now())
	k.cache.PutOrderbook(ob)
	k.cache.PutTicker(tickerFromBook(ob))
	return nil
}

// applyLevels upserts each [price, volume, ...] level; zero volume deletes.
func applyLevels(side map[string]model.OrderbookLevel, raw [][]string) error {
	for _, l := range raw {
		if len(l) < 2 {
			return fmt.Errorf("malformed level %v", l)
		}
		price, err := decimal.NewFromString(l[0])
		if err != nil {
			return fmt.Errorf("parse price %q: %w", l[0], err)
		}
		volume, err := decimal.NewFromString(l[1])
		if err != nil {
			return fmt.Errorf("parse volume %q: %w", l[1], err)
		}
		key := price.String()
		if volume.IsZero() {
			delete(side, key)
			continue
		}
		side[key] = model.OrderbookLevel{Price: price, Volume: volume}
	}
	return nil
}

// snapshot returns the sorted book and drops levels beyond depth, which
// Kraken stops sending updates for.
func (b *krakenBook) snapshot(symbol, exchange string, depth int, at time.Time) model.Orderbook {
	bids := sortedLevels(b.bids, func(x, y decimal.Decimal) bool { return x.GreaterThan(y) })
	asks := sortedLevels(b.asks, func(x, y decimal.Decimal) bool { return x.LessThan(y) })
	bids = trimSide(b.bids, bids, depth)
	asks = trimSide(b.asks, asks, depth)
	return model.Orderbook{Symbol: symbol, Exchange: exchange, Bids: bids, Asks: asks, Timestamp: at}
}

func sortedLevels(side map[string]model.OrderbookLevel, less func(x, y decimal.Decimal) bool) []model.OrderbookLevel {
	out := make([]model.OrderbookLevel, 0, len(side))
	for _, l := range side {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i].Price, out[j].Price) })
	return out
}

func trimSide(side map[string]model.OrderbookLevel, sorted []model.OrderbookLevel, depth int) []model.OrderbookLevel {
	if len(sorted) <= depth {
		return sorted
	}
	for _, l := range sorted[depth:] {
		delete(side, l.Price.String())
	}
	return sorted[:depth]
}

// krakenPair maps "BTC/USDT" to Kraken's "XBT/USDT".
func krakenPair(symbol string) string {
	base, quote, ok := strings.Cut(strings.ToUpper(symbol), "/")
	if !ok {
		return symbol
	}
	if base == "BTC" {
		base = "XBT"
	}
	return base + "/" + quote
}
