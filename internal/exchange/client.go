package exchange

import (
	"context"
	"errors"
	"time"

	"arbreferee/internal/model"

	"github.com/shopspring/decimal"
)

var (
	ErrNotConnected       = errors.New("exchange: not connected")
	ErrStaleData          = errors.New("exchange: no fresh market data")
	ErrUnknownExchange    = errors.New("exchange: unknown exchange")
	ErrUnsupportedSymbol  = errors.New("exchange: unsupported symbol")
	ErrPaperOnly          = errors.New("exchange: live trading is not supported")
	ErrNotEnoughExchanges = errors.New("exchange: at least two connected exchanges are required")
)

// Client defines the standard interface for all exchange clients.
// Implementations must be safe to call concurrently for distinct symbols.
type Client interface {
	GetName() string
	Connect(ctx context.Context) error
	Disconnect() error
	GetTicker(ctx context.Context, symbol string) (model.Ticker, error)
	GetOrderbook(ctx context.Context, symbol string, depth int) (model.Orderbook, error)
	// GetFee returns the fee for orderType as a percentage.
	GetFee(orderType model.OrderType) decimal.Decimal
	GetBalance(ctx context.Context, currency string) (decimal.Decimal, error)
	PlaceOrder(ctx context.Context, order model.Order) (model.Order, error)
	SupportedSymbols() []string
}

// fees holds the taker and maker percentages shared by every client.
type fees struct {
	taker decimal.Decimal
	maker decimal.Decimal
}

func (f fees) GetFee(orderType model.OrderType) decimal.Decimal {
	if orderType == model.OrderLimit {
		return f.maker
	}
	return f.taker
}

func truncate(ob model.Orderbook, depth int) model.Orderbook {
	if depth > 0 {
		if len(ob.Bids) > depth {
			ob.Bids = ob.Bids[:depth]
		}
		if len(ob.Asks) > depth {
			ob.Asks = ob.Asks[:depth]
		}
	}
	return ob
}

// tickerFromBook derives a ticker from the top level of each side.
func tickerFromBook(ob model.Orderbook) model.Ticker {
	t := model.Ticker{Symbol: ob.Symbol, Exchange: ob.Exchange, Timestamp: ob.Timestamp}
	if len(ob.Bids) > 0 {
		t.Bid, t.BidVolume = ob.Bids[0].Price, ob.Bids[0].Volume
	}
	if len(ob.Asks) > 0 {
		t.Ask, t.AskVolume = ob.Asks[0].Price, ob.Asks[0].Volume
	}
	return t
}

// FundingRate is a perpetual contract's current funding against spot.
// Rate is a fraction per funding interval, e.g. 0.0001 for 0.01%.
type FundingRate struct {
	Exchange      string
	Symbol        string
	SpotPrice     decimal.Decimal
	PerpPrice     decimal.Decimal
	Rate          decimal.Decimal
	NextFundingAt time.Time
}

// FundingSource is implemented by clients that also quote perpetual funding.
type FundingSource interface {
	GetFundingRate(ctx context.Context, symbol string) (FundingRate, error)
}
